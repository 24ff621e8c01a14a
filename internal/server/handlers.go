package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/storage"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// Embed modes select the prefix applied to each text.
const (
	ModeDefault = ""
	ModeQuery   = "query"
	ModePassage = "passage"
)

type embedRequest struct {
	Texts     []string `json:"texts"`
	BatchSize int      `json:"batch_size,omitempty"`
	Mode      string   `json:"mode,omitempty"`
}

type embedResponse struct {
	RequestID  string      `json:"request_id"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions"`
	Embeddings [][]float32 `json:"embeddings"`
	TookMs     int64       `json:"took_ms"`
}

type modelInfo struct {
	Name          string `json:"name"`
	ID            string `json:"id"`
	Dimensions    int    `json:"dimensions"`
	Pooling       string `json:"pooling"`
	Normalize     bool   `json:"normalize"`
	Quantized     bool   `json:"quantized"`
	MaxSeqLength  int    `json:"max_seq_length"`
	QueryPrefix   string `json:"query_prefix,omitempty"`
	PassagePrefix string `json:"passage_prefix,omitempty"`
	Description   string `json:"description"`
	Loaded        bool   `json:"loaded"`
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req embedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.BatchSize < 0 {
		s.respondError(w, r, http.StatusBadRequest, "batch_size must not be negative")
		return
	}
	if n := len(req.Texts); n > s.config.Server.MaxTexts {
		s.respondError(w, r, http.StatusBadRequest, fmt.Sprintf("too many texts: %d > %d", n, s.config.Server.MaxTexts))
		return
	}
	spec := s.session.ModelSpec()
	var prefix string
	switch req.Mode {
	case ModeDefault:
	case ModeQuery:
		prefix = spec.QueryPrefix
	case ModePassage:
		prefix = spec.PassagePrefix
	default:
		s.respondError(w, r, http.StatusBadRequest, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}
	texts := make([]string, len(req.Texts))
	for i, t := range req.Texts {
		texts[i] = prefix + t
	}
	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = s.config.Model.BatchSize
	}

	s.logger.Debug("embed request",
		zap.String("request_id", requestIDFrom(r.Context())),
		zap.Int("texts", len(texts)),
		zap.String("mode", req.Mode))
	start := time.Now()
	vecs, err := s.cached.Embed(r.Context(), texts, batchSize)
	if err != nil {
		s.logger.Error("embed failed", zap.String("request_id", requestIDFrom(r.Context())), zap.Error(err))
		s.respondError(w, r, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, embedResponse{
		RequestID:  requestIDFrom(r.Context()),
		Model:      spec.ID,
		Dimensions: s.session.Dimensions(),
		Embeddings: vecs,
		TookMs:     time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	loaded := s.session.ModelSpec().ID
	list := models.List()
	out := make([]modelInfo, 0, len(list))
	for _, spec := range list {
		out = append(out, modelInfo{
			Name:          spec.Name,
			ID:            spec.ID,
			Dimensions:    spec.Dim,
			Pooling:       spec.Pooling.String(),
			Normalize:     spec.Normalize,
			Quantized:     spec.Quantized,
			MaxSeqLength:  spec.MaxSeqLength,
			QueryPrefix:   spec.QueryPrefix,
			PassagePrefix: spec.PassagePrefix,
			Description:   spec.Description,
			Loaded:        spec.ID == loaded,
		})
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"models": out})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	spec := s.session.ModelSpec()
	resp := map[string]interface{}{
		"model":            spec.ID,
		"dimensions":       s.session.Dimensions(),
		"cached_texts":     s.cached.Cache().Len(),
		"uptime_seconds":   int64(time.Since(s.started).Seconds()),
		"cache_dir":        s.config.Model.CacheDir,
		"max_length":       s.config.Model.MaxLength,
		"batch_size":       s.config.Model.BatchSize,
		"parallelism":      s.config.Model.Parallelism,
		"verify_checksums": s.config.Model.VerifyChecksums,
	}
	if bytes, err := storage.DiskUsageBytes(s.config.Model.CacheDir); err == nil {
		resp["disk_usage_bytes"] = bytes
	} else {
		s.logger.Warn("status: disk usage failed", zap.Error(err))
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, fserrors.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, fserrors.ErrClosed), errors.Is(err, fserrors.ErrNotReady):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message, "request_id": requestIDFrom(r.Context())})
}
