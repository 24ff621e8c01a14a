package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/config"
	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// fakeSession returns [len(text), 1] for every text and records what it saw.
type fakeSession struct {
	spec models.ModelSpec
	fail error

	mu   sync.Mutex
	seen []string
}

func (f *fakeSession) Embed(_ context.Context, texts []string, _ int) ([][]float32, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	f.mu.Lock()
	f.seen = append(f.seen, texts...)
	f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (f *fakeSession) Dimensions() int             { return 2 }
func (f *fakeSession) Close() error                { return nil }
func (f *fakeSession) ModelSpec() models.ModelSpec { return f.spec }

func newTestServer(t *testing.T, session *fakeSession) http.Handler {
	t.Helper()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Model.CacheDir = t.TempDir()
	cfg.Server.MaxTexts = 4
	return NewServer(session, cfg, metrics.New(), zap.NewNop()).Handler()
}

func postEmbed(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/embed", strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestHandleEmbed(t *testing.T) {
	session := &fakeSession{spec: models.MultilingualE5Small.MustSpec()}
	h := newTestServer(t, session)

	w := postEmbed(t, h, `{"texts": ["hello", "hi"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d, body %s", w.Code, w.Body)
	}
	var out embedResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Embeddings) != 2 || out.Embeddings[0][0] != 5 || out.Embeddings[1][0] != 2 {
		t.Errorf("embeddings: got %v", out.Embeddings)
	}
	if out.Model != "intfloat/multilingual-e5-small" || out.Dimensions != 2 {
		t.Errorf("model info: got %s/%d", out.Model, out.Dimensions)
	}
	if out.RequestID == "" || w.Header().Get(RequestIDHeader) != out.RequestID {
		t.Errorf("request id: body %q, header %q", out.RequestID, w.Header().Get(RequestIDHeader))
	}
}

func TestHandleEmbed_modes(t *testing.T) {
	tests := []struct {
		mode string
		want string
	}{
		{"", "x"},
		{"query", "query: x"},
		{"passage", "passage: x"},
	}
	for _, tt := range tests {
		t.Run("mode="+tt.mode, func(t *testing.T) {
			session := &fakeSession{spec: models.MultilingualE5Small.MustSpec()}
			h := newTestServer(t, session)
			body, _ := json.Marshal(embedRequest{Texts: []string{"x"}, Mode: tt.mode})
			if w := postEmbed(t, h, string(body)); w.Code != http.StatusOK {
				t.Fatalf("status: got %d", w.Code)
			}
			if len(session.seen) != 1 || session.seen[0] != tt.want {
				t.Errorf("session saw %q, want %q", session.seen, tt.want)
			}
		})
	}
}

func TestHandleEmbed_cachesRepeatedTexts(t *testing.T) {
	session := &fakeSession{spec: models.BGESmallENV15.MustSpec()}
	h := newTestServer(t, session)
	for i := 0; i < 3; i++ {
		if w := postEmbed(t, h, `{"texts": ["same", "same"]}`); w.Code != http.StatusOK {
			t.Fatalf("status: got %d", w.Code)
		}
	}
	if len(session.seen) != 1 {
		t.Errorf("session embedded %d texts, want 1", len(session.seen))
	}
}

func TestHandleEmbed_badRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"texts": [`},
		{"unknown mode", `{"texts": ["a"], "mode": "sideways"}`},
		{"negative batch size", `{"texts": ["a"], "batch_size": -1}`},
		{"too many texts", `{"texts": ["a", "b", "c", "d", "e"]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeSession{spec: models.BGESmallENV15.MustSpec()})
			w := postEmbed(t, h, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status: got %d, want 400", w.Code)
			}
			var out map[string]string
			if err := json.NewDecoder(w.Body).Decode(&out); err != nil || out["error"] == "" {
				t.Errorf("error body: %v, %v", out, err)
			}
		})
	}
}

func TestHandleEmbed_errorKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"inference", fserrors.Inference("engine.embed", errors.New("boom")), http.StatusInternalServerError},
		{"configuration", fserrors.Configuration("options", errors.New("bad")), http.StatusBadRequest},
		{"closed", fserrors.ErrClosed, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestServer(t, &fakeSession{spec: models.BGESmallENV15.MustSpec(), fail: tt.err})
			if w := postEmbed(t, h, `{"texts": ["a"]}`); w.Code != tt.want {
				t.Errorf("status: got %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestHandleEmbed_keepsCallerRequestID(t *testing.T) {
	h := newTestServer(t, &fakeSession{spec: models.BGESmallENV15.MustSpec()})
	r := httptest.NewRequest(http.MethodPost, "/api/v1/embed", bytes.NewBufferString(`{"texts": []}`))
	r.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if got := w.Header().Get(RequestIDHeader); got != "req-42" {
		t.Errorf("request id header: got %q", got)
	}
	var out embedResponse
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.Embeddings == nil || len(out.Embeddings) != 0 {
		t.Errorf("empty input should give an empty list, got %v", out.Embeddings)
	}
}

func TestHandleModels(t *testing.T) {
	h := newTestServer(t, &fakeSession{spec: models.AllMiniLML6V2.MustSpec()})
	r := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status: got %d", w.Code)
	}
	var out struct {
		Models []modelInfo `json:"models"`
	}
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Models) != len(models.List()) {
		t.Errorf("models: got %d, want %d", len(out.Models), len(models.List()))
	}
	loaded := 0
	for _, m := range out.Models {
		if m.Loaded {
			loaded++
			if m.ID != "sentence-transformers/all-MiniLM-L6-v2" || m.Pooling != "mean" {
				t.Errorf("loaded model: got %+v", m)
			}
		}
	}
	if loaded != 1 {
		t.Errorf("loaded models: got %d, want 1", loaded)
	}
}

func TestHealthStatusAndMetrics(t *testing.T) {
	h := newTestServer(t, &fakeSession{spec: models.BGESmallENV15.MustSpec()})
	for _, path := range []string{"/health", "/api/v1/status", "/metrics"} {
		r := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
}
