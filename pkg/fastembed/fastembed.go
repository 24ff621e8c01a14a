// Package fastembed turns text into dense embedding vectors with ONNX encoder
// models from a fixed catalog.
//
// A TextEmbedding downloads the model's artifacts into a local cache on first
// use, loads the tokenizer and weights, and then embeds batches of text:
//
//	s, err := fastembed.New(ctx, fastembed.WithModel(models.BGESmallENV15))
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	vecs, err := s.Embed(ctx, []string{"hello", "world"}, 0)
//
// Construction blocks while artifacts download; callers needing responsiveness
// should construct sessions on their own goroutine.
package fastembed

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/artifact"
	"github.com/hyperjump/fastembed/internal/inference"
	"github.com/hyperjump/fastembed/internal/storage"
	"github.com/hyperjump/fastembed/internal/tokenizer"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// State is the lifecycle stage of a TextEmbedding.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, texts []string, batchSize int) ([][]float32, error)
	Dimensions() int
	Close() error
}

var _ Embedder = (*TextEmbedding)(nil)

// TextEmbedding owns one loaded model and its tokenizer. Configuration is fixed
// at construction. Embed is safe for concurrent use; sessions are independent
// of each other even when they share a cache directory.
type TextEmbedding struct {
	spec     models.ModelSpec
	cfg      config
	logger   *zap.Logger
	artifact *artifact.CachedArtifact
	manifest *storage.SQLiteManifest

	mu     sync.RWMutex
	state  State
	engine *inference.Engine
}

// New builds a session: it validates the options, ensures the model's artifacts
// are cached (downloading them if needed), then loads the tokenizer and weights.
// Invalid options fail with a configuration error before any I/O. On failure no
// session is returned and nothing stays open.
func New(ctx context.Context, opts ...Option) (*TextEmbedding, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	spec, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	s := &TextEmbedding{spec: spec, cfg: cfg, logger: utils.OrNop(cfg.logger), state: StateUninitialized}
	s.setState(StateLoading)
	start := time.Now()
	err = s.load(ctx)
	cfg.metrics.RecordLoad(spec.ID, err)
	if err != nil {
		s.setState(StateFailed)
		s.logger.Error("failed to load model", zap.String("model", spec.ID), zap.Error(err))
		return nil, err
	}
	s.setState(StateReady)
	s.logger.Info("model ready",
		zap.String("model", spec.ID),
		zap.Int("dim", spec.Dim),
		zap.Int("max_length", s.engine.Tokenizer().MaxLength()),
		zap.Int("vocab_size", s.engine.Tokenizer().VocabSize()),
		zap.Duration("took", time.Since(start)))
	return s, nil
}

func (s *TextEmbedding) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("session state", zap.String("model", s.spec.ID), zap.Stringer("state", st))
}

func (s *TextEmbedding) load(ctx context.Context) (err error) {
	cfg := s.cfg
	if cfg.manifestPath != "" {
		m, err := storage.NewSQLiteManifest(cfg.manifestPath)
		if err != nil {
			return fserrors.WithModel(fserrors.Storage("session.manifest", err), s.spec.ID)
		}
		s.manifest = m
		defer func() {
			if err != nil {
				_ = m.Close()
				s.manifest = nil
			}
		}()
	}

	cache, err := artifact.New(cfg.cacheDir, s.artifactOptions())
	if err != nil {
		return fserrors.WithModel(err, s.spec.ID)
	}
	a, err := cache.Ensure(ctx, s.spec)
	if err != nil {
		return err
	}
	s.artifact = a

	tok, err := tokenizer.Load(a.Dir, cfg.maxLength)
	if err != nil {
		return fserrors.WithModel(err, s.spec.ID)
	}
	loader := cfg.loader
	if loader == nil {
		loader = inference.DefaultLoader
	}
	rt, err := loader(a.WeightsPath, s.spec, inference.Options{
		Threads:           cfg.threads,
		SharedLibraryPath: cfg.onnxLibrary,
		Logger:            s.logger,
	})
	if err != nil {
		if fserrors.KindOf(err) == fserrors.KindUnknown {
			err = fserrors.ModelLoad("session.load", err)
		}
		return fserrors.WithModel(err, s.spec.ID)
	}
	s.engine = inference.NewEngine(s.spec, tok, rt,
		inference.WithParallelism(cfg.parallelism),
		inference.WithLogger(s.logger))
	return nil
}

func (s *TextEmbedding) artifactOptions() artifact.Options {
	cfg := s.cfg
	opts := artifact.Options{
		Endpoint:              cfg.endpoint,
		HTTPClient:            cfg.httpClient,
		DialTimeout:           cfg.timeouts.Dial,
		TLSHandshakeTimeout:   cfg.timeouts.TLSHandshake,
		ResponseHeaderTimeout: cfg.timeouts.ResponseHeader,
		StallTimeout:          cfg.timeouts.Stall,
		LockTimeout:           cfg.timeouts.Lock,
		ShowProgress:          cfg.showProgress,
		VerifyChecksums:       cfg.verify,
		Logger:                s.logger,
		OnDownload: func(f models.ArtifactFile, n int64) {
			cfg.metrics.RecordDownload(s.spec.ID, n)
			if cfg.onDownload != nil {
				cfg.onDownload(f, n)
			}
		},
	}
	if s.manifest != nil {
		opts.Manifest = s.manifest
	}
	switch {
	case cfg.progress != nil:
		opts.Progress = artifact.ProgressFunc(cfg.progress)
	case cfg.showProgress:
		opts.Progress = artifact.ProgressFunc(ProgressWriter(os.Stderr))
	}
	return opts
}

// ProgressWriter prints one line to w per progress report. It is the default
// progress output, on stderr.
func ProgressWriter(w io.Writer) ProgressFunc {
	return func(f models.ArtifactFile, downloaded, total int64) {
		if total > 0 {
			fmt.Fprintf(w, "Downloading %s: %.1f / %.1f MB (%.0f%%)\n", f.Name, mb(downloaded), mb(total), float64(downloaded)*100/float64(total))
			return
		}
		fmt.Fprintf(w, "Downloading %s: %.1f MB\n", f.Name, mb(downloaded))
	}
}

func mb(n int64) float64 { return float64(n) / (1 << 20) }

// Embed returns one vector per text, in input order. Texts are processed in
// consecutive batches of batchSize; 0 selects DefaultBatchSize and a negative
// size is a configuration error. An empty input returns an empty slice. A
// failed call leaves the session usable.
func (s *TextEmbedding) Embed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	if batchSize < 0 {
		return nil, fserrors.WithModel(fserrors.Configuration("session.embed", fmt.Errorf("batch size must not be negative, got %d", batchSize)), s.spec.ID)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.readyLocked(); err != nil {
		return nil, err
	}
	start := time.Now()
	vecs, err := s.engine.Embed(ctx, texts, batchSize)
	s.cfg.metrics.RecordEmbed(s.spec.ID, len(texts), time.Since(start), err)
	return vecs, err
}

// QueryEmbed embeds a search query with the model's query prefix.
func (s *TextEmbedding) QueryEmbed(ctx context.Context, query string) ([]float32, error) {
	vecs, err := s.Embed(ctx, []string{s.spec.QueryPrefix + query}, 1)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// PassageEmbed embeds documents with the model's passage prefix.
func (s *TextEmbedding) PassageEmbed(ctx context.Context, texts []string, batchSize int) ([][]float32, error) {
	prefixed := make([]string, len(texts))
	for i, t := range texts {
		prefixed[i] = s.spec.PassagePrefix + t
	}
	return s.Embed(ctx, prefixed, batchSize)
}

func (s *TextEmbedding) readyLocked() error {
	switch s.state {
	case StateReady:
		return nil
	case StateClosed:
		return fserrors.ErrClosed
	default:
		return fmt.Errorf("%w: state %s", fserrors.ErrNotReady, s.state)
	}
}

// Dimensions returns the length of every vector produced by the session.
func (s *TextEmbedding) Dimensions() int { return s.spec.Dim }

// ModelSpec returns the catalog entry of the loaded model.
func (s *TextEmbedding) ModelSpec() models.ModelSpec { return s.spec }

// MaxLength returns the effective token sequence length.
func (s *TextEmbedding) MaxLength() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return 0
	}
	return s.engine.Tokenizer().MaxLength()
}

// ModelDir returns the cache entry holding the model's artifacts.
func (s *TextEmbedding) ModelDir() string {
	if s.artifact == nil {
		return filepath.Join(s.cfg.cacheDir, s.spec.CacheKey())
	}
	return s.artifact.Dir
}

// State returns the session's lifecycle stage.
func (s *TextEmbedding) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Close releases the runtime. It waits for in-flight Embed calls and is idempotent.
func (s *TextEmbedding) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	engine, manifest := s.engine, s.manifest
	s.engine, s.manifest = nil, nil
	s.mu.Unlock()

	var err error
	if engine != nil {
		err = engine.Close()
	}
	if manifest != nil {
		if cerr := manifest.Close(); err == nil {
			err = cerr
		}
	}
	s.logger.Debug("session closed", zap.String("model", s.spec.ID))
	return err
}

// ListSupportedModels returns the catalog in enum order.
func ListSupportedModels() []models.ModelSpec {
	return models.List()
}
