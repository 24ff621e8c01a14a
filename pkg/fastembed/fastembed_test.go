package fastembed

import (
	"bytes"
	"context"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/hyperjump/fastembed/internal/inference"
	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/internal/testutil"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// withRuntimeLoader runs sessions on loader instead of onnxruntime.
func withRuntimeLoader(loader inference.Loader) Option {
	return func(c *config) { c.loader = loader }
}

// newTestSession serves the model from a local host and loads it with the mock runtime.
func newTestSession(t *testing.T, m models.EmbeddingModel, opts ...Option) (*TextEmbedding, *testutil.ModelServer) {
	t.Helper()
	srv := testutil.NewModelServer(t, m.MustSpec(), inference.MockWeights())
	base := []Option{
		WithModel(m),
		WithCacheDir(t.TempDir()),
		WithEndpoint(srv.URL),
		WithMaxLength(32),
		WithShowDownloadProgress(false),
		withRuntimeLoader(inference.MockLoader),
	}
	s, err := New(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, srv
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func TestEmbed_defaultModelScenario(t *testing.T) {
	s, _ := newTestSession(t, models.DefaultModel)
	if s.State() != StateReady {
		t.Fatalf("state = %s, want ready", s.State())
	}
	vecs, err := s.Embed(context.Background(), []string{"hello world", "the quick brown fox"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("len = %d, want 2", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 384 || s.Dimensions() != 384 {
			t.Errorf("vector %d has %d dims, Dimensions() = %d", i, len(v), s.Dimensions())
		}
		if n := norm(v); math.Abs(n-1) > 1e-5 {
			t.Errorf("vector %d norm = %f, want 1", i, n)
		}
	}
	if s.MaxLength() != 32 {
		t.Errorf("MaxLength = %d, want 32", s.MaxLength())
	}
}

func TestEmbed_emptyInput(t *testing.T) {
	s, _ := newTestSession(t, models.DefaultModel)
	got, err := s.Embed(context.Background(), []string{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("Embed(empty) = %v, want empty non-nil", got)
	}
}

func TestEmbed_deterministicAcrossSessions(t *testing.T) {
	texts := []string{"hello world", "goodbye"}
	a, _ := newTestSession(t, models.AllMiniLML6V2)
	b, _ := newTestSession(t, models.AllMiniLML6V2)
	va, err := a.Embed(context.Background(), texts, 0)
	if err != nil {
		t.Fatal(err)
	}
	vb, err := b.Embed(context.Background(), texts, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := range va {
		for j := range va[i] {
			if va[i][j] != vb[i][j] {
				t.Fatalf("text %d component %d differs: %f vs %f", i, j, va[i][j], vb[i][j])
			}
		}
	}
}

func TestEmbed_batchSizeInvariance(t *testing.T) {
	texts := []string{"hello", "world", "hello world", "goodbye", "unaffable", "café", "hello, world!"}
	s, _ := newTestSession(t, models.AllMiniLML6V2, WithParallelism(3))
	ref, err := s.Embed(context.Background(), texts, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, bs := range []int{2, 3, 7, 100} {
		got, err := s.Embed(context.Background(), texts, bs)
		if err != nil {
			t.Fatalf("batch %d: %v", bs, err)
		}
		for i := range ref {
			for j := range ref[i] {
				if d := math.Abs(float64(ref[i][j] - got[i][j])); d > 1e-4 {
					t.Fatalf("batch %d text %d component %d differs by %g", bs, i, j, d)
				}
			}
		}
	}
}

func TestNew_reusesCachedArtifacts(t *testing.T) {
	spec := models.BGESmallENV15.MustSpec()
	srv := testutil.NewModelServer(t, spec, inference.MockWeights())
	dir := t.TempDir()
	var downloads atomic.Int32
	opts := []Option{
		WithCacheDir(dir),
		WithEndpoint(srv.URL),
		WithMaxLength(16),
		WithShowDownloadProgress(false),
		withRuntimeLoader(inference.MockLoader),
		WithDownloadHook(func(models.ArtifactFile, int64) { downloads.Add(1) }),
	}
	for i := 0; i < 2; i++ {
		s, err := New(context.Background(), opts...)
		if err != nil {
			t.Fatalf("session %d: %v", i, err)
		}
		if want := filepath.Join(dir, spec.CacheKey()); s.ModelDir() != want {
			t.Errorf("ModelDir = %s, want %s", s.ModelDir(), want)
		}
		_ = s.Close()
	}
	if got := int(downloads.Load()); got != len(spec.Files(srv.URL)) {
		t.Errorf("downloads = %d, want %d (one per file)", got, len(spec.Files(srv.URL)))
	}
}

func TestNew_concurrentSessionsShareCache(t *testing.T) {
	spec := models.BGESmallENV15.MustSpec()
	srv := testutil.NewModelServer(t, spec, inference.MockWeights())
	dir := t.TempDir()
	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := New(context.Background(),
				WithCacheDir(dir),
				WithEndpoint(srv.URL),
				WithMaxLength(16),
				WithShowDownloadProgress(false),
				withRuntimeLoader(inference.MockLoader))
			if err == nil {
				_, err = s.Embed(context.Background(), []string{"hello"}, 0)
				_ = s.Close()
			}
			errs[i] = err
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Errorf("session %d: %v", i, err)
		}
	}
	for _, f := range spec.Files(srv.URL) {
		if n := srv.Hits(f.URL[len(srv.URL):]); n != 1 {
			t.Errorf("%s fetched %d times, want 1", f.Name, n)
		}
	}
}

func TestNew_invalidOptionsFailBeforeIO(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()
	dir := filepath.Join(t.TempDir(), "cache")

	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown model name", []Option{WithModelName("NoSuchModel")}},
		{"out of range model", []Option{WithModel(models.EmbeddingModel(999))}},
		{"zero max length", []Option{WithMaxLength(0)}},
		{"empty cache dir", []Option{WithCacheDir("  ")}},
		{"negative threads", []Option{WithThreads(-1)}},
		{"zero parallelism", []Option{WithParallelism(0)}},
		{"negative timeout", []Option{WithTimeouts(Timeouts{Stall: -time.Second})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := append([]Option{WithEndpoint(srv.URL), WithCacheDir(dir), WithShowDownloadProgress(false)}, tt.opts...)
			s, err := New(context.Background(), opts...)
			if s != nil {
				t.Error("expected no session")
			}
			if !errors.Is(err, fserrors.ErrConfiguration) {
				t.Fatalf("err = %v, want configuration error", err)
			}
		})
	}
	if n := requests.Load(); n != 0 {
		t.Errorf("made %d requests, want none", n)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("cache dir should not be created, stat err = %v", err)
	}
}

func TestNew_modelByName(t *testing.T) {
	spec := models.AllMiniLML6V2.MustSpec()
	srv := testutil.NewModelServer(t, spec, inference.MockWeights())
	s, err := New(context.Background(),
		WithModelName(spec.ID),
		WithCacheDir(t.TempDir()),
		WithEndpoint(srv.URL),
		WithMaxLength(16),
		WithShowDownloadProgress(false),
		withRuntimeLoader(inference.MockLoader))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.ModelSpec().ID != spec.ID {
		t.Errorf("model = %s, want %s", s.ModelSpec().ID, spec.ID)
	}
}

func TestNew_unresponsiveHostIsDownloadError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	start := time.Now()
	s, err := New(context.Background(),
		WithCacheDir(t.TempDir()),
		WithEndpoint(srv.URL),
		WithShowDownloadProgress(false),
		WithTimeouts(Timeouts{ResponseHeader: 100 * time.Millisecond}))
	if s != nil {
		t.Error("expected no session")
	}
	if !errors.Is(err, fserrors.ErrDownload) {
		t.Fatalf("err = %v, want download error", err)
	}
	if time.Since(start) > 10*time.Second {
		t.Errorf("timeout not enforced: took %s", time.Since(start))
	}
}

func TestNew_corruptWeightsIsModelLoadError(t *testing.T) {
	spec := models.BGESmallENV15.MustSpec()
	srv := testutil.NewModelServer(t, spec, []byte("not a model"))
	s, err := New(context.Background(),
		WithCacheDir(t.TempDir()),
		WithEndpoint(srv.URL),
		WithShowDownloadProgress(false),
		withRuntimeLoader(inference.MockLoader))
	if s != nil {
		t.Error("expected no session")
	}
	if !errors.Is(err, fserrors.ErrModelLoad) {
		t.Fatalf("err = %v, want model load error", err)
	}
	var fe *fserrors.Error
	if !errors.As(err, &fe) || fe.Model != spec.ID {
		t.Errorf("error should name the model, got %v", err)
	}
}

func TestEmbed_batchSize(t *testing.T) {
	s, _ := newTestSession(t, models.DefaultModel)
	ctx := context.Background()
	tests := []struct {
		name      string
		batchSize int
		wantErr   error
	}{
		{"zero uses default", 0, nil},
		{"one", 1, nil},
		{"larger than input", 1000, nil},
		{"negative", -5, fserrors.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vecs, err := s.Embed(ctx, []string{"x", "y"}, tt.batchSize)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if len(vecs) != 2 {
				t.Errorf("got %d vectors, want 2", len(vecs))
			}
		})
	}
	if s.State() != StateReady {
		t.Errorf("state = %s after rejected batch size, want ready", s.State())
	}
}

func TestEmbed_inferenceFailureLeavesSessionUsable(t *testing.T) {
	spec := models.BGESmallENV15.MustSpec()
	srv := testutil.NewModelServer(t, spec, inference.MockWeights("fail_token=4"))
	s, err := New(context.Background(),
		WithCacheDir(t.TempDir()),
		WithEndpoint(srv.URL),
		WithMaxLength(16),
		WithShowDownloadProgress(false),
		withRuntimeLoader(inference.MockLoader))
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if _, err := s.Embed(context.Background(), []string{"hello [MASK] world"}, 0); !errors.Is(err, fserrors.ErrInference) {
		t.Fatalf("err = %v, want inference error", err)
	}
	if s.State() != StateReady {
		t.Errorf("state = %s, want ready", s.State())
	}
	if _, err := s.Embed(context.Background(), []string{"hello world"}, 0); err != nil {
		t.Errorf("session unusable after failure: %v", err)
	}
}

func TestClose(t *testing.T) {
	s, _ := newTestSession(t, models.DefaultModel)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %s, want closed", s.State())
	}
	if _, err := s.Embed(context.Background(), []string{"hello"}, 0); !errors.Is(err, fserrors.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestQueryAndPassageEmbed(t *testing.T) {
	s, _ := newTestSession(t, models.BGESmallENV15)
	spec := s.ModelSpec()
	ctx := context.Background()

	q, err := s.QueryEmbed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	want, err := s.Embed(ctx, []string{spec.QueryPrefix + "hello world"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for j := range q {
		if q[j] != want[0][j] {
			t.Fatalf("query component %d = %f, want %f", j, q[j], want[0][j])
		}
	}

	p, err := s.PassageEmbed(ctx, []string{"goodbye"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	want, err = s.Embed(ctx, []string{spec.PassagePrefix + "goodbye"}, 0)
	if err != nil {
		t.Fatal(err)
	}
	for j := range p[0] {
		if p[0][j] != want[0][j] {
			t.Fatalf("passage component %d = %f, want %f", j, p[0][j], want[0][j])
		}
	}
}

func TestMetricsAndProgress(t *testing.T) {
	m := metrics.New()
	var progressCalls atomic.Int32
	s, _ := newTestSession(t, models.DefaultModel,
		WithMetrics(m),
		WithProgressFunc(func(models.ArtifactFile, int64, int64) { progressCalls.Add(1) }))
	if _, err := s.Embed(context.Background(), []string{"a", "b"}, 0); err != nil {
		t.Fatal(err)
	}
	if n, err := promtest.GatherAndCount(m.Registry(), "fastembed_embed_calls_total", "fastembed_session_loads_total", "fastembed_artifact_downloads_total"); err != nil || n != 3 {
		t.Errorf("gathered %d series (%v), want 3", n, err)
	}
	if progressCalls.Load() == 0 {
		t.Error("progress func never called")
	}
}

func TestListSupportedModels(t *testing.T) {
	list := ListSupportedModels()
	if len(list) == 0 {
		t.Fatal("empty catalog")
	}
	seen := make(map[string]bool)
	for _, spec := range list {
		if seen[spec.ID] {
			t.Errorf("duplicate model %s", spec.ID)
		}
		seen[spec.ID] = true
		if spec.Dim <= 0 {
			t.Errorf("%s: dim = %d", spec.ID, spec.Dim)
		}
	}
}

func TestProgressWriter(t *testing.T) {
	f := models.ArtifactFile{Name: "model.onnx"}
	tests := []struct {
		name              string
		downloaded, total int64
		want              string
	}{
		{"known total", 1 << 20, 4 << 20, "Downloading model.onnx: 1.0 / 4.0 MB (25%)\n"},
		{"unknown total", 3 << 19, -1, "Downloading model.onnx: 1.5 MB\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			ProgressWriter(&buf)(f, tt.downloaded, tt.total)
			if buf.String() != tt.want {
				t.Errorf("got %q, want %q", buf.String(), tt.want)
			}
		})
	}
}
