package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/hyperjump/fastembed/pkg/models"
)

// ModelServer is an httptest artifact host laid out like the Hugging Face
// resolve endpoint: /<repo>/resolve/main/<file>.
type ModelServer struct {
	*httptest.Server

	requests atomic.Int64
	mu       sync.Mutex
	files    map[string][]byte
	hits     map[string]int
}

// NewModelServer serves the artifacts of spec: weights as the given bytes and
// tokenizer files from the BERT fixture. It is closed with the test.
func NewModelServer(t testing.TB, spec models.ModelSpec, weights []byte) *ModelServer {
	t.Helper()
	s := &ModelServer{files: make(map[string][]byte), hits: make(map[string]int)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	for _, f := range spec.Files(s.URL) {
		p := strings.TrimPrefix(f.URL, s.URL)
		switch f.Name {
		case models.TokenizerFile, models.ConfigFile, models.SpecialTokensMapFile, models.TokenizerConfigFile:
			s.files[p] = TokenizerFile(t, BERT, f.Name)
		default:
			s.files[p] = weights
		}
	}
	return s
}

// Set replaces the body served at the given URL path.
func (s *ModelServer) Set(urlPath string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[urlPath] = body
}

// Requests returns the number of requests served so far.
func (s *ModelServer) Requests() int64 { return s.requests.Load() }

// Hits returns how many times urlPath was requested.
func (s *ModelServer) Hits(urlPath string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[urlPath]
}

func (s *ModelServer) serve(w http.ResponseWriter, r *http.Request) {
	s.requests.Add(1)
	s.mu.Lock()
	s.hits[r.URL.Path]++
	body, ok := s.files[r.URL.Path]
	s.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(body)
}
