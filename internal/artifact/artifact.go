// Package artifact keeps downloaded model artifacts in an on-disk cache.
//
// Each model lives in cacheDir/<cache key>/. An entry counts as present only
// when its .complete marker exists and every file it lists is on disk with the
// recorded size. Files are downloaded into temporary names and renamed into
// place; the marker is written last, so an interrupted download is never
// mistaken for a complete one.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/storage"
	"github.com/hyperjump/fastembed/pkg/models"
	"github.com/hyperjump/fastembed/pkg/utils"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// MarkerFile is the completion marker written last into every cache entry.
const MarkerFile = ".complete"

// Default timeouts.
const (
	DefaultDialTimeout           = 30 * time.Second
	DefaultTLSHandshakeTimeout   = 15 * time.Second
	DefaultResponseHeaderTimeout = 60 * time.Second
	DefaultStallTimeout          = 60 * time.Second
	DefaultLockTimeout           = 30 * time.Minute
	DefaultStaleLockAge          = 5 * time.Minute
	DefaultProgressInterval      = 2 * time.Second
)

// ProgressFunc receives periodic download progress. total is -1 when unknown.
type ProgressFunc func(file models.ArtifactFile, downloaded, total int64)

// DownloadHook is called once for every file fetched from the network.
type DownloadHook func(file models.ArtifactFile, bytes int64)

// Options configures a Cache. Zero values select the defaults above.
type Options struct {
	Endpoint   string
	HTTPClient *http.Client // overrides the timeout-configured default client

	DialTimeout           time.Duration
	TLSHandshakeTimeout   time.Duration
	ResponseHeaderTimeout time.Duration
	// StallTimeout aborts a body read that makes no progress for this long.
	StallTimeout time.Duration
	// LockTimeout bounds waiting for another process downloading the same model.
	LockTimeout time.Duration
	// StaleLockAge is how old an unrefreshed lock must be before it is broken.
	StaleLockAge time.Duration

	ShowProgress     bool
	ProgressInterval time.Duration
	Progress         ProgressFunc
	OnDownload       DownloadHook

	// VerifyChecksums re-hashes cached files against the marker on every Ensure.
	VerifyChecksums bool
	Manifest        storage.Manifest
	Logger          *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.Endpoint == "" {
		o.Endpoint = models.DefaultEndpoint
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.TLSHandshakeTimeout <= 0 {
		o.TLSHandshakeTimeout = DefaultTLSHandshakeTimeout
	}
	if o.ResponseHeaderTimeout <= 0 {
		o.ResponseHeaderTimeout = DefaultResponseHeaderTimeout
	}
	if o.StallTimeout <= 0 {
		o.StallTimeout = DefaultStallTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.StaleLockAge <= 0 {
		o.StaleLockAge = DefaultStaleLockAge
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = DefaultProgressInterval
	}
	o.Logger = utils.OrNop(o.Logger)
}

// FileRecord is one file listed in a completion marker.
type FileRecord struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Marker is the content of a cache entry's .complete file.
type Marker struct {
	ModelID     string       `json:"model_id"`
	Endpoint    string       `json:"endpoint"`
	CompletedAt time.Time    `json:"completed_at"`
	Files       []FileRecord `json:"files"`
}

// CachedArtifact is a complete cache entry.
type CachedArtifact struct {
	ModelID string
	Dir     string
	Marker  Marker
	// WeightsPath is the local path of the model weights.
	WeightsPath string
}

// Path returns the local path of a file of the entry.
func (a *CachedArtifact) Path(name string) string {
	return filepath.Join(a.Dir, name)
}

// Size returns the total bytes of the entry's files.
func (a *CachedArtifact) Size() int64 {
	var n int64
	for _, f := range a.Marker.Files {
		n += f.Size
	}
	return n
}

// Cache is safe for concurrent use, including from several processes sharing Dir.
type Cache struct {
	dir    string
	opts   Options
	client *http.Client
	logger *zap.Logger
}

// New returns a cache rooted at dir. The directory is created on first use.
func New(dir string, opts Options) (*Cache, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fserrors.Configuration("artifact.new", errors.New("cache directory must not be empty"))
	}
	opts.applyDefaults()
	c := &Cache{dir: filepath.Clean(dir), opts: opts, logger: opts.Logger}
	c.client = opts.HTTPClient
	if c.client == nil {
		c.client = newHTTPClient(opts)
	}
	return c, nil
}

func newHTTPClient(opts Options) *http.Client {
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   opts.TLSHandshakeTimeout,
			ResponseHeaderTimeout: opts.ResponseHeaderTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		},
	}
}

// Dir returns the cache root.
func (c *Cache) Dir() string { return c.dir }

// EntryDir returns the directory holding spec's artifacts.
func (c *Cache) EntryDir(spec models.ModelSpec) string {
	return filepath.Join(c.dir, spec.CacheKey())
}

// Lookup returns the cached entry of spec without touching the network.
func (c *Cache) Lookup(spec models.ModelSpec) (*CachedArtifact, bool) {
	return c.complete(spec)
}

// Ensure returns the local entry of spec, downloading it first if absent.
// Concurrent calls for the same model, in this or another process, download it once.
func (c *Cache) Ensure(ctx context.Context, spec models.ModelSpec) (*CachedArtifact, error) {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return nil, fserrors.WithModel(fserrors.Storage("artifact.ensure", fmt.Errorf("create cache directory: %w", err)), spec.ID)
	}
	if a, ok := c.cached(spec); ok {
		return a, nil
	}

	l, err := c.acquire(ctx, spec)
	if err != nil {
		return nil, fserrors.WithModel(err, spec.ID)
	}
	defer l.release()

	// Another holder may have completed the entry while we waited.
	if a, ok := c.cached(spec); ok {
		return a, nil
	}
	a, err := c.download(ctx, spec, l)
	if err != nil {
		return nil, fserrors.WithModel(err, spec.ID)
	}
	return a, nil
}

// cached is complete plus optional checksum verification. An entry failing
// verification is reported missing; download replaces it under the entry lock.
func (c *Cache) cached(spec models.ModelSpec) (*CachedArtifact, bool) {
	a, ok := c.complete(spec)
	if !ok {
		return nil, false
	}
	if c.opts.VerifyChecksums {
		if err := Verify(a); err != nil {
			c.logger.Warn("cached artifact failed verification", zap.String("model", spec.ID), zap.Error(err))
			return nil, false
		}
	}
	c.logger.Debug("using cached artifact", zap.String("model", spec.ID), zap.String("dir", a.Dir))
	return a, true
}

func (c *Cache) complete(spec models.ModelSpec) (*CachedArtifact, bool) {
	dir := c.EntryDir(spec)
	m, err := readMarker(dir)
	if err != nil || m.ModelID != spec.ID {
		return nil, false
	}
	want := spec.Files(c.opts.Endpoint)
	have := make(map[string]FileRecord, len(m.Files))
	for _, f := range m.Files {
		have[f.Name] = f
	}
	for _, f := range want {
		rec, ok := have[f.Name]
		if !ok {
			return nil, false
		}
		info, err := os.Stat(filepath.Join(dir, f.Name))
		if err != nil || info.Size() != rec.Size {
			return nil, false
		}
	}
	return &CachedArtifact{
		ModelID:     spec.ID,
		Dir:         dir,
		Marker:      *m,
		WeightsPath: filepath.Join(dir, spec.WeightFileName()),
	}, true
}

func readMarker(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if err != nil {
		return nil, err
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse marker: %w", err)
	}
	return &m, nil
}

// Verify re-hashes every file of a against its marker.
func Verify(a *CachedArtifact) error {
	for _, f := range a.Marker.Files {
		sum, err := hashFile(a.Path(f.Name))
		if err != nil {
			return fserrors.Storage("artifact.verify", err)
		}
		if sum != f.SHA256 {
			return fserrors.ModelLoad("artifact.verify", fmt.Errorf("%s: checksum mismatch", f.Name))
		}
	}
	return nil
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Cache) download(ctx context.Context, spec models.ModelSpec, l *lock) (*CachedArtifact, error) {
	dir := c.EntryDir(spec)
	if err := os.Remove(filepath.Join(dir, MarkerFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fserrors.Storage("artifact.download", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fserrors.Storage("artifact.download", fmt.Errorf("create entry: %w", err))
	}
	removePartials(dir)

	files := spec.Files(c.opts.Endpoint)
	c.logger.Info("downloading model", zap.String("model", spec.ID), zap.Int("files", len(files)), zap.String("dir", dir))
	marker := Marker{ModelID: spec.ID, Endpoint: c.opts.Endpoint}
	for _, f := range files {
		rec, err := c.fetch(ctx, dir, f)
		if err != nil {
			return nil, err
		}
		marker.Files = append(marker.Files, rec)
		l.touch()
	}
	marker.CompletedAt = time.Now().UTC()
	if err := writeMarker(dir, &marker); err != nil {
		return nil, fserrors.Storage("artifact.download", err)
	}
	c.logger.Info("model cached", zap.String("model", spec.ID), zap.String("dir", dir))

	a := &CachedArtifact{ModelID: spec.ID, Dir: dir, Marker: marker, WeightsPath: filepath.Join(dir, spec.WeightFileName())}
	c.record(ctx, a)
	return a, nil
}

func (c *Cache) record(ctx context.Context, a *CachedArtifact) {
	if c.opts.Manifest == nil {
		return
	}
	records := make([]*storage.ArtifactRecord, 0, len(a.Marker.Files))
	for _, f := range a.Marker.Files {
		records = append(records, &storage.ArtifactRecord{
			ModelID:      a.ModelID,
			Name:         f.Name,
			Path:         a.Path(f.Name),
			URL:          f.URL,
			Size:         f.Size,
			SHA256:       f.SHA256,
			DownloadedAt: a.Marker.CompletedAt,
		})
	}
	if err := c.opts.Manifest.RecordArtifacts(ctx, records); err != nil {
		c.logger.Warn("failed to record artifacts in manifest", zap.String("model", a.ModelID), zap.Error(err))
	}
}

func removePartials(dir string) {
	matches, _ := filepath.Glob(filepath.Join(dir, "*"+partialSuffix))
	for _, m := range matches {
		_ = os.Remove(m)
	}
}

func writeMarker(dir string, m *Marker) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, MarkerFile+".*"+partialSuffix)
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, filepath.Join(dir, MarkerFile))
}

// Entry describes one complete cache entry found by List.
type Entry struct {
	Key         string    `json:"key"`
	ModelID     string    `json:"model_id"`
	Dir         string    `json:"dir"`
	Bytes       int64     `json:"bytes"`
	CompletedAt time.Time `json:"completed_at"`
}

// List returns the complete entries under the cache root, sorted by model id.
func (c *Cache) List() ([]Entry, error) {
	dirents, err := os.ReadDir(c.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fserrors.Storage("artifact.list", err)
	}
	var entries []Entry
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		dir := filepath.Join(c.dir, d.Name())
		m, err := readMarker(dir)
		if err != nil {
			continue
		}
		size, err := storage.DiskUsageBytes(dir)
		if err != nil {
			return nil, fserrors.Storage("artifact.list", err)
		}
		entries = append(entries, Entry{Key: d.Name(), ModelID: m.ModelID, Dir: dir, Bytes: size, CompletedAt: m.CompletedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModelID < entries[j].ModelID })
	return entries, nil
}

// Remove deletes spec's entry. It takes the entry lock, so it waits for an
// in-flight download of the same model.
func (c *Cache) Remove(ctx context.Context, spec models.ModelSpec) error {
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return fserrors.Storage("artifact.remove", err)
	}
	l, err := c.acquire(ctx, spec)
	if err != nil {
		return fserrors.WithModel(err, spec.ID)
	}
	defer l.release()
	if err := os.RemoveAll(c.EntryDir(spec)); err != nil {
		return fserrors.WithModel(fserrors.Storage("artifact.remove", err), spec.ID)
	}
	if c.opts.Manifest != nil {
		if err := c.opts.Manifest.DeleteModel(ctx, spec.ID); err != nil {
			c.logger.Warn("failed to delete manifest records", zap.String("model", spec.ID), zap.Error(err))
		}
	}
	c.logger.Info("removed cached model", zap.String("model", spec.ID))
	return nil
}
