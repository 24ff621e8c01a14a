package fastembed

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/inference"
	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// Defaults applied by New.
const (
	DefaultMaxLength            = 512
	DefaultCacheDir             = ".fastembed_cache"
	DefaultShowDownloadProgress = true
	DefaultBatchSize            = inference.DefaultBatchSize
)

// ProgressFunc receives periodic download progress. total is -1 when unknown.
type ProgressFunc func(file models.ArtifactFile, downloaded, total int64)

// DownloadHook is called once for every artifact file fetched from the network.
type DownloadHook func(file models.ArtifactFile, bytes int64)

// Timeouts bounds network and lock waits during construction. Zero fields keep the defaults.
type Timeouts struct {
	Dial           time.Duration
	TLSHandshake   time.Duration
	ResponseHeader time.Duration
	// Stall aborts a download whose body makes no progress for this long.
	Stall time.Duration
	// Lock bounds waiting for another session downloading the same model.
	Lock time.Duration
}

type config struct {
	model        models.EmbeddingModel
	modelName    string
	maxLength    int
	cacheDir     string
	showProgress bool
	logger       *zap.Logger

	endpoint     string
	httpClient   *http.Client
	timeouts     Timeouts
	threads      int
	parallelism  int
	verify       bool
	onDownload   DownloadHook
	progress     ProgressFunc
	manifestPath string
	loader       inference.Loader // nil uses inference.DefaultLoader
	onnxLibrary  string
	metrics      *metrics.Metrics
}

func defaultConfig() config {
	return config{
		model:        models.DefaultModel,
		maxLength:    DefaultMaxLength,
		cacheDir:     DefaultCacheDir,
		showProgress: DefaultShowDownloadProgress,
		parallelism:  1,
	}
}

// resolve validates the configuration without touching the filesystem or network.
func (c *config) resolve() (models.ModelSpec, error) {
	model := c.model
	if c.modelName != "" {
		m, err := models.Parse(c.modelName)
		if err != nil {
			return models.ModelSpec{}, err
		}
		model = m
	}
	spec, err := model.Spec()
	if err != nil {
		return models.ModelSpec{}, err
	}
	var problems []string
	if c.maxLength <= 0 {
		problems = append(problems, fmt.Sprintf("max length must be positive, got %d", c.maxLength))
	}
	if strings.TrimSpace(c.cacheDir) == "" {
		problems = append(problems, "cache directory must not be empty")
	}
	if c.threads < 0 {
		problems = append(problems, fmt.Sprintf("threads must not be negative, got %d", c.threads))
	}
	if c.parallelism < 1 {
		problems = append(problems, fmt.Sprintf("parallelism must be at least 1, got %d", c.parallelism))
	}
	t := c.timeouts
	if t.Dial < 0 || t.TLSHandshake < 0 || t.ResponseHeader < 0 || t.Stall < 0 || t.Lock < 0 {
		problems = append(problems, "timeouts must not be negative")
	}
	if len(problems) > 0 {
		return models.ModelSpec{}, fserrors.WithModel(fserrors.Configuration("options", errors.New(strings.Join(problems, "; "))), spec.ID)
	}
	return spec, nil
}

// Option configures a TextEmbedding.
type Option func(*config)

// WithModel selects the catalog model. Default: models.DefaultModel.
func WithModel(m models.EmbeddingModel) Option {
	return func(c *config) { c.model = m }
}

// WithModelName selects the model by enum name or identifier, e.g.
// "BGESmallENV15" or "BAAI/bge-small-en-v1.5". It overrides WithModel.
func WithModelName(name string) Option {
	return func(c *config) { c.modelName = name }
}

// WithMaxLength sets the token sequence length. Default: DefaultMaxLength.
// The effective length never exceeds the tokenizer's own limit.
func WithMaxLength(n int) Option {
	return func(c *config) { c.maxLength = n }
}

// WithCacheDir sets the artifact cache directory. Default: DefaultCacheDir.
func WithCacheDir(dir string) Option {
	return func(c *config) { c.cacheDir = dir }
}

// WithShowDownloadProgress toggles download progress reporting. Default: true.
func WithShowDownloadProgress(show bool) Option {
	return func(c *config) { c.showProgress = show }
}

// WithLogger sets the logger. Default: no logging.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithEndpoint sets the artifact host. Default: models.DefaultEndpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *config) { c.endpoint = endpoint }
}

// WithHTTPClient replaces the download client. Timeouts are then the client's concern.
func WithHTTPClient(client *http.Client) Option {
	return func(c *config) { c.httpClient = client }
}

// WithTimeouts sets download and lock timeouts.
func WithTimeouts(t Timeouts) Option {
	return func(c *config) { c.timeouts = t }
}

// WithThreads sets the runtime's intra-op thread count. 0 lets the runtime decide.
func WithThreads(n int) Option {
	return func(c *config) { c.threads = n }
}

// WithParallelism runs up to n batches of one Embed call concurrently. Default: 1.
func WithParallelism(n int) Option {
	return func(c *config) { c.parallelism = n }
}

// WithVerifyChecksums re-hashes cached artifacts against their recorded checksums on load.
func WithVerifyChecksums(verify bool) Option {
	return func(c *config) { c.verify = verify }
}

// WithDownloadHook observes every file fetched from the network.
func WithDownloadHook(hook DownloadHook) Option {
	return func(c *config) { c.onDownload = hook }
}

// WithProgressFunc receives download progress instead of the default stderr report.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(c *config) { c.progress = fn }
}

// WithManifestPath records downloaded artifacts in a SQLite manifest at path.
func WithManifestPath(path string) Option {
	return func(c *config) { c.manifestPath = path }
}

// WithONNXLibrary sets the path of the onnxruntime shared library.
func WithONNXLibrary(path string) Option {
	return func(c *config) { c.onnxLibrary = path }
}

// WithMetrics records downloads and embed calls on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}
