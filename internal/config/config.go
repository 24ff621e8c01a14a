// Package config provides configuration loading and structs for the fastembed CLI and server.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hyperjump/fastembed/pkg/metrics"
	"github.com/hyperjump/fastembed/pkg/fastembed"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

// Environment variables that override file values.
const (
	EnvModel       = "FASTEMBED_MODEL"
	EnvCacheDir    = "FASTEMBED_CACHE_DIR"
	EnvMaxLength   = "FASTEMBED_MAX_LENGTH"
	EnvEndpoint    = "FASTEMBED_ENDPOINT"
	EnvONNXLibrary = "ONNXRUNTIME_LIB"
)

// Config holds all configuration for the application.
type Config struct {
	Debug    bool           `yaml:"debug"`
	Server   ServerConfig   `yaml:"server"`
	Model    ModelConfig    `yaml:"model"`
	Download DownloadConfig `yaml:"download"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// MaxTexts bounds the texts accepted by one embed request.
	MaxTexts int `yaml:"max_texts"`
}

// ModelConfig selects the model and how it is loaded and run.
type ModelConfig struct {
	Name                 string `yaml:"name"`
	MaxLength            int    `yaml:"max_length"`
	CacheDir             string `yaml:"cache_dir"`
	Endpoint             string `yaml:"endpoint"`
	ShowDownloadProgress *bool  `yaml:"show_download_progress"`
	VerifyChecksums      bool   `yaml:"verify_checksums"`
	Threads              int    `yaml:"threads"`
	Parallelism          int    `yaml:"parallelism"`
	BatchSize            int    `yaml:"batch_size"`
	CacheSize            int    `yaml:"cache_size"`
	ONNXLibrary          string `yaml:"onnx_library"`
	ManifestPath         string `yaml:"manifest_path"`
}

// ShowDownloadProgressOrDefault returns whether to report download progress; defaults to true when unset.
func (m *ModelConfig) ShowDownloadProgressOrDefault() bool {
	if m.ShowDownloadProgress != nil {
		return *m.ShowDownloadProgress
	}
	return fastembed.DefaultShowDownloadProgress
}

// DownloadConfig holds network and lock timeouts, as Go durations ("30s", "5m").
type DownloadConfig struct {
	DialTimeout           time.Duration `yaml:"dial_timeout"`
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout"`
	ResponseHeaderTimeout time.Duration `yaml:"response_header_timeout"`
	StallTimeout          time.Duration `yaml:"stall_timeout"`
	LockTimeout           time.Duration `yaml:"lock_timeout"`
}

// Default returns a configuration with defaults and environment overrides applied.
func Default() (*Config, error) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads and parses the config file at path, applies defaults and
// environment overrides, and expands paths.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fserrors.Configuration("config.load", fmt.Errorf("failed to read config: %w", err))
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fserrors.Configuration("config.load", fmt.Errorf("failed to parse config: %w", err))
	}

	ApplyDefaults(&cfg)
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	configDir := filepath.Dir(path)
	cfg.Model.CacheDir = expandPath(cfg.Model.CacheDir, configDir)
	if cfg.Model.ManifestPath != "" {
		cfg.Model.ManifestPath = expandPath(cfg.Model.ManifestPath, configDir)
	}
	if cfg.Model.ONNXLibrary != "" {
		cfg.Model.ONNXLibrary = expandPath(cfg.Model.ONNXLibrary, configDir)
	}

	return &cfg, nil
}

// Save writes the config to path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with the FASTEMBED_* and ONNXRUNTIME_LIB variables that are set.
func ApplyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv(EnvModel); ok && v != "" {
		cfg.Model.Name = v
	}
	if v, ok := os.LookupEnv(EnvCacheDir); ok && v != "" {
		cfg.Model.CacheDir = v
	}
	if v, ok := os.LookupEnv(EnvEndpoint); ok && v != "" {
		cfg.Model.Endpoint = v
	}
	if v, ok := os.LookupEnv(EnvONNXLibrary); ok && v != "" {
		cfg.Model.ONNXLibrary = v
	}
	if v, ok := os.LookupEnv(EnvMaxLength); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fserrors.Configuration("config.env", fmt.Errorf("%s: %w", EnvMaxLength, err))
		}
		cfg.Model.MaxLength = n
	}
	return nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error
	if _, err := models.Parse(c.Model.Name); err != nil {
		errs = append(errs, err)
	}
	if c.Model.MaxLength <= 0 {
		errs = append(errs, fmt.Errorf("model.max_length must be positive, got %d", c.Model.MaxLength))
	}
	if c.Model.Parallelism < 1 {
		errs = append(errs, fmt.Errorf("model.parallelism must be at least 1, got %d", c.Model.Parallelism))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if len(errs) > 0 {
		return fserrors.Configuration("config.validate", errors.Join(errs...))
	}
	return nil
}

// ToOptions maps the configuration onto session options.
func (c *Config) ToOptions(logger *zap.Logger, m *metrics.Metrics) []fastembed.Option {
	opts := []fastembed.Option{
		fastembed.WithModelName(c.Model.Name),
		fastembed.WithMaxLength(c.Model.MaxLength),
		fastembed.WithCacheDir(c.Model.CacheDir),
		fastembed.WithShowDownloadProgress(c.Model.ShowDownloadProgressOrDefault()),
		fastembed.WithVerifyChecksums(c.Model.VerifyChecksums),
		fastembed.WithThreads(c.Model.Threads),
		fastembed.WithParallelism(c.Model.Parallelism),
		fastembed.WithTimeouts(fastembed.Timeouts{
			Dial:           c.Download.DialTimeout,
			TLSHandshake:   c.Download.TLSHandshakeTimeout,
			ResponseHeader: c.Download.ResponseHeaderTimeout,
			Stall:          c.Download.StallTimeout,
			Lock:           c.Download.LockTimeout,
		}),
		fastembed.WithLogger(logger),
	}
	if c.Model.Endpoint != "" {
		opts = append(opts, fastembed.WithEndpoint(c.Model.Endpoint))
	}
	if c.Model.ONNXLibrary != "" {
		opts = append(opts, fastembed.WithONNXLibrary(c.Model.ONNXLibrary))
	}
	if c.Model.ManifestPath != "" {
		opts = append(opts, fastembed.WithManifestPath(c.Model.ManifestPath))
	}
	if m != nil {
		opts = append(opts, fastembed.WithMetrics(m))
	}
	return opts
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// "~/" and other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	path = strings.TrimPrefix(path, "~/")
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}
