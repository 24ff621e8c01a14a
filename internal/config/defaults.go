package config

import (
	"github.com/hyperjump/fastembed/pkg/fastembed"
	"github.com/hyperjump/fastembed/pkg/models"
)

// Server defaults.
const (
	DefaultHost     = "localhost"
	DefaultPort     = 8080
	DefaultMaxTexts = 1024
	// DefaultCacheSize is the number of embeddings the server keeps in memory.
	DefaultCacheSize = 10000
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = DefaultHost
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
	if cfg.Server.MaxTexts == 0 {
		cfg.Server.MaxTexts = DefaultMaxTexts
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = models.DefaultModel.String()
	}
	if cfg.Model.MaxLength == 0 {
		cfg.Model.MaxLength = fastembed.DefaultMaxLength
	}
	if cfg.Model.CacheDir == "" {
		cfg.Model.CacheDir = fastembed.DefaultCacheDir
	}
	if cfg.Model.Parallelism == 0 {
		cfg.Model.Parallelism = 1
	}
	if cfg.Model.BatchSize == 0 {
		cfg.Model.BatchSize = fastembed.DefaultBatchSize
	}
	if cfg.Model.CacheSize == 0 {
		cfg.Model.CacheSize = DefaultCacheSize
	}
}
