// Package storage defines the manifest of cached model artifacts.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a manifest record does not exist.
var ErrNotFound = errors.New("artifact record not found")

// ArtifactRecord is one downloaded file of a cached model.
type ArtifactRecord struct {
	ModelID      string
	Name         string // file name inside the cache entry
	Path         string // absolute local path
	URL          string
	Size         int64
	SHA256       string
	DownloadedAt time.Time
}

// ModelUsage summarizes the manifest records of one model.
type ModelUsage struct {
	ModelID      string
	Files        int
	Bytes        int64
	DownloadedAt time.Time // most recent download
}

// Manifest records which artifacts have been downloaded into a cache.
type Manifest interface {
	// RecordArtifacts upserts the records of one completed cache entry.
	RecordArtifacts(ctx context.Context, records []*ArtifactRecord) error
	GetArtifact(ctx context.Context, modelID, name string) (*ArtifactRecord, error)
	ListArtifacts(ctx context.Context, modelID string) ([]*ArtifactRecord, error)
	ListModels(ctx context.Context) ([]*ModelUsage, error)
	DeleteModel(ctx context.Context, modelID string) error
	CountArtifacts(ctx context.Context) (int64, error)

	Close() error
}
