// Package storage provides SQLite implementation of the Manifest interface.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DefaultManifestName is the manifest file name inside a cache directory.
const DefaultManifestName = "manifest.db"

// SQLiteManifest implements Manifest using SQLite.
type SQLiteManifest struct {
	db *sql.DB
}

// NewSQLiteManifest opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteManifest(dbPath string) (*SQLiteManifest, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create manifest directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteManifest{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifacts (
		model_id TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT NOT NULL,
		url TEXT NOT NULL,
		size INTEGER NOT NULL,
		sha256 TEXT NOT NULL,
		downloaded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (model_id, name)
	);

	CREATE INDEX IF NOT EXISTS idx_artifacts_downloaded_at ON artifacts(downloaded_at);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordArtifacts upserts records in a transaction. Records without a
// DownloadedAt are stamped with the current time.
func (s *SQLiteManifest) RecordArtifacts(ctx context.Context, records []*ArtifactRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO artifacts (model_id, name, path, url, size, sha256, downloaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(model_id, name) DO UPDATE SET
		   path = excluded.path, url = excluded.url, size = excluded.size,
		   sha256 = excluded.sha256, downloaded_at = excluded.downloaded_at`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if r.DownloadedAt.IsZero() {
			r.DownloadedAt = now
		}
		if _, err := stmt.ExecContext(ctx, r.ModelID, r.Name, r.Path, r.URL, r.Size, r.SHA256, r.DownloadedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetArtifact returns one record, or ErrNotFound.
func (s *SQLiteManifest) GetArtifact(ctx context.Context, modelID, name string) (*ArtifactRecord, error) {
	var r ArtifactRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT model_id, name, path, url, size, sha256, downloaded_at
		 FROM artifacts WHERE model_id = ? AND name = ?`, modelID, name,
	).Scan(&r.ModelID, &r.Name, &r.Path, &r.URL, &r.Size, &r.SHA256, &r.DownloadedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, modelID, name)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListArtifacts returns the records of modelID, or of every model when modelID is empty.
func (s *SQLiteManifest) ListArtifacts(ctx context.Context, modelID string) ([]*ArtifactRecord, error) {
	query := `SELECT model_id, name, path, url, size, sha256, downloaded_at FROM artifacts`
	var args []interface{}
	if modelID != "" {
		query += ` WHERE model_id = ?`
		args = append(args, modelID)
	}
	query += ` ORDER BY model_id, name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*ArtifactRecord
	for rows.Next() {
		var r ArtifactRecord
		if err := rows.Scan(&r.ModelID, &r.Name, &r.Path, &r.URL, &r.Size, &r.SHA256, &r.DownloadedAt); err != nil {
			return nil, err
		}
		records = append(records, &r)
	}
	return records, rows.Err()
}

// ListModels aggregates records per model.
func (s *SQLiteManifest) ListModels(ctx context.Context) ([]*ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT model_id, COUNT(*), COALESCE(SUM(size), 0), MAX(downloaded_at)
		 FROM artifacts GROUP BY model_id ORDER BY model_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var usage []*ModelUsage
	for rows.Next() {
		var u ModelUsage
		var last sql.NullString
		if err := rows.Scan(&u.ModelID, &u.Files, &u.Bytes, &last); err != nil {
			return nil, err
		}
		if last.Valid {
			u.DownloadedAt = parseTimestamp(last.String)
		}
		usage = append(usage, &u)
	}
	return usage, rows.Err()
}

// parseTimestamp reads an aggregate timestamp, which the driver returns as text.
func parseTimestamp(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02T15:04:05Z",
		time.RFC3339Nano,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// DeleteModel removes every record of modelID.
func (s *SQLiteManifest) DeleteModel(ctx context.Context, modelID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artifacts WHERE model_id = ?`, modelID)
	return err
}

// CountArtifacts returns the total number of records.
func (s *SQLiteManifest) CountArtifacts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artifacts`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteManifest) Close() error {
	return s.db.Close()
}
