package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

const partialSuffix = ".part"

var errStalled = errors.New("download stalled")

// fetch streams one file into dir. The body goes to a temporary file that is
// synced and renamed into place only after the whole body arrived.
func (c *Cache) fetch(ctx context.Context, dir string, f models.ArtifactFile) (FileRecord, error) {
	rec := FileRecord{Name: f.Name, URL: f.URL}
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return rec, fserrors.Download("artifact.fetch", fmt.Errorf("build request for %s: %w", f.URL, err))
	}
	req.Header.Set("User-Agent", "fastembed-go")

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return rec, fserrors.Download("artifact.fetch", fmt.Errorf("GET %s: %w", f.URL, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return rec, fserrors.Download("artifact.fetch", fmt.Errorf("GET %s: unexpected status %s", f.URL, resp.Status))
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.Name)+".*"+partialSuffix)
	if err != nil {
		return rec, fserrors.Storage("artifact.fetch", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	stall := time.AfterFunc(c.opts.StallTimeout, func() { cancel(errStalled) })
	defer stall.Stop()

	body := &countingReader{r: resp.Body, onRead: func() { stall.Reset(c.opts.StallTimeout) }}
	out := &fileWriter{f: tmp, h: sha256.New()}

	stopProgress := c.reportProgress(f, body, resp.ContentLength)
	n, err := io.Copy(out, body)
	stopProgress()
	if err != nil {
		if out.err != nil {
			return rec, fserrors.Storage("artifact.fetch", fmt.Errorf("write %s: %w", f.Name, out.err))
		}
		if errors.Is(context.Cause(ctx), errStalled) {
			return rec, fserrors.Download("artifact.fetch", fmt.Errorf("GET %s: no data for %s: %w", f.URL, c.opts.StallTimeout, errStalled))
		}
		return rec, fserrors.Download("artifact.fetch", fmt.Errorf("GET %s: read body: %w", f.URL, err))
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return rec, fserrors.Download("artifact.fetch", fmt.Errorf("GET %s: got %d of %d bytes", f.URL, n, resp.ContentLength))
	}

	if err := tmp.Sync(); err != nil {
		return rec, fserrors.Storage("artifact.fetch", err)
	}
	if err := tmp.Close(); err != nil {
		return rec, fserrors.Storage("artifact.fetch", err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, f.Name)); err != nil {
		return rec, fserrors.Storage("artifact.fetch", err)
	}
	committed = true

	rec.Size = n
	rec.SHA256 = hex.EncodeToString(out.h.Sum(nil))
	c.logger.Debug("downloaded artifact", zap.String("file", f.Name), zap.Int64("bytes", n), zap.Duration("took", time.Since(start)))
	if c.opts.OnDownload != nil {
		c.opts.OnDownload(f, n)
	}
	return rec, nil
}

// reportProgress starts a ticker that reports body's counter until the returned
// stop function is called. The copy itself never waits on reporting.
func (c *Cache) reportProgress(f models.ArtifactFile, body *countingReader, total int64) (stop func()) {
	if !c.opts.ShowProgress && c.opts.Progress == nil {
		return func() {}
	}
	done := make(chan struct{})
	finished := make(chan struct{})
	report := func() {
		n := body.n.Load()
		if c.opts.ShowProgress {
			fields := []zap.Field{zap.String("file", f.Name), zap.Int64("bytes", n)}
			if total > 0 {
				fields = append(fields, zap.Int64("total", total), zap.Float64("percent", float64(n)*100/float64(total)))
			}
			c.logger.Info("download progress", fields...)
		}
		if c.opts.Progress != nil {
			c.opts.Progress(f, n, total)
		}
	}
	go func() {
		defer close(finished)
		ticker := time.NewTicker(c.opts.ProgressInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				report()
				return
			case <-ticker.C:
				report()
			}
		}
	}()
	return func() {
		close(done)
		<-finished
	}
}

type countingReader struct {
	r      io.Reader
	n      atomic.Int64
	onRead func()
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	if n > 0 {
		cr.n.Add(int64(n))
		cr.onRead()
	}
	return n, err
}

// fileWriter remembers write failures so they can be told apart from network ones.
type fileWriter struct {
	f   *os.File
	h   hash.Hash
	err error
}

func (w *fileWriter) Write(p []byte) (int, error) {
	n, err := w.f.Write(p)
	if err != nil {
		w.err = err
		return n, err
	}
	w.h.Write(p[:n])
	return n, nil
}
