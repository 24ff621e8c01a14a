package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/fastembed/internal/watcher"
	"github.com/hyperjump/fastembed/pkg/models"

	fserrors "github.com/hyperjump/fastembed/pkg/errors"
)

const lockPollInterval = 500 * time.Millisecond

type lockInfo struct {
	Token   string    `json:"token"`
	PID     int       `json:"pid"`
	Created time.Time `json:"created"`
}

// lock is an advisory, cross-process lock on one cache entry: a file created
// with O_EXCL next to the entry directory. The holder refreshes its mtime so
// waiters can tell a live download from a crashed one.
type lock struct {
	path   string
	token  string
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
	logger *zap.Logger
}

func (c *Cache) lockPath(spec models.ModelSpec) string {
	return c.EntryDir(spec) + ".lock"
}

// acquire takes the entry lock of spec, waiting for a live holder at most LockTimeout.
func (c *Cache) acquire(ctx context.Context, spec models.ModelSpec) (*lock, error) {
	path := c.lockPath(spec)
	ctx, cancel := context.WithTimeout(ctx, c.opts.LockTimeout)
	defer cancel()

	var w *watcher.Watcher
	defer func() {
		if w != nil {
			w.Stop()
		}
	}()
	for {
		l, err := c.tryLock(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fserrors.Storage("artifact.lock", err)
		}
		if c.stale(path) {
			c.breakLock(path)
			continue
		}
		if w == nil {
			w = watcher.NewWatcher(c.dir, []string{filepath.Base(path)},
				watcher.WithLogger(c.logger), watcher.WithPollInterval(lockPollInterval))
			c.logger.Info("waiting for another download of the same model", zap.String("model", spec.ID), zap.String("lock", path))
		}
		err = w.Wait(ctx, func() bool {
			_, err := os.Stat(path)
			return errors.Is(err, fs.ErrNotExist) || c.stale(path)
		})
		if err != nil {
			return nil, fserrors.Storage("artifact.lock", fmt.Errorf("waiting for %s: %w", path, err))
		}
	}
}

func (c *Cache) tryLock(path string) (*lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	info := lockInfo{Token: uuid.NewString(), PID: os.Getpid(), Created: time.Now().UTC()}
	err = json.NewEncoder(f).Encode(info)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("write lock: %w", err)
	}
	l := &lock{path: path, token: info.Token, stop: make(chan struct{}), logger: c.logger}
	l.wg.Add(1)
	go l.heartbeat(c.opts.StaleLockAge / 3)
	return l, nil
}

func (c *Cache) stale(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return time.Since(info.ModTime()) > c.opts.StaleLockAge
}

// breakLock moves a stale lock aside before deleting it, so two waiters
// breaking the same lock cannot delete a fresh one.
func (c *Cache) breakLock(path string) {
	aside := path + "." + uuid.NewString() + ".stale"
	if err := os.Rename(path, aside); err != nil {
		return
	}
	c.logger.Warn("broke stale cache lock", zap.String("lock", path))
	_ = os.Remove(aside)
}

func (l *lock) heartbeat(every time.Duration) {
	defer l.wg.Done()
	if every <= 0 {
		every = time.Second
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.touch()
		}
	}
}

func (l *lock) touch() {
	now := time.Now()
	if err := os.Chtimes(l.path, now, now); err != nil {
		l.logger.Debug("failed to refresh cache lock", zap.String("lock", l.path), zap.Error(err))
	}
}

// release removes the lock file if it still carries this holder's token.
func (l *lock) release() {
	l.once.Do(func() {
		close(l.stop)
		l.wg.Wait()
		data, err := os.ReadFile(l.path)
		if err != nil {
			return
		}
		var info lockInfo
		if json.Unmarshal(data, &info) == nil && info.Token == l.token {
			_ = os.Remove(l.path)
		}
	})
}
