// Package watcher signals changes to selected files of a directory with fsnotify,
// falling back to polling when notifications are unavailable.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

const defaultPollInterval = 250 * time.Millisecond

// Watcher reports create, write, rename and remove events on named files of one directory.
type Watcher struct {
	dir      string
	names    map[string]bool // empty = every file
	poll     time.Duration
	watcher  *fsnotify.Watcher
	changes  chan struct{} // coalesced matching events
	done     chan struct{}
	stopOnce sync.Once
	logger   *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithPollInterval sets how often Wait re-checks its condition without an event.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.poll = d
		}
	}
}

// NewWatcher watches dir for events on the given file names (base names).
// When fsnotify cannot watch dir the watcher still works by polling.
func NewWatcher(dir string, names []string, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:     filepath.Clean(dir),
		names:   make(map[string]bool, len(names)),
		poll:    defaultPollInterval,
		changes: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, n := range names {
		w.names[n] = true
	}
	for _, opt := range opts {
		opt(w)
	}
	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err = fw.Add(w.dir); err != nil {
			_ = fw.Close()
		}
	}
	if err != nil {
		if w.logger != nil {
			w.logger.Debug("watcher falling back to polling", zap.String("dir", w.dir), zap.Error(err))
		}
		return w
	}
	w.watcher = fw
	go w.run()
	return w
}

func (w *Watcher) run() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if len(w.names) > 0 && !w.names[filepath.Base(ev.Name)] {
		return
	}
	if w.logger != nil {
		w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	select {
	case w.changes <- struct{}{}:
	default:
	}
}

// Wait blocks until cond returns true, checking it on every event and every poll
// interval. It returns ctx.Err() if ctx ends first.
func (w *Watcher) Wait(ctx context.Context, cond func() bool) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		if cond() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changes:
		case <-ticker.C:
		}
	}
}

// Stop releases the underlying fsnotify watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		if w.watcher != nil {
			_ = w.watcher.Close()
		}
	})
}
