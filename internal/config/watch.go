package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadFunc receives a freshly loaded document. A returned error is
// logged and the previous configuration stays in effect.
type ReloadFunc func(doc *Document) error

// Watcher reloads a config file, or a CUE package directory, when it
// changes on disk.
type Watcher struct {
	path     string
	dir      string
	file     string // empty when watching a directory
	logger   *slog.Logger
	debounce time.Duration
	onReload ReloadFunc

	fsw      *fsnotify.Watcher
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// WithWatchLogger sets the watcher logger. Default: slog.Default().
func WithWatchLogger(l *slog.Logger) WatchOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the watcher waits for writes to settle before
// reloading. Default: 100ms.
func WithDebounce(d time.Duration) WatchOption {
	return func(w *Watcher) { w.debounce = d }
}

// Watch starts watching path. The parent directory is watched so that
// editors saving through rename are seen.
func Watch(path string, onReload ReloadFunc, opts ...WatchOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat config: %w", err)
	}

	w := &Watcher{
		path:     abs,
		dir:      abs,
		debounce: 100 * time.Millisecond,
		onReload: onReload,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if !info.IsDir() {
		w.dir = filepath.Dir(abs)
		w.file = filepath.Base(abs)
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch directory: %w", err)
	}
	w.fsw = fsw

	go w.loop()
	w.logger.Info("watching config for changes", "path", w.path)
	return w, nil
}

// Close stops watching and waits for the watch goroutine to exit.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stop)
		err = w.fsw.Close()
		<-w.done
	})
	return err
}

// relevant reports whether an fsnotify event concerns the watched config.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return false
	}
	name := filepath.Base(ev.Name)
	if w.file != "" {
		return name == w.file
	}
	_, ok := FormatOf(name)
	return ok
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("config file changed", "op", ev.Op.String(), "file", ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)

		case <-w.stop:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

func (w *Watcher) reload() {
	w.logger.Info("reloading config", "path", w.path)
	doc, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping current config", "error", err)
		return
	}
	if err := w.onReload(doc); err != nil {
		w.logger.Error("config reload rejected, keeping current config", "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path)
}
