package config

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// OpctlConfigWatcher reloads an OpctlConfig file on change and hands the
// new value to onChange. Grounded on internal/skills/manager.go's
// StartWatching/watchLoop debounced fsnotify pattern — reused here for
// the daemon's single config file instead of a skill directory tree.
type OpctlConfigWatcher struct {
	path      string
	debounce  time.Duration
	onChange  func(*OpctlConfig)
	logger    *slog.Logger

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	cancel  func()
	wg      sync.WaitGroup
}

// NewOpctlConfigWatcher builds a watcher for path. debounce defaults to
// 250ms when zero or negative, matching the teacher's default.
func NewOpctlConfigWatcher(path string, debounce time.Duration, logger *slog.Logger, onChange func(*OpctlConfig)) *OpctlConfigWatcher {
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OpctlConfigWatcher{path: path, debounce: debounce, onChange: onChange, logger: logger}
}

// Start begins watching. A no-op if path is empty or watching is already
// active.
func (w *OpctlConfigWatcher) Start() error {
	if w.path == "" {
		return nil
	}

	w.mu.Lock()
	if w.watcher != nil {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(w.path); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	stop := make(chan struct{})
	w.cancel = sync.OnceFunc(func() { close(stop) })
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(stop)
	return nil
}

// Close stops the watcher.
func (w *OpctlConfigWatcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
	}
	watcher := w.watcher
	w.watcher = nil
	w.mu.Unlock()

	if watcher != nil {
		_ = watcher.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *OpctlConfigWatcher) loop(stop <-chan struct{}) {
	defer w.wg.Done()
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := LoadOpctlConfig(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
				return
			}
			w.onChange(cfg)
		})
	}

	for {
		select {
		case <-stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}
