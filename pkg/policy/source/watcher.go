package source

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Path is the policy file or directory to watch.
	Path string

	// Debounce is the quiet period after the last change before a reload
	// fires (default: 100ms).
	Debounce time.Duration

	// Extensions lists the file extensions that trigger reloads.
	Extensions []string
}

// DefaultWatcherConfig returns the default watcher configuration for path.
func DefaultWatcherConfig(path string) WatcherConfig {
	return WatcherConfig{
		Path:       path,
		Debounce:   100 * time.Millisecond,
		Extensions: []string{".yaml", ".yml"},
	}
}

// Watcher reports policy file changes, collapsing bursts of filesystem
// events into one callback.
type Watcher struct {
	cfg    WatcherConfig
	fsw    *fsnotify.Watcher
	logger *slog.Logger
}

// NewWatcher creates a watcher. Nothing is watched until Watch is called.
func NewWatcher(cfg WatcherConfig, logger *slog.Logger) (*Watcher, error) {
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if len(cfg.Extensions) == 0 {
		cfg.Extensions = []string{".yaml", ".yml"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		cfg:    cfg,
		fsw:    fsw,
		logger: logger.With("component", "policy.watcher"),
	}, nil
}

// Watch blocks until ctx is cancelled, calling onChange after each debounced
// burst of relevant events. The underlying watcher is closed on return.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	defer w.fsw.Close()

	if err := w.addPath(w.cfg.Path); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}

	debounce := NewDebouncer(w.cfg.Debounce)
	defer debounce.Stop()

	w.logger.Info("policy watcher started",
		"path", w.cfg.Path,
		"debounce_ms", w.cfg.Debounce.Milliseconds(),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("policy watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("policy file event", "path", event.Name, "op", event.Op.String())
			debounce.Trigger(onChange)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			w.logger.Error("policy watcher error", "error", err)
		}
	}
}

func (w *Watcher) addPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		// Editors replace files on save, so watch the parent directory.
		return w.fsw.Add(filepath.Dir(path))
	}

	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			return fmt.Errorf("failed to watch directory %q: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	if strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	if !hasExtension(event.Name, w.cfg.Extensions) {
		return false
	}

	info, err := os.Stat(w.cfg.Path)
	if err == nil && !info.IsDir() {
		return filepath.Clean(event.Name) == filepath.Clean(w.cfg.Path)
	}
	return true
}

// Debouncer runs the most recently triggered callback once no new trigger
// has arrived for the interval.
type Debouncer struct {
	interval time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	stopped bool
}

// NewDebouncer creates a debouncer.
func NewDebouncer(interval time.Duration) *Debouncer {
	return &Debouncer{interval: interval}
}

// Trigger schedules fn, replacing any pending callback.
func (d *Debouncer) Trigger(fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.interval, func() {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
	})
}

// Stop cancels any pending callback. Triggers after Stop are ignored.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
