package hostconfig

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Path     string
	Options  Options
	Debounce time.Duration
	Logger   zerolog.Logger

	// OnApply is called after every re-apply, mainly for tests.
	OnApply func(changed bool, err error)
}

// Watcher re-applies the amendment whenever the host config file is
// rewritten, for hosts or editors that drop unknown entries on save.
type Watcher struct {
	path     string
	name     string
	opts     Options
	debounce time.Duration
	logger   zerolog.Logger
	onApply  func(bool, error)

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for cfg.Path.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("host config path is required")
	}
	path, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve host config path: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}

	return &Watcher{
		path:     path,
		name:     filepath.Base(path),
		opts:     cfg.Options,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With().Str("component", "hostconfig_watcher").Logger(),
		onApply:  cfg.OnApply,
	}, nil
}

// Run applies the amendment once, then watches until ctx is done. The
// directory is watched rather than the file so atomic replaces are seen.
// Our own rewrite triggers one more event, which is a no-op.
func (w *Watcher) Run(ctx context.Context) error {
	w.apply()

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(w.path), err)
	}

	w.logger.Info().Str("path", w.path).Msg("Host config watcher started")
	defer func() {
		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.mu.Unlock()
		w.logger.Info().Msg("Host config watcher stopped")
	}()

	for {
		select {
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != w.name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(ctx)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")

		case <-ctx.Done():
			return nil
		}
	}
}

func (w *Watcher) schedule(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		if ctx.Err() != nil {
			return
		}
		w.apply()
	})
}

func (w *Watcher) apply() {
	changed, err := ApplyFile(w.path, w.opts, w.logger)
	if err != nil {
		w.logger.Warn().Err(err).Str("path", w.path).Msg("Failed to apply host config")
	}
	if w.onApply != nil {
		w.onApply(changed, err)
	}
}
