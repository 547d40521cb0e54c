package config

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatcherConfig configures hot reloading
type WatcherConfig struct {
	// Path is the config file to watch
	Path string
	// DebounceDuration coalesces bursts of filesystem events into one
	// reload; editors and atomic writers emit several per save
	DebounceDuration time.Duration
	// OnChange receives every successfully loaded and validated config
	OnChange func(*Config)
	// OnError receives load failures; the previous config stays active
	OnError func(error)
	Logger  *slog.Logger
}

// Watcher reloads the configuration when the file changes. Invalid
// configs are reported through OnError and never reach OnChange, so a
// bad edit cannot take down a running gateway.
type Watcher struct {
	config WatcherConfig
	loader *Loader
	fsw    *fsnotify.Watcher
	logger *slog.Logger

	mu    sync.Mutex
	timer *time.Timer

	done chan struct{}
}

// NewWatcher creates a watcher for the given config file
func NewWatcher(config WatcherConfig) (*Watcher, error) {
	if config.DebounceDuration <= 0 {
		config.DebounceDuration = 500 * time.Millisecond
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		config: config,
		loader: NewLoader(config.Path),
		fsw:    fsw,
		logger: config.Logger.With("component", "config-watcher"),
		done:   make(chan struct{}),
	}, nil
}

// Start begins watching. The parent directory is watched rather than
// the file itself so atomic replace-by-rename saves keep working.
func (w *Watcher) Start() error {
	if err := w.fsw.Add(filepath.Dir(w.config.Path)); err != nil {
		return err
	}
	go w.loop()
	return nil
}

// Close stops watching and releases the filesystem watch
func (w *Watcher) Close() error {
	close(w.done)

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	return w.fsw.Close()
}

func (w *Watcher) loop() {
	target := filepath.Clean(w.config.Path)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.scheduleReload()
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watch error", "error", err)
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.config.DebounceDuration, w.reload)
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}

	cfg, err := w.loader.Load()
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "error", err)
		if w.config.OnError != nil {
			w.config.OnError(err)
		}
		return
	}

	w.logger.Info("config reloaded", "path", w.config.Path, "services", len(cfg.Services))
	if w.config.OnChange != nil {
		w.config.OnChange(cfg)
	}
}
