package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/pkg/logger"
)

// ConfigUpdate represents a configuration change event
type ConfigUpdate struct {
	Path      string
	OldConfig *Config
	NewConfig *Config
	Error     error
}

// Watcher reloads the config file when it changes on disk
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *logger.Logger

	mu      sync.RWMutex
	current *Config

	updateCh chan ConfigUpdate

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewWatcher creates a watcher for path seeded with the already-loaded cfg
func NewWatcher(path string, cfg *Config, logger *logger.Logger) (*Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	// Watch the directory, not the file (for atomic writes)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     path,
		watcher:  watcher,
		logger:   logger,
		current:  cfg,
		updateCh: make(chan ConfigUpdate, 10),
		ctx:      ctx,
		cancel:   cancel,
	}

	w.wg.Add(1)
	go w.watchLoop()

	return w, nil
}

// Updates returns the update notification channel
func (w *Watcher) Updates() <-chan ConfigUpdate {
	return w.updateCh
}

// Current returns the last successfully loaded configuration
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		w.cancel()
		w.watcher.Close()
		w.wg.Wait()
		close(w.updateCh)
	})
}

// watchLoop handles file system events
func (w *Watcher) watchLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}

			// Check if it's our config file
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}

			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleConfigChange()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", zap.Error(err))
		}
	}
}

// handleConfigChange reloads and publishes; a broken file keeps the old config
func (w *Watcher) handleConfigChange() {
	newConfig, err := Load(w.path)

	w.mu.Lock()
	oldConfig := w.current
	if err == nil {
		w.current = newConfig
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error("failed to reload config", zap.String("path", w.path), zap.Error(err))
	} else {
		w.logger.Info("config reloaded", zap.String("path", w.path))
	}

	w.notifyUpdate(ConfigUpdate{
		Path:      w.path,
		OldConfig: oldConfig,
		NewConfig: newConfig,
		Error:     err,
	})
}

// notifyUpdate sends an update notification
func (w *Watcher) notifyUpdate(update ConfigUpdate) {
	select {
	case w.updateCh <- update:
	case <-w.ctx.Done():
	default:
		// Channel full, log and continue
		w.logger.Warn("config update channel full, dropping notification")
	}
}
