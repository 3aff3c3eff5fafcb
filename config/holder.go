package config

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"reflect"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Holder provides thread-safe access to configuration with hot reload support.
// Only ReloadableFields take effect while a module is running; changes to the
// rest are logged and ignored until the next launch.
type Holder struct {
	mu        sync.RWMutex
	config    *Config
	path      string
	overrides []Override
	logger    zerolog.Logger
	watcher   *fsnotify.Watcher
	onChange  []func(*Config)
	onError   []func(error)
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewHolder creates a new config holder and loads the initial configuration.
// Overrides are reapplied on every reload.
func NewHolder(path string, logger zerolog.Logger, overrides ...Override) (*Holder, error) {
	cfg, err := Load(path, overrides...)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	return &Holder{
		config:    cfg,
		path:      absPath,
		overrides: overrides,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// Get returns the current configuration (thread-safe).
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.config
}

// Path returns the absolute path of the watched file.
func (h *Holder) Path() string {
	return h.path
}

// Reload reloads the configuration from disk.
// Returns error if loading fails (keeps old config).
func (h *Holder) Reload() error {
	h.logger.Info().Str("path", h.path).Msg("reloading configuration")

	loaded, err := Load(h.path, h.overrides...)
	if err != nil {
		h.logger.Error().Err(err).Msg("config reload failed, keeping old config")
		h.notifyError(err)
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.config
	newCfg := applyReloadable(oldCfg, loaded)
	h.config = newCfg
	listeners := append([]func(*Config){}, h.onChange...)
	h.mu.Unlock()

	h.logChanges(oldCfg, loaded)

	for _, fn := range listeners {
		fn(newCfg)
	}

	h.logger.Info().Msg("configuration reloaded successfully")
	return nil
}

// OnChange registers a callback to be called when config changes.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onChange = append(h.onChange, fn)
}

// OnError registers a callback to be called when a reload fails.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onError = append(h.onError, fn)
}

// WatchFile starts watching the config file for changes.
// Changes trigger automatic reload.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	// Watch the directory (more reliable for editors that do atomic saves)
	dir := filepath.Dir(h.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

// WatchSignals starts listening for SIGHUP to trigger reload.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("SIGHUP reload failed")
				}
			case <-h.stopCh:
				signal.Stop(sigCh)
				return
			}
		}
	}()

	h.logger.Debug().Msg("listening for SIGHUP to reload config")
}

// Stop stops watching for file changes and signals. Safe to call twice.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) watchLoop() {
	filename := filepath.Base(h.path)

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}

			// Only react to our config file
			if filepath.Base(event.Name) != filename {
				continue
			}

			// React to write or create (atomic save = create)
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				h.logger.Debug().
					Str("event", event.Op.String()).
					Str("file", event.Name).
					Msg("config file changed")

				if err := h.Reload(); err != nil {
					h.logger.Error().Err(err).Msg("file watch reload failed")
				}
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Msg("file watcher error")

		case <-h.stopCh:
			return
		}
	}
}

func (h *Holder) notifyError(err error) {
	h.mu.RLock()
	listeners := append([]func(error){}, h.onError...)
	h.mu.RUnlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// applyReloadable copies the reloadable fields of loaded onto a copy of current.
func applyReloadable(current, loaded *Config) *Config {
	next := *current
	next.Logging = loaded.Logging
	return &next
}

func (h *Holder) logChanges(old, loaded *Config) {
	if old.Logging.Level != loaded.Logging.Level {
		h.logger.Info().
			Str("old", old.Logging.Level).
			Str("new", loaded.Logging.Level).
			Msg("log level changed")
	}
	if old.Logging.Format != loaded.Logging.Format {
		h.logger.Info().
			Str("old", old.Logging.Format).
			Str("new", loaded.Logging.Format).
			Msg("log format changed")
	}

	if !reflect.DeepEqual(old.Module, loaded.Module) {
		h.logger.Warn().Msg("module settings changed; restart the launcher to apply them")
	}
	if old.Launch != loaded.Launch || old.History != loaded.History || old.Status != loaded.Status {
		h.logger.Warn().Msg("settings outside logging changed; restart the launcher to apply them")
	}
}

// ReloadableFields returns which fields can be changed without restart.
func ReloadableFields() []string {
	return []string{
		"logging.level",
		"logging.format",
	}
}

// NonReloadableFields returns which fields require a restart.
func NonReloadableFields() []string {
	return []string{
		"module.*",
		"launch.wait",
		"launch.shutdown_timeout",
		"history.*",
		"status.*",
	}
}
