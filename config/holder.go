package config

import (
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is how long file events are coalesced before a reload.
// Editors often emit several writes and renames for a single save.
const DefaultDebounce = 250 * time.Millisecond

// Holder keeps the live configuration and reloads it from its file on
// change or SIGHUP. Readers always see a fully validated config.
type Holder struct {
	path     string
	logger   zerolog.Logger
	debounce time.Duration

	mu        sync.RWMutex
	current   *Config
	raw       []byte // file contents behind current
	listeners []func(*Config)
	failures  []func(error)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewHolder loads path and returns a holder for it.
func NewHolder(path string, logger zerolog.Logger) (*Holder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}

	raw, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("load config: read config: %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return &Holder{
		path:     absPath,
		logger:   logger.With().Str("component", "config").Logger(),
		debounce: DefaultDebounce,
		current:  cfg,
		raw:      raw,
		stopCh:   make(chan struct{}),
	}, nil
}

// Get returns the live configuration.
func (h *Holder) Get() *Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// OnChange registers fn to receive every successfully reloaded config.
func (h *Holder) OnChange(fn func(*Config)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// OnError registers fn to receive reload failures.
func (h *Holder) OnError(fn func(error)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, fn)
}

// Reload re-reads the file unconditionally. On failure the current config
// stays in force.
func (h *Holder) Reload() error {
	return h.reload(true)
}

// reload applies the file. Unless force is set, unchanged contents are skipped.
func (h *Holder) reload(force bool) error {
	raw, err := os.ReadFile(h.path)
	if err == nil && !force {
		h.mu.RLock()
		same := bytes.Equal(raw, h.raw)
		h.mu.RUnlock()
		if same {
			h.logger.Debug().Msg("config file unchanged")
			return nil
		}
	}

	var next *Config
	if err == nil {
		next, err = Parse(raw)
	} else {
		err = fmt.Errorf("read config: %w", err)
	}
	if err != nil {
		h.logger.Error().Err(err).Str("path", h.path).Msg("config reload failed, keeping current config")
		h.mu.RLock()
		failures := h.failures
		h.mu.RUnlock()
		for _, fn := range failures {
			fn(err)
		}
		return fmt.Errorf("reload config: %w", err)
	}

	h.mu.Lock()
	prev := h.current
	h.current = next
	h.raw = raw
	listeners := h.listeners
	h.mu.Unlock()

	h.logChanges(prev, next)
	for _, fn := range listeners {
		fn(next)
	}

	h.logger.Info().Str("path", h.path).Msg("configuration reloaded")
	return nil
}

// WatchFile reloads the config whenever its file changes.
// The parent directory is watched so atomic saves (write + rename) are seen.
func (h *Holder) WatchFile() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(h.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch directory: %w", err)
	}
	h.watcher = watcher

	go h.watchLoop()

	h.logger.Info().Str("path", h.path).Msg("watching config file for changes")
	return nil
}

func (h *Holder) watchLoop() {
	name := filepath.Base(h.path)

	// A nil channel blocks, so the timer case is idle until armed.
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			h.logger.Debug().Str("event", event.Op.String()).Msg("config file event")

			if timer == nil {
				timer = time.NewTimer(h.debounce)
			} else {
				timer.Reset(h.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			h.reload(false)

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

// WatchSignals reloads the config on SIGHUP.
func (h *Holder) WatchSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-sigCh:
				h.logger.Info().Msg("received SIGHUP, reloading config")
				h.Reload()
			case <-h.stopCh:
				return
			}
		}
	}()
}

// Stop ends file and signal watching. It is safe to call more than once.
func (h *Holder) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		if h.watcher != nil {
			h.watcher.Close()
		}
	})
}

func (h *Holder) logChanges(prev, next *Config) {
	if prev.Logging.Level != next.Logging.Level {
		h.logger.Info().
			Str("from", prev.Logging.Level).
			Str("to", next.Logging.Level).
			Msg("log level changed")
	}

	if prev.Limits != next.Limits {
		h.logger.Info().
			Int("max_files", next.Limits.MaxFiles).
			Dur("window", next.Limits.Window).
			Int("previous_max_files", prev.Limits.MaxFiles).
			Dur("previous_window", prev.Limits.Window).
			Msg("quota limits changed")
	}

	var pending []string
	if prev.Server.Addr() != next.Server.Addr() {
		pending = append(pending, "server")
	}
	if prev.Storage != next.Storage {
		pending = append(pending, "storage")
	}
	if prev.Conversion.OutputDir != next.Conversion.OutputDir || prev.Conversion.WorkDir != next.Conversion.WorkDir {
		pending = append(pending, "conversion")
	}
	if prev.Auth.JWTSecret != next.Auth.JWTSecret {
		pending = append(pending, "auth")
	}
	if len(pending) > 0 {
		h.logger.Warn().Strs("sections", pending).Msg("changes require a restart to take effect")
	}
}

// ReloadableFields lists settings applied without a restart.
func ReloadableFields() []string {
	return []string{
		"limits.max_files",
		"limits.window",
		"logging.level",
	}
}

// NonReloadableFields lists settings that need a restart.
func NonReloadableFields() []string {
	return []string{
		"server.host",
		"server.port",
		"server.tls",
		"storage.driver",
		"storage.dsn",
		"conversion.work_dir",
		"conversion.output_dir",
		"auth.jwt_secret",
	}
}
