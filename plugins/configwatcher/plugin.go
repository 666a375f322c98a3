// Package configwatcher reloads runtime-adjustable settings when the
// gateway's configuration file changes. Today that is the log level.
package configwatcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog"

	"github.com/bft-labs/sensorship/pkg/gateway"
	"github.com/bft-labs/sensorship/pkg/log"
)

// Plugin watches the configuration file and applies the [log] level from it.
type Plugin struct {
	mu sync.RWMutex

	// Configuration
	retryInterval time.Duration
	debounceDelay time.Duration
	apply         func(zerolog.Level)

	// Runtime state
	path     string
	logger   gateway.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
	current  zerolog.Level
}

// Config holds configuration options for the config watcher plugin.
type Config struct {
	// RetryInterval is the delay between attempts to read a file that is
	// temporarily missing, as happens while editors replace it.
	// Default: 5 seconds
	RetryInterval time.Duration

	// DebounceDelay is the delay to wait after a file change before reloading.
	// Default: 100 milliseconds
	DebounceDelay time.Duration

	// Apply receives the new level. Default: zerolog.SetGlobalLevel
	Apply func(zerolog.Level)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		RetryInterval: 5 * time.Second,
		DebounceDelay: 100 * time.Millisecond,
		Apply:         zerolog.SetGlobalLevel,
	}
}

// New creates a new config watcher plugin with the given configuration.
func New(cfg Config) *Plugin {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 5 * time.Second
	}
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 100 * time.Millisecond
	}
	if cfg.Apply == nil {
		cfg.Apply = zerolog.SetGlobalLevel
	}

	return &Plugin{
		retryInterval: cfg.RetryInterval,
		debounceDelay: cfg.DebounceDelay,
		apply:         cfg.Apply,
		current:       zerolog.NoLevel,
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "configwatcher"
}

// Initialize starts watching cfg.ConfigPath.
func (p *Plugin) Initialize(ctx context.Context, cfg gateway.PluginConfig) error {
	p.mu.Lock()
	p.path = cfg.ConfigPath
	p.logger = cfg.Logger
	p.mu.Unlock()

	if p.path == "" {
		p.logger.Warn("config watcher disabled: no configuration file")
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("config watcher plugin initialized", log.String("path", p.path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx)

	return nil
}

// Shutdown stops the config watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	p.wg.Wait()
	return nil
}

// Level returns the last level applied, or zerolog.NoLevel if none was.
func (p *Plugin) Level() zerolog.Level {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// watchLoop watches the directory holding the configuration file so that
// replace-on-save editors are seen too.
func (p *Plugin) watchLoop(ctx context.Context) {
	defer p.wg.Done()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		p.logger.Error("config watcher: failed to create watcher", log.Err(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(p.path)); err != nil {
		p.logger.Error("config watcher: failed to watch directory", log.Err(err))
		return
	}

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			p.debounceReload(ctx, p.debounceDelay)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watcher: watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}

	p.debounce = time.AfterFunc(delay, func() {
		p.reloadWithRetry(ctx)
	})
}

// reloadWithRetry retries reading until the file is back or ctx is done.
// A file that reads but does not parse is not retried.
func (p *Plugin) reloadWithRetry(ctx context.Context) {
	for {
		data, err := os.ReadFile(p.path)
		if err == nil {
			p.reload(data)
			return
		}

		p.logger.Warn("config watcher: read failed, retrying",
			log.Duration("retry_in", p.retryInterval),
			log.Err(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(p.retryInterval):
		}
	}
}

func (p *Plugin) reload(data []byte) {
	level, err := parseLevel(data)
	if err != nil {
		p.logger.Error("config watcher: ignoring invalid configuration", log.Err(err))
		return
	}

	p.mu.Lock()
	changed := level != p.current
	p.current = level
	p.mu.Unlock()

	if !changed {
		return
	}
	p.apply(level)
	p.logger.Info("config watcher: log level applied", log.String("level", level.String()))
}

// logSection is the part of the configuration file this plugin reloads.
type logSection struct {
	Log struct {
		Level string `toml:"level"`
	} `toml:"log"`
}

func parseLevel(data []byte) (zerolog.Level, error) {
	var fc logSection
	if err := toml.Unmarshal(data, &fc); err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse toml: %w", err)
	}
	return log.ParseLevel(fc.Log.Level)
}

// Ensure Plugin implements gateway.Plugin.
var _ gateway.Plugin = (*Plugin)(nil)
