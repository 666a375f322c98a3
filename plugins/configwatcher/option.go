package configwatcher

import "github.com/bft-labs/sensorship/pkg/gateway"

// WithConfigWatcher returns a gateway Option that reloads the log level
// when the configuration file changes. The file is the one passed with
// gateway.WithConfigPath.
//
// Usage:
//
//	g, err := gateway.New(cfg,
//	    gateway.WithConfigPath(path),
//	    configwatcher.WithConfigWatcher(configwatcher.Config{
//	        DebounceDelay: 100 * time.Millisecond,
//	    }),
//	)
func WithConfigWatcher(cfg Config) gateway.Option {
	plugin := New(cfg)
	return gateway.WithPlugin(plugin)
}

// WithDefaultConfigWatcher returns a gateway Option that enables config
// watching with default settings (retry every 5s, debounce 100ms).
func WithDefaultConfigWatcher() gateway.Option {
	return WithConfigWatcher(DefaultConfig())
}
