package gateway

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/sensorship/internal/ports"
	"github.com/bft-labs/sensorship/pkg/log"
)

// Option configures optional behavior of a Gateway.
type Option func(*options)

type options struct {
	logger       Logger
	eventHandler EventHandler
	plugins      []Plugin
	registry     *prometheus.Registry
	configPath   string

	// Replace the adapters built from Config.
	broker ports.Broker
	queue  ports.Queue
	opener ports.SourceOpener
}

func defaultOptions() options {
	return options{
		logger:       log.NewNoopLogger(),
		eventHandler: NopEventHandler{},
	}
}

// WithLogger sets the logger. Without it the gateway logs nothing.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithEventHandler sets a handler for gateway events.
func WithEventHandler(handler EventHandler) Option {
	return func(o *options) {
		o.eventHandler = handler
	}
}

// WithPlugin registers a plugin to be initialized when the gateway starts.
func WithPlugin(plugin Plugin) Option {
	return func(o *options) {
		o.plugins = append(o.plugins, plugin)
	}
}

// WithRegistry registers the gateway metrics on reg instead of a private
// registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithConfigPath records the file the configuration came from so plugins
// can watch it.
func WithConfigPath(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

func withBroker(b ports.Broker) Option {
	return func(o *options) { o.broker = b }
}

func withQueue(q ports.Queue) Option {
	return func(o *options) { o.queue = q }
}

func withSourceOpener(open ports.SourceOpener) Option {
	return func(o *options) { o.opener = open }
}
