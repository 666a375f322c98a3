package gateway

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bft-labs/sensorship/internal/ports"
)

// Plugin extends a Gateway with optional behavior. Plugins are initialized
// in registration order when the gateway starts and shut down in reverse
// order when it stops.
type Plugin interface {
	// Name identifies the plugin in logs.
	Name() string

	// Initialize is called from Start. Returning an error aborts the start.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called from Stop.
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin gets to work with.
type PluginConfig struct {
	// ConfigPath is the configuration file the gateway was loaded from, if any.
	ConfigPath string

	// Logger is the gateway logger.
	Logger Logger

	// Gatherer exposes the gateway metrics.
	Gatherer prometheus.Gatherer

	// Status reports the gateway lifecycle state.
	Status func() State
}

// Logger is the structured logger accepted by the gateway.
type Logger = ports.Logger

// LogField is a structured log field.
type LogField = ports.Field
