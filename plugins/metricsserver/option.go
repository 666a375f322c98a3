package metricsserver

import "github.com/bft-labs/sensorship/pkg/gateway"

// WithMetricsServer returns a gateway Option that serves metrics over HTTP.
//
// Usage:
//
//	g, err := gateway.New(cfg,
//	    metricsserver.WithMetricsServer(metricsserver.Config{Addr: ":9100"}),
//	)
func WithMetricsServer(cfg Config) gateway.Option {
	return gateway.WithPlugin(New(cfg))
}
