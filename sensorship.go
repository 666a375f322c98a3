// Package sensorship runs a sensor-to-broker gateway: readings from a
// serial line, a LoRa modem or a text file are rendered through a JSON
// template and published to MQTT or NATS, with an SQLite store-and-forward
// queue covering broker outages.
//
// Example usage:
//
//	cfg := gateway.Config{
//	    ServerURL:   "tcp://localhost:1883",
//	    PubTopic:    "sensors/data",
//	    Template:    `{"temp": <{ t }>, "ts": <# TS #>}`,
//	    DatabaseDir: "/var/lib/sensorship",
//	    Device:      "/dev/ttyUSB0",
//	}
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
//	defer stop()
//	if err := sensorship.Run(ctx, cfg); err != nil {
//	    log.Fatal(err)
//	}
package sensorship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bft-labs/sensorship/pkg/gateway"
)

// ErrCrashed is returned by Run when the pipeline stopped on its own.
var ErrCrashed = errors.New("sensorship: gateway crashed")

// statusPollInterval is how often Run checks for a crashed pipeline.
const statusPollInterval = 100 * time.Millisecond

// Run starts a gateway with the given configuration and blocks until ctx
// is cancelled or the pipeline crashes. The gateway is stopped before
// Run returns.
func Run(ctx context.Context, cfg gateway.Config, opts ...gateway.Option) error {
	g, err := gateway.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}
	return runGateway(ctx, g)
}

func runGateway(ctx context.Context, g *gateway.Gateway) error {
	if err := g.Start(ctx); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}

	crashed := false
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

wait:
	for {
		select {
		case <-ctx.Done():
			break wait
		case <-ticker.C:
			if g.Status() == gateway.StateCrashed {
				crashed = true
				break wait
			}
		}
	}

	if err := g.Stop(); err != nil {
		return fmt.Errorf("stop gateway: %w", err)
	}
	if crashed {
		return fmt.Errorf("%w: %v", ErrCrashed, g.Err())
	}
	return nil
}

// DefaultConfig returns a gateway Config with defaults applied. At minimum
// ServerURL, PubTopic, Template, DatabaseDir and Device must be set.
func DefaultConfig() gateway.Config {
	var cfg gateway.Config
	cfg.SetDefaults()
	return cfg
}
