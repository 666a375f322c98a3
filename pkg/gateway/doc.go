// Package gateway provides an embeddable store-and-forward sensor gateway.
//
// A Gateway reads readings from a sensor interface (a serial port or a LoRa
// modem speaking the HDTP framing, or a polled text file), renders each one
// through a JSON template and publishes it to an MQTT or NATS broker. While
// the broker is unreachable readings are kept in an on-disk SQLite queue and
// replayed, oldest first, once the session comes back.
//
// # Basic Usage
//
//	cfg := gateway.Config{
//	    ServerURL:   "tcp://broker.local:1883",
//	    PubTopic:    "sensors/greenhouse",
//	    Template:    `{"temperature": <{ t }>, "ts": <# TS #>}`,
//	    Example:     `{"t": 21.5}`,
//	    DatabaseDir: "/var/lib/sensorship",
//	    Interface:   gateway.InterfaceSerialPort,
//	    Device:      "/dev/ttyUSB0",
//	}
//
//	g, err := gateway.New(cfg, gateway.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := g.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	// ... run until shutdown signal ...
//	_ = g.Stop()
//
// # Events and Metrics
//
// Implement [EventHandler] (embedding [NopEventHandler]) and pass it with
// [WithEventHandler] to observe lifecycle, publish and connectivity events.
// Pipeline counters are registered on a Prometheus registry available to
// plugins through [PluginConfig].Gatherer.
//
// # Lifecycle States
//
// A Gateway is in one of [StateStopped], [StateStarting], [StateRunning],
// [StateStopping] or [StateCrashed]. Use [Gateway.Status] to query it.
package gateway
