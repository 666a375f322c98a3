package gateway_test

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/bft-labs/sensorship/pkg/gateway"
)

// ExampleNew shows how to embed the gateway in an application.
func ExampleNew() {
	cfg := gateway.Config{
		ServerURL:   "tcp://broker.local:1883",
		PubTopic:    "sensors/greenhouse",
		LogTopic:    "sensors/greenhouse/log",
		Template:    `{"temperature": <{ t }>, "humidity": <{ h }>, "ts": <# TS #>}`,
		Example:     `{"t": 21.5, "h": 40}`,
		DatabaseDir: "/var/lib/sensorship",
		Interface:   gateway.InterfaceSerialPort,
		Device:      "/dev/ttyUSB0",
	}

	g, err := gateway.New(cfg, gateway.WithEventHandler(&printHandler{}))
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := g.Start(ctx); err != nil {
		fmt.Printf("failed to start: %v\n", err)
		return
	}
	<-ctx.Done()
	_ = g.Stop()
}

// printHandler reports broker connectivity.
type printHandler struct {
	gateway.NopEventHandler
}

func (h *printHandler) OnConnectivity(e gateway.ConnectivityEvent) {
	fmt.Printf("broker connected: %v\n", e.Connected)
}
