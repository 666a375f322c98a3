package ports

import (
	"context"

	"github.com/bft-labs/sensorship/internal/domain"
)

// Publisher hands payloads to the message broker.
// Publish must return promptly with an error while the session is down.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

// ConnectivityMonitor reports confirmed session transitions.
type ConnectivityMonitor interface {
	Events() <-chan domain.Connectivity
}

// Broker is a broker session: it publishes and reports its own connectivity.
type Broker interface {
	Publisher
	ConnectivityMonitor

	// Connect starts the session. Reconnection after a loss is the
	// implementation's job and surfaces only through Events.
	Connect(ctx context.Context) error

	// Close ends the session and closes the event channel.
	Close() error
}
