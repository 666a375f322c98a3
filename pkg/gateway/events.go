package gateway

import "time"

// State is the lifecycle state of a Gateway.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "Stopped"
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateCrashed:
		return "Crashed"
	default:
		return "Unknown"
	}
}

// StateChangeEvent is delivered on every lifecycle transition.
type StateChangeEvent struct {
	Previous State
	Current  State
	Reason   string
}

// PublishEvent is delivered after every publish attempt.
type PublishEvent struct {
	// Replayed is true when the payload came from the durable queue.
	Replayed bool
	Err      error
	At       time.Time
}

// ConnectivityEvent is delivered when the broker session goes up or down.
type ConnectivityEvent struct {
	Connected bool
	At        time.Time
}

// EventHandler receives gateway events. Methods are called synchronously
// from pipeline goroutines and must return quickly.
type EventHandler interface {
	OnStateChange(StateChangeEvent)
	OnPublish(PublishEvent)
	OnConnectivity(ConnectivityEvent)
}

// NopEventHandler can be embedded to implement only some EventHandler methods.
type NopEventHandler struct{}

func (NopEventHandler) OnStateChange(StateChangeEvent)   {}
func (NopEventHandler) OnPublish(PublishEvent)           {}
func (NopEventHandler) OnConnectivity(ConnectivityEvent) {}
