package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// ShutdownTimeout bounds how long Stop waits for the pipeline to persist
// what it still holds.
const ShutdownTimeout = 30 * time.Second

// State is the gateway's lifecycle state.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
	StateCrashed
)

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

// transitions lists the states reachable from each state. A gateway that
// failed to open its adapters goes from Starting straight to Crashed, and
// one stopped mid-start goes to Stopping.
var transitions = map[State][]State{
	StateStopped:  {StateStarting},
	StateStarting: {StateRunning, StateStopping, StateCrashed},
	StateRunning:  {StateStopping, StateCrashed},
	StateStopping: {StateStopped, StateCrashed},
	StateCrashed:  {StateStarting},
}

// rejectTransition returns the error for an illegal move out of from.
// Idle states report that nothing runs, busy ones that something does.
func rejectTransition(from State) error {
	if from == StateStopped || from == StateCrashed {
		return domain.ErrNotRunning
	}
	return domain.ErrAlreadyRunning
}

// StateEmitter is told about every applied transition.
type StateEmitter interface {
	OnStateChange(previous, current State, reason string)
}

// Lifecycle guards the gateway state machine, remembers why the pipeline
// last crashed and tracks the goroutines it runs.
type Lifecycle struct {
	mu     sync.RWMutex
	state  State
	cause  error
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger ports.Logger
	states StateEmitter
}

// NewLifecycle returns a lifecycle in StateStopped. emitter may be nil.
func NewLifecycle(logger ports.Logger, emitter StateEmitter) *Lifecycle {
	return &Lifecycle{
		state:  StateStopped,
		logger: logger,
		states: emitter,
	}
}

func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Err returns the reason of the last crash. It is cleared by the next start.
func (l *Lifecycle) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cause
}

// TransitionTo moves to next if the state machine allows it. The state is
// left untouched on error.
func (l *Lifecycle) TransitionTo(next State, reason string) error {
	return l.transition(next, reason, nil)
}

// Crash moves to StateCrashed and records cause.
func (l *Lifecycle) Crash(cause error) error {
	if cause == nil {
		cause = errors.New("unknown failure")
	}
	return l.transition(StateCrashed, cause.Error(), cause)
}

func (l *Lifecycle) transition(next State, reason string, cause error) error {
	l.mu.Lock()
	prev := l.state
	if !allowed(prev, next) {
		l.mu.Unlock()
		return rejectTransition(prev)
	}
	l.state = next
	switch next {
	case StateStarting:
		l.cause = nil
	case StateCrashed:
		l.cause = cause
	}
	l.mu.Unlock()

	if l.states != nil {
		l.states.OnStateChange(prev, next, reason)
	}
	fields := []ports.Field{
		ports.String("from", prev.String()),
		ports.String("to", next.String()),
		ports.String("reason", reason),
	}
	if next == StateCrashed {
		l.logger.Error("gateway crashed", fields...)
	} else {
		l.logger.Info("state transition", fields...)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanStart reports whether Start may be called.
func (l *Lifecycle) CanStart() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateStopped || l.state == StateCrashed
}

// CanStop reports whether Stop has a running pipeline to stop.
func (l *Lifecycle) CanStop() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state == StateRunning || l.state == StateStarting
}

// SetCancel stores the function that cancels the pipeline context.
func (l *Lifecycle) SetCancel(cancel context.CancelFunc) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancel = cancel
}

func (l *Lifecycle) Cancel() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Go runs fn as a tracked worker. A non-nil error other than cancellation
// crashes the lifecycle.
func (l *Lifecycle) Go(fn func() error) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			_ = l.Crash(err)
		}
	}()
}

// WaitWithTimeout waits for every worker started with Go. It returns
// domain.ErrShutdownTimeout if they are still running after timeout.
func (l *Lifecycle) WaitWithTimeout(timeout time.Duration) error {
	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		l.logger.Warn("pipeline did not stop in time", ports.Duration("timeout", timeout))
		return domain.ErrShutdownTimeout
	}
}
