package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// mockLogger implements ports.Logger for testing.
type mockLogger struct{}

func (mockLogger) Debug(msg string, fields ...ports.Field) {}
func (mockLogger) Info(msg string, fields ...ports.Field)  {}
func (mockLogger) Warn(msg string, fields ...ports.Field)  {}
func (mockLogger) Error(msg string, fields ...ports.Field) {}

type stateChange struct {
	from, to State
	reason   string
}

// stateRecorder collects applied transitions.
type stateRecorder struct {
	mu      sync.Mutex
	changes []stateChange
}

func (r *stateRecorder) OnStateChange(previous, current State, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, stateChange{previous, current, reason})
}

func (r *stateRecorder) all() []stateChange {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stateChange(nil), r.changes...)
}

func lifecycleIn(s State) *Lifecycle {
	l := NewLifecycle(&mockLogger{}, nil)
	l.state = s
	return l
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "Stopped", StateStopped.String())
	assert.Equal(t, "Starting", StateStarting.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Stopping", StateStopping.String())
	assert.Equal(t, "Crashed", StateCrashed.String())
	assert.Equal(t, "Unknown", State(99).String())
}

func TestLifecycle_Transitions(t *testing.T) {
	all := []State{StateStopped, StateStarting, StateRunning, StateStopping, StateCrashed}
	legal := map[[2]State]bool{
		{StateStopped, StateStarting}:  true,
		{StateStarting, StateRunning}:  true,
		{StateStarting, StateStopping}: true,
		{StateStarting, StateCrashed}:  true,
		{StateRunning, StateStopping}:  true,
		{StateRunning, StateCrashed}:   true,
		{StateStopping, StateStopped}:  true,
		{StateStopping, StateCrashed}:  true,
		{StateCrashed, StateStarting}:  true,
	}

	for _, from := range all {
		for _, to := range all {
			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				l := lifecycleIn(from)
				err := l.TransitionTo(to, "test")

				if legal[[2]State{from, to}] {
					require.NoError(t, err)
					assert.Equal(t, to, l.State())
					return
				}
				want := domain.ErrAlreadyRunning
				if from == StateStopped || from == StateCrashed {
					want = domain.ErrNotRunning
				}
				assert.ErrorIs(t, err, want)
				assert.Equal(t, from, l.State(), "rejected transition must not move")
			})
		}
	}
}

func TestLifecycle_EmitsAppliedTransitionsOnly(t *testing.T) {
	rec := &stateRecorder{}
	l := NewLifecycle(&mockLogger{}, rec)

	require.NoError(t, l.TransitionTo(StateStarting, "start"))
	require.NoError(t, l.TransitionTo(StateRunning, "pipeline up"))
	require.Error(t, l.TransitionTo(StateStarting, "again"))
	require.NoError(t, l.Crash(errors.New("broker refused")))

	assert.Equal(t, []stateChange{
		{StateStopped, StateStarting, "start"},
		{StateStarting, StateRunning, "pipeline up"},
		{StateRunning, StateCrashed, "broker refused"},
	}, rec.all())
}

func TestLifecycle_CrashRecordsCauseUntilRestart(t *testing.T) {
	cause := errors.New("open serial interface: no such device")
	l := lifecycleIn(StateStarting)
	assert.NoError(t, l.Err())

	require.NoError(t, l.Crash(cause))
	assert.Equal(t, StateCrashed, l.State())
	assert.ErrorIs(t, l.Err(), cause)
	assert.True(t, l.CanStart())
	assert.False(t, l.CanStop())

	require.NoError(t, l.TransitionTo(StateStarting, "restart"))
	assert.NoError(t, l.Err())
}

func TestLifecycle_CrashFromIdleIsRejected(t *testing.T) {
	l := lifecycleIn(StateStopped)

	assert.ErrorIs(t, l.Crash(errors.New("late failure")), domain.ErrNotRunning)
	assert.Equal(t, StateStopped, l.State())
	assert.NoError(t, l.Err())
}

func TestLifecycle_CrashWithoutCause(t *testing.T) {
	l := lifecycleIn(StateRunning)

	require.NoError(t, l.Crash(nil))
	assert.Error(t, l.Err())
}

func TestLifecycle_CanStartCanStop(t *testing.T) {
	tests := []struct {
		state    State
		canStart bool
		canStop  bool
	}{
		{StateStopped, true, false},
		{StateStarting, false, true},
		{StateRunning, false, true},
		{StateStopping, false, false},
		{StateCrashed, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			l := lifecycleIn(tt.state)
			assert.Equal(t, tt.canStart, l.CanStart())
			assert.Equal(t, tt.canStop, l.CanStop())
		})
	}
}

func TestLifecycle_Cancel(t *testing.T) {
	l := NewLifecycle(&mockLogger{}, nil)
	l.Cancel() // nothing set yet

	ctx, cancel := context.WithCancel(context.Background())
	l.SetCancel(cancel)
	require.NoError(t, ctx.Err())

	l.Cancel()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestLifecycle_GoCrashesOnPipelineError(t *testing.T) {
	l := lifecycleIn(StateRunning)
	failure := errors.New("connect broker: bad credentials")

	l.Go(func() error { return failure })

	require.NoError(t, l.WaitWithTimeout(time.Second))
	assert.Equal(t, StateCrashed, l.State())
	assert.ErrorIs(t, l.Err(), failure)
}

func TestLifecycle_GoIgnoresCleanExit(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"nil", nil},
		{"canceled", context.Canceled},
		{"wrapped canceled", fmt.Errorf("ingest: %w", context.Canceled)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := lifecycleIn(StateRunning)
			l.Go(func() error { return tt.err })

			require.NoError(t, l.WaitWithTimeout(time.Second))
			assert.Equal(t, StateRunning, l.State())
			assert.NoError(t, l.Err())
		})
	}
}

func TestLifecycle_WaitWithTimeout(t *testing.T) {
	l := lifecycleIn(StateRunning)
	release := make(chan struct{})
	l.Go(func() error {
		<-release
		return nil
	})

	assert.ErrorIs(t, l.WaitWithTimeout(10*time.Millisecond), domain.ErrShutdownTimeout)

	close(release)
	assert.NoError(t, l.WaitWithTimeout(time.Second))
}

func TestLifecycle_ConcurrentStartStop(t *testing.T) {
	l := NewLifecycle(&mockLogger{}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = l.TransitionTo(StateStarting, "start")
				_ = l.TransitionTo(StateRunning, "run")
				_ = l.TransitionTo(StateStopping, "stop")
				_ = l.TransitionTo(StateStopped, "stopped")
				_ = l.State()
				_ = l.Err()
			}
		}()
	}
	wg.Wait()

	assert.Contains(t, []State{StateStopped, StateStarting, StateRunning, StateStopping}, l.State())
}
