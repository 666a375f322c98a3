package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bft-labs/sensorship/internal/domain"
)

func collect(t *testing.T, ch <-chan domain.Datum, n int) []domain.Datum {
	t.Helper()
	var out []domain.Datum
	for len(out) < n {
		select {
		case d := <-ch:
			out = append(out, d)
		case <-time.After(2 * time.Second):
			t.Fatalf("received %d datums, want %d", len(out), n)
		}
	}
	return out
}

func TestReplayer_ReplaysEveryRecordInOrder(t *testing.T) {
	q := newMemQueue("a", "b", "c")
	out := make(chan domain.Datum, 8)
	triggers := make(chan uint64, 1)
	r := NewReplayer(q, out, triggers, time.Millisecond, &mockLogger{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	triggers <- 7
	got := collect(t, out, 3)

	for i, want := range []string{"a", "b", "c"} {
		assert.Equal(t, want, got[i].Payload)
		assert.Equal(t, domain.RecordID(i+1), got[i].Origin)
		assert.Equal(t, uint64(7), got[i].Pass)
		assert.True(t, got[i].IsReplay())
	}
}

func TestReplayer_PacesRecords(t *testing.T) {
	q := newMemQueue("a", "b", "c")
	out := make(chan domain.Datum, 8)
	triggers := make(chan uint64, 1)
	r := NewReplayer(q, out, triggers, 30*time.Millisecond, &mockLogger{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	start := time.Now()
	triggers <- 1
	collect(t, out, 3)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestReplayer_ListFailureAbortsPass(t *testing.T) {
	q := newMemQueue("a")
	q.failList = true
	out := make(chan domain.Datum, 8)
	triggers := make(chan uint64, 1)
	em := newRecordingEmitter()
	r := NewReplayer(q, out, triggers, 0, &mockLogger{}, em)

	next, restart := r.replay(context.Background(), 1)
	assert.False(t, restart)
	assert.Zero(t, next)
	assert.Empty(t, out)
	assert.Equal(t, 1, em.storeErr[OpList])
}

func TestReplayer_NewerTriggerRestartsPass(t *testing.T) {
	q := newMemQueue("a", "b", "c")
	out := make(chan domain.Datum) // unbuffered: replay blocks on the first send
	triggers := make(chan uint64, 1)
	r := NewReplayer(q, out, triggers, 0, &mockLogger{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := make(chan uint64, 1)
	go func() {
		next, restart := r.replay(ctx, 1)
		assert.True(t, restart)
		result <- next
	}()

	time.Sleep(20 * time.Millisecond)
	triggers <- 2

	select {
	case next := <-result:
		assert.Equal(t, uint64(2), next)
	case <-time.After(time.Second):
		t.Fatal("replay pass was not superseded")
	}
}

func TestReplayer_EmptyQueue(t *testing.T) {
	out := make(chan domain.Datum, 1)
	r := NewReplayer(newMemQueue(), out, make(chan uint64), 0, &mockLogger{}, nil)

	_, restart := r.replay(context.Background(), 1)
	assert.False(t, restart)
	assert.Empty(t, out)
}
