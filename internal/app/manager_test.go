package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/sensorship/internal/domain"
)

type managerFixture struct {
	broker  *fakeBroker
	queue   *memQueue
	emitter *recordingEmitter
	path    *PublishPath
	m       *DataManager
}

func newManagerFixture(t *testing.T) *managerFixture {
	t.Helper()
	f := &managerFixture{
		broker:  newFakeBroker(),
		queue:   newMemQueue(),
		emitter: newRecordingEmitter(),
	}
	f.path = NewPublishPath(f.broker, 200*time.Millisecond)
	f.m = NewDataManager("sensors/data", 16, f.path, f.queue, &mockLogger{}, f.emitter)
	return f
}

func (f *managerFixture) connect(ctx context.Context) {
	f.path.LinkUp()
	f.m.handle(ctx, domain.NewNotice(domain.Connected))
}

func (f *managerFixture) disconnect(ctx context.Context) {
	f.path.LinkDown()
	f.m.handle(ctx, domain.NewNotice(domain.Disconnected))
}

func TestDataManager_BuffersLiveDataWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	f.m.handle(ctx, domain.NewMessage("a"))
	f.m.handle(ctx, domain.NewMessage("b"))

	assert.Empty(t, f.broker.Published())
	assert.Equal(t, []string{"a", "b"}, f.queue.payloads())
	assert.Equal(t, 2, f.emitter.buffered)
}

func TestDataManager_PublishesLiveDataWhenConnected(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.connect(ctx)

	f.m.handle(ctx, domain.NewMessage("live"))

	assert.Equal(t, []string{"live"}, f.broker.Published())
	assert.Empty(t, f.queue.payloads())
}

func TestDataManager_BuffersLiveDataWhenPublishFails(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.connect(ctx)
	f.broker.setFail(errInjected)

	f.m.handle(ctx, domain.NewMessage("live"))

	assert.Equal(t, []string{"live"}, f.queue.payloads())
}

func TestDataManager_ReplaySuccessDeletesOnce(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id, err := f.queue.Insert(ctx, "old")
	require.NoError(t, err)
	f.connect(ctx)

	f.m.handle(ctx, domain.NewReplay(domain.Record{ID: id, Payload: "old"}, f.m.pass))

	assert.Equal(t, []string{"old"}, f.broker.Published())
	assert.Empty(t, f.queue.payloads())
	assert.Equal(t, 1, f.queue.deleteCount(id))
	assert.Equal(t, 1, f.emitter.deleted)
}

func TestDataManager_ReplayFailureKeepsRecordWithoutDuplicate(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id, err := f.queue.Insert(ctx, "old")
	require.NoError(t, err)
	f.connect(ctx)
	f.broker.setFail(errInjected)

	f.m.handle(ctx, domain.NewReplay(domain.Record{ID: id, Payload: "old"}, f.m.pass))

	assert.Equal(t, []string{"old"}, f.queue.payloads(), "record must stay exactly once")
	assert.Equal(t, 0, f.queue.deleteCount(id))
	assert.Equal(t, 0, f.emitter.buffered)
}

func TestDataManager_ReplayWhileDisconnectedIsDropped(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id, err := f.queue.Insert(ctx, "old")
	require.NoError(t, err)

	f.m.handle(ctx, domain.NewReplay(domain.Record{ID: id, Payload: "old"}, 1))

	assert.Empty(t, f.broker.Published())
	assert.Equal(t, []string{"old"}, f.queue.payloads())
	assert.Equal(t, 1, f.emitter.dropped[ReasonOffline])
}

func TestDataManager_StaleReplayPassIsSkipped(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id, err := f.queue.Insert(ctx, "old")
	require.NoError(t, err)

	f.connect(ctx)
	stale := f.m.pass
	f.disconnect(ctx)
	f.connect(ctx)
	require.NotEqual(t, stale, f.m.pass)

	f.m.handle(ctx, domain.NewReplay(domain.Record{ID: id, Payload: "old"}, stale))

	assert.Empty(t, f.broker.Published())
	assert.Equal(t, 1, f.emitter.dropped[ReasonStaleReplay])
}

func TestDataManager_DeleteFailureLeavesRecord(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	id, err := f.queue.Insert(ctx, "old")
	require.NoError(t, err)
	f.connect(ctx)
	f.queue.failDel = true

	f.m.handle(ctx, domain.NewReplay(domain.Record{ID: id, Payload: "old"}, f.m.pass))

	assert.Equal(t, []string{"old"}, f.queue.payloads())
	assert.Equal(t, 1, f.emitter.storeErr[OpDelete])
}

func TestDataManager_InsertFailureIsReported(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)
	f.queue.failIns = true

	f.m.handle(ctx, domain.NewMessage("lost"))

	assert.Equal(t, 1, f.emitter.storeErr[OpInsert])
}

func TestDataManager_OneTriggerPerConnectedTransition(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	f.connect(ctx)
	f.connect(ctx) // no transition

	select {
	case pass := <-f.m.ReplayTriggers():
		assert.Equal(t, uint64(1), pass)
	default:
		t.Fatal("expected a replay trigger")
	}
	select {
	case pass := <-f.m.ReplayTriggers():
		t.Fatalf("unexpected second trigger for pass %d", pass)
	default:
	}
}

func TestDataManager_NewestTriggerWins(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t)

	f.connect(ctx)
	f.disconnect(ctx)
	f.connect(ctx)

	select {
	case pass := <-f.m.ReplayTriggers():
		assert.Equal(t, uint64(2), pass)
	default:
		t.Fatal("expected a replay trigger")
	}
}

func TestDataManager_DisconnectReleasesInFlightPublish(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := newManagerFixture(t)
	f.path = NewPublishPath(f.broker, time.Minute)
	f.m = NewDataManager("sensors/data", 16, f.path, f.queue, &mockLogger{}, f.emitter)
	f.broker.block = true

	events := make(chan domain.Connectivity, 2)
	go f.m.WatchConnectivity(ctx, events)
	go f.m.Run(ctx)

	events <- domain.Connected
	select {
	case <-f.m.ReplayTriggers():
	case <-time.After(time.Second):
		t.Fatal("manager did not observe the connection")
	}

	f.m.Input() <- domain.NewMessage("stuck")
	time.Sleep(20 * time.Millisecond)
	events <- domain.Disconnected

	require.Eventually(t, func() bool {
		return len(f.queue.payloads()) == 1
	}, 2*time.Second, 10*time.Millisecond, "publish should fail fast and buffer the message")
}

func TestDataManager_QueuedFlapLeavesGateOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newManagerFixture(t)

	events := make(chan domain.Connectivity, 3)
	events <- domain.Connected
	events <- domain.Disconnected
	events <- domain.Connected
	go f.m.WatchConnectivity(ctx, events)

	// All three notices are queued before the manager sees any of them.
	require.Eventually(t, func() bool { return len(f.m.input) == 3 },
		time.Second, 5*time.Millisecond)

	go f.m.Run(ctx)
	f.m.Input() <- domain.NewMessage("after-reconnect")

	require.Eventually(t, func() bool { return len(f.broker.Published()) == 1 },
		2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"after-reconnect"}, f.broker.Published())
	assert.Empty(t, f.queue.payloads())
}

func TestDataManager_DrainPersistsQueuedLiveData(t *testing.T) {
	f := newManagerFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	f.m.Input() <- domain.NewMessage("pending")
	f.m.Input() <- domain.NewReplay(domain.Record{ID: 9, Payload: "replayed"}, 1)
	cancel()
	f.m.drain(ctx)

	assert.Equal(t, []string{"pending"}, f.queue.payloads())
}
