package gateway

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/sensorship/internal/adapters/sqlite"
	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// fakeBroker publishes only while its session is up.
type fakeBroker struct {
	mu         sync.Mutex
	up         bool
	published  []string
	events     chan domain.Connectivity
	closeOnce  sync.Once
	connectErr error
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{events: make(chan domain.Connectivity, 8)}
}

func (b *fakeBroker) Publish(_ context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.up {
		return errors.New("session down")
	}
	b.published = append(b.published, string(payload))
	return nil
}

func (b *fakeBroker) setUp(up bool) {
	b.mu.Lock()
	b.up = up
	b.mu.Unlock()
	if up {
		b.events <- domain.Connected
	} else {
		b.events <- domain.Disconnected
	}
}

func (b *fakeBroker) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func (b *fakeBroker) Events() <-chan domain.Connectivity { return b.events }
func (b *fakeBroker) Connect(context.Context) error      { return b.connectErr }

func (b *fakeBroker) Close() error {
	b.closeOnce.Do(func() { close(b.events) })
	return nil
}

type chanSource struct {
	readings chan string
}

func (s *chanSource) Next(ctx context.Context) (string, error) {
	select {
	case r := <-s.readings:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanSource) Close() error { return nil }

type recordingHandler struct {
	NopEventHandler
	mu      sync.Mutex
	states  []State
	publish []PublishEvent
	links   []bool
}

func (h *recordingHandler) OnStateChange(e StateChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = append(h.states, e.Current)
}

func (h *recordingHandler) OnPublish(e PublishEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.publish = append(h.publish, e)
}

func (h *recordingHandler) OnConnectivity(e ConnectivityEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.links = append(h.links, e.Connected)
}

func (h *recordingHandler) Snapshot() ([]State, []PublishEvent, []bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...),
		append([]PublishEvent(nil), h.publish...),
		append([]bool(nil), h.links...)
}

type trackingPlugin struct {
	name     string
	order    *[]string
	mu       *sync.Mutex
	initErr  error
	received PluginConfig
}

func (p *trackingPlugin) Name() string { return p.name }

func (p *trackingPlugin) Initialize(_ context.Context, cfg PluginConfig) error {
	if p.initErr != nil {
		return p.initErr
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = cfg
	*p.order = append(*p.order, "init:"+p.name)
	return nil
}

func (p *trackingPlugin) Shutdown(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.order = append(*p.order, "shutdown:"+p.name)
	return nil
}

type harness struct {
	gw      *Gateway
	broker  *fakeBroker
	source  *chanSource
	queue   *sqlite.Queue
	handler *recordingHandler
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	dir := t.TempDir()

	queue, err := sqlite.Open(filepath.Join(dir, "queue.db"))
	require.NoError(t, err)

	h := &harness{
		broker:  newFakeBroker(),
		source:  &chanSource{readings: make(chan string, 8)},
		queue:   queue,
		handler: &recordingHandler{},
	}

	cfg := validConfig()
	cfg.DatabaseDir = dir
	cfg.ReplayDelay = time.Millisecond
	cfg.PublishTimeout = time.Second

	opts = append([]Option{
		withBroker(h.broker),
		withQueue(queue),
		withSourceOpener(func(context.Context) (ports.MessageSource, error) { return h.source, nil }),
		WithEventHandler(h.handler),
	}, opts...)

	h.gw, err = New(cfg, opts...)
	require.NoError(t, err)
	return h
}

// pending returns the number of queued records, or -1 if counting fails.
func (h *harness) pending() int {
	n, err := h.queue.Count(context.Background())
	if err != nil {
		return -1
	}
	return n
}

// connect brings the broker up and waits until the pipeline has seen it.
func (h *harness) connect(t *testing.T) {
	t.Helper()
	h.broker.setUp(true)
	require.Eventually(t, func() bool {
		_, _, links := h.handler.Snapshot()
		return len(links) > 0 && links[len(links)-1]
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, domain.ErrInvalidConfig)
}

func TestGateway_PublishesFormattedReading(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gw.Start(context.Background()))
	assert.Equal(t, StateRunning, h.gw.Status())

	h.connect(t)
	h.source.readings <- `{"t": 21}`

	assert.Eventually(t, func() bool {
		return len(h.broker.Published()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"temp": 21}`}, h.broker.Published())

	require.NoError(t, h.gw.Stop())
	assert.Equal(t, StateStopped, h.gw.Status())

	states, publishes, links := h.handler.Snapshot()
	assert.Equal(t, []State{StateStarting, StateRunning, StateStopping, StateStopped}, states)
	require.NotEmpty(t, publishes)
	assert.NoError(t, publishes[0].Err)
	assert.False(t, publishes[0].Replayed)
	assert.Equal(t, []bool{true}, links)
}

func TestGateway_BuffersOfflineAndReplays(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gw.Start(context.Background()))
	defer h.gw.Stop()

	h.source.readings <- `{"t": 1}`
	h.source.readings <- `{"t": 2}`

	assert.Eventually(t, func() bool { return h.pending() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, h.broker.Published())

	h.connect(t)

	assert.Eventually(t, func() bool {
		return len(h.broker.Published()) == 2 && h.pending() == 0
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"temp": 1}`, `{"temp": 2}`}, h.broker.Published())

	_, publishes, _ := h.handler.Snapshot()
	for _, p := range publishes {
		assert.True(t, p.Replayed)
	}
}

func TestGateway_DropsReadingThatDoesNotFitTemplate(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gw.Start(context.Background()))
	defer h.gw.Stop()

	h.connect(t)
	h.source.readings <- `not json`
	h.source.readings <- `{"t": 3}`

	assert.Eventually(t, func() bool {
		return len(h.broker.Published()) == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{`{"temp": 3}`}, h.broker.Published())
	assert.Zero(t, h.pending())
}

func TestGateway_StartStopErrors(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.gw.Stop(), domain.ErrNotRunning)

	require.NoError(t, h.gw.Start(context.Background()))
	assert.ErrorIs(t, h.gw.Start(context.Background()), domain.ErrAlreadyRunning)
	require.NoError(t, h.gw.Stop())
}

func TestGateway_SourceOpenFailure(t *testing.T) {
	h := newHarness(t, withSourceOpener(func(context.Context) (ports.MessageSource, error) {
		return nil, errors.New("no such device")
	}))

	err := h.gw.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such device")
	assert.Equal(t, StateCrashed, h.gw.Status())
}

func TestGateway_CrashReleasesPlugins(t *testing.T) {
	var order []string
	var mu sync.Mutex
	p := &trackingPlugin{name: "p", order: &order, mu: &mu}

	h := newHarness(t, WithPlugin(p))
	h.broker.connectErr = errors.New("bad credentials")

	require.NoError(t, h.gw.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return h.gw.Status() == StateCrashed
	}, 2*time.Second, 5*time.Millisecond)
	assert.ErrorContains(t, h.gw.Err(), "bad credentials")

	assert.ErrorIs(t, h.gw.Stop(), ErrNotRunning)
	mu.Lock()
	assert.Equal(t, []string{"init:p", "shutdown:p"}, order)
	mu.Unlock()

	// A second Stop has nothing left to release.
	assert.ErrorIs(t, h.gw.Stop(), ErrNotRunning)
	mu.Lock()
	assert.Len(t, order, 2)
	mu.Unlock()
}

func TestGateway_PluginOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	first := &trackingPlugin{name: "first", order: &order, mu: &mu}
	second := &trackingPlugin{name: "second", order: &order, mu: &mu}

	h := newHarness(t, WithPlugin(first), WithPlugin(second), WithConfigPath("/etc/sensorship.toml"))
	require.NoError(t, h.gw.Start(context.Background()))
	require.NoError(t, h.gw.Stop())

	assert.Equal(t, []string{"init:first", "init:second", "shutdown:second", "shutdown:first"}, order)
	assert.Equal(t, "/etc/sensorship.toml", first.received.ConfigPath)
	assert.NotNil(t, first.received.Gatherer)
	assert.NotNil(t, first.received.Logger)
	assert.Equal(t, StateStopped, first.received.Status())
}

func TestGateway_PluginInitFailure(t *testing.T) {
	var order []string
	var mu sync.Mutex
	ok := &trackingPlugin{name: "ok", order: &order, mu: &mu}
	bad := &trackingPlugin{name: "bad", order: &order, mu: &mu, initErr: errors.New("boom")}

	h := newHarness(t, WithPlugin(ok), WithPlugin(bad))
	err := h.gw.Start(context.Background())
	require.Error(t, err)

	assert.Equal(t, StateCrashed, h.gw.Status())
	assert.ErrorContains(t, h.gw.Err(), "plugin bad: boom")
	assert.Equal(t, []string{"init:ok", "shutdown:ok"}, order)
}

func TestGateway_MetricsGathered(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.gw.Start(context.Background()))
	h.connect(t)
	h.source.readings <- `{"t": 4}`
	assert.Eventually(t, func() bool { return len(h.broker.Published()) == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.gw.Stop())

	families, err := h.gw.Gatherer().Gather()
	require.NoError(t, err)

	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["sensorship_broker_publishes_total"])
	assert.True(t, names["sensorship_lifecycle_state"])
}
