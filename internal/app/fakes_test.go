package app

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

var errInjected = errors.New("injected failure")

// memQueue is an in-memory ports.Queue.
type memQueue struct {
	mu       sync.Mutex
	next     domain.RecordID
	records  []domain.Record
	deletes  map[domain.RecordID]int
	failList bool
	failDel  bool
	failIns  bool
	closed   bool
}

func newMemQueue(payloads ...string) *memQueue {
	q := &memQueue{deletes: map[domain.RecordID]int{}}
	for _, p := range payloads {
		q.Insert(context.Background(), p)
	}
	return q
}

func (q *memQueue) Insert(_ context.Context, payload string) (domain.RecordID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failIns {
		return 0, errInjected
	}
	q.next++
	q.records = append(q.records, domain.Record{ID: q.next, Payload: payload})
	return q.next, nil
}

func (q *memQueue) List(context.Context) ([]domain.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failList {
		return nil, errInjected
	}
	return append([]domain.Record(nil), q.records...), nil
}

func (q *memQueue) Delete(_ context.Context, id domain.RecordID) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failDel {
		return false, errInjected
	}
	q.deletes[id]++
	for i, r := range q.records {
		if r.ID == id {
			q.records = append(q.records[:i], q.records[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (q *memQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *memQueue) payloads() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []string
	for _, r := range q.records {
		out = append(out, r.Payload)
	}
	return out
}

func (q *memQueue) deleteCount(id domain.RecordID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.deletes[id]
}

// fakeBroker records publishes and lets tests drive connectivity.
type fakeBroker struct {
	mu        sync.Mutex
	published []string
	fail      error
	block     bool
	events    chan domain.Connectivity
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{events: make(chan domain.Connectivity, 8)}
}

func (b *fakeBroker) Publish(ctx context.Context, _ string, payload []byte) error {
	b.mu.Lock()
	fail, block := b.fail, b.block
	b.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail != nil {
		return fail
	}
	b.mu.Lock()
	b.published = append(b.published, string(payload))
	b.mu.Unlock()
	return nil
}

func (b *fakeBroker) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

func (b *fakeBroker) Published() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.published...)
}

func (b *fakeBroker) Events() <-chan domain.Connectivity { return b.events }
func (b *fakeBroker) Connect(context.Context) error      { return nil }
func (b *fakeBroker) Close() error                       { return nil }

// recordingEmitter counts pipeline events.
type recordingEmitter struct {
	NopPipelineEmitter
	mu       sync.Mutex
	decoded  int
	rejected map[string]int
	dropped  map[string]int
	buffered int
	deleted  int
	storeErr map[string]int
}

func newRecordingEmitter() *recordingEmitter {
	return &recordingEmitter{
		rejected: map[string]int{},
		dropped:  map[string]int{},
		storeErr: map[string]int{},
	}
}

func (e *recordingEmitter) OnFrameDecoded() {
	e.mu.Lock()
	e.decoded++
	e.mu.Unlock()
}

func (e *recordingEmitter) OnFrameRejected(reason string) {
	e.mu.Lock()
	e.rejected[reason]++
	e.mu.Unlock()
}

func (e *recordingEmitter) OnMessageDropped(reason string) {
	e.mu.Lock()
	e.dropped[reason]++
	e.mu.Unlock()
}

func (e *recordingEmitter) OnBuffered() {
	e.mu.Lock()
	e.buffered++
	e.mu.Unlock()
}

func (e *recordingEmitter) OnRecordDeleted() {
	e.mu.Lock()
	e.deleted++
	e.mu.Unlock()
}

func (e *recordingEmitter) OnStoreError(op string) {
	e.mu.Lock()
	e.storeErr[op]++
	e.mu.Unlock()
}

// chanSource is a MessageSource fed by a channel.
type chanSource struct {
	readings chan string
	err      error
	closed   chan struct{}
	once     sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{readings: make(chan string, 16), closed: make(chan struct{})}
}

func (s *chanSource) Next(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	select {
	case r := <-s.readings:
		return r, nil
	case <-s.closed:
		return "", io.EOF
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// passthrough formats readings unchanged.
type passthrough struct{}

func (passthrough) Format(reading string) (string, error) { return reading, nil }

var (
	_ ports.Queue         = (*memQueue)(nil)
	_ ports.Broker        = (*fakeBroker)(nil)
	_ ports.MessageSource = (*chanSource)(nil)
)
