package app

import (
	"context"
	"time"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// storeTimeout bounds store requests made by the manager. They run on a
// context detached from shutdown so undelivered data is still persisted.
const storeTimeout = 10 * time.Second

// DataManager decides, one datum at a time, whether to publish or buffer.
type DataManager struct {
	input   chan domain.Datum
	path    *PublishPath
	store   RecordStore
	topic   string
	logger  ports.Logger
	emitter PipelineEmitter

	// owned by the Run goroutine
	link domain.Connectivity
	pass uint64

	replay chan uint64
}

// NewDataManager creates a manager reading from a buffered input of the given capacity.
func NewDataManager(
	topic string,
	capacity int,
	path *PublishPath,
	store RecordStore,
	logger ports.Logger,
	emitter PipelineEmitter,
) *DataManager {
	if capacity <= 0 {
		capacity = 1
	}
	if emitter == nil {
		emitter = NopPipelineEmitter{}
	}
	return &DataManager{
		input:   make(chan domain.Datum, capacity),
		path:    path,
		store:   store,
		topic:   topic,
		logger:  logger,
		emitter: emitter,
		link:    domain.Disconnected,
		replay:  make(chan uint64, 1),
	}
}

// Input is where producers send datums.
func (m *DataManager) Input() chan<- domain.Datum { return m.input }

// ReplayTriggers delivers the pass number of every Connected transition.
// Only the newest trigger is kept if the replayer falls behind.
func (m *DataManager) ReplayTriggers() <-chan uint64 { return m.replay }

// Run consumes datums until ctx is done, then persists whatever live data
// is still queued.
func (m *DataManager) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			m.drain(ctx)
			return nil
		case d := <-m.input:
			m.handle(ctx, d)
		}
	}
}

// WatchConnectivity forwards broker session events into the manager. The
// publish path is gated here, ahead of the queue, so a publish in progress
// is released as soon as the session drops.
func (m *DataManager) WatchConnectivity(ctx context.Context, events <-chan domain.Connectivity) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case link, ok := <-events:
			if !ok {
				return nil
			}
			if link == domain.Connected {
				m.path.LinkUp()
			} else {
				m.path.LinkDown()
			}
			select {
			case m.input <- domain.NewNotice(link):
			case <-ctx.Done():
				return nil
			}
		}
	}
}

func (m *DataManager) handle(ctx context.Context, d domain.Datum) {
	switch d.Kind {
	case domain.KindConnectivity:
		m.onConnectivity(d.Link)
	case domain.KindMessage:
		m.onMessage(ctx, d)
	}
}

func (m *DataManager) onConnectivity(link domain.Connectivity) {
	if link == m.link {
		return
	}
	m.link = link
	m.emitter.OnConnectivity(link)
	m.logger.Info("broker connectivity changed", ports.String("state", link.String()))

	// The publish gate follows the broker in WatchConnectivity, not here.
	// A queued notice may already be stale.
	if link != domain.Connected {
		return
	}

	m.pass++
	select {
	case m.replay <- m.pass:
	default:
		// replace the trigger the replayer has not picked up yet
		select {
		case <-m.replay:
		default:
		}
		m.replay <- m.pass
	}
}

func (m *DataManager) onMessage(ctx context.Context, d domain.Datum) {
	replay := d.IsReplay()

	if m.link != domain.Connected {
		if replay {
			m.logger.Error("replayed record received while disconnected, dropping",
				ports.Int64("record_id", int64(d.Origin)))
			m.emitter.OnMessageDropped(ReasonOffline)
			return
		}
		m.buffer(ctx, d.Payload)
		return
	}

	if replay && d.Pass != m.pass {
		m.logger.Debug("skipping record from superseded replay pass",
			ports.Int64("record_id", int64(d.Origin)),
			ports.Uint64("pass", d.Pass),
			ports.Uint64("current_pass", m.pass))
		m.emitter.OnMessageDropped(ReasonStaleReplay)
		return
	}

	origin := OriginLive
	if replay {
		origin = OriginReplay
	}

	err := m.path.Publish(ctx, m.topic, []byte(d.Payload))
	m.emitter.OnPublish(origin, err)
	if err != nil {
		m.logger.Warn("publish failed",
			ports.String("origin", origin),
			ports.Int64("record_id", int64(d.Origin)),
			ports.Err(err))
		if !replay {
			m.buffer(ctx, d.Payload)
		}
		return
	}

	if replay {
		m.emitter.OnReplayed()
		m.remove(ctx, d.Origin)
	}
}

func (m *DataManager) buffer(ctx context.Context, payload string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	id, err := m.store.Insert(ctx, payload)
	if err != nil {
		m.logger.Error("failed to buffer message, data lost", ports.Err(err))
		m.emitter.OnStoreError(OpInsert)
		return
	}
	m.emitter.OnBuffered()
	m.logger.Debug("message buffered", ports.Int64("record_id", int64(id)))
}

func (m *DataManager) remove(ctx context.Context, id domain.RecordID) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()

	deleted, err := m.store.Delete(ctx, id)
	if err != nil {
		m.logger.Warn("failed to delete delivered record, it will be replayed again",
			ports.Int64("record_id", int64(id)),
			ports.Err(err))
		m.emitter.OnStoreError(OpDelete)
		return
	}
	if !deleted {
		m.logger.Warn("delivered record was already gone", ports.Int64("record_id", int64(id)))
		return
	}
	m.emitter.OnRecordDeleted()
}

// drain persists live messages still queued at shutdown. Replayed records
// are already in the store and notices no longer matter.
func (m *DataManager) drain(ctx context.Context) {
	for {
		select {
		case d := <-m.input:
			if d.Kind == domain.KindMessage && !d.IsReplay() {
				m.buffer(ctx, d.Payload)
			}
		default:
			return
		}
	}
}
