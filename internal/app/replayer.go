package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// DefaultReplayDelay paces replayed records so live data keeps flowing.
const DefaultReplayDelay = 100 * time.Millisecond

// Replayer feeds buffered records back to the data manager after each
// reconnection.
type Replayer struct {
	store    RecordStore
	out      chan<- domain.Datum
	triggers <-chan uint64
	delay    time.Duration
	logger   ports.Logger
	emitter  PipelineEmitter
}

// NewReplayer creates a replayer. A zero delay replays without pacing.
func NewReplayer(
	store RecordStore,
	out chan<- domain.Datum,
	triggers <-chan uint64,
	delay time.Duration,
	logger ports.Logger,
	emitter PipelineEmitter,
) *Replayer {
	if emitter == nil {
		emitter = NopPipelineEmitter{}
	}
	return &Replayer{
		store:    store,
		out:      out,
		triggers: triggers,
		delay:    delay,
		logger:   logger,
		emitter:  emitter,
	}
}

// Run waits for triggers and replays one pass per trigger until ctx is done.
func (r *Replayer) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case pass := <-r.triggers:
			for {
				next, restart := r.replay(ctx, pass)
				if !restart {
					break
				}
				pass = next
			}
		}
	}
}

// replay walks a snapshot of the queue. It stops early and returns the
// newer pass when another trigger arrives.
func (r *Replayer) replay(ctx context.Context, pass uint64) (uint64, bool) {
	records, err := r.store.List(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.logger.Error("replay aborted: cannot read buffered records",
				ports.Uint64("pass", pass),
				ports.Err(err))
			r.emitter.OnStoreError(OpList)
		}
		return 0, false
	}

	r.emitter.OnReplayPass(len(records))
	if len(records) == 0 {
		return 0, false
	}
	r.logger.Info("replaying buffered records",
		ports.Uint64("pass", pass),
		ports.Int("records", len(records)))

	limit := rate.Inf
	if r.delay > 0 {
		limit = rate.Every(r.delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for i, rec := range records {
		if err := limiter.Wait(ctx); err != nil {
			return 0, false
		}
		select {
		case next := <-r.triggers:
			r.logger.Info("replay superseded by reconnection",
				ports.Uint64("pass", pass),
				ports.Int("sent", i))
			return next, true
		case r.out <- domain.NewReplay(rec, pass):
		case <-ctx.Done():
			return 0, false
		}
	}

	r.logger.Info("replay pass complete", ports.Uint64("pass", pass))
	return 0, false
}
