package app

import (
	"context"
	"time"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// Formatter renders a sensor reading into the published payload.
type Formatter interface {
	Format(reading string) (string, error)
}

// Ingest reads the sensor, formats each reading and hands it to the data
// manager without ever blocking on it.
type Ingest struct {
	source  ports.MessageSource
	reopen  ports.SourceOpener
	format  Formatter
	out     chan<- domain.Datum
	backoff *backoff
	logger  ports.Logger
	emitter PipelineEmitter
}

// NewIngest creates the reader loop. source is already open; reopen is used
// after it fails.
func NewIngest(
	source ports.MessageSource,
	reopen ports.SourceOpener,
	format Formatter,
	out chan<- domain.Datum,
	logger ports.Logger,
	emitter PipelineEmitter,
) *Ingest {
	if emitter == nil {
		emitter = NopPipelineEmitter{}
	}
	return &Ingest{
		source:  source,
		reopen:  reopen,
		format:  format,
		out:     out,
		backoff: newBackoff(DefaultBackoffInitial, DefaultBackoffMax),
		logger:  logger,
		emitter: emitter,
	}
}

// WithBackoff overrides the reopen backoff bounds.
func (i *Ingest) WithBackoff(initial, max time.Duration) *Ingest {
	i.backoff = newBackoff(initial, max)
	return i
}

// Run reads until ctx is done.
func (i *Ingest) Run(ctx context.Context) error {
	defer func() {
		if i.source != nil {
			i.source.Close()
		}
	}()

	for {
		reading, err := i.source.Next(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			i.logger.Warn("sensor source failed, reopening", ports.Err(err))
			i.source.Close()
			if i.source = i.reopenSource(ctx); i.source == nil {
				return nil
			}
			continue
		}
		i.accept(reading)
	}
}

func (i *Ingest) reopenSource(ctx context.Context) ports.MessageSource {
	for {
		if err := i.backoff.Wait(ctx); err != nil {
			return nil
		}
		src, err := i.reopen(ctx)
		if err == nil {
			i.backoff.Reset()
			i.logger.Info("sensor source reopened")
			return src
		}
		i.logger.Warn("reopen sensor source failed",
			ports.Duration("retry_in", i.backoff.Current()),
			ports.Err(err))
	}
}

func (i *Ingest) accept(reading string) {
	msg, err := i.format.Format(reading)
	if err != nil {
		i.logger.Warn("dropping reading that does not fit the template",
			ports.String("reading", reading),
			ports.Err(err))
		i.emitter.OnMessageDropped(ReasonFormat)
		return
	}

	select {
	case i.out <- domain.NewMessage(msg):
	default:
		i.logger.Error("data manager input full, dropping message")
		i.emitter.OnMessageDropped(ReasonQueueFull)
	}
}
