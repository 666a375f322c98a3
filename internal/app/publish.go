package app

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bft-labs/sensorship/internal/domain"
	"github.com/bft-labs/sensorship/internal/ports"
)

// DefaultPublishTimeout bounds how long a single publish may block the pipeline.
const DefaultPublishTimeout = 5 * time.Second

// PublishPath wraps a Publisher with a timeout and a link gate. While the
// link is down every attempt, including one already waiting, fails with
// ErrBrokerUnreachable.
type PublishPath struct {
	publisher ports.Publisher
	timeout   time.Duration

	mu   sync.Mutex
	up   bool
	down chan struct{} // closed while the link is down
}

// NewPublishPath returns a path that starts with the link down.
func NewPublishPath(publisher ports.Publisher, timeout time.Duration) *PublishPath {
	if timeout <= 0 {
		timeout = DefaultPublishTimeout
	}
	down := make(chan struct{})
	close(down)
	return &PublishPath{
		publisher: publisher,
		timeout:   timeout,
		down:      down,
	}
}

// LinkUp opens the gate.
func (p *PublishPath) LinkUp() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.up {
		p.down = make(chan struct{})
		p.up = true
	}
}

// LinkDown closes the gate and releases any attempt in progress.
func (p *PublishPath) LinkDown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.up {
		close(p.down)
		p.up = false
	}
}

// Publish hands payload to the broker and waits for its verdict.
// A timeout counts as a failure.
func (p *PublishPath) Publish(ctx context.Context, topic string, payload []byte) error {
	p.mu.Lock()
	down := p.down
	p.mu.Unlock()

	select {
	case <-down:
		return domain.ErrBrokerUnreachable
	default:
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- p.publisher.Publish(ctx, topic, payload)
	}()

	select {
	case err := <-result:
		return err
	case <-down:
		return domain.ErrBrokerUnreachable
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return domain.ErrPublishTimeout
		}
		return ctx.Err()
	}
}
