package ports

import (
	"context"

	"github.com/bft-labs/sensorship/internal/domain"
)

// Queue is the durable buffer for messages that could not be delivered.
// Records are returned in insertion order.
type Queue interface {
	Insert(ctx context.Context, payload string) (domain.RecordID, error)
	List(ctx context.Context) ([]domain.Record, error)
	// Delete removes a record. It reports false when no record had that id.
	Delete(ctx context.Context, id domain.RecordID) (bool, error)
	Close() error
}
