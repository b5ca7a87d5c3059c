package ports

import (
	"context"

	"github.com/scoutbatch-go/internal/domain/batch"
)

// Enqueuer accepts records headed for the index or out of it.
type Enqueuer interface {
	Enqueue(ctx context.Context, entityType string, dir batch.Direction, records []batch.Record) error
}

// IDEnqueuer accepts bare identifiers.
type IDEnqueuer interface {
	EnqueueIDs(ctx context.Context, entityType string, dir batch.Direction, ids []string) error
}
