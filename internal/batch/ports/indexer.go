package ports

import (
	"context"

	"github.com/scoutbatch-go/internal/domain/batch"
)

// ImmediateIndexable performs the unbatched index mutations a flush
// eventually delegates to.
type ImmediateIndexable interface {
	IndexRecords(ctx context.Context, entityType string, records []batch.Record) error
	DeindexRecords(ctx context.Context, entityType string, ids []string) error
}

// BatchIndexable wraps an ImmediateIndexable: the batched calls enqueue and
// only reach the immediate indexer once a pending batch is flushed.
type BatchIndexable interface {
	ImmediateIndexable

	MakeSearchable(ctx context.Context, entityType string, records []batch.Record) error
	RemoveFromSearch(ctx context.Context, entityType string, records []batch.Record) error
	CheckAndFlushAll(ctx context.Context, entityType string) ([]batch.FlushResult, error)
}
