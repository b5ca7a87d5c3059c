package service

import (
	"context"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
)

// BatchIndexer is the batched face of an immediate indexer. MakeSearchable
// and RemoveFromSearch enqueue; IndexRecords and DeindexRecords bypass the
// queue and hit the wrapped indexer directly.
type BatchIndexer struct {
	ports.ImmediateIndexable
	service *BatchService
}

var _ ports.BatchIndexable = (*BatchIndexer)(nil)

func NewBatchIndexer(svc *BatchService, immediate ports.ImmediateIndexable) *BatchIndexer {
	return &BatchIndexer{
		ImmediateIndexable: immediate,
		service:            svc,
	}
}

func (i *BatchIndexer) MakeSearchable(ctx context.Context, entityType string, records []batch.Record) error {
	return i.service.Enqueue(ctx, entityType, batch.MakeSearchable, records)
}

func (i *BatchIndexer) RemoveFromSearch(ctx context.Context, entityType string, records []batch.Record) error {
	return i.service.Enqueue(ctx, entityType, batch.RemoveFromSearch, records)
}

// MakeSearchableImmediately indexes records without batching.
func (i *BatchIndexer) MakeSearchableImmediately(ctx context.Context, entityType string, records []batch.Record) error {
	if len(records) == 0 {
		return nil
	}
	return i.ImmediateIndexable.IndexRecords(ctx, entityType, records)
}

// RemoveFromSearchImmediately removes records from the index without batching.
func (i *BatchIndexer) RemoveFromSearchImmediately(ctx context.Context, entityType string, records []batch.Record) error {
	if len(records) == 0 {
		return nil
	}
	ids := make([]string, len(records))
	for n, rec := range records {
		ids[n] = rec.SearchableKey()
	}
	return i.ImmediateIndexable.DeindexRecords(ctx, entityType, ids)
}

func (i *BatchIndexer) CheckAndFlushAll(ctx context.Context, entityType string) ([]batch.FlushResult, error) {
	return i.service.CheckAndFlushAll(ctx, entityType)
}
