package service

import (
	"context"
	"fmt"

	"github.com/scoutbatch-go/internal/batch/app/store"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/metrics"
)

// Enqueue adds the records' identifiers to the pending batch for
// (entityType, dir). Records are re-read from the source at flush time.
func (s *BatchService) Enqueue(ctx context.Context, entityType string, dir batch.Direction, records []batch.Record) error {
	items := make([]batch.PendingItem, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		items = append(items, batch.Identifier(rec.SearchableKey()))
	}
	return s.EnqueueItems(ctx, entityType, dir, items)
}

// EnqueueIDs is Enqueue for callers that only hold identifiers.
func (s *BatchService) EnqueueIDs(ctx context.Context, entityType string, dir batch.Direction, ids []string) error {
	items := make([]batch.PendingItem, len(ids))
	for i, id := range ids {
		items[i] = batch.Identifier(id)
	}
	return s.EnqueueItems(ctx, entityType, dir, items)
}

// EnqueueSnapshots stores full copies of the records so the flush delivers
// exactly this state.
func (s *BatchService) EnqueueSnapshots(ctx context.Context, entityType string, dir batch.Direction, records []batch.Record) error {
	items := make([]batch.PendingItem, 0, len(records))
	for _, rec := range records {
		if rec == nil {
			continue
		}
		item, err := batch.Snapshot(rec)
		if err != nil {
			return err
		}
		items = append(items, item)
	}
	return s.EnqueueItems(ctx, entityType, dir, items)
}

// EnqueueItems merges items into the (entityType, dir) batch, takes the same
// IDs out of the opposite batch, registers the entity type and then
// evaluates the batch for a flush. An empty input changes nothing.
func (s *BatchService) EnqueueItems(ctx context.Context, entityType string, dir batch.Direction, items []batch.PendingItem) error {
	if !dir.Valid() {
		return fmt.Errorf("invalid direction %q", dir)
	}

	ids := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item.ID != "" {
			ids[item.ID] = struct{}{}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	key := batch.Key{EntityType: entityType, Direction: dir}
	now := s.now()

	var pending, removedOpposite int
	err := s.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		current, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if current == nil {
			current = batch.NewPendingBatch(key, now)
		}
		current.Merge(items, now)

		opposite, err := tx.Get(ctx, key.Opposite())
		if err != nil {
			return err
		}
		removedOpposite = opposite.Remove(ids)

		if err := tx.Put(ctx, current); err != nil {
			return err
		}
		if removedOpposite > 0 {
			if err := tx.Put(ctx, opposite); err != nil {
				return err
			}
		}

		if !current.IsEmpty() || !opposite.IsEmpty() {
			if err := tx.MarkActive(ctx, entityType); err != nil {
				return err
			}
		}
		pending = current.Len()
		return nil
	}, key, key.Opposite())
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", key, err)
	}

	metrics.EnqueuedItems.WithLabelValues(entityType, string(dir)).Add(float64(len(ids)))
	s.logger.Debug("Enqueued records",
		"entityType", entityType,
		"direction", dir,
		"count", len(ids),
		"pending", pending,
		"removedFromOpposite", removedOpposite,
	)

	if !s.catalog.Has(entityType) {
		s.logger.Warn("Records queued for entity type without a batching binding",
			"entityType", entityType,
			"direction", dir,
		)
		return nil
	}

	_, err = s.EvaluateAndFlush(ctx, entityType, dir)
	return err
}
