package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutbatch-go/internal/batch/app/store"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/metrics"
	"github.com/scoutbatch-go/pkg/telemetry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/scoutbatch-go/internal/batch/app/service")

// EvaluateAndFlush flushes the (entityType, dir) batch when it has reached
// MaxBatchSize items or has been idle for DebounceInterval. Calling it
// without a pending batch is a no-op, bound or not. A pending batch for an
// unbound entity type is left in place and reported as
// ErrMisconfiguredEntity.
//
// The batch is removed from the store before delivery. A failed delivery is
// reported to the caller and the batch is not restored.
func (s *BatchService) EvaluateAndFlush(ctx context.Context, entityType string, dir batch.Direction) (batch.FlushResult, error) {
	key := batch.Key{EntityType: entityType, Direction: dir}
	result := batch.FlushResult{Key: key}

	if !dir.Valid() {
		return result, fmt.Errorf("invalid direction %q", dir)
	}

	binding, err := s.catalog.Lookup(entityType)
	if err != nil {
		pending, getErr := s.store.Get(ctx, key)
		if getErr != nil {
			return result, fmt.Errorf("evaluate %s: %w", key, getErr)
		}
		if pending.IsEmpty() {
			return result, nil
		}
		result.Pending = pending.Len()
		return result, err
	}

	now := s.now()
	var taken *batch.PendingBatch

	err = s.store.Update(ctx, func(ctx context.Context, tx *store.Tx) error {
		taken = nil
		result.Reason = batch.FlushReasonNone
		result.Pending = 0

		b, err := tx.Get(ctx, key)
		if err != nil {
			return err
		}
		if b.IsEmpty() {
			return nil
		}
		result.Pending = b.Len()

		reason := s.flushReason(b, now)
		if reason == batch.FlushReasonNone {
			return nil
		}

		if err := tx.Delete(ctx, key); err != nil {
			return err
		}
		if _, err := tx.MarkInactiveIfEmpty(ctx, entityType); err != nil {
			return err
		}

		taken = b
		result.Reason = reason
		return nil
	}, key, key.Opposite())
	if err != nil {
		return result, fmt.Errorf("evaluate %s: %w", key, err)
	}
	if taken == nil {
		return result, nil
	}

	result.Flushed = true
	result.Pending = 0
	metrics.Flushes.WithLabelValues(string(dir), string(result.Reason)).Inc()

	deliverCtx, span := tracer.Start(ctx, "batch.deliver", trace.WithAttributes(
		telemetry.EntityTypeAttribute(entityType),
		telemetry.DirectionAttribute(string(dir)),
		telemetry.BatchSizeAttribute(taken.Len()),
	))
	err = s.deliver(deliverCtx, binding, taken, &result)
	telemetry.End(span, err)
	if s.observer != nil {
		s.observer.FlushCompleted(result, err)
	}
	if err != nil {
		s.logger.Error("Failed to flush pending batch",
			"entityType", entityType,
			"direction", dir,
			"items", taken.Len(),
			"error", err,
		)
		return result, err
	}

	s.logger.Info("Flushed pending batch",
		"entityType", entityType,
		"direction", dir,
		"reason", result.Reason,
		"delivered", result.Delivered,
		"dropped", len(result.Dropped),
	)
	return result, nil
}

// CheckAndFlushAll evaluates both directions of entityType. An unbound
// entity type fails with ErrMisconfiguredEntity before anything is touched;
// after that a failure in one direction does not skip the other.
func (s *BatchService) CheckAndFlushAll(ctx context.Context, entityType string) ([]batch.FlushResult, error) {
	if _, err := s.catalog.Lookup(entityType); err != nil {
		return nil, err
	}

	results := make([]batch.FlushResult, 0, len(batch.Directions))
	var errs []error
	for _, dir := range batch.Directions {
		result, err := s.EvaluateAndFlush(ctx, entityType, dir)
		if err != nil {
			errs = append(errs, err)
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (s *BatchService) flushReason(b *batch.PendingBatch, now time.Time) batch.FlushReason {
	if b.Len() >= s.config.MaxBatchSize {
		return batch.FlushReasonSize
	}
	if b.Age(now) >= s.config.DebounceInterval {
		return batch.FlushReasonTime
	}
	return batch.FlushReasonNone
}

func (s *BatchService) deliver(ctx context.Context, binding Binding, b *batch.PendingBatch, result *batch.FlushResult) error {
	dir := b.Direction

	if dir == batch.RemoveFromSearch {
		ids := b.IDs()
		if err := binding.Indexer.DeindexRecords(ctx, b.EntityType, ids); err != nil {
			metrics.FlushFailures.WithLabelValues(string(dir), "deliver").Inc()
			return fmt.Errorf("deindex %d %s records: %w", len(ids), b.EntityType, err)
		}
		result.Delivered = len(ids)
		metrics.FlushBatchSize.WithLabelValues(string(dir)).Observe(float64(len(ids)))
		return nil
	}

	records, dropped, err := s.materialize(ctx, binding, b)
	if err != nil {
		metrics.FlushFailures.WithLabelValues(string(dir), "materialize").Inc()
		return err
	}
	result.Dropped = dropped

	if len(records) == 0 {
		return nil
	}
	if err := binding.Indexer.IndexRecords(ctx, b.EntityType, records); err != nil {
		metrics.FlushFailures.WithLabelValues(string(dir), "deliver").Inc()
		return fmt.Errorf("index %d %s records: %w", len(records), b.EntityType, err)
	}
	result.Delivered = len(records)
	metrics.FlushBatchSize.WithLabelValues(string(dir)).Observe(float64(len(records)))
	return nil
}

// materialize resolves a MakeSearchable batch into records, in batch order.
// Identifiers that no longer resolve are returned as dropped.
func (s *BatchService) materialize(ctx context.Context, binding Binding, b *batch.PendingBatch) ([]batch.Record, []string, error) {
	resolved := make(map[string]batch.Record, b.Len())
	var lookup []string

	for _, item := range b.Items {
		if item.IsSnapshot() && binding.Decode != nil {
			rec, err := binding.Decode(item.Record)
			if err == nil {
				resolved[item.ID] = rec
				continue
			}
			s.logger.Warn("Undecodable snapshot, resolving from source",
				"entityType", b.EntityType,
				"id", item.ID,
				"error", err,
			)
		}
		lookup = append(lookup, item.ID)
	}

	if len(lookup) > 0 {
		if binding.Source == nil {
			return nil, nil, fmt.Errorf("%w: %s has no record source", batch.ErrUnresolvable, b.EntityType)
		}
		found, err := binding.Source.FindByIdentifiers(ctx, b.EntityType, lookup, binding.SoftDeletes)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: materialize %d %s records: %w", batch.ErrUnresolvable, len(lookup), b.EntityType, err)
		}
		for _, rec := range found {
			if rec != nil {
				resolved[rec.SearchableKey()] = rec
			}
		}
	}

	records := make([]batch.Record, 0, len(resolved))
	var dropped []string
	for _, item := range b.Items {
		rec, ok := resolved[item.ID]
		if !ok {
			dropped = append(dropped, item.ID)
			continue
		}
		records = append(records, rec)
	}

	if len(dropped) > 0 {
		metrics.StaleReferences.WithLabelValues(b.EntityType).Add(float64(len(dropped)))
		s.logger.Warn("Dropping pending records that no longer exist",
			"entityType", b.EntityType,
			"ids", dropped,
			"error", batch.ErrStaleReference,
		)
	}
	return records, dropped, nil
}
