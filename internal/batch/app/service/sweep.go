package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/metrics"
	"github.com/scoutbatch-go/pkg/telemetry"
)

// SweepReport summarizes one CheckAndFlushAllActive run.
type SweepReport struct {
	Visited       []string            `json:"visited"`
	Results       []batch.FlushResult `json:"results"`
	Misconfigured []string            `json:"misconfigured,omitempty"`
	Deregistered  []string            `json:"deregistered,omitempty"`
	Duration      time.Duration       `json:"duration"`
}

// Flushed counts the batches the sweep flushed.
func (r SweepReport) Flushed() int {
	n := 0
	for _, res := range r.Results {
		if res.Flushed {
			n++
		}
	}
	return n
}

// CheckAndFlushAllActive runs CheckAndFlushAll for every registered entity
// type. Types without a batching binding are dropped from the registry.
// A failure on one type does not stop the others; all failures are joined
// into the returned error.
func (s *BatchService) CheckAndFlushAllActive(ctx context.Context) (report SweepReport, err error) {
	start := s.now()
	ctx, span := tracer.Start(ctx, "batch.sweep")
	defer func() {
		report.Duration = s.now().Sub(start)
		metrics.SweepDuration.Observe(report.Duration.Seconds())
		telemetry.End(span, err)
	}()

	types, err := s.store.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("list active entity types: %w", err)
	}
	metrics.ActiveEntityTypes.Set(float64(len(types)))

	var errs []error
	for _, entityType := range types {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report.Visited = append(report.Visited, entityType)

		if _, err := s.catalog.Lookup(entityType); err != nil {
			s.dropMisconfigured(ctx, entityType, &report, &errs)
			continue
		}

		results, err := s.CheckAndFlushAll(ctx, entityType)
		report.Results = append(report.Results, results...)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
			continue
		}

		// A type can stay registered after its last entries were moved to
		// the opposite queue and flushed from there.
		removed, err := s.store.MarkInactiveIfEmpty(ctx, entityType)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", entityType, err))
			continue
		}
		if removed {
			report.Deregistered = append(report.Deregistered, entityType)
		}
	}

	if len(errs) > 0 {
		s.logger.Error("Sweep finished with errors",
			"visited", len(report.Visited),
			"flushed", report.Flushed(),
			"error", errors.Join(errs...),
		)
	} else {
		s.logger.Debug("Sweep finished",
			"visited", len(report.Visited),
			"flushed", report.Flushed(),
		)
	}
	return report, errors.Join(errs...)
}

func (s *BatchService) dropMisconfigured(ctx context.Context, entityType string, report *SweepReport, errs *[]error) {
	s.logger.Warn("Removing entity type without batching capability from registry",
		"entityType", entityType,
		"error", batch.ErrMisconfiguredEntity,
	)
	if _, err := s.store.Remove(ctx, entityType); err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", entityType, err))
		return
	}
	metrics.MisconfiguredEntities.Inc()
	report.Misconfigured = append(report.Misconfigured, entityType)
}
