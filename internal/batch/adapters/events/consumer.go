package events

import (
	"context"
	"fmt"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/events"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/scoutbatch-go/pkg/metrics"
)

// Consumer feeds record change events into the batch queue.
type Consumer struct {
	enqueuer ports.IDEnqueuer
	logger   logger.Logger
}

func NewConsumer(enqueuer ports.IDEnqueuer, log logger.Logger) *Consumer {
	return &Consumer{
		enqueuer: enqueuer,
		logger:   log.Named("events"),
	}
}

// Run subscribes to bus and blocks until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, bus events.EventBus) error {
	return bus.Subscribe(ctx, c.Handle)
}

// Handle is an events.EventHandler. Returning an error leaves the event for
// redelivery, so only store failures are reported.
func (c *Consumer) Handle(ctx context.Context, event events.Event) error {
	dir, ok := directionOf(event.Type)
	if !ok {
		metrics.EventsConsumed.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}
	if event.AggregateType == "" || event.AggregateID == "" {
		c.logger.Warn("Ignoring change event without a record reference", "id", event.ID, "type", event.Type)
		metrics.EventsConsumed.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err := c.enqueuer.EnqueueIDs(ctx, event.AggregateType, dir, []string{event.AggregateID}); err != nil {
		metrics.EventsConsumed.WithLabelValues(event.Type, "failed").Inc()
		return fmt.Errorf("enqueue %s %s/%s: %w", dir, event.AggregateType, event.AggregateID, err)
	}

	metrics.EventsConsumed.WithLabelValues(event.Type, "enqueued").Inc()
	return nil
}

func directionOf(eventType string) (batch.Direction, bool) {
	switch eventType {
	case events.RecordSaved:
		return batch.MakeSearchable, true
	case events.RecordDeleted:
		return batch.RemoveFromSearch, true
	}
	return "", false
}
