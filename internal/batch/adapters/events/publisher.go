package events

import (
	"context"

	"github.com/scoutbatch-go/internal/batch/ports"
	"github.com/scoutbatch-go/internal/domain/batch"
	"github.com/scoutbatch-go/pkg/events"
)

// Publisher is a ports.Enqueuer that announces changes on the event bus
// instead of writing to the queue, leaving enqueueing to whichever process
// runs the Consumer.
type Publisher struct {
	publisher events.Publisher
	source    string
}

var _ ports.Enqueuer = (*Publisher)(nil)

func NewPublisher(p events.Publisher, source string) *Publisher {
	return &Publisher{publisher: p, source: source}
}

func (p *Publisher) Enqueue(ctx context.Context, entityType string, dir batch.Direction, records []batch.Record) error {
	eventType := events.RecordSaved
	if dir == batch.RemoveFromSearch {
		eventType = events.RecordDeleted
	}

	out := make([]events.Event, 0, len(records))
	for _, rec := range records {
		id := rec.SearchableKey()
		if id == "" {
			continue
		}
		out = append(out, events.NewEventBuilder(eventType).
			WithAggregateType(entityType).
			WithAggregateID(id).
			WithSource(p.source).
			Build())
	}
	return p.publisher.Publish(ctx, out...)
}
