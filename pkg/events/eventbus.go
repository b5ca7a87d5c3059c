package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scoutbatch-go/pkg/logger"
	"github.com/segmentio/kafka-go"
)

// Event is a record change notification. AggregateType carries the entity
// type and AggregateID the record identifier.
type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	Timestamp     time.Time              `json:"timestamp"`
	Version       int                    `json:"version"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Metadata      EventMetadata          `json:"metadata"`
}

type EventMetadata struct {
	CorrelationID string `json:"correlationId,omitempty"`
	Source        string `json:"source,omitempty"`
}

type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
}

type EventBus interface {
	Publisher
	// Subscribe consumes until ctx is cancelled.
	Subscribe(ctx context.Context, handler EventHandler) error
	Close() error
}

type EventHandler func(ctx context.Context, event Event) error

type KafkaConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

type KafkaEventBus struct {
	config KafkaConfig
	writer *kafka.Writer
	logger logger.Logger

	mu      sync.Mutex
	readers []*kafka.Reader
}

func NewKafkaEventBus(config KafkaConfig, log logger.Logger) (*KafkaEventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if config.Topic == "" {
		return nil, errors.New("kafka: no topic configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}

	return &KafkaEventBus{
		config: config,
		writer: writer,
		logger: log.Named("kafka"),
	}, nil
}

// Publish writes events keyed by aggregate so changes to one record stay
// ordered within a partition.
func (k *KafkaEventBus) Publish(ctx context.Context, events ...Event) error {
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(events))
	for _, event := range events {
		msg, err := Encode(event)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	return k.writer.WriteMessages(ctx, msgs...)
}

func (k *KafkaEventBus) Subscribe(ctx context.Context, handler EventHandler) error {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     k.config.Brokers,
		Topic:       k.config.Topic,
		GroupID:     k.config.ConsumerGroup,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
		MaxWait:     1 * time.Second,
	})

	k.mu.Lock()
	k.readers = append(k.readers, reader)
	k.mu.Unlock()

	k.logger.Info("Consuming change events", "topic", k.config.Topic, "group", k.config.ConsumerGroup)
	return k.consume(ctx, reader, handler)
}

func (k *KafkaEventBus) consume(ctx context.Context, reader *kafka.Reader, handler EventHandler) error {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			k.logger.Error("Failed to read message", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		event, err := Decode(msg)
		if err != nil {
			k.logger.Warn("Skipping undecodable event", "offset", msg.Offset, "partition", msg.Partition, "error", err)
		} else if err := handler(ctx, event); err != nil {
			// leave the offset uncommitted so the group redelivers it
			k.logger.Error("Failed to handle event", "type", event.Type, "id", event.ID, "error", err)
			continue
		}

		if err := reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			k.logger.Warn("Failed to commit offset", "offset", msg.Offset, "error", err)
		}
	}
}

func (k *KafkaEventBus) Close() error {
	var errs []error
	if err := k.writer.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close writer: %w", err))
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	for _, reader := range k.readers {
		if err := reader.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close reader: %w", err))
		}
	}
	k.readers = nil

	return errors.Join(errs...)
}

// Encode turns an event into a Kafka message, filling in ID and timestamp.
func Encode(event Event) (kafka.Message, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateType + ":" + event.AggregateID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "correlation-id", Value: []byte(event.Metadata.CorrelationID)},
		},
	}, nil
}

func Decode(msg kafka.Message) (Event, error) {
	var event Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return Event{}, fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if event.Type == "" {
		for _, h := range msg.Headers {
			if h.Key == "event-type" {
				event.Type = string(h.Value)
			}
		}
	}
	return event, nil
}

// Event builder helper
type EventBuilder struct {
	event Event
}

func NewEventBuilder(eventType string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Version:   1,
			Payload:   make(map[string]interface{}),
		},
	}
}

func (b *EventBuilder) WithAggregateID(id string) *EventBuilder {
	b.event.AggregateID = id
	return b
}

func (b *EventBuilder) WithAggregateType(aggregateType string) *EventBuilder {
	b.event.AggregateType = aggregateType
	return b
}

func (b *EventBuilder) WithPayload(key string, value interface{}) *EventBuilder {
	b.event.Payload[key] = value
	return b
}

func (b *EventBuilder) WithCorrelationID(id string) *EventBuilder {
	b.event.Metadata.CorrelationID = id
	return b
}

func (b *EventBuilder) WithSource(source string) *EventBuilder {
	b.event.Metadata.Source = source
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}

// Record change event types
const (
	RecordSaved   = "record.saved"
	RecordDeleted = "record.deleted"
)
