package sync

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/syllaflow/syllaflow/pkg/metrics"
	"github.com/syllaflow/syllaflow/pkg/model"
)

// Repository is the slice of the outbox table the relay needs.
type Repository interface {
	ListPending(ctx context.Context, limit int) ([]model.SyncOutboxEvent, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID) error
}

// Writer abstracts the Kafka writer so tests can capture messages.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay drains pending outbox rows onto the bus. Delivery downstream is
// at-least-once: a crash between WriteMessages and MarkPublished republishes
// the event, which consumers must tolerate.
type Relay struct {
	repo         Repository
	writer       Writer
	dlqWriter    Writer
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
}

// Message is the on-wire envelope for one outbox event.
type Message struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Payload   model.JSONB `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

type DLQMessage struct {
	Event    Message   `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

const HeaderEventID = "sf-event-id"

// NewTopicWriter builds a writer for one topic. The Hash balancer routes by
// message key; relay messages are keyed by the routing key (entity id), so
// all events of one entity land on one partition, in order.
func NewTopicWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

func NewRelay(repo Repository, writer, dlqWriter Writer, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		repo:         repo,
		writer:       writer,
		dlqWriter:    dlqWriter,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.ProcessPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.ProcessPending(ctx)
		}
	}
}

func (r *Relay) ProcessPending(ctx context.Context) {
	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := r.publishEvent(ctx, event); err != nil {
			r.logger.Warn("failed to publish outbox event",
				zap.Error(err),
				zap.String("event_id", event.EventID.String()),
			)
		}
	}
}

func (r *Relay) publishEvent(ctx context.Context, event model.SyncOutboxEvent) error {
	message := Message{
		EventID:   event.EventID.String(),
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(event.RoutingKey),
		Value: payload,
		Time:  time.Now(),
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(event.EventID.String())},
		},
	}

	if err := r.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		metrics.SyncEventsPublished.WithLabelValues(event.EventType, "error").Inc()
		r.logger.Warn("failed to publish to kafka, sending to DLQ",
			zap.Error(err),
			zap.String("event_id", event.EventID.String()),
		)
		return r.publishDLQ(ctx, message, err, event)
	}

	if err := r.repo.MarkPublished(ctx, event.EventID, time.Now()); err != nil {
		r.logger.Warn("failed to mark event published",
			zap.Error(err),
			zap.String("event_id", event.EventID.String()),
		)
		return err
	}

	metrics.SyncEventsPublished.WithLabelValues(event.EventType, "ok").Inc()
	return nil
}

func (r *Relay) publishDLQ(ctx context.Context, message Message, publishErr error, event model.SyncOutboxEvent) error {
	dlq := DLQMessage{
		Event:    message,
		Error:    publishErr.Error(),
		FailedAt: time.Now(),
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(event.RoutingKey),
		Value: payload,
		Time:  time.Now(),
	}

	if err := r.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, event.EventID); err != nil {
		r.logger.Warn("failed to mark event failed",
			zap.Error(err),
			zap.String("event_id", event.EventID.String()),
		)
		return err
	}

	return nil
}
