package sync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	gosync "sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	HeaderRetryCount  = "sf-retry-count"
	HeaderOriginTopic = "sf-origin-topic"
	HeaderDLQError    = "sf-dlq-error"
)

type ProducerConfig struct {
	Brokers    []string
	ClientID   string
	RetryTopic string
	DLQTopic   string
}

// Producer publishes retry and dead-letter messages for consumers that
// exhaust their delivery attempts.
type Producer struct {
	writer     *kafka.Writer
	retryTopic string
	dlqTopic   string
}

func NewProducer(cfg ProducerConfig) *Producer {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.Hash{},
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
		RequiredAcks: kafka.RequireAll,
	}

	return &Producer{
		writer:     writer,
		retryTopic: cfg.RetryTopic,
		dlqTopic:   cfg.DLQTopic,
	}
}

func (p *Producer) PublishRetry(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.retryTopic == "" {
		return errors.New("retry topic is not configured")
	}
	return p.publish(ctx, p.retryTopic, key, value, headers)
}

func (p *Producer) PublishDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.dlqTopic == "" {
		return errors.New("dlq topic is not configured")
	}
	return p.publish(ctx, p.dlqTopic, key, value, headers)
}

func (p *Producer) publish(ctx context.Context, topic string, key, value []byte, headers []kafka.Header) error {
	message := kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}

	return p.writer.WriteMessages(ctx, message)
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

type ConsumerConfig struct {
	Brokers    []string
	ClientID   string
	GroupID    string
	SyncTopic  string
	RetryTopic string
	DLQTopic   string
	MaxRetries int
}

type Handler func(ctx context.Context, message Message) error

// Deduper remembers event IDs across redeliveries. The relay republishes
// events after a crash, so every consumer runs behind one.
type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

// Consumer reads sync events from the main and retry topics, skips already
// processed events, and routes poisoned messages to the DLQ after the retry
// budget is spent. Offsets are committed only after the handler returns.
type Consumer struct {
	producer   *Producer
	config     ConsumerConfig
	handler    Handler
	deduper    Deduper
	logger     *zap.Logger
	readers    []*kafka.Reader
	mu         gosync.Mutex
	startOnce  gosync.Once
	closeOnce  gosync.Once
	closedChan chan struct{}
}

func NewConsumer(cfg ConsumerConfig, producer *Producer, handler Handler, deduper Deduper, logger *zap.Logger) *Consumer {
	return &Consumer{
		producer:   producer,
		config:     cfg,
		handler:    handler,
		deduper:    deduper,
		logger:     logger,
		closedChan: make(chan struct{}),
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	var runErr error
	c.startOnce.Do(func() {
		if c.config.MaxRetries <= 0 {
			c.config.MaxRetries = 3
		}

		readers := c.buildReaders()
		c.mu.Lock()
		c.readers = readers
		c.mu.Unlock()

		for _, reader := range readers {
			go func(r *kafka.Reader) {
				if err := c.consumeLoop(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
					c.mu.Lock()
					if runErr == nil {
						runErr = err
					}
					c.mu.Unlock()
				}
			}(reader)
		}
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closedChan:
		c.mu.Lock()
		defer c.mu.Unlock()
		return runErr
	}
}

func (c *Consumer) Close() error {
	var closeErr error
	c.closeOnce.Do(func() {
		close(c.closedChan)
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, reader := range c.readers {
			if err := reader.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})

	return closeErr
}

func (c *Consumer) buildReaders() []*kafka.Reader {
	config := kafka.ReaderConfig{
		Brokers:  c.config.Brokers,
		GroupID:  c.config.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer: &kafka.Dialer{
			ClientID: c.config.ClientID,
		},
	}

	readers := []*kafka.Reader{}
	if c.config.SyncTopic != "" {
		cfg := config
		cfg.Topic = c.config.SyncTopic
		readers = append(readers, kafka.NewReader(cfg))
	}
	if c.config.RetryTopic != "" {
		cfg := config
		cfg.Topic = c.config.RetryTopic
		readers = append(readers, kafka.NewReader(cfg))
	}

	return readers
}

func (c *Consumer) consumeLoop(ctx context.Context, reader *kafka.Reader) error {
	for {
		raw, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		eventID := extractEventID(raw)
		if c.deduper != nil && eventID != "" {
			seen, err := c.deduper.Seen(ctx, eventID)
			if err == nil && seen {
				if commitErr := reader.CommitMessages(ctx, raw); commitErr != nil {
					return commitErr
				}
				continue
			}
		}

		handlerErr := c.handleRaw(ctx, raw)
		if handlerErr != nil {
			c.logger.Warn("sync event handling failed",
				zap.Error(handlerErr),
				zap.String("event_id", eventID),
				zap.String("topic", raw.Topic),
			)
			if err := c.handleFailure(ctx, raw, handlerErr); err != nil {
				return err
			}
		} else if c.deduper != nil && eventID != "" {
			_ = c.deduper.MarkSeen(ctx, eventID)
		}

		if err := reader.CommitMessages(ctx, raw); err != nil {
			return err
		}
	}
}

func (c *Consumer) handleRaw(ctx context.Context, raw kafka.Message) error {
	var message Message
	if err := json.Unmarshal(raw.Value, &message); err != nil {
		return err
	}
	return c.handler(ctx, message)
}

func (c *Consumer) handleFailure(ctx context.Context, message kafka.Message, handlerErr error) error {
	if c.producer == nil {
		return nil
	}

	retryCount := retryAttempt(message)
	if retryCount < c.config.MaxRetries && c.config.RetryTopic != "" {
		headers := appendHeaders(message.Headers,
			kafka.Header{Key: HeaderRetryCount, Value: []byte(strconv.Itoa(retryCount + 1))},
			kafka.Header{Key: HeaderOriginTopic, Value: []byte(message.Topic)},
		)
		return c.producer.PublishRetry(ctx, message.Key, message.Value, headers...)
	}

	if c.config.DLQTopic != "" {
		headers := appendHeaders(message.Headers,
			kafka.Header{Key: HeaderOriginTopic, Value: []byte(message.Topic)},
			kafka.Header{Key: HeaderDLQError, Value: []byte(handlerErr.Error())},
		)
		return c.producer.PublishDLQ(ctx, message.Key, message.Value, headers...)
	}

	return nil
}

func retryAttempt(message kafka.Message) int {
	for _, header := range message.Headers {
		if header.Key == HeaderRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
			return 0
		}
	}
	return 0
}

func extractEventID(message kafka.Message) string {
	for _, header := range message.Headers {
		if header.Key == HeaderEventID {
			return string(header.Value)
		}
	}

	var payload struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(message.Value, &payload); err == nil {
		return payload.EventID
	}

	return ""
}

func appendHeaders(existing []kafka.Header, headers ...kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, 0, len(existing)+len(headers))
	merged = append(merged, existing...)
	merged = append(merged, headers...)
	return merged
}

// MemoryDeduper is a process-local Deduper for tests and single-node runs.
type MemoryDeduper struct {
	mu      gosync.Mutex
	entries map[string]time.Time
	ttl     time.Duration
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &MemoryDeduper{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

func (d *MemoryDeduper) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	d.cleanupLocked(now)

	seenAt, ok := d.entries[eventID]
	if !ok {
		return false, nil
	}
	if now.Sub(seenAt) > d.ttl {
		delete(d.entries, eventID)
		return false, nil
	}
	return true, nil
}

func (d *MemoryDeduper) MarkSeen(ctx context.Context, eventID string) error {
	if eventID == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.entries[eventID] = time.Now()
	return nil
}

func (d *MemoryDeduper) cleanupLocked(now time.Time) {
	for eventID, seenAt := range d.entries {
		if now.Sub(seenAt) > d.ttl {
			delete(d.entries, eventID)
		}
	}
}
