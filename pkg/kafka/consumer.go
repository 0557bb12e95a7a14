package kafka

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

// Handler is a function that processes a Kafka event.
type Handler func(ctx context.Context, event *Event) error

// DeadLetterPublisher receives messages whose handler kept failing.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, originalMsg kafka.Message, lastErr error, consumerGroup string) error
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers    []string
	GroupID    string
	Topic      string
	MinBytes   int
	MaxBytes   int
	MaxRetries uint
	RetryDelay time.Duration
}

// Consumer wraps the kafka-go reader for consuming events. Each message is
// handed to the handler with exponential backoff retries; a message that
// still fails is sent to the dead-letter publisher (when configured) and
// committed so one poison message cannot stall the partition.
type Consumer struct {
	reader     *kafka.Reader
	logger     *slog.Logger
	handler    Handler
	dlq        DeadLetterPublisher
	group      string
	maxRetries uint
	retryDelay time.Duration
	closeOnce  sync.Once
}

// NewConsumer creates a new Kafka consumer for a specific topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, dlq DeadLetterPublisher, logger *slog.Logger) *Consumer {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	return &Consumer{
		reader:     r,
		logger:     logger,
		handler:    handler,
		dlq:        dlq,
		group:      cfg.GroupID,
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}
}

// Start begins consuming messages. It blocks until the context is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	topic := c.reader.Config().Topic
	c.logger.Info("consumer started",
		slog.String("topic", topic),
		slog.String("group", c.group),
	)

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}
		ConsumerMessagesReceived.WithLabelValues(msg.Topic, c.group).Inc()

		c.process(ctx, msg)
		if ctx.Err() != nil {
			return c.Close()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("failed to commit message", slog.String("error", err.Error()))
		}
	}
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) {
	headers := msg.Headers
	msgCtx := otel.GetTextMapPropagator().Extract(ctx, NewKafkaHeaderCarrier(&headers))

	event, err := UnmarshalEvent(msg.Value)
	if err != nil {
		c.logger.ErrorContext(msgCtx, "failed to unmarshal event",
			slog.String("error", err.Error()),
			slog.String("topic", msg.Topic),
		)
		c.deadLetter(msgCtx, msg, err)
		return
	}

	start := time.Now()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryDelay

	attempt := 0
	_, err = backoff.Retry(msgCtx, func() (struct{}, error) {
		attempt++
		return struct{}{}, c.handler(msgCtx, event)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(c.maxRetries),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.WarnContext(msgCtx, "handler failed, will retry",
				slog.String("event_type", event.EventType),
				slog.String("aggregate_id", event.AggregateID),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
				slog.Duration("next_retry", next),
			)
		}),
	)
	ConsumerProcessingDuration.WithLabelValues(msg.Topic, c.group).Observe(time.Since(start).Seconds())

	if err == nil {
		ConsumerMessagesProcessed.WithLabelValues(msg.Topic, c.group).Inc()
		return
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return
	}

	ConsumerMessagesFailed.WithLabelValues(msg.Topic, c.group).Inc()
	c.logger.ErrorContext(msgCtx, "handler failed after all retries",
		slog.String("event_type", event.EventType),
		slog.String("aggregate_id", event.AggregateID),
		slog.String("error", err.Error()),
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
	)
	c.deadLetter(msgCtx, msg, err)
}

func (c *Consumer) deadLetter(ctx context.Context, msg kafka.Message, cause error) {
	if c.dlq == nil {
		return
	}
	if err := c.dlq.Publish(ctx, msg, cause, c.group); err != nil {
		c.logger.ErrorContext(ctx, "dead letter publish failed", slog.String("error", err.Error()))
		return
	}
	ConsumerDLQPublished.WithLabelValues(msg.Topic, c.group).Inc()
}

// Close closes the consumer. It is safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
