package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
)

// TopicUserDeleted is published by the accounts backend when a user account
// is removed, whichever device removed it.
var TopicUserDeleted = pkgkafka.Topic("user", "deleted")

// ConsumerGroupID is the consumer group of the storefront.
const ConsumerGroupID = "storefront-bff"

// UserDeletedData is the payload of user.deleted.
type UserDeletedData struct {
	UserID string `json:"user_id"`
}

// AccountResetter wipes the state of every client of a user.
type AccountResetter interface {
	OnAccountDeleted(ctx context.Context, userID string) error
}

// ConsumerHandler routes incoming events.
type ConsumerHandler struct {
	accounts AccountResetter
	logger   *slog.Logger
}

// NewConsumerHandler creates a new event consumer handler.
func NewConsumerHandler(accounts AccountResetter, logger *slog.Logger) *ConsumerHandler {
	return &ConsumerHandler{accounts: accounts, logger: logger}
}

// Handle processes an incoming event based on its type. Unknown types are
// logged and acknowledged.
func (h *ConsumerHandler) Handle(ctx context.Context, event *pkgkafka.Event) error {
	switch event.EventType {
	case TopicUserDeleted:
		return h.handleUserDeleted(ctx, event)
	default:
		h.logger.WarnContext(ctx, "unknown event type received",
			slog.String("event_type", event.EventType),
			slog.String("event_id", event.EventID),
		)
		return nil
	}
}

func (h *ConsumerHandler) handleUserDeleted(ctx context.Context, event *pkgkafka.Event) error {
	var data UserDeletedData
	if err := event.UnmarshalData(&data); err != nil {
		h.logger.ErrorContext(ctx, "malformed user.deleted event",
			slog.String("event_id", event.EventID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if data.UserID == "" {
		data.UserID = event.AggregateID
	}
	if data.UserID == "" {
		h.logger.WarnContext(ctx, "user.deleted event without user id", slog.String("event_id", event.EventID))
		return nil
	}

	if err := h.accounts.OnAccountDeleted(ctx, data.UserID); err != nil {
		return fmt.Errorf("reset clients of user %s: %w", data.UserID, err)
	}
	h.logger.InfoContext(ctx, "account state wiped",
		slog.String("user_id", data.UserID),
		slog.String("event_id", event.EventID),
	)
	return nil
}

// NewUserDeletedConsumer creates the user.deleted consumer. The handler is
// wrapped so redelivered events are applied once.
func NewUserDeletedConsumer(brokers []string, h *ConsumerHandler, seen pkgkafka.IdempotencyStore, dlq pkgkafka.DeadLetterPublisher, logger *slog.Logger) *pkgkafka.Consumer {
	cfg := pkgkafka.ConsumerConfig{
		Brokers:  brokers,
		GroupID:  ConsumerGroupID,
		Topic:    TopicUserDeleted,
		MinBytes: 1,
		MaxBytes: 10e6,
	}
	return pkgkafka.NewConsumer(cfg, pkgkafka.IdempotentHandler(seen, h.Handle, logger), dlq, logger)
}
