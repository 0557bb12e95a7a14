package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	pkgkafka "github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
)

// Topics produced by the storefront.
var (
	TopicBasketUpdated    = pkgkafka.Topic("basket", "updated")
	TopicBasketCleared    = pkgkafka.Topic("basket", "cleared")
	TopicBasketMigrated   = pkgkafka.Topic("basket", "migrated")
	TopicPaymentSubmitted = pkgkafka.Topic("payment", "submitted")
)

// Aggregate types.
const (
	AggregateTypeBasket  = "basket"
	AggregateTypePayment = "payment_session"
)

// SourceStorefront identifies events published by this service.
const SourceStorefront = "storefront-bff"

// BasketLineData is a line within basket events.
type BasketLineData struct {
	ProductVariantID string `json:"product_variant_id"`
	Quantity         int    `json:"quantity"`
	UnitPrice        string `json:"unit_price"`
	Selected         bool   `json:"selected"`
}

// BasketUpdatedData is the payload of basket.updated.
type BasketUpdatedData struct {
	ClientID      string           `json:"client_id"`
	Change        string           `json:"change"`
	Mode          string           `json:"mode"`
	Version       int              `json:"version"`
	Lines         []BasketLineData `json:"lines"`
	TotalSelected string           `json:"total_selected"`
	Currency      string           `json:"currency"`
}

// BasketClearedData is the payload of basket.cleared.
type BasketClearedData struct {
	ClientID string   `json:"client_id"`
	Reset    bool     `json:"reset"`
	Removed  []string `json:"removed_variant_ids"`
}

// BasketMigratedData is the payload of basket.migrated.
type BasketMigratedData struct {
	ClientID string   `json:"client_id"`
	UserID   string   `json:"user_id"`
	Migrated []string `json:"migrated_variant_ids"`
	Failed   []string `json:"failed_variant_ids"`
}

// PaymentSubmittedData is the payload of payment.submitted.
type PaymentSubmittedData struct {
	SessionID     string `json:"session_id"`
	ClientID      string `json:"client_id"`
	OrderID       string `json:"order_id"`
	TotalAmount   string `json:"total_amount"`
	Currency      string `json:"currency"`
	PaymentMethod string `json:"payment_method"`
	LineCount     int    `json:"line_count"`
}

// Producer publishes storefront domain events. Publishing never fails the
// caller; errors are logged.
type Producer struct {
	kafka  pkgkafka.Publisher
	logger *slog.Logger
}

// NewProducer creates a new event producer.
func NewProducer(kafka pkgkafka.Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishBasketUpdated publishes a basket.updated event.
func (p *Producer) PublishBasketUpdated(ctx context.Context, kind basket.ChangeKind, b *domain.Basket) {
	lines := make([]BasketLineData, len(b.Lines))
	for i, l := range b.Lines {
		lines[i] = BasketLineData{
			ProductVariantID: l.ProductVariantID,
			Quantity:         l.Quantity,
			UnitPrice:        l.UnitPrice.StringFixed(2),
			Selected:         l.Selected,
		}
	}

	p.publish(ctx, TopicBasketUpdated, b.ClientID, AggregateTypeBasket, BasketUpdatedData{
		ClientID:      b.ClientID,
		Change:        string(kind),
		Mode:          string(b.Mode),
		Version:       b.Version,
		Lines:         lines,
		TotalSelected: b.TotalSelected().StringFixed(2),
		Currency:      b.Currency,
	})
}

// PublishBasketCleared publishes a basket.cleared event.
func (p *Producer) PublishBasketCleared(ctx context.Context, clientID string, reset bool, removed []string) {
	if removed == nil {
		removed = []string{}
	}
	p.publish(ctx, TopicBasketCleared, clientID, AggregateTypeBasket, BasketClearedData{
		ClientID: clientID,
		Reset:    reset,
		Removed:  removed,
	})
}

// PublishBasketMigrated publishes a basket.migrated event after login.
func (p *Producer) PublishBasketMigrated(ctx context.Context, clientID, userID string, migrated, failed []string) {
	if migrated == nil {
		migrated = []string{}
	}
	if failed == nil {
		failed = []string{}
	}
	p.publish(ctx, TopicBasketMigrated, clientID, AggregateTypeBasket, BasketMigratedData{
		ClientID: clientID,
		UserID:   userID,
		Migrated: migrated,
		Failed:   failed,
	})
}

// PublishPaymentSubmitted publishes a payment.submitted event.
func (p *Producer) PublishPaymentSubmitted(ctx context.Context, s *domain.PaymentSession) {
	data := PaymentSubmittedData{
		SessionID:   s.ID,
		ClientID:    s.ClientID,
		OrderID:     s.OrderID,
		TotalAmount: s.TotalAmount.StringFixed(2),
		Currency:    s.Currency,
		LineCount:   len(s.Lines),
	}
	if s.PaymentMethod != nil {
		data.PaymentMethod = s.PaymentMethod.Type
	}
	p.publish(ctx, TopicPaymentSubmitted, s.ID, AggregateTypePayment, data)
}

// BasketSubscriber publishes basket events for committed changes.
func (p *Producer) BasketSubscriber() basket.Subscriber {
	return basket.SubscriberFunc(func(ctx context.Context, c basket.Change) {
		switch c.Kind {
		case basket.ChangeCleared, basket.ChangeReset:
			p.PublishBasketCleared(ctx, c.ClientID, c.Kind == basket.ChangeReset, c.Removed)
		case basket.ChangeModeSet:
		default:
			if c.Basket != nil {
				p.PublishBasketUpdated(ctx, c.Kind, c.Basket)
			}
		}
	})
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID, aggregateType string, data any) {
	if err := p.send(ctx, topic, aggregateID, aggregateType, data); err != nil {
		p.logger.WarnContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("aggregate_id", aggregateID),
			slog.String("error", err.Error()),
		)
		return
	}
	p.logger.DebugContext(ctx, "published event",
		slog.String("topic", topic),
		slog.String("aggregate_id", aggregateID),
	)
}

func (p *Producer) send(ctx context.Context, topic, aggregateID, aggregateType string, data any) error {
	event, err := pkgkafka.NewEventFromContext(ctx, topic, aggregateID, aggregateType, SourceStorefront, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if err := p.kafka.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}
