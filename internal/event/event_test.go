package event

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	pkgkafka "github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
	"github.com/pavelchamgl/reli.one-sub000/pkg/logger"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

type published struct {
	topic string
	event *pkgkafka.Event
}

type recordingPublisher struct {
	mu   sync.Mutex
	sent []published
	err  error
}

func (r *recordingPublisher) Publish(_ context.Context, topic string, event *pkgkafka.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, published{topic: topic, event: event})
	return nil
}

func sampleBasket() *domain.Basket {
	b := domain.NewBasket("client-1", time.Now())
	b.Version = 3
	b.Lines = []domain.BasketLine{
		{ProductVariantID: "v1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), Selected: true},
		{ProductVariantID: "v2", Quantity: 1, UnitPrice: decimal.RequireFromString("5.00")},
	}
	return b
}

func TestProducer_BasketUpdated(t *testing.T) {
	pub := &recordingPublisher{}
	p := NewProducer(pub, newTestLogger())

	ctx := logger.WithCorrelationID(context.Background(), "corr-1")
	p.PublishBasketUpdated(ctx, basket.ChangeLineAdded, sampleBasket())

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "reli.basket.updated", pub.sent[0].topic)
	ev := pub.sent[0].event
	assert.Equal(t, "client-1", ev.AggregateID)
	assert.Equal(t, AggregateTypeBasket, ev.AggregateType)
	assert.Equal(t, "corr-1", ev.CorrelationID)

	var data BasketUpdatedData
	require.NoError(t, ev.UnmarshalData(&data))
	assert.Equal(t, "line_added", data.Change)
	assert.Equal(t, "20.00", data.TotalSelected)
	assert.Equal(t, 3, data.Version)
	require.Len(t, data.Lines, 2)
	assert.Equal(t, "10.00", data.Lines[0].UnitPrice)
}

func TestProducer_PublishErrorsAreSwallowed(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	p := NewProducer(pub, newTestLogger())

	assert.NotPanics(t, func() {
		p.PublishBasketCleared(context.Background(), "client-1", false, nil)
		p.PublishBasketMigrated(context.Background(), "client-1", "u-1", nil, nil)
	})
	assert.Empty(t, pub.sent)
}

func TestProducer_BasketMigrated(t *testing.T) {
	pub := &recordingPublisher{}
	NewProducer(pub, newTestLogger()).PublishBasketMigrated(context.Background(), "client-1", "u-1", []string{"v1"}, nil)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "reli.basket.migrated", pub.sent[0].topic)

	var data map[string]any
	require.NoError(t, json.Unmarshal(pub.sent[0].event.Data, &data))
	assert.Equal(t, []any{"v1"}, data["migrated_variant_ids"])
	assert.Equal(t, []any{}, data["failed_variant_ids"])
}

func TestProducer_PaymentSubmitted(t *testing.T) {
	pub := &recordingPublisher{}
	s := &domain.PaymentSession{
		ID:            "ps-1",
		ClientID:      "client-1",
		OrderID:       "ord-9",
		Currency:      "CZK",
		PaymentMethod: &domain.PaymentMethod{Type: domain.PaymentCard},
	}
	s.SetLines(sampleBasket().SelectedLines())

	NewProducer(pub, newTestLogger()).PublishPaymentSubmitted(context.Background(), s)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "reli.payment.submitted", pub.sent[0].topic)
	var data PaymentSubmittedData
	require.NoError(t, pub.sent[0].event.UnmarshalData(&data))
	assert.Equal(t, "ord-9", data.OrderID)
	assert.Equal(t, "20.00", data.TotalAmount)
	assert.Equal(t, "card", data.PaymentMethod)
	assert.Equal(t, 1, data.LineCount)
}

func TestProducer_BasketSubscriber(t *testing.T) {
	pub := &recordingPublisher{}
	sub := NewProducer(pub, newTestLogger()).BasketSubscriber()
	ctx := context.Background()
	b := sampleBasket()

	sub.OnChange(ctx, basket.Change{Kind: basket.ChangeQuantitySet, ClientID: "client-1", Basket: b})
	sub.OnChange(ctx, basket.Change{Kind: basket.ChangeModeSet, ClientID: "client-1", Basket: b})
	sub.OnChange(ctx, basket.Change{Kind: basket.ChangeReset, ClientID: "client-1", Basket: b, Removed: []string{"v1", "v2"}})

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "reli.basket.updated", pub.sent[0].topic)
	assert.Equal(t, "reli.basket.cleared", pub.sent[1].topic)

	var cleared BasketClearedData
	require.NoError(t, pub.sent[1].event.UnmarshalData(&cleared))
	assert.True(t, cleared.Reset)
	assert.Equal(t, []string{"v1", "v2"}, cleared.Removed)
}

type mockResetter struct {
	mock.Mock
}

func (m *mockResetter) OnAccountDeleted(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func newTestEvent(eventType, aggregateID string, data any) *pkgkafka.Event {
	ev, _ := pkgkafka.NewEvent(eventType, aggregateID, "user", "accounts", data)
	return ev
}

func TestConsumerHandler_UserDeleted(t *testing.T) {
	accounts := &mockResetter{}
	accounts.On("OnAccountDeleted", mock.Anything, "u-42").Return(nil).Once()
	h := NewConsumerHandler(accounts, newTestLogger())

	err := h.Handle(context.Background(), newTestEvent(TopicUserDeleted, "u-42", UserDeletedData{UserID: "u-42"}))
	require.NoError(t, err)
	accounts.AssertExpectations(t)
}

func TestConsumerHandler_UserIDFromAggregate(t *testing.T) {
	accounts := &mockResetter{}
	accounts.On("OnAccountDeleted", mock.Anything, "u-7").Return(nil).Once()
	h := NewConsumerHandler(accounts, newTestLogger())

	require.NoError(t, h.Handle(context.Background(), newTestEvent(TopicUserDeleted, "u-7", struct{}{})))
	accounts.AssertExpectations(t)
}

func TestConsumerHandler_ResetFailureIsReturned(t *testing.T) {
	accounts := &mockResetter{}
	accounts.On("OnAccountDeleted", mock.Anything, "u-42").Return(errors.New("redis down"))
	h := NewConsumerHandler(accounts, newTestLogger())

	err := h.Handle(context.Background(), newTestEvent(TopicUserDeleted, "u-42", UserDeletedData{UserID: "u-42"}))
	assert.ErrorContains(t, err, "redis down")
}

func TestConsumerHandler_IgnoresMalformedAndUnknown(t *testing.T) {
	accounts := &mockResetter{}
	h := NewConsumerHandler(accounts, newTestLogger())
	ctx := context.Background()

	bad := newTestEvent(TopicUserDeleted, "u-1", nil)
	bad.Data = json.RawMessage(`"not an object"`)
	assert.NoError(t, h.Handle(ctx, bad))
	assert.NoError(t, h.Handle(ctx, newTestEvent(TopicUserDeleted, "", struct{}{})))
	assert.NoError(t, h.Handle(ctx, newTestEvent("reli.order.created", "o-1", struct{}{})))

	accounts.AssertNotCalled(t, "OnAccountDeleted", mock.Anything, mock.Anything)
}

func TestConsumerHandler_RedeliveryAppliedOnce(t *testing.T) {
	accounts := &mockResetter{}
	accounts.On("OnAccountDeleted", mock.Anything, "u-42").Return(nil).Once()
	h := NewConsumerHandler(accounts, newTestLogger())

	handle := pkgkafka.IdempotentHandler(pkgkafka.NewMemoryIdempotencyStore(time.Hour), h.Handle, newTestLogger())
	ev := newTestEvent(TopicUserDeleted, "u-42", UserDeletedData{UserID: "u-42"})

	require.NoError(t, handle(context.Background(), ev))
	require.NoError(t, handle(context.Background(), ev))
	accounts.AssertNumberOfCalls(t, "OnAccountDeleted", 1)
}
