package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelchamgl/reli.one-sub000/internal/basket"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []Job
	calls   map[string]int
	failFor map[string]int
	errFor  map[string]error
	block   chan struct{}
}

func newFakeSender() *fakeSender {
	return &fakeSender{calls: map[string]int{}, failFor: map[string]int{}, errFor: map[string]error{}}
}

func (f *fakeSender) Send(_ context.Context, job Job) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[job.ID]++
	if err, ok := f.errFor[job.ID]; ok {
		return err
	}
	if f.calls[job.ID] <= f.failFor[job.ID] {
		return apperrors.ServiceUnavailable("basket service down")
	}
	f.sent = append(f.sent, job)
	return nil
}

func (f *fakeSender) delivered() []Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Job(nil), f.sent...)
}

type fakeDLQ struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	errs []error
}

func (d *fakeDLQ) Publish(_ context.Context, msg kafkago.Message, lastErr error, _ string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.msgs = append(d.msgs, msg)
	d.errs = append(d.errs, lastErr)
	return nil
}

func (d *fakeDLQ) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.msgs)
}

type harness struct {
	queue     *Queue
	sender    *fakeSender
	dlq       *fakeDLQ
	delivered *kafka.MemoryIdempotencyStore
	metrics   *Metrics
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		sender:    newFakeSender(),
		dlq:       &fakeDLQ{},
		delivered: kafka.NewMemoryIdempotencyStore(time.Hour),
		metrics:   NewMetrics(prometheus.NewRegistry()),
	}
	h.queue = NewQueue(cfg, h.sender, h.delivered, h.dlq, h.metrics, testLogger())
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.queue.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func fastConfig() Config {
	return Config{
		Workers:        2,
		QueueSize:      16,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	}
}

func upsert(clientID, id string, qty int) Job {
	return Job{
		ID:       id,
		ClientID: clientID,
		Op:       OpUpsert,
		Item:     remote.BasketItem{ProductVariantID: "v-" + id, Quantity: qty, UnitPrice: decimal.NewFromInt(10)},
	}
}

func TestQueue_DeliversInOrderPerClient(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run(t)

	ctx := context.Background()
	for i, id := range []string{"a1", "a2", "a3", "a4"} {
		h.queue.Enqueue(ctx, upsert("client-a", id, i+1))
	}

	require.Eventually(t, func() bool { return len(h.sender.delivered()) == 4 }, time.Second, 5*time.Millisecond)

	var order []string
	for _, j := range h.sender.delivered() {
		order = append(order, j.ID)
	}
	assert.Equal(t, []string{"a1", "a2", "a3", "a4"}, order)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.Delivered))
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Depth))
}

func TestQueue_RetriesTransientFailures(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.sender.failFor["j1"] = 2
	h.run(t)

	h.queue.Enqueue(context.Background(), upsert("client-a", "j1", 1))

	require.Eventually(t, func() bool { return len(h.sender.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.Retries))
	assert.Equal(t, 0, h.dlq.count())

	seen, err := h.delivered.Contains(context.Background(), "j1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestQueue_SkipsAlreadyDeliveredKeys(t *testing.T) {
	h := newHarness(t, fastConfig())
	require.NoError(t, h.delivered.Add(context.Background(), "dup"))
	h.run(t)

	h.queue.Enqueue(context.Background(), upsert("client-a", "dup", 1))

	require.Eventually(t, func() bool { return testutil.ToFloat64(h.metrics.Duplicates) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, h.sender.delivered())
}

func TestQueue_DeadLettersAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.sender.failFor["j1"] = 100
	h.run(t)

	h.queue.Enqueue(context.Background(), upsert("client-a", "j1", 1))

	require.Eventually(t, func() bool { return h.dlq.count() == 1 }, time.Second, 5*time.Millisecond)
	h.sender.mu.Lock()
	assert.Equal(t, 3, h.sender.calls["j1"])
	h.sender.mu.Unlock()

	msg := h.dlq.msgs[0]
	assert.Equal(t, "reli.basket.mirror", msg.Topic)
	assert.Equal(t, "client-a", string(msg.Key))

	var job Job
	require.NoError(t, json.Unmarshal(msg.Value, &job))
	assert.Equal(t, "j1", job.ID)
	assert.Equal(t, OpUpsert, job.Op)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.DeadLettered))
}

func TestQueue_PermanentErrorsAreNotRetried(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.sender.errFor["bad"] = apperrors.InvalidInput("unknown variant")
	h.sender.errFor["anon"] = ErrNoSession
	h.run(t)

	ctx := context.Background()
	h.queue.Enqueue(ctx, upsert("client-a", "bad", 1))
	h.queue.Enqueue(ctx, upsert("client-a", "anon", 1))

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Dropped.WithLabelValues("no_session")) == 1
	}, time.Second, 5*time.Millisecond)

	h.sender.mu.Lock()
	assert.Equal(t, 1, h.sender.calls["bad"])
	assert.Equal(t, 1, h.sender.calls["anon"])
	h.sender.mu.Unlock()
	assert.Equal(t, 1, h.dlq.count())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.Retries))
}

func TestQueue_DropDiscardsQueuedJobs(t *testing.T) {
	h := newHarness(t, Config{Workers: 1, QueueSize: 8, MaxAttempts: 1})
	h.sender.block = make(chan struct{})
	h.run(t)

	ctx := context.Background()
	h.queue.Enqueue(ctx, upsert("client-a", "first", 1))
	h.queue.Enqueue(ctx, upsert("client-a", "second", 1))
	h.queue.Enqueue(ctx, upsert("client-a", "third", 1))
	h.queue.Drop("client-a")
	close(h.sender.block)

	require.Eventually(t, func() bool {
		return testutil.ToFloat64(h.metrics.Dropped.WithLabelValues("reset")) >= 2
	}, time.Second, 5*time.Millisecond)

	for _, j := range h.sender.delivered() {
		assert.NotEqual(t, "second", j.ID)
		assert.NotEqual(t, "third", j.ID)
	}

	// Jobs queued after the drop are delivered again.
	h.queue.Enqueue(ctx, upsert("client-a", "fourth", 1))
	require.Eventually(t, func() bool {
		for _, j := range h.sender.delivered() {
			if j.ID == "fourth" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestQueue_FullShardDeadLetters(t *testing.T) {
	h := newHarness(t, Config{Workers: 1, QueueSize: 1, MaxAttempts: 1})

	ctx := context.Background()
	h.queue.Enqueue(ctx, upsert("client-a", "kept", 1))
	h.queue.Enqueue(ctx, upsert("client-a", "overflow", 1))

	require.Equal(t, 1, h.dlq.count())
	assert.Contains(t, h.dlq.errs[0].Error(), "queue full")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Enqueued))
}

func TestQueue_EnqueueAssignsIDs(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run(t)

	h.queue.Enqueue(context.Background(), Job{ClientID: "client-a", Op: OpClear})

	require.Eventually(t, func() bool { return len(h.sender.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	job := h.sender.delivered()[0]
	assert.NotEmpty(t, job.ID)
	assert.False(t, job.EnqueuedAt.IsZero())
}

func TestJobsFor(t *testing.T) {
	line := domain.BasketLine{ProductVariantID: "v1", Quantity: 2, UnitPrice: decimal.NewFromInt(10), Selected: true}

	tests := []struct {
		name   string
		change basket.Change
		ops    []Op
	}{
		{"added", basket.Change{Kind: basket.ChangeLineAdded, Lines: []domain.BasketLine{line}}, []Op{OpUpsert}},
		{"quantity", basket.Change{Kind: basket.ChangeQuantitySet, Lines: []domain.BasketLine{line}}, []Op{OpUpdate}},
		{"select all", basket.Change{Kind: basket.ChangeSelectedAll, Lines: []domain.BasketLine{line, line}}, []Op{OpUpdate, OpUpdate}},
		{"removed", basket.Change{Kind: basket.ChangeLineRemoved, Removed: []string{"v1", "v2"}}, []Op{OpRemove, OpRemove}},
		{"cleared", basket.Change{Kind: basket.ChangeCleared, Removed: []string{"v1"}}, []Op{OpClear}},
		{"replaced", basket.Change{Kind: basket.ChangeLinesReplaced, Lines: []domain.BasketLine{line}}, nil},
		{"mode", basket.Change{Kind: basket.ChangeModeSet}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ops []Op
			for _, j := range jobsFor(tt.change) {
				ops = append(ops, j.Op)
			}
			assert.Equal(t, tt.ops, ops)
		})
	}
}

func TestSubscriber_MirrorsOnlyServerBaskets(t *testing.T) {
	h := newHarness(t, fastConfig())
	h.run(t)
	sub := h.queue.Subscriber()
	ctx := context.Background()

	line := domain.BasketLine{ProductVariantID: "v1", Quantity: 1, UnitPrice: decimal.NewFromInt(5)}
	local := &domain.Basket{ClientID: "client-a", Mode: domain.ModeLocal}
	server := &domain.Basket{ClientID: "client-a", Mode: domain.ModeServer}

	sub.OnChange(ctx, basket.Change{Kind: basket.ChangeLineAdded, ClientID: "client-a", Basket: local, Lines: []domain.BasketLine{line}})
	sub.OnChange(ctx, basket.Change{Kind: basket.ChangeLineAdded, ClientID: "client-a", Basket: server, Lines: []domain.BasketLine{line}})

	require.Eventually(t, func() bool { return len(h.sender.delivered()) == 1 }, time.Second, 5*time.Millisecond)
	job := h.sender.delivered()[0]
	assert.Equal(t, OpUpsert, job.Op)
	assert.Equal(t, "v1", job.Item.ProductVariantID)
}

type fakeBasketAPI struct {
	calls     []string
	removeErr error
	updateErr error
}

func (f *fakeBasketAPI) UpsertBasketItem(_ context.Context, access, key string, item remote.BasketItem) error {
	f.calls = append(f.calls, "upsert "+access+" "+key+" "+item.ProductVariantID)
	return nil
}

func (f *fakeBasketAPI) UpdateBasketItem(_ context.Context, access, key, variantID string, _ int, _ bool) error {
	f.calls = append(f.calls, "update "+access+" "+key+" "+variantID)
	return f.updateErr
}

func (f *fakeBasketAPI) RemoveBasketItem(_ context.Context, access, key, variantID string) error {
	f.calls = append(f.calls, "remove "+access+" "+key+" "+variantID)
	return f.removeErr
}

func (f *fakeBasketAPI) ClearBasket(_ context.Context, access, key string) error {
	f.calls = append(f.calls, "clear "+access+" "+key)
	return nil
}

type tokenMap map[string]string

func TestRemoteSender_UpdateOfMissingLineUpserts(t *testing.T) {
	api := &fakeBasketAPI{updateErr: apperrors.NotFound("basket item", "v2")}
	s := NewRemoteSender(api, tokenMap{"client-a": "acc"})

	err := s.Send(context.Background(), Job{ID: "k2", ClientID: "client-a", Op: OpUpdate, Item: remote.BasketItem{ProductVariantID: "v2", Quantity: 3}})
	require.NoError(t, err)
	assert.Equal(t, []string{"update acc k2 v2", "upsert acc k2-upsert v2"}, api.calls)
}

func (m tokenMap) AccessToken(_ context.Context, clientID string) (string, error) {
	return m[clientID], nil
}

func TestRemoteSender(t *testing.T) {
	api := &fakeBasketAPI{removeErr: apperrors.NotFound("basket item", "v3")}
	s := NewRemoteSender(api, tokenMap{"client-a": "acc"})
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, Job{ID: "k1", ClientID: "client-a", Op: OpUpsert, Item: remote.BasketItem{ProductVariantID: "v1"}}))
	require.NoError(t, s.Send(ctx, Job{ID: "k2", ClientID: "client-a", Op: OpUpdate, Item: remote.BasketItem{ProductVariantID: "v2"}}))
	require.NoError(t, s.Send(ctx, Job{ID: "k3", ClientID: "client-a", Op: OpRemove, Item: remote.BasketItem{ProductVariantID: "v3"}}))
	require.NoError(t, s.Send(ctx, Job{ID: "k4", ClientID: "client-a", Op: OpClear}))

	assert.Equal(t, []string{
		"upsert acc k1 v1",
		"update acc k2 v2",
		"remove acc k3 v3",
		"clear acc k4",
	}, api.calls)

	err := s.Send(ctx, Job{ID: "k5", ClientID: "client-b", Op: OpClear})
	assert.True(t, errors.Is(err, ErrNoSession))

	err = s.Send(ctx, Job{ID: "k6", ClientID: "client-a", Op: "bogus"})
	assert.Error(t, err)
}
