// Package mirror replays basket mutations of logged-in clients on the server
// basket. Delivery is at least once: every job carries an idempotency key,
// failed attempts are retried with exponential backoff, and jobs that keep
// failing go to the dead-letter topic.
package mirror

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/kafka"
)

// Topic is the logical topic of mirror jobs; dead letters land on its DLQ.
var Topic = kafka.Topic("basket", "mirror")

var errStale = errors.New("mirror: job dropped by basket reset")

// Config tunes the queue.
type Config struct {
	Workers        int
	QueueSize      int
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		QueueSize:      256,
		MaxAttempts:    5,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
	}
}

// clientState tracks the jobs of one client in flight. It is removed when
// nothing is pending, so the map only holds active clients.
type clientState struct {
	generation uint64
	pending    int
}

// Queue fans jobs out to workers by client id hash. One worker owns a shard,
// so the jobs of a client are delivered in order.
type Queue struct {
	cfg       Config
	sender    Sender
	delivered kafka.IdempotencyStore
	dlq       kafka.DeadLetterPublisher
	metrics   *Metrics
	logger    *slog.Logger

	shards []chan Job

	mu      sync.Mutex
	clients map[string]*clientState
}

// NewQueue creates a queue. delivered and dlq may be nil.
func NewQueue(cfg Config, sender Sender, delivered kafka.IdempotencyStore, dlq kafka.DeadLetterPublisher, metrics *Metrics, logger *slog.Logger) *Queue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultConfig().InitialBackoff
	}
	if cfg.MaxBackoff < cfg.InitialBackoff {
		cfg.MaxBackoff = cfg.InitialBackoff
	}

	q := &Queue{
		cfg:       cfg,
		sender:    sender,
		delivered: delivered,
		dlq:       dlq,
		metrics:   metrics,
		logger:    logger,
		shards:    make([]chan Job, cfg.Workers),
		clients:   make(map[string]*clientState),
	}
	for i := range q.shards {
		q.shards[i] = make(chan Job, cfg.QueueSize)
	}
	return q
}

// Enqueue queues a job without blocking. A full shard sends the job straight
// to the dead-letter topic.
func (q *Queue) Enqueue(ctx context.Context, job Job) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	q.mu.Lock()
	st, ok := q.clients[job.ClientID]
	if !ok {
		st = &clientState{}
		q.clients[job.ClientID] = st
	}
	st.pending++
	job.generation = st.generation
	q.mu.Unlock()

	select {
	case q.shards[q.shardOf(job.ClientID)] <- job:
		q.metrics.Enqueued.Inc()
		q.metrics.Depth.Inc()
	default:
		q.finish(job.ClientID)
		q.deadLetter(ctx, job, fmt.Errorf("mirror queue full"))
	}
}

// Drop discards every queued job of the client. A job being delivered
// finishes its current attempt.
func (q *Queue) Drop(clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if st, ok := q.clients[clientID]; ok {
		st.generation++
	}
}

// Run starts the workers and blocks until ctx is canceled and every worker
// has returned. Jobs still queued at that point are lost.
func (q *Queue) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	for i, ch := range q.shards {
		wg.Add(1)
		go func(worker int, ch <-chan Job) {
			defer wg.Done()
			q.work(ctx, worker, ch)
		}(i, ch)
	}

	q.logger.Info("basket mirror started", slog.Int("workers", len(q.shards)))
	wg.Wait()
	q.logger.Info("basket mirror stopped")
	return nil
}

func (q *Queue) work(ctx context.Context, worker int, jobs <-chan Job) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-jobs:
			q.metrics.Depth.Dec()
			q.process(ctx, worker, job)
			q.finish(job.ClientID)
		}
	}
}

func (q *Queue) process(ctx context.Context, worker int, job Job) {
	log := q.logger.With(
		slog.String("job_id", job.ID),
		slog.String("client_id", job.ClientID),
		slog.String("op", string(job.Op)),
	)

	if q.stale(job) {
		q.metrics.Dropped.WithLabelValues("reset").Inc()
		return
	}
	if q.delivered != nil {
		seen, err := q.delivered.Contains(ctx, job.ID)
		if err != nil {
			log.WarnContext(ctx, "delivered-token lookup failed", slog.String("error", err.Error()))
		}
		if seen {
			q.metrics.Duplicates.Inc()
			return
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.cfg.InitialBackoff
	b.MaxInterval = q.cfg.MaxBackoff

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if q.stale(job) {
			return struct{}{}, backoff.Permanent(errStale)
		}
		err := q.sender.Send(ctx, job)
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrNoSession), !apperrors.IsRetryable(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(q.cfg.MaxAttempts),
		backoff.WithNotify(func(err error, wait time.Duration) {
			q.metrics.Retries.Inc()
			log.DebugContext(ctx, "mirror delivery failed, retrying",
				slog.Duration("wait", wait),
				slog.String("error", err.Error()),
			)
		}),
	)

	switch {
	case err == nil:
		q.metrics.Delivered.Inc()
		if q.delivered != nil {
			if err := q.delivered.Add(ctx, job.ID); err != nil {
				log.WarnContext(ctx, "failed to record delivered token", slog.String("error", err.Error()))
			}
		}
	case errors.Is(err, errStale):
		q.metrics.Dropped.WithLabelValues("reset").Inc()
	case errors.Is(err, ErrNoSession):
		q.metrics.Dropped.WithLabelValues("no_session").Inc()
	case ctx.Err() != nil:
		log.Warn("mirror job abandoned on shutdown")
	default:
		log.WarnContext(ctx, "mirror delivery failed", slog.String("error", err.Error()))
		q.deadLetter(ctx, job, err, strconv.Itoa(worker))
	}
}

func (q *Queue) deadLetter(ctx context.Context, job Job, cause error, worker ...string) {
	q.metrics.DeadLettered.Inc()
	if q.dlq == nil {
		q.logger.ErrorContext(ctx, "mirror job lost, no dead-letter topic",
			slog.String("job_id", job.ID),
			slog.String("client_id", job.ClientID),
			slog.String("error", cause.Error()),
		)
		return
	}

	value, err := json.Marshal(job)
	if err != nil {
		q.logger.ErrorContext(ctx, "failed to encode mirror job", slog.String("error", err.Error()))
		return
	}
	group := "basket-mirror"
	if len(worker) > 0 {
		group += "-" + worker[0]
	}
	msg := kafkago.Message{
		Topic: Topic,
		Key:   []byte(job.ClientID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("basket.mirror." + string(job.Op))},
		},
	}
	if err := q.dlq.Publish(context.WithoutCancel(ctx), msg, cause, group); err != nil {
		q.logger.ErrorContext(ctx, "failed to dead-letter mirror job",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (q *Queue) stale(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.clients[job.ClientID]
	return ok && st.generation != job.generation
}

func (q *Queue) finish(clientID string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.clients[clientID]
	if !ok {
		return
	}
	st.pending--
	if st.pending <= 0 {
		delete(q.clients, clientID)
	}
}

func (q *Queue) shardOf(clientID string) int {
	return int(xxhash.Sum64String(clientID) % uint64(len(q.shards)))
}
