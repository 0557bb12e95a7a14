package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/pkg/database"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

const sessionColumns = `id, client_id, stage, lines, total_amount::text, currency,
	delivery_details, payment_method, order_id, payment_url, failure_reason,
	idempotency_key, created_at, updated_at, submitted_at`

// PaymentSessionRepository implements repository.PaymentSessionRepository
// using PostgreSQL.
type PaymentSessionRepository struct {
	db     database.DBTX
	tracer *database.QueryTracer
	now    func() time.Time
}

// NewPaymentSessionRepository creates a repository over db. tracer may be nil.
func NewPaymentSessionRepository(db database.DBTX, tracer *database.QueryTracer) *PaymentSessionRepository {
	return &PaymentSessionRepository{
		db:     db,
		tracer: tracer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create inserts a new payment session.
func (r *PaymentSessionRepository) Create(ctx context.Context, s *domain.PaymentSession) (err error) {
	linesJSON, deliveryJSON, err := marshalPayloads(s)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payment_sessions (
			id, client_id, stage, lines, total_amount, currency,
			delivery_details, payment_method, idempotency_key,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	ctx, end := r.tracer.Trace(ctx, "CreatePaymentSession", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query,
		s.ID,
		s.ClientID,
		string(s.Stage),
		linesJSON,
		s.TotalAmount.StringFixed(2),
		s.Currency,
		deliveryJSON,
		methodType(s.PaymentMethod),
		s.IdempotencyKey,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment session: %w", err)
	}
	return nil
}

// GetByID retrieves a payment session by its ID.
func (r *PaymentSessionRepository) GetByID(ctx context.Context, id string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions WHERE id = $1`
	return r.scanOne(ctx, "GetPaymentSession", query, id)
}

// GetActiveByClient retrieves the newest open session of a client.
func (r *PaymentSessionRepository) GetActiveByClient(ctx context.Context, clientID string) (*domain.PaymentSession, error) {
	query := `SELECT ` + sessionColumns + ` FROM payment_sessions
		WHERE client_id = $1 AND stage <> 'submitted'
		ORDER BY created_at DESC
		LIMIT 1`
	return r.scanOne(ctx, "GetActivePaymentSession", query, clientID)
}

// Update saves the mutable fields of an open session. A submitted session
// is never overwritten, nor is one held by a live submission claim. A stale
// claim is dropped.
func (r *PaymentSessionRepository) Update(ctx context.Context, s *domain.PaymentSession) (err error) {
	linesJSON, deliveryJSON, err := marshalPayloads(s)
	if err != nil {
		return err
	}
	s.UpdatedAt = r.now()

	query := `
		UPDATE payment_sessions
		SET stage = $1, lines = $2, total_amount = $3, currency = $4,
			delivery_details = $5, payment_method = $6, failure_reason = $7,
			updated_at = $8, submitting_at = NULL
		WHERE id = $9 AND stage <> 'submitted'
			AND (submitting_at IS NULL OR submitting_at < $10)`

	ctx, end := r.tracer.Trace(ctx, "UpdatePaymentSession", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query,
		string(s.Stage),
		linesJSON,
		s.TotalAmount.StringFixed(2),
		s.Currency,
		deliveryJSON,
		methodType(s.PaymentMethod),
		nullableString(s.FailureReason),
		s.UpdatedAt,
		s.ID,
		s.UpdatedAt.Add(-domain.SubmissionClaimTTL),
	)
	if err != nil {
		return fmt.Errorf("update payment session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("payment session %s is submitted, being submitted or gone", s.ID))
	}
	return nil
}

// ClaimSubmission takes the submission claim with a conditional update.
func (r *PaymentSessionRepository) ClaimSubmission(ctx context.Context, id, method string, staleBefore time.Time) (ok bool, err error) {
	query := `
		UPDATE payment_sessions
		SET submitting_at = $2, payment_method = $3, failure_reason = NULL, updated_at = $2
		WHERE id = $1 AND stage = 'payment'
			AND (submitting_at IS NULL OR submitting_at < $4)`

	ctx, end := r.tracer.Trace(ctx, "ClaimPaymentSubmission", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id, r.now(), method, staleBefore)
	if err != nil {
		return false, fmt.Errorf("claim payment submission: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// CompleteSubmission records the order and marks the session submitted.
func (r *PaymentSessionRepository) CompleteSubmission(ctx context.Context, s *domain.PaymentSession) (err error) {
	query := `
		UPDATE payment_sessions
		SET stage = 'submitted', order_id = $2, payment_url = $3,
			failure_reason = NULL, submitting_at = NULL,
			submitted_at = $4, updated_at = $4
		WHERE id = $1 AND stage = 'payment' AND submitting_at IS NOT NULL`

	ctx, end := r.tracer.Trace(ctx, "CompletePaymentSubmission", query)
	defer func() { end(err) }()

	submittedAt := r.now()
	if s.SubmittedAt != nil {
		submittedAt = *s.SubmittedAt
	}

	ct, err := r.db.Exec(ctx, query, s.ID, s.OrderID, nullableString(s.PaymentURL), submittedAt)
	if err != nil {
		return fmt.Errorf("complete payment submission: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.Conflict(fmt.Sprintf("payment session %s is not being submitted", s.ID))
	}
	return nil
}

// ReleaseSubmission clears the claim and stores the failure reason.
func (r *PaymentSessionRepository) ReleaseSubmission(ctx context.Context, id, failureReason string) (err error) {
	query := `
		UPDATE payment_sessions
		SET submitting_at = NULL, failure_reason = $2, updated_at = $3
		WHERE id = $1 AND stage = 'payment'`

	ctx, end := r.tracer.Trace(ctx, "ReleasePaymentSubmission", query)
	defer func() { end(err) }()

	if _, err = r.db.Exec(ctx, query, id, nullableString(failureReason), r.now()); err != nil {
		return fmt.Errorf("release payment submission: %w", err)
	}
	return nil
}

func (r *PaymentSessionRepository) scanOne(ctx context.Context, op, query string, arg any) (_ *domain.PaymentSession, err error) {
	ctx, end := r.tracer.Trace(ctx, op, query)
	defer func() {
		if errors.Is(err, apperrors.ErrNotFound) {
			end(nil)
			return
		}
		end(err)
	}()

	var (
		s             domain.PaymentSession
		stage         string
		linesJSON     []byte
		total         string
		deliveryJSON  []byte
		paymentMethod *string
		orderID       *string
		paymentURL    *string
		failureReason *string
	)

	err = r.db.QueryRow(ctx, query, arg).Scan(
		&s.ID,
		&s.ClientID,
		&stage,
		&linesJSON,
		&total,
		&s.Currency,
		&deliveryJSON,
		&paymentMethod,
		&orderID,
		&paymentURL,
		&failureReason,
		&s.IdempotencyKey,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.SubmittedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan payment session: %w", err)
	}

	s.Stage = domain.Stage(stage)
	if s.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total amount of session %s: %w", s.ID, err)
	}
	if err := json.Unmarshal(linesJSON, &s.Lines); err != nil {
		return nil, fmt.Errorf("unmarshal lines of session %s: %w", s.ID, err)
	}
	if len(deliveryJSON) > 0 {
		s.DeliveryDetails = &domain.DeliveryDetails{}
		if err := json.Unmarshal(deliveryJSON, s.DeliveryDetails); err != nil {
			return nil, fmt.Errorf("unmarshal delivery details of session %s: %w", s.ID, err)
		}
	}
	if paymentMethod != nil {
		s.PaymentMethod = &domain.PaymentMethod{Type: *paymentMethod}
	}
	if orderID != nil {
		s.OrderID = *orderID
	}
	if paymentURL != nil {
		s.PaymentURL = *paymentURL
	}
	if failureReason != nil {
		s.FailureReason = *failureReason
	}
	return &s, nil
}

func marshalPayloads(s *domain.PaymentSession) (lines, delivery []byte, err error) {
	snapshot := s.Lines
	if snapshot == nil {
		snapshot = []domain.BasketLine{}
	}
	lines, err = json.Marshal(snapshot)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal lines: %w", err)
	}
	if s.DeliveryDetails != nil {
		delivery, err = json.Marshal(s.DeliveryDetails)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal delivery details: %w", err)
		}
	}
	return lines, delivery, nil
}

func methodType(m *domain.PaymentMethod) *string {
	if m == nil || m.Type == "" {
		return nil
	}
	return &m.Type
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
