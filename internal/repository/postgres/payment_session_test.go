package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/pkg/database"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

var fixedNow = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) (*PaymentSessionRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := NewPaymentSessionRepository(mock, nil)
	repo.now = func() time.Time { return fixedNow }
	return repo, mock
}

func sampleSession() *domain.PaymentSession {
	s := &domain.PaymentSession{
		ID:             "7b0c1a52-63a4-4c8e-9f0e-0d4f3f3c2a11",
		ClientID:       "client-0001",
		Stage:          domain.StageDelivery,
		Currency:       "CZK",
		IdempotencyKey: "0d7c6a3e-55c1-4b7e-bb51-0a2b8d4c9e10",
		DeliveryDetails: &domain.DeliveryDetails{
			Email: "jana@example.cz",
			PickupPoint: &domain.PickupPoint{
				Carrier: "zasilkovna", PointID: "123", PointName: "Praha 1",
			},
		},
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	s.SetLines([]domain.BasketLine{
		{ProductVariantID: "V1", Quantity: 2, UnitPrice: decimal.RequireFromString("10.00"), Selected: true},
	})
	return s
}

func columns() []string {
	return []string{
		"id", "client_id", "stage", "lines", "total_amount", "currency",
		"delivery_details", "payment_method", "order_id", "payment_url", "failure_reason",
		"idempotency_key", "created_at", "updated_at", "submitted_at",
	}
}

func row(t *testing.T, s *domain.PaymentSession) []any {
	t.Helper()
	lines, err := json.Marshal(s.Lines)
	require.NoError(t, err)

	var delivery []byte
	if s.DeliveryDetails != nil {
		delivery, err = json.Marshal(s.DeliveryDetails)
		require.NoError(t, err)
	}

	return []any{
		s.ID, s.ClientID, string(s.Stage), lines, s.TotalAmount.StringFixed(2), s.Currency,
		delivery, methodType(s.PaymentMethod), nullableString(s.OrderID), nullableString(s.PaymentURL),
		nullableString(s.FailureReason), s.IdempotencyKey, s.CreatedAt, s.UpdatedAt, s.SubmittedAt,
	}
}

func TestCreate(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()

	mock.ExpectExec("INSERT INTO payment_sessions").
		WithArgs(
			s.ID, s.ClientID, "delivery", pgxmock.AnyArg(), "20.00", "CZK",
			pgxmock.AnyArg(), (*string)(nil), s.IdempotencyKey, s.CreatedAt, s.UpdatedAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Create(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_ExecError(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("INSERT INTO payment_sessions").
		WillReturnError(errors.New("duplicate key"))

	err := repo.Create(context.Background(), sampleSession())
	assert.ErrorContains(t, err, "insert payment session")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()
	s.PaymentMethod = &domain.PaymentMethod{Type: domain.PaymentCard}
	s.FailureReason = "card declined"

	mock.ExpectQuery("SELECT .+ FROM payment_sessions WHERE id").
		WithArgs(s.ID).
		WillReturnRows(pgxmock.NewRows(columns()).AddRow(row(t, s)...))

	got, err := repo.GetByID(context.Background(), s.ID)
	require.NoError(t, err)

	assert.Equal(t, domain.StageDelivery, got.Stage)
	assert.True(t, got.TotalAmount.Equal(decimal.NewFromInt(20)))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, "V1", got.Lines[0].ProductVariantID)
	require.NotNil(t, got.DeliveryDetails)
	require.NotNil(t, got.DeliveryDetails.PickupPoint)
	assert.Equal(t, "Praha 1", got.DeliveryDetails.PickupPoint.PointName)
	require.NotNil(t, got.PaymentMethod)
	assert.Equal(t, domain.PaymentCard, got.PaymentMethod.Type)
	assert.Equal(t, "card declined", got.FailureReason)
	assert.Empty(t, got.OrderID)
	assert.Nil(t, got.SubmittedAt)
	assert.Equal(t, s.IdempotencyKey, got.IdempotencyKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NotFound(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectQuery("SELECT .+ FROM payment_sessions WHERE id").
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(columns()))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetActiveByClient(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()
	s.DeliveryDetails = nil

	mock.ExpectQuery("SELECT .+ FROM payment_sessions\\s+WHERE client_id = \\$1 AND stage <> 'submitted'").
		WithArgs(s.ClientID).
		WillReturnRows(pgxmock.NewRows(columns()).AddRow(row(t, s)...))

	got, err := repo.GetActiveByClient(context.Background(), s.ClientID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, got.ID)
	assert.Nil(t, got.DeliveryDetails)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()
	s.Stage = domain.StagePayment

	mock.ExpectExec("UPDATE payment_sessions").
		WithArgs(
			"payment", pgxmock.AnyArg(), "20.00", "CZK", pgxmock.AnyArg(),
			(*string)(nil), (*string)(nil), fixedNow, s.ID,
			fixedNow.Add(-domain.SubmissionClaimTTL),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.Update(context.Background(), s))
	assert.Equal(t, fixedNow, s.UpdatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_SubmittedIsConflict(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("UPDATE payment_sessions").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), sampleSession())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_LiveClaimIsConflict(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()
	s.Stage = domain.StageDelivery

	// Moving a session back while its submission is in flight would strand
	// the order the claim holder is creating.
	mock.ExpectExec(`(?s)UPDATE payment_sessions.+submitting_at = NULL.+AND \(submitting_at IS NULL OR submitting_at < \$10\)`).
		WithArgs(
			"delivery", pgxmock.AnyArg(), "20.00", "CZK", pgxmock.AnyArg(),
			(*string)(nil), (*string)(nil), fixedNow, s.ID,
			fixedNow.Add(-2*time.Minute),
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.Update(context.Background(), s)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimSubmission(t *testing.T) {
	stale := fixedNow.Add(-2 * time.Minute)

	t.Run("claimed", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec("UPDATE payment_sessions\\s+SET submitting_at").
			WithArgs("s1", fixedNow, "card", stale).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		ok, err := repo.ClaimSubmission(context.Background(), "s1", "card", stale)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		repo, mock := newTestRepo(t)
		mock.ExpectExec("UPDATE payment_sessions\\s+SET submitting_at").
			WithArgs("s1", fixedNow, "card", stale).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))

		ok, err := repo.ClaimSubmission(context.Background(), "s1", "card", stale)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCompleteSubmission(t *testing.T) {
	repo, mock := newTestRepo(t)
	s := sampleSession()
	s.OrderID = "ord-1"
	submitted := fixedNow.Add(time.Second)
	s.SubmittedAt = &submitted

	mock.ExpectExec("UPDATE payment_sessions\\s+SET stage = 'submitted'").
		WithArgs(s.ID, "ord-1", (*string)(nil), submitted).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.CompleteSubmission(context.Background(), s))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCompleteSubmission_WithoutClaim(t *testing.T) {
	repo, mock := newTestRepo(t)

	mock.ExpectExec("UPDATE payment_sessions\\s+SET stage = 'submitted'").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.CompleteSubmission(context.Background(), sampleSession())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestReleaseSubmission(t *testing.T) {
	repo, mock := newTestRepo(t)
	reason := "the shop is temporarily unavailable"

	mock.ExpectExec("UPDATE payment_sessions\\s+SET submitting_at = NULL").
		WithArgs("s1", &reason, fixedNow).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	require.NoError(t, repo.ReleaseSubmission(context.Background(), "s1", reason))
	assert.NoError(t, mock.ExpectationsWereMet())
}
