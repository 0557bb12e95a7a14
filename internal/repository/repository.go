package repository

import (
	"context"
	"time"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
)

// PaymentSessionRepository persists payment wizard sessions.
type PaymentSessionRepository interface {
	// Create inserts a new session.
	Create(ctx context.Context, session *domain.PaymentSession) error

	// GetByID returns the session or an ErrNotFound error.
	GetByID(ctx context.Context, id string) (*domain.PaymentSession, error)

	// GetActiveByClient returns the newest session of the client that is not
	// yet submitted.
	GetActiveByClient(ctx context.Context, clientID string) (*domain.PaymentSession, error)

	// Update saves stage, lines and stage payloads of a session that is not
	// submitted.
	Update(ctx context.Context, session *domain.PaymentSession) error

	// ClaimSubmission marks a session at the payment stage as being submitted
	// with the given method. It reports false when the session left the
	// payment stage or another claim newer than staleBefore holds it.
	ClaimSubmission(ctx context.Context, id, method string, staleBefore time.Time) (bool, error)

	// CompleteSubmission stores the order result and moves the claimed
	// session to submitted.
	CompleteSubmission(ctx context.Context, session *domain.PaymentSession) error

	// ReleaseSubmission drops the claim and records why submission failed.
	ReleaseSubmission(ctx context.Context, id, failureReason string) error
}
