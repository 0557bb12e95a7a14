// Package payment runs the three-step payment wizard: basket content,
// delivery details, payment method, then submission to the shop.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	"github.com/pavelchamgl/reli.one-sub000/internal/repository"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/tracing"
	"github.com/pavelchamgl/reli.one-sub000/pkg/validator"
)

const (
	staleClaimAfter = domain.SubmissionClaimTTL
	submitTimeout   = 30 * time.Second
)

// BasketSource is the part of the basket store the flow reads and trims.
type BasketSource interface {
	Get(ctx context.Context, clientID string) (*domain.Basket, error)
	RemoveLines(ctx context.Context, clientID string, variantIDs []string) (*domain.Basket, error)
}

// OrderSubmitter creates the order at the shop.
type OrderSubmitter interface {
	CreateOrder(ctx context.Context, access, idemKey string, req remote.OrderRequest) (*remote.OrderResult, error)
}

// TokenSource returns the client's access token, or "" for a guest.
type TokenSource interface {
	AccessToken(ctx context.Context, clientID string) (string, error)
}

// EventPublisher announces submitted payments.
type EventPublisher interface {
	PublishPaymentSubmitted(ctx context.Context, session *domain.PaymentSession)
}

// AdvanceInput carries the payload of the stage being left. Nil fields reuse
// what the session already holds.
type AdvanceInput struct {
	Delivery *domain.DeliveryDetails `json:"deliveryDetails,omitempty"`
	Payment  *domain.PaymentMethod   `json:"paymentMethod,omitempty"`
}

// Flow implements the payment wizard state machine.
type Flow struct {
	repo   repository.PaymentSessionRepository
	basket BasketSource
	orders OrderSubmitter
	tokens TokenSource
	events EventPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewFlow creates a payment flow.
func NewFlow(
	repo repository.PaymentSessionRepository,
	basket BasketSource,
	orders OrderSubmitter,
	tokens TokenSource,
	events EventPublisher,
	logger *slog.Logger,
) *Flow {
	return &Flow{
		repo:   repo,
		basket: basket,
		orders: orders,
		tokens: tokens,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Start returns the client's open session or opens a new one at the content
// stage with the currently selected lines.
func (f *Flow) Start(ctx context.Context, clientID string) (*domain.PaymentSession, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}

	ctx, span := tracing.StartSpan(ctx, "payment", "Start")
	defer span.End()

	b, err := f.basket.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load basket: %w", err)
	}

	active, err := f.repo.GetActiveByClient(ctx, clientID)
	switch {
	case err == nil:
		if active.Stage == domain.StageContent {
			active.SetLines(b.SelectedLines())
			active.Currency = b.Currency
			if err := f.repo.Update(ctx, active); err != nil {
				return nil, fmt.Errorf("refresh payment session: %w", err)
			}
		}
		return active, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, fmt.Errorf("find active payment session: %w", err)
	}

	now := f.now()
	s := &domain.PaymentSession{
		ID:             uuid.New().String(),
		ClientID:       clientID,
		Stage:          domain.StageContent,
		Currency:       b.Currency,
		IdempotencyKey: uuid.New().String(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.SetLines(b.SelectedLines())

	if err := f.repo.Create(ctx, s); err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	f.logger.InfoContext(ctx, "payment session started",
		slog.String("session_id", s.ID),
		slog.String("client_id", clientID),
		slog.Int("lines", len(s.Lines)),
	)
	return s, nil
}

// Get returns a session owned by clientID.
func (f *Flow) Get(ctx context.Context, clientID, sessionID string) (*domain.PaymentSession, error) {
	s, err := f.repo.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("payment session", sessionID)
		}
		return nil, fmt.Errorf("get payment session: %w", err)
	}
	if s.ClientID != clientID {
		return nil, apperrors.NotFound("payment session", sessionID)
	}
	return s, nil
}

// Advance validates the current stage and moves to the next one. A failed
// check leaves the stored session untouched. Advancing a submitted session
// returns it as is.
func (f *Flow) Advance(ctx context.Context, clientID, sessionID string, in AdvanceInput) (*domain.PaymentSession, error) {
	ctx, span := tracing.StartSpan(ctx, "payment", "Advance")
	defer span.End()

	s, err := f.Get(ctx, clientID, sessionID)
	if err != nil {
		return nil, err
	}

	switch s.Stage {
	case domain.StageContent:
		return f.leaveContent(ctx, s)
	case domain.StageDelivery:
		return f.leaveDelivery(ctx, s, in.Delivery)
	case domain.StagePayment:
		return f.submit(ctx, s, in.Payment)
	case domain.StageSubmitted:
		return s, nil
	}
	return nil, fmt.Errorf("payment session %s has unknown stage %q", s.ID, s.Stage)
}

// Back moves one stage backwards keeping everything entered so far.
func (f *Flow) Back(ctx context.Context, clientID, sessionID string) (*domain.PaymentSession, error) {
	s, err := f.Get(ctx, clientID, sessionID)
	if err != nil {
		return nil, err
	}

	prev, ok := s.Stage.Previous()
	if !ok {
		if s.IsTerminal() {
			return nil, apperrors.Conflict("payment was already submitted")
		}
		return nil, apperrors.InvalidInput("already at the first step")
	}

	s.Stage = prev
	if err := f.repo.Update(ctx, s); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return nil, apperrors.Conflict("payment is being submitted")
		}
		return nil, fmt.Errorf("save payment session: %w", err)
	}
	return s, nil
}

func (f *Flow) leaveContent(ctx context.Context, s *domain.PaymentSession) (*domain.PaymentSession, error) {
	b, err := f.basket.Get(ctx, s.ClientID)
	if err != nil {
		return nil, fmt.Errorf("load basket: %w", err)
	}

	lines := b.SelectedLines()
	if len(lines) == 0 {
		return nil, apperrors.Validation("select at least one item to continue",
			map[string]string{"lines": "at least one selected item is required"})
	}

	s.SetLines(lines)
	s.Currency = b.Currency
	s.Stage = domain.StageDelivery
	if err := f.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("save payment session: %w", err)
	}
	return s, nil
}

func (f *Flow) leaveDelivery(ctx context.Context, s *domain.PaymentSession, details *domain.DeliveryDetails) (*domain.PaymentSession, error) {
	if details == nil {
		details = s.DeliveryDetails
	}
	if details == nil {
		return nil, apperrors.Validation("delivery details are required",
			map[string]string{"deliveryDetails": "is required"})
	}
	if err := validateStage(details, "delivery details are incomplete"); err != nil {
		return nil, err
	}

	s.DeliveryDetails = details
	s.Stage = domain.StagePayment
	if err := f.repo.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("save payment session: %w", err)
	}
	return s, nil
}

func (f *Flow) submit(ctx context.Context, s *domain.PaymentSession, method *domain.PaymentMethod) (*domain.PaymentSession, error) {
	if method == nil {
		method = s.PaymentMethod
	}
	if method == nil {
		return nil, apperrors.Validation("choose a payment method",
			map[string]string{"paymentMethod": "is required"})
	}
	if err := validateStage(method, "payment method is invalid"); err != nil {
		return nil, err
	}
	if s.DeliveryDetails == nil {
		return nil, apperrors.Validation("delivery details are required",
			map[string]string{"deliveryDetails": "is required"})
	}

	claimed, err := f.repo.ClaimSubmission(ctx, s.ID, method.Type, f.now().Add(-staleClaimAfter))
	if err != nil {
		return nil, fmt.Errorf("claim submission: %w", err)
	}
	if !claimed {
		return f.alreadySubmitting(ctx, s.ID)
	}
	s.PaymentMethod = method
	s.FailureReason = ""

	// The shop call and the bookkeeping after it must not be cut short by the
	// shopper closing the tab.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), submitTimeout)
	defer cancel()

	res, err := f.createOrder(ctx, s)
	if err != nil {
		s.FailureReason = failureReason(err)
		if relErr := f.repo.ReleaseSubmission(ctx, s.ID, s.FailureReason); relErr != nil {
			f.logger.ErrorContext(ctx, "failed to release payment claim",
				slog.String("session_id", s.ID),
				slog.String("error", relErr.Error()),
			)
		}
		f.logger.WarnContext(ctx, "payment submission failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	now := f.now()
	s.Stage = domain.StageSubmitted
	s.OrderID = res.OrderID
	s.PaymentURL = res.PaymentURL
	s.SubmittedAt = &now
	s.UpdatedAt = now

	if err := f.repo.CompleteSubmission(ctx, s); err != nil {
		return nil, fmt.Errorf("record submitted payment: %w", err)
	}

	if _, err := f.basket.RemoveLines(ctx, s.ClientID, s.VariantIDs()); err != nil {
		f.logger.WarnContext(ctx, "failed to remove submitted lines from basket",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()),
		)
	}
	f.events.PublishPaymentSubmitted(ctx, s)

	f.logger.InfoContext(ctx, "payment submitted",
		slog.String("session_id", s.ID),
		slog.String("order_id", s.OrderID),
		slog.String("total", s.TotalAmount.StringFixed(2)),
	)
	return s, nil
}

func (f *Flow) createOrder(ctx context.Context, s *domain.PaymentSession) (*remote.OrderResult, error) {
	token, err := f.tokens.AccessToken(ctx, s.ClientID)
	if err != nil {
		return nil, fmt.Errorf("read access token: %w", err)
	}
	res, err := f.orders.CreateOrder(ctx, token, s.IdempotencyKey, remote.NewOrderRequest(s))
	if err != nil {
		return nil, err
	}
	if res.OrderID == "" {
		return nil, apperrors.ServiceUnavailable("the shop did not confirm the order, please try again")
	}
	return res, nil
}

// alreadySubmitting resolves a lost claim: a finished submission is
// returned, one still in flight is a conflict.
func (f *Flow) alreadySubmitting(ctx context.Context, id string) (*domain.PaymentSession, error) {
	cur, err := f.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reload payment session: %w", err)
	}
	if cur.IsTerminal() {
		return cur, nil
	}
	return nil, apperrors.Conflict("payment is already being submitted")
}

func validateStage(v any, message string) error {
	err := validator.Validate(v)
	if err == nil {
		return nil
	}
	var ve *validator.ValidationError
	if errors.As(err, &ve) {
		return apperrors.Validation(message, ve.Fields())
	}
	return apperrors.InvalidInput(message)
}

func failureReason(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	return "payment could not be submitted, please try again"
}
