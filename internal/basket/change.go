package basket

import (
	"context"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
)

// ChangeKind names a basket mutation.
type ChangeKind string

const (
	ChangeLineAdded     ChangeKind = "line_added"
	ChangeLineRemoved   ChangeKind = "line_removed"
	ChangeQuantitySet   ChangeKind = "quantity_set"
	ChangeSelected      ChangeKind = "selected"
	ChangeSelectedAll   ChangeKind = "selected_all"
	ChangeLinesReplaced ChangeKind = "lines_replaced"
	ChangeModeSet       ChangeKind = "mode_set"
	ChangeCleared       ChangeKind = "cleared"
	ChangeReset         ChangeKind = "reset"
)

// Change is delivered to subscribers after a mutation has been committed.
// Basket is the state after the change; Lines holds the lines the change
// touched in their new form, and Removed the variant ids it deleted.
type Change struct {
	Kind     ChangeKind
	ClientID string
	Basket   *domain.Basket
	Lines    []domain.BasketLine
	Removed  []string
}

// Subscriber reacts to committed basket changes. Subscribers run
// synchronously in registration order and must not fail the mutation, so
// they log their own errors.
type Subscriber interface {
	OnChange(ctx context.Context, change Change)
}

// SubscriberFunc adapts a function to Subscriber.
type SubscriberFunc func(ctx context.Context, change Change)

// OnChange calls f.
func (f SubscriberFunc) OnChange(ctx context.Context, change Change) { f(ctx, change) }
