package mirror

import (
	"context"
	"errors"
	"time"

	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// Op is the server basket operation a job performs.
type Op string

const (
	OpUpsert Op = "upsert"
	OpUpdate Op = "update"
	OpRemove Op = "remove"
	OpClear  Op = "clear"
)

// Job is one basket mutation to replay on the server basket. ID doubles as
// the Idempotency-Key of the request.
type Job struct {
	ID         string            `json:"id"`
	ClientID   string            `json:"clientId"`
	Op         Op                `json:"op"`
	Item       remote.BasketItem `json:"item"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`

	generation uint64
}

// ErrNoSession means the client has no access token any more; the job is
// discarded.
var ErrNoSession = errors.New("mirror: client has no session")

// Sender performs a job against the server basket.
type Sender interface {
	Send(ctx context.Context, job Job) error
}

// BasketAPI is the part of the remote client used to replay jobs.
type BasketAPI interface {
	UpsertBasketItem(ctx context.Context, access, idemKey string, item remote.BasketItem) error
	UpdateBasketItem(ctx context.Context, access, idemKey, variantID string, quantity int, selected bool) error
	RemoveBasketItem(ctx context.Context, access, idemKey, variantID string) error
	ClearBasket(ctx context.Context, access, idemKey string) error
}

// TokenSource returns the access token of a client, "" when anonymous.
type TokenSource interface {
	AccessToken(ctx context.Context, clientID string) (string, error)
}

// RemoteSender replays jobs through the remote API with the client's
// current token.
type RemoteSender struct {
	api    BasketAPI
	tokens TokenSource
}

// NewRemoteSender creates a sender.
func NewRemoteSender(api BasketAPI, tokens TokenSource) *RemoteSender {
	return &RemoteSender{api: api, tokens: tokens}
}

// Send implements Sender.
func (s *RemoteSender) Send(ctx context.Context, job Job) error {
	token, err := s.tokens.AccessToken(ctx, job.ClientID)
	if err != nil {
		return err
	}
	if token == "" {
		return ErrNoSession
	}

	switch job.Op {
	case OpUpsert:
		return s.api.UpsertBasketItem(ctx, token, job.ID, job.Item)
	case OpUpdate:
		err := s.api.UpdateBasketItem(ctx, token, job.ID, job.Item.ProductVariantID, job.Item.Quantity, job.Item.Selected)
		if errors.Is(err, apperrors.ErrNotFound) {
			// The line never reached the server basket, e.g. its login push
			// failed. The job carries the whole line, so create it.
			return s.api.UpsertBasketItem(ctx, token, job.ID+"-upsert", job.Item)
		}
		return err
	case OpRemove:
		err := s.api.RemoveBasketItem(ctx, token, job.ID, job.Item.ProductVariantID)
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil
		}
		return err
	case OpClear:
		return s.api.ClearBasket(ctx, token, job.ID)
	}
	return errors.New("mirror: unknown op " + string(job.Op))
}
