package basket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// Basket limits.
const (
	MaxQuantityPerLine = 100
	MaxLinesPerBasket  = 50
	maxCommitAttempts  = 3
)

// MaxUnitPrice is the highest unit price accepted on add.
var MaxUnitPrice = decimal.NewFromInt(100_000)

// AddLineInput describes a variant to put in the basket. Quantity may be
// negative to decrement an existing line.
type AddLineInput struct {
	ProductVariantID string
	Quantity         int
	UnitPrice        decimal.Decimal
	ProductID        string
	Name             string
	SKU              string
	ImageURL         string
}

// Store is the basket state container. The snapshot under the basket key is
// committed with a version compare-and-swap together with the derived keys;
// everything else is done by subscribers after the commit.
type Store struct {
	kv     storage.ClientStore
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	subs []Subscriber
}

// NewStore creates a basket store over kv.
func NewStore(kv storage.ClientStore, logger *slog.Logger) *Store {
	return &Store{
		kv:     kv,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Subscribe registers sub for every later change.
func (s *Store) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// Get returns the client's basket, or a new empty one.
func (s *Store) Get(ctx context.Context, clientID string) (*domain.Basket, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}
	return s.load(ctx, clientID)
}

// AddLine inserts a line or adds to an existing one. A resulting quantity of
// zero or less leaves the basket untouched without an error. The unit price
// of an existing line is kept.
func (s *Store) AddLine(ctx context.Context, clientID string, in AddLineInput) (*domain.Basket, error) {
	if in.ProductVariantID == "" {
		return nil, apperrors.InvalidInput("product variant id is required")
	}
	if in.UnitPrice.IsNegative() {
		return nil, apperrors.InvalidInput("unit price must not be negative")
	}
	if in.UnitPrice.GreaterThan(MaxUnitPrice) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("unit price must not exceed %s", MaxUnitPrice.StringFixed(2)))
	}

	return s.mutate(ctx, clientID, ChangeLineAdded, func(b *domain.Basket) (*Change, error) {
		i := b.FindLine(in.ProductVariantID)
		if i < 0 {
			if in.Quantity <= 0 {
				return nil, nil
			}
			if in.Quantity > MaxQuantityPerLine {
				return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerLine))
			}
			if len(b.Lines) >= MaxLinesPerBasket {
				return nil, apperrors.InvalidInput(fmt.Sprintf("basket must not contain more than %d lines", MaxLinesPerBasket))
			}
			l := domain.BasketLine{
				ProductVariantID: in.ProductVariantID,
				ProductID:        in.ProductID,
				Name:             in.Name,
				SKU:              in.SKU,
				ImageURL:         in.ImageURL,
				Quantity:         in.Quantity,
				UnitPrice:        in.UnitPrice,
			}
			b.Lines = append(b.Lines, l)
			return &Change{Lines: []domain.BasketLine{l}}, nil
		}

		qty := b.Lines[i].Quantity + in.Quantity
		if qty <= 0 {
			return nil, nil
		}
		if qty > MaxQuantityPerLine {
			return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerLine))
		}
		b.Lines[i].Quantity = qty
		return &Change{Lines: []domain.BasketLine{b.Lines[i]}}, nil
	})
}

// RemoveLine deletes a line. Removing an absent line is not an error.
func (s *Store) RemoveLine(ctx context.Context, clientID, variantID string) (*domain.Basket, error) {
	return s.RemoveLines(ctx, clientID, []string{variantID})
}

// RemoveLines deletes every listed line that is present.
func (s *Store) RemoveLines(ctx context.Context, clientID string, variantIDs []string) (*domain.Basket, error) {
	return s.mutate(ctx, clientID, ChangeLineRemoved, func(b *domain.Basket) (*Change, error) {
		drop := make(map[string]bool, len(variantIDs))
		for _, id := range variantIDs {
			drop[id] = true
		}
		kept := b.Lines[:0]
		var removed []string
		for _, l := range b.Lines {
			if drop[l.ProductVariantID] {
				removed = append(removed, l.ProductVariantID)
				continue
			}
			kept = append(kept, l)
		}
		if len(removed) == 0 {
			return nil, nil
		}
		b.Lines = kept
		return &Change{Removed: removed}, nil
	})
}

// SetQuantity sets an absolute quantity. Values below one are rejected;
// callers remove the line instead.
func (s *Store) SetQuantity(ctx context.Context, clientID, variantID string, quantity int) (*domain.Basket, error) {
	if quantity < 1 {
		return nil, apperrors.Validation("quantity must be at least 1, remove the line instead",
			map[string]string{"quantity": "must be at least 1"})
	}
	if quantity > MaxQuantityPerLine {
		return nil, apperrors.Validation(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerLine),
			map[string]string{"quantity": fmt.Sprintf("must be at most %d", MaxQuantityPerLine)})
	}

	return s.mutate(ctx, clientID, ChangeQuantitySet, func(b *domain.Basket) (*Change, error) {
		i := b.FindLine(variantID)
		if i < 0 {
			return nil, apperrors.NotFound("basket line", variantID)
		}
		if b.Lines[i].Quantity == quantity {
			return nil, nil
		}
		b.Lines[i].Quantity = quantity
		return &Change{Lines: []domain.BasketLine{b.Lines[i]}}, nil
	})
}

// ToggleSelected sets the selected flag of one line.
func (s *Store) ToggleSelected(ctx context.Context, clientID, variantID string, selected bool) (*domain.Basket, error) {
	return s.mutate(ctx, clientID, ChangeSelected, func(b *domain.Basket) (*Change, error) {
		i := b.FindLine(variantID)
		if i < 0 {
			return nil, apperrors.NotFound("basket line", variantID)
		}
		if b.Lines[i].Selected == selected {
			return nil, nil
		}
		b.Lines[i].Selected = selected
		return &Change{Lines: []domain.BasketLine{b.Lines[i]}}, nil
	})
}

// SelectAll sets the selected flag on every line.
func (s *Store) SelectAll(ctx context.Context, clientID string, selected bool) (*domain.Basket, error) {
	return s.mutate(ctx, clientID, ChangeSelectedAll, func(b *domain.Basket) (*Change, error) {
		var touched []domain.BasketLine
		for i := range b.Lines {
			if b.Lines[i].Selected != selected {
				b.Lines[i].Selected = selected
				touched = append(touched, b.Lines[i])
			}
		}
		if len(touched) == 0 {
			return nil, nil
		}
		return &Change{Lines: touched}, nil
	})
}

// ReplaceLines swaps the whole line list, used when the server basket
// becomes the source of truth after login.
func (s *Store) ReplaceLines(ctx context.Context, clientID string, lines []domain.BasketLine) (*domain.Basket, error) {
	return s.mutate(ctx, clientID, ChangeLinesReplaced, func(b *domain.Basket) (*Change, error) {
		b.Lines = append([]domain.BasketLine{}, lines...)
		return &Change{Lines: b.Lines}, nil
	})
}

// SetMode switches where the basket is authoritative.
func (s *Store) SetMode(ctx context.Context, clientID string, mode domain.BasketMode) (*domain.Basket, error) {
	if err := s.kv.Set(ctx, clientID, map[string]string{storage.KeyBasketMode: string(mode)}); err != nil {
		return nil, fmt.Errorf("set basket mode: %w", err)
	}
	b, err := s.load(ctx, clientID)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, Change{Kind: ChangeModeSet, ClientID: clientID, Basket: b})
	return b, nil
}

// Clear empties the basket. The mode is kept, so a logged-in client's
// basket stays mirrored.
func (s *Store) Clear(ctx context.Context, clientID string) error {
	return s.drop(ctx, clientID, ChangeCleared, storage.KeyBasket)
}

// Reset wipes the basket and its mode and tells every subscriber to forget
// derived state for the client.
func (s *Store) Reset(ctx context.Context, clientID string) error {
	return s.drop(ctx, clientID, ChangeReset, storage.KeyBasket, storage.KeyBasketMode)
}

func (s *Store) drop(ctx context.Context, clientID string, kind ChangeKind, keys ...string) error {
	if clientID == "" {
		return apperrors.InvalidInput("client id is required")
	}
	before, err := s.load(ctx, clientID)
	if err != nil {
		return err
	}
	keys = append(keys, storage.DerivedBasketKeys...)
	if err := s.kv.Delete(ctx, clientID, keys...); err != nil {
		return fmt.Errorf("delete basket: %w", err)
	}

	after := domain.NewBasket(clientID, s.now())
	if kind == ChangeCleared {
		after.Mode = before.Mode
	}
	removed := make([]string, len(before.Lines))
	for i, l := range before.Lines {
		removed[i] = l.ProductVariantID
	}
	s.notify(ctx, Change{Kind: kind, ClientID: clientID, Basket: after, Removed: removed})

	s.logger.InfoContext(ctx, "basket "+string(kind), slog.String("client_id", clientID))
	return nil
}

// mutate loads, applies fn and commits with a version check, retrying on a
// lost race. fn returning a nil change means nothing to do.
func (s *Store) mutate(ctx context.Context, clientID string, kind ChangeKind, fn func(*domain.Basket) (*Change, error)) (*domain.Basket, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}

	for attempt := 1; attempt <= maxCommitAttempts; attempt++ {
		b, err := s.load(ctx, clientID)
		if err != nil {
			return nil, err
		}
		expected := b.Version

		change, err := fn(b)
		if err != nil {
			return nil, err
		}
		if change == nil {
			return b, nil
		}

		b.Version = expected + 1
		b.UpdatedAt = s.now()

		ok, err := s.commit(ctx, b, expected)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.DebugContext(ctx, "basket version conflict, retrying",
				slog.String("client_id", clientID),
				slog.Int("attempt", attempt),
			)
			continue
		}

		change.Kind = kind
		change.ClientID = clientID
		change.Basket = b.Clone()
		s.notify(ctx, *change)
		return b, nil
	}

	return nil, apperrors.Conflict("basket was modified concurrently, please retry")
}

func (s *Store) commit(ctx context.Context, b *domain.Basket, expected int) (bool, error) {
	values, err := snapshotValues(b)
	if err != nil {
		return false, err
	}
	ok, err := s.kv.CompareAndSwap(ctx, b.ClientID, storage.KeyBasket, func(current string, exists bool) bool {
		if !exists {
			return expected == 0
		}
		return storedVersion(current) == expected
	}, values)
	if err != nil {
		return false, fmt.Errorf("save basket: %w", err)
	}
	return ok, nil
}

// load reads the snapshot and mode. A corrupt snapshot is logged and replaced
// by an empty basket carrying the stored version, so the next commit
// overwrites it.
func (s *Store) load(ctx context.Context, clientID string) (*domain.Basket, error) {
	vals, err := s.kv.GetMany(ctx, clientID, storage.KeyBasket, storage.KeyBasketMode)
	if err != nil {
		return nil, fmt.Errorf("load basket: %w", err)
	}

	b := domain.NewBasket(clientID, s.now())
	if raw, ok := vals[storage.KeyBasket]; ok {
		var stored domain.Basket
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			s.logger.WarnContext(ctx, "corrupt basket snapshot, starting empty",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			b.Version = storedVersion(raw)
		} else {
			b = &stored
			b.ClientID = clientID
			if b.Lines == nil {
				b.Lines = []domain.BasketLine{}
			}
		}
	}

	b.Mode = domain.ModeLocal
	if vals[storage.KeyBasketMode] == string(domain.ModeServer) {
		b.Mode = domain.ModeServer
	}
	return b, nil
}

// storedVersion extracts the version of a snapshot, tolerating damage in
// the rest of the document. Unreadable snapshots count as version 0.
func storedVersion(raw string) int {
	var v struct {
		Version int `json:"version"`
	}
	_ = json.Unmarshal([]byte(raw), &v)
	return v.Version
}

func (s *Store) notify(ctx context.Context, change Change) {
	s.mu.RLock()
	subs := append([]Subscriber(nil), s.subs...)
	s.mu.RUnlock()

	for _, sub := range subs {
		sub.OnChange(ctx, change)
	}
}
