// Package session decides where basket state lives for a client and moves
// it when the shopper logs in or out.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
	"github.com/pavelchamgl/reli.one-sub000/pkg/logger"
	"github.com/pavelchamgl/reli.one-sub000/pkg/tracing"
	"github.com/pavelchamgl/reli.one-sub000/pkg/validator"
)

// migrationKeySpace namespaces the idempotency keys of migrated lines.
var migrationKeySpace = uuid.MustParse("5b0f7e0e-3d3a-4f0c-9a51-7a2d1c6e9b44")

// Remote is the part of the API client the gate uses.
type Remote interface {
	Login(ctx context.Context, creds remote.Credentials) (*domain.TokenBlob, error)
	Logout(ctx context.Context, access, refresh string) error
	DeleteAccount(ctx context.Context, access string) error
	GetBasket(ctx context.Context, access string) ([]domain.BasketLine, error)
	UpsertBasketItem(ctx context.Context, access, idemKey string, item remote.BasketItem) error
}

// Basket is the part of the basket store the gate drives.
type Basket interface {
	Get(ctx context.Context, clientID string) (*domain.Basket, error)
	SetMode(ctx context.Context, clientID string, mode domain.BasketMode) (*domain.Basket, error)
	ReplaceLines(ctx context.Context, clientID string, lines []domain.BasketLine) (*domain.Basket, error)
	Reset(ctx context.Context, clientID string) error
}

// EventPublisher announces finished basket migrations.
type EventPublisher interface {
	PublishBasketMigrated(ctx context.Context, clientID, userID string, migrated, failed []string)
}

// LoginResult is returned by OnLogin. FailedVariantIDs lists local lines the
// server basket did not accept; they stay in the basket.
type LoginResult struct {
	Profile          domain.Profile `json:"profile"`
	Basket           *domain.Basket `json:"basket"`
	FailedVariantIDs []string       `json:"failedVariantIds"`
}

// Gate switches clients between the local and the server-backed basket.
type Gate struct {
	kv     storage.ClientStore
	users  storage.UserIndex
	remote Remote
	basket Basket
	events EventPublisher
	logger *slog.Logger
}

// NewGate creates a session gate.
func NewGate(kv storage.ClientStore, users storage.UserIndex, api Remote, basket Basket, events EventPublisher, logger *slog.Logger) *Gate {
	return &Gate{
		kv:     kv,
		users:  users,
		remote: api,
		basket: basket,
		events: events,
		logger: logger,
	}
}

// OnLogin authenticates the shopper and moves the anonymous basket to the
// server. Lines are pushed one by one; a line that fails does not undo the
// others and is reported in the result.
func (g *Gate) OnLogin(ctx context.Context, clientID string, creds remote.Credentials) (*LoginResult, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}
	if err := validator.Validate(creds); err != nil {
		var ve *validator.ValidationError
		if errors.As(err, &ve) {
			return nil, apperrors.Validation("login form is invalid", ve.Fields())
		}
		return nil, apperrors.InvalidInput("login form is invalid")
	}

	ctx, span := tracing.StartSpan(ctx, "session", "OnLogin")
	defer span.End()

	blob, err := g.remote.Login(ctx, creds)
	if err != nil {
		return nil, err
	}
	if blob.UserID != "" {
		ctx = logger.WithUserID(ctx, blob.UserID)
	}

	raw, err := json.Marshal(blob)
	if err != nil {
		return nil, fmt.Errorf("marshal token blob: %w", err)
	}
	if err := g.kv.Set(ctx, clientID, map[string]string{
		storage.KeyToken: string(raw),
		storage.KeyEmail: creds.Email,
	}); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	if blob.UserID != "" {
		if err := g.users.BindUser(ctx, blob.UserID, clientID); err != nil {
			g.logger.WarnContext(ctx, "failed to bind client to user",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}

	local, err := g.basket.Get(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("load anonymous basket: %w", err)
	}

	// A server-mode basket was already migrated; only lines an earlier login
	// left behind are pushed again.
	pending := g.pendingMigration(ctx, clientID)
	var migrated, failed []string
	var failedLines []domain.BasketLine
	for _, l := range local.Lines {
		if local.Mode == domain.ModeServer && !pending[l.ProductVariantID] {
			continue
		}
		key := migrationKey(clientID, local.Version, l)
		if err := g.remote.UpsertBasketItem(ctx, blob.Access, key, remote.ItemFromLine(l)); err != nil {
			g.logger.WarnContext(ctx, "basket line migration failed",
				slog.String("client_id", clientID),
				slog.String("variant_id", l.ProductVariantID),
				slog.String("error", err.Error()),
			)
			failed = append(failed, l.ProductVariantID)
			failedLines = append(failedLines, l)
			continue
		}
		migrated = append(migrated, l.ProductVariantID)
	}
	if err := g.storePendingMigration(ctx, clientID, failed); err != nil {
		return nil, err
	}

	if _, err := g.basket.SetMode(ctx, clientID, domain.ModeServer); err != nil {
		return nil, fmt.Errorf("switch basket to server mode: %w", err)
	}

	b, err := g.adoptServerBasket(ctx, clientID, blob.Access, failedLines)
	if err != nil {
		return nil, err
	}

	g.events.PublishBasketMigrated(ctx, clientID, blob.UserID, migrated, failed)
	g.logger.InfoContext(ctx, "shopper logged in",
		slog.String("client_id", clientID),
		slog.Int("migrated_lines", len(migrated)),
		slog.Int("failed_lines", len(failed)),
	)

	if failed == nil {
		failed = []string{}
	}
	return &LoginResult{
		Profile:          blob.Profile(creds.Email),
		Basket:           b,
		FailedVariantIDs: failed,
	}, nil
}

// adoptServerBasket replaces the local lines with the server basket plus
// the lines that could not be pushed. If the server basket cannot be read
// the local lines are kept.
func (g *Gate) adoptServerBasket(ctx context.Context, clientID, access string, pending []domain.BasketLine) (*domain.Basket, error) {
	server, err := g.remote.GetBasket(ctx, access)
	if err != nil {
		g.logger.WarnContext(ctx, "keeping local basket, server basket unavailable",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return g.basket.Get(ctx, clientID)
	}

	seen := make(map[string]bool, len(server))
	lines := make([]domain.BasketLine, 0, len(server)+len(pending))
	for _, l := range server {
		if seen[l.ProductVariantID] {
			continue
		}
		seen[l.ProductVariantID] = true
		lines = append(lines, l)
	}
	for _, l := range pending {
		if !seen[l.ProductVariantID] {
			lines = append(lines, l)
		}
	}

	b, err := g.basket.ReplaceLines(ctx, clientID, lines)
	if err != nil {
		return nil, fmt.Errorf("adopt server basket: %w", err)
	}
	return b, nil
}

// OnLogout forgets the session and resets every piece of basket state of
// the client. The remote logout is best effort.
func (g *Gate) OnLogout(ctx context.Context, clientID string) error {
	if clientID == "" {
		return apperrors.InvalidInput("client id is required")
	}

	blob, ok := g.tokenBlob(ctx, clientID)
	if ok {
		if err := g.remote.Logout(ctx, blob.Access, blob.Refresh); err != nil {
			g.logger.WarnContext(ctx, "remote logout failed",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := g.resetClient(ctx, clientID); err != nil {
		return err
	}
	if ok && blob.UserID != "" {
		if err := g.users.UnbindClient(ctx, blob.UserID, clientID); err != nil {
			g.logger.WarnContext(ctx, "failed to unbind client",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
		}
	}

	g.logger.InfoContext(ctx, "shopper logged out", slog.String("client_id", clientID))
	return nil
}

// DeleteAccount deletes the shopper's account at the shop and resets every
// client the account was used from.
func (g *Gate) DeleteAccount(ctx context.Context, clientID string) error {
	blob, ok := g.tokenBlob(ctx, clientID)
	if !ok {
		return apperrors.Unauthorized("log in to delete your account")
	}
	if err := g.remote.DeleteAccount(ctx, blob.Access); err != nil {
		return err
	}
	if blob.UserID == "" {
		return g.resetClient(ctx, clientID)
	}
	if err := g.OnAccountDeleted(ctx, blob.UserID); err != nil {
		return err
	}
	// The client may never have been bound if the login predates the index.
	return g.resetClient(ctx, clientID)
}

// OnAccountDeleted resets every client bound to userID.
func (g *Gate) OnAccountDeleted(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	clients, err := g.users.ClientsOf(ctx, userID)
	if err != nil {
		return fmt.Errorf("list clients of user: %w", err)
	}

	var errs []error
	for _, clientID := range clients {
		if err := g.resetClient(ctx, clientID); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	if err := g.users.ForgetUser(ctx, userID); err != nil {
		return fmt.Errorf("forget user: %w", err)
	}

	g.logger.InfoContext(ctx, "account state removed",
		slog.String("user_id", userID),
		slog.Int("clients", len(clients)),
	)
	return nil
}

// Profile returns the profile stored with the session. A missing or damaged
// token yields an empty profile.
func (g *Gate) Profile(ctx context.Context, clientID string) (domain.Profile, error) {
	vals, err := g.kv.GetMany(ctx, clientID, storage.KeyToken, storage.KeyEmail)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("read session: %w", err)
	}

	raw, ok := vals[storage.KeyToken]
	if !ok {
		return domain.Profile{Email: vals[storage.KeyEmail]}, nil
	}
	blob, err := domain.ParseTokenBlob(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "stored token is unreadable, showing empty profile",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return domain.Profile{Email: vals[storage.KeyEmail]}, nil
	}
	return blob.Profile(vals[storage.KeyEmail]), nil
}

// AccessToken returns the client's access token, or "" when the client is
// anonymous or its token is unreadable.
func (g *Gate) AccessToken(ctx context.Context, clientID string) (string, error) {
	raw, ok, err := g.kv.Get(ctx, clientID, storage.KeyToken)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	if !ok {
		return "", nil
	}
	blob, err := domain.ParseTokenBlob(raw)
	if err != nil {
		g.logger.WarnContext(ctx, "stored token is unreadable",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return "", nil
	}
	return blob.Access, nil
}

func (g *Gate) tokenBlob(ctx context.Context, clientID string) (domain.TokenBlob, bool) {
	raw, ok, err := g.kv.Get(ctx, clientID, storage.KeyToken)
	if err != nil || !ok {
		return domain.TokenBlob{}, false
	}
	blob, err := domain.ParseTokenBlob(raw)
	if err != nil {
		return domain.TokenBlob{}, false
	}
	return blob, true
}

// pendingMigration returns the variant ids an earlier login failed to push.
// An unreadable value counts as none.
func (g *Gate) pendingMigration(ctx context.Context, clientID string) map[string]bool {
	raw, ok, err := g.kv.Get(ctx, clientID, storage.KeyPendingMigration)
	if err != nil || !ok {
		return nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		g.logger.WarnContext(ctx, "dropping unreadable pending migration list",
			slog.String("client_id", clientID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = true
	}
	return out
}

func (g *Gate) storePendingMigration(ctx context.Context, clientID string, ids []string) error {
	if len(ids) == 0 {
		if err := g.kv.Delete(ctx, clientID, storage.KeyPendingMigration); err != nil {
			return fmt.Errorf("clear pending migration: %w", err)
		}
		return nil
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("marshal pending migration: %w", err)
	}
	if err := g.kv.Set(ctx, clientID, map[string]string{storage.KeyPendingMigration: string(raw)}); err != nil {
		return fmt.Errorf("store pending migration: %w", err)
	}
	return nil
}

func (g *Gate) resetClient(ctx context.Context, clientID string) error {
	if err := g.kv.Delete(ctx, clientID, storage.SessionKeys...); err != nil {
		return fmt.Errorf("clear session keys: %w", err)
	}
	if err := g.basket.Reset(ctx, clientID); err != nil {
		return fmt.Errorf("reset basket: %w", err)
	}
	return nil
}

// migrationKey is stable for a given basket version and line, so a repeated
// login push of an unchanged basket is deduplicated by the shop.
func migrationKey(clientID string, version int, l domain.BasketLine) string {
	name := fmt.Sprintf("%s/%d/%s/%d", clientID, version, l.ProductVariantID, l.Quantity)
	return uuid.NewSHA1(migrationKeySpace, []byte(name)).String()
}
