// Package consent keeps the visitor's cookie banner choice. A choice stored
// under an older consent version no longer counts.
package consent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// Choice is what the visitor picked on the banner.
type Choice struct {
	Preferences bool `json:"preferences"`
	Marketing   bool `json:"marketing"`
}

// Gate reads and stores consent for one configured version.
type Gate struct {
	kv      storage.ClientStore
	version string
	logger  *slog.Logger
}

// New creates a gate for the given consent version.
func New(kv storage.ClientStore, version string, logger *slog.Logger) *Gate {
	return &Gate{kv: kv, version: version, logger: logger}
}

// Get returns the stored consent. When nothing is stored, or the stored
// version differs from the current one, the banner is required; a stale
// choice is deleted.
func (g *Gate) Get(ctx context.Context, clientID string) (*domain.CookieConsent, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}

	vals, err := g.kv.GetMany(ctx, clientID, storage.ConsentKeys...)
	if err != nil {
		return nil, fmt.Errorf("load consent: %w", err)
	}

	required := &domain.CookieConsent{Necessary: true, Version: g.version, Required: true}
	if _, saved := vals[storage.KeyCookieSave]; !saved {
		return required, nil
	}
	if stored := vals[storage.KeyCookieVersion]; stored != g.version {
		g.logger.InfoContext(ctx, "cookie consent outdated",
			slog.String("client_id", clientID),
			slog.String("stored_version", stored),
			slog.String("version", g.version),
		)
		if err := g.kv.Delete(ctx, clientID, storage.ConsentKeys...); err != nil {
			return nil, fmt.Errorf("invalidate consent: %w", err)
		}
		return required, nil
	}

	return &domain.CookieConsent{
		Necessary:   true,
		Preferences: flag(vals[storage.KeyPreferences]),
		Marketing:   flag(vals[storage.KeyMarketing]),
		Version:     g.version,
	}, nil
}

// Save stores the choice under the current version.
func (g *Gate) Save(ctx context.Context, clientID string, c Choice) (*domain.CookieConsent, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}

	err := g.kv.Set(ctx, clientID, map[string]string{
		storage.KeyCookieSave:    "true",
		storage.KeyPreferences:   strconv.FormatBool(c.Preferences),
		storage.KeyMarketing:     strconv.FormatBool(c.Marketing),
		storage.KeyCookieVersion: g.version,
	})
	if err != nil {
		return nil, fmt.Errorf("save consent: %w", err)
	}

	return &domain.CookieConsent{
		Necessary:   true,
		Preferences: c.Preferences,
		Marketing:   c.Marketing,
		Version:     g.version,
	}, nil
}

func flag(v string) bool {
	b, _ := strconv.ParseBool(v)
	return b
}
