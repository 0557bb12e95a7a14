package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/pavelchamgl/reli.one-sub000/internal/consent"
	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/remote"
	"github.com/pavelchamgl/reli.one-sub000/internal/session"
	"github.com/pavelchamgl/reli.one-sub000/pkg/httputil"
)

// SessionService handles login, logout and account deletion.
type SessionService interface {
	OnLogin(ctx context.Context, clientID string, creds remote.Credentials) (*session.LoginResult, error)
	OnLogout(ctx context.Context, clientID string) error
	DeleteAccount(ctx context.Context, clientID string) error
	Profile(ctx context.Context, clientID string) (domain.Profile, error)
}

// ConsentService reads and stores cookie consent.
type ConsentService interface {
	Get(ctx context.Context, clientID string) (*domain.CookieConsent, error)
	Save(ctx context.Context, clientID string, c consent.Choice) (*domain.CookieConsent, error)
}

// AccountHandler handles session and consent endpoints.
type AccountHandler struct {
	session SessionService
	consent ConsentService
	logger  *slog.Logger
}

// NewAccountHandler creates a new account HTTP handler.
func NewAccountHandler(sessions SessionService, consents ConsentService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{session: sessions, consent: consents, logger: logger}
}

// Login handles POST /api/v1/session/login
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var creds remote.Credentials
	if err := decodeJSON(w, r, &creds, false); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	res, err := h.session.OnLogin(r.Context(), clientID(r), creds)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// Logout handles POST /api/v1/session/logout
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.session.OnLogout(r.Context(), clientID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAccount handles DELETE /api/v1/session/account
func (h *AccountHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.session.DeleteAccount(r.Context(), clientID(r)); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Profile handles GET /api/v1/session/profile
func (h *AccountHandler) Profile(w http.ResponseWriter, r *http.Request) {
	p, err := h.session.Profile(r.Context(), clientID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, p)
}

// GetConsent handles GET /api/v1/consent
func (h *AccountHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	c, err := h.consent.Get(r.Context(), clientID(r))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, c)
}

// SaveConsent handles PUT /api/v1/consent
func (h *AccountHandler) SaveConsent(w http.ResponseWriter, r *http.Request) {
	var choice consent.Choice
	if err := decode(w, r, &choice); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	c, err := h.consent.Save(r.Context(), clientID(r), choice)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, c)
}
