// Package selection scopes the basket's selected flags to the checkout
// routes: leaving them deselects everything.
package selection

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelchamgl/reli.one-sub000/internal/domain"
	"github.com/pavelchamgl/reli.one-sub000/internal/storage"
	apperrors "github.com/pavelchamgl/reli.one-sub000/pkg/errors"
)

// MaxTrail is the number of routes kept under the paths key.
const MaxTrail = 10

// DefaultAllowedRoutes keep selections when navigated to.
var DefaultAllowedRoutes = []string{"/basket", "/payment", "/mob_basket"}

// DefaultLanguages are the locale prefixes stripped before matching.
var DefaultLanguages = []string{"cs", "en", "sk", "de", "pl", "uk", "ru"}

// Selector is the part of the basket store the sync needs.
type Selector interface {
	SelectAll(ctx context.Context, clientID string, selected bool) (*domain.Basket, error)
}

// Config tunes the route matching.
type Config struct {
	AllowedRoutes []string
	Languages     []string
	ResetEnabled  bool
}

// Result reports what a route change did.
type Result struct {
	Path  string   `json:"path"`
	Reset bool     `json:"reset"`
	Trail []string `json:"trail"`
}

// Sync reacts to SPA navigation.
type Sync struct {
	basket    Selector
	kv        storage.ClientStore
	logger    *slog.Logger
	allowed   map[string]bool
	languages map[string]bool
	enabled   bool
}

// New creates a Sync. Empty lists in cfg fall back to the defaults.
func New(basket Selector, kv storage.ClientStore, cfg Config, logger *slog.Logger) *Sync {
	routes := cfg.AllowedRoutes
	if len(routes) == 0 {
		routes = DefaultAllowedRoutes
	}
	langs := cfg.Languages
	if len(langs) == 0 {
		langs = DefaultLanguages
	}

	s := &Sync{
		basket:    basket,
		kv:        kv,
		logger:    logger,
		allowed:   make(map[string]bool, len(routes)),
		languages: make(map[string]bool, len(langs)),
		enabled:   cfg.ResetEnabled,
	}
	for _, r := range routes {
		s.allowed[Normalize(r, nil)] = true
	}
	for _, l := range langs {
		s.languages[strings.ToLower(l)] = true
	}
	return s
}

// OnRouteChange records path in the breadcrumb trail and deselects every
// basket line unless path is a checkout route.
func (s *Sync) OnRouteChange(ctx context.Context, clientID, path string) (*Result, error) {
	if clientID == "" {
		return nil, apperrors.InvalidInput("client id is required")
	}
	if path == "" || path[0] != '/' {
		return nil, apperrors.Validation("path must be absolute", map[string]string{"path": "must start with /"})
	}

	norm := Normalize(path, s.languages)
	trail, err := s.record(ctx, clientID, norm)
	if err != nil {
		return nil, err
	}

	res := &Result{Path: norm, Trail: trail}
	if !s.enabled || s.Preserves(norm) {
		return res, nil
	}

	if _, err := s.basket.SelectAll(ctx, clientID, false); err != nil {
		return nil, fmt.Errorf("deselect basket: %w", err)
	}
	res.Reset = true

	s.logger.DebugContext(ctx, "selections reset on navigation",
		slog.String("client_id", clientID),
		slog.String("path", norm),
	)
	return res, nil
}

// Preserves reports whether a normalized path keeps selections.
func (s *Sync) Preserves(norm string) bool {
	return s.allowed[norm] || strings.HasPrefix(norm, "/payment/")
}

// Normalize strips the query, fragment, trailing slash and a leading locale
// segment found in languages.
func Normalize(path string, languages map[string]bool) string {
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
	}
	if path == "" {
		return "/"
	}

	if languages != nil {
		rest := strings.TrimPrefix(path, "/")
		seg, tail, _ := strings.Cut(rest, "/")
		if languages[strings.ToLower(seg)] {
			path = "/" + tail
		}
	}
	return path
}

func (s *Sync) record(ctx context.Context, clientID, path string) ([]string, error) {
	raw, ok, err := s.kv.Get(ctx, clientID, storage.KeyPaths)
	if err != nil {
		return nil, fmt.Errorf("read paths: %w", err)
	}

	var trail []string
	if ok {
		if err := json.Unmarshal([]byte(raw), &trail); err != nil {
			s.logger.WarnContext(ctx, "discarding corrupt paths trail",
				slog.String("client_id", clientID),
				slog.String("error", err.Error()),
			)
			trail = nil
		}
	}

	if n := len(trail); n == 0 || trail[n-1] != path {
		trail = append(trail, path)
	}
	if len(trail) > MaxTrail {
		trail = trail[len(trail)-MaxTrail:]
	}

	data, err := json.Marshal(trail)
	if err != nil {
		return nil, fmt.Errorf("marshal paths: %w", err)
	}
	if err := s.kv.Set(ctx, clientID, map[string]string{storage.KeyPaths: string(data)}); err != nil {
		return nil, fmt.Errorf("write paths: %w", err)
	}
	return trail, nil
}
