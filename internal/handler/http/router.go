package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pavelchamgl/reli.one-sub000/pkg/health"
	"github.com/pavelchamgl/reli.one-sub000/pkg/middleware"
)

// ServiceName labels metrics and traces of the HTTP surface.
const ServiceName = "storefront"

// Handlers groups the API handlers mounted by NewRouter.
type Handlers struct {
	Basket   *BasketHandler
	Checkout *CheckoutHandler
	Account  *AccountHandler
	Catalog  *CatalogHandler
}

// RouterConfig holds the knobs of the HTTP surface.
type RouterConfig struct {
	CORS             middleware.CORSConfig
	PprofCIDRs       []string
	CatalogCacheSecs int
	RequestTimeout   time.Duration
	RateLimitRPS     float64
	RateLimitBurst   int
}

// NewRouter creates a chi router with all storefront routes registered.
func NewRouter(h Handlers, healthHandler *health.Handler, logger *slog.Logger, cfg RouterConfig) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.CORS(cfg.CORS))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(cfg.RequestTimeout))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics(ServiceName))
	r.Use(middleware.Tracing(ServiceName))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger))

		r.With(middleware.CacheControl(cfg.CatalogCacheSecs)).
			Get("/catalog/products", h.Catalog.ListProducts)

		r.Group(func(r chi.Router) {
			r.Use(middleware.ClientID())
			r.Use(middleware.NoStore)

			r.Route("/basket", func(r chi.Router) {
				r.Get("/", h.Basket.GetBasket)
				r.Delete("/", h.Basket.ClearBasket)
				r.Put("/selected", h.Basket.SelectAll)
				r.Post("/lines", h.Basket.AddLine)
				r.Put("/lines/{variantId}", h.Basket.SetQuantity)
				r.Delete("/lines/{variantId}", h.Basket.RemoveLine)
				r.Put("/lines/{variantId}/selected", h.Basket.ToggleSelected)
			})

			r.Post("/navigation", h.Checkout.Navigate)

			r.Route("/payment/sessions", func(r chi.Router) {
				r.Post("/", h.Checkout.StartPayment)
				r.Get("/{id}", h.Checkout.GetPayment)
				r.Post("/{id}/advance", h.Checkout.Advance)
				r.Post("/{id}/back", h.Checkout.Back)
			})

			r.Route("/session", func(r chi.Router) {
				r.Post("/login", h.Account.Login)
				r.Post("/logout", h.Account.Logout)
				r.Delete("/account", h.Account.DeleteAccount)
				r.Get("/profile", h.Account.Profile)
			})

			r.Get("/consent", h.Account.GetConsent)
			r.Put("/consent", h.Account.SaveConsent)
		})
	})

	return r
}
