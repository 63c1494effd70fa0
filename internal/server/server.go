package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dukerupert/foldclub/internal/config"
	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/handler"
	"github.com/dukerupert/foldclub/internal/middleware"
	"github.com/dukerupert/foldclub/internal/store"
	fcstripe "github.com/dukerupert/foldclub/internal/stripe"
	"github.com/dukerupert/foldclub/internal/tracking"
	"github.com/dukerupert/foldclub/internal/tracking/metrics"
	ws "github.com/dukerupert/foldclub/internal/websocket"
)

type Server struct {
	db          *database.DB
	cfg         *config.Config
	hub         *ws.Hub
	registry    *prometheus.Registry
	capturer    *tracking.Capturer
	tracker     *tracking.Tracker
	trackingH   *handler.TrackingHandler
	productH    *handler.ProductHandler
	webhookH    *handler.WebhookHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires the stores, the tracking core and the HTTP handlers. platforms
// are registered with the tracker in the order given.
func New(db *database.DB, cfg *config.Config, logger *slog.Logger, platforms ...tracking.Platform) *Server {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	hub := ws.NewHub(logger.With("component", "inspector"))

	sessionStore := store.NewSessionStore(db)
	consentStore := store.NewConsentStore(db)
	orderStore := store.NewOrderStore(db)
	productStore := store.NewProductStore(db)

	capturer := tracking.NewCapturer(sessionStore, logger.With("component", "capture"), m, cfg.SessionTTL)
	ledger := tracking.NewLedger(sessionStore, consentStore, logger.With("component", "consent"), m)
	tracker := tracking.NewTracker(logger.With("component", "tracker"),
		tracking.WithMetrics(m),
		tracking.WithObserver(hub.Observe),
	)
	for _, p := range platforms {
		tracker.Register(p)
	}
	if len(platforms) == 0 {
		logger.Warn("no ad platforms configured, events will be logged only")
	}

	stripeClient := fcstripe.NewClient(fcstripe.Config{WebhookSecret: cfg.Stripe.WebhookSecret})

	return &Server{
		db:          db,
		cfg:         cfg,
		hub:         hub,
		registry:    reg,
		capturer:    capturer,
		tracker:     tracker,
		trackingH:   handler.NewTrackingHandler(capturer, ledger, tracker, productStore, cfg.Currency, logger.With("component", "tracking")),
		productH:    handler.NewProductHandler(productStore, logger.With("component", "product")),
		webhookH:    handler.NewWebhookHandler(stripeClient, orderStore, sessionStore, ledger, tracker, cfg.Currency, cfg.BaseURL, logger.With("component", "stripe_webhook")),
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

// Tracker returns the tracker so shutdown can drain in-flight dispatches.
func (s *Server) Tracker() *tracking.Tracker {
	return s.tracker
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))

	// Tracking API
	mux.HandleFunc("POST /api/tracking/session", s.rateLimited(s.trackingH.Session))
	mux.HandleFunc("GET /api/tracking/consent", s.trackingH.Consent)
	mux.HandleFunc("POST /api/tracking/view-content", s.rateLimited(s.trackingH.ViewContent))
	mux.HandleFunc("POST /api/tracking/add-to-cart", s.rateLimited(s.trackingH.AddToCart))
	mux.HandleFunc("POST /api/tracking/checkout", s.rateLimited(s.trackingH.Checkout))

	// Catalog
	mux.HandleFunc("GET /api/products", s.productH.List)
	mux.HandleFunc("GET /api/products/{slug}", s.productH.Get)

	mux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)

	// Live dispatch inspector
	inspector := ws.HandleInspector(s.hub, s.logger.With("component", "inspector"), s.originPatterns(), s.tracker.Platforms)
	mux.Handle("GET /ws/inspector", middleware.RequireToken(s.cfg.Inspector.Token)(inspector))

	var h http.Handler = mux
	h = s.capturer.Middleware(h)
	h = middleware.Recover(s.logger.With("component", "http"))(h)
	return middleware.RequestLogger(s.logger.With("component", "http"))(h)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.db.PingContext(r.Context()); err != nil {
		s.logger.Error("health check", "error", err)
		status, code = "degraded", http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    status,
		"platforms": s.tracker.Platforms(),
	})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	rl := middleware.RateLimit(s.rateLimiter, middleware.ByIP, s.cfg.RateLimit.Requests, s.cfg.RateLimit.Window)
	return rl(h).ServeHTTP
}

// originPatterns allows the storefront's own host to open the inspector.
func (s *Server) originPatterns() []string {
	u, err := url.Parse(s.cfg.BaseURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}
