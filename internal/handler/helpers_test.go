package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/store"
	fcstripe "github.com/dukerupert/foldclub/internal/stripe"
	"github.com/dukerupert/foldclub/internal/tracking"
)

const (
	testWebhookSecret = "whsec_handler_test"
	browserUA         = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// recordingPlatform captures every event it is sent.
type recordingPlatform struct {
	name string

	mu     sync.Mutex
	events []tracking.Event
}

func (p *recordingPlatform) Name() string { return p.name }

func (p *recordingPlatform) record(ev tracking.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPlatform) SendViewContent(_ context.Context, ev tracking.Event) error {
	return p.record(ev)
}
func (p *recordingPlatform) SendAddToCart(_ context.Context, ev tracking.Event) error {
	return p.record(ev)
}
func (p *recordingPlatform) SendInitiateCheckout(_ context.Context, ev tracking.Event) error {
	return p.record(ev)
}
func (p *recordingPlatform) SendPurchase(_ context.Context, ev tracking.Event) error {
	return p.record(ev)
}

func (p *recordingPlatform) received() []tracking.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]tracking.Event(nil), p.events...)
}

type testApp struct {
	sessions *store.SessionStore
	orders   *store.OrderStore
	products *store.ProductStore
	capturer *tracking.Capturer
	ledger   *tracking.Ledger
	tracker  *tracking.Tracker
	meta     *recordingPlatform
	tiktok   *recordingPlatform
	handler  http.Handler
}

func setupApp(t *testing.T) *testApp {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.Default()
	a := &testApp{
		sessions: store.NewSessionStore(db),
		orders:   store.NewOrderStore(db),
		products: store.NewProductStore(db),
		meta:     &recordingPlatform{name: "meta"},
		tiktok:   &recordingPlatform{name: "tiktok"},
	}
	a.capturer = tracking.NewCapturer(a.sessions, logger, nil, 0)
	a.ledger = tracking.NewLedger(a.sessions, store.NewConsentStore(db), logger, nil)
	a.tracker = tracking.NewTracker(logger)
	a.tracker.Register(a.meta)
	a.tracker.Register(a.tiktok)

	th := NewTrackingHandler(a.capturer, a.ledger, a.tracker, a.products, "PLN", logger)
	ph := NewProductHandler(a.products, logger)
	wh := NewWebhookHandler(fcstripe.NewClient(fcstripe.Config{WebhookSecret: testWebhookSecret}),
		a.orders, a.sessions, a.ledger, a.tracker, "PLN", "https://shop.example.com", logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("POST /api/tracking/session", th.Session)
	mux.HandleFunc("GET /api/tracking/consent", th.Consent)
	mux.HandleFunc("POST /api/tracking/view-content", th.ViewContent)
	mux.HandleFunc("POST /api/tracking/add-to-cart", th.AddToCart)
	mux.HandleFunc("POST /api/tracking/checkout", th.Checkout)
	mux.HandleFunc("GET /api/products", ph.List)
	mux.HandleFunc("GET /api/products/{slug}", ph.Get)
	mux.HandleFunc("POST /webhooks/stripe", wh.HandleStripeWebhook)
	a.handler = a.capturer.Middleware(mux)
	return a
}

func (a *testApp) do(r *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, r)
	return rec
}

// wait drains background dispatches.
func (a *testApp) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.tracker.Wait(ctx); err != nil {
		t.Fatalf("wait for dispatch: %v", err)
	}
}

// visit loads a page and returns the session token the server issued.
func (a *testApp) visit(t *testing.T, target string) string {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, target, nil)
	r.Header.Set("User-Agent", browserUA)
	rec := a.do(r)
	for _, c := range rec.Result().Cookies() {
		if c.Name == tracking.SessionCookie {
			return c.Value
		}
	}
	t.Fatalf("GET %s: no session cookie set", target)
	return ""
}

func jsonRequest(t *testing.T, method, target, token string, body any) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	r := httptest.NewRequest(method, target, bytes.NewReader(b))
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("User-Agent", browserUA)
	if token != "" {
		r.AddCookie(&http.Cookie{Name: tracking.SessionCookie, Value: token})
	}
	return r
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func (a *testApp) grantConsent(t *testing.T, token string, marketing bool) {
	t.Helper()
	rec := a.do(jsonRequest(t, http.MethodPost, "/api/tracking/session", token, map[string]any{
		"consent": map[string]bool{"necessary": true, "analytics": true, "marketing": marketing},
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("session status = %d, body %s", rec.Code, rec.Body.String())
	}
}
