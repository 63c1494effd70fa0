package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
	"github.com/dukerupert/foldclub/internal/tracking"
)

func TestAttributionFlowsToPlatforms(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/?fbclid=abc&utm_source=facebook")

	a.grantConsent(t, token, true)

	rec := a.do(jsonRequest(t, http.MethodPost, "/api/tracking/add-to-cart", token, map[string]any{
		"productId":   "p-swans",
		"productName": "Love Swans",
		"price":       9900,
		"quantity":    2,
		"sourceUrl":   "https://shop.example.com/products/love-swans",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp trackResponse
	decodeBody(t, rec, &resp)
	if !resp.Tracked || resp.EventID == "" {
		t.Fatalf("response = %+v", resp)
	}
	if !strings.HasPrefix(resp.EventID, "AddToCart_p-swans_") {
		t.Errorf("event id = %q, want AddToCart_p-swans_ prefix", resp.EventID)
	}

	a.wait(t)
	for _, p := range []*recordingPlatform{a.meta, a.tiktok} {
		events := p.received()
		if len(events) != 1 {
			t.Fatalf("%s received %d events, want 1", p.name, len(events))
		}
		ev := events[0]
		if ev.ID != resp.EventID {
			t.Errorf("%s event id = %q, want %q", p.name, ev.ID, resp.EventID)
		}
		if ev.User.FBCLID != "abc" {
			t.Errorf("%s fbclid = %q, want abc", p.name, ev.User.FBCLID)
		}
		if ev.User.UserAgent != browserUA {
			t.Errorf("%s user agent = %q", p.name, ev.User.UserAgent)
		}
		if ev.Value != 19800 || ev.Currency != "PLN" || ev.NumItems != 2 {
			t.Errorf("%s event = %+v, want 19800 PLN x2", p.name, ev)
		}
	}
}

func TestClientEventIDIsKept(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/")
	a.grantConsent(t, token, true)

	rec := a.do(jsonRequest(t, http.MethodPost, "/api/tracking/checkout", token, map[string]any{
		"productIds": []string{"p-swans", "p-moai"},
		"totalValue": 18800,
		"numItems":   2,
		"eventId":    "browser-evt-1",
		"sourceUrl":  "https://shop.example.com/cart",
	}))
	var resp trackResponse
	decodeBody(t, rec, &resp)
	if resp.EventID != "browser-evt-1" {
		t.Errorf("event id = %q, want browser-evt-1", resp.EventID)
	}

	a.wait(t)
	events := a.meta.received()
	if len(events) != 1 || events[0].Kind != tracking.InitiateCheckout || events[0].ID != "browser-evt-1" {
		t.Fatalf("meta events = %+v", events)
	}
	if len(events[0].ProductIDs) != 2 || events[0].Value != 18800 {
		t.Errorf("checkout event = %+v", events[0])
	}
}

func TestServerEventIDIsDeterministic(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/")

	body := map[string]any{
		"productId": "p-moai",
		"price":     8900,
		"sourceUrl": "https://shop.example.com/products/moai-head",
	}
	var first, second trackResponse
	decodeBody(t, a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, body)), &first)
	decodeBody(t, a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, body)), &second)
	if first.EventID != second.EventID {
		t.Errorf("event ids differ: %q vs %q", first.EventID, second.EventID)
	}
	want := tracking.GenerateEventID(tracking.ViewContent, "p-moai", token)
	if first.EventID != want {
		t.Errorf("event id = %q, want %q", first.EventID, want)
	}
}

func TestNoDispatchWithoutMarketingConsent(t *testing.T) {
	a := setupApp(t)

	declined := a.visit(t, "/?fbclid=abc")
	a.grantConsent(t, declined, false)
	undecided := a.visit(t, "/")

	body := map[string]any{
		"productId": "p-swans",
		"price":     9900,
		"sourceUrl": "https://shop.example.com/products/love-swans",
	}
	for _, token := range []string{declined, undecided, ""} {
		rec := a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, body))
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp trackResponse
		decodeBody(t, rec, &resp)
		if !resp.Tracked {
			t.Error("expected tracked=true even without consent")
		}
	}

	a.wait(t)
	if n := len(a.meta.received()) + len(a.tiktok.received()); n != 0 {
		t.Errorf("platforms received %d events, want 0", n)
	}
}

func TestConsentWithdrawalStopsDispatch(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/")
	a.grantConsent(t, token, true)
	a.grantConsent(t, token, false)

	a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, map[string]any{
		"productId": "p-swans",
		"sourceUrl": "https://shop.example.com/",
	}))
	a.wait(t)
	if n := len(a.meta.received()); n != 0 {
		t.Errorf("meta received %d events after withdrawal, want 0", n)
	}
}

func TestCatalogOverridesClientPrice(t *testing.T) {
	a := setupApp(t)
	ctx := context.Background()
	if err := a.products.Save(ctx, "p-swans", "love-swans", 9900, "EUR"); err != nil {
		t.Fatalf("save product: %v", err)
	}
	if err := a.products.SaveTranslation(ctx, "p-swans", "en", "love-swans", "Love Swans", ""); err != nil {
		t.Fatalf("save translation: %v", err)
	}

	token := a.visit(t, "/")
	a.grantConsent(t, token, true)
	a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, map[string]any{
		"productId":   "p-swans",
		"productName": "Cheap Swans",
		"price":       1,
		"sourceUrl":   "https://shop.example.com/products/love-swans",
	}))
	a.wait(t)

	events := a.meta.received()
	if len(events) != 1 {
		t.Fatalf("meta received %d events, want 1", len(events))
	}
	if events[0].Value != 9900 || events[0].ProductName != "Love Swans" {
		t.Errorf("event = %+v, want catalog name and price", events[0])
	}
	if events[0].Currency != "EUR" {
		t.Errorf("currency = %q, want catalog currency EUR", events[0].Currency)
	}
}

func TestTrackingValidation(t *testing.T) {
	a := setupApp(t)

	tests := []struct {
		name   string
		target string
		body   map[string]any
		want   string
	}{
		{"missing product", "/api/tracking/view-content", map[string]any{"sourceUrl": "https://shop.example.com/"}, "productId is required"},
		{"blank product", "/api/tracking/view-content", map[string]any{"productId": "  ", "sourceUrl": "https://shop.example.com/"}, "productId is required"},
		{"negative price", "/api/tracking/add-to-cart", map[string]any{"productId": "p", "price": -1, "sourceUrl": "https://shop.example.com/"}, "price must not be negative"},
		{"negative quantity", "/api/tracking/add-to-cart", map[string]any{"productId": "p", "quantity": -2, "sourceUrl": "https://shop.example.com/"}, "quantity must not be negative"},
		{"relative source url", "/api/tracking/view-content", map[string]any{"productId": "p", "sourceUrl": "/products/p"}, "sourceUrl must be an absolute http(s) URL"},
		{"ftp source url", "/api/tracking/view-content", map[string]any{"productId": "p", "sourceUrl": "ftp://shop.example.com/"}, "sourceUrl must be an absolute http(s) URL"},
		{"missing source url", "/api/tracking/add-to-cart", map[string]any{"productId": "p"}, "sourceUrl is required"},
		{"no product ids", "/api/tracking/checkout", map[string]any{"productIds": []string{" "}, "numItems": 1, "sourceUrl": "https://shop.example.com/"}, "productIds is required"},
		{"negative total", "/api/tracking/checkout", map[string]any{"productIds": []string{"p"}, "totalValue": -5, "numItems": 1, "sourceUrl": "https://shop.example.com/"}, "totalValue must not be negative"},
		{"zero items", "/api/tracking/checkout", map[string]any{"productIds": []string{"p"}, "numItems": 0, "sourceUrl": "https://shop.example.com/"}, "numItems must be at least 1"},
		{"missing consent", "/api/tracking/session", map[string]any{"params": map[string]any{"fbclid": "abc"}}, "consent is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := a.do(jsonRequest(t, http.MethodPost, tt.target, "", tt.body))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			var body map[string]string
			decodeBody(t, rec, &body)
			if body["error"] != tt.want {
				t.Errorf("error = %q, want %q", body["error"], tt.want)
			}
		})
	}
}

func TestTrackingTrimsProductID(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/")

	rec := a.do(jsonRequest(t, http.MethodPost, "/api/tracking/view-content", token, map[string]any{
		"productId": " p-moai ",
		"sourceUrl": "https://shop.example.com/products/moai-head",
	}))
	var resp trackResponse
	decodeBody(t, rec, &resp)
	if want := tracking.GenerateEventID(tracking.ViewContent, "p-moai", token); resp.EventID != want {
		t.Errorf("event id = %q, want %q", resp.EventID, want)
	}
}

func TestSessionFlushesBufferedParams(t *testing.T) {
	a := setupApp(t)

	r := jsonRequest(t, http.MethodPost, "/api/tracking/session", "", map[string]any{
		"consent": map[string]bool{"necessary": true, "marketing": true},
		"params": map[string]any{
			"fbclid":      "buffered",
			"utmCampaign": "spring",
			"landingPage": "/products/love-swans",
		},
	})
	r.AddCookie(&http.Cookie{Name: "_fbp", Value: "fb.1.1700000000000.42"})
	rec := a.do(r)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	var token string
	var consentCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case tracking.SessionCookie:
			token = c.Value
		case tracking.ConsentCookie:
			consentCookie = c
		}
	}
	if token == "" {
		t.Fatal("no session cookie issued")
	}
	if consentCookie == nil || consentCookie.HttpOnly {
		t.Fatalf("consent cookie = %+v, want readable cookie", consentCookie)
	}
	raw, err := url.QueryUnescape(consentCookie.Value)
	if err != nil || !strings.Contains(raw, `"marketing":true`) {
		t.Errorf("consent cookie value = %q", raw)
	}

	sess, err := a.sessions.GetByToken(context.Background(), token)
	if err != nil || sess == nil {
		t.Fatalf("get session: %v, %v", sess, err)
	}
	if sess.FBCLID == nil || *sess.FBCLID != "buffered" {
		t.Errorf("fbclid = %v, want buffered", sess.FBCLID)
	}
	if sess.UTMCampaign == nil || *sess.UTMCampaign != "spring" {
		t.Errorf("utm_campaign = %v, want spring", sess.UTMCampaign)
	}
	if sess.FBP == nil || *sess.FBP != "fb.1.1700000000000.42" {
		t.Errorf("fbp = %v", sess.FBP)
	}
	if sess.LandingPage == nil || *sess.LandingPage != "/products/love-swans" {
		t.Errorf("landing page = %v", sess.LandingPage)
	}
}

func TestSessionConsentFailureKeepsSession(t *testing.T) {
	a := setupApp(t)

	// No expectations: every consent query fails.
	mockDB, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer mockDB.Close()
	broken := store.NewConsentStore(&database.DB{DB: mockDB, Dialect: database.SQLite})
	ledger := tracking.NewLedger(a.sessions, broken, slog.Default(), nil)
	th := NewTrackingHandler(a.capturer, ledger, a.tracker, a.products, "PLN", slog.Default())

	rec := httptest.NewRecorder()
	th.Session(rec, jsonRequest(t, http.MethodPost, "/api/tracking/session", "", map[string]any{
		"consent": map[string]bool{"necessary": true, "marketing": true},
	}))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	var body map[string]bool
	decodeBody(t, rec, &body)
	if body["recorded"] {
		t.Error("recorded = true, want false")
	}

	var token string
	for _, c := range rec.Result().Cookies() {
		switch c.Name {
		case tracking.SessionCookie:
			token = c.Value
		case tracking.ConsentCookie:
			t.Error("consent cookie set although nothing was recorded")
		}
	}
	if token == "" {
		t.Fatal("expected the new session cookie")
	}

	// The retry lands on the same session.
	a.grantConsent(t, token, true)
	current, err := a.ledger.CurrentConsent(context.Background(), token)
	if err != nil || current == nil {
		t.Fatalf("current consent: %v, %v", current, err)
	}
	if !current.Marketing {
		t.Error("marketing = false after retry, want true")
	}
}

func TestConsentEndpoint(t *testing.T) {
	a := setupApp(t)
	token := a.visit(t, "/")

	rec := a.do(jsonRequest(t, http.MethodGet, "/api/tracking/consent", token, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status before consent = %d, want 404", rec.Code)
	}

	a.grantConsent(t, token, true)
	rec = a.do(jsonRequest(t, http.MethodGet, "/api/tracking/consent", token, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got model.ConsentChoice
	decodeBody(t, rec, &got)
	if !got.Marketing || !got.Necessary {
		t.Errorf("consent = %+v", got)
	}
}
