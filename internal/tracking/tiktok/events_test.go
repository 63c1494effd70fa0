package tiktok

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/foldclub/internal/tracking"
)

func testEvent() tracking.Event {
	return tracking.Event{
		ID:         "Purchase_cs_test_1_abcd_2026-10-19",
		ProductIDs: []string{"love-swans", "sphinx-cat"},
		Value:      21800,
		Currency:   "PLN",
		NumItems:   2,
		SourceURL:  "https://foldclub.test/en/checkout/success",
		Time:       time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		User: tracking.UserData{
			Email:     "bob@example.com",
			IP:        "198.51.100.4",
			UserAgent: "Mozilla/5.0",
			TTCLID:    "tt-1",
		},
	}
}

func newTestClient(server *httptest.Server) *Client {
	c := NewClient(Config{PixelCode: "PIX", AccessToken: "tt-token"})
	c.httpClient = &http.Client{Transport: &rewriteTransport{base: http.DefaultTransport, target: server.URL}}
	return c
}

func TestSendPurchaseAsCompletePayment(t *testing.T) {
	var received trackRequest
	var gotToken, gotPath string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("Access-Token")
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Write([]byte(`{"code":0,"message":"OK"}`))
	}))
	defer server.Close()

	if err := newTestClient(server).SendPurchase(context.Background(), testEvent()); err != nil {
		t.Fatalf("send: %v", err)
	}

	if gotToken != "tt-token" {
		t.Errorf("Access-Token = %q, want %q", gotToken, "tt-token")
	}
	if gotPath != "/open_api/v1.3/event/track/" {
		t.Errorf("path = %q, want %q", gotPath, "/open_api/v1.3/event/track/")
	}
	if received.EventSource != "web" || received.EventSourceID != "PIX" {
		t.Errorf("source = %q/%q, want web/PIX", received.EventSource, received.EventSourceID)
	}
	if len(received.Data) != 1 {
		t.Fatalf("data len = %d, want 1", len(received.Data))
	}
	ev := received.Data[0]
	if ev.Event != "CompletePayment" {
		t.Errorf("event = %q, want %q", ev.Event, "CompletePayment")
	}
	if ev.Properties.Value != 218 {
		t.Errorf("value = %v, want 218", ev.Properties.Value)
	}
	if len(ev.Properties.Contents) != 2 {
		t.Errorf("contents = %d, want 2", len(ev.Properties.Contents))
	}
	if ev.User.TTCLID != "tt-1" {
		t.Errorf("ttclid = %q, want %q", ev.User.TTCLID, "tt-1")
	}
	if len(ev.User.Email) != 1 || ev.User.Email[0] != tracking.HashPII("bob@example.com") {
		t.Errorf("email = %v, want hashed", ev.User.Email)
	}
}

func TestBusinessErrorCode(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":40001,"message":"invalid access token"}`))
	}))
	defer server.Close()

	err := newTestClient(server).SendViewContent(context.Background(), testEvent())
	var de *tracking.DispatchError
	if !errors.As(err, &de) {
		t.Fatalf("err = %v, want *DispatchError", err)
	}
	if de.Status != http.StatusOK {
		t.Errorf("status = %d, want %d", de.Status, http.StatusOK)
	}
}

func TestHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := newTestClient(server).SendAddToCart(context.Background(), testEvent())
	var de *tracking.DispatchError
	if !errors.As(err, &de) || de.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v, want DispatchError with status 500", err)
	}
}

func TestSingleProductQuantity(t *testing.T) {
	ev := testEvent()
	ev.ProductIDs = []string{"moai-head"}
	ev.NumItems = 3
	got := buildEvent("InitiateCheckout", ev)
	if got.Properties.Contents[0].Quantity != 3 {
		t.Errorf("quantity = %d, want 3", got.Properties.Contents[0].Quantity)
	}
}

func TestConfigured(t *testing.T) {
	if NewClient(Config{PixelCode: "PIX"}).Configured() {
		t.Error("expected Configured() = false without token")
	}
	if !NewClient(Config{PixelCode: "PIX", AccessToken: "t"}).Configured() {
		t.Error("expected Configured() = true")
	}
}

// rewriteTransport redirects all requests to a test server URL.
type rewriteTransport struct {
	base   http.RoundTripper
	target string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target[len("http://"):]
	return t.base.RoundTrip(req)
}
