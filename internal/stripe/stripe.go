// Package stripe verifies Stripe webhooks and extracts the attribution
// snapshot a storefront checkout carries in its metadata.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
)

// Metadata keys the storefront sets when it creates a Checkout Session.
const (
	MetaTrackingSession = "fc_session"
	MetaEventID         = "event_id"
	MetaProductIDs      = "product_ids"
	MetaNumItems        = "num_items"
)

// ErrNotConfigured is returned when no webhook secret is set.
var ErrNotConfigured = errors.New("stripe webhook secret not configured")

type Config struct {
	WebhookSecret string
}

type Client struct {
	cfg Config
}

func NewClient(cfg Config) *Client {
	return &Client{cfg: cfg}
}

// Configured returns true if the webhook secret is set.
func (c *Client) Configured() bool {
	return c.cfg.WebhookSecret != ""
}

// ConstructWebhookEvent verifies the signature and returns the parsed event.
// The event's API version may differ from the library's; only fields stable
// across versions are read.
func (c *Client) ConstructWebhookEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	if !c.Configured() {
		return stripe.Event{}, ErrNotConfigured
	}
	return webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

// Checkout is a completed checkout reduced to what order recording and
// Purchase dispatch need.
type Checkout struct {
	SessionID       string
	Email           string
	AmountTotal     int64
	Currency        string
	TrackingSession string
	EventID         string
	ProductIDs      []string
	NumItems        int
	// Warnings lists metadata that was malformed and replaced by a default.
	Warnings []string
}

// ParseCheckout decodes a checkout.session.completed event. Only an
// undecodable payload or a missing session ID is an error; malformed optional
// metadata falls back to defaults and is reported in Warnings.
func ParseCheckout(event stripe.Event) (*Checkout, error) {
	if event.Data == nil {
		return nil, errors.New("event has no data")
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal checkout session: %w", err)
	}

	co := &Checkout{
		SessionID:       sess.ID,
		AmountTotal:     sess.AmountTotal,
		Currency:        strings.ToUpper(string(sess.Currency)),
		TrackingSession: sess.Metadata[MetaTrackingSession],
		EventID:         sess.Metadata[MetaEventID],
		ProductIDs:      splitIDs(sess.Metadata[MetaProductIDs]),
	}
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		co.Email = sess.CustomerDetails.Email
	} else {
		co.Email = sess.CustomerEmail
	}

	if co.SessionID == "" {
		return nil, errors.New("checkout session missing id")
	}

	co.NumItems = len(co.ProductIDs)
	if v := sess.Metadata[MetaNumItems]; v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			co.NumItems = n
		} else {
			co.Warnings = append(co.Warnings, fmt.Sprintf("invalid %s metadata %q, using %d", MetaNumItems, v, co.NumItems))
		}
	}
	if co.AmountTotal < 0 {
		co.Warnings = append(co.Warnings, fmt.Sprintf("negative amount_total %d, recorded as 0", co.AmountTotal))
		co.AmountTotal = 0
	}
	return co, nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
