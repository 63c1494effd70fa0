// Package meta sends conversion events to the Meta Conversions API.
package meta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dukerupert/foldclub/internal/tracking"
)

const (
	DefaultAPIVersion = "v21.0"
	DefaultTimeout    = 3 * time.Second
	graphURL          = "https://graph.facebook.com"
	maxErrorBody      = 4 << 10
)

type Config struct {
	PixelID       string
	AccessToken   string
	APIVersion    string
	TestEventCode string
	Timeout       time.Duration
}

var _ tracking.Platform = (*Client)(nil)

type Client struct {
	cfg        Config
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured returns true if both the pixel ID and access token are set.
func (c *Client) Configured() bool {
	return c.cfg.PixelID != "" && c.cfg.AccessToken != ""
}

func (c *Client) Name() string { return "meta" }

func (c *Client) SendViewContent(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "ViewContent", ev)
}

func (c *Client) SendAddToCart(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "AddToCart", ev)
}

func (c *Client) SendInitiateCheckout(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "InitiateCheckout", ev)
}

func (c *Client) SendPurchase(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "Purchase", ev)
}

type capiRequest struct {
	Data          []capiEvent `json:"data"`
	AccessToken   string      `json:"access_token"`
	TestEventCode string      `json:"test_event_code,omitempty"`
}

type capiEvent struct {
	EventName      string     `json:"event_name"`
	EventID        string     `json:"event_id"`
	EventTime      int64      `json:"event_time"`
	EventSourceURL string     `json:"event_source_url,omitempty"`
	ActionSource   string     `json:"action_source"`
	UserData       userData   `json:"user_data"`
	CustomData     customData `json:"custom_data"`
}

type userData struct {
	Email           []string `json:"em,omitempty"`
	ClientIPAddress string   `json:"client_ip_address,omitempty"`
	ClientUserAgent string   `json:"client_user_agent,omitempty"`
	FBC             string   `json:"fbc,omitempty"`
	FBP             string   `json:"fbp,omitempty"`
}

type customData struct {
	ContentIDs  []string `json:"content_ids,omitempty"`
	ContentName string   `json:"content_name,omitempty"`
	ContentType string   `json:"content_type"`
	Value       float64  `json:"value"`
	Currency    string   `json:"currency"`
	NumItems    int      `json:"num_items,omitempty"`
}

func buildEvent(name string, ev tracking.Event) capiEvent {
	ud := userData{
		ClientIPAddress: ev.User.IP,
		ClientUserAgent: ev.User.UserAgent,
		FBC:             ev.User.FBC,
		FBP:             ev.User.FBP,
	}
	if h := tracking.HashPII(ev.User.Email); h != "" {
		ud.Email = []string{h}
	}
	// Meta only accepts the click ID wrapped in the fbc format, stamped with
	// the time of the click.
	if ud.FBC == "" && ev.User.FBCLID != "" {
		clickAt := ev.User.ClickTime
		if clickAt.IsZero() {
			clickAt = ev.Time
		}
		ud.FBC = fmt.Sprintf("fb.1.%d.%s", clickAt.UnixMilli(), ev.User.FBCLID)
	}

	cd := customData{
		ContentIDs:  ev.ProductIDs,
		ContentName: ev.ProductName,
		ContentType: "product",
		Value:       ev.MajorValue(),
		Currency:    ev.Currency,
	}
	if name == "InitiateCheckout" || name == "Purchase" {
		cd.NumItems = ev.NumItems
	}

	return capiEvent{
		EventName:      name,
		EventID:        ev.ID,
		EventTime:      ev.Time.Unix(),
		EventSourceURL: ev.SourceURL,
		ActionSource:   "website",
		UserData:       ud,
		CustomData:     cd,
	}
}

func (c *Client) send(ctx context.Context, name string, ev tracking.Event) error {
	if !c.Configured() {
		return fmt.Errorf("meta client not configured: missing pixel id or access token")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	payload := capiRequest{
		Data:          []capiEvent{buildEvent(name, ev)},
		AccessToken:   c.cfg.AccessToken,
		TestEventCode: c.cfg.TestEventCode,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal meta event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/%s/events", graphURL, c.cfg.APIVersion, c.cfg.PixelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send meta event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &tracking.DispatchError{Platform: c.Name(), Status: resp.StatusCode, Body: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
