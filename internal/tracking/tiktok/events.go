// Package tiktok sends conversion events to the TikTok Events API.
package tiktok

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
	DefaultTimeout = 3 * time.Second
	trackURL       = "https://business-api.tiktok.com/open_api/v1.3/event/track/"
	maxErrorBody   = 4 << 10
)

type Config struct {
	PixelCode   string
	AccessToken string
	Timeout     time.Duration
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

// Configured returns true if both the pixel code and access token are set.
func (c *Client) Configured() bool {
	return c.cfg.PixelCode != "" && c.cfg.AccessToken != ""
}

func (c *Client) Name() string { return "tiktok" }

func (c *Client) SendViewContent(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "ViewContent", ev)
}

func (c *Client) SendAddToCart(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "AddToCart", ev)
}

func (c *Client) SendInitiateCheckout(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "InitiateCheckout", ev)
}

// SendPurchase reports the order as CompletePayment, TikTok's purchase event.
func (c *Client) SendPurchase(ctx context.Context, ev tracking.Event) error {
	return c.send(ctx, "CompletePayment", ev)
}

type trackRequest struct {
	EventSource   string       `json:"event_source"`
	EventSourceID string       `json:"event_source_id"`
	Data          []trackEvent `json:"data"`
}

type trackEvent struct {
	Event      string     `json:"event"`
	EventTime  int64      `json:"event_time"`
	EventID    string     `json:"event_id"`
	User       user       `json:"user"`
	Properties properties `json:"properties"`
	Page       page       `json:"page"`
}

type user struct {
	TTCLID    string   `json:"ttclid,omitempty"`
	IP        string   `json:"ip,omitempty"`
	UserAgent string   `json:"user_agent,omitempty"`
	Email     []string `json:"email,omitempty"`
}

type content struct {
	ContentID string `json:"content_id"`
	Quantity  int    `json:"quantity,omitempty"`
}

type properties struct {
	Contents    []content `json:"contents,omitempty"`
	ContentType string    `json:"content_type"`
	Value       float64   `json:"value"`
	Currency    string    `json:"currency"`
}

type page struct {
	URL string `json:"url,omitempty"`
}

type trackResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func buildEvent(name string, ev tracking.Event) trackEvent {
	u := user{
		TTCLID:    ev.User.TTCLID,
		IP:        ev.User.IP,
		UserAgent: ev.User.UserAgent,
	}
	if h := tracking.HashPII(ev.User.Email); h != "" {
		u.Email = []string{h}
	}

	contents := make([]content, 0, len(ev.ProductIDs))
	for _, id := range ev.ProductIDs {
		contents = append(contents, content{ContentID: id})
	}
	if len(contents) == 1 && ev.NumItems > 0 {
		contents[0].Quantity = ev.NumItems
	}

	return trackEvent{
		Event:     name,
		EventTime: ev.Time.Unix(),
		EventID:   ev.ID,
		User:      u,
		Properties: properties{
			Contents:    contents,
			ContentType: "product",
			Value:       ev.MajorValue(),
			Currency:    ev.Currency,
		},
		Page: page{URL: ev.SourceURL},
	}
}

func (c *Client) send(ctx context.Context, name string, ev tracking.Event) error {
	if !c.Configured() {
		return fmt.Errorf("tiktok client not configured: missing pixel code or access token")
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	body, err := json.Marshal(trackRequest{
		EventSource:   "web",
		EventSourceID: c.cfg.PixelCode,
		Data:          []trackEvent{buildEvent(name, ev)},
	})
	if err != nil {
		return fmt.Errorf("marshal tiktok event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Access-Token", c.cfg.AccessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send tiktok event: %w", err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return fmt.Errorf("read tiktok response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &tracking.DispatchError{Platform: c.Name(), Status: resp.StatusCode, Body: string(b)}
	}

	// TikTok reports business errors in a 200 body.
	var tr trackResponse
	if err := json.Unmarshal(b, &tr); err != nil {
		return fmt.Errorf("decode tiktok response: %w", err)
	}
	if tr.Code != 0 {
		return &tracking.DispatchError{Platform: c.Name(), Status: resp.StatusCode, Body: string(b)}
	}
	return nil
}
