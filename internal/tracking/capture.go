package tracking

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"github.com/dukerupert/foldclub/internal/middleware"
	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
	"github.com/dukerupert/foldclub/internal/tracking/metrics"
)

// DefaultSessionTTL is the attribution window.
const DefaultSessionTTL = 30 * 24 * time.Hour

// Capturer creates attribution sessions and merges newly observed click and
// campaign identifiers into them, last click wins.
type Capturer struct {
	sessions *store.SessionStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
	ttl      time.Duration
	now      func() time.Time
}

func NewCapturer(sessions *store.SessionStore, logger *slog.Logger, m *metrics.Metrics, ttl time.Duration) *Capturer {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Capturer{
		sessions: sessions,
		logger:   logger,
		metrics:  m,
		ttl:      ttl,
		now:      time.Now,
	}
}

// CaptureParams records the attribution carried by r. It never fails the
// request: errors are logged and counted.
func (c *Capturer) CaptureParams(w http.ResponseWriter, r *http.Request) {
	if isBot(r.UserAgent()) {
		c.metrics.Captured(metrics.CaptureBot)
		return
	}
	landing := r.URL.Path
	if _, err := c.Resolve(w, r, ExtractParams(r), &landing); err != nil {
		c.metrics.Captured(metrics.CaptureError)
		c.logger.Error("capture attribution", "path", r.URL.Path, "error", err)
	}
}

// Resolve returns the visitor's live session after merging p into it. When
// the request has no valid session one is created from p and the session
// cookie is written to w.
func (c *Capturer) Resolve(w http.ResponseWriter, r *http.Request, p model.AttributionParams, landingPage *string) (*model.AttributionSession, error) {
	ctx := r.Context()

	if token := SessionToken(r); token != "" {
		sess, err := c.sessions.GetByToken(ctx, token)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			if p.Empty() {
				c.metrics.Captured(metrics.CaptureUnchanged)
				return sess, nil
			}
			expiresAt := c.now().Add(c.ttl)
			ok, err := c.sessions.ApplyAttribution(ctx, token, p, expiresAt)
			if err != nil {
				return nil, err
			}
			if ok {
				applyParams(sess, p)
				if p.FBCLID != nil {
					clickAt := c.now().UTC()
					sess.FBCLIDAt = &clickAt
				}
				sess.ExpiresAt = expiresAt
				c.metrics.Captured(metrics.CaptureUpdated)
				return sess, nil
			}
			// Row vanished between read and write; fall through and start over.
		}
	}

	sess, err := c.create(ctx, r, p, landingPage)
	if err != nil {
		return nil, err
	}
	c.setCookie(w, r, sess.SessionID)
	c.metrics.Captured(metrics.CaptureCreated)
	return sess, nil
}

func (c *Capturer) create(ctx context.Context, r *http.Request, p model.AttributionParams, landingPage *string) (*model.AttributionSession, error) {
	token, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session token: %w", err)
	}

	now := c.now()
	sess := &model.AttributionSession{
		SessionID:   token.String(),
		LandingPage: landingPage,
		CreatedAt:   now.UTC(),
		ExpiresAt:   now.Add(c.ttl).UTC(),
	}
	if ip := middleware.RealIP(r); ip != "" {
		sess.IPAddress = &ip
	}
	if ua := r.UserAgent(); ua != "" {
		sess.UserAgent = &ua
	}
	applyParams(sess, p)
	if p.FBCLID != nil {
		sess.FBCLIDAt = &sess.CreatedAt
	}

	return c.sessions.Create(ctx, sess)
}

func (c *Capturer) setCookie(w http.ResponseWriter, r *http.Request, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   IsHTTPS(r),
		SameSite: http.SameSiteLaxMode,
	})
}

// Middleware runs CaptureParams for page navigations before handing the
// request on.
func (c *Capturer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && capturable(r.URL.Path) {
			c.CaptureParams(w, r)
		}
		next.ServeHTTP(w, r)
	})
}

var skipPrefixes = []string{"/_app/", "/api/", "/webhooks/", "/ws/", "/metrics", "/health"}

func capturable(path string) bool {
	for _, p := range skipPrefixes {
		if strings.HasPrefix(path, p) {
			return false
		}
	}
	return !strings.Contains(path, ".")
}

func isBot(ua string) bool {
	if ua == "" {
		return false
	}
	return useragent.New(ua).Bot()
}

// SessionToken returns the fc_session cookie value, or "".
func SessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

// IsHTTPS reports whether the client reached us over TLS, directly or
// through a proxy that sets X-Forwarded-Proto.
func IsHTTPS(r *http.Request) bool {
	return r.TLS != nil || strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}
