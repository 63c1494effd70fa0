package tracking

import (
	"context"
	"errors"
	"log/slog"

	"github.com/dukerupert/foldclub/internal/model"
	"github.com/dukerupert/foldclub/internal/store"
	"github.com/dukerupert/foldclub/internal/tracking/metrics"
)

// ErrNoSession is returned when an operation needs a live session and the
// token does not name one.
var ErrNoSession = errors.New("no active attribution session")

// Ledger is the append-only consent history plus the marketing gate.
type Ledger struct {
	sessions *store.SessionStore
	consents *store.ConsentStore
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

func NewLedger(sessions *store.SessionStore, consents *store.ConsentStore, logger *slog.Logger, m *metrics.Metrics) *Ledger {
	return &Ledger{sessions: sessions, consents: consents, logger: logger, metrics: m}
}

// RecordConsent appends a consent record for the session. Earlier records are
// never touched.
func (l *Ledger) RecordConsent(ctx context.Context, token string, choice model.ConsentChoice) (*model.ConsentRecord, error) {
	sess, err := l.sessions.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrNoSession
	}

	rec, err := l.consents.Insert(ctx, token, choice)
	if err != nil {
		return nil, err
	}
	l.metrics.Consent(rec.Marketing)
	l.logger.Debug("consent recorded", "marketing", rec.Marketing, "analytics", rec.Analytics)
	return rec, nil
}

// CurrentConsent returns the latest consent record of a live session. It
// returns nil when the session is missing or expired, or when no choice was
// ever recorded.
func (l *Ledger) CurrentConsent(ctx context.Context, token string) (*model.ConsentRecord, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := l.sessions.GetByToken(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	return l.consents.Latest(ctx, token)
}

// History returns every consent record of a live session, oldest first.
func (l *Ledger) History(ctx context.Context, token string) ([]model.ConsentRecord, error) {
	sess, err := l.sessions.GetByToken(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	return l.consents.History(ctx, token)
}

// MarketingSession returns the session only if its current consent allows
// marketing dispatch. No consent record means no.
func (l *Ledger) MarketingSession(ctx context.Context, token string) (*model.AttributionSession, error) {
	if token == "" {
		return nil, nil
	}
	sess, err := l.sessions.GetByToken(ctx, token)
	if err != nil || sess == nil {
		return nil, err
	}
	rec, err := l.consents.Latest(ctx, token)
	if err != nil || rec == nil || !rec.Marketing {
		return nil, err
	}
	return sess, nil
}
