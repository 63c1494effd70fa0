package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dukerupert/foldclub/internal/database"
	"github.com/dukerupert/foldclub/internal/model"
)

// SessionStore persists attribution sessions keyed by the opaque fc_session token.
type SessionStore struct {
	db  *database.DB
	now func() time.Time
}

func NewSessionStore(db *database.DB) *SessionStore {
	return &SessionStore{db: db, now: time.Now}
}

var sessionCols = []string{
	"id", "session_id", "fbclid", "fbclid_at", "fbc", "fbp", "gclid", "ttclid",
	"utm_source", "utm_medium", "utm_campaign", "utm_content", "utm_term",
	"ip_address", "user_agent", "landing_page", "created_at", "expires_at",
}

func scanSession(scanner interface{ Scan(...any) error }) (*model.AttributionSession, error) {
	var s model.AttributionSession
	err := scanner.Scan(
		&s.ID, &s.SessionID, &s.FBCLID, &s.FBCLIDAt, &s.FBC, &s.FBP, &s.GCLID, &s.TTCLID,
		&s.UTMSource, &s.UTMMedium, &s.UTMCampaign, &s.UTMContent, &s.UTMTerm,
		&s.IPAddress, &s.UserAgent, &s.LandingPage, &s.CreatedAt, &s.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a new session row. CreatedAt defaults to now.
func (s *SessionStore) Create(ctx context.Context, sess *model.AttributionSession) (*model.AttributionSession, error) {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now().UTC()
	}

	query, args, err := s.db.Builder().
		Insert("attribution_sessions").
		Columns(sessionCols[1:]...).
		Values(
			sess.SessionID, sess.FBCLID, timePtrUTC(sess.FBCLIDAt), sess.FBC, sess.FBP, sess.GCLID, sess.TTCLID,
			sess.UTMSource, sess.UTMMedium, sess.UTMCampaign, sess.UTMContent, sess.UTMTerm,
			sess.IPAddress, sess.UserAgent, sess.LandingPage, sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(),
		).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert session: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&sess.ID); err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

// GetByToken returns the session for the given token, or nil if it does not
// exist or has expired.
func (s *SessionStore) GetByToken(ctx context.Context, token string) (*model.AttributionSession, error) {
	query, args, err := s.db.Builder().
		Select(sessionCols...).
		From("attribution_sessions").
		Where("session_id = ?", token).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session: %w", err)
	}

	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session by token: %w", err)
	}
	if sess.Expired(s.now()) {
		return nil, nil
	}
	return sess, nil
}

// ApplyAttribution overwrites the session fields for which p carries a value
// and moves expires_at. Fields absent from p keep their stored value. A new
// fbclid also restamps fbclid_at.
// Returns false if no row matched the token.
func (s *SessionStore) ApplyAttribution(ctx context.Context, token string, p model.AttributionParams, expiresAt time.Time) (bool, error) {
	ub := s.db.Builder().
		Update("attribution_sessions").
		Set("expires_at", expiresAt.UTC())

	for _, f := range []struct {
		col string
		val *string
	}{
		{"fbclid", p.FBCLID},
		{"gclid", p.GCLID},
		{"ttclid", p.TTCLID},
		{"utm_source", p.UTMSource},
		{"utm_medium", p.UTMMedium},
		{"utm_campaign", p.UTMCampaign},
		{"utm_content", p.UTMContent},
		{"utm_term", p.UTMTerm},
		{"fbc", p.FBC},
		{"fbp", p.FBP},
	} {
		if f.val != nil {
			ub = ub.Set(f.col, *f.val)
		}
	}

	if p.FBCLID != nil {
		ub = ub.Set("fbclid_at", s.now().UTC())
	}

	query, args, err := ub.Where("session_id = ?", token).ToSql()
	if err != nil {
		return false, fmt.Errorf("build update session: %w", err)
	}

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update session attribution: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func timePtrUTC(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
