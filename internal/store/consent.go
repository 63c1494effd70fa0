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

// ConsentStore is the append-only consent ledger. Rows are never updated or deleted.
type ConsentStore struct {
	db  *database.DB
	now func() time.Time
}

func NewConsentStore(db *database.DB) *ConsentStore {
	return &ConsentStore{db: db, now: time.Now}
}

var consentCols = []string{"id", "session_id", "necessary", "analytics", "marketing", "created_at"}

func scanConsent(scanner interface{ Scan(...any) error }) (*model.ConsentRecord, error) {
	var c model.ConsentRecord
	if err := scanner.Scan(&c.ID, &c.SessionID, &c.Necessary, &c.Analytics, &c.Marketing, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// Insert appends a consent record for the session. Necessary is always stored as true.
func (s *ConsentStore) Insert(ctx context.Context, sessionID string, choice model.ConsentChoice) (*model.ConsentRecord, error) {
	rec := &model.ConsentRecord{
		SessionID: sessionID,
		Necessary: true,
		Analytics: choice.Analytics,
		Marketing: choice.Marketing,
		CreatedAt: s.now().UTC(),
	}

	query, args, err := s.db.Builder().
		Insert("consent_records").
		Columns(consentCols[1:]...).
		Values(rec.SessionID, rec.Necessary, rec.Analytics, rec.Marketing, rec.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert consent: %w", err)
	}

	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&rec.ID); err != nil {
		return nil, fmt.Errorf("insert consent: %w", err)
	}
	return rec, nil
}

// Latest returns the most recently created record for the session, or nil if
// consent was never recorded.
func (s *ConsentStore) Latest(ctx context.Context, sessionID string) (*model.ConsentRecord, error) {
	query, args, err := s.db.Builder().
		Select(consentCols...).
		From("consent_records").
		Where("session_id = ?", sessionID).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select consent: %w", err)
	}

	rec, err := scanConsent(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest consent: %w", err)
	}
	return rec, nil
}

// History returns every record for the session, oldest first.
func (s *ConsentStore) History(ctx context.Context, sessionID string) ([]model.ConsentRecord, error) {
	query, args, err := s.db.Builder().
		Select(consentCols...).
		From("consent_records").
		Where("session_id = ?", sessionID).
		OrderBy("created_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list consent: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list consent: %w", err)
	}
	defer rows.Close()

	var records []model.ConsentRecord
	for rows.Next() {
		rec, err := scanConsent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan consent: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
