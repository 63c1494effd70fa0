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

type OrderStore struct {
	db  *database.DB
	now func() time.Time
}

func NewOrderStore(db *database.DB) *OrderStore {
	return &OrderStore{db: db, now: time.Now}
}

var orderCols = []string{
	"id", "stripe_session_id", "customer_email", "amount_total", "currency",
	"tracking_session_id", "fbclid", "utm_source", "utm_medium", "utm_campaign",
	"event_id", "created_at",
}

// Create inserts the order unless one already exists for the same Stripe
// checkout session. The boolean is false when the order was already recorded.
func (s *OrderStore) Create(ctx context.Context, o *model.Order) (bool, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now().UTC()
	}

	query, args, err := s.db.Builder().
		Insert("orders").
		Columns(orderCols[1:]...).
		Values(
			o.StripeSessionID, o.CustomerEmail, o.AmountTotal, o.Currency,
			o.TrackingSessionID, o.FBCLID, o.UTMSource, o.UTMMedium, o.UTMCampaign,
			o.EventID, o.CreatedAt,
		).
		Suffix("ON CONFLICT (stripe_session_id) DO NOTHING RETURNING id").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert order: %w", err)
	}

	err = s.db.QueryRowContext(ctx, query, args...).Scan(&o.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("insert order: %w", err)
	}
	return true, nil
}

// GetByStripeSessionID returns the order, or nil if not found.
func (s *OrderStore) GetByStripeSessionID(ctx context.Context, stripeSessionID string) (*model.Order, error) {
	query, args, err := s.db.Builder().
		Select(orderCols...).
		From("orders").
		Where("stripe_session_id = ?", stripeSessionID).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select order: %w", err)
	}

	var o model.Order
	err = s.db.QueryRowContext(ctx, query, args...).Scan(
		&o.ID, &o.StripeSessionID, &o.CustomerEmail, &o.AmountTotal, &o.Currency,
		&o.TrackingSessionID, &o.FBCLID, &o.UTMSource, &o.UTMMedium, &o.UTMCampaign,
		&o.EventID, &o.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return &o, nil
}
