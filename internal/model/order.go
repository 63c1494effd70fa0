package model

import "time"

// Order is a paid checkout together with the attribution snapshot taken when
// the payment webhook arrived.
type Order struct {
	ID                int64     `json:"id"`
	StripeSessionID   string    `json:"stripe_session_id"`
	CustomerEmail     string    `json:"customer_email"`
	AmountTotal       int64     `json:"amount_total"`
	Currency          string    `json:"currency"`
	TrackingSessionID *string   `json:"tracking_session_id"`
	FBCLID            *string   `json:"fbclid"`
	UTMSource         *string   `json:"utm_source"`
	UTMMedium         *string   `json:"utm_medium"`
	UTMCampaign       *string   `json:"utm_campaign"`
	EventID           *string   `json:"event_id"`
	CreatedAt         time.Time `json:"created_at"`
}
