package model

import "time"

// AttributionSession is the server-side record behind the fc_session cookie.
// Nullable attribution fields are nil until a request carries them.
type AttributionSession struct {
	ID          int64      `json:"id"`
	SessionID   string     `json:"session_id"`
	FBCLID      *string    `json:"fbclid"`
	FBCLIDAt    *time.Time `json:"fbclid_at"`
	FBC         *string    `json:"fbc"`
	FBP         *string    `json:"fbp"`
	GCLID       *string    `json:"gclid"`
	TTCLID      *string    `json:"ttclid"`
	UTMSource   *string    `json:"utm_source"`
	UTMMedium   *string    `json:"utm_medium"`
	UTMCampaign *string    `json:"utm_campaign"`
	UTMContent  *string    `json:"utm_content"`
	UTMTerm     *string    `json:"utm_term"`
	IPAddress   *string    `json:"ip_address"`
	UserAgent   *string    `json:"user_agent"`
	LandingPage *string    `json:"landing_page"`
	CreatedAt   time.Time  `json:"created_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at the given instant.
func (s *AttributionSession) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// ConsentChoice is the set of permission categories a visitor picked.
type ConsentChoice struct {
	Necessary bool `json:"necessary"`
	Analytics bool `json:"analytics"`
	Marketing bool `json:"marketing"`
}

// ConsentRecord is one append-only row of the consent ledger.
type ConsentRecord struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Necessary bool      `json:"necessary"`
	Analytics bool      `json:"analytics"`
	Marketing bool      `json:"marketing"`
	CreatedAt time.Time `json:"created_at"`
}

// Choice returns the record's flags as a ConsentChoice.
func (c *ConsentRecord) Choice() ConsentChoice {
	return ConsentChoice{Necessary: c.Necessary, Analytics: c.Analytics, Marketing: c.Marketing}
}

// AttributionParams is the set of click, campaign and cookie identifiers
// observed on one request. Nil means "not present on this request".
type AttributionParams struct {
	FBCLID      *string `json:"fbclid"`
	GCLID       *string `json:"gclid"`
	TTCLID      *string `json:"ttclid"`
	UTMSource   *string `json:"utm_source"`
	UTMMedium   *string `json:"utm_medium"`
	UTMCampaign *string `json:"utm_campaign"`
	UTMContent  *string `json:"utm_content"`
	UTMTerm     *string `json:"utm_term"`
	FBC         *string `json:"fbc"`
	FBP         *string `json:"fbp"`
}

// Empty reports whether no identifier at all was observed.
func (p AttributionParams) Empty() bool {
	for _, v := range []*string{
		p.FBCLID, p.GCLID, p.TTCLID,
		p.UTMSource, p.UTMMedium, p.UTMCampaign, p.UTMContent, p.UTMTerm,
		p.FBC, p.FBP,
	} {
		if v != nil {
			return false
		}
	}
	return true
}
