package model

// Product is an active catalog entry merged with its translation for one locale.
type Product struct {
	ID            string `json:"id"`
	Slug          string `json:"slug"`
	LocalizedSlug string `json:"localized_slug"`
	Locale        string `json:"locale"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	PriceAmount   int64  `json:"price_amount"` // minor units
	Currency      string `json:"currency"`
}
