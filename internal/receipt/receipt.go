package receipt

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/greenbucks/internal/extraction"
)

// Item is an extracted line item annotated with its estimated footprint.
type Item struct {
	Name     string          `json:"name"`
	Price    *float64        `json:"price"`
	Qty      *int            `json:"qty"`
	KgCO2e   decimal.Decimal `json:"kg_co2e"`
	EcoScore int             `json:"eco_score"`
}

// Analysis is the scored outcome of one extraction.
type Analysis struct {
	Items       []Item                 `json:"items"`
	Total       decimal.Decimal        `json:"total"`
	KgCO2e      decimal.Decimal        `json:"kg_co2e"`
	EcoScore    int                    `json:"eco_score"`
	NeedsReview bool                   `json:"needs_review"`
	Diagnostics extraction.Diagnostics `json:"diagnostics"`
	RawText     string                 `json:"raw_text,omitempty"`
}

// Receipt is a stored upload and the items extracted from it.
type Receipt struct {
	ID            string `json:"id"`
	Filename      string `json:"filename"`
	ContentType   string `json:"content_type"`
	Merchant      string `json:"merchant,omitempty"`
	MixedMerchant bool   `json:"mixed_merchant"`
	Analysis
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
