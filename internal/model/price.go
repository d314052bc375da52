package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is a point-in-time price for a token. Samples are unique per
// (TokenAddress, Timestamp) and never rewritten.
type PriceSample struct {
	Timestamp    time.Time
	PriceUSD     *decimal.Decimal
	MarketCap    *decimal.Decimal
	Price        decimal.Decimal
	Token        string
	TokenAddress string
}

// Key identifies the sample's slot in the price history.
func (p PriceSample) Key() string {
	return p.TokenAddress + "@" + p.Timestamp.UTC().Format(time.RFC3339)
}
