package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource records where a token price came from.
type PriceSource string

const (
	PriceSourceExternal  PriceSource = "external"
	PriceSourceHardcoded PriceSource = "hardcoded"
	PriceSourceFallback  PriceSource = "fallback"
)

// TokenMetadata describes a token independent of its price.
type TokenMetadata struct {
	OriginalDenom string `json:"original_denom"`
	BaseDenom     string `json:"base_denom"`
	Symbol        string `json:"symbol"`
	Decimals      int    `json:"decimals"`
	CoingeckoID   string `json:"coingecko_id,omitempty"`
	Description   string `json:"description,omitempty"`
	IsStable      bool   `json:"is_stable"`
}

// TokenPrice is a USD price observation.
type TokenPrice struct {
	Price       decimal.Decimal `json:"price"`
	LastUpdated time.Time       `json:"last_updated"`
	Source      PriceSource     `json:"source"`
}

// Token is an immutable value object pairing metadata with an optional
// price. Updates produce new Token values; holders of an old value are
// never mutated, so a shared cache only needs to swap references.
type Token struct {
	Metadata TokenMetadata `json:"metadata"`
	Price    *TokenPrice   `json:"price,omitempty"`
}

// WithPrice returns a copy of the token carrying the given price.
func (t Token) WithPrice(price decimal.Decimal, source PriceSource, at time.Time) Token {
	t.Price = &TokenPrice{Price: price, LastUpdated: at, Source: source}
	return t
}

// WithMetadata returns a copy of the token with replaced metadata.
func (t Token) WithMetadata(meta TokenMetadata) Token {
	t.Metadata = meta
	return t
}

// HasPrice reports whether a usable price is attached.
func (t Token) HasPrice() bool {
	return t.Price != nil
}

// PriceIsStale reports whether the attached price is older than ttl.
// A token without a price is always stale.
func (t Token) PriceIsStale(ttl time.Duration, now time.Time) bool {
	if t.Price == nil {
		return true
	}
	return now.Sub(t.Price.LastUpdated) > ttl
}
