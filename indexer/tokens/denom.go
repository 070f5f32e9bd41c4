// Package tokens normalizes denominations, resolves token metadata and
// prices, and converts raw base-unit amounts into USD and display values.
package tokens

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// ParseBaseDenom normalizes a denom to its base key. IBC trace paths like
// "transfer/channel-0/uatom" reduce to their last segment; everything else
// is already a base denom. The function is idempotent.
func ParseBaseDenom(denom string) string {
	if idx := strings.LastIndex(denom, "/"); idx >= 0 {
		return denom[idx+1:]
	}
	return denom
}

// MetadataRegistry resolves token metadata for base denoms. Seeded entries
// override the u-prefix / btc defaults; lookups are O(1).
type MetadataRegistry struct {
	mu      sync.RWMutex
	entries map[string]models.TokenMetadata
}

// NewMetadataRegistry creates a registry seeded with the tokens the local
// chain most commonly carries.
func NewMetadataRegistry() *MetadataRegistry {
	r := &MetadataRegistry{entries: make(map[string]models.TokenMetadata)}
	for _, meta := range []models.TokenMetadata{
		{BaseDenom: "ubbn", Symbol: "BABY", Decimals: 6, CoingeckoID: "babylon", Description: "Babylon native token"},
		{BaseDenom: "uusdc", Symbol: "USDC", Decimals: 6, CoingeckoID: "usd-coin", IsStable: true, Description: "USD Coin"},
		{BaseDenom: "uusdt", Symbol: "USDT", Decimals: 6, CoingeckoID: "tether", IsStable: true, Description: "Tether"},
		{BaseDenom: "uatom", Symbol: "ATOM", Decimals: 6, CoingeckoID: "cosmos", Description: "Cosmos Hub staking token"},
		{BaseDenom: "uosmo", Symbol: "OSMO", Decimals: 6, CoingeckoID: "osmosis", Description: "Osmosis staking token"},
		{BaseDenom: "untrn", Symbol: "NTRN", Decimals: 6, CoingeckoID: "neutron-3", Description: "Neutron"},
		{BaseDenom: "utia", Symbol: "TIA", Decimals: 6, CoingeckoID: "celestia", Description: "Celestia"},
		{BaseDenom: "wbtc", Symbol: "WBTC", Decimals: 8, CoingeckoID: "wrapped-bitcoin", Description: "Wrapped Bitcoin"},
		{BaseDenom: "ubtc", Symbol: "BTC", Decimals: 8, CoingeckoID: "bitcoin", Description: "Bitcoin voucher"},
		{BaseDenom: "weth", Symbol: "WETH", Decimals: 18, CoingeckoID: "weth", Description: "Wrapped Ether"},
	} {
		meta.OriginalDenom = meta.BaseDenom
		r.entries[meta.BaseDenom] = meta
	}
	return r
}

// RegisterMapping adds or replaces the metadata entry for its base denom.
func (r *MetadataRegistry) RegisterMapping(meta models.TokenMetadata) {
	if meta.BaseDenom == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[meta.BaseDenom] = meta
}

// Lookup resolves metadata for any denom shape. Known base denoms return
// their seeded entry; unknown ones get synthesized defaults: u-prefixed
// denoms expose the remainder upper-cased with 6 decimals, anything
// containing "btc" defaults to 8 decimals.
func (r *MetadataRegistry) Lookup(denom string) models.TokenMetadata {
	base := ParseBaseDenom(denom)

	r.mu.RLock()
	meta, ok := r.entries[base]
	r.mu.RUnlock()
	if ok {
		meta.OriginalDenom = denom
		return meta
	}

	symbol := strings.ToUpper(base)
	decimals := 6
	if strings.HasPrefix(base, "u") && len(base) > 1 {
		symbol = strings.ToUpper(base[1:])
	}
	if strings.Contains(strings.ToLower(base), "btc") {
		decimals = 8
	}

	return models.TokenMetadata{
		OriginalDenom: denom,
		BaseDenom:     base,
		Symbol:        symbol,
		Decimals:      decimals,
		Description:   fmt.Sprintf("Unknown token: %s", symbol),
	}
}

// Known reports whether the base denom of the input has a seeded entry.
func (r *MetadataRegistry) Known(denom string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[ParseBaseDenom(denom)]
	return ok
}

// StableCoingeckoIDs returns the coingecko ids of all registered stablecoins.
func (r *MetadataRegistry) StableCoingeckoIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, 2)
	for _, meta := range r.entries {
		if meta.IsStable && meta.CoingeckoID != "" {
			ids = append(ids, meta.CoingeckoID)
		}
	}
	return ids
}

// tokenMappingFile is the on-disk shape of a token mapping override file.
type tokenMappingFile struct {
	Tokens []struct {
		BaseDenom   string `toml:"base_denom"`
		Symbol      string `toml:"symbol"`
		Decimals    int    `toml:"decimals"`
		CoingeckoID string `toml:"coingecko_id"`
		Description string `toml:"description"`
		IsStable    bool   `toml:"is_stable"`
	} `toml:"tokens"`
}

// LoadMappingFile merges token mappings from a TOML file into the registry.
// Returns the number of mappings applied.
func (r *MetadataRegistry) LoadMappingFile(path string) (int, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read token mapping file: %w", err)
	}

	var file tokenMappingFile
	if err := toml.Unmarshal(body, &file); err != nil {
		return 0, fmt.Errorf("failed to parse token mapping file: %w", err)
	}

	applied := 0
	for _, t := range file.Tokens {
		if t.BaseDenom == "" || t.Symbol == "" {
			continue
		}
		decimals := t.Decimals
		if decimals == 0 {
			decimals = 6
		}
		r.RegisterMapping(models.TokenMetadata{
			OriginalDenom: t.BaseDenom,
			BaseDenom:     t.BaseDenom,
			Symbol:        t.Symbol,
			Decimals:      decimals,
			CoingeckoID:   t.CoingeckoID,
			Description:   t.Description,
			IsStable:      t.IsStable,
		})
		applied++
	}
	return applied, nil
}
