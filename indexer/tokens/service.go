package tokens

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/Cogwheel-Validator/spectra-indexer/indexer/models"
)

// PriceSource is the slice of the provider the service needs; tests swap in
// a stub.
type PriceSource interface {
	GetPrice(ctx context.Context, id string) (decimal.Decimal, error)
	GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error)
}

// Service composes the metadata registry with the price provider and keeps
// a cache of Token values keyed by base denom. Tokens are immutable; updates
// swap whole values under the lock.
type Service struct {
	registry *MetadataRegistry
	prices   PriceSource

	mu    sync.RWMutex
	cache map[string]models.Token

	// asyncFetch controls whether a cache miss schedules a background
	// price fetch. Disabled in tests for determinism.
	asyncFetch bool

	log zerolog.Logger
}

// NewService creates a token service.
func NewService(registry *MetadataRegistry, prices PriceSource, log zerolog.Logger) *Service {
	return &Service{
		registry:   registry,
		prices:     prices,
		cache:      make(map[string]models.Token),
		asyncFetch: true,
		log:        log,
	}
}

// SetAsyncFetch toggles background price fetching on cache misses.
func (s *Service) SetAsyncFetch(enabled bool) {
	s.asyncFetch = enabled
}

// GetToken resolves a denom to a Token. Cache hits return the stored value;
// misses build one from metadata, with the price filled asynchronously when
// a coingecko id is known. Stablecoins carry a hardcoded 1.0 immediately.
func (s *Service) GetToken(ctx context.Context, denom string) models.Token {
	base := ParseBaseDenom(denom)

	s.mu.RLock()
	token, ok := s.cache[base]
	s.mu.RUnlock()
	if ok {
		return token
	}

	meta := s.registry.Lookup(denom)
	token = models.Token{Metadata: meta}
	if meta.IsStable {
		token = token.WithPrice(one, models.PriceSourceHardcoded, time.Now())
	}

	s.mu.Lock()
	// another caller may have raced us; keep whichever is already there
	if existing, ok := s.cache[base]; ok {
		s.mu.Unlock()
		return existing
	}
	s.cache[base] = token
	s.mu.Unlock()

	if !meta.IsStable && meta.CoingeckoID != "" && s.asyncFetch {
		go s.fetchPrice(base, meta.CoingeckoID)
	}
	return token
}

func (s *Service) fetchPrice(base, coingeckoID string) {
	ctx, cancel := context.WithTimeout(context.Background(), providerTimeout)
	defer cancel()

	price, err := s.prices.GetPrice(ctx, coingeckoID)
	if err != nil {
		s.log.Warn().Err(err).Str("denom", base).Str("id", coingeckoID).Msg("background price fetch failed")
		return
	}
	s.setPrice(base, price, models.PriceSourceExternal)
}

func (s *Service) setPrice(base string, price decimal.Decimal, source models.PriceSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.cache[base]
	if !ok {
		return
	}
	s.cache[base] = token.WithPrice(price, source, time.Now())
}

// RegisterMapping exposes registry writes and invalidates the cached token
// so the next lookup rebuilds it from the new metadata.
func (s *Service) RegisterMapping(meta models.TokenMetadata) {
	s.registry.RegisterMapping(meta)
	s.mu.Lock()
	delete(s.cache, meta.BaseDenom)
	s.mu.Unlock()
}

// RefreshStalePrices batch-refreshes every cached token whose price is older
// than ttl and which has a coingecko id. One provider request is issued for
// the whole set. Returns the number of tokens updated.
func (s *Service) RefreshStalePrices(ctx context.Context, ttl time.Duration) (int, error) {
	now := time.Now()

	s.mu.RLock()
	stale := make(map[string]string) // coingecko id -> base denom
	for base, token := range s.cache {
		meta := token.Metadata
		if meta.CoingeckoID == "" || meta.IsStable {
			continue
		}
		if token.PriceIsStale(ttl, now) {
			stale[meta.CoingeckoID] = base
		}
	}
	s.mu.RUnlock()

	if len(stale) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(stale))
	for id := range stale {
		ids = append(ids, id)
	}

	prices, err := s.prices.GetPrices(ctx, ids)
	updated := 0
	for id, price := range prices {
		base, ok := stale[id]
		if !ok {
			continue
		}
		s.setPrice(base, price, models.PriceSourceExternal)
		updated++
	}
	if err != nil {
		return updated, fmt.Errorf("stale price refresh incomplete: %w", err)
	}
	return updated, nil
}

// ConvertToUSD converts a base-unit amount of denom to USD. The boolean
// reports whether a price was available.
func (s *Service) ConvertToUSD(ctx context.Context, denom, amount string) (decimal.Decimal, bool) {
	token := s.GetToken(ctx, denom)
	if !token.HasPrice() {
		return decimal.Zero, false
	}

	units, ok := new(big.Int).SetString(strings.TrimSpace(amount), 10)
	if !ok {
		return decimal.Zero, false
	}
	value := decimal.NewFromBigInt(units, -int32(token.Metadata.Decimals))
	return value.Mul(token.Price.Price), true
}

// ConversionLine is one row of a batch conversion breakdown.
type ConversionLine struct {
	Denom      string          `json:"denom"`
	Symbol     string          `json:"symbol"`
	Amount     string          `json:"amount"`
	USDValue   decimal.Decimal `json:"usd_value"`
	HasPrice   bool            `json:"has_price"`
	Percentage float64         `json:"percentage"`
}

// BatchConversion is the result of converting several denom amounts at once.
type BatchConversion struct {
	Total     decimal.Decimal  `json:"total"`
	Breakdown []ConversionLine `json:"breakdown"`
}

// ConvertBatchToUSD converts a set of denom amounts, returning the total and
// a breakdown ordered by USD value descending with percentage shares.
func (s *Service) ConvertBatchToUSD(ctx context.Context, amounts []models.DenomAmount) BatchConversion {
	result := BatchConversion{Breakdown: make([]ConversionLine, 0, len(amounts))}

	for _, entry := range amounts {
		token := s.GetToken(ctx, entry.Denom)
		usd, hasPrice := s.ConvertToUSD(ctx, entry.Denom, entry.Amount)
		result.Breakdown = append(result.Breakdown, ConversionLine{
			Denom:    entry.Denom,
			Symbol:   token.Metadata.Symbol,
			Amount:   entry.Amount,
			USDValue: usd,
			HasPrice: hasPrice,
		})
		result.Total = result.Total.Add(usd)
	}

	sort.SliceStable(result.Breakdown, func(i, j int) bool {
		return result.Breakdown[i].USDValue.GreaterThan(result.Breakdown[j].USDValue)
	})

	if result.Total.IsPositive() {
		for i := range result.Breakdown {
			share, _ := result.Breakdown[i].USDValue.
				Div(result.Total).
				Mul(decimal.NewFromInt(100)).
				Round(2).
				Float64()
			result.Breakdown[i].Percentage = share
		}
	}
	return result
}

// FormatAmount renders a base-unit amount of denom for display: scaled by
// the token decimals, thousands-grouped, trailing zeros collapsed. Values
// below 0.01 switch to scientific notation with two significant digits and
// zero renders as "0".
func (s *Service) FormatAmount(ctx context.Context, denom, amount string) string {
	token := s.GetToken(ctx, denom)
	scaled := formatScaled(amount, token.Metadata.Decimals)

	value, err := decimal.NewFromString(scaled)
	if err != nil {
		return scaled
	}
	if value.IsZero() {
		return "0"
	}
	if value.Abs().LessThan(decimal.New(1, -2)) {
		f, _ := value.Float64()
		return fmt.Sprintf("%.1e", f)
	}
	return groupThousands(scaled)
}

// FormatUSD renders a USD value with a dollar prefix and two decimals.
func (s *Service) FormatUSD(value decimal.Decimal) string {
	return "$" + groupThousands(value.StringFixed(2))
}

// groupThousands inserts comma separators into the integer part of a
// decimal string.
func groupThousands(num string) string {
	sign := ""
	if strings.HasPrefix(num, "-") {
		sign = "-"
		num = num[1:]
	}
	intPart := num
	fracPart := ""
	if idx := strings.Index(num, "."); idx >= 0 {
		intPart = num[:idx]
		fracPart = num[idx:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + fracPart
	}

	var sb strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		sb.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(intPart[i : i+3])
	}
	return sign + sb.String() + fracPart
}
