package tokens

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	coingeckoPublicURL = "https://api.coingecko.com/api/v3"
	coingeckoProURL    = "https://pro-api.coingecko.com/api/v3"

	// requests per minute by API tier
	rateNoKey   = 10
	rateDemoKey = 50
	rateProKey  = 100

	defaultCacheTTL  = 5 * time.Minute
	defaultBatchSize = 250
	rateLimitBackoff = 5 * time.Second
	providerTimeout  = 10 * time.Second
)

// ProviderConfig configures the external price provider.
type ProviderConfig struct {
	APIKey string
	// Tier is "demo" or "pro"; anything else is treated as keyless.
	Tier      string
	CacheTTL  time.Duration
	BatchSize int
	// MaxRetries is the number of extra attempts per batch after a
	// transient failure (429, 5xx, network). 0 means a single attempt.
	MaxRetries int
	// BaseURL overrides the tier-derived endpoint, used in tests.
	BaseURL string
}

type priceEntry struct {
	price     decimal.Decimal
	timestamp time.Time
	ttl       time.Duration
	// invalid marks ids the API rejected with 400; the cached zero
	// suppresses refetches until the TTL expires.
	invalid bool
}

func (e *priceEntry) fresh(now time.Time) bool {
	return now.Sub(e.timestamp) <= e.ttl
}

func (e *priceEntry) age(now time.Time) time.Duration {
	return now.Sub(e.timestamp)
}

// PriceProvider fetches USD prices from CoinGecko with a TTL cache, a tier
// based rate limit, request batching and backoff on 429.
type PriceProvider struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	authHdr    string
	cacheTTL   time.Duration
	batchSize  int
	maxRetries int

	mu    sync.Mutex
	cache map[string]*priceEntry

	// rate limit cursor: a single monotonic timestamp
	rateMu      sync.Mutex
	lastRequest time.Time
	minInterval time.Duration

	stables map[string]bool
	log     zerolog.Logger
}

// NewPriceProvider creates a provider. stableIDs are coingecko ids that
// always resolve to 1.0 without a network call.
func NewPriceProvider(cfg ProviderConfig, stableIDs []string, log zerolog.Logger) *PriceProvider {
	baseURL := coingeckoPublicURL
	authHdr := ""
	rate := rateNoKey
	switch strings.ToLower(cfg.Tier) {
	case "demo":
		if cfg.APIKey != "" {
			authHdr = "x-cg-demo-api-key"
			rate = rateDemoKey
		}
	case "pro":
		if cfg.APIKey != "" {
			baseURL = coingeckoProURL
			authHdr = "x-cg-pro-api-key"
			rate = rateProKey
		}
	}
	if cfg.BaseURL != "" {
		baseURL = cfg.BaseURL
	}

	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	batch := cfg.BatchSize
	if batch <= 0 || batch > defaultBatchSize {
		batch = defaultBatchSize
	}

	stables := make(map[string]bool, len(stableIDs))
	for _, id := range stableIDs {
		stables[id] = true
	}

	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}

	return &PriceProvider{
		client:      &http.Client{Timeout: providerTimeout},
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      cfg.APIKey,
		authHdr:     authHdr,
		cacheTTL:    ttl,
		batchSize:   batch,
		maxRetries:  retries,
		cache:       make(map[string]*priceEntry),
		minInterval: time.Minute / time.Duration(rate),
		stables:     stables,
		log:         log,
	}
}

// errForbidden marks a credentials rejection; retrying cannot help.
var errForbidden = errors.New("price provider forbidden (403)")

var one = decimal.NewFromInt(1)

// GetPrice returns the USD price for a single coingecko id. Stable ids
// short-circuit to 1.0. Unrecoverable lookups cache and return zero so the
// caller is not retried into the rate limit.
func (p *PriceProvider) GetPrice(ctx context.Context, id string) (decimal.Decimal, error) {
	if p.stables[id] {
		return one, nil
	}

	now := time.Now()
	p.mu.Lock()
	if entry, ok := p.cache[id]; ok {
		if entry.fresh(now) {
			price := entry.price
			p.mu.Unlock()
			return price, nil
		}
		// older than TTL: evict and refetch
		delete(p.cache, id)
	}
	p.mu.Unlock()

	prices, err := p.fetchWithRetry(ctx, []string{id})
	if err != nil {
		return decimal.Zero, err
	}
	if price, ok := prices[id]; ok {
		return price, nil
	}
	// a 400 already cached the id as probably invalid; keep that entry
	p.mu.Lock()
	if entry, ok := p.cache[id]; ok {
		price := entry.price
		p.mu.Unlock()
		return price, nil
	}
	p.mu.Unlock()
	// id absent from the response; cache zero like any other dead lookup
	p.storePrice(id, decimal.Zero, false)
	return decimal.Zero, nil
}

// GetPrices resolves many ids at once, partitioning cache misses into
// batches of at most the configured batch size. A batch that fails after
// all attempts maps to zero in the result without touching the cache.
func (p *PriceProvider) GetPrices(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(ids))
	missing := make([]string, 0, len(ids))

	now := time.Now()
	p.mu.Lock()
	for _, id := range ids {
		if p.stables[id] {
			out[id] = one
			continue
		}
		if entry, ok := p.cache[id]; ok && entry.fresh(now) {
			out[id] = entry.price
			continue
		}
		delete(p.cache, id)
		missing = append(missing, id)
	}
	p.mu.Unlock()

	var lastErr error
	for start := 0; start < len(missing); start += p.batchSize {
		end := min(start+p.batchSize, len(missing))
		batch := missing[start:end]

		prices, err := p.fetchWithRetry(ctx, batch)
		if err != nil {
			lastErr = err
			// a transient failure must not pin zeros in the cache; the
			// caller's retry refetches the whole batch
			for _, id := range batch {
				out[id] = decimal.Zero
			}
			continue
		}
		for _, id := range batch {
			price, ok := prices[id]
			if !ok {
				price = decimal.Zero
				p.storePrice(id, decimal.Zero, false)
			}
			out[id] = price
		}
	}

	return out, lastErr
}

// fetchWithRetry runs fetchBatch with up to maxRetries extra attempts on
// transient failures. Credential rejections and context cancellation end the
// loop immediately; 429 attempts are already spaced by the in-batch backoff.
func (p *PriceProvider) fetchWithRetry(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		prices, err := p.fetchBatch(ctx, ids)
		if err == nil {
			return prices, nil
		}
		lastErr = err
		if errors.Is(err, errForbidden) || ctx.Err() != nil {
			break
		}
		if attempt < p.maxRetries {
			p.log.Warn().Err(err).Int("attempt", attempt+1).Msg("price fetch failed, retrying")
		}
	}
	return nil, lastErr
}

// fetchBatch issues one /simple/price request for the given ids and caches
// every price in the response.
func (p *PriceProvider) fetchBatch(ctx context.Context, ids []string) (map[string]decimal.Decimal, error) {
	if err := p.waitRateLimit(ctx); err != nil {
		return nil, err
	}

	fullURL := fmt.Sprintf(
		"%s/simple/price?ids=%s&vs_currencies=usd&include_last_updated_at=true",
		p.baseURL, url.QueryEscape(strings.Join(ids, ",")),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build price request: %w", err)
	}
	if p.authHdr != "" {
		req.Header.Set(p.authHdr, p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("price request failed: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			p.log.Warn().Err(err).Msg("failed to close price response body")
		}
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode
	case http.StatusTooManyRequests:
		p.log.Warn().Int("ids", len(ids)).Msg("price provider rate limited, backing off")
		select {
		case <-time.After(rateLimitBackoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("price provider rate limited (429)")
	case http.StatusForbidden:
		p.log.Error().Str("tier", p.authHdr).Msg("price provider rejected credentials (403)")
		return nil, errForbidden
	case http.StatusBadRequest:
		// at least one id is bogus; mark the lot probably-invalid so the
		// cached zeros suppress retries until the TTL expires
		for _, id := range ids {
			p.storePrice(id, decimal.Zero, true)
		}
		p.log.Warn().Strs("ids", ids).Msg("price provider rejected ids (400), cached zero")
		return map[string]decimal.Decimal{}, nil
	default:
		return nil, fmt.Errorf("price provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read price response: %w", err)
	}

	var payload map[string]map[string]json.Number
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to parse price response: %w", err)
	}

	prices := make(map[string]decimal.Decimal, len(payload))
	for id, fields := range payload {
		usd, ok := fields["usd"]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(usd.String())
		if err != nil {
			p.log.Warn().Str("id", id).Str("usd", usd.String()).Msg("unparseable price, skipping")
			continue
		}
		prices[id] = price
		p.storePrice(id, price, false)
	}
	return prices, nil
}

// waitRateLimit suspends the caller until the minimum interval since the
// previous outbound request has elapsed.
func (p *PriceProvider) waitRateLimit(ctx context.Context) error {
	p.rateMu.Lock()
	now := time.Now()
	next := p.lastRequest.Add(p.minInterval)
	if next.Before(now) {
		next = now
	}
	p.lastRequest = next
	p.rateMu.Unlock()

	wait := time.Until(next)
	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *PriceProvider) storePrice(id string, price decimal.Decimal, invalid bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[id] = &priceEntry{
		price:     price,
		timestamp: time.Now(),
		ttl:       p.cacheTTL,
		invalid:   invalid,
	}
}

// CachedPrice exposes the cache for diagnostics and tests.
func (p *PriceProvider) CachedPrice(id string) (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.cache[id]
	if !ok || !entry.fresh(time.Now()) {
		return decimal.Zero, false
	}
	return entry.price, true
}

// StartRefreshLoop runs until the context is cancelled, waking every half
// TTL to observe aging cache entries. Entries at 80% or more of their TTL
// are logged; the actual refresh is caller driven via the token service.
func (p *PriceProvider) StartRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cacheTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			aging := 0
			p.mu.Lock()
			for id, entry := range p.cache {
				if entry.age(now) >= p.cacheTTL*4/5 {
					aging++
					p.log.Debug().
						Str("id", id).
						Dur("age", entry.age(now)).
						Bool("invalid", entry.invalid).
						Msg("price cache entry near expiry")
				}
			}
			p.mu.Unlock()
			if aging > 0 {
				p.log.Info().Int("count", aging).Msg("price cache entries nearing TTL")
			}
		}
	}
}
