package pricing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"converter_strategy/internal/core"
	apperrors "converter_strategy/pkg/errors"
	httpclient "converter_strategy/pkg/http"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

type priceResponse struct {
	Asset string          `json:"asset"`
	Price decimal.Decimal `json:"price"`
}

type cachedPrice struct {
	price     decimal.Decimal
	fetchedAt time.Time
}

// HTTPPriceBook fetches prices from GET {base}/prices/{asset}
type HTTPPriceBook struct {
	client  *httpclient.Client
	limiter *rate.Limiter
	ttl     time.Duration
	logger  core.ILogger

	mu    sync.Mutex
	cache map[string]cachedPrice
	now   func() time.Time
}

// HTTPPriceBookConfig configures the oracle client
type HTTPPriceBookConfig struct {
	BaseURL   string
	Timeout   time.Duration
	RateLimit float64 // requests per second
	Burst     int
	CacheTTL  time.Duration
	APIKey    string
}

// NewHTTPPriceBook creates an oracle-backed price book
func NewHTTPPriceBook(cfg HTTPPriceBookConfig, logger core.ILogger) *HTTPPriceBook {
	opts := httpclient.DefaultOptions()
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout
	}
	if cfg.APIKey != "" {
		opts.Signer = httpclient.HeaderSigner{Header: "X-API-Key", Value: cfg.APIKey}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &HTTPPriceBook{
		client:  httpclient.NewClientWithOptions(cfg.BaseURL, opts),
		limiter: rate.NewLimiter(limit, burst),
		ttl:     cfg.CacheTTL,
		logger:  logger.WithField("component", "http_price_book"),
		cache:   make(map[string]cachedPrice),
		now:     time.Now,
	}
}

// GetPrice implements core.IPriceBook; prices younger than the cache TTL are served locally
func (b *HTTPPriceBook) GetPrice(ctx context.Context, asset string) (decimal.Decimal, error) {
	if p, ok := b.cached(asset); ok {
		return p, nil
	}

	if err := b.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limiter: %w", err)
	}

	var resp priceResponse
	err := b.client.GetJSON(ctx, "/prices/"+url.PathEscape(asset), nil, &resp)
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrPriceUnavailable, asset)
		}
		b.logger.Warn("Price fetch failed", "asset", asset, "error", err)
		return decimal.Zero, fmt.Errorf("%w: %s: %v", apperrors.ErrPriceUnavailable, asset, err)
	}
	if resp.Asset != "" && resp.Asset != asset {
		return decimal.Zero, fmt.Errorf("%w: oracle answered %s for %s", apperrors.ErrPriceUnavailable, resp.Asset, asset)
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s non-positive price %s", apperrors.ErrPriceUnavailable, asset, resp.Price)
	}

	price := resp.Price.Truncate(18)
	b.mu.Lock()
	b.cache[asset] = cachedPrice{price: price, fetchedAt: b.now()}
	b.mu.Unlock()
	return price, nil
}

func (b *HTTPPriceBook) cached(asset string) (decimal.Decimal, bool) {
	if b.ttl <= 0 {
		return decimal.Zero, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.cache[asset]
	if !ok || b.now().Sub(c.fetchedAt) > b.ttl {
		return decimal.Zero, false
	}
	return c.price, true
}
