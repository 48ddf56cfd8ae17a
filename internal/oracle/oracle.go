// internal/oracle/oracle.go
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"puzzlebounty/internal/clock"
	"puzzlebounty/internal/domain"
	"puzzlebounty/internal/metrics"
	"puzzlebounty/internal/util"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Fallback rates used when the provider has never answered.
var fallbackRates = map[domain.Asset]decimal.Decimal{
	domain.AssetBTC: decimal.NewFromInt(60000),
	domain.AssetSOL: decimal.NewFromInt(150),
}

var providerIDs = map[domain.Asset]string{
	domain.AssetBTC: "bitcoin",
	domain.AssetSOL: "solana",
}

// Config configures the price client.
type Config struct {
	BaseURL  string
	CacheTTL time.Duration
	Timeout  time.Duration
}

type quote struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

// Client returns USD spot rates, serving from cache for CacheTTL and falling
// back to the last known or a hardcoded rate when the provider fails.
type Client struct {
	baseURL    string
	httpClient *http.Client
	ttl        time.Duration
	timeout    time.Duration
	cache      *lru.Cache[domain.Asset, quote]
	clock      clock.Clock
	metrics    *metrics.Metrics
	logger     *slog.Logger
	// refreshes collapses concurrent refreshes into one provider call.
	refreshes singleflight.Group
}

// New creates a price client.
func New(cfg Config, clk clock.Clock, m *metrics.Metrics, logger *slog.Logger) *Client {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	cache, _ := lru.New[domain.Asset, quote](len(providerIDs))
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		ttl:        cfg.CacheTTL,
		timeout:    cfg.Timeout,
		cache:      cache,
		clock:      clk,
		metrics:    m,
		logger:     logger,
	}
}

// Rate returns the USD price of one whole unit of asset. It only fails for
// unsupported assets.
func (c *Client) Rate(ctx context.Context, asset domain.Asset) (decimal.Decimal, error) {
	fallback, ok := fallbackRates[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: unsupported asset %q", util.ErrValidation, asset)
	}
	if q, ok := c.fresh(asset); ok {
		c.metrics.OracleLookup(string(asset), "cache")
		return q.rate, nil
	}

	err := c.awaitRefresh(ctx)
	if err == nil {
		if q, ok := c.cache.Get(asset); ok {
			c.metrics.OracleLookup(string(asset), "live")
			return q.rate, nil
		}
		err = fmt.Errorf("provider returned no price for %s", asset)
	}

	if q, ok := c.cache.Get(asset); ok {
		c.logger.Warn("Price provider unavailable, serving stale rate", "asset", asset, "age", c.clock.Now().Sub(q.fetchedAt).String(), "error", err)
		c.metrics.OracleLookup(string(asset), "stale")
		return q.rate, nil
	}
	c.logger.Warn("Price provider unavailable, serving fallback rate", "asset", asset, "rate", fallback.String(), "error", err)
	c.metrics.OracleLookup(string(asset), "fallback")
	return fallback, nil
}

// awaitRefresh joins the in-flight provider call, or starts one. The call
// outlives a caller that gives up waiting.
func (c *Client) awaitRefresh(ctx context.Context) error {
	ch := c.refreshes.DoChan("prices", func() (any, error) {
		return nil, c.refresh(context.WithoutCancel(ctx))
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) fresh(asset domain.Asset) (quote, bool) {
	q, ok := c.cache.Get(asset)
	if !ok || c.clock.Now().Sub(q.fetchedAt) >= c.ttl {
		return quote{}, false
	}
	return q, true
}

// refresh fetches every supported asset in one call.
func (c *Client) refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ids := make([]string, 0, len(providerIDs))
	for _, id := range providerIDs {
		ids = append(ids, id)
	}
	url := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, strings.Join(ids, ","))

	var prices map[string]map[string]decimal.Decimal
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return fmt.Errorf("price provider status %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("price provider status %d", resp.StatusCode))
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &prices); err != nil {
			return backoff.Permanent(fmt.Errorf("decode prices: %w", err))
		}
		return nil
	}
	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)); err != nil {
		return fmt.Errorf("%w: %v", util.ErrRailUnavailable, err)
	}

	now := c.clock.Now()
	for asset, id := range providerIDs {
		usd, ok := prices[id]["usd"]
		if !ok || !usd.IsPositive() {
			continue
		}
		c.cache.Add(asset, quote{rate: usd, fetchedAt: now})
	}
	return nil
}

// USDToNative converts a USD amount to base units of asset at rate.
func USDToNative(usd, rate decimal.Decimal, asset domain.Asset) (int64, error) {
	if !usd.IsPositive() || !rate.IsPositive() {
		return 0, fmt.Errorf("%w: amount and rate must be positive", util.ErrValidation)
	}
	native := usd.Div(rate).Shift(asset.Decimals()).Round(0)
	if !native.IsPositive() {
		return 0, fmt.Errorf("%w: %s USD is below one base unit of %s", util.ErrValidation, usd, asset)
	}
	if !native.IsInteger() || native.GreaterThan(decimal.NewFromInt(1<<62)) {
		return 0, fmt.Errorf("%w: amount out of range", util.ErrValidation)
	}
	return native.IntPart(), nil
}

// NativeToUSD converts base units of asset to USD at rate, rounded to cents.
func NativeToUSD(native int64, rate decimal.Decimal, asset domain.Asset) (decimal.Decimal, error) {
	if native <= 0 || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: amount and rate must be positive", util.ErrValidation)
	}
	return decimal.New(native, -asset.Decimals()).Mul(rate).Round(2), nil
}
