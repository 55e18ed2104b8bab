// Package price provides asset price lookups for transfer valuation.
package price

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/cache"
)

// Query identifies one price point.
type Query struct {
	Chain     string
	Denom     string
	// Timestamp is unix milliseconds; zero means latest.
	Timestamp int64
}

// Result is one resolved price.
type Result struct {
	Denom string  `json:"denom"`
	Price float64 `json:"price"`
}

// Oracle provides asset price information.
type Oracle interface {
	// GetPrice returns price points for the query. An empty result means
	// the price is unknown; callers degrade gracefully.
	GetPrice(ctx context.Context, q Query) ([]Result, error)
}

// HTTPOracle queries a price API endpoint.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPOracle creates a price client against the given endpoint.
func NewHTTPOracle(endpoint string, timeout time.Duration, logger *zap.Logger) (*HTTPOracle, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPOracle{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// GetPrice implements Oracle.
func (o *HTTPOracle) GetPrice(ctx context.Context, q Query) ([]Result, error) {
	params := url.Values{}
	params.Set("denom", q.Denom)
	if q.Chain != "" {
		params.Set("chain", q.Chain)
	}
	if q.Timestamp > 0 {
		params.Set("timestamp", strconv.FormatInt(q.Timestamp, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build price request: %w", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch price for %s: %w", q.Denom, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price for %s: unexpected status %d", q.Denom, resp.StatusCode)
	}

	var results []Result
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("decode price response: %w", err)
	}
	return results, nil
}

// CachedOracle reads prices through the local cache, keyed per denom and
// day. Historical prices are stable once the day has passed.
type CachedOracle struct {
	inner Oracle
	cache *cache.Cache
}

// NewCachedOracle wraps an oracle with the local cache.
func NewCachedOracle(inner Oracle, cch *cache.Cache) *CachedOracle {
	return &CachedOracle{inner: inner, cache: cch}
}

// GetPrice implements Oracle.
func (o *CachedOracle) GetPrice(ctx context.Context, q Query) ([]Result, error) {
	var key string
	if q.Timestamp > 0 {
		day := time.UnixMilli(q.Timestamp).UTC().Format("2006-01-02")
		key = fmt.Sprintf("price/%s/%s/%s", q.Chain, q.Denom, day)
		var cached []Result
		if o.cache.GetJSON(key, &cached) && len(cached) > 0 {
			return cached, nil
		}
	}

	results, err := o.inner.GetPrice(ctx, q)
	if err != nil {
		return nil, err
	}
	if key != "" && len(results) > 0 {
		o.cache.SetJSON(key, results)
	}
	return results, nil
}
