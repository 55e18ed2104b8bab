package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// LCDConfig holds LCD client configuration.
type LCDConfig struct {
	// Endpoints are tried in order until one answers.
	Endpoints []string
	// FeePath is the transfer-fee query path on the hub LCD.
	FeePath string
	Timeout time.Duration
	// RequestsPerSecond rate-limits each endpoint. Zero disables limiting.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// DefaultFeePath is the hub's transfer-fee query route.
const DefaultFeePath = "/axelar/nexus/v1beta1/transfer_fee"

// LCDClient queries one or more LCD endpoints, failing over in order.
type LCDClient struct {
	endpoints []string
	feePath   string
	client    *http.Client
	limiters  map[string]*rate.Limiter
	logger    *zap.Logger
}

// NewLCDClient creates an LCD client over the configured endpoints.
func NewLCDClient(cfg *LCDConfig) (*LCDClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one endpoint is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	feePath := cfg.FeePath
	if feePath == "" {
		feePath = DefaultFeePath
	}

	limiters := make(map[string]*rate.Limiter, len(cfg.Endpoints))
	if cfg.RequestsPerSecond > 0 {
		for _, e := range cfg.Endpoints {
			limiters[e] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
		}
	}

	return &LCDClient{
		endpoints: append([]string(nil), cfg.Endpoints...),
		feePath:   feePath,
		client:    &http.Client{Timeout: timeout},
		limiters:  limiters,
		logger:    logger,
	}, nil
}

// Endpoints returns the configured endpoint list in order.
func (c *LCDClient) Endpoints() []string { return c.endpoints }

// TxByHash fetches a decoded transaction, trying each endpoint in order.
// Returns the endpoint that answered, which callers use to resolve
// per-endpoint chain identity overrides.
func (c *LCDClient) TxByHash(ctx context.Context, hash string) (*TxResult, string, error) {
	var lastErr error
	for _, endpoint := range c.endpoints {
		result, err := c.txFromEndpoint(ctx, endpoint, hash)
		if err != nil {
			lastErr = err
			c.logger.Debug("lcd endpoint failed",
				zap.String("endpoint", endpoint),
				zap.String("txhash", hash),
				zap.Error(err))
			continue
		}
		return result, endpoint, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured")
	}
	return nil, "", fmt.Errorf("tx %s not available on any endpoint: %w", hash, lastErr)
}

func (c *LCDClient) txFromEndpoint(ctx context.Context, endpoint, hash string) (*TxResult, error) {
	if err := c.wait(ctx, endpoint); err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/cosmos/tx/v1beta1/txs/%s", endpoint, url.PathEscape(hash))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build tx request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch tx: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var result TxResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode tx: %w", err)
	}
	if result.TxResponse.TxHash == "" {
		return nil, fmt.Errorf("empty tx_response")
	}
	return &result, nil
}

type transferFeeResponse struct {
	Fee struct {
		Denom  string `json:"denom"`
		Amount string `json:"amount"`
	} `json:"fee"`
}

// TransferFee queries the hub's cross-chain transfer fee for an amount
// denominated as `{integer}{denom}`. Returns the raw integer fee amount.
func (c *LCDClient) TransferFee(ctx context.Context, sourceChain, destinationChain, amount string) (string, error) {
	endpoint := c.endpoints[0]
	if err := c.wait(ctx, endpoint); err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("source_chain", sourceChain)
	q.Set("destination_chain", destinationChain)
	q.Set("amount", amount)

	u := fmt.Sprintf("%s%s?%s", endpoint, c.feePath, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("build transfer_fee request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch transfer_fee: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transfer_fee: unexpected status %d", resp.StatusCode)
	}

	var decoded transferFeeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("decode transfer_fee: %w", err)
	}
	return decoded.Fee.Amount, nil
}

func (c *LCDClient) wait(ctx context.Context, endpoint string) error {
	limiter, ok := c.limiters[endpoint]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}
