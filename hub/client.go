package hub

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

// BlockResults returns the end-of-block events recorded at a height.
// The poll resolver uses these to recover confirmations completed outside
// the transaction's own log.
type BlockResults interface {
	EndBlockEvents(ctx context.Context, height int64) ([]Event, error)
}

// RPCConfig holds hub RPC client configuration.
type RPCConfig struct {
	Endpoint string
	Timeout  time.Duration
	Logger   *zap.Logger
}

// RPCClient queries the hub chain's consensus RPC.
type RPCClient struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewRPCClient creates a hub RPC client.
func NewRPCClient(cfg *RPCConfig) (*RPCClient, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &RPCClient{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

type blockResultsResponse struct {
	Result struct {
		EndBlockEvents []rawEvent `json:"end_block_events"`
	} `json:"result"`
}

type rawEvent struct {
	Type       string `json:"type"`
	Attributes []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"attributes"`
}

// EndBlockEvents fetches the end-of-block events at the given height.
// Attribute keys and values are transparently base64-decoded for hub
// versions that encode them.
func (c *RPCClient) EndBlockEvents(ctx context.Context, height int64) ([]Event, error) {
	u := fmt.Sprintf("%s/block_results?height=%s", c.endpoint, url.QueryEscape(strconv.FormatInt(height, 10)))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build block_results request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch block_results at %d: %w", height, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("block_results at %d: unexpected status %d", height, resp.StatusCode)
	}

	var decoded blockResultsResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode block_results at %d: %w", height, err)
	}

	events := make([]Event, 0, len(decoded.Result.EndBlockEvents))
	for _, e := range decoded.Result.EndBlockEvents {
		ev := Event{Type: e.Type, Attributes: make([]Attribute, 0, len(e.Attributes))}
		for _, a := range e.Attributes {
			ev.Attributes = append(ev.Attributes, Attribute{
				Key:   maybeBase64(a.Key),
				Value: maybeBase64(a.Value),
			})
		}
		events = append(events, ev)
	}

	c.logger.Debug("fetched end-of-block events",
		zap.Int64("height", height),
		zap.Int("count", len(events)))

	return events, nil
}

// maybeBase64 decodes s when it is valid base64 yielding printable UTF-8;
// otherwise returns it unchanged.
func maybeBase64(s string) string {
	if s == "" {
		return s
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil || !utf8.Valid(b) {
		return s
	}
	for _, r := range string(b) {
		if r < 0x20 && r != '\n' && r != '\t' {
			return s
		}
	}
	return string(b)
}
