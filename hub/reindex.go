package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// IndexWait is how long callers pause after requesting a reindex before
// re-reading the store. Best effort only; missing data afterwards is not
// an error.
const IndexWait = 500 * time.Millisecond

// Reindexer asks the out-of-band indexer to (re)ingest hub transactions,
// so a later store read can pick up documents this engine does not
// produce itself.
type Reindexer interface {
	RequestTx(ctx context.Context, txhash string)
	RequestHeight(ctx context.Context, height int64)
}

// APIReindexer posts reindex requests to the indexer's API endpoint.
// Requests are fire-and-forget: failures are logged and dropped.
type APIReindexer struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewAPIReindexer creates a reindexer against the given API endpoint.
func NewAPIReindexer(endpoint string, timeout time.Duration, logger *zap.Logger) *APIReindexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIReindexer{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// RequestTx asks the indexer to ingest one transaction by hash.
func (r *APIReindexer) RequestTx(ctx context.Context, txhash string) {
	r.post(ctx, map[string]any{
		"module": "lcd",
		"path":   fmt.Sprintf("/cosmos/tx/v1beta1/txs/%s", txhash),
	})
}

// RequestHeight asks the indexer to ingest all transactions at a height.
func (r *APIReindexer) RequestHeight(ctx context.Context, height int64) {
	r.post(ctx, map[string]any{
		"module": "lcd",
		"path":   "/cosmos/tx/v1beta1/txs",
		"events": fmt.Sprintf("tx.height=%d", height),
	})
}

func (r *APIReindexer) post(ctx context.Context, payload map[string]any) {
	if r.endpoint == "" {
		return
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		r.logger.Debug("reindex request failed", zap.Error(err))
		return
	}
	resp.Body.Close()
}

// NopReindexer ignores all requests. Used when no indexer API is
// configured.
type NopReindexer struct{}

func (NopReindexer) RequestTx(context.Context, string) {}

func (NopReindexer) RequestHeight(context.Context, int64) {}
