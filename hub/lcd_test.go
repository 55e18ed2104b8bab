package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lcdTxHandler(t *testing.T, txhash string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/cosmos/tx/v1beta1/txs/") {
			http.NotFound(w, r)
			return
		}
		resp := map[string]any{
			"tx": map[string]any{"body": map[string]any{"messages": []any{}}},
			"tx_response": map[string]any{
				"txhash": txhash,
				"height": "123",
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func TestLCDTxByHashFailover(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer dead.Close()

	alive := httptest.NewServer(lcdTxHandler(t, "ABC123"))
	defer alive.Close()

	client, err := NewLCDClient(&LCDConfig{Endpoints: []string{dead.URL, alive.URL}})
	require.NoError(t, err)

	tx, endpoint, err := client.TxByHash(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.Equal(t, alive.URL, endpoint)
	assert.Equal(t, "ABC123", tx.TxResponse.TxHash)
	assert.Equal(t, int64(123), tx.TxResponse.Height)
}

func TestLCDTxByHashAllEndpointsFail(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer dead.Close()

	client, err := NewLCDClient(&LCDConfig{Endpoints: []string{dead.URL}})
	require.NoError(t, err)

	tx, _, err := client.TxByHash(context.Background(), "MISSING")
	assert.Error(t, err)
	assert.Nil(t, tx)
}

func TestLCDTxByHashEmptyResponseRejected(t *testing.T) {
	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer empty.Close()

	client, err := NewLCDClient(&LCDConfig{Endpoints: []string{empty.URL}})
	require.NoError(t, err)

	_, _, err = client.TxByHash(context.Background(), "EMPTY")
	assert.Error(t, err)
}

func TestLCDTransferFee(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DefaultFeePath, r.URL.Path)
		gotQuery = map[string]string{
			"source_chain":      r.URL.Query().Get("source_chain"),
			"destination_chain": r.URL.Query().Get("destination_chain"),
			"amount":            r.URL.Query().Get("amount"),
		}
		_, _ = w.Write([]byte(`{"fee":{"denom":"uusdc","amount":"150000"}}`))
	}))
	defer srv.Close()

	client, err := NewLCDClient(&LCDConfig{Endpoints: []string{srv.URL}})
	require.NoError(t, err)

	fee, err := client.TransferFee(context.Background(), "ethereum", "osmosis", "1000000uusdc")
	require.NoError(t, err)
	assert.Equal(t, "150000", fee)
	assert.Equal(t, "ethereum", gotQuery["source_chain"])
	assert.Equal(t, "osmosis", gotQuery["destination_chain"])
	assert.Equal(t, "1000000uusdc", gotQuery["amount"])
}

func TestLCDClientRequiresEndpoints(t *testing.T) {
	_, err := NewLCDClient(&LCDConfig{})
	assert.Error(t, err)

	_, err = NewLCDClient(nil)
	assert.Error(t, err)
}
