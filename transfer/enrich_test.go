package transfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/normalize"
	"github.com/hubscan/reconciler-go/price"
)

func granularityAtSec(sec int64) normalize.Granularity {
	return normalize.NewGranularity(time.Unix(sec, 0))
}

func testRegistry(t *testing.T) *chains.Registry {
	t.Helper()
	reg, err := chains.NewRegistry(&chains.Config{
		Hub: "axelarnet",
		EVM: []chains.EVMChain{
			{
				ID:             "ethereum",
				ChainID:        1,
				RPCEndpoint:    "http://localhost:8545",
				GatewayAddress: "0x4f4495243837681061c4743b74b3eedf548d56a5",
			},
		},
		Cosmos: []chains.CosmosChain{
			{ID: "axelarnet", AddressPrefix: "axelar"},
			{ID: "osmosis", AddressPrefix: "osmo", LCDEndpoints: []string{"http://localhost:1317"}},
		},
		Assets: []chains.Asset{
			{
				ID:       "uusdc",
				Symbol:   "USDC",
				Decimals: 6,
				Contracts: []chains.AssetContract{
					{ChainID: 1, Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Decimals: 6},
				},
				IBC: []chains.AssetIBC{
					{ChainID: "osmosis", IBCDenom: "ibc/DEADBEEF", Decimals: 6},
				},
			},
		},
	})
	require.NoError(t, err)
	return reg
}

type fakeOracle struct {
	results []price.Result
	err     error
	queries []price.Query
}

func (o *fakeOracle) GetPrice(_ context.Context, q price.Query) ([]price.Result, error) {
	o.queries = append(o.queries, q)
	return o.results, o.err
}

type fakeFees struct {
	fee string
	err error
}

func (f *fakeFees) TransferFee(context.Context, string, string, string) (string, error) {
	return f.fee, f.err
}

func TestDecimalAmount(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		decimals int
		want     float64
	}{
		{name: "micro denom round trip", raw: "1000000", decimals: 6, want: 1.0},
		{name: "wei", raw: "1500000000000000000", decimals: 18, want: 1.5},
		{name: "zero decimals", raw: "42", decimals: 0, want: 42},
		{name: "empty", raw: "", decimals: 6, want: 0},
		{name: "garbage", raw: "not-a-number", decimals: 6, want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, DecimalAmount(tt.raw, tt.decimals), 1e-9)
		})
	}
}

func TestEnrichSourceValue(t *testing.T) {
	reg := testRegistry(t)
	store := docstore.NewMemoryStore()
	e := NewEnricher(store, reg, nil, nil, nil, nil)

	source := &Source{
		ID:               "0xabc",
		Type:             SourceTypeEVM,
		SenderChain:      "ethereum",
		RecipientAddress: "axelar1deposit",
		RawAmount:        "1000000",
		Denom:            "uusdc",
	}
	link := &Link{
		ID:             "axelar1deposit",
		DepositAddress: "axelar1deposit",
		RecipientChain: "osmosis",
		Denom:          "uusdc",
		Price:          2.5,
	}

	e.EnrichSource(context.Background(), source, link)

	assert.InDelta(t, 1.0, source.Amount, 1e-9)
	assert.InDelta(t, 2.5, source.Value, 1e-9)
	assert.Equal(t, "osmosis", source.RecipientChain)
	assert.Equal(t, "ethereum", source.OriginalSenderChain)
}

func TestEnrichSourceFee(t *testing.T) {
	reg := testRegistry(t)
	store := docstore.NewMemoryStore()

	t.Run("fee deducted", func(t *testing.T) {
		e := NewEnricher(store, reg, nil, &fakeFees{fee: "150000"}, nil, nil)
		source := &Source{
			Type:           SourceTypeEVM,
			SenderChain:    "ethereum",
			RecipientChain: "osmosis",
			RawAmount:      "1000000",
			Denom:          "uusdc",
		}
		e.EnrichSource(context.Background(), source, nil)

		assert.InDelta(t, 0.15, source.Fee, 1e-9)
		assert.False(t, source.InsufficientFee)
		assert.InDelta(t, 0.85, source.AmountReceived, 1e-9)
	})

	t.Run("insufficient fee", func(t *testing.T) {
		e := NewEnricher(store, reg, nil, &fakeFees{fee: "2000000"}, nil, nil)
		source := &Source{
			Type:           SourceTypeEVM,
			SenderChain:    "ethereum",
			RecipientChain: "osmosis",
			RawAmount:      "1000000",
			Denom:          "uusdc",
		}
		e.EnrichSource(context.Background(), source, nil)

		assert.True(t, source.InsufficientFee)
		assert.Zero(t, source.AmountReceived)
	})

	t.Run("evm destination skips fee lookup", func(t *testing.T) {
		e := NewEnricher(store, reg, nil, &fakeFees{fee: "150000"}, nil, nil)
		source := &Source{
			Type:           SourceTypeIBC,
			SenderChain:    "osmosis",
			RecipientChain: "ethereum",
			RawAmount:      "1000000",
			Denom:          "uusdc",
		}
		e.EnrichSource(context.Background(), source, nil)

		assert.Zero(t, source.Fee)
	})
}

func TestEnrichLinkPrice(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	t.Run("missing price refreshed and persisted", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		oracle := &fakeOracle{results: []price.Result{{Denom: "uusdc", Price: 1.0}}}
		e := NewEnricher(store, reg, oracle, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress: "axelar1deposit",
			Denom:          "uusdc",
		}, &Source{SenderChain: "ethereum"})

		require.NotNil(t, link)
		assert.InDelta(t, 1.0, link.Price, 1e-9)

		doc, err := store.Get(ctx, docstore.CollectionDepositAddresses, "axelar1deposit")
		require.NoError(t, err)
		assert.EqualValues(t, 1.0, doc["price"])
	})

	t.Run("good price not refreshed", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		oracle := &fakeOracle{results: []price.Result{{Denom: "uusdc", Price: 9.9}}}
		e := NewEnricher(store, reg, oracle, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress: "axelar1deposit",
			Denom:          "uusdc",
			Price:          1.0,
			SenderAddress:  "0xsender",
		}, nil)

		assert.InDelta(t, 1.0, link.Price, 1e-9)
		assert.Empty(t, oracle.queries)
	})

	t.Run("volatile denom always refreshed", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		oracle := &fakeOracle{results: []price.Result{{Denom: "uluna", Price: 0.0001}}}
		e := NewEnricher(store, reg, oracle, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress: "axelar1deposit",
			Denom:          "uluna",
			Price:          85.0,
			SenderAddress:  "0xsender",
		}, nil)

		assert.InDelta(t, 0.0001, link.Price, 1e-9)
		assert.Len(t, oracle.queries, 1)
	})

	t.Run("oracle failure keeps link usable", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		oracle := &fakeOracle{err: assert.AnError}
		e := NewEnricher(store, reg, oracle, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress: "axelar1deposit",
			Denom:          "uusdc",
		}, nil)

		require.NotNil(t, link)
		assert.Zero(t, link.Price)
	})
}

func TestEnrichLinkSenderChainAttribution(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()

	t.Run("counterparty prefix reattributes hub-registered link", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		e := NewEnricher(store, reg, nil, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress:      "axelar1deposit",
			Denom:               "uusdc",
			OriginalSenderChain: "axelarnet",
			SenderAddress:       "osmo1sender",
		}, &Source{SenderAddress: "osmo1sender"})

		require.NotNil(t, link)
		assert.Equal(t, "osmosis", link.OriginalSenderChain)

		doc, err := store.Get(ctx, docstore.CollectionDepositAddresses, "axelar1deposit")
		require.NoError(t, err)
		assert.Equal(t, "osmosis", doc["original_sender_chain"])
	})

	t.Run("hub prefix left alone", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		e := NewEnricher(store, reg, nil, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress:      "axelar1deposit",
			Denom:               "uusdc",
			OriginalSenderChain: "axelarnet",
			SenderAddress:       "axelar1sender",
		}, &Source{SenderAddress: "axelar1sender"})

		assert.Equal(t, "axelarnet", link.OriginalSenderChain)
	})

	t.Run("explicit counterparty attribution kept", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		e := NewEnricher(store, reg, nil, nil, nil, nil)

		link := e.EnrichLink(ctx, &Link{
			DepositAddress:      "axelar1deposit",
			Denom:               "uusdc",
			OriginalSenderChain: "juno",
			SenderAddress:       "osmo1sender",
		}, &Source{SenderAddress: "osmo1sender"})

		assert.Equal(t, "juno", link.OriginalSenderChain)
	})
}

func TestComputeTimeSpent(t *testing.T) {
	tr := &Transfer{
		Source: &Source{CreatedAt: granularityAtSec(1000)},
		Vote:   &VoteRecord{CreatedAt: granularityAtSec(1060)},
		SignBatch: &SignBatch{
			Executed:       true,
			BlockTimestamp: 1300,
		},
	}
	ts := ComputeTimeSpent(tr)
	require.NotNil(t, ts)
	assert.EqualValues(t, 60, ts.SourceConfirm)
	assert.EqualValues(t, 240, ts.ConfirmExecute)
	assert.EqualValues(t, 300, ts.Total)

	assert.Nil(t, ComputeTimeSpent(&Transfer{}))
}
