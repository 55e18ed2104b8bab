package transfer

import (
	"context"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/evmchain"
	"github.com/hubscan/reconciler-go/hub"
)

type fakeReindexer struct {
	txs     []string
	heights []int64
}

func (r *fakeReindexer) RequestTx(_ context.Context, txhash string) { r.txs = append(r.txs, txhash) }
func (r *fakeReindexer) RequestHeight(_ context.Context, h int64)  { r.heights = append(r.heights, h) }

const (
	testTokenContract = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	testDepositEVM    = "0x00112233445566778899aabbccddeeff00112233"
	testTxHash        = "0x5a1e" + "00000000000000000000000000000000000000000000000000000000000000"
)

// erc20TransferInput builds selector + recipient word + amount word.
func erc20TransferInput(t *testing.T, amountHex string) []byte {
	t.Helper()
	raw := "a9059cbb" + strings.Repeat("0", 64) + strings.Repeat("0", 64-len(amountHex)) + amountHex
	b, err := hex.DecodeString(raw)
	require.NoError(t, err)
	return b
}

func newTestService(t *testing.T, store docstore.Store, evm fakeEVM, cosmos map[string]CosmosTxSource, reindexer hub.Reindexer) *Service {
	t.Helper()
	reg := testRegistry(t)
	fetcher := NewFetcher(reg, evm, cosmos, store, nil, nil)
	enricher := NewEnricher(store, reg, nil, nil, nil, nil)
	batches := NewBatchReconciler(store, reg, evm, nil, nil)
	svc := NewService(store, fetcher, enricher, batches, reindexer, reg, nil, nil)
	svc.sleep = func(time.Duration) {}
	return svc
}

func writeLink(t *testing.T, store docstore.Store, link Link) {
	t.Helper()
	doc, err := docstore.Marshal(link)
	require.NoError(t, err)
	id := link.ID
	if id == "" {
		id = strings.ToLower(link.DepositAddress)
	}
	require.NoError(t, store.Write(context.Background(), docstore.CollectionDepositAddresses, id, doc))
}

func TestStatusReconstructsEVMSource(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	writeLink(t, store, Link{
		DepositAddress: testDepositEVM,
		SenderChain:    "ethereum",
		RecipientChain: "osmosis",
		Denom:          "uusdc",
		Price:          1.0,
	})

	evm := fakeEVM{"ethereum": &fakeProvider{
		txs: map[string]*evmchain.TxInfo{
			strings.ToLower(testTxHash): {
				Hash:        testTxHash,
				From:        "0xsender",
				To:          testTokenContract,
				Input:       erc20TransferInput(t, "f4240"), // 1000000
				BlockNumber: 42,
			},
		},
		logs: map[string][]evmchain.LogInfo{
			strings.ToLower(testTxHash): {{
				Address: testTokenContract,
				Topics: []string{
					"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef",
					"0x000000000000000000000000" + testDepositEVM[2:],
				},
			}},
		},
		blockTimes: map[uint64]int64{42: 1700000000},
	}}

	svc := newTestService(t, store, evm, nil, &fakeReindexer{})
	records, err := svc.Status(ctx, Params{TxHash: testTxHash})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, StatusAssetSent, rec.Status)
	require.NotNil(t, rec.Source)
	assert.Equal(t, strings.ToLower(testTxHash), rec.Source.ID)
	assert.Equal(t, "ethereum", rec.Source.SenderChain)
	assert.Equal(t, "osmosis", rec.Source.RecipientChain)
	assert.Equal(t, "uusdc", rec.Source.Denom)
	assert.InDelta(t, 1.0, rec.Source.Amount, 1e-9)
	assert.InDelta(t, 1.0, rec.Source.Value, 1e-9)

	// The aggregate is persisted under its canonical key.
	_, err = store.Get(ctx, docstore.CollectionTransfers, Key(testTxHash, testDepositEVM))
	require.NoError(t, err)
}

func TestStatusUnknownTxHash(t *testing.T) {
	store := docstore.NewMemoryStore()
	svc := newTestService(t, store, fakeEVM{"ethereum": &fakeProvider{}}, nil, &fakeReindexer{})

	records, err := svc.Status(context.Background(), Params{TxHash: "0xdeadbeef"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusPendingTxYieldsNothing(t *testing.T) {
	store := docstore.NewMemoryStore()
	evm := fakeEVM{"ethereum": &fakeProvider{
		txs: map[string]*evmchain.TxInfo{
			"0xpending": {Hash: "0xpending", Pending: true},
		},
	}}
	svc := newTestService(t, store, evm, nil, &fakeReindexer{})

	records, err := svc.Status(context.Background(), Params{TxHash: "0xPENDING"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusReconstructsCosmosSource(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()

	deposit := "axelar1" + strings.Repeat("q", 58)
	writeLink(t, store, Link{
		DepositAddress: deposit,
		SenderChain:    "osmosis",
		RecipientChain: "ethereum",
		Denom:          "uusdc",
	})

	cosmos := map[string]CosmosTxSource{
		"osmosis": &fakeCosmosTx{
			endpoint: "http://localhost:1317",
			tx: &hub.TxResult{
				Tx: hub.Tx{Body: hub.TxBody{Messages: []hub.Message{{
					"@type":    "/ibc.applications.transfer.v1.MsgTransfer",
					"sender":   "osmo1sender",
					"receiver": deposit,
					"token":    map[string]any{"denom": "ibc/DEADBEEF", "amount": "2500000"},
				}}}},
				TxResponse: hub.TxResponse{
					TxHash:    "COSMOSHASH",
					Height:    77,
					Timestamp: time.Unix(1700000000, 0),
				},
			},
		},
	}

	svc := newTestService(t, store, fakeEVM{}, cosmos, &fakeReindexer{})
	records, err := svc.Status(ctx, Params{TxHash: "COSMOSHASH"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.NotNil(t, rec.Source)
	assert.Equal(t, SourceTypeIBC, rec.Source.Type)
	assert.Equal(t, "osmosis", rec.Source.SenderChain)
	assert.Equal(t, "uusdc", rec.Source.Denom)
	assert.InDelta(t, 2.5, rec.Source.Amount, 1e-9)
}

func TestStatusShortCosmosReceiverIgnored(t *testing.T) {
	store := docstore.NewMemoryStore()
	cosmos := map[string]CosmosTxSource{
		"osmosis": &fakeCosmosTx{
			tx: &hub.TxResult{
				Tx: hub.Tx{Body: hub.TxBody{Messages: []hub.Message{{
					"@type":    "/ibc.applications.transfer.v1.MsgTransfer",
					"receiver": "axelar1shortaccount",
					"token":    map[string]any{"denom": "uusdc", "amount": "1"},
				}}}},
				TxResponse: hub.TxResponse{TxHash: "HASH2"},
			},
		},
	}
	svc := newTestService(t, store, fakeEVM{}, cosmos, &fakeReindexer{})

	records, err := svc.Status(context.Background(), Params{TxHash: "HASH2"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusByDepositAddress(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	writeLink(t, store, Link{
		DepositAddress: "axelar1deposit",
		SenderChain:    "ethereum",
		RecipientChain: "osmosis",
		Height:         5,
	})

	tr := Transfer{
		Source: &Source{
			ID:               "0xaaa",
			RecipientChain:   "osmosis",
			RecipientAddress: "axelar1deposit",
			CreatedAt:        granularityAtSec(1000),
		},
		Vote: &VoteRecord{PollID: "ethereum_0xaaa_1", Height: 500},
	}
	doc, err := docstore.Marshal(tr)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, docstore.CollectionTransfers, Key("0xaaa", "axelar1deposit"), doc))

	reindexer := &fakeReindexer{}
	svc := newTestService(t, store, fakeEVM{}, nil, reindexer)

	records, err := svc.Status(ctx, Params{DepositAddress: "AXELAR1DEPOSIT"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusVoted, records[0].Status)

	// A voted Cosmos-destined transfer with no relay leg triggers catch-up
	// reindexing of the blocks after the confirmation.
	require.Len(t, reindexer.heights, 7)
	assert.EqualValues(t, 501, reindexer.heights[0])
	assert.EqualValues(t, 507, reindexer.heights[6])
}

func TestStatusDepositAddressLinkOnly(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()
	writeLink(t, store, Link{
		DepositAddress:   "axelar1pending",
		SenderChain:      "ethereum",
		RecipientChain:   "osmosis",
		RecipientAddress: "osmo1recipient",
		Height:           9,
	})

	svc := newTestService(t, store, fakeEVM{}, nil, &fakeReindexer{})

	// A link whose transfer has not been observed yet still answers.
	records, err := svc.Status(ctx, Params{DepositAddress: "axelar1pending"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusAssetSent, records[0].Status)
	require.NotNil(t, records[0].Link)
	assert.Equal(t, "axelar1pending", records[0].Link.DepositAddress)
	assert.Nil(t, records[0].Source)

	records, err = svc.Status(ctx, Params{RecipientAddress: "OSMO1RECIPIENT"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	records, err = svc.Status(ctx, Params{DepositAddress: "axelar1unknown"})
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestStatusCatchUpIBCSent(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()

	tr := Transfer{
		Source: &Source{
			ID:               "0xccc",
			RecipientChain:   "osmosis",
			RecipientAddress: "axelar1deposit",
			CreatedAt:        granularityAtSec(1000),
		},
		Vote:    &VoteRecord{PollID: "ethereum_0xccc_1", Height: 500},
		IBCSend: &IBCSend{PacketTxHash: "IBCHASH", Height: 600},
	}
	doc, err := docstore.Marshal(tr)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, docstore.CollectionTransfers, Key("0xccc", "axelar1deposit"), doc))

	reindexer := &fakeReindexer{}
	svc := newTestService(t, store, fakeEVM{}, nil, reindexer)

	records, err := svc.Status(ctx, Params{TxHash: "0xCCC"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, StatusIBCSent, records[0].Status)

	// The relay leg outranks the vote as the catch-up anchor.
	require.Len(t, reindexer.heights, 7)
	assert.EqualValues(t, 601, reindexer.heights[0])
	assert.EqualValues(t, 607, reindexer.heights[6])
}

func TestStatusBackfillsLinkPrice(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()

	tr := Transfer{
		Source: &Source{
			ID:               "0xddd",
			RecipientAddress: "axelar1deposit",
			Amount:           2,
			Value:            5,
			CreatedAt:        granularityAtSec(1000),
		},
		Link: &Link{
			DepositAddress: "axelar1deposit",
			SenderAddress:  "0xsender",
			Denom:          "uusdc",
		},
	}
	doc, err := docstore.Marshal(tr)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, docstore.CollectionTransfers, Key("0xddd", "axelar1deposit"), doc))

	svc := newTestService(t, store, fakeEVM{}, nil, &fakeReindexer{})

	records, err := svc.Status(ctx, Params{TxHash: "0xDDD"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotNil(t, records[0].Link)
	assert.InDelta(t, 2.5, records[0].Link.Price, 1e-9)
}

func TestStatusRefreshesUnpricedLink(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore()

	tr := Transfer{
		Source: &Source{
			ID:               "0xbbb",
			RecipientAddress: "axelar1deposit",
			CreatedAt:        granularityAtSec(1000),
		},
		Link: &Link{TxHash: "LINKHASH", DepositAddress: "axelar1deposit"},
	}
	doc, err := docstore.Marshal(tr)
	require.NoError(t, err)
	require.NoError(t, store.Write(ctx, docstore.CollectionTransfers, Key("0xbbb", "axelar1deposit"), doc))

	// The store-side link was indexed with a price in the meantime.
	writeLink(t, store, Link{
		DepositAddress: "axelar1deposit",
		Denom:          "uusdc",
		Price:          1.0,
	})

	reindexer := &fakeReindexer{}
	svc := newTestService(t, store, fakeEVM{}, nil, reindexer)

	records, err := svc.Status(ctx, Params{TxHash: "0xBBB"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, []string{"LINKHASH"}, reindexer.txs)
	require.NotNil(t, records[0].Link)
	assert.InDelta(t, 1.0, records[0].Link.Price, 1e-9)
}
