package transfer

import (
	"context"
	"encoding/hex"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/evmchain"
	"github.com/hubscan/reconciler-go/hub"
	"github.com/hubscan/reconciler-go/metrics"
	"github.com/hubscan/reconciler-go/normalize"
)

// zeroPadPrefix marks a 32-byte topic word that left-pads a 20-byte
// address.
const zeroPadPrefix = "0x000000000000000000000000"

// CosmosTxSource looks a transaction up on one Cosmos chain and reports
// which endpoint answered.
type CosmosTxSource interface {
	TxByHash(ctx context.Context, hash string) (*hub.TxResult, string, error)
}

// Fetcher reconstructs transfer source legs from origin chains.
type Fetcher struct {
	reg     *chains.Registry
	evm     evmchain.Source
	cosmos  map[string]CosmosTxSource
	store   docstore.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewFetcher wires a source-leg fetcher. cosmos maps chain ids to their
// LCD clients and may omit chains that are not queryable.
func NewFetcher(reg *chains.Registry, evm evmchain.Source, cosmos map[string]CosmosTxSource, store docstore.Store, m *metrics.Metrics, logger *zap.Logger) *Fetcher {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{reg: reg, evm: evm, cosmos: cosmos, store: store, metrics: m, logger: logger}
}

func (f *Fetcher) swallow(component, msg string, err error, fields ...zap.Field) {
	f.metrics.SwallowedErrors.WithLabelValues(component).Inc()
	f.logger.Debug(msg, append(fields, zap.Error(err))...)
}

// LinkForDeposit reads the routing link for a deposit address,
// case-insensitively. Returns nil when no link exists.
func (f *Fetcher) LinkForDeposit(ctx context.Context, depositAddress string) *Link {
	if depositAddress == "" {
		return nil
	}
	docs, err := f.store.Read(ctx, docstore.CollectionDepositAddresses, docstore.Query{
		Must: []docstore.Match{{Field: "deposit_address", Value: depositAddress, Fold: true}},
	}, docstore.Options{Size: 1})
	if err != nil {
		f.swallow("store", "link lookup failed", err, zap.String("deposit_address", depositAddress))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	var link Link
	if err := docstore.Unmarshal(docs[0], &link); err != nil {
		f.swallow("store", "link decode failed", err)
		return nil
	}
	return &link
}

// EVMByTxHash searches the configured EVM chains for a mined transaction
// with the given hash that targets a tracked deposit address, and builds
// its source leg. chainHint restricts the search to one chain. Returns
// nils when no chain yields a source.
func (f *Fetcher) EVMByTxHash(ctx context.Context, txHash, chainHint string) (*Source, *Link) {
	for _, chain := range f.reg.EVMChains() {
		if chainHint != "" && !normalize.EqualFold(chain.ID, chainHint) {
			continue
		}
		provider, ok := f.evm.ForChain(chain.ID)
		if !ok {
			continue
		}
		tx, err := provider.TxByHash(ctx, txHash)
		if err != nil {
			f.swallow("evm", "transaction lookup failed", err,
				zap.String("chain", chain.ID), zap.String("txhash", txHash))
			continue
		}
		if tx == nil || tx.Pending || tx.BlockNumber == 0 {
			continue
		}
		logs, err := provider.ReceiptLogs(ctx, txHash)
		if err != nil {
			f.swallow("evm", "receipt lookup failed", err,
				zap.String("chain", chain.ID), zap.String("txhash", txHash))
			continue
		}

		depositAddress, link := f.findDeposit(ctx, tx, logs)
		if depositAddress == "" {
			continue
		}
		source := f.buildEVMSource(ctx, chain, provider, tx, logs, depositAddress)
		return source, link
	}
	return nil, nil
}

// EVMSourceForVote builds the source leg for a confirmed poll whose
// transaction id and deposit address are already known from hub evidence.
func (f *Fetcher) EVMSourceForVote(ctx context.Context, chainID, txHash, depositAddress string) *Source {
	chain, ok := f.reg.EVMChain(chainID)
	if !ok {
		return nil
	}
	provider, ok := f.evm.ForChain(chain.ID)
	if !ok {
		return nil
	}
	tx, err := provider.TxByHash(ctx, txHash)
	if err != nil {
		f.swallow("evm", "transaction lookup failed", err,
			zap.String("chain", chain.ID), zap.String("txhash", txHash))
		return nil
	}
	if tx == nil || tx.Pending || tx.BlockNumber == 0 {
		return nil
	}
	logs, err := provider.ReceiptLogs(ctx, txHash)
	if err != nil {
		f.swallow("evm", "receipt lookup failed", err,
			zap.String("chain", chain.ID), zap.String("txhash", txHash))
	}
	return f.buildEVMSource(ctx, *chain, provider, tx, logs, depositAddress)
}

// findDeposit recovers the deposit address from a transaction: the direct
// recipient for native transfers, otherwise the most recent address-shaped
// receipt topic with a known link.
func (f *Fetcher) findDeposit(ctx context.Context, tx *evmchain.TxInfo, logs []evmchain.LogInfo) (string, *Link) {
	candidates := []string{tx.To}
	var topics []string
	for _, l := range logs {
		for _, t := range l.Topics {
			if strings.HasPrefix(t, zeroPadPrefix) {
				topics = append(topics, "0x"+t[len(zeroPadPrefix):])
			}
		}
	}
	// Later logs are more specific; check them first.
	for i := len(topics) - 1; i >= 0; i-- {
		candidates = append(candidates, topics[i])
	}

	for _, addr := range candidates {
		if addr == "" {
			continue
		}
		if link := f.LinkForDeposit(ctx, addr); link != nil {
			return addr, link
		}
	}
	return "", nil
}

func (f *Fetcher) buildEVMSource(ctx context.Context, chain chains.EVMChain, provider evmchain.Provider, tx *evmchain.TxInfo, logs []evmchain.LogInfo, depositAddress string) *Source {
	var denom string
	if asset, ok := f.reg.AssetByContract(chain.ChainID, tx.To); ok {
		denom = asset.ID
	}

	createdAt := time.Now()
	if ts, err := provider.BlockTimestamp(ctx, tx.BlockNumber); err != nil {
		f.swallow("evm", "block timestamp lookup failed", err,
			zap.String("chain", chain.ID), zap.Uint64("block", tx.BlockNumber))
	} else if ts > 0 {
		createdAt = time.Unix(ts, 0)
	}

	return &Source{
		ID:               strings.ToLower(tx.Hash),
		Type:             SourceTypeEVM,
		Status:           "success",
		Height:           int64(tx.BlockNumber),
		CreatedAt:        normalize.NewGranularity(createdAt),
		SenderChain:      chain.ID,
		SenderAddress:    tx.From,
		RecipientAddress: depositAddress,
		RawAmount:        evmAmount(tx.Input, logs),
		Denom:            denom,
	}
}

// evmAmount decodes the raw transfer amount: the calldata tail after the
// ERC-20 selector and recipient word, falling back to the last word of the
// first receipt log whose data parses.
func evmAmount(input []byte, logs []evmchain.LogInfo) string {
	// 4-byte selector + 32-byte recipient word.
	if len(input) > 4+32 {
		return hexAmount(hex.EncodeToString(input[4+32:]))
	}
	for _, l := range logs {
		data := strings.TrimPrefix(l.Data, "0x")
		if len(data) < 64 {
			continue
		}
		if amt := hexAmount(data[len(data)-64:]); amt != "" {
			return amt
		}
	}
	return ""
}

func hexAmount(h string) string {
	n, ok := new(big.Int).SetString(strings.TrimPrefix(h, "0x"), 16)
	if !ok {
		return ""
	}
	return n.String()
}

// CosmosByTxHash searches the configured Cosmos chains for a send toward a
// deposit address and builds its source leg. chainHint restricts the
// search. Returns nils when no chain yields a source.
func (f *Fetcher) CosmosByTxHash(ctx context.Context, txHash, chainHint string) (*Source, *Link) {
	for _, chain := range f.reg.CosmosChains() {
		if chainHint != "" && !normalize.EqualFold(chain.ID, chainHint) && !chain.HasOverride(chainHint) {
			continue
		}
		lcd, ok := f.cosmos[chain.ID]
		if !ok {
			continue
		}
		tx, endpoint, err := lcd.TxByHash(ctx, txHash)
		if err != nil {
			f.swallow("lcd", "transaction lookup failed", err,
				zap.String("chain", chain.ID), zap.String("txhash", txHash))
			continue
		}
		if tx == nil || tx.TxResponse.Code != 0 {
			continue
		}

		sender, receiver, amount, denom := cosmosSend(tx.Tx.Body.Messages)
		// Short receivers are plain accounts, not deposit addresses.
		if len(receiver) < MinDepositAddressLen || amount == "" {
			continue
		}

		senderChain := chain.OverrideChainForEndpoint(endpoint)
		// The sender's bech32 prefix is stronger evidence than whichever
		// endpoint happened to answer.
		if byAddr, ok := f.reg.CosmosChainByAddress(sender); ok && !normalize.EqualFold(byAddr.ID, chain.ID) {
			senderChain = byAddr.OverrideChainForEndpoint(endpoint)
		}
		if asset, ok := f.reg.AssetByDenom(senderChain, denom); ok {
			denom = asset.ID
		}
		source := &Source{
			ID:               strings.ToLower(txHash),
			Type:             SourceTypeIBC,
			Status:           "success",
			Height:           tx.TxResponse.Height,
			CreatedAt:        normalize.NewGranularity(tx.TxResponse.Timestamp),
			SenderChain:      senderChain,
			SenderAddress:    sender,
			RecipientAddress: receiver,
			RawAmount:        amount,
			Denom:            denom,
		}
		return source, f.LinkForDeposit(ctx, receiver)
	}
	return nil, nil
}

// cosmosSend extracts the first IBC transfer or bank send carried by the
// transaction.
func cosmosSend(msgs []hub.Message) (sender, receiver, amount, denom string) {
	for _, msg := range msgs {
		switch {
		case strings.Contains(msg.Type(), "MsgTransfer"):
			sender = msg.Str("sender")
			receiver = msg.Str("receiver")
			if token := msg.Map("token"); token != nil {
				amount = token.Str("amount")
				denom = token.Str("denom")
			}
			return
		case strings.Contains(msg.Type(), "MsgSend"):
			sender = msg.Str("from_address")
			receiver = msg.Str("to_address")
			if coins, ok := msg.Slice("amount"); ok && len(coins) > 0 {
				amount = coins[0].Str("amount")
				denom = coins[0].Str("denom")
			}
			return
		}
	}
	return
}

// byTxKeyQuery matches transfer aggregates by their source transaction.
func byTxKeyQuery(txHash string) docstore.Query {
	return docstore.Query{Must: []docstore.Match{
		{Field: "source.id", Value: strings.ToLower(txHash)},
	}}
}

// SenderChainForDeposit resolves a sender chain from a stored link when
// hub evidence never named it.
func (f *Fetcher) SenderChainForDeposit(ctx context.Context, depositAddress string) string {
	link := f.LinkForDeposit(ctx, depositAddress)
	if link == nil {
		return ""
	}
	return normalize.Chain(link.SenderChain)
}

