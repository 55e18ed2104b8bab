package transfer

import (
	"context"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/metrics"
	"github.com/hubscan/reconciler-go/normalize"
	"github.com/hubscan/reconciler-go/price"
)

// FeeSource resolves the hub's cross-chain transfer fee. The amount is
// the raw integer amount concatenated with the denom ("1000000uusdc");
// the returned fee is in the same raw units.
type FeeSource interface {
	TransferFee(ctx context.Context, sourceChain, destinationChain, amount string) (string, error)
}

// Enricher completes link and source records with routing fields, decimal
// amounts, prices, fees and USD values. Every external failure degrades to
// an absent value.
type Enricher struct {
	store   docstore.Store
	reg     *chains.Registry
	oracle  price.Oracle
	fees    FeeSource
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEnricher wires an enricher. oracle and fees may be nil; the
// corresponding fields are then simply never filled.
func NewEnricher(store docstore.Store, reg *chains.Registry, oracle price.Oracle, fees FeeSource, m *metrics.Metrics, logger *zap.Logger) *Enricher {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{store: store, reg: reg, oracle: oracle, fees: fees, metrics: m, logger: logger}
}

func (e *Enricher) swallow(component, msg string, err error, fields ...zap.Field) {
	e.metrics.SwallowedErrors.WithLabelValues(component).Inc()
	e.logger.Debug(msg, append(fields, zap.Error(err))...)
}

// EnrichLink patches a link with the sender address observed on chain and
// with a fresh price when the stored one is unusable, then persists the
// changed fields. A nil link passes through.
func (e *Enricher) EnrichLink(ctx context.Context, link *Link, source *Source) *Link {
	if link == nil {
		return nil
	}
	changed := false

	if link.SenderAddress == "" && source != nil && source.SenderAddress != "" {
		link.SenderAddress = source.SenderAddress
		changed = true
	}

	// A link recorded against the hub may really originate on a
	// counterparty Cosmos chain; the sender's bech32 prefix decides.
	if source != nil && source.SenderAddress != "" &&
		(link.OriginalSenderChain == "" || normalize.EqualFold(link.OriginalSenderChain, e.reg.Hub())) {
		if byAddr, ok := e.reg.CosmosChainByAddress(source.SenderAddress); ok &&
			!normalize.EqualFold(byAddr.ID, link.OriginalSenderChain) {
			link.OriginalSenderChain = byAddr.ID
			changed = true
		}
	}

	denom := link.Denom
	if denom == "" {
		denom = link.Asset
	}
	if e.needsPrice(link, denom) && e.oracle != nil && denom != "" {
		q := price.Query{Denom: denom}
		if source != nil {
			q.Chain = firstNonEmpty(source.OriginalSenderChain, source.SenderChain)
			q.Timestamp = source.CreatedAt.Ms
		}
		results, err := e.oracle.GetPrice(ctx, q)
		if err != nil {
			e.swallow("price", "price lookup failed", err, zap.String("denom", denom))
		}
		for _, r := range results {
			if r.Price > 0 && (r.Denom == "" || normalize.EqualFold(r.Denom, denom)) {
				link.Price = r.Price
				link.Denom = denom
				changed = true
				break
			}
		}
	}

	if changed {
		id := link.ID
		if id == "" {
			id = strings.ToLower(link.DepositAddress)
			link.ID = id
		}
		doc, err := docstore.Marshal(link)
		if err == nil {
			err = e.store.Write(ctx, docstore.CollectionDepositAddresses, id, doc)
		}
		if err != nil {
			e.swallow("store", "link write failed", err, zap.String("id", id))
		}
	}
	return link
}

// needsPrice reports whether the stored price must be refreshed: absent or
// non-positive, recorded against a different denom, or a volatile denom
// whose historical price cannot be trusted.
func (e *Enricher) needsPrice(link *Link, denom string) bool {
	if link.Price <= 0 {
		return true
	}
	if !normalize.EqualFold(link.Denom, denom) {
		return true
	}
	return e.reg.IsVolatileDenom(denom)
}

// EnrichSource resolves chains, decimal amount, fee and value on a source
// leg in place, preferring link routing data over what was observed on
// chain.
func (e *Enricher) EnrichSource(ctx context.Context, source *Source, link *Link) {
	if source == nil {
		return
	}
	if link != nil {
		if link.OriginalSenderChain != "" {
			source.OriginalSenderChain = link.OriginalSenderChain
		}
		if link.OriginalRecipientChain != "" {
			source.OriginalRecipientChain = link.OriginalRecipientChain
		}
		if link.SenderChain != "" {
			source.SenderChain = normalize.Chain(link.SenderChain)
		}
		if link.RecipientChain != "" {
			source.RecipientChain = normalize.Chain(link.RecipientChain)
		}
		if source.Denom == "" {
			source.Denom = firstNonEmpty(link.Denom, link.Asset)
		}
	}
	if source.OriginalSenderChain == "" {
		source.OriginalSenderChain = source.SenderChain
	}
	if source.OriginalRecipientChain == "" {
		source.OriginalRecipientChain = source.RecipientChain
	}

	decimals := e.decimalsFor(source)
	if source.Amount == 0 && source.RawAmount != "" {
		source.Amount = DecimalAmount(source.RawAmount, decimals)
	}

	e.resolveFee(ctx, source, decimals)
	if source.Fee > 0 {
		if source.Amount < source.Fee {
			source.InsufficientFee = true
		} else {
			source.InsufficientFee = false
			source.AmountReceived = source.Amount - source.Fee
		}
	}

	if link != nil && link.Price > 0 && source.Amount > 0 {
		source.Value = source.Amount * link.Price
	}
}

func (e *Enricher) decimalsFor(source *Source) int {
	asset, _ := e.reg.Asset(source.Denom)
	if source.Type == SourceTypeIBC {
		return e.reg.CosmosDecimals(asset, source.SenderChain)
	}
	var chainID uint64
	if c, ok := e.reg.EVMChain(source.SenderChain); ok {
		chainID = c.ChainID
	}
	return e.reg.EVMDecimals(asset, chainID)
}

// resolveFee queries the transfer-fee endpoint for Cosmos-destined
// transfers once per source.
func (e *Enricher) resolveFee(ctx context.Context, source *Source, decimals int) {
	if e.fees == nil || source.FeeResolved || source.Fee > 0 {
		return
	}
	dest := firstNonEmpty(source.OriginalRecipientChain, source.RecipientChain)
	if dest == "" || !e.reg.IsCosmosChain(dest) {
		return
	}
	if source.RawAmount == "" || source.Denom == "" {
		return
	}
	src := firstNonEmpty(source.OriginalSenderChain, source.SenderChain)
	raw, err := e.fees.TransferFee(ctx, src, dest, source.RawAmount+source.Denom)
	if err != nil {
		e.swallow("fee", "transfer fee lookup failed", err,
			zap.String("source", src), zap.String("destination", dest))
		return
	}
	source.Fee = DecimalAmount(raw, decimals)
	source.FeeResolved = true
}

// DecimalAmount converts a raw integer amount string to a decimal float
// using the given precision. Unparseable input yields zero.
func DecimalAmount(raw string, decimals int) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return 0
	}
	div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(n), new(big.Float).SetInt(div)).Float64()
	return f
}

// ComputeTimeSpent derives stage durations in seconds from whichever
// sub-records are present. Returns nil when the source timestamp is
// missing.
func ComputeTimeSpent(t *Transfer) *TimeSpent {
	if t == nil || t.Source == nil || t.Source.CreatedAt.Ms == 0 {
		return nil
	}
	start := t.Source.CreatedAt.Ms / 1000

	var confirm int64
	switch {
	case t.Vote != nil && t.Vote.CreatedAt.Ms > 0:
		confirm = t.Vote.CreatedAt.Ms / 1000
	case t.ConfirmDeposit != nil && t.ConfirmDeposit.CreatedAt.Ms > 0:
		confirm = t.ConfirmDeposit.CreatedAt.Ms / 1000
	}

	var done int64
	switch {
	case t.SignBatch != nil && t.SignBatch.Executed && t.SignBatch.BlockTimestamp > 0:
		done = t.SignBatch.BlockTimestamp
	case t.AxelarTransfer != nil && t.AxelarTransfer.CreatedAt.Ms > 0:
		done = t.AxelarTransfer.CreatedAt.Ms / 1000
	}

	ts := &TimeSpent{}
	if confirm > start {
		ts.SourceConfirm = confirm - start
	}
	if done > confirm && confirm > 0 {
		ts.ConfirmExecute = done - confirm
	}
	if done > start {
		ts.Total = done - start
	}
	if ts.SourceConfirm == 0 && ts.ConfirmExecute == 0 && ts.Total == 0 {
		return nil
	}
	return ts
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
