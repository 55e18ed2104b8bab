package transfer

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/hub"
	"github.com/hubscan/reconciler-go/metrics"
	"github.com/hubscan/reconciler-go/normalize"
)

// DefaultQuerySize bounds deposit-address result sets.
const DefaultQuerySize = 25

// Params selects transfers for a status query. TxHash takes precedence;
// otherwise DepositAddress (optionally narrowed by RecipientAddress) is
// used.
type Params struct {
	TxHash           string `json:"txHash,omitempty"`
	SourceChain      string `json:"sourceChain,omitempty"`
	DepositAddress   string `json:"depositAddress,omitempty"`
	RecipientAddress string `json:"recipientAddress,omitempty"`
}

// Record is one resolved transfer with its derived status.
type Record struct {
	ID string `json:"id"`
	Transfer
	Status Status `json:"status"`
}

// Service answers transfer-status queries, reconstructing missing source
// legs on demand and refreshing stale evidence as a side effect.
type Service struct {
	store     docstore.Store
	fetcher   *Fetcher
	enricher  *Enricher
	batches   *BatchReconciler
	reindexer hub.Reindexer
	reg       *chains.Registry
	metrics   *metrics.Metrics
	logger    *zap.Logger

	// sleep is swapped out by tests.
	sleep func(time.Duration)
}

// NewService wires a status service. reindexer may be nil.
func NewService(store docstore.Store, fetcher *Fetcher, enricher *Enricher, batches *BatchReconciler, reindexer hub.Reindexer, reg *chains.Registry, m *metrics.Metrics, logger *zap.Logger) *Service {
	if reindexer == nil {
		reindexer = hub.NopReindexer{}
	}
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		fetcher:   fetcher,
		enricher:  enricher,
		batches:   batches,
		reindexer: reindexer,
		reg:       reg,
		metrics:   m,
		logger:    logger,
		sleep:     time.Sleep,
	}
}

// Status resolves the current status of the transfers selected by p.
func (s *Service) Status(ctx context.Context, p Params) ([]Record, error) {
	switch {
	case p.TxHash != "":
		s.metrics.StatusQueries.WithLabelValues("txhash").Inc()
		return s.byTxHash(ctx, p)
	case p.DepositAddress != "" || p.RecipientAddress != "":
		s.metrics.StatusQueries.WithLabelValues("deposit_address").Inc()
		return s.byDepositAddress(ctx, p)
	default:
		return nil, nil
	}
}

func (s *Service) byTxHash(ctx context.Context, p Params) ([]Record, error) {
	docs, err := s.store.Read(ctx, docstore.CollectionTransfers, byTxKeyQuery(p.TxHash), docstore.Options{Size: 1})
	if err != nil {
		return nil, err
	}

	var t *Transfer
	if len(docs) > 0 {
		t = new(Transfer)
		if err := docstore.Unmarshal(docs[0], t); err != nil {
			return nil, err
		}
		s.refreshLink(ctx, t)
	} else {
		t = s.reconstruct(ctx, p)
		if t == nil {
			return nil, nil
		}
	}

	return []Record{s.finalize(ctx, t)}, nil
}

// reconstruct fetches the source leg from the origin chain for a
// transaction the engine has never seen.
func (s *Service) reconstruct(ctx context.Context, p Params) *Transfer {
	var (
		source *Source
		link   *Link
	)
	if strings.HasPrefix(strings.ToLower(p.TxHash), "0x") {
		source, link = s.fetcher.EVMByTxHash(ctx, p.TxHash, p.SourceChain)
	} else {
		source, link = s.fetcher.CosmosByTxHash(ctx, p.TxHash, p.SourceChain)
	}
	if source == nil {
		return nil
	}
	link = s.enricher.EnrichLink(ctx, link, source)
	s.enricher.EnrichSource(ctx, source, link)

	t := &Transfer{Source: source, Link: link}
	s.writeTransfer(ctx, t, "source")
	return t
}

// refreshLink re-prices a stored link. When the link has never been
// indexed with a price, a reindex of its transaction is requested first
// and the store is re-read after a short wait.
func (s *Service) refreshLink(ctx context.Context, t *Transfer) {
	if t.Source == nil {
		return
	}
	if t.Link != nil && t.Link.TxHash != "" && t.Link.Price <= 0 {
		s.reindexer.RequestTx(ctx, t.Link.TxHash)
		s.sleep(hub.IndexWait)
		if fresh := s.fetcher.LinkForDeposit(ctx, t.Link.DepositAddress); fresh != nil {
			t.Link = fresh
		}
	}
	t.Link = s.enricher.EnrichLink(ctx, t.Link, t.Source)
	s.enricher.EnrichSource(ctx, t.Source, t.Link)
	s.writeTransfer(ctx, t, "refresh")
}

// byDepositAddress joins stored links against transfer aggregates. Links
// whose transfer has not been observed yet still answer as link-only
// records.
func (s *Service) byDepositAddress(ctx context.Context, p Params) ([]Record, error) {
	lq := docstore.Query{}
	if p.DepositAddress != "" {
		lq.Must = append(lq.Must, docstore.Match{Field: "deposit_address", Value: p.DepositAddress, Fold: true})
	}
	if p.RecipientAddress != "" {
		lq.Must = append(lq.Must, docstore.Match{Field: "recipient_address", Value: p.RecipientAddress, Fold: true})
	}
	linkDocs, err := s.store.Read(ctx, docstore.CollectionDepositAddresses, lq, docstore.Options{
		Size: DefaultQuerySize,
		Sort: []docstore.SortField{{Field: "height", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	var links []*Link
	var should []docstore.Match
	for _, doc := range linkDocs {
		link := new(Link)
		if err := docstore.Unmarshal(doc, link); err != nil {
			s.logger.Debug("link decode failed", zap.Error(err))
			continue
		}
		if link.DepositAddress == "" {
			continue
		}
		links = append(links, link)
		should = append(should, docstore.Match{Field: "source.recipient_address", Value: link.DepositAddress, Fold: true})
	}
	if len(links) == 0 {
		return nil, nil
	}

	docs, err := s.store.Read(ctx, docstore.CollectionTransfers, docstore.Query{
		Should:             should,
		MinimumShouldMatch: 1,
	}, docstore.Options{
		Size: DefaultQuerySize,
		Sort: []docstore.SortField{{Field: "source.created_at.ms", Desc: true}},
	})
	if err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(docs))
	for _, doc := range docs {
		t := new(Transfer)
		if err := docstore.Unmarshal(doc, t); err != nil {
			s.logger.Debug("transfer decode failed", zap.Error(err))
			continue
		}
		if t.Source != nil {
			for _, link := range links {
				if normalize.EqualFold(link.DepositAddress, t.Source.RecipientAddress) {
					t.Link = link
					break
				}
			}
		}
		out = append(out, s.finalize(ctx, t))
	}
	if len(out) == 0 {
		for _, link := range links {
			out = append(out, s.finalize(ctx, &Transfer{Link: link}))
		}
	}
	return out, nil
}

// finalize reconciles destination evidence, derives the status and
// triggers catch-up reindexing for transfers stuck before their
// destination leg.
func (s *Service) finalize(ctx context.Context, t *Transfer) Record {
	if _, changed := s.batches.Reconcile(ctx, t); changed {
		s.writeTransfer(ctx, t, "sign_batch")
	}
	if ts := ComputeTimeSpent(t); ts != nil && (t.TimeSpent == nil || *ts != *t.TimeSpent) {
		t.TimeSpent = ts
		s.writeTransfer(ctx, t, "time_spent")
	}

	status := DeriveStatus(t)
	s.requestCatchUp(ctx, t, status)

	// A link indexed before its price resolved still implies one once the
	// source carries a USD value.
	if t.Link != nil && t.Link.Price <= 0 && t.Source != nil && t.Source.Amount > 0 && t.Source.Value > 0 {
		t.Link.Price = t.Source.Value / t.Source.Amount
	}

	rec := Record{Transfer: *t, Status: status}
	if t.Source != nil {
		rec.ID = Key(t.Source.ID, t.Source.RecipientAddress)
	}
	return rec
}

// requestCatchUp asks the hub indexer to re-scan the blocks right after
// the latest known stage when a Cosmos-destined transfer is confirmed or
// relayed but its next leg never arrived.
func (s *Service) requestCatchUp(ctx context.Context, t *Transfer, status Status) {
	if status != StatusVoted && status != StatusDepositConfirmed && status != StatusIBCSent {
		return
	}
	if t.Source == nil {
		return
	}
	dest := firstNonEmpty(t.Source.RecipientChain, t.Source.OriginalRecipientChain)
	if !s.reg.IsCosmosChain(dest) {
		return
	}
	var height int64
	switch {
	case t.IBCSend != nil && t.IBCSend.Height > 0:
		height = t.IBCSend.Height
	case t.Vote != nil && t.Vote.Height > 0:
		height = t.Vote.Height
	case t.ConfirmDeposit != nil:
		height = t.ConfirmDeposit.Height
	}
	if height <= 0 {
		return
	}
	for i := int64(1); i <= 7; i++ {
		s.reindexer.RequestHeight(ctx, height+i)
	}
}

func (s *Service) writeTransfer(ctx context.Context, t *Transfer, stage string) {
	if t.Source == nil || t.Source.RecipientAddress == "" {
		return
	}
	id := Key(t.Source.ID, t.Source.RecipientAddress)
	doc, err := docstore.Marshal(t)
	if err == nil {
		err = s.store.Write(ctx, docstore.CollectionTransfers, id, doc)
	}
	if err != nil {
		s.metrics.SwallowedErrors.WithLabelValues("store").Inc()
		s.logger.Debug("transfer write failed", zap.String("id", id), zap.Error(err))
		return
	}
	s.metrics.TransfersReconciled.WithLabelValues(stage).Inc()
}
