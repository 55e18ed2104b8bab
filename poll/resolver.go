package poll

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/hub"
	"github.com/hubscan/reconciler-go/metrics"
	"github.com/hubscan/reconciler-go/normalize"
	"github.com/hubscan/reconciler-go/transfer"
)

// DefaultWorkers bounds concurrent transaction processing in batches.
const DefaultWorkers = 8

// Confirmation event types recognized in end-of-block results.
var confirmationEventTypes = []string{
	"depositConfirmation", "eventConfirmation", "transferKeyConfirmation",
	"TokenSent", "ContractCall",
}

// Resolver turns hub vote transactions into poll outcomes, vote records
// and, for affirmatively confirmed deposits, transfer source legs.
type Resolver struct {
	store    docstore.Store
	blocks   hub.BlockResults
	reg      *chains.Registry
	fetcher  *transfer.Fetcher
	enricher *transfer.Enricher
	metrics  *metrics.Metrics
	logger   *zap.Logger
	workers  int
}

// NewResolver wires a poll resolver. blocks may be nil; the end-of-block
// completion upgrade is then skipped.
func NewResolver(store docstore.Store, blocks hub.BlockResults, reg *chains.Registry, fetcher *transfer.Fetcher, enricher *transfer.Enricher, m *metrics.Metrics, logger *zap.Logger) *Resolver {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:    store,
		blocks:   blocks,
		reg:      reg,
		fetcher:  fetcher,
		enricher: enricher,
		metrics:  m,
		logger:   logger,
		workers:  DefaultWorkers,
	}
}

// SetWorkers overrides the batch concurrency limit.
func (r *Resolver) SetWorkers(n int) {
	if n > 0 {
		r.workers = n
	}
}

func (r *Resolver) swallow(component, msg string, err error, fields ...zap.Field) {
	r.metrics.SwallowedErrors.WithLabelValues(component).Inc()
	r.logger.Debug(msg, append(fields, zap.Error(err))...)
}

// ProcessTxResults resolves a batch of transactions concurrently.
// Transactions are independent; per-transaction failures never abort the
// batch.
func (r *Resolver) ProcessTxResults(ctx context.Context, txs []*hub.TxResult) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)
	for _, tx := range txs {
		tx := tx
		g.Go(func() error {
			r.ProcessTxResult(ctx, tx)
			return nil
		})
	}
	return g.Wait()
}

// ProcessTxResult resolves every vote message carried by one transaction.
// Processing is idempotent; replaying a transaction converges to the same
// persisted state.
func (r *Resolver) ProcessTxResult(ctx context.Context, tx *hub.TxResult) {
	if tx == nil {
		return
	}
	for i, msg := range tx.Tx.Body.Messages {
		inner := msg.Inner()
		if inner == nil {
			inner = msg
		}
		switch inner.ShortType() {
		case hub.MsgVoteConfirmDeposit, hub.MsgVote:
			r.resolve(ctx, tx, i, inner)
		}
	}
}

// pollState accumulates the evidence gathered for one vote message.
type pollState struct {
	pollID         string
	voter          string
	senderChain    string
	recipientChain string
	transactionID  string
	depositAddress string
	transferID     uint64
	eventName      string

	vote         bool
	confirmation bool
	late         bool
	unconfirmed  bool
	failed       bool
	success      bool

	participants       []string
	confirmationEvents []map[string]any

	endBlock        []hub.Event
	endBlockFetched bool
}

func (r *Resolver) resolve(ctx context.Context, tx *hub.TxResult, msgIndex int, msg hub.Message) {
	logs := tx.TxResponse.Logs
	var events []hub.Event
	if l := tx.LogForMessage(msgIndex); l != nil {
		events = l.Events
	}

	confirmEvent := hub.FindEvent(events, "depositConfirmation", "eventConfirmation")
	voteEvent := hub.FindEvent(events, "vote")

	st := &pollState{voter: msg.Str("sender")}
	st.pollID = msg.PollID()
	if st.pollID == "" && confirmEvent != nil {
		st.pollID = eventPollID(*confirmEvent)
	}
	if st.pollID == "" && voteEvent != nil {
		st.pollID = eventPollID(*voteEvent)
	}
	if st.pollID == "" {
		return
	}

	if confirmEvent != nil {
		st.recipientChain = normalize.Chain(confirmEvent.Attr("destinationChain", "destination_chain"))
	}

	// A quorum miss only counts when this message was not itself confirmed.
	st.unconfirmed = hub.AnyLogContains(logs, "not enough votes") && !hub.HasEvent(events, "EVMEventConfirmed")
	st.failed = failedFromLogs(logs) || hub.HasEvent(events, "EVMEventFailed")

	// Confirmations finalized at end of block leave no trace in the
	// transaction log; pull the completion event in by its event id.
	if !st.unconfirmed && !st.failed && confirmEvent != nil {
		if eventID := confirmEvent.Attr("eventID", "event_id"); eventID != "" {
			for _, e := range r.endBlockEvents(ctx, st, tx.TxResponse.Height) {
				if e.TypeContains("EVMEventCompleted") && normalize.EqualFold(e.Attr("eventID", "event_id"), eventID) {
					events = append(events, e)
				}
			}
		}
	}

	st.success = hub.HasEvent(events, "EVMEventCompleted") || hub.AnyLogContains(logs, "already confirmed")

	switch msg.ShortType() {
	case hub.MsgVoteConfirmDeposit:
		st.vote = msg.Bool("confirmed")
		st.confirmation = confirmEvent != nil
		st.senderChain = normalize.Chain(msg.Str("chain"))
		if st.senderChain == "" && confirmEvent != nil {
			st.senderChain = normalize.Chain(confirmEvent.Attr("sourceChain", "chain"))
		}
		st.transactionID = normalize.ToHex(msg.Str("tx_id"))
		st.depositAddress = normalize.ToHex(msg.Str("deposit_address"))
		if confirmEvent != nil {
			st.transferID = parseUint(confirmEvent.Attr("transferID", "transfer_id"))
		}

	case hub.MsgVote:
		voteEvents, isList := msg.VoteEvents()
		st.vote = msg.HasVoteEvents()
		st.senderChain = normalize.Chain(msg.VoteChain())

		var statuses []string
		for _, e := range voteEvents {
			if s := e.Str("status"); s != "" {
				statuses = append(statuses, s)
			}
		}
		st.confirmation = confirmEvent != nil ||
			hub.HasEvent(events, "EVMEventConfirmed") ||
			(voteEvent != nil && containsStatus(statuses, StatusCompleted))
		st.late = voteEvent == nil &&
			((!st.vote && isList) || containsStatus(statuses, StatusUnspecified, StatusCompleted))

		if len(voteEvents) > 0 {
			first := voteEvents[0]
			st.eventName = first.EventName()
			st.transactionID = normalize.ToHex(first.Str("tx_id"))
			if payload := first.Map(st.eventName); payload != nil {
				st.depositAddress = normalize.ToHex(payload.Str("to"))
				if st.transferID == 0 {
					st.transferID = parseUint(payload.Str("transfer_id"))
				}
			}
		}
		if confirmEvent != nil && st.transferID == 0 {
			st.transferID = parseUint(confirmEvent.Attr("transferID", "transfer_id"))
		}
	}

	if st.senderChain == "" {
		if c, ok := r.reg.EVMChainByPollID(st.pollID); ok {
			st.senderChain = c.ID
		}
	}

	r.completeIdentity(ctx, st, confirmEvent, tx.TxResponse.Height, msg.ShortType() == hub.MsgVote)

	createdAt := tx.TxResponse.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	status := "success"
	if tx.TxResponse.Code != 0 {
		status = "failed"
	}
	record := transfer.VoteRecord{
		ID:             tx.TxResponse.TxHash,
		Type:           msg.ShortType(),
		StatusCode:     tx.TxResponse.Code,
		Status:         status,
		Height:         tx.TxResponse.Height,
		CreatedAt:      normalize.NewGranularity(createdAt),
		SenderChain:    st.senderChain,
		RecipientChain: st.recipientChain,
		PollID:         st.pollID,
		TransactionID:  st.transactionID,
		DepositAddress: st.depositAddress,
		TransferID:     st.transferID,
		Voter:          st.voter,
		Vote:           st.vote,
		Confirmation:   st.confirmation,
		Late:           st.late,
		Unconfirmed:    st.unconfirmed,
		Failed:         st.failed,
		Success:        st.success,
		Event:          st.eventName,
	}

	if affirmative(st) && record.ID != "" {
		r.attachToTransfer(ctx, st, &record)
	}
	r.persist(ctx, st, &record)
}

// affirmative reports whether this vote asserts the deposit actually
// happened and may drive transfer reconciliation.
func affirmative(st *pollState) bool {
	return st.transactionID != "" &&
		st.vote &&
		(st.confirmation || !st.unconfirmed || st.success) &&
		!st.late &&
		!st.failed &&
		st.senderChain != ""
}

// completeIdentity fills the poll identity (transaction id, deposit
// address, transfer id, participants) from progressively weaker sources:
// the stored poll, confirmation-event attributes, the poll id itself,
// prior transfer aggregates, stored links, end-of-block confirmation
// events, and finally prior vote records. On the generic-vote path the
// stored poll is authoritative: other voters may already have resolved
// identity fields this message does not carry.
func (r *Resolver) completeIdentity(ctx context.Context, st *pollState, confirmEvent *hub.Event, height int64, pollWins bool) {
	if stored := r.getPoll(ctx, st.pollID); stored != nil {
		if stored.SenderChain != "" && (pollWins || st.senderChain == "") {
			st.senderChain = stored.SenderChain
		}
		if st.recipientChain == "" {
			st.recipientChain = stored.RecipientChain
		}
		if stored.TransactionID != "" && (pollWins || st.transactionID == "") {
			st.transactionID = stored.TransactionID
		}
		if stored.DepositAddress != "" && (pollWins || st.depositAddress == "") {
			st.depositAddress = stored.DepositAddress
		}
		if stored.TransferID != 0 && (pollWins || st.transferID == 0) {
			st.transferID = stored.TransferID
		}
		st.participants = stored.Participants
		st.confirmationEvents = stored.ConfirmationEvents
	}

	if st.transactionID == "" && confirmEvent != nil {
		st.transactionID = confirmEvent.Attr("txID", "tx_id")
	}
	if st.transactionID == "" {
		st.transactionID = pollIDTail(st.pollID, st.senderChain)
	}
	if normalize.EqualFold(st.transactionID, st.pollID) {
		st.transactionID = ""
	}
	st.transactionID = normalize.ToHex(st.transactionID)

	if st.depositAddress == "" && confirmEvent != nil {
		st.depositAddress = normalize.ToHex(confirmEvent.Attr("depositAddress", "deposit_address"))
	}
	if st.transferID == 0 && confirmEvent != nil {
		st.transferID = parseUint(confirmEvent.Attr("transferID", "transfer_id"))
	}

	if st.transactionID == "" || st.depositAddress == "" || st.transferID == 0 || len(st.participants) == 0 {
		r.fillFromTransfers(ctx, st)
	}

	if st.senderChain == "" && st.depositAddress != "" {
		st.senderChain = r.fetcher.SenderChainForDeposit(ctx, st.depositAddress)
	}

	if st.transactionID == "" || st.transferID == 0 || !hasTypedEvent(st.confirmationEvents) {
		r.fillFromEndBlock(ctx, st, confirmEvent, height)
	}

	if st.transactionID == "" || st.transferID == 0 {
		r.fillFromVotes(ctx, st)
	}
	st.transactionID = normalize.ToHex(st.transactionID)
}

// fillFromTransfers recovers poll identity from a transfer aggregate that
// an earlier confirmation already linked to this poll.
func (r *Resolver) fillFromTransfers(ctx context.Context, st *pollState) {
	docs, err := r.store.Read(ctx, docstore.CollectionTransfers, docstore.Query{
		Must:    []docstore.Match{{Field: "confirm_deposit.poll_id", Value: st.pollID}},
		MustNot: []docstore.Match{{Field: "confirm_deposit.transaction_id", Value: st.pollID}},
	}, docstore.Options{Size: 1})
	if err != nil {
		r.swallow("store", "transfer lookup failed", err, zap.String("poll_id", st.pollID))
		return
	}
	if len(docs) == 0 {
		return
	}
	var t transfer.Transfer
	if err := docstore.Unmarshal(docs[0], &t); err != nil {
		r.swallow("store", "transfer decode failed", err)
		return
	}

	if st.transactionID == "" {
		switch {
		case t.Vote != nil && t.Vote.TransactionID != "":
			st.transactionID = t.Vote.TransactionID
		case t.ConfirmDeposit != nil && t.ConfirmDeposit.TransactionID != "":
			st.transactionID = t.ConfirmDeposit.TransactionID
		case t.Source != nil:
			st.transactionID = t.Source.ID
		}
	}
	if st.depositAddress == "" {
		switch {
		case t.ConfirmDeposit != nil && t.ConfirmDeposit.DepositAddress != "":
			st.depositAddress = t.ConfirmDeposit.DepositAddress
		case t.Source != nil && t.Source.RecipientAddress != "":
			st.depositAddress = t.Source.RecipientAddress
		case t.Link != nil:
			st.depositAddress = t.Link.DepositAddress
		}
	}
	if st.transferID == 0 {
		st.transferID = t.BestTransferID()
	}
	if len(st.participants) == 0 && t.ConfirmDeposit != nil {
		st.participants = t.ConfirmDeposit.Participants
	}
	if st.senderChain == "" {
		switch {
		case t.Vote != nil && t.Vote.SenderChain != "":
			st.senderChain = t.Vote.SenderChain
		case t.Source != nil:
			st.senderChain = t.Source.SenderChain
		}
	}
}

// fillFromEndBlock collects matching end-of-block confirmation events and
// lets them corroborate or upgrade the gathered evidence.
func (r *Resolver) fillFromEndBlock(ctx context.Context, st *pollState, confirmEvent *hub.Event, height int64) {
	if confirmEvent == nil {
		return
	}
	eventID := confirmEvent.Attr("eventID", "event_id")
	if eventID == "" {
		return
	}
	for _, e := range r.endBlockEvents(ctx, st, height) {
		if !e.TypeContains(confirmationEventTypes...) {
			continue
		}
		if !normalize.EqualFold(e.Attr("eventID", "event_id"), eventID) {
			continue
		}
		st.confirmationEvents = append(st.confirmationEvents, eventToDoc(e))
	}

	var ceTxID string
	var ceTransferID uint64
	for _, ce := range st.confirmationEvents {
		if ceTxID == "" {
			if v, _ := ce["txID"].(string); v != "" {
				ceTxID = v
			} else if v, _ := ce["tx_id"].(string); v != "" {
				ceTxID = v
			}
		}
		if ceTransferID == 0 {
			if v, _ := ce["transferID"].(string); v != "" {
				ceTransferID = parseUint(v)
			} else if v, _ := ce["transfer_id"].(string); v != "" {
				ceTransferID = parseUint(v)
			}
		}
	}
	if ceTxID == "" {
		return
	}
	if st.transactionID == "" {
		st.transactionID = normalize.ToHex(ceTxID)
	}
	if normalize.EqualFold(st.transactionID, normalize.ToHex(ceTxID)) {
		if st.success || (!st.confirmation && !st.unconfirmed && !st.failed && st.transferID == 0 && ceTransferID > 0) {
			st.confirmation = true
		}
		if ceTransferID > 0 {
			st.transferID = ceTransferID
		}
	}
}

// fillFromVotes recovers identity from another voter's record on the same
// poll.
func (r *Resolver) fillFromVotes(ctx context.Context, st *pollState) {
	docs, err := r.store.Read(ctx, docstore.CollectionVotes, docstore.Query{
		Must: []docstore.Match{{Field: "poll_id", Value: st.pollID}},
		Should: []docstore.Match{
			{Field: "transaction_id", Exists: true},
			{Field: "transfer_id", Exists: true},
		},
		MinimumShouldMatch: 1,
		MustNot:            []docstore.Match{{Field: "transaction_id", Value: st.pollID}},
	}, docstore.Options{Size: 1, Sort: []docstore.SortField{{Field: "height", Desc: true}}})
	if err != nil {
		r.swallow("store", "vote lookup failed", err, zap.String("poll_id", st.pollID))
		return
	}
	if len(docs) == 0 {
		return
	}
	var v VoteDoc
	if err := docstore.Unmarshal(docs[0], &v); err != nil {
		r.swallow("store", "vote decode failed", err)
		return
	}
	if st.transactionID == "" {
		st.transactionID = v.TransactionID
	}
	if st.transferID == 0 {
		st.transferID = v.TransferID
	}
	if st.senderChain == "" {
		st.senderChain = v.SenderChain
	}
}

// attachToTransfer builds the source leg for an affirmative vote and
// upserts the transfer aggregate, keeping the strongest vote record.
// When no source leg with a recipient can be reconstructed, a token-sent
// poll instead parks the vote on its previously indexed event.
func (r *Resolver) attachToTransfer(ctx context.Context, st *pollState, record *transfer.VoteRecord) {
	var source *transfer.Source
	if r.reg.IsEVMChain(st.senderChain) && st.depositAddress != "" {
		source = r.fetcher.EVMSourceForVote(ctx, st.senderChain, st.transactionID, st.depositAddress)
	}
	if source == nil || source.RecipientAddress == "" {
		if st.eventName == "token_sent" && st.transactionID != "" {
			r.backfillTokenSent(ctx, st, record)
		}
		return
	}
	if source.RecipientChain == "" {
		source.RecipientChain = st.recipientChain
	}
	link := r.fetcher.LinkForDeposit(ctx, st.depositAddress)
	link = r.enricher.EnrichLink(ctx, link, source)
	r.enricher.EnrichSource(ctx, source, link)

	update := &transfer.Transfer{Source: source, Link: link, Vote: record}
	if existing := r.existingTransfer(ctx, source.ID, source.RecipientAddress); existing != nil {
		update.ConfirmDeposit = existing.ConfirmDeposit
		if !transfer.AcceptVote(existing.Vote, record) {
			update.Vote = existing.Vote
		}
	}

	id := transfer.Key(source.ID, source.RecipientAddress)
	doc, err := docstore.Marshal(update)
	if err == nil {
		err = r.store.Write(ctx, docstore.CollectionTransfers, id, doc)
	}
	if err != nil {
		r.swallow("store", "transfer write failed", err, zap.String("id", id))
		return
	}
	r.metrics.TransfersReconciled.WithLabelValues("vote").Inc()
}

func (r *Resolver) existingTransfer(ctx context.Context, sourceID, recipientAddress string) *transfer.Transfer {
	docs, err := r.store.Read(ctx, docstore.CollectionTransfers, docstore.Query{
		Must: []docstore.Match{
			{Field: "source.id", Value: strings.ToLower(sourceID)},
			{Field: "source.recipient_address", Value: recipientAddress, Fold: true},
		},
	}, docstore.Options{Size: 1})
	if err != nil {
		r.swallow("store", "transfer lookup failed", err, zap.String("source_id", sourceID))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	var t transfer.Transfer
	if err := docstore.Unmarshal(docs[0], &t); err != nil {
		r.swallow("store", "transfer decode failed", err)
		return nil
	}
	return &t
}

// backfillTokenSent attaches the vote record to a previously indexed
// token-sent event matching the origin transaction.
func (r *Resolver) backfillTokenSent(ctx context.Context, st *pollState, record *transfer.VoteRecord) {
	docs, err := r.store.Read(ctx, docstore.CollectionTokenSentEvents, docstore.Query{
		Must: []docstore.Match{{Field: "event.transactionHash", Value: st.transactionID, Fold: true}},
	}, docstore.Options{Size: 1})
	if err != nil {
		r.swallow("store", "token sent lookup failed", err, zap.String("transaction_id", st.transactionID))
		return
	}
	if len(docs) == 0 {
		return
	}
	var existing *transfer.VoteRecord
	if raw, ok := docs[0]["vote"].(map[string]any); ok {
		existing = new(transfer.VoteRecord)
		if err := docstore.Unmarshal(docstore.Document(raw), existing); err != nil {
			existing = nil
		}
	}
	if !transfer.AcceptVote(existing, record) {
		return
	}
	id, _ := docs[0]["_id"].(string)
	if id == "" {
		id = strings.ToLower(st.transactionID)
	}
	voteDoc, err := docstore.Marshal(record)
	if err == nil {
		err = r.store.Write(ctx, docstore.CollectionTokenSentEvents, id, docstore.Document{"vote": voteDoc})
	}
	if err != nil {
		r.swallow("store", "token sent write failed", err, zap.String("id", id))
		return
	}
	r.metrics.TransfersReconciled.WithLabelValues("token_sent").Inc()
}

// persist merge-upserts the poll aggregate and writes the standalone vote
// record.
func (r *Resolver) persist(ctx context.Context, st *pollState, record *transfer.VoteRecord) {
	if st.voter == "" {
		return
	}

	pollDoc := docstore.Document{
		"id":     st.pollID,
		"height": record.Height,
	}
	setIf(pollDoc, "created_at", mustDoc(record.CreatedAt))
	setIfStr(pollDoc, "sender_chain", st.senderChain)
	setIfStr(pollDoc, "recipient_chain", st.recipientChain)
	setIfStr(pollDoc, "transaction_id", st.transactionID)
	setIfStr(pollDoc, "deposit_address", st.depositAddress)
	setIfStr(pollDoc, "event", st.eventName)
	if st.transferID > 0 {
		pollDoc["transfer_id"] = st.transferID
	}
	if st.confirmation {
		pollDoc["confirmation"] = true
	}
	if st.success {
		pollDoc["success"] = true
		// A completed poll cannot stay marked failed from earlier votes.
		pollDoc["failed"] = false
	} else if st.failed {
		pollDoc["failed"] = true
	}
	if len(st.participants) > 0 {
		pollDoc["participants"] = toAnySlice(st.participants)
	}
	if len(st.confirmationEvents) > 0 {
		events := make([]any, 0, len(st.confirmationEvents))
		for _, e := range st.confirmationEvents {
			events = append(events, e)
		}
		pollDoc["confirmation_events"] = events
	}
	pollDoc["votes"] = docstore.Document{
		strings.ToLower(st.voter): docstore.Document{
			"id":         record.ID,
			"type":       record.Type,
			"height":     record.Height,
			"created_at": record.CreatedAt.Ms,
			"voter":      st.voter,
			"vote":       st.vote,
			"confirmed":  st.confirmation && !st.unconfirmed,
			"late":       st.late,
		},
	}
	if err := r.store.Write(ctx, docstore.CollectionPolls, st.pollID, pollDoc); err != nil {
		r.swallow("store", "poll write failed", err, zap.String("poll_id", st.pollID))
	} else {
		r.metrics.PollsResolved.WithLabelValues(outcome(st)).Inc()
	}

	vote := VoteDoc{
		TxHash:        record.ID,
		Height:        record.Height,
		CreatedAt:     record.CreatedAt,
		SenderChain:   st.senderChain,
		PollID:        st.pollID,
		TransactionID: st.transactionID,
		TransferID:    st.transferID,
		Voter:         st.voter,
		Vote:          st.vote,
		Confirmation:  st.confirmation,
		Late:          st.late,
		Unconfirmed:   st.unconfirmed,
		Failed:        st.failed,
	}
	doc, err := docstore.Marshal(vote)
	if err == nil {
		err = r.store.Write(ctx, docstore.CollectionVotes, VoteKey(st.pollID, st.voter), doc)
	}
	if err != nil {
		r.swallow("store", "vote write failed", err, zap.String("poll_id", st.pollID))
		return
	}
	r.metrics.VotesRecorded.Inc()
}

func outcome(st *pollState) string {
	switch {
	case st.failed:
		return "failed"
	case st.success, st.confirmation:
		return "confirmed"
	case st.late:
		return "late"
	case st.unconfirmed:
		return "unconfirmed"
	default:
		return "pending"
	}
}

func (r *Resolver) getPoll(ctx context.Context, pollID string) *Poll {
	doc, err := r.store.Get(ctx, docstore.CollectionPolls, pollID)
	if err != nil {
		if !errors.Is(err, docstore.ErrNotFound) {
			r.swallow("store", "poll lookup failed", err, zap.String("poll_id", pollID))
		}
		return nil
	}
	var p Poll
	if err := docstore.Unmarshal(doc, &p); err != nil {
		r.swallow("store", "poll decode failed", err, zap.String("poll_id", pollID))
		return nil
	}
	return &p
}

// endBlockEvents fetches the end-of-block events for the height once per
// message, caching the result on the poll state.
func (r *Resolver) endBlockEvents(ctx context.Context, st *pollState, height int64) []hub.Event {
	if st.endBlockFetched || r.blocks == nil {
		return st.endBlock
	}
	st.endBlockFetched = true
	events, err := r.blocks.EndBlockEvents(ctx, height)
	if err != nil {
		r.swallow("rpc", "end-of-block fetch failed", err, zap.Int64("height", height))
		return nil
	}
	st.endBlock = events
	return st.endBlock
}

// hasTypedEvent reports whether any stored confirmation event carries its
// event type, the marker of a complete end-of-block capture.
func hasTypedEvent(events []map[string]any) bool {
	for _, e := range events {
		if t, _ := e["type"].(string); t != "" {
			return true
		}
	}
	return false
}

// eventPollID extracts the poll id from an event's poll attributes, which
// may be a plain id or a JSON object.
func eventPollID(e hub.Event) string {
	if id := e.Attr("poll_id"); id != "" {
		return id
	}
	if raw := e.AttrRaw("poll"); raw != "" {
		if obj := normalize.ToJSON(raw); obj != nil {
			if id, ok := obj["id"].(string); ok {
				return id
			}
		}
	}
	return ""
}

// pollIDTail recovers the origin transaction hash embedded in a poll id of
// the form `{chain}_{txid}[_{n}]`.
func pollIDTail(pollID, senderChain string) string {
	s := pollID
	if senderChain != "" {
		prefix := strings.ToLower(senderChain) + "_"
		if strings.HasPrefix(strings.ToLower(s), prefix) {
			s = s[len(prefix):]
		}
	}
	parts := strings.Split(s, "_")
	return parts[0]
}

// failedFromLogs reports a failure log line that is not the benign
// already-confirmed case.
func failedFromLogs(logs []hub.Log) bool {
	for _, l := range logs {
		if strings.Contains(l.Log, "failed") && !strings.Contains(l.Log, "already confirmed") {
			return true
		}
	}
	return false
}

func containsStatus(statuses []string, wanted ...string) bool {
	for _, s := range statuses {
		for _, w := range wanted {
			if s == w {
				return true
			}
		}
	}
	return false
}

// eventToDoc flattens an event into a persistable document: the short type
// plus its quote-stripped attributes.
func eventToDoc(e hub.Event) map[string]any {
	doc := map[string]any{"type": e.ShortType()}
	for _, a := range e.Attributes {
		doc[a.Key] = strings.ReplaceAll(a.Value, `"`, "")
	}
	return doc
}

func parseUint(s string) uint64 {
	n, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func setIfStr(doc docstore.Document, key, value string) {
	if value != "" {
		doc[key] = value
	}
}

func setIf(doc docstore.Document, key string, value any) {
	if value != nil {
		doc[key] = value
	}
}

func mustDoc(v any) any {
	doc, err := docstore.Marshal(v)
	if err != nil {
		return nil
	}
	return doc
}

func toAnySlice(ss []string) []any {
	out := make([]any, 0, len(ss))
	for _, s := range ss {
		out = append(out, s)
	}
	return out
}
