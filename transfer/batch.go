package transfer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/hubscan/reconciler-go/chains"
	"github.com/hubscan/reconciler-go/docstore"
	"github.com/hubscan/reconciler-go/evmchain"
	"github.com/hubscan/reconciler-go/metrics"
)

// BatchStatusSigned is the hub's status value for a signed command batch.
const BatchStatusSigned = "BATCHED_COMMANDS_STATUS_SIGNED"

// Batch is a signed command batch as persisted by the batch indexer.
type Batch struct {
	BatchID    string         `bson:"batch_id" json:"batch_id"`
	Chain      string         `bson:"chain" json:"chain"`
	Status     string         `bson:"status" json:"status"`
	CommandIDs []string       `bson:"command_ids" json:"command_ids"`
	Commands   []BatchCommand `bson:"commands,omitempty" json:"commands,omitempty"`
	CreatedAt  any            `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// BatchCommand is one command inside a batch.
type BatchCommand struct {
	ID               string `bson:"id" json:"id"`
	Executed         bool   `bson:"executed,omitempty" json:"executed,omitempty"`
	TransactionHash  string `bson:"transactionHash,omitempty" json:"transactionHash,omitempty"`
	TransactionIndex int    `bson:"transactionIndex,omitempty" json:"transactionIndex,omitempty"`
	LogIndex         int    `bson:"logIndex,omitempty" json:"logIndex,omitempty"`
	BlockTimestamp   int64  `bson:"block_timestamp,omitempty" json:"block_timestamp,omitempty"`
}

// CommandEvent is the on-chain execution record for one command id.
type CommandEvent struct {
	Chain            string `bson:"chain" json:"chain"`
	CommandID        string `bson:"command_id" json:"command_id"`
	TransactionHash  string `bson:"transactionHash,omitempty" json:"transactionHash,omitempty"`
	TransactionIndex int    `bson:"transactionIndex,omitempty" json:"transactionIndex,omitempty"`
	LogIndex         int    `bson:"logIndex,omitempty" json:"logIndex,omitempty"`
	BlockTimestamp   int64  `bson:"block_timestamp,omitempty" json:"block_timestamp,omitempty"`
}

// CommandID derives the gateway command id for a transfer: the transfer id
// in hex, left-padded with zeros to 32 bytes.
func CommandID(transferID uint64) string {
	return fmt.Sprintf("%064x", transferID)
}

// BatchReconciler resolves whether an EVM-destined transfer has been
// included in a signed batch and executed on the destination gateway.
type BatchReconciler struct {
	store   docstore.Store
	reg     *chains.Registry
	evm     evmchain.Source
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewBatchReconciler wires a reconciler. evm may be nil; gateway checks
// are then skipped and only persisted evidence is used.
func NewBatchReconciler(store docstore.Store, reg *chains.Registry, evm evmchain.Source, m *metrics.Metrics, logger *zap.Logger) *BatchReconciler {
	if m == nil {
		m = metrics.Nop()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchReconciler{store: store, reg: reg, evm: evm, metrics: m, logger: logger}
}

func (r *BatchReconciler) swallow(msg string, err error, fields ...zap.Field) {
	r.metrics.SwallowedErrors.WithLabelValues("batch").Inc()
	r.logger.Debug(msg, append(fields, zap.Error(err))...)
}

// Reconcile attaches or refreshes the sign_batch sub-record of an
// EVM-destined transfer. Returns the sub-record and whether it changed.
func (r *BatchReconciler) Reconcile(ctx context.Context, t *Transfer) (*SignBatch, bool) {
	if t == nil || t.Source == nil {
		return nil, false
	}
	dest := firstNonEmpty(t.Source.RecipientChain, t.Source.OriginalRecipientChain)
	if dest == "" || !r.reg.IsEVMChain(dest) {
		return nil, false
	}
	transferID := t.BestTransferID()
	if transferID == 0 {
		return nil, false
	}
	if t.SignBatch != nil && t.SignBatch.Executed {
		return t.SignBatch, false
	}

	commandID := CommandID(transferID)
	batch := r.findSignedBatch(ctx, dest, commandID)
	if batch == nil {
		return t.SignBatch, false
	}

	sb := &SignBatch{
		Chain:      dest,
		BatchID:    batch.BatchID,
		CreatedAt:  batch.CreatedAt,
		CommandID:  commandID,
		TransferID: transferID,
	}
	if cmd := batch.command(commandID); cmd != nil {
		sb.Executed = cmd.Executed
		sb.TransactionHash = cmd.TransactionHash
		sb.TransactionIndex = cmd.TransactionIndex
		sb.LogIndex = cmd.LogIndex
		sb.BlockTimestamp = cmd.BlockTimestamp
	}

	if !sb.Executed {
		sb.Executed = r.gatewayExecuted(ctx, dest, commandID)
	}
	if ev := r.commandEvent(ctx, dest, commandID); ev != nil {
		sb.Executed = true
		if sb.TransactionHash == "" {
			sb.TransactionHash = ev.TransactionHash
			sb.TransactionIndex = ev.TransactionIndex
			sb.LogIndex = ev.LogIndex
		}
		if sb.BlockTimestamp == 0 {
			sb.BlockTimestamp = ev.BlockTimestamp
		}
	}

	changed := t.SignBatch == nil ||
		t.SignBatch.BatchID != sb.BatchID ||
		t.SignBatch.Executed != sb.Executed ||
		t.SignBatch.TransactionHash != sb.TransactionHash
	t.SignBatch = sb
	if changed {
		r.metrics.TransfersReconciled.WithLabelValues("sign_batch").Inc()
	}
	return sb, changed
}

func (r *BatchReconciler) findSignedBatch(ctx context.Context, chain, commandID string) *Batch {
	docs, err := r.store.Read(ctx, docstore.CollectionBatches, docstore.Query{
		Must: []docstore.Match{
			{Field: "chain", Value: chain, Fold: true},
			{Field: "status", Value: BatchStatusSigned},
			{Field: "command_ids", Value: commandID},
		},
	}, docstore.Options{Size: 1})
	if err != nil {
		r.swallow("batch lookup failed", err, zap.String("chain", chain), zap.String("command_id", commandID))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	var batch Batch
	if err := docstore.Unmarshal(docs[0], &batch); err != nil {
		r.swallow("batch decode failed", err)
		return nil
	}
	return &batch
}

func (b *Batch) command(commandID string) *BatchCommand {
	for i := range b.Commands {
		if strings.EqualFold(b.Commands[i].ID, commandID) {
			return &b.Commands[i]
		}
	}
	return nil
}

func (r *BatchReconciler) gatewayExecuted(ctx context.Context, chain, commandID string) bool {
	if r.evm == nil {
		return false
	}
	provider, ok := r.evm.ForChain(chain)
	if !ok {
		return false
	}
	executed, err := provider.IsCommandExecuted(ctx, commandID)
	if err != nil {
		r.swallow("gateway check failed", err, zap.String("chain", chain), zap.String("command_id", commandID))
		return false
	}
	return executed
}

func (r *BatchReconciler) commandEvent(ctx context.Context, chain, commandID string) *CommandEvent {
	docs, err := r.store.Read(ctx, docstore.CollectionCommandEvents, docstore.Query{
		Must: []docstore.Match{
			{Field: "chain", Value: chain, Fold: true},
			{Field: "command_id", Value: commandID},
		},
	}, docstore.Options{Size: 1})
	if err != nil {
		r.swallow("command event lookup failed", err, zap.String("chain", chain), zap.String("command_id", commandID))
		return nil
	}
	if len(docs) == 0 {
		return nil
	}
	var ev CommandEvent
	if err := docstore.Unmarshal(docs[0], &ev); err != nil {
		r.swallow("command event decode failed", err)
		return nil
	}
	return &ev
}
