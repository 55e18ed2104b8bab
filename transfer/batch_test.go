package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hubscan/reconciler-go/docstore"
)

func writeBatch(t *testing.T, store docstore.Store, batch Batch) {
	t.Helper()
	doc, err := docstore.Marshal(batch)
	require.NoError(t, err)
	require.NoError(t, store.Write(context.Background(), docstore.CollectionBatches, batch.BatchID, doc))
}

func TestBatchReconcile(t *testing.T) {
	reg := testRegistry(t)
	ctx := context.Background()
	commandID := CommandID(1234)

	evmBound := &Transfer{
		Source: &Source{
			ID:               "abc123",
			RecipientChain:   "ethereum",
			RecipientAddress: "axelar1deposit",
		},
		Vote: &VoteRecord{TransferID: 1234},
	}

	t.Run("no batch yet", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := *evmBound
		sb, changed := r.Reconcile(ctx, &tr)
		assert.Nil(t, sb)
		assert.False(t, changed)
	})

	t.Run("signed batch attaches", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		writeBatch(t, store, Batch{
			BatchID:    "batch-1",
			Chain:      "ethereum",
			Status:     BatchStatusSigned,
			CommandIDs: []string{commandID},
		})
		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := *evmBound
		sb, changed := r.Reconcile(ctx, &tr)
		require.NotNil(t, sb)
		assert.True(t, changed)
		assert.Equal(t, "batch-1", sb.BatchID)
		assert.Equal(t, commandID, sb.CommandID)
		assert.False(t, sb.Executed)
		assert.Equal(t, StatusBatchSigned, DeriveStatus(&tr))
	})

	t.Run("executed command in batch", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		writeBatch(t, store, Batch{
			BatchID:    "batch-1",
			Chain:      "ethereum",
			Status:     BatchStatusSigned,
			CommandIDs: []string{commandID},
			Commands: []BatchCommand{
				{ID: commandID, Executed: true, TransactionHash: "0xexec", BlockTimestamp: 1700000000},
			},
		})
		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := *evmBound
		sb, changed := r.Reconcile(ctx, &tr)
		require.NotNil(t, sb)
		assert.True(t, changed)
		assert.True(t, sb.Executed)
		assert.Equal(t, "0xexec", sb.TransactionHash)
		assert.Equal(t, StatusExecuted, DeriveStatus(&tr))
	})

	t.Run("gateway resolves execution", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		writeBatch(t, store, Batch{
			BatchID:    "batch-1",
			Chain:      "ethereum",
			Status:     BatchStatusSigned,
			CommandIDs: []string{commandID},
		})
		evm := fakeEVM{"ethereum": &fakeProvider{executed: map[string]bool{commandID: true}}}
		r := NewBatchReconciler(store, reg, evm, nil, nil)

		tr := *evmBound
		sb, _ := r.Reconcile(ctx, &tr)
		require.NotNil(t, sb)
		assert.True(t, sb.Executed)
	})

	t.Run("command event fills execution details", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		writeBatch(t, store, Batch{
			BatchID:    "batch-1",
			Chain:      "ethereum",
			Status:     BatchStatusSigned,
			CommandIDs: []string{commandID},
		})
		evDoc, err := docstore.Marshal(CommandEvent{
			Chain:           "ethereum",
			CommandID:       commandID,
			TransactionHash: "0xevent",
			BlockTimestamp:  1700000100,
		})
		require.NoError(t, err)
		require.NoError(t, store.Write(ctx, docstore.CollectionCommandEvents, "ethereum_"+commandID, evDoc))

		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := *evmBound
		sb, _ := r.Reconcile(ctx, &tr)
		require.NotNil(t, sb)
		assert.True(t, sb.Executed)
		assert.Equal(t, "0xevent", sb.TransactionHash)
		assert.EqualValues(t, 1700000100, sb.BlockTimestamp)
	})

	t.Run("cosmos destination skipped", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := Transfer{
			Source: &Source{ID: "abc", RecipientChain: "osmosis"},
			Vote:   &VoteRecord{TransferID: 1234},
		}
		sb, changed := r.Reconcile(ctx, &tr)
		assert.Nil(t, sb)
		assert.False(t, changed)
	})

	t.Run("missing transfer id skipped", func(t *testing.T) {
		store := docstore.NewMemoryStore()
		r := NewBatchReconciler(store, reg, nil, nil, nil)

		tr := Transfer{Source: &Source{ID: "abc", RecipientChain: "ethereum"}}
		sb, changed := r.Reconcile(ctx, &tr)
		assert.Nil(t, sb)
		assert.False(t, changed)
	})
}
