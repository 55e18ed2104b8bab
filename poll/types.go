// Package poll resolves hub-chain validator-vote transactions into poll
// outcome and per-voter vote records, and triggers transfer reconciliation
// for confirmed deposits.
package poll

import (
	"fmt"
	"strings"

	"github.com/hubscan/reconciler-go/normalize"
)

// Vote event status values emitted by newer hub versions.
const (
	StatusCompleted   = "STATUS_COMPLETED"
	StatusUnspecified = "STATUS_UNSPECIFIED"
)

// Poll is the aggregate outcome document for one poll, merged across all
// observed votes. Per-voter entries live under Votes keyed by the
// lower-cased voter address.
type Poll struct {
	ID                 string                `bson:"id" json:"id"`
	Height             int64                 `bson:"height,omitempty" json:"height,omitempty"`
	CreatedAt          normalize.Granularity `bson:"created_at,omitempty" json:"created_at,omitempty"`
	SenderChain        string                `bson:"sender_chain,omitempty" json:"sender_chain,omitempty"`
	RecipientChain     string                `bson:"recipient_chain,omitempty" json:"recipient_chain,omitempty"`
	TransactionID      string                `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	DepositAddress     string                `bson:"deposit_address,omitempty" json:"deposit_address,omitempty"`
	TransferID         uint64                `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	Confirmation       bool                  `bson:"confirmation,omitempty" json:"confirmation,omitempty"`
	Failed             bool                  `bson:"failed,omitempty" json:"failed,omitempty"`
	Success            bool                  `bson:"success,omitempty" json:"success,omitempty"`
	Event              string                `bson:"event,omitempty" json:"event,omitempty"`
	Participants       []string              `bson:"participants,omitempty" json:"participants,omitempty"`
	ConfirmationEvents []map[string]any      `bson:"confirmation_events,omitempty" json:"confirmation_events,omitempty"`
	Votes              map[string]PollVote   `bson:"votes,omitempty" json:"votes,omitempty"`
}

// PollVote is one voter's entry inside a poll aggregate.
type PollVote struct {
	ID        string `bson:"id" json:"id"`
	Type      string `bson:"type" json:"type"`
	Height    int64  `bson:"height" json:"height"`
	CreatedAt int64  `bson:"created_at" json:"created_at"`
	Voter     string `bson:"voter" json:"voter"`
	Vote      bool   `bson:"vote" json:"vote"`
	Confirmed bool   `bson:"confirmed" json:"confirmed"`
	Late      bool   `bson:"late" json:"late"`
}

// VoteDoc is the standalone per-(poll, voter) record written for every
// processed vote, keyed by `{poll_id}_{voter}` lower-cased.
type VoteDoc struct {
	TxHash        string                `bson:"txhash" json:"txhash"`
	Height        int64                 `bson:"height" json:"height"`
	CreatedAt     normalize.Granularity `bson:"created_at" json:"created_at"`
	SenderChain   string                `bson:"sender_chain,omitempty" json:"sender_chain,omitempty"`
	PollID        string                `bson:"poll_id" json:"poll_id"`
	TransactionID string                `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	TransferID    uint64                `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	Voter         string                `bson:"voter" json:"voter"`
	Vote          bool                  `bson:"vote" json:"vote"`
	Confirmation  bool                  `bson:"confirmation,omitempty" json:"confirmation,omitempty"`
	Late          bool                  `bson:"late,omitempty" json:"late,omitempty"`
	Unconfirmed   bool                  `bson:"unconfirmed,omitempty" json:"unconfirmed,omitempty"`
	Failed        bool                  `bson:"failed,omitempty" json:"failed,omitempty"`
}

// VoteKey builds the id of a standalone vote record.
func VoteKey(pollID, voter string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s", pollID, voter))
}
