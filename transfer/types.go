// Package transfer implements the transfer-status pipeline: source-leg
// reconstruction, link/price enrichment, lifecycle status derivation and
// batch execution reconciliation.
package transfer

import (
	"fmt"
	"strings"

	"github.com/hubscan/reconciler-go/normalize"
)

// Source leg types.
const (
	SourceTypeEVM = "evm_transfer"
	SourceTypeIBC = "ibc_transfer"
)

// Minimum length of a deposit address on a Cosmos chain; shorter receivers
// are ordinary accounts, not tracked transfers.
const MinDepositAddressLen = 65

// Source is the normalized origin-chain leg of a transfer.
type Source struct {
	ID                     string                `bson:"id" json:"id"`
	Type                   string                `bson:"type" json:"type"`
	StatusCode             int                   `bson:"status_code" json:"status_code"`
	Status                 string                `bson:"status" json:"status"`
	Height                 int64                 `bson:"height" json:"height"`
	CreatedAt              normalize.Granularity `bson:"created_at" json:"created_at"`
	SenderChain            string                `bson:"sender_chain,omitempty" json:"sender_chain,omitempty"`
	RecipientChain         string                `bson:"recipient_chain,omitempty" json:"recipient_chain,omitempty"`
	OriginalSenderChain    string                `bson:"original_sender_chain,omitempty" json:"original_sender_chain,omitempty"`
	OriginalRecipientChain string                `bson:"original_recipient_chain,omitempty" json:"original_recipient_chain,omitempty"`
	SenderAddress          string                `bson:"sender_address,omitempty" json:"sender_address,omitempty"`
	RecipientAddress       string                `bson:"recipient_address,omitempty" json:"recipient_address,omitempty"`
	// RawAmount is the undecoded integer amount as read off chain.
	RawAmount string `bson:"raw_amount,omitempty" json:"raw_amount,omitempty"`
	// Amount is the decimal amount once decimals are resolved.
	Amount float64 `bson:"amount,omitempty" json:"amount,omitempty"`
	Denom  string  `bson:"denom,omitempty" json:"denom,omitempty"`
	// Fee is the hub's cross-chain transfer fee in decimal units.
	Fee             float64 `bson:"fee,omitempty" json:"fee,omitempty"`
	FeeResolved     bool    `bson:"fee_resolved,omitempty" json:"fee_resolved,omitempty"`
	InsufficientFee bool    `bson:"insufficient_fee,omitempty" json:"insufficient_fee,omitempty"`
	AmountReceived  float64 `bson:"amount_received,omitempty" json:"amount_received,omitempty"`
	// Value is amount * price in USD.
	Value float64 `bson:"value,omitempty" json:"value,omitempty"`
}

// Link is the deposit-address routing document owned by the linking
// service. This engine reads it and patches individual fields when it
// discovers better evidence.
type Link struct {
	ID                     string  `bson:"id" json:"id"`
	TxHash                 string  `bson:"txhash,omitempty" json:"txhash,omitempty"`
	DepositAddress         string  `bson:"deposit_address" json:"deposit_address"`
	SenderChain            string  `bson:"sender_chain,omitempty" json:"sender_chain,omitempty"`
	RecipientChain         string  `bson:"recipient_chain,omitempty" json:"recipient_chain,omitempty"`
	OriginalSenderChain    string  `bson:"original_sender_chain,omitempty" json:"original_sender_chain,omitempty"`
	OriginalRecipientChain string  `bson:"original_recipient_chain,omitempty" json:"original_recipient_chain,omitempty"`
	SenderAddress          string  `bson:"sender_address,omitempty" json:"sender_address,omitempty"`
	RecipientAddress       string  `bson:"recipient_address,omitempty" json:"recipient_address,omitempty"`
	Asset                  string  `bson:"asset,omitempty" json:"asset,omitempty"`
	Denom                  string  `bson:"denom,omitempty" json:"denom,omitempty"`
	Price                  float64 `bson:"price,omitempty" json:"price,omitempty"`
	Height                 int64   `bson:"height,omitempty" json:"height,omitempty"`
}

// VoteRecord is the poll-vote snapshot attached to a transfer and
// persisted per (poll, voter).
type VoteRecord struct {
	ID             string                `bson:"id" json:"id"`
	Type           string                `bson:"type" json:"type"`
	StatusCode     int                   `bson:"status_code" json:"status_code"`
	Status         string                `bson:"status" json:"status"`
	Height         int64                 `bson:"height" json:"height"`
	CreatedAt      normalize.Granularity `bson:"created_at" json:"created_at"`
	SenderChain    string                `bson:"sender_chain,omitempty" json:"sender_chain,omitempty"`
	RecipientChain string                `bson:"recipient_chain,omitempty" json:"recipient_chain,omitempty"`
	PollID         string                `bson:"poll_id" json:"poll_id"`
	TransactionID  string                `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	DepositAddress string                `bson:"deposit_address,omitempty" json:"deposit_address,omitempty"`
	TransferID     uint64                `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	Voter          string                `bson:"voter,omitempty" json:"voter,omitempty"`
	Vote           bool                  `bson:"vote" json:"vote"`
	Confirmation   bool                  `bson:"confirmation,omitempty" json:"confirmation,omitempty"`
	Late           bool                  `bson:"late,omitempty" json:"late,omitempty"`
	Unconfirmed    bool                  `bson:"unconfirmed,omitempty" json:"unconfirmed,omitempty"`
	Failed         bool                  `bson:"failed,omitempty" json:"failed,omitempty"`
	Success        bool                  `bson:"success,omitempty" json:"success,omitempty"`
	Event          string                `bson:"event,omitempty" json:"event,omitempty"`
}

// ConfirmDeposit is the confirmation sub-record produced by the deposit
// confirmation pipeline; this engine only reads it.
type ConfirmDeposit struct {
	PollID         string                `bson:"poll_id,omitempty" json:"poll_id,omitempty"`
	TransactionID  string                `bson:"transaction_id,omitempty" json:"transaction_id,omitempty"`
	DepositAddress string                `bson:"deposit_address,omitempty" json:"deposit_address,omitempty"`
	TransferID     uint64                `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	Height         int64                 `bson:"height,omitempty" json:"height,omitempty"`
	CreatedAt      normalize.Granularity `bson:"created_at,omitempty" json:"created_at,omitempty"`
	Participants   []string              `bson:"participants,omitempty" json:"participants,omitempty"`
}

// SignBatch records a transfer's inclusion in a signed command batch and
// its execution on the destination EVM chain.
type SignBatch struct {
	Chain            string `bson:"chain,omitempty" json:"chain,omitempty"`
	BatchID          string `bson:"batch_id,omitempty" json:"batch_id,omitempty"`
	CreatedAt        any    `bson:"created_at,omitempty" json:"created_at,omitempty"`
	CommandID        string `bson:"command_id,omitempty" json:"command_id,omitempty"`
	TransferID       uint64 `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	Executed         bool   `bson:"executed,omitempty" json:"executed,omitempty"`
	TransactionHash  string `bson:"transactionHash,omitempty" json:"transactionHash,omitempty"`
	TransactionIndex int    `bson:"transactionIndex,omitempty" json:"transactionIndex,omitempty"`
	LogIndex         int    `bson:"logIndex,omitempty" json:"logIndex,omitempty"`
	BlockTimestamp   int64  `bson:"block_timestamp,omitempty" json:"block_timestamp,omitempty"`
}

// IBCSend records the IBC relay leg toward a Cosmos destination.
type IBCSend struct {
	PacketTxHash string `bson:"txhash,omitempty" json:"txhash,omitempty"`
	Height       int64  `bson:"height,omitempty" json:"height,omitempty"`
	RecvTxHash   string `bson:"recv_txhash,omitempty" json:"recv_txhash,omitempty"`
	AckTxHash    string `bson:"ack_txhash,omitempty" json:"ack_txhash,omitempty"`
	FailedTxHash string `bson:"failed_txhash,omitempty" json:"failed_txhash,omitempty"`
}

// HubTransfer records native execution on the hub chain itself.
type HubTransfer struct {
	TxHash    string                `bson:"txhash,omitempty" json:"txhash,omitempty"`
	Height    int64                 `bson:"height,omitempty" json:"height,omitempty"`
	CreatedAt normalize.Granularity `bson:"created_at,omitempty" json:"created_at,omitempty"`
}

// TimeSpent aggregates stage durations in seconds for a transfer.
type TimeSpent struct {
	SourceConfirm  int64 `bson:"source_confirm,omitempty" json:"source_confirm,omitempty"`
	ConfirmExecute int64 `bson:"confirm_execute,omitempty" json:"confirm_execute,omitempty"`
	Total          int64 `bson:"total,omitempty" json:"total,omitempty"`
}

// Transfer is the canonical per-transfer aggregate, keyed by
// `{source.id}_{recipient_address}` case-folded. Pipeline stages attach
// sub-records over time; nothing is ever cleared.
type Transfer struct {
	Source         *Source         `bson:"source,omitempty" json:"source,omitempty"`
	Link           *Link           `bson:"link,omitempty" json:"link,omitempty"`
	ConfirmDeposit *ConfirmDeposit `bson:"confirm_deposit,omitempty" json:"confirm_deposit,omitempty"`
	Vote           *VoteRecord     `bson:"vote,omitempty" json:"vote,omitempty"`
	SignBatch      *SignBatch      `bson:"sign_batch,omitempty" json:"sign_batch,omitempty"`
	IBCSend        *IBCSend        `bson:"ibc_send,omitempty" json:"ibc_send,omitempty"`
	AxelarTransfer *HubTransfer    `bson:"axelar_transfer,omitempty" json:"axelar_transfer,omitempty"`
	TransferID     uint64          `bson:"transfer_id,omitempty" json:"transfer_id,omitempty"`
	TimeSpent      *TimeSpent      `bson:"time_spent,omitempty" json:"time_spent,omitempty"`
}

// Key builds the transfer aggregate id for a source leg.
func Key(sourceID, recipientAddress string) string {
	return strings.ToLower(fmt.Sprintf("%s_%s", sourceID, recipientAddress))
}

// BestTransferID returns the transfer id from the most authoritative
// sub-record carrying one.
func (t *Transfer) BestTransferID() uint64 {
	if t.Vote != nil && t.Vote.TransferID > 0 {
		return t.Vote.TransferID
	}
	if t.ConfirmDeposit != nil && t.ConfirmDeposit.TransferID > 0 {
		return t.ConfirmDeposit.TransferID
	}
	return t.TransferID
}
