package transfer

// Status is the derived lifecycle status of a transfer.
type Status string

const (
	StatusAssetSent        Status = "asset_sent"
	StatusDepositConfirmed Status = "deposit_confirmed"
	StatusVoted            Status = "voted"
	StatusBatchSigned      Status = "batch_signed"
	StatusIBCSent          Status = "ibc_sent"
	StatusIBCFailed        Status = "ibc_failed"
	StatusExecuted         Status = "executed"
)

// rank orders statuses by lifecycle progress. ibc_failed is terminal and
// outranks everything.
var rank = map[Status]int{
	StatusAssetSent:        0,
	StatusDepositConfirmed: 1,
	StatusVoted:            2,
	StatusBatchSigned:      3,
	StatusIBCSent:          4,
	StatusExecuted:         5,
	StatusIBCFailed:        6,
}

// DeriveStatus computes the lifecycle status from the sub-records present
// on a transfer. Evidence of later stages always wins over earlier ones.
func DeriveStatus(t *Transfer) Status {
	if t == nil {
		return StatusAssetSent
	}
	if s := t.IBCSend; s != nil {
		switch {
		case s.FailedTxHash != "" && s.AckTxHash == "":
			return StatusIBCFailed
		case s.RecvTxHash != "":
			return StatusExecuted
		default:
			return StatusIBCSent
		}
	}
	if b := t.SignBatch; b != nil {
		if b.Executed {
			return StatusExecuted
		}
		return StatusBatchSigned
	}
	if t.AxelarTransfer != nil {
		return StatusExecuted
	}
	if t.Vote != nil {
		return StatusVoted
	}
	if t.ConfirmDeposit != nil {
		return StatusDepositConfirmed
	}
	return StatusAssetSent
}

// Outranks reports whether status a is strictly later in the lifecycle
// than b.
func Outranks(a, b Status) bool {
	return rank[a] > rank[b]
}

// AcceptVote decides whether an incoming vote record may replace the one
// already attached to a transfer. Re-votes for the same poll are always
// applied so late corrections land; a vote from a different poll must come
// from a strictly greater hub height, which blocks replays of stale polls
// without freezing the record forever.
func AcceptVote(existing, incoming *VoteRecord) bool {
	if incoming == nil {
		return false
	}
	if existing == nil {
		return true
	}
	if existing.PollID == incoming.PollID {
		return true
	}
	return incoming.Height > existing.Height
}
