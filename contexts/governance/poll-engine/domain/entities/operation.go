package entities

import "time"

type OperationKind string

const (
	OperationCreatePoll OperationKind = "create-poll"
	OperationCastVote   OperationKind = "cast-vote"
)

type OperationState string

const (
	OperationPending   OperationState = "pending"
	OperationSucceeded OperationState = "succeeded"
	OperationFailed    OperationState = "failed"
)

// OperationRecord is the durable write-ahead record for one logical operation.
// It is inserted pending before the ledger is contacted, annotated with the
// ledger confirmation as soon as it arrives, and finalized once the local
// write lands. A record stuck in pending marks the crash window the sweeper
// has to resolve.
type OperationRecord struct {
	Key           string
	Kind          OperationKind
	State         OperationState
	RequestHash   string
	Payload       []byte
	LedgerID      uint64
	TxRef         string
	PollID        string
	VoteID        string
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// LedgerConfirmed reports whether the ledger acknowledged this operation.
// A pending record without a tx reference never reached finality, so a retry
// is safe; one with it must be replayed locally, never re-submitted.
func (r OperationRecord) LedgerConfirmed() bool {
	return r.TxRef != ""
}
