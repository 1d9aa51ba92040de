package errors

import "errors"

var (
	ErrInvalidPollInput       = errors.New("invalid poll input")
	ErrInvalidOption          = errors.New("invalid option index")
	ErrPollNotFound           = errors.New("poll not found")
	ErrPollEnded              = errors.New("poll has ended")
	ErrAlreadyVoted           = errors.New("voter has already voted on this poll")
	ErrVoteNotFound           = errors.New("vote not found")
	ErrDuplicateVote          = errors.New("duplicate vote for poll and voter")
	ErrOperationInFlight      = errors.New("operation is already in flight")
	ErrOperationNotFound      = errors.New("operation record not found")
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required")
	ErrIdempotencyConflict    = errors.New("idempotency key conflict")
	ErrLedgerRejected         = errors.New("ledger rejected operation")
	ErrLedgerUnavailable      = errors.New("ledger is unavailable")
)

// RejectionError carries the ledger's refusal reason verbatim. It unwraps to
// ErrLedgerRejected so callers branch with errors.Is.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return "ledger rejected operation: " + e.Reason
}

func (e *RejectionError) Unwrap() error {
	return ErrLedgerRejected
}

// Retryable reports whether the caller may safely resubmit the same operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrLedgerUnavailable) || errors.Is(err, ErrOperationInFlight)
}
