package entities

import "time"

// Option is owned exclusively by its Poll. The slice index is the stable
// identifier the ledger understands; option text is display-only.
type Option struct {
	Text  string
	Votes int
}

// Poll is the locally cached view of a ledger poll. LedgerID is assigned by
// the ledger at creation and never changes afterwards.
type Poll struct {
	PollID      string
	LedgerID    uint64
	Question    string
	Options     []Option
	CreatorID   string
	CreateTxRef string
	Deadline    time.Time
	Active      bool
	TotalVotes  int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Ended reports whether the poll no longer accepts votes at the given time.
func (p Poll) Ended(now time.Time) bool {
	return !p.Active || !now.UTC().Before(p.Deadline.UTC())
}

// ValidOption reports whether index addresses one of the poll's options.
func (p Poll) ValidOption(index int) bool {
	return index >= 0 && index < len(p.Options)
}

// Vote records one confirmed ledger vote. At most one Vote exists per
// (poll, voter) pair; the storage layer enforces that with a unique index.
type Vote struct {
	VoteID      string
	PollID      string
	VoterID     string
	OptionIndex int
	TxRef       string
	CastAt      time.Time
}
