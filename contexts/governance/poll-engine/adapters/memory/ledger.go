package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"
)

type ledgerPoll struct {
	question   string
	options    []string
	tallies    []uint64
	creator    string
	endTime    time.Time
	active     bool
	totalVotes uint64
	voters     map[string]bool
}

// Ledger is an in-memory stand-in for the voting contract. It enforces the
// same rules the chain does: one vote per address per poll, no votes after
// the end time, option index bounds. Rejections come back as RejectionError
// so callers exercise the same error paths as against the real chain.
type Ledger struct {
	mu sync.Mutex

	polls   map[uint64]*ledgerPoll
	nextID  uint64
	txSeq   uint64
	clock   ports.Clock
	failure error
}

func NewLedger(clock ports.Clock) *Ledger {
	return &Ledger{
		polls:  make(map[uint64]*ledgerPoll),
		nextID: 1,
		clock:  clock,
	}
}

// FailWith makes every subsequent call return err until cleared with nil.
// Tests use it to simulate an unreachable chain.
func (l *Ledger) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failure = err
}

func (l *Ledger) SubmitCreatePoll(
	ctx context.Context,
	question string,
	options []string,
	durationMinutes int64,
) (ports.CreatedPoll, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reachable(ctx); err != nil {
		return ports.CreatedPoll{}, err
	}
	if strings.TrimSpace(question) == "" {
		return ports.CreatedPoll{}, &domainerrors.RejectionError{Reason: "question required"}
	}
	if len(options) < 2 {
		return ports.CreatedPoll{}, &domainerrors.RejectionError{Reason: "at least two options required"}
	}
	if durationMinutes <= 0 {
		return ports.CreatedPoll{}, &domainerrors.RejectionError{Reason: "duration must be positive"}
	}

	id := l.nextID
	l.nextID++
	l.polls[id] = &ledgerPoll{
		question: question,
		options:  append([]string(nil), options...),
		tallies:  make([]uint64, len(options)),
		endTime:  l.now().Add(time.Duration(durationMinutes) * time.Minute),
		active:   true,
		voters:   make(map[string]bool),
	}
	return ports.CreatedPoll{LedgerID: id, TxRef: l.newTxRef()}, nil
}

func (l *Ledger) SubmitVote(ctx context.Context, ledgerID uint64, optionIndex int, voter string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reachable(ctx); err != nil {
		return "", err
	}
	poll, ok := l.polls[ledgerID]
	if !ok {
		return "", &domainerrors.RejectionError{Reason: "poll does not exist"}
	}
	if !poll.active || !l.now().Before(poll.endTime) {
		return "", &domainerrors.RejectionError{Reason: "poll has ended"}
	}
	if optionIndex < 0 || optionIndex >= len(poll.options) {
		return "", &domainerrors.RejectionError{Reason: "invalid option"}
	}
	voter = strings.ToLower(strings.TrimSpace(voter))
	if poll.voters[voter] {
		return "", &domainerrors.RejectionError{Reason: "already voted"}
	}

	poll.voters[voter] = true
	poll.tallies[optionIndex]++
	poll.totalVotes++
	return l.newTxRef(), nil
}

func (l *Ledger) ReadPoll(ctx context.Context, ledgerID uint64) (ports.LedgerPoll, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reachable(ctx); err != nil {
		return ports.LedgerPoll{}, err
	}
	poll, ok := l.polls[ledgerID]
	if !ok {
		return ports.LedgerPoll{}, domainerrors.ErrPollNotFound
	}
	return ports.LedgerPoll{
		Question:   poll.question,
		Options:    append([]string(nil), poll.options...),
		Tallies:    append([]uint64(nil), poll.tallies...),
		Creator:    poll.creator,
		EndTime:    poll.endTime,
		Active:     poll.active && l.now().Before(poll.endTime),
		TotalVotes: poll.totalVotes,
	}, nil
}

func (l *Ledger) HasVoted(ctx context.Context, ledgerID uint64, voter string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.reachable(ctx); err != nil {
		return false, err
	}
	poll, ok := l.polls[ledgerID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	return poll.voters[strings.ToLower(strings.TrimSpace(voter))], nil
}

// AdjustTally mutates ledger state directly, bypassing vote bookkeeping.
// Tests use it to manufacture drift between the ledger and the local store.
func (l *Ledger) AdjustTally(ledgerID uint64, optionIndex int, delta uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	poll, ok := l.polls[ledgerID]
	if !ok || optionIndex < 0 || optionIndex >= len(poll.tallies) {
		return
	}
	poll.tallies[optionIndex] += delta
	poll.totalVotes += delta
}

// reachable mirrors the real client: a canceled context means the call never
// reached the chain with certainty, which is unavailability, not rejection.
func (l *Ledger) reachable(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", domainerrors.ErrLedgerUnavailable, err)
	}
	return l.failure
}

func (l *Ledger) now() time.Time {
	if l.clock != nil {
		return l.clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (l *Ledger) newTxRef() string {
	l.txSeq++
	return fmt.Sprintf("0x%064x", l.txSeq)
}
