package commands_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"agora/contexts/governance/poll-engine/adapters/memory"
	"agora/contexts/governance/poll-engine/application/commands"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"

	"github.com/brianvoe/gofakeit/v7"
)

func mustCreatePoll(t *testing.T, fx fixture, key string) entities.Poll {
	t.Helper()
	result, err := fx.polls.CreatePoll(context.Background(), validCreateCommand(key))
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	return result.Poll
}

func voteCommand(pollID string, voter string, option int) commands.CastVoteCommand {
	return commands.CastVoteCommand{
		PollID:        pollID,
		VoterID:       voter,
		WalletAddress: "0x00000000000000000000000000000000000000" + voter[len(voter)-2:],
		OptionIndex:   option,
	}
}

func TestCastVoteThenRetrySameOptionReplays(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	poll := mustCreatePoll(t, fx, "idem-vote-poll")

	first, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-42", 0))
	if err != nil {
		t.Fatalf("cast vote failed: %v", err)
	}
	if first.Replayed {
		t.Fatal("first vote must not be a replay")
	}
	if first.Poll.TotalVotes != 1 || first.Poll.Options[0].Votes != 1 {
		t.Fatalf("unexpected tallies after vote: %+v", first.Poll)
	}
	if first.Vote.TxRef == "" {
		t.Fatal("vote missing ledger tx reference")
	}

	// Same voter, same option: idempotent replay, no double count.
	second, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-42", 0))
	if err != nil {
		t.Fatalf("retry vote failed: %v", err)
	}
	if !second.Replayed {
		t.Fatal("retry must be marked as replayed")
	}
	if second.Vote.VoteID != first.Vote.VoteID {
		t.Fatalf("retry returned a different vote: %s vs %s", second.Vote.VoteID, first.Vote.VoteID)
	}
	if second.Poll.TotalVotes != 1 {
		t.Fatalf("retry changed tallies: %+v", second.Poll)
	}

	// Same voter, different option: user-visible duplicate failure.
	_, err = fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-42", 1))
	if !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}

	// Another voter still gets through.
	third, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-43", 1))
	if err != nil {
		t.Fatalf("second voter failed: %v", err)
	}
	if third.Poll.TotalVotes != 2 || third.Poll.Options[1].Votes != 1 {
		t.Fatalf("unexpected tallies after second voter: %+v", third.Poll)
	}
}

func TestCastVoteOptionBounds(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	poll := mustCreatePoll(t, fx, "idem-bounds")

	_, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-1", len(poll.Options)))
	if !errors.Is(err, domainerrors.ErrInvalidOption) {
		t.Fatalf("expected invalid option for index == len(options), got %v", err)
	}
	_, err = fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-1", -1))
	if !errors.Is(err, domainerrors.ErrInvalidOption) {
		t.Fatalf("expected invalid option for negative index, got %v", err)
	}
}

func TestCastVoteUnknownPoll(t *testing.T) {
	fx := newFixture()
	_, err := fx.votes.CastVote(context.Background(), voteCommand("missing", "user-1", 0))
	if !errors.Is(err, domainerrors.ErrPollNotFound) {
		t.Fatalf("expected poll not found, got %v", err)
	}
}

func TestCastVoteOnEndedPollSkipsLedger(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	now := time.Now().UTC()

	seeded := entities.Poll{
		PollID:    "poll-expired",
		LedgerID:  99,
		Question:  "Closed already?",
		Options:   []entities.Option{{Text: "Yes"}, {Text: "No"}},
		CreatorID: "user-1",
		Deadline:  now.Add(-time.Minute),
		Active:    true,
		CreatedAt: now.Add(-time.Hour),
		UpdatedAt: now.Add(-time.Hour),
	}
	if err := fx.store.CreatePoll(ctx, seeded); err != nil {
		t.Fatalf("seed poll: %v", err)
	}

	// A reachable ledger is not required to refuse votes on an ended poll.
	fx.ledger.FailWith(fmt.Errorf("%w: node down", domainerrors.ErrLedgerUnavailable))
	_, err := fx.votes.CastVote(ctx, voteCommand("poll-expired", "user-1", 0))
	if !errors.Is(err, domainerrors.ErrPollEnded) {
		t.Fatalf("expected poll ended, got %v", err)
	}

	stored, err := fx.store.GetPoll(ctx, "poll-expired")
	if err != nil {
		t.Fatalf("reload poll: %v", err)
	}
	if stored.Active {
		t.Fatal("write path should have flipped the stale active flag")
	}

	// The flip that transitions the poll owns the lifecycle event; a second
	// rejected vote sees an already-closed poll and must not emit another.
	_, err = fx.votes.CastVote(ctx, voteCommand("poll-expired", "user-2", 0))
	if !errors.Is(err, domainerrors.ErrPollEnded) {
		t.Fatalf("expected poll ended on retry, got %v", err)
	}
	pending, err := fx.store.ListPendingOutbox(ctx, 100)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	endedEvents := 0
	for _, msg := range pending {
		if msg.EventType == "poll.ended" {
			endedEvents++
		}
	}
	if endedEvents != 1 {
		t.Fatalf("expected exactly one poll.ended event, got %d", endedEvents)
	}
}

func TestCastVoteLedgerUnavailableLeavesPendingRecord(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	poll := mustCreatePoll(t, fx, "idem-unavailable")

	fx.ledger.FailWith(fmt.Errorf("%w: timeout", domainerrors.ErrLedgerUnavailable))
	_, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-7", 0))
	if !errors.Is(err, domainerrors.ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}

	key := fmt.Sprintf("cast-vote:%s:%s", poll.PollID, "user-7")
	record, ok := fx.store.GetOperation(ctx, key)
	if !ok || record.State != entities.OperationPending {
		t.Fatalf("expected pending record, got %+v (found=%v)", record, ok)
	}
	if record.LedgerConfirmed() {
		t.Fatal("record must not carry a tx reference when the ledger never confirmed")
	}

	fx.ledger.FailWith(nil)
	_, err = fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-7", 0))
	if !errors.Is(err, domainerrors.ErrOperationInFlight) {
		t.Fatalf("expected operation in flight while pending, got %v", err)
	}
}

func TestCastVoteSurvivesClientDisconnect(t *testing.T) {
	fx := newFixture()
	poll := mustCreatePoll(t, fx, "idem-disconnect")

	// The fake ledger refuses canceled contexts the way the real client
	// does, so a submit still riding the request context would fail here.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, "user-55", 0))
	if err != nil {
		t.Fatalf("vote after disconnect failed: %v", err)
	}
	if result.Vote.TxRef == "" {
		t.Fatal("vote missing ledger tx reference")
	}

	key := fmt.Sprintf("cast-vote:%s:%s", poll.PollID, "user-55")
	record, ok := fx.store.GetOperation(context.Background(), key)
	if !ok || record.State != entities.OperationSucceeded {
		t.Fatalf("expected succeeded record, got %+v (found=%v)", record, ok)
	}
}

// racedVoteLedger lands another attempt's vote row mid-submit and then
// refuses the duplicate, reproducing a concurrent attempt winning the race
// between the local duplicate check and the ledger call.
type racedVoteLedger struct {
	*memory.Ledger
	store *memory.Store
	vote  entities.Vote
}

func (l *racedVoteLedger) SubmitVote(ctx context.Context, _ uint64, _ int, _ string) (string, error) {
	if _, err := l.store.RecordVote(ctx, l.vote); err != nil {
		return "", err
	}
	return "", &domainerrors.RejectionError{Reason: "already voted"}
}

func TestCastVoteDuplicateRejectionResolvesToExistingVote(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	poll := mustCreatePoll(t, fx, "idem-raced")

	raced := entities.Vote{
		VoteID:      "vote-raced",
		PollID:      poll.PollID,
		VoterID:     "user-9",
		OptionIndex: 0,
		TxRef:       "0xaaa",
		CastAt:      time.Now().UTC(),
	}
	uc := fx.votes
	uc.Ledger = &racedVoteLedger{Ledger: fx.ledger, store: fx.store, vote: raced}

	result, err := uc.CastVote(ctx, voteCommand(poll.PollID, "user-9", 0))
	if err != nil {
		t.Fatalf("expected the raced vote to resolve as a replay, got %v", err)
	}
	if !result.Replayed {
		t.Fatal("resolved vote must be marked as replayed")
	}
	if result.Vote.VoteID != raced.VoteID {
		t.Fatalf("resolved to a different vote: %s", result.Vote.VoteID)
	}

	// The operation finished with a recorded vote, so the record must read
	// as succeeded rather than failed.
	key := fmt.Sprintf("cast-vote:%s:%s", poll.PollID, "user-9")
	record, ok := fx.store.GetOperation(ctx, key)
	if !ok || record.State != entities.OperationSucceeded {
		t.Fatalf("expected succeeded record, got %+v (found=%v)", record, ok)
	}
	if record.VoteID != raced.VoteID {
		t.Fatalf("record points at the wrong vote: %q", record.VoteID)
	}
}

func TestCastVoteUntracedDuplicateFailsRecord(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()
	poll := mustCreatePoll(t, fx, "idem-untraced")

	// The wallet voted on chain outside this service; no local row exists.
	cmd := voteCommand(poll.PollID, "user-9", 0)
	if _, err := fx.ledger.SubmitVote(ctx, poll.LedgerID, 1, cmd.WalletAddress); err != nil {
		t.Fatalf("seed ledger vote: %v", err)
	}

	_, err := fx.votes.CastVote(ctx, cmd)
	if !errors.Is(err, domainerrors.ErrAlreadyVoted) {
		t.Fatalf("expected already voted, got %v", err)
	}

	key := fmt.Sprintf("cast-vote:%s:%s", poll.PollID, "user-9")
	record, ok := fx.store.GetOperation(ctx, key)
	if !ok || record.State != entities.OperationFailed {
		t.Fatalf("expected failed record, got %+v (found=%v)", record, ok)
	}
}

func TestConcurrentVotesSameVoterCountOnce(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	gofakeit.Seed(11)
	cmd := validCreateCommand("idem-concurrent")
	cmd.Question = gofakeit.Question()
	result, err := fx.polls.CreatePoll(ctx, cmd)
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	poll := result.Poll
	voter := gofakeit.Username()

	const attempts = 16
	var wg sync.WaitGroup
	outcomes := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.votes.CastVote(ctx, voteCommand(poll.PollID, voter, 0))
			outcomes <- err
		}()
	}
	wg.Wait()
	close(outcomes)

	successes := 0
	for err := range outcomes {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domainerrors.ErrAlreadyVoted),
			errors.Is(err, domainerrors.ErrOperationInFlight),
			errors.Is(err, domainerrors.ErrDuplicateVote):
		default:
			t.Fatalf("unexpected concurrent outcome: %v", err)
		}
	}
	if successes == 0 {
		t.Fatal("at least one attempt must succeed")
	}

	final, err := fx.store.GetPoll(ctx, poll.PollID)
	if err != nil {
		t.Fatalf("reload poll: %v", err)
	}
	if final.TotalVotes != 1 || final.Options[0].Votes != 1 {
		t.Fatalf("duplicate votes leaked into tallies: %+v", final)
	}
	if _, found, _ := fx.store.GetVoteByIdentity(ctx, poll.PollID, voter); !found {
		t.Fatal("vote row missing after concurrent attempts")
	}
}
