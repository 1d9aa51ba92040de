package commands_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"agora/contexts/governance/poll-engine/adapters/memory"
	"agora/contexts/governance/poll-engine/application/commands"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
)

type fixture struct {
	store  *memory.Store
	ledger *memory.Ledger
	polls  commands.PollUseCase
	votes  commands.VoteUseCase
}

func newFixture() fixture {
	store := memory.NewStore(nil)
	ledger := memory.NewLedger(store)
	return fixture{
		store:  store,
		ledger: ledger,
		polls: commands.PollUseCase{
			Polls:      store,
			Operations: store,
			Ledger:     ledger,
			Outbox:     store,
			Clock:      store,
			IDGen:      store,
		},
		votes: commands.VoteUseCase{
			Polls:      store,
			Votes:      store,
			Operations: store,
			Ledger:     ledger,
			Outbox:     store,
			Clock:      store,
			IDGen:      store,
		},
	}
}

func validCreateCommand(key string) commands.CreatePollCommand {
	return commands.CreatePollCommand{
		CreatorID:       "user-1",
		IdempotencyKey:  key,
		Question:        "Coffee or tea?",
		Options:         []string{"Coffee", "Tea"},
		DurationMinutes: 60,
	}
}

func TestCreatePollValidation(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*commands.CreatePollCommand)
		want   error
	}{
		{"empty question", func(c *commands.CreatePollCommand) { c.Question = "  " }, domainerrors.ErrInvalidPollInput},
		{"one option", func(c *commands.CreatePollCommand) { c.Options = []string{"Coffee"} }, domainerrors.ErrInvalidPollInput},
		{"too many options", func(c *commands.CreatePollCommand) {
			c.Options = make([]string, 11)
			for i := range c.Options {
				c.Options[i] = fmt.Sprintf("option-%d", i)
			}
		}, domainerrors.ErrInvalidPollInput},
		{"blank option", func(c *commands.CreatePollCommand) { c.Options = []string{"Coffee", " "} }, domainerrors.ErrInvalidPollInput},
		{"zero duration", func(c *commands.CreatePollCommand) { c.DurationMinutes = 0 }, domainerrors.ErrInvalidPollInput},
		{"duration beyond thirty days", func(c *commands.CreatePollCommand) { c.DurationMinutes = 30*24*60 + 1 }, domainerrors.ErrInvalidPollInput},
		{"missing idempotency key", func(c *commands.CreatePollCommand) { c.IdempotencyKey = "" }, domainerrors.ErrIdempotencyKeyRequired},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cmd := validCreateCommand("idem-validation")
			tc.mutate(&cmd)
			_, err := fx.polls.CreatePoll(ctx, cmd)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCreatePollReplaySameKey(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	first, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-1"))
	if err != nil {
		t.Fatalf("create poll failed: %v", err)
	}
	if first.Poll.PollID == "" || first.Poll.LedgerID == 0 || first.TxRef == "" {
		t.Fatalf("poll missing identifiers: %+v", first)
	}
	if !first.Poll.Active || first.Poll.TotalVotes != 0 {
		t.Fatalf("unexpected initial poll state: %+v", first.Poll)
	}

	for i := 0; i < 3; i++ {
		replay, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-1"))
		if err != nil {
			t.Fatalf("replay %d failed: %v", i, err)
		}
		if !replay.Replayed {
			t.Fatalf("replay %d not marked as replayed", i)
		}
		if replay.Poll.PollID != first.Poll.PollID {
			t.Fatalf("replay %d returned a different poll: %s vs %s", i, replay.Poll.PollID, first.Poll.PollID)
		}
	}

	state, err := fx.ledger.ReadPoll(ctx, first.Poll.LedgerID)
	if err != nil {
		t.Fatalf("read ledger poll: %v", err)
	}
	if state.Question != "Coffee or tea?" || len(state.Options) != 2 {
		t.Fatalf("ledger holds unexpected poll: %+v", state)
	}
}

func TestCreatePollIdempotencyConflict(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	if _, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-2")); err != nil {
		t.Fatalf("create poll failed: %v", err)
	}

	altered := validCreateCommand("idem-2")
	altered.Question = "Tea or coffee?"
	_, err := fx.polls.CreatePoll(ctx, altered)
	if !errors.Is(err, domainerrors.ErrIdempotencyConflict) {
		t.Fatalf("expected idempotency conflict, got %v", err)
	}
}

func TestCreatePollLedgerRejectionFailsRecordAndAllowsRetry(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	fx.ledger.FailWith(&domainerrors.RejectionError{Reason: "poll limit reached"})
	_, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-3"))
	if !errors.Is(err, domainerrors.ErrLedgerRejected) {
		t.Fatalf("expected ledger rejection, got %v", err)
	}
	record, ok := fx.store.GetOperation(ctx, "create-poll:idem-3")
	if !ok || record.State != entities.OperationFailed {
		t.Fatalf("expected failed record, got %+v (found=%v)", record, ok)
	}

	fx.ledger.FailWith(nil)
	result, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-3"))
	if err != nil {
		t.Fatalf("retry after rejection failed: %v", err)
	}
	if result.Replayed {
		t.Fatal("retry after a failed record must run fresh, not replay")
	}
}

func TestCreatePollLedgerUnavailableKeepsRecordPending(t *testing.T) {
	fx := newFixture()
	ctx := context.Background()

	fx.ledger.FailWith(fmt.Errorf("%w: connection refused", domainerrors.ErrLedgerUnavailable))
	_, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-4"))
	if !errors.Is(err, domainerrors.ErrLedgerUnavailable) {
		t.Fatalf("expected ledger unavailable, got %v", err)
	}

	record, ok := fx.store.GetOperation(ctx, "create-poll:idem-4")
	if !ok || record.State != entities.OperationPending {
		t.Fatalf("expected pending record for the sweeper, got %+v (found=%v)", record, ok)
	}

	// While the record is pending only the sweeper may resolve it.
	fx.ledger.FailWith(nil)
	_, err = fx.polls.CreatePoll(ctx, validCreateCommand("idem-4"))
	if !errors.Is(err, domainerrors.ErrOperationInFlight) {
		t.Fatalf("expected operation in flight, got %v", err)
	}
}

func TestCreatePollSurvivesClientDisconnect(t *testing.T) {
	fx := newFixture()

	// The fake ledger refuses canceled contexts the way the real client
	// does, so a submit still riding the request context would fail here.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := fx.polls.CreatePoll(ctx, validCreateCommand("idem-gone"))
	if err != nil {
		t.Fatalf("create poll after disconnect failed: %v", err)
	}
	if result.Poll.LedgerID == 0 || result.TxRef == "" {
		t.Fatalf("poll missing ledger identifiers: %+v", result)
	}

	record, ok := fx.store.GetOperation(context.Background(), "create-poll:idem-gone")
	if !ok || record.State != entities.OperationSucceeded {
		t.Fatalf("expected succeeded record, got %+v (found=%v)", record, ok)
	}
}
