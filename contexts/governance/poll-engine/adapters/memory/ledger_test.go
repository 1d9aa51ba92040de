package memory_test

import (
	"context"
	"errors"
	"testing"

	"agora/contexts/governance/poll-engine/adapters/memory"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
)

func TestLedgerRejectsBlankQuestion(t *testing.T) {
	ledger := memory.NewLedger(nil)

	for _, question := range []string{"", "   "} {
		_, err := ledger.SubmitCreatePoll(context.Background(), question, []string{"Yes", "No"}, 60)
		if !errors.Is(err, domainerrors.ErrLedgerRejected) {
			t.Fatalf("question %q: expected rejection, got %v", question, err)
		}
		var rejection *domainerrors.RejectionError
		if !errors.As(err, &rejection) {
			t.Fatalf("question %q: expected RejectionError, got %T", question, err)
		}
		if rejection.Reason != "question required" {
			t.Fatalf("question %q: reason = %q", question, rejection.Reason)
		}
	}
}

func TestLedgerRejectsDegeneratePolls(t *testing.T) {
	ledger := memory.NewLedger(nil)
	ctx := context.Background()

	if _, err := ledger.SubmitCreatePoll(ctx, "Coffee or tea?", []string{"Coffee"}, 60); !errors.Is(err, domainerrors.ErrLedgerRejected) {
		t.Fatalf("single option: expected rejection, got %v", err)
	}
	if _, err := ledger.SubmitCreatePoll(ctx, "Coffee or tea?", []string{"Coffee", "Tea"}, 0); !errors.Is(err, domainerrors.ErrLedgerRejected) {
		t.Fatalf("zero duration: expected rejection, got %v", err)
	}
}

func TestLedgerCanceledContextIsUnavailability(t *testing.T) {
	ledger := memory.NewLedger(nil)
	created, err := ledger.SubmitCreatePoll(context.Background(), "Coffee or tea?", []string{"Coffee", "Tea"}, 60)
	if err != nil {
		t.Fatalf("SubmitCreatePoll: %v", err)
	}

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := ledger.SubmitCreatePoll(canceled, "Red or blue?", []string{"Red", "Blue"}, 60); !errors.Is(err, domainerrors.ErrLedgerUnavailable) {
		t.Fatalf("create: expected unavailability, got %v", err)
	}
	if _, err := ledger.SubmitVote(canceled, created.LedgerID, 0, "0xabc"); !errors.Is(err, domainerrors.ErrLedgerUnavailable) {
		t.Fatalf("vote: expected unavailability, got %v", err)
	}
	if _, err := ledger.SubmitVote(canceled, created.LedgerID, 0, "0xabc"); errors.Is(err, domainerrors.ErrLedgerRejected) {
		t.Fatalf("canceled context must never read as a rejection: %v", err)
	}
}
