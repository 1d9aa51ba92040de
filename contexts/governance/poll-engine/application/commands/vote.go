package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/poll-engine/application"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"
)

// CastVoteCommand is the write-model input for vote submission. VoterID is the
// local account identity; WalletAddress is the identity the ledger tracks.
type CastVoteCommand struct {
	PollID        string
	VoterID       string
	WalletAddress string
	OptionIndex   int
}

// CastVoteResult returns the updated poll, the durable vote record, and a
// replay marker for retried requests that resolved to an existing vote.
type CastVoteResult struct {
	Poll     entities.Poll
	Vote     entities.Vote
	Replayed bool
}

// castVotePayload is the write-ahead payload the sweeper replays from.
type castVotePayload struct {
	PollID        string `json:"poll_id"`
	VoterID       string `json:"voter_id"`
	WalletAddress string `json:"wallet_address"`
	OptionIndex   int    `json:"option_index"`
}

// VoteUseCase orchestrates vote casting. The operation record is keyed by
// (poll, voter) rather than any client-supplied nonce, so differently keyed
// duplicate requests still collapse onto one ledger submission; the storage
// unique index on the vote row is the second line of defense.
type VoteUseCase struct {
	Polls      ports.PollRepository
	Votes      ports.VoteRepository
	Operations ports.OperationStore
	Ledger     ports.Ledger
	Outbox     ports.OutboxWriter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

func voteOperationKey(pollID string, voterID string) string {
	return fmt.Sprintf("cast-vote:%s:%s", strings.TrimSpace(pollID), strings.TrimSpace(voterID))
}

func (uc VoteUseCase) CastVote(ctx context.Context, cmd CastVoteCommand) (CastVoteResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	pollID := strings.TrimSpace(cmd.PollID)
	voterID := strings.TrimSpace(cmd.VoterID)
	logger.Info("vote processing started",
		"event", "vote_started",
		"module", "governance/poll-engine",
		"layer", "application",
		"poll_id", pollID,
		"voter_id", voterID,
		"option_index", cmd.OptionIndex,
	)
	if pollID == "" || voterID == "" {
		return CastVoteResult{}, domainerrors.ErrInvalidPollInput
	}

	poll, err := uc.Polls.GetPoll(ctx, pollID)
	if err != nil {
		return CastVoteResult{}, err
	}

	now := uc.now()
	if poll.Ended(now) {
		if poll.Active {
			// Opportunistic flip; the sweeper owns this invariant but the
			// write path keeps the cache honest when it notices first. When
			// this call is the one that transitions the poll, it also owns
			// the lifecycle event, since the sweeper will never see the poll
			// as active again.
			changed, err := uc.Polls.MarkEnded(ctx, poll.PollID, now)
			if err != nil {
				logger.Warn("opportunistic poll close failed",
					"event", "vote_poll_close_failed",
					"module", "governance/poll-engine",
					"layer", "application",
					"poll_id", poll.PollID,
					"error", err.Error(),
				)
			} else if changed {
				poll.Active = false
				uc.appendPollEndedEvent(ctx, logger, poll, now)
			}
		}
		return CastVoteResult{}, domainerrors.ErrPollEnded
	}
	if !poll.ValidOption(cmd.OptionIndex) {
		return CastVoteResult{}, domainerrors.ErrInvalidOption
	}

	key := voteOperationKey(pollID, voterID)
	payload := castVotePayload{
		PollID:        pollID,
		VoterID:       voterID,
		WalletAddress: strings.TrimSpace(cmd.WalletAddress),
		OptionIndex:   cmd.OptionIndex,
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return CastVoteResult{}, err
	}
	requestHash := hashPayload(rawPayload)

	record, isNew, err := uc.Operations.Begin(ctx, key, entities.OperationCastVote, requestHash, rawPayload, now)
	if err != nil {
		logger.Error("vote begin failed",
			"event", "vote_begin_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}
	if !isNew {
		switch record.State {
		case entities.OperationSucceeded:
			return uc.resolveExistingVote(ctx, logger, poll, record.VoteID, cmd.OptionIndex)
		default:
			// Another request for the same (poll, voter) holds the ledger
			// submission. Waiting out a slow confirmation here would tie up
			// the worker; the client gets a retryable signal instead.
			return CastVoteResult{}, domainerrors.ErrOperationInFlight
		}
	}

	// Begin won the race, but a vote row may already exist from an attempt
	// whose record expired or was repaired out-of-band.
	if existing, found, err := uc.Votes.GetVoteByIdentity(ctx, pollID, voterID); err != nil {
		return CastVoteResult{}, err
	} else if found {
		if err := uc.Operations.Complete(ctx, key, ports.OperationResult{PollID: poll.PollID, VoteID: existing.VoteID}, now); err != nil {
			return CastVoteResult{}, err
		}
		return uc.replayVote(ctx, logger, poll, existing, cmd.OptionIndex)
	}

	// From here the operation runs to completion server-side even if the
	// client goes away: a disconnect mid-confirmation must not abandon a
	// transaction that may already be on chain. The submit gets a server-side
	// deadline in place of the request's.
	ctx = context.WithoutCancel(ctx)
	submitCtx, cancel := context.WithTimeout(ctx, ledgerSubmitTimeout)
	txRef, err := uc.Ledger.SubmitVote(submitCtx, poll.LedgerID, cmd.OptionIndex, payload.WalletAddress)
	cancel()
	if err != nil {
		if errors.Is(err, domainerrors.ErrLedgerRejected) && isAlreadyVotedReason(err.Error()) {
			// The ledger's own duplicate check is authoritative. When a local
			// vote row exists, a concurrent attempt already landed this vote
			// and this request resolves as its replay; the record finalizes
			// as succeeded so it never reads as a failed submission. Only an
			// untraceable duplicate finalizes as failed.
			if existing, found, lookupErr := uc.Votes.GetVoteByIdentity(ctx, pollID, voterID); lookupErr == nil && found {
				if completeErr := uc.Operations.Complete(ctx, key, ports.OperationResult{PollID: poll.PollID, VoteID: existing.VoteID}, uc.now()); completeErr != nil {
					return CastVoteResult{}, completeErr
				}
				return uc.replayVote(ctx, logger, poll, existing, cmd.OptionIndex)
			}
			if failErr := uc.Operations.Fail(ctx, key, err.Error(), now); failErr != nil {
				logger.Error("vote record fail-finalize failed",
					"event", "vote_fail_write_failed",
					"module", "governance/poll-engine",
					"layer", "application",
					"operation_key", key,
					"error", failErr.Error(),
				)
			}
			return CastVoteResult{}, domainerrors.ErrAlreadyVoted
		}
		return CastVoteResult{}, uc.handleVoteLedgerFailure(ctx, logger, poll, key, err, now)
	}

	if err := uc.Operations.ConfirmLedger(ctx, key, poll.LedgerID, txRef, uc.now()); err != nil {
		logger.Error("vote ledger confirmation write failed",
			"event", "vote_confirm_write_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"tx_ref", txRef,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}

	voteID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CastVoteResult{}, err
	}
	vote := entities.Vote{
		VoteID:      voteID,
		PollID:      poll.PollID,
		VoterID:     voterID,
		OptionIndex: cmd.OptionIndex,
		TxRef:       txRef,
		CastAt:      now,
	}
	updated, err := uc.Votes.RecordVote(ctx, vote)
	if err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateVote) {
			// A concurrent attempt slipped past Begin and won the unique
			// index; its row is the vote. No counters were touched.
			existing, found, lookupErr := uc.Votes.GetVoteByIdentity(ctx, pollID, voterID)
			if lookupErr != nil || !found {
				return CastVoteResult{}, domainerrors.ErrAlreadyVoted
			}
			if err := uc.Operations.Complete(ctx, key, ports.OperationResult{PollID: poll.PollID, VoteID: existing.VoteID}, uc.now()); err != nil {
				return CastVoteResult{}, err
			}
			return uc.replayVote(ctx, logger, poll, existing, cmd.OptionIndex)
		}
		// Ledger write landed but the local write did not: the record stays
		// pending with the tx reference and the sweeper replays it.
		logger.Error("vote local persist failed",
			"event", "vote_persist_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"tx_ref", txRef,
			"error", err.Error(),
		)
		return CastVoteResult{}, err
	}

	if err := uc.appendVoteEvent(ctx, "vote.cast", updated, vote, now); err != nil {
		return CastVoteResult{}, err
	}
	if err := uc.Operations.Complete(ctx, key, ports.OperationResult{PollID: poll.PollID, VoteID: vote.VoteID}, uc.now()); err != nil {
		return CastVoteResult{}, err
	}

	logger.Info("vote recorded",
		"event", "vote_recorded",
		"module", "governance/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"vote_id", vote.VoteID,
		"voter_id", voterID,
		"option_index", vote.OptionIndex,
		"tx_ref", txRef,
		"total_votes", updated.TotalVotes,
	)
	return CastVoteResult{Poll: updated, Vote: vote}, nil
}

// resolveExistingVote maps a finalized operation record back onto a response.
// Repeating the identical choice is an idempotent success; asking for a
// different option is the user-visible already-voted failure.
func (uc VoteUseCase) resolveExistingVote(
	ctx context.Context,
	logger *slog.Logger,
	poll entities.Poll,
	voteID string,
	requestedOption int,
) (CastVoteResult, error) {
	vote, err := uc.Votes.GetVote(ctx, voteID)
	if err != nil {
		return CastVoteResult{}, err
	}
	return uc.replayVote(ctx, logger, poll, vote, requestedOption)
}

func (uc VoteUseCase) replayVote(
	ctx context.Context,
	logger *slog.Logger,
	poll entities.Poll,
	vote entities.Vote,
	requestedOption int,
) (CastVoteResult, error) {
	if vote.OptionIndex != requestedOption {
		return CastVoteResult{}, domainerrors.ErrAlreadyVoted
	}
	current, err := uc.Polls.GetPoll(ctx, poll.PollID)
	if err != nil {
		return CastVoteResult{}, err
	}
	logger.Info("vote replayed",
		"event", "vote_replayed",
		"module", "governance/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"vote_id", vote.VoteID,
		"voter_id", vote.VoterID,
	)
	return CastVoteResult{Poll: current, Vote: vote, Replayed: true}, nil
}

func (uc VoteUseCase) handleVoteLedgerFailure(
	ctx context.Context,
	logger *slog.Logger,
	poll entities.Poll,
	key string,
	err error,
	now time.Time,
) error {
	if errors.Is(err, domainerrors.ErrLedgerRejected) {
		reason := err.Error()
		logger.Warn("ledger rejected vote",
			"event", "vote_ledger_rejected",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"poll_id", poll.PollID,
			"reason", reason,
		)
		if failErr := uc.Operations.Fail(ctx, key, reason, now); failErr != nil {
			logger.Error("vote record fail-finalize failed",
				"event", "vote_fail_write_failed",
				"module", "governance/poll-engine",
				"layer", "application",
				"operation_key", key,
				"error", failErr.Error(),
			)
		}
		return err
	}
	logger.Error("ledger unavailable for vote",
		"event", "vote_ledger_unavailable",
		"module", "governance/poll-engine",
		"layer", "application",
		"operation_key", key,
		"poll_id", poll.PollID,
		"error", err.Error(),
	)
	// Pending record survives; the sweeper checks the ledger for a trace
	// before allowing a retry.
	return err
}

// appendPollEndedEvent records the lifecycle transition for a poll this call
// flipped. MarkEnded reports the transition at most once across every flip
// site, so each closed poll produces exactly one such event. Event append
// failures are logged, not surfaced: the vote outcome does not depend on them.
func (uc VoteUseCase) appendPollEndedEvent(ctx context.Context, logger *slog.Logger, poll entities.Poll, now time.Time) {
	if uc.Outbox == nil || uc.IDGen == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	eventID, err := uc.IDGen.NewID(ctx)
	if err == nil {
		var envelope ports.EventEnvelope
		envelope, err = newPollEnvelope(eventID, "poll.ended", poll.PollID, now, map[string]any{
			"poll_id":     poll.PollID,
			"ledger_id":   poll.LedgerID,
			"deadline":    poll.Deadline.UTC().Format(time.RFC3339),
			"total_votes": poll.TotalVotes,
		})
		if err == nil {
			err = uc.Outbox.AppendOutbox(ctx, envelope)
		}
	}
	if err != nil {
		logger.Warn("poll ended event append failed",
			"event", "poll_ended_event_append_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
	}
}

func (uc VoteUseCase) appendVoteEvent(
	ctx context.Context,
	eventType string,
	poll entities.Poll,
	vote entities.Vote,
	occurredAt time.Time,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	envelope, err := newPollEnvelope(eventID, eventType, poll.PollID, occurredAt, map[string]any{
		"poll_id":      poll.PollID,
		"ledger_id":    poll.LedgerID,
		"vote_id":      vote.VoteID,
		"voter_id":     vote.VoterID,
		"option_index": vote.OptionIndex,
		"tx_ref":       vote.TxRef,
		"total_votes":  poll.TotalVotes,
		"occurred_at":  occurredAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc VoteUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func isAlreadyVotedReason(reason string) bool {
	return strings.Contains(strings.ToLower(reason), "already voted")
}
