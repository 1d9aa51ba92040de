package workers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	application "agora/contexts/governance/poll-engine/application"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"
)

// Sweeper is the reconciliation pass between the ledger and the local store.
// Each run closes expired polls, resolves write-ahead records stranded in
// pending by a crash or disconnect, and spot-checks local tallies against the
// ledger. The ledger always wins on conflict; the sweeper never submits to it.
type Sweeper struct {
	Polls          ports.PollRepository
	Votes          ports.VoteRepository
	Operations     ports.OperationStore
	Ledger         ports.Ledger
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	PendingAge     time.Duration
	BatchSize      int
	DriftCheckSize int
	Logger         *slog.Logger
}

// RunOnce executes all three phases. A failing item is logged and skipped so
// one poisoned record cannot stall the rest of the sweep; phase-level errors
// are joined and reported to the run loop.
func (s Sweeper) RunOnce(ctx context.Context) error {
	logger := application.ResolveLogger(s.Logger)
	logger.Info("reconciliation sweep started",
		"event", "sweep_started",
		"module", "governance/poll-engine",
		"layer", "worker",
	)
	err := errors.Join(
		s.closeExpiredPolls(ctx, logger),
		s.resolvePendingOperations(ctx, logger),
		s.checkTallyDrift(ctx, logger),
	)
	if err != nil {
		return err
	}
	logger.Info("reconciliation sweep completed",
		"event", "sweep_completed",
		"module", "governance/poll-engine",
		"layer", "worker",
	)
	return nil
}

// closeExpiredPolls enforces the active==false invariant for polls past their
// deadline. The deadline was derived from the ledger-agreed duration, so no
// ledger call is needed.
func (s Sweeper) closeExpiredPolls(ctx context.Context, logger *slog.Logger) error {
	now := s.now()
	expired, err := s.Polls.ListExpiredActive(ctx, now, s.batchSize())
	if err != nil {
		logger.Error("expired poll listing failed",
			"event", "sweep_list_expired_failed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	for _, poll := range expired {
		changed, err := s.Polls.MarkEnded(ctx, poll.PollID, now)
		if err != nil {
			logger.Error("poll close failed",
				"event", "sweep_poll_close_failed",
				"module", "governance/poll-engine",
				"layer", "worker",
				"poll_id", poll.PollID,
				"error", err.Error(),
			)
			continue
		}
		if !changed {
			continue
		}
		s.appendEvent(ctx, logger, "poll.ended", poll.PollID, map[string]any{
			"poll_id":     poll.PollID,
			"ledger_id":   poll.LedgerID,
			"deadline":    poll.Deadline.UTC().Format(time.RFC3339),
			"total_votes": poll.TotalVotes,
		})
		logger.Info("poll closed",
			"event", "sweep_poll_closed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"poll_id", poll.PollID,
			"ledger_id", poll.LedgerID,
		)
	}
	return nil
}

// resolvePendingOperations repairs the crash window between ledger
// confirmation and local persistence. Records carrying a tx reference are
// replayed locally from authoritative ledger state, exactly once; records the
// ledger shows no trace of are failed so a retry becomes safe.
func (s Sweeper) resolvePendingOperations(ctx context.Context, logger *slog.Logger) error {
	now := s.now()
	stale, err := s.Operations.ListStalePending(ctx, now.Add(-s.pendingAge()), s.batchSize())
	if err != nil {
		logger.Error("stale pending listing failed",
			"event", "sweep_list_pending_failed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	for _, record := range stale {
		var resolveErr error
		switch record.Kind {
		case entities.OperationCreatePoll:
			resolveErr = s.resolvePendingCreate(ctx, logger, record)
		case entities.OperationCastVote:
			resolveErr = s.resolvePendingVote(ctx, logger, record)
		default:
			resolveErr = s.Operations.Fail(ctx, record.Key, "unknown operation kind", s.now())
		}
		if resolveErr != nil {
			logger.Error("pending operation resolution failed",
				"event", "sweep_resolve_failed",
				"module", "governance/poll-engine",
				"layer", "worker",
				"operation_key", record.Key,
				"operation_kind", string(record.Kind),
				"error", resolveErr.Error(),
			)
		}
	}
	return nil
}

func (s Sweeper) resolvePendingCreate(ctx context.Context, logger *slog.Logger, record entities.OperationRecord) error {
	now := s.now()
	if !record.LedgerConfirmed() {
		// The ledger submission never reached finality before the crash.
		// Creating again is safe; an orphaned ledger entry, if one exists,
		// carries no local state.
		logger.Info("unconfirmed create marked failed",
			"event", "sweep_create_unconfirmed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"operation_key", record.Key,
		)
		return s.Operations.Fail(ctx, record.Key, "ledger confirmation never recorded", now)
	}

	if existing, found, err := s.Polls.GetPollByLedgerID(ctx, record.LedgerID); err != nil {
		return err
	} else if found {
		// Local write landed; only the finalize was lost.
		return s.Operations.Complete(ctx, record.Key, ports.OperationResult{PollID: existing.PollID}, now)
	}

	var payload struct {
		CreatorID string `json:"creator_id"`
	}
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return err
	}
	state, err := s.Ledger.ReadPoll(ctx, record.LedgerID)
	if err != nil {
		return err
	}

	pollID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	options := make([]entities.Option, 0, len(state.Options))
	for i, text := range state.Options {
		votes := 0
		if i < len(state.Tallies) {
			votes = int(state.Tallies[i])
		}
		options = append(options, entities.Option{Text: text, Votes: votes})
	}
	poll := entities.Poll{
		PollID:      pollID,
		LedgerID:    record.LedgerID,
		Question:    state.Question,
		Options:     options,
		CreatorID:   payload.CreatorID,
		CreateTxRef: record.TxRef,
		Deadline:    state.EndTime.UTC(),
		Active:      state.Active && now.Before(state.EndTime.UTC()),
		TotalVotes:  int(state.TotalVotes),
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   now,
	}
	if err := s.Polls.CreatePoll(ctx, poll); err != nil {
		return err
	}
	s.appendEvent(ctx, logger, "poll.created", poll.PollID, map[string]any{
		"poll_id":    poll.PollID,
		"ledger_id":  poll.LedgerID,
		"question":   poll.Question,
		"creator_id": poll.CreatorID,
		"tx_ref":     poll.CreateTxRef,
		"recovered":  true,
	})
	logger.Info("crashed poll create replayed",
		"event", "sweep_create_replayed",
		"module", "governance/poll-engine",
		"layer", "worker",
		"operation_key", record.Key,
		"poll_id", poll.PollID,
		"ledger_id", poll.LedgerID,
	)
	return s.Operations.Complete(ctx, record.Key, ports.OperationResult{PollID: poll.PollID}, now)
}

func (s Sweeper) resolvePendingVote(ctx context.Context, logger *slog.Logger, record entities.OperationRecord) error {
	now := s.now()
	var payload struct {
		PollID        string `json:"poll_id"`
		VoterID       string `json:"voter_id"`
		WalletAddress string `json:"wallet_address"`
		OptionIndex   int    `json:"option_index"`
	}
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return err
	}

	if existing, found, err := s.Votes.GetVoteByIdentity(ctx, payload.PollID, payload.VoterID); err != nil {
		return err
	} else if found {
		return s.Operations.Complete(ctx, record.Key, ports.OperationResult{PollID: payload.PollID, VoteID: existing.VoteID}, now)
	}

	txRef := record.TxRef
	if !record.LedgerConfirmed() {
		// No recorded confirmation. The ledger itself is the tie-breaker:
		// hasVoted true means the submission landed and only the local half
		// is missing; false means there is no trace and a retry is safe.
		poll, err := s.Polls.GetPoll(ctx, payload.PollID)
		if err != nil {
			return err
		}
		voted, err := s.Ledger.HasVoted(ctx, poll.LedgerID, payload.WalletAddress)
		if err != nil {
			return err
		}
		if !voted {
			logger.Info("untraced vote marked failed",
				"event", "sweep_vote_untraced",
				"module", "governance/poll-engine",
				"layer", "worker",
				"operation_key", record.Key,
			)
			return s.Operations.Fail(ctx, record.Key, "no ledger trace of vote", now)
		}
	}

	voteID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	vote := entities.Vote{
		VoteID:      voteID,
		PollID:      payload.PollID,
		VoterID:     payload.VoterID,
		OptionIndex: payload.OptionIndex,
		TxRef:       txRef,
		CastAt:      record.CreatedAt,
	}
	updated, err := s.Votes.RecordVote(ctx, vote)
	if err != nil {
		if errors.Is(err, domainerrors.ErrDuplicateVote) {
			existing, found, lookupErr := s.Votes.GetVoteByIdentity(ctx, payload.PollID, payload.VoterID)
			if lookupErr != nil {
				return lookupErr
			}
			if found {
				return s.Operations.Complete(ctx, record.Key, ports.OperationResult{PollID: payload.PollID, VoteID: existing.VoteID}, now)
			}
		}
		return err
	}
	s.appendEvent(ctx, logger, "vote.cast", payload.PollID, map[string]any{
		"poll_id":      payload.PollID,
		"vote_id":      vote.VoteID,
		"voter_id":     vote.VoterID,
		"option_index": vote.OptionIndex,
		"tx_ref":       vote.TxRef,
		"total_votes":  updated.TotalVotes,
		"recovered":    true,
	})
	logger.Info("crashed vote replayed",
		"event", "sweep_vote_replayed",
		"module", "governance/poll-engine",
		"layer", "worker",
		"operation_key", record.Key,
		"poll_id", payload.PollID,
		"vote_id", vote.VoteID,
	)
	return s.Operations.Complete(ctx, record.Key, ports.OperationResult{PollID: payload.PollID, VoteID: vote.VoteID}, now)
}

// checkTallyDrift compares local counters with ledger tallies for a bounded
// batch of open polls and overwrites local state where they diverge.
func (s Sweeper) checkTallyDrift(ctx context.Context, logger *slog.Logger) error {
	limit := s.DriftCheckSize
	if limit <= 0 {
		return nil
	}
	polls, _, err := s.Polls.ListPolls(ctx, ports.PollFilter{Status: "active", Page: 1, Limit: limit})
	if err != nil {
		logger.Error("drift check listing failed",
			"event", "sweep_drift_list_failed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"error", err.Error(),
		)
		return err
	}
	for _, poll := range polls {
		state, err := s.Ledger.ReadPoll(ctx, poll.LedgerID)
		if err != nil {
			logger.Warn("drift check ledger read failed",
				"event", "sweep_drift_read_failed",
				"module", "governance/poll-engine",
				"layer", "worker",
				"poll_id", poll.PollID,
				"ledger_id", poll.LedgerID,
				"error", err.Error(),
			)
			continue
		}
		if len(state.Tallies) != len(poll.Options) {
			logger.Error("ledger option shape mismatch",
				"event", "sweep_drift_shape_mismatch",
				"module", "governance/poll-engine",
				"layer", "worker",
				"poll_id", poll.PollID,
				"ledger_id", poll.LedgerID,
				"local_options", len(poll.Options),
				"ledger_options", len(state.Tallies),
			)
			continue
		}
		if !talliesDiffer(poll, state) {
			continue
		}
		now := s.now()
		corrected := make([]int, len(state.Tallies))
		for i, tally := range state.Tallies {
			corrected[i] = int(tally)
		}
		if err := s.Polls.ReplaceTallies(ctx, poll.PollID, corrected, int(state.TotalVotes), now); err != nil {
			logger.Error("drift correction failed",
				"event", "sweep_drift_correct_failed",
				"module", "governance/poll-engine",
				"layer", "worker",
				"poll_id", poll.PollID,
				"error", err.Error(),
			)
			continue
		}
		s.appendEvent(ctx, logger, "poll.reconciled", poll.PollID, map[string]any{
			"poll_id":            poll.PollID,
			"ledger_id":          poll.LedgerID,
			"local_total_votes":  poll.TotalVotes,
			"ledger_total_votes": state.TotalVotes,
		})
		logger.Warn("tally drift corrected from ledger",
			"event", "sweep_drift_corrected",
			"module", "governance/poll-engine",
			"layer", "worker",
			"poll_id", poll.PollID,
			"ledger_id", poll.LedgerID,
			"local_total_votes", poll.TotalVotes,
			"ledger_total_votes", state.TotalVotes,
		)
	}
	return nil
}

func talliesDiffer(poll entities.Poll, state ports.LedgerPoll) bool {
	if poll.TotalVotes != int(state.TotalVotes) {
		return true
	}
	for i, option := range poll.Options {
		if option.Votes != int(state.Tallies[i]) {
			return true
		}
	}
	return false
}

func (s Sweeper) appendEvent(ctx context.Context, logger *slog.Logger, eventType string, pollID string, data map[string]any) {
	if s.Outbox == nil {
		return
	}
	eventID, err := s.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return
	}
	envelope := ports.EventEnvelope{
		EventID:          eventID,
		EventType:        eventType,
		OccurredAt:       s.now(),
		SourceService:    "poll-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     pollID,
		Data:             payload,
	}
	if err := s.Outbox.AppendOutbox(ctx, envelope); err != nil {
		logger.Warn("sweeper outbox append failed",
			"event", "sweep_outbox_append_failed",
			"module", "governance/poll-engine",
			"layer", "worker",
			"event_type", eventType,
			"poll_id", pollID,
			"error", err.Error(),
		)
	}
}

func (s Sweeper) now() time.Time {
	now := time.Now().UTC()
	if s.Clock != nil {
		now = s.Clock.Now().UTC()
	}
	return now
}

func (s Sweeper) batchSize() int {
	if s.BatchSize <= 0 {
		return 100
	}
	return s.BatchSize
}

func (s Sweeper) pendingAge() time.Duration {
	if s.PendingAge <= 0 {
		return 5 * time.Minute
	}
	return s.PendingAge
}
