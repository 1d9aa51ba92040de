package commands

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	application "agora/contexts/governance/poll-engine/application"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"
)

const (
	minPollOptions         = 2
	maxPollOptions         = 10
	minPollDurationMinutes = 1
	maxPollDurationMinutes = 30 * 24 * 60

	// ledgerSubmitTimeout bounds one ledger submission end to end. The
	// operation is detached from the request context before submitting, so
	// this is the only deadline that applies to the chain call.
	ledgerSubmitTimeout = 5 * time.Minute
)

// CreatePollCommand is the write-model input for poll creation.
type CreatePollCommand struct {
	CreatorID       string
	IdempotencyKey  string
	Question        string
	Options         []string
	DurationMinutes int64
}

// CreatePollResult returns the final poll state plus the replay marker the
// transport layer maps to API semantics.
type CreatePollResult struct {
	Poll     entities.Poll
	TxRef    string
	Replayed bool
}

// createPollPayload is the write-ahead payload the sweeper replays from when
// a crash separates the ledger confirmation from the local write.
type createPollPayload struct {
	CreatorID       string   `json:"creator_id"`
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationMinutes int64    `json:"duration_minutes"`
}

// PollUseCase orchestrates poll creation: validate, open the write-ahead
// record, submit to the ledger, persist locally, finalize. A poll row only
// ever exists after the ledger confirmed the creation.
type PollUseCase struct {
	Polls      ports.PollRepository
	Operations ports.OperationStore
	Ledger     ports.Ledger
	Outbox     ports.OutboxWriter
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Logger     *slog.Logger
}

func (uc PollUseCase) CreatePoll(ctx context.Context, cmd CreatePollCommand) (CreatePollResult, error) {
	logger := application.ResolveLogger(uc.Logger)
	creatorID := strings.TrimSpace(cmd.CreatorID)
	logger.Info("poll create processing started",
		"event", "poll_create_started",
		"module", "governance/poll-engine",
		"layer", "application",
		"creator_id", creatorID,
	)

	question, options, err := normalizePollInput(cmd)
	if err != nil {
		logger.Warn("poll create validation failed",
			"event", "poll_create_validation_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"creator_id", creatorID,
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}
	if strings.TrimSpace(cmd.IdempotencyKey) == "" {
		return CreatePollResult{}, domainerrors.ErrIdempotencyKeyRequired
	}

	now := uc.now()
	key := "create-poll:" + strings.TrimSpace(cmd.IdempotencyKey)
	payload := createPollPayload{
		CreatorID:       creatorID,
		Question:        question,
		Options:         options,
		DurationMinutes: cmd.DurationMinutes,
	}
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return CreatePollResult{}, err
	}
	requestHash := hashPayload(rawPayload)

	record, isNew, err := uc.Operations.Begin(ctx, key, entities.OperationCreatePoll, requestHash, rawPayload, now)
	if err != nil {
		logger.Error("poll create begin failed",
			"event", "poll_create_begin_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}
	if !isNew {
		if record.RequestHash != requestHash {
			return CreatePollResult{}, domainerrors.ErrIdempotencyConflict
		}
		switch record.State {
		case entities.OperationSucceeded:
			poll, err := uc.Polls.GetPoll(ctx, record.PollID)
			if err != nil {
				return CreatePollResult{}, err
			}
			logger.Info("poll create replayed",
				"event", "poll_create_replayed",
				"module", "governance/poll-engine",
				"layer", "application",
				"operation_key", key,
				"poll_id", poll.PollID,
			)
			return CreatePollResult{Poll: poll, TxRef: record.TxRef, Replayed: true}, nil
		default:
			// A concurrent or crashed attempt owns the ledger submission.
			// Resubmitting here could double-create; the caller retries
			// later or the sweeper resolves the record.
			return CreatePollResult{}, domainerrors.ErrOperationInFlight
		}
	}

	// The write-ahead record is open: from here the operation runs to
	// completion server-side even if the client goes away. A client
	// disconnect mid-confirmation must not abandon a transaction that may
	// already be on chain, so the detach happens before the submit, with a
	// server-side deadline standing in for the request's.
	ctx = context.WithoutCancel(ctx)
	submitCtx, cancel := context.WithTimeout(ctx, ledgerSubmitTimeout)
	created, err := uc.Ledger.SubmitCreatePoll(submitCtx, question, options, cmd.DurationMinutes)
	cancel()
	if err != nil {
		return CreatePollResult{}, uc.handleLedgerFailure(ctx, logger, key, "poll_create", err, now)
	}

	if err := uc.Operations.ConfirmLedger(ctx, key, created.LedgerID, created.TxRef, uc.now()); err != nil {
		logger.Error("poll create ledger confirmation write failed",
			"event", "poll_create_confirm_write_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"ledger_id", created.LedgerID,
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}

	pollID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return CreatePollResult{}, err
	}
	poll := entities.Poll{
		PollID:      pollID,
		LedgerID:    created.LedgerID,
		Question:    question,
		Options:     newOptions(options),
		CreatorID:   creatorID,
		CreateTxRef: created.TxRef,
		Deadline:    now.Add(time.Duration(cmd.DurationMinutes) * time.Minute),
		Active:      true,
		TotalVotes:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := uc.Polls.CreatePoll(ctx, poll); err != nil {
		// Record stays pending with the tx reference; the sweeper replays
		// this local write from ledger state.
		logger.Error("poll create local persist failed",
			"event", "poll_create_persist_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"ledger_id", created.LedgerID,
			"tx_ref", created.TxRef,
			"error", err.Error(),
		)
		return CreatePollResult{}, err
	}
	if err := uc.appendPollEvent(ctx, "poll.created", poll, now, map[string]any{
		"tx_ref": created.TxRef,
	}); err != nil {
		return CreatePollResult{}, err
	}
	if err := uc.Operations.Complete(ctx, key, ports.OperationResult{PollID: poll.PollID}, uc.now()); err != nil {
		return CreatePollResult{}, err
	}

	logger.Info("poll created",
		"event", "poll_created",
		"module", "governance/poll-engine",
		"layer", "application",
		"poll_id", poll.PollID,
		"ledger_id", poll.LedgerID,
		"tx_ref", poll.CreateTxRef,
		"creator_id", poll.CreatorID,
		"deadline", poll.Deadline.Format(time.RFC3339),
	)
	return CreatePollResult{Poll: poll, TxRef: created.TxRef}, nil
}

// handleLedgerFailure finalizes or preserves the write-ahead record depending
// on the failure class. Rejections are terminal; unavailability keeps the
// record pending so a later attempt or the sweeper can resolve it.
func (uc PollUseCase) handleLedgerFailure(
	ctx context.Context,
	logger *slog.Logger,
	key string,
	operation string,
	err error,
	now time.Time,
) error {
	if errors.Is(err, domainerrors.ErrLedgerRejected) {
		logger.Warn("ledger rejected operation",
			"event", operation+"_ledger_rejected",
			"module", "governance/poll-engine",
			"layer", "application",
			"operation_key", key,
			"reason", err.Error(),
		)
		if failErr := uc.Operations.Fail(ctx, key, err.Error(), now); failErr != nil {
			logger.Error("operation record fail-finalize failed",
				"event", operation+"_fail_write_failed",
				"module", "governance/poll-engine",
				"layer", "application",
				"operation_key", key,
				"error", failErr.Error(),
			)
		}
		return err
	}
	logger.Error("ledger unavailable",
		"event", operation+"_ledger_unavailable",
		"module", "governance/poll-engine",
		"layer", "application",
		"operation_key", key,
		"error", err.Error(),
	)
	// The ledger was never reached with certainty; the record stays pending
	// and the sweeper decides whether a retry is safe.
	return err
}

func (uc PollUseCase) appendPollEvent(
	ctx context.Context,
	eventType string,
	poll entities.Poll,
	occurredAt time.Time,
	metadata map[string]any,
) error {
	if uc.Outbox == nil {
		return nil
	}
	eventID, err := uc.IDGen.NewID(ctx)
	if err != nil {
		return err
	}
	data := map[string]any{
		"poll_id":     poll.PollID,
		"ledger_id":   poll.LedgerID,
		"question":    poll.Question,
		"creator_id":  poll.CreatorID,
		"total_votes": poll.TotalVotes,
		"active":      poll.Active,
		"deadline":    poll.Deadline.UTC().Format(time.RFC3339),
		"occurred_at": occurredAt.UTC().Format(time.RFC3339),
	}
	for key, value := range metadata {
		data[key] = value
	}
	envelope, err := newPollEnvelope(eventID, eventType, poll.PollID, occurredAt, data)
	if err != nil {
		return err
	}
	return uc.Outbox.AppendOutbox(ctx, envelope)
}

func (uc PollUseCase) now() time.Time {
	now := time.Now().UTC()
	if uc.Clock != nil {
		now = uc.Clock.Now().UTC()
	}
	return now
}

func normalizePollInput(cmd CreatePollCommand) (string, []string, error) {
	question := strings.TrimSpace(cmd.Question)
	if question == "" {
		return "", nil, domainerrors.ErrInvalidPollInput
	}
	if len(cmd.Options) < minPollOptions || len(cmd.Options) > maxPollOptions {
		return "", nil, domainerrors.ErrInvalidPollInput
	}
	options := make([]string, 0, len(cmd.Options))
	for _, option := range cmd.Options {
		option = strings.TrimSpace(option)
		if option == "" {
			return "", nil, domainerrors.ErrInvalidPollInput
		}
		options = append(options, option)
	}
	if cmd.DurationMinutes < minPollDurationMinutes || cmd.DurationMinutes > maxPollDurationMinutes {
		return "", nil, domainerrors.ErrInvalidPollInput
	}
	return question, options, nil
}

func newOptions(texts []string) []entities.Option {
	options := make([]entities.Option, 0, len(texts))
	for _, text := range texts {
		options = append(options, entities.Option{Text: text})
	}
	return options
}

func hashPayload(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
