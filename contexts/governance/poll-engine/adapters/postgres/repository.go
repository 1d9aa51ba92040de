package postgresadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	outboxStatusPending   = "pending"
	outboxStatusPublished = "published"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		db:     db,
		logger: logger,
	}
}

func (r *Repository) CreatePoll(ctx context.Context, poll entities.Poll) error {
	row, err := pollModelFromEntity(poll)
	if err != nil {
		return r.logError("poll_repo_create_poll_encode_failed", err, "poll_id", poll.PollID)
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		if isUniqueViolation(create.Error) {
			return domainerrors.ErrIdempotencyConflict
		}
		return r.logError("poll_repo_create_poll_failed", create.Error, "poll_id", row.ID)
	}
	if create.RowsAffected == 0 {
		// Same id already present, typically a sweeper/command race on the
		// same write-ahead record. Safe to treat as done.
		return nil
	}
	return nil
}

func (r *Repository) GetPoll(ctx context.Context, pollID string) (entities.Poll, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(pollID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, domainerrors.ErrPollNotFound
		}
		return entities.Poll{}, r.logError("poll_repo_get_poll_failed", err, "poll_id", strings.TrimSpace(pollID))
	}
	return row.toEntity()
}

func (r *Repository) GetPollByLedgerID(ctx context.Context, ledgerID uint64) (entities.Poll, bool, error) {
	var row pollModel
	err := r.db.WithContext(ctx).
		Where("ledger_id = ?", ledgerID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Poll{}, false, nil
		}
		return entities.Poll{}, false, r.logError("poll_repo_get_poll_by_ledger_id_failed", err, "ledger_id", ledgerID)
	}
	poll, err := row.toEntity()
	if err != nil {
		return entities.Poll{}, false, err
	}
	return poll, true, nil
}

func (r *Repository) ListPolls(ctx context.Context, filter ports.PollFilter) ([]entities.Poll, int64, error) {
	tx := r.db.WithContext(ctx).Model(&pollModel{})
	switch filter.Status {
	case "active":
		tx = tx.Where("active = ?", true)
	case "ended":
		tx = tx.Where("active = ?", false)
	}
	if creatorID := strings.TrimSpace(filter.CreatorID); creatorID != "" {
		tx = tx.Where("creator_id = ?", creatorID)
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, r.logError("poll_repo_list_polls_count_failed", err)
	}

	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	var rows []pollModel
	if err := tx.Order("created_at DESC, id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, r.logError("poll_repo_list_polls_failed", err)
	}

	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		poll, err := row.toEntity()
		if err != nil {
			return nil, 0, r.logError("poll_repo_list_polls_decode_failed", err, "poll_id", row.ID)
		}
		items = append(items, poll)
	}
	return items, total, nil
}

func (r *Repository) MarkEnded(ctx context.Context, pollID string, endedAt time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&pollModel{}).
		Where("id = ?", strings.TrimSpace(pollID)).
		Where("active = ?", true).
		Updates(map[string]any{
			"active":     false,
			"updated_at": endedAt.UTC(),
		})
	if result.Error != nil {
		return false, r.logError("poll_repo_mark_ended_failed", result.Error, "poll_id", strings.TrimSpace(pollID))
	}
	return result.RowsAffected > 0, nil
}

func (r *Repository) ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]entities.Poll, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []pollModel
	if err := r.db.WithContext(ctx).
		Where("active = ?", true).
		Where("deadline <= ?", now.UTC()).
		Order("deadline ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_expired_active_failed", err)
	}
	items := make([]entities.Poll, 0, len(rows))
	for _, row := range rows {
		poll, err := row.toEntity()
		if err != nil {
			return nil, r.logError("poll_repo_list_expired_decode_failed", err, "poll_id", row.ID)
		}
		items = append(items, poll)
	}
	return items, nil
}

func (r *Repository) ReplaceTallies(
	ctx context.Context,
	pollID string,
	optionVotes []int,
	totalVotes int,
	updatedAt time.Time,
) error {
	pollID = strings.TrimSpace(pollID)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pollModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", pollID).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPollNotFound
			}
			return err
		}
		poll, err := row.toEntity()
		if err != nil {
			return err
		}
		if len(optionVotes) != len(poll.Options) {
			return domainerrors.ErrInvalidPollInput
		}
		for i := range poll.Options {
			poll.Options[i].Votes = optionVotes[i]
		}
		options, err := json.Marshal(poll.Options)
		if err != nil {
			return err
		}
		return tx.Model(&pollModel{}).
			Where("id = ?", pollID).
			Updates(map[string]any{
				"options":     options,
				"total_votes": totalVotes,
				"updated_at":  updatedAt.UTC(),
			}).Error
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotFound) || errors.Is(err, domainerrors.ErrInvalidPollInput) {
			return err
		}
		return r.logError("poll_repo_replace_tallies_failed", err, "poll_id", pollID)
	}
	return nil
}

// RecordVote inserts the vote row and bumps the poll counters in a single
// transaction. The poll row is locked first so concurrent votes serialize;
// the (poll_id, voter_id) unique index is the last line of defense and maps
// to ErrDuplicateVote.
func (r *Repository) RecordVote(ctx context.Context, vote entities.Vote) (entities.Poll, error) {
	var updated entities.Poll
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row pollModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", strings.TrimSpace(vote.PollID)).
			First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domainerrors.ErrPollNotFound
			}
			return err
		}
		poll, err := row.toEntity()
		if err != nil {
			return err
		}
		if !poll.ValidOption(vote.OptionIndex) {
			return domainerrors.ErrInvalidOption
		}

		voteRow := voteModelFromEntity(vote)
		if err := tx.Create(&voteRow).Error; err != nil {
			if isUniqueViolation(err) {
				return domainerrors.ErrDuplicateVote
			}
			return err
		}

		poll.Options[vote.OptionIndex].Votes++
		poll.TotalVotes++
		poll.UpdatedAt = vote.CastAt.UTC()
		options, err := json.Marshal(poll.Options)
		if err != nil {
			return err
		}
		if err := tx.Model(&pollModel{}).
			Where("id = ?", poll.PollID).
			Updates(map[string]any{
				"options":     options,
				"total_votes": poll.TotalVotes,
				"updated_at":  poll.UpdatedAt,
			}).Error; err != nil {
			return err
		}
		updated = poll
		return nil
	})
	if err != nil {
		if errors.Is(err, domainerrors.ErrPollNotFound) ||
			errors.Is(err, domainerrors.ErrInvalidOption) ||
			errors.Is(err, domainerrors.ErrDuplicateVote) {
			return entities.Poll{}, err
		}
		return entities.Poll{}, r.logError("poll_repo_record_vote_failed", err,
			"poll_id", strings.TrimSpace(vote.PollID),
			"voter_id", strings.TrimSpace(vote.VoterID),
		)
	}
	return updated, nil
}

func (r *Repository) GetVote(ctx context.Context, voteID string) (entities.Vote, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("id = ?", strings.TrimSpace(voteID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, domainerrors.ErrVoteNotFound
		}
		return entities.Vote{}, r.logError("poll_repo_get_vote_failed", err, "vote_id", strings.TrimSpace(voteID))
	}
	return row.toEntity(), nil
}

func (r *Repository) GetVoteByIdentity(ctx context.Context, pollID string, voterID string) (entities.Vote, bool, error) {
	var row voteModel
	err := r.db.WithContext(ctx).
		Where("poll_id = ?", strings.TrimSpace(pollID)).
		Where("voter_id = ?", strings.TrimSpace(voterID)).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Vote{}, false, nil
		}
		return entities.Vote{}, false, r.logError("poll_repo_get_vote_by_identity_failed", err,
			"poll_id", strings.TrimSpace(pollID),
			"voter_id", strings.TrimSpace(voterID),
		)
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListVotesByVoter(
	ctx context.Context,
	voterID string,
	page int,
	limit int,
) ([]entities.Vote, int64, error) {
	voterID = strings.TrimSpace(voterID)
	tx := r.db.WithContext(ctx).Model(&voteModel{}).Where("voter_id = ?", voterID)

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, 0, r.logError("poll_repo_list_votes_count_failed", err, "voter_id", voterID)
	}

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	var rows []voteModel
	if err := tx.Order("cast_at DESC, id ASC").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, 0, r.logError("poll_repo_list_votes_by_voter_failed", err, "voter_id", voterID)
	}
	items := make([]entities.Vote, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, total, nil
}

func (r *Repository) Begin(
	ctx context.Context,
	key string,
	kind entities.OperationKind,
	requestHash string,
	payload []byte,
	now time.Time,
) (entities.OperationRecord, bool, error) {
	row := operationModel{
		Key:         strings.TrimSpace(key),
		Kind:        string(kind),
		State:       string(entities.OperationPending),
		RequestHash: strings.TrimSpace(requestHash),
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return entities.OperationRecord{}, false, r.logError("poll_repo_operation_begin_failed", create.Error,
			"operation_key", row.Key,
		)
	}
	if create.RowsAffected > 0 {
		return row.toEntity(), true, nil
	}

	// A failed record is reopened in place. The state guard keeps two
	// concurrent retries from both claiming ownership.
	reopen := r.db.WithContext(ctx).
		Model(&operationModel{}).
		Where("key = ?", row.Key).
		Where("state = ?", string(entities.OperationFailed)).
		Updates(map[string]any{
			"state":          string(entities.OperationPending),
			"request_hash":   row.RequestHash,
			"payload":        row.Payload,
			"ledger_id":      0,
			"tx_ref":         "",
			"poll_id":        "",
			"vote_id":        "",
			"failure_reason": "",
			"updated_at":     now.UTC(),
		})
	if reopen.Error != nil {
		return entities.OperationRecord{}, false, r.logError("poll_repo_operation_reopen_failed", reopen.Error,
			"operation_key", row.Key,
		)
	}

	var existing operationModel
	if err := r.db.WithContext(ctx).
		Where("key = ?", row.Key).
		First(&existing).Error; err != nil {
		return entities.OperationRecord{}, false, r.logError("poll_repo_operation_load_failed", err,
			"operation_key", row.Key,
		)
	}
	return existing.toEntity(), reopen.RowsAffected > 0, nil
}

func (r *Repository) ConfirmLedger(ctx context.Context, key string, ledgerID uint64, txRef string, now time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&operationModel{}).
		Where("key = ?", strings.TrimSpace(key)).
		Updates(map[string]any{
			"ledger_id":  ledgerID,
			"tx_ref":     strings.TrimSpace(txRef),
			"updated_at": now.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_repo_operation_confirm_failed", result.Error,
			"operation_key", strings.TrimSpace(key),
			"ledger_id", ledgerID,
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrOperationNotFound
	}
	return nil
}

func (r *Repository) Complete(ctx context.Context, key string, result ports.OperationResult, now time.Time) error {
	update := r.db.WithContext(ctx).
		Model(&operationModel{}).
		Where("key = ?", strings.TrimSpace(key)).
		Updates(map[string]any{
			"state":          string(entities.OperationSucceeded),
			"poll_id":        strings.TrimSpace(result.PollID),
			"vote_id":        strings.TrimSpace(result.VoteID),
			"failure_reason": "",
			"updated_at":     now.UTC(),
		})
	if update.Error != nil {
		return r.logError("poll_repo_operation_complete_failed", update.Error,
			"operation_key", strings.TrimSpace(key),
		)
	}
	if update.RowsAffected == 0 {
		return domainerrors.ErrOperationNotFound
	}
	return nil
}

func (r *Repository) Fail(ctx context.Context, key string, reason string, now time.Time) error {
	update := r.db.WithContext(ctx).
		Model(&operationModel{}).
		Where("key = ?", strings.TrimSpace(key)).
		Updates(map[string]any{
			"state":          string(entities.OperationFailed),
			"failure_reason": strings.TrimSpace(reason),
			"updated_at":     now.UTC(),
		})
	if update.Error != nil {
		return r.logError("poll_repo_operation_fail_failed", update.Error,
			"operation_key", strings.TrimSpace(key),
		)
	}
	if update.RowsAffected == 0 {
		return domainerrors.ErrOperationNotFound
	}
	return nil
}

func (r *Repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]entities.OperationRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []operationModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", string(entities.OperationPending)).
		Where("updated_at <= ?", olderThan.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_stale_pending_failed", err)
	}
	items := make([]entities.OperationRecord, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return r.logError("poll_repo_append_outbox_marshal_failed", err,
			"event_id", strings.TrimSpace(envelope.EventID),
			"event_type", strings.TrimSpace(envelope.EventType),
		)
	}
	row := outboxModel{
		OutboxID:     strings.TrimSpace(envelope.EventID),
		EventType:    strings.TrimSpace(envelope.EventType),
		PartitionKey: strings.TrimSpace(envelope.PartitionKey),
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAt.UTC(),
	}
	if row.OutboxID == "" {
		row.OutboxID = uuid.NewString()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	create := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "outbox_id"}},
		DoNothing: true,
	}).Create(&row)
	if create.Error != nil {
		return r.logError("poll_repo_append_outbox_insert_failed", create.Error,
			"outbox_id", row.OutboxID,
		)
	}
	if create.RowsAffected > 0 {
		return nil
	}

	var existing outboxModel
	if err := r.db.WithContext(ctx).
		Select("payload").
		Where("outbox_id = ?", row.OutboxID).
		First(&existing).Error; err != nil {
		return r.logError("poll_repo_append_outbox_load_existing_failed", err,
			"outbox_id", row.OutboxID,
		)
	}
	if !bytes.Equal(existing.Payload, row.Payload) {
		return domainerrors.ErrIdempotencyConflict
	}
	return nil
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, r.logError("poll_repo_list_pending_outbox_failed", err, "limit", limit)
	}
	items := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		items = append(items, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      append([]byte(nil), row.Payload...),
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return items, nil
}

func (r *Repository) MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", strings.TrimSpace(outboxID)).
		Updates(map[string]any{
			"status":       outboxStatusPublished,
			"published_at": publishedAt.UTC(),
		})
	if result.Error != nil {
		return r.logError("poll_repo_mark_outbox_published_failed", result.Error,
			"outbox_id", strings.TrimSpace(outboxID),
		)
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrOperationNotFound
	}
	return nil
}

func (r *Repository) logError(event string, err error, attrs ...any) error {
	fields := make([]any, 0, len(attrs)+8)
	fields = append(fields,
		"event", event,
		"module", "governance/poll-engine",
		"layer", "adapter",
		"error", err.Error(),
	)
	fields = append(fields, attrs...)
	r.logger.Error("poll repository operation failed", fields...)
	return err
}

type pollModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	LedgerID    uint64    `gorm:"column:ledger_id"`
	Question    string    `gorm:"column:question"`
	Options     []byte    `gorm:"column:options"`
	CreatorID   string    `gorm:"column:creator_id"`
	CreateTxRef string    `gorm:"column:create_tx_ref"`
	Deadline    time.Time `gorm:"column:deadline"`
	Active      bool      `gorm:"column:active"`
	TotalVotes  int       `gorm:"column:total_votes"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (pollModel) TableName() string {
	return "polls"
}

func pollModelFromEntity(poll entities.Poll) (pollModel, error) {
	options, err := json.Marshal(poll.Options)
	if err != nil {
		return pollModel{}, err
	}
	row := pollModel{
		ID:          strings.TrimSpace(poll.PollID),
		LedgerID:    poll.LedgerID,
		Question:    strings.TrimSpace(poll.Question),
		Options:     options,
		CreatorID:   strings.TrimSpace(poll.CreatorID),
		CreateTxRef: strings.TrimSpace(poll.CreateTxRef),
		Deadline:    poll.Deadline.UTC(),
		Active:      poll.Active,
		TotalVotes:  poll.TotalVotes,
		CreatedAt:   poll.CreatedAt.UTC(),
		UpdatedAt:   poll.UpdatedAt.UTC(),
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = row.CreatedAt
	}
	return row, nil
}

func (m pollModel) toEntity() (entities.Poll, error) {
	var options []entities.Option
	if len(m.Options) > 0 {
		if err := json.Unmarshal(m.Options, &options); err != nil {
			return entities.Poll{}, err
		}
	}
	return entities.Poll{
		PollID:      m.ID,
		LedgerID:    m.LedgerID,
		Question:    m.Question,
		Options:     options,
		CreatorID:   m.CreatorID,
		CreateTxRef: m.CreateTxRef,
		Deadline:    m.Deadline.UTC(),
		Active:      m.Active,
		TotalVotes:  m.TotalVotes,
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}, nil
}

type voteModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	PollID      string    `gorm:"column:poll_id"`
	VoterID     string    `gorm:"column:voter_id"`
	OptionIndex int       `gorm:"column:option_index"`
	TxRef       string    `gorm:"column:tx_ref"`
	CastAt      time.Time `gorm:"column:cast_at"`
}

func (voteModel) TableName() string {
	return "votes"
}

func voteModelFromEntity(vote entities.Vote) voteModel {
	row := voteModel{
		ID:          strings.TrimSpace(vote.VoteID),
		PollID:      strings.TrimSpace(vote.PollID),
		VoterID:     strings.TrimSpace(vote.VoterID),
		OptionIndex: vote.OptionIndex,
		TxRef:       strings.TrimSpace(vote.TxRef),
		CastAt:      vote.CastAt.UTC(),
	}
	if row.CastAt.IsZero() {
		row.CastAt = time.Now().UTC()
	}
	return row
}

func (m voteModel) toEntity() entities.Vote {
	return entities.Vote{
		VoteID:      m.ID,
		PollID:      m.PollID,
		VoterID:     m.VoterID,
		OptionIndex: m.OptionIndex,
		TxRef:       m.TxRef,
		CastAt:      m.CastAt.UTC(),
	}
}

type operationModel struct {
	Key           string    `gorm:"column:key;primaryKey"`
	Kind          string    `gorm:"column:kind"`
	State         string    `gorm:"column:state"`
	RequestHash   string    `gorm:"column:request_hash"`
	Payload       []byte    `gorm:"column:payload"`
	LedgerID      uint64    `gorm:"column:ledger_id"`
	TxRef         string    `gorm:"column:tx_ref"`
	PollID        string    `gorm:"column:poll_id"`
	VoteID        string    `gorm:"column:vote_id"`
	FailureReason string    `gorm:"column:failure_reason"`
	CreatedAt     time.Time `gorm:"column:created_at"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

func (operationModel) TableName() string {
	return "poll_operations"
}

func (m operationModel) toEntity() entities.OperationRecord {
	return entities.OperationRecord{
		Key:           m.Key,
		Kind:          entities.OperationKind(m.Kind),
		State:         entities.OperationState(m.State),
		RequestHash:   m.RequestHash,
		Payload:       append([]byte(nil), m.Payload...),
		LedgerID:      m.LedgerID,
		TxRef:         m.TxRef,
		PollID:        m.PollID,
		VoteID:        m.VoteID,
		FailureReason: m.FailureReason,
		CreatedAt:     m.CreatedAt.UTC(),
		UpdatedAt:     m.UpdatedAt.UTC(),
	}
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status"`
	CreatedAt    time.Time  `gorm:"column:created_at"`
	PublishedAt  *time.Time `gorm:"column:published_at"`
}

func (outboxModel) TableName() string {
	return "poll_outbox"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

var _ ports.PollRepository = (*Repository)(nil)
var _ ports.VoteRepository = (*Repository)(nil)
var _ ports.OperationStore = (*Repository)(nil)
var _ ports.OutboxWriter = (*Repository)(nil)
var _ ports.OutboxRepository = (*Repository)(nil)
