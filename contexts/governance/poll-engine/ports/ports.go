package ports

import (
	"context"
	"encoding/json"
	"time"

	"agora/contexts/governance/poll-engine/domain/entities"
)

// PollFilter narrows poll listings. Status is one of active|ended|all.
type PollFilter struct {
	Status    string
	CreatorID string
	Page      int
	Limit     int
}

type PollRepository interface {
	CreatePoll(ctx context.Context, poll entities.Poll) error
	GetPoll(ctx context.Context, pollID string) (entities.Poll, error)
	GetPollByLedgerID(ctx context.Context, ledgerID uint64) (entities.Poll, bool, error)
	ListPolls(ctx context.Context, filter PollFilter) ([]entities.Poll, int64, error)
	// MarkEnded flips the active flag off; it reports whether the row changed
	// so the caller can emit the ended event exactly once.
	MarkEnded(ctx context.Context, pollID string, endedAt time.Time) (bool, error)
	ListExpiredActive(ctx context.Context, now time.Time, limit int) ([]entities.Poll, error)
	// ReplaceTallies overwrites option counters and the total with
	// ledger-authoritative values, using the same per-poll write path as
	// RecordVote.
	ReplaceTallies(ctx context.Context, pollID string, optionVotes []int, totalVotes int, updatedAt time.Time) error
}

type VoteRepository interface {
	// RecordVote inserts the vote row and increments the poll's option and
	// total counters inside one transaction. A (poll, voter) unique-index
	// race returns ErrDuplicateVote with no counter change.
	RecordVote(ctx context.Context, vote entities.Vote) (entities.Poll, error)
	GetVote(ctx context.Context, voteID string) (entities.Vote, error)
	GetVoteByIdentity(ctx context.Context, pollID string, voterID string) (entities.Vote, bool, error)
	ListVotesByVoter(ctx context.Context, voterID string, page int, limit int) ([]entities.Vote, int64, error)
}

// OperationResult carries the references a finalized operation resolves to.
type OperationResult struct {
	PollID string
	VoteID string
}

type OperationStore interface {
	// Begin atomically inserts a pending record or returns the existing one.
	// A failed record is reopened as pending (isNew true); a pending or
	// succeeded record is returned unchanged (isNew false).
	Begin(ctx context.Context, key string, kind entities.OperationKind, requestHash string, payload []byte, now time.Time) (entities.OperationRecord, bool, error)
	// ConfirmLedger durably notes the ledger confirmation on the pending
	// record before any local write happens.
	ConfirmLedger(ctx context.Context, key string, ledgerID uint64, txRef string, now time.Time) error
	Complete(ctx context.Context, key string, result OperationResult, now time.Time) error
	Fail(ctx context.Context, key string, reason string, now time.Time) error
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]entities.OperationRecord, error)
}

// CreatedPoll is the ledger's answer to a confirmed poll creation.
type CreatedPoll struct {
	LedgerID uint64
	TxRef    string
}

// LedgerPoll is the ledger's authoritative view of one poll.
type LedgerPoll struct {
	Question   string
	Options    []string
	Tallies    []uint64
	Creator    string
	EndTime    time.Time
	Active     bool
	TotalVotes uint64
}

// Ledger is the append-only system of record. Submit calls block until the
// ledger confirms finality; partial confirmation states are never exposed.
type Ledger interface {
	SubmitCreatePoll(ctx context.Context, question string, options []string, durationMinutes int64) (CreatedPoll, error)
	SubmitVote(ctx context.Context, ledgerID uint64, optionIndex int, voter string) (string, error)
	ReadPoll(ctx context.Context, ledgerID uint64) (LedgerPoll, error)
	HasVoted(ctx context.Context, ledgerID uint64, voter string) (bool, error)
}

type Clock interface {
	Now() time.Time
}

type IDGenerator interface {
	NewID(ctx context.Context) (string, error)
}

// EventEnvelope is the canonical event shape appended to the outbox.
type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	OccurredAt       time.Time       `json:"occurred_at"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    int             `json:"schema_version"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	Data             json.RawMessage `json:"data"`
}

type OutboxMessage struct {
	OutboxID     string
	EventType    string
	PartitionKey string
	Payload      []byte
	CreatedAt    time.Time
}

type OutboxWriter interface {
	AppendOutbox(ctx context.Context, envelope EventEnvelope) error
}

type OutboxRepository interface {
	ListPendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, outboxID string, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, event EventEnvelope) error
}
