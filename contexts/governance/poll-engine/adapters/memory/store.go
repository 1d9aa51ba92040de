package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"

	"github.com/google/uuid"
)

type outboxRecord struct {
	message   ports.OutboxMessage
	published bool
}

// Store is the in-memory adapter behind every engine port. Mutating calls
// hold the write lock for the whole call, which gives RecordVote the same
// single-transaction semantics the SQL adapter provides.
type Store struct {
	mu sync.RWMutex

	polls      map[string]entities.Poll
	votes      map[string]entities.Vote
	operations map[string]entities.OperationRecord
	outbox     map[string]outboxRecord
}

func NewStore(seed []entities.Poll) *Store {
	polls := make(map[string]entities.Poll, len(seed))
	for _, poll := range seed {
		polls[poll.PollID] = clonePoll(poll)
	}
	return &Store{
		polls:      polls,
		votes:      make(map[string]entities.Vote),
		operations: make(map[string]entities.OperationRecord),
		outbox:     make(map[string]outboxRecord),
	}
}

func (s *Store) CreatePoll(_ context.Context, poll entities.Poll) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(poll.PollID)
	if _, exists := s.polls[pollID]; exists {
		return domainerrors.ErrIdempotencyConflict
	}
	for _, existing := range s.polls {
		if existing.LedgerID == poll.LedgerID {
			return domainerrors.ErrIdempotencyConflict
		}
	}
	poll.PollID = pollID
	s.polls[pollID] = clonePoll(poll)
	return nil
}

// clonePoll copies the Options slice so map-held state never shares a backing
// array with polls handed to callers. Without this, snapshots returned by the
// read methods would mutate under their holders on every tally update.
func clonePoll(poll entities.Poll) entities.Poll {
	poll.Options = append([]entities.Option(nil), poll.Options...)
	return poll
}

func (s *Store) GetPoll(_ context.Context, pollID string) (entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	poll, ok := s.polls[strings.TrimSpace(pollID)]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	return clonePoll(poll), nil
}

func (s *Store) GetPollByLedgerID(_ context.Context, ledgerID uint64) (entities.Poll, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, poll := range s.polls {
		if poll.LedgerID == ledgerID {
			return clonePoll(poll), true, nil
		}
	}
	return entities.Poll{}, false, nil
}

func (s *Store) ListPolls(_ context.Context, filter ports.PollFilter) ([]entities.Poll, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	creatorID := strings.TrimSpace(filter.CreatorID)
	matched := make([]entities.Poll, 0, len(s.polls))
	for _, poll := range s.polls {
		switch filter.Status {
		case "active":
			if !poll.Active {
				continue
			}
		case "ended":
			if poll.Active {
				continue
			}
		}
		if creatorID != "" && poll.CreatorID != creatorID {
			continue
		}
		matched = append(matched, clonePoll(poll))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].PollID < matched[j].PollID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []entities.Poll{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *Store) MarkEnded(_ context.Context, pollID string, endedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID = strings.TrimSpace(pollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return false, domainerrors.ErrPollNotFound
	}
	if !poll.Active {
		return false, nil
	}
	poll.Active = false
	poll.UpdatedAt = endedAt.UTC()
	s.polls[pollID] = poll
	return true, nil
}

func (s *Store) ListExpiredActive(_ context.Context, now time.Time, limit int) ([]entities.Poll, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.Poll, 0)
	for _, poll := range s.polls {
		if poll.Active && !now.UTC().Before(poll.Deadline.UTC()) {
			items = append(items, clonePoll(poll))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Deadline.Before(items[j].Deadline)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) ReplaceTallies(
	_ context.Context,
	pollID string,
	optionVotes []int,
	totalVotes int,
	updatedAt time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID = strings.TrimSpace(pollID)
	poll, ok := s.polls[pollID]
	if !ok {
		return domainerrors.ErrPollNotFound
	}
	if len(optionVotes) != len(poll.Options) {
		return domainerrors.ErrInvalidPollInput
	}
	poll = clonePoll(poll)
	for i := range poll.Options {
		poll.Options[i].Votes = optionVotes[i]
	}
	poll.TotalVotes = totalVotes
	poll.UpdatedAt = updatedAt.UTC()
	s.polls[pollID] = poll
	return nil
}

func (s *Store) RecordVote(_ context.Context, vote entities.Vote) (entities.Poll, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pollID := strings.TrimSpace(vote.PollID)
	voterID := strings.TrimSpace(vote.VoterID)
	poll, ok := s.polls[pollID]
	if !ok {
		return entities.Poll{}, domainerrors.ErrPollNotFound
	}
	for _, existing := range s.votes {
		if existing.PollID == pollID && existing.VoterID == voterID {
			return entities.Poll{}, domainerrors.ErrDuplicateVote
		}
	}
	if !poll.ValidOption(vote.OptionIndex) {
		return entities.Poll{}, domainerrors.ErrInvalidOption
	}

	vote.PollID = pollID
	vote.VoterID = voterID
	s.votes[strings.TrimSpace(vote.VoteID)] = vote

	poll = clonePoll(poll)
	poll.Options[vote.OptionIndex].Votes++
	poll.TotalVotes++
	poll.UpdatedAt = vote.CastAt.UTC()
	s.polls[pollID] = clonePoll(poll)
	return poll, nil
}

func (s *Store) GetVote(_ context.Context, voteID string) (entities.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vote, ok := s.votes[strings.TrimSpace(voteID)]
	if !ok {
		return entities.Vote{}, domainerrors.ErrVoteNotFound
	}
	return vote, nil
}

func (s *Store) GetVoteByIdentity(_ context.Context, pollID string, voterID string) (entities.Vote, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pollID = strings.TrimSpace(pollID)
	voterID = strings.TrimSpace(voterID)
	for _, vote := range s.votes {
		if vote.PollID == pollID && vote.VoterID == voterID {
			return vote, true, nil
		}
	}
	return entities.Vote{}, false, nil
}

func (s *Store) ListVotesByVoter(
	_ context.Context,
	voterID string,
	page int,
	limit int,
) ([]entities.Vote, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voterID = strings.TrimSpace(voterID)
	matched := make([]entities.Vote, 0)
	for _, vote := range s.votes {
		if vote.VoterID == voterID {
			matched = append(matched, vote)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CastAt.Equal(matched[j].CastAt) {
			return matched[i].VoteID < matched[j].VoteID
		}
		return matched[i].CastAt.After(matched[j].CastAt)
	})

	total := int64(len(matched))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	start := (page - 1) * limit
	if start >= len(matched) {
		return []entities.Vote{}, total, nil
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (s *Store) Begin(
	_ context.Context,
	key string,
	kind entities.OperationKind,
	requestHash string,
	payload []byte,
	now time.Time,
) (entities.OperationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	existing, ok := s.operations[key]
	if ok && existing.State != entities.OperationFailed {
		return existing, false, nil
	}

	record := entities.OperationRecord{
		Key:         key,
		Kind:        kind,
		State:       entities.OperationPending,
		RequestHash: strings.TrimSpace(requestHash),
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	if ok {
		// A failed attempt is reopened in place so the retry starts clean.
		record.CreatedAt = existing.CreatedAt
	}
	s.operations[key] = record
	return record, true, nil
}

func (s *Store) ConfirmLedger(_ context.Context, key string, ledgerID uint64, txRef string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := s.operations[key]
	if !ok {
		return domainerrors.ErrOperationNotFound
	}
	record.LedgerID = ledgerID
	record.TxRef = strings.TrimSpace(txRef)
	record.UpdatedAt = now.UTC()
	s.operations[key] = record
	return nil
}

func (s *Store) Complete(_ context.Context, key string, result ports.OperationResult, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := s.operations[key]
	if !ok {
		return domainerrors.ErrOperationNotFound
	}
	record.State = entities.OperationSucceeded
	record.PollID = strings.TrimSpace(result.PollID)
	record.VoteID = strings.TrimSpace(result.VoteID)
	record.FailureReason = ""
	record.UpdatedAt = now.UTC()
	s.operations[key] = record
	return nil
}

func (s *Store) Fail(_ context.Context, key string, reason string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key = strings.TrimSpace(key)
	record, ok := s.operations[key]
	if !ok {
		return domainerrors.ErrOperationNotFound
	}
	record.State = entities.OperationFailed
	record.FailureReason = strings.TrimSpace(reason)
	record.UpdatedAt = now.UTC()
	s.operations[key] = record
	return nil
}

func (s *Store) ListStalePending(_ context.Context, olderThan time.Time, limit int) ([]entities.OperationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]entities.OperationRecord, 0)
	for _, record := range s.operations {
		if record.State != entities.OperationPending {
			continue
		}
		if record.UpdatedAt.After(olderThan.UTC()) {
			continue
		}
		items = append(items, record)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.Before(items[j].UpdatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// GetOperation exposes raw record state for tests and diagnostics.
func (s *Store) GetOperation(_ context.Context, key string) (entities.OperationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.operations[strings.TrimSpace(key)]
	return record, ok
}

func (s *Store) AppendOutbox(_ context.Context, envelope ports.EventEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	outboxID := strings.TrimSpace(envelope.EventID)
	if outboxID == "" {
		outboxID = uuid.NewString()
	}
	if existing, ok := s.outbox[outboxID]; ok {
		if !bytes.Equal(existing.message.Payload, payload) {
			return domainerrors.ErrIdempotencyConflict
		}
		return nil
	}
	createdAt := envelope.OccurredAt.UTC()
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	s.outbox[outboxID] = outboxRecord{
		message: ports.OutboxMessage{
			OutboxID:     outboxID,
			EventType:    strings.TrimSpace(envelope.EventType),
			PartitionKey: strings.TrimSpace(envelope.PartitionKey),
			Payload:      payload,
			CreatedAt:    createdAt,
		},
	}
	return nil
}

func (s *Store) ListPendingOutbox(_ context.Context, limit int) ([]ports.OutboxMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}
	items := make([]ports.OutboxMessage, 0, len(s.outbox))
	for _, row := range s.outbox {
		if row.published {
			continue
		}
		items = append(items, row.message)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *Store) MarkOutboxPublished(_ context.Context, outboxID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.outbox[strings.TrimSpace(outboxID)]
	if !ok {
		return domainerrors.ErrOperationNotFound
	}
	row.published = true
	s.outbox[strings.TrimSpace(outboxID)] = row
	return nil
}

func (s *Store) Now() time.Time {
	return time.Now().UTC()
}

func (s *Store) NewID(_ context.Context) (string, error) {
	return uuid.NewString(), nil
}
