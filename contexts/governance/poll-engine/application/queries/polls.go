package queries

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"strings"
	"time"

	application "agora/contexts/governance/poll-engine/application"
	"agora/contexts/governance/poll-engine/domain/entities"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	"agora/contexts/governance/poll-engine/ports"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// PollView decorates a poll for read responses: per-option percentages and,
// when a viewer identity is known, the option they voted for.
type PollView struct {
	Poll              entities.Poll
	OptionPercentages []int
	ViewerVote        *int
}

// PollPage is one page of a poll listing.
type PollPage struct {
	Polls []entities.Poll
	Page  int
	Limit int
	Total int64
	Pages int64
}

// VoteHistoryItem joins a vote with the poll context a history view needs.
type VoteHistoryItem struct {
	Vote       entities.Vote
	Question   string
	OptionText string
	PollActive bool
}

// VoteHistoryPage is one page of a voter's history, newest first.
type VoteHistoryPage struct {
	Items []VoteHistoryItem
	Page  int
	Limit int
	Total int64
	Pages int64
}

// PollQueries serves the read side. Reads never touch the ledger; the one
// write they perform is the opportunistic active-flag flip on a poll whose
// deadline has passed, which keeps the cache honest between sweeper runs.
// The flip carries the poll.ended outbox event with it when this read is the
// one that closed the poll.
type PollQueries struct {
	Polls  ports.PollRepository
	Votes  ports.VoteRepository
	Outbox ports.OutboxWriter
	Clock  ports.Clock
	IDGen  ports.IDGenerator
	Logger *slog.Logger
}

func (q PollQueries) GetPoll(ctx context.Context, pollID string, viewerID string) (PollView, error) {
	logger := application.ResolveLogger(q.Logger)
	poll, err := q.Polls.GetPoll(ctx, strings.TrimSpace(pollID))
	if err != nil {
		return PollView{}, err
	}

	now := q.Clock.Now().UTC()
	if poll.Active && poll.Ended(now) {
		changed, err := q.Polls.MarkEnded(ctx, poll.PollID, now)
		if err != nil {
			logger.Warn("stale poll close on read failed",
				"event", "poll_read_close_failed",
				"module", "governance/poll-engine",
				"layer", "application",
				"poll_id", poll.PollID,
				"error", err.Error(),
			)
		} else {
			poll.Active = false
			poll.UpdatedAt = now
			if changed {
				// This read won the transition, so the sweeper will not see
				// the poll as active again; the lifecycle event rides with
				// whichever flip site got there first.
				q.appendPollEndedEvent(ctx, logger, poll, now)
			}
		}
	}

	view := PollView{
		Poll:              poll,
		OptionPercentages: votePercentages(poll),
	}
	if viewerID = strings.TrimSpace(viewerID); viewerID != "" {
		vote, found, err := q.Votes.GetVoteByIdentity(ctx, poll.PollID, viewerID)
		if err != nil {
			return PollView{}, err
		}
		if found {
			chosen := vote.OptionIndex
			view.ViewerVote = &chosen
		}
	}
	return view, nil
}

func (q PollQueries) ListPolls(ctx context.Context, status string, page int, limit int) (PollPage, error) {
	page, limit = normalizePage(page, limit)
	status = normalizeStatus(status)
	polls, total, err := q.Polls.ListPolls(ctx, ports.PollFilter{
		Status: status,
		Page:   page,
		Limit:  limit,
	})
	if err != nil {
		return PollPage{}, err
	}
	return PollPage{
		Polls: polls,
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: pageCount(total, limit),
	}, nil
}

func (q PollQueries) ListPollsByCreator(ctx context.Context, creatorID string, page int, limit int) (PollPage, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return PollPage{}, domainerrors.ErrInvalidPollInput
	}
	page, limit = normalizePage(page, limit)
	polls, total, err := q.Polls.ListPolls(ctx, ports.PollFilter{
		Status:    "all",
		CreatorID: creatorID,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return PollPage{}, err
	}
	return PollPage{
		Polls: polls,
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: pageCount(total, limit),
	}, nil
}

func (q PollQueries) VoteHistory(ctx context.Context, voterID string, page int, limit int) (VoteHistoryPage, error) {
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return VoteHistoryPage{}, domainerrors.ErrInvalidPollInput
	}
	page, limit = normalizePage(page, limit)
	votes, total, err := q.Votes.ListVotesByVoter(ctx, voterID, page, limit)
	if err != nil {
		return VoteHistoryPage{}, err
	}

	items := make([]VoteHistoryItem, 0, len(votes))
	for _, vote := range votes {
		item := VoteHistoryItem{Vote: vote}
		poll, err := q.Polls.GetPoll(ctx, vote.PollID)
		if err == nil {
			item.Question = poll.Question
			item.PollActive = poll.Active
			if poll.ValidOption(vote.OptionIndex) {
				item.OptionText = poll.Options[vote.OptionIndex].Text
			}
		}
		items = append(items, item)
	}
	return VoteHistoryPage{
		Items: items,
		Page:  page,
		Limit: limit,
		Total: total,
		Pages: pageCount(total, limit),
	}, nil
}

// appendPollEndedEvent records the lifecycle transition when this read was
// the flip site that closed the poll. Append failures are logged, not
// surfaced; the read result does not depend on the event landing.
func (q PollQueries) appendPollEndedEvent(ctx context.Context, logger *slog.Logger, poll entities.Poll, now time.Time) {
	if q.Outbox == nil || q.IDGen == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	eventID, err := q.IDGen.NewID(ctx)
	if err != nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"poll_id":     poll.PollID,
		"ledger_id":   poll.LedgerID,
		"deadline":    poll.Deadline.UTC().Format(time.RFC3339),
		"total_votes": poll.TotalVotes,
	})
	if err != nil {
		return
	}
	envelope := ports.EventEnvelope{
		EventID:          eventID,
		EventType:        "poll.ended",
		OccurredAt:       now,
		SourceService:    "poll-engine",
		TraceID:          eventID,
		SchemaVersion:    1,
		PartitionKeyPath: "poll_id",
		PartitionKey:     poll.PollID,
		Data:             payload,
	}
	if err := q.Outbox.AppendOutbox(ctx, envelope); err != nil {
		logger.Warn("poll ended event append failed",
			"event", "poll_read_event_append_failed",
			"module", "governance/poll-engine",
			"layer", "application",
			"poll_id", poll.PollID,
			"error", err.Error(),
		)
	}
}

func votePercentages(poll entities.Poll) []int {
	percentages := make([]int, len(poll.Options))
	if poll.TotalVotes == 0 {
		return percentages
	}
	for i, option := range poll.Options {
		percentages[i] = int(math.Round(float64(option.Votes) / float64(poll.TotalVotes) * 100))
	}
	return percentages
}

func normalizePage(page int, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	return page, limit
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "ended":
		return "ended"
	case "all":
		return "all"
	default:
		return "active"
	}
}

func pageCount(total int64, limit int) int64 {
	if total == 0 {
		return 0
	}
	return (total + int64(limit) - 1) / int64(limit)
}
