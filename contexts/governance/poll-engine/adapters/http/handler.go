package httpadapter

import (
	"context"
	"log/slog"
	"math"
	"time"

	"agora/contexts/governance/poll-engine/application/commands"
	"agora/contexts/governance/poll-engine/application/queries"
	"agora/contexts/governance/poll-engine/domain/entities"
	httptransport "agora/contexts/governance/poll-engine/transport/http"
)

type Handler struct {
	Polls   commands.PollUseCase
	Votes   commands.VoteUseCase
	Queries queries.PollQueries
	Logger  *slog.Logger
}

func (h Handler) CreatePollHandler(
	ctx context.Context,
	userID string,
	idempotencyKey string,
	req httptransport.CreatePollRequest,
) (httptransport.PollResponse, error) {
	result, err := h.Polls.CreatePoll(ctx, commands.CreatePollCommand{
		CreatorID:       userID,
		IdempotencyKey:  idempotencyKey,
		Question:        req.Question,
		Options:         req.Options,
		DurationMinutes: req.DurationMinutes,
	})
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	response := pollResponse(result.Poll, nil)
	response.TxRef = result.TxRef
	response.Replayed = result.Replayed
	return response, nil
}

func (h Handler) GetPollHandler(ctx context.Context, pollID string, viewerID string) (httptransport.PollResponse, error) {
	view, err := h.Queries.GetPoll(ctx, pollID, viewerID)
	if err != nil {
		return httptransport.PollResponse{}, err
	}
	response := pollResponse(view.Poll, view.OptionPercentages)
	response.ViewerVote = view.ViewerVote
	return response, nil
}

func (h Handler) ListPollsHandler(
	ctx context.Context,
	status string,
	page int,
	limit int,
) (httptransport.PollListResponse, error) {
	result, err := h.Queries.ListPolls(ctx, status, page, limit)
	if err != nil {
		return httptransport.PollListResponse{}, err
	}
	return pollListResponse(result), nil
}

func (h Handler) UserPollsHandler(
	ctx context.Context,
	userID string,
	page int,
	limit int,
) (httptransport.PollListResponse, error) {
	result, err := h.Queries.ListPollsByCreator(ctx, userID, page, limit)
	if err != nil {
		return httptransport.PollListResponse{}, err
	}
	return pollListResponse(result), nil
}

func (h Handler) CastVoteHandler(
	ctx context.Context,
	pollID string,
	userID string,
	walletAddress string,
	req httptransport.CastVoteRequest,
) (httptransport.VoteResponse, error) {
	result, err := h.Votes.CastVote(ctx, commands.CastVoteCommand{
		PollID:        pollID,
		VoterID:       userID,
		WalletAddress: walletAddress,
		OptionIndex:   req.OptionIndex,
	})
	if err != nil {
		return httptransport.VoteResponse{}, err
	}
	return httptransport.VoteResponse{
		VoteID:      result.Vote.VoteID,
		PollID:      result.Vote.PollID,
		VoterID:     result.Vote.VoterID,
		OptionIndex: result.Vote.OptionIndex,
		TxRef:       result.Vote.TxRef,
		Replayed:    result.Replayed,
		Poll:        pollResponse(result.Poll, nil),
	}, nil
}

func (h Handler) VoteHistoryHandler(
	ctx context.Context,
	userID string,
	page int,
	limit int,
) (httptransport.VoteHistoryResponse, error) {
	result, err := h.Queries.VoteHistory(ctx, userID, page, limit)
	if err != nil {
		return httptransport.VoteHistoryResponse{}, err
	}
	items := make([]httptransport.VoteHistoryItemResponse, 0, len(result.Items))
	for _, item := range result.Items {
		items = append(items, httptransport.VoteHistoryItemResponse{
			VoteID:      item.Vote.VoteID,
			PollID:      item.Vote.PollID,
			Question:    item.Question,
			OptionIndex: item.Vote.OptionIndex,
			OptionText:  item.OptionText,
			PollActive:  item.PollActive,
			TxRef:       item.Vote.TxRef,
			CastAt:      item.Vote.CastAt.UTC().Format(time.RFC3339),
		})
	}
	return httptransport.VoteHistoryResponse{
		Votes: items,
		Page:  result.Page,
		Limit: result.Limit,
		Total: result.Total,
		Pages: result.Pages,
	}, nil
}

func pollListResponse(page queries.PollPage) httptransport.PollListResponse {
	polls := make([]httptransport.PollResponse, 0, len(page.Polls))
	for _, poll := range page.Polls {
		polls = append(polls, pollResponse(poll, nil))
	}
	return httptransport.PollListResponse{
		Polls: polls,
		Page:  page.Page,
		Limit: page.Limit,
		Total: page.Total,
		Pages: page.Pages,
	}
}

func pollResponse(poll entities.Poll, percentages []int) httptransport.PollResponse {
	if percentages == nil {
		percentages = optionPercentages(poll)
	}
	options := make([]httptransport.PollOptionView, 0, len(poll.Options))
	for i, option := range poll.Options {
		percentage := 0
		if i < len(percentages) {
			percentage = percentages[i]
		}
		options = append(options, httptransport.PollOptionView{
			Index:      i,
			Text:       option.Text,
			Votes:      option.Votes,
			Percentage: percentage,
		})
	}
	return httptransport.PollResponse{
		PollID:     poll.PollID,
		LedgerID:   poll.LedgerID,
		Question:   poll.Question,
		Options:    options,
		CreatorID:  poll.CreatorID,
		TxRef:      poll.CreateTxRef,
		Deadline:   poll.Deadline.UTC().Format(time.RFC3339),
		Active:     poll.Active,
		TotalVotes: poll.TotalVotes,
		CreatedAt:  poll.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func optionPercentages(poll entities.Poll) []int {
	percentages := make([]int, len(poll.Options))
	if poll.TotalVotes == 0 {
		return percentages
	}
	for i, option := range poll.Options {
		percentages[i] = int(math.Round(float64(option.Votes) / float64(poll.TotalVotes) * 100))
	}
	return percentages
}
