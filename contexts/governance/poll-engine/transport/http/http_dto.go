package http

type ErrorResponse struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type CreatePollRequest struct {
	Question        string   `json:"question"`
	Options         []string `json:"options"`
	DurationMinutes int64    `json:"duration_minutes"`
}

type PollOptionView struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	Votes      int    `json:"votes"`
	Percentage int    `json:"percentage"`
}

type PollResponse struct {
	PollID     string           `json:"poll_id"`
	LedgerID   uint64           `json:"ledger_id"`
	Question   string           `json:"question"`
	Options    []PollOptionView `json:"options"`
	CreatorID  string           `json:"creator_id"`
	TxRef      string           `json:"tx_ref,omitempty"`
	Deadline   string           `json:"deadline"`
	Active     bool             `json:"active"`
	TotalVotes int              `json:"total_votes"`
	ViewerVote *int             `json:"viewer_vote,omitempty"`
	Replayed   bool             `json:"replayed,omitempty"`
	CreatedAt  string           `json:"created_at"`
}

type PollListResponse struct {
	Polls []PollResponse `json:"polls"`
	Page  int            `json:"page"`
	Limit int            `json:"limit"`
	Total int64          `json:"total"`
	Pages int64          `json:"pages"`
}

type CastVoteRequest struct {
	OptionIndex int `json:"option_index"`
}

type VoteResponse struct {
	VoteID      string       `json:"vote_id"`
	PollID      string       `json:"poll_id"`
	VoterID     string       `json:"voter_id"`
	OptionIndex int          `json:"option_index"`
	TxRef       string       `json:"tx_ref,omitempty"`
	Replayed    bool         `json:"replayed"`
	Poll        PollResponse `json:"poll"`
}

type VoteHistoryItemResponse struct {
	VoteID      string `json:"vote_id"`
	PollID      string `json:"poll_id"`
	Question    string `json:"question"`
	OptionIndex int    `json:"option_index"`
	OptionText  string `json:"option_text"`
	PollActive  bool   `json:"poll_active"`
	TxRef       string `json:"tx_ref,omitempty"`
	CastAt      string `json:"cast_at"`
}

type VoteHistoryResponse struct {
	Votes []VoteHistoryItemResponse `json:"votes"`
	Page  int                       `json:"page"`
	Limit int                       `json:"limit"`
	Total int64                     `json:"total"`
	Pages int64                     `json:"pages"`
}
