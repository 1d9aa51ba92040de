package httpserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	pollengine "agora/contexts/governance/poll-engine"
	polltransport "agora/contexts/governance/poll-engine/transport/http"
	"agora/internal/platform/messaging"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	kafka, err := messaging.NewKafka(nil, nil)
	if err != nil {
		t.Fatalf("new kafka: %v", err)
	}
	engine := pollengine.NewInMemoryModule(nil, kafka, nil)
	server := New(engine, nil, ":0", []string{"*"})
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method string, path string, headers map[string]string, body any, out any) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	resp, err := ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func creatorHeaders(key string) map[string]string {
	return map[string]string{
		"X-User-Id":       "user-http",
		"Idempotency-Key": key,
	}
}

func voterHeaders(userID string) map[string]string {
	return map[string]string{
		"X-User-Id":        userID,
		"X-Wallet-Address": "0x1111111111111111111111111111111111111111",
	}
}

func TestCreatePollEndpointRequiresIdentity(t *testing.T) {
	ts := newTestServer(t)
	status := doJSON(t, ts, http.MethodPost, "/polls", nil, polltransport.CreatePollRequest{
		Question:        "Coffee or tea?",
		Options:         []string{"Coffee", "Tea"},
		DurationMinutes: 60,
	}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without identity header, got %d", status)
	}
}

func TestCreatePollEndpointReplaySemantics(t *testing.T) {
	ts := newTestServer(t)
	body := polltransport.CreatePollRequest{
		Question:        "Coffee or tea?",
		Options:         []string{"Coffee", "Tea"},
		DurationMinutes: 60,
	}

	var first polltransport.PollResponse
	status := doJSON(t, ts, http.MethodPost, "/polls", creatorHeaders("http-idem-1"), body, &first)
	if status != http.StatusCreated {
		t.Fatalf("expected 201 on first create, got %d", status)
	}
	if first.PollID == "" || first.TxRef == "" {
		t.Fatalf("create response missing identifiers: %+v", first)
	}

	var replay polltransport.PollResponse
	status = doJSON(t, ts, http.MethodPost, "/polls", creatorHeaders("http-idem-1"), body, &replay)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", status)
	}
	if !replay.Replayed || replay.PollID != first.PollID {
		t.Fatalf("replay did not resolve to the original poll: %+v", replay)
	}

	// Same key, different body: conflict.
	altered := body
	altered.Question = "Tea or coffee?"
	status = doJSON(t, ts, http.MethodPost, "/polls", creatorHeaders("http-idem-1"), altered, nil)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 on idempotency conflict, got %d", status)
	}

	// Missing idempotency key is a client error.
	status = doJSON(t, ts, http.MethodPost, "/polls", map[string]string{"X-User-Id": "user-http"}, body, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 without idempotency key, got %d", status)
	}
}

func TestVoteEndpointFlow(t *testing.T) {
	ts := newTestServer(t)
	var poll polltransport.PollResponse
	doJSON(t, ts, http.MethodPost, "/polls", creatorHeaders("http-idem-2"), polltransport.CreatePollRequest{
		Question:        "Coffee or tea?",
		Options:         []string{"Coffee", "Tea"},
		DurationMinutes: 60,
	}, &poll)

	status := doJSON(t, ts, http.MethodPost, "/polls/"+poll.PollID+"/vote",
		map[string]string{"X-User-Id": "voter-1"}, polltransport.CastVoteRequest{OptionIndex: 0}, nil)
	if status != http.StatusUnauthorized {
		t.Fatalf("expected 401 without wallet header, got %d", status)
	}

	var vote polltransport.VoteResponse
	status = doJSON(t, ts, http.MethodPost, "/polls/"+poll.PollID+"/vote",
		voterHeaders("voter-1"), polltransport.CastVoteRequest{OptionIndex: 0}, &vote)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on vote, got %d", status)
	}
	if vote.TxRef == "" || vote.Poll.TotalVotes != 1 {
		t.Fatalf("vote response incomplete: %+v", vote)
	}

	status = doJSON(t, ts, http.MethodPost, "/polls/"+poll.PollID+"/vote",
		voterHeaders("voter-1"), polltransport.CastVoteRequest{OptionIndex: 1}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 on duplicate vote for another option, got %d", status)
	}

	status = doJSON(t, ts, http.MethodPost, "/polls/"+poll.PollID+"/vote",
		voterHeaders("voter-2"), polltransport.CastVoteRequest{OptionIndex: 5}, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 on out-of-range option, got %d", status)
	}

	var view polltransport.PollResponse
	status = doJSON(t, ts, http.MethodGet, "/polls/"+poll.PollID, voterHeaders("voter-1"), nil, &view)
	if status != http.StatusOK {
		t.Fatalf("expected 200 on get poll, got %d", status)
	}
	if view.ViewerVote == nil || *view.ViewerVote != 0 {
		t.Fatalf("viewer vote missing from poll view: %+v", view.ViewerVote)
	}
	if len(view.Options) != 2 || view.Options[0].Percentage != 100 {
		t.Fatalf("unexpected option view: %+v", view.Options)
	}
}

func TestListAndHistoryEndpoints(t *testing.T) {
	ts := newTestServer(t)
	var poll polltransport.PollResponse
	doJSON(t, ts, http.MethodPost, "/polls", creatorHeaders("http-idem-3"), polltransport.CreatePollRequest{
		Question:        "Coffee or tea?",
		Options:         []string{"Coffee", "Tea"},
		DurationMinutes: 60,
	}, &poll)
	doJSON(t, ts, http.MethodPost, "/polls/"+poll.PollID+"/vote",
		voterHeaders("voter-3"), polltransport.CastVoteRequest{OptionIndex: 1}, nil)

	var listing polltransport.PollListResponse
	status := doJSON(t, ts, http.MethodGet, "/polls?status=active", nil, nil, &listing)
	if status != http.StatusOK || listing.Total != 1 {
		t.Fatalf("active listing wrong: status=%d total=%d", status, listing.Total)
	}

	status = doJSON(t, ts, http.MethodGet, "/polls?page=bogus", nil, nil, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("expected 400 on non-integer page, got %d", status)
	}

	var mine polltransport.PollListResponse
	status = doJSON(t, ts, http.MethodGet, "/polls/user", creatorHeaders(""), nil, &mine)
	if status != http.StatusOK || mine.Total != 1 {
		t.Fatalf("creator listing wrong: status=%d total=%d", status, mine.Total)
	}

	var history polltransport.VoteHistoryResponse
	status = doJSON(t, ts, http.MethodGet, "/users/votes", voterHeaders("voter-3"), nil, &history)
	if status != http.StatusOK || len(history.Votes) != 1 {
		t.Fatalf("vote history wrong: status=%d votes=%d", status, len(history.Votes))
	}
	if history.Votes[0].OptionText != "Tea" || history.Votes[0].PollID != poll.PollID {
		t.Fatalf("history item wrong: %+v", history.Votes[0])
	}

	status = doJSON(t, ts, http.MethodGet, "/polls/does-not-exist", nil, nil, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown poll, got %d", status)
	}
}
