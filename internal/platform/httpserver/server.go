package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	pollengine "agora/contexts/governance/poll-engine"
	domainerrors "agora/contexts/governance/poll-engine/domain/errors"
	polltransport "agora/contexts/governance/poll-engine/transport/http"
	_ "agora/internal/platform/httpserver/docs"

	"github.com/rs/cors"
	httpSwagger "github.com/swaggo/http-swagger"
)

type Server struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	addr           string
	allowedOrigins []string
	engine         pollengine.Module
}

func New(engine pollengine.Module, logger *slog.Logger, addr string, allowedOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:            http.NewServeMux(),
		logger:         logger,
		addr:           addr,
		allowedOrigins: allowedOrigins,
		engine:         engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	return http.ListenAndServe(s.addr, s.Handler())
}

// Handler returns the routed handler with CORS applied. Exposed separately so
// tests can drive the server through httptest.
func (s *Server) Handler() http.Handler {
	corsOptions := cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-User-Id", "X-Wallet-Address"},
	}
	return cors.New(corsOptions).Handler(s.mux)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.mux.HandleFunc("POST /polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /polls", s.handleListPolls)
	s.mux.HandleFunc("GET /polls/user", s.handleUserPolls)
	s.mux.HandleFunc("GET /polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("POST /polls/{poll_id}/vote", s.handleCastVote)
	s.mux.HandleFunc("GET /users/votes", s.handleVoteHistory)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(userID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required", false)
		return
	}

	var req polltransport.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", false)
		return
	}

	resp, err := s.engine.Handler.CreatePollHandler(
		r.Context(),
		userID,
		r.Header.Get("Idempotency-Key"),
		req,
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListPolls(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, limit, ok := parsePagination(w, query.Get("page"), query.Get("limit"))
	if !ok {
		return
	}
	resp, err := s.engine.Handler.ListPollsHandler(r.Context(), query.Get("status"), page, limit)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	pollID := r.PathValue("poll_id")
	viewerID := r.Header.Get("X-User-Id")
	resp, err := s.engine.Handler.GetPollHandler(r.Context(), pollID, viewerID)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(userID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required", false)
		return
	}
	walletAddress := r.Header.Get("X-Wallet-Address")
	if strings.TrimSpace(walletAddress) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_wallet", "X-Wallet-Address header is required", false)
		return
	}

	var req polltransport.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON", false)
		return
	}

	resp, err := s.engine.Handler.CastVoteHandler(
		r.Context(),
		r.PathValue("poll_id"),
		userID,
		walletAddress,
		req,
	)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUserPolls(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(userID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required", false)
		return
	}
	query := r.URL.Query()
	page, limit, ok := parsePagination(w, query.Get("page"), query.Get("limit"))
	if !ok {
		return
	}
	resp, err := s.engine.Handler.UserPollsHandler(r.Context(), userID, page, limit)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVoteHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.Header.Get("X-User-Id")
	if strings.TrimSpace(userID) == "" {
		writePollError(w, http.StatusUnauthorized, "missing_user", "X-User-Id header is required", false)
		return
	}
	query := r.URL.Query()
	page, limit, ok := parsePagination(w, query.Get("page"), query.Get("limit"))
	if !ok {
		return
	}
	resp, err := s.engine.Handler.VoteHistoryHandler(r.Context(), userID, page, limit)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parsePagination(w http.ResponseWriter, pageRaw string, limitRaw string) (int, int, bool) {
	page, limit := 0, 0
	if pageRaw != "" {
		parsed, err := strconv.Atoi(pageRaw)
		if err != nil {
			writePollError(w, http.StatusBadRequest, "invalid_page", "page must be an integer", false)
			return 0, 0, false
		}
		page = parsed
	}
	if limitRaw != "" {
		parsed, err := strconv.Atoi(limitRaw)
		if err != nil {
			writePollError(w, http.StatusBadRequest, "invalid_limit", "limit must be an integer", false)
			return 0, 0, false
		}
		limit = parsed
	}
	return page, limit, true
}

func writePollDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domainerrors.ErrPollNotFound),
		errors.Is(err, domainerrors.ErrVoteNotFound):
		writePollError(w, http.StatusNotFound, "not_found", err.Error(), false)
	case errors.Is(err, domainerrors.ErrInvalidPollInput),
		errors.Is(err, domainerrors.ErrInvalidOption):
		writePollError(w, http.StatusBadRequest, "invalid_input", err.Error(), false)
	case errors.Is(err, domainerrors.ErrPollEnded):
		writePollError(w, http.StatusBadRequest, "poll_ended", err.Error(), false)
	case errors.Is(err, domainerrors.ErrAlreadyVoted):
		writePollError(w, http.StatusBadRequest, "already_voted", err.Error(), false)
	case errors.Is(err, domainerrors.ErrIdempotencyKeyRequired):
		writePollError(w, http.StatusBadRequest, "idempotency_key_required", err.Error(), false)
	case errors.Is(err, domainerrors.ErrIdempotencyConflict),
		errors.Is(err, domainerrors.ErrDuplicateVote):
		writePollError(w, http.StatusConflict, "conflict", err.Error(), false)
	case errors.Is(err, domainerrors.ErrOperationInFlight):
		writePollError(w, http.StatusConflict, "operation_in_flight", err.Error(), true)
	case errors.Is(err, domainerrors.ErrLedgerRejected):
		writePollError(w, http.StatusBadRequest, "ledger_rejected", err.Error(), false)
	case errors.Is(err, domainerrors.ErrLedgerUnavailable):
		writePollError(w, http.StatusServiceUnavailable, "ledger_unavailable", err.Error(), true)
	default:
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error", false)
	}
}

func writePollError(w http.ResponseWriter, status int, code string, message string, retryable bool) {
	writeJSON(w, status, polltransport.ErrorResponse{
		Code:      code,
		Message:   message,
		Retryable: retryable,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
