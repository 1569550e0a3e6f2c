package api

import (
	"context"
	"encoding/json"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/kasboard/kasboard/src/engine"
	"github.com/kasboard/kasboard/src/model"
	"github.com/kasboard/kasboard/src/postgres"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultRequestTimeout = 10 * time.Second

// Server is the JSON surface over the engine. Handlers translate between
// wire shapes and engine calls; all policy lives in the engine.
type Server struct {
	engine  *engine.Engine
	pg      *postgres.PostgresStore
	rd      *redis.Client
	logger  *zap.Logger
	timeout time.Duration
}

func NewServer(eng *engine.Engine, pg *postgres.PostgresStore, rd *redis.Client, logger *zap.Logger) *Server {
	return &Server{
		engine:  eng,
		pg:      pg,
		rd:      rd,
		logger:  logger.With(zap.String("component", "api")),
		timeout: defaultRequestTimeout,
	}
}

func (s *Server) ListenAndServe(port string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/votes", s.handleCastVote)
	mux.HandleFunc("/v1/content", s.handleRegisterContent)
	mux.HandleFunc("/v1/moderation", s.handleSetModeration)
	mux.HandleFunc("/v1/stats", s.handleStats)
	mux.HandleFunc("/v1/rank", s.handleRank)
	mux.HandleFunc("/v1/detect", s.handleDetect)
	mux.HandleFunc("/v1/periods/open", s.handleOpenPeriod)
	mux.HandleFunc("/v1/periods/close", s.handleClosePeriod)
	mux.HandleFunc("/v1/periods/settle", s.handleSettlePeriod)
	mux.HandleFunc("/v1/audit", s.handleAudit)
	s.logger.Info("api listening on port " + port)
	return http.ListenAndServe(port, mux)
}

// StartReadyzHandler serves /readyz on the default mux, which also carries
// the pprof handlers.
func (s *Server) StartReadyzHandler(port string) {
	http.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := s.pg.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(errors.Wrap(err, "failed pinging postgres").Error()))
			return
		}
		if s.rd != nil {
			if err := s.rd.Ping(r.Context()).Err(); err != nil {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte(errors.Wrap(err, "failed pinging redis").Error()))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})
	go http.ListenAndServe(port, nil)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrDuplicateBaseVote),
		errors.Is(err, model.ErrDuplicateEvent),
		errors.Is(err, model.ErrReceiptConsumed):
		return http.StatusConflict
	case errors.Is(err, model.ErrBaseBudgetExhausted),
		errors.Is(err, model.ErrBurnBudgetExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, model.ErrPeriodNotFound),
		errors.Is(err, model.ErrContentNotFound),
		errors.Is(err, model.ErrReceiptNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case model.IsRetryable(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrContentNotVotable),
		errors.Is(err, model.ErrNoOpenPeriod),
		errors.Is(err, model.ErrInvalidBurnAmount),
		errors.Is(err, model.ErrReceiptMismatch),
		errors.Is(err, model.ErrPeriodNotOpen),
		errors.Is(err, model.ErrPeriodNotClosed),
		errors.Is(err, model.ErrNoParticipants):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed request body"})
		return false
	}
	return true
}

type castVoteRequest struct {
	EventId    string `json:"event_id,omitempty"`
	Voter      string `json:"voter"`
	Content    string `json:"content"`
	Kind       string `json:"kind"`
	BurnAmount uint64 `json:"burn_amount,omitempty"`
	ReceiptId  string `json:"receipt_id,omitempty"`
}

type castVoteResponse struct {
	EventId   string    `json:"event_id"`
	Duplicate bool      `json:"duplicate"`
	Weight    uint64    `json:"weight"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	var req castVoteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	result, err := s.engine.CastVote(ctx, &engine.VoteRequest{
		EventId:    model.EventId(req.EventId),
		Voter:      model.VoterId(req.Voter),
		Content:    model.ContentId(req.Content),
		Kind:       model.VoteKind(req.Kind),
		BurnAmount: req.BurnAmount,
		ReceiptId:  model.ReceiptId(req.ReceiptId),
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, castVoteResponse{
		EventId:   string(result.Event.EventId),
		Duplicate: result.Duplicate,
		Weight:    result.Event.Weight(),
		Timestamp: result.Event.Timestamp,
	})
}

type registerContentRequest struct {
	Content   string    `json:"content"`
	Submitter string    `json:"submitter"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleRegisterContent(w http.ResponseWriter, r *http.Request) {
	var req registerContentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if err := s.engine.RegisterContent(ctx, model.ContentId(req.Content), model.VoterId(req.Submitter), createdAt); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type setModerationRequest struct {
	Content string `json:"content"`
	State   string `json:"state"`
}

func (s *Server) handleSetModeration(w http.ResponseWriter, r *http.Request) {
	var req setModerationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.engine.SetModeration(ctx, model.ContentId(req.Content), model.ModerationState(req.State)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	stats, err := s.engine.GetStats(ctx, model.PeriodId(r.URL.Query().Get("period")))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	mode := engine.RankMode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = engine.RankHot
	}
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid limit"})
			return
		}
		limit = parsed
	}
	ranked, err := s.engine.RankContent(ctx, mode, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranked)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	voter := r.URL.Query().Get("voter")
	if voter == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "voter is required"})
		return
	}
	report, err := s.engine.DetectManipulation(ctx, model.VoterId(voter))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type openPeriodRequest struct {
	OpensAt    time.Time `json:"opens_at"`
	ClosesAt   time.Time `json:"closes_at"`
	RewardPool uint64    `json:"reward_pool"`
}

func (s *Server) handleOpenPeriod(w http.ResponseWriter, r *http.Request) {
	var req openPeriodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	id, err := s.engine.OpenPeriod(ctx, req.OpensAt, req.ClosesAt, req.RewardPool)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"period_id": string(id)})
}

type periodRequest struct {
	Period string `json:"period"`
}

func (s *Server) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	if err := s.engine.ClosePeriod(ctx, model.PeriodId(req.Period)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSettlePeriod(w http.ResponseWriter, r *http.Request) {
	var req periodRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()
	receipt, err := s.engine.SettlePeriod(ctx, model.PeriodId(req.Period))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()
	report, err := s.engine.AuditIntegrity(ctx)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
