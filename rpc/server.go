package rpc

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"ctfadapter/ctf"
	"ctfadapter/explorer"
	"ctfadapter/native/market"
	"ctfadapter/oracle"
)

// Config wires the HTTP surface.
type Config struct {
	ListenAddress string
	Auth          AuthConfig
	RatePerSecond float64
	RateBurst     int
	EnableOtel    bool
}

// Server exposes the adapter over HTTP: the public question lifecycle, the
// admin failsafe surface behind bearer auth, and the oracle simulator used in
// development deployments.
type Server struct {
	cfg     Config
	engine  *market.Engine
	oracle  *oracle.Optimistic
	ledger  *ctf.Ledger
	history *explorer.History
	logger  *slog.Logger
	auth    *Authenticator
	limiter *RateLimiter
	httpSrv *http.Server
}

// NewServer assembles the HTTP server around the resolution engine and its
// satellites. The history store may be nil when the read model is disabled.
func NewServer(cfg Config, engine *market.Engine, gateway *oracle.Optimistic, ledger *ctf.Ledger, history *explorer.History, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:     cfg,
		engine:  engine,
		oracle:  gateway,
		ledger:  ledger,
		history: history,
		logger:  logger,
		auth:    NewAuthenticator(cfg.Auth, logger),
		limiter: NewRateLimiter(cfg.RatePerSecond, cfg.RateBurst),
	}
}

// Router builds the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.limiter.Middleware())

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/questions", s.handleInitialize)
		v1.Get("/questions/{id}", s.handleGetQuestion)
		v1.Get("/questions/{id}/ready", s.handleReady)
		v1.Get("/questions/{id}/condition", s.handleGetCondition)
		v1.Post("/questions/{id}/resolve", s.handleResolve)
		v1.Get("/history", s.handleHistory)

		v1.Route("/oracle/questions/{id}", func(sim chi.Router) {
			sim.Post("/propose", s.handlePropose)
			sim.Post("/dispute", s.handleDispute)
			sim.Post("/push", s.handlePush)
		})

		v1.Group(func(admin chi.Router) {
			admin.Use(s.auth.Middleware())
			admin.Post("/admin/questions/{id}/flag", s.handleFlag)
			admin.Post("/admin/questions/{id}/reset", s.handleReset)
			admin.Post("/admin/questions/{id}/pause", s.handlePause)
			admin.Post("/admin/questions/{id}/unpause", s.handleUnpause)
			admin.Post("/admin/questions/{id}/emergency-resolve", s.handleEmergencyResolve)
		})
	})

	var handler http.Handler = r
	if s.cfg.EnableOtel {
		handler = otelhttp.NewHandler(handler, "ctfadapter.rpc")
	}
	return handler
}

// Start runs the HTTP server until the context is cancelled, then drains with
// a short grace period.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:              s.cfg.ListenAddress,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(shutdownCtx)
}

type questionPayload struct {
	ID                 string `json:"id"`
	RequestTimestamp   int64  `json:"requestTimestamp"`
	AncillaryData      string `json:"ancillaryData"`
	RewardToken        string `json:"rewardToken"`
	Reward             string `json:"reward"`
	ProposalBond       string `json:"proposalBond"`
	EmergencyTimestamp int64  `json:"emergencyTimestamp,omitempty"`
	Resolved           bool   `json:"resolved"`
	Paused             bool   `json:"paused"`
	Creator            string `json:"creator"`
}

func encodeQuestion(q *market.Question) questionPayload {
	return questionPayload{
		ID:                 hex.EncodeToString(q.ID[:]),
		RequestTimestamp:   q.RequestTimestamp,
		AncillaryData:      string(q.AncillaryData),
		RewardToken:        "0x" + hex.EncodeToString(q.RewardToken[:]),
		Reward:             q.Reward.String(),
		ProposalBond:       q.ProposalBond.String(),
		EmergencyTimestamp: q.EmergencyTimestamp,
		Resolved:           q.Resolved,
		Paused:             q.Paused,
		Creator:            "0x" + hex.EncodeToString(q.Creator[:]),
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type initializeRequest struct {
	Creator       string `json:"creator"`
	AncillaryData string `json:"ancillaryData"`
	RewardToken   string `json:"rewardToken"`
	Reward        string `json:"reward"`
	ProposalBond  string `json:"proposalBond"`
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	var req initializeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	creator, ok := parseAddress(req.Creator)
	if !ok {
		writeError(w, http.StatusBadRequest, "creator is not a hex address")
		return
	}
	token, ok := parseAddress(req.RewardToken)
	if !ok {
		writeError(w, http.StatusBadRequest, "rewardToken is not a hex address")
		return
	}
	reward, ok := parseAmount(req.Reward)
	if !ok {
		writeError(w, http.StatusBadRequest, "reward is not a decimal amount")
		return
	}
	bond, ok := parseAmount(req.ProposalBond)
	if !ok {
		writeError(w, http.StatusBadRequest, "proposalBond is not a decimal amount")
		return
	}
	q, err := s.engine.Initialize(creator, []byte(req.AncillaryData), token, reward, bond)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, encodeQuestion(q))
}

func (s *Server) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	q, err := s.engine.Question(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeQuestion(q))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ready": s.engine.Ready(id)})
}

func (s *Server) handleGetCondition(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	cond, found := s.ledger.Condition(id)
	if !found {
		writeError(w, http.StatusNotFound, "condition not prepared")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"conditionId": hex.EncodeToString(cond.ID[:]),
		"questionId":  hex.EncodeToString(cond.QuestionID[:]),
		"slotCount":   cond.SlotCount,
		"reported":    cond.Reported(),
		"payouts":     cond.Payouts,
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	price, payouts, err := s.engine.Resolve(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"questionId": chi.URLParam(r, "id"),
		"price":      price.String(),
		"payouts":    []uint64{payouts[0], payouts[1]},
		"outcome":    market.OutcomeLabel(payouts),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusNotFound, "history disabled")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	rows, err := s.history.Recent(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "history query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type proposeRequest struct {
	Price string `json:"price"`
}

func (s *Server) loadForOracle(w http.ResponseWriter, r *http.Request) (*market.Question, bool) {
	id, ok := questionID(w, r)
	if !ok {
		return nil, false
	}
	q, err := s.engine.Question(id)
	if err != nil {
		s.writeEngineError(w, err)
		return nil, false
	}
	return q, true
}

func (s *Server) handlePropose(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadForOracle(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	price, okPrice := parseAmount(req.Price)
	if !okPrice || req.Price == "" {
		writeError(w, http.StatusBadRequest, "price is not a decimal amount")
		return
	}
	if err := s.oracle.ProposePrice(s.engine.Address(), q.RequestTimestamp, q.AncillaryData, price); err != nil {
		s.writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "proposed"})
}

func (s *Server) handleDispute(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadForOracle(w, r)
	if !ok {
		return
	}
	if err := s.oracle.DisputePrice(s.engine.Address(), q.RequestTimestamp, q.AncillaryData); err != nil {
		s.writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "disputed"})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	q, ok := s.loadForOracle(w, r)
	if !ok {
		return
	}
	var req proposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	price, okPrice := parseAmount(req.Price)
	if !okPrice || req.Price == "" {
		writeError(w, http.StatusBadRequest, "price is not a decimal amount")
		return
	}
	if err := s.oracle.PushPrice(s.engine.Address(), q.RequestTimestamp, q.AncillaryData, price); err != nil {
		s.writeOracleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) adminCaller(w http.ResponseWriter, r *http.Request) ([20]byte, bool) {
	caller, ok := CallerFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "caller identity required")
		return caller, false
	}
	return caller, true
}

func (s *Server) handleFlag(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Flag, "flagged")
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Reset, "reset")
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Pause, "paused")
}

func (s *Server) handleUnpause(w http.ResponseWriter, r *http.Request) {
	s.adminAction(w, r, s.engine.Unpause, "unpaused")
}

func (s *Server) adminAction(w http.ResponseWriter, r *http.Request, op func([20]byte, [32]byte) error, status string) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	if err := op(caller, id); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": status})
}

type emergencyResolveRequest struct {
	Payouts []uint64 `json:"payouts"`
}

func (s *Server) handleEmergencyResolve(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.adminCaller(w, r)
	if !ok {
		return
	}
	id, ok := questionID(w, r)
	if !ok {
		return
	}
	var req emergencyResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.engine.EmergencyResolve(caller, id, req.Payouts); err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "resolved",
		"payouts": req.Payouts,
	})
}

func questionID(w http.ResponseWriter, r *http.Request) ([32]byte, bool) {
	var id [32]byte
	raw, err := hex.DecodeString(chi.URLParam(r, "id"))
	if err != nil || len(raw) != 32 {
		writeError(w, http.StatusBadRequest, "question id must be 32 hex-encoded bytes")
		return id, false
	}
	copy(id[:], raw)
	return id, true
}

func parseAddress(raw string) ([20]byte, bool) {
	var out [20]byte
	if !common.IsHexAddress(raw) {
		return out, false
	}
	copy(out[:], common.HexToAddress(raw).Bytes())
	return out, true
}

func parseAmount(raw string) (*big.Int, bool) {
	if raw == "" {
		return big.NewInt(0), true
	}
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok || value.Sign() < 0 {
		return nil, false
	}
	return value, true
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, market.ErrNotInitialized):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, market.ErrUnauthorized), errors.Is(err, market.ErrNotOracle):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, market.ErrAlreadyInitialized),
		errors.Is(err, market.ErrAlreadyResolved),
		errors.Is(err, market.ErrAlreadyFlagged),
		errors.Is(err, market.ErrPaused),
		errors.Is(err, market.ErrNotPaused),
		errors.Is(err, market.ErrNotReady),
		errors.Is(err, market.ErrNotFlagged),
		errors.Is(err, market.ErrSafetyPeriodActive):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, market.ErrUnsupportedToken),
		errors.Is(err, market.ErrInvalidAncillary),
		errors.Is(err, market.ErrInvalidPayouts),
		errors.Is(err, market.ErrInvalidPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("engine operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeOracleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oracle.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, oracle.ErrNonCanonicalPrice):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, oracle.ErrRequestExists),
		errors.Is(err, oracle.ErrNoProposal),
		errors.Is(err, oracle.ErrLivenessExpired),
		errors.Is(err, oracle.ErrNotInFallback),
		errors.Is(err, oracle.ErrPriceUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("oracle operation failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
