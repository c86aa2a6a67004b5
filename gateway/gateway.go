package gateway

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tandachain/explorer"
	"tandachain/native/terms"
)

// Server exposes the term registry over HTTP: read-only summaries, the event
// index and the write operations of the term lifecycle.
type Server struct {
	registry *terms.Registry
	index    *explorer.Recorder
	logger   *slog.Logger
	router   chi.Router
}

// New builds the gateway over the registry and the optional event index.
func New(registry *terms.Registry, index *explorer.Recorder, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{registry: registry, index: index, logger: logger}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(chimiddleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/v1/terms", func(r chi.Router) {
		r.Post("/", s.handleCreateTerm)
		r.Route("/{termID}", func(r chi.Router) {
			r.Get("/", s.handleSummary)
			r.Get("/users/{addr}", s.handleUserSummary)
			r.Get("/events", s.handleEvents)
			r.Post("/join", s.handleJoin)
			r.Post("/start", s.handleStart)
			r.Post("/expire", s.handleExpire)
			r.Post("/pay", s.handlePay)
			r.Post("/close-funding", s.handleCloseFunding)
			r.Post("/new-cycle", s.handleNewCycle)
			r.Post("/withdraw-fund", s.handleWithdrawFund)
			r.Post("/withdraw-collateral", s.handleWithdrawCollateral)
			r.Post("/claim-yield", s.handleClaimYield)
		})
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Serve runs the gateway until the context is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	summary, err := s.registry.Summary(termID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleUserSummary(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	addr, err := parseAddress(chi.URLParam(r, "addr"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	summary, err := s.registry.UserSummaryFor(termID, addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeJSON(w, http.StatusNotFound, errorBody(errors.New("event index disabled")))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	rows, err := s.index.EventsByTerm(chi.URLParam(r, "termID"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

type createTermRequest struct {
	Owner              string `json:"owner"`
	RegistrationPeriod uint64 `json:"registrationPeriod"`
	TotalParticipants  uint64 `json:"totalParticipants"`
	CycleTime          uint64 `json:"cycleTime"`
	ContributionPeriod uint64 `json:"contributionPeriod"`
	ContributionAmount string `json:"contributionAmount"`
	StableToken        string `json:"stableToken"`
}

func (s *Server) handleCreateTerm(w http.ResponseWriter, r *http.Request) {
	var req createTermRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	owner, err := parseAddress(req.Owner)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	amount, err := parseAmount(req.ContributionAmount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	id, err := s.registry.CreateTerm(owner, terms.CreateTermParams{
		RegistrationPeriod: req.RegistrationPeriod,
		TotalParticipants:  req.TotalParticipants,
		CycleTime:          req.CycleTime,
		ContributionPeriod: req.ContributionPeriod,
		ContributionAmount: amount,
		StableToken:        req.StableToken,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]uint64{"termId": id})
}

type joinRequest struct {
	User     string `json:"user"`
	Amount   string `json:"amount"`
	OptYield bool   `json:"optYield"`
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	user, err := parseAddress(req.User)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if err := s.registry.JoinTerm(termID, user, amount, req.OptYield); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "joined"})
}

type callerRequest struct {
	Caller string `json:"caller"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	s.callerAction(w, r, s.registry.StartTerm)
}

func (s *Server) handleExpire(w http.ResponseWriter, r *http.Request) {
	s.callerAction(w, r, s.registry.ExpireTerm)
}

func (s *Server) callerAction(w http.ResponseWriter, r *http.Request, fn func(uint64, [20]byte) error) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	var req callerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	if err := fn(termID, caller); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type payRequest struct {
	Payer       string `json:"payer"`
	Participant string `json:"participant"`
}

func (s *Server) handlePay(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	var req payRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	payer, err := parseAddress(req.Payer)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return
	}
	participant := payer
	if req.Participant != "" {
		if participant, err = parseAddress(req.Participant); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err))
			return
		}
	}
	if err := s.registry.PayContribution(termID, payer, participant); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "paid"})
}

func (s *Server) handleCloseFunding(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	if err := s.registry.CloseFundingPeriod(termID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleNewCycle(w http.ResponseWriter, r *http.Request) {
	termID, ok := s.termID(w, r)
	if !ok {
		return
	}
	if err := s.registry.StartNewCycle(termID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "advanced"})
}

type withdrawRequest struct {
	Caller string `json:"caller"`
	To     string `json:"to"`
}

func (s *Server) withdrawAddrs(w http.ResponseWriter, r *http.Request) (uint64, [20]byte, [20]byte, bool) {
	termID, ok := s.termID(w, r)
	if !ok {
		return 0, [20]byte{}, [20]byte{}, false
	}
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return 0, [20]byte{}, [20]byte{}, false
	}
	caller, err := parseAddress(req.Caller)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err))
		return 0, [20]byte{}, [20]byte{}, false
	}
	to := caller
	if req.To != "" {
		if to, err = parseAddress(req.To); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody(err))
			return 0, [20]byte{}, [20]byte{}, false
		}
	}
	return termID, caller, to, true
}

func (s *Server) handleWithdrawFund(w http.ResponseWriter, r *http.Request) {
	termID, caller, to, ok := s.withdrawAddrs(w, r)
	if !ok {
		return
	}
	stable, native, err := s.registry.WithdrawFund(termID, caller, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount":       stable.String(),
		"amountNative": native.String(),
	})
}

func (s *Server) handleWithdrawCollateral(w http.ResponseWriter, r *http.Request) {
	termID, caller, to, ok := s.withdrawAddrs(w, r)
	if !ok {
		return
	}
	amount, err := s.registry.WithdrawCollateral(termID, caller, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) handleClaimYield(w http.ResponseWriter, r *http.Request) {
	termID, caller, to, ok := s.withdrawAddrs(w, r)
	if !ok {
		return
	}
	amount, err := s.registry.ClaimYield(termID, caller, to)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount": amount.String()})
}

func (s *Server) termID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, "termID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.New("invalid term id")))
		return 0, false
	}
	return id, true
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	s.logger.Warn("gateway: request failed", "err", err)
	writeJSON(w, http.StatusUnprocessableEntity, errorBody(err))
}

func parseAddress(raw string) ([20]byte, error) {
	var addr [20]byte
	if len(raw) >= 2 && raw[0] == '0' && (raw[1] == 'x' || raw[1] == 'X') {
		raw = raw[2:]
	}
	decoded, err := hex.DecodeString(raw)
	if err != nil || len(decoded) != 20 {
		return addr, errors.New("invalid address")
	}
	copy(addr[:], decoded)
	return addr, nil
}

func parseAmount(raw string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, errors.New("invalid amount")
	}
	return amount, nil
}

func errorBody(err error) map[string]string {
	return map[string]string{"error": err.Error()}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
