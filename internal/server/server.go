package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"tokenbank/internal/bank"
	"tokenbank/internal/config"
	"tokenbank/internal/hmacauth"
	"tokenbank/internal/history"
	"tokenbank/internal/ledger"
)

// Server exposes the controller to the presentation layer: intent endpoints,
// cached view state, history, health and metrics.
type Server struct {
	cfg         *config.AppConfig
	ctrl        *bank.Controller
	journal     history.Store
	hmac        *hmacauth.Verifier
	httpServer  *http.Server
	metrics     *metricsRegistry
	rpcHealthFn func(context.Context) error
	dbHealthFn  func(context.Context) error
}

func NewServer(cfg *config.AppConfig, ctrl *bank.Controller, client ledger.Client, journal history.Store) *Server {
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		journal: journal,
		hmac:    hmacauth.NewVerifier(cfg.Service.HMACSecret, cfg.Service.HMACClockSkew),
		metrics: newMetricsRegistry(),
	}

	if checker, ok := client.(ledger.HealthChecker); ok {
		s.rpcHealthFn = checker.Ping
	}
	if checker, ok := journal.(interface{ Ping(context.Context) error }); ok {
		s.dbHealthFn = checker.Ping
	}

	mux := http.NewServeMux()
	mux.Handle("/api/v1/deposits", s.hmac.Middleware(http.HandlerFunc(s.handleDeposit)))
	mux.Handle("/api/v1/withdrawals", s.hmac.Middleware(http.HandlerFunc(s.handleWithdraw)))
	mux.HandleFunc("/api/v1/refresh", s.handleRefresh)
	mux.HandleFunc("/api/v1/state", s.handleState)
	mux.HandleFunc("/api/v1/history", s.handleHistory)
	mux.Handle("/api/v1/metrics", s.metrics.handler())
	mux.HandleFunc("/api/v1/health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Service.HTTPPort),
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	log.Printf("API listening on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ObserveOutcome is wired as the controller's notifier: it logs terminal
// outcomes and keeps the confirmation metrics and lane gauges current.
func (s *Server) ObserveOutcome(o bank.Outcome) {
	if o.Err != nil {
		log.Printf("%s %s failed (tx %s): %v", o.Kind, o.Amount, o.TxID, o.Err)
		s.metrics.incConfirmation(o.Kind, "failed")
	} else {
		log.Printf("%s %s confirmed (tx %s)", o.Kind, o.Amount, o.TxID)
		s.metrics.incConfirmation(o.Kind, "confirmed")
	}
	s.updateLaneGauges()
}

func (s *Server) updateLaneGauges() {
	snap := s.ctrl.Snapshot()
	s.metrics.setLane("deposit", snap.Deposit.Pending)
	s.metrics.setLane("withdraw", snap.Withdraw.Pending)
}

type intentRequest struct {
	Amount string `json:"amount"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.handleIntent(w, r, ledger.OpDeposit, s.ctrl.RequestDeposit)
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	s.handleIntent(w, r, ledger.OpWithdraw, s.ctrl.RequestWithdraw)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request, kind string, request func(context.Context, string) error) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var payload intentRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.incIntent(kind, "rejected")
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid json payload"})
		return
	}

	if err := request(r.Context(), payload.Amount); err != nil {
		s.metrics.incIntent(kind, "rejected")
		writeJSON(w, statusFor(err), errorResponse{Error: err.Error()})
		return
	}

	s.metrics.incIntent(kind, "accepted")
	s.updateLaneGauges()
	writeJSON(w, http.StatusAccepted, s.ctrl.Snapshot())
}

// statusFor maps the error taxonomy onto HTTP: malformed input 400, occupied
// lane 409, ledger failures 502.
func statusFor(err error) int {
	var verr *bank.ValidationError
	if errors.As(err, &verr) {
		if verr.LaneBusy {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	}
	return http.StatusBadGateway
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := s.ctrl.Refresh(r.Context()); err != nil {
		s.metrics.incRefreshFailure()
		writeJSON(w, http.StatusBadGateway, struct {
			Error string        `json:"error"`
			State bank.Snapshot `json:"state"`
		}{Error: err.Error(), State: s.ctrl.Snapshot()})
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	entries, err := s.journal.Recent(r.Context(), s.cfg.Service.HistoryLimit)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	overallHealthy := true

	rpcInfo := struct {
		Connected bool    `json:"connected"`
		LatencyMs float64 `json:"latency_ms"`
		Error     string  `json:"error,omitempty"`
	}{}

	if s.rpcHealthFn != nil {
		start := time.Now()
		rpcCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.rpcHealthFn(rpcCtx); err != nil {
			rpcInfo.Connected = false
			rpcInfo.Error = err.Error()
			overallHealthy = false
		} else {
			rpcInfo.Connected = true
			rpcInfo.LatencyMs = float64(time.Since(start).Microseconds()) / 1000.0
		}
	} else {
		rpcInfo.Connected = true
	}

	dbInfo := struct {
		Connected bool   `json:"connected"`
		Error     string `json:"error,omitempty"`
	}{Connected: true}

	if s.dbHealthFn != nil {
		dbCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.dbHealthFn(dbCtx); err != nil {
			dbInfo.Connected = false
			dbInfo.Error = err.Error()
			overallHealthy = false
		}
	}

	status := "healthy"
	code := http.StatusOK
	if !overallHealthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	writeJSON(w, code, struct {
		Status   string      `json:"status"`
		RPC      interface{} `json:"rpc"`
		Database interface{} `json:"database"`
	}{Status: status, RPC: rpcInfo, Database: dbInfo})
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-Id") == "" {
			r.Header.Set("X-Request-Id", fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		next.ServeHTTP(w, r)
	})
}
