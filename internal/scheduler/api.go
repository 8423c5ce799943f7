package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"trading-assistant-go/internal/portfolio"
	"trading-assistant-go/internal/ranking"
	"trading-assistant-go/internal/signals"
	"go.uber.org/zap"
)

// APIServer exposes the scheduler and portfolio state over HTTP for
// UI consumption.
type APIServer struct {
	server    *http.Server
	scheduler *Scheduler
	portfolio *portfolio.Service
	logger    *zap.Logger
}

// NewAPIServer creates a new APIServer.
func NewAPIServer(sched *Scheduler, pf *portfolio.Service, port int, logger *zap.Logger) *APIServer {
	s := &APIServer{
		scheduler: sched,
		portfolio: pf,
		logger:    logger.Named("api-server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/candidates", s.candidatesHandler)
	mux.HandleFunc("/portfolio", s.portfolioHandler)

	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	return s
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

func (s *APIServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "OK")
}

func (s *APIServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	_, _, lastCycle := s.scheduler.Candidates()
	status := struct {
		Enabled   bool   `json:"enabled"`
		State     string `json:"state"`
		LastCycle string `json:"last_cycle,omitempty"`
		StartTime string `json:"start_time"`
		Uptime    string `json:"uptime"`
	}{
		Enabled:   s.scheduler.Enabled(),
		State:     s.scheduler.State(),
		StartTime: s.scheduler.StartTime.Format(time.RFC3339),
		Uptime:    time.Since(s.scheduler.StartTime).String(),
	}
	if !lastCycle.IsZero() {
		status.LastCycle = lastCycle.Format(time.RFC3339)
	}

	s.writeJSON(w, status)
}

func (s *APIServer) candidatesHandler(w http.ResponseWriter, r *http.Request) {
	candidates, skips, lastCycle := s.scheduler.Candidates()
	payload := struct {
		Candidates []ranking.RankedSymbol `json:"candidates"`
		Skips      []signals.SkipReason   `json:"skips"`
		AsOf       string                 `json:"as_of,omitempty"`
	}{
		Candidates: candidates,
		Skips:      skips,
	}
	if !lastCycle.IsZero() {
		payload.AsOf = lastCycle.Format(time.RFC3339)
	}

	s.writeJSON(w, payload)
}

func (s *APIServer) portfolioHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.portfolio.Snapshot()
	payload := struct {
		Balances     any `json:"balances"`
		OpenTrades   any `json:"open_trades"`
		ClosedTrades any `json:"closed_trades"`
		Transactions any `json:"transactions"`
	}{
		Balances:     snap.Balances,
		OpenTrades:   snap.OpenTrades(),
		ClosedTrades: snap.ClosedTrades(),
		Transactions: snap.Transactions,
	}

	s.writeJSON(w, payload)
}

func (s *APIServer) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to write response", zap.Error(err))
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}
