// Package api exposes the reconciliation engine over HTTP: transfer-status
// queries, vote-transaction ingestion, health and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/hubscan/reconciler-go/api/middleware"
	"github.com/hubscan/reconciler-go/hub"
	"github.com/hubscan/reconciler-go/poll"
	"github.com/hubscan/reconciler-go/transfer"
)

// Server serves the engine's HTTP API.
type Server struct {
	config    *Config
	logger    *zap.Logger
	transfers *transfer.Service
	polls     *poll.Resolver
	router    *chi.Mux
	server    *http.Server
}

// NewServer creates an API server over the transfer service and poll
// resolver.
func NewServer(config *Config, logger *zap.Logger, transfers *transfer.Service, polls *poll.Resolver) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    config,
		logger:    logger,
		transfers: transfers,
		polls:     polls,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         config.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))
	if s.config.EnableRateLimit {
		s.router.Use(apimiddleware.RateLimit(
			s.config.RateLimitPerSecond,
			s.config.RateLimitBurst,
			s.logger,
		))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Handle("/metrics", promhttp.Handler())
	s.router.Get("/transfers/status", s.handleTransfersStatus)
	s.router.Post("/transfers/status", s.handleTransfersStatus)
	s.router.Post("/polls/tx", s.handlePollTx)
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("api server starting", zap.String("address", s.config.Address()))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("api server stopping")
	return s.server.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTransfersStatus answers transfer-status lookups. Parameters come
// from the query string on GET and from a JSON body on POST.
func (s *Server) handleTransfersStatus(w http.ResponseWriter, r *http.Request) {
	var params transfer.Params
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	} else {
		q := r.URL.Query()
		params = transfer.Params{
			TxHash:           q.Get("txHash"),
			SourceChain:      q.Get("sourceChain"),
			DepositAddress:   q.Get("depositAddress"),
			RecipientAddress: q.Get("recipientAddress"),
		}
	}
	if params.TxHash == "" && params.DepositAddress == "" && params.RecipientAddress == "" {
		writeError(w, http.StatusBadRequest, "txHash or depositAddress required")
		return
	}

	records, err := s.transfers.Status(r.Context(), params)
	if err != nil {
		s.logger.Error("transfer status query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if records == nil {
		records = []transfer.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total": len(records),
		"data":  records,
	})
}

// handlePollTx ingests one decoded hub transaction and resolves the vote
// messages it carries.
func (s *Server) handlePollTx(w http.ResponseWriter, r *http.Request) {
	var tx hub.TxResult
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction payload")
		return
	}
	if tx.TxResponse.TxHash == "" {
		writeError(w, http.StatusBadRequest, "txhash required")
		return
	}
	s.polls.ProcessTxResult(r.Context(), &tx)
	writeJSON(w, http.StatusAccepted, map[string]string{"txhash": tx.TxResponse.TxHash})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
