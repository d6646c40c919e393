// Package server is the operator surface: manual worker controls, refund
// archive listing, health, and metrics. Everything mutating sits behind the
// admin HMAC.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"basednames/internal/archive"
	"basednames/internal/chain"
	"basednames/internal/engine"
	"basednames/internal/hmacauth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

type Config struct {
	HTTPPort      int
	AdminSecret   string
	HMACClockSkew time.Duration
}

type Server struct {
	eng        *engine.Engine
	hmac       *hmacauth.Verifier
	httpServer *http.Server
	log        zerolog.Logger

	chainHealth   func(context.Context) error
	archiveHealth func(context.Context) error
}

func NewServer(cfg Config, eng *engine.Engine, chainClient chain.Client, store archive.Store, log zerolog.Logger) *Server {
	s := &Server{
		eng:  eng,
		hmac: hmacauth.NewVerifier(cfg.AdminSecret, cfg.HMACClockSkew),
		log:  log.With().Str("component", "server").Logger(),
	}

	if checker, ok := chainClient.(chain.HealthChecker); ok {
		s.chainHealth = checker.Ping
	}
	if checker, ok := store.(interface{ Ping(context.Context) error }); ok {
		s.archiveHealth = checker.Ping
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/api/v1/metrics", eng.Metrics().Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.hmac.Middleware)
		r.Get("/api/v1/refunds", s.handleRefunds)
		r.Post("/api/v1/admin/restart", s.handleRestart)
		r.Post("/api/v1/admin/refund", s.handleRefund)
		r.Post("/api/v1/admin/sweep", s.handleSweep)
	})

	s.httpServer = &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.HTTPPort),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
	}
	return s
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("API listening")
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type restartRequest struct {
	Queue string `json:"queue"`
}

type restartResponse struct {
	Queue   string `json:"queue"`
	Started bool   `json:"started"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	started, err := s.eng.Restart(req.Queue)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info().Str("queue", req.Queue).Bool("started", started).Msg("worker restart requested")
	writeJSON(w, http.StatusOK, restartResponse{Queue: req.Queue, Started: started})
}

type refundRequest struct {
	Address        string `json:"address"`
	DerivationPath string `json:"path"`
}

type refundResponse struct {
	RequestID string `json:"requestId"`
	Status    string `json:"status"`
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json payload")
		return
	}

	item, err := s.eng.ForceRefund(req.Address, req.DerivationPath)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.log.Info().Str("address", req.Address).Str("request_id", item.RequestID).Msg("manual refund accepted")
	writeJSON(w, http.StatusAccepted, refundResponse{RequestID: item.RequestID, Status: "queued"})
}

type sweepResponse struct {
	Processed int `json:"processed"`
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	processed, err := s.eng.Sweep(r.Context())
	if err != nil {
		// a missing searcher is a deployment state, not an upstream failure
		code := http.StatusBadGateway
		if errors.Is(err, engine.ErrNoSearcher) {
			code = http.StatusConflict
		}
		writeError(w, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sweepResponse{Processed: processed})
}

func (s *Server) handleRefunds(w http.ResponseWriter, r *http.Request) {
	entries, err := s.eng.Refunds(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []archive.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type healthResponse struct {
	Status        string `json:"status"`
	Chain         string `json:"chain"`
	Archive       string `json:"archive"`
	DepositQueue  int    `json:"depositQueue"`
	RefundQueue   int    `json:"refundQueue"`
	Conversations int    `json:"conversations"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Chain: "ok", Archive: "ok"}
	resp.DepositQueue, resp.RefundQueue = s.eng.QueueDepths()
	resp.Conversations = s.eng.Tracker().Len()

	if s.chainHealth != nil {
		if err := s.chainHealth(ctx); err != nil {
			resp.Chain = "unreachable"
			resp.Status = "degraded"
		}
	}
	if s.archiveHealth != nil {
		if err := s.archiveHealth(ctx); err != nil {
			resp.Archive = "unreachable"
			resp.Status = "degraded"
		}
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
