// Package health serves the liveness, readiness and metrics endpoints.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jholhewres/chatdigest/pkg/chatdigest/channels"
	"github.com/jholhewres/chatdigest/pkg/chatdigest/daemon"
)

// Config configures the status server.
type Config struct {
	// Enabled turns the server on (default: false).
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":9090").
	Address string `yaml:"address"`
}

// DefaultConfig returns the default status server configuration.
func DefaultConfig() Config {
	return Config{Address: ":9090"}
}

// Pinger checks database connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelHealth reports a transport's state.
type ChannelHealth interface {
	Name() string
	Health() channels.HealthStatus
}

// Server is the HTTP status server.
type Server struct {
	config    Config
	db        Pinger
	channels  []ChannelHealth
	server    *http.Server
	startedAt time.Time
	logger    *slog.Logger
}

// New creates a status server. chans may be empty when no transport runs
// in this process.
func New(cfg Config, db Pinger, chans []ChannelHealth, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	return &Server{
		config:    cfg,
		db:        db,
		channels:  chans,
		startedAt: time.Now(),
		logger:    logger.With("component", "health"),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleLive)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// RunForever serves until ctx is cancelled, then shuts down and returns
// daemon.ErrShutdown. A listen failure is returned as a fault.
func (s *Server) RunForever(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()
	s.logger.Info("status server started", "address", s.config.Address)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("status server shutdown", "error", err)
	}
	return daemon.Shutdown(ctx)
}

type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type readyResponse struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks"`
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(s.startedAt).Round(time.Second).String()
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "uptime": uptime})
}

// handleReady reports 503 when the database or any transport is down.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	resp := readyResponse{Status: "ok", Checks: map[string]checkResult{}}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()
	if s.db == nil {
		resp.Checks["database"] = checkResult{Status: "fail", Message: "not initialized"}
	} else if err := s.db.Ping(ctx); err != nil {
		resp.Checks["database"] = checkResult{Status: "fail", Message: err.Error()}
	} else {
		resp.Checks["database"] = checkResult{Status: "ok"}
	}

	for _, ch := range s.channels {
		if ch.Health().Connected {
			resp.Checks[ch.Name()] = checkResult{Status: "ok"}
		} else {
			resp.Checks[ch.Name()] = checkResult{Status: "fail", Message: "disconnected"}
		}
	}

	code := http.StatusOK
	for _, c := range resp.Checks {
		if c.Status != "ok" {
			resp.Status = "fail"
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
