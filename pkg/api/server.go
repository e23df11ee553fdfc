package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/amino/pkg/cache"
	"github.com/cuemby/amino/pkg/domain"
	"github.com/cuemby/amino/pkg/events"
	"github.com/cuemby/amino/pkg/lifecycle"
	"github.com/cuemby/amino/pkg/log"
	"github.com/cuemby/amino/pkg/metrics"
	"github.com/cuemby/amino/pkg/queue"
	"github.com/cuemby/amino/pkg/session"
	"github.com/cuemby/amino/pkg/storage"
	"github.com/cuemby/amino/pkg/syncer"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// Network is the connectivity view served by the API
type Network interface {
	Online() bool
	CheckNow(ctx context.Context) bool
}

// Deps are the components behind the API. Cache and Gateway may be nil; a
// nil Health uses the default component registry.
type Deps struct {
	Store   *storage.Store
	Queue   *queue.Queue
	Syncer  *syncer.Engine
	Session *session.Manager
	Cache   *cache.Cache
	Gateway *domain.Gateway
	Hooks   *lifecycle.Hooks
	Broker  *events.Broker
	Network Network
	Health  *metrics.Registry
}

// Options configures the HTTP side of the API
type Options struct {
	Addr        string
	AllowedIPs  []string
	WriteIPs    []string
	CORSOrigins []string
	RateLimit   float64
	RateBurst   int
	Version     string
}

// Server is the admin HTTP API
type Server struct {
	deps       Deps
	opts       Options
	router     chi.Router
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates the server and its routes
func NewServer(deps Deps, opts Options) *Server {
	s := &Server{
		deps:   deps,
		opts:   opts,
		logger: log.WithComponent("api"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	mw := NewMiddleware(s.opts, s.logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(mw.Instrument)
	r.Use(mw.AccessControl)
	r.Use(mw.CORS)

	r.Get("/health", s.healthHandler)
	r.Get("/ready", s.readyHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mw.RateLimit)

		r.Get("/status", s.getStatus)
		r.Post("/network/check", s.checkNetwork)

		r.Get("/queue", s.getQueue)
		r.Get("/queue/stats", s.getQueueStats)
		r.Delete("/queue", s.clearQueue)
		r.Get("/queue/dead-letters", s.getDeadLetters)
		r.Delete("/queue/dead-letters", s.purgeDeadLetters)
		r.Post("/sync", s.forceSync)

		r.Get("/session", s.getSession)
		r.Post("/session/save", s.saveSession)
		r.Post("/session/validate", s.validateData)

		r.Get("/backups", s.listBackups)
		r.Post("/backups", s.createBackup)
		r.Post("/backups/restore", s.restoreBackup)
		r.Get("/backups/{slot}", s.getBackup)
		r.Get("/export", s.exportData)
		r.Post("/import", s.importData)

		r.Get("/settings", s.listSettings)
		r.Get("/settings/{key}", s.getSetting)
		r.Put("/settings/{key}", s.putSetting)

		r.Get("/cache", s.getCache)
		r.Post("/cache/install", s.installCache)
		r.Delete("/cache", s.purgeCache)
		r.Delete("/cache/{tier}", s.purgeCacheTier)

		r.Post("/lifecycle/{event}", s.fireLifecycle)
		r.Get("/events", s.streamEvents)

		r.Get("/members", s.listMembers)
		r.Post("/members", s.addMember)
		r.Put("/members/{id}", s.updateMember)
		r.Get("/payments", s.listPayments)
		r.Post("/payments", s.addPayment)
		r.Post("/attendance", s.markAttendance)
		r.Get("/activities", s.listActivities)
	})

	return r
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.opts.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	listener, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Admin API listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("admin API failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown admin API: %w", err)
	}
	s.logger.Info().Msg("Admin API stopped")
	return nil
}

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// decode reads a JSON body of at most 8MB
func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 8<<20))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
