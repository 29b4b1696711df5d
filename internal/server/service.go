// Package server exposes the console's query/command API to the UI
// layer: prompt CRUD and search, session reads, global metrics, and
// realtime connect/disconnect/send commands.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/freyalabs/console/internal/config"
	"github.com/freyalabs/console/internal/metrics"
	"github.com/freyalabs/console/internal/prompts"
	"github.com/freyalabs/console/internal/realtime"
	"github.com/freyalabs/console/internal/server/sse"
	"github.com/freyalabs/console/internal/sessions"
	"github.com/freyalabs/console/internal/store"
)

// Service wires the repositories, aggregator, and controller behind the
// HTTP API.
type Service struct {
	version     string
	config      *config.Config
	store       *store.Store
	prompts     *prompts.Repository
	sessions    *sessions.Repository
	aggregator  *metrics.Aggregator
	controller  *realtime.Controller
	broadcaster *sse.Broadcaster
	router      chi.Router
	ready       atomic.Bool
	startTime   time.Time
}

// Deps carries the collaborators a Service needs.
type Deps struct {
	Version     string
	Config      *config.Config
	Store       *store.Store
	Prompts     *prompts.Repository
	Sessions    *sessions.Repository
	Aggregator  *metrics.Aggregator
	Controller  *realtime.Controller
	Broadcaster *sse.Broadcaster
}

// New creates the service and mounts its routes.
func New(deps Deps) *Service {
	s := &Service{
		version:     deps.Version,
		config:      deps.Config,
		store:       deps.Store,
		prompts:     deps.Prompts,
		sessions:    deps.Sessions,
		aggregator:  deps.Aggregator,
		controller:  deps.Controller,
		broadcaster: deps.Broadcaster,
		router:      chi.NewRouter(),
		startTime:   time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Service) setupRoutes() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)

	s.router.Get("/api/health", s.handleHealth)
	s.router.Get("/api/ready", s.handleReady)
	s.router.Get("/api/version", s.handleVersion)

	s.router.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Get("/api/prompts", s.handleListPrompts)
		r.Post("/api/prompts", s.handleCreatePrompt)
		r.Get("/api/prompts/{id}", s.handleGetPrompt)
		r.Put("/api/prompts/{id}", s.handleUpdatePrompt)
		r.Delete("/api/prompts/{id}", s.handleDeletePrompt)

		r.Get("/api/sessions", s.handleListSessions)
		r.Get("/api/sessions/{id}", s.handleGetSession)

		r.Get("/api/metrics", s.handleGlobalMetrics)

		r.Post("/api/realtime/connect", s.handleConnect)
		r.Post("/api/realtime/disconnect", s.handleDisconnect)
		r.Post("/api/realtime/messages", s.handleSendMessage)
		r.Post("/api/realtime/microphone", s.handleMicrophone)
		r.Get("/api/realtime/status", s.handleRealtimeStatus)

		r.Get("/api/events", s.broadcaster.ServeHTTP)
	})
}

// Run serves HTTP and drives the controller loop until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := s.controller.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.ready.Store(true)
		log.Info().Int("port", s.config.HTTPPort).Str("version", s.version).Msg("Console API listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	return g.Wait()
}

// Router exposes the mux, mainly for tests.
func (s *Service) Router() chi.Router {
	return s.router
}

// requireReady rejects requests until startup has completed.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			writeError(w, http.StatusServiceUnavailable, "service not ready")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	promptCount, sessionCount := s.store.Counts()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"version":  s.version,
		"uptime":   time.Since(s.startTime).Round(time.Second).String(),
		"prompts":  promptCount,
		"sessions": sessionCount,
	})
}

func (s *Service) handleReady(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}
