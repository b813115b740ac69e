package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/longregen/toolrouter/internal/adapters/http/handlers"
	"github.com/longregen/toolrouter/internal/adapters/http/middleware"
)

type Options struct {
	Addr        string
	CORSOrigins []string
	Version     string
}

type Deps struct {
	Router handlers.ToolRouter
	// Hub is optional; server routes are only mounted when it is set.
	Hub    handlers.ServerHub
	Events handlers.EventSource
	Logger *slog.Logger
}

type Server struct {
	opts       Options
	deps       Deps
	logger     *slog.Logger
	router     *chi.Mux
	httpServer *http.Server
}

func NewServer(opts Options, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{
		opts:   opts,
		deps:   deps,
		logger: deps.Logger.With("component", "http"),
	}
	s.setupRouter()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0, // No write timeout for SSE streaming
		IdleTimeout:       120 * time.Second,
	}
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()

	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.Recovery(s.logger))
	r.Use(middleware.CORS(s.opts.CORSOrigins))
	r.Use(middleware.Metrics)

	healthHandler := handlers.NewHealthHandler(s.deps.Router, s.opts.Version)
	r.Get("/health", healthHandler.Handle)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.HandleReport)

		toolsHandler := handlers.NewToolsHandler(s.deps.Router)
		r.Get("/tools/search", toolsHandler.Search)
		r.Post("/tools/refresh", toolsHandler.Refresh)
		r.Post("/tools/{id}/execute", toolsHandler.Execute)
		r.Get("/tools/{id}/preview", toolsHandler.Preview)
		r.Get("/categories", toolsHandler.Categories)
		r.Get("/categories/{category}/tools", toolsHandler.CategoryTools)
		r.Post("/executions/{messageID}/abort", toolsHandler.Abort)

		prefsHandler := handlers.NewPreferencesHandler(s.deps.Router)
		r.Get("/preferences", prefsHandler.Get)
		r.Get("/preferences/weights/{id}", prefsHandler.GetWeight)
		r.Put("/preferences/weights/{id}", prefsHandler.PutWeight)
		r.Post("/preferences/rules", prefsHandler.AddRule)
		r.Delete("/preferences/rules/{id}", prefsHandler.RemoveRule)

		if s.deps.Hub != nil {
			serversHandler := handlers.NewServersHandler(s.deps.Hub)
			r.Get("/servers", serversHandler.List)
			r.Post("/servers", serversHandler.Add)
			r.Post("/servers/import", serversHandler.Import)
			r.Get("/servers/export", serversHandler.Export)
			r.Delete("/servers/{id}", serversHandler.Remove)
			r.Post("/servers/{id}/connect", serversHandler.Connect)
			r.Post("/servers/{id}/disconnect", serversHandler.Disconnect)
		}

		if s.deps.Events != nil {
			eventsHandler := handlers.NewEventsHandler(s.deps.Events, s.logger)
			r.Get("/events", eventsHandler.Stream)
		}
	})

	s.router = r
}

// Start serves until Stop is called. It returns nil after a clean shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.opts.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Router() *chi.Mux {
	return s.router
}
