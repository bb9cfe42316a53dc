// Package api is the Command Router: a thin chi-routed HTTP surface that is
// the sole external mutation path onto a running Manager. Every handler
// decodes a request, calls exactly one Manager method, and encodes the
// response -- it carries no business logic of its own.
package api

import (
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/riftdl/riftdl/internal/manager"
)

// Server is the Command Router. One Server wraps one Manager for the
// lifetime of the owning process.
type Server struct {
	mgr    *manager.Manager
	router *chi.Mux
	log    *slog.Logger
}

// New builds a Server with all routes registered. Call ListenAndServe (or
// use Router() directly, e.g. in a test with httptest) to serve it.
func New(mgr *manager.Manager, log *slog.Logger) *Server {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{mgr: mgr, router: chi.NewRouter(), log: log}
	s.routes()
	return s
}

// Router exposes the underlying http.Handler, e.g. for httptest.NewServer.
func (s *Server) Router() http.Handler {
	return s.router
}

// ListenAndServe binds addr and serves until the process exits or the
// listener errors; errors other than a clean shutdown are logged.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("command router listening", "addr", addr)
	return srv.ListenAndServe()
}

// Serve runs the router over an already-bound listener, for callers that
// need to pick or verify the port themselves (e.g. the CLI's port
// auto-discovery) before anything starts accepting connections.
func (s *Server) Serve(ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("command router listening", "addr", ln.Addr().String())
	return srv.Serve(ln)
}

func (s *Server) routes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(s.logRequests)

	s.router.Route("/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleAddTask)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleRemoveTask)
		r.Post("/{id}/start", s.handleTaskAction(actionStart))
		r.Post("/{id}/pause", s.handleTaskAction(actionPause))
		r.Post("/{id}/resume", s.handleTaskAction(actionResume))
		r.Post("/{id}/cancel", s.handleTaskAction(actionCancel))
	})

	s.router.Route("/control", func(r chi.Router) {
		r.Post("/start-all", s.handleBulk(func() int { return s.mgr.StartAll() }))
		r.Post("/pause-all", s.handleBulk(func() int { return s.mgr.PauseAll() }))
		r.Post("/resume-all", s.handleBulk(func() int { return s.mgr.ResumeAll() }))
		r.Post("/cancel-all", s.handleBulk(func() int { return s.mgr.CancelAll() }))
		r.Post("/retry-failed", s.handleBulk(func() int { return s.mgr.RetryFailed() }))
		r.Post("/clear-completed", s.handleBulk(func() int { return s.mgr.ClearCompleted() }))
	})

	s.router.Put("/rate-limit", s.handleSetRateLimit)
	s.router.Get("/stats", s.handleGetStats)
	s.router.Get("/config", s.handleGetConfig)
	s.router.Put("/config", s.handleUpdateConfig)
	s.router.Get("/events", s.handleEvents)
	s.router.Get("/history", s.handleGetHistory)
}

// logRequests is a minimal structured-logging middleware in place of
// chi/middleware.Logger's stdlib-log output, so request lines land in the
// same slog sinks as the rest of the process.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
		)
	})
}
