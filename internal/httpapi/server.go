// Package httpapi exposes the orchestration core over HTTP: the streaming
// Turn endpoint plus the session/message/feedback auxiliary routes, grounded
// on the teacher's internal/agentd handler package but routed through
// go-chi instead of bare net/http pattern matching.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"aetheria/internal/memory"
	"aetheria/internal/orchestrator"
)

// Server wires the orchestration loop and memory store to HTTP routes.
type Server struct {
	loop   *orchestrator.Loop
	store  memory.Store
	router chi.Router
}

// NewServer builds the router. authRequired gates every route behind
// auth.CurrentUser when true; dev deployments may run with it false.
func NewServer(loop *orchestrator.Loop, store memory.Store, authRequired bool) *Server {
	s := &Server{loop: loop, store: store}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))

	r.Route("/api/v1", func(r chi.Router) {
		if authRequired {
			r.Use(s.requireAuth)
		}
		r.Post("/turn", s.handleTurn)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/sessions/{sessionID}/messages", s.handleListMessages)
		r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
		r.Post("/messages/{messageID}/feedback", s.handleFeedback)
	})

	s.router = r
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
