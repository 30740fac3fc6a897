package server

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// routes wires the handlers into a chi router.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.HealthHandler)
	r.Get("/ws", s.WebSocketHandler)
	r.Get("/ws/comments/{postID}", s.CommentStreamHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))
		r.Get("/stats", s.StatsHandler)
		r.With(s.requireEventsToken).Post("/api/events", s.EventsHandler)
	})
	return r
}

// EventsTokenHeader carries the shared secret for POST /api/events.
const EventsTokenHeader = "X-Events-Token"

// requireEventsToken rejects requests without the configured events token.
// With no token configured the endpoint is open and must stay on an internal
// network.
func (s *Server) requireEventsToken(next http.Handler) http.Handler {
	want := []byte(s.cfg.EventsToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(want) > 0 && subtle.ConstantTimeCompare([]byte(r.Header.Get(EventsTokenHeader)), want) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid events token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs each request with zap once it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
