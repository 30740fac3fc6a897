package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/auth"
	"github.com/Tyrowin/gochat-fanout/internal/event"
)

const maxEventBodyBytes = 1 << 20

var errMissingToken = errors.New("missing token")

// WebSocketHandler upgrades a client connection. A valid token auto-joins the
// connection to its user room.
func (s *Server) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := s.authenticate(r)
	if err != nil {
		if !errors.Is(err, errMissingToken) || s.cfg.RequireAuth {
			s.log.Info("rejected websocket connection", zap.String("addr", r.RemoteAddr), zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	client, ok := s.upgrade(w, r, userID.String())
	if !ok {
		return
	}
	if userID != "" {
		s.hub.Join(event.UserRoom(userID), client.id)
	}
	client.start()
}

// CommentStreamHandler upgrades a connection subscribed to one post's
// comment stream. A token is optional here.
func (s *Server) CommentStreamHandler(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "post id is required")
		return
	}

	userID, err := s.authenticate(r)
	if err != nil && !errors.Is(err, errMissingToken) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	client, ok := s.upgrade(w, r, userID.String())
	if !ok {
		return
	}
	s.hub.Join(event.PostRoom(event.ID(postID)), client.id)
	client.start()
}

func (s *Server) upgrade(w http.ResponseWriter, r *http.Request, userID string) (*Client, bool) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Info("websocket upgrade failed", zap.String("addr", r.RemoteAddr), zap.Error(err))
		return nil, false
	}

	client := NewClient(context.WithoutCancel(r.Context()), conn, s, userID, r.RemoteAddr)
	s.hub.Register(client)
	client.log.Debug("client connected", zap.String("user", userID))
	return client, true
}

// authenticate returns the user named by the request token.
func (s *Server) authenticate(r *http.Request) (event.ID, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		}
	}
	if token == "" {
		return "", errMissingToken
	}
	if !s.verifier.Enabled() {
		return "", auth.ErrNoSecret
	}
	return s.verifier.Verify(token)
}

// EventsHandler accepts one relay-wire event from a write path in another
// process. Delivery is best effort; only a malformed body is an error.
func (s *Server) EventsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := event.Decode(body)
	if err != nil {
		s.log.Info("rejected malformed event", zap.Error(err))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.notifier.Notify(context.WithoutCancel(r.Context()), ev)
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type healthResponse struct {
	Status      string `json:"status"`
	Relay       bool   `json:"relay"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// HealthHandler reports process health. It answers 503 while the relay
// subscription is down.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, conns := s.hub.Stats()
	resp := healthResponse{Status: "ok", Relay: true, Connections: conns, Rooms: rooms}
	code := http.StatusOK

	if s.relay != nil && !s.relay.Healthy() {
		resp.Status = "degraded"
		resp.Relay = false
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// StatsHandler reports the counters of every component.
func (s *Server) StatsHandler(w http.ResponseWriter, _ *http.Request) {
	rooms, conns := s.hub.Stats()
	resp := map[string]any{
		"hub": map[string]int{"connections": conns, "rooms": rooms},
	}
	if s.relay != nil {
		resp["relay"] = s.relay.Stats()
	}
	if s.dispatch != nil {
		resp["dispatcher"] = s.dispatch.Stats()
	}
	if s.forward != nil {
		resp["forwarder"] = s.forward.Stats()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
