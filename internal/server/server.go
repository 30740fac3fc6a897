package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Tyrowin/gochat-fanout/internal/auth"
	"github.com/Tyrowin/gochat-fanout/internal/config"
	"github.com/Tyrowin/gochat-fanout/internal/dispatch"
	"github.com/Tyrowin/gochat-fanout/internal/forward"
	"github.com/Tyrowin/gochat-fanout/internal/hub"
	"github.com/Tyrowin/gochat-fanout/internal/notify"
	"github.com/Tyrowin/gochat-fanout/internal/relay"
)

// RelayStatus reports relay health. relay.Relay satisfies it.
type RelayStatus interface {
	Healthy() bool
	Stats() relay.Stats
}

// DispatchStatus is satisfied by *dispatch.Dispatcher.
type DispatchStatus interface {
	Stats() dispatch.Stats
}

// ForwardStatus is satisfied by *forward.Forwarder.
type ForwardStatus interface {
	Stats() forward.Stats
}

// Deps are the components the HTTP surface is built on. Dispatcher and
// Forwarder are optional and only feed /stats.
type Deps struct {
	Hub        *hub.Hub
	Notifier   *notify.Notifier
	Verifier   *auth.Verifier
	Relay      RelayStatus
	Dispatcher DispatchStatus
	Forwarder  ForwardStatus
}

// Server serves client websockets and the internal HTTP endpoints.
type Server struct {
	cfg      config.Config
	hub      *hub.Hub
	notifier *notify.Notifier
	verifier *auth.Verifier
	relay    RelayStatus
	dispatch DispatchStatus
	forward  ForwardStatus
	origins  *originPolicy
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// New creates a Server. cfg is sanitized before use.
func New(cfg config.Config, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.Sanitize()

	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		notifier: deps.Notifier,
		verifier: deps.Verifier,
		relay:    deps.Relay,
		dispatch: deps.Dispatcher,
		forward:  deps.Forwarder,
		origins:  newOriginPolicy(cfg.AllowedOrigins, log),
		log:      log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.origins.checkOrigin,
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// CloseAll closes every live client connection and returns how many were
// closed.
func (s *Server) CloseAll() int {
	return s.hub.CloseAll()
}
