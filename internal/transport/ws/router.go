package ws

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"asrgateway/internal/platform/logging"
	"asrgateway/internal/platform/observability"
)

// HandlerBuilder creates a session handler for an upgraded websocket connection.
type HandlerBuilder func(conn *Connection, req *http.Request) (SessionHandler, error)

// Router is responsible for upgrading HTTP connections to websocket sessions.
type Router struct {
	hub    *Hub
	logger *logging.Logger

	upgrader         *websocket.Upgrader
	handshakeTimeout time.Duration
	builder          atomic.Value // HandlerBuilder
}

// RouterOptions configures the websocket router.
type RouterOptions struct {
	HandshakeTimeout time.Duration
	CheckOrigin      func(r *http.Request) bool
	// AllowedOrigins restricts the Origin header's hostname to this set,
	// in addition to localhost/127.0.0.1. Ignored if CheckOrigin is set.
	AllowedOrigins []string
}

// NewRouter constructs a websocket router.
func NewRouter(hub *Hub, logger *logging.Logger, opts RouterOptions) *Router {
	upgrader := &websocket.Upgrader{
		CheckOrigin: opts.CheckOrigin,
	}
	if upgrader.CheckOrigin == nil {
		upgrader.CheckOrigin = buildOriginChecker(opts.AllowedOrigins)
	}

	timeout := opts.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Router{
		hub:              hub,
		logger:           logger,
		upgrader:         upgrader,
		handshakeTimeout: timeout,
	}
}

// buildOriginChecker returns a CheckOrigin predicate that allows requests
// with no Origin header (non-browser clients), localhost/127.0.0.1 in any
// form, and any hostname present in allowed. An empty allowed list with a
// present Origin header is rejected.
func buildOriginChecker(allowed []string) func(r *http.Request) bool {
	allowSet := make(map[string]struct{}, len(allowed)+2)
	allowSet["localhost"] = struct{}{}
	allowSet["127.0.0.1"] = struct{}{}
	for _, origin := range allowed {
		allowSet[origin] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		u, err := url.Parse(origin)
		if err != nil {
			return false
		}

		_, ok := allowSet[u.Hostname()]
		return ok
	}
}

// SetHandlerBuilder registers the handler builder that will be invoked after a successful upgrade.
func (r *Router) SetHandlerBuilder(builder HandlerBuilder) {
	r.builder.Store(builder)
}

// Handle upgrades the HTTP connection and launches a new websocket session.
func (r *Router) Handle(w http.ResponseWriter, req *http.Request) {
	value := r.builder.Load()
	if value == nil {
		http.Error(w, "websocket handler not ready", http.StatusServiceUnavailable)
		return
	}
	builder := value.(HandlerBuilder)

	ctx := req.Context()
	handshakeCtx, cancel := context.WithTimeoutCause(ctx, r.handshakeTimeout, ErrHandshakeTimeout)
	defer cancel()
	req = req.WithContext(handshakeCtx)

	spanCtx, spanEnd := observability.StartSpan(handshakeCtx, "transport.websocket", "handle")
	var spanErr error
	defer func() {
		spanEnd(spanErr)
	}()

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.upgrade.error",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "upgrade failed", map[string]any{"error": err.Error()})
		}
		return
	}

	connID := fmt.Sprintf("%p", conn)
	if r.logger != nil {
		r.logger.InfoTag("WebSocket", "connection established", map[string]any{"conn_id": connID})
	}

	wsConn := NewConnection(connID, conn)
	observability.RecordMetric(
		spanCtx,
		"websocket.upgrade.success",
		1,
		map[string]string{
			"component": "transport.websocket",
		},
	)

	handler, err := builder(wsConn, req)
	if err != nil || handler == nil {
		spanErr = err
		observability.RecordMetric(
			spanCtx,
			"websocket.connection.error",
			1,
			map[string]string{
				"component": "transport.websocket",
				"reason":    "handler_creation_failed",
			},
		)
		if r.logger != nil {
			r.logger.ErrorTag("WebSocket", "handler creation failed", map[string]any{"error": err.Error()})
		}
		_ = wsConn.Close()
		return
	}

	session := NewSession(spanCtx, handler, wsConn, r.logger)
	r.hub.Register(session)

	observability.RecordMetric(
		spanCtx,
		"websocket.connection.opened",
		1,
		map[string]string{
			"component": "transport.websocket",
		},
	)

	go session.Run(func(runErr error) {
		r.hub.Unregister(session.ID())
		if runErr != nil && r.logger != nil {
			r.logger.WarnTag("WebSocket", "session ended abnormally", map[string]any{"session_id": session.ID(), "error": runErr.Error()})
		}
		observability.RecordMetric(
			session.Context(),
			"websocket.connection.closed",
			1,
			map[string]string{
				"component": "transport.websocket",
			},
		)
	})
}
