package ws

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	apperrors "asrgateway/internal/platform/errors"
	"asrgateway/internal/platform/logging"
)

const defaultCloseTimeout = 5 * time.Second

// SessionHandler adapts a domain connection handler to the websocket
// session lifecycle.
type SessionHandler interface {
	Handle()
	Close()
	GetSessionID() string
}

// Session encapsulates the lifecycle of a single websocket connection.
type Session struct {
	id      string
	handler SessionHandler
	conn    *Connection
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelCauseFunc

	closed atomic.Bool
}

// NewSession constructs a managed websocket session.
func NewSession(parent context.Context, handler SessionHandler, conn *Connection, logger *logging.Logger) *Session {
	sessionCtx, cancel := context.WithCancelCause(parent)
	return &Session{
		id:      handler.GetSessionID(),
		handler: handler,
		conn:    conn,
		logger:  logger,
		ctx:     sessionCtx,
		cancel:  cancel,
	}
}

// Context returns the session context.
func (s *Session) Context() context.Context {
	return s.ctx
}

// ID exposes the session identifier.
func (s *Session) ID() string {
	return s.id
}

// IsStale reports whether the underlying connection has been idle longer
// than timeout.
func (s *Session) IsStale(timeout time.Duration) bool {
	return s.conn != nil && s.conn.IsStale(timeout)
}

// Run executes the session handler and invokes onDone once exiting. A panic
// in the handler is recovered here and reported to onDone as a
// KindTransport error.
func (s *Session) Run(onDone func(error)) {
	var runErr error
	defer func() {
		if r := recover(); r != nil {
			runErr = apperrors.New(apperrors.KindTransport, "session.run", fmt.Sprintf("handler panic: %v", r))
		}
		s.Close(runErr)
		if onDone != nil {
			onDone(runErr)
		}
	}()

	s.handler.Handle()
}

// Close attempts to gracefully terminate the session.
func (s *Session) Close(reason error) {
	if reason == nil {
		reason = ErrSessionShutdown
	}

	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	if s.cancel != nil {
		s.cancel(reason)
	}

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), defaultCloseTimeout, reason)
	defer cancel()

	if s.handler != nil {
		done := make(chan struct{})
		go func() {
			s.handler.Close()
			close(done)
		}()

		select {
		case <-done:
		case <-shutdownCtx.Done():
			if s.logger != nil {
				s.logger.WarnTag("WebSocket", "handler close timed out", map[string]any{"session_id": s.id, "error": context.Cause(shutdownCtx).Error()})
			}
		}
	}

	if s.conn != nil {
		if err := s.conn.Close(); err != nil && s.logger != nil {
			s.logger.WarnTag("WebSocket", "connection close failed", map[string]any{"session_id": s.id, "error": err.Error()})
		}
	}
}
