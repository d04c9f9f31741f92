// Package session implements the two-phase per-connection state machine:
// AWAIT_AUTH (first-message ticket authentication) then STREAMING (VAD-
// driven utterance caching, archival fan-out, and ASR submission).
package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"asrgateway/internal/domain/archive"
	"asrgateway/internal/domain/asr"
	"asrgateway/internal/domain/eventbus"
	"asrgateway/internal/domain/ringbuffer"
	"asrgateway/internal/domain/ticket"
	"asrgateway/internal/platform/logging"
	"asrgateway/internal/transport/ws"
)

const (
	authDeadline   = 5 * time.Second
	prerollBytes   = 8192 // 256ms at 16kHz/16-bit/mono
	frameMs        = 128
	bytesPerMs     = 32 // 16kHz * 2 bytes / 1000ms
)

// Dependencies are the collaborators every session handler shares.
type Dependencies struct {
	Tickets     *ticket.Manager
	Dispatcher  *asr.Dispatcher
	ObjectStore archive.ObjectStore
	ArchiveCfg  archive.Config
	Logger      *logging.Logger
}

// NewHandlerBuilder adapts Dependencies into a ws.HandlerBuilder so the
// transport layer can construct a fresh Handler per upgraded connection.
func NewHandlerBuilder(deps Dependencies) ws.HandlerBuilder {
	return func(conn *ws.Connection, req *http.Request) (ws.SessionHandler, error) {
		return newHandler(conn, deps), nil
	}
}

type wsMessage struct {
	messageType int
	data        []byte
}

// Handler is the per-connection Session State Machine (C8).
type Handler struct {
	id   string
	conn *ws.Connection
	deps Dependencies

	connectInstant time.Time

	// session context, owned exclusively by the single-consumer run loop
	// (Handle); no mutex is needed for these fields.
	subject        string
	authenticated  bool
	frameCount     int
	globalTimeMs   int64
	caching        bool
	utteranceCache [][]byte
	preroll        *ringbuffer.Buffer
	speechStartMs  int64
	prefetchSuppressed    bool
	archiver       *archive.Archiver

	writeMu sync.Mutex

	closeOnce sync.Once
}

func newHandler(conn *ws.Connection, deps Dependencies) *Handler {
	return &Handler{
		id:             uuid.NewString(),
		conn:           conn,
		deps:           deps,
		connectInstant: time.Now(),
		preroll:        ringbuffer.New(prerollBytes),
	}
}

// GetSessionID implements ws.SessionHandler.
func (h *Handler) GetSessionID() string {
	return h.id
}

// Send implements asr.Sink; outbound writes are serialized by the
// underlying ws.Connection, so every writer (this run loop and the ASR
// dispatcher's goroutines) can call it concurrently. A failed write on an
// open connection is logged and closes the connection, which ends the read
// loop and with it the session.
func (h *Handler) Send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := h.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		if !h.conn.IsClosed() {
			if h.deps.Logger != nil {
				h.deps.Logger.WarnTag("Session", "write failed, closing connection", map[string]any{"session_id": h.id, "error": err.Error()})
			}
			_ = h.conn.Close()
		}
		return err
	}
	return nil
}

// Handle implements ws.SessionHandler. It runs the full AWAIT_AUTH then
// STREAMING lifecycle and returns once the connection is gone.
func (h *Handler) Handle() {
	msgCh := make(chan wsMessage, 1)
	errCh := make(chan error, 1)
	go h.readLoop(msgCh, errCh)

	if !h.awaitAuth(msgCh, errCh) {
		return
	}
	h.streamLoop(msgCh, errCh)
}

// Close implements ws.SessionHandler; called by the transport layer on
// connection teardown.
func (h *Handler) Close() {
	h.closeOnce.Do(func() {
		if h.archiver != nil {
			h.archiver.Shutdown()
		}
		if h.deps.Logger != nil {
			h.deps.Logger.InfoTag("Session", "closed", map[string]any{
				"session_id": h.id,
				"subject":    h.subject,
				"duration_s": time.Since(h.connectInstant).Seconds(),
			})
		}
		eventbus.PublishAsync(eventbus.EventSessionClosed, eventbus.SessionEventData{
			SessionID: h.id,
			Subject:   h.subject,
			DurationS: time.Since(h.connectInstant).Seconds(),
		})
	})
}

func (h *Handler) readLoop(msgCh chan<- wsMessage, errCh chan<- error) {
	for {
		mt, data, err := h.conn.ReadMessage()
		if err != nil {
			errCh <- err
			return
		}
		msgCh <- wsMessage{messageType: mt, data: data}
	}
}

// awaitAuth implements §4.4 AWAIT_AUTH: exactly one inbound message is
// accepted, bounded by a 5s deadline.
func (h *Handler) awaitAuth(msgCh <-chan wsMessage, errCh <-chan error) bool {
	timer := time.NewTimer(authDeadline)
	defer timer.Stop()

	select {
	case <-timer.C:
		_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Authentication timeout - connection closed", Timestamp: nowISO8601()})
		h.closeWithCode(1008, "Authentication timeout")
		return false

	case <-errCh:
		return false

	case msg := <-msgCh:
		if msg.messageType != websocket.TextMessage {
			_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Must authenticate first with auth message", Timestamp: nowISO8601()})
			h.closeWithCode(1008, "Authentication required")
			return false
		}

		var env inboundEnvelope
		if err := json.Unmarshal(msg.data, &env); err != nil {
			_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Must authenticate first with auth message", Timestamp: nowISO8601()})
			h.closeWithCode(1008, "Authentication required")
			return false
		}

		if env.Type != "auth" {
			_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Must authenticate first with auth message", Timestamp: nowISO8601()})
			h.closeWithCode(1008, "Authentication required")
			return false
		}

		if env.Ticket == "" {
			_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Missing ticket in authentication message", Timestamp: nowISO8601()})
			h.closeWithCode(1008, "Invalid authentication")
			return false
		}

		subject, ok, err := h.deps.Tickets.Consume(context.Background(), env.Ticket)
		if err != nil || !ok {
			_ = h.Send(authErrorMsg{Type: "auth_error", Error: "Invalid or expired ticket", Timestamp: nowISO8601()})
			h.closeWithCode(1008, "Authentication failed")
			return false
		}

		h.subject = subject
		h.authenticated = true

		if h.deps.ObjectStore != nil {
			h.archiver = archive.New(h.id, h.deps.ArchiveCfg, h.deps.ObjectStore, h.deps.Logger)
		}

		_ = h.Send(authSuccessMsg{Type: "auth_success", UserID: subject, Timestamp: nowISO8601()})

		eventbus.PublishAsync(eventbus.EventSessionAuthenticated, eventbus.SessionEventData{
			SessionID: h.id,
			Subject:   subject,
		})
		if h.deps.Logger != nil {
			h.deps.Logger.InfoTag("Session", "authenticated", map[string]any{"session_id": h.id, "subject": subject})
		}
		return true
	}
}

func (h *Handler) streamLoop(msgCh <-chan wsMessage, errCh <-chan error) {
	for {
		select {
		case <-errCh:
			return
		case msg := <-msgCh:
			h.handleStreamingMessage(msg)
		}
	}
}

func (h *Handler) handleStreamingMessage(msg wsMessage) {
	if msg.messageType != websocket.TextMessage {
		_ = h.Send(binaryFrameErrorMsg{Error: "Binary frames are not supported", Timestamp: nowISO8601()})
		return
	}

	var env inboundEnvelope
	if err := json.Unmarshal(msg.data, &env); err != nil {
		_ = h.Send(parseErrorMsg{
			Error:        "Failed to parse message as JSON",
			ParseError:   err.Error(),
			ReceivedData: truncate(string(msg.data), 100),
			Timestamp:    nowISO8601(),
		})
		return
	}

	switch env.Type {
	case "audio_stream_start":
		h.handleStreamStart()
	case "audio_chunk":
		h.handleAudioChunk(env)
	case "audio_stream_end":
		h.handleStreamEnd()
	default:
		_ = h.Send(unknownTypeErrorMsg{
			Error:           "Unknown message type received",
			UnknownType:     env.Type,
			ReceivedMessage: string(msg.data),
			Timestamp:       nowISO8601(),
		})
	}
}

func (h *Handler) handleStreamStart() {
	h.frameCount = 0
	h.globalTimeMs = 0
	h.caching = false
	h.utteranceCache = nil
	h.preroll.Reset()
	h.speechStartMs = 0
	h.prefetchSuppressed = false

	_ = h.Send(audioStreamStartAckMsg{Type: "audio_stream_start_ack", Timestamp: nowISO8601(), UserID: h.subject})
}

func (h *Handler) handleStreamEnd() {
	_ = h.Send(audioStreamEndAckMsg{Type: "audio_stream_end_ack", ReceivedChunks: h.frameCount, Timestamp: nowISO8601()})
}

// handleAudioChunk implements the 8-step algorithm of §4.4. The reference
// examples (S4/S5) pin speech_start_ms and speech_end_ms to the
// pre-increment global_time_ms for this frame, so that value is captured
// as frameTimeMs before the +=128 advance (step 7, which runs ahead of the
// VAD-state handling) and all start/end arithmetic uses frameTimeMs.
func (h *Handler) handleAudioChunk(env inboundEnvelope) {
	h.frameCount++

	var p []byte
	if env.Data != "" {
		decoded, err := base64.StdEncoding.DecodeString(env.Data)
		if err == nil {
			p = decoded
		}
	}

	frameTimeMs := h.globalTimeMs

	if env.VadState == "start" {
		h.caching = true
		h.utteranceCache = nil
		h.prefetchSuppressed = false

		offset := 0
		if env.VadOffsetMs != nil {
			offset = *env.VadOffsetMs
		}
		h.speechStartMs = frameTimeMs + int64(offset)

		if offset < 0 {
			need := -offset * bytesPerMs
			tail := h.preroll.DrainTail(need)
			if len(tail) > 0 {
				h.utteranceCache = append(h.utteranceCache, tail)
			}
		}

		_ = h.Send(vadCacheStartMsg{Type: "vad_cache_start"})
	}

	if h.caching && len(p) > 0 && env.VadState != "end" {
		h.utteranceCache = append(h.utteranceCache, p)
	}

	if len(p) > 0 {
		h.preroll.Append(p)
	}

	if h.archiver != nil {
		frame := append([]byte(nil), p...)
		go h.archiver.Process(time.Now().UnixMilli(), frame)
	}

	h.globalTimeMs += frameMs

	switch {
	case env.VadState == "cache_asr_trigger" && h.caching:
		h.handleCacheASRTrigger(env, p, frameTimeMs)
	case env.VadState == "cache_asr_drop" && h.caching:
		h.prefetchSuppressed = true
	case env.VadState == "end" && h.caching:
		h.handleCacheEnd(env, p, frameTimeMs)
	}
}

func (h *Handler) handleCacheASRTrigger(env inboundEnvelope, p []byte, frameTimeMs int64) {
	offset := 0
	if env.VadOffsetMs != nil {
		offset = *env.VadOffsetMs
	}
	speechEndMs := frameTimeMs + int64(offset)

	if h.prefetchSuppressed {
		h.prefetchSuppressed = false
		return
	}

	snapshot := make([][]byte, len(h.utteranceCache))
	copy(snapshot, h.utteranceCache)

	if len(p) > 0 {
		if offset <= 0 {
			snapshot = append(snapshot, p)
		} else {
			n := min(offset*bytesPerMs, len(p))
			n = max(n, 0)
			snapshot = append(snapshot, p[:n])
		}
	}

	h.deps.Dispatcher.Submit(h, h.id, snapshot, h.subject, h.speechStartMs, speechEndMs, true, env.ASRPrompt)
}

func (h *Handler) handleCacheEnd(env inboundEnvelope, p []byte, frameTimeMs int64) {
	offset := 0
	if env.VadOffsetMs != nil {
		offset = *env.VadOffsetMs
	}
	speechEndMs := frameTimeMs + int64(offset)

	if len(p) > 0 {
		if offset > 0 {
			n := min(offset*bytesPerMs, len(p))
			h.utteranceCache = append(h.utteranceCache, p[:n])
		} else {
			h.utteranceCache = append(h.utteranceCache, p)
		}
	}

	h.caching = false
	h.prefetchSuppressed = false

	snapshot := make([][]byte, len(h.utteranceCache))
	copy(snapshot, h.utteranceCache)
	h.utteranceCache = nil

	_ = h.Send(vadCacheEndMsg{Type: "vad_cache_end", Timestamp: nowISO8601()})

	h.deps.Dispatcher.Submit(h, h.id, snapshot, h.subject, h.speechStartMs, speechEndMs, false, env.ASRPrompt)
}

func (h *Handler) closeWithCode(code int, reason string) {
	h.writeMu.Lock()
	_ = h.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
	h.writeMu.Unlock()
	_ = h.conn.Close()
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
