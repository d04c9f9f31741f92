package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	openai "github.com/sashabaranov/go-openai"

	"asrgateway/internal/domain/archive"
	"asrgateway/internal/domain/asr"
	"asrgateway/internal/domain/ticket"
	"asrgateway/internal/domain/ticket/store"
	platformtesting "asrgateway/internal/platform/testing"
	"asrgateway/internal/transport/ws"
)

type testRig struct {
	server  *httptest.Server
	tickets *ticket.Manager
	asrSrv  *httptest.Server
}

func newTestRig(t *testing.T, asrHandler http.HandlerFunc) *testRig {
	t.Helper()

	memStore := store.NewMemory(store.Config{TTL: 300 * time.Second})
	tickets := ticket.NewManager(memStore)

	if asrHandler == nil {
		asrHandler = func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello"})
		}
	}
	asrSrv := httptest.NewServer(asrHandler)
	t.Cleanup(asrSrv.Close)

	oaiCfg := openai.DefaultConfig("test-key")
	oaiCfg.BaseURL = asrSrv.URL
	dispatcher := asr.NewWithClient(openai.NewClientWithConfig(oaiCfg), "test-model", asr.Config{}, platformtesting.SetupTestLogger(t))

	deps := Dependencies{
		Tickets:     tickets,
		Dispatcher:  dispatcher,
		ObjectStore: archive.NewMemoryStore(),
		ArchiveCfg: archive.Config{
			WindowSizeMs:       120000,
			UploadIntervalMs:   3600000,
			MaxMemoryMB:        10,
			StoreOriginalAudio: true,
		},
		Logger: platformtesting.SetupTestLogger(t),
	}

	hub := ws.NewHub(deps.Logger)
	router := ws.NewRouter(hub, deps.Logger, ws.RouterOptions{})
	router.SetHandlerBuilder(NewHandlerBuilder(deps))

	srv := httptest.NewServer(http.HandlerFunc(router.Handle))
	t.Cleanup(srv.Close)

	return &testRig{server: srv, tickets: tickets, asrSrv: asrSrv}
}

func (r *testRig) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(r.server.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
}

func authenticate(t *testing.T, rig *testRig, conn *websocket.Conn, subject string) {
	t.Helper()
	ticketID := issueTicket(t, rig, subject)

	_ = conn.WriteJSON(map[string]string{"type": "auth", "ticket": ticketID})
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["type"] != "auth_success" {
		t.Fatalf("expected auth_success, got %v", resp)
	}
}

func issueTicket(t *testing.T, rig *testRig, subject string) string {
	t.Helper()
	issuer := ticket.NewIssuer(rig.tickets)
	id, _, err := issuer.Issue(context.Background(), subject)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return id
}

func TestAuthSuccessThenStreamStart(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)
	if ack["type"] != "audio_stream_start_ack" {
		t.Fatalf("expected audio_stream_start_ack, got %v", ack)
	}
}

func TestMissingTicketClosesWithAuthError(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)

	_ = conn.WriteJSON(map[string]string{"type": "auth"})
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["error"] != "Missing ticket in authentication message" {
		t.Fatalf("unexpected error: %v", resp)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close 1008, got %v", err)
	}
}

func TestWrongFirstMessageClosesWithAuthError(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["error"] != "Must authenticate first with auth message" {
		t.Fatalf("unexpected error: %v", resp)
	}
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected close 1008, got %v", err)
	}
}

func TestInvalidTicketProducesAuthError(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)

	_ = conn.WriteJSON(map[string]string{"type": "auth", "ticket": "deadbeef"})
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["error"] != "Invalid or expired ticket" {
		t.Fatalf("unexpected error: %v", resp)
	}
}

func TestVadSegmentProducesCacheStartEndAndTranscript(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)

	frame := base64.StdEncoding.EncodeToString(make([]byte, 4096))

	for i := 1; i <= 10; i++ {
		msg := map[string]any{"type": "audio_chunk", "data": frame}
		switch i {
		case 3:
			msg["vad_state"] = "start"
			msg["vad_offset_ms"] = -64
		case 8:
			msg["vad_state"] = "end"
			msg["vad_offset_ms"] = 32
		}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}

		if i == 3 {
			var cacheStart map[string]any
			readJSON(t, conn, &cacheStart)
			if cacheStart["type"] != "vad_cache_start" {
				t.Fatalf("expected vad_cache_start, got %v", cacheStart)
			}
		}
		if i == 8 {
			var cacheEnd map[string]any
			readJSON(t, conn, &cacheEnd)
			if cacheEnd["type"] != "vad_cache_end" {
				t.Fatalf("expected vad_cache_end, got %v", cacheEnd)
			}
		}
	}

	var transcript map[string]any
	readJSON(t, conn, &transcript)
	if transcript["type"] != "transcription_result" {
		t.Fatalf("expected transcription_result, got %v", transcript)
	}
	if int64(transcript["speechStartTimeMs"].(float64)) != 192 {
		t.Fatalf("speechStartTimeMs = %v, want 192", transcript["speechStartTimeMs"])
	}
	if int64(transcript["speechEndTimeMs"].(float64)) != 928 {
		t.Fatalf("speechEndTimeMs = %v, want 928", transcript["speechEndTimeMs"])
	}
	if transcript["is_prefetch"].(bool) {
		t.Fatal("expected is_prefetch=false for the final segment")
	}
}

func TestPrefetchThenFinalProducesBothTranscripts(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)

	frame := base64.StdEncoding.EncodeToString(make([]byte, 4096))

	for i := 1; i <= 10; i++ {
		msg := map[string]any{"type": "audio_chunk", "data": frame}
		switch i {
		case 3:
			msg["vad_state"] = "start"
			msg["vad_offset_ms"] = -64
		case 6:
			msg["vad_state"] = "cache_asr_trigger"
			msg["vad_offset_ms"] = 64
		case 8:
			msg["vad_state"] = "end"
			msg["vad_offset_ms"] = 32
		}
		if err := conn.WriteJSON(msg); err != nil {
			t.Fatalf("write chunk %d: %v", i, err)
		}

		if i == 3 {
			var cacheStart map[string]any
			readJSON(t, conn, &cacheStart)
			if cacheStart["type"] != "vad_cache_start" {
				t.Fatalf("expected vad_cache_start, got %v", cacheStart)
			}
		}
		if i == 8 {
			var cacheEnd map[string]any
			readJSON(t, conn, &cacheEnd)
			if cacheEnd["type"] != "vad_cache_end" {
				t.Fatalf("expected vad_cache_end, got %v", cacheEnd)
			}
		}
	}

	var prefetch, final map[string]any
	for i := 0; i < 2; i++ {
		var transcript map[string]any
		readJSON(t, conn, &transcript)
		if transcript["type"] != "transcription_result" {
			t.Fatalf("expected transcription_result, got %v", transcript)
		}
		if transcript["is_prefetch"].(bool) {
			prefetch = transcript
		} else {
			final = transcript
		}
	}

	if prefetch == nil {
		t.Fatal("no prefetch (is_prefetch=true) transcript received")
	}
	if final == nil {
		t.Fatal("no final (is_prefetch=false) transcript received")
	}

	if int64(prefetch["speechStartTimeMs"].(float64)) != 192 {
		t.Fatalf("prefetch speechStartTimeMs = %v, want 192", prefetch["speechStartTimeMs"])
	}
	if int64(prefetch["speechEndTimeMs"].(float64)) != 704 {
		t.Fatalf("prefetch speechEndTimeMs = %v, want 704", prefetch["speechEndTimeMs"])
	}
	if int64(final["speechStartTimeMs"].(float64)) != 192 {
		t.Fatalf("final speechStartTimeMs = %v, want 192", final["speechStartTimeMs"])
	}
	if int64(final["speechEndTimeMs"].(float64)) != 928 {
		t.Fatalf("final speechEndTimeMs = %v, want 928", final["speechEndTimeMs"])
	}
}

func TestCacheASRDropSuppressesNextTrigger(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)

	frame := base64.StdEncoding.EncodeToString(make([]byte, 4096))

	_ = conn.WriteJSON(map[string]any{"type": "audio_chunk", "data": frame, "vad_state": "start", "vad_offset_ms": -10})
	var cacheStart map[string]any
	readJSON(t, conn, &cacheStart)
	if cacheStart["type"] != "vad_cache_start" {
		t.Fatalf("expected vad_cache_start, got %v", cacheStart)
	}

	_ = conn.WriteJSON(map[string]any{"type": "audio_chunk", "data": frame, "vad_state": "cache_asr_drop"})

	// Suppressed: no transcription_result/transcription_error should follow
	// this trigger, and it must not reach the ASR dispatcher at all.
	_ = conn.WriteJSON(map[string]any{"type": "audio_chunk", "data": frame, "vad_state": "cache_asr_trigger", "vad_offset_ms": 10})

	_ = conn.WriteJSON(map[string]any{"type": "audio_chunk", "data": frame, "vad_state": "end", "vad_offset_ms": 5})
	var cacheEnd map[string]any
	readJSON(t, conn, &cacheEnd)
	if cacheEnd["type"] != "vad_cache_end" {
		t.Fatalf("expected vad_cache_end, got %v", cacheEnd)
	}

	var final map[string]any
	readJSON(t, conn, &final)
	if final["type"] != "transcription_result" {
		t.Fatalf("expected transcription_result, got %v", final)
	}
	if final["is_prefetch"].(bool) {
		t.Fatal("expected is_prefetch=false for the final segment")
	}

	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected no further messages, but got one: the suppressed trigger produced output")
	}
}

func TestUnknownMessageTypeDoesNotClose(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteJSON(map[string]string{"type": "bogus"})
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["error"] != "Unknown message type received" {
		t.Fatalf("unexpected response: %v", resp)
	}

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)
	if ack["type"] != "audio_stream_start_ack" {
		t.Fatal("connection should still be usable after an unknown message type")
	}
}

func TestMalformedJSONDoesNotClose(t *testing.T) {
	rig := newTestRig(t, nil)
	conn := rig.dial(t)
	authenticate(t, rig, conn, "user_1")

	_ = conn.WriteMessage(websocket.TextMessage, []byte("{not json"))
	var resp map[string]any
	readJSON(t, conn, &resp)
	if resp["error"] != "Failed to parse message as JSON" {
		t.Fatalf("unexpected response: %v", resp)
	}

	_ = conn.WriteJSON(map[string]string{"type": "audio_stream_start"})
	var ack map[string]any
	readJSON(t, conn, &ack)
	if ack["type"] != "audio_stream_start_ack" {
		t.Fatal("connection should still be usable after a malformed frame")
	}
}
