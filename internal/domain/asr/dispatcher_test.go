package asr

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	platformtesting "asrgateway/internal/platform/testing"
)

type fakeSink struct {
	mu   sync.Mutex
	sent []any
}

func (f *fakeSink) Send(v any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, v)
	return nil
}

func (f *fakeSink) messages() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func newTestDispatcher(t *testing.T, handler http.HandlerFunc, cfg Config) *Dispatcher {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	oaiCfg := openai.DefaultConfig("test-key")
	oaiCfg.BaseURL = server.URL
	return &Dispatcher{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oaiCfg),
		model:  "test-model",
		logger: platformtesting.SetupTestLogger(t),
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestSubmitNoSegmentsIsNoOp(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("provider should not be called with no segments")
	}, Config{})
	sink := &fakeSink{}

	d.Submit(sink, "s1", nil, "user_1", 0, 0, false, "")
	time.Sleep(20 * time.Millisecond)

	if len(sink.messages()) != 0 {
		t.Fatalf("expected no messages, got %d", len(sink.messages()))
	}
}

func TestSubmitSuccessSendsTranscriptionResult(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hello world"})
	}, Config{})
	sink := &fakeSink{}

	d.Submit(sink, "s1", [][]byte{make([]byte, 320)}, "user_1", 1000, 2000, false, "")

	waitFor(t, func() bool { return len(sink.messages()) == 1 })

	msg, ok := sink.messages()[0].(transcriptionResultMsg)
	if !ok {
		t.Fatalf("unexpected message type %T", sink.messages()[0])
	}
	if msg.Text != "hello world" {
		t.Fatalf("text = %q", msg.Text)
	}
	if msg.Performance.Provider != "groq" {
		t.Fatalf("provider = %q", msg.Performance.Provider)
	}
}

func TestSubmitMissingTextSendsTranscriptionError(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{})
	}, Config{})
	sink := &fakeSink{}

	d.Submit(sink, "s1", [][]byte{make([]byte, 320)}, "user_1", 1000, 2000, true, "")

	waitFor(t, func() bool { return len(sink.messages()) == 1 })

	msg, ok := sink.messages()[0].(transcriptionErrorMsg)
	if !ok {
		t.Fatalf("unexpected message type %T", sink.messages()[0])
	}
	if !msg.IsPrefetch {
		t.Fatal("expected is_prefetch to be preserved")
	}
}

func TestSubmitProviderErrorSendsTranscriptionError(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}, Config{})
	sink := &fakeSink{}

	d.Submit(sink, "s1", [][]byte{make([]byte, 320)}, "user_1", 1000, 2000, false, "")

	waitFor(t, func() bool { return len(sink.messages()) == 1 })

	if _, ok := sink.messages()[0].(transcriptionErrorMsg); !ok {
		t.Fatalf("unexpected message type %T", sink.messages()[0])
	}
}

func TestDebugModeSendsDebugAudioBeforeResult(t *testing.T) {
	d := newTestDispatcher(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"text": "hi"})
	}, Config{DebugMode: true})
	sink := &fakeSink{}

	d.Submit(sink, "s1", [][]byte{make([]byte, 320)}, "user_1", 1000, 2000, false, "")

	waitFor(t, func() bool { return len(sink.messages()) == 2 })

	if _, ok := sink.messages()[0].(debugAudioMsg); !ok {
		t.Fatalf("expected first message to be debug_audio, got %T", sink.messages()[0])
	}
	if _, ok := sink.messages()[1].(transcriptionResultMsg); !ok {
		t.Fatalf("expected second message to be transcription_result, got %T", sink.messages()[1])
	}
}
