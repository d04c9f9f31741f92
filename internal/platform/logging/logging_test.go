package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger(t *testing.T) *Logger {
	t.Helper()
	dir := t.TempDir()
	l, err := New(Config{Level: "debug", Dir: dir, File: "gateway.log"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestNewCreatesLogFile(t *testing.T) {
	l := newTestLogger(t)
	l.Info("hello", nil)

	data, err := os.ReadFile(filepath.Join(l.cfg.Dir, l.cfg.File))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("log file missing message: %s", data)
	}
}

func TestTagVariantsPrefixMessage(t *testing.T) {
	l := newTestLogger(t)
	l.InfoTag("ASR", "dispatched", map[string]any{"sessionId": "abc"})

	data, err := os.ReadFile(filepath.Join(l.cfg.Dir, l.cfg.File))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "[ASR] dispatched") {
		t.Fatalf("expected tag-prefixed message, got: %s", data)
	}
}

func TestFormatLogAvoidsDoublePrefix(t *testing.T) {
	if got := FormatLog("ASR", "[ASR] already tagged"); got != "[ASR] already tagged" {
		t.Fatalf("unexpected: %q", got)
	}
	if got := FormatLog("ASR", "plain"); got != "[ASR] plain" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestRedactKeepsPrefixOnly(t *testing.T) {
	id := strings.Repeat("a", 64)
	got := Redact(id)
	if !strings.HasPrefix(got, id[:8]) {
		t.Fatalf("expected redaction to retain prefix, got %q", got)
	}
	if strings.Contains(got, id[8:]) {
		t.Fatalf("redaction leaked the remainder of the ticket: %q", got)
	}
}

func TestCheckAndRotateNoOpWithinSameDay(t *testing.T) {
	l := newTestLogger(t)
	before := l.currentDate
	l.checkAndRotate()
	if l.currentDate != before {
		t.Fatalf("expected no rotation within the same day")
	}
	// sanity: ensure the ticker goroutine doesn't panic on rapid Close.
	time.Sleep(time.Millisecond)
}
