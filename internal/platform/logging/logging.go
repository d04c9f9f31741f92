// Package logging provides the gateway's structured logger: a dual
// JSON-file/colored-console slog.Logger pair with daily rotation and a
// retention sweep, matching the teacher's console-handler design.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// RetentionDays is the number of days rotated log files are kept before
// the retention sweep deletes them.
const RetentionDays = 7

// Config controls where and how verbosely the logger writes.
type Config struct {
	Level string `yaml:"level" json:"level"`
	Dir   string `yaml:"dir" json:"dir"`
	File  string `yaml:"file" json:"file"`
}

var moduleColors = map[string]string{
	"[Bootstrap]":     "\x1b[96m",
	"[WebSocket]":     "\x1b[94m",
	"[HTTP]":          "\x1b[95m",
	"[Ticket]":        "\x1b[92m",
	"[ASR]":           "\x1b[35m",
	"[Archive]":       "\x1b[33m",
	"[Auth]":          "\x1b[94m",
	"[ObjectStore]":   "\x1b[36m",
	"[Admin]":         "\x1b[96m",
	"[Observability]": "\x1b[90m",
}

const (
	colorReset = "\x1b[0m"
	colorTime  = "\x1b[90m"
	colorDebug = "\x1b[36m"
	colorInfo  = "\x1b[32m"
	colorWarn  = "\x1b[33m"
	colorError = "\x1b[31m"
)

// consoleHandler renders leveled, timestamped, tag-prefixed lines with ANSI
// coloring, mirroring the teacher's CustomTextHandler.
type consoleHandler struct {
	writer io.Writer
	level  slog.Level
	mu     *sync.Mutex
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	timeStr := r.Time.Format("2006-01-02 15:04:05.000")
	msg := r.Message

	var moduleColor string
	var isModuleLog bool
	for tag, color := range moduleColors {
		if strings.HasPrefix(msg, tag) {
			moduleColor, isModuleLog = color, true
			break
		}
	}

	var output string
	if isModuleLog {
		output = fmt.Sprintf("%s[%s]%s %s%s%s", colorTime, timeStr, colorReset, moduleColor, msg, colorReset)
	} else {
		levelColor, levelStr := levelDisplay(r.Level)
		output = fmt.Sprintf("%s[%s]%s %s[%s]%s %s", colorTime, timeStr, colorReset, levelColor, levelStr, colorReset, msg)
	}

	if r.NumAttrs() > 0 {
		output += " {"
		r.Attrs(func(a slog.Attr) bool {
			output += fmt.Sprintf(" %s=%v", a.Key, a.Value)
			return true
		})
		output += " }"
	}
	output += "\n"

	_, err := h.writer.Write([]byte(output))
	return err
}

func (h *consoleHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *consoleHandler) WithGroup(_ string) slog.Handler      { return h }

func levelDisplay(level slog.Level) (color, label string) {
	switch level {
	case slog.LevelDebug:
		return colorDebug, "DEBUG"
	case slog.LevelWarn:
		return colorWarn, "WARN"
	case slog.LevelError:
		return colorError, "ERROR"
	default:
		return colorInfo, "INFO"
	}
}

// Logger is the gateway's structured logger: JSON to a rotating file,
// colored text to the console, both fed from the same call sites.
type Logger struct {
	cfg         Config
	jsonLogger  *slog.Logger
	textLogger  *slog.Logger
	logFile     *os.File
	currentDate string
	mu          sync.RWMutex
	consoleMu   sync.Mutex
	ticker      *time.Ticker
	stopCh      chan struct{}
}

func levelFromString(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a Logger writing JSON records to <dir>/<file> (rotated daily,
// retained for RetentionDays) and colored text to stdout.
func New(cfg Config) (*Logger, error) {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.File == "" {
		cfg.File = "gateway.log"
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	logPath := filepath.Join(cfg.Dir, cfg.File)
	file, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	level := levelFromString(cfg.Level)
	jsonHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})

	l := &Logger{
		cfg:         cfg,
		jsonLogger:  slog.New(jsonHandler),
		logFile:     file,
		currentDate: time.Now().Format("2006-01-02"),
		stopCh:      make(chan struct{}),
	}
	l.textLogger = slog.New(&consoleHandler{writer: os.Stdout, level: level, mu: &l.consoleMu})

	l.startRotationChecker()
	return l, nil
}

func (l *Logger) startRotationChecker() {
	l.ticker = time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-l.ticker.C:
				l.checkAndRotate()
			case <-l.stopCh:
				return
			}
		}
	}()
}

func (l *Logger) checkAndRotate() {
	today := time.Now().Format("2006-01-02")
	l.mu.RLock()
	same := today == l.currentDate
	l.mu.RUnlock()
	if same {
		return
	}
	l.rotateLogFile(today)
	l.cleanOldLogs()
}

func (l *Logger) rotateLogFile(newDate string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logFile != nil {
		l.logFile.Close()
	}

	currentPath := filepath.Join(l.cfg.Dir, l.cfg.File)
	base := strings.TrimSuffix(l.cfg.File, filepath.Ext(l.cfg.File))
	ext := filepath.Ext(l.cfg.File)
	archivedPath := filepath.Join(l.cfg.Dir, fmt.Sprintf("%s-%s%s", base, l.currentDate, ext))

	if _, err := os.Stat(currentPath); err == nil {
		_ = os.Rename(currentPath, archivedPath)
	}

	file, err := os.OpenFile(currentPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	l.logFile = file
	l.currentDate = newDate
	l.jsonLogger = slog.New(slog.NewJSONHandler(file, &slog.HandlerOptions{Level: levelFromString(l.cfg.Level)}))
}

func (l *Logger) cleanOldLogs() {
	entries, err := os.ReadDir(l.cfg.Dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -RetentionDays)
	base := strings.TrimSuffix(l.cfg.File, filepath.Ext(l.cfg.File))
	ext := filepath.Ext(l.cfg.File)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, base+"-") || !strings.HasSuffix(name, ext) {
			continue
		}
		dateStr := strings.TrimSuffix(strings.TrimPrefix(name, base+"-"), ext)
		fileDate, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		if fileDate.Before(cutoff) {
			_ = os.Remove(filepath.Join(l.cfg.Dir, name))
		}
	}
}

// Close stops rotation and closes the backing file.
func (l *Logger) Close() error {
	if l.ticker != nil {
		l.ticker.Stop()
	}
	close(l.stopCh)
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.logFile != nil {
		return l.logFile.Close()
	}
	return nil
}

func (l *Logger) log(level slog.Level, msg string, fields map[string]any) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var attrs []slog.Attr
	if len(fields) > 0 {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			attrs = append(attrs, slog.Any(k, fields[k]))
		}
	}

	ctx := context.Background()
	l.jsonLogger.LogAttrs(ctx, level, msg, attrs...)
	l.textLogger.LogAttrs(ctx, level, msg, attrs...)
}

// Debug logs at debug level with optional structured fields.
func (l *Logger) Debug(msg string, fields map[string]any) { l.log(slog.LevelDebug, msg, fields) }

// Info logs at info level with optional structured fields.
func (l *Logger) Info(msg string, fields map[string]any) { l.log(slog.LevelInfo, msg, fields) }

// Warn logs at warn level with optional structured fields.
func (l *Logger) Warn(msg string, fields map[string]any) { l.log(slog.LevelWarn, msg, fields) }

// Error logs at error level with optional structured fields.
func (l *Logger) Error(msg string, fields map[string]any) { l.log(slog.LevelError, msg, fields) }

// FormatLog prefixes message with "[tag] " unless it already carries a
// bracketed prefix.
func FormatLog(tag, message string) string {
	tag, message = strings.TrimSpace(tag), strings.TrimSpace(message)
	if tag == "" {
		return message
	}
	if strings.HasPrefix(message, "[") {
		return message
	}
	return fmt.Sprintf("[%s] %s", tag, message)
}

// DebugTag, InfoTag, WarnTag and ErrorTag log with a module tag prefix, e.g.
// l.InfoTag("ASR", "dispatched utterance", nil).
func (l *Logger) DebugTag(tag, msg string, fields map[string]any) {
	l.Debug(FormatLog(tag, msg), fields)
}

func (l *Logger) InfoTag(tag, msg string, fields map[string]any) {
	l.Info(FormatLog(tag, msg), fields)
}

func (l *Logger) WarnTag(tag, msg string, fields map[string]any) {
	l.Warn(FormatLog(tag, msg), fields)
}

func (l *Logger) ErrorTag(tag, msg string, fields map[string]any) {
	l.Error(FormatLog(tag, msg), fields)
}

// Slog exposes the underlying text slog.Logger for libraries expecting the
// standard interface (e.g. a Redis client hook).
func (l *Logger) Slog() *slog.Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.textLogger
}

// Redact keeps only the first 8 hex characters of a bearer ticket id for
// correlation in logs, per the one-shot ticket's no-full-logging rule.
func Redact(ticketID string) string {
	if len(ticketID) <= 8 {
		return ticketID
	}
	return ticketID[:8] + "…"
}
