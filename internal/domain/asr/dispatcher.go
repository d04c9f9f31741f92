// Package asr dispatches assembled WAV utterances to an external
// speech-to-text provider and reports results back onto the originating
// connection without blocking the session worker that submitted them.
package asr

import (
	"bytes"
	"context"
	"encoding/base64"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"asrgateway/internal/domain/eventbus"
	"asrgateway/internal/domain/wav"
	"asrgateway/internal/platform/errors"
	"asrgateway/internal/platform/logging"
)

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	groqModel        = "whisper-large-v3-turbo"
	fireworksBaseURL = "https://audio-turbo.us-virginia-1.direct.fireworks.ai/v1"
	fireworksModel   = "whisper-v3-turbo"
)

// Sink is how the Dispatcher writes wire messages back onto the
// connection that submitted the utterance. Implemented by the transport
// layer's serialized single-writer.
type Sink interface {
	Send(v any) error
}

// Config selects the active provider and its credentials.
type Config struct {
	UseFireworks    bool
	GroqAPIKey      string
	FireworksAPIKey string
	DebugMode       bool
}

// Dispatcher submits utterances to whichever provider Config selects.
type Dispatcher struct {
	cfg    Config
	client *openai.Client
	model  string
	logger *logging.Logger
}

// New builds a Dispatcher, constructing the OpenAI-API-shaped client for
// whichever provider cfg.UseFireworks selects.
func New(cfg Config, logger *logging.Logger) *Dispatcher {
	var oaiCfg openai.ClientConfig
	var model string
	if cfg.UseFireworks {
		oaiCfg = openai.DefaultConfig(cfg.FireworksAPIKey)
		oaiCfg.BaseURL = fireworksBaseURL
		model = fireworksModel
	} else {
		oaiCfg = openai.DefaultConfig(cfg.GroqAPIKey)
		oaiCfg.BaseURL = groqBaseURL
		model = groqModel
	}
	return &Dispatcher{
		cfg:    cfg,
		client: openai.NewClientWithConfig(oaiCfg),
		model:  model,
		logger: logger,
	}
}

// NewWithClient builds a Dispatcher around a caller-supplied OpenAI-shaped
// client, letting tests in other packages point the dispatcher at a local
// httptest server instead of a real provider.
func NewWithClient(client *openai.Client, model string, cfg Config, logger *logging.Logger) *Dispatcher {
	return &Dispatcher{cfg: cfg, client: client, model: model, logger: logger}
}

// transcriptionResultMsg mirrors the transcription_result wire message.
type transcriptionResultMsg struct {
	Type              string      `json:"type"`
	Text              string      `json:"text"`
	SpeechStartTimeMs int64       `json:"speechStartTimeMs"`
	SpeechEndTimeMs   int64       `json:"speechEndTimeMs"`
	Timestamp         string      `json:"timestamp"`
	IsPrefetch        bool        `json:"is_prefetch"`
	Performance       performance `json:"performance"`
}

type performance struct {
	TotalProcessingMs float64 `json:"total_processing_ms"`
	WavCreationMs      float64 `json:"wav_creation_ms"`
	APIFetchMs         float64 `json:"api_fetch_ms"`
	WorkerTimestamp    string  `json:"worker_timestamp"`
	Provider           string  `json:"provider"`
}

type transcriptionErrorMsg struct {
	Type       string `json:"type"`
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	IsPrefetch bool   `json:"is_prefetch"`
	Timestamp  string `json:"timestamp"`
}

type debugAudioMsg struct {
	Type              string `json:"type"`
	AudioData         string `json:"audioData"`
	SpeechStartTimeMs int64  `json:"speechStartTimeMs"`
	SpeechEndTimeMs   int64  `json:"speechEndTimeMs"`
	Timestamp         string `json:"timestamp"`
}

// Submit assembles segments into a WAV blob and dispatches it to the
// configured provider on an independent goroutine; it returns immediately.
// A no-op if segments is empty.
func (d *Dispatcher) Submit(
	sink Sink,
	sessionID string,
	segments [][]byte,
	subject string,
	speechStartMs, speechEndMs int64,
	isPrefetch bool,
	prompt string,
) {
	if len(segments) == 0 {
		return
	}
	go d.run(sink, sessionID, segments, subject, speechStartMs, speechEndMs, isPrefetch, prompt)
}

func (d *Dispatcher) run(
	sink Sink,
	sessionID string,
	segments [][]byte,
	subject string,
	speechStartMs, speechEndMs int64,
	isPrefetch bool,
	prompt string,
) {
	totalStart := time.Now()

	wavStart := time.Now()
	wavBytes := wav.Assemble(segments)
	wavCreationMs := float64(time.Since(wavStart).Microseconds()) / 1000.0

	if d.cfg.DebugMode {
		_ = sink.Send(debugAudioMsg{
			Type:              "debug_audio",
			AudioData:         base64.StdEncoding.EncodeToString(wavBytes),
			SpeechStartTimeMs: speechStartMs,
			SpeechEndTimeMs:   speechEndMs,
			Timestamp:         nowISO8601(),
		})
	}

	apiStart := time.Now()
	text, err := d.transcribe(context.Background(), wavBytes, prompt)
	apiFetchMs := float64(time.Since(apiStart).Microseconds()) / 1000.0

	if err != nil {
		d.logger.WarnTag("ASR", "transcription failed", map[string]any{"session_id": sessionID, "error": err.Error()})
		_ = sink.Send(transcriptionErrorMsg{
			Type:       "transcription_error",
			Error:      "transcription failed",
			Details:    err.Error(),
			IsPrefetch: isPrefetch,
			Timestamp:  nowISO8601(),
		})
		eventbus.PublishAsync(eventbus.EventASRError, eventbus.ASREventData{
			SessionID: sessionID,
			Subject:   subject,
			IsPrefetch: isPrefetch,
			SpeechStartTimeMs: speechStartMs,
			SpeechEndTimeMs:   speechEndMs,
			Error:             err.Error(),
		})
		return
	}

	totalMs := float64(time.Since(totalStart).Microseconds()) / 1000.0
	provider := "groq"
	if d.cfg.UseFireworks {
		provider = "fireworks"
	}

	_ = sink.Send(transcriptionResultMsg{
		Type:              "transcription_result",
		Text:              text,
		SpeechStartTimeMs: speechStartMs,
		SpeechEndTimeMs:   speechEndMs,
		Timestamp:         nowISO8601(),
		IsPrefetch:        isPrefetch,
		Performance: performance{
			TotalProcessingMs: totalMs,
			WavCreationMs:     wavCreationMs,
			APIFetchMs:        apiFetchMs,
			WorkerTimestamp:   nowISO8601(),
			Provider:          provider,
		},
	})
	eventbus.PublishAsync(eventbus.EventASRResult, eventbus.ASREventData{
		SessionID:         sessionID,
		Subject:           subject,
		Text:              text,
		IsPrefetch:        isPrefetch,
		SpeechStartTimeMs: speechStartMs,
		SpeechEndTimeMs:   speechEndMs,
		Provider:          provider,
		TotalProcessingMs: totalMs,
	})
}

func (d *Dispatcher) transcribe(ctx context.Context, wavBytes []byte, prompt string) (string, error) {
	req := openai.AudioRequest{
		Model:    d.model,
		Reader:   bytes.NewReader(wavBytes),
		FilePath: "audio.wav",
		Format:   openai.AudioResponseFormatVerboseJSON,
		Prompt:   prompt,
	}
	if d.cfg.UseFireworks {
		req.Temperature = 0
	}

	resp, err := d.client.CreateTranscription(ctx, req)
	if err != nil {
		return "", errors.Wrap(errors.KindASR, "transcribe", "provider request failed", err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", errors.New(errors.KindASR, "transcribe", "provider response missing text field")
	}
	return text, nil
}

func nowISO8601() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
