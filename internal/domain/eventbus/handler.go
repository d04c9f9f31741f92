package eventbus

import (
	"log/slog"
)

// EventHandler reacts to a published event by type.
type EventHandler interface {
	Handle(eventType string, data interface{})
}

// DefaultEventHandler logs every event it receives through a structured
// logger; it exists so the admin surface and operators have a baseline
// observer without wiring their own subscriber.
type DefaultEventHandler struct {
	logger *slog.Logger
}

// NewDefaultEventHandler builds a DefaultEventHandler that logs through logger.
func NewDefaultEventHandler(logger *slog.Logger) *DefaultEventHandler {
	return &DefaultEventHandler{logger: logger}
}

// Handle dispatches data to a type-specific log line by eventType.
func (h *DefaultEventHandler) Handle(eventType string, data interface{}) {
	switch eventType {
	case EventASRResult:
		if d, ok := data.(ASREventData); ok {
			h.logger.Info("[ASR] transcription result", "session_id", d.SessionID, "is_prefetch", d.IsPrefetch, "provider", d.Provider)
		}
	case EventASRError:
		if d, ok := data.(ASREventData); ok {
			h.logger.Warn("[ASR] transcription error", "session_id", d.SessionID, "error", d.Error)
		}
	case EventArchiveUploaded:
		if d, ok := data.(ArchiveEventData); ok {
			h.logger.Info("[Archive] chunk uploaded", "session_id", d.SessionID, "chunk_index", d.ChunkIndex, "key", d.Key)
		}
	case EventArchiveUploadFailed:
		if d, ok := data.(ArchiveEventData); ok {
			h.logger.Warn("[Archive] chunk upload failed", "session_id", d.SessionID, "chunk_index", d.ChunkIndex, "error", d.Error)
		}
	case EventSessionAuthenticated:
		if d, ok := data.(SessionEventData); ok {
			h.logger.Info("[Session] authenticated", "session_id", d.SessionID, "subject", d.Subject)
		}
	case EventSessionClosed:
		if d, ok := data.(SessionEventData); ok {
			h.logger.Info("[Session] closed", "session_id", d.SessionID, "duration_seconds", d.DurationS)
		}
	case EventTicketIssued:
		if d, ok := data.(TicketEventData); ok {
			h.logger.Info("[Ticket] issued", "ticket_id", redactTicketID(d.TicketID))
		}
	case EventTicketConsumed:
		if d, ok := data.(TicketEventData); ok {
			h.logger.Info("[Ticket] consumed", "ticket_id", redactTicketID(d.TicketID), "subject", d.Subject)
		}
	case EventSystemError, EventSystemInfo:
		if d, ok := data.(SystemEventData); ok {
			h.logger.Warn("[System] "+d.Message, "level", d.Level)
		}
	default:
		h.logger.Warn("unhandled event type", "type", eventType)
	}
}

func redactTicketID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

// SetupEventHandlers subscribes a DefaultEventHandler to every topic this
// gateway publishes, so admin/ops visibility works out of the box.
func SetupEventHandlers(logger *slog.Logger) {
	handler := NewDefaultEventHandler(logger)

	topics := []string{
		EventASRResult,
		EventASRError,
		EventArchiveUploaded,
		EventArchiveUploadFailed,
		EventSessionAuthenticated,
		EventSessionClosed,
		EventTicketIssued,
		EventTicketConsumed,
		EventSystemError,
		EventSystemInfo,
	}
	for _, topic := range topics {
		t := topic
		_ = Subscribe(t, func(args ...interface{}) {
			if len(args) > 0 {
				handler.Handle(t, args[0])
			}
		})
	}
}
