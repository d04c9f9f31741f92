package httptransport

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"asrgateway/internal/domain/archive"
	"asrgateway/internal/domain/ticket"
	"asrgateway/internal/platform/logging"
)

const archivePrefix = "audio-sessions/"

// AdminService exposes the enumerated administrative endpoints over the
// object store and ticket store: introspection and retention, kept off
// the transcription hot path and gated behind a single bearer token.
type AdminService struct {
	adminToken  string
	objectStore archive.ObjectStore
	tickets     *ticket.Manager
	logger      *logging.Logger
}

// NewAdminService wires an AdminService.
func NewAdminService(adminToken string, objectStore archive.ObjectStore, tickets *ticket.Manager, logger *logging.Logger) *AdminService {
	return &AdminService{adminToken: adminToken, objectStore: objectStore, tickets: tickets, logger: logger}
}

// Register mounts the admin routes under api, all gated by adminAuth.
func (s *AdminService) Register(api *gin.RouterGroup) {
	group := api.Group("/admin")
	group.Use(s.adminAuth())

	group.GET("/archive/stats", s.handleArchiveStats)
	group.GET("/archive/sessions/:userId", s.handleArchiveSessions)
	group.GET("/archive/download", s.handleArchiveDownload)
	group.DELETE("/archive/object", s.handleArchiveDelete)
	group.POST("/archive/retention-sweep", s.handleRetentionSweep)
	group.GET("/tickets/stats", s.handleTicketStats)
}

func (s *AdminService) adminAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if s.adminToken == "" || token != s.adminToken {
			RespondError(c, http.StatusUnauthorized, "Invalid or missing admin token", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}

func (s *AdminService) handleArchiveStats(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, archive.Snapshot(), "")
}

// handleArchiveSessions lists archived chunk keys for a session. The
// Archived Chunk data model (spec.md §3) tracks only sessionId in its
// object-store metadata, not the authenticating subject, so :userId here
// matches against the session id embedded in the key, not the bearer
// subject that authenticated the websocket connection.
func (s *AdminService) handleArchiveSessions(c *gin.Context) {
	userID := c.Param("userId")
	objects, err := s.objectStore.List(c.Request.Context(), archivePrefix+"session_"+userID+"_")
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "Failed to list session objects", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, objects, "")
}

func (s *AdminService) handleArchiveDownload(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		RespondError(c, http.StatusBadRequest, "Missing key parameter", nil)
		return
	}
	body, metadata, err := s.objectStore.Get(c.Request.Context(), key)
	if err != nil {
		RespondError(c, http.StatusNotFound, "Object not found", nil)
		return
	}
	for k, v := range metadata {
		c.Header("X-Amz-Meta-"+k, v)
	}
	c.Data(http.StatusOK, "audio/wav", body)
}

func (s *AdminService) handleArchiveDelete(c *gin.Context) {
	key := c.Query("key")
	if key == "" {
		RespondError(c, http.StatusBadRequest, "Missing key parameter", nil)
		return
	}
	if err := s.objectStore.Delete(c.Request.Context(), key); err != nil {
		RespondError(c, http.StatusInternalServerError, "Failed to delete object", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, nil, "deleted")
}

type retentionSweepRequest struct {
	MaxAgeDays int `json:"maxAgeDays"`
}

func (s *AdminService) handleRetentionSweep(c *gin.Context) {
	var req retentionSweepRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxAgeDays < 1 || req.MaxAgeDays > 365 {
		RespondError(c, http.StatusBadRequest, "maxAgeDays must be between 1 and 365", nil)
		return
	}

	cutoff := time.Now().AddDate(0, 0, -req.MaxAgeDays)
	objects, err := s.objectStore.List(c.Request.Context(), archivePrefix)
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "Failed to list objects", nil)
		return
	}

	deleted := 0
	for _, obj := range objects {
		uploadedAt := obj.LastModified
		if meta, err := s.objectStore.Head(c.Request.Context(), obj.Key); err == nil {
			if ts, err := time.Parse(time.RFC3339, meta["uploadedAt"]); err == nil {
				uploadedAt = ts
			}
		}
		if uploadedAt.After(cutoff) {
			continue
		}
		if err := s.objectStore.Delete(c.Request.Context(), obj.Key); err != nil {
			if s.logger != nil {
				s.logger.WarnTag("Admin", "retention sweep delete failed", map[string]any{"key": obj.Key, "error": err.Error()})
			}
			continue
		}
		deleted++
	}

	RespondSuccess(c, http.StatusOK, gin.H{"deleted": deleted, "scanned": len(objects)}, "")
}

func (s *AdminService) handleTicketStats(c *gin.Context) {
	stats, err := s.tickets.Stats(c.Request.Context())
	if err != nil {
		RespondError(c, http.StatusInternalServerError, "Failed to read ticket store stats", nil)
		return
	}
	RespondSuccess(c, http.StatusOK, stats, "")
}
