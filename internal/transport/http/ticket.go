package httptransport

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"asrgateway/internal/domain/clerkauth"
	"asrgateway/internal/domain/ticket"
	"asrgateway/internal/platform/logging"
)

// TicketService exposes the HTTP half of the Ticket Issuer: a bearer-
// authenticated endpoint that exchanges an identity-provider credential
// for a short-lived, single-use websocket ticket.
type TicketService struct {
	verifier *clerkauth.Verifier
	issuer   *ticket.Issuer
	logger   *logging.Logger
}

// NewTicketService wires a TicketService against the given verifier and issuer.
func NewTicketService(verifier *clerkauth.Verifier, issuer *ticket.Issuer, logger *logging.Logger) *TicketService {
	return &TicketService{verifier: verifier, issuer: issuer, logger: logger}
}

// Register mounts POST /ws/ticket under api.
func (s *TicketService) Register(api *gin.RouterGroup) {
	api.POST("/ws/ticket", s.handleIssue)
}

// handleIssue replies with the plain {"error": "..."} / {"ticket": ...}
// bodies spec.md §6 documents for this endpoint, rather than this
// package's admin-surface APIResponse envelope.
func (s *TicketService) handleIssue(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing Authorization header"})
		return
	}

	token := header
	if strings.HasPrefix(token, "Bearer ") {
		token = strings.TrimPrefix(token, "Bearer ")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	subject, err := s.verifier.Verify(token)
	if err != nil {
		if s.logger != nil {
			s.logger.WarnTag("Ticket", "token verification failed", map[string]any{"error": err.Error()})
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token verification failed"})
		return
	}

	id, ttl, err := s.issuer.Issue(c.Request.Context(), subject)
	if err != nil {
		if s.logger != nil {
			s.logger.ErrorTag("Ticket", "issue failed", map[string]any{"error": err.Error()})
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue ticket"})
		return
	}

	if s.logger != nil {
		s.logger.InfoTag("Ticket", "issued", map[string]any{"ticket": logging.Redact(id)})
	}

	c.JSON(http.StatusOK, gin.H{"ticket": id, "expires_in": ttl})
}
