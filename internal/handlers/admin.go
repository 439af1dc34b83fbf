package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/newsplatform/backend/internal/services"
)

// AdminHandler exposes token administration: per-user session stats, forced
// revocation and manual maintenance runs.
type AdminHandler struct {
	sessions    *services.SessionManager
	cleanup     *services.TokenCleanupService
	auditLogSvc *services.AuditLogService
}

func NewAdminHandler(sessions *services.SessionManager, cleanup *services.TokenCleanupService, auditLogSvc *services.AuditLogService) *AdminHandler {
	return &AdminHandler{
		sessions:    sessions,
		cleanup:     cleanup,
		auditLogSvc: auditLogSvc,
	}
}

// GetUserTokenStats returns active session counts for a user
// GET /api/admin/users/:id/tokens
func (h *AdminHandler) GetUserTokenStats(c *gin.Context) {
	stats, err := h.sessions.StatsForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RevokeUserTokens force-revokes every session of a user
// POST /api/admin/users/:id/revoke
func (h *AdminHandler) RevokeUserTokens(c *gin.Context) {
	count, err := h.sessions.RevokeAllForUser(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"revoked": count})
}

// RunTokenCleanup triggers retention cleanup and a duplicate sweep
// POST /api/admin/tokens/cleanup
func (h *AdminHandler) RunTokenCleanup(c *gin.Context) {
	deleted, err := h.cleanup.CleanupExpired(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cleanup failed"})
		return
	}
	swept, err := h.cleanup.SweepDuplicates(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "duplicate sweep failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted, "duplicates_reconciled": swept})
}

// ListAuditLogs lists audit trail entries
// GET /api/admin/audit-logs
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	var req services.AuditLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.auditLogSvc.List(&req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list audit logs"})
		return
	}
	c.JSON(http.StatusOK, resp)
}
