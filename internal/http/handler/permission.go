package handler

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/pandora/internal/toolexec"
)

// PermissionHandler exposes the approval-wait gate to whatever surface an
// operator uses to resolve a blocked write-set tool call.
type PermissionHandler struct {
	approvals *toolexec.ApprovalBroker
}

func NewPermissionHandler(approvals *toolexec.ApprovalBroker) *PermissionHandler {
	return &PermissionHandler{approvals: approvals}
}

type resolvePermissionRequest struct {
	Approved bool `json:"approved"`
}

// Resolve handles POST /api/permissions/:id/resolve.
func (h *PermissionHandler) Resolve(c *gin.Context) {
	ctx := c.Request.Context()
	requestID := c.Param("id")

	var req resolvePermissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.approvals.Resolve(ctx, requestID, req.Approved); err != nil {
		slog.ErrorContext(ctx, "failed resolving approval", "request_id", requestID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve approval"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"request_id": requestID, "approved": req.Approved})
}

// Pending handles GET /api/permissions/pending.
func (h *PermissionHandler) Pending(c *gin.Context) {
	ctx := c.Request.Context()

	pending, err := h.approvals.ListPending(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed listing pending approvals", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list pending approvals"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pending": pending})
}
