package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"basegraph.app/pandora/internal/http/middleware"
	"basegraph.app/pandora/internal/model"
	"basegraph.app/pandora/internal/orchestrator"
)

// TurnHandler serves the inbound turn contract (§6): one user message in,
// one rendered response out, with enough status detail that a caller can
// tell a clean completion from a partial/cancelled/failed one.
type TurnHandler struct {
	orchestrator *orchestrator.Orchestrator
}

func NewTurnHandler(o *orchestrator.Orchestrator) *TurnHandler {
	return &TurnHandler{orchestrator: o}
}

type processTurnRequest struct {
	SessionID      string `json:"session_id" binding:"required"`
	UserID         string `json:"user_id" binding:"required"`
	Message        string `json:"message" binding:"required"`
	Mode           string `json:"mode"`
	IsFirstContact bool   `json:"is_first_contact"`
}

type processTurnResponse struct {
	Response      string `json:"response"`
	Status        string `json:"status"`
	ErrorType     string `json:"error_type,omitempty"`
	PhaseReached  string `json:"phase_reached,omitempty"`
	PartialResult string `json:"partial_results,omitempty"`
}

// Process handles POST / — run the full stage sequence for one turn.
func (h *TurnHandler) Process(c *gin.Context) {
	ctx := c.Request.Context()

	var req processTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid turn request body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if verified := middleware.WorkOSUserID(c); verified != "" && verified != req.UserID {
		slog.WarnContext(ctx, "turn request user_id does not match verified caller", "user_id", req.UserID)
		c.JSON(http.StatusForbidden, gin.H{"error": "user_id does not match verified caller"})
		return
	}

	mode := model.ModeChat
	if req.Mode == string(model.ModeCode) {
		mode = model.ModeCode
	}

	result, err := h.orchestrator.ProcessTurn(ctx, req.SessionID, req.UserID, req.Message, mode, req.IsFirstContact)
	if err != nil {
		var oerr *orchestrator.Error
		if errors.As(err, &oerr) && oerr.Kind == "locked" {
			c.JSON(http.StatusConflict, gin.H{"error": "a turn is already in progress for this session"})
			return
		}
		slog.ErrorContext(ctx, "turn processing failed", "session_id", req.SessionID, "error", err)
	}

	if result == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "turn processing produced no result"})
		return
	}

	c.JSON(http.StatusOK, processTurnResponse{
		Response:      result.Response,
		Status:        string(result.Status),
		ErrorType:     result.ErrorType,
		PhaseReached:  result.PhaseReached,
		PartialResult: result.PartialResult,
	})
}
