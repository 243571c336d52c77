package toolexec

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"basegraph.app/pandora/common/id"
	"basegraph.app/pandora/core/config"
	"basegraph.app/pandora/internal/model"
)

// Gate implements the three-layer permission check C5 runs before any
// write-set tool call: a mode gate (chat sessions cannot invoke code-writing
// tools), a repository-scope gate (writes must target SAVED_REPO), and an
// approval-wait gate for everything that passes the first two but still
// needs a human sign-off.
type Gate struct {
	cfg      config.PermissionConfig
	approver *ApprovalBroker
}

func NewGate(cfg config.PermissionConfig, approver *ApprovalBroker) *Gate {
	return &Gate{cfg: cfg, approver: approver}
}

func (g *Gate) inWriteSet(tool string) bool {
	for _, t := range g.cfg.WriteSetTools {
		if t == tool {
			return true
		}
	}
	return false
}

// Check runs all three gates in order: mode, repository scope, then
// approval-wait for anything the scope gate didn't resolve to ALLOW. It
// generates its own approval-broker request ID — callers never have one
// worth passing in, and every write-set call outside SAVED_REPO needs the
// approval-wait gate to actually run for NEEDS_APPROVAL to mean anything.
func (g *Gate) Check(ctx context.Context, req model.ToolRequest) (model.PermissionDecision, model.PermissionDenialReason, error) {
	if !g.inWriteSet(req.ToolName) {
		return model.PermissionAllow, model.DenialNone, nil
	}

	if g.cfg.EnforceModeGates && req.Mode == model.ModeChat {
		slog.WarnContext(ctx, "tool denied by mode gate", "tool", req.ToolName, "mode", req.Mode)
		return model.PermissionDeny, model.DenialModeGate, nil
	}

	if req.RepoPath == "" || g.cfg.SavedRepo == "" || underSavedRepo(req.RepoPath, g.cfg.SavedRepo) {
		return model.PermissionAllow, model.DenialNone, nil
	}

	// NEEDS_APPROVAL: out-of-scope write, resolved by the approval-wait gate.
	if g.approver == nil {
		slog.WarnContext(ctx, "tool needs approval but no approval broker is configured, denying", "tool", req.ToolName, "repo", req.RepoPath, "saved_repo", g.cfg.SavedRepo)
		return model.PermissionDeny, model.DenialRepoScope, nil
	}

	requestID := fmt.Sprintf("%s-%d", req.ToolName, id.New())
	timeout := g.cfg.ApprovalWaitTimeout
	if timeout <= 0 {
		timeout = 180 * time.Second
	}
	if err := g.approver.RegisterPending(ctx, PendingApproval{
		RequestID:   requestID,
		ToolName:    req.ToolName,
		SessionID:   req.SessionID,
		RequestedAt: time.Now().UTC(),
	}); err != nil {
		slog.WarnContext(ctx, "failed registering pending approval", "request_id", requestID, "error", err)
	}
	waitStart := time.Now()
	approved, err := g.approver.Await(ctx, requestID, timeout)
	if err != nil {
		return model.PermissionDeny, model.DenialApprovalTimeout, err
	}
	if !approved {
		if time.Since(waitStart) >= timeout {
			return model.PermissionDeny, model.DenialApprovalTimeout, nil
		}
		return model.PermissionDeny, model.DenialApprovalRejected, nil
	}
	return model.PermissionAllow, model.DenialNone, nil
}

// underSavedRepo reports whether repoPath is SAVED_REPO itself or a path
// beneath it, not merely an exact string match — a write to a subdirectory
// of the saved repo is in-scope too.
func underSavedRepo(repoPath, savedRepo string) bool {
	repoPath = filepath.Clean(repoPath)
	savedRepo = filepath.Clean(savedRepo)
	if repoPath == savedRepo {
		return true
	}
	return strings.HasPrefix(repoPath, savedRepo+string(filepath.Separator))
}
