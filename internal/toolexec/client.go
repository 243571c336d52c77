// Package toolexec implements C5, the Tool Executor: remote HTTP tool
// invocation behind a circuit breaker and the three-layer permission gate
// (mode, repository scope, approval-wait), plus workflow stepping over C4's
// matched multi-tool sequences.
package toolexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"basegraph.app/pandora/internal/model"
)

// Executor invokes tools over HTTP against the remote tool service,
// wrapping every call in a per-tool circuit breaker and the permission gate.
type Executor struct {
	baseURL    string
	httpClient *http.Client
	gate       *Gate
	breakers   map[string]*gobreaker.CircuitBreaker[model.ToolResult]
}

func NewExecutor(baseURL string, gate *Gate) *Executor {
	return &Executor{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		gate:     gate,
		breakers: make(map[string]*gobreaker.CircuitBreaker[model.ToolResult]),
	}
}

func (e *Executor) breakerFor(tool string) *gobreaker.CircuitBreaker[model.ToolResult] {
	if cb, ok := e.breakers[tool]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker[model.ToolResult](gobreaker.Settings{
		Name:        tool,
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("tool circuit breaker state change", "tool", name, "from", from, "to", to)
		},
	})
	e.breakers[tool] = cb
	return cb
}

// Invoke runs the permission gate then the remote call. The gate decides for
// itself whether this call needs an approval-wait round trip; Invoke never
// has to know.
func (e *Executor) Invoke(ctx context.Context, req model.ToolRequest) (model.ToolResult, error) {
	decision, reason, err := e.gate.Check(ctx, req)
	if err != nil {
		return model.ToolResult{}, &Error{Err: fmt.Errorf("permission check for %s: %w", req.ToolName, err), Retryable: false}
	}
	if decision == model.PermissionDeny {
		return model.ToolResult{}, NewFatalError(fmt.Errorf("tool %s denied: %s", req.ToolName, reason))
	}

	cb := e.breakerFor(req.ToolName)
	result, err := cb.Execute(func() (model.ToolResult, error) {
		return e.call(ctx, req)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return model.ToolResult{}, NewRetryableError(fmt.Errorf("tool %s circuit open: %w", req.ToolName, err))
		}
		return model.ToolResult{}, NewRetryableError(fmt.Errorf("invoking tool %s: %w", req.ToolName, err))
	}
	return result, nil
}

func (e *Executor) call(ctx context.Context, req model.ToolRequest) (model.ToolResult, error) {
	body, err := json.Marshal(req.Args)
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("marshal tool args: %w", err)
	}

	url := fmt.Sprintf("%s/%s", e.baseURL, req.ToolName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("build tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("tool %s request: %w", req.ToolName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.ToolResult{}, fmt.Errorf("reading tool %s response: %w", req.ToolName, err)
	}

	if resp.StatusCode >= 500 {
		return model.ToolResult{}, fmt.Errorf("tool %s returned %d: %s", req.ToolName, resp.StatusCode, string(raw))
	}

	var result model.ToolResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return model.ToolResult{}, fmt.Errorf("decode tool %s response: %w", req.ToolName, err)
	}
	result.ToolName = req.ToolName

	if resp.StatusCode >= 400 && result.Error == "" {
		result.Error = fmt.Sprintf("tool %s returned %d", req.ToolName, resp.StatusCode)
	}
	return result, nil
}
