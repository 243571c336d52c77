package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"basegraph.app/pandora/internal/model"
)

// LocalDocumentStore implements DocumentStore on the local filesystem, laid
// out exactly as spec §6 describes:
//
//	users/{user_id}/
//	  turns/turn_{NNNNNN}/context.md, response.md, metadata.json, metrics.json
//	  Knowledge/
//	  Knowledge_staging/
//	  Logs/reflector/
type LocalDocumentStore struct {
	rootDir string
}

func NewLocalDocumentStore(rootDir string) (*LocalDocumentStore, error) {
	if rootDir == "" {
		return nil, fmt.Errorf("document store root directory is required")
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating document store root: %w", err)
	}
	return &LocalDocumentStore{rootDir: rootDir}, nil
}

func (s *LocalDocumentStore) turnDir(turn TurnRef) string {
	return filepath.Join(s.rootDir, "users", turn.UserID, "turns", fmt.Sprintf("turn_%06d", turn.TurnNum))
}

func (s *LocalDocumentStore) contextPath(turn TurnRef) string {
	return filepath.Join(s.turnDir(turn), "context.md")
}

// AppendSection writes "## <N>. <Title>" followed by the body and, if
// present, a fenced ```yaml _meta block, never touching bytes already
// written (I1). Sections are numbered by the caller; this call is a pure
// append.
func (s *LocalDocumentStore) AppendSection(ctx context.Context, turn TurnRef, section RenderedSection) error {
	dir := s.turnDir(turn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating turn directory: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## %d. %s\n\n", section.Number, section.Title)
	b.WriteString(section.Body)
	if !strings.HasSuffix(section.Body, "\n") {
		b.WriteString("\n")
	}
	if section.Meta != "" {
		b.WriteString("\n```yaml\n")
		b.WriteString(strings.TrimRight(section.Meta, "\n"))
		b.WriteString("\n```\n")
	}
	b.WriteString("\n")

	f, err := os.OpenFile(s.contextPath(turn), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening context.md: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("appending section %d: %w", section.Number, err)
	}
	return nil
}

// WriteTurnSummary appends the turn-summary appendix, the final write to
// context.md for a turn (§6).
func (s *LocalDocumentStore) WriteTurnSummary(ctx context.Context, turn TurnRef, summary model.TurnSummary) error {
	meta, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshaling turn summary: %w", err)
	}

	var b strings.Builder
	b.WriteString("## Appendix: Turn Summary\n\n")
	b.WriteString(summary.Text)
	b.WriteString("\n\n```yaml\n")
	b.WriteString(strings.TrimRight(string(meta), "\n"))
	b.WriteString("\n```\n")

	f, err := os.OpenFile(s.contextPath(turn), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening context.md: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("appending turn summary: %w", err)
	}
	return nil
}

func (s *LocalDocumentStore) WriteResponse(ctx context.Context, turn TurnRef, responseText string) error {
	return s.atomicWrite(filepath.Join(s.turnDir(turn), "response.md"), []byte(responseText))
}

func (s *LocalDocumentStore) WriteMetadata(ctx context.Context, turn TurnRef, meta TurnMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}
	return s.atomicWrite(filepath.Join(s.turnDir(turn), "metadata.json"), data)
}

func (s *LocalDocumentStore) WriteMetrics(ctx context.Context, turn TurnRef, metrics TurnMetrics) error {
	data, err := json.MarshalIndent(metrics, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metrics: %w", err)
	}
	return s.atomicWrite(filepath.Join(s.turnDir(turn), "metrics.json"), data)
}

func (s *LocalDocumentStore) ReadContext(ctx context.Context, turn TurnRef) (string, error) {
	data, err := os.ReadFile(s.contextPath(turn))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading context.md: %w", err)
	}
	return string(data), nil
}

func (s *LocalDocumentStore) PromoteKnowledge(ctx context.Context, userID string, node model.MemoryNode) error {
	dir := filepath.Join(s.rootDir, "users", userID, "Knowledge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating Knowledge directory: %w", err)
	}
	data, err := json.MarshalIndent(node, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling memory node: %w", err)
	}
	return s.atomicWrite(filepath.Join(dir, node.ID+".json"), data)
}

func (s *LocalDocumentStore) StageKnowledge(ctx context.Context, userID string, staged model.StagedKnowledge) error {
	dir := filepath.Join(s.rootDir, "users", userID, "Knowledge_staging")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating Knowledge_staging directory: %w", err)
	}
	data, err := json.MarshalIndent(staged, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling staged knowledge: %w", err)
	}
	return s.atomicWrite(filepath.Join(dir, staged.ID+".json"), data)
}

func (s *LocalDocumentStore) WriteReflectorLog(ctx context.Context, userID, batchID string, payload any) error {
	dir := filepath.Join(s.rootDir, "users", userID, "Logs", "reflector")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating reflector log directory: %w", err)
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling reflector log: %w", err)
	}
	filename := fmt.Sprintf("%s_%s.json", time.Now().UTC().Format("20060102T150405"), batchID)
	return s.atomicWrite(filepath.Join(dir, filename), data)
}

// atomicWrite writes to a .tmp sibling then renames over the destination,
// matching the teacher's spec store write pattern.
func (s *LocalDocumentStore) atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", path, err)
	}
	return nil
}
