package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/kingrea/foundry/internal/artifact"
	"github.com/kingrea/foundry/internal/store"
)

// Artifact is the approved output handed to a Publisher.
type Artifact struct {
	ArtifactID   string          `json:"artifactId"`
	Key          string          `json:"key"`
	Brief        store.Brief     `json:"brief"`
	Visual       json.RawMessage `json:"visual,omitempty"`
	Draft        json.RawMessage `json:"draft"`
	Review       json.RawMessage `json:"review,omitempty"`
	ReviewTaskID string          `json:"reviewTaskId"`
	ApprovedAt   time.Time       `json:"approvedAt"`
}

// Publisher delivers an approved artifact. Delivery guarantees belong to the
// implementation; the orchestrator calls it at most once per artifact.
type Publisher interface {
	Publish(ctx context.Context, artifact Artifact) error
}

// OutboxPublisher writes each artifact as <id>.json for a downstream process
// and, when Markdown is set, a readable <id>.md next to it.
type OutboxPublisher struct {
	Dir      string
	Markdown bool
}

// Publish implements Publisher.
func (p OutboxPublisher) Publish(_ context.Context, artifact Artifact) error {
	if p.Dir == "" {
		return errors.New("outbox publisher: directory is not set")
	}
	jsonPath, err := outboxPath(p.Dir, artifact.ArtifactID+".json")
	if err != nil {
		return err
	}
	if p.Markdown {
		mdPath, err := outboxPath(p.Dir, artifact.ArtifactID+".md")
		if err != nil {
			return err
		}
		doc, err := RenderMarkdown(artifact)
		if err != nil {
			return fmt.Errorf("outbox publisher: %w", err)
		}
		if err := store.WriteFileAtomic(mdPath, doc); err != nil {
			return fmt.Errorf("outbox publisher: %w", err)
		}
	}
	if err := store.WriteJSONAtomic(jsonPath, artifact); err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}
	return nil
}

// outboxPath joins name onto dir and refuses names that leave dir.
func outboxPath(dir, name string) (string, error) {
	path := filepath.Join(dir, name)
	if filepath.Dir(path) != filepath.Clean(dir) {
		return "", fmt.Errorf("outbox publisher: artifact file %q escapes %s", name, dir)
	}
	return path, nil
}

type draftDocument struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Body    string `json:"body"`
}

// RenderMarkdown turns an approved draft into a Markdown document whose
// frontmatter records the chain it came from.
func RenderMarkdown(a Artifact) ([]byte, error) {
	var draft draftDocument
	if len(a.Draft) > 0 {
		if err := json.Unmarshal(a.Draft, &draft); err != nil {
			return nil, fmt.Errorf("decode draft: %w", err)
		}
	}
	meta := artifact.Metadata{
		ArtifactID: a.ArtifactID,
		Key:        a.Key,
		Title:      strings.TrimSpace(draft.Title),
		Theme:      a.Brief.Theme,
		SignalID:   a.Brief.SignalID,
		EntryIDs:   a.Brief.EntryIDs,
		ApprovedAt: a.ApprovedAt,
	}
	if a.ReviewTaskID != "" {
		meta.Notes = map[string]string{"review_task": a.ReviewTaskID}
	}
	var body strings.Builder
	if meta.Title != "" {
		fmt.Fprintf(&body, "# %s\n\n", meta.Title)
	}
	if s := strings.TrimSpace(draft.Summary); s != "" {
		fmt.Fprintf(&body, "> %s\n\n", s)
	}
	if b := strings.TrimSpace(draft.Body); b != "" {
		body.WriteString(b)
		body.WriteString("\n")
	}
	return artifact.WriteFrontMatter(meta, []byte(body.String()))
}

// ExecPublisher pipes the artifact JSON into a command.
type ExecPublisher struct {
	Command []string
	Dir     string
	Timeout time.Duration
}

// Publish implements Publisher.
func (p ExecPublisher) Publish(ctx context.Context, artifact Artifact) error {
	if len(p.Command) == 0 {
		return errors.New("exec publisher: command is not set")
	}
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("exec publisher: encode: %w", err)
	}
	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}
	cmd := exec.CommandContext(ctx, p.Command[0], p.Command[1:]...)
	cmd.Dir = p.Dir
	cmd.Stdin = bytes.NewReader(data)
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("exec publisher: timeout after %s", p.Timeout)
		}
		if msg := strings.TrimSpace(string(output)); msg != "" {
			return fmt.Errorf("exec publisher: %w: %s", err, msg)
		}
		return fmt.Errorf("exec publisher: %w", err)
	}
	return nil
}
