package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kingrea/foundry/internal/artifact"
	"github.com/kingrea/foundry/internal/store"
)

func TestOutboxPublisherWritesArtifact(t *testing.T) {
	dir := t.TempDir()
	p := OutboxPublisher{Dir: dir}
	artifact := Artifact{ArtifactID: "published-sig-1", Key: "sig-1", Draft: []byte(`{"title":"t"}`)}
	if err := p.Publish(context.Background(), artifact); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	var got Artifact
	if err := store.ReadJSON(filepath.Join(dir, "published-sig-1.json"), &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Key != "sig-1" || string(got.Draft) != `{"title":"t"}` {
		t.Fatalf("artifact = %+v", got)
	}
}

func TestExecPublisherPipesArtifact(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "received.json")
	p := ExecPublisher{Command: []string{"sh", "-c", "cat > " + out}}
	if err := p.Publish(context.Background(), Artifact{ArtifactID: "published-x", Key: "x"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read piped artifact: %v", err)
	}
	if !strings.Contains(string(data), `"artifactId":"published-x"`) {
		t.Fatalf("piped artifact = %s", data)
	}
}

func TestExecPublisherReportsFailure(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	p := ExecPublisher{Command: []string{"sh", "-c", "echo 'remote rejected' >&2; exit 1"}}
	err := p.Publish(context.Background(), Artifact{ArtifactID: "a"})
	if err == nil || !strings.Contains(err.Error(), "remote rejected") {
		t.Fatalf("err = %v, want output in error", err)
	}
}

func TestOutboxPublisherWritesMarkdown(t *testing.T) {
	dir := t.TempDir()
	p := OutboxPublisher{Dir: dir, Markdown: true}
	art := Artifact{
		ArtifactID:   "published-cluster:pricing",
		Key:          "cluster:pricing",
		Brief:        store.Brief{Key: "cluster:pricing", Theme: "pricing", EntryIDs: []string{"e1", "e2"}},
		Draft:        []byte(`{"title":"Pricing pages","summary":"Short.","body":"Long body."}`),
		ReviewTaskID: "rev-1",
		ApprovedAt:   time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC),
	}
	if err := p.Publish(context.Background(), art); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	doc, err := os.ReadFile(filepath.Join(dir, "published-cluster:pricing.md"))
	if err != nil {
		t.Fatalf("read markdown: %v", err)
	}
	meta, body, err := artifact.ParseFrontMatter(doc)
	if err != nil {
		t.Fatalf("ParseFrontMatter: %v", err)
	}
	if meta.Theme != "pricing" || meta.Title != "Pricing pages" || meta.Notes["review_task"] != "rev-1" {
		t.Fatalf("metadata = %+v", meta)
	}
	if string(body) != "# Pricing pages\n\n> Short.\n\nLong body.\n" {
		t.Fatalf("body = %q", body)
	}
	if _, err := os.Stat(filepath.Join(dir, "published-cluster:pricing.json")); err != nil {
		t.Fatalf("json artifact missing: %v", err)
	}
}

func TestRenderMarkdownRejectsBadDraft(t *testing.T) {
	if _, err := RenderMarkdown(Artifact{ArtifactID: "a", Key: "k", Draft: []byte(`"just text"`)}); err == nil {
		t.Fatalf("expected decode error for non-object draft")
	}
}

func TestOutboxPublisherRefusesEscapingID(t *testing.T) {
	root := t.TempDir()
	outbox := filepath.Join(root, ".foundry", "outbox")
	p := OutboxPublisher{Dir: outbox, Markdown: true}
	err := p.Publish(context.Background(), Artifact{ArtifactID: "published-../../../config", Key: "x"})
	if err == nil {
		t.Fatalf("expected an error for an id leaving the outbox")
	}
	if _, statErr := os.Stat(filepath.Join(root, ".foundry", "config.json")); !os.IsNotExist(statErr) {
		t.Fatalf("file written outside the outbox: %v", statErr)
	}

	id := store.NewArtifactID("../../../config")
	if err := p.Publish(context.Background(), Artifact{ArtifactID: id, Key: "../../../config"}); err != nil {
		t.Fatalf("Publish sanitized id: %v", err)
	}
	if _, err := os.Stat(filepath.Join(outbox, id+".json")); err != nil {
		t.Fatalf("sanitized artifact missing from outbox: %v", err)
	}
}
