package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.Project.Pipeline.Mode != ModeCorpus {
		t.Fatalf("expected corpus mode, got %q", c.Project.Pipeline.Mode)
	}
	if c.Project.Corpus.MinAge != 72*time.Hour || c.Project.Corpus.MinEntries != 3 {
		t.Fatalf("unexpected corpus defaults: %+v", c.Project.Corpus)
	}
	if c.MaxRetries() != 2 {
		t.Fatalf("expected max retries 2, got %d", c.MaxRetries())
	}
}

func TestInitDirWritesParseableDefault(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitDir(projectDir); err != nil {
		t.Fatalf("InitDir: %v", err)
	}
	for _, dir := range []string{"queue/tasks/pending", "queue/locks", "corpus/entries", "orchestration"} {
		if _, err := os.Stat(filepath.Join(projectDir, Dir, dir)); err != nil {
			t.Fatalf("missing %s: %v", dir, err)
		}
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load default file: %v", err)
	}
	if c.Project.Queue.PollInterval != 10*time.Second {
		t.Fatalf("poll interval = %s, want 10s", c.Project.Queue.PollInterval)
	}
	if c.Project.Queue.LeaseDuration != 30*time.Minute {
		t.Fatalf("lease = %s, want 30m", c.Project.Queue.LeaseDuration)
	}
	if c.Project.Publisher.Kind != PublisherOutbox || !c.Project.Publisher.Markdown {
		t.Fatalf("publisher = %+v, want outbox with markdown", c.Project.Publisher)
	}
}

func TestLoadParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	foundryDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(foundryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
queue:
  poll_interval: 5s
  lease_duration: 0s
corpus:
  min_entries: 4
  min_age: 48h
pipeline:
  mode: Direct
  max_retries: 0
  scorer_script: scorers/score.go
publisher:
  kind: exec
  command: ["./publish.sh", "--quiet"]
`)
	if err := os.WriteFile(filepath.Join(foundryDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if c.Project.Pipeline.Mode != ModeDirect {
		t.Fatalf("mode = %q, want direct", c.Project.Pipeline.Mode)
	}
	if c.MaxRetries() != 0 {
		t.Fatalf("explicit max_retries 0 should be kept, got %d", c.MaxRetries())
	}
	if c.Project.Queue.LeaseDuration != 0 {
		t.Fatalf("lease should be disabled, got %s", c.Project.Queue.LeaseDuration)
	}
	if c.Project.Corpus.MinEntries != 4 || c.Project.Corpus.MinAge != 48*time.Hour {
		t.Fatalf("unexpected corpus config: %+v", c.Project.Corpus)
	}
	if !strings.HasPrefix(c.ScorerScriptPath(), projectDir) {
		t.Fatalf("expected scorer path to be resolved, got %s", c.ScorerScriptPath())
	}
	if len(c.Project.Publisher.Command) != 2 {
		t.Fatalf("publisher command = %v", c.Project.Publisher.Command)
	}
}

func TestLoadValidation(t *testing.T) {
	projectDir := t.TempDir()
	foundryDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(foundryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
publisher:
  kind: exec
`)
	if err := os.WriteFile(filepath.Join(foundryDir, "config.yaml"), []byte(configYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(projectDir); err == nil {
		t.Fatalf("expected validation error but got none")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FOUNDRY_PIPELINE_MODE", "direct")
	t.Setenv("FOUNDRY_BRIDGE_PORT", "9001")
	t.Setenv("FOUNDRY_BRIDGE_ENABLED", "false")
	c, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Project.Pipeline.Mode != ModeDirect {
		t.Fatalf("mode = %q, want direct", c.Project.Pipeline.Mode)
	}
	if c.Project.Bridge.Port != 9001 {
		t.Fatalf("port = %d, want 9001", c.Project.Bridge.Port)
	}
	if c.BridgeEnabled() {
		t.Fatalf("expected bridge disabled by env")
	}
}

func TestSetPipelineModePersists(t *testing.T) {
	projectDir := t.TempDir()
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := c.SetPipelineMode("direct"); err != nil {
		t.Fatalf("SetPipelineMode: %v", err)
	}
	reloaded, err := Load(projectDir)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Project.Pipeline.Mode != ModeDirect {
		t.Fatalf("mode not persisted: %q", reloaded.Project.Pipeline.Mode)
	}
	if reloaded.Project.Corpus.MinAge != 72*time.Hour {
		t.Fatalf("durations should round-trip, got %s", reloaded.Project.Corpus.MinAge)
	}
	if err := c.SetPipelineMode("sideways"); err == nil {
		t.Fatalf("expected invalid mode error")
	}
}

func TestBridgeSectionDefaultsAndValidation(t *testing.T) {
	projectDir := t.TempDir()
	foundryDir := filepath.Join(projectDir, Dir)
	if err := os.MkdirAll(foundryDir, 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(foundryDir, "config.yaml"), []byte(strings.TrimSpace(body)), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	write(`
version: 1
bridge:
  host: " localhost "
  read_timeout: 5s
  dedupe_window: 64
`)
	c, err := Load(projectDir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	b := c.Project.Bridge
	if b.Address() != "localhost:8765" {
		t.Fatalf("address = %q, want localhost:8765", b.Address())
	}
	if b.ReadTimeout != 5*time.Second || b.WriteTimeout != 15*time.Second || b.IdleTimeout != time.Minute {
		t.Fatalf("timeouts = %s/%s/%s", b.ReadTimeout, b.WriteTimeout, b.IdleTimeout)
	}
	if b.DedupeWindow != 64 || b.MaxBodyBytes != 1<<20 {
		t.Fatalf("bridge = %+v", b)
	}

	for _, bad := range []string{
		"version: 1\nbridge:\n  port: 70000\n",
		"version: 1\nbridge:\n  port: -1\n",
		"version: 1\nbridge:\n  dedupe_window: 99999999\n",
	} {
		write(bad)
		if _, err := Load(projectDir); err == nil {
			t.Fatalf("expected validation error for %q", bad)
		}
	}

	if d := DefaultBridge(); d.Address() != "127.0.0.1:8765" || d.DedupeWindow != 1024 {
		t.Fatalf("DefaultBridge = %+v", d)
	}
}
