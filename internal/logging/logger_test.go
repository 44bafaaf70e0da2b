package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToProjectLogAndConsole(t *testing.T) {
	dir := t.TempDir()
	var console bytes.Buffer
	logger, err := New(dir, slog.LevelInfo, &console)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("task claimed", "task_id", "t-1")
	logger.Debug("hidden")
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ".foundry", "logs", "foundry.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "task_id=t-1") {
		t.Fatalf("log file missing attribute: %q", data)
	}
	if strings.Contains(string(data), "hidden") {
		t.Fatalf("debug record should be filtered at info level")
	}
	if !strings.Contains(console.String(), "task claimed") {
		t.Fatalf("console mirror missing record: %q", console.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
