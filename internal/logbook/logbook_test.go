package logbook

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestTailReturnsRecentLinesAndTotal(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "journal.log")
	book, err := New(path)
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	for i := 0; i < 5; i++ {
		book.Info("entry-%d", i)
	}
	lines, total := book.Tail(3)
	if total != 5 {
		t.Fatalf("total lines = %d, want 5", total)
	}
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	for idx, want := range []string{"entry-2", "entry-3", "entry-4"} {
		if !strings.Contains(lines[idx], want) {
			t.Fatalf("line %d = %q, missing %s", idx, lines[idx], want)
		}
	}
}

func TestTailMissingFile(t *testing.T) {
	book, err := New(filepath.Join(t.TempDir(), "none", "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	lines, total := book.Tail(10)
	if lines != nil || total != 0 {
		t.Fatalf("Tail on missing file = %v, %d", lines, total)
	}
}

func TestTransitionIsSingleLine(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	book, err := New(filepath.Join(t.TempDir(), "journal.log"))
	if err != nil {
		t.Fatalf("new logbook: %v", err)
	}
	book.WithClock(func() time.Time { return fixed })
	book.Transition("dispatch", "sig-1", "write_artifact\nretry=1")
	lines, total := book.Tail(5)
	if total != 1 {
		t.Fatalf("total = %d, want 1", total)
	}
	if !strings.HasPrefix(lines[0], "2024-05-01T12:00:00Z INFO ") {
		t.Fatalf("unexpected prefix: %q", lines[0])
	}
	if !strings.Contains(lines[0], "sig-1 write_artifact retry=1") {
		t.Fatalf("unexpected line: %q", lines[0])
	}
}
