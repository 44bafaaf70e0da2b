package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/kingrea/foundry/internal/store"
)

func TestHeuristicScorer(t *testing.T) {
	tests := []struct {
		name     string
		taskType store.TaskType
		result   string
		min, max int
	}{
		{"complete draft", store.TaskWriteArtifact, mustJSON(goodDraft), 100, 100},
		{"empty object", store.TaskWriteArtifact, `{}`, 0, 0},
		{"not an object", store.TaskWriteArtifact, `"text"`, 0, 0},
		{"title only", store.TaskWriteArtifact, `{"title":"A considered title"}`, 30, 40},
		{"short visual", store.TaskDesignVisual, `{"concept":"sun","prompt":"sun","altText":"sun"}`, 60, 70},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := HeuristicScorer{}.Score(context.Background(), tc.taskType, json.RawMessage(tc.result))
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if v.Score < tc.min || v.Score > tc.max {
				t.Fatalf("score = %d, want within %d..%d (feedback %v)", v.Score, tc.min, tc.max, v.Feedback)
			}
		})
	}
}

func TestHeuristicScorerFeedbackNamesMissingFields(t *testing.T) {
	v, err := HeuristicScorer{}.Score(context.Background(), store.TaskDesignVisual, json.RawMessage(`{"concept":"x"}`))
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	joined := strings.Join(v.Feedback, "; ")
	for _, want := range []string{`missing "prompt"`, `missing "altText"`, `"concept" is short`} {
		if !strings.Contains(joined, want) {
			t.Fatalf("feedback %q missing %q", joined, want)
		}
	}
}

func TestHeuristicScorerRejectsReviewType(t *testing.T) {
	if _, err := (HeuristicScorer{}).Score(context.Background(), store.TaskReviewArtifact, json.RawMessage(`{}`)); err == nil {
		t.Fatalf("expected error for unscored task type")
	}
}

func TestReviewResultFeedbackForms(t *testing.T) {
	var one ReviewResult
	if err := json.Unmarshal([]byte(`{"approved":false,"feedback":"tighten the intro"}`), &one); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(one.Feedback) != 1 || one.Feedback[0] != "tighten the intro" {
		t.Fatalf("feedback = %v", one.Feedback)
	}
	var many ReviewResult
	if err := json.Unmarshal([]byte(`{"approved":true,"feedback":["a","b"],"notes":"ok"}`), &many); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !many.Approved || len(many.Feedback) != 2 || many.Notes != "ok" {
		t.Fatalf("review = %+v", many)
	}
}

func TestClampScore(t *testing.T) {
	for in, want := range map[int]int{-5: 0, 0: 0, 50: 50, 100: 100, 140: 100} {
		if got := ClampScore(in); got != want {
			t.Fatalf("ClampScore(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode(" Direct "); err != nil || m != ModeDirect {
		t.Fatalf("ParseMode = %q, %v", m, err)
	}
	if m, err := ParseMode(""); err != nil || m != ModeCorpus {
		t.Fatalf("ParseMode(empty) = %q, %v", m, err)
	}
	if _, err := ParseMode("fanout"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
