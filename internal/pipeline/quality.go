package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kingrea/foundry/internal/store"
)

// Verdict is a quality-gate outcome. Score is within 0..100.
type Verdict struct {
	Score    int
	Feedback []string
}

// Scorer rates a production result.
type Scorer interface {
	Score(ctx context.Context, taskType store.TaskType, result json.RawMessage) (Verdict, error)
}

// ScorerFunc adapts a function to Scorer.
type ScorerFunc func(ctx context.Context, taskType store.TaskType, result json.RawMessage) (Verdict, error)

// Score calls f.
func (f ScorerFunc) Score(ctx context.Context, taskType store.TaskType, result json.RawMessage) (Verdict, error) {
	return f(ctx, taskType, result)
}

// ClampScore bounds s to 0..100.
func ClampScore(s int) int {
	switch {
	case s < 0:
		return 0
	case s > 100:
		return 100
	default:
		return s
	}
}

type fieldRule struct {
	name string
	// minLen is the length at which the field earns full length credit.
	minLen int
}

var heuristicRules = map[store.TaskType][]fieldRule{
	store.TaskDesignVisual: {
		{name: "concept", minLen: 40},
		{name: "prompt", minLen: 80},
		{name: "altText", minLen: 20},
	},
	store.TaskWriteArtifact: {
		{name: "title", minLen: 10},
		{name: "summary", minLen: 80},
		{name: "body", minLen: 600},
	},
}

const (
	presenceWeight = 60
	lengthWeight   = 40
)

// HeuristicScorer scores structural completeness: each expected field earns
// presence credit, and length credit up to its target length.
type HeuristicScorer struct{}

// Score implements Scorer.
func (HeuristicScorer) Score(_ context.Context, taskType store.TaskType, result json.RawMessage) (Verdict, error) {
	rules, ok := heuristicRules[taskType]
	if !ok {
		return Verdict{}, fmt.Errorf("pipeline: no quality rules for %s", taskType)
	}
	var fields map[string]any
	if err := json.Unmarshal(result, &fields); err != nil || fields == nil {
		return Verdict{Score: 0, Feedback: []string{"result is not a JSON object"}}, nil
	}

	var (
		score    float64
		feedback []string
	)
	per := float64(presenceWeight) / float64(len(rules))
	perLen := float64(lengthWeight) / float64(len(rules))
	for _, rule := range rules {
		text := textOf(fields[rule.name])
		if text == "" {
			feedback = append(feedback, fmt.Sprintf("missing %q", rule.name))
			continue
		}
		score += per
		n := len([]rune(text))
		if n >= rule.minLen {
			score += perLen
			continue
		}
		score += perLen * float64(n) / float64(rule.minLen)
		feedback = append(feedback, fmt.Sprintf("%q is short (%d of %d characters)", rule.name, n, rule.minLen))
	}
	return Verdict{Score: ClampScore(int(score + 0.5)), Feedback: feedback}, nil
}

func textOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := textOf(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// ReviewResult is the reviewer's decision on a draft.
type ReviewResult struct {
	Approved bool     `json:"approved"`
	Feedback []string `json:"feedback,omitempty"`
	Notes    string   `json:"notes,omitempty"`
}

// UnmarshalJSON accepts feedback as a string or a list of strings.
func (r *ReviewResult) UnmarshalJSON(data []byte) error {
	var aux struct {
		Approved bool            `json:"approved"`
		Feedback json.RawMessage `json:"feedback"`
		Notes    string          `json:"notes"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.Approved = aux.Approved
	r.Notes = aux.Notes
	r.Feedback = nil
	if len(aux.Feedback) == 0 || string(aux.Feedback) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(aux.Feedback, &one); err == nil {
		if one = strings.TrimSpace(one); one != "" {
			r.Feedback = []string{one}
		}
		return nil
	}
	return json.Unmarshal(aux.Feedback, &r.Feedback)
}
