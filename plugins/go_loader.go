// Package plugins loads operator-supplied Go scripts with the yaegi
// interpreter so quality scoring can change without rebuilding foundry.
package plugins

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/kingrea/foundry/internal/pipeline"
	"github.com/kingrea/foundry/internal/store"
)

const scoreFuncName = "Score"

// ScoreFunc is the signature a scorer script must define:
//
//	func Score(taskType string, result map[string]any) (int, []string)
type ScoreFunc func(taskType string, result map[string]any) (int, []string)

// ScriptScorer is a pipeline.Scorer backed by an interpreted script.
type ScriptScorer struct {
	path string
	mu   sync.Mutex
	fn   ScoreFunc
}

var _ pipeline.Scorer = (*ScriptScorer)(nil)

// LoadScriptScorer interprets the script at path and binds its Score function.
func LoadScriptScorer(path string) (*ScriptScorer, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, fmt.Errorf("plugin: scorer path is empty")
	}
	code, err := os.ReadFile(trimmed)
	if err != nil {
		return nil, fmt.Errorf("plugin: read %s: %w", trimmed, err)
	}
	if len(strings.TrimSpace(string(code))) == 0 {
		return nil, fmt.Errorf("plugin: %s is empty", trimmed)
	}
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("plugin: load stdlib symbols: %w", err)
	}
	if _, err := i.EvalPath(trimmed); err != nil {
		return nil, fmt.Errorf("plugin: interpret %s: %w", trimmed, err)
	}
	value, err := i.Eval(scoreFuncName)
	if err != nil {
		return nil, fmt.Errorf("plugin: %s must define %s(taskType string, result map[string]any) (int, []string): %w", trimmed, scoreFuncName, err)
	}
	if !value.IsValid() {
		return nil, fmt.Errorf("plugin: %s: missing %s function", trimmed, scoreFuncName)
	}
	fn, ok := value.Interface().(func(string, map[string]any) (int, []string))
	if !ok {
		return nil, fmt.Errorf("plugin: %s: %s has type %s", trimmed, scoreFuncName, value.Type())
	}
	return &ScriptScorer{path: trimmed, fn: fn}, nil
}

// Path returns the script location.
func (s *ScriptScorer) Path() string {
	return s.path
}

// Score implements pipeline.Scorer. Non-object results score zero without
// calling the script; a panicking script is reported as an error.
func (s *ScriptScorer) Score(_ context.Context, taskType store.TaskType, result json.RawMessage) (verdict pipeline.Verdict, err error) {
	var fields map[string]any
	if err := json.Unmarshal(result, &fields); err != nil || fields == nil {
		return pipeline.Verdict{Score: 0, Feedback: []string{"result is not a JSON object"}}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("plugin: %s panicked: %v", s.path, r)
		}
	}()
	score, feedback := s.fn(string(taskType), fields)
	return pipeline.Verdict{Score: pipeline.ClampScore(score), Feedback: feedback}, nil
}
