package watcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/kingrea/foundry/internal/store"
)

// ExecHandler runs an external command per task. The task record is written
// to the command's stdin as JSON and its stdout must be a JSON result. A
// non-zero exit fails the task with the trimmed stderr.
type ExecHandler struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
}

// NewExecHandler builds a handler for argv.
func NewExecHandler(argv []string) (*ExecHandler, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("watcher: exec handler needs a command")
	}
	return &ExecHandler{Command: argv[0], Args: argv[1:]}, nil
}

// Handle implements Handler.
func (h *ExecHandler) Handle(ctx context.Context, task store.Task) (json.RawMessage, error) {
	input, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("encode task: %w", err)
	}
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, h.Command, h.Args...)
	cmd.Dir = h.Dir
	cmd.WaitDelay = time.Second
	cmd.Env = append(os.Environ(), h.Env...)
	cmd.Env = append(cmd.Env,
		"FOUNDRY_TASK_ID="+task.ID,
		"FOUNDRY_TASK_TYPE="+string(task.TaskType),
		"FOUNDRY_AGENT_TYPE="+string(task.AgentType),
	)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("command timeout after %s", h.Timeout)
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", h.Command, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", h.Command, err)
	}

	out := bytes.TrimSpace(stdout.Bytes())
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty result", h.Command)
	}
	if !json.Valid(out) {
		return nil, fmt.Errorf("%s: result is not valid JSON", h.Command)
	}
	return json.RawMessage(out), nil
}
