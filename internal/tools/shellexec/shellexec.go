// Package shellexec implements shell_exec (spec.md §4.4): owner-only host
// shell commands, tracked through the shared process registry so long
// commands can be queried after the tool call returns.
package shellexec

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/shell"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const (
	DefaultTimeout = 30 * time.Second
	MaxTimeout     = 180 * time.Second
)

type Tool struct {
	Registry *shell.ProcessRegistry
}

func (t *Tool) Name() string { return "shell_exec" }

func (t *Tool) Description() string {
	return "Run a shell command on the host (bash, pipes allowed). Owner-only. 30s default timeout."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string"},
			"timeout_seconds": {"type": "integer", "description": "1-180, default 30"}
		},
		"required": ["command"]
	}`)
}

type params struct {
	Command        string `json:"command"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	caller := orchestrator.CallerFromContext(ctx)
	if caller.PermissionLevel != models.PermOwner {
		return orchestrator.ErrorResult("Permission denied: shell_exec is owner-only"), nil
	}

	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.Command == "" {
		return orchestrator.ErrorResult("command is required"), nil
	}

	timeout := DefaultTimeout
	if p.TimeoutSeconds > 0 {
		timeout = time.Duration(p.TimeoutSeconds) * time.Second
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	session := &shell.ProcessSession{
		ID:        uuid.NewString(),
		Command:   p.Command,
		ScopeKey:  caller.Nick,
		StartedAt: time.Now(),
	}
	t.Registry.AddSession(session)

	cmd := exec.CommandContext(runCtx, "bash", "-c", p.Command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if cmd.Process != nil {
		session.PID = cmd.Process.Pid
	}
	t.Registry.AppendOutput(session, "stdout", stdout.String())
	t.Registry.AppendOutput(session, "stderr", stderr.String())

	status := shell.ProcessStatusCompleted
	var exitCode *int
	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		status = shell.ProcessStatusKilled
	case runErr != nil:
		status = shell.ProcessStatusFailed
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			exitCode = &code
		}
	default:
		code := 0
		exitCode = &code
	}
	t.Registry.MarkExited(session, exitCode, "", status)

	switch status {
	case shell.ProcessStatusKilled:
		return orchestrator.ErrorResultf("command timed out after %s\n%s", timeout, session.Tail), nil
	case shell.ProcessStatusFailed:
		return orchestrator.ErrorResultf("command failed: %v\n%s", runErr, session.Tail), nil
	default:
		return orchestrator.TextResult(session.Aggregated), nil
	}
}
