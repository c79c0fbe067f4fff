package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/artifacts"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

// defaultPythonTimeout matches spec.md §4.4's python_exec contract: 180s.
const defaultPythonTimeout = 180

// PythonExecTool implements orchestrator.Tool for python_exec: a Python-only
// front door onto Executor, restricted from the teacher's full
// python/nodejs/go/bash execute_code surface. Output files the sandbox run
// produces are uploaded to the paste store and returned as URLs rather than
// inlined, since tool results are plain text.
type PythonExecTool struct {
	Executor *Executor
	Repo     artifacts.Repository // paste store for output files
	BaseURL  string               // public URL prefix for paste links
}

// NewPythonExecTool builds the tool around a Firecracker-backed Executor,
// falling back to BackendDev (direct os/exec) when Firecracker isn't
// installed on the host, per python_exec's "falls back to local exec only
// in dev" guarantee.
func NewPythonExecTool(repo artifacts.Repository, baseURL string, opts ...Option) (*PythonExecTool, error) {
	allOpts := append([]Option{WithBackend(BackendFirecracker), WithDefaultTimeout(defaultPythonTimeout * time.Second)}, opts...)
	executor, err := NewExecutor(allOpts...)
	if err != nil {
		return nil, fmt.Errorf("python_exec: %w", err)
	}
	return &PythonExecTool{Executor: executor, Repo: repo, BaseURL: baseURL}, nil
}

func (t *PythonExecTool) Name() string { return "python_exec" }

func (t *PythonExecTool) Description() string {
	return "Execute Python code in a sandboxed microVM (or a local dev fallback). Connects over a " +
		"host/VM duplex channel, auto-starting the VM if needed. Any files the code writes are " +
		"uploaded and returned as URLs. 180s default timeout."
}

func (t *PythonExecTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "description": "Python source to execute"},
			"stdin": {"type": "string", "description": "Optional standard input"},
			"files": {
				"type": "object",
				"additionalProperties": {"type": "string"},
				"description": "Optional additional files to mount (filename -> content)"
			},
			"timeout": {"type": "integer", "description": "Seconds, default 180, max 300", "minimum": 1, "maximum": 300}
		},
		"required": ["code"]
	}`)
}

type pythonParams struct {
	Code    string            `json:"code"`
	Stdin   string            `json:"stdin"`
	Files   map[string]string `json:"files"`
	Timeout int               `json:"timeout"`
}

func (t *PythonExecTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p pythonParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.Code) == "" {
		return orchestrator.ErrorResult("code must be non-empty"), nil
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = defaultPythonTimeout
	}
	if timeout > 300 {
		timeout = 300
	}

	execParams := &ExecuteParams{
		Language:        "python",
		Code:            p.Code,
		Stdin:           p.Stdin,
		Files:           p.Files,
		Timeout:         timeout,
		WorkspaceAccess: t.Executor.workspaceAccess,
	}

	execCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	result, err := t.Executor.executeCode(execCtx, execParams)
	if err != nil {
		return orchestrator.ErrorResultf("python_exec failed: %v", err), nil
	}

	output := formatExecutionResult(result)
	if len(result.Files) > 0 {
		urls, err := t.uploadFiles(ctx, result.Files)
		if err != nil {
			output += fmt.Sprintf("\n(failed to upload %d output file(s): %v)", len(result.Files), err)
		} else {
			output += "\nFiles:\n" + strings.Join(urls, "\n")
		}
	}

	if result.ExitCode != 0 || result.Error != "" {
		return orchestrator.ErrorResult(output), nil
	}
	return orchestrator.TextResult(output), nil
}

func (t *PythonExecTool) uploadFiles(ctx context.Context, files map[string]string) ([]string, error) {
	if t.Repo == nil {
		return nil, fmt.Errorf("no paste store configured")
	}
	var urls []string
	for name, content := range files {
		artifact := &artifacts.Artifact{
			Type:     "paste",
			MimeType: "text/plain",
			Filename: name,
			Size:     int64(len(content)),
			// Output files from a one-off run are short-lived by default.
			TtlSeconds: 24 * 3600,
		}
		if err := t.Repo.StoreArtifact(ctx, artifact, strings.NewReader(content)); err != nil {
			return nil, err
		}
		url := artifact.Id
		if t.BaseURL != "" {
			url = strings.TrimRight(t.BaseURL, "/") + "/pastes/" + artifact.Id
		}
		urls = append(urls, fmt.Sprintf("%s: %s", name, url))
	}
	return urls, nil
}
