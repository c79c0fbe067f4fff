// Package control implements the two marker tools (spec.md §4.1/§9):
// null_response, which signals the message wasn't addressed to the
// assistant, and report_status, which emits an in-flight status update.
package control

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

type NullResponseTool struct{}

func (t *NullResponseTool) Name() string { return "null_response" }

func (t *NullResponseTool) Description() string {
	return "Signal that the message is not addressed to the assistant. No side effect beyond signalling."
}

func (t *NullResponseTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *NullResponseTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	return orchestrator.NullResult(), nil
}

type ReportStatusTool struct{}

func (t *ReportStatusTool) Name() string { return "report_status" }

func (t *ReportStatusTool) Description() string {
	return "Emit an in-flight status update describing what the assistant is doing right now."
}

func (t *ReportStatusTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"status": {"type": "string", "description": "Short present-tense status, e.g. 'searching the web'"}
		},
		"required": ["status"]
	}`)
}

type statusParams struct {
	Status string `json:"status"`
}

func (t *ReportStatusTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p statusParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.Status == "" {
		return orchestrator.ErrorResult("status is required"), nil
	}
	return orchestrator.StatusResult(p.Status), nil
}
