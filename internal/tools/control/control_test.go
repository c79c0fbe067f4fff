package control

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

func TestNullResponseTool_ReturnsNullResult(t *testing.T) {
	tool := &NullResponseTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultNull {
		t.Fatalf("expected ResultNull, got %v", result.Kind)
	}
}

func TestReportStatusTool_ReturnsStatusResult(t *testing.T) {
	tool := &ReportStatusTool{}
	args, _ := json.Marshal(map[string]string{"status": "searching the web"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultStatus || result.Text != "searching the web" {
		t.Fatalf("expected status result, got %v: %q", result.Kind, result.Text)
	}
}

func TestReportStatusTool_RequiresStatus(t *testing.T) {
	tool := &ReportStatusTool{}
	result, err := tool.Execute(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected validation error, got %v", result.Kind)
	}
}
