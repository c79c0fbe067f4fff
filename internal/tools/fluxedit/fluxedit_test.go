package fluxedit

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

func TestTool_RequiresPrompt(t *testing.T) {
	tool := &Tool{}
	args, _ := json.Marshal(map[string]string{"input_image_url": "https://example.com/a.png"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestTool_RequiresInputImageURL(t *testing.T) {
	tool := &Tool{}
	args, _ := json.Marshal(map[string]string{"prompt": "make it blue"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestTool_RejectsUnknownModel(t *testing.T) {
	tool := &Tool{}
	args, _ := json.Marshal(map[string]any{
		"prompt": "make it blue", "input_image_url": "https://example.com/a.png", "model": "flux-3000",
	})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestTool_RejectsUnknownOutputFormat(t *testing.T) {
	tool := &Tool{}
	args, _ := json.Marshal(map[string]any{
		"prompt": "make it blue", "input_image_url": "https://example.com/a.png", "output_format": "bmp",
	})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestRoundToMultipleOf16(t *testing.T) {
	cases := map[int]int{16: 16, 17: 32, 0: 0, 1000: 1008}
	for in, want := range cases {
		if got := roundToMultipleOf16(in); got != want {
			t.Fatalf("roundToMultipleOf16(%d) = %d, want %d", in, got, want)
		}
	}
}
