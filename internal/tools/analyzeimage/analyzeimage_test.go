package analyzeimage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

func TestTool_RequiresImageSource(t *testing.T) {
	tool := &Tool{Downloader: nil}
	args, _ := json.Marshal(map[string]string{})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestTool_RejectsNonHTTPSource(t *testing.T) {
	tool := &Tool{}
	args, _ := json.Marshal(map[string]string{"image_source": "/etc/passwd"})
	result, err := tool.Execute(context.Background(), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected error result, got %v", result.Kind)
	}
}

func TestEstimateTokens_LowDetailIsFixed(t *testing.T) {
	if got := estimateTokens(4000, 4000, "low", nil); got != 85 {
		t.Fatalf("expected 85 tokens for low detail, got %d", got)
	}
}

func TestEstimateTokens_CapsAtMaxPatches(t *testing.T) {
	capped := estimateTokens(4096, 4096, "high", nil)
	uncapped := estimateTokens(1024, 1024, "high", nil)
	if capped <= 0 || uncapped <= 0 {
		t.Fatalf("expected positive token estimates, got capped=%d uncapped=%d", capped, uncapped)
	}
	if capped < uncapped {
		t.Fatalf("expected large image estimate (%d) to still exceed small image estimate (%d) after capping", capped, uncapped)
	}
}

func TestSmartDetail(t *testing.T) {
	cases := []struct {
		w, h int
		want string
	}{
		{256, 256, "low"},
		{1024, 1024, "high"},
		{4096, 4096, "low"},
	}
	for _, c := range cases {
		if got := smartDetail(c.w, c.h, nil); got != c.want {
			t.Fatalf("smartDetail(%d,%d) = %q, want %q", c.w, c.h, got, c.want)
		}
	}
}
