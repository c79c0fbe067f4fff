package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-core/internal/quota"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// fakeProvider scripts a fixed sequence of responses, one per call to Create.
type fakeProvider struct {
	responses []*Response
	calls     int
}

func (f *fakeProvider) Create(ctx context.Context, params CreateParams) (*Response, error) {
	if f.calls >= len(f.responses) {
		return &Response{OutputText: "done"}, nil
	}
	r := f.responses[f.calls]
	f.calls++
	return r, nil
}

type echoTool struct {
	name   string
	result *ToolResult
}

func (t *echoTool) Name() string            { return t.name }
func (t *echoTool) Description() string     { return "test tool" }
func (t *echoTool) Schema() json.RawMessage { return json.RawMessage(`{"type":"object"}`) }
func (t *echoTool) Execute(ctx context.Context, args json.RawMessage) (*ToolResult, error) {
	return t.result, nil
}

func newTestLoop(t *testing.T, provider Provider, reg *ToolRegistry) (*Loop, *memUsageStore) {
	t.Helper()
	usage := &memUsageStore{}
	reg.Freeze()
	loop := NewLoop(provider, reg, usage, models.DefaultCostTable,
		quota.NewSlidingWindow(3, time.Hour), quota.NewSlidingWindow(3, 24*time.Hour),
		LoopParams{
			Model: "gpt-5", NormalReasoningEffort: "medium", NormalMaxTokens: 4000,
			NormalTimeout: time.Second, NormalMaxIterations: 5,
		}, nil, nil)
	return loop, usage
}

type memUsageStore struct{ records []*models.UsageRecord }

func (m *memUsageStore) Record(ctx context.Context, rec *models.UsageRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func drain(ch <-chan Event) []Event {
	var out []Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestLoop_NoToolCallsTerminatesImmediately(t *testing.T) {
	provider := &fakeProvider{responses: []*Response{{OutputText: "hello"}}}
	reg := NewToolRegistry()
	loop, usage := newTestLoop(t, provider, reg)

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r1", Nick: "alice", Channel: "#x"}))
	if len(events) != 1 || events[0].Kind != EventSuccess {
		t.Fatalf("expected one success event, got %+v", events)
	}
	if events[0].Message != "hello" {
		t.Fatalf("unexpected message: %q", events[0].Message)
	}
	if len(usage.records) != 1 || usage.records[0].ToolCalls != 0 {
		t.Fatalf("expected one usage record with zero tool calls, got %+v", usage.records)
	}
}

func TestLoop_NullResponseSuppressesMessage(t *testing.T) {
	provider := &fakeProvider{responses: []*Response{
		{ID: "resp1", Output: []OutputItem{{Type: OutputFunctionCall, CallID: "c1", Name: "null_response", Arguments: "{}"}}},
		{OutputText: "should be suppressed"},
	}}
	reg := NewToolRegistry()
	reg.Register(&echoTool{name: "null_response", result: NullResult()})
	loop, _ := newTestLoop(t, provider, reg)

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r2", Nick: "bob", Channel: "#x"}))
	if len(events) != 1 || events[0].Kind != EventNull {
		t.Fatalf("expected one null event, got %+v", events)
	}
	if events[0].Message != "" {
		t.Fatalf("null event must carry an empty message, got %q", events[0].Message)
	}
}

func TestLoop_StatusUpdateForwardedBeforeTerminal(t *testing.T) {
	provider := &fakeProvider{responses: []*Response{
		{ID: "resp1", Output: []OutputItem{{Type: OutputFunctionCall, CallID: "c1", Name: "report_status", Arguments: "{}"}}},
		{OutputText: "final answer"},
	}}
	reg := NewToolRegistry()
	reg.Register(&echoTool{name: "report_status", result: StatusResult("working on it")})
	loop, _ := newTestLoop(t, provider, reg)

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r3", Nick: "carol", Channel: "#x"}))
	if len(events) != 2 {
		t.Fatalf("expected processing + success, got %+v", events)
	}
	if events[0].Kind != EventProcessing || events[0].Message != "working on it" {
		t.Fatalf("unexpected first event: %+v", events[0])
	}
	if events[1].Kind != EventSuccess {
		t.Fatalf("expected terminal success, got %+v", events[1])
	}
}

func TestLoop_TerminatesWithinMaxIterations(t *testing.T) {
	responses := make([]*Response, 0, 10)
	for i := 0; i < 10; i++ {
		responses = append(responses, &Response{
			ID:     "resp",
			Output: []OutputItem{{Type: OutputFunctionCall, CallID: "c", Name: "loopy", Arguments: "{}"}},
		})
	}
	provider := &fakeProvider{responses: responses}
	reg := NewToolRegistry()
	reg.Register(&echoTool{name: "loopy", result: TextResult("again")})
	loop, _ := newTestLoop(t, provider, reg)

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r4", Nick: "dave", Channel: "#x"}))
	if len(events) != 1 || events[0].Kind != EventSuccess {
		t.Fatalf("expected exactly one terminal event even though the provider never stops calling tools, got %+v", events)
	}
}

func TestLoop_DeepModeQuotaExhausted(t *testing.T) {
	provider := &fakeProvider{responses: []*Response{{OutputText: "ok"}}}
	reg := NewToolRegistry()
	loop, _ := newTestLoop(t, provider, reg)
	loop.DeepModeQuota = quota.NewSlidingWindow(1, 24*time.Hour)
	loop.DeepModeQuota.Allow("eve")

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r5", Nick: "eve", Channel: "#x", DeepMode: true, PermissionLevel: models.PermNormal}))
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected quota error, got %+v", events)
	}
}

func TestLoop_OwnerBypassesDeepModeQuota(t *testing.T) {
	provider := &fakeProvider{responses: []*Response{{OutputText: "ok"}}}
	reg := NewToolRegistry()
	loop, _ := newTestLoop(t, provider, reg)
	loop.DeepModeQuota = quota.NewSlidingWindow(1, 24*time.Hour)
	loop.DeepModeQuota.Allow("frank")

	events := drain(loop.Stream(context.Background(), Request{RequestID: "r6", Nick: "frank", Channel: "#x", DeepMode: true, PermissionLevel: models.PermOwner}))
	if len(events) != 1 || events[0].Kind != EventSuccess {
		t.Fatalf("owner should bypass an exhausted deep-mode quota, got %+v", events)
	}
}
