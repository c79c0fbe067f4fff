package orchestrator

import (
	"context"
	"encoding/json"
	"time"
)

// ToolSchema is the provider-facing description of one registered tool.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// FunctionOutput threads one tool's result back to the provider on the next
// turn, addressed by the call id the provider assigned the function_call.
type FunctionOutput struct {
	CallID string
	Output string
}

// CreateParams is one call to the provider. Exactly one of PromptText (the
// first turn) or FunctionOutputs (every subsequent turn) is populated; the
// prompt itself is never resent once PreviousResponseID is set; this is
// what lets the provider retain prompt-prefix cache and hidden reasoning
// across turns (spec.md §4.1 step 4).
type CreateParams struct {
	PromptText           string
	FunctionOutputs      []FunctionOutput
	Tools                []ToolSchema
	ReasoningEffort      string
	MaxOutputTokens      int
	Timeout              time.Duration
	PreviousResponseID   string
	PromptCacheRetention time.Duration
}

// OutputItemType enumerates the provider's typed output-item union
// (spec.md §6; design note §9 replaces duck-typed hasattr-chains with an
// exhaustive variant type).
type OutputItemType string

const (
	OutputMessage             OutputItemType = "message"
	OutputFunctionCall        OutputItemType = "function_call"
	OutputWebSearchCall       OutputItemType = "web_search_call"
	OutputCodeInterpreterCall OutputItemType = "code_interpreter_call"
)

// OutputItem is one item of a response's Output list, carrying only the
// fields relevant to its Type.
type OutputItem struct {
	Type OutputItemType

	// Type == OutputMessage
	Text      string
	Citations []string // url_citation annotations, in appearance order

	// Type == OutputFunctionCall
	CallID    string
	Name      string
	Arguments string
}

// Usage is one turn's token accounting (spec.md §3 UsageRecord, §6).
type Usage struct {
	InputTokens  int
	CachedTokens int
	OutputTokens int
}

// Response is one provider turn.
type Response struct {
	ID         string
	OutputText string
	Output     []OutputItem
	Usage      Usage
}

// Provider is the abstract responses-style API the orchestrator requires
// (spec.md §6). The core talks to exactly one concrete implementation of
// this interface at a time (the OpenAI Responses API client in
// internal/provider/responses) — Provider exists to keep the loop testable
// with a fake, not to abstract over multiple LLM vendors; see spec.md §1
// Non-goals ("multi-provider LLM abstraction for the reasoning loop
// itself").
type Provider interface {
	Create(ctx context.Context, params CreateParams) (*Response, error)
}

// VisionProvider is an optional capability a Provider may implement to
// support the analyze_image tool's nested vision sub-call (spec.md §4.1
// step 4, "analyze_image" special handling). Image bytes never enter the
// main reasoning chain; only the extracted description text does.
type VisionProvider interface {
	AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error)
}
