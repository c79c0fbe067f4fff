package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus-core/internal/postprocess"
	"github.com/haasonsaas/nexus-core/internal/quota"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

var tracer = otel.Tracer("github.com/haasonsaas/nexus-core/internal/orchestrator")

// LoopParams are the reasoning-loop parameters chosen per request
// (spec.md §4.1 step 2). Normal and deep-mode values come from config; the
// loop itself is parameter-agnostic.
type LoopParams struct {
	Model                 string
	NormalReasoningEffort string
	DeepReasoningEffort   string
	NormalMaxTokens       int
	DeepMaxTokens         int
	NormalTimeout         time.Duration
	DeepTimeout           time.Duration
	NormalMaxIterations   int
	DeepMaxIterations     int
	PromptCacheRetention  time.Duration
}

// Loop is the orchestrator: it owns the provider connection, the tool
// registry, the rate-limit fabric it consults before invoking image and
// deep-mode gated work, and the usage ledger it writes to on completion.
type Loop struct {
	Provider      Provider
	Registry      *ToolRegistry
	Usage         storage.UsageStore
	Cost          models.CostTable
	ImageQuota    *quota.SlidingWindow
	DeepModeQuota *quota.SlidingWindow
	Params        LoopParams
	Logger        *slog.Logger

	imageToolNames map[string]bool
}

// NewLoop wires a Loop. imageTools names the tools subject to the shared
// global image quota (flux_create, flux_edit, gpt_image, gemini_image).
func NewLoop(provider Provider, registry *ToolRegistry, usage storage.UsageStore, cost models.CostTable, imageQuota, deepModeQuota *quota.SlidingWindow, params LoopParams, logger *slog.Logger, imageTools []string) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	names := make(map[string]bool, len(imageTools))
	for _, n := range imageTools {
		names[n] = true
	}
	return &Loop{
		Provider: provider, Registry: registry, Usage: usage, Cost: cost,
		ImageQuota: imageQuota, DeepModeQuota: deepModeQuota, Params: params,
		Logger: logger, imageToolNames: names,
	}
}

// Request is one mention request's worth of orchestrator input
// (spec.md §4.1's stream() contract).
type Request struct {
	RequestID       string
	Nick            string
	Channel         string
	Prompt          string // pre-assembled by the Prompt Assembler (§4.2)
	PermissionLevel models.PermissionLevel
	DeepMode        bool
}

// Stream runs the reasoning loop and returns a channel of events. The
// channel is bounded so the orchestrator (producer) and the HTTP responder
// (consumer) are decoupled by backpressure rather than an unbounded queue
// (spec.md §5); it is closed after exactly one terminal event.
func (l *Loop) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		l.run(ctx, req, out)
	}()
	return out
}

func (l *Loop) run(ctx context.Context, req Request, out chan<- Event) {
	ctx, span := tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("request_id", req.RequestID)))
	defer span.End()

	log := l.Logger.With("request_id", req.RequestID, "nick", req.Nick, "channel", req.Channel)

	if req.DeepMode && !req.PermissionLevel.IsElevated() {
		if l.DeepModeQuota.Remaining(req.Nick) <= 0 {
			out <- errorEvent(fmt.Sprintf("Deep-mode quota reached; resets at %s", l.DeepModeQuota.ResetAt(req.Nick).Format(time.RFC3339)))
			return
		}
	}

	maxIter := l.Params.NormalMaxIterations
	effort := l.Params.NormalReasoningEffort
	maxTokens := l.Params.NormalMaxTokens
	timeout := l.Params.NormalTimeout
	if req.DeepMode {
		maxIter = l.Params.DeepMaxIterations
		effort = l.Params.DeepReasoningEffort
		maxTokens = l.Params.DeepMaxTokens
		timeout = l.Params.DeepTimeout
	}

	tools := l.Registry.Definitions()
	callCtx := withCaller(ctx, Caller{Nick: req.Nick, Channel: req.Channel, RequestID: req.RequestID, PermissionLevel: req.PermissionLevel})

	var (
		previousResponseID   string
		functionOutputs      []FunctionOutput
		nullTriggered        bool
		truncated            bool
		citations            []string
		usage                Usage
		toolCalls            int
		webSearchCalls       int
		codeInterpreterCalls int
		lastText             string
	)

	turn := 0
	for ; turn < maxIter; turn++ {
		turnCtx, cancel := context.WithTimeout(callCtx, timeout)
		params := CreateParams{
			Tools:                tools,
			ReasoningEffort:      effort,
			MaxOutputTokens:      maxTokens,
			Timeout:              timeout,
			PreviousResponseID:   previousResponseID,
			PromptCacheRetention: l.Params.PromptCacheRetention,
		}
		if previousResponseID == "" {
			params.PromptText = req.Prompt
		} else {
			params.FunctionOutputs = functionOutputs
		}

		resp, err := l.Provider.Create(turnCtx, params)
		cancel()
		if err != nil {
			log.Error("provider call failed", "turn", turn, "error", err)
			out <- errorEvent("The request to the language model failed. Please try again.")
			return
		}

		previousResponseID = resp.ID
		usage.InputTokens += resp.Usage.InputTokens
		usage.CachedTokens += resp.Usage.CachedTokens
		usage.OutputTokens += resp.Usage.OutputTokens
		lastText = resp.OutputText

		var calls []OutputItem
		for _, item := range resp.Output {
			switch item.Type {
			case OutputMessage:
				citations = append(citations, item.Citations...)
			case OutputFunctionCall:
				calls = append(calls, item)
				toolCalls++
			case OutputWebSearchCall:
				webSearchCalls++
			case OutputCodeInterpreterCall:
				codeInterpreterCalls++
			}
		}

		if len(calls) == 0 {
			break
		}

		functionOutputs = make([]FunctionOutput, 0, len(calls))
		for _, call := range calls {
			outputText := l.executeCall(callCtx, call, req, &nullTriggered, out, log)
			functionOutputs = append(functionOutputs, FunctionOutput{CallID: call.CallID, Output: outputText})
		}
	}
	if turn >= maxIter {
		truncated = true
		log.Warn("tool loop reached max_iterations", "max_iterations", maxIter)
	}

	rec := &models.UsageRecord{
		Timestamp:            time.Now(),
		RequestID:            req.RequestID,
		Nick:                 req.Nick,
		Channel:              req.Channel,
		Model:                l.Params.Model,
		InputTokens:          usage.InputTokens,
		CachedTokens:         usage.CachedTokens,
		OutputTokens:         usage.OutputTokens,
		CostUSD:              l.Cost.Estimate(usage.InputTokens, usage.CachedTokens, usage.OutputTokens, webSearchCalls),
		ToolCalls:            toolCalls,
		WebSearchCalls:       webSearchCalls,
		CodeInterpreterCalls: codeInterpreterCalls,
	}
	if err := l.Usage.Record(ctx, rec); err != nil {
		log.Error("failed to record usage", "error", err)
	}

	if nullTriggered {
		out <- nullEvent()
		return
	}

	if req.DeepMode && !req.PermissionLevel.IsElevated() {
		l.DeepModeQuota.Allow(req.Nick)
	}

	_ = truncated // Truncated is reported as success with the last terminal text (spec.md §4.1).
	final := postprocess.Render(lastText, postprocess.DedupCitations(citations))
	out <- successEvent(final)
}

// executeCall parses one function_call's arguments, runs rate-limit and
// permission checks, and invokes the tool, returning the text to thread
// back to the provider as that call's function output.
func (l *Loop) executeCall(ctx context.Context, call OutputItem, req Request, nullTriggered *bool, out chan<- Event, log *slog.Logger) string {
	var args json.RawMessage
	if call.Arguments == "" {
		args = json.RawMessage("{}")
	} else if !json.Valid([]byte(call.Arguments)) {
		return fmt.Sprintf("Error: malformed arguments for tool %q", call.Name)
	} else {
		args = json.RawMessage(call.Arguments)
	}

	tool, ok := l.Registry.Get(call.Name)
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}

	imageGated := l.imageToolNames[call.Name] && !req.PermissionLevel.IsElevated()
	if imageGated && l.ImageQuota.Remaining("global") <= 0 {
		return "Rate limit reached: at most 3 image generations are allowed per hour. Please try again later."
	}

	result, err := func() (res *ToolResult, execErr error) {
		defer func() {
			if r := recover(); r != nil {
				execErr = fmt.Errorf("panic: %v", r)
			}
		}()
		return tool.Execute(ctx, args)
	}()
	if err != nil {
		log.Warn("tool execution error", "tool", call.Name, "error", err)
		return fmt.Sprintf("Error executing tool: %s", err.Error())
	}
	if imageGated && result.Kind != ResultError {
		l.ImageQuota.Allow("global")
	}

	if call.Name == "analyze_image" && result.Kind == ResultText {
		if described, ok := l.describeImage(ctx, result.Text, log); ok {
			return described
		}
	}

	switch result.Kind {
	case ResultNull:
		*nullTriggered = true
		return "Acknowledged: no response will be sent to the user."
	case ResultStatus:
		out <- processingEvent(result.Text)
		return "Status reported to user."
	case ResultError:
		return result.Text
	default:
		return result.Text
	}
}

// analyzeImageCarrier is the JSON shape the analyze_image tool returns
// (spec.md §4.4): image bytes never enter the main reasoning chain, only
// the vision sub-call's extracted description does.
type analyzeImageCarrier struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	Prompt      string `json:"prompt"`
}

func (l *Loop) describeImage(ctx context.Context, carrierJSON string, log *slog.Logger) (string, bool) {
	vp, ok := l.Provider.(VisionProvider)
	if !ok {
		return "", false
	}
	var carrier analyzeImageCarrier
	if err := json.Unmarshal([]byte(carrierJSON), &carrier); err != nil {
		return "", false
	}
	if carrier.ImageBase64 == "" {
		return "", false
	}
	desc, err := vp.AnalyzeImage(ctx, carrier.ImageBase64, carrier.MimeType, carrier.Prompt)
	if err != nil {
		log.Warn("vision sub-call failed", "error", err)
		return fmt.Sprintf("Error analyzing image: %s", err.Error()), true
	}
	return desc, true
}
