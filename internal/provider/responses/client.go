// Package responses implements orchestrator.Provider against the OpenAI
// Responses API (not Chat Completions) via github.com/openai/openai-go/v2:
// a single create call threading previous_response_id across turns so the
// provider retains hidden reasoning and prompt-prefix cache (spec.md §4.1,
// §6). This is the orchestrator's one and only LLM-vendor integration —
// other provider SDKs wired elsewhere in this module (Anthropic, Gemini,
// Bedrock) serve distinct, non-orchestrator concerns (spec.md §1
// Non-goals).
package responses

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdk "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	rs "github.com/openai/openai-go/v2/responses"
	"github.com/openai/openai-go/v2/shared"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/retry"
)

// createRetryConfig covers transient 5xx/network failures from the
// Responses API; permission and validation errors are 4xx and returned
// immediately by the SDK without exhausting these attempts.
var createRetryConfig = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     4 * time.Second,
	Factor:       2.0,
	Jitter:       true,
}

// Client adapts the openai-go/v2 Responses API to orchestrator.Provider.
type Client struct {
	sdk   sdk.Client
	model string
}

// New constructs a Client. apiKey is OPENAI_API_KEY (spec.md §6).
func New(apiKey, model string) *Client {
	return &Client{
		sdk:   sdk.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Create implements orchestrator.Provider.
func (c *Client) Create(ctx context.Context, params orchestrator.CreateParams) (*orchestrator.Response, error) {
	if params.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Timeout)
		defer cancel()
	}

	req := rs.ResponseNewParams{
		Model: rs.ResponsesModel(c.model),
	}
	if params.PreviousResponseID != "" {
		req.PreviousResponseID = sdk.String(params.PreviousResponseID)
	}
	if len(params.Tools) > 0 {
		req.Tools = adaptTools(params.Tools)
	}
	if params.ReasoningEffort != "" {
		req.Reasoning.Effort = shared.ReasoningEffort(params.ReasoningEffort)
	}
	if params.MaxOutputTokens > 0 {
		req.MaxOutputTokens = sdk.Int(int64(params.MaxOutputTokens))
	}

	switch {
	case params.PreviousResponseID == "":
		text := params.PromptText
		if strings.TrimSpace(text) == "" {
			text = " "
		}
		req.Input.OfString = sdk.String(text)
	default:
		items := make(rs.ResponseInputParam, 0, len(params.FunctionOutputs))
		for _, fo := range params.FunctionOutputs {
			items = append(items, rs.ResponseInputItemParamOfFunctionCallOutput(fo.CallID, fo.Output))
		}
		req.Input.OfInputItemList = items
	}

	extra := map[string]any{}
	if params.PromptCacheRetention > 0 {
		extra["prompt_cache_retention"] = promptCacheRetentionString(params.PromptCacheRetention)
	}
	if len(extra) > 0 {
		req.SetExtraFields(extra)
	}

	var resp *rs.Response
	result := retry.Do(ctx, createRetryConfig, func() error {
		r, err := c.sdk.Responses.New(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if result.Err != nil {
		return nil, fmt.Errorf("openai responses.create: %w", result.Err)
	}

	out := &orchestrator.Response{
		ID:         resp.ID,
		OutputText: resp.OutputText(),
		Usage: orchestrator.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			CachedTokens: int(resp.Usage.InputTokensDetails.CachedTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}
	for _, item := range resp.Output {
		if msg := item.AsMessage(); len(msg.Content) > 0 {
			text, citations := flattenMessage(msg)
			out.Output = append(out.Output, orchestrator.OutputItem{
				Type: orchestrator.OutputMessage, Text: text, Citations: citations,
			})
			continue
		}
		if fn := item.AsFunctionCall(); fn.Name != "" {
			out.Output = append(out.Output, orchestrator.OutputItem{
				Type: orchestrator.OutputFunctionCall, CallID: fn.CallID, Name: fn.Name, Arguments: fn.Arguments,
			})
			continue
		}
		if ws := item.AsWebSearchCall(); ws.ID != "" {
			out.Output = append(out.Output, orchestrator.OutputItem{Type: orchestrator.OutputWebSearchCall})
			continue
		}
		if ci := item.AsCodeInterpreterCall(); ci.ID != "" {
			out.Output = append(out.Output, orchestrator.OutputItem{Type: orchestrator.OutputCodeInterpreterCall})
		}
	}
	return out, nil
}

// AnalyzeImage implements orchestrator.VisionProvider: a nested, independent
// Responses call carrying the image as an input_image content part. Image
// bytes are scoped to this call and never threaded into the main
// conversation's previous_response_id chain (spec.md §4.1 step 4).
func (c *Client) AnalyzeImage(ctx context.Context, imageBase64, mimeType, prompt string) (string, error) {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, imageBase64)
	content := rs.ResponseInputMessageContentListParam{
		rs.ResponseInputContentParamOfInputText(prompt),
		{OfInputImage: &rs.ResponseInputImageParam{ImageURL: sdk.String(dataURL)}},
	}
	req := rs.ResponseNewParams{
		Model: rs.ResponsesModel(c.model),
		Input: rs.ResponseNewParamsInputUnion{
			OfInputItemList: rs.ResponseInputParam{
				{OfInputMessage: &rs.ResponseInputItemMessageParam{Role: "user", Content: content}},
			},
		},
	}
	resp, err := c.sdk.Responses.New(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai vision sub-call: %w", err)
	}
	return resp.OutputText(), nil
}

func adaptTools(schemas []orchestrator.ToolSchema) []rs.ToolUnionParam {
	out := make([]rs.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		var params map[string]any
		if len(s.Parameters) > 0 {
			_ = sdk.UnmarshalJSON(s.Parameters, &params)
		}
		fn := rs.FunctionToolParam{
			Name:        s.Name,
			Description: sdk.String(s.Description),
			Parameters:  params,
			Strict:      sdk.Bool(false),
		}
		out = append(out, rs.ToolUnionParam{OfFunction: &fn})
	}
	return out
}

func flattenMessage(msg rs.ResponseOutputMessage) (string, []string) {
	var text strings.Builder
	var citations []string
	for _, part := range msg.Content {
		if ot := part.AsOutputText(); ot.Text != "" {
			text.WriteString(ot.Text)
			for _, ann := range ot.Annotations {
				if uc := ann.AsURLCitation(); uc.URL != "" {
					citations = append(citations, uc.URL)
				}
			}
		}
	}
	return text.String(), citations
}

func promptCacheRetentionString(d time.Duration) string {
	if d >= 24*time.Hour {
		return "24h"
	}
	return "in_memory"
}
