// Package claudecode implements claude_code (SPEC_FULL.md §3): a
// supplemented tool, absent from spec.md's original table, that delegates a
// scoped coding sub-task to Anthropic's Claude via anthropic-sdk-go. It
// merges two teacher tools dropped from the distillation:
// original_source/api/tools/claude_code.py (the delegate-and-paste-if-long
// flow) and source_code.py (the read-only, allowlisted source browser),
// exposing the latter to Claude as a nested tool so it can inspect this
// repo's own code before answering. Owner and admin only, since the browser
// reads workspace files from disk.
package claudecode

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/haasonsaas/nexus-core/internal/artifacts"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

const (
	defaultModel   = "claude-opus-4-20250514"
	maxTokens      = 4096
	maxToolTurns   = 6
	pasteThreshold = 800 // chat_history.py's PASTE_THRESHOLD equivalent
	summaryLength  = 300
)

const browseSourceToolName = "browse_source"

// messageCreator is the slice of anthropic.Client this tool needs; satisfied
// structurally by (*anthropic.Client).Messages, and fakeable in tests.
type messageCreator interface {
	New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error)
}

// Tool implements orchestrator.Tool for claude_code.
type Tool struct {
	Client     messageCreator
	Model      string
	SourceRoot string // repo root the browse_source sub-tool may read

	Repo    artifacts.Repository // paste store for over-threshold responses
	BaseURL string               // public URL prefix for paste links
}

func (t *Tool) Name() string { return "claude_code" }

func (t *Tool) Description() string {
	return "Delegate a scoped coding question to Claude, with read-only access to this bot's own " +
		"source for grounding. Use for \"how does X work\", \"write me a patch for Y\", code review, " +
		"or debugging help. Owner and admin only."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The coding question or task"},
			"context": {"type": "string", "description": "Relevant snippet, error message, or background"},
			"topic": {"type": "string", "description": "Short topic label, e.g. the file or subsystem involved"},
			"language": {"type": "string", "description": "Programming language, if relevant"}
		},
		"required": ["question"]
	}`)
}

type params struct {
	Question string `json:"question"`
	Context  string `json:"context"`
	Topic    string `json:"topic"`
	Language string `json:"language"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	caller := orchestrator.CallerFromContext(ctx)
	if !caller.PermissionLevel.IsElevated() {
		return orchestrator.ErrorResult("Permission denied: claude_code is owner/admin-only"), nil
	}

	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.Question) == "" {
		return orchestrator.ErrorResult("question is required"), nil
	}

	browser := newSourceBrowser(t.SourceRoot)
	browseTool, err := browseSourceToolParam()
	if err != nil {
		return orchestrator.ErrorResultf("build browse_source tool: %v", err), nil
	}

	model := t.Model
	if model == "" {
		model = defaultModel
	}

	messages := []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(buildPrompt(p))),
	}

	var answer string
	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := t.Client.New(ctx, anthropic.MessageNewParams{
			Model:     anthropic.Model(model),
			MaxTokens: maxTokens,
			Messages:  messages,
			Tools:     []anthropic.ToolUnionParam{browseTool},
		})
		if err != nil {
			return orchestrator.ErrorResultf("claude request failed: %v", err), nil
		}

		messages = append(messages, resp.ToParam())

		var text strings.Builder
		var toolUses []anthropic.ToolUseBlock
		for _, block := range resp.Content {
			switch block.Type {
			case "text":
				text.WriteString(block.Text)
			case "tool_use":
				toolUses = append(toolUses, block.AsToolUse())
			}
		}

		if len(toolUses) == 0 {
			answer = text.String()
			break
		}

		var results []anthropic.ContentBlockParamUnion
		for _, use := range toolUses {
			results = append(results, anthropic.NewToolResultBlock(use.ID, runBrowseSource(browser, use.Input), false))
		}
		messages = append(messages, anthropic.NewUserMessage(results...))
	}

	if answer == "" {
		return orchestrator.ErrorResult("claude_code: exceeded tool-use turn limit without a final answer"), nil
	}

	if len(answer) <= pasteThreshold || t.Repo == nil {
		return orchestrator.TextResult(answer), nil
	}

	url, pasteErr := t.paste(ctx, answer)
	if pasteErr != nil {
		truncated := answer[:pasteThreshold]
		return orchestrator.TextResult(truncated + "... (response truncated, paste failed)"), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("%s | Full response: %s", extractSummary(answer), url)), nil
}

// buildPrompt assembles the user-visible task the way claude_code.py's
// execute() did: question first, then topic/language/context as optional
// framing.
func buildPrompt(p params) string {
	var b strings.Builder
	b.WriteString(p.Question)
	if p.Topic != "" {
		b.WriteString(fmt.Sprintf("\n\nTopic: %s", p.Topic))
	}
	if p.Language != "" {
		b.WriteString(fmt.Sprintf("\nLanguage: %s", p.Language))
	}
	if p.Context != "" {
		b.WriteString(fmt.Sprintf("\n\nContext:\n%s", p.Context))
	}
	b.WriteString("\n\nYou may call browse_source to read this bot's own Go source for grounding " +
		"before answering. Give a direct, complete answer; include a diff or code block when the " +
		"question asks for a change.")
	return b.String()
}

func (t *Tool) paste(ctx context.Context, content string) (string, error) {
	artifact := &artifacts.Artifact{
		Type:       "paste",
		MimeType:   "text/plain",
		Filename:   "claude_code_response.md",
		Size:       int64(len(content)),
		TtlSeconds: 7 * 24 * 3600,
	}
	if err := t.Repo.StoreArtifact(ctx, artifact, strings.NewReader(content)); err != nil {
		return "", err
	}
	if t.BaseURL == "" {
		return artifact.Id, nil
	}
	return strings.TrimRight(t.BaseURL, "/") + "/pastes/" + artifact.Id, nil
}

// extractSummary builds a short lead-in from the first non-code,
// non-header lines of the response, ported from claude_code.py's
// _extract_summary.
func extractSummary(response string) string {
	var b strings.Builder
	inCodeBlock := false
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inCodeBlock = !inCodeBlock
			continue
		}
		if inCodeBlock || trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(trimmed)
		if b.Len() >= summaryLength {
			break
		}
	}
	summary := b.String()
	if len(summary) > summaryLength {
		summary = summary[:summaryLength] + "..."
	}
	if summary == "" {
		summary = "Response ready"
	}
	return summary
}

func browseSourceToolParam() (anthropic.ToolUnionParam, error) {
	var schema anthropic.ToolInputSchemaParam
	raw := json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["search", "list_files", "read_file"]},
			"path": {"type": "string", "description": "Relative path; optional for search"},
			"query": {"type": "string", "description": "Search pattern, for action=search"},
			"start_line": {"type": "integer", "description": "1-indexed start, for action=read_file"},
			"end_line": {"type": "integer", "description": "inclusive end, for action=read_file"}
		},
		"required": ["action"]
	}`)
	if err := json.Unmarshal(raw, &schema); err != nil {
		return anthropic.ToolUnionParam{}, err
	}
	toolParam := anthropic.ToolUnionParamOfTool(schema, browseSourceToolName)
	if toolParam.OfTool == nil {
		return anthropic.ToolUnionParam{}, fmt.Errorf("missing tool definition for %s", browseSourceToolName)
	}
	toolParam.OfTool.Description = anthropic.String(
		"Browse, search, or read this bot's own source tree (read-only, allowlisted paths only).")
	return toolParam, nil
}

type browseSourceInput struct {
	Action    string `json:"action"`
	Path      string `json:"path"`
	Query     string `json:"query"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func runBrowseSource(b *sourceBrowser, rawInput json.RawMessage) string {
	var in browseSourceInput
	if err := json.Unmarshal(rawInput, &in); err != nil {
		return fmt.Sprintf("Error: invalid tool input: %v", err)
	}
	switch in.Action {
	case "search":
		return b.search(in.Query, in.Path)
	case "list_files":
		if in.Path == "" {
			return "Error: path is required for list_files"
		}
		return b.listFiles(in.Path)
	case "read_file":
		if in.Path == "" {
			return "Error: path is required for read_file"
		}
		return b.readFile(in.Path, in.StartLine, in.EndLine)
	default:
		return fmt.Sprintf("Error: unknown action '%s'", in.Action)
	}
}
