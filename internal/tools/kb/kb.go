// Package kb implements the four knowledge-base tools (spec.md §4.7):
// kb_learn, kb_search, kb_list, kb_forget.
package kb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/memory"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/fetch"
)

// Fetcher is the subset of *fetch.Tool the learn tool needs. Kept as an
// interface so tests can substitute a stub instead of making real HTTP
// requests.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (text, title string, err error)
}

var _ Fetcher = (*fetch.Tool)(nil)

// LearnTool implements kb_learn: fetch a URL and ingest it into the
// knowledge base.
type LearnTool struct {
	Manager *memory.Manager
	Fetcher Fetcher
}

func (t *LearnTool) Name() string { return "kb_learn" }
func (t *LearnTool) Description() string {
	return "Fetch a URL and add its content to the knowledge base for later semantic search. Refuses URLs already ingested."
}

func (t *LearnTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string", "description": "Absolute http(s) URL to learn"}
		},
		"required": ["url"]
	}`)
}

type learnParams struct {
	URL string `json:"url"`
}

func (t *LearnTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p learnParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.URL) == "" {
		return orchestrator.ErrorResult("url is required"), nil
	}

	text, title, err := t.Fetcher.Fetch(ctx, p.URL)
	if err != nil {
		return orchestrator.ErrorResultf("fetch failed: %v", err), nil
	}

	n, err := t.Manager.Ingest(ctx, p.URL, title, text)
	if err != nil {
		if errors.Is(err, memory.ErrAlreadyIngested) {
			return orchestrator.ErrorResultf("already learned: %s", p.URL), nil
		}
		return orchestrator.ErrorResultf("ingest failed: %v", err), nil
	}

	return orchestrator.TextResult(fmt.Sprintf("learned %q (%d chunks) from %s", title, n, p.URL)), nil
}

// SearchTool implements kb_search: semantic retrieval over ingested content.
type SearchTool struct {
	Manager *memory.Manager
}

func (t *SearchTool) Name() string { return "kb_search" }
func (t *SearchTool) Description() string {
	return "Search the knowledge base for passages relevant to a query, ranked by semantic similarity."
}

func (t *SearchTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string"},
			"top_k": {"type": "integer", "description": "Max results to return (default 5, max 10)"}
		},
		"required": ["query"]
	}`)
}

type searchParams struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (t *SearchTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p searchParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.Query) == "" {
		return orchestrator.ErrorResult("query is required"), nil
	}
	topK := p.TopK
	if topK <= 0 {
		topK = 5
	}

	results, hintTitles, err := t.Manager.Search(ctx, p.Query, topK)
	if err != nil {
		return orchestrator.ErrorResultf("search failed: %v", err), nil
	}

	if len(results) == 0 {
		if len(hintTitles) == 0 {
			return orchestrator.TextResult("no results, and the knowledge base is empty"), nil
		}
		return orchestrator.TextResult(fmt.Sprintf(
			"no results; known sources you could ask about instead: %s",
			strings.Join(hintTitles, "; "))), nil
	}

	var sb strings.Builder
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%s] (distance %.4f)\n%s\nsource: %s", r.Title, r.Distance, r.Text, r.SourceURL)
	}
	return orchestrator.TextResult(sb.String()), nil
}

// ListTool implements kb_list: enumerate ingested sources.
type ListTool struct {
	Manager *memory.Manager
}

func (t *ListTool) Name() string { return "kb_list" }
func (t *ListTool) Description() string {
	return "List every source currently ingested into the knowledge base."
}
func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	sources, err := t.Manager.List(ctx)
	if err != nil {
		return orchestrator.ErrorResultf("list failed: %v", err), nil
	}
	if len(sources) == 0 {
		return orchestrator.TextResult("the knowledge base is empty"), nil
	}

	var sb strings.Builder
	for i, s := range sources {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "%s (%d chunks, ingested %s) — %s", s.Title, s.ChunkCount, s.IngestedAt, s.SourceURL)
	}
	return orchestrator.TextResult(sb.String()), nil
}

// ForgetTool implements kb_forget: delete all chunks for a source URL.
type ForgetTool struct {
	Manager *memory.Manager
}

func (t *ForgetTool) Name() string { return "kb_forget" }
func (t *ForgetTool) Description() string {
	return "Remove a previously learned URL and all of its chunks from the knowledge base."
}

func (t *ForgetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"url": {"type": "string"}
		},
		"required": ["url"]
	}`)
}

type forgetParams struct {
	URL string `json:"url"`
}

func (t *ForgetTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p forgetParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.URL) == "" {
		return orchestrator.ErrorResult("url is required"), nil
	}

	n, err := t.Manager.Forget(ctx, p.URL)
	if err != nil {
		return orchestrator.ErrorResultf("forget failed: %v", err), nil
	}
	if n == 0 {
		return orchestrator.ErrorResultf("nothing learned for %s", p.URL), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("forgot %d chunk(s) for %s", n, p.URL)), nil
}
