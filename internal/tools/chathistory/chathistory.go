// Package chathistory implements query_chat_history (spec.md §4.4): inspect
// persisted messages beyond the recent context window, in either keyword
// (SQL LIKE, grounded on original_source/api/tools/chat_history.py) or
// semantic mode (vector search against the same knowledge-base index
// internal/memory/messagesync embeds messages into). Non-admin callers may
// only query the channel they are currently in (spec.md invariant 10).
package chathistory

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/memory/backend"
	"github.com/haasonsaas/nexus-core/internal/memory/embeddings"
	"github.com/haasonsaas/nexus-core/internal/memory/messagesync"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// Limits mirror chat_history.py's MAX_MESSAGES / MAX_CHARS.
const (
	maxMessages    = 1000
	maxChars       = 50000
	defaultLimit   = 200
	semanticTopK   = 50
	defaultContext = 30 * time.Minute
)

var timeRanges = map[string]time.Duration{
	"last_hour":  time.Hour,
	"last_6h":    6 * time.Hour,
	"last_24h":   24 * time.Hour,
	"today":      24 * time.Hour,
	"last_week":  7 * 24 * time.Hour,
	"last_month": 30 * 24 * time.Hour,
}

// Tool implements orchestrator.Tool for query_chat_history. Backend and
// Embedder are optional: when either is nil, semantic mode is unavailable
// and the tool reports so rather than panicking.
type Tool struct {
	Messages storage.MessageStore
	Backend  backend.Backend
	Embedder embeddings.Provider
}

func (t *Tool) Name() string { return "query_chat_history" }

func (t *Tool) Description() string {
	return "Query the chat history database for messages or statistics. Use for questions about " +
		"past conversations, topic searches, per-user message counts, or activity summaries beyond " +
		"the recent context window. For counting questions use count_only=true."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"channel": {"type": "string", "description": "Exact IRC channel name, e.g. '##llm-bots'"},
			"mode": {"type": "string", "enum": ["keyword", "semantic"], "description": "Default: keyword"},
			"search_term": {"type": "string", "description": "Keyword/phrase (keyword mode) or query text (semantic mode)"},
			"nick": {"type": "string", "description": "Optional: filter by user nickname"},
			"time_range": {"type": "string", "enum": ["last_hour", "last_6h", "last_24h", "today", "last_week", "last_month"], "description": "Default: last_24h"},
			"hours_ago": {"type": "number", "description": "Alternative to time_range: center the window this many hours before now"},
			"context_minutes": {"type": "number", "description": "Half-width of the hours_ago window, in minutes. Default: 30"},
			"limit": {"type": "integer", "description": "Max messages to return (1-1000). Default: 200"},
			"count_only": {"type": "boolean", "description": "If true, return only message count statistics"}
		},
		"required": ["channel"]
	}`)
}

type params struct {
	Channel        string   `json:"channel"`
	Mode           string   `json:"mode"`
	SearchTerm     string   `json:"search_term"`
	Nick           string   `json:"nick"`
	TimeRange      string   `json:"time_range"`
	HoursAgo       *float64 `json:"hours_ago"`
	ContextMinutes *float64 `json:"context_minutes"`
	Limit          int      `json:"limit"`
	CountOnly      bool     `json:"count_only"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	p := params{TimeRange: "last_24h", Mode: "keyword"}
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.TimeRange == "" {
		p.TimeRange = "last_24h"
	}
	if p.Mode == "" {
		p.Mode = "keyword"
	}
	if p.Channel == "" {
		return orchestrator.ErrorResult("channel is required"), nil
	}

	caller := orchestrator.CallerFromContext(ctx)
	if !caller.PermissionLevel.IsElevated() && !strings.EqualFold(caller.Channel, p.Channel) {
		return orchestrator.ErrorResult("Permission denied: you may only query the channel you are currently in"), nil
	}

	delta, ok := timeRanges[p.TimeRange]
	if !ok {
		return orchestrator.ErrorResultf("invalid time_range %q", p.TimeRange), nil
	}

	since, until := windowFor(p, delta)

	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxMessages {
		limit = maxMessages
	}

	query := storage.MessageQuery{
		Channel:    p.Channel,
		Nick:       p.Nick,
		SearchTerm: p.SearchTerm,
		Since:      since,
		Until:      until,
		Limit:      limit,
	}

	if p.Mode == "semantic" {
		return t.executeSemantic(ctx, p, query)
	}
	return t.executeKeyword(ctx, p, query)
}

// windowFor resolves the time window: hours_ago±context_minutes takes
// priority over time_range when hours_ago is supplied (spec.md §4.4: "Window
// modes: time_range or hours_ago±context_minutes").
func windowFor(p params, delta time.Duration) (since, until time.Time) {
	now := time.Now()
	if p.HoursAgo == nil {
		return now.Add(-delta), time.Time{}
	}
	window := defaultContext
	if p.ContextMinutes != nil {
		window = time.Duration(*p.ContextMinutes * float64(time.Minute))
	}
	center := now.Add(-time.Duration(*p.HoursAgo * float64(time.Hour)))
	return center.Add(-window), center.Add(window)
}

func (t *Tool) executeKeyword(ctx context.Context, p params, q storage.MessageQuery) (*orchestrator.ToolResult, error) {
	if t.Messages == nil {
		return orchestrator.ErrorResult("chat history store is not configured"), nil
	}

	if p.CountOnly {
		total, top, err := t.Messages.Stats(ctx, q)
		if err != nil {
			return orchestrator.ErrorResultf("query chat history: %v", err), nil
		}
		return orchestrator.TextResult(formatStats(total, p.Nick, p.SearchTerm, p.Channel, top)), nil
	}

	messages, total, err := t.Messages.Query(ctx, q)
	if err != nil {
		return orchestrator.ErrorResultf("query chat history: %v", err), nil
	}
	return orchestrator.TextResult(formatMessages(messages, total)), nil
}

func (t *Tool) executeSemantic(ctx context.Context, p params, q storage.MessageQuery) (*orchestrator.ToolResult, error) {
	if t.Backend == nil || t.Embedder == nil {
		return orchestrator.ErrorResult("semantic chat history search is not configured"), nil
	}
	if strings.TrimSpace(p.SearchTerm) == "" {
		return orchestrator.ErrorResult("search_term is required for semantic mode"), nil
	}

	embedding, err := t.Embedder.Embed(ctx, p.SearchTerm)
	if err != nil {
		return orchestrator.ErrorResultf("embed query: %v", err), nil
	}

	results, err := t.Backend.Search(ctx, embedding, semanticTopK)
	if err != nil {
		return orchestrator.ErrorResultf("semantic search: %v", err), nil
	}

	prefix := messagesync.MessageSourcePrefix + p.Channel
	var lines []string
	charCount := 0
	for _, r := range results {
		if r.SourceURL != prefix {
			continue
		}
		if len(lines) >= q.Limit {
			break
		}
		line := r.Text
		if charCount+len(line)+1 > maxChars {
			break
		}
		lines = append(lines, line)
		charCount += len(line) + 1
	}

	if len(lines) == 0 {
		return orchestrator.TextResult("No messages found matching your semantic query."), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("Found %d semantically relevant message(s):\n\n%s", len(lines), strings.Join(lines, "\n"))), nil
}

// formatMessages mirrors chat_history.py's _format_messages: chronological
// lines capped at maxChars, with a header noting how many were shown versus
// found.
func formatMessages(messages []*models.Message, total int) string {
	if len(messages) == 0 {
		return "No messages found matching your criteria."
	}

	var lines []string
	charCount := 0
	truncated := false
	for _, m := range messages {
		line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format("2006-01-02 15:04:05"), m.Nick, m.Content)
		if charCount+len(line)+1 > maxChars {
			truncated = true
			break
		}
		lines = append(lines, line)
		charCount += len(line) + 1
	}

	shown := len(lines)
	var header string
	switch {
	case total > maxMessages:
		header = fmt.Sprintf("Found %d messages, showing %d most recent", total, shown)
	case truncated:
		header = fmt.Sprintf("Found %d messages, showing %d (truncated for length)", total, shown)
	default:
		header = fmt.Sprintf("Found %d messages", total)
	}
	if total > shown {
		header += ". Consider narrowing your search with a search_term or shorter time_range."
	}

	return header + ":\n\n" + strings.Join(lines, "\n")
}

func formatStats(total int, nick, searchTerm, channel string, top []storage.NickCount) string {
	var result string
	if nick != "" {
		result = fmt.Sprintf("%s sent %d message(s) in %s", nick, total, channel)
	} else {
		result = fmt.Sprintf("Total: %d message(s) in %s", total, channel)
	}
	if searchTerm != "" {
		result += fmt.Sprintf(" containing '%s'", searchTerm)
	}
	if nick == "" && len(top) > 0 {
		result += "\n\nTop contributors:\n"
		for i, nc := range top {
			result += fmt.Sprintf("  %d. %s: %d messages\n", i+1, nc.Nick, nc.Count)
		}
	}
	return result
}
