package prompt

import (
	"fmt"
	"strings"
	"time"

	ctxwindow "github.com/haasonsaas/nexus-core/internal/context"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// historyTokenBudget caps how much of the model's context window recent
// conversation history may consume, leaving the rest for the system
// prompt, tool schemas, and the model's own output.
const historyTokenBudget = 4000

// SystemPrompt is the static system prompt. It MUST be byte-stable across
// requests for prefix caching and must never embed the current datetime
// (spec.md §4.2) — the datetime belongs in the question block.
const SystemPrompt = `You are an AI assistant connected to an IRC channel. You can search the ` +
	`web, fetch pages, run sandboxed code, generate and analyze images, manage a ` +
	`knowledge base, set reminders, and run a handful of IRC operator actions, all ` +
	`through the tools made available to you. Keep replies terse and IRC-appropriate: ` +
	`a single line, no markdown headers, no code fences unless the user asked for code. ` +
	`If a message is not actually addressed to you, call null_response instead of replying.`

// DeepModePreamble is appended when deep_mode is set. It is stable per-flag
// (not per-request), so it still belongs in the prefix.
const DeepModePreamble = `Deep mode is enabled for this request: take the time to research thoroughly, ` +
	`consult multiple sources, and verify claims before answering. You have a larger ` +
	`iteration budget and a longer timeout than normal.`

const questionMarker = "=== CURRENT QUESTION ==="
const historyMarker = "=== RECENT CONVERSATION CONTEXT ==="
const finalInstruction = "Focus your response on the current question above."

// Request carries everything the assembler needs to build one prompt.
type Request struct {
	Now      time.Time
	Channel  string
	Nick     string
	Message  string
	DeepMode bool
	Memory   []models.RuleEntry // already filtered to Enabled() by the caller
	History  []models.HistoryLine
}

// Assemble builds the layered prompt described in spec.md §4.2 and returns
// both the full text and the builder (callers that need PrefixBytes for
// testing prefix-stability can use the latter).
func Assemble(req Request) (string, *Builder) {
	b := &Builder{}
	b.Prefix("system", SystemPrompt)
	if req.DeepMode {
		b.Prefix("deep_mode_preamble", DeepModePreamble)
	}
	b.Prefix("memory", renderMemory(req.Memory))

	b.Tail("question", renderQuestion(req))
	b.Tail("history", renderHistory(req.History))
	b.Tail("instruction", finalInstruction)

	return b.String(), b
}

func renderMemory(entries []models.RuleEntry) string {
	if len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("What you remember about this user:\n")
	for _, e := range entries {
		sb.WriteString("- ")
		sb.WriteString(e.Content)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderQuestion(req Request) string {
	return fmt.Sprintf("%s\ntimestamp: %s\nchannel: %s\nnick: %s\nmessage: %s",
		questionMarker, req.Now.Format(time.RFC3339), req.Channel, req.Nick, req.Message)
}

// renderHistory formats recent conversation lines, dropping the oldest
// ones first when the rendered block would exceed historyTokenBudget —
// the IRC history equivalent of context.Truncator's TruncateOldest
// strategy, sized with context.EstimateTokens since history lines (unlike
// the system/memory prefix) are the one part of the prompt whose length
// is unbounded by construction.
func renderHistory(lines []models.HistoryLine) string {
	if len(lines) == 0 {
		return ""
	}
	rendered := make([]string, len(lines))
	for i, l := range lines {
		rendered[i] = fmt.Sprintf("[%s] %s: %s", l.Timestamp.Format(time.RFC3339), l.Nick, l.Content)
	}

	start := 0
	for start < len(rendered)-1 && ctxwindow.EstimateTokensForMessages(rendered[start:]) > historyTokenBudget {
		start++
	}

	var sb strings.Builder
	sb.WriteString(historyMarker)
	sb.WriteString("\n")
	for _, line := range rendered[start:] {
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
