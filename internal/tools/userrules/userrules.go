// Package userrules implements manage_user_rules (spec.md §4.4): multi-entry
// per-user memory the Prompt Assembler renders into every request.
package userrules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
)

// Tool implements manage_user_rules: list/add/update/delete/clear/enable/
// disable entries in a user's persisted memory.
type Tool struct {
	Store *storage.RulesStore
}

func (t *Tool) Name() string { return "manage_user_rules" }

func (t *Tool) Description() string {
	return "Manage a user's remembered facts (rules). Actions: list, add, update, delete, clear, enable, disable. " +
		"Targeting a nick other than your own requires admin or owner."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["list", "add", "update", "delete", "clear", "enable", "disable"]},
			"nick": {"type": "string", "description": "Target nick; defaults to the caller"},
			"content": {"type": "string", "description": "Required for add/update"},
			"entry_id": {"type": "integer", "description": "Required for update/delete/enable/disable"}
		},
		"required": ["action"]
	}`)
}

type params struct {
	Action  string `json:"action"`
	Nick    string `json:"nick"`
	Content string `json:"content"`
	EntryID int    `json:"entry_id"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}

	caller := orchestrator.CallerFromContext(ctx)
	targetNick := p.Nick
	if targetNick == "" {
		targetNick = caller.Nick
	}
	if !strings.EqualFold(targetNick, caller.Nick) && !caller.PermissionLevel.IsElevated() {
		return orchestrator.ErrorResult("only admins/owners may manage another user's rules"), nil
	}

	switch p.Action {
	case "list":
		return t.list(targetNick)
	case "add":
		return t.add(targetNick, p.Content)
	case "update":
		return t.update(targetNick, p.EntryID, p.Content)
	case "delete":
		return t.remove(targetNick, p.EntryID)
	case "clear":
		return t.clear(targetNick)
	case "enable":
		return t.setEnabled(targetNick, p.EntryID, true)
	case "disable":
		return t.setEnabled(targetNick, p.EntryID, false)
	default:
		return orchestrator.ErrorResultf("unknown action: %s", p.Action), nil
	}
}

func (t *Tool) list(nick string) (*orchestrator.ToolResult, error) {
	mem, err := t.Store.Get(nick)
	if err != nil {
		return orchestrator.ErrorResultf("get rules: %v", err), nil
	}
	if len(mem.Entries) == 0 {
		return orchestrator.TextResult(fmt.Sprintf("no rules stored for %s", nick)), nil
	}
	var sb strings.Builder
	for i, e := range mem.Entries {
		if i > 0 {
			sb.WriteString("\n")
		}
		state := "enabled"
		if !e.Enabled {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "#%d [%s] %s", e.ID, state, e.Content)
	}
	return orchestrator.TextResult(sb.String()), nil
}

func (t *Tool) add(nick, content string) (*orchestrator.ToolResult, error) {
	if strings.TrimSpace(content) == "" {
		return orchestrator.ErrorResult("content is required for add"), nil
	}
	id, err := t.Store.Add(nick, content)
	if err != nil {
		return orchestrator.ErrorResultf("add rule: %v", err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("rule #%d added for %s", id, nick)), nil
}

func (t *Tool) update(nick string, id int, content string) (*orchestrator.ToolResult, error) {
	if id == 0 {
		return orchestrator.ErrorResult("entry_id is required for update"), nil
	}
	if strings.TrimSpace(content) == "" {
		return orchestrator.ErrorResult("content is required for update"), nil
	}
	if err := t.Store.Update(nick, id, content); err != nil {
		return notFoundOr(err, fmt.Sprintf("no rule #%d for %s", id, nick))
	}
	return orchestrator.TextResult(fmt.Sprintf("rule #%d updated for %s", id, nick)), nil
}

func (t *Tool) remove(nick string, id int) (*orchestrator.ToolResult, error) {
	if id == 0 {
		return orchestrator.ErrorResult("entry_id is required for delete"), nil
	}
	if err := t.Store.Delete(nick, id); err != nil {
		return notFoundOr(err, fmt.Sprintf("no rule #%d for %s", id, nick))
	}
	return orchestrator.TextResult(fmt.Sprintf("rule #%d deleted for %s", id, nick)), nil
}

func (t *Tool) clear(nick string) (*orchestrator.ToolResult, error) {
	if err := t.Store.Clear(nick); err != nil {
		return orchestrator.ErrorResultf("clear rules: %v", err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("all rules cleared for %s", nick)), nil
}

func (t *Tool) setEnabled(nick string, id int, enabled bool) (*orchestrator.ToolResult, error) {
	if id == 0 {
		return orchestrator.ErrorResult("entry_id is required"), nil
	}
	if err := t.Store.SetEnabled(nick, id, enabled); err != nil {
		return notFoundOr(err, fmt.Sprintf("no rule #%d for %s", id, nick))
	}
	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	return orchestrator.TextResult(fmt.Sprintf("rule #%d %s for %s", id, verb, nick)), nil
}

func notFoundOr(err error, notFoundMsg string) (*orchestrator.ToolResult, error) {
	if errors.Is(err, storage.ErrNotFound) {
		return orchestrator.ErrorResult(notFoundMsg), nil
	}
	return orchestrator.ErrorResultf("operation failed: %v", err), nil
}
