// Package bugreport implements the bug_report tool (spec.md §4.4): filing
// is open to everyone, but triage actions require admin or owner.
package bugreport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

type Tool struct {
	Store storage.BugStore
}

func (t *Tool) Name() string { return "bug_report" }

func (t *Tool) Description() string {
	return "Create, list, update, resolve, or delete bug tickets. Anyone may report; " +
		"list/update/resolve/delete require admin or owner."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"action": {"type": "string", "enum": ["report", "list", "update", "resolve", "delete"]},
			"description": {"type": "string"},
			"id": {"type": "integer"},
			"status": {"type": "string", "enum": ["open", "in_progress", "resolved", "wontfix", "duplicate"]},
			"priority": {"type": "string", "enum": ["low", "normal", "high", "critical"]},
			"resolution_note": {"type": "string"}
		},
		"required": ["action"]
	}`)
}

type params struct {
	Action         string `json:"action"`
	Description    string `json:"description"`
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	Priority       string `json:"priority"`
	ResolutionNote string `json:"resolution_note"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	caller := orchestrator.CallerFromContext(ctx)

	if p.Action != "report" && !caller.PermissionLevel.IsElevated() {
		return orchestrator.ErrorResult("Permission denied: only admins/owners may list, update, resolve, or delete bug tickets"), nil
	}

	switch p.Action {
	case "report":
		return t.report(ctx, caller, p)
	case "list":
		return t.list(ctx, p)
	case "update":
		return t.update(ctx, caller, p)
	case "resolve":
		return t.resolve(ctx, caller, p)
	case "delete":
		return t.delete(ctx, p)
	default:
		return orchestrator.ErrorResultf("unknown action: %s", p.Action), nil
	}
}

func (t *Tool) report(ctx context.Context, caller orchestrator.Caller, p params) (*orchestrator.ToolResult, error) {
	if strings.TrimSpace(p.Description) == "" {
		return orchestrator.ErrorResult("description is required"), nil
	}
	priority := models.BugPriority(p.Priority)
	if priority == "" {
		priority = models.BugNormal
	}
	b := &models.BugReport{
		Reporter:    caller.Nick,
		Channel:     caller.Channel,
		Description: p.Description,
		Status:      models.BugOpen,
		Priority:    priority,
	}
	id, err := t.Store.Create(ctx, b)
	if err != nil {
		return orchestrator.ErrorResultf("create bug report: %v", err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("bug report #%d filed", id)), nil
}

func (t *Tool) list(ctx context.Context, p params) (*orchestrator.ToolResult, error) {
	status := models.BugStatus(p.Status)
	bugs, err := t.Store.List(ctx, status, 50)
	if err != nil {
		return orchestrator.ErrorResultf("list bug reports: %v", err), nil
	}
	if len(bugs) == 0 {
		return orchestrator.TextResult("no bug reports found"), nil
	}
	var sb strings.Builder
	for i, b := range bugs {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "#%d [%s/%s] %s (reported by %s)", b.ID, b.Status, b.Priority, b.Description, b.Reporter)
	}
	return orchestrator.TextResult(sb.String()), nil
}

func (t *Tool) update(ctx context.Context, caller orchestrator.Caller, p params) (*orchestrator.ToolResult, error) {
	b, err := t.Store.Get(ctx, p.ID)
	if err != nil {
		return orchestrator.ErrorResultf("no bug report #%d", p.ID), nil
	}
	if p.Status != "" {
		b.Status = models.BugStatus(p.Status)
	}
	if p.Priority != "" {
		b.Priority = models.BugPriority(p.Priority)
	}
	if p.ResolutionNote != "" {
		b.ResolutionNote = p.ResolutionNote
	}
	if err := t.Store.Update(ctx, b); err != nil {
		return orchestrator.ErrorResultf("update bug report: %v", err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("bug report #%d updated", b.ID)), nil
}

func (t *Tool) resolve(ctx context.Context, caller orchestrator.Caller, p params) (*orchestrator.ToolResult, error) {
	b, err := t.Store.Get(ctx, p.ID)
	if err != nil {
		return orchestrator.ErrorResultf("no bug report #%d", p.ID), nil
	}
	b.Status = models.BugResolved
	b.ResolvedBy = caller.Nick
	if p.ResolutionNote != "" {
		b.ResolutionNote = p.ResolutionNote
	}
	if err := t.Store.Update(ctx, b); err != nil {
		return orchestrator.ErrorResultf("resolve bug report: %v", err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("bug report #%d resolved by %s", b.ID, caller.Nick)), nil
}

func (t *Tool) delete(ctx context.Context, p params) (*orchestrator.ToolResult, error) {
	if err := t.Store.Delete(ctx, p.ID); err != nil {
		return orchestrator.ErrorResultf("delete bug report #%d: %v", p.ID, err), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("bug report #%d deleted", p.ID)), nil
}
