package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/datetime"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
)

// ListTool implements reminder_list: list the caller's own pending
// reminders.
type ListTool struct {
	Store storage.ReminderStore
}

func (t *ListTool) Name() string        { return "reminder_list" }
func (t *ListTool) Description() string { return "List your pending reminders." }
func (t *ListTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type": "object", "properties": {}}`)
}

func (t *ListTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	caller := orchestrator.CallerFromContext(ctx)

	pending, err := t.Store.ListPendingForUser(ctx, caller.Nick)
	if err != nil {
		return orchestrator.ErrorResultf("list reminders: %v", err), nil
	}
	if len(pending) == 0 {
		return orchestrator.TextResult("you have no pending reminders"), nil
	}

	var sb strings.Builder
	for i, r := range pending {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "#%d [%s] %s", r.ID, r.Type, r.Message)
		if r.Type == "time" {
			fmt.Fprintf(&sb, " — fires %s (%s)", r.DeliverAt.Format(time.RFC3339), datetime.FormatRelativeTime(r.DeliverAt, time.Now()))
			if r.Recurrence != "" {
				fmt.Fprintf(&sb, " (repeats %s)", r.Recurrence)
			}
		} else {
			fmt.Fprintf(&sb, " — on next join to %s", r.Channel)
		}
	}
	return orchestrator.TextResult(sb.String()), nil
}
