package reminders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
)

// CancelTool implements reminder_cancel: cancel one of the caller's own
// pending reminders by id.
type CancelTool struct {
	Store storage.ReminderStore
}

func (t *CancelTool) Name() string        { return "reminder_cancel" }
func (t *CancelTool) Description() string { return "Cancel one of your pending reminders by its id." }

func (t *CancelTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"reminder_id": {"type": "integer", "description": "The id returned by reminder_set or reminder_list"}
		},
		"required": ["reminder_id"]
	}`)
}

type cancelParams struct {
	ReminderID int64 `json:"reminder_id"`
}

func (t *CancelTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p cancelParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.ReminderID == 0 {
		return orchestrator.ErrorResult("reminder_id is required"), nil
	}

	caller := orchestrator.CallerFromContext(ctx)
	if err := t.Store.Cancel(ctx, p.ReminderID, caller.Nick); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return orchestrator.ErrorResultf("no pending reminder #%d owned by you", p.ReminderID), nil
		}
		return orchestrator.ErrorResultf("cancel reminder: %v", err), nil
	}

	return orchestrator.TextResult(fmt.Sprintf("reminder #%d cancelled", p.ReminderID)), nil
}
