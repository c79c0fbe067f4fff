// Package reminders implements the reminder_set/reminder_list/reminder_cancel
// tools (spec.md §4.8). Delivery itself is handled by the background
// scheduler in internal/reminders; these tools only create and manage rows.
package reminders

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/nexus-core/internal/datetime"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// SetTool implements reminder_set: create a time- or join-triggered
// reminder for the calling nick or another target nick.
type SetTool struct {
	Store storage.ReminderStore
}

func (t *SetTool) Name() string { return "reminder_set" }

func (t *SetTool) Description() string {
	return "Set a reminder. Use 'when' for a time-based reminder ('in 30 minutes', 'in 2 hours', " +
		"or an ISO8601 timestamp), or 'on_join' to deliver the next time the target joins the channel. " +
		"Optionally set 'recurrence' to hourly/daily/weekly and 'target' to remind someone other than yourself."
}

func (t *SetTool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"message": {"type": "string", "description": "The reminder text"},
			"when": {"type": "string", "description": "Relative ('in 5 minutes') or ISO8601 absolute time; omit for an on-join reminder"},
			"on_join": {"type": "boolean", "description": "Deliver the next time the target joins the channel instead of at a fixed time"},
			"recurrence": {"type": "string", "enum": ["", "hourly", "daily", "weekly"], "description": "Repeat schedule for time-based reminders"},
			"target": {"type": "string", "description": "Nick to remind, defaults to the caller"}
		},
		"required": ["message"]
	}`)
}

type setParams struct {
	Message    string `json:"message"`
	When       string `json:"when"`
	OnJoin     bool   `json:"on_join"`
	Recurrence string `json:"recurrence"`
	Target     string `json:"target"`
}

func (t *SetTool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p setParams
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.Message) == "" {
		return orchestrator.ErrorResult("message is required"), nil
	}
	if !p.OnJoin && strings.TrimSpace(p.When) == "" {
		return orchestrator.ErrorResult("when is required unless on_join is set"), nil
	}

	caller := orchestrator.CallerFromContext(ctx)
	targetNick := p.Target
	if targetNick == "" {
		targetNick = caller.Nick
	}

	pending, err := t.Store.CountPending(ctx, caller.Nick)
	if err != nil {
		return orchestrator.ErrorResultf("check pending reminders: %v", err), nil
	}
	if pending >= models.MaxPendingPerCreator {
		return orchestrator.ErrorResultf("you already have %d pending reminders (limit %d)", pending, models.MaxPendingPerCreator), nil
	}

	r := &models.Reminder{
		CreatorNick: caller.Nick,
		TargetNick:  targetNick,
		Channel:     caller.Channel,
		Message:     p.Message,
		Status:      models.ReminderPending,
		CreatedAt:   time.Now(),
	}

	if p.OnJoin {
		r.Type = models.ReminderJoin
		r.ExpiresAt = time.Now().Add(models.JoinReminderExpiry)
	} else {
		recurrence := models.Recurrence(strings.ToLower(strings.TrimSpace(p.Recurrence)))
		switch recurrence {
		case models.RecurrenceNone, models.RecurrenceHourly, models.RecurrenceDaily, models.RecurrenceWeekly:
		default:
			return orchestrator.ErrorResultf("unknown recurrence: %s", p.Recurrence), nil
		}

		deliverAt, err := parseWhen(p.When)
		if err != nil {
			return orchestrator.ErrorResultf("invalid time: %v", err), nil
		}
		if deliverAt.Before(time.Now()) {
			return orchestrator.ErrorResult("cannot set a reminder in the past"), nil
		}

		r.Type = models.ReminderTime
		r.DeliverAt = deliverAt
		r.Recurrence = recurrence
		if recurrence != models.RecurrenceNone {
			r.ExpiresAt = time.Now().Add(models.RecurringReminderExpiry)
		}
	}

	id, err := t.Store.Create(ctx, r)
	if err != nil {
		return orchestrator.ErrorResultf("create reminder: %v", err), nil
	}

	if r.Type == models.ReminderJoin {
		return orchestrator.TextResult(fmt.Sprintf("reminder #%d set: will deliver to %s next time they join %s", id, targetNick, r.Channel)), nil
	}
	return orchestrator.TextResult(fmt.Sprintf("reminder #%d set for %s (%s)%s",
		id, r.DeliverAt.Format(time.RFC3339), datetime.FormatRelativeTime(r.DeliverAt, time.Now()), recurrenceSuffix(r.Recurrence))), nil
}

func recurrenceSuffix(rec models.Recurrence) string {
	if rec == models.RecurrenceNone {
		return ""
	}
	return fmt.Sprintf(", repeating %s", rec)
}

// parseWhen parses a time specification into an absolute time: "in X
// minutes/hours/days/weeks", or an ISO8601/common absolute format.
func parseWhen(when string) (time.Time, error) {
	when = strings.TrimSpace(strings.ToLower(when))

	if strings.HasPrefix(when, "in ") {
		return parseRelativeTime(strings.TrimPrefix(when, "in "))
	}

	formats := []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"Jan 2 15:04",
		"Jan 2 3:04 PM",
		"3:04 PM",
		"15:04",
	}

	for _, format := range formats {
		if ts, err := time.Parse(format, when); err == nil {
			if ts.Year() == 0 {
				now := time.Now()
				ts = time.Date(now.Year(), now.Month(), now.Day(), ts.Hour(), ts.Minute(), ts.Second(), 0, time.Local)
				if ts.Before(now) {
					ts = ts.Add(24 * time.Hour)
				}
			}
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("could not parse time: %s", when)
}

var relativeTimePattern = regexp.MustCompile(`^(\d+(?:\.\d+)?)\s*(seconds?|minutes?|mins?|hours?|hrs?|days?|weeks?)$`)

func parseRelativeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(strings.ToLower(s))

	matches := relativeTimePattern.FindStringSubmatch(s)
	if matches == nil {
		return time.Time{}, fmt.Errorf("invalid relative time: %s", s)
	}

	amount, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid number: %s", matches[1])
	}

	var duration time.Duration
	switch unit := matches[2]; {
	case strings.HasPrefix(unit, "second"):
		duration = time.Duration(amount * float64(time.Second))
	case strings.HasPrefix(unit, "min"):
		duration = time.Duration(amount * float64(time.Minute))
	case strings.HasPrefix(unit, "hour"), strings.HasPrefix(unit, "hr"):
		duration = time.Duration(amount * float64(time.Hour))
	case strings.HasPrefix(unit, "day"):
		duration = time.Duration(amount * float64(24*time.Hour))
	case strings.HasPrefix(unit, "week"):
		duration = time.Duration(amount * float64(7*24*time.Hour))
	default:
		return time.Time{}, fmt.Errorf("unknown unit: %s", matches[2])
	}

	return time.Now().Add(duration), nil
}
