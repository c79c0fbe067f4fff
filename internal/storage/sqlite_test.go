package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haasonsaas/nexus-core/pkg/models"
)

func newTestStores(t *testing.T) StoreSet {
	t.Helper()
	set, err := NewSQLiteStores(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStores error: %v", err)
	}
	t.Cleanup(func() { set.Close() })
	return set
}

func TestSQLiteMessageStore_AppendAndSearch(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()

	id, err := set.Messages.Append(ctx, &models.Message{
		Timestamp: time.Now(),
		Channel:   "#chan",
		Nick:      "alice",
		Content:   "does anyone know about the deploy pipeline",
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero message id")
	}

	results, err := set.Messages.SearchKeyword(ctx, "#chan", "deploy pipeline", 10)
	if err != nil {
		t.Fatalf("SearchKeyword error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 match, got %d", len(results))
	}
	if results[0].Nick != "alice" {
		t.Errorf("expected nick alice, got %s", results[0].Nick)
	}
}

func TestSQLiteMessageStore_SinceAndMaxID(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()

	var lastID int64
	for i := 0; i < 3; i++ {
		id, err := set.Messages.Append(ctx, &models.Message{
			Timestamp: time.Now(),
			Channel:   "#chan",
			Nick:      "bob",
			Content:   "line",
		})
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
		lastID = id
	}

	max, err := set.Messages.MaxID(ctx)
	if err != nil {
		t.Fatalf("MaxID error: %v", err)
	}
	if max != lastID {
		t.Errorf("expected MaxID %d, got %d", lastID, max)
	}

	since, err := set.Messages.Since(ctx, 0, 100)
	if err != nil {
		t.Fatalf("Since error: %v", err)
	}
	if len(since) != 3 {
		t.Fatalf("expected 3 messages since 0, got %d", len(since))
	}
}

func TestSQLiteUsageStore_Record(t *testing.T) {
	set := newTestStores(t)
	err := set.Usage.Record(context.Background(), &models.UsageRecord{
		Timestamp:    time.Now(),
		RequestID:    "req-1",
		Nick:         "alice",
		Channel:      "#chan",
		Model:        "gpt-5",
		InputTokens:  1000,
		OutputTokens: 200,
		CostUSD:      0.01,
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
}

func TestSQLiteBugStore_CreateGetUpdateDelete(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	id, err := set.Bugs.Create(ctx, &models.BugReport{
		Reporter:    "alice",
		Channel:     "#chan",
		Description: "the bot crashes on empty input",
		Status:      models.BugOpen,
		Priority:    models.BugNormal,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	got, err := set.Bugs.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.Description != "the bot crashes on empty input" {
		t.Errorf("unexpected description: %s", got.Description)
	}

	got.Status = models.BugResolved
	got.ResolvedBy = "maintainer"
	got.UpdatedAt = time.Now()
	if err := set.Bugs.Update(ctx, got); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	list, err := set.Bugs.List(ctx, models.BugResolved, 10)
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 resolved bug, got %d", len(list))
	}

	if err := set.Bugs.Delete(ctx, id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, err := set.Bugs.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSQLiteReminderStore_CreateCancelCountPending(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()

	id, err := set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "alice",
		Channel:     "#chan",
		Message:     "stand up",
		Type:        models.ReminderTime,
		DeliverAt:   time.Now().Add(time.Hour),
		Status:      models.ReminderPending,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	n, err := set.Reminders.CountPending(ctx, "alice")
	if err != nil {
		t.Fatalf("CountPending error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending reminder, got %d", n)
	}

	if err := set.Reminders.Cancel(ctx, id, "alice"); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if err := set.Reminders.Cancel(ctx, id, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound cancelling twice, got %v", err)
	}
}

func TestSQLiteReminderStore_ListDueTime(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	_, err := set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "alice",
		Channel:     "#chan",
		Message:     "past due",
		Type:        models.ReminderTime,
		DeliverAt:   now.Add(-time.Minute),
		Status:      models.ReminderPending,
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	_, err = set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "alice",
		Channel:     "#chan",
		Message:     "future",
		Type:        models.ReminderTime,
		DeliverAt:   now.Add(time.Hour),
		Status:      models.ReminderPending,
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	due, err := set.Reminders.ListDueTime(ctx, now)
	if err != nil {
		t.Fatalf("ListDueTime error: %v", err)
	}
	if len(due) != 1 || due[0].Message != "past due" {
		t.Fatalf("expected exactly the past-due reminder, got %+v", due)
	}
}

func TestSQLiteReminderStore_PullJoinReminders(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()

	_, err := set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "bob",
		Channel:     "#chan",
		Message:     "welcome back",
		Type:        models.ReminderJoin,
		Status:      models.ReminderPending,
		CreatedAt:   time.Now(),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	pulled, err := set.Reminders.PullJoinReminders(ctx, "bob", "#chan")
	if err != nil {
		t.Fatalf("PullJoinReminders error: %v", err)
	}
	if len(pulled) != 1 {
		t.Fatalf("expected 1 join reminder, got %d", len(pulled))
	}

	pulledAgain, err := set.Reminders.PullJoinReminders(ctx, "bob", "#chan")
	if err != nil {
		t.Fatalf("second PullJoinReminders error: %v", err)
	}
	if len(pulledAgain) != 0 {
		t.Fatalf("join reminder should be claimed only once, got %d", len(pulledAgain))
	}
}

func TestSQLiteReminderStore_ExpirePending(t *testing.T) {
	set := newTestStores(t)
	ctx := context.Background()
	now := time.Now()

	expiredID, err := set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "bob",
		Channel:     "#chan",
		Message:     "stale join reminder",
		Type:        models.ReminderJoin,
		Status:      models.ReminderPending,
		CreatedAt:   now.Add(-31 * 24 * time.Hour),
		ExpiresAt:   now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	liveID, err := set.Reminders.Create(ctx, &models.Reminder{
		CreatorNick: "alice",
		TargetNick:  "carol",
		Channel:     "#chan",
		Message:     "fresh join reminder",
		Type:        models.ReminderJoin,
		Status:      models.ReminderPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(29 * 24 * time.Hour),
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	n, err := set.Reminders.ExpirePending(ctx, now)
	if err != nil {
		t.Fatalf("ExpirePending error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired reminder, got %d", n)
	}

	expired, err := set.Reminders.Get(ctx, expiredID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if expired.Status != models.ReminderFailed {
		t.Fatalf("expected expired reminder to be failed, got %s", expired.Status)
	}

	live, err := set.Reminders.Get(ctx, liveID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if live.Status != models.ReminderPending {
		t.Fatalf("expected live reminder to remain pending, got %s", live.Status)
	}
}
