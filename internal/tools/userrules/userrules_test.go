package userrules

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/storage"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

func newTestStore(t *testing.T) *storage.RulesStore {
	t.Helper()
	s, err := storage.NewRulesStore(filepath.Join(t.TempDir(), "user_rules.json"))
	if err != nil {
		t.Fatalf("NewRulesStore error: %v", err)
	}
	return s
}

func withCaller(nick string, perm models.PermissionLevel) context.Context {
	return orchestrator.ContextWithCaller(context.Background(), orchestrator.Caller{Nick: nick, PermissionLevel: perm})
}

func TestTool_AddAndList(t *testing.T) {
	store := newTestStore(t)
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]string{"action": "add", "content": "likes tea"})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil || result.Kind != orchestrator.ResultText {
		t.Fatalf("add failed: err=%v result=%+v", err, result)
	}

	args, _ = json.Marshal(map[string]string{"action": "list"})
	result, err = tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if !strings.Contains(result.Text, "likes tea") {
		t.Fatalf("expected listed rule, got %q", result.Text)
	}
}

func TestTool_UpdateAndDelete(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Add("bob", "old")
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]any{"action": "update", "entry_id": id, "content": "new"})
	if result, err := tool.Execute(withCaller("bob", models.PermNormal), args); err != nil || result.Kind != orchestrator.ResultText {
		t.Fatalf("update failed: err=%v result=%+v", err, result)
	}
	mem, _ := store.Get("bob")
	if mem.Entries[0].Content != "new" {
		t.Fatalf("expected updated content, got %q", mem.Entries[0].Content)
	}

	args, _ = json.Marshal(map[string]any{"action": "delete", "entry_id": id})
	if result, err := tool.Execute(withCaller("bob", models.PermNormal), args); err != nil || result.Kind != orchestrator.ResultText {
		t.Fatalf("delete failed: err=%v result=%+v", err, result)
	}
	mem, _ = store.Get("bob")
	if len(mem.Entries) != 0 {
		t.Fatal("expected entry removed")
	}
}

func TestTool_EnableDisable(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Add("bob", "rule")
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]any{"action": "disable", "entry_id": id})
	tool.Execute(withCaller("bob", models.PermNormal), args)
	mem, _ := store.Get("bob")
	if len(mem.Enabled()) != 0 {
		t.Fatal("expected rule disabled")
	}

	args, _ = json.Marshal(map[string]any{"action": "enable", "entry_id": id})
	tool.Execute(withCaller("bob", models.PermNormal), args)
	mem, _ = store.Get("bob")
	if len(mem.Enabled()) != 1 {
		t.Fatal("expected rule re-enabled")
	}
}

func TestTool_Clear(t *testing.T) {
	store := newTestStore(t)
	store.Add("bob", "one")
	store.Add("bob", "two")
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]string{"action": "clear"})
	if result, err := tool.Execute(withCaller("bob", models.PermNormal), args); err != nil || result.Kind != orchestrator.ResultText {
		t.Fatalf("clear failed: err=%v result=%+v", err, result)
	}
	mem, _ := store.Get("bob")
	if len(mem.Entries) != 0 {
		t.Fatal("expected all entries cleared")
	}
}

func TestTool_NormalUserCannotTargetAnotherUser(t *testing.T) {
	store := newTestStore(t)
	store.Add("alice", "secret")
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]string{"action": "list", "nick": "alice"})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected permission error, got %v: %s", result.Kind, result.Text)
	}
}

func TestTool_AdminCanTargetAnotherUser(t *testing.T) {
	store := newTestStore(t)
	store.Add("alice", "secret")
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]string{"action": "list", "nick": "alice"})
	result, err := tool.Execute(withCaller("root", models.PermAdmin), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Text, "secret") {
		t.Fatalf("expected admin to see alice's rules, got %q", result.Text)
	}
}

func TestTool_UpdateMissingEntryIsNotFound(t *testing.T) {
	store := newTestStore(t)
	tool := &Tool{Store: store}

	args, _ := json.Marshal(map[string]any{"action": "update", "entry_id": 999, "content": "x"})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected not-found error, got %v", result.Kind)
	}
}
