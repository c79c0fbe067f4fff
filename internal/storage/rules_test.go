package storage

import (
	"path/filepath"
	"testing"
)

func newTestRulesStore(t *testing.T) *RulesStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "user_rules.json")
	s, err := NewRulesStore(path)
	if err != nil {
		t.Fatalf("NewRulesStore error: %v", err)
	}
	return s
}

func TestRulesStore_AddAndGet(t *testing.T) {
	s := newTestRulesStore(t)

	id, err := s.Add("Alice", "prefers dark roast coffee")
	if err != nil {
		t.Fatalf("Add error: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first entry id 1, got %d", id)
	}

	mem, err := s.Get("alice") // case-insensitive lookup
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	enabled := mem.Enabled()
	if len(enabled) != 1 || enabled[0].Content != "prefers dark roast coffee" {
		t.Fatalf("unexpected entries: %+v", enabled)
	}
}

func TestRulesStore_SetEnabled(t *testing.T) {
	s := newTestRulesStore(t)
	id, _ := s.Add("bob", "timezone is UTC+2")

	if err := s.SetEnabled("bob", id, false); err != nil {
		t.Fatalf("SetEnabled error: %v", err)
	}
	mem, _ := s.Get("bob")
	if len(mem.Enabled()) != 0 {
		t.Fatal("entry should be disabled, not rendered into the prompt")
	}
	if len(mem.Entries) != 1 {
		t.Fatal("disabled entry should still be retained")
	}
}

func TestRulesStore_SetEnabled_NotFound(t *testing.T) {
	s := newTestRulesStore(t)
	if err := s.SetEnabled("nobody", 1, true); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRulesStore_Delete(t *testing.T) {
	s := newTestRulesStore(t)
	id, _ := s.Add("carol", "allergic to nuts")

	if err := s.Delete("carol", id); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	mem, _ := s.Get("carol")
	if len(mem.Entries) != 0 {
		t.Fatal("entry should be fully removed")
	}
}

func TestRulesStore_Update(t *testing.T) {
	s := newTestRulesStore(t)
	id, _ := s.Add("erin", "old content")

	if err := s.Update("erin", id, "new content"); err != nil {
		t.Fatalf("Update error: %v", err)
	}
	mem, _ := s.Get("erin")
	if mem.Entries[0].Content != "new content" {
		t.Fatalf("expected updated content, got %q", mem.Entries[0].Content)
	}
}

func TestRulesStore_Update_NotFound(t *testing.T) {
	s := newTestRulesStore(t)
	if err := s.Update("erin", 999, "x"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRulesStore_Clear(t *testing.T) {
	s := newTestRulesStore(t)
	s.Add("frank", "one")
	s.Add("frank", "two")

	if err := s.Clear("frank"); err != nil {
		t.Fatalf("Clear error: %v", err)
	}
	mem, _ := s.Get("frank")
	if len(mem.Entries) != 0 {
		t.Fatal("entries should be cleared")
	}
}

func TestRulesStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "user_rules.json")
	s1, err := NewRulesStore(path)
	if err != nil {
		t.Fatalf("NewRulesStore error: %v", err)
	}
	if _, err := s1.Add("dave", "lives in Berlin"); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	s2, err := NewRulesStore(path)
	if err != nil {
		t.Fatalf("reopen NewRulesStore error: %v", err)
	}
	mem, err := s2.Get("dave")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if len(mem.Enabled()) != 1 {
		t.Fatal("entry should survive reopening the store")
	}
}
