package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/config"
)

// TestBuildAppMinimalConfig exercises buildApp with every optional
// credential and subsystem left unset: no Anthropic/BFL/OpenAI/Gemini
// keys, no knowledge-base DSN. It should build cleanly with those tools
// simply absent from the registry rather than panicking or erroring,
// matching handlers_serve.go's conditional-registration contract.
func TestBuildAppMinimalConfig(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	configPath := filepath.Join(dir, "nexus-core.toml")
	if err := os.WriteFile(configPath, []byte(`
[storage]
driver = "sqlite"
dsn = "nexus-core.db"
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	app, err := buildApp(context.Background(), cfg, logger)
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	defer app.stores.Close()

	if app.gateway == nil {
		t.Fatal("expected a non-nil gateway server")
	}
	if app.scheduler == nil {
		t.Fatal("expected a non-nil reminder scheduler")
	}
	if app.msgSync != nil {
		t.Fatal("expected no message-sync job without a knowledge-base DSN")
	}
	if app.kbBackend != nil {
		t.Fatal("expected no knowledge-base backend without a DSN")
	}

	defs := map[string]bool{}
	for _, d := range app.registry.Definitions() {
		defs[d.Name] = true
	}

	for _, name := range []string{"flux_create", "flux_edit", "gpt_image", "gemini_image", "claude_code", "kb_search", "query_chat_history"} {
		if defs[name] {
			t.Errorf("tool %q should not be registered without its credential", name)
		}
	}
	for _, name := range []string{"null_response", "report_status", "manage_user_rules", "bug_report", "create_paste", "irc_command", "shell_exec", "fetch_url", "reminder_set", "reminder_list", "reminder_cancel", "analyze_image"} {
		if !defs[name] {
			t.Errorf("expected tool %q to be registered with no credentials configured", name)
		}
	}
}
