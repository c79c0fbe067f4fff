package irccommand

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

type fakeExecutor struct {
	output  string
	err     error
	gotCmd  string
	gotArgs []string
}

func (f *fakeExecutor) Execute(ctx context.Context, command string, args []string, channel string) (string, error) {
	f.gotCmd = command
	f.gotArgs = args
	return f.output, f.err
}

func withCaller(nick string, perm models.PermissionLevel) context.Context {
	return orchestrator.ContextWithCaller(context.Background(), orchestrator.Caller{Nick: nick, PermissionLevel: perm})
}

func TestTool_NormalUserCanRunInformationalCommand(t *testing.T) {
	irc := &fakeExecutor{output: "foo is in #bar"}
	tool := &Tool{IRC: irc}

	args, _ := json.Marshal(map[string]any{"command": "whois", "args": []string{"foo"}})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultText || result.Text != "foo is in #bar" {
		t.Fatalf("expected success, got %v: %s", result.Kind, result.Text)
	}
	if irc.gotCmd != "whois" {
		t.Fatalf("expected whois proxied, got %q", irc.gotCmd)
	}
}

func TestTool_NormalUserDeniedModerationCommand(t *testing.T) {
	irc := &fakeExecutor{output: "should not be called"}
	tool := &Tool{IRC: irc}

	args, _ := json.Marshal(map[string]string{"command": "kick", "channel": "#x"})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError || !strings.Contains(result.Text, "Permission denied") {
		t.Fatalf("expected permission denied, got %v: %s", result.Kind, result.Text)
	}
	if irc.gotCmd != "" {
		t.Fatal("expected IRC client not to be called")
	}
}

func TestTool_AdminCanRunModerationCommand(t *testing.T) {
	irc := &fakeExecutor{output: "kicked"}
	tool := &Tool{IRC: irc}

	args, _ := json.Marshal(map[string]string{"command": "kick", "channel": "#x"})
	result, err := tool.Execute(withCaller("root", models.PermAdmin), args)
	if err != nil || result.Kind != orchestrator.ResultText {
		t.Fatalf("expected success, got err=%v result=%+v", err, result)
	}
}

func TestTool_IgnoredUserDeniedEverything(t *testing.T) {
	irc := &fakeExecutor{output: "x"}
	tool := &Tool{IRC: irc}

	args, _ := json.Marshal(map[string]string{"command": "whois"})
	result, err := tool.Execute(withCaller("spammer", models.PermIgnored), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected denial, got %v", result.Kind)
	}
}

func TestTool_ExecutorErrorSurfacesAsToolError(t *testing.T) {
	irc := &fakeExecutor{err: errors.New("connection refused")}
	tool := &Tool{IRC: irc}

	args, _ := json.Marshal(map[string]string{"command": "whois"})
	result, err := tool.Execute(withCaller("bob", models.PermNormal), args)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError || !strings.Contains(result.Text, "connection refused") {
		t.Fatalf("expected error result, got %v: %s", result.Kind, result.Text)
	}
}

func TestTool_RequiresCommand(t *testing.T) {
	irc := &fakeExecutor{}
	tool := &Tool{IRC: irc}

	result, err := tool.Execute(withCaller("bob", models.PermNormal), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Kind != orchestrator.ResultError {
		t.Fatalf("expected validation error, got %v", result.Kind)
	}
}
