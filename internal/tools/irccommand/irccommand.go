// Package irccommand implements irc_command (spec.md §4.4): IRC operator
// actions proxied over HTTP to the IRC client, gated by permission level.
package irccommand

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

// normalCommands are informational-only; any permission level may run them.
var normalCommands = map[string]bool{
	"whois": true, "whowas": true,
	"ns_info": true, "nickserv_info": true,
	"cs_info": true, "chanserv_info": true,
	"alis_list": true, "alis_search": true,
	"version": true, "time": true,
	"bot_status": true, "channel_info": true, "channel_list": true, "user_status": true,
	"channel_ops": true, "channel_voiced": true, "channel_topic": true, "find_user": true,
}

// adminCommands require admin or owner: moderation and channel management.
var adminCommands = map[string]bool{
	"kick": true, "ban": true, "unban": true, "quiet": true, "unquiet": true,
	"op": true, "deop": true, "voice": true, "devoice": true, "halfop": true, "dehalfop": true,
	"topic": true, "mode": true, "invite": true,
	"cs_op": true, "cs_deop": true, "cs_voice": true, "cs_devoice": true,
	"cs_kick": true, "cs_ban": true, "cs_unban": true, "cs_quiet": true, "cs_unquiet": true,
	"cs_topic": true, "cs_flags": true, "cs_access": true, "cs_akick": true,
	"cs_invite": true, "cs_clear": true,
	"ns_ghost": true, "ns_release": true, "ns_regain": true,
}

// Executor proxies a command to the IRC client; satisfied by
// *internal/ircclient.Client.
type Executor interface {
	Execute(ctx context.Context, command string, args []string, channel string) (string, error)
}

type Tool struct {
	IRC Executor
}

func (t *Tool) Name() string { return "irc_command" }

func (t *Tool) Description() string {
	return "Run IRC operator actions through the bot. Normal users may use informational " +
		"commands (whois, ns_info, alis_search, ...); admins/owners may also moderate channels."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "e.g. whois, kick, ns_info, cs_op, alis_search"},
			"args": {"type": "array", "items": {"type": "string"}},
			"channel": {"type": "string", "description": "Target channel; optional, some commands infer from context"}
		},
		"required": ["command"]
	}`)
}

type params struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Channel string   `json:"channel"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if strings.TrimSpace(p.Command) == "" {
		return orchestrator.ErrorResult("command is required"), nil
	}

	caller := orchestrator.CallerFromContext(ctx)
	if allowed, reason := checkPermission(p.Command, caller.PermissionLevel); !allowed {
		return orchestrator.ErrorResult("Permission denied: " + reason), nil
	}

	output, err := t.IRC.Execute(ctx, p.Command, p.Args, p.Channel)
	if err != nil {
		return orchestrator.ErrorResultf("Error executing IRC command: %v", err), nil
	}
	return orchestrator.TextResult(output), nil
}

func checkPermission(command string, level models.PermissionLevel) (bool, string) {
	cmd := strings.ToLower(command)

	switch level {
	case models.PermOwner:
		return true, ""
	case models.PermAdmin:
		return true, ""
	case models.PermNormal:
		if normalCommands[cmd] {
			return true, ""
		}
		return false, fmt.Sprintf("command %q requires admin privileges. You can use: whois, ns_info, cs_info, alis_search, version, time", command)
	default:
		return false, "you don't have permission to use IRC commands"
	}
}
