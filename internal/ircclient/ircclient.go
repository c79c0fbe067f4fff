// Package ircclient is the outbound half of the IRC callback contract
// (spec.md §4.8/§7): the core calls back into the running IRC client to
// check presence and emit lines, rather than holding a socket itself.
package ircclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client posts IRC operator commands to the IRC client's callback endpoint:
// POST {BaseURL}/irc/execute {command, args[], channel?} -> {status, output}
// or {status:"error", error}.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a callback client. baseURL is GO_BOT_CALLBACK_URL /
// config.ServerConfig.IRCCallbackURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type executeRequest struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Channel string   `json:"channel,omitempty"`
}

type executeResponse struct {
	Status string `json:"status"`
	Output string `json:"output"`
	Error  string `json:"error"`
}

// Execute runs an arbitrary IRC operator command, used by the irc_command
// tool for its proxied subset (spec.md §4.4: "Proxied over HTTP to the IRC
// client").
func (c *Client) Execute(ctx context.Context, command string, args []string, channel string) (output string, err error) {
	if c.baseURL == "" {
		return "", fmt.Errorf("irc callback url not configured")
	}

	body, err := json.Marshal(executeRequest{Command: command, Args: args, Channel: channel})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/irc/execute", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("irc callback: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read irc callback response: %w", err)
	}

	var out executeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode irc callback response: %w", err)
	}
	if out.Status == "error" {
		return "", fmt.Errorf("irc callback error: %s", out.Error)
	}
	return out.Output, nil
}

// UserStatus reports whether nick is currently online in channel, used by
// the reminder scheduler's time-based delivery branch (spec.md §4.8).
func (c *Client) UserStatus(ctx context.Context, channel, nick string) (online bool, err error) {
	output, err := c.Execute(ctx, "user_status", []string{nick}, channel)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(output), "online"), nil
}

// SendMessage emits a single line to channel, used for reminder delivery
// and the irc_command tool's proxied actions.
func (c *Client) SendMessage(ctx context.Context, channel, text string) error {
	_, err := c.Execute(ctx, "send_message", []string{text}, channel)
	return err
}
