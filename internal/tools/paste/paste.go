// Package paste implements create_paste (spec.md §4.4): upload text/code to
// the shared artifact store and return a retrievable reference.
package paste

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/artifacts"
	"github.com/haasonsaas/nexus-core/internal/orchestrator"
)

const (
	defaultExpiryHours = 24
	maxExpiryHours     = 24 * 30
)

type Tool struct {
	Repo    artifacts.Repository
	BaseURL string // public URL prefix the HTTP boundary serves artifacts under
}

func (t *Tool) Name() string { return "create_paste" }

func (t *Tool) Description() string {
	return "Upload text or code to the paste service and return a URL. Content must be non-empty."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"content": {"type": "string"},
			"filename": {"type": "string"},
			"language": {"type": "string", "description": "Used to pick a mime type / syntax hint"},
			"expiry_hours": {"type": "integer", "description": "1-720, default 24"}
		},
		"required": ["content"]
	}`)
}

type params struct {
	Content     string `json:"content"`
	Filename    string `json:"filename"`
	Language    string `json:"language"`
	ExpiryHours int    `json:"expiry_hours"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if len(p.Content) == 0 {
		return orchestrator.ErrorResult("content must be at least 1 character"), nil
	}

	hours := p.ExpiryHours
	if hours <= 0 {
		hours = defaultExpiryHours
	}
	if hours > maxExpiryHours {
		hours = maxExpiryHours
	}

	mimeType := mimeTypeForLanguage(p.Language)
	artifact := &artifacts.Artifact{
		Type:       "paste",
		MimeType:   mimeType,
		Filename:   p.Filename,
		Size:       int64(len(p.Content)),
		TtlSeconds: int64(hours * 3600),
	}

	if err := t.Repo.StoreArtifact(ctx, artifact, strings.NewReader(p.Content)); err != nil {
		return orchestrator.ErrorResultf("create paste: %v", err), nil
	}

	url := artifact.Id
	if t.BaseURL != "" {
		url = strings.TrimRight(t.BaseURL, "/") + "/pastes/" + artifact.Id
	}
	return orchestrator.TextResult(fmt.Sprintf("%s (expires in %dh)", url, hours)), nil
}

func mimeTypeForLanguage(language string) string {
	switch strings.ToLower(language) {
	case "json":
		return "application/json"
	case "html":
		return "text/html"
	case "":
		return "text/plain"
	default:
		return "text/plain"
	}
}
