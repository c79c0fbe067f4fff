// Package fluxcreate implements flux_create (spec.md §4.4): generate an
// image from a text prompt via BFL's Flux API and upload the result to the
// shared artifact store.
package fluxcreate

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
)

const (
	minDimension = 64
	maxDimension = 4096
)

// Tool implements orchestrator.Tool for flux_create.
type Tool struct {
	BFL      *images.BFLClient
	Uploader *images.Uploader
}

func (t *Tool) Name() string { return "flux_create" }

func (t *Tool) Description() string {
	return "Generate an image from a text prompt using Flux AI. Returns a URL to the generated image. " +
		"Default size is 1024x1024, default model is flux-2-pro (fast). Dimensions must be multiples of 16, between 64 and 4096."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "Text description of the image to generate"},
			"width": {"type": "integer", "description": "Image width in pixels (multiple of 16, 64-4096). Default: 1024"},
			"height": {"type": "integer", "description": "Image height in pixels (multiple of 16, 64-4096). Default: 1024"},
			"model": {"type": "string", "enum": ["flux-2-pro", "flux-2-flex"], "description": "Default: flux-2-pro"},
			"output_format": {"type": "string", "enum": ["jpeg", "png"], "description": "Default: jpeg"}
		},
		"required": ["prompt"]
	}`)
}

type params struct {
	Prompt       string `json:"prompt"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	Model        string `json:"model"`
	OutputFormat string `json:"output_format"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	p := params{Width: 1024, Height: 1024, Model: "flux-2-pro", OutputFormat: "jpeg"}
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.Width == 0 {
		p.Width = 1024
	}
	if p.Height == 0 {
		p.Height = 1024
	}
	if p.Model == "" {
		p.Model = "flux-2-pro"
	}
	if p.OutputFormat == "" {
		p.OutputFormat = "jpeg"
	}

	if p.Prompt == "" {
		return orchestrator.ErrorResult("prompt is required"), nil
	}
	if p.Width%16 != 0 || p.Height%16 != 0 {
		return orchestrator.ErrorResultf("width and height must be multiples of 16, got %dx%d", p.Width, p.Height), nil
	}
	if p.Width < minDimension || p.Height < minDimension || p.Width > maxDimension || p.Height > maxDimension {
		return orchestrator.ErrorResultf("dimensions must be between %d and %d, got %dx%d", minDimension, maxDimension, p.Width, p.Height), nil
	}
	if !images.BFLModels[p.Model] {
		return orchestrator.ErrorResultf("model must be flux-2-pro or flux-2-flex, got %q", p.Model), nil
	}
	if p.OutputFormat != "jpeg" && p.OutputFormat != "png" {
		return orchestrator.ErrorResultf("output_format must be jpeg or png, got %q", p.OutputFormat), nil
	}

	data, err := t.BFL.Generate(ctx, images.BFLRequest{
		Model:        p.Model,
		Prompt:       p.Prompt,
		Width:        p.Width,
		Height:       p.Height,
		OutputFormat: p.OutputFormat,
	})
	if err != nil {
		return orchestrator.ErrorResultf("%v", err), nil
	}

	mimeType := "image/jpeg"
	if p.OutputFormat == "png" {
		mimeType = "image/png"
	}
	url, err := t.Uploader.Upload(ctx, data, mimeType, p.OutputFormat)
	if err != nil {
		return orchestrator.ErrorResultf("%v", err), nil
	}
	return orchestrator.TextResult(url), nil
}
