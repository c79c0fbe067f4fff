// Package fluxedit implements flux_edit (spec.md §4.4): apply a text-prompt
// edit to an existing image via BFL's Flux API, preserving the input's
// aspect ratio by padding rather than cropping when the requested output
// size doesn't match it.
package fluxedit

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
)

const (
	minDimension = 64
	maxDimension = 4096
)

// Tool implements orchestrator.Tool for flux_edit.
type Tool struct {
	BFL        *images.BFLClient
	Uploader   *images.Uploader
	Downloader *images.Downloader
}

func (t *Tool) Name() string { return "flux_edit" }

func (t *Tool) Description() string {
	return "Edit an existing image with a text prompt using Flux AI. Can download images from URLs shared in chat. " +
		"Returns a URL to the edited image. By default matches the input image's dimensions. Dimensions must be multiples of 16."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string", "description": "Text description of the edit to apply"},
			"input_image_url": {"type": "string", "description": "URL of the image to edit"},
			"width": {"type": "integer", "description": "Output width (multiple of 16, 64-4096). Defaults to input image width"},
			"height": {"type": "integer", "description": "Output height (multiple of 16, 64-4096). Defaults to input image height"},
			"model": {"type": "string", "enum": ["flux-2-pro", "flux-2-flex"], "description": "Default: flux-2-pro"},
			"output_format": {"type": "string", "enum": ["jpeg", "png"], "description": "Default: jpeg"}
		},
		"required": ["prompt", "input_image_url"]
	}`)
}

type params struct {
	Prompt        string `json:"prompt"`
	InputImageURL string `json:"input_image_url"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	Model         string `json:"model"`
	OutputFormat  string `json:"output_format"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	var p params
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
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
	if p.InputImageURL == "" {
		return orchestrator.ErrorResult("input_image_url is required"), nil
	}
	if !images.BFLModels[p.Model] {
		return orchestrator.ErrorResultf("model must be flux-2-pro or flux-2-flex, got %q", p.Model), nil
	}
	if p.OutputFormat != "jpeg" && p.OutputFormat != "png" {
		return orchestrator.ErrorResultf("output_format must be jpeg or png, got %q", p.OutputFormat), nil
	}

	inputBytes, _, err := t.Downloader.Download(ctx, p.InputImageURL)
	if err != nil {
		return orchestrator.ErrorResultf("download input image: %v", err), nil
	}

	srcW, srcH, _, err := images.Dimensions(inputBytes)
	if err != nil {
		return orchestrator.ErrorResultf("read input image: %v", err), nil
	}
	if p.Width == 0 {
		p.Width = roundToMultipleOf16(srcW)
	}
	if p.Height == 0 {
		p.Height = roundToMultipleOf16(srcH)
	}
	if p.Width%16 != 0 || p.Height%16 != 0 {
		return orchestrator.ErrorResultf("width and height must be multiples of 16, got %dx%d", p.Width, p.Height), nil
	}
	if p.Width < minDimension || p.Height < minDimension || p.Width > maxDimension || p.Height > maxDimension {
		return orchestrator.ErrorResultf("dimensions must be between %d and %d, got %dx%d", minDimension, maxDimension, p.Width, p.Height), nil
	}

	if p.Width != srcW || p.Height != srcH {
		padded, err := images.PadToAspect(inputBytes, p.Width, p.Height)
		if err != nil {
			return orchestrator.ErrorResultf("pad input image: %v", err), nil
		}
		inputBytes = padded
	}

	data, err := t.BFL.Generate(ctx, images.BFLRequest{
		Model:        p.Model,
		Prompt:       p.Prompt,
		Width:        p.Width,
		Height:       p.Height,
		OutputFormat: p.OutputFormat,
		InputImage:   base64.StdEncoding.EncodeToString(inputBytes),
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

func roundToMultipleOf16(n int) int {
	if n%16 == 0 {
		return n
	}
	return ((n / 16) + 1) * 16
}
