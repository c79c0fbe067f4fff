// Package gptimage implements gpt_image (spec.md §4.4): generate or edit
// images with OpenAI's gpt-image-1 model via sashabaranov/go-openai's
// Images API — the one call shape the Responses API client the rest of
// the orchestrator uses (internal/provider/responses) has no equivalent
// for.
package gptimage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
)

var (
	validSizes       = map[string]bool{"1024x1024": true, "1536x1024": true, "1024x1536": true, "auto": true}
	validQualities   = map[string]bool{"low": true, "medium": true, "high": true, "auto": true}
	validFormats     = map[string]bool{"png": true, "jpeg": true, "webp": true}
	validBackgrounds = map[string]bool{"opaque": true, "transparent": true, "auto": true}
)

// Tool implements orchestrator.Tool for gpt_image.
type Tool struct {
	Client     *openai.Client
	Uploader   *images.Uploader
	Downloader *images.Downloader
}

// New builds a Tool from an API key, matching gpt_image.py's OPENAI_API_KEY lookup.
func New(apiKey string, uploader *images.Uploader, downloader *images.Downloader) *Tool {
	return &Tool{Client: openai.NewClient(apiKey), Uploader: uploader, Downloader: downloader}
}

func (t *Tool) Name() string { return "gpt_image" }

func (t *Tool) Description() string {
	return "Generate or edit images using OpenAI's gpt-image-1 model. Supports reference-image editing and mask-based " +
		"inpainting. Returns one URL, or multiple '|'-joined URLs when n > 1."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string"},
			"input_image_urls": {"type": "array", "items": {"type": "string"}, "description": "Optional input image(s) for editing"},
			"mask_url": {"type": "string", "description": "Optional inpainting mask"},
			"size": {"type": "string", "enum": ["1024x1024", "1536x1024", "1024x1536", "auto"], "description": "Default: auto"},
			"quality": {"type": "string", "enum": ["low", "medium", "high", "auto"], "description": "Default: auto"},
			"output_format": {"type": "string", "enum": ["png", "jpeg", "webp"], "description": "Default: png"},
			"background": {"type": "string", "enum": ["opaque", "transparent", "auto"], "description": "Default: auto"},
			"n": {"type": "integer", "minimum": 1, "maximum": 4, "description": "Default: 1"}
		},
		"required": ["prompt"]
	}`)
}

type params struct {
	Prompt         string   `json:"prompt"`
	InputImageURLs []string `json:"input_image_urls"`
	MaskURL        string   `json:"mask_url"`
	Size           string   `json:"size"`
	Quality        string   `json:"quality"`
	OutputFormat   string   `json:"output_format"`
	Background     string   `json:"background"`
	N              int      `json:"n"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	p := params{Size: "auto", Quality: "auto", OutputFormat: "png", Background: "auto", N: 1}
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.Size == "" {
		p.Size = "auto"
	}
	if p.Quality == "" {
		p.Quality = "auto"
	}
	if p.OutputFormat == "" {
		p.OutputFormat = "png"
	}
	if p.Background == "" {
		p.Background = "auto"
	}
	if p.N == 0 {
		p.N = 1
	}

	if p.Prompt == "" {
		return orchestrator.ErrorResult("prompt is required"), nil
	}
	if !validSizes[p.Size] {
		return orchestrator.ErrorResultf("invalid size %q", p.Size), nil
	}
	if !validQualities[p.Quality] {
		return orchestrator.ErrorResultf("invalid quality %q", p.Quality), nil
	}
	if !validFormats[p.OutputFormat] {
		return orchestrator.ErrorResultf("invalid output_format %q", p.OutputFormat), nil
	}
	if !validBackgrounds[p.Background] {
		return orchestrator.ErrorResultf("invalid background %q", p.Background), nil
	}
	if p.N < 1 || p.N > 4 {
		return orchestrator.ErrorResult("n must be between 1 and 4"), nil
	}
	if p.Background == "transparent" {
		if p.OutputFormat != "png" && p.OutputFormat != "webp" {
			return orchestrator.ErrorResult("transparent background requires png or webp format"), nil
		}
		if p.Quality == "low" {
			return orchestrator.ErrorResult("transparent background requires medium or high quality"), nil
		}
	}

	var data []openai.ImageResponseDataInner
	var err error
	if len(p.InputImageURLs) > 0 || p.MaskURL != "" {
		data, err = t.edit(ctx, p)
	} else {
		data, err = t.generate(ctx, p)
	}
	if err != nil {
		return orchestrator.ErrorResultf("%v", err), nil
	}

	urls := make([]string, 0, len(data))
	for _, item := range data {
		imgBytes, decodeErr := base64.StdEncoding.DecodeString(item.B64JSON)
		if decodeErr != nil {
			return orchestrator.ErrorResultf("decode generated image: %v", decodeErr), nil
		}
		url, uploadErr := t.Uploader.Upload(ctx, imgBytes, mimeTypeFor(p.OutputFormat), p.OutputFormat)
		if uploadErr != nil {
			return orchestrator.ErrorResultf("%v", uploadErr), nil
		}
		urls = append(urls, url)
	}
	if len(urls) == 0 {
		return orchestrator.ErrorResult("no images generated"), nil
	}
	return orchestrator.TextResult(strings.Join(urls, " | ")), nil
}

func (t *Tool) generate(ctx context.Context, p params) ([]openai.ImageResponseDataInner, error) {
	req := openai.ImageRequest{
		Model:  "gpt-image-1",
		Prompt: p.Prompt,
		N:      p.N,
	}
	if p.Size != "auto" {
		req.Size = p.Size
	}
	if p.Quality != "auto" {
		req.Quality = p.Quality
	}
	if p.Background != "auto" {
		req.Background = p.Background
	}
	if p.OutputFormat != "png" {
		req.OutputFormat = p.OutputFormat
	}

	resp, err := t.Client.CreateImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("gpt-image generate: %w", err)
	}
	return resp.Data, nil
}

// edit downloads the first reference image (and optional mask) and submits
// an edit request. go-openai's ImageEditRequest carries a single Image
// reader, so only the first of input_image_urls is used even though the
// model itself accepts several reference images.
func (t *Tool) edit(ctx context.Context, p params) ([]openai.ImageResponseDataInner, error) {
	if len(p.InputImageURLs) == 0 {
		return nil, fmt.Errorf("mask_url requires at least one input image")
	}
	imgBytes, _, err := t.Downloader.Download(ctx, p.InputImageURLs[0])
	if err != nil {
		return nil, fmt.Errorf("download input image: %w", err)
	}

	req := openai.ImageEditRequest{
		Image:  bytes.NewReader(imgBytes),
		Prompt: p.Prompt,
		Model:  "gpt-image-1",
		N:      p.N,
	}
	if p.Size != "auto" {
		req.Size = p.Size
	}
	if p.MaskURL != "" {
		maskBytes, maskErr := t.Downloader.Download(ctx, p.MaskURL)
		if maskErr != nil {
			return nil, fmt.Errorf("download mask image: %w", maskErr)
		}
		req.Mask = bytes.NewReader(maskBytes)
	}

	resp, err := t.Client.CreateEditImage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("gpt-image edit: %w", err)
	}
	return resp.Data, nil
}

func mimeTypeFor(format string) string {
	switch format {
	case "jpeg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}
