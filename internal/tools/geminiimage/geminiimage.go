// Package geminiimage implements gemini_image (spec.md §4.4): generate or
// edit images with Google's Gemini 3 Pro Image Preview model via
// google.golang.org/genai, detecting and preserving the input image's
// aspect ratio on edits the same way the Flux tools do.
package geminiimage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
)

const model = "gemini-3-pro-image-preview"

const maxInputImages = 14

var aspectRatioValues = map[string]float64{
	"1:1": 1.0, "2:3": 2.0 / 3.0, "3:2": 3.0 / 2.0, "3:4": 3.0 / 4.0, "4:3": 4.0 / 3.0,
	"4:5": 4.0 / 5.0, "5:4": 5.0 / 4.0, "9:16": 9.0 / 16.0, "16:9": 16.0 / 9.0, "21:9": 21.0 / 9.0,
}

var validResolutions = map[string]bool{"1K": true, "2K": true, "4K": true}

// Tool implements orchestrator.Tool for gemini_image.
type Tool struct {
	Client     *genai.Client
	Uploader   *images.Uploader
	Downloader *images.Downloader
}

// New builds a Tool, matching gemini_image.py's GEMINI_API_KEY/GOOGLE_API_KEY lookup.
func New(ctx context.Context, apiKey string, uploader *images.Uploader, downloader *images.Downloader) (*Tool, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	return &Tool{Client: client, Uploader: uploader, Downloader: downloader}, nil
}

func (t *Tool) Name() string { return "gemini_image" }

func (t *Tool) Description() string {
	return "Generate or edit images using Google's Gemini 3 Pro Image Preview model. Supports up to 14 reference " +
		"images and high-fidelity text rendering. Preserves the input image's aspect ratio unless overridden. Returns a URL."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"prompt": {"type": "string"},
			"input_image_urls": {"type": "array", "items": {"type": "string"}, "description": "Up to 14 reference images"},
			"aspect_ratio": {"type": "string", "enum": ["1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9", "auto"], "description": "Default: auto (detect from input when editing)"},
			"resolution": {"type": "string", "enum": ["1K", "2K", "4K"], "description": "Default: 1K"}
		},
		"required": ["prompt"]
	}`)
}

type params struct {
	Prompt         string   `json:"prompt"`
	InputImageURLs []string `json:"input_image_urls"`
	AspectRatio    string   `json:"aspect_ratio"`
	Resolution     string   `json:"resolution"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	p := params{AspectRatio: "auto", Resolution: "1K"}
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.AspectRatio == "" {
		p.AspectRatio = "auto"
	}
	if p.Resolution == "" {
		p.Resolution = "1K"
	}

	if p.Prompt == "" {
		return orchestrator.ErrorResult("prompt is required"), nil
	}
	if !validResolutions[p.Resolution] {
		return orchestrator.ErrorResultf("invalid resolution %q", p.Resolution), nil
	}
	if len(p.InputImageURLs) > maxInputImages {
		return orchestrator.ErrorResultf("maximum %d input images allowed", maxInputImages), nil
	}

	parts := []*genai.Part{{Text: p.Prompt}}
	for _, url := range p.InputImageURLs {
		data, contentType, err := t.Downloader.Download(ctx, url)
		if err != nil {
			return orchestrator.ErrorResultf("download image %s: %v", url, err), nil
		}
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: data, MIMEType: mimeTypeFor(url, contentType, data)}})
	}

	aspectRatio := p.AspectRatio
	if aspectRatio == "auto" {
		aspectRatio = "1:1"
		if len(p.InputImageURLs) > 0 {
			firstData, _, err := t.Downloader.Download(ctx, p.InputImageURLs[0])
			if err == nil {
				if w, h, _, derr := images.Dimensions(firstData); derr == nil {
					aspectRatio = images.ClosestAspectRatio(w, h, aspectRatioValues)
				}
			}
		}
	}
	if _, ok := aspectRatioValues[aspectRatio]; !ok {
		return orchestrator.ErrorResultf("invalid aspect_ratio %q", aspectRatio), nil
	}

	resp, err := t.Client.Models.GenerateContent(ctx, model,
		[]*genai.Content{{Parts: parts, Role: genai.RoleUser}},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig: &genai.ImageConfig{
				AspectRatio: aspectRatio,
				ImageSize:   p.Resolution,
			},
		})
	if err != nil {
		return orchestrator.ErrorResultf("gemini image: %v", err), nil
	}

	var imageURL, textResponse string
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				textResponse = part.Text
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				ext := extFromMime(part.InlineData.MIMEType)
				url, uerr := t.Uploader.Upload(ctx, part.InlineData.Data, part.InlineData.MIMEType, ext)
				if uerr != nil {
					return orchestrator.ErrorResultf("%v", uerr), nil
				}
				imageURL = url
			}
		}
	}

	switch {
	case imageURL != "" && textResponse != "":
		return orchestrator.TextResult(imageURL + " | " + textResponse), nil
	case imageURL != "":
		return orchestrator.TextResult(imageURL), nil
	case textResponse != "":
		return orchestrator.TextResult("No image generated. Model response: " + textResponse), nil
	default:
		return orchestrator.ErrorResult("no image or text in response"), nil
	}
}

func mimeTypeFor(url, contentType string, data []byte) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	}
	if contentType != "" {
		return contentType
	}
	if len(data) >= 8 && string(data[:4]) == "\x89PNG" {
		return "image/png"
	}
	return "image/jpeg"
}

func extFromMime(mimeType string) string {
	switch mimeType {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	default:
		return "jpeg"
	}
}
