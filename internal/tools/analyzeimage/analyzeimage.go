// Package analyzeimage implements analyze_image (spec.md §4.4): pull an
// image from a URL into base64 and hand it back as a JSON carrier the
// orchestrator's loop recognizes specially (internal/orchestrator/loop.go's
// describeImage), opening a nested vision sub-call instead of feeding the
// image bytes into the main reasoning chain (spec.md §4.1 step 4).
package analyzeimage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"math"
	"strings"

	"github.com/haasonsaas/nexus-core/internal/orchestrator"
	"github.com/haasonsaas/nexus-core/internal/tools/images"
)

// MaxImageBytes matches image_analysis.py's 50MB cap.
const MaxImageBytes = 50 * 1024 * 1024

var supportedMimeTypes = map[string]bool{
	"image/png": true, "image/jpeg": true, "image/webp": true, "image/gif": true,
}

// Tool implements orchestrator.Tool for analyze_image.
type Tool struct {
	Downloader *images.Downloader
	Logger     *slog.Logger
}

func (t *Tool) Name() string { return "analyze_image" }

func (t *Tool) Description() string {
	return "Analyze an image from a URL. Use when the user shares an image link and asks about it. " +
		"Supports PNG, JPEG, WEBP, and non-animated GIF, up to 50MB."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"image_source": {"type": "string", "description": "URL of the image to analyze"},
			"detail": {"type": "string", "enum": ["low", "high", "auto"], "description": "Default: auto"},
			"question": {"type": "string", "description": "Optional question about the image"}
		},
		"required": ["image_source"]
	}`)
}

type params struct {
	ImageSource string `json:"image_source"`
	Detail      string `json:"detail"`
	Question    string `json:"question"`
}

// carrier mirrors internal/orchestrator/loop.go's analyzeImageCarrier; field
// names must stay in sync since the loop special-cases this tool by name.
type carrier struct {
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
	Prompt      string `json:"prompt"`
}

func (t *Tool) Execute(ctx context.Context, args json.RawMessage) (*orchestrator.ToolResult, error) {
	p := params{Detail: "auto"}
	if err := json.Unmarshal(args, &p); err != nil {
		return orchestrator.ErrorResultf("invalid arguments: %v", err), nil
	}
	if p.Detail == "" {
		p.Detail = "auto"
	}
	if p.ImageSource == "" {
		return orchestrator.ErrorResult("image_source is required"), nil
	}
	if !strings.HasPrefix(p.ImageSource, "http://") && !strings.HasPrefix(p.ImageSource, "https://") {
		return orchestrator.ErrorResult("image_source must be an http(s) URL"), nil
	}

	data, contentType, err := t.Downloader.Download(ctx, p.ImageSource)
	if err != nil {
		return orchestrator.ErrorResultf("failed to download image: %v", err), nil
	}
	if len(data) > MaxImageBytes {
		return orchestrator.ErrorResultf("image too large: %d bytes (max %d)", len(data), MaxImageBytes), nil
	}

	width, height, _, dimErr := images.Dimensions(data)
	mimeType := mimeTypeFor(p.ImageSource, contentType, data)
	if !supportedMimeTypes[mimeType] {
		return orchestrator.ErrorResultf("unsupported format %q; supported: PNG, JPEG, WEBP, non-animated GIF", mimeType), nil
	}

	detail := p.Detail
	if detail == "auto" {
		detail = smartDetail(width, height, dimErr)
	}

	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("analyze_image token estimate",
		"tokens", estimateTokens(width, height, detail, dimErr),
		"detail", detail, "width", width, "height", height)

	prompt := "Describe this image."
	if p.Question != "" {
		prompt = p.Question
	}

	payload, err := json.Marshal(carrier{
		ImageBase64: base64.StdEncoding.EncodeToString(data),
		MimeType:    mimeType,
		Prompt:      prompt,
	})
	if err != nil {
		return orchestrator.ErrorResultf("encode image carrier: %v", err), nil
	}
	return orchestrator.TextResult(string(payload)), nil
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
	mediaType := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if supportedMimeTypes[mediaType] {
		return mediaType
	}
	if len(data) >= 4 && string(data[1:4]) == "PNG" {
		return "image/png"
	}
	return "image/jpeg"
}

// smartDetail mirrors image_analysis.py's smart_detail_selection: low detail
// for small or very large images (the latter get downscaled anyway), high
// for everything in between.
func smartDetail(width, height int, dimErr error) string {
	if dimErr != nil {
		return "low"
	}
	if width < 512 && height < 512 {
		return "low"
	}
	if width > 2048 || height > 2048 {
		return "low"
	}
	return "high"
}

// estimateTokens mirrors image_analysis.py's calculate_image_tokens 32px
// patch formula with the gpt-5.1 1.62 multiplier, capped at 1536 patches.
func estimateTokens(width, height int, detail string, dimErr error) int {
	if detail == "low" {
		return 85
	}
	if dimErr != nil || width == 0 || height == 0 {
		return 1000
	}

	rawPatches := math.Ceil(float64(width)/32) * math.Ceil(float64(height)/32)
	patches := rawPatches
	if rawPatches > 1536 {
		r := math.Sqrt(32 * 32 * 1536 / (float64(width) * float64(height)))
		resizedWidth := float64(width) * r
		resizedHeight := float64(height) * r
		widthPatches := math.Floor(resizedWidth / 32)
		if widthPatches > 0 {
			scale := widthPatches / (resizedWidth / 32)
			resizedWidth *= scale
			resizedHeight *= scale
		}
		patches = math.Ceil(resizedWidth/32) * math.Ceil(resizedHeight/32)
	}
	if patches > 1536 {
		patches = 1536
	}
	return int(patches * 1.62)
}
