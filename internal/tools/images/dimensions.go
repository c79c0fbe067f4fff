package images

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/webp"
)

func init() {
	// stdlib image has no webp decoder; golang.org/x/image/webp supplies one.
	image.RegisterFormat("webp", "RIFF????WEBP", webp.Decode, webp.DecodeConfig)
}

// Dimensions decodes just enough of data to report its pixel size and the
// format Go's image package recognized it as.
func Dimensions(data []byte) (width, height int, format string, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, "", fmt.Errorf("decode image: %w", err)
	}
	return cfg.Width, cfg.Height, format, nil
}

// ClosestAspectRatio finds the supported ratio string whose value is
// nearest width/height, mirroring gemini_image.py's _find_closest_aspect_ratio.
func ClosestAspectRatio(width, height int, ratios map[string]float64) string {
	if height == 0 {
		return "1:1"
	}
	target := float64(width) / float64(height)
	best, bestDiff := "1:1", float64(-1)
	for name, val := range ratios {
		diff := target - val
		if diff < 0 {
			diff = -diff
		}
		if bestDiff < 0 || diff < bestDiff {
			best, bestDiff = name, diff
		}
	}
	return best
}

// PadToAspect letterboxes src into a targetW x targetH canvas without
// cropping, centering the scaled source and filling the margins black, then
// re-encodes as PNG. Used by flux_edit when the caller asks for an output
// size that doesn't match the input image's aspect ratio (spec.md §4.4:
// "preserve input aspect ratio by padding when editing (no cropping)").
func PadToAspect(data []byte, targetW, targetH int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	sb := src.Bounds()
	srcW, srcH := sb.Dx(), sb.Dy()
	if srcW == 0 || srcH == 0 {
		return nil, fmt.Errorf("source image has zero dimension")
	}

	scale := float64(targetW) / float64(srcW)
	if h := float64(targetH) / float64(srcH); h < scale {
		scale = h
	}
	scaledW := int(float64(srcW) * scale)
	scaledH := int(float64(srcH) * scale)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}

	scaled := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.CatmullRom.Scale(scaled, scaled.Bounds(), src, sb, xdraw.Over, nil)

	offX := (targetW - scaledW) / 2
	offY := (targetH - scaledH) / 2
	canvas := image.NewRGBA(image.Rect(0, 0, targetW, targetH))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	draw.Draw(canvas, scaled.Bounds().Add(image.Point{X: offX, Y: offY}), scaled, image.Point{}, draw.Over)

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode padded image: %w", err)
	}
	return buf.Bytes(), nil
}
