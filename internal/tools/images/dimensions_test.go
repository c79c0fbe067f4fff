package images

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodeTestPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 50, B: 50, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode test png: %v", err)
	}
	return buf.Bytes()
}

func TestDimensions(t *testing.T) {
	data := encodeTestPNG(t, 64, 32)
	w, h, format, err := Dimensions(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if w != 64 || h != 32 {
		t.Fatalf("Dimensions = %dx%d, want 64x32", w, h)
	}
	if format != "png" {
		t.Fatalf("format = %q, want png", format)
	}
}

func TestClosestAspectRatio(t *testing.T) {
	ratios := map[string]float64{"1:1": 1, "16:9": 16.0 / 9.0, "9:16": 9.0 / 16.0}
	if got := ClosestAspectRatio(1920, 1080, ratios); got != "16:9" {
		t.Fatalf("ClosestAspectRatio(1920,1080) = %q, want 16:9", got)
	}
	if got := ClosestAspectRatio(100, 100, ratios); got != "1:1" {
		t.Fatalf("ClosestAspectRatio(100,100) = %q, want 1:1", got)
	}
}

func TestPadToAspect(t *testing.T) {
	data := encodeTestPNG(t, 64, 64)
	padded, err := PadToAspect(data, 128, 64)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	w, h, _, err := Dimensions(padded)
	if err != nil {
		t.Fatalf("unexpected error reading padded image: %v", err)
	}
	if w != 128 || h != 64 {
		t.Fatalf("padded dimensions = %dx%d, want 128x64", w, h)
	}
}
