package pdf

import (
	"bytes"
	"context"
	"errors"
	"image/png"
	"testing"

	"github.com/ChonangRai/tool-factory/internal/pdf/pdftest"
)

func TestFitzRendererScalesWithZoom(t *testing.T) {
	doc := pdftest.Build(pdftest.Page{Width: 200, Height: 300}, pdftest.Page{Width: 600, Height: 600})
	renderer := NewFitzRenderer()

	tests := []struct {
		zoom          float64
		width, height int
	}{
		{1, 200, 300},
		{2, 400, 600},
		{0.5, 100, 150},
	}
	for _, tt := range tests {
		raster, err := renderer.Render(context.Background(), doc, tt.zoom)
		if err != nil {
			t.Fatalf("Render(zoom=%v) returned error: %v", tt.zoom, err)
		}
		if raster.Width != tt.width || raster.Height != tt.height {
			t.Fatalf("Render(zoom=%v) = %dx%d, want %dx%d", tt.zoom, raster.Width, raster.Height, tt.width, tt.height)
		}
		if len(raster.Pixels) != 4*tt.width*tt.height {
			t.Fatalf("pixel buffer length = %d", len(raster.Pixels))
		}
	}
}

func TestFitzRendererHonoursIntrinsicRotation(t *testing.T) {
	doc := pdftest.Build(pdftest.Page{Width: 200, Height: 300, Rotate: 90})
	raster, err := NewFitzRenderer().Render(context.Background(), doc, 1)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if raster.Width != 300 || raster.Height != 200 {
		t.Fatalf("Render = %dx%d, want 300x200", raster.Width, raster.Height)
	}
}

func TestFitzRendererDecodeError(t *testing.T) {
	original := pdftest.Garbage()
	input := bytes.Clone(original)
	_, err := NewFitzRenderer().Render(context.Background(), input, 1)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if !bytes.Equal(input, original) {
		t.Fatal("Render mutated its input")
	}
}

func TestFitzRendererRejectsZoom(t *testing.T) {
	_, err := NewFitzRenderer().Render(context.Background(), pdftest.Build(pdftest.A4), 0)
	pe, ok := AsError(err)
	if !ok || pe.Code != CodeInvalidInput {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRotateRaster(t *testing.T) {
	// 2x1 の画像: 左が赤、右が青。
	src := &Raster{Width: 2, Height: 1, Pixels: []byte{
		255, 0, 0, 255,
		0, 0, 255, 255,
	}}

	r90 := RotateRaster(src, 90)
	if r90.Width != 1 || r90.Height != 2 {
		t.Fatalf("90: size = %dx%d", r90.Width, r90.Height)
	}
	// 時計回りに回すと左端(赤)が上に来る。
	if r90.Pixels[0] != 255 || r90.Pixels[6] != 255 {
		t.Fatalf("90: pixels = %v", r90.Pixels)
	}

	r180 := RotateRaster(src, 180)
	if r180.Pixels[0] != 0 || r180.Pixels[2] != 255 || r180.Pixels[4] != 255 {
		t.Fatalf("180: pixels = %v", r180.Pixels)
	}

	r270 := RotateRaster(src, 270)
	if r270.Width != 1 || r270.Height != 2 || r270.Pixels[2] != 255 || r270.Pixels[4] != 255 {
		t.Fatalf("270: pixels = %v", r270.Pixels)
	}

	if RotateRaster(src, 0) != src {
		t.Fatal("zero rotation should return the input")
	}
}

func TestRasterPNG(t *testing.T) {
	raster := &Raster{Width: 3, Height: 2, Pixels: make([]byte, 4*3*2)}
	data, err := raster.PNG()
	if err != nil {
		t.Fatalf("PNG returned error: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode returned error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 3 || b.Dy() != 2 {
		t.Fatalf("bounds = %v", b)
	}
}
