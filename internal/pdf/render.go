package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"github.com/gen2brain/go-fitz"
	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

const (
	// MinZoom と MaxZoom は描画倍率の許容範囲です。
	MinZoom = 0.1
	MaxZoom = 8.0
)

// Raster は描画結果のRGBAビットマップです。Pixels の行間隔は 4*Width です。
type Raster struct {
	Width  int
	Height int
	Pixels []byte
}

// Renderer は文書の先頭ページをビットマップへ描画します。
type Renderer interface {
	Render(ctx context.Context, document []byte, zoom float64) (*Raster, error)
}

// FitzRenderer は MuPDF を使う Renderer です。
type FitzRenderer struct{}

// NewFitzRenderer は FitzRenderer を生成します。
func NewFitzRenderer() *FitzRenderer {
	return &FitzRenderer{}
}

// Render は先頭ページを 72*zoom DPI で描画します。出力寸法はページ寸法(回転考慮)に比例します。
func (r *FitzRenderer) Render(ctx context.Context, document []byte, zoom float64) (*Raster, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if zoom < MinZoom || zoom > MaxZoom {
		return nil, NewInvalidInput(fmt.Sprintf("描画倍率は %.1f から %.1f の範囲で指定してください。", MinZoom, MaxZoom))
	}
	if len(document) == 0 {
		return nil, decodeError("", fmt.Errorf("empty document"))
	}

	doc, err := fitz.NewFromMemory(document)
	if err != nil {
		return nil, decodeError("", err)
	}
	defer doc.Close()

	if doc.NumPage() < 1 {
		return nil, decodeError("", fmt.Errorf("document has no pages"))
	}

	img, err := doc.ImageDPI(0, 72*zoom)
	if err != nil {
		return nil, decodeError("", err)
	}
	return rasterFromImage(img), nil
}

func rasterFromImage(img *image.RGBA) *Raster {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	pixels := make([]byte, 4*w*h)
	for y := 0; y < h; y++ {
		src := img.Pix[y*img.Stride : y*img.Stride+4*w]
		copy(pixels[y*4*w:], src)
	}
	return &Raster{Width: w, Height: h, Pixels: pixels}
}

// Image は Raster を image.RGBA として返します。画素は共有されます。
func (r *Raster) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    r.Pixels,
		Stride: 4 * r.Width,
		Rect:   image.Rect(0, 0, r.Width, r.Height),
	}
}

// PNG は Raster をPNGとしてエンコードします。
func (r *Raster) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, r.Image()); err != nil {
		return nil, fmt.Errorf("PNGのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

// RotateRaster は時計回りに deg 度回転したビットマップを返します。deg は90度単位です。
func RotateRaster(r *Raster, deg int) *Raster {
	deg = NormalizeRotation(deg)
	if deg == 0 || deg%90 != 0 {
		return r
	}
	w, h := float64(r.Width), float64(r.Height)
	dstW, dstH := r.Width, r.Height
	var m f64.Aff3
	switch deg {
	case 90:
		dstW, dstH = r.Height, r.Width
		m = f64.Aff3{0, -1, h, 1, 0, 0}
	case 180:
		m = f64.Aff3{-1, 0, w, 0, -1, h}
	case 270:
		dstW, dstH = r.Height, r.Width
		m = f64.Aff3{0, 1, 0, -1, 0, w}
	}
	dst := image.NewRGBA(image.Rect(0, 0, dstW, dstH))
	draw.NearestNeighbor.Transform(dst, m, r.Image(), r.Image().Bounds(), draw.Src, nil)
	return &Raster{Width: dstW, Height: dstH, Pixels: dst.Pix}
}
