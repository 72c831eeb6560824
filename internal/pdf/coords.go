package pdf

import "math"

// Ratio はページ幅・高さに対する相対位置です。原点は表示上の左上で、各成分は [0,1] です。
type Ratio struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// RatioSize は矩形の相対サイズです。
type RatioSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point はピクセルまたはPDFポイント空間の座標です。
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Size はページやキャンバスの寸法です。
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CanvasPixelToRatio はキャンバス上のピクセル位置を相対座標へ変換します。結果は [0,1] に丸められます。
func CanvasPixelToRatio(px Point, canvasWidth, canvasHeight float64) Ratio {
	if canvasWidth <= 0 || canvasHeight <= 0 {
		return Ratio{}
	}
	return Ratio{
		X: clamp01(px.X / canvasWidth),
		Y: clamp01(px.Y / canvasHeight),
	}
}

// RatioToCanvasPixel は相対座標をキャンバス上のピクセル位置へ戻します。
func RatioToCanvasPixel(r Ratio, canvasWidth, canvasHeight float64) Point {
	return Point{X: r.X * canvasWidth, Y: r.Y * canvasHeight}
}

// RatioToPDFPoint は相対座標をPDFポイントへ変換します。PDFは左下原点なので縦方向を反転します。
func RatioToPDFPoint(r Ratio, pageWidthPt, pageHeightPt float64) Point {
	return Point{
		X: r.X * pageWidthPt,
		Y: pageHeightPt - r.Y*pageHeightPt,
	}
}

// PDFPointToRatio は RatioToPDFPoint の逆変換です。
func PDFPointToRatio(p Point, pageWidthPt, pageHeightPt float64) Ratio {
	if pageWidthPt <= 0 || pageHeightPt <= 0 {
		return Ratio{}
	}
	return Ratio{
		X: p.X / pageWidthPt,
		Y: (pageHeightPt - p.Y) / pageHeightPt,
	}
}

// CanvasSize はズーム倍率で描画したときのピクセル寸法を返します。
func CanvasSize(page Size, zoom float64) Size {
	return Size{Width: page.Width * zoom, Height: page.Height * zoom}
}

// NormalizeRotation は90度単位の角度を [0,360) に正規化します。
func NormalizeRotation(deg int) int {
	r := deg % 360
	if r < 0 {
		r += 360
	}
	return r
}

// ViewToPage は /Rotate 適用後の表示上の相対座標を、回転前のページ空間の相対座標へ変換します。
// rotation は時計回りの角度です。
func ViewToPage(r Ratio, rotation int) Ratio {
	switch NormalizeRotation(rotation) {
	case 90:
		return Ratio{X: r.Y, Y: 1 - r.X}
	case 180:
		return Ratio{X: 1 - r.X, Y: 1 - r.Y}
	case 270:
		return Ratio{X: 1 - r.Y, Y: r.X}
	default:
		return r
	}
}

// PageToView は ViewToPage の逆変換です。
func PageToView(r Ratio, rotation int) Ratio {
	switch NormalizeRotation(rotation) {
	case 90:
		return Ratio{X: 1 - r.Y, Y: r.X}
	case 180:
		return Ratio{X: 1 - r.X, Y: 1 - r.Y}
	case 270:
		return Ratio{X: r.Y, Y: 1 - r.X}
	default:
		return r
	}
}

// ClampRatio は各成分を [0,1] に収めます。
func ClampRatio(r Ratio) Ratio {
	return Ratio{X: clamp01(r.X), Y: clamp01(r.Y)}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
