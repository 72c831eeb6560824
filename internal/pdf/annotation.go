package pdf

import "math"

// AnnotationKind は注釈の種別です。
type AnnotationKind string

const (
	AnnotationText      AnnotationKind = "text"
	AnnotationRectangle AnnotationKind = "rectangle"
)

// 注釈の固定スタイル。
const (
	// DefaultFontSize はテキスト注釈のPDF上の文字サイズ(pt)です。ズームには依存しません。
	DefaultFontSize = 20.0
	// RectangleFillOpacity は矩形の塗りの不透明度です。
	RectangleFillOpacity = 0.3
	// RectangleBorderWidth は矩形の枠線の太さ(pt)です。
	RectangleBorderWidth = 2.0
)

// Annotation はテキストまたは矩形の注釈です。実装はこのパッケージ内の型に限られます。
type Annotation interface {
	Kind() AnnotationKind
	sealed()
}

// TextAnnotation はクリック位置に置かれるテキストです。Origin はベースラインの左端です。
type TextAnnotation struct {
	Origin   Ratio   `json:"origin"`
	Content  string  `json:"content"`
	FontSize float64 `json:"fontSize,omitempty"` // 0 のとき DefaultFontSize
}

// Kind implements Annotation.
func (TextAnnotation) Kind() AnnotationKind { return AnnotationText }

func (TextAnnotation) sealed() {}

// EffectiveFontSize は実際に描画する文字サイズを返します。
func (t TextAnnotation) EffectiveFontSize() float64 {
	if t.FontSize <= 0 {
		return DefaultFontSize
	}
	return t.FontSize
}

// RectangleAnnotation はドラッグで描かれる矩形です。Origin は表示上の左上です。
type RectangleAnnotation struct {
	Origin Ratio     `json:"origin"`
	Size   RatioSize `json:"size"`
}

// Kind implements Annotation.
func (RectangleAnnotation) Kind() AnnotationKind { return AnnotationRectangle }

func (RectangleAnnotation) sealed() {}

// Empty は面積が0の矩形かどうかを返します。
func (r RectangleAnnotation) Empty() bool {
	return r.Size.Width <= 0 || r.Size.Height <= 0
}

// RectangleBetween は2点を対角とする矩形を返します。幅と高さは常に非負です。
func RectangleBetween(a, b Ratio) RectangleAnnotation {
	a, b = ClampRatio(a), ClampRatio(b)
	return RectangleAnnotation{
		Origin: Ratio{X: math.Min(a.X, b.X), Y: math.Min(a.Y, b.Y)},
		Size: RatioSize{
			Width:  math.Abs(b.X - a.X),
			Height: math.Abs(b.Y - a.Y),
		},
	}
}

// AnnotationDTO は注釈のJSON表現です。
type AnnotationDTO struct {
	Kind     AnnotationKind `json:"kind"`
	Origin   Ratio          `json:"origin"`
	Size     *RatioSize     `json:"size,omitempty"`
	Content  string         `json:"content,omitempty"`
	FontSize float64        `json:"fontSize,omitempty"`
}

// ToDTO は注釈をJSON表現へ変換します。
func ToDTO(a Annotation) AnnotationDTO {
	switch v := a.(type) {
	case TextAnnotation:
		return AnnotationDTO{Kind: AnnotationText, Origin: v.Origin, Content: v.Content, FontSize: v.EffectiveFontSize()}
	case RectangleAnnotation:
		size := v.Size
		return AnnotationDTO{Kind: AnnotationRectangle, Origin: v.Origin, Size: &size}
	default:
		return AnnotationDTO{Kind: a.Kind()}
	}
}
