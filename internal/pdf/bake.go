package pdf

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/text/encoding/charmap"
)

const (
	fontResourcePrefix  = "TFHelv"
	stateResourcePrefix = "TFGS"
	lineSpacing         = 1.2
)

// Bake は先頭ページの内容ストリームに注釈を追記した新しい文書を返します。
// 注釈の座標は表示上(/Rotate 適用後)の相対座標として解釈されます。
func Bake(ctx context.Context, document []byte, annotations []Annotation) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pctx, err := readContext(document)
	if err != nil {
		return nil, decodeError("", err)
	}

	pageDict, _, inh, err := pctx.PageDict(1, true)
	if err != nil {
		return nil, decodeError("", err)
	}
	if pageDict == nil {
		return nil, decodeError("", fmt.Errorf("page 1: missing page dictionary"))
	}
	geom, err := pageGeometry(pctx, 1)
	if err != nil {
		return nil, decodeError("", err)
	}

	if len(annotations) > 0 {
		var inherited types.Dict
		if inh != nil {
			inherited = inh.Resources
		}
		res, err := pageResources(pctx, pageDict, inherited)
		if err != nil {
			return nil, decodeError("", err)
		}
		fontName, err := addResource(pctx, res, "Font", fontResourcePrefix, helveticaFont())
		if err != nil {
			return nil, decodeError("", err)
		}
		stateName, err := addResource(pctx, res, "ExtGState", stateResourcePrefix, fillOpacityState())
		if err != nil {
			return nil, decodeError("", err)
		}

		ops, err := annotationOps(geom, annotations, fontName, stateName)
		if err != nil {
			return nil, err
		}
		if err := appendContent(pctx, pageDict, ops); err != nil {
			return nil, decodeError("", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := writeContext(pctx)
	if err != nil {
		return nil, decodeError("", err)
	}
	return out, nil
}

func helveticaFont() types.Dict {
	return types.Dict{
		"Type":     types.Name("Font"),
		"Subtype":  types.Name("Type1"),
		"BaseFont": types.Name("Helvetica"),
		"Encoding": types.Name("WinAnsiEncoding"),
	}
}

func fillOpacityState() types.Dict {
	return types.Dict{
		"Type": types.Name("ExtGState"),
		"ca":   types.Float(RectangleFillOpacity),
		"CA":   types.Float(1),
	}
}

// pageResources はページ専用の Resources 辞書を用意します。共有されている辞書は複製してから差し替えます。
func pageResources(pctx *model.Context, pageDict, inherited types.Dict) (types.Dict, error) {
	source := inherited
	if obj, found := pageDict.Find("Resources"); found {
		d, err := pctx.DereferenceDict(obj)
		if err != nil {
			return nil, err
		}
		source = d
	}
	res := copyDict(source)
	pageDict.Update("Resources", res)
	return res, nil
}

// addResource は res[category] に obj を間接オブジェクトとして追加し、衝突しない名前を返します。
func addResource(pctx *model.Context, res types.Dict, category, prefix string, obj types.Dict) (string, error) {
	var existing types.Dict
	if o, found := res.Find(category); found {
		d, err := pctx.DereferenceDict(o)
		if err != nil {
			return "", err
		}
		existing = d
	}
	sub := copyDict(existing)

	name := prefix
	for i := 1; ; i++ {
		if _, taken := sub[name]; !taken {
			break
		}
		name = prefix + strconv.Itoa(i)
	}

	ref, err := pctx.IndRefForNewObject(obj)
	if err != nil {
		return "", err
	}
	sub.Insert(name, *ref)
	res.Update(category, sub)
	return name, nil
}

// appendContent は既存の内容を q/Q で囲み、その後ろに ops を追加します。
func appendContent(pctx *model.Context, pageDict types.Dict, ops []byte) error {
	var existing types.Array
	if obj, found := pageDict.Find("Contents"); found {
		switch c := obj.(type) {
		case types.IndirectRef:
			o, err := pctx.Dereference(c)
			if err != nil {
				return err
			}
			if arr, ok := o.(types.Array); ok {
				existing = append(existing, arr...)
			} else if o != nil {
				existing = types.Array{c}
			}
		case types.Array:
			existing = append(existing, c...)
		}
	}

	contents := make(types.Array, 0, len(existing)+2)
	if len(existing) > 0 {
		pre, err := newContentStream(pctx, []byte("q\n"))
		if err != nil {
			return err
		}
		contents = append(contents, *pre)
		contents = append(contents, existing...)
		ops = append([]byte("Q\n"), ops...)
	}
	post, err := newContentStream(pctx, ops)
	if err != nil {
		return err
	}
	contents = append(contents, *post)
	pageDict.Update("Contents", contents)
	return nil
}

func newContentStream(pctx *model.Context, buf []byte) (*types.IndirectRef, error) {
	sd, err := pctx.NewStreamDictForBuf(buf)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return pctx.IndRefForNewObject(*sd)
}

func annotationOps(geom PageGeometry, annotations []Annotation, fontName, stateName string) ([]byte, error) {
	var b bytes.Buffer
	for _, a := range annotations {
		switch v := a.(type) {
		case RectangleAnnotation:
			writeRectangle(&b, geom, v, stateName)
		case TextAnnotation:
			writeText(&b, geom, v, fontName)
		default:
			return nil, NewInvalidOperation(fmt.Sprintf("未対応の注釈です: %v", a.Kind()))
		}
	}
	return b.Bytes(), nil
}

// pagePoint は表示上の相対座標をページ空間のポイントへ変換します。
func (g PageGeometry) pagePoint(view Ratio) Point {
	u := ViewToPage(ClampRatio(view), g.Rotate)
	p := RatioToPDFPoint(u, g.Box.Width, g.Box.Height)
	return Point{X: g.Origin.X + p.X, Y: g.Origin.Y + p.Y}
}

func writeRectangle(b *bytes.Buffer, geom PageGeometry, r RectangleAnnotation, stateName string) {
	if r.Empty() {
		return
	}
	a := geom.pagePoint(r.Origin)
	c := geom.pagePoint(Ratio{X: r.Origin.X + r.Size.Width, Y: r.Origin.Y + r.Size.Height})
	x, y := math.Min(a.X, c.X), math.Min(a.Y, c.Y)
	w, h := math.Abs(c.X-a.X), math.Abs(c.Y-a.Y)

	fmt.Fprintf(b, "q\n/%s gs\n1 0 0 rg\n1 0 0 RG\n%s w\n", stateName, num(RectangleBorderWidth))
	fmt.Fprintf(b, "%s %s %s %s re\nB\nQ\n", num(x), num(y), num(w), num(h))
}

func writeText(b *bytes.Buffer, geom PageGeometry, t TextAnnotation, fontName string) {
	lines := strings.Split(strings.ReplaceAll(t.Content, "\r\n", "\n"), "\n")
	if strings.TrimSpace(t.Content) == "" {
		return
	}
	size := t.EffectiveFontSize()
	origin := geom.pagePoint(t.Origin)
	rad := float64(geom.Rotate) * math.Pi / 180
	cos, sin := math.Round(math.Cos(rad)), math.Round(math.Sin(rad))

	fmt.Fprintf(b, "q\n1 0 0 rg\nBT\n/%s %s Tf\n%s TL\n", fontName, num(size), num(size*lineSpacing))
	fmt.Fprintf(b, "%s %s %s %s %s %s Tm\n", num(cos), num(sin), num(-sin), num(cos), num(origin.X), num(origin.Y))
	for i, line := range lines {
		if i > 0 {
			b.WriteString("T*\n")
		}
		fmt.Fprintf(b, "(%s) Tj\n", encodeWinAnsi(line))
	}
	b.WriteString("ET\nQ\n")
}

// encodeWinAnsi は文字列を WinAnsiEncoding のリテラル文字列本体へ変換します。表現できない文字は '?' になります。
func encodeWinAnsi(s string) string {
	var b strings.Builder
	for _, r := range s {
		c, ok := charmap.Windows1252.EncodeRune(r)
		if !ok {
			c = '?'
		}
		switch {
		case c == '(' || c == ')' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c > 0x7e:
			fmt.Fprintf(&b, "\\%03o", c)
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 3, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "-0" || s == "" {
		return "0"
	}
	return s
}

func copyDict(d types.Dict) types.Dict {
	cp := types.NewDict()
	for k, v := range d {
		cp[k] = v
	}
	return cp
}
