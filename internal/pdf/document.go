package pdf

import (
	"bytes"
	"context"
	"fmt"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// PageGeometry はページの可視領域と回転です。
// Origin と Box は CropBox(なければ MediaBox)の左下座標と回転前の寸法、Rotate は /Rotate の正規化済み値です。
type PageGeometry struct {
	Origin Point `json:"origin"`
	Box    Size  `json:"box"`
	Rotate int   `json:"rotate"`
}

// DisplaySize は回転を考慮した表示上の寸法を返します。
func (g PageGeometry) DisplaySize() Size {
	if g.Rotate == 90 || g.Rotate == 270 {
		return Size{Width: g.Box.Height, Height: g.Box.Width}
	}
	return g.Box
}

// DocumentInfo は文書の基本情報です。
type DocumentInfo struct {
	Pages     int          `json:"pages"`
	FirstPage PageGeometry `json:"firstPage"`
}

func newConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// readContext はバイト列を解析・検証して pdfcpu のコンテキストを返します。
func readContext(document []byte) (*model.Context, error) {
	if len(document) == 0 {
		return nil, fmt.Errorf("empty document")
	}
	ctx, err := pdfapi.ReadContext(bytes.NewReader(document), newConfig())
	if err != nil {
		return nil, err
	}
	if err := pdfapi.ValidateContext(ctx); err != nil {
		return nil, err
	}
	if ctx.PageCount < 1 {
		return nil, fmt.Errorf("document has no pages")
	}
	return ctx, nil
}

func writeContext(ctx *model.Context) ([]byte, error) {
	var buf bytes.Buffer
	if err := pdfapi.WriteContext(ctx, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func pageGeometry(ctx *model.Context, pageNr int) (PageGeometry, error) {
	_, _, inh, err := ctx.PageDict(pageNr, false)
	if err != nil {
		return PageGeometry{}, err
	}
	if inh == nil {
		return PageGeometry{}, fmt.Errorf("page %d: missing attributes", pageNr)
	}
	box := inh.CropBox
	if box == nil {
		box = inh.MediaBox
	}
	if box == nil {
		return PageGeometry{}, fmt.Errorf("page %d: missing MediaBox", pageNr)
	}
	return geometryFromBox(box, inh.Rotate), nil
}

func geometryFromBox(box *types.Rectangle, rotate int) PageGeometry {
	return PageGeometry{
		Origin: Point{X: box.LL.X, Y: box.LL.Y},
		Box:    Size{Width: box.Width(), Height: box.Height()},
		Rotate: NormalizeRotation(rotate),
	}
}

// Inspect は文書を解析し、ページ数と先頭ページの寸法を返します。
func Inspect(ctx context.Context, document []byte) (*DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pctx, err := readContext(document)
	if err != nil {
		return nil, decodeError("", err)
	}
	geom, err := pageGeometry(pctx, 1)
	if err != nil {
		return nil, decodeError("", err)
	}
	return &DocumentInfo{Pages: pctx.PageCount, FirstPage: geom}, nil
}

// PageRotations は各ページの /Rotate を返します。
func PageRotations(document []byte) ([]int, error) {
	pctx, err := readContext(document)
	if err != nil {
		return nil, decodeError("", err)
	}
	rotations := make([]int, pctx.PageCount)
	for i := range rotations {
		geom, err := pageGeometry(pctx, i+1)
		if err != nil {
			return nil, decodeError("", err)
		}
		rotations[i] = geom.Rotate
	}
	return rotations, nil
}

// PageSizes は各ページの回転前の寸法を返します。
func PageSizes(document []byte) ([]Size, error) {
	pctx, err := readContext(document)
	if err != nil {
		return nil, decodeError("", err)
	}
	sizes := make([]Size, pctx.PageCount)
	for i := range sizes {
		geom, err := pageGeometry(pctx, i+1)
		if err != nil {
			return nil, decodeError("", err)
		}
		sizes[i] = geom.Box
	}
	return sizes, nil
}
