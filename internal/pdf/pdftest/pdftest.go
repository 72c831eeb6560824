// Package pdftest はテスト用の小さなPDFを生成します。
package pdftest

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// Box は PDF の矩形 [llx lly urx ury] です。
type Box [4]float64

func (b Box) String() string {
	return fmt.Sprintf("[%s %s %s %s]", num(b[0]), num(b[1]), num(b[2]), num(b[3]))
}

// Page は生成するページの定義です。ページの識別には幅を使うと便利です。
// BuildTree では幅と高さが0なら MediaBox を、Rotate が0なら回転を Tree から継承します。
type Page struct {
	Width   float64
	Height  float64
	Rotate  int
	CropBox *Box
}

// Tree はページツリーの /Pages ノードに置き、各ページが継承する属性です。
type Tree struct {
	MediaBox *Box
	CropBox  *Box
	Rotate   int
	// Resources が真なら /Resources を /Pages ノードだけに置きます。
	Resources bool
}

// A4 は回転なしのA4縦ページです。
var A4 = Page{Width: 595, Height: 842}

// Build は指定ページを持つPDFを生成します。各ページは左下に青い矩形を描きます。
func Build(pages ...Page) []byte {
	return BuildTree(Tree{}, pages...)
}

// BuildTree は tree の属性を /Pages ノードに置いたPDFを生成します。
func BuildTree(tree Tree, pages ...Page) []byte {
	if len(pages) == 0 {
		pages = []Page{A4}
	}

	var buf bytes.Buffer
	objCount := 2 + 2*len(pages)
	offsets := make([]int, objCount+1)

	writeObj := func(id int, body string) {
		offsets[id] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", id, body)
	}

	buf.WriteString("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n")
	writeObj(1, "<< /Type /Catalog /Pages 2 0 R >>")

	var kids bytes.Buffer
	for i := range pages {
		fmt.Fprintf(&kids, "%d 0 R ", 3+2*i)
	}
	writeObj(2, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d%s >>",
		bytes.TrimSpace(kids.Bytes()), len(pages), tree.attrs()))

	for i, p := range pages {
		pageID, contentID := 3+2*i, 4+2*i
		writeObj(pageID, fmt.Sprintf("<< /Type /Page /Parent 2 0 R%s /Contents %d 0 R >>",
			p.attrs(tree), contentID))
		content := "q 0 0 1 rg 10 10 20 20 re f Q"
		writeObj(contentID, fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", objCount+1)
	buf.WriteString("0000000000 65535 f \n")
	for id := 1; id <= objCount; id++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[id])
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", objCount+1, xref)
	return buf.Bytes()
}

func (t Tree) attrs() string {
	var b strings.Builder
	if t.MediaBox != nil {
		fmt.Fprintf(&b, " /MediaBox %s", t.MediaBox)
	}
	if t.CropBox != nil {
		fmt.Fprintf(&b, " /CropBox %s", t.CropBox)
	}
	if t.Rotate != 0 {
		fmt.Fprintf(&b, " /Rotate %d", t.Rotate)
	}
	if t.Resources {
		b.WriteString(" /Resources << /ProcSet [/PDF /Text] >>")
	}
	return b.String()
}

func (p Page) attrs(tree Tree) string {
	var b strings.Builder
	if p.Width != 0 || p.Height != 0 {
		fmt.Fprintf(&b, " /MediaBox %s", Box{0, 0, p.Width, p.Height})
	}
	if p.CropBox != nil {
		fmt.Fprintf(&b, " /CropBox %s", p.CropBox)
	}
	if p.Rotate != 0 || tree.Rotate == 0 {
		fmt.Fprintf(&b, " /Rotate %d", p.Rotate)
	}
	if !tree.Resources {
		b.WriteString(" /Resources << >>")
	}
	return b.String()
}

// Garbage はPDFとして解釈できないバイト列を返します。
func Garbage() []byte {
	return []byte("this is not a pdf document")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
