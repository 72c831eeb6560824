package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/ChonangRai/tool-factory/internal/pdf/pdftest"
)

var cmpSortStrings = cmpopts.SortSlices(func(a, b string) bool { return a < b })

type pageSummary struct {
	Width  float64
	Rotate int
}

func summarize(t *testing.T, document []byte) []pageSummary {
	t.Helper()
	pctx, err := readContext(document)
	if err != nil {
		t.Fatalf("readContext returned error: %v", err)
	}
	pages := make([]pageSummary, pctx.PageCount)
	for i := range pages {
		geom, err := pageGeometry(pctx, i+1)
		if err != nil {
			t.Fatalf("pageGeometry(%d) returned error: %v", i+1, err)
		}
		pages[i] = pageSummary{Width: geom.Box.Width, Rotate: geom.Rotate}
	}
	return pages
}

func TestInspect(t *testing.T) {
	doc := pdftest.Build(pdftest.Page{Width: 200, Height: 300, Rotate: 90}, pdftest.A4)
	info, err := Inspect(context.Background(), doc)
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Pages != 2 {
		t.Fatalf("Pages = %d, want 2", info.Pages)
	}
	want := PageGeometry{Box: Size{Width: 200, Height: 300}, Rotate: 90}
	if diff := cmp.Diff(want, info.FirstPage); diff != "" {
		t.Fatalf("FirstPage mismatch (-want +got):\n%s", diff)
	}
	if got := info.FirstPage.DisplaySize(); got != (Size{Width: 300, Height: 200}) {
		t.Fatalf("DisplaySize = %+v", got)
	}
}

func TestInspectDecodeError(t *testing.T) {
	_, err := Inspect(context.Background(), pdftest.Garbage())
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSplitCardinalityAndOrder(t *testing.T) {
	doc := pdftest.Build(
		pdftest.Page{Width: 101, Height: 300},
		pdftest.Page{Width: 102, Height: 300, Rotate: 90},
		pdftest.Page{Width: 103, Height: 300},
	)
	original := bytes.Clone(doc)

	var stages []int
	parts, err := Split(context.Background(), doc, func(_ string, p int) { stages = append(stages, p) })
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("len(parts) = %d, want 3", len(parts))
	}
	want := [][]pageSummary{
		{{Width: 101, Rotate: 0}},
		{{Width: 102, Rotate: 90}},
		{{Width: 103, Rotate: 0}},
	}
	for i, part := range parts {
		if diff := cmp.Diff(want[i], summarize(t, part)); diff != "" {
			t.Fatalf("part %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if !bytes.Equal(doc, original) {
		t.Fatal("Split mutated its input")
	}
	if stages[len(stages)-1] != 100 {
		t.Fatalf("last progress = %d, want 100", stages[len(stages)-1])
	}
}

func TestSplitDecodeError(t *testing.T) {
	if _, err := Split(context.Background(), pdftest.Garbage(), nil); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestSplitPartName(t *testing.T) {
	tests := map[string]string{
		"report.pdf":      "report-page-2.pdf",
		"dir/scan.v2.PDF": "scan.v2-page-2.pdf",
		"":                "document-page-2.pdf",
	}
	for in, want := range tests {
		if got := SplitPartName(in, 2); got != want {
			t.Errorf("SplitPartName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMergeOrderAndRotation(t *testing.T) {
	a := pdftest.Build(pdftest.Page{Width: 101, Height: 300}, pdftest.Page{Width: 102, Height: 300, Rotate: 90})
	b := pdftest.Build(pdftest.Page{Width: 201, Height: 300})
	c := pdftest.Build(pdftest.Page{Width: 301, Height: 300, Rotate: 270}, pdftest.Page{Width: 302, Height: 300})

	out, err := Merge(context.Background(), []Source{
		{ID: "a", Document: a, Rotation: 180},
		{ID: "b", Document: b},
		{ID: "c", Document: c, Rotation: 90},
	}, nil)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}

	want := []pageSummary{
		{Width: 101, Rotate: 180},
		{Width: 102, Rotate: 270},
		{Width: 201, Rotate: 0},
		{Width: 301, Rotate: 0},
		{Width: 302, Rotate: 90},
	}
	if diff := cmp.Diff(want, summarize(t, out)); diff != "" {
		t.Fatalf("merged pages mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeSingleSource(t *testing.T) {
	doc := pdftest.Build(pdftest.Page{Width: 150, Height: 300, Rotate: 90})
	out, err := Merge(context.Background(), []Source{{ID: "only", Document: doc, Rotation: 180}}, nil)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}
	if diff := cmp.Diff([]pageSummary{{Width: 150, Rotate: 270}}, summarize(t, out)); diff != "" {
		t.Fatalf("merged pages mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeReportsFailingItem(t *testing.T) {
	_, err := Merge(context.Background(), []Source{
		{ID: "good", Document: pdftest.Build(pdftest.A4)},
		{ID: "broken", Document: pdftest.Garbage()},
	}, nil)
	if !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	pe, ok := AsError(err)
	if !ok || pe.ItemID != "broken" {
		t.Fatalf("expected failing item id 'broken', got %#v", err)
	}
}

func TestMergeRequiresSources(t *testing.T) {
	if _, err := Merge(context.Background(), nil, nil); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("expected invalid operation, got %v", err)
	}
}

func TestMergeCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Merge(ctx, []Source{{ID: "a", Document: pdftest.Build(pdftest.A4)}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

// inheritedTree は MediaBox・回転・Resources を /Pages ノードから継承し、先頭ページだけ CropBox を持つ文書です。
func inheritedTree() []byte {
	return pdftest.BuildTree(
		pdftest.Tree{MediaBox: &pdftest.Box{0, 0, 400, 600}, Rotate: 90, Resources: true},
		pdftest.Page{CropBox: &pdftest.Box{100, 100, 300, 500}},
		pdftest.Page{},
	)
}

func geometries(t *testing.T, document []byte) []PageGeometry {
	t.Helper()
	pctx, err := readContext(document)
	if err != nil {
		t.Fatalf("readContext returned error: %v", err)
	}
	geoms := make([]PageGeometry, pctx.PageCount)
	for i := range geoms {
		if geoms[i], err = pageGeometry(pctx, i+1); err != nil {
			t.Fatalf("pageGeometry(%d) returned error: %v", i+1, err)
		}
	}
	return geoms
}

var (
	croppedRotated = PageGeometry{Origin: Point{X: 100, Y: 100}, Box: Size{Width: 200, Height: 400}, Rotate: 90}
	plainRotated   = PageGeometry{Box: Size{Width: 400, Height: 600}, Rotate: 90}
)

func TestInspectCropBoxAndInheritedAttributes(t *testing.T) {
	info, err := Inspect(context.Background(), inheritedTree())
	if err != nil {
		t.Fatalf("Inspect returned error: %v", err)
	}
	if info.Pages != 2 {
		t.Fatalf("Pages = %d, want 2", info.Pages)
	}
	if diff := cmp.Diff(croppedRotated, info.FirstPage); diff != "" {
		t.Fatalf("FirstPage mismatch (-want +got):\n%s", diff)
	}
	if got := info.FirstPage.DisplaySize(); got != (Size{Width: 400, Height: 200}) {
		t.Fatalf("DisplaySize = %+v", got)
	}
	if diff := cmp.Diff([]PageGeometry{croppedRotated, plainRotated}, geometries(t, inheritedTree())); diff != "" {
		t.Fatalf("geometries mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeComposesInheritedRotation(t *testing.T) {
	doc := inheritedTree()
	out, err := Merge(context.Background(), []Source{
		{ID: "a", Document: doc, Rotation: 180},
		{ID: "b", Document: doc},
	}, nil)
	if err != nil {
		t.Fatalf("Merge returned error: %v", err)
	}

	rotations, err := PageRotations(out)
	if err != nil {
		t.Fatalf("PageRotations returned error: %v", err)
	}
	if diff := cmp.Diff([]int{270, 270, 90, 90}, rotations); diff != "" {
		t.Fatalf("rotations mismatch (-want +got):\n%s", diff)
	}
	geoms := geometries(t, out)
	for _, i := range []int{0, 2} {
		if geoms[i].Origin != croppedRotated.Origin || geoms[i].Box != croppedRotated.Box {
			t.Fatalf("page %d lost its CropBox: %+v", i+1, geoms[i])
		}
	}
	for _, i := range []int{1, 3} {
		if geoms[i].Box != plainRotated.Box {
			t.Fatalf("page %d lost its inherited MediaBox: %+v", i+1, geoms[i])
		}
	}
}

func TestSplitKeepsInheritedAttributes(t *testing.T) {
	parts, err := Split(context.Background(), inheritedTree(), nil)
	if err != nil {
		t.Fatalf("Split returned error: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("len(parts) = %d, want 2", len(parts))
	}
	want := [][]PageGeometry{{croppedRotated}, {plainRotated}}
	for i, part := range parts {
		if diff := cmp.Diff(want[i], geometries(t, part)); diff != "" {
			t.Fatalf("part %d mismatch (-want +got):\n%s", i, diff)
		}
	}

	rotated, err := BakeRotation(context.Background(), parts[0], 270)
	if err != nil {
		t.Fatalf("BakeRotation returned error: %v", err)
	}
	if got := geometries(t, rotated)[0].Rotate; got != 0 {
		t.Fatalf("Rotate = %d, want 0", got)
	}
}

func TestBakeRotationAddsToIntrinsic(t *testing.T) {
	doc := pdftest.Build(pdftest.Page{Width: 120, Height: 300, Rotate: 90})
	out, err := BakeRotation(context.Background(), doc, 180)
	if err != nil {
		t.Fatalf("BakeRotation returned error: %v", err)
	}
	if got := summarize(t, out)[0].Rotate; got != 270 {
		t.Fatalf("Rotate = %d, want 270", got)
	}

	if _, err := BakeRotation(context.Background(), doc, 45); err == nil {
		t.Fatal("expected error for non right-angle rotation")
	}
}

func readZip(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip.NewReader returned error: %v", err)
	}
	entries := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatalf("open %s: %v", f.Name, err)
		}
		body, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatalf("read %s: %v", f.Name, err)
		}
		entries[f.Name] = body
	}
	return entries
}

func TestPackNamesAndRotation(t *testing.T) {
	plain := pdftest.Build(pdftest.Page{Width: 111, Height: 300})
	rotated := pdftest.Build(pdftest.Page{Width: 222, Height: 300})

	out, err := Pack(context.Background(), []Source{
		{ID: "1", Name: "scan.pdf", Document: plain},
		{ID: "2", Name: "scan.pdf", Document: rotated, Rotation: 90},
		{ID: "3", Name: "notes", Document: plain},
		{ID: "4", Name: "../../etc/SCAN.pdf", Document: plain},
	}, nil)
	if err != nil {
		t.Fatalf("Pack returned error: %v", err)
	}

	entries := readZip(t, out)
	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	wantNames := []string{"scan.pdf", "scan (2).pdf", "notes.pdf", "SCAN (3).pdf"}
	if diff := cmp.Diff(wantNames, names, cmpSortStrings); diff != "" {
		t.Fatalf("entry names mismatch (-want +got):\n%s", diff)
	}
	if !bytes.Equal(entries["scan.pdf"], plain) {
		t.Fatal("unrotated entry should be stored unchanged")
	}
	if got := summarize(t, entries["scan (2).pdf"]); got[0].Rotate != 90 || got[0].Width != 222 {
		t.Fatalf("rotated entry = %+v", got)
	}
}

func TestPackAbortsOnBrokenItem(t *testing.T) {
	_, err := Pack(context.Background(), []Source{
		{ID: "ok", Name: "a.pdf", Document: pdftest.Build(pdftest.A4)},
		{ID: "bad", Name: "b.pdf", Document: pdftest.Garbage()},
	}, nil)
	pe, ok := AsError(err)
	if !ok || pe.Code != CodeDecode || pe.ItemID != "bad" {
		t.Fatalf("expected decode error for 'bad', got %v", err)
	}
}
