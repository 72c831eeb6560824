package cli

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// parseRotations は "N=度" 形式の指定を入力ごとの回転へ変換します。N は1始まりです。
func parseRotations(flags []string, count int) ([]int, error) {
	rotations := make([]int, count)
	for _, f := range flags {
		idx, deg, ok := strings.Cut(f, "=")
		if !ok {
			return nil, fmt.Errorf("--rotate は N=度 の形式で指定してください: %q", f)
		}
		n, err := strconv.Atoi(strings.TrimSpace(idx))
		if err != nil || n < 1 || n > count {
			return nil, fmt.Errorf("--rotate の番号は1〜%dで指定してください: %q", count, f)
		}
		d, err := strconv.Atoi(strings.TrimSpace(deg))
		if err != nil {
			return nil, fmt.Errorf("--rotate の角度が数値ではありません: %q", f)
		}
		if err := validateRotation(d); err != nil {
			return nil, err
		}
		rotations[n-1] = pdf.NormalizeRotation(rotations[n-1] + d)
	}
	return rotations, nil
}

func validateRotation(deg int) error {
	if deg%90 != 0 {
		return fmt.Errorf("回転角度は90度単位で指定してください: %d", deg)
	}
	return nil
}

func parseFloats(s string, n int) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != n {
		return nil, fmt.Errorf("%d個の数値をカンマ区切りで指定してください: %q", n, s)
	}
	values := make([]float64, n)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("数値ではありません: %q", p)
		}
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("座標は0〜1の比率で指定してください: %q", p)
		}
		values[i] = v
	}
	return values, nil
}

func parseRect(s string) (pdf.RectangleAnnotation, error) {
	v, err := parseFloats(s, 4)
	if err != nil {
		return pdf.RectangleAnnotation{}, fmt.Errorf("--rect: %w", err)
	}
	rect := pdf.RectangleBetween(pdf.Ratio{X: v[0], Y: v[1]}, pdf.Ratio{X: v[0] + v[2], Y: v[1] + v[3]})
	if rect.Empty() {
		return pdf.RectangleAnnotation{}, fmt.Errorf("--rect: 幅と高さは0より大きくしてください: %q", s)
	}
	return rect, nil
}

func parseText(s string, fontSize float64) (pdf.TextAnnotation, error) {
	parts := strings.SplitN(s, ",", 3)
	if len(parts) != 3 || strings.TrimSpace(parts[2]) == "" {
		return pdf.TextAnnotation{}, fmt.Errorf("--text は x,y,内容 の形式で指定してください: %q", s)
	}
	v, err := parseFloats(parts[0]+","+parts[1], 2)
	if err != nil {
		return pdf.TextAnnotation{}, fmt.Errorf("--text: %w", err)
	}
	return pdf.TextAnnotation{Origin: pdf.Ratio{X: v[0], Y: v[1]}, Content: parts[2], FontSize: fontSize}, nil
}

// parseAnnotations は矩形、テキストの順に注釈を組み立てます。
func parseAnnotations(rects, texts []string, fontSize float64) ([]pdf.Annotation, error) {
	if len(rects)+len(texts) == 0 {
		return nil, fmt.Errorf("--rect または --text を1つ以上指定してください")
	}
	if fontSize < 0 {
		return nil, fmt.Errorf("--font-size は0以上で指定してください")
	}
	anns := make([]pdf.Annotation, 0, len(rects)+len(texts))
	for _, r := range rects {
		rect, err := parseRect(r)
		if err != nil {
			return nil, err
		}
		anns = append(anns, rect)
	}
	for _, t := range texts {
		text, err := parseText(t, fontSize)
		if err != nil {
			return nil, err
		}
		anns = append(anns, text)
	}
	return anns, nil
}

func trimPDFExt(name string) string {
	ext := filepath.Ext(name)
	if strings.EqualFold(ext, ".pdf") {
		return strings.TrimSuffix(name, ext)
	}
	return name
}
