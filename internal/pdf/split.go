package pdf

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Split は文書をページごとの単一ページ文書に分解します。各ページの内容と /Rotate はそのまま保持されます。
func Split(ctx context.Context, document []byte, progress ProgressReporter) ([][]byte, error) {
	pctx, err := readContext(document)
	if err != nil {
		return nil, decodeError("", err)
	}
	pageCount := pctx.PageCount

	parts := make([][]byte, 0, pageCount)
	for page := 1; page <= pageCount; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		var out bytes.Buffer
		if err := pdfapi.Collect(bytes.NewReader(document), &out, buildPageSelection(page), newConfig()); err != nil {
			return nil, decodeError("", fmt.Errorf("page %d: %w", page, err))
		}
		parts = append(parts, out.Bytes())
		reportProgress(progress, "split", (100*page)/pageCount)
	}
	return parts, nil
}

// SplitPartName は分割後の各ページのファイル名を返します(例: report-page-2.pdf)。
func SplitPartName(original string, page int) string {
	base := strings.TrimSuffix(filepath.Base(original), filepath.Ext(original))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "document"
	}
	return fmt.Sprintf("%s-page-%d.pdf", base, page)
}

func buildPageSelection(pages ...int) []string {
	selection := make([]string, 0, len(pages))
	for _, p := range pages {
		selection = append(selection, strconv.Itoa(p))
	}
	return selection
}
