package pdf

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Pack は各項目を1エントリとするzipを返します。回転が残っている項目は焼き込んでから格納します。
// エントリ名は元のファイル名で、重複した場合は " (2)" のような連番を付けます。
func Pack(ctx context.Context, sources []Source, progress ProgressReporter) ([]byte, error) {
	if len(sources) == 0 {
		return nil, NewInvalidOperation("出力するページがありません。")
	}

	prepared, err := prepareSources(ctx, sources, progress, 70)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zipWriter := zip.NewWriter(&buf)
	names := newEntryNamer()
	modified := time.Now()

	for i, doc := range prepared {
		header := &zip.FileHeader{
			Name:     names.next(sources[i].Name),
			Method:   zip.Deflate,
			Modified: modified,
		}
		writer, err := zipWriter.CreateHeader(header)
		if err != nil {
			return nil, fmt.Errorf("zipヘッダーの書き込みに失敗しました: %w", err)
		}
		if _, err := writer.Write(doc); err != nil {
			return nil, fmt.Errorf("zipへの書き込みに失敗しました: %w", err)
		}
	}
	if err := zipWriter.Close(); err != nil {
		return nil, fmt.Errorf("zipの確定に失敗しました: %w", err)
	}
	reportProgress(progress, "write", 100)
	return buf.Bytes(), nil
}

type entryNamer struct {
	used map[string]struct{}
}

func newEntryNamer() *entryNamer {
	return &entryNamer{used: make(map[string]struct{})}
}

func (n *entryNamer) next(original string) string {
	name := sanitizeEntryName(original)
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := name
	for i := 2; ; i++ {
		key := strings.ToLower(candidate)
		if _, exists := n.used[key]; !exists {
			n.used[key] = struct{}{}
			return candidate
		}
		candidate = fmt.Sprintf("%s (%d)%s", base, i, ext)
	}
}

func sanitizeEntryName(original string) string {
	name := strings.ReplaceAll(original, "\\", "/")
	name = filepath.Base(name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == "/" || name == ".." {
		name = "document.pdf"
	}
	if !strings.EqualFold(filepath.Ext(name), ".pdf") {
		name += ".pdf"
	}
	return name
}
