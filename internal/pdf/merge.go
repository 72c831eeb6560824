// Package pdf はページ単位のPDF操作(描画・注釈の焼き込み・分割・結合・アーカイブ)を提供します。
// すべての関数はバイト列を受け取り新しいバイト列を返し、入力を書き換えません。
package pdf

import (
	"bytes"
	"context"
	"io"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// Source は結合・アーカイブの入力となる1項目です。
type Source struct {
	ID       string
	Name     string
	Document []byte
	// Rotation はまだ文書に反映されていない追加回転です。
	Rotation int
}

// Merge は sources を順に連結した1つの文書を返します。
// 各ページの回転は元の /Rotate に項目の Rotation を加えた値になります。
// いずれかの項目が解析できない場合は、その項目のIDを持つ DecodeError を返し、出力は生成しません。
func Merge(ctx context.Context, sources []Source, progress ProgressReporter) ([]byte, error) {
	if len(sources) == 0 {
		return nil, NewInvalidOperation("結合するページがありません。")
	}

	prepared, err := prepareSources(ctx, sources, progress, 60)
	if err != nil {
		return nil, err
	}

	if len(prepared) == 1 {
		reportProgress(progress, "write", 100)
		return prepared[0], nil
	}

	readers := make([]io.ReadSeeker, len(prepared))
	for i, doc := range prepared {
		readers[i] = bytes.NewReader(doc)
	}

	var out bytes.Buffer
	if err := pdfapi.MergeRaw(readers, &out, false, newConfig()); err != nil {
		return nil, decodeError("", err)
	}
	reportProgress(progress, "write", 100)
	return out.Bytes(), nil
}

// prepareSources は各項目を検証し、回転を反映した文書を返します。進捗は 0..upTo% の範囲で報告します。
func prepareSources(ctx context.Context, sources []Source, progress ProgressReporter, upTo int) ([][]byte, error) {
	prepared := make([][]byte, len(sources))
	for i, src := range sources {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		doc, err := BakeRotation(ctx, src.Document, src.Rotation)
		if err != nil {
			if pe, ok := AsError(err); ok {
				pe.ItemID = src.ID
				return nil, pe
			}
			return nil, err
		}
		prepared[i] = doc
		reportProgress(progress, "process", (upTo*(i+1))/len(sources))
	}
	return prepared, nil
}
