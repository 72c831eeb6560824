package pdf

import (
	"bytes"
	"context"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

// BakeRotation は全ページの /Rotate に deg を加算した新しい文書を返します。
// deg が0のときは入力の複製を返します。
func BakeRotation(ctx context.Context, document []byte, deg int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	deg = NormalizeRotation(deg)
	if deg%90 != 0 {
		return nil, NewInvalidInput("回転角度は90度単位で指定してください。")
	}
	if _, err := readContext(document); err != nil {
		return nil, decodeError("", err)
	}
	if deg == 0 {
		return bytes.Clone(document), nil
	}

	var out bytes.Buffer
	if err := pdfapi.Rotate(bytes.NewReader(document), &out, deg, nil, newConfig()); err != nil {
		return nil, decodeError("", err)
	}
	return out.Bytes(), nil
}
