// Package storage は成果物ファイルの保存先を抽象化します。
// 開発環境ではローカルディレクトリ、本番環境では Google Cloud Storage を使います。
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound は指定したキーのオブジェクトが存在しないことを表します。
var ErrNotFound = errors.New("storage: object not found")

// Storage は成果物の保存先です。キーは "/" 区切りの相対パスです。
type Storage interface {
	Save(ctx context.Context, key string, r io.Reader, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	// SignedURL は一時的なダウンロードURLを返します。署名に対応しない実装は空文字を返します。
	SignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// CleanKey はキーを正規化し、親ディレクトリへの脱出を拒否します。
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	cleaned := path.Clean("/" + key)
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" || cleaned == "." {
		return "", errors.New("storage: empty key")
	}
	return cleaned, nil
}
