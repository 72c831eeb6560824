package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/felixgeelhaar/fortify/retry"
	"google.golang.org/api/option"
)

// GCSConfig は GCS 実装の設定です。
type GCSConfig struct {
	Bucket          string
	ProjectID       string
	CredentialsFile string // 空の場合は Application Default Credentials を使う
	Prefix          string
	MaxAttempts     int
}

// GCS は Google Cloud Storage へ保存する Storage 実装です。
type GCS struct {
	client  *gcs.Client
	bucket  string
	prefix  string
	retrier retry.Retry[struct{}]
}

// NewGCS は GCS クライアントを作成します。
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("storage: bucket is required")
	}
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}

	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = 3
	}
	return &GCS{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   attempts,
			InitialDelay:  200 * time.Millisecond,
			BackoffPolicy: retry.BackoffExponential,
			Multiplier:    2.0,
		}),
	}, nil
}

// Close はクライアントを閉じます。
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) object(key string) (*gcs.ObjectHandle, string, error) {
	cleaned, err := CleanKey(key)
	if err != nil {
		return nil, "", err
	}
	name := cleaned
	if g.prefix != "" {
		name = g.prefix + "/" + cleaned
	}
	return g.client.Bucket(g.bucket).Object(name), name, nil
}

// Save はオブジェクトをアップロードします。失敗時は指数バックオフで再試行します。
// 再試行のため r は一度メモリへ読み込みます。
func (g *GCS) Save(ctx context.Context, key string, r io.Reader, contentType string) error {
	obj, _, err := g.object(key)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("アップロード内容の読み込みに失敗しました: %w", err)
	}

	_, err = g.retrier.Do(ctx, func(ctx context.Context) (struct{}, error) {
		w := obj.NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		if _, err := w.Write(data); err != nil {
			w.Close()
			return struct{}{}, fmt.Errorf("failed to write object: %w", err)
		}
		if err := w.Close(); err != nil {
			return struct{}{}, fmt.Errorf("failed to finalize object: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// Open はオブジェクトを読み込むリーダーを返します。
func (g *GCS) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, _, err := g.object(key)
	if err != nil {
		return nil, err
	}
	reader, err := obj.NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create object reader: %w", err)
	}
	return reader, nil
}

// Delete はオブジェクトを削除します。存在しない場合は何もしません。
func (g *GCS) Delete(ctx context.Context, key string) error {
	obj, _, err := g.object(key)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// SignedURL は GET 用の署名付きURLを生成します。
func (g *GCS) SignedURL(_ context.Context, key string, expiry time.Duration) (string, error) {
	_, name, err := g.object(key)
	if err != nil {
		return "", err
	}
	url, err := g.client.Bucket(g.bucket).SignedURL(name, &gcs.SignedURLOptions{
		Method:  http.MethodGet,
		Expires: time.Now().Add(expiry),
		Scheme:  gcs.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return url, nil
}
