// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// セッション設定
	SessionSecret        string // セッション署名用の秘密鍵
	WorkspaceIdleMinutes int    // 作業セットを破棄するまでの無操作時間（分）

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ファイル制限
	MaxFileSize      int64 // 単一ファイルの最大サイズ（バイト）
	MaxPages         int   // 単一ファイルの最大ページ数
	MaxItems         int   // 作業セットの最大項目数
	JobExpireMinutes int   // ジョブの有効期限（分）

	// 描画設定
	RenderConcurrency int     // サムネイル描画の同時実行数
	ThumbnailZoom     float64 // サムネイルの既定倍率
	EditorZoom        float64 // 編集画面の背景の既定倍率

	// ジョブ/キュー設定
	QueueRedisURL       string // Asynq用Redis接続URL
	AsyncThresholdBytes int64  // 同期処理から非同期へ切り替えるサイズ閾値
	AsyncThresholdPages int    // 同期処理から非同期へ切り替えるページ閾値
	JobResultBaseURL    string // 結果ファイル取得用のベースURL
	JobWorkDir          string // ジョブ作業ディレクトリ

	// GCP設定（本番環境用）
	GCPProject       string // GCPプロジェクトID
	GCSBucket        string // 成果物を公開するGoogle Cloud Storageバケット名（空なら公開しない）
	ServiceAccount   string // サービスアカウント鍵ファイルのパス
	SignedURLMinutes int    // 署名URLの有効期限（分）

	// ログ設定
	LogLevel  string // trace, debug, info, warn, error
	LogFormat string // json, console
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		SessionSecret:        getEnv("SESSION_SECRET", ""),
		WorkspaceIdleMinutes: getEnvAsInt("WORKSPACE_IDLE_MINUTES", 60),

		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		MaxFileSize:      getEnvAsInt64("MAX_FILE_SIZE", 104857600), // 100MB
		MaxPages:         getEnvAsInt("MAX_PAGES", 200),
		MaxItems:         getEnvAsInt("MAX_ITEMS", 500),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),

		RenderConcurrency: getEnvAsInt("RENDER_CONCURRENCY", 8),
		ThumbnailZoom:     getEnvAsFloat("THUMBNAIL_ZOOM", 0.5),
		EditorZoom:        getEnvAsFloat("EDITOR_ZOOM", 1.5),

		QueueRedisURL:       getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		AsyncThresholdBytes: getEnvAsInt64("ASYNC_THRESHOLD_BYTES", 50*1024*1024), // 50MB
		AsyncThresholdPages: getEnvAsInt("ASYNC_THRESHOLD_PAGES", 120),
		JobResultBaseURL:    getEnv("JOB_RESULT_BASE_URL", ""),
		JobWorkDir:          getEnv("JOB_WORKDIR", filepath.Join(os.TempDir(), "tool-factory")),

		GCPProject:       getEnv("GCP_PROJECT", ""),
		GCSBucket:        getEnv("GCS_BUCKET", ""),
		ServiceAccount:   getEnv("SERVICE_ACCOUNT", ""),
		SignedURLMinutes: getEnvAsInt("SIGNED_URL_MINUTES", 15),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	if c.RenderConcurrency < 1 {
		return fmt.Errorf("RENDER_CONCURRENCY must be positive")
	}
	if c.ThumbnailZoom <= 0 || c.EditorZoom <= 0 {
		return fmt.Errorf("THUMBNAIL_ZOOM and EDITOR_ZOOM must be positive")
	}

	// 本番環境では厳格にチェックする
	if c.GinMode == "release" {
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if len(c.SessionSecret) < 32 {
			return fmt.Errorf("SESSION_SECRET must be at least 32 bytes in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します。
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}
