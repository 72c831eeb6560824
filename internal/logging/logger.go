// Package logging は bolt による構造化ログを提供します。
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/bolt/v3"
)

var (
	defaultLogger *bolt.Logger
	once          sync.Once
)

// Config はロガーの設定です。
type Config struct {
	// Level は出力する最小レベルです(trace, debug, info, warn, error)。
	Level string
	// Format は出力形式です(json または console)。
	Format string
	// Output は出力先です。nil のときは標準出力です。
	Output io.Writer
}

// DefaultConfig は開発用の設定を返します。
func DefaultConfig() Config {
	return Config{Level: "info", Format: "console", Output: os.Stdout}
}

func parseLevel(s string) bolt.Level {
	switch s {
	case "trace":
		return bolt.TRACE
	case "debug":
		return bolt.DEBUG
	case "info":
		return bolt.INFO
	case "warn":
		return bolt.WARN
	case "error":
		return bolt.ERROR
	default:
		return bolt.INFO
	}
}

// New は設定に従ってロガーを生成します。
func New(config Config) *bolt.Logger {
	output := config.Output
	if output == nil {
		output = os.Stdout
	}
	var handler bolt.Handler
	if config.Format == "json" {
		handler = bolt.NewJSONHandler(output)
	} else {
		handler = bolt.NewConsoleHandler(output)
	}
	return bolt.New(handler).SetLevel(parseLevel(config.Level))
}

// Init は既定のロガーを初期化します。2回目以降の呼び出しは無視されます。
func Init(config Config) {
	once.Do(func() {
		defaultLogger = New(config)
	})
}

// Get は既定のロガーを返します。未初期化なら DefaultConfig で初期化します。
func Get() *bolt.Logger {
	Init(DefaultConfig())
	return defaultLogger
}

// Discard は出力を捨てるロガーを返します。テストやCLIの静音モードで使います。
func Discard() *bolt.Logger {
	return New(Config{Level: "error", Format: "json", Output: io.Discard})
}
