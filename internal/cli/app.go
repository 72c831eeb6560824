// Package cli は作業セットの操作をコマンドラインから実行する pdf-factory コマンドを提供します。
package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/spf13/cobra"

	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/storage"
)

// Version はビルド時に設定されます。
var Version = "dev"

// App は CLI アプリケーションです。
type App struct {
	root    *cobra.Command
	stdout  io.Writer
	stderr  io.Writer
	verbose bool
}

// New は CLI アプリケーションを生成します。
func New() *App {
	app := &App{
		stdout: os.Stdout,
		stderr: os.Stderr,
	}

	app.root = &cobra.Command{
		Use:   "pdf-factory",
		Short: "PDFの結合・分割・回転・注釈をまとめて行うツール",
		Long: `pdf-factory はブラウザ版と同じ処理エンジンでPDFを結合・分割・アーカイブし、
ページの描画や注釈の焼き込みを行います。`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "処理ログを標準エラーへ出力する")

	app.root.AddCommand(
		app.newVersionCmd(),
		app.newInfoCmd(),
		app.newMergeCmd(),
		app.newSplitCmd(),
		app.newPackCmd(),
		app.newRenderCmd(),
		app.newAnnotateCmd(),
	)
	return app
}

// WithOutput は出力先を差し替えます。
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute はコマンドを実行します。
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs は引数を指定して実行します。
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "バージョンを表示する",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "pdf-factory version %s\n", Version)
		},
	}
}

func (a *App) logger() *bolt.Logger {
	if !a.verbose {
		return logging.Discard()
	}
	return logging.New(logging.Config{Level: "debug", Format: "console", Output: a.stderr})
}

// writeOutput は出力ファイルを保存します。保存先ディレクトリは必要に応じて作成されます。
func writeOutput(ctx context.Context, path string, data []byte, contentType string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	store, err := storage.NewLocal(filepath.Dir(abs))
	if err != nil {
		return err
	}
	return store.Save(ctx, filepath.Base(abs), bytes.NewReader(data), contentType)
}

func readInput(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s を読み込めませんでした: %w", path, err)
	}
	return data, nil
}
