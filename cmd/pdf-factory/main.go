// Package main は pdf-factory コマンドのエントリーポイントです。
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/ChonangRai/tool-factory/internal/cli"
)

func main() {
	app := cli.New()

	if err := app.Execute(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
