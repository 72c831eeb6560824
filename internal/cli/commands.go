package cli

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

type mergeOptions struct {
	output    string
	rotations []string
}

func (a *App) newMergeCmd() *cobra.Command {
	opts := &mergeOptions{}
	cmd := &cobra.Command{
		Use:   "merge [flags] FILE...",
		Short: "PDFを指定順に1つへ結合する",
		Long: `入力ファイルを指定順に連結します。--rotate で入力ごとに回転を加えられます。

Examples:
  pdf-factory merge -o out.pdf a.pdf b.pdf
  pdf-factory merge -o out.pdf --rotate 2=90 a.pdf b.pdf`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := loadSources(args, opts.rotations)
			if err != nil {
				return err
			}
			started := time.Now()
			out, err := pdf.Merge(cmd.Context(), sources, a.progress("merge"))
			if err != nil {
				return err
			}
			output := defaultOutput(opts.output, export.OperationMerge)
			if err := writeOutput(cmd.Context(), output, out, export.ResultKindPDF.ContentType()); err != nil {
				return err
			}
			logging.Apply(a.logger().Info(), logging.Operation("merge"), logging.Count(len(sources)),
				logging.Duration(time.Since(started))).Msg("merged")
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "出力ファイル(省略時は pdf-factory-<時刻>.pdf)")
	cmd.Flags().StringArrayVar(&opts.rotations, "rotate", nil, "入力の回転 N=度 (Nは1始まり、度は90の倍数)")
	return cmd
}

type splitOptions struct {
	dir    string
	rotate int
}

func (a *App) newSplitCmd() *cobra.Command {
	opts := &splitOptions{}
	cmd := &cobra.Command{
		Use:   "split [flags] FILE",
		Short: "PDFを1ページずつのファイルに分割する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(args[0])
			if err != nil {
				return err
			}
			if err := validateRotation(opts.rotate); err != nil {
				return err
			}
			doc, err = pdf.BakeRotation(cmd.Context(), doc, opts.rotate)
			if err != nil {
				return err
			}
			parts, err := pdf.Split(cmd.Context(), doc, a.progress("split"))
			if err != nil {
				return err
			}
			name := filepath.Base(args[0])
			for i, part := range parts {
				path := filepath.Join(opts.dir, pdf.SplitPartName(name, i+1))
				if err := writeOutput(cmd.Context(), path, part, export.ResultKindPDF.ContentType()); err != nil {
					return err
				}
				fmt.Fprintln(a.stdout, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.dir, "output", "o", ".", "出力先ディレクトリ")
	cmd.Flags().IntVar(&opts.rotate, "rotate", 0, "分割前に加える回転(度)")
	return cmd
}

type packOptions struct {
	output    string
	rotations []string
}

func (a *App) newPackCmd() *cobra.Command {
	opts := &packOptions{}
	cmd := &cobra.Command{
		Use:   "pack [flags] FILE...",
		Short: "PDFを1つのZIPアーカイブにまとめる",
		Long: `入力ファイルをZIPにまとめます。同名のファイルには " (n)" を付けて区別します。
回転を指定したファイルは回転を反映した文書として格納します。`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sources, err := loadSources(args, opts.rotations)
			if err != nil {
				return err
			}
			out, err := pdf.Pack(cmd.Context(), sources, a.progress("pack"))
			if err != nil {
				return err
			}
			output := defaultOutput(opts.output, export.OperationArchive)
			if err := writeOutput(cmd.Context(), output, out, export.ResultKindZIP.ContentType()); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "出力ファイル(省略時は pdf-factory-files-<時刻>.zip)")
	cmd.Flags().StringArrayVar(&opts.rotations, "rotate", nil, "入力の回転 N=度 (Nは1始まり、度は90の倍数)")
	return cmd
}

type renderOptions struct {
	output string
	zoom   float64
	rotate int
}

func (a *App) newRenderCmd() *cobra.Command {
	opts := &renderOptions{}
	cmd := &cobra.Command{
		Use:   "render [flags] FILE",
		Short: "先頭ページをPNGに描画する",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			doc, err := readInput(args[0])
			if err != nil {
				return err
			}
			if err := validateRotation(opts.rotate); err != nil {
				return err
			}
			raster, err := pdf.NewFitzRenderer().Render(cmd.Context(), doc, opts.zoom)
			if err != nil {
				return err
			}
			data, err := pdf.RotateRaster(raster, opts.rotate).PNG()
			if err != nil {
				return err
			}
			output := opts.output
			if output == "" {
				output = trimPDFExt(filepath.Base(args[0])) + ".png"
			}
			if err := writeOutput(cmd.Context(), output, data, "image/png"); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "出力ファイル(省略時は <入力名>.png)")
	cmd.Flags().Float64Var(&opts.zoom, "zoom", 1, fmt.Sprintf("描画倍率(%g〜%g)", pdf.MinZoom, pdf.MaxZoom))
	cmd.Flags().IntVar(&opts.rotate, "rotate", 0, "描画後に加える回転(度)")
	return cmd
}

type annotateOptions struct {
	output   string
	rects    []string
	texts    []string
	fontSize float64
}

func (a *App) newAnnotateCmd() *cobra.Command {
	opts := &annotateOptions{}
	cmd := &cobra.Command{
		Use:   "annotate [flags] FILE",
		Short: "先頭ページに矩形とテキストを焼き込む",
		Long: `座標はページ表示サイズに対する比率(0〜1、左上原点)で指定します。

Examples:
  pdf-factory annotate in.pdf -o out.pdf --rect 0.1,0.1,0.4,0.2 --text "0.1,0.5,確認済み"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			anns, err := parseAnnotations(opts.rects, opts.texts, opts.fontSize)
			if err != nil {
				return err
			}
			doc, err := readInput(args[0])
			if err != nil {
				return err
			}
			out, err := pdf.Bake(cmd.Context(), doc, anns)
			if err != nil {
				return err
			}
			output := opts.output
			if output == "" {
				output = trimPDFExt(filepath.Base(args[0])) + "-annotated.pdf"
			}
			if err := writeOutput(cmd.Context(), output, out, export.ResultKindPDF.ContentType()); err != nil {
				return err
			}
			logging.Apply(a.logger().Info(), logging.Operation("annotate"), logging.Count(len(anns))).Msg("annotated")
			fmt.Fprintln(a.stdout, output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "出力ファイル")
	cmd.Flags().StringArrayVar(&opts.rects, "rect", nil, "矩形 x,y,幅,高さ")
	cmd.Flags().StringArrayVar(&opts.texts, "text", nil, "テキスト x,y,内容")
	cmd.Flags().Float64Var(&opts.fontSize, "font-size", 0, "テキストの文字サイズ(pt、0は既定値)")
	return cmd
}

type fileInfo struct {
	File      string  `json:"file"`
	Pages     int     `json:"pages"`
	Size      int     `json:"size"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Rotations []int   `json:"rotations"`
}

func (a *App) newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info FILE...",
		Short: "ページ数と先頭ページの寸法を表示する",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			infos := make([]fileInfo, 0, len(args))
			for _, path := range args {
				doc, err := readInput(path)
				if err != nil {
					return err
				}
				info, err := pdf.Inspect(cmd.Context(), doc)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				rotations, err := pdf.PageRotations(doc)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				page := info.FirstPage.DisplaySize()
				infos = append(infos, fileInfo{
					File: path, Pages: info.Pages, Size: len(doc),
					Width: page.Width, Height: page.Height, Rotations: rotations,
				})
			}
			enc := json.NewEncoder(a.stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(infos)
		},
	}
}

func (a *App) progress(op string) pdf.ProgressReporter {
	logger := a.logger()
	return func(stage string, percent int) {
		logging.Apply(logger.Debug(), logging.Operation(op), logging.Str("stage", stage),
			logging.Int("percent", percent)).Msg("progress")
	}
}

func loadSources(paths, rotationFlags []string) ([]pdf.Source, error) {
	rotations, err := parseRotations(rotationFlags, len(paths))
	if err != nil {
		return nil, err
	}
	sources := make([]pdf.Source, len(paths))
	for i, path := range paths {
		doc, err := readInput(path)
		if err != nil {
			return nil, err
		}
		sources[i] = pdf.Source{
			ID:       fmt.Sprintf("%d", i+1),
			Name:     filepath.Base(path),
			Document: doc,
			Rotation: rotations[i],
		}
	}
	return sources, nil
}

func defaultOutput(output string, op export.OperationType) string {
	if output != "" {
		return output
	}
	return export.OutputFilename(op, time.Now())
}
