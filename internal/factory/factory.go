// Package factory は作業セット(ページ項目の一覧)と編集セッションを束ね、
// アップロードから結合・分割・アーカイブ出力までの操作を提供します。
package factory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/ChonangRai/tool-factory/internal/editor"
	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pages"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// CodeBusy は描画の同時実行数が上限に達したことを表します。
const CodeBusy = "BUSY"

const pdfMIME = "application/pdf"

// Options は Factory の設定です。0 の上限は無制限を表します。
type Options struct {
	MaxFileSize       int64
	MaxPages          int
	MaxItems          int
	RenderConcurrency int
	ThumbnailZoom     float64
	EditorZoom        float64
	Renderer          pdf.Renderer
	Logger            *bolt.Logger
}

func (o Options) withDefaults() Options {
	if o.RenderConcurrency <= 0 {
		o.RenderConcurrency = 8
	}
	if o.ThumbnailZoom <= 0 {
		o.ThumbnailZoom = 0.5
	}
	if o.EditorZoom <= 0 {
		o.EditorZoom = 1.5
	}
	if o.Renderer == nil {
		o.Renderer = pdf.NewFitzRenderer()
	}
	if o.Logger == nil {
		o.Logger = logging.Get()
	}
	return o
}

// Factory は1つの作業セットです。
type Factory struct {
	opts     Options
	items    *pages.Collection
	bulkhead bulkhead.Bulkhead[*pdf.Raster]
	logger   *bolt.Logger
	now      func() time.Time
	newID    func() string

	mu      sync.Mutex
	editors map[string]*openEditor
}

// openEditor は編集セッションと、開始時に文書へ反映した回転を保持します。
type openEditor struct {
	session  *editor.Session
	rotation int
}

// New は空の作業セットを生成します。
func New(opts Options) *Factory {
	opts = opts.withDefaults()
	return &Factory{
		opts:  opts,
		items: pages.NewCollection(),
		bulkhead: bulkhead.New[*pdf.Raster](bulkhead.Config{
			MaxConcurrent: opts.RenderConcurrency,
		}),
		logger:  opts.Logger,
		now:     time.Now,
		newID:   uuid.NewString,
		editors: make(map[string]*openEditor),
	}
}

// Upload はアップロードされた1ファイルです。
type Upload struct {
	Name string
	Data []byte
}

// Rejection は受け付けなかったファイルと理由です。
type Rejection struct {
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UploadResult はアップロードの結果です。
type UploadResult struct {
	Items    []pages.Item `json:"items"`
	Rejected []Rejection  `json:"rejected"`
}

// Upload はファイルを検査して作業セットへ追加します。
// PDF以外と上限超過のファイルは拒否しますが、解析できないPDFはページ数0で追加し、描画時に個別にエラーとします。
func (f *Factory) Upload(ctx context.Context, files []Upload) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, pdf.NewInvalidInput("アップロードされたPDFファイルが見つかりません。")
	}

	result := &UploadResult{Items: []pages.Item{}, Rejected: []Rejection{}}
	accepted := make([]pages.NewItem, 0, len(files))
	existing := f.items.Len()

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := strings.TrimSpace(file.Name)
		if name == "" {
			name = "document.pdf"
		}
		if f.opts.MaxItems > 0 && existing+len(accepted) >= f.opts.MaxItems {
			result.Rejected = append(result.Rejected, *rejection(name, pdf.CodeLimitExceeded,
				fmt.Sprintf("作業セットに追加できるのは%d件までです。", f.opts.MaxItems)))
			continue
		}
		item, rej := f.inspectUpload(ctx, name, file.Data)
		if rej != nil {
			result.Rejected = append(result.Rejected, *rej)
			continue
		}
		accepted = append(accepted, item)
	}

	result.Items = f.items.Add(accepted...)
	logging.Apply(f.logger.Info(), logging.Operation("upload"), logging.Count(len(result.Items)),
		logging.Int("rejected", len(result.Rejected))).Msg("files uploaded")
	return result, nil
}

func (f *Factory) inspectUpload(ctx context.Context, name string, data []byte) (pages.NewItem, *Rejection) {
	if len(data) == 0 {
		return pages.NewItem{}, rejection(name, pdf.CodeInvalidInput, "空のファイルです。")
	}
	if f.opts.MaxFileSize > 0 && int64(len(data)) > f.opts.MaxFileSize {
		return pages.NewItem{}, rejection(name, pdf.CodeLimitExceeded,
			fmt.Sprintf("ファイルサイズが上限(%dバイト)を超えています。", f.opts.MaxFileSize))
	}
	if mime := mimetype.Detect(data); !mime.Is(pdfMIME) {
		return pages.NewItem{}, rejection(name, pdf.CodeUnsupportedType,
			fmt.Sprintf("PDF以外のファイルは追加できません(%s)。", mime.String()))
	}

	info, err := pdf.Inspect(ctx, data)
	if err != nil {
		logging.Apply(f.logger.Warn(), logging.Operation("upload"), logging.Str("name", name),
			logging.ErrorField(err)).Msg("uploaded pdf could not be decoded")
		return pages.NewItem{Name: name, Document: data}, nil
	}
	if f.opts.MaxPages > 0 && info.Pages > f.opts.MaxPages {
		return pages.NewItem{}, rejection(name, pdf.CodeLimitExceeded,
			fmt.Sprintf("ページ数が上限(%dページ)を超えています。", f.opts.MaxPages))
	}
	return pages.NewItem{Name: name, Document: data, Pages: info.Pages}, nil
}

func rejection(name, code, message string) *Rejection {
	return &Rejection{Name: name, Code: code, Message: message}
}

// Items は現在の項目を順序どおりに返します。
func (f *Factory) Items() []pages.Item {
	return f.items.Items()
}

// Item は id の項目を返します。
func (f *Factory) Item(id string) (pages.Item, error) {
	return f.items.Get(id)
}

// Rotate は項目を時計回りに90度回転します。
func (f *Factory) Rotate(id string) (pages.Item, error) {
	return f.items.Rotate(id)
}

// Reorder は ids の順に並べ替えます。
func (f *Factory) Reorder(ids []string) error {
	return f.items.Reorder(ids)
}

// Move は項目を index の位置へ移動します。
func (f *Factory) Move(id string, index int) error {
	return f.items.Move(id, index)
}

// Remove は項目を削除し、その項目の編集セッションを閉じます。
func (f *Factory) Remove(id string) error {
	if err := f.items.Remove(id); err != nil {
		return err
	}
	f.closeEditors(func(s *editor.Session) bool { return s.ItemID() == id })
	return nil
}

// Reset はすべての項目と編集セッションを破棄します。
func (f *Factory) Reset() {
	f.items.Reset()
	f.closeEditors(func(*editor.Session) bool { return true })
}

// Close は作業セットを破棄します。Registry が期限切れの作業セットに対して呼びます。
func (f *Factory) Close() {
	f.Reset()
}

// Thumbnail は項目の先頭ページを描画し、未反映の回転を適用したビットマップを返します。zoom が0なら既定倍率です。
func (f *Factory) Thumbnail(ctx context.Context, id string, zoom float64) (*pdf.Raster, error) {
	item, err := f.items.Get(id)
	if err != nil {
		return nil, err
	}
	return f.thumbnail(ctx, item, zoom)
}

func (f *Factory) thumbnail(ctx context.Context, item pages.Item, zoom float64) (*pdf.Raster, error) {
	if zoom == 0 {
		zoom = f.opts.ThumbnailZoom
	}
	raster, err := f.render(ctx, item.Document, zoom)
	if err != nil {
		if pe, ok := pdf.AsError(err); ok && pe.ItemID == "" {
			pe.ItemID = item.ID
		}
		return nil, err
	}
	return pdf.RotateRaster(raster, item.Rotation), nil
}

// render は bulkhead の範囲内で描画します。上限に達して実行されなかった場合は BUSY を返します。
func (f *Factory) render(ctx context.Context, document []byte, zoom float64) (*pdf.Raster, error) {
	invoked := false
	raster, err := f.bulkhead.Execute(ctx, func(ctx context.Context) (*pdf.Raster, error) {
		invoked = true
		return f.opts.Renderer.Render(ctx, document, zoom)
	})
	if err != nil && !invoked && ctx.Err() == nil {
		return nil, pdf.NewError(CodeBusy, "描画処理が混み合っています。しばらくしてから再度お試しください。", err)
	}
	return raster, err
}

// ThumbnailResult は一括描画の1項目分の結果です。
type ThumbnailResult struct {
	ItemID string
	Raster *pdf.Raster
	Err    error
}

// Thumbnails はすべての項目を並行して描画します。1項目の失敗は他の項目に影響しません。
func (f *Factory) Thumbnails(ctx context.Context, zoom float64) []ThumbnailResult {
	items := f.items.Items()
	results := make([]ThumbnailResult, len(items))

	jobs := make(chan int)
	var wg sync.WaitGroup
	workers := min(f.opts.RenderConcurrency, len(items))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				raster, err := f.thumbnail(ctx, items[i], zoom)
				results[i] = ThumbnailResult{ItemID: items[i].ID, Raster: raster, Err: err}
			}
		}()
	}
	for i := range items {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// SplitSkip は分割できなかった項目です。
type SplitSkip struct {
	ItemID  string `json:"itemId"`
	Name    string `json:"name"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SplitReport は一括分割の結果です。
type SplitReport struct {
	Items   []pages.Item `json:"items"`
	Skipped []SplitSkip  `json:"skipped"`
}

// SplitAll は複数ページの項目をページごとの項目に分割します。分割した項目は元の位置にページ順で並びます。
// 未反映の回転は分割前に文書へ反映するため、分割後の項目の回転は0です。解析できない項目は残して報告します。
func (f *Factory) SplitAll(ctx context.Context) (*SplitReport, error) {
	report := &SplitReport{Skipped: []SplitSkip{}}
	for _, item := range f.items.Items() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if item.Pages == 1 {
			continue
		}
		if err := f.splitItem(ctx, item); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			skip := SplitSkip{ItemID: item.ID, Name: item.Name, Code: "INTERNAL_ERROR", Message: err.Error()}
			if pe, ok := pdf.AsError(err); ok {
				skip.Code, skip.Message = pe.Code, pe.Message
			}
			report.Skipped = append(report.Skipped, skip)
			logging.Apply(f.logger.Warn(), logging.Operation("split"), logging.ItemID(item.ID),
				logging.ErrorField(err)).Msg("item skipped")
		}
	}
	report.Items = f.items.Items()
	return report, nil
}

func (f *Factory) splitItem(ctx context.Context, item pages.Item) error {
	doc, err := pdf.BakeRotation(ctx, item.Document, item.Rotation)
	if err != nil {
		return err
	}
	parts, err := pdf.Split(ctx, doc, nil)
	if err != nil {
		return err
	}
	newItems := make([]pages.NewItem, len(parts))
	for i, part := range parts {
		newItems[i] = pages.NewItem{Name: pdf.SplitPartName(item.Name, i+1), Document: part, Pages: 1}
	}
	if _, err := f.items.Expand(item.ID, newItems); err != nil {
		return err
	}
	f.closeEditors(func(s *editor.Session) bool { return s.ItemID() == item.ID })
	return nil
}

// Export はダウンロード用の出力ファイルです。
type Export struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Merge はすべての項目を順に連結した1つのPDFを返します。
func (f *Factory) Merge(ctx context.Context) (*Export, error) {
	return f.export(ctx, export.OperationMerge, pdf.Merge)
}

// Pack はすべての項目をZIPアーカイブにまとめます。
func (f *Factory) Pack(ctx context.Context) (*Export, error) {
	return f.export(ctx, export.OperationArchive, pdf.Pack)
}

type exportFunc func(ctx context.Context, sources []pdf.Source, progress pdf.ProgressReporter) ([]byte, error)

func (f *Factory) export(ctx context.Context, op export.OperationType, run exportFunc) (*Export, error) {
	items := f.items.Items()
	sources := make([]pdf.Source, len(items))
	for i, it := range items {
		sources[i] = it.Source()
	}

	started := f.now()
	data, err := run(ctx, sources, nil)
	if err != nil {
		return nil, err
	}
	out := &Export{
		Filename:    export.OutputFilename(op, f.now()),
		ContentType: contentType(op),
		Data:        data,
	}
	logging.Apply(f.logger.Info(), logging.Operation(string(op)), logging.Count(len(items)),
		logging.Bytes(int64(len(data))), logging.Duration(f.now().Sub(started))).Msg("export finished")
	return out, nil
}

func contentType(op export.OperationType) string {
	if op == export.OperationArchive {
		return export.ResultKindZIP.ContentType()
	}
	return export.ResultKindPDF.ContentType()
}
