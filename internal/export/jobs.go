package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pages"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

// PrepareJob は作業セットのスナップショットをジョブディレクトリへ保存し、マニフェストを返します。
// 項目は作業セットの順序のまま保存され、未反映の回転はマニフェストに記録されます。
func (s *Service) PrepareJob(ctx context.Context, op OperationType, items []pages.Item) (*JobManifest, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !op.Valid() {
		return nil, pdf.NewInvalidInput(fmt.Sprintf("未対応の出力形式です: %s", op))
	}
	if len(items) == 0 {
		return nil, pdf.NewInvalidOperation("出力するページがありません。")
	}

	ws, err := s.createWorkspace()
	if err != nil {
		return nil, err
	}

	files := make([]JobFile, 0, len(items))
	for i, it := range items {
		if err := ctx.Err(); err != nil {
			_ = removeDir(ws.dir)
			return nil, err
		}
		storedName := fmt.Sprintf("%04d.pdf", i)
		if err := os.WriteFile(filepath.Join(ws.inDir, storedName), it.Document, 0o640); err != nil {
			_ = removeDir(ws.dir)
			return nil, fmt.Errorf("入力ファイルの保存に失敗しました: %w", err)
		}
		files = append(files, JobFile{
			StoredName:   storedName,
			ItemID:       it.ID,
			OriginalName: it.Name,
			Size:         int64(len(it.Document)),
			Pages:        it.Pages,
			Rotation:     it.Rotation,
		})
	}

	now := s.now().UTC()
	manifest := &JobManifest{
		JobID:          ws.jobID,
		Operation:      op,
		Files:          files,
		OutputFilename: OutputFilename(op, now),
		CreatedAt:      now,
	}
	if err := writeManifest(ws.dir, manifest); err != nil {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("ジョブマニフェストの保存に失敗しました: %w", err)
	}
	return manifest, nil
}

// RunJob はジョブIDに対応する出力処理を実行します。失敗した場合は作業ディレクトリを削除します。
func (s *Service) RunJob(ctx context.Context, jobID string, reporter pdf.ProgressReporter) (*Result, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		_ = removeDir(ws.dir)
		return nil, err
	}
	if !manifest.Operation.Valid() {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("unsupported operation: %s", manifest.Operation)
	}
	if len(manifest.Files) == 0 {
		_ = removeDir(ws.dir)
		return nil, fmt.Errorf("manifest has no input files")
	}

	result, runErr := s.execute(ctx, ws, manifest, reporter)
	if runErr != nil {
		if cleanupErr := removeDir(ws.dir); cleanupErr != nil {
			runErr = fmt.Errorf("%w (ワークスペースの削除にも失敗しました: %v)", runErr, cleanupErr)
		}
		return nil, runErr
	}
	return result, nil
}

func (s *Service) execute(ctx context.Context, ws workspace, manifest *JobManifest, reporter pdf.ProgressReporter) (*Result, error) {
	report(reporter, "load", 0)
	sources := make([]pdf.Source, len(manifest.Files))
	metaSources := make([]SourceMeta, len(manifest.Files))
	for i, f := range manifest.Files {
		doc, err := os.ReadFile(filepath.Join(ws.inDir, f.StoredName))
		if err != nil {
			return nil, fmt.Errorf("入力ファイルの読み込みに失敗しました: %w", err)
		}
		sources[i] = pdf.Source{ID: f.ItemID, Name: f.OriginalName, Document: doc, Rotation: f.Rotation}
		metaSources[i] = SourceMeta{
			ItemID:   f.ItemID,
			Name:     f.OriginalName,
			Size:     f.Size,
			Pages:    f.Pages,
			Rotation: f.Rotation,
		}
	}
	report(reporter, "load", 10)

	var (
		data []byte
		err  error
	)
	switch manifest.Operation {
	case OperationMerge:
		data, err = pdf.Merge(ctx, sources, reporter.Scaled(10, 80))
	case OperationArchive:
		data, err = pdf.Pack(ctx, sources, reporter.Scaled(10, 80))
	}
	if err != nil {
		return nil, err
	}

	report(reporter, "write", 85)
	outputPath := filepath.Join(ws.outDir, manifest.OutputFilename)
	if err := os.WriteFile(outputPath, data, 0o640); err != nil {
		return nil, fmt.Errorf("出力ファイルの保存に失敗しました: %w", err)
	}

	meta := &Meta{Items: len(sources), TotalPages: manifest.TotalPages(), Sources: metaSources}
	if err := writeJSON(filepath.Join(ws.dir, "meta.json"), meta); err != nil {
		return nil, fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}

	result := &Result{
		JobID:          ws.jobID,
		Operation:      manifest.Operation,
		OutputPath:     outputPath,
		OutputFilename: manifest.OutputFilename,
		OutputSize:     int64(len(data)),
		ResultKind:     manifest.Operation.resultKind(),
		Meta:           meta,
		jobDir:         ws.dir,
	}

	publishedKey := s.publish(ctx, result, data)
	s.scheduleCleanup(ws, publishedKey)

	report(reporter, "completed", 100)
	return result, nil
}

// publish は成果物をオブジェクトストレージへ保存し、署名付きURLを設定します。
// 公開に失敗してもローカルの成果物からダウンロードできるため、ジョブは失敗させません。
func (s *Service) publish(ctx context.Context, result *Result, data []byte) string {
	if s.publisher == nil {
		return ""
	}
	key := strings.Join([]string{"jobs", result.JobID, result.OutputFilename}, "/")
	if err := s.publisher.Save(ctx, key, bytes.NewReader(data), result.ResultKind.ContentType()); err != nil {
		s.warn(result.JobID, "failed to publish job result", err)
		return ""
	}
	expiry := time.Duration(s.cfg.SignedURLMinutes) * time.Minute
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	url, err := s.publisher.SignedURL(ctx, key, expiry)
	if err != nil {
		s.warn(result.JobID, "failed to sign job result url", err)
		return key
	}
	result.DownloadURL = url
	return key
}

func (s *Service) warn(jobID, msg string, err error) {
	if s.logger == nil {
		return
	}
	logging.Apply(s.logger.Warn(), logging.Component("export"), logging.JobID(jobID), logging.ErrorField(err)).Msg(msg)
}

func report(reporter pdf.ProgressReporter, stage string, percent int) {
	if reporter != nil {
		reporter(stage, percent)
	}
}
