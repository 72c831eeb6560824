package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResultKind は生成される成果物の種別を表します。
type ResultKind string

const (
	ResultKindPDF ResultKind = "pdf"
	ResultKindZIP ResultKind = "zip"
)

// ContentType は成果物の MIME タイプを返します。
func (k ResultKind) ContentType() string {
	switch k {
	case ResultKindPDF:
		return "application/pdf"
	case ResultKindZIP:
		return "application/zip"
	default:
		return "application/octet-stream"
	}
}

func (o OperationType) resultKind() ResultKind {
	if o == OperationArchive {
		return ResultKindZIP
	}
	return ResultKindPDF
}

// OutputFilename は出力ファイル名を返します。時刻はミリ秒精度のUNIX時刻で埋め込みます。
func OutputFilename(op OperationType, at time.Time) string {
	ms := strconv.FormatInt(at.UnixMilli(), 10)
	if op == OperationArchive {
		return "pdf-factory-files-" + ms + ".zip"
	}
	return "pdf-factory-" + ms + ".pdf"
}

// Result は出力処理の成果を表します。
type Result struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	OutputPath     string        `json:"outputPath"`
	OutputFilename string        `json:"outputFilename"`
	OutputSize     int64         `json:"outputSize"`
	ResultKind     ResultKind    `json:"resultKind"`
	// DownloadURL はオブジェクトストレージへ公開した場合の署名付きURLです。
	DownloadURL string `json:"downloadUrl,omitempty"`
	Meta        *Meta  `json:"meta,omitempty"`

	jobDir      string
	cleanupOnce sync.Once
	cleanupErr  error
}

// Cleanup は作業ディレクトリを削除します。
func (r *Result) Cleanup() error {
	if r == nil {
		return nil
	}
	r.cleanupOnce.Do(func() {
		r.cleanupErr = removeDir(r.jobDir)
	})
	return r.cleanupErr
}

// Meta は出力処理のメタデータです。
type Meta struct {
	Items      int          `json:"items"`
	TotalPages int          `json:"totalPages"`
	Sources    []SourceMeta `json:"sources"`
}

// SourceMeta は入力項目の情報です。
type SourceMeta struct {
	ItemID   string `json:"itemId"`
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	Pages    int    `json:"pages"`
	Rotation int    `json:"rotation"`
}

// OpenResultFile はジョブIDに対応する成果物ファイルを開き、Result 情報とファイルハンドルを返します。
func (s *Service) OpenResultFile(jobID string) (*Result, *os.File, error) {
	if strings.TrimSpace(jobID) == "" {
		return nil, nil, fmt.Errorf("jobID is required")
	}

	ws := s.workspaceFor(jobID)
	manifest, err := loadManifest(ws.dir)
	if err != nil {
		return nil, nil, err
	}
	if !manifest.Operation.Valid() {
		return nil, nil, fmt.Errorf("unsupported operation for result download: %s", manifest.Operation)
	}

	outputPath := filepath.Join(ws.outDir, manifest.OutputFilename)
	file, err := os.Open(outputPath)
	if err != nil {
		return nil, nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	result := &Result{
		JobID:          jobID,
		Operation:      manifest.Operation,
		OutputPath:     outputPath,
		OutputFilename: manifest.OutputFilename,
		OutputSize:     info.Size(),
		ResultKind:     manifest.Operation.resultKind(),
		jobDir:         ws.dir,
	}

	return result, file, nil
}
