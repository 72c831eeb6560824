package export

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const manifestFilename = "manifest.json"

// OperationType は出力処理の種別を表します。
type OperationType string

const (
	OperationMerge   OperationType = "merge"
	OperationArchive OperationType = "archive"
)

// Valid は既知の種別かどうかを返します。
func (o OperationType) Valid() bool {
	return o == OperationMerge || o == OperationArchive
}

// JobManifest はジョブに必要な情報を保持します。Files は作業セットの順序どおりに並びます。
type JobManifest struct {
	JobID          string        `json:"jobId"`
	Operation      OperationType `json:"operation"`
	Files          []JobFile     `json:"files"`
	OutputFilename string        `json:"outputFilename"`
	CreatedAt      time.Time     `json:"createdAt"`
}

// JobFile はジョブ入力ファイルのメタデータを表します。
type JobFile struct {
	StoredName   string `json:"storedName"`
	ItemID       string `json:"itemId"`
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	Pages        int    `json:"pages"`
	Rotation     int    `json:"rotation"`
}

// TotalSize は入力ファイルの合計バイト数です。
func (m *JobManifest) TotalSize() int64 {
	var total int64
	for _, f := range m.Files {
		total += f.Size
	}
	return total
}

// TotalPages は入力ファイルの合計ページ数です。
func (m *JobManifest) TotalPages() int {
	total := 0
	for _, f := range m.Files {
		total += f.Pages
	}
	return total
}

func writeManifest(jobDir string, manifest *JobManifest) error {
	if manifest == nil {
		return fmt.Errorf("manifest is nil")
	}
	path := filepath.Join(jobDir, manifestFilename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()
	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	return enc.Encode(manifest)
}

func loadManifest(jobDir string) (*JobManifest, error) {
	path := filepath.Join(jobDir, manifestFilename)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest JobManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
