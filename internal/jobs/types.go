package jobs

import (
	"time"

	"github.com/ChonangRai/tool-factory/internal/export"
)

// Status は出力ジョブの状態です。
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusDone    Status = "done"
	StatusFailed  Status = "error"
)

// Stage は出力処理の段階です。export.Service が報告する段階名と一致します。
type Stage string

const (
	StageQueued    Stage = "queued"
	StageLoad      Stage = "load"
	StageWrite     Stage = "write"
	StageCompleted Stage = "completed"
)

// Progress は出力ジョブの進捗です。
type Progress struct {
	Percent int   `json:"percent"`
	Stage   Stage `json:"stage"`
}

// Failure は失敗したジョブの理由です。特定の項目が原因の場合は ItemID を含みます。
type Failure struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ItemID  string `json:"itemId,omitempty"`
}

// Record は1件の出力ジョブの記録です。投入した作業セットからのみ参照できます。
type Record struct {
	JobID          string               `json:"jobId"`
	WorkspaceID    string               `json:"workspaceId"`
	Operation      export.OperationType `json:"operation"`
	Status         Status               `json:"status"`
	Progress       Progress             `json:"progress"`
	OutputFilename string               `json:"outputFilename,omitempty"`
	DownloadURL    string               `json:"downloadUrl,omitempty"`
	Meta           *export.Meta         `json:"meta,omitempty"`
	Error          *Failure             `json:"error,omitempty"`
	CreatedAt      time.Time            `json:"createdAt"`
	UpdatedAt      time.Time            `json:"updatedAt"`
	ExpiresAt      time.Time            `json:"expiresAt"`
}

// OwnedBy は記録が workspaceID の作業セットから投入されたものかを返します。
func (r *Record) OwnedBy(workspaceID string) bool {
	return r != nil && workspaceID != "" && r.WorkspaceID == workspaceID
}

// Finished は成否にかかわらずジョブが終わっているかを返します。
func (r *Record) Finished() bool {
	return r.Status == StatusDone || r.Status == StatusFailed
}
