package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

func TestBuildDownloadURL(t *testing.T) {
	tests := []struct {
		name   string
		base   string
		signed string
		want   string
	}{
		{name: "default", want: "/api/jobs/job-1/download"},
		{name: "base url", base: "https://files.example.com/results/", want: "https://files.example.com/results/job-1/pdf-factory-1.pdf"},
		{name: "signed url wins", base: "https://files.example.com", signed: "https://storage.example.com/signed", want: "https://storage.example.com/signed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := &export.Result{JobID: "job-1", OutputFilename: "pdf-factory-1.pdf", DownloadURL: tt.signed}
			if got := buildDownloadURL(tt.base, result); got != tt.want {
				t.Fatalf("buildDownloadURL = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFailureOf(t *testing.T) {
	decode := pdf.NewError(pdf.CodeDecode, "PDFを読み込めませんでした。", nil)
	decode.ItemID = "item-7"

	tests := []struct {
		name string
		err  error
		want *Failure
	}{
		{name: "pdf error", err: fmt.Errorf("wrapped: %w", decode), want: &Failure{Code: pdf.CodeDecode, Message: "PDFを読み込めませんでした。", ItemID: "item-7"}},
		{name: "canceled", err: context.Canceled, want: &Failure{Code: "REQUEST_CANCELED", Message: "ジョブが中断されました。"}},
		{name: "internal", err: fmt.Errorf("disk full"), want: &Failure{Code: "INTERNAL_ERROR", Message: "ジョブの処理中にエラーが発生しました。"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, failureOf(tt.err)); diff != "" {
				t.Fatalf("failureOf mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNewExportTask(t *testing.T) {
	task, err := newExportTask(&TaskPayload{JobID: "job-9", WorkspaceID: "ws-1", Operation: export.OperationArchive})
	if err != nil {
		t.Fatalf("newExportTask returned error: %v", err)
	}
	if task.Type() != TaskTypeExport {
		t.Fatalf("task type = %s", task.Type())
	}
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if payload.JobID != "job-9" || payload.WorkspaceID != "ws-1" || payload.Operation != export.OperationArchive {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestJobKey(t *testing.T) {
	if got := jobKey("abc"); got != "tool-factory:job:abc" {
		t.Fatalf("jobKey = %s", got)
	}
}

func TestRecordOwnedBy(t *testing.T) {
	tests := []struct {
		name      string
		record    *Record
		workspace string
		want      bool
	}{
		{name: "same workspace", record: &Record{JobID: "job-1", WorkspaceID: "ws-1"}, workspace: "ws-1", want: true},
		{name: "other workspace", record: &Record{JobID: "job-1", WorkspaceID: "ws-1"}, workspace: "ws-2", want: false},
		{name: "no session", record: &Record{JobID: "job-1", WorkspaceID: "ws-1"}, workspace: "", want: false},
		{name: "record without workspace", record: &Record{JobID: "job-1"}, workspace: "", want: false},
		{name: "missing record", record: nil, workspace: "ws-1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.record.OwnedBy(tt.workspace); got != tt.want {
				t.Fatalf("OwnedBy(%q) = %v, want %v", tt.workspace, got, tt.want)
			}
		})
	}
}

func TestAdvanceProgress(t *testing.T) {
	record := &Record{Status: StatusRunning, Progress: Progress{Percent: 10, Stage: StageLoad}}

	advanceProgress(record, Progress{Percent: 85, Stage: StageWrite})
	if diff := cmp.Diff(Progress{Percent: 85, Stage: StageWrite}, record.Progress); diff != "" {
		t.Fatalf("progress mismatch (-want +got):\n%s", diff)
	}

	advanceProgress(record, Progress{Percent: 40, Stage: StageLoad})
	if record.Progress.Percent != 85 {
		t.Fatalf("percent went backwards to %d", record.Progress.Percent)
	}

	completeRecord(record, &export.Result{JobID: "job-1", OutputFilename: "pdf-factory-1.zip"}, "/api/jobs/job-1/download")
	advanceProgress(record, Progress{Percent: 90, Stage: StageWrite})
	if diff := cmp.Diff(Progress{Percent: 100, Stage: StageCompleted}, record.Progress); diff != "" {
		t.Fatalf("finished job progress changed (-want +got):\n%s", diff)
	}
}

func TestCompleteRecord(t *testing.T) {
	meta := &export.Meta{Items: 2, TotalPages: 3}
	record := &Record{
		JobID:       "job-1",
		WorkspaceID: "ws-1",
		Operation:   export.OperationMerge,
		Status:      StatusRunning,
		Error:       &Failure{Code: "STALE"},
	}
	completeRecord(record, &export.Result{JobID: "job-1", OutputFilename: "pdf-factory-1.pdf", Meta: meta}, "https://files.example.com/job-1")

	want := &Record{
		JobID:          "job-1",
		WorkspaceID:    "ws-1",
		Operation:      export.OperationMerge,
		Status:         StatusDone,
		Progress:       Progress{Percent: 100, Stage: StageCompleted},
		OutputFilename: "pdf-factory-1.pdf",
		DownloadURL:    "https://files.example.com/job-1",
		Meta:           meta,
	}
	if diff := cmp.Diff(want, record); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
	if !record.Finished() {
		t.Fatalf("completed record should be finished")
	}
}
