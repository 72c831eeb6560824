// Package jobs は asynq と Redis による非同期出力ジョブの投入と状態管理を提供します。
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/hibiken/asynq"

	"github.com/ChonangRai/tool-factory/internal/config"
	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/logging"
	"github.com/ChonangRai/tool-factory/internal/pdf"
)

const (
	// TaskTypeExport は出力ジョブのタスク種別です。
	TaskTypeExport = "pdf:export"
	queueName      = "pdf"
)

// Runner はマニフェストからジョブを実行するサービスです。export.Service が実装します。
type Runner interface {
	RunJob(ctx context.Context, jobID string, reporter pdf.ProgressReporter) (*export.Result, error)
}

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg    *config.Config
	client *asynq.Client
	server *asynq.Server
	mux    *asynq.ServeMux
	store  *Store
	runner Runner
	logger *bolt.Logger
}

// TaskPayload は出力ジョブのペイロードです。
type TaskPayload struct {
	JobID       string               `json:"jobId"`
	WorkspaceID string               `json:"workspaceId"`
	Operation   export.OperationType `json:"operation"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, runner Runner, store *Store, logger *bolt.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if runner == nil {
		return nil, errors.New("runner is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	if logger == nil {
		logger = logging.Get()
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				queueName: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:    cfg,
		client: client,
		server: server,
		mux:    mux,
		store:  store,
		runner: runner,
		logger: logger,
	}
	mux.HandleFunc(TaskTypeExport, manager.handleExportTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			logging.Apply(m.logger.Error(), logging.Component("jobs"), logging.ErrorField(err)).
				Msg("asynq server stopped with error")
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Enqueue はジョブをキューに投入します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("payload.JobID is required")
	}
	if payload.WorkspaceID == "" {
		return "", fmt.Errorf("payload.WorkspaceID is required")
	}

	record := &Record{
		JobID:       payload.JobID,
		WorkspaceID: payload.WorkspaceID,
		Operation:   payload.Operation,
		Status:      StatusQueued,
		Progress:    Progress{Stage: StageQueued},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	task, err := newExportTask(payload)
	if err != nil {
		return "", err
	}
	info, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1), asynq.Timeout(10*time.Minute))
	if err != nil {
		return "", err
	}
	logging.Apply(m.logger.Info(), logging.Component("jobs"), logging.JobID(payload.JobID),
		logging.WorkspaceID(payload.WorkspaceID), logging.Operation(string(payload.Operation))).
		Msg("export job enqueued")
	return info.ID, nil
}

func newExportTask(payload *TaskPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeExport, body, asynq.Queue(queueName)), nil
}

// UpdateProgress は進捗を保存します。
func (m *Manager) UpdateProgress(ctx context.Context, jobID string, percent int, stage Stage) {
	if err := m.store.UpdateProgress(ctx, jobID, Progress{
		Percent: percent,
		Stage:   stage,
	}); err != nil {
		logging.Apply(m.logger.Warn(), logging.JobID(jobID), logging.ErrorField(err)).Msg("failed to update progress")
	}
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

// WorkspaceRecord は workspaceID の作業セットが投入したジョブの記録を返します。
// 存在しない場合と他の作業セットのジョブの場合は nil を返します。
func (m *Manager) WorkspaceRecord(ctx context.Context, workspaceID, jobID string) (*Record, error) {
	record, err := m.store.Get(ctx, jobID)
	if err != nil || !record.OwnedBy(workspaceID) {
		return nil, err
	}
	return record, nil
}

func (m *Manager) handleExportTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload")
	}

	if err := m.store.Upsert(ctx, &Record{
		JobID:       payload.JobID,
		WorkspaceID: payload.WorkspaceID,
		Operation:   payload.Operation,
		Status:      StatusRunning,
		Progress:    Progress{Stage: StageLoad},
	}); err != nil {
		return err
	}

	started := time.Now()
	result, err := m.runner.RunJob(ctx, payload.JobID, func(stage string, percent int) {
		m.UpdateProgress(ctx, payload.JobID, percent, Stage(stage))
	})
	if err != nil {
		logging.Apply(m.logger.Warn(), logging.JobID(payload.JobID), logging.Duration(time.Since(started)),
			logging.ErrorField(err)).Msg("export job failed")
		return m.failJobWithError(ctx, payload.JobID, err)
	}
	logging.Apply(m.logger.Info(), logging.JobID(payload.JobID), logging.Duration(time.Since(started)),
		logging.Bytes(result.OutputSize)).Msg("export job finished")
	return m.finishJob(ctx, payload.JobID, result)
}

func (m *Manager) finishJob(ctx context.Context, jobID string, result *export.Result) error {
	if result == nil {
		return fmt.Errorf("result is nil")
	}
	return m.store.MarkDone(ctx, jobID, result, buildDownloadURL(m.cfg.JobResultBaseURL, result))
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) error {
	return m.store.MarkFailed(ctx, jobID, failureOf(err))
}

// failureOf はジョブの失敗理由を利用者向けの情報へ変換します。内部エラーの詳細は返しません。
func failureOf(err error) *Failure {
	if pe, ok := pdf.AsError(err); ok {
		return &Failure{Code: pe.Code, Message: pe.Message, ItemID: pe.ItemID}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Failure{Code: "REQUEST_CANCELED", Message: "ジョブが中断されました。"}
	}
	return &Failure{Code: "INTERNAL_ERROR", Message: "ジョブの処理中にエラーが発生しました。"}
}

// buildDownloadURL は成果物の取得先を決めます。署名付きURLがあればそれを優先します。
func buildDownloadURL(base string, result *export.Result) string {
	if result.DownloadURL != "" {
		return result.DownloadURL
	}
	if base == "" {
		return fmt.Sprintf("/api/jobs/%s/download", result.JobID)
	}
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(base, "/"), result.JobID, url.PathEscape(result.OutputFilename))
}
