// Package export は結合・アーカイブの出力を作業ディレクトリ上で準備・実行するサービスを提供します。
// 非同期ジョブはここで保存したマニフェストから処理を再現します。
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/google/uuid"

	"github.com/ChonangRai/tool-factory/internal/storage"
)

const defaultCleanupMin = 10

// Config は Service の設定です。
type Config struct {
	WorkDir          string
	ExpireMinutes    int
	SignedURLMinutes int
}

// Service はジョブ作業ディレクトリを管理し、出力を生成します。
type Service struct {
	cfg       Config
	publisher storage.Storage
	logger    *bolt.Logger
	now       func() time.Time
	newID     func() string
}

// NewService は作業ディレクトリを作成して Service を返します。publisher が nil の場合、成果物は公開しません。
func NewService(cfg Config, publisher storage.Storage, logger *bolt.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.WorkDir) == "" {
		return nil, errors.New("export: work dir is required")
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("作業ディレクトリの作成に失敗しました: %w", err)
	}
	if cfg.ExpireMinutes <= 0 {
		cfg.ExpireMinutes = defaultCleanupMin
	}
	return &Service{
		cfg:       cfg,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

type workspace struct {
	jobID  string
	dir    string
	inDir  string
	outDir string
}

func (w workspace) manifestPath() string {
	return filepath.Join(w.dir, manifestFilename)
}

func (s *Service) workspaceFor(jobID string) workspace {
	dir := filepath.Join(s.cfg.WorkDir, jobID)
	return workspace{
		jobID:  jobID,
		dir:    dir,
		inDir:  filepath.Join(dir, "in"),
		outDir: filepath.Join(dir, "out"),
	}
}

func (s *Service) createWorkspace() (workspace, error) {
	ws := s.workspaceFor(s.newID())
	for _, dir := range []string{ws.inDir, ws.outDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			_ = removeDir(ws.dir)
			return workspace{}, fmt.Errorf("ジョブ用ディレクトリの作成に失敗しました: %w", err)
		}
	}
	return ws, nil
}

// scheduleCleanup は有効期限後に作業ディレクトリと公開済みの成果物を削除します。
func (s *Service) scheduleCleanup(ws workspace, publishedKey string) {
	time.AfterFunc(time.Duration(s.cfg.ExpireMinutes)*time.Minute, func() {
		if err := removeDir(ws.dir); err != nil {
			s.warn(ws.jobID, "failed to remove job workspace", err)
		}
		if publishedKey != "" && s.publisher != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			_ = s.publisher.Delete(ctx, publishedKey)
		}
	})
}

// DiscardJob はジョブの作業ディレクトリを削除します。投入に失敗したジョブの後始末に使います。
func (s *Service) DiscardJob(jobID string) error {
	if strings.TrimSpace(jobID) == "" {
		return nil
	}
	return removeDir(s.workspaceFor(jobID).dir)
}

func removeDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o640)
}
