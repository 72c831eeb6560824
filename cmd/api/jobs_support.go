package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/felixgeelhaar/bolt/v3"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"github.com/ChonangRai/tool-factory/internal/config"
	"github.com/ChonangRai/tool-factory/internal/export"
	"github.com/ChonangRai/tool-factory/internal/jobs"
	"github.com/ChonangRai/tool-factory/internal/session"
)

// exportJobScheduler は出力ジョブを asynq へ投入します。
type exportJobScheduler struct {
	manager *jobs.Manager
}

func (s *exportJobScheduler) Schedule(ctx context.Context, op export.OperationType, workspaceID, jobID string) error {
	_, err := s.manager.Enqueue(ctx, &jobs.TaskPayload{
		JobID:       jobID,
		WorkspaceID: workspaceID,
		Operation:   op,
	})
	return err
}

// jobRecords は作業セットに属するジョブ記録を引くためのインターフェースです。jobs.Manager が実装します。
type jobRecords interface {
	WorkspaceRecord(ctx context.Context, workspaceID, jobID string) (*jobs.Record, error)
}

// lookupJob はセッションの作業セットが投入したジョブ記録を返します。見つからなければ応答を書いて nil を返します。
func lookupJob(c *gin.Context, records jobRecords) *jobs.Record {
	jobID := c.Param("id")
	if strings.TrimSpace(jobID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "jobId を指定してください。",
		})
		return nil
	}

	record, err := records.WorkspaceRecord(c.Request.Context(), session.WorkspaceID(c), jobID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "ジョブ情報の取得に失敗しました。",
		})
		return nil
	}
	if record == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "JOB_NOT_FOUND",
			"message": "指定されたジョブは存在しません。",
		})
		return nil
	}
	return record
}

func setupJobs(cfg *config.Config, exportService *export.Service, logger *bolt.Logger) (*jobs.Manager, error) {
	if strings.TrimSpace(cfg.QueueRedisURL) == "" {
		return nil, errors.New("QUEUE_REDIS_URL is not set")
	}
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}

	redisClient := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		redisClient.Close()
		return nil, fmt.Errorf("redis is unreachable: %w", err)
	}

	ttlMinutes := cfg.JobExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	store := jobs.NewStore(redisClient, time.Duration(ttlMinutes)*time.Minute)
	return jobs.NewManager(cfg, exportService, store, logger)
}

func jobStatusHandler(records jobRecords) gin.HandlerFunc {
	return func(c *gin.Context) {
		record := lookupJob(c, records)
		if record == nil {
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func jobDownloadHandler(records jobRecords, exportService *export.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		record := lookupJob(c, records)
		if record == nil {
			return
		}

		result, file, err := exportService.OpenResultFile(record.JobID)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				c.JSON(http.StatusNotFound, gin.H{
					"code":    "JOB_RESULT_NOT_FOUND",
					"message": "ジョブの成果物が見つかりませんでした。",
				})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブの成果物取得に失敗しました。",
			})
			return
		}
		defer file.Close()

		contentType := result.ResultKind.ContentType()
		encodedName := url.PathEscape(result.OutputFilename)
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"; filename*=UTF-8''%s", result.OutputFilename, encodedName))
		c.Header("Cache-Control", "no-store")
		c.Header("X-Job-Id", result.JobID)
		c.DataFromReader(http.StatusOK, result.OutputSize, contentType, file, nil)
	}
}
