package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ChonangRai/tool-factory/internal/export"
)

const (
	jobKeyPrefix = "tool-factory:job:"
	maxTxRetries = 5
)

// ErrJobNotFound は更新対象のジョブ記録が存在しないことを表します。
var ErrJobNotFound = errors.New("job not found")

// Store はジョブ状態を Redis に JSON で保存します。記録は ttl 経過後に消えます。
type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
	now func() time.Time
}

// NewStore は Store を作成します。
func NewStore(rdb redis.UniversalClient, ttl time.Duration) *Store {
	return &Store{
		rdb: rdb,
		ttl: ttl,
		now: func() time.Time { return time.Now().UTC() },
	}
}

// Get はジョブ情報を取得します。存在しない場合は nil を返します。
func (s *Store) Get(ctx context.Context, jobID string) (*Record, error) {
	if jobID == "" {
		return nil, fmt.Errorf("jobID is required")
	}
	data, err := s.rdb.Get(ctx, jobKey(jobID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert はジョブ情報を保存します（存在しない場合は作成）。
func (s *Store) Upsert(ctx context.Context, record *Record) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	s.stamp(record)
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, jobKey(record.JobID), payload, s.ttl).Err()
}

func (s *Store) stamp(record *Record) {
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.ExpiresAt.IsZero() && s.ttl > 0 {
		record.ExpiresAt = record.CreatedAt.Add(s.ttl)
	}
}

// UpdateProgress は進捗を更新します。進捗は後退させません。
func (s *Store) UpdateProgress(ctx context.Context, jobID string, progress Progress) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		advanceProgress(record, progress)
	})
}

// MarkDone はジョブ完了時の情報を保存します。
func (s *Store) MarkDone(ctx context.Context, jobID string, result *export.Result, downloadURL string) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		completeRecord(record, result, downloadURL)
	})
}

// MarkFailed はジョブ失敗時の情報を保存します。
func (s *Store) MarkFailed(ctx context.Context, jobID string, failure *Failure) error {
	return s.updatePartial(ctx, jobID, func(record *Record) {
		record.Status = StatusFailed
		if failure != nil {
			record.Error = failure
		}
	})
}

func advanceProgress(record *Record, progress Progress) {
	if record.Finished() {
		return
	}
	if progress.Percent < record.Progress.Percent {
		progress.Percent = record.Progress.Percent
	}
	record.Progress = progress
}

func completeRecord(record *Record, result *export.Result, downloadURL string) {
	record.Status = StatusDone
	record.Progress = Progress{Percent: 100, Stage: StageCompleted}
	record.OutputFilename = result.OutputFilename
	record.DownloadURL = downloadURL
	record.Meta = result.Meta
	record.Error = nil
}

// updatePartial は WATCH による楽観ロックで記録を読み替えます。
func (s *Store) updatePartial(ctx context.Context, jobID string, mutate func(*Record)) error {
	key := jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		if err != nil {
			return err
		}
		var record Record
		if err := json.Unmarshal(data, &record); err != nil {
			return err
		}
		mutate(&record)
		record.UpdatedAt = s.now()
		payload, err := json.Marshal(&record)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too many concurrent updates", jobID)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}
