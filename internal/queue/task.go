package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/jobs"
)

// NewTask は実行依頼を Asynq タスクに変換します。
func NewTask(task jobs.Task) (*asynq.Task, error) {
	if task.Scope == "" {
		return nil, fmt.Errorf("task.Scope is required")
	}
	if task.JobID <= 0 {
		return nil, fmt.Errorf("task.JobID is required")
	}
	body, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeCompress, body, asynq.Queue(queueName)), nil
}

// ParseTask はペイロードから実行依頼を取り出します。
func ParseTask(t *asynq.Task) (jobs.Task, error) {
	var task jobs.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return jobs.Task{}, fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if task.Scope == "" || task.JobID <= 0 {
		return jobs.Task{}, fmt.Errorf("missing scope or jobId in payload: %w", asynq.SkipRetry)
	}
	return task, nil
}

// handle はタスクを依頼元ワークスペースの Runner で実行します。
// ワークスペースが既に閉じられていれば古い依頼として捨てます。
func handle(ctx context.Context, resolver Resolver, logger zerolog.Logger, t *asynq.Task) error {
	task, err := ParseTask(t)
	if err != nil {
		logger.Error().Err(err).Msg("invalid compress task")
		return err
	}
	runner, ok := resolver.Runner(task.Scope)
	if !ok {
		logger.Debug().Str("scope", task.Scope).Int64("jobId", task.JobID).Msg("skip task for closed workspace")
		return nil
	}
	runner.Run(ctx, task.JobID, task.Epoch)
	return nil
}

// asynqLogger は Asynq のログを zerolog へ流します。
type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }
