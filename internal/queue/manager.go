// Package queue は Asynq を使って圧縮ジョブの実行依頼を Redis 経由で受け渡します。
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/config"
	"github.com/asif420570/Image-compressor/internal/jobs"
)

const (
	// TaskTypeCompress は画像圧縮タスクの種別です。
	TaskTypeCompress = "image:compress"
	queueName        = "images"
)

// Resolver は依頼元ワークスペースの Runner を引き当てます。
type Resolver interface {
	Runner(scope string) (*jobs.Runner, bool)
}

// Manager はタスクの投入とワーカーの起動をまとめて担います。
type Manager struct {
	client   *asynq.Client
	server   *asynq.Server
	mux      *asynq.ServeMux
	resolver Resolver
	logger   zerolog.Logger
	started  atomic.Bool
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, resolver Resolver, logger zerolog.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if resolver == nil {
		return nil, errors.New("resolver is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	concurrency := cfg.QueueConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	server := asynq.NewServer(
		opt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queueName: 1,
			},
			Logger: asynqLogger{logger: logger},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		client:   asynq.NewClient(opt),
		server:   server,
		mux:      mux,
		resolver: resolver,
		logger:   logger.With().Str("component", "queue").Logger(),
	}
	mux.HandleFunc(TaskTypeCompress, manager.handleCompressTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
// 2回目以降の呼び出しは何もしません。
func (m *Manager) StartWorkers() {
	if !m.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		if err := m.server.Run(m.mux); err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			m.logger.Error().Err(err).Msg("asynq server stopped with error")
		}
	}()
}

// Started は StartWorkers が呼ばれたかを返します。
func (m *Manager) Started() bool {
	return m.started.Load()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	return m.client.Close()
}

// Dispatch はタスクをキューに投入します。jobs.Dispatcher を満たします。
// 失敗した実行は利用者の再実行に任せるため、自動リトライはしません。
func (m *Manager) Dispatch(ctx context.Context, task jobs.Task) error {
	t, err := NewTask(task)
	if err != nil {
		return err
	}
	if _, err := m.client.EnqueueContext(ctx, t, asynq.MaxRetry(0)); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

func (m *Manager) handleCompressTask(ctx context.Context, task *asynq.Task) error {
	return handle(ctx, m.resolver, m.logger, task)
}
