package main

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/compress"
	"github.com/asif420570/Image-compressor/internal/config"
	"github.com/asif420570/Image-compressor/internal/export"
	"github.com/asif420570/Image-compressor/internal/jobs"
	"github.com/asif420570/Image-compressor/internal/observability"
	"github.com/asif420570/Image-compressor/internal/queue"
	"github.com/asif420570/Image-compressor/internal/workspace"
)

type jobDeps struct {
	workspaces *workspace.Registry
	queue      *queue.Manager
	exports    *export.Service
	redis      *redis.Client
}

func setupJobs(cfg *config.Config, metrics *observability.Metrics, logger zerolog.Logger) (*jobDeps, error) {
	opts := workspace.Options{
		Transformer:  compress.New(logger),
		Defaults:     jobs.Parameters{Value: cfg.DefaultTargetSize, Unit: jobs.Unit(cfg.DefaultTargetUnit)},
		MaxDimension: cfg.MaxDimension,
		MaxPixels:    cfg.MaxPixels,
		Concurrency:  cfg.QueueConcurrency,
		ExportPrefix: cfg.ExportPrefix,
		Archiver:     export.NewZipArchiver(),
		Logger:       logger,
	}
	// nil の *Metrics をインターフェースに入れない
	if metrics != nil {
		opts.JobMetrics = metrics
		opts.ExportMetrics = metrics
	}

	deps := &jobDeps{workspaces: workspace.NewRegistry(opts)}

	if cfg.JobDispatcher == config.DispatcherQueue {
		manager, err := queue.NewManager(cfg, deps.workspaces, logger)
		if err != nil {
			return nil, err
		}
		deps.workspaces.UseDispatcher(manager)
		deps.queue = manager
	}

	store, err := setupExportStore(cfg, deps)
	if err != nil {
		if deps.queue != nil {
			_ = deps.queue.Shutdown(context.Background())
		}
		return nil, err
	}
	deps.exports = export.NewService(store, logger)
	return deps, nil
}

// start はキューのワーカーを起動します。setupJobs がすべて成功した後に呼び出します。
func (d *jobDeps) start() {
	if d.queue != nil {
		d.queue.StartWorkers()
	}
}

func setupExportStore(cfg *config.Config, deps *jobDeps) (export.Store, error) {
	ttlMinutes := cfg.ExportExpireMinutes
	if ttlMinutes <= 0 {
		ttlMinutes = 10
	}
	ttl := time.Duration(ttlMinutes) * time.Minute

	if cfg.ExportStore != config.ExportStoreRedis {
		return export.NewMemoryStore(ttl), nil
	}
	opt, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		return nil, err
	}
	deps.redis = redis.NewClient(opt)
	return export.NewRedisStore(deps.redis, ttl), nil
}

// shutdown はキューを止めてから、未完了のエクスポートを待ってワークスペースを閉じます。
func (d *jobDeps) shutdown(ctx context.Context, logger zerolog.Logger) {
	if d.queue != nil {
		if err := d.queue.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("queue shutdown failed")
		}
	}
	if deadline, ok := ctx.Deadline(); ok {
		if !d.exports.Wait(time.Until(deadline)) {
			logger.Warn().Msg("pending exports abandoned")
		}
	}
	closed := d.workspaces.CloseAll()
	logger.Info().Int("workspaces", closed).Msg("workspaces closed")
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			logger.Error().Err(err).Msg("redis close failed")
		}
	}
}
