package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/view"
)

// Options は変換処理に渡す目標値です。TargetSizeBytes は上限の目安であり保証ではありません。
type Options struct {
	TargetSizeBytes int64
	MaxDimension    int
	MaxPixels       int64 // 0 の場合は制限なし
}

// Transformer は画像の圧縮処理です。入力バッファを変更してはいけません。
type Transformer interface {
	Transform(ctx context.Context, input []byte, opts Options) ([]byte, error)
}

// TransformFunc は関数を Transformer として扱うためのアダプタです。
type TransformFunc func(ctx context.Context, input []byte, opts Options) ([]byte, error)

// Transform は f を呼び出します。
func (f TransformFunc) Transform(ctx context.Context, input []byte, opts Options) ([]byte, error) {
	return f(ctx, input, opts)
}

// MetricsRecorder はジョブ実行のメトリクスを記録します（任意）。
type MetricsRecorder interface {
	RecordJobStarted(ctx context.Context)
	RecordJobCompleted(ctx context.Context, success bool, durationSeconds float64)
	RecordStaleCompletion(ctx context.Context)
}

// Runner は1件のジョブを実行し、その結果を Store へ反映します。
// running への遷移は呼び出し側の責務で、Runner は done / error への遷移のみを行います。
type Runner struct {
	store        *Store
	views        view.Provider
	transformer  Transformer
	maxDimension int
	maxPixels    int64
	metrics      MetricsRecorder
	logger       zerolog.Logger
}

// RunnerConfig は Runner の依存をまとめたものです。
type RunnerConfig struct {
	Store        *Store
	Views        view.Provider
	Transformer  Transformer
	MaxDimension int
	MaxPixels    int64
	Metrics      MetricsRecorder
	Logger       zerolog.Logger
}

// NewRunner は Runner を作成します。
func NewRunner(cfg RunnerConfig) *Runner {
	return &Runner{
		store:        cfg.Store,
		views:        cfg.Views,
		transformer:  cfg.Transformer,
		maxDimension: cfg.MaxDimension,
		maxPixels:    cfg.MaxPixels,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.With().Str("component", "runner").Logger(),
	}
}

// Run は epoch の実行を1回だけ行います。
// 開始時または反映時にジョブが削除済み、もしくは新しい実行に置き換わっていた場合は何もしません。
func (r *Runner) Run(ctx context.Context, id int64, epoch uint64) {
	logger := r.logger.With().Int64("jobId", id).Uint64("epoch", epoch).Logger()

	job, ok := r.store.Get(id)
	if !ok || job.Epoch != epoch || job.Status != StatusRunning {
		logger.Debug().Msg("skip stale task")
		r.recordStale(ctx)
		return
	}

	if r.metrics != nil {
		r.metrics.RecordJobStarted(ctx)
	}
	start := time.Now()
	output, err := r.transform(ctx, job.Source.Data, Options{
		TargetSizeBytes: job.Params.TargetBytes(),
		MaxDimension:    r.maxDimension,
		MaxPixels:       r.maxPixels,
	})
	elapsed := time.Since(start)
	if r.metrics != nil {
		r.metrics.RecordJobCompleted(ctx, err == nil, elapsed.Seconds())
	}

	if err != nil {
		r.fail(ctx, logger, id, epoch, err)
		return
	}
	r.finish(ctx, logger, id, epoch, output, elapsed)
}

// transform は変換処理を呼び出します。変換処理内の panic はこのジョブの失敗として扱います。
func (r *Runner) transform(ctx context.Context, input []byte, opts Options) (output []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			output = nil
			err = fmt.Errorf("transform panicked: %v", p)
		}
	}()
	return r.transformer.Transform(ctx, input, opts)
}

func (r *Runner) finish(ctx context.Context, logger zerolog.Logger, id int64, epoch uint64, output []byte, elapsed time.Duration) {
	var retired *Output
	applied := r.store.Update(id, func(job *Job) bool {
		if job.Epoch != epoch {
			return false
		}
		retired = job.Result
		job.Result = &Output{
			Data:     output,
			Handle:   r.views.Acquire(output),
			Duration: elapsed,
		}
		job.Status = StatusDone
		job.Error = ""
		return true
	})
	if !applied {
		logger.Debug().Msg("discard stale result")
		r.recordStale(ctx)
		return
	}

	// 置き換えた成果物のハンドルはジョブから切り離した後に解放する
	if retired != nil && retired.Handle != "" {
		if err := r.views.Release(retired.Handle); err != nil {
			logger.Error().Err(err).Msg("failed to release previous result view")
		}
	}
	logger.Info().
		Int("outputBytes", len(output)).
		Dur("elapsed", elapsed).
		Msg("job done")
}

func (r *Runner) fail(ctx context.Context, logger zerolog.Logger, id int64, epoch uint64, cause error) {
	applied := r.store.Update(id, func(job *Job) bool {
		if job.Epoch != epoch {
			return false
		}
		job.Status = StatusFailed
		job.Error = cause.Error()
		return true
	})
	if !applied {
		logger.Debug().Err(cause).Msg("discard stale failure")
		r.recordStale(ctx)
		return
	}
	logger.Warn().Err(cause).Msg("job failed")
}

func (r *Runner) recordStale(ctx context.Context) {
	if r.metrics != nil {
		r.metrics.RecordStaleCompletion(ctx)
	}
}
