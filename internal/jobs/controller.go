// Package jobs はセッション内の画像圧縮ジョブの状態管理と実行制御を提供します。
package jobs

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/apperrors"
	"github.com/asif420570/Image-compressor/internal/view"
)

// Upload は投入された1枚分の画像です。
type Upload struct {
	Name string
	Data []byte
}

// Controller は投入・再実行・一括変更・削除といった利用者の操作を Store に反映し、実行を依頼します。
type Controller struct {
	scope      string
	store      *Store
	views      view.Provider
	dispatcher Dispatcher
	defaults   Parameters
	logger     zerolog.Logger
}

// ControllerConfig は Controller の依存をまとめたものです。
type ControllerConfig struct {
	Scope      string
	Store      *Store
	Views      view.Provider
	Dispatcher Dispatcher
	Defaults   Parameters
	Logger     zerolog.Logger
}

// NewController は Controller を作成します。
func NewController(cfg ControllerConfig) (*Controller, error) {
	if cfg.Store == nil {
		return nil, errors.New("store is nil")
	}
	if cfg.Views == nil {
		return nil, errors.New("views is nil")
	}
	if cfg.Dispatcher == nil {
		return nil, errors.New("dispatcher is nil")
	}
	defaults := cfg.Defaults.Normalize()
	if err := defaults.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		scope:      cfg.Scope,
		store:      cfg.Store,
		views:      cfg.Views,
		dispatcher: cfg.Dispatcher,
		defaults:   defaults,
		logger:     cfg.Logger.With().Str("component", "controller").Str("scope", cfg.Scope).Logger(),
	}, nil
}

// Defaults は新規ジョブに割り当てる目標値を返します。
func (c *Controller) Defaults() Parameters {
	return c.defaults
}

// Submit は画像毎にジョブを作成してから、投入順に実行を依頼します。
func (c *Controller) Submit(ctx context.Context, uploads []Upload) ([]int64, error) {
	if len(uploads) == 0 {
		return nil, apperrors.Validation("files", "画像ファイルを選択してください。")
	}

	created := make([]Job, 0, len(uploads))
	for _, u := range uploads {
		created = append(created, c.store.Create(Source{
			Name:   u.Name,
			Data:   u.Data,
			Handle: c.views.Acquire(u.Data),
		}, c.defaults))
	}

	ids := make([]int64, len(created))
	for i, job := range created {
		ids[i] = job.ID
		c.dispatch(ctx, job)
	}
	c.logger.Info().Int("count", len(ids)).Msg("jobs submitted")
	return ids, nil
}

// Rerun は目標値を更新した上でジョブを再実行します。実行中のジョブは再実行できません。
func (c *Controller) Rerun(ctx context.Context, id int64, patch *ParamsPatch) error {
	job, err := c.store.Restart(id, func(draft *Job) error {
		if draft.Status == StatusRunning {
			return errJobRunning(id)
		}
		next := draft.Params.Merge(patch)
		if err := next.Validate(); err != nil {
			return err
		}
		draft.Params = next
		return nil
	})
	if err != nil {
		return err
	}
	c.dispatch(ctx, job)
	return nil
}

// ApplyToAll は error 以外のすべてのジョブへ目標値を適用して再実行します。
// 先にすべてのジョブを running に更新してから実行を依頼するため、途中で新旧の目標値が混在して見えることはありません。
func (c *Controller) ApplyToAll(ctx context.Context, params Parameters) ([]int64, error) {
	params = params.Normalize()
	if err := params.Validate(); err != nil {
		return nil, err
	}

	restarted := c.store.RestartMatching(
		func(job Job) bool { return job.Status != StatusFailed },
		func(draft *Job) { draft.Params = params },
	)

	ids := make([]int64, len(restarted))
	for i, job := range restarted {
		ids[i] = job.ID
		c.dispatch(ctx, job)
	}
	c.logger.Info().Int("count", len(ids)).Float64("value", params.Value).Str("unit", string(params.Unit)).Msg("parameters applied")
	return ids, nil
}

// Remove はジョブを取り除き、保持していたハンドルを解放します。
func (c *Controller) Remove(id int64) error {
	job, ok := c.store.Remove(id)
	if !ok {
		return errJobNotFound(id)
	}
	c.releaseViews(job)
	return nil
}

// ClearAll はすべてのジョブを取り除き、ID の採番を初期化します。取り除いた件数を返します。
// 実行中の変換は取り消されず、完了時に対象が無いため破棄されます。
func (c *Controller) ClearAll() int {
	removed := c.store.Reset()
	for _, job := range removed {
		c.releaseViews(job)
	}
	if len(removed) > 0 {
		c.logger.Info().Int("count", len(removed)).Msg("jobs cleared")
	}
	return len(removed)
}

// Jobs は投入順のジョブ一覧を返します。
func (c *Controller) Jobs() []Job {
	return c.store.All()
}

// Job は指定 ID のジョブを返します。
func (c *Controller) Job(id int64) (Job, error) {
	job, ok := c.store.Get(id)
	if !ok {
		return Job{}, errJobNotFound(id)
	}
	return job, nil
}

// Summary は現在の Store から集計値を算出します。
func (c *Controller) Summary() Summary {
	return Summarize(c.store.All())
}

// Version は Store の更新通番を返します。
func (c *Controller) Version() uint64 {
	return c.store.Version()
}

// dispatch は実行を依頼します。依頼自体に失敗した場合はジョブを error にします。
func (c *Controller) dispatch(ctx context.Context, job Job) {
	err := c.dispatcher.Dispatch(ctx, Task{Scope: c.scope, JobID: job.ID, Epoch: job.Epoch})
	if err == nil {
		return
	}
	c.logger.Error().Err(err).Int64("jobId", job.ID).Msg("failed to dispatch job")
	c.store.Update(job.ID, func(draft *Job) bool {
		if draft.Epoch != job.Epoch {
			return false
		}
		draft.Status = StatusFailed
		draft.Error = "dispatch failed: " + err.Error()
		return true
	})
}

func (c *Controller) releaseViews(job Job) {
	if job.Source.Handle != "" {
		if err := c.views.Release(job.Source.Handle); err != nil {
			c.logger.Error().Err(err).Int64("jobId", job.ID).Msg("failed to release source view")
		}
	}
	if job.Result != nil && job.Result.Handle != "" {
		if err := c.views.Release(job.Result.Handle); err != nil {
			c.logger.Error().Err(err).Int64("jobId", job.ID).Msg("failed to release result view")
		}
	}
}
