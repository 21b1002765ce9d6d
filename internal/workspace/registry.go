// Package workspace はログインセッション毎のジョブ管理一式を保持します。
package workspace

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/export"
	"github.com/asif420570/Image-compressor/internal/jobs"
	"github.com/asif420570/Image-compressor/internal/view"
)

// Workspace は1セッション分のハンドル台帳・ジョブ・実行系です。
type Workspace struct {
	ID         string
	Views      *view.Registry
	Store      *jobs.Store
	Runner     *jobs.Runner
	Controller *jobs.Controller
	Bundler    *export.Bundler

	local    *jobs.GoDispatcher
	lastSeen atomic.Int64
}

// Touch は最終利用時刻を更新します。
func (w *Workspace) Touch(now time.Time) {
	w.lastSeen.Store(now.UnixNano())
}

// LastSeen は最終利用時刻を返します。
func (w *Workspace) LastSeen() time.Time {
	return time.Unix(0, w.lastSeen.Load())
}

// Options はワークスペース作成時に共有する依存です。
type Options struct {
	Transformer   jobs.Transformer
	Defaults      jobs.Parameters
	MaxDimension  int
	MaxPixels     int64
	Concurrency   int // プロセス内実行時のワークスペース毎の同時変換数
	ExportPrefix  string
	Archiver      export.Archiver
	JobMetrics    jobs.MetricsRecorder
	ExportMetrics export.MetricsRecorder
	Logger        zerolog.Logger
}

// Registry は開いているワークスペースを ID で管理します。
type Registry struct {
	mu         sync.RWMutex
	workspaces map[string]*Workspace
	opts       Options
	shared     jobs.Dispatcher
	logger     zerolog.Logger
	now        func() time.Time
}

// NewRegistry は Registry を作成します。
func NewRegistry(opts Options) *Registry {
	return &Registry{
		workspaces: make(map[string]*Workspace),
		opts:       opts,
		logger:     opts.Logger.With().Str("component", "workspace").Logger(),
		now:        time.Now,
	}
}

// UseDispatcher はすべてのワークスペースで共有する Dispatcher を設定します。
// 未設定の場合はワークスペース毎にプロセス内で実行します。Open より前に呼び出します。
func (r *Registry) UseDispatcher(d jobs.Dispatcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.shared = d
}

// Open は新しいワークスペースを作成して登録します。
func (r *Registry) Open() (*Workspace, error) {
	if r.opts.Transformer == nil {
		return nil, errors.New("transformer is nil")
	}

	id := uuid.NewString()
	logger := r.opts.Logger.With().Str("workspace", id).Logger()

	ws := &Workspace{
		ID:    id,
		Views: view.NewRegistry(logger),
		Store: jobs.NewStore(),
	}
	ws.Runner = jobs.NewRunner(jobs.RunnerConfig{
		Store:        ws.Store,
		Views:        ws.Views,
		Transformer:  r.opts.Transformer,
		MaxDimension: r.opts.MaxDimension,
		MaxPixels:    r.opts.MaxPixels,
		Metrics:      r.opts.JobMetrics,
		Logger:       logger,
	})

	r.mu.RLock()
	dispatcher := r.shared
	r.mu.RUnlock()
	if dispatcher == nil {
		ws.local = jobs.NewGoDispatcher(ws.Runner, r.opts.Concurrency)
		dispatcher = ws.local
	}

	controller, err := jobs.NewController(jobs.ControllerConfig{
		Scope:      id,
		Store:      ws.Store,
		Views:      ws.Views,
		Dispatcher: dispatcher,
		Defaults:   r.opts.Defaults,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	ws.Controller = controller
	ws.Bundler = export.NewBundler(export.BundlerConfig{
		Source:   controller,
		Archiver: r.opts.Archiver,
		Prefix:   r.opts.ExportPrefix,
		Metrics:  r.opts.ExportMetrics,
		Logger:   logger,
	})
	ws.Touch(r.now())

	r.mu.Lock()
	r.workspaces[id] = ws
	r.mu.Unlock()

	r.logger.Info().Str("workspace", id).Msg("workspace opened")
	return ws, nil
}

// Get は ID に対応するワークスペースを返し、最終利用時刻を更新します。
func (r *Registry) Get(id string) (*Workspace, bool) {
	r.mu.RLock()
	ws, ok := r.workspaces[id]
	r.mu.RUnlock()
	if ok {
		ws.Touch(r.now())
	}
	return ws, ok
}

// Runner は queue から届いた依頼を実行する Runner を返します。
func (r *Registry) Runner(scope string) (*jobs.Runner, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ws, ok := r.workspaces[scope]
	if !ok {
		return nil, false
	}
	return ws.Runner, true
}

// Close はワークスペースを登録から外し、すべてのジョブとハンドルを解放します。
// 実行中の変換は取り消さず、完了時に破棄されます。
func (r *Registry) Close(id string) bool {
	r.mu.Lock()
	ws, ok := r.workspaces[id]
	delete(r.workspaces, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.teardown(ws)
	return true
}

// CloseAll はすべてのワークスペースを閉じ、閉じた件数を返します。
func (r *Registry) CloseAll() int {
	r.mu.Lock()
	all := r.workspaces
	r.workspaces = make(map[string]*Workspace)
	r.mu.Unlock()

	for _, ws := range all {
		r.teardown(ws)
	}
	return len(all)
}

// Sweep は idle 以上利用されていないワークスペースを閉じ、閉じた件数を返します。
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var expired []*Workspace
	for id, ws := range r.workspaces {
		if ws.LastSeen().Before(cutoff) {
			expired = append(expired, ws)
			delete(r.workspaces, id)
		}
	}
	r.mu.Unlock()

	for _, ws := range expired {
		r.teardown(ws)
	}
	if len(expired) > 0 {
		r.logger.Info().Int("count", len(expired)).Msg("idle workspaces closed")
	}
	return len(expired)
}

// RunSweeper は ctx が終了するまで interval 毎に Sweep を実行します。
func (r *Registry) RunSweeper(ctx context.Context, interval, idle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}

// Len は開いているワークスペース数を返します。
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workspaces)
}

func (r *Registry) teardown(ws *Workspace) {
	cleared := ws.Controller.ClearAll()
	r.logger.Info().
		Str("workspace", ws.ID).
		Int("jobs", cleared).
		Int("liveViews", ws.Views.Live()).
		Msg("workspace closed")
}
