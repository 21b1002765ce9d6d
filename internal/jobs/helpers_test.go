package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/view"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	tasks []Task
	err   error
}

func (d *recordingDispatcher) Dispatch(_ context.Context, task Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, task)
	return nil
}

// take は記録済みの依頼を取り出して空にします。
func (d *recordingDispatcher) take() []Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.tasks
	d.tasks = nil
	return out
}

type harness struct {
	store      *Store
	views      *view.Registry
	dispatcher *recordingDispatcher
	runner     *Runner
	controller *Controller
}

var defaultParams = Parameters{Value: 500, Unit: UnitKB}

func ptr[T any](v T) *T {
	return &v
}

func newHarness(t *testing.T, transform TransformFunc) *harness {
	t.Helper()
	h := &harness{
		store:      NewStore(),
		views:      view.NewRegistry(zerolog.Nop()),
		dispatcher: &recordingDispatcher{},
	}
	h.runner = NewRunner(RunnerConfig{
		Store:        h.store,
		Views:        h.views,
		Transformer:  transform,
		MaxDimension: 1920,
		Logger:       zerolog.Nop(),
	})
	controller, err := NewController(ControllerConfig{
		Scope:      "test",
		Store:      h.store,
		Views:      h.views,
		Dispatcher: h.dispatcher,
		Defaults:   defaultParams,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	h.controller = controller
	return h
}

// runAll は記録済みの依頼を順に実行します。
func (h *harness) runAll() {
	for _, task := range h.dispatcher.take() {
		h.runner.Run(context.Background(), task.JobID, task.Epoch)
	}
}

func (h *harness) submit(t *testing.T, sizes ...int) []int64 {
	t.Helper()
	uploads := make([]Upload, len(sizes))
	for i, size := range sizes {
		uploads[i] = Upload{Name: "photo.jpg", Data: make([]byte, size)}
	}
	ids, err := h.controller.Submit(context.Background(), uploads)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return ids
}

func (h *harness) mustJob(t *testing.T, id int64) Job {
	t.Helper()
	job, ok := h.store.Get(id)
	if !ok {
		t.Fatalf("job %d not found", id)
	}
	return job
}

// shrink は入力の半分の長さを返す変換です。
func shrink(_ context.Context, input []byte, _ Options) ([]byte, error) {
	return append([]byte(nil), input[:len(input)/2]...), nil
}

var errTransform = errors.New("encoder exploded")

// switchable は fail が true の間だけ失敗する変換を返します。
func switchable(fail *bool) TransformFunc {
	return func(ctx context.Context, input []byte, opts Options) ([]byte, error) {
		if *fail {
			return nil, errTransform
		}
		return shrink(ctx, input, opts)
	}
}

// assertBalanced は台帳上の未解放ハンドル数がジョブの保持数と一致することを確認します。
func assertBalanced(t *testing.T, h *harness) {
	t.Helper()
	held := 0
	for _, job := range h.store.All() {
		held++
		if job.Result != nil {
			held++
		}
	}
	stats := h.views.Stats()
	if stats.Live != held {
		t.Fatalf("live handles = %d, held by jobs = %d (stats %+v)", stats.Live, held, stats)
	}
	if stats.Acquired-stats.Released != int64(stats.Live) {
		t.Fatalf("acquire/release imbalance: %+v", stats)
	}
}
