package workspace

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/jobs"
)

func halve(_ context.Context, input []byte, _ jobs.Options) ([]byte, error) {
	return append([]byte(nil), input[:len(input)/2]...), nil
}

func newTestRegistry() *Registry {
	return NewRegistry(Options{
		Transformer:  jobs.TransformFunc(halve),
		Defaults:     jobs.Parameters{Value: 500, Unit: jobs.UnitKB},
		MaxDimension: 1920,
		Concurrency:  4,
		Logger:       zerolog.Nop(),
	})
}

func waitDone(t *testing.T, ws *Workspace) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for ws.Controller.Summary().AnyRunning {
		if time.Now().After(deadline) {
			t.Fatal("jobs did not finish")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestOpenRunsJobsInProcess(t *testing.T) {
	r := newTestRegistry()
	ws, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, err := ws.Controller.Submit(context.Background(), []jobs.Upload{{Name: "a.jpg", Data: make([]byte, 100)}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, ws)

	job, err := ws.Controller.Job(1)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if job.Status != jobs.StatusDone || len(job.Result.Data) != 50 {
		t.Fatalf("job = %+v", job)
	}

	archive, err := ws.Bundler.ExportAll(context.Background())
	if err != nil {
		t.Fatalf("ExportAll: %v", err)
	}
	if archive.Entries != 1 {
		t.Fatalf("entries = %d", archive.Entries)
	}
}

func TestCloseReleasesEveryHandle(t *testing.T) {
	r := newTestRegistry()
	ws, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ws.Controller.Submit(context.Background(), []jobs.Upload{
		{Name: "a.jpg", Data: make([]byte, 10)},
		{Name: "b.jpg", Data: make([]byte, 20)},
	}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, ws)

	if !r.Close(ws.ID) {
		t.Fatal("Close reported missing workspace")
	}
	if ws.Views.Live() != 0 {
		t.Fatalf("live views after close = %d", ws.Views.Live())
	}
	if _, ok := r.Get(ws.ID); ok {
		t.Fatal("closed workspace still registered")
	}
	if _, ok := r.Runner(ws.ID); ok {
		t.Fatal("closed workspace still resolves a runner")
	}
	if r.Close(ws.ID) {
		t.Fatal("second Close must report false")
	}
}

func TestSweepClosesIdleWorkspaces(t *testing.T) {
	r := newTestRegistry()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	idle, _ := r.Open()
	active, _ := r.Open()

	now = now.Add(20 * time.Minute)
	if _, ok := r.Get(active.ID); !ok {
		t.Fatal("active workspace missing")
	}
	now = now.Add(15 * time.Minute)

	if n := r.Sweep(30 * time.Minute); n != 1 {
		t.Fatalf("Sweep closed %d, want 1", n)
	}
	if _, ok := r.Runner(idle.ID); ok {
		t.Fatal("idle workspace must be closed")
	}
	if _, ok := r.Runner(active.ID); !ok {
		t.Fatal("active workspace must survive")
	}
}

type countingDispatcher struct {
	mu    sync.Mutex
	tasks []jobs.Task
}

func (d *countingDispatcher) Dispatch(_ context.Context, task jobs.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tasks = append(d.tasks, task)
	return nil
}

func TestSharedDispatcherCarriesScope(t *testing.T) {
	r := newTestRegistry()
	d := &countingDispatcher{}
	r.UseDispatcher(d)

	ws, err := r.Open()
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := ws.Controller.Submit(context.Background(), []jobs.Upload{{Name: "a.jpg", Data: []byte("abcd")}}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(d.tasks) != 1 || d.tasks[0].Scope != ws.ID {
		t.Fatalf("tasks = %+v", d.tasks)
	}

	runner, ok := r.Runner(d.tasks[0].Scope)
	if !ok {
		t.Fatal("scope did not resolve")
	}
	runner.Run(context.Background(), d.tasks[0].JobID, d.tasks[0].Epoch)
	if s := ws.Controller.Summary(); s.DoneCount != 1 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestCloseAll(t *testing.T) {
	r := newTestRegistry()
	r.Open()
	r.Open()
	if n := r.CloseAll(); n != 2 {
		t.Fatalf("CloseAll = %d, want 2", n)
	}
	if r.Len() != 0 {
		t.Fatalf("Len = %d", r.Len())
	}
}
