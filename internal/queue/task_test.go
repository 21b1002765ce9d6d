package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/asif420570/Image-compressor/internal/jobs"
	"github.com/asif420570/Image-compressor/internal/view"
)

type mapResolver map[string]*jobs.Runner

func (r mapResolver) Runner(scope string) (*jobs.Runner, bool) {
	runner, ok := r[scope]
	return runner, ok
}

func TestNewTaskRoundTrip(t *testing.T) {
	in := jobs.Task{Scope: "ws-1", JobID: 3, Epoch: 9}
	task, err := NewTask(in)
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if task.Type() != TaskTypeCompress {
		t.Fatalf("type = %s", task.Type())
	}
	out, err := ParseTask(task)
	if err != nil {
		t.Fatalf("ParseTask: %v", err)
	}
	if out != in {
		t.Fatalf("ParseTask = %+v, want %+v", out, in)
	}
}

func TestNewTaskRequiresScopeAndID(t *testing.T) {
	if _, err := NewTask(jobs.Task{JobID: 1}); err == nil {
		t.Fatal("expected error for empty scope")
	}
	if _, err := NewTask(jobs.Task{Scope: "ws"}); err == nil {
		t.Fatal("expected error for zero job id")
	}
}

func TestParseTaskRejectsMalformedPayload(t *testing.T) {
	_, err := ParseTask(asynq.NewTask(TaskTypeCompress, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("ParseTask error = %v, want SkipRetry", err)
	}
}

func TestHandleRunsJobInOwningWorkspace(t *testing.T) {
	store := jobs.NewStore()
	views := view.NewRegistry(zerolog.Nop())
	runner := jobs.NewRunner(jobs.RunnerConfig{
		Store: store,
		Views: views,
		Transformer: jobs.TransformFunc(func(_ context.Context, input []byte, _ jobs.Options) ([]byte, error) {
			return input[:1], nil
		}),
		Logger: zerolog.Nop(),
	})
	job := store.Create(jobs.Source{Name: "a.png", Data: []byte("abc")}, jobs.Parameters{Value: 1, Unit: jobs.UnitKB})

	task, err := NewTask(jobs.Task{Scope: "ws-1", JobID: job.ID, Epoch: job.Epoch})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := handle(context.Background(), mapResolver{"ws-1": runner}, zerolog.Nop(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got, _ := store.Get(job.ID)
	if got.Status != jobs.StatusDone || string(got.Result.Data) != "a" {
		t.Fatalf("job = %+v, want done", got)
	}
}

func TestHandleIgnoresClosedWorkspace(t *testing.T) {
	task, err := NewTask(jobs.Task{Scope: "gone", JobID: 1, Epoch: 1})
	if err != nil {
		t.Fatalf("NewTask: %v", err)
	}
	if err := handle(context.Background(), mapResolver{}, zerolog.Nop(), task); err != nil {
		t.Fatalf("handle: %v", err)
	}
}
