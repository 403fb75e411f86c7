package worker

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"

	"github.com/shaiso/iib/internal/command"
	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/lock"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
)

// --- Fakes ---

// fakeBuilder записывает шаги и может упасть на одном из них.
type fakeBuilder struct {
	steps  []string
	failAt string
	dir    string
}

func (f *fakeBuilder) step(name string) error {
	f.steps = append(f.steps, name)
	if f.failAt == name {
		return domain.NewFailure(command.ErrCommandFailed, "Failed to "+name+" on the arch s390x")
	}
	return nil
}

func (f *fakeBuilder) Cleanup(context.Context) error { return f.step("cleanup") }

func (f *fakeBuilder) Generate(_ context.Context, dir string, _ domain.BuildJob) error {
	f.dir = dir
	return f.step("generate")
}

func (f *fakeBuilder) PatchRecipe(string) error { return f.step("patch") }

func (f *fakeBuilder) BuildImage(context.Context, string, int64) error { return f.step("build") }

func (f *fakeBuilder) PushImage(context.Context, int64) (string, error) {
	return "registry:8443/iib-build:1-s390x", f.step("push")
}

type fakeLocker struct {
	held     bool
	released bool
}

func (f *fakeLocker) Acquire(context.Context, int64, string) (func(context.Context) error, error) {
	if f.held {
		return nil, lock.ErrLocked
	}
	f.held = true
	return func(context.Context) error {
		f.released = true
		return nil
	}, nil
}

// --- Helpers ---

func newTestWorker(t *testing.T, builder *fakeBuilder) (*Worker, *repo.MemoryStore, domain.BuildJob) {
	t.Helper()
	store := repo.NewMemoryStore()
	req := &domain.Request{
		Bundles:     []string{"quay.io/ns/bundle:v1"},
		BinaryImage: "quay.io/ns/opm:latest",
		AddArches:   []string{"s390x"},
	}
	ctx := context.Background()
	if err := store.Create(ctx, req); err != nil {
		t.Fatal(err)
	}
	if _, err := store.SetState(ctx, req.ID, domain.RequestStateInProgress, "Scheduling"); err != nil {
		t.Fatal(err)
	}

	w := New(Config{
		Store:   store,
		Builder: builder,
		Arch:    "s390x",
		TempDir: t.TempDir(),
	})
	job := domain.BuildJob{
		Bundles:             req.Bundles,
		BinaryImageResolved: "quay.io/ns/opm@sha256:aaa",
		RequestID:           req.ID,
	}
	return w, store, job
}

// --- Build ---

func TestBuild_Pipeline(t *testing.T) {
	builder := &fakeBuilder{}
	w, store, job := newTestWorker(t, builder)

	if err := w.Build(context.Background(), job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"cleanup", "generate", "patch", "build", "push"}
	if !reflect.DeepEqual(builder.steps, want) {
		t.Errorf("unexpected steps: %v", builder.steps)
	}

	req, _ := store.Get(context.Background(), job.RequestID)
	if !reflect.DeepEqual(req.ArchesDone, []string{"s390x"}) {
		t.Errorf("arch should be reported, got %v", req.ArchesDone)
	}
	if req.State != domain.RequestStateInProgress {
		t.Errorf("worker must not change the state, got %s", req.State)
	}

	// Рабочая директория удалена
	if _, err := os.Stat(builder.dir); !os.IsNotExist(err) {
		t.Errorf("workspace should be removed, stat err: %v", err)
	}
}

func TestBuild_RequestAlreadyFailed(t *testing.T) {
	builder := &fakeBuilder{}
	w, store, job := newTestWorker(t, builder)
	ctx := context.Background()
	store.SetState(ctx, job.RequestID, domain.RequestStateFailed, "Failed on amd64")

	err := w.Build(ctx, job)
	if !errors.Is(err, ErrRequestAlreadyFailed) {
		t.Fatalf("expected ErrRequestAlreadyFailed, got %v", err)
	}
	if len(builder.steps) != 0 {
		t.Errorf("no build steps expected, got %v", builder.steps)
	}

	req, _ := store.Get(ctx, job.RequestID)
	if req.StateReason != "Not building for the arch s390x since the request has already failed" {
		t.Errorf("unexpected reason: %s", req.StateReason)
	}
	if len(req.ArchesDone) != 0 {
		t.Errorf("arch must not be reported: %v", req.ArchesDone)
	}
}

func TestBuild_StepFailureStopsPipeline(t *testing.T) {
	builder := &fakeBuilder{failAt: "build"}
	w, store, job := newTestWorker(t, builder)

	err := w.Build(context.Background(), job)
	if !errors.Is(err, command.ErrCommandFailed) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if domain.ReasonOf(err) != "Failed to build on the arch s390x" {
		t.Errorf("unexpected reason: %s", domain.ReasonOf(err))
	}
	if !reflect.DeepEqual(builder.steps, []string{"cleanup", "generate", "patch", "build"}) {
		t.Errorf("unexpected steps: %v", builder.steps)
	}

	req, _ := store.Get(context.Background(), job.RequestID)
	if len(req.ArchesDone) != 0 {
		t.Errorf("arch must not be reported after a failure: %v", req.ArchesDone)
	}
}

func TestBuild_ReportFailure(t *testing.T) {
	w, _, job := newTestWorker(t, &fakeBuilder{})
	job.RequestID = 999

	// Запрос не найден уже на проверке
	if err := w.Build(context.Background(), job); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	w2, _, job2 := newTestWorker(t, &fakeBuilder{})
	w2.store = &dropUpdates{RequestStore: w2.store}
	err := w2.Build(context.Background(), job2)
	if !errors.Is(err, ErrReportFailed) || domain.ReasonOf(err) != "Failed adding the arch s390x" {
		t.Fatalf("expected report failure, got %v", err)
	}
}

// dropUpdates ломает Update, оставляя остальные методы хранилища.
type dropUpdates struct {
	repo.RequestStore
}

func (d *dropUpdates) Update(context.Context, int64, domain.RequestUpdate) (*domain.Request, error) {
	return nil, errors.New("database is gone")
}

func TestBuild_Locked(t *testing.T) {
	builder := &fakeBuilder{}
	w, _, job := newTestWorker(t, builder)
	locker := &fakeLocker{held: true}
	w.locker = locker

	if err := w.Build(context.Background(), job); !errors.Is(err, lock.ErrLocked) {
		t.Fatalf("expected ErrLocked, got %v", err)
	}
	if len(builder.steps) != 0 {
		t.Errorf("duplicate job must not build: %v", builder.steps)
	}

	locker.held = false
	if err := w.Build(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if !locker.released {
		t.Error("lock should be released after the build")
	}
}

// --- handleBuildArch ---

func delivery(t *testing.T, job domain.BuildJob) *mq.Delivery {
	t.Helper()
	return &mq.Delivery{Message: mq.Message{
		Type:    mq.MessageType(job.Kind()),
		Payload: job,
		OnError: mq.FailRequest(job.RequestID),
	}}
}

func TestHandleBuildArch(t *testing.T) {
	t.Run("already failed is acked", func(t *testing.T) {
		w, store, job := newTestWorker(t, &fakeBuilder{})
		store.SetState(context.Background(), job.RequestID, domain.RequestStateFailed, "boom")

		if err := w.handleBuildArch(context.Background(), delivery(t, job)); err != nil {
			t.Errorf("expected nil, got %v", err)
		}
	})

	t.Run("build failure is returned", func(t *testing.T) {
		w, _, job := newTestWorker(t, &fakeBuilder{failAt: "push"})

		if err := w.handleBuildArch(context.Background(), delivery(t, job)); err == nil {
			t.Error("expected error for the fail_request callback")
		}
	})

	t.Run("success", func(t *testing.T) {
		w, _, job := newTestWorker(t, &fakeBuilder{})

		if err := w.handleBuildArch(context.Background(), delivery(t, job)); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})
}

// TestBuild_FailureCallback — ошибка сборки через callback переводит запрос в failed.
func TestBuild_FailureCallback(t *testing.T) {
	w, store, job := newTestWorker(t, &fakeBuilder{failAt: "push"})
	ctx := context.Background()

	buildErr := w.Build(ctx, job)

	callbacks := mq.NewCallbacks()
	callbacks.Register(mq.CallbackFailRequest, mq.FailRequestFunc(store, nil))
	if err := callbacks.Invoke(ctx, *mq.FailRequest(job.RequestID), buildErr); err != nil {
		t.Fatal(err)
	}

	req, _ := store.Get(ctx, job.RequestID)
	if req.State != domain.RequestStateFailed || req.StateReason != "Failed to push on the arch s390x" {
		t.Errorf("unexpected request: %s %q", req.State, req.StateReason)
	}
}
