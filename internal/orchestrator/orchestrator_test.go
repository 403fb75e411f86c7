package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/image"
	"github.com/shaiso/iib/internal/mq"
	"github.com/shaiso/iib/internal/repo"
)

// --- Fakes ---

type fakeResolver struct {
	resolved map[string]string
	arches   map[string]domain.ArchSet
}

func (f *fakeResolver) Resolve(_ context.Context, pullSpec string) (string, error) {
	if r, ok := f.resolved[pullSpec]; ok {
		return r, nil
	}
	return "", domain.NewFailure(image.ErrImageResolution,
		fmt.Sprintf("Failed to inspect docker://%s. Make sure it exists and is accessible to IIB.", pullSpec))
}

func (f *fakeResolver) Arches(_ context.Context, pullSpec string) (domain.ArchSet, error) {
	if a, ok := f.arches[pullSpec]; ok {
		return a, nil
	}
	return nil, domain.NewFailure(image.ErrNotMultiArch, "not a manifest list")
}

type submission struct {
	job     mq.Job
	route   mq.Route
	onError *mq.Callback
}

// fakeDispatcher запоминает задания; onSubmit имитирует воркер.
type fakeDispatcher struct {
	mu          sync.Mutex
	submissions []submission
	onSubmit    func(job domain.BuildJob, arch string)
}

func (f *fakeDispatcher) Submit(_ context.Context, job mq.Job, route mq.Route, onError *mq.Callback) error {
	f.mu.Lock()
	f.submissions = append(f.submissions, submission{job: job, route: route, onError: onError})
	f.mu.Unlock()

	if f.onSubmit != nil {
		arch := string(route)[len("iib_"):]
		go f.onSubmit(job.(domain.BuildJob), arch)
	}
	return nil
}

func (f *fakeDispatcher) routes() []mq.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	var routes []mq.Route
	for _, s := range f.submissions {
		routes = append(routes, s.route)
	}
	return routes
}

type fakeManifests struct {
	mu     sync.Mutex
	calls  int
	arches []string
	err    error
}

func (f *fakeManifests) BuildAndPush(_ context.Context, requestID int64, arches domain.ArchSet) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.arches = arches.Sorted()
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("registry:8443/iib-build:%d", requestID), nil
}

func (f *fakeManifests) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// --- Helpers ---

const (
	binaryImage    = "quay.io/ns/opm:latest"
	binaryResolved = "quay.io/ns/opm@sha256:aaa"
	fromIndex      = "quay.io/ns/index:v4.5"
	fromResolved   = "quay.io/ns/index@sha256:bbb"
)

func newResolver() *fakeResolver {
	return &fakeResolver{
		resolved: map[string]string{
			binaryImage: binaryResolved,
			fromIndex:   fromResolved,
		},
		arches: map[string]domain.ArchSet{
			binaryResolved: domain.NewArchSet("amd64", "s390x", "ppc64le"),
			fromResolved:   domain.NewArchSet("amd64", "arm64"),
		},
	}
}

type testEnv struct {
	store      *repo.MemoryStore
	resolver   *fakeResolver
	dispatcher *fakeDispatcher
	manifests  *fakeManifests
	orch       *Orchestrator
}

func newTestEnv(t *testing.T, supported ...string) *testEnv {
	t.Helper()
	if len(supported) == 0 {
		supported = []string{"amd64", "s390x"}
	}

	env := &testEnv{
		store:      repo.NewMemoryStore(),
		resolver:   newResolver(),
		dispatcher: &fakeDispatcher{},
		manifests:  &fakeManifests{},
	}
	env.orch = New(Config{
		Store:           env.store,
		Resolver:        env.resolver,
		Dispatcher:      env.dispatcher,
		Manifests:       env.manifests,
		SupportedArches: supported,
		PollInterval:    5 * time.Millisecond,
		PollTimeout:     2 * time.Second,
	})
	return env
}

func (e *testEnv) createRequest(t *testing.T, addArches []string, from string) domain.AddRequestJob {
	t.Helper()
	req := &domain.Request{
		Bundles:     []string{"quay.io/ns/bundle:v1"},
		BinaryImage: binaryImage,
		FromIndex:   from,
		AddArches:   addArches,
	}
	if err := e.store.Create(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	return domain.AddRequestJobFrom(req)
}

func (e *testEnv) request(t *testing.T, id int64) *domain.Request {
	t.Helper()
	req, err := e.store.Get(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return req
}

// --- Prepare ---

func TestPrepare_AddArchesOnly(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")

	prepared, err := env.orch.Prepare(context.Background(), job)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(prepared.Arches.Sorted(), []string{"amd64", "s390x"}) {
		t.Errorf("unexpected arches: %s", prepared.Arches)
	}
	if prepared.BinaryImageResolved != binaryResolved || prepared.FromIndexResolved != "" {
		t.Errorf("unexpected resolved images: %+v", prepared)
	}

	req := env.request(t, job.RequestID)
	if req.State != domain.RequestStateInProgress {
		t.Errorf("expected in_progress, got %s", req.State)
	}
	if req.StateReason != "Scheduling index image builds for the following arches: amd64, s390x" {
		t.Errorf("unexpected reason: %s", req.StateReason)
	}
	if req.BinaryImageResolved != binaryResolved {
		t.Errorf("resolved binary image not recorded: %s", req.BinaryImageResolved)
	}
}

func TestPrepare_FromIndexUnsupportedGlobally(t *testing.T) {
	env := newTestEnv(t, "amd64", "s390x")
	// binary image поддерживает arm64, чтобы сработала именно глобальная проверка
	env.resolver.arches[binaryResolved] = domain.NewArchSet("amd64", "arm64", "s390x")
	job := env.createRequest(t, nil, fromIndex)

	_, err := env.orch.Prepare(context.Background(), job)
	if !errors.Is(err, ErrUnsupportedGlobalArch) {
		t.Fatalf("expected ErrUnsupportedGlobalArch, got %v", err)
	}
	if got := domain.ReasonOf(err); got != "Building for the following requested arches is not supported: arm64" {
		t.Errorf("unexpected reason: %s", got)
	}
}

func TestPrepare_UnsupportedGloballyListsArches(t *testing.T) {
	env := newTestEnv(t, "amd64")
	env.resolver.arches[binaryResolved] = domain.NewArchSet("amd64", "arm64", "s390x")
	job := env.createRequest(t, []string{"s390x", "arm64", "amd64"}, "")

	_, err := env.orch.Prepare(context.Background(), job)
	if !errors.Is(err, ErrUnsupportedGlobalArch) {
		t.Fatalf("expected ErrUnsupportedGlobalArch, got %v", err)
	}
	if got := domain.ReasonOf(err); got != "Building for the following requested arches is not supported: arm64,s390x" {
		t.Errorf("unexpected reason: %s", got)
	}
}

func TestPrepare_UnsupportedBinaryArchesListed(t *testing.T) {
	env := newTestEnv(t, "amd64", "arm64", "s390x", "ppc64le")
	env.resolver.arches[binaryResolved] = domain.NewArchSet("amd64")
	job := env.createRequest(t, []string{"s390x", "arm64", "amd64"}, "")

	_, err := env.orch.Prepare(context.Background(), job)
	if got := domain.ReasonOf(err); got != "The binary image is not available for the following arches: arm64, s390x" {
		t.Errorf("unexpected reason: %s", got)
	}
}

func TestPrepare_UnsupportedBinaryArch(t *testing.T) {
	env := newTestEnv(t, "amd64", "arm64", "s390x")
	job := env.createRequest(t, []string{"s390x"}, fromIndex)

	_, err := env.orch.Prepare(context.Background(), job)
	if !errors.Is(err, ErrUnsupportedBinaryArch) {
		t.Fatalf("expected ErrUnsupportedBinaryArch, got %v", err)
	}
	if got := domain.ReasonOf(err); got != "The binary image is not available for the following arches: arm64" {
		t.Errorf("unexpected reason: %s", got)
	}
}

func TestPrepare_SubsetProperty(t *testing.T) {
	binary := domain.NewArchSet("amd64", "s390x", "ppc64le")
	global := domain.NewArchSet("amd64", "s390x", "arm64")

	candidates := [][]string{
		{"amd64"},
		{"amd64", "s390x"},
		{"ppc64le"},
		{"arm64"},
		{"amd64", "ppc64le", "arm64"},
		{"s390x", "amd64"},
	}

	for _, requested := range candidates {
		env := newTestEnv(t, global.Sorted()...)
		env.resolver.arches[binaryResolved] = binary
		job := env.createRequest(t, requested, "")

		_, err := env.orch.Prepare(context.Background(), job)

		set := domain.NewArchSet(requested...)
		wantOK := set.IsSubsetOf(binary) && set.IsSubsetOf(global)
		if wantOK != (err == nil) {
			t.Errorf("requested %v: success=%v, err=%v", requested, wantOK, err)
			continue
		}
		if err == nil {
			continue
		}

		var missing string
		if errors.Is(err, ErrUnsupportedBinaryArch) {
			missing = strings.Join(set.Minus(binary).Sorted(), ", ")
		} else {
			missing = strings.Join(set.Minus(global).Sorted(), ",")
		}
		if reason := domain.ReasonOf(err); !strings.HasSuffix(reason, ": "+missing) {
			t.Errorf("requested %v: reason %q should name %s", requested, reason, missing)
		}
	}
}

func TestPrepare_NoArches(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, nil, "")

	_, err := env.orch.Prepare(context.Background(), job)
	if !errors.Is(err, ErrNoArches) {
		t.Fatalf("expected ErrNoArches, got %v", err)
	}
	if domain.ReasonOf(err) != "No arches were provided to build the index image" {
		t.Errorf("unexpected reason: %s", domain.ReasonOf(err))
	}
}

func TestPrepare_ResolutionFailure(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64"}, "")
	job.BinaryImage = "quay.io/ns/missing:latest"

	_, err := env.orch.Prepare(context.Background(), job)
	if !errors.Is(err, image.ErrImageResolution) {
		t.Fatalf("expected ErrImageResolution, got %v", err)
	}
}

func TestPrepare_ClaimsOnce(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64"}, "")

	if _, err := env.orch.Prepare(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if _, err := env.orch.Prepare(context.Background(), job); !errors.Is(err, ErrRequestNotQueued) {
		t.Errorf("redelivered job: expected ErrRequestNotQueued, got %v", err)
	}
}

// --- Dispatch ---

func TestDispatch_SortedArchRoutes(t *testing.T) {
	env := newTestEnv(t)
	prepared := &PreparedBuild{
		Arches:              domain.NewArchSet("s390x", "amd64", "ppc64le"),
		Bundles:             []string{"quay.io/ns/bundle:v1"},
		BinaryImageResolved: binaryResolved,
	}

	if err := env.orch.Dispatch(context.Background(), 7, prepared); err != nil {
		t.Fatal(err)
	}

	want := []mq.Route{"iib_amd64", "iib_ppc64le", "iib_s390x"}
	if !reflect.DeepEqual(env.dispatcher.routes(), want) {
		t.Errorf("unexpected routes: %v", env.dispatcher.routes())
	}

	for _, s := range env.dispatcher.submissions {
		job := s.job.(domain.BuildJob)
		if job.RequestID != 7 || job.BinaryImageResolved != binaryResolved || job.Bundles[0] != "quay.io/ns/bundle:v1" {
			t.Errorf("unexpected job: %+v", job)
		}
		if s.onError == nil || s.onError.Name != mq.CallbackFailRequest || s.onError.RequestID != 7 {
			t.Errorf("error callback not bound: %+v", s.onError)
		}
	}
}

// --- PollUntilDone ---

func TestPollUntilDone_AllArchesReported(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")
	ctx := context.Background()

	if _, err := env.store.SetState(ctx, job.RequestID, domain.RequestStateInProgress, "building"); err != nil {
		t.Fatal(err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{"amd64"}})
		time.Sleep(10 * time.Millisecond)
		env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{"s390x"}})
	}()

	done, err := env.orch.PollUntilDone(ctx, job.RequestID, domain.NewArchSet("amd64", "s390x"))
	if err != nil || !done {
		t.Fatalf("expected done, got %v, %v", done, err)
	}
}

func TestPollUntilDone_AbortsOnFailure(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")
	ctx := context.Background()

	env.store.SetState(ctx, job.RequestID, domain.RequestStateInProgress, "building")
	env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{"amd64"}})
	env.store.SetState(ctx, job.RequestID, domain.RequestStateFailed, "Failed to build the index image on the arch s390x")

	done, err := env.orch.PollUntilDone(ctx, job.RequestID, domain.NewArchSet("amd64", "s390x"))
	if err != nil || done {
		t.Fatalf("expected abort, got %v, %v", done, err)
	}
}

func TestPollUntilDone_Timeout(t *testing.T) {
	env := newTestEnv(t)
	env.orch.pollTimeout = 30 * time.Millisecond
	job := env.createRequest(t, []string{"amd64"}, "")
	env.store.SetState(context.Background(), job.RequestID, domain.RequestStateInProgress, "building")

	done, err := env.orch.PollUntilDone(context.Background(), job.RequestID, domain.NewArchSet("amd64"))
	if done || !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v, %v", done, err)
	}
}

func TestPollUntilDone_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	job := env.createRequest(t, []string{"amd64"}, "")
	env.store.SetState(context.Background(), job.RequestID, domain.RequestStateInProgress, "building")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done, err := env.orch.PollUntilDone(ctx, job.RequestID, domain.NewArchSet("amd64"))
	if done || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v, %v", done, err)
	}
}

// --- HandleAddRequest ---

func TestHandleAddRequest_Completes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dispatcher.onSubmit = func(job domain.BuildJob, arch string) {
		env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{arch}})
	}
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")

	if err := env.orch.HandleAddRequest(ctx, job); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	req := env.request(t, job.RequestID)
	if req.State != domain.RequestStateComplete || req.StateReason != "The request completed successfully" {
		t.Errorf("unexpected final state: %s %q", req.State, req.StateReason)
	}
	if req.IndexImage != fmt.Sprintf("registry:8443/iib-build:%d", job.RequestID) {
		t.Errorf("unexpected index image: %s", req.IndexImage)
	}
	if env.manifests.callCount() != 1 || !reflect.DeepEqual(env.manifests.arches, []string{"amd64", "s390x"}) {
		t.Errorf("manifest list should be built once for both arches: %d %v", env.manifests.calls, env.manifests.arches)
	}
	if env.orch.ActiveRequestsCount() != 0 {
		t.Error("request should leave the active set")
	}

	// Повторная доставка того же задания не строит manifest list второй раз
	if err := env.orch.HandleAddRequest(ctx, job); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if env.manifests.callCount() != 1 {
		t.Errorf("manifest list built %d times", env.manifests.callCount())
	}
}

func TestHandleAddRequest_WorkerFailureAborts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dispatcher.onSubmit = func(job domain.BuildJob, arch string) {
		if arch == "s390x" {
			env.store.SetState(ctx, job.RequestID, domain.RequestStateFailed,
				"Failed to build the index image on the arch s390x")
			return
		}
		// amd64 отчитывается позже, чем s390x упал
		time.Sleep(50 * time.Millisecond)
		env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{arch}})
	}
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")

	if err := env.orch.HandleAddRequest(ctx, job); err != nil {
		t.Fatalf("abort is not an error: %v", err)
	}

	if env.manifests.callCount() != 0 {
		t.Error("manifest list must not be built after a failure")
	}
	req := env.request(t, job.RequestID)
	if req.State != domain.RequestStateFailed || req.StateReason != "Failed to build the index image on the arch s390x" {
		t.Errorf("worker's failure should be kept: %s %q", req.State, req.StateReason)
	}
}

func TestHandleAddRequest_ManifestFailureReturnsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.dispatcher.onSubmit = func(job domain.BuildJob, arch string) {
		env.store.Update(ctx, job.RequestID, domain.RequestUpdate{Arches: []string{arch}})
	}
	env.manifests.err = errors.New("push failed")
	job := env.createRequest(t, []string{"amd64"}, "")

	if err := env.orch.HandleAddRequest(ctx, job); err == nil {
		t.Fatal("expected error for the fail_request callback")
	}

	req := env.request(t, job.RequestID)
	if req.IndexImage != "" || req.State == domain.RequestStateComplete {
		t.Errorf("request should not complete: %+v", req)
	}
}

func TestHandleAddRequest_ShutdownLeavesInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Воркер отчитывается, остановка приходит раньше второго отчёта
	env.dispatcher.onSubmit = func(job domain.BuildJob, arch string) {
		if arch == "amd64" {
			env.store.Update(context.Background(), job.RequestID, domain.RequestUpdate{Arches: []string{arch}})
			cancel()
		}
	}
	job := env.createRequest(t, []string{"amd64", "s390x"}, "")

	err := env.orch.HandleAddRequest(ctx, job)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	req := env.request(t, job.RequestID)
	if req.State != domain.RequestStateInProgress {
		t.Errorf("shutdown should not finish the request: %s %q", req.State, req.StateReason)
	}
	if env.manifests.callCount() != 0 {
		t.Error("manifest list must not be built on shutdown")
	}
}

func TestHandleAddRequest_AlreadyActive(t *testing.T) {
	env := newTestEnv(t)
	if err := env.orch.addActiveRequest(NewBuildProgress(1, time.Now())); err != nil {
		t.Fatal(err)
	}

	err := env.orch.HandleAddRequest(context.Background(), domain.AddRequestJob{RequestID: 1})
	if !errors.Is(err, ErrRequestAlreadyActive) {
		t.Errorf("expected ErrRequestAlreadyActive, got %v", err)
	}
}

// --- BuildProgress ---

func TestBuildProgress(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewBuildProgress(3, start)

	if p.Stage() != StagePreparing {
		t.Errorf("unexpected initial stage: %s", p.Stage())
	}

	p.SetArches(domain.NewArchSet("amd64", "s390x"))
	remaining := p.MarkDone(domain.NewArchSet("amd64"))
	if !reflect.DeepEqual(remaining.Sorted(), []string{"s390x"}) {
		t.Errorf("unexpected remaining: %s", remaining)
	}

	p.SetStage(StagePolling)
	stats := p.Stats(start.Add(time.Minute))
	if stats.RequestID != 3 || stats.Stage != StagePolling || stats.Elapsed != time.Minute {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if !reflect.DeepEqual(stats.Arches, []string{"amd64", "s390x"}) {
		t.Errorf("unexpected arches: %v", stats.Arches)
	}
}
