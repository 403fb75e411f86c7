package reaper

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shaiso/iib/internal/domain"
	"github.com/shaiso/iib/internal/repo"
)

func newRequest(t *testing.T, store *repo.MemoryStore, state domain.RequestState) int64 {
	t.Helper()
	req := &domain.Request{Bundles: []string{"b"}, BinaryImage: "o", AddArches: []string{"amd64"}}
	if err := store.Create(context.Background(), req); err != nil {
		t.Fatal(err)
	}
	if state != domain.RequestStateQueued {
		if _, err := store.SetState(context.Background(), req.ID, state, "x"); err != nil {
			t.Fatal(err)
		}
	}
	return req.ID
}

func TestTick_ReapsStaleRequests(t *testing.T) {
	store := repo.NewMemoryStore()
	queued := newRequest(t, store, domain.RequestStateQueued)
	building := newRequest(t, store, domain.RequestStateInProgress)
	done := newRequest(t, store, domain.RequestStateComplete)

	r := New(Config{Store: store, MaxAge: time.Hour})
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	reaped, err := r.Tick(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if reaped != 2 {
		t.Errorf("expected 2 reaped, got %d", reaped)
	}

	for _, id := range []int64{queued, building} {
		req, _ := store.Get(context.Background(), id)
		if req.State != domain.RequestStateFailed {
			t.Errorf("request %d: expected failed, got %s", id, req.State)
		}
		if !strings.HasPrefix(req.StateReason, "The request was abandoned after no progress for 1h0m0s") {
			t.Errorf("request %d: unexpected reason %q", id, req.StateReason)
		}
	}

	req, _ := store.Get(context.Background(), done)
	if req.State != domain.RequestStateComplete {
		t.Errorf("complete request must not be touched, got %s", req.State)
	}
}

func TestTick_FreshRequestsUntouched(t *testing.T) {
	store := repo.NewMemoryStore()
	id := newRequest(t, store, domain.RequestStateInProgress)

	r := New(Config{Store: store, MaxAge: time.Hour})

	reaped, err := r.Tick(context.Background())
	if err != nil || reaped != 0 {
		t.Fatalf("expected nothing reaped, got %d, %v", reaped, err)
	}

	req, _ := store.Get(context.Background(), id)
	if req.State != domain.RequestStateInProgress {
		t.Errorf("fresh request should stay in_progress, got %s", req.State)
	}
}

// movingStore меняет состояние запроса между выборкой и обновлением.
type movingStore struct {
	*repo.MemoryStore
}

func (m *movingStore) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Request, error) {
	stale, err := m.MemoryStore.ListStale(ctx, before, limit)
	for _, req := range stale {
		m.MemoryStore.SetState(ctx, req.ID, domain.RequestStateInProgress, "picked up")
	}
	return stale, err
}

func TestTick_SkipsRequestThatMovedOn(t *testing.T) {
	store := &movingStore{repo.NewMemoryStore()}
	id := newRequest(t, store.MemoryStore, domain.RequestStateQueued)

	r := New(Config{Store: store, MaxAge: time.Hour})
	r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	reaped, err := r.Tick(context.Background())
	if err != nil || reaped != 0 {
		t.Fatalf("expected nothing reaped, got %d, %v", reaped, err)
	}

	req, _ := store.Get(context.Background(), id)
	if req.State != domain.RequestStateInProgress {
		t.Errorf("expected in_progress, got %s", req.State)
	}
}

func TestParseSchedule(t *testing.T) {
	schedule, err := ParseSchedule("*/5 * * * *")
	if err != nil {
		t.Fatal(err)
	}

	from := time.Date(2026, 1, 1, 10, 2, 0, 0, time.UTC)
	if next := schedule.Next(from); !next.Equal(time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)) {
		t.Errorf("unexpected next run: %s", next)
	}

	if _, err := ParseSchedule("every five minutes"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

// everyInstant — расписание, срабатывающее сразу.
type everyInstant struct{}

func (everyInstant) Next(t time.Time) time.Time { return t.Add(time.Millisecond) }

type fakeLeader struct {
	mu       sync.Mutex
	leader   bool
	err      error
	tries    int
	unlocked bool
}

func (f *fakeLeader) TryLock(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	return f.leader, f.err
}

func (f *fakeLeader) Unlock(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unlocked = true
	return nil
}

func TestRun_OnlyLeaderReaps(t *testing.T) {
	for _, tc := range []struct {
		name   string
		leader *fakeLeader
		want   domain.RequestState
	}{
		{"leader", &fakeLeader{leader: true}, domain.RequestStateFailed},
		{"follower", &fakeLeader{leader: false}, domain.RequestStateQueued},
		{"lock error", &fakeLeader{err: errors.New("db down")}, domain.RequestStateQueued},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := repo.NewMemoryStore()
			id := newRequest(t, store, domain.RequestStateQueued)

			r := New(Config{Store: store, MaxAge: time.Hour})
			r.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			if err := r.Run(ctx, everyInstant{}, tc.leader); !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("expected deadline exceeded, got %v", err)
			}

			req, _ := store.Get(context.Background(), id)
			if req.State != tc.want {
				t.Errorf("expected %s, got %s", tc.want, req.State)
			}
			if tc.leader.tries == 0 || !tc.leader.unlocked {
				t.Errorf("leadership should be tried and released: %+v", tc.leader)
			}
		})
	}
}
