package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shaiso/iib/internal/domain"
)

// MemoryStore — RequestStore в памяти процесса.
// Используется в тестах и при локальном запуске без БД.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[int64]*domain.Request
	nextID   int64
	now      func() time.Time
}

// NewMemoryStore создаёт пустой MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[int64]*domain.Request),
		now:      time.Now,
	}
}

// Create сохраняет копию запроса и присваивает ему ID.
func (s *MemoryStore) Create(_ context.Context, req *domain.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	now := s.now().UTC()

	req.ID = s.nextID
	if req.State == "" {
		req.State = domain.RequestStateQueued
	}
	req.CreatedAt = now
	req.UpdatedAt = now

	s.requests[req.ID] = cloneRequest(req)
	return nil
}

// Get возвращает копию запроса.
func (s *MemoryStore) Get(_ context.Context, id int64) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRequest(req), nil
}

// Update применяет обновление под мьютексом.
func (s *MemoryStore) Update(_ context.Context, id int64, upd domain.RequestUpdate) (*domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}

	// Apply на копии: при ошибке хранимый запрос не меняется
	next := cloneRequest(current)
	if err := next.Apply(upd, s.now().UTC()); err != nil {
		return nil, invalidState(err)
	}

	s.requests[id] = next
	return cloneRequest(next), nil
}

// SetState меняет состояние и причину.
func (s *MemoryStore) SetState(ctx context.Context, id int64, state domain.RequestState, reason string) (*domain.Request, error) {
	return s.Update(ctx, id, domain.StateUpdate(state, reason))
}

// List возвращает запросы по убыванию ID.
func (s *MemoryStore) List(_ context.Context, filter RequestFilter) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []domain.Request
	for _, req := range s.requests {
		if filter.State != "" && req.State != filter.State {
			continue
		}
		all = append(all, *cloneRequest(req))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	return page(all, filter.Offset, limitOrDefault(filter.Limit)), nil
}

// ListStale возвращает незавершённые запросы, не обновлявшиеся с before.
func (s *MemoryStore) ListStale(_ context.Context, before time.Time, limit int) ([]domain.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stale []domain.Request
	for _, req := range s.requests {
		if req.State.IsTerminal() || !req.UpdatedAt.Before(before) {
			continue
		}
		stale = append(stale, *cloneRequest(req))
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })

	return page(stale, 0, limitOrDefault(limit)), nil
}

func page(requests []domain.Request, offset, limit int) []domain.Request {
	if offset >= len(requests) {
		return nil
	}
	requests = requests[offset:]
	if len(requests) > limit {
		requests = requests[:limit]
	}
	return requests
}

func cloneRequest(req *domain.Request) *domain.Request {
	c := *req
	c.Bundles = append([]string(nil), req.Bundles...)
	c.AddArches = append([]string(nil), req.AddArches...)
	c.ArchesDone = append([]string(nil), req.ArchesDone...)
	return &c
}
