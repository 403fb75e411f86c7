package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/iib/internal/domain"
)

const requestColumns = `
	id, state, state_reason, bundles, binary_image, from_index, add_arches,
	binary_image_resolved, from_index_resolved, arches, index_image, created_at, updated_at
`

// RequestRepo — PostgreSQL-реализация RequestStore.
type RequestRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRequestRepo создаёт новый RequestRepo.
func NewRequestRepo(pool *pgxpool.Pool) *RequestRepo {
	return &RequestRepo{pool: pool, now: time.Now}
}

// Create создаёт новый запрос.
func (r *RequestRepo) Create(ctx context.Context, req *domain.Request) error {
	now := r.now().UTC()
	if req.State == "" {
		req.State = domain.RequestStateQueued
	}
	req.CreatedAt = now
	req.UpdatedAt = now

	query := `
		INSERT INTO requests (state, state_reason, bundles, binary_image, from_index, add_arches,
		                      arches, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := r.pool.QueryRow(ctx, query,
		req.State,
		req.StateReason,
		req.Bundles,
		req.BinaryImage,
		nullString(req.FromIndex),
		nonNil(req.AddArches),
		nonNil(req.ArchesDone),
		req.CreatedAt,
		req.UpdatedAt,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("insert request: %w", err)
	}
	return nil
}

// Get возвращает запрос по ID.
func (r *RequestRepo) Get(ctx context.Context, id int64) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	return scanRequest(r.pool.QueryRow(ctx, query, id))
}

// Update применяет обновление в транзакции: SELECT ... FOR UPDATE, Apply, UPDATE.
func (r *RequestRepo) Update(ctx context.Context, id int64, upd domain.RequestUpdate) (*domain.Request, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1 FOR UPDATE`
	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}

	if err := req.Apply(upd, r.now().UTC()); err != nil {
		return nil, invalidState(err)
	}

	update := `
		UPDATE requests
		SET state = $2, state_reason = $3, binary_image_resolved = $4, from_index_resolved = $5,
		    arches = $6, index_image = $7, updated_at = $8
		WHERE id = $1
	`
	_, err = tx.Exec(ctx, update,
		req.ID,
		req.State,
		req.StateReason,
		nullString(req.BinaryImageResolved),
		nullString(req.FromIndexResolved),
		nonNil(req.ArchesDone),
		nullString(req.IndexImage),
		req.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("update request: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return req, nil
}

// SetState меняет состояние и причину.
func (r *RequestRepo) SetState(ctx context.Context, id int64, state domain.RequestState, reason string) (*domain.Request, error) {
	return r.Update(ctx, id, domain.StateUpdate(state, reason))
}

// List возвращает список запросов с фильтрацией.
func (r *RequestRepo) List(ctx context.Context, filter RequestFilter) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE ($1::text IS NULL OR state = $1)
		ORDER BY id DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query,
		nullString(string(filter.State)),
		limitOrDefault(filter.Limit),
		filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	return collectRequests(rows)
}

// ListStale возвращает queued/in_progress запросы, не обновлявшиеся с before.
func (r *RequestRepo) ListStale(ctx context.Context, before time.Time, limit int) ([]domain.Request, error) {
	query := `
		SELECT ` + requestColumns + `
		FROM requests
		WHERE state IN ('queued', 'in_progress') AND updated_at < $1
		ORDER BY updated_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, before, limitOrDefault(limit))
	if err != nil {
		return nil, fmt.Errorf("list stale requests: %w", err)
	}
	return collectRequests(rows)
}

// --- Helpers ---

// scanRequest сканирует одну строку в Request.
func scanRequest(row pgx.Row) (*domain.Request, error) {
	var req domain.Request
	var fromIndex, binaryResolved, fromIndexResolved, indexImage *string

	err := row.Scan(
		&req.ID,
		&req.State,
		&req.StateReason,
		&req.Bundles,
		&req.BinaryImage,
		&fromIndex,
		&req.AddArches,
		&binaryResolved,
		&fromIndexResolved,
		&req.ArchesDone,
		&indexImage,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan request: %w", err)
	}

	req.FromIndex = derefString(fromIndex)
	req.BinaryImageResolved = derefString(binaryResolved)
	req.FromIndexResolved = derefString(fromIndexResolved)
	req.IndexImage = derefString(indexImage)

	return &req, nil
}

// collectRequests вычитывает rows и закрывает их.
func collectRequests(rows pgx.Rows) ([]domain.Request, error) {
	defer rows.Close()

	var requests []domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, rows.Err()
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// nonNil заменяет nil-срез пустым: колонки TEXT[] объявлены NOT NULL.
func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
