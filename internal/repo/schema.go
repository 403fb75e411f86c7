package repo

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS requests (
	id                    BIGSERIAL PRIMARY KEY,
	state                 TEXT NOT NULL CHECK (state IN ('queued', 'in_progress', 'complete', 'failed')),
	state_reason          TEXT NOT NULL DEFAULT '',
	bundles               TEXT[] NOT NULL,
	binary_image          TEXT NOT NULL,
	from_index            TEXT,
	add_arches            TEXT[] NOT NULL DEFAULT '{}',
	binary_image_resolved TEXT,
	from_index_resolved   TEXT,
	arches                TEXT[] NOT NULL DEFAULT '{}',
	index_image           TEXT,
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS requests_state_updated_at_idx ON requests (state, updated_at);
`

// EnsureSchema создаёт таблицу запросов, если её нет.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
