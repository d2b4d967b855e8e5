package store

import (
	"context"
	"fmt"
)

// Schema bootstrap executed at startup: a single idempotent DDL pass
// rather than versioned migrations.
const schema = `
CREATE TABLE IF NOT EXISTS notification_jobs (
	id              TEXT PRIMARY KEY,
	store_id        TEXT NOT NULL,
	order_id        TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         JSONB NOT NULL,
	status          TEXT NOT NULL,
	priority        INT NOT NULL DEFAULT 1,
	attempts        INT NOT NULL DEFAULT 0,
	max_attempts    INT NOT NULL,
	next_attempt_at TIMESTAMPTZ NOT NULL,
	last_error      TEXT,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_notification_jobs_due
	ON notification_jobs (status, next_attempt_at, priority DESC, created_at ASC);

CREATE INDEX IF NOT EXISTS idx_notification_jobs_store_status
	ON notification_jobs (store_id, status);

CREATE TABLE IF NOT EXISTS store_settings (
	store_id   TEXT PRIMARY KEY,
	gateway    JSONB NOT NULL DEFAULT '{}',
	strategies JSONB NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
