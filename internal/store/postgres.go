package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"storefront-notifier/internal/models"
)

// Postgres implements JobStore on top of pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a pooled connection to Postgres.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

func (s *Postgres) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Pool exposes the underlying pool for collaborators sharing the connection.
func (s *Postgres) Pool() *pgxpool.Pool {
	return s.pool
}

const jobColumns = `id, store_id, order_id, kind, payload, status, priority, attempts, max_attempts, next_attempt_at, last_error, created_at, updated_at`

func (s *Postgres) CreateJob(ctx context.Context, p CreateJobParams) (models.NotificationJob, error) {
	payloadJSON, err := json.Marshal(p.Payload)
	if err != nil {
		return models.NotificationJob{}, fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	_, err = s.pool.Exec(ctx, `
		INSERT INTO notification_jobs (id, store_id, order_id, kind, payload, status, priority, attempts, max_attempts, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $9, $9)
	`, id, p.StoreID, p.OrderID, p.Kind, payloadJSON, models.StatusPending, p.Priority, p.MaxAttempts, now)
	if err != nil {
		return models.NotificationJob{}, fmt.Errorf("insert job: %w", err)
	}

	return models.NotificationJob{
		ID:            id,
		StoreID:       p.StoreID,
		OrderID:       p.OrderID,
		Kind:          p.Kind,
		Payload:       p.Payload,
		Status:        models.StatusPending,
		Priority:      p.Priority,
		Attempts:      0,
		MaxAttempts:   p.MaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

func (s *Postgres) GetJob(ctx context.Context, storeID, id string) (models.NotificationJob, bool, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE id = $1`
	args := []any{id}
	if storeID != "" {
		query += ` AND store_id = $2`
		args = append(args, storeID)
	}

	job, err := scanJob(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.NotificationJob{}, false, nil
	}
	if err != nil {
		return models.NotificationJob{}, false, err
	}
	return job, true, nil
}

// ClaimDue uses FOR UPDATE SKIP LOCKED so concurrent workers never receive
// the same job.
func (s *Postgres) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error) {
	rows, err := s.pool.Query(ctx, `
		WITH due AS (
			SELECT id FROM notification_jobs
			WHERE status = $1 AND next_attempt_at <= $2
			ORDER BY priority DESC, created_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE notification_jobs j
		SET status = $4, updated_at = $2
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.store_id, j.order_id, j.kind, j.payload, j.status, j.priority, j.attempts, j.max_attempts, j.next_attempt_at, j.last_error, j.created_at, j.updated_at
	`, models.StatusPending, now.UTC(), limit, models.StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("claim rows: %w", err)
	}
	// UPDATE ... FROM does not preserve CTE order; restore dispatch order.
	sortForDispatch(jobs)
	return jobs, nil
}

func (s *Postgres) MarkCompleted(ctx context.Context, id string, attempts int) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = $2, attempts = $3, last_error = NULL, updated_at = NOW()
		WHERE id = $1 AND status = $4
	`, id, models.StatusCompleted, attempts, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = $2, attempts = $3, next_attempt_at = $4, last_error = $5, updated_at = NOW()
		WHERE id = $1 AND status = $6
	`, id, models.StatusPending, attempts, nextAttemptAt.UTC(), lastError, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("schedule retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) MarkFailed(ctx context.Context, id string, attempts int, lastError string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = $2, attempts = $3, last_error = $4, updated_at = NOW()
		WHERE id = $1 AND status = $5
	`, id, models.StatusFailed, attempts, lastError, models.StatusProcessing)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) CancelJob(ctx context.Context, storeID, id string) (bool, error) {
	query := `
		UPDATE notification_jobs
		SET status = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ($3, $4, $5)`
	args := []any{id, models.StatusCancelled, models.StatusPending, models.StatusProcessing, models.StatusFailed}
	if storeID != "" {
		query += ` AND store_id = $6`
		args = append(args, storeID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("cancel job: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ResetForRetry(ctx context.Context, storeID, id string, now time.Time) (bool, error) {
	query := `
		UPDATE notification_jobs
		SET status = $2,
		    attempts = CASE WHEN status = $3 THEN 0 ELSE attempts END,
		    next_attempt_at = $4,
		    updated_at = NOW()
		WHERE id = $1 AND (status = $3 OR (status = $2 AND next_attempt_at > $4))`
	args := []any{id, models.StatusPending, models.StatusFailed, now.UTC()}
	if storeID != "" {
		query += ` AND store_id = $5`
		args = append(args, storeID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("reset for retry: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) SetPriority(ctx context.Context, storeID, id string, priority int) (bool, error) {
	query := `
		UPDATE notification_jobs
		SET priority = $2, updated_at = NOW()
		WHERE id = $1 AND priority < $2 AND status IN ($3, $4)`
	args := []any{id, priority, models.StatusPending, models.StatusProcessing}
	if storeID != "" {
		query += ` AND store_id = $5`
		args = append(args, storeID)
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("set priority: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Postgres) ListByStatus(ctx context.Context, storeID, status string, limit int) ([]models.NotificationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE status = $1`
	args := []any{status}
	if storeID != "" {
		query += ` AND store_id = $2`
		args = append(args, storeID)
	}
	query += fmt.Sprintf(` ORDER BY priority DESC, created_at ASC LIMIT %d`, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []models.NotificationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *Postgres) CountByStatus(ctx context.Context, storeID string) (map[string]int64, error) {
	query := `SELECT status, COUNT(*) FROM notification_jobs`
	args := []any{}
	if storeID != "" {
		query += ` WHERE store_id = $1`
		args = append(args, storeID)
	}
	query += ` GROUP BY status`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (s *Postgres) PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM notification_jobs
		WHERE status IN ($1, $2, $3) AND updated_at < $4
	`, models.StatusCompleted, models.StatusFailed, models.StatusCancelled, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge terminal jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanJob(row pgx.Row) (models.NotificationJob, error) {
	var job models.NotificationJob
	var payloadJSON []byte
	var lastErr pgtype.Text

	if err := row.Scan(&job.ID, &job.StoreID, &job.OrderID, &job.Kind, &payloadJSON, &job.Status, &job.Priority, &job.Attempts, &job.MaxAttempts, &job.NextAttemptAt, &lastErr, &job.CreatedAt, &job.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.NotificationJob{}, err
		}
		return models.NotificationJob{}, fmt.Errorf("scan job: %w", err)
	}
	if err := json.Unmarshal(payloadJSON, &job.Payload); err != nil {
		return models.NotificationJob{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	if lastErr.Valid {
		job.LastError = &lastErr.String
	}
	return job, nil
}
