package store

import (
	"context"
	"sort"
	"time"

	"storefront-notifier/internal/models"
)

// CreateJobParams collects inputs required to insert a job.
type CreateJobParams struct {
	StoreID     string
	OrderID     string
	Kind        string
	Payload     models.OrderPayload
	Priority    int
	MaxAttempts int
}

// JobStore is the persistence contract for notification jobs. Implementations
// must make ClaimDue atomic: no two concurrent callers may receive the same
// job, and the outcome setters only apply to jobs still in processing so a
// cancellation that lands mid-delivery wins over the late outcome.
//
// Methods taking a storeID treat it as a tenant scope; an empty storeID means
// unscoped (trusted internal callers only).
type JobStore interface {
	// CreateJob inserts a pending job with attempts=0 and nextAttemptAt=now.
	CreateJob(ctx context.Context, p CreateJobParams) (models.NotificationJob, error)

	// GetJob fetches a job by id within the given store scope.
	GetJob(ctx context.Context, storeID, id string) (models.NotificationJob, bool, error)

	// ClaimDue atomically transitions up to limit pending jobs with
	// nextAttemptAt <= now into processing, ordered by priority desc then
	// createdAt asc, and returns them.
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.NotificationJob, error)

	// MarkCompleted finishes a processing job, records the attempt count and
	// clears its last error.
	MarkCompleted(ctx context.Context, id string, attempts int) (bool, error)

	// ScheduleRetry returns a processing job to pending with updated
	// attempts, backoff deadline and failure reason.
	ScheduleRetry(ctx context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error)

	// MarkFailed moves a processing job to the terminal failed state.
	MarkFailed(ctx context.Context, id string, attempts int, lastError string) (bool, error)

	// CancelJob cancels a pending, processing or failed job.
	CancelJob(ctx context.Context, storeID, id string) (bool, error)

	// ResetForRetry returns a failed job to pending with a fresh attempts
	// budget, or pulls forward a pending job stuck behind its backoff window.
	ResetForRetry(ctx context.Context, storeID, id string, now time.Time) (bool, error)

	// SetPriority raises a non-terminal job's priority. Lowering is a no-op.
	SetPriority(ctx context.Context, storeID, id string, priority int) (bool, error)

	// ListByStatus returns jobs in a status ordered by priority desc,
	// createdAt asc (stable for pagination).
	ListByStatus(ctx context.Context, storeID, status string, limit int) ([]models.NotificationJob, error)

	// CountByStatus returns job counts keyed by status.
	CountByStatus(ctx context.Context, storeID string) (map[string]int64, error)

	// PurgeTerminal deletes terminal jobs whose updatedAt is before cutoff
	// and reports how many were removed. Pending and processing jobs are
	// never touched.
	PurgeTerminal(ctx context.Context, cutoff time.Time) (int64, error)
}

// sortForDispatch orders jobs by priority desc then createdAt asc, the order
// the processing pass consumes them in.
func sortForDispatch(jobs []models.NotificationJob) {
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
}
