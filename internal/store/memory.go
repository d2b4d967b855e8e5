package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront-notifier/internal/models"
)

// Memory is a mutex-protected in-memory JobStore. Tests construct isolated
// instances of it, and it serves single-process deployments where Postgres
// is overkill.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]*models.NotificationJob
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]*models.NotificationJob)}
}

func (m *Memory) CreateJob(_ context.Context, p CreateJobParams) (models.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	job := models.NotificationJob{
		ID:            uuid.New().String(),
		StoreID:       p.StoreID,
		OrderID:       p.OrderID,
		Kind:          p.Kind,
		Payload:       p.Payload,
		Status:        models.StatusPending,
		Priority:      p.Priority,
		MaxAttempts:   p.MaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.jobs[job.ID] = &job
	return job, nil
}

func (m *Memory) GetJob(_ context.Context, storeID, id string) (models.NotificationJob, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || (storeID != "" && job.StoreID != storeID) {
		return models.NotificationJob{}, false, nil
	}
	return *job, true, nil
}

func (m *Memory) ClaimDue(_ context.Context, now time.Time, limit int) ([]models.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var due []models.NotificationJob
	for _, job := range m.jobs {
		if job.Status == models.StatusPending && !job.NextAttemptAt.After(now) {
			due = append(due, *job)
		}
	}
	sortForDispatch(due)
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		j := m.jobs[due[i].ID]
		j.Status = models.StatusProcessing
		j.UpdatedAt = now.UTC()
		due[i] = *j
	}
	return due, nil
}

func (m *Memory) MarkCompleted(_ context.Context, id string, attempts int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusProcessing {
		return false, nil
	}
	job.Status = models.StatusCompleted
	job.Attempts = attempts
	job.LastError = nil
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) ScheduleRetry(_ context.Context, id string, attempts int, nextAttemptAt time.Time, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusProcessing {
		return false, nil
	}
	job.Status = models.StatusPending
	job.Attempts = attempts
	job.NextAttemptAt = nextAttemptAt.UTC()
	job.LastError = &lastError
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) MarkFailed(_ context.Context, id string, attempts int, lastError string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || job.Status != models.StatusProcessing {
		return false, nil
	}
	job.Status = models.StatusFailed
	job.Attempts = attempts
	job.LastError = &lastError
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) CancelJob(_ context.Context, storeID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || (storeID != "" && job.StoreID != storeID) {
		return false, nil
	}
	switch job.Status {
	case models.StatusPending, models.StatusProcessing, models.StatusFailed:
		job.Status = models.StatusCancelled
		job.UpdatedAt = time.Now().UTC()
		return true, nil
	}
	return false, nil
}

func (m *Memory) ResetForRetry(_ context.Context, storeID, id string, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || (storeID != "" && job.StoreID != storeID) {
		return false, nil
	}
	switch {
	case job.Status == models.StatusFailed:
		job.Status = models.StatusPending
		job.Attempts = 0
	case job.Status == models.StatusPending && job.NextAttemptAt.After(now):
		// Stuck behind its backoff window; pull it forward.
	default:
		return false, nil
	}
	job.NextAttemptAt = now.UTC()
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) SetPriority(_ context.Context, storeID, id string, priority int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok || (storeID != "" && job.StoreID != storeID) {
		return false, nil
	}
	if models.IsTerminal(job.Status) || job.Priority >= priority {
		return false, nil
	}
	job.Priority = priority
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *Memory) ListByStatus(_ context.Context, storeID, status string, limit int) ([]models.NotificationJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.NotificationJob
	for _, job := range m.jobs {
		if job.Status != status {
			continue
		}
		if storeID != "" && job.StoreID != storeID {
			continue
		}
		out = append(out, *job)
	}
	sortForDispatch(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context, storeID string) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int64)
	for _, job := range m.jobs {
		if storeID != "" && job.StoreID != storeID {
			continue
		}
		counts[job.Status]++
	}
	return counts, nil
}

func (m *Memory) PurgeTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var removed int64
	for id, job := range m.jobs {
		if models.IsTerminal(job.Status) && job.UpdatedAt.Before(cutoff) {
			delete(m.jobs, id)
			removed++
		}
	}
	return removed, nil
}
