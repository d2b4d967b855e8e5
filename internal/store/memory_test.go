package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront-notifier/internal/models"
)

func mustCreate(t *testing.T, m *Memory, storeID, orderID string, priority int) models.NotificationJob {
	t.Helper()
	job, err := m.CreateJob(context.Background(), CreateJobParams{
		StoreID:     storeID,
		OrderID:     orderID,
		Kind:        models.KindStatusChanged,
		Payload:     models.OrderPayload{CustomerPhone: "+541112345678"},
		Priority:    priority,
		MaxAttempts: 3,
	})
	require.NoError(t, err)
	return job
}

func TestClaimDueOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	oldLow := mustCreate(t, m, "s1", "o1", models.PriorityLow)
	time.Sleep(time.Millisecond)
	newHigh := mustCreate(t, m, "s1", "o2", models.PriorityHigh)
	time.Sleep(time.Millisecond)
	newNormal := mustCreate(t, m, "s1", "o3", models.PriorityNormal)

	claimed, err := m.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	assert.Equal(t, []string{newHigh.ID, newNormal.ID, oldLow.ID},
		[]string{claimed[0].ID, claimed[1].ID, claimed[2].ID})
	for _, job := range claimed {
		assert.Equal(t, models.StatusProcessing, job.Status)
	}
}

func TestClaimDueRespectsBackoffWindow(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityNormal)

	// Push the job behind a backoff window via a claim + retry cycle.
	claimed, err := m.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	ok, err := m.ScheduleRetry(ctx, job.ID, 1, time.Now().Add(time.Hour), "gateway_rejected")
	require.NoError(t, err)
	require.True(t, ok)

	claimed, err = m.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed, "job behind its backoff window must not be claimed")
}

func TestConcurrentClaimExactlyOnce(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		mustCreate(t, m, "s1", "order", models.PriorityNormal)
	}

	const workers = 8
	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				// Memory.ClaimDue never errors; keep the goroutine free of
				// test-ending calls.
				claimed, _ := m.ClaimDue(ctx, time.Now(), 5)
				if len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, job := range claimed {
					seen[job.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equalf(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestOutcomeGuardsAfterCancel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityNormal)

	claimed, err := m.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Operator cancels while the delivery is in flight.
	ok, err := m.CancelJob(ctx, "s1", job.ID)
	require.NoError(t, err)
	require.True(t, ok)

	// The late outcome must be discarded, whatever it was.
	ok, _ = m.MarkCompleted(ctx, job.ID, 1)
	assert.False(t, ok)
	ok, _ = m.ScheduleRetry(ctx, job.ID, 1, time.Now(), "late failure")
	assert.False(t, ok)
	ok, _ = m.MarkFailed(ctx, job.ID, 1, "late failure")
	assert.False(t, ok)

	got, found, err := m.GetJob(ctx, "s1", job.ID)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, models.StatusCancelled, got.Status)
}

func TestResetForRetry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityNormal)

	// Drive to failed.
	_, err := m.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	ok, err := m.MarkFailed(ctx, job.ID, 3, "gateway_rejected: status 500")
	require.NoError(t, err)
	require.True(t, ok)

	now := time.Now()
	ok, err = m.ResetForRetry(ctx, "s1", job.ID, now)
	require.NoError(t, err)
	require.True(t, ok)

	got, _, _ := m.GetJob(ctx, "s1", job.ID)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, 0, got.Attempts, "manual retry grants a fresh budget")
	assert.WithinDuration(t, now, got.NextAttemptAt, time.Second)

	// Completed jobs are not retryable.
	done := mustCreate(t, m, "s1", "o2", models.PriorityNormal)
	_, err = m.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, done.ID, 1)
	require.NoError(t, err)
	ok, _ = m.ResetForRetry(ctx, "s1", done.ID, time.Now())
	assert.False(t, ok)
}

func TestResetForRetryUnsticksPendingJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityNormal)

	_, err := m.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	ok, err := m.ScheduleRetry(ctx, job.ID, 1, time.Now().Add(time.Hour), "network_error")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = m.ResetForRetry(ctx, "s1", job.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	got, _, _ := m.GetJob(ctx, "s1", job.ID)
	assert.Equal(t, 1, got.Attempts, "unsticking keeps the attempt count")
	assert.False(t, got.NextAttemptAt.After(time.Now()))
}

func TestTenantScoping(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityNormal)

	_, found, err := m.GetJob(ctx, "s2", job.ID)
	require.NoError(t, err)
	assert.False(t, found, "cross-tenant reads look like not-found")

	ok, _ := m.CancelJob(ctx, "s2", job.ID)
	assert.False(t, ok)
	ok, _ = m.SetPriority(ctx, "s2", job.ID, models.PriorityHigh)
	assert.False(t, ok)

	// Unscoped access is allowed for internal callers.
	_, found, _ = m.GetJob(ctx, "", job.ID)
	assert.True(t, found)
}

func TestSetPriority(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	job := mustCreate(t, m, "s1", "o1", models.PriorityLow)

	ok, err := m.SetPriority(ctx, "s1", job.ID, models.PriorityHigh)
	require.NoError(t, err)
	require.True(t, ok)

	// Already at max: no-op.
	ok, _ = m.SetPriority(ctx, "s1", job.ID, models.PriorityHigh)
	assert.False(t, ok)

	// Terminal jobs are never reprioritized.
	_, err = m.ClaimDue(ctx, time.Now(), 1)
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, job.ID, 1)
	require.NoError(t, err)
	ok, _ = m.SetPriority(ctx, "s1", job.ID, models.PriorityHigh)
	assert.False(t, ok)
}

func TestPurgeTerminalProperty(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	oldDone := mustCreate(t, m, "s1", "o1", models.PriorityNormal)
	pending := mustCreate(t, m, "s1", "o2", models.PriorityNormal)
	freshDone := mustCreate(t, m, "s1", "o3", models.PriorityNormal)

	claimed, err := m.ClaimDue(ctx, time.Now(), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 3)
	_, err = m.MarkCompleted(ctx, oldDone.ID, 1)
	require.NoError(t, err)
	_, err = m.MarkCompleted(ctx, freshDone.ID, 1)
	require.NoError(t, err)
	// Return the third to pending so an ancient pending job exists.
	_, err = m.ScheduleRetry(ctx, pending.ID, 1, time.Now(), "network_error")
	require.NoError(t, err)

	// Backdate oldDone and pending far past any cutoff.
	m.mu.Lock()
	m.jobs[oldDone.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	m.jobs[pending.ID].UpdatedAt = time.Now().Add(-48 * time.Hour)
	m.mu.Unlock()

	before, _ := m.CountByStatus(ctx, "")
	removed, err := m.PurgeTerminal(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	after, _ := m.CountByStatus(ctx, "")

	assert.Equal(t, int64(1), removed, "only the stale terminal job is removed")
	assert.Equal(t, before[models.StatusPending], after[models.StatusPending], "pending jobs survive regardless of age")
	assert.Equal(t, before[models.StatusCompleted]-1, after[models.StatusCompleted])

	_, found, _ := m.GetJob(ctx, "", pending.ID)
	assert.True(t, found)
	_, found, _ = m.GetJob(ctx, "", freshDone.ID)
	assert.True(t, found)
	_, found, _ = m.GetJob(ctx, "", oldDone.ID)
	assert.False(t, found)
}
