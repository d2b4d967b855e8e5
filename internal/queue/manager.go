// Package queue owns the notification job lifecycle: enqueue, the processing
// loop, retry scheduling, operator commands and the cleanup sweep.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"storefront-notifier/internal/config"
	"storefront-notifier/internal/gateway"
	"storefront-notifier/internal/media"
	"storefront-notifier/internal/models"
	"storefront-notifier/internal/store"
	"storefront-notifier/internal/strategy"
	"storefront-notifier/internal/telemetry"
	"storefront-notifier/internal/tenant"
)

// Manager coordinates the job store, the tenant configuration and the
// delivery client. It is safe for concurrent use; all shared state lives in
// the injected store.
type Manager struct {
	cfg     config.Config
	store   store.JobStore
	tenants tenant.Store
	gateway *gateway.Client
	signer  *media.Signer
}

// NewManager wires the queue manager. signer may be nil when no media bucket
// is configured.
func NewManager(cfg config.Config, st store.JobStore, tenants tenant.Store, gw *gateway.Client, signer *media.Signer) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		tenants: tenants,
		gateway: gw,
		signer:  signer,
	}
}

// EnqueueParams are the inputs of the enqueue entry point.
type EnqueueParams struct {
	StoreID  string
	OrderID  string
	Kind     string
	Payload  models.OrderPayload
	Priority int
}

// Enqueue creates a pending job and returns immediately; delivery happens on
// a later processing pass.
func (m *Manager) Enqueue(ctx context.Context, p EnqueueParams) (models.NotificationJob, error) {
	if p.StoreID == "" || p.OrderID == "" || p.Kind == "" {
		return models.NotificationJob{}, errors.New("store id, order id and kind are required")
	}
	if p.Priority < models.PriorityLow || p.Priority > models.PriorityHigh {
		p.Priority = models.PriorityNormal
	}
	p.Payload.CustomerPhone = models.NormalizePhone(p.Payload.CustomerPhone)

	maxAttempts := m.cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	job, err := m.store.CreateJob(ctx, store.CreateJobParams{
		StoreID:     p.StoreID,
		OrderID:     p.OrderID,
		Kind:        p.Kind,
		Payload:     p.Payload,
		Priority:    p.Priority,
		MaxAttempts: maxAttempts,
	})
	if err != nil {
		return models.NotificationJob{}, fmt.Errorf("enqueue notification: %w", err)
	}
	telemetry.EnqueuedCounter.Inc()
	return job, nil
}

// Stats aggregates job counts by status, optionally scoped to one store.
type Stats struct {
	Total    int64            `json:"total"`
	ByStatus map[string]int64 `json:"by_status"`
}

func (m *Manager) Stats(ctx context.Context, storeID string) (Stats, error) {
	counts, err := m.store.CountByStatus(ctx, storeID)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{ByStatus: counts}
	for _, n := range counts {
		stats.Total += n
	}
	return stats, nil
}

func (m *Manager) JobsByStatus(ctx context.Context, storeID, status string, limit int) ([]models.NotificationJob, error) {
	if !models.ValidStatus(status) {
		return nil, fmt.Errorf("unknown status %q", status)
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return m.store.ListByStatus(ctx, storeID, status, limit)
}

func (m *Manager) Job(ctx context.Context, storeID, id string) (models.NotificationJob, bool, error) {
	return m.store.GetJob(ctx, storeID, id)
}

// RetryJob returns a failed job to pending with a fresh attempts budget, or
// pulls a pending job forward past its backoff window. A manual retry never
// counts against maxAttempts.
func (m *Manager) RetryJob(ctx context.Context, storeID, id string) (bool, error) {
	return m.store.ResetForRetry(ctx, storeID, id, time.Now())
}

// CancelJob moves a non-completed, non-cancelled job to the terminal
// cancelled state. A delivery already in flight finishes but its outcome is
// discarded.
func (m *Manager) CancelJob(ctx context.Context, storeID, id string) (bool, error) {
	ok, err := m.store.CancelJob(ctx, storeID, id)
	if ok {
		telemetry.CancelledCounter.Inc()
	}
	return ok, err
}

// PrioritizeJob bumps a job to the highest priority so the next processing
// pass picks it first.
func (m *Manager) PrioritizeJob(ctx context.Context, storeID, id string) (bool, error) {
	return m.store.SetPriority(ctx, storeID, id, models.PriorityHigh)
}

// Cleanup deletes terminal jobs untouched for longer than olderThan.
func (m *Manager) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	removed, err := m.store.PurgeTerminal(ctx, time.Now().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	telemetry.CleanupCounter.Add(float64(removed))
	return removed, nil
}

// Run drives processing passes until the context is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.WorkerPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if counts, err := m.store.CountByStatus(ctx, ""); err == nil {
			telemetry.PendingGauge.Set(float64(counts[models.StatusPending]))
		}

		if _, err := m.ProcessTick(ctx, time.Now()); err != nil {
			log.Printf("processing pass: %v", err)
		}
	}
}

// ProcessTick claims all due jobs (priority desc, createdAt asc) and attempts
// delivery for each. It returns how many jobs were claimed.
func (m *Manager) ProcessTick(ctx context.Context, now time.Time) (int, error) {
	jobs, err := m.store.ClaimDue(ctx, now, m.cfg.ClaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("claim due jobs: %w", err)
	}
	for _, job := range jobs {
		telemetry.InFlightGauge.Inc()
		m.deliver(ctx, job, now)
		telemetry.InFlightGauge.Dec()
	}
	return len(jobs), nil
}

// deliver runs one delivery attempt for a claimed job and applies the
// outcome. The store only applies outcomes to jobs still processing, so a
// concurrent cancel wins and the late outcome is discarded.
func (m *Manager) deliver(ctx context.Context, job models.NotificationJob, now time.Time) {
	outcome := m.attempt(ctx, job)
	attempts := job.Attempts + 1

	if outcome.Delivered {
		if _, err := m.store.MarkCompleted(ctx, job.ID, attempts); err != nil {
			log.Printf("job %s: mark completed: %v", job.ID, err)
			return
		}
		telemetry.DeliveredCounter.Inc()
		return
	}

	lastErr := outcome.Error()
	if outcome.FallbackLink != "" {
		lastErr += " (fallback: " + outcome.FallbackLink + ")"
	}

	if attempts >= job.MaxAttempts {
		if _, err := m.store.MarkFailed(ctx, job.ID, attempts, lastErr); err != nil {
			log.Printf("job %s: mark failed: %v", job.ID, err)
			return
		}
		telemetry.ExhaustedCounter.Inc()
		log.Printf("job %s exhausted after %d attempts: %s", job.ID, attempts, lastErr)
		return
	}

	delay := backoffDelay(m.cfg.BackoffBase, m.cfg.BackoffMax, attempts)
	if _, err := m.store.ScheduleRetry(ctx, job.ID, attempts, now.Add(delay), lastErr); err != nil {
		log.Printf("job %s: schedule retry: %v", job.ID, err)
		return
	}
	telemetry.RetriedCounter.Inc()
}

// attempt resolves strategy and credentials and performs the gateway call.
// A panic from a bad job is contained here so one job cannot halt the loop.
func (m *Manager) attempt(ctx context.Context, job models.NotificationJob) (outcome gateway.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = gateway.Failure("internal_error", fmt.Sprintf("%v", r))
		}
	}()

	settings, found, err := m.tenants.Settings(ctx, job.StoreID)
	if err != nil {
		return gateway.Failure("tenant_config", err.Error())
	}
	if !found {
		settings = tenant.Settings{}
	}

	strat := strategy.Resolve(settings.StrategyFor(job.Kind))
	if strat.Type == strategy.TypeTemplate && m.signer != nil {
		strat.Components = m.signer.ResolveComponents(ctx, strat.Components)
	}

	ctx, cancel := context.WithTimeout(ctx, m.cfg.DeliveryTimeout)
	defer cancel()

	return m.gateway.Send(ctx, job.Payload.CustomerPhone, ComposeText(job), strat, settings.Credentials)
}

// backoffDelay grows exponentially with the attempt count, capped at max.
// Deterministic so consecutive retries are monotonically spaced.
func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	return delay
}
