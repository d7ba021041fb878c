// Package worker runs the deletion orchestrator: a single-flight polling loop
// that picks up approved queue items past their scheduled date and drives them
// through the step sequence.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/service"
	"github.com/staffbridge/staffbridge-saas/domains/deletion/be/steps"
	"github.com/staffbridge/staffbridge-saas/platform/go/notify"
)

// QueueStore is the slice of the repository the orchestrator needs.
type QueueStore interface {
	NextEligible(ctx context.Context, now time.Time) (service.QueueItem, error)
	QueueDepth(ctx context.Context) (int, error)
	Get(ctx context.Context, id uuid.UUID) (service.QueueItem, error)
	MarkProcessing(ctx context.Context, id uuid.UUID, startedAt time.Time, totalSteps int) (service.QueueItem, error)
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, currentStep string) error
	MarkTerminal(ctx context.Context, id uuid.UUID, status service.QueueStatus, errorMessage *string, completedAt *time.Time) (service.QueueItem, error)
}

// TenantLifecycle is the write side of the tenant directory.
type TenantLifecycle interface {
	SetLifecycleStatus(ctx context.Context, id uuid.UUID, status service.LifecycleStatus) error
}

// StepRunner executes one step in its own transaction and reports the outcome.
type StepRunner interface {
	Run(ctx context.Context, step steps.Step, tenantID, queueID uuid.UUID) steps.Outcome
}

// Worker is the deletion orchestrator. It processes at most one queue item at
// a time; a second instance pointed at the same database would race, so
// deployments run exactly one.
type Worker struct {
	queue        QueueStore
	tenants      TenantLifecycle
	runner       StepRunner
	registry     *steps.Registry
	sessions     service.SessionRevoker
	alerter      notify.Alerter
	metrics      *Metrics
	logger       *zap.Logger
	pollInterval time.Duration
	now          func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures the Worker.
type Option func(*Worker)

// WithPollInterval sets the interval between queue polls.
func WithPollInterval(interval time.Duration) Option {
	return func(w *Worker) {
		w.pollInterval = interval
	}
}

// WithSessionRevoker sets the session store used to kill live sessions when a
// run starts.
func WithSessionRevoker(s service.SessionRevoker) Option {
	return func(w *Worker) {
		w.sessions = s
	}
}

// WithAlerter sets the operator alert sink.
func WithAlerter(a notify.Alerter) Option {
	return func(w *Worker) {
		w.alerter = a
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) {
		w.metrics = m
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		w.now = now
	}
}

// New creates a deletion orchestrator worker.
func New(queue QueueStore, tenants TenantLifecycle, runner StepRunner, registry *steps.Registry, logger *zap.Logger, opts ...Option) (*Worker, error) {
	if queue == nil {
		return nil, fmt.Errorf("queue store is required")
	}
	if tenants == nil {
		return nil, fmt.Errorf("tenant lifecycle is required")
	}
	if runner == nil {
		return nil, fmt.Errorf("step runner is required")
	}
	if registry == nil || registry.Len() == 0 {
		return nil, fmt.Errorf("step registry is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		queue:        queue,
		tenants:      tenants,
		runner:       runner,
		registry:     registry,
		alerter:      notify.NopAlerter{},
		logger:       logger,
		pollInterval: 30 * time.Second,
		now:          time.Now,
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start begins the polling loop in a background goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop cancels the loop and waits for an in-flight run to reach its next step
// boundary, bounded by ctx.
func (w *Worker) Stop(ctx context.Context) error {
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll picks up at most one eligible item per cycle.
func (w *Worker) poll() {
	start := time.Now()
	defer func() {
		if w.metrics != nil {
			w.metrics.PollDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if w.metrics != nil {
		if depth, err := w.queue.QueueDepth(w.ctx); err != nil {
			w.logger.Warn("reading queue depth failed", zap.Error(err))
		} else {
			w.metrics.QueueDepth.Set(float64(depth))
		}
	}

	item, err := w.queue.NextEligible(w.ctx, w.now().UTC())
	if errors.Is(err, service.ErrNotFound) {
		return
	}
	if err != nil {
		w.logger.Error("polling deletion queue failed", zap.Error(err))
		return
	}

	w.process(w.ctx, item)
}

// ProcessOnce runs a single poll cycle synchronously. Intended for tests and
// for one-shot administrative invocations.
func (w *Worker) ProcessOnce(ctx context.Context) error {
	item, err := w.queue.NextEligible(ctx, w.now().UTC())
	if err != nil {
		return err
	}
	w.process(ctx, item)
	return nil
}

func (w *Worker) process(ctx context.Context, item service.QueueItem) {
	logger := w.logger.With(
		zap.String("queue_id", item.ID.String()),
		zap.String("tenant_id", item.TenantID.String()),
	)

	// A stop flagged while the item sat in the queue wins before any work.
	if item.EmergencyStop {
		w.finalizeStop(ctx, item, logger)
		return
	}

	runStart := w.now().UTC()
	item, err := w.queue.MarkProcessing(ctx, item.ID, runStart, w.registry.Len())
	if err != nil {
		logger.Error("marking queue item processing failed", zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.RunsStarted.Inc()
	}
	logger.Info("deletion run started", zap.Int("total_steps", w.registry.Len()))

	if err := w.tenants.SetLifecycleStatus(ctx, item.TenantID, service.LifecycleDeleting); err != nil {
		logger.Warn("setting tenant lifecycle to deleting failed", zap.Error(err))
	}
	w.revokeSessions(ctx, item.TenantID, logger)

	total := w.registry.Len()
	for i, step := range w.registry.Steps() {
		// Revalidate the stop flag at every boundary; this is the only abort
		// path once a run is in flight.
		current, err := w.queue.Get(ctx, item.ID)
		if err != nil {
			logger.Error("re-reading queue item failed", zap.Error(err))
		} else if current.EmergencyStop {
			w.finalizeStop(ctx, current, logger)
			return
		}

		if err := w.queue.UpdateProgress(ctx, item.ID, progressPercent(i, total), step.Name); err != nil {
			logger.Warn("updating progress failed", zap.String("step", step.Name), zap.Error(err))
		}

		outcome := w.runner.Run(ctx, step, item.TenantID, item.ID)
		w.metrics.observeStep(step.Name, outcome.Duration, outcome.Err != nil)

		if outcome.Err == nil {
			continue
		}
		if !step.Critical {
			logger.Warn("non-critical step failed, continuing",
				zap.String("step", step.Name), zap.Error(outcome.Err))
			continue
		}

		w.failRun(ctx, item, step.Name, outcome.Err, logger)
		return
	}

	completedAt := w.now().UTC()
	if _, err := w.queue.MarkTerminal(ctx, item.ID, service.StatusCompleted, nil, &completedAt); err != nil {
		logger.Error("marking run completed failed", zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.RunsCompleted.Inc()
		w.metrics.RunDuration.Observe(completedAt.Sub(runStart).Seconds())
	}
	logger.Info("deletion run completed", zap.Duration("duration", completedAt.Sub(runStart)))
	w.alert(notify.SeverityInfo, "Tenant deletion completed",
		fmt.Sprintf("All data for tenant %s has been permanently removed.", item.TenantID),
		map[string]string{"queue_id": item.ID.String()})
}

// failRun finalizes a run aborted by a critical step. The failed item stays
// retryable; the tenant is returned to active if its record still exists.
func (w *Worker) failRun(ctx context.Context, item service.QueueItem, stepName string, stepErr error, logger *zap.Logger) {
	msg := fmt.Sprintf("step %s: %v", stepName, stepErr)
	if _, err := w.queue.MarkTerminal(ctx, item.ID, service.StatusFailed, &msg, nil); err != nil {
		logger.Error("marking run failed failed", zap.Error(err))
	}
	// Late steps run after the tenant record is gone; reverting the lifecycle
	// then is expected to fail and is log-only.
	if err := w.tenants.SetLifecycleStatus(ctx, item.TenantID, service.LifecycleActive); err != nil {
		logger.Warn("reverting tenant lifecycle after failure", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.RunsFailed.Inc()
	}
	logger.Error("deletion run failed", zap.String("step", stepName), zap.Error(stepErr))
	w.alert(notify.SeverityCritical, "Tenant deletion failed",
		fmt.Sprintf("Deletion of tenant %s aborted at step %s: %v", item.TenantID, stepName, stepErr),
		map[string]string{"queue_id": item.ID.String(), "step": stepName})
}

func (w *Worker) finalizeStop(ctx context.Context, item service.QueueItem, logger *zap.Logger) {
	if _, err := w.queue.MarkTerminal(ctx, item.ID, service.StatusEmergencyStopped, nil, nil); err != nil {
		logger.Error("finalizing emergency stop failed", zap.Error(err))
		return
	}
	if err := w.tenants.SetLifecycleStatus(ctx, item.TenantID, service.LifecycleActive); err != nil {
		logger.Warn("reactivating tenant after emergency stop", zap.Error(err))
	}
	if w.metrics != nil {
		w.metrics.RunsEmergencyStopped.Inc()
	}
	logger.Warn("deletion run halted by emergency stop",
		zap.String("last_step", item.CurrentStep))
	w.alert(notify.SeverityCritical, "Tenant deletion emergency stopped",
		fmt.Sprintf("Deletion run for tenant %s was halted by an emergency stop.", item.TenantID),
		map[string]string{"queue_id": item.ID.String(), "last_step": item.CurrentStep})
}

func (w *Worker) revokeSessions(ctx context.Context, tenantID uuid.UUID, logger *zap.Logger) {
	if w.sessions == nil {
		return
	}
	if n, err := w.sessions.RevokeTenantSessions(ctx, tenantID); err != nil {
		logger.Warn("session revocation failed", zap.Error(err))
	} else if n > 0 {
		logger.Info("tenant sessions revoked", zap.Int64("sessions", n))
	}
}

func (w *Worker) alert(severity, title, message string, fields map[string]string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := w.alerter.SendAlert(ctx, "tenant-deletions", severity, title, message, fields); err != nil {
		w.logger.Warn("alert delivery failed", zap.Error(err))
	}
}

// progressPercent rounds completed/total to the nearest whole percent.
func progressPercent(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return (completed*100 + total/2) / total
}
