// Package reconcile keeps recorded deployments in step with the endpoints
// that actually exist on SageMaker.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/logging"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/metrics"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/internal/sagemaker"
	"github.com/neuron-endpoint-kit/neuron-endpoint-kit/pkg/models"
)

const (
	// DefaultReconcileInterval is how often to run reconciliation
	DefaultReconcileInterval = 5 * time.Minute
)

// Outcomes of checking one recorded deployment
const (
	OutcomeUnchanged = "unchanged"
	OutcomeInService = "inservice"
	OutcomeFailed    = "failed"
	OutcomeGone      = "gone"
	OutcomeError     = "error"
)

// StatusChecker reports the live status of an endpoint.
// *sagemaker.Deployer satisfies it.
type StatusChecker interface {
	EndpointStatus(ctx context.Context, name string) (status, reason string, err error)
}

// CheckerRegistry returns the status checker for a region
type CheckerRegistry interface {
	Get(region string) (StatusChecker, error)
}

// Store defines the deployment persistence needed by the reconciler
type Store interface {
	ListActive(ctx context.Context) ([]*models.Deployment, error)
	Update(ctx context.Context, d *models.Deployment) error
}

// Report summarizes one reconciliation pass
type Report struct {
	Checked   int `json:"checked"`
	InService int `json:"inservice"`
	Failed    int `json:"failed"`
	Gone      int `json:"gone"`
	Errors    int `json:"errors"`
}

// Reconciler compares recorded deployments with SageMaker endpoint state
type Reconciler struct {
	store    Store
	checkers CheckerRegistry
	logger   *slog.Logger

	reconcileInterval time.Duration

	// For time mocking in tests
	now func() time.Time

	// Shutdown coordination
	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	statsMu sync.RWMutex
	runs    int64
	last    Report
}

// Option configures the reconciler
type Option func(*Reconciler)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Reconciler) {
		r.logger = logger
	}
}

// WithInterval sets how often to run reconciliation
func WithInterval(d time.Duration) Option {
	return func(r *Reconciler) {
		r.reconcileInterval = d
	}
}

// WithTimeFunc sets a custom time function (for testing)
func WithTimeFunc(fn func() time.Time) Option {
	return func(r *Reconciler) {
		r.now = fn
	}
}

// New creates a reconciler
func New(store Store, checkers CheckerRegistry, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:             store,
		checkers:          checkers,
		logger:            slog.Default(),
		reconcileInterval: DefaultReconcileInterval,
		now:               time.Now,
		stopCh:            make(chan struct{}),
		doneCh:            make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Start begins the reconciliation loop
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	stopCh, doneCh := r.stopCh, r.doneCh
	r.mu.Unlock()

	r.logger.Info("reconciler starting",
		slog.Duration("interval", r.reconcileInterval))

	go r.run(ctx, stopCh, doneCh)
}

// Stop stops the loop and waits for the current pass to finish
func (r *Reconciler) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	stopCh := r.stopCh
	doneCh := r.doneCh
	r.mu.Unlock()

	close(stopCh)
	<-doneCh
	r.logger.Info("reconciler stopped")
}

func (r *Reconciler) run(ctx context.Context, stopCh, doneCh chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
		close(doneCh)
	}()

	ticker := time.NewTicker(r.reconcileInterval)
	defer ticker.Stop()

	r.logPass(r.RunOnce(ctx))

	for {
		select {
		case <-ticker.C:
			r.logPass(r.RunOnce(ctx))
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) logPass(report Report, err error) {
	if err != nil {
		r.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		return
	}
	r.logger.Debug("reconciliation complete",
		slog.Int("checked", report.Checked),
		slog.Int("gone", report.Gone),
		slog.Int("errors", report.Errors))
}

// RunOnce checks every active recorded deployment once. Errors for single
// deployments are logged and counted in the report; only a failure to list
// deployments is returned.
func (r *Reconciler) RunOnce(ctx context.Context) (Report, error) {
	var report Report

	active, err := r.store.ListActive(ctx)
	if err != nil {
		return report, fmt.Errorf("failed to list active deployments: %w", err)
	}

	for _, d := range active {
		report.Checked++
		outcome := r.reconcile(ctx, d)
		metrics.RecordReconcileOutcome(outcome)
		switch outcome {
		case OutcomeInService:
			report.InService++
		case OutcomeFailed:
			report.Failed++
		case OutcomeGone:
			report.Gone++
		case OutcomeError:
			report.Errors++
		}
	}

	r.statsMu.Lock()
	r.runs++
	r.last = report
	r.statsMu.Unlock()

	return report, nil
}

// reconcile checks one deployment and records any status change
func (r *Reconciler) reconcile(ctx context.Context, d *models.Deployment) string {
	ctx = logging.WithEndpoint(ctx, d.EndpointName)

	checker, err := r.checkers.Get(d.Region)
	if err != nil {
		r.logger.Error("no status checker for region",
			slog.String("endpoint", d.EndpointName),
			slog.String("region", d.Region),
			slog.String("error", err.Error()))
		return OutcomeError
	}

	status, reason, err := checker.EndpointStatus(ctx, d.EndpointName)
	switch {
	case sagemaker.IsNotFound(err):
		r.logger.Warn("recorded endpoint no longer exists",
			slog.String("endpoint", d.EndpointName),
			slog.String("status", string(d.Status)))
		d.Status = models.StatusDeleted
		d.Error = "endpoint not found during reconciliation"
		d.DeletedAt = r.now()
		return r.save(ctx, d, OutcomeGone)
	case err != nil:
		r.logger.Error("failed to describe endpoint",
			slog.String("endpoint", d.EndpointName),
			slog.String("error", err.Error()))
		return OutcomeError
	}

	switch status {
	case sagemaker.StatusInService:
		if d.Status == models.StatusInService {
			return OutcomeUnchanged
		}
		d.Status = models.StatusInService
		d.Error = ""
		if d.InServiceAt.IsZero() {
			d.InServiceAt = r.now()
		}
		return r.save(ctx, d, OutcomeInService)
	case sagemaker.StatusFailed:
		d.Status = models.StatusFailed
		d.Error = reason
		return r.save(ctx, d, OutcomeFailed)
	default:
		// Creating, Updating, OutOfService and the like keep the recorded status
		return OutcomeUnchanged
	}
}

func (r *Reconciler) save(ctx context.Context, d *models.Deployment, outcome string) string {
	if err := r.store.Update(ctx, d); err != nil {
		r.logger.Error("failed to update deployment",
			slog.String("endpoint", d.EndpointName),
			slog.String("error", err.Error()))
		return OutcomeError
	}
	logging.Audit(ctx, "deployment_reconciled",
		slog.String("outcome", outcome),
		slog.String("status", string(d.Status)))
	return outcome
}

// Runs returns how many passes completed and the report of the latest one
func (r *Reconciler) Runs() (int64, Report) {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.runs, r.last
}

// IsRunning returns whether the loop is running
func (r *Reconciler) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
