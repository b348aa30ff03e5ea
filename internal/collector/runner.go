package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"bidflow/internal/alert"
	"bidflow/internal/types"
)

// CredentialLister fetches the tenants scheduled for a given day of week.
type CredentialLister interface {
	ListScheduled(ctx context.Context, dayOfWeek int) ([]types.TenantCredential, error)
}

// SecretResolver resolves a credential's vault references.
type SecretResolver interface {
	ResolveTenantSecrets(ctx context.Context, cred types.TenantCredential) (types.TenantSecrets, error)
}

// TenantCollector runs one tenant's collection cycle.
type TenantCollector interface {
	Collect(ctx context.Context, cred types.TenantCredential, secrets types.TenantSecrets) error
}

// RunLogStore appends the audit record of one daily run.
type RunLogStore interface {
	Insert(ctx context.Context, entry types.SchedulerLogEntry) error
}

// Alerter is the slice of the alert notifier the runner uses.
type Alerter interface {
	Error(ctx context.Context, message string, fields ...alert.Field)
	Critical(ctx context.Context, message string, fields ...alert.Field)
}

// DailyRunner drives the daily collection pass: it fetches the tenants
// whose report day matches today and runs them strictly sequentially, with
// a fixed delay between tenants to spread API load. One tenant's failure
// never stops the others.
type DailyRunner struct {
	credentials CredentialLister
	secrets     SecretResolver
	collector   TenantCollector
	runLog      RunLogStore
	alerter     Alerter
	clock       types.Clock
	logger      *slog.Logger

	tenantDelay time.Duration
	workerID    string
	sleep       func(context.Context, time.Duration) error
}

// NewDailyRunner wires a DailyRunner. The worker id is the hostname when
// available, a random id otherwise.
func NewDailyRunner(
	credentials CredentialLister,
	secrets SecretResolver,
	collector TenantCollector,
	runLog RunLogStore,
	alerter Alerter,
	clock types.Clock,
	logger *slog.Logger,
	tenantDelay time.Duration,
) *DailyRunner {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	workerID, err := os.Hostname()
	if err != nil || workerID == "" {
		workerID = "worker-" + uuid.NewString()[:8]
	}
	return &DailyRunner{
		credentials: credentials,
		secrets:     secrets,
		collector:   collector,
		runLog:      runLog,
		alerter:     alerter,
		clock:       clock,
		logger:      logger,
		tenantDelay: tenantDelay,
		workerID:    workerID,
		sleep:       sleepCtx,
	}
}

// WithSleepFunc overrides the inter-tenant sleep. Test helper.
func (r *DailyRunner) WithSleepFunc(fn func(context.Context, time.Duration) error) *DailyRunner {
	r.sleep = fn
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes one daily pass. It returns an error only when the tenant
// list itself cannot be fetched; per-tenant failures are alerted, counted
// and absorbed.
func (r *DailyRunner) Run(ctx context.Context) error {
	start := r.clock.Now()
	dayOfWeek := int(start.Weekday())

	creds, err := r.credentials.ListScheduled(ctx, dayOfWeek)
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to fetch scheduled tenants", "error", err, "day_of_week", dayOfWeek)
		r.alerter.Critical(ctx, "Daily collection aborted: could not fetch scheduled tenants",
			alert.Field{Name: "Day", Value: start.Weekday().String()},
			alert.Field{Name: "Error", Value: err.Error()},
		)
		return fmt.Errorf("fetching scheduled tenants: %w", err)
	}

	if len(creds) == 0 {
		r.logger.InfoContext(ctx, "no tenants scheduled today", "day_of_week", dayOfWeek)
		return nil
	}

	r.logger.InfoContext(ctx, "starting daily collection run",
		"day_of_week", dayOfWeek,
		"tenant_count", len(creds),
		"worker_id", r.workerID,
	)

	var (
		successCount int
		failureCount int
		runErrors    []string
	)

	for i, cred := range creds {
		if err := r.runTenant(ctx, cred); err != nil {
			failureCount++
			runErrors = append(runErrors, fmt.Sprintf("%s: %v", cred.AccountName, err))
			r.logger.ErrorContext(ctx, "tenant collection failed",
				"credential_id", cred.ID,
				"account_name", cred.AccountName,
				"error", err,
			)
			r.alerter.Error(ctx, "Collection failed for tenant",
				alert.Field{Name: "Account", Value: cred.AccountName},
				alert.Field{Name: "Profile", Value: cred.ProfileID},
				alert.Field{Name: "Error", Value: err.Error()},
			)
		} else {
			successCount++
		}

		if i < len(creds)-1 {
			if err := r.sleep(ctx, r.tenantDelay); err != nil {
				return err
			}
		}
	}

	duration := r.clock.Now().Sub(start)
	entry := types.SchedulerLogEntry{
		RunDate:      start,
		WorkerID:     r.workerID,
		TenantCount:  len(creds),
		SuccessCount: successCount,
		FailureCount: failureCount,
		DurationMs:   duration.Milliseconds(),
		Errors:       runErrors,
	}
	if err := r.runLog.Insert(ctx, entry); err != nil {
		// The run itself succeeded; losing the audit row is log-worthy only.
		r.logger.ErrorContext(ctx, "failed to write scheduler log entry", "error", err)
	}

	r.logger.InfoContext(ctx, "daily collection run finished",
		"tenant_count", len(creds),
		"success_count", successCount,
		"failure_count", failureCount,
		"duration_ms", duration.Milliseconds(),
	)

	if successCount == 0 {
		r.alerter.Critical(ctx, "Daily collection run completed with zero successes",
			alert.Field{Name: "Tenants", Value: fmt.Sprintf("%d", len(creds))},
			alert.Field{Name: "Failures", Value: fmt.Sprintf("%d", failureCount)},
		)
	}

	return nil
}

func (r *DailyRunner) runTenant(ctx context.Context, cred types.TenantCredential) error {
	secrets, err := r.secrets.ResolveTenantSecrets(ctx, cred)
	if err != nil {
		return fmt.Errorf("resolving vault secrets: %w", err)
	}
	return r.collector.Collect(ctx, cred, secrets)
}
