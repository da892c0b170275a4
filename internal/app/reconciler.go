package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/giftclaim/internal/domain"
	"github.com/pscheid92/giftclaim/internal/platform/correlation"
)

// SweepReport summarizes one reconciler pass.
type SweepReport struct {
	Scanned         int
	TenantsRemoved  int
	SessionsCleared int
	Failed          int
}

// Reconciler periodically enforces key and session expiry over every tenant.
type Reconciler struct {
	tenants  domain.TenantRepository
	sessions *SessionManager
	clock    clockwork.Clock
	interval time.Duration
	recorder SweepRecorder
	stopCh   chan struct{}
}

func NewReconciler(tenants domain.TenantRepository, sessions *SessionManager, clock clockwork.Clock, interval time.Duration, recorder SweepRecorder) *Reconciler {
	if recorder == nil {
		recorder = NoopRecorder{}
	}
	return &Reconciler{
		tenants:  tenants,
		sessions: sessions,
		clock:    clock,
		interval: interval,
		recorder: recorder,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called or ctx is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := r.clock.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			if _, err := r.Sweep(ctx); err != nil {
				slog.Error("Reconciler sweep failed", "error", err)
			}
		case <-r.stopCh:
			slog.Info("Reconciler stopped")
			return
		case <-ctx.Done():
			slog.Info("Reconciler context cancelled")
			return
		}
	}
}

func (r *Reconciler) Stop() {
	close(r.stopCh)
}

// Sweep checks every tenant once. A failure on one tenant is logged and the
// sweep moves on.
func (r *Reconciler) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	start := r.clock.Now()
	ctx = correlation.Ensure(ctx)

	keys, err := r.tenants.ListAccessKeys(ctx)
	if err != nil {
		return report, fmt.Errorf("list tenants: %w", err)
	}

	for _, key := range keys {
		report.Scanned++

		action, err := r.reconcile(correlation.WithTenant(ctx, key), key)
		if err != nil {
			report.Failed++
			slog.WarnContext(ctx, "Failed to reconcile tenant", "tenant", correlation.Mask(key), "error", err)
			continue
		}

		switch action {
		case actionTenantRemoved:
			report.TenantsRemoved++
		case actionSessionCleared:
			report.SessionsCleared++
		}
	}

	r.recorder.SweepCompleted(report, r.clock.Since(start))
	slog.InfoContext(ctx, "Reconciler sweep finished",
		"scanned", report.Scanned,
		"tenants_removed", report.TenantsRemoved,
		"sessions_cleared", report.SessionsCleared,
		"failed", report.Failed)
	return report, nil
}

type sweepAction int

const (
	actionNone sweepAction = iota
	actionTenantRemoved
	actionSessionCleared
)

func (r *Reconciler) reconcile(ctx context.Context, accessKey string) (sweepAction, error) {
	unlock := r.sessions.Locks().Lock(accessKey)
	defer unlock()

	t, err := r.tenants.Get(ctx, accessKey)
	if errors.Is(err, domain.ErrTenantNotFound) {
		return actionNone, nil
	}
	if err != nil {
		return actionNone, err
	}

	now := r.clock.Now()
	if t.KeyExpired(now) {
		removed, err := evictTenantLocked(ctx, r.tenants, r.sessions, accessKey)
		if err != nil || !removed {
			return actionNone, err
		}
		slog.InfoContext(ctx, "Removed tenant with expired access key", "destination", t.Destination)
		return actionTenantRemoved, nil
	}

	if t.Bot != nil && t.Bot.Expired(now) {
		if err := clearSessionLocked(ctx, r.tenants, r.sessions, accessKey); err != nil {
			return actionNone, err
		}
		slog.InfoContext(ctx, "Cleared expired bot session", "identity", t.Bot.Identity)
		return actionSessionCleared, nil
	}

	return actionNone, nil
}

// evictTenantLocked tears down the live session and deletes the tenant. The
// caller holds the tenant's key lock.
func evictTenantLocked(ctx context.Context, tenants domain.TenantRepository, sessions *SessionManager, accessKey string) (bool, error) {
	sessions.Disconnect(accessKey)
	removed, err := tenants.Delete(ctx, accessKey)
	if err != nil {
		return false, fmt.Errorf("delete tenant: %w", err)
	}
	return removed, nil
}

// clearSessionLocked tears down the live session and drops the bot session
// sub-record. The caller holds the tenant's key lock.
func clearSessionLocked(ctx context.Context, tenants domain.TenantRepository, sessions *SessionManager, accessKey string) error {
	sessions.Disconnect(accessKey)
	_, err := tenants.Update(ctx, accessKey, func(t *domain.Tenant) error {
		t.Bot = nil
		return nil
	})
	if errors.Is(err, domain.ErrTenantNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("clear bot session: %w", err)
	}
	return nil
}
