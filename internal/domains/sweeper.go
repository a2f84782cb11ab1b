package domains

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
	"github.com/robfig/cron/v3"
)

const sweepLockKey = "hera:locks:claim-sweep"

// SweepReport summarizes one pass over pending claims
type SweepReport struct {
	Checked  int `json:"checked"`
	Verified int `json:"verified"`
	Expired  int `json:"expired"`
	Errors   int `json:"errors"`

	// deployments the sweep hooks moved on
	Reconciled int `json:"reconciled"`
}

// Sweep re-verifies every pending claim and expires the ones past their TTL.
// Provider errors on single claims are counted, not returned.
func (r *Registry) Sweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	pending, err := r.claims.ListByVerificationStatus(ctx, models.VerificationPending)
	if err != nil {
		return report, fmt.Errorf("failed to list pending claims: %w", err)
	}

	for _, claim := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		if !r.now().Before(claim.ExpiresAt) {
			ok, err := r.expire(ctx, claim)
			if err != nil {
				report.Errors++
				continue
			}
			if ok {
				report.Expired++
			}
			continue
		}

		result, err := r.Verify(ctx, claim.ID)
		if err != nil {
			report.Errors++
			logger.ForClaim(claim.ID).WithField("error", err.Error()).Warn("Sweep verification failed")
			continue
		}
		if result.Verified {
			report.Verified++
		}
	}

	r.mu.Lock()
	hooks := append([]SweepHook(nil), r.hooks...)
	r.mu.Unlock()
	for _, h := range hooks {
		n, err := h(ctx)
		report.Reconciled += n
		if err != nil {
			report.Errors++
			logger.WithField("error", err.Error()).Warn("Sweep hook failed")
		}
	}
	return report, nil
}

// Sweeper runs Registry.Sweep on a schedule. With a locker only one
// instance sweeps per interval.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	locker   *redislock.Client
	cron     *cron.Cron
}

// NewSweeper creates a Sweeper. locker may be nil.
func NewSweeper(registry *Registry, interval time.Duration, locker *redislock.Client) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Sweeper{
		registry: registry,
		interval: interval,
		locker:   locker,
		cron:     cron.New(),
	}
}

// Start schedules the sweep
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.interval)
		defer cancel()
		if _, err := s.RunOnce(ctx); err != nil {
			logger.WithField("error", err.Error()).Error("Claim sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule claim sweep: %w", err)
	}
	s.cron.Start()
	logger.WithField("interval", s.interval.String()).Info("Claim sweeper started")
	return nil
}

// Stop stops scheduling and waits for a running sweep to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce performs a single sweep, holding the distributed lock when configured
func (s *Sweeper) RunOnce(ctx context.Context) (SweepReport, error) {
	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, sweepLockKey, s.interval, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			metrics.SweepRuns.WithLabelValues(metrics.ResultSkipped).Inc()
			logger.Debug("Claim sweep skipped: another instance holds the lock")
			return SweepReport{}, nil
		}
		if err != nil {
			metrics.SweepRuns.WithLabelValues(metrics.ResultError).Inc()
			return SweepReport{}, fmt.Errorf("failed to obtain sweep lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.WithField("error", err.Error()).Warn("Failed to release sweep lock")
			}
		}()
	}

	start := time.Now()
	report, err := s.registry.Sweep(ctx)
	if err != nil {
		metrics.SweepRuns.WithLabelValues(metrics.ResultError).Inc()
		return report, err
	}
	metrics.SweepRuns.WithLabelValues(metrics.ResultOK).Inc()
	logger.WithFields(map[string]interface{}{
		"checked":    report.Checked,
		"verified":   report.Verified,
		"expired":    report.Expired,
		"errors":     report.Errors,
		"reconciled": report.Reconciled,
		"duration":   time.Since(start).String(),
	}).Info("Claim sweep finished")
	return report, nil
}
