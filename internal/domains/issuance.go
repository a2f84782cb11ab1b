package domains

import (
	"context"
	"errors"
	"time"

	"github.com/imyashkale/hera/internal/certificates"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
)

// maxStatusErrors is how many consecutive Status failures end issuance
const maxStatusErrors = 5

// issuanceTask is the certificate work owned by one claim. handle and revoked
// are written by the task goroutine and read only after done is closed.
type issuanceTask struct {
	cancel  context.CancelFunc
	done    chan struct{}
	handle  certificates.Handle
	revoked bool
}

// startIssuance spawns the certificate task for a freshly verified claim
// unless the claim is being deleted.
func (r *Registry) startIssuance(claim *models.DomainClaim) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.deleting[claim.ID] || r.tasks[claim.ID] != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	task := &issuanceTask{cancel: cancel, done: make(chan struct{})}
	r.tasks[claim.ID] = task
	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			if r.tasks[claim.ID] == task {
				delete(r.tasks, claim.ID)
			}
			r.mu.Unlock()
			cancel()
			close(task.done)
		}()
		r.issue(ctx, claim.Clone(), task)
	}()
}

// issue runs Issue, persists the handle, then polls Status until the
// certificate is active or failed. On cancellation it leaves any handle in
// task.handle for DeleteClaim to revoke.
func (r *Registry) issue(ctx context.Context, claim *models.DomainClaim, task *issuanceTask) {
	log := logger.ForClaim(claim.ID).WithField("hostname", claim.Hostname())

	handle, err := r.certs.Issue(ctx, claim.Hostname())
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultError).Inc()
		log.WithField("error", err.Error()).Error("Certificate issuance failed")
		r.advanceSSL(claim.ID, models.SSLFailed)
		return
	}
	metrics.CertificateOperations.WithLabelValues("issue", metrics.ResultOK).Inc()
	task.handle = handle
	if ctx.Err() != nil {
		return
	}

	ok, err := r.claims.SetCertificate(ctx, claim.ID, string(handle), r.now())
	if err != nil || !ok {
		if ctx.Err() != nil {
			return
		}
		// the handle is not recorded anywhere, so nothing else will revoke it
		if rerr := r.certs.Revoke(context.Background(), handle); rerr != nil && !errors.Is(rerr, certificates.ErrUnknownHandle) {
			log.WithField("error", rerr.Error()).Error("Failed to revoke unrecorded certificate")
		} else {
			task.handle = ""
			task.revoked = true
		}
		if err != nil {
			log.WithField("error", err.Error()).Error("Failed to record certificate handle")
			r.advanceSSL(claim.ID, models.SSLFailed)
		}
		return
	}
	log.WithField("certificate_id", handle).Info("Certificate requested")

	ticker := time.NewTicker(r.opts.CertPollInterval)
	defer ticker.Stop()
	failures := 0
	for {
		status, err := r.certs.Status(ctx, handle)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			failures++
			log.WithField("error", err.Error()).Warn("Certificate status check failed")
			if failures >= maxStatusErrors {
				r.advanceSSL(claim.ID, models.SSLFailed)
				return
			}
		case status == certificates.StatusActive:
			r.advanceSSL(claim.ID, models.SSLActive)
			log.WithField("certificate_id", handle).Info("Certificate active")
			return
		case status == certificates.StatusFailed:
			r.advanceSSL(claim.ID, models.SSLFailed)
			log.WithField("certificate_id", handle).Warn("Certificate order failed")
			return
		default:
			failures = 0
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// advanceSSL moves ssl_status out of pending. It uses a fresh context so a
// result reached just before cancellation is still recorded.
func (r *Registry) advanceSSL(claimID string, to models.SSLStatus) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := r.claims.AdvanceSSL(ctx, claimID, to, r.now()); err != nil {
		logger.ForClaim(claimID).WithField("error", err.Error()).Warn("Failed to update SSL status")
	}
}
