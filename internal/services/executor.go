package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/domains"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/queue"
	"github.com/imyashkale/hera/internal/repository"
)

// activeRun tracks a provisioning run so Delete can cancel and await it
type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
	// a claim event arrived while the run was in flight
	reconcile bool
}

// Execute runs a provisioning job from step 1. It is the worker pool handler.
func (s *DeploymentService) Execute(ctx context.Context, job *queue.ProvisionJob) error {
	id := job.DeploymentID

	s.mu.Lock()
	if s.deleting[id] {
		s.mu.Unlock()
		return nil
	}
	if _, busy := s.runs[id]; busy {
		s.mu.Unlock()
		logger.ForDeployment(id).Debug("Provisioning already running, dropping duplicate job")
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	ar := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.runs[id] = ar
	s.mu.Unlock()

	var parked bool
	var err error
	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.runs, id)
		reconcile := ar.reconcile
		s.mu.Unlock()
		close(ar.done)

		// a verification or expiry that raced with parking
		if parked && reconcile && ctx.Err() == nil {
			s.reconcileParked(context.Background(), id)
		}
	}()

	parked, err = s.provision(runCtx, job)
	return err
}

// provision walks the steps. It reports parked when domain verification is
// still outstanding after the polling attempts.
func (s *DeploymentService) provision(ctx context.Context, job *queue.ProvisionJob) (bool, error) {
	const op = "services.provision"
	d, err := s.repo.Get(ctx, job.DeploymentID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.ForDeployment(job.DeploymentID).Info("Deployment no longer exists, skipping job")
		return false, nil
	}
	if err != nil {
		return false, apperrors.Provider(op, "failed to load deployment", err)
	}
	if !d.Status.IsProvisioning() {
		logger.ForDeployment(d.ID).WithField("status", d.Status).Info("Deployment is not provisioning, skipping job")
		return false, nil
	}

	run := &Run{Deployment: d, Log: NewProvisionLog(d.ID, d.Logs, s.opts.Now)}
	run.Log.LogInfo("system", fmt.Sprintf("Provisioning started (%s)", job.Reason))

	d.Status = models.DeploymentDeploying
	d.Error = ""
	d.Steps = s.pendingSteps()
	if err := s.save(ctx, run); err != nil {
		return false, s.abort(ctx, run, err)
	}

	for _, step := range s.steps {
		if err := ctx.Err(); err != nil {
			return false, apperrors.Cancelled(op, "provisioning cancelled")
		}

		s.progress.set(models.Progress{
			DeploymentID:     d.ID,
			StepName:         step.Name,
			PercentComplete:  percentAt(step.Ordinal, len(s.steps)),
			CurrentStep:      step.Ordinal,
			TotalSteps:       len(s.steps),
			Message:          "Running " + step.Name,
			EstimatedSeconds: s.remainingEstimate(step.Ordinal),
		})

		status := d.Steps[step.Name]
		startedAt := s.now()
		status.Status = models.StepRunning
		status.StartedAt = &startedAt
		if err := s.save(ctx, run); err != nil {
			return false, s.abort(ctx, run, err)
		}

		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, s.opts.StepTimeout)
		err := step.Executor.Execute(stepCtx, run)
		timedOut := errors.Is(stepCtx.Err(), context.DeadlineExceeded)
		cancel()

		completedAt := s.now()
		var pe *parkedError
		switch {
		case err == nil:
			status.Status = models.StepCompleted
			status.CompletedAt = &completedAt
			metrics.StepDuration.WithLabelValues(step.Name, metrics.ResultOK).Observe(time.Since(start).Seconds())
		case errors.Is(err, errStepSkipped):
			status.Status = models.StepSkipped
			status.CompletedAt = &completedAt
			run.Log.LogInfo(step.Name, "Skipped")
			metrics.StepDuration.WithLabelValues(step.Name, metrics.ResultSkipped).Observe(time.Since(start).Seconds())
		case ctx.Err() != nil:
			return false, apperrors.Cancelled(op, "provisioning cancelled")
		case errors.As(err, &pe):
			status.Status = models.StepWaiting
			status.Error = pe.Error()
			run.Log.LogWarning(step.Name, pe.Error())
			s.progress.set(models.Progress{
				DeploymentID:     d.ID,
				StepName:         step.Name,
				PercentComplete:  percentAt(step.Ordinal, len(s.steps)),
				CurrentStep:      step.Ordinal,
				TotalSteps:       len(s.steps),
				Message:          pe.Error(),
				EstimatedSeconds: s.remainingEstimate(step.Ordinal),
			})
			metrics.StepDuration.WithLabelValues(step.Name, metrics.ResultPending).Observe(time.Since(start).Seconds())
			metrics.DeploymentsFinished.WithLabelValues("parked").Inc()
			if err := s.save(ctx, run); err != nil {
				return false, s.abort(ctx, run, err)
			}
			return true, nil
		default:
			if timedOut {
				err = apperrors.Provider(op, fmt.Sprintf("%s timed out after %s", step.Name, s.opts.StepTimeout), err)
			}
			metrics.StepDuration.WithLabelValues(step.Name, metrics.ResultError).Observe(time.Since(start).Seconds())
			s.fail(ctx, run, step.Name, err)
			return false, err
		}

		if err := s.save(ctx, run); err != nil {
			return false, s.abort(ctx, run, err)
		}
	}

	deployedAt := s.now()
	d.Status = models.DeploymentActive
	d.DeployedAt = &deployedAt
	run.Log.LogInfo("system", "Provisioning completed successfully")
	if err := s.save(ctx, run); err != nil {
		return false, s.abort(ctx, run, err)
	}
	s.progress.remove(d.ID)
	metrics.DeploymentsFinished.WithLabelValues(string(models.DeploymentActive)).Inc()
	return false, nil
}

// save persists the run's deployment with its size-limited log
func (s *DeploymentService) save(ctx context.Context, run *Run) error {
	run.Deployment.Logs = run.Log.GetLogsWithSizeLimit()
	run.Deployment.UpdatedAt = s.now()
	return s.repo.Update(ctx, run.Deployment)
}

// abort handles a failed save. A cancelled run writes nothing more.
func (s *DeploymentService) abort(ctx context.Context, run *Run, err error) error {
	if ctx.Err() != nil {
		return apperrors.Cancelled("services.provision", "provisioning cancelled")
	}
	if errors.Is(err, repository.ErrNotFound) {
		return apperrors.Cancelled("services.provision", "deployment was removed")
	}
	s.fail(ctx, run, "system", apperrors.Provider("services.provision", "failed to store deployment", err))
	return err
}

// fail records err on the deployment and moves it to failed
func (s *DeploymentService) fail(ctx context.Context, run *Run, stepName string, err error) {
	d := run.Deployment
	msg := failureMessage(err)

	if status, ok := d.Steps[stepName]; ok {
		completedAt := s.now()
		status.Status = models.StepFailed
		status.CompletedAt = &completedAt
		status.Error = msg
	}
	d.Status = models.DeploymentFailed
	d.Error = msg
	run.Log.LogError(stepName, msg)

	if err := s.save(ctx, run); err != nil {
		logger.ForDeployment(d.ID).WithField("error", err.Error()).Error("Failed to record deployment failure")
	}
	s.progress.remove(d.ID)
	metrics.DeploymentsFinished.WithLabelValues(string(models.DeploymentFailed)).Inc()
}

// failureMessage renders err for the deployment record
func failureMessage(err error) string {
	if errors.Is(err, errDomainExpired) {
		return errDomainExpired.Error()
	}
	var ae *apperrors.Error
	if !errors.As(err, &ae) {
		return err.Error()
	}
	msg := ae.Message
	if len(ae.Details) > 0 {
		msg += ": " + strings.Join(ae.Details, "; ")
	}
	if ae.Err != nil {
		msg += ": " + failureMessage(ae.Err)
	}
	return msg
}

// onClaimEvent moves parked deployments on when their claim is verified or expires
func (s *DeploymentService) onClaimEvent(ctx context.Context, event domains.Event) {
	id := event.Claim.DeploymentID
	if id == "" {
		return
	}

	s.mu.Lock()
	if run, ok := s.runs[id]; ok {
		run.reconcile = true
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.reconcileParked(ctx, id)
}

// ReconcileParked runs reconcileParked over every parked deployment. The
// sweeper calls it so a deployment whose re-enqueue was refused (queue full)
// gets another chance. It returns how many deployments moved on.
func (s *DeploymentService) ReconcileParked(ctx context.Context) (int, error) {
	list, err := s.repo.ListByStatus(ctx, models.DeploymentDeploying)
	if err != nil {
		return 0, apperrors.Provider("services.ReconcileParked", "failed to list deployments", err)
	}
	moved := 0
	for _, d := range list {
		if err := ctx.Err(); err != nil {
			return moved, err
		}
		if st := d.Steps[StepDomainSetup]; st == nil || st.Status != models.StepWaiting {
			continue
		}
		if s.reconcileParked(ctx, d.ID) {
			moved++
		}
	}
	return moved, nil
}

// reconcileParked re-enqueues a parked deployment whose claim is verified and
// fails one whose claim expired or disappeared. It reports whether the
// deployment left the parked state.
func (s *DeploymentService) reconcileParked(ctx context.Context, id string) bool {
	s.admin.Lock()
	defer s.admin.Unlock()

	s.mu.Lock()
	busy := s.runs[id] != nil || s.deleting[id]
	s.mu.Unlock()
	if busy {
		return false
	}

	log := logger.ForDeployment(id)
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			log.WithField("error", err.Error()).Warn("Failed to load parked deployment")
		}
		return false
	}
	if d.Status != models.DeploymentDeploying || d.ClaimID == "" {
		return false
	}
	if st := d.Steps[StepDomainSetup]; st == nil || st.Status != models.StepWaiting {
		return false
	}

	claim, err := s.registry.GetClaim(ctx, d.ClaimID)
	switch {
	case apperrors.IsKind(err, apperrors.KindNotFound):
		s.failParked(ctx, d, "domain claim was removed before verification")
		return true
	case err != nil:
		log.WithField("error", err.Error()).Warn("Failed to load claim of parked deployment")
	case claim.VerificationStatus == models.VerificationVerified:
		return s.requeue(ctx, d, queue.ReasonDomainVerified)
	case claim.VerificationStatus == models.VerificationExpired || claim.VerificationStatus == models.VerificationFailed:
		s.failParked(ctx, d, errDomainExpired.Error())
		return true
	}
	return false
}

// requeue takes a parked deployment out of waiting and enqueues it. The
// record is updated first so a worker never races the write; a refused
// enqueue puts it back to waiting for the next sweep. Callers hold s.admin.
func (s *DeploymentService) requeue(ctx context.Context, d *models.Deployment, reason string) bool {
	log := logger.ForDeployment(d.ID)
	st := d.Steps[StepDomainSetup]
	waitingMsg := st.Error

	st.Status = models.StepPending
	st.Error = ""
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		log.WithField("error", err.Error()).Error("Failed to mark parked deployment as queued")
		return false
	}

	err := s.queue.Enqueue(&queue.ProvisionJob{DeploymentID: d.ID, OrganizationID: d.OrganizationID, Reason: reason})
	if err != nil {
		log.WithField("error", err.Error()).Warn("Failed to re-enqueue deployment, retrying on next sweep")
		st.Status = models.StepWaiting
		st.Error = waitingMsg
		d.UpdatedAt = s.now()
		if uerr := s.repo.Update(ctx, d); uerr != nil {
			log.WithField("error", uerr.Error()).Error("Failed to restore parked deployment")
		}
		return false
	}

	s.progress.remove(d.ID)
	log.WithField("reason", reason).Info("Deployment re-enqueued")
	return true
}

func (s *DeploymentService) failParked(ctx context.Context, d *models.Deployment, msg string) {
	log := NewProvisionLog(d.ID, d.Logs, s.opts.Now)
	s.fail(ctx, &Run{Deployment: d, Log: log}, StepDomainSetup, errors.New(msg))
}

// Recover re-enqueues deployments a previous process left in preparing or
// mid-run, and reconciles parked ones. It returns how many were re-enqueued.
func (s *DeploymentService) Recover(ctx context.Context) (int, error) {
	requeued := 0
	for _, status := range []models.DeploymentStatus{models.DeploymentPreparing, models.DeploymentDeploying} {
		list, err := s.repo.ListByStatus(ctx, status)
		if err != nil {
			return requeued, apperrors.Provider("services.Recover", "failed to list deployments", err)
		}
		for _, d := range list {
			s.mu.Lock()
			busy := s.runs[d.ID] != nil
			s.mu.Unlock()
			if busy {
				continue
			}
			if st := d.Steps[StepDomainSetup]; status == models.DeploymentDeploying && st != nil && st.Status == models.StepWaiting {
				s.reconcileParked(ctx, d.ID)
				continue
			}
			if err := s.queue.Enqueue(&queue.ProvisionJob{DeploymentID: d.ID, OrganizationID: d.OrganizationID, Reason: queue.ReasonRecover}); err != nil {
				return requeued, apperrors.Provider("services.Recover", "failed to enqueue deployment", err)
			}
			requeued++
		}
	}
	if requeued > 0 {
		logger.WithField("count", requeued).Info("Recovered unfinished deployments")
	}
	return requeued, nil
}
