// Package services hosts the deployment orchestrator: it validates and
// records white-label deployments, walks them through the provisioning steps
// on the worker pool and applies administrative changes.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/branding"
	"github.com/imyashkale/hera/internal/configstore"
	"github.com/imyashkale/hera/internal/domains"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
	"github.com/imyashkale/hera/internal/placement"
	"github.com/imyashkale/hera/internal/queue"
	"github.com/imyashkale/hera/internal/repository"
)

// DefaultTemplatePack is used when a deployment names no template pack
const DefaultTemplatePack = "standard"

const maxNameLength = 128

// Dependencies are the collaborators of a DeploymentService
type Dependencies struct {
	Deployments repository.DeploymentRepository
	Registry    *domains.Registry
	Configs     *configstore.Store
	Industries  *branding.Industries
	Sink        branding.Sink
	Assets      objectstore.Store
	CDN         CDNProvider
	Health      HealthChecker
	Ring        *placement.Ring
	Queue       *queue.JobQueue
}

// Options tunes a DeploymentService
type Options struct {
	AssetBucket    string
	PlatformDomain string
	StepTimeout    time.Duration
	VerifyAttempts int
	VerifyInterval time.Duration
	Now            func() time.Time
}

// DeploymentService is the deployment orchestrator. It is safe for concurrent use.
type DeploymentService struct {
	repo       repository.DeploymentRepository
	registry   *domains.Registry
	configs    *configstore.Store
	industries *branding.Industries
	sink       branding.Sink
	assets     objectstore.Store
	cdn        CDNProvider
	health     HealthChecker
	ring       *placement.Ring
	queue      *queue.JobQueue
	opts       Options

	steps    []Step
	progress *progressTracker

	// admin serializes Create's claim handling, Suspend, Resume, Update,
	// Delete and parked-deployment reconciliation
	admin sync.Mutex

	mu       sync.Mutex
	runs     map[string]*activeRun
	deleting map[string]bool
}

// NewDeploymentService creates the orchestrator and subscribes it to claim events
func NewDeploymentService(deps Dependencies, opts Options) *DeploymentService {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 2 * time.Minute
	}
	if opts.VerifyAttempts < 1 {
		opts.VerifyAttempts = 1
	}
	if opts.VerifyInterval < 0 {
		opts.VerifyInterval = 0
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Ring == nil {
		deps.Ring = placement.NewRing(nil)
	}

	s := &DeploymentService{
		repo:       deps.Deployments,
		registry:   deps.Registry,
		configs:    deps.Configs,
		industries: deps.Industries,
		sink:       deps.Sink,
		assets:     deps.Assets,
		cdn:        deps.CDN,
		health:     deps.Health,
		ring:       deps.Ring,
		queue:      deps.Queue,
		opts:       opts,
		progress:   newProgressTracker(),
		runs:       make(map[string]*activeRun),
		deleting:   make(map[string]bool),
	}
	s.steps = s.defineSteps()
	s.registry.Subscribe(s.onClaimEvent)
	s.registry.OnSweep(s.ReconcileParked)
	return s
}

func (s *DeploymentService) now() time.Time {
	return s.opts.Now().UTC()
}

// Steps returns the provisioning step descriptors in order
func (s *DeploymentService) Steps() []Step {
	return append([]Step(nil), s.steps...)
}

// Create validates cfg, reserves the custom domain, records the deployment in
// preparing and queues provisioning. Validation and conflict errors leave
// nothing behind.
func (s *DeploymentService) Create(ctx context.Context, orgID, name string, cfg models.DeploymentConfig) (*models.Deployment, error) {
	const op = "services.CreateDeployment"

	name = strings.TrimSpace(name)
	cfg, err := s.validateCreate(orgID, name, cfg)
	if err != nil {
		return nil, err
	}

	now := s.now()
	d := &models.Deployment{
		ID:             uuid.New().String(),
		OrganizationID: orgID,
		Name:           name,
		Status:         models.DeploymentPreparing,
		Config:         cfg,
		Region:         s.ring.RegionFor(orgID),
		Steps:          s.pendingSteps(),
		Logs:           []models.ProvisionLogEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	log := logger.ForDeployment(d.ID).WithField("organization_id", orgID)

	s.admin.Lock()
	defer s.admin.Unlock()

	var createdClaim string
	if cfg.HasCustomDomain() {
		claim, created, err := s.reserveDomain(ctx, orgID, d.ID, cfg)
		if err != nil {
			return nil, err
		}
		d.ClaimID = claim.ID
		if created {
			createdClaim = claim.ID
		}
	}

	rollbackClaim := func() {
		if createdClaim == "" {
			return
		}
		if err := s.registry.DeleteClaim(context.Background(), createdClaim); err != nil {
			log.WithField("error", err.Error()).Warn("Failed to release domain claim after aborted create")
		}
	}

	if err := s.repo.Create(ctx, d); err != nil {
		rollbackClaim()
		return nil, apperrors.Provider(op, "failed to store deployment", err)
	}

	err = s.queue.Enqueue(&queue.ProvisionJob{DeploymentID: d.ID, OrganizationID: orgID, Reason: queue.ReasonCreate})
	if err != nil {
		if derr := s.repo.Delete(context.Background(), d.ID); derr != nil {
			log.WithField("error", derr.Error()).Error("Failed to remove deployment after enqueue failure")
		}
		rollbackClaim()
		if errors.Is(err, queue.ErrQueueFull) {
			return nil, apperrors.Provider(op, "provisioning queue is full, retry later", err)
		}
		return nil, apperrors.Provider(op, "provisioning is unavailable", err)
	}

	metrics.DeploymentsCreated.Inc()
	log.WithFields(map[string]interface{}{
		"name":     name,
		"industry": cfg.Industry,
		"hostname": cfg.Hostname(),
		"region":   d.Region,
	}).Info("Deployment created")
	return d.Clone(), nil
}

func (s *DeploymentService) validateCreate(orgID, name string, cfg models.DeploymentConfig) (models.DeploymentConfig, error) {
	const op = "services.CreateDeployment"
	var details []string

	if orgID == "" {
		details = append(details, "organization id is required")
	}
	if name == "" {
		details = append(details, "name is required")
	} else if len(name) > maxNameLength {
		details = append(details, fmt.Sprintf("name is longer than %d characters", maxNameLength))
	}

	cfg.Industry = strings.TrimSpace(cfg.Industry)
	if !s.industries.Known(cfg.Industry) {
		details = append(details, fmt.Sprintf("unknown industry %q (known: %s)", cfg.Industry, strings.Join(s.industries.Names(), ", ")))
	}
	if cfg.TemplatePack == "" {
		cfg.TemplatePack = DefaultTemplatePack
	}
	if err := configstore.ValidateKey(models.ArtifactKey{Industry: "generic", ID: cfg.TemplatePack}); err != nil {
		details = append(details, fmt.Sprintf("template pack %q is not a valid artifact id", cfg.TemplatePack))
	}

	switch {
	case cfg.CustomDomain != "":
		domain, subdomain, err := domains.ValidateDomain(cfg.CustomDomain, cfg.Subdomain)
		if err != nil {
			details = append(details, apperrors.As(err).Details...)
		} else {
			cfg.CustomDomain, cfg.Subdomain = domain, subdomain
		}
	case cfg.Subdomain != "":
		details = append(details, "subdomain requires custom_domain")
	}

	override := branding.ValidateOverride(cfg.Theme)
	details = append(details, override...)
	if len(override) == 0 && s.industries.Known(cfg.Industry) {
		if _, err := s.resolveTheme(cfg); err != nil {
			details = append(details, apperrors.As(err).Details...)
		}
	}

	if len(details) > 0 {
		return cfg, apperrors.Validation(op, "invalid deployment configuration", details...)
	}
	return cfg, nil
}

// reserveDomain finds or creates the claim for cfg's hostname and attaches
// it to deploymentID. Callers hold s.admin.
func (s *DeploymentService) reserveDomain(ctx context.Context, orgID, deploymentID string, cfg models.DeploymentConfig) (*models.DomainClaim, bool, error) {
	const op = "services.CreateDeployment"
	hostname := cfg.Hostname()

	claim, err := s.registry.FindByHostname(ctx, cfg.CustomDomain, cfg.Subdomain)
	switch {
	case err == nil && domains.Live(claim, s.now()):
		if claim.OrganizationID != orgID {
			return nil, false, apperrors.Conflict(op, fmt.Sprintf("domain %s is already claimed", hostname))
		}
		if claim.DeploymentID != "" {
			owner, err := s.repo.Get(ctx, claim.DeploymentID)
			switch {
			case err == nil && owner.Status != models.DeploymentFailed:
				return nil, false, apperrors.Conflict(op, fmt.Sprintf("domain %s is already used by deployment %s", hostname, owner.ID))
			case err != nil && !errors.Is(err, repository.ErrNotFound):
				return nil, false, apperrors.Provider(op, "failed to check domain owner", err)
			}
		}
		if err := s.registry.AttachDeployment(ctx, claim.ID, deploymentID); err != nil {
			return nil, false, err
		}
		return claim, false, nil
	case err != nil && !apperrors.IsKind(err, apperrors.KindNotFound):
		return nil, false, err
	}

	claim, err = s.registry.AddDomain(ctx, orgID, cfg.CustomDomain, cfg.Subdomain)
	if err != nil {
		return nil, false, err
	}
	if err := s.registry.AttachDeployment(ctx, claim.ID, deploymentID); err != nil {
		_ = s.registry.DeleteClaim(context.Background(), claim.ID)
		return nil, false, err
	}
	return claim, true, nil
}

func (s *DeploymentService) pendingSteps() map[string]*models.StepStatus {
	steps := make(map[string]*models.StepStatus, len(s.steps))
	for _, st := range s.steps {
		steps[st.Name] = &models.StepStatus{Ordinal: st.Ordinal, Status: models.StepPending}
	}
	return steps
}

// Get returns a deployment
func (s *DeploymentService) Get(ctx context.Context, id string) (*models.Deployment, error) {
	d, err := s.repo.Get(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperrors.NotFound("services.GetDeployment", "deployment", id)
	}
	if err != nil {
		return nil, apperrors.Provider("services.GetDeployment", "failed to load deployment", err)
	}
	return d, nil
}

// GetForOrganization returns a deployment owned by orgID. Other organizations'
// deployments are reported as not found.
func (s *DeploymentService) GetForOrganization(ctx context.Context, orgID, id string) (*models.Deployment, error) {
	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.OrganizationID != orgID {
		return nil, apperrors.NotFound("services.GetDeployment", "deployment", id)
	}
	return d, nil
}

// List returns the organization's deployments, oldest first
func (s *DeploymentService) List(ctx context.Context, orgID string) ([]*models.Deployment, error) {
	list, err := s.repo.ListByOrganization(ctx, orgID)
	if err != nil {
		return nil, apperrors.Provider("services.ListDeployments", "failed to list deployments", err)
	}
	return list, nil
}

// GetProgress reports where provisioning is. It is not found once the
// deployment is terminal; callers then read the deployment status.
func (s *DeploymentService) GetProgress(ctx context.Context, id string) (*models.Progress, error) {
	const op = "services.GetProgress"
	if p, ok := s.progress.get(id); ok {
		return &p, nil
	}

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !d.Status.IsProvisioning() {
		return nil, apperrors.NotFound(op, "progress for deployment", id)
	}
	p := s.progressFromRecord(d)
	return &p, nil
}

// progressFromRecord rebuilds progress for a deployment that is queued, or
// parked by an earlier process.
func (s *DeploymentService) progressFromRecord(d *models.Deployment) models.Progress {
	p := models.Progress{
		DeploymentID:     d.ID,
		TotalSteps:       len(s.steps),
		Message:          "Waiting for a provisioning worker",
		EstimatedSeconds: s.remainingEstimate(1),
	}
	for _, st := range s.steps {
		status, ok := d.Steps[st.Name]
		if !ok {
			continue
		}
		switch status.Status {
		case models.StepRunning, models.StepWaiting:
			p.StepName = st.Name
			p.CurrentStep = st.Ordinal
			p.PercentComplete = percentAt(st.Ordinal, len(s.steps))
			p.EstimatedSeconds = s.remainingEstimate(st.Ordinal)
			if status.Status == models.StepWaiting {
				p.Message = "Waiting for domain verification"
				if status.Error != "" {
					p.Message = status.Error
				}
			}
		}
	}
	return p
}

// Suspend takes an active deployment offline. Suspending a suspended
// deployment is a no-op.
func (s *DeploymentService) Suspend(ctx context.Context, id string) (*models.Deployment, error) {
	return s.transition(ctx, "services.Suspend", id, models.DeploymentActive, models.DeploymentSuspended)
}

// Resume brings a suspended deployment back. Resuming an active deployment is a no-op.
func (s *DeploymentService) Resume(ctx context.Context, id string) (*models.Deployment, error) {
	return s.transition(ctx, "services.Resume", id, models.DeploymentSuspended, models.DeploymentActive)
}

func (s *DeploymentService) transition(ctx context.Context, op, id string, from, to models.DeploymentStatus) (*models.Deployment, error) {
	s.admin.Lock()
	defer s.admin.Unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case to:
		return d, nil
	case from:
	default:
		return nil, apperrors.Conflict(op, fmt.Sprintf("deployment is %s, expected %s", d.Status, from))
	}

	d.Status = to
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, apperrors.Provider(op, "failed to update deployment", err)
	}
	logger.ForDeployment(id).WithFields(map[string]interface{}{
		"from": from,
		"to":   to,
	}).Info("Deployment status changed")
	return d, nil
}

// Update merges a theme override and feature flags into an active
// deployment and re-applies branding synchronously.
func (s *DeploymentService) Update(ctx context.Context, id string, req models.UpdateDeploymentRequest) (*models.Deployment, error) {
	const op = "services.Update"
	if req.Theme != nil {
		if details := branding.ValidateOverride(*req.Theme); len(details) > 0 {
			return nil, apperrors.Validation(op, "invalid theme override", details...)
		}
	}

	s.admin.Lock()
	defer s.admin.Unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != models.DeploymentActive {
		return nil, apperrors.Conflict(op, fmt.Sprintf("deployment is %s, only active deployments can be updated", d.Status))
	}

	cfg := d.Config
	if req.Theme != nil {
		cfg.Theme = branding.Merge(cfg.Theme, *req.Theme)
	}
	if len(req.FeatureFlags) > 0 {
		flags := make(map[string]bool, len(cfg.FeatureFlags)+len(req.FeatureFlags))
		for k, v := range cfg.FeatureFlags {
			flags[k] = v
		}
		for k, v := range req.FeatureFlags {
			flags[k] = v
		}
		cfg.FeatureFlags = flags
	}

	theme, err := s.resolveTheme(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.sink.Apply(ctx, d.ID, theme); err != nil {
		return nil, apperrors.Provider(op, "failed to apply theme", err)
	}
	if _, err := s.writeManifest(ctx, d.ID, cfg, theme); err != nil {
		return nil, apperrors.Provider(op, "failed to update asset manifest", err)
	}

	d.Config = cfg
	d.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, d); err != nil {
		return nil, apperrors.Provider(op, "failed to update deployment", err)
	}
	logger.ForDeployment(id).Info("Deployment branding updated")
	return d, nil
}

// Delete removes a deployment in any state. A running provisioning task is
// cancelled and awaited first, then the domain claim (and its certificate)
// and generated assets are released.
func (s *DeploymentService) Delete(ctx context.Context, id string) error {
	const op = "services.Delete"
	s.admin.Lock()
	defer s.admin.Unlock()

	d, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	log := logger.ForDeployment(id)

	s.mu.Lock()
	s.deleting[id] = true
	run := s.runs[id]
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.deleting, id)
		s.mu.Unlock()
	}()

	if run != nil {
		log.Info("Cancelling in-flight provisioning")
		run.cancel()
		select {
		case <-run.done:
		case <-ctx.Done():
			return apperrors.Cancelled(op, "gave up waiting for provisioning to stop")
		}
		// the run may have attached a new claim before it stopped
		if fresh, err := s.repo.Get(ctx, id); err == nil {
			d = fresh
		}
	}

	if d.ClaimID != "" {
		claim, err := s.registry.GetClaim(ctx, d.ClaimID)
		switch {
		case err == nil && (claim.DeploymentID == "" || claim.DeploymentID == id):
			if err := s.registry.DeleteClaim(ctx, claim.ID); err != nil && !apperrors.IsKind(err, apperrors.KindNotFound) {
				return err
			}
		case err == nil:
			// reused by a later deployment of the same organization
			log.WithField("claim_id", claim.ID).Info("Domain claim kept for its current deployment")
		case !apperrors.IsKind(err, apperrors.KindNotFound):
			return err
		}
	}

	removed, err := objectstore.DeletePrefix(ctx, s.assets, s.opts.AssetBucket, branding.AssetPrefix(id))
	if err != nil {
		return apperrors.Provider(op, "failed to delete deployment assets", err)
	}

	if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
		return apperrors.Provider(op, "failed to delete deployment", err)
	}
	s.progress.remove(id)

	metrics.DeploymentsFinished.WithLabelValues("deleted").Inc()
	log.WithFields(map[string]interface{}{
		"status":         d.Status,
		"assets_removed": removed,
	}).Info("Deployment deleted")
	return nil
}
