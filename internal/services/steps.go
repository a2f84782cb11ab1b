package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/branding"
	"github.com/imyashkale/hera/internal/configstore"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
)

// Step names, in execution order
const (
	StepDomainSetup  = "domain_setup"
	StepTemplatePack = "template_pack"
	StepBranding     = "branding"
	StepBrandAssets  = "brand_assets"
	StepCDN          = "cdn"
	StepAnalytics    = "analytics"
	StepFinalize     = "finalize"
)

// Generated asset names
const (
	ManifestAsset  = "manifest.json"
	AnalyticsAsset = "analytics.json"
)

// Run is the state one provisioning run carries from step to step. The
// deployment is owned by the run until it finishes.
type Run struct {
	Deployment *models.Deployment
	Log        *ProvisionLog
	Claim      *models.DomainClaim
	Theme      *models.ResolvedTheme
	Manifest   *AssetManifest
	Endpoint   string
}

// StepExecutor performs one provisioning step
type StepExecutor interface {
	Execute(ctx context.Context, run *Run) error
}

// StepFunc adapts a function to StepExecutor
type StepFunc func(ctx context.Context, run *Run) error

// Execute calls f
func (f StepFunc) Execute(ctx context.Context, run *Run) error {
	return f(ctx, run)
}

// Step describes one provisioning step
type Step struct {
	Name     string
	Ordinal  int
	Estimate time.Duration
	Executor StepExecutor
}

// errStepSkipped is returned by executors with nothing to do for a deployment
var errStepSkipped = errors.New("step skipped")

// errDomainExpired fails a deployment whose claim lapsed before verification
var errDomainExpired = errors.New("domain verification expired")

// parkedError stops a run without failing it: the deployment waits in
// deploying until the claim is verified or expires.
type parkedError struct {
	nextSteps []string
}

func (e *parkedError) Error() string {
	return "waiting for domain verification: " + strings.Join(e.nextSteps, "; ")
}

func (s *DeploymentService) defineSteps() []Step {
	verifyBudget := time.Duration(s.opts.VerifyAttempts) * s.opts.VerifyInterval
	return []Step{
		{Name: StepDomainSetup, Ordinal: 1, Estimate: verifyBudget, Executor: StepFunc(s.domainSetup)},
		{Name: StepTemplatePack, Ordinal: 2, Estimate: 2 * time.Second, Executor: StepFunc(s.templatePack)},
		{Name: StepBranding, Ordinal: 3, Estimate: time.Second, Executor: StepFunc(s.applyBranding)},
		{Name: StepBrandAssets, Ordinal: 4, Estimate: 2 * time.Second, Executor: StepFunc(s.brandAssets)},
		{Name: StepCDN, Ordinal: 5, Estimate: 5 * time.Second, Executor: StepFunc(s.configureCDN)},
		{Name: StepAnalytics, Ordinal: 6, Estimate: time.Second, Executor: StepFunc(s.setupAnalytics)},
		{Name: StepFinalize, Ordinal: 7, Estimate: 3 * time.Second, Executor: StepFunc(s.finalize)},
	}
}

// percentAt is the progress reported when step ordinal starts
func percentAt(ordinal, total int) int {
	return (ordinal - 1) * 100 / total
}

// remainingEstimate sums the estimates of steps from ordinal on, in seconds
func (s *DeploymentService) remainingEstimate(ordinal int) int {
	var d time.Duration
	for _, st := range s.steps {
		if st.Ordinal >= ordinal {
			d += st.Estimate
		}
	}
	return int(d.Round(time.Second) / time.Second)
}

// domainSetup makes sure the deployment holds a claim on its hostname and
// polls verification a bounded number of times.
func (s *DeploymentService) domainSetup(ctx context.Context, run *Run) error {
	d := run.Deployment
	if !d.Config.HasCustomDomain() {
		return errStepSkipped
	}

	claim, err := s.ensureClaim(ctx, run)
	if err != nil {
		return err
	}
	run.Claim = claim
	run.Log.LogInfo(StepDomainSetup, fmt.Sprintf("Verifying %s (claim %s)", claim.Hostname(), claim.ID))

	var nextSteps []string
	for attempt := 1; attempt <= s.opts.VerifyAttempts; attempt++ {
		result, err := s.registry.Verify(ctx, claim.ID)
		if err != nil {
			return err
		}
		if result.Verified {
			run.Log.LogInfo(StepDomainSetup, fmt.Sprintf("Domain %s verified on attempt %d", claim.Hostname(), attempt))
			return nil
		}

		current, err := s.registry.GetClaim(ctx, claim.ID)
		if err != nil {
			return err
		}
		if current.VerificationStatus != models.VerificationPending {
			return errDomainExpired
		}
		nextSteps = result.NextSteps
		run.Log.LogInfo(StepDomainSetup, fmt.Sprintf("Attempt %d/%d: domain not verified yet", attempt, s.opts.VerifyAttempts))

		if attempt < s.opts.VerifyAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.opts.VerifyInterval):
			}
		}
	}
	return &parkedError{nextSteps: nextSteps}
}

// ensureClaim returns the deployment's claim, creating a new one when the
// reserved claim was removed.
func (s *DeploymentService) ensureClaim(ctx context.Context, run *Run) (*models.DomainClaim, error) {
	d := run.Deployment
	if d.ClaimID != "" {
		claim, err := s.registry.GetClaim(ctx, d.ClaimID)
		switch {
		case err == nil:
			if claim.VerificationStatus == models.VerificationExpired || claim.VerificationStatus == models.VerificationFailed {
				return nil, errDomainExpired
			}
			if claim.DeploymentID != d.ID {
				if err := s.registry.AttachDeployment(ctx, claim.ID, d.ID); err != nil {
					return nil, err
				}
				claim.DeploymentID = d.ID
			}
			return claim, nil
		case !apperrors.IsKind(err, apperrors.KindNotFound):
			return nil, err
		}
		run.Log.LogWarning(StepDomainSetup, fmt.Sprintf("Claim %s no longer exists, claiming the domain again", d.ClaimID))
	}

	claim, err := s.registry.AddDomain(ctx, d.OrganizationID, d.Config.CustomDomain, d.Config.Subdomain)
	if err != nil {
		return nil, err
	}
	d.ClaimID = claim.ID
	if err := s.registry.AttachDeployment(ctx, claim.ID, d.ID); err != nil {
		return nil, err
	}
	claim.DeploymentID = d.ID
	return claim, nil
}

// templatePack loads the pack and resolves the enabled modules against it
func (s *DeploymentService) templatePack(ctx context.Context, run *Run) error {
	const op = "services.templatePack"
	d := run.Deployment
	key := models.ArtifactKey{Industry: d.Config.Industry, ID: d.Config.TemplatePack}

	artifact, err := s.configs.Load(ctx, key)
	if err != nil {
		return err
	}
	if err := configstore.ValidateArtifact(key, artifact.Content); err != nil {
		return err
	}
	if kind := configstore.ArtifactKind(artifact.Content); kind != configstore.KindTemplatePack {
		return apperrors.Validation(op, fmt.Sprintf("artifact %s is a %q, not a template pack", key, kind))
	}

	offered := configstore.PackModules(artifact.Content)
	modules, err := resolveModules(d.Config.EnabledModules, offered, s.industries.Profile(d.Config.Industry).Modules)
	if err != nil {
		return err
	}
	d.Config.EnabledModules = modules

	run.Log.LogInfo(StepTemplatePack, fmt.Sprintf("Loaded template pack %s version %s with modules %s",
		key, artifact.Metadata.Version, strings.Join(modules, ", ")))
	return nil
}

// resolveModules returns the modules to enable. Without a request every
// module the pack offers is enabled; a request may only name modules offered
// by the pack or the industry profile.
func resolveModules(requested, pack, industry []string) ([]string, error) {
	offered := make(map[string]bool, len(pack)+len(industry))
	var all []string
	for _, m := range append(append([]string(nil), pack...), industry...) {
		if !offered[m] {
			offered[m] = true
			all = append(all, m)
		}
	}
	if len(requested) == 0 {
		return all, nil
	}

	seen := make(map[string]bool, len(requested))
	var modules, unknown []string
	for _, m := range requested {
		switch {
		case seen[m]:
		case !offered[m]:
			unknown = append(unknown, m)
		default:
			modules = append(modules, m)
		}
		seen[m] = true
	}
	if len(unknown) > 0 {
		return nil, apperrors.Validation("services.resolveModules",
			"enabled modules are not offered by the template pack",
			fmt.Sprintf("unknown modules: %s (offered: %s)", strings.Join(unknown, ", "), strings.Join(all, ", ")))
	}
	return modules, nil
}

func (s *DeploymentService) resolveTheme(cfg models.DeploymentConfig) (*models.ResolvedTheme, error) {
	theme := branding.Resolve(s.industries.Default(cfg.Industry), cfg.Theme)
	if result := branding.Validate(theme); !result.Valid {
		return nil, apperrors.Validation("services.resolveTheme", "resolved theme is invalid", result.Errors...)
	}
	return theme, nil
}

// applyBranding resolves, validates and applies the theme
func (s *DeploymentService) applyBranding(ctx context.Context, run *Run) error {
	theme, err := s.resolveTheme(run.Deployment.Config)
	if err != nil {
		return err
	}
	if err := s.sink.Apply(ctx, run.Deployment.ID, theme); err != nil {
		return apperrors.Provider("services.applyBranding", "failed to apply theme", err)
	}
	run.Theme = theme
	run.Log.LogInfo(StepBranding, fmt.Sprintf("Theme applied (primary %s on %s)", theme.Colors.Primary, theme.Colors.Background))
	return nil
}

// AssetRef points at a generated asset
type AssetRef struct {
	Path     string `json:"path"`
	Checksum string `json:"checksum"`
	Size     int    `json:"size"`
}

// AssetManifest lists the brand assets of a deployment
type AssetManifest struct {
	DeploymentID string    `json:"deployment_id"`
	Stylesheet   AssetRef  `json:"stylesheet"`
	LogoURL      string    `json:"logo_url,omitempty"`
	FaviconURL   string    `json:"favicon_url,omitempty"`
	Modules      []string  `json:"modules,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}

func (s *DeploymentService) writeManifest(ctx context.Context, deploymentID string, cfg models.DeploymentConfig, theme *models.ResolvedTheme) (*AssetManifest, error) {
	css := branding.RenderCSS(theme)
	sum := sha256.Sum256(css)
	manifest := &AssetManifest{
		DeploymentID: deploymentID,
		Stylesheet: AssetRef{
			Path:     branding.AssetPath(deploymentID, branding.ThemeStylesheet),
			Checksum: hex.EncodeToString(sum[:]),
			Size:     len(css),
		},
		LogoURL:     theme.LogoURL,
		FaviconURL:  theme.FaviconURL,
		Modules:     cfg.EnabledModules,
		GeneratedAt: s.now(),
	}
	if err := s.putJSON(ctx, branding.AssetPath(deploymentID, ManifestAsset), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

// brandAssets writes the asset manifest for the applied theme
func (s *DeploymentService) brandAssets(ctx context.Context, run *Run) error {
	if run.Theme == nil {
		return apperrors.Internal("services.brandAssets", errors.New("branding has not run"))
	}
	manifest, err := s.writeManifest(ctx, run.Deployment.ID, run.Deployment.Config, run.Theme)
	if err != nil {
		return apperrors.Provider("services.brandAssets", "failed to write asset manifest", err)
	}
	run.Manifest = manifest
	run.Log.LogInfo(StepBrandAssets, fmt.Sprintf("Asset manifest written (stylesheet %s)", manifest.Stylesheet.Checksum[:12]))
	return nil
}

// PlatformHostname is the hostname every deployment gets on the platform domain
func (s *DeploymentService) PlatformHostname(d *models.Deployment) string {
	return d.ID + "." + s.opts.PlatformDomain
}

func (s *DeploymentService) hostnames(d *models.Deployment) []string {
	var hosts []string
	if d.Config.HasCustomDomain() {
		hosts = append(hosts, d.Config.Hostname())
		if d.Config.Subdomain == "" {
			hosts = append(hosts, "www."+d.Config.CustomDomain)
		}
	}
	return append(hosts, s.PlatformHostname(d))
}

// configureCDN sets up edge delivery for every hostname
func (s *DeploymentService) configureCDN(ctx context.Context, run *Run) error {
	d := run.Deployment
	region := d.Region
	if region == "" {
		region = "default"
	}
	endpoint, err := s.cdn.Configure(ctx, CDNRequest{
		DeploymentID: d.ID,
		Region:       region,
		Hostnames:    s.hostnames(d),
		Origin:       fmt.Sprintf("origin.%s.%s", region, s.opts.PlatformDomain),
		CacheRules:   DefaultCacheRules,
	})
	if err != nil {
		return apperrors.Provider("services.configureCDN", "CDN configuration failed", err)
	}
	run.Endpoint = endpoint
	run.Log.LogInfo(StepCDN, "Edge endpoint "+endpoint)
	return nil
}

type trackingConfig struct {
	TrackingID     string   `json:"tracking_id"`
	DeploymentID   string   `json:"deployment_id"`
	OrganizationID string   `json:"organization_id"`
	Hostnames      []string `json:"hostnames"`
	Enabled        bool     `json:"enabled"`
	Modules        []string `json:"modules,omitempty"`
}

// setupAnalytics issues the tracking id and writes the tracking config
func (s *DeploymentService) setupAnalytics(ctx context.Context, run *Run) error {
	d := run.Deployment
	if d.AnalyticsID == "" {
		d.AnalyticsID = "HA-" + strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:12])
	}
	enabled := true
	if v, ok := d.Config.FeatureFlags["analytics"]; ok {
		enabled = v
	}

	cfg := trackingConfig{
		TrackingID:     d.AnalyticsID,
		DeploymentID:   d.ID,
		OrganizationID: d.OrganizationID,
		Hostnames:      s.hostnames(d),
		Enabled:        enabled,
		Modules:        d.Config.EnabledModules,
	}
	if err := s.putJSON(ctx, branding.AssetPath(d.ID, AnalyticsAsset), cfg); err != nil {
		return apperrors.Provider("services.setupAnalytics", "failed to write tracking config", err)
	}
	run.Log.LogInfo(StepAnalytics, fmt.Sprintf("Tracking id %s (enabled: %t)", d.AnalyticsID, enabled))
	return nil
}

// finalize computes the public URL and runs the health check
func (s *DeploymentService) finalize(ctx context.Context, run *Run) error {
	d := run.Deployment
	if d.Config.HasCustomDomain() {
		d.URL = "https://" + d.Config.Hostname()
		if d.ClaimID != "" {
			if claim, err := s.registry.GetClaim(ctx, d.ClaimID); err == nil && claim.CertificateID != "" {
				d.CertificateID = claim.CertificateID
			}
		}
	} else {
		d.URL = "https://" + s.PlatformHostname(d)
	}

	if err := s.health.Check(ctx, d); err != nil {
		return apperrors.Provider("services.finalize", "health check failed", err)
	}
	run.Log.LogInfo(StepFinalize, "Deployment live at "+d.URL)
	return nil
}

func (s *DeploymentService) putJSON(ctx context.Context, path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return s.assets.Put(ctx, s.opts.AssetBucket, path, data,
		objectstore.PutOptions{Overwrite: true, ContentType: "application/json"})
}
