package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/branding"
	"github.com/imyashkale/hera/internal/certificates"
	"github.com/imyashkale/hera/internal/configstore"
	"github.com/imyashkale/hera/internal/database/sqlite"
	"github.com/imyashkale/hera/internal/domains"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
	"github.com/imyashkale/hera/internal/placement"
	"github.com/imyashkale/hera/internal/queue"
	"github.com/imyashkale/hera/internal/repository"
	"github.com/imyashkale/hera/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	assetBucket = "assets"
	waitFor     = 5 * time.Second
	tick        = 5 * time.Millisecond
)

// fakeCerts accepts every order immediately and keeps it pending unless
// autoActive is set. Revocations are counted per handle.
type fakeCerts struct {
	mu         sync.Mutex
	seq        int
	issued     []certificates.Handle
	revoked    map[certificates.Handle]int
	autoActive bool
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{revoked: map[certificates.Handle]int{}}
}

func (f *fakeCerts) Issue(_ context.Context, domain string) (certificates.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	h := certificates.Handle(fmt.Sprintf("cert-%d-%s", f.seq, domain))
	f.issued = append(f.issued, h)
	return h, nil
}

func (f *fakeCerts) Status(_ context.Context, _ certificates.Handle) (certificates.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.autoActive {
		return certificates.StatusActive, nil
	}
	return certificates.StatusPending, nil
}

func (f *fakeCerts) Revoke(_ context.Context, h certificates.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[h]++
	return nil
}

func (f *fakeCerts) issuedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.issued)
}

func (f *fakeCerts) revocations() map[certificates.Handle]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[certificates.Handle]int, len(f.revoked))
	for h, n := range f.revoked {
		out[h] = n
	}
	return out
}

// recordingSink counts Apply calls before delegating
type recordingSink struct {
	inner branding.Sink
	mu    sync.Mutex
	calls []*models.ResolvedTheme
}

func (r *recordingSink) Apply(ctx context.Context, deploymentID string, theme *models.ResolvedTheme) error {
	r.mu.Lock()
	r.calls = append(r.calls, theme)
	r.mu.Unlock()
	return r.inner.Apply(ctx, deploymentID, theme)
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// gateCDN holds Configure until released or cancelled
type gateCDN struct {
	inner     CDNProvider
	entered   chan struct{}
	release   chan struct{}
	cancelled atomic.Bool
}

func newGateCDN(inner CDNProvider) *gateCDN {
	return &gateCDN{inner: inner, entered: make(chan struct{}, 1), release: make(chan struct{})}
}

func (g *gateCDN) Configure(ctx context.Context, req CDNRequest) (string, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return g.inner.Configure(ctx, req)
	case <-ctx.Done():
		g.cancelled.Store(true)
		return "", ctx.Err()
	}
}

// clock runs in real time and can be pushed forward
type clock struct {
	mu     sync.Mutex
	offset time.Duration
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Now().Add(c.offset)
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

type harnessOptions struct {
	verifier    verification.Provider
	wrapCDN     func(CDNProvider) CDNProvider
	workers     int
	queueSize   int
	stepTimeout time.Duration
}

type harness struct {
	svc      *DeploymentService
	repo     *sqlite.DeploymentRepo
	registry *domains.Registry
	certs    *fakeCerts
	assets   objectstore.Store
	sink     *recordingSink
	queue    *queue.JobQueue
	clock    *clock
}

func newHarness(t *testing.T, o harnessOptions) *harness {
	t.Helper()
	if o.verifier == nil {
		o.verifier = verification.NewAcceptAllProvider()
	}
	if o.queueSize == 0 {
		o.queueSize = 16
	}
	if o.stepTimeout == 0 {
		o.stepTimeout = 5 * time.Second
	}

	db := sqlite.OpenTestDB(t)
	objects, err := objectstore.NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	industries, err := branding.BundledIndustries()
	require.NoError(t, err)

	h := &harness{
		repo:   &sqlite.DeploymentRepo{DB: db},
		certs:  newFakeCerts(),
		assets: objects,
		sink:   &recordingSink{inner: branding.NewCSSSink(objects, assetBucket)},
		queue:  queue.NewJobQueue(o.queueSize),
		clock:  &clock{},
	}
	h.registry = domains.NewRegistry(&sqlite.ClaimRepo{DB: db}, o.verifier, h.certs, domains.Options{
		IngressIP:        "203.0.113.10",
		IngressHostname:  "edge.hera.test",
		CertPollInterval: tick,
		Now:              h.clock.Now,
	})
	t.Cleanup(h.registry.Close)

	var cdn CDNProvider = NewAssetCDN(objects, assetBucket, "edge.hera.test")
	if o.wrapCDN != nil {
		cdn = o.wrapCDN(cdn)
	}

	h.svc = NewDeploymentService(Dependencies{
		Deployments: h.repo,
		Registry:    h.registry,
		Configs:     configstore.New(objects, configstore.Options{Bucket: "artifacts"}),
		Industries:  industries,
		Sink:        h.sink,
		Assets:      objects,
		CDN:         cdn,
		Health:      NewAssetHealthChecker(objects, assetBucket),
		Ring:        placement.NewRing([]string{"us-east-1", "eu-west-1"}),
		Queue:       h.queue,
	}, Options{
		AssetBucket:    assetBucket,
		PlatformDomain: "hera.test",
		StepTimeout:    o.stepTimeout,
		VerifyAttempts: 3,
		VerifyInterval: 10 * time.Millisecond,
		Now:            h.clock.Now,
	})

	if o.workers > 0 {
		pool := queue.NewWorkerPool(h.queue, o.workers)
		pool.Start(h.svc.Execute)
		t.Cleanup(pool.Stop)
	}
	return h
}

func (h *harness) waitStatus(t *testing.T, id string, status models.DeploymentStatus) *models.Deployment {
	t.Helper()
	var got *models.Deployment
	require.Eventually(t, func() bool {
		d, err := h.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = d
		return d.Status == status
	}, waitFor, tick, "deployment never reached %s", status)
	return got
}

func (h *harness) waitStep(t *testing.T, id, step, status string) *models.Deployment {
	t.Helper()
	var got *models.Deployment
	require.Eventually(t, func() bool {
		d, err := h.repo.Get(context.Background(), id)
		if err != nil {
			return false
		}
		got = d
		return d.Steps[step] != nil && d.Steps[step].Status == status
	}, waitFor, tick, "step %s never reached %s", step, status)
	return got
}

func acmeSalon() models.DeploymentConfig {
	return models.DeploymentConfig{Industry: "salon_beauty", CustomDomain: "acmesalon.example"}
}

func TestCreate_CustomDomainReachesActive(t *testing.T) {
	h := newHarness(t, harnessOptions{workers: 2})
	ctx := context.Background()

	var mu sync.Mutex
	var seen []models.Progress
	for i := range h.svc.steps {
		inner := h.svc.steps[i].Executor
		h.svc.steps[i].Executor = StepFunc(func(ctx context.Context, run *Run) error {
			p, err := h.svc.GetProgress(ctx, run.Deployment.ID)
			if err == nil {
				mu.Lock()
				seen = append(seen, *p)
				mu.Unlock()
			}
			return inner.Execute(ctx, run)
		})
	}

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentPreparing, d.Status)
	assert.NotEmpty(t, d.ClaimID)
	assert.Contains(t, []string{"us-east-1", "eu-west-1"}, d.Region)
	assert.Nil(t, d.DeployedAt)

	final := h.waitStatus(t, d.ID, models.DeploymentActive)
	require.NotNil(t, final.DeployedAt)
	assert.Equal(t, "https://acmesalon.example", final.URL)
	assert.Empty(t, final.Error)
	assert.NotEmpty(t, final.AnalyticsID)
	assert.Contains(t, final.Config.EnabledModules, "appointments")

	mu.Lock()
	require.Len(t, seen, 7)
	for i, p := range seen {
		assert.Equal(t, i+1, p.CurrentStep)
		assert.Equal(t, 7, p.TotalSteps)
		assert.Equal(t, i*100/7, p.PercentComplete)
		assert.Equal(t, h.svc.steps[i].Name, p.StepName)
	}
	mu.Unlock()

	for _, st := range h.svc.Steps() {
		require.Contains(t, final.Steps, st.Name)
		assert.Equal(t, models.StepCompleted, final.Steps[st.Name].Status, st.Name)
		assert.Equal(t, st.Ordinal, final.Steps[st.Name].Ordinal)
	}
	assert.Equal(t, 1, h.sink.count())

	claim, err := h.registry.GetClaim(ctx, final.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, claim.VerificationStatus)
	assert.Equal(t, final.ID, claim.DeploymentID)

	_, err = h.svc.GetProgress(ctx, d.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	objects, err := h.assets.List(ctx, assetBucket, branding.AssetPrefix(d.ID))
	require.NoError(t, err)
	assert.Len(t, objects, 4)
}

func TestCreate_WithoutCustomDomainSkipsDomainSetup(t *testing.T) {
	h := newHarness(t, harnessOptions{workers: 1})
	d, err := h.svc.Create(context.Background(), "org-1", "Corner Bistro", models.DeploymentConfig{Industry: "restaurant"})
	require.NoError(t, err)
	assert.Empty(t, d.ClaimID)

	final := h.waitStatus(t, d.ID, models.DeploymentActive)
	assert.Equal(t, models.StepSkipped, final.Steps[StepDomainSetup].Status)
	assert.Equal(t, "https://"+d.ID+".hera.test", final.URL)
	assert.Zero(t, h.certs.issuedCount())
}

func TestCreate_ParksUntilVerified(t *testing.T) {
	zone := verification.NewStaticProvider()
	h := newHarness(t, harnessOptions{workers: 1, verifier: zone})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)

	parked := h.waitStep(t, d.ID, StepDomainSetup, models.StepWaiting)
	assert.Equal(t, models.DeploymentDeploying, parked.Status)

	p, err := h.svc.GetProgress(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StepDomainSetup, p.StepName)
	assert.Equal(t, 1, p.CurrentStep)
	assert.Contains(t, p.Message, "DNS not yet propagated")

	claim, err := h.registry.GetClaim(ctx, d.ClaimID)
	require.NoError(t, err)
	zone.PublishAll(claim.Domain, claim.Records)

	report, err := h.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)

	final := h.waitStatus(t, d.ID, models.DeploymentActive)
	assert.NotNil(t, final.DeployedAt)
	assert.Equal(t, models.StepCompleted, final.Steps[StepDomainSetup].Status)
}

func TestCreate_UnverifiedDomainStaysDeployingThenExpires(t *testing.T) {
	zone := verification.NewStaticProvider()
	zone.FailType(models.RecordTypeA)
	h := newHarness(t, harnessOptions{workers: 1, verifier: zone})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)
	claim, err := h.registry.GetClaim(ctx, d.ClaimID)
	require.NoError(t, err)
	zone.PublishAll(claim.Domain, claim.Records)

	parked := h.waitStep(t, d.ID, StepDomainSetup, models.StepWaiting)
	assert.Equal(t, models.DeploymentDeploying, parked.Status)
	assert.Nil(t, parked.DeployedAt)

	// polling is bounded
	calls := zone.Calls()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, calls, zone.Calls())

	claim, err = h.registry.GetClaim(ctx, d.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, claim.VerificationStatus)

	still, err := h.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentDeploying, still.Status)

	h.clock.Advance(73 * time.Hour)
	report, err := h.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)

	failed, err := h.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, failed.Status)
	assert.Equal(t, "domain verification expired", failed.Error)
	assert.Equal(t, models.StepFailed, failed.Steps[StepDomainSetup].Status)
	assert.Nil(t, failed.DeployedAt)

	_, err = h.svc.GetProgress(ctx, d.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestDelete_MidProvisioningRevokesOnce(t *testing.T) {
	var gate *gateCDN
	h := newHarness(t, harnessOptions{workers: 1, wrapCDN: func(inner CDNProvider) CDNProvider {
		gate = newGateCDN(inner)
		return gate
	}})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)

	select {
	case <-gate.entered:
	case <-time.After(waitFor):
		t.Fatal("cdn step never started")
	}
	require.Eventually(t, func() bool { return h.certs.issuedCount() == 1 }, waitFor, tick)

	p, err := h.svc.GetProgress(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, StepCDN, p.StepName)
	assert.Equal(t, 5, p.CurrentStep)
	assert.Equal(t, 57, p.PercentComplete)

	require.NoError(t, h.svc.Delete(ctx, d.ID))
	assert.True(t, gate.cancelled.Load())

	_, err = h.repo.Get(ctx, d.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = h.registry.GetClaim(ctx, d.ClaimID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	revoked := h.certs.revocations()
	require.Len(t, revoked, 1)
	for _, n := range revoked {
		assert.Equal(t, 1, n)
	}

	objects, err := h.assets.List(ctx, assetBucket, branding.AssetPrefix(d.ID))
	require.NoError(t, err)
	assert.Empty(t, objects)

	err = h.svc.Delete(ctx, d.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	assert.Len(t, h.certs.revocations(), 1)

	// the hostname is free again
	close(gate.release)
	_, err = h.svc.Create(ctx, "org-2", "Other Salon", acmeSalon())
	assert.NoError(t, err)
}

func TestDelete_QueuedDeployment(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)
	require.NoError(t, h.svc.Delete(ctx, d.ID))

	_, err = h.registry.GetClaim(ctx, d.ClaimID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	assert.Empty(t, h.certs.revocations())

	// the job still in the queue finds nothing to do
	job := <-h.queue.Jobs()
	require.NoError(t, h.svc.Execute(ctx, job))
	_, err = h.repo.Get(ctx, d.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestCreate_Validation(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	tests := []struct {
		name   string
		dname  string
		config models.DeploymentConfig
		detail string
	}{
		{"empty name", "  ", models.DeploymentConfig{Industry: "retail"}, ""},
		{"unknown industry", "Shop", models.DeploymentConfig{Industry: "mining"}, ""},
		{"bad domain", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "not a domain"}, ""},
		{"bad subdomain", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "shop.example", Subdomain: "-x"}, ""},
		{"subdomain without domain", "Shop", models.DeploymentConfig{Industry: "retail", Subdomain: "www"}, ""},
		{"bad color", "Shop", models.DeploymentConfig{Industry: "retail", Theme: models.ThemeOverride{
			Colors: models.ColorOverride{Primary: "blue-ish"},
		}}, ""},
		{"bad size", "Shop", models.DeploymentConfig{Industry: "retail", Theme: models.ThemeOverride{
			Typography: models.TypographyOverride{BaseSize: "16 points"},
		}}, ""},
		{"bad template pack", "Shop", models.DeploymentConfig{Industry: "retail", TemplatePack: "../etc"}, ""},
		{"unreadable colors", "Shop", models.DeploymentConfig{Industry: "retail", Theme: models.ThemeOverride{
			Colors: models.ColorOverride{Primary: "#FFFFFF", Background: "#FFFFFF"},
		}}, "contrast ratio"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Create(ctx, "org-1", tt.dname, tt.config)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "got %v", err)
			if tt.detail != "" {
				assert.Contains(t, strings.Join(apperrors.As(err).Details, "; "), tt.detail)
			}
		})
	}

	list, err := h.svc.List(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, list)
	claims, err := h.registry.ListForOrganization(ctx, "org-1")
	require.NoError(t, err)
	assert.Empty(t, claims)
	assert.Zero(t, h.queue.Len())
}

func TestCreate_DomainConflicts(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	_, err := h.registry.AddDomain(ctx, "org-2", "taken.example", "")
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "taken.example"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)

	_, err = h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "mine.example", Subdomain: "shop"})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, "org-1", "Shop again", models.DeploymentConfig{Industry: "retail", CustomDomain: "MINE.example", Subdomain: "shop"})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)

	// a different subdomain is a different tuple
	_, err = h.svc.Create(ctx, "org-1", "Blog", models.DeploymentConfig{Industry: "retail", CustomDomain: "mine.example", Subdomain: "blog"})
	assert.NoError(t, err)

	list, err := h.svc.List(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestCreate_ReusesClaimOfFailedDeployment(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	first, err := h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "mine.example"})
	require.NoError(t, err)
	failed, err := h.repo.Get(ctx, first.ID)
	require.NoError(t, err)
	failed.Status = models.DeploymentFailed
	require.NoError(t, h.repo.Update(ctx, failed))

	second, err := h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail", CustomDomain: "mine.example"})
	require.NoError(t, err)
	assert.Equal(t, first.ClaimID, second.ClaimID)

	// deleting the failed deployment leaves the reused claim alone
	require.NoError(t, h.svc.Delete(ctx, first.ID))
	claim, err := h.registry.GetClaim(ctx, second.ClaimID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, claim.DeploymentID)
}

func TestCreate_QueueFullLeavesNothing(t *testing.T) {
	h := newHarness(t, harnessOptions{queueSize: 1})
	ctx := context.Background()

	_, err := h.svc.Create(ctx, "org-1", "One", models.DeploymentConfig{Industry: "retail"})
	require.NoError(t, err)
	_, err = h.svc.Create(ctx, "org-1", "Two", models.DeploymentConfig{Industry: "retail", CustomDomain: "two.example"})
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider))
	assert.True(t, errors.Is(err, queue.ErrQueueFull))

	list, err := h.svc.List(ctx, "org-1")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	_, err = h.registry.FindByHostname(ctx, "two.example", "")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSweep_RequeuesParkedAfterFullQueue(t *testing.T) {
	zone := verification.NewStaticProvider()
	h := newHarness(t, harnessOptions{queueSize: 1, verifier: zone})
	ctx := context.Background()

	parked, err := h.svc.Create(ctx, "org-1", "Acme Salon", acmeSalon())
	require.NoError(t, err)
	require.NoError(t, h.svc.Execute(ctx, <-h.queue.Jobs()))
	d, err := h.repo.Get(ctx, parked.ID)
	require.NoError(t, err)
	require.Equal(t, models.StepWaiting, d.Steps[StepDomainSetup].Status)

	// fills the queue
	other, err := h.svc.Create(ctx, "org-2", "Other Salon", models.DeploymentConfig{Industry: "salon_beauty"})
	require.NoError(t, err)

	claim, err := h.registry.GetClaim(ctx, parked.ClaimID)
	require.NoError(t, err)
	zone.PublishAll(claim.Domain, claim.Records)

	report, err := h.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Verified)
	assert.Zero(t, report.Reconciled)

	d, err = h.repo.Get(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentDeploying, d.Status)
	assert.Equal(t, models.StepWaiting, d.Steps[StepDomainSetup].Status)

	job := <-h.queue.Jobs()
	require.Equal(t, other.ID, job.DeploymentID)
	require.NoError(t, h.svc.Execute(ctx, job))

	report, err = h.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Reconciled)
	assert.Zero(t, report.Errors)

	d, err = h.repo.Get(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StepPending, d.Steps[StepDomainSetup].Status)

	job = <-h.queue.Jobs()
	assert.Equal(t, parked.ID, job.DeploymentID)
	assert.Equal(t, queue.ReasonDomainVerified, job.Reason)
	require.NoError(t, h.svc.Execute(ctx, job))

	final, err := h.repo.Get(ctx, parked.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentActive, final.Status)
	assert.Equal(t, models.StepCompleted, final.Steps[StepDomainSetup].Status)

	// nothing left to move on
	report, err = h.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Reconciled)
}

func TestGetProgress_Queued(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail"})
	require.NoError(t, err)

	p, err := h.svc.GetProgress(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.CurrentStep)
	assert.Equal(t, 0, p.PercentComplete)
	assert.Equal(t, 7, p.TotalSteps)
	assert.Positive(t, p.EstimatedSeconds)

	_, err = h.svc.GetProgress(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestSuspendResumeUpdate(t *testing.T) {
	h := newHarness(t, harnessOptions{workers: 1})
	ctx := context.Background()

	d, err := h.svc.Create(ctx, "org-1", "Acme Salon", models.DeploymentConfig{
		Industry:     "salon_beauty",
		FeatureFlags: map[string]bool{"online_booking": true},
	})
	require.NoError(t, err)

	_, err = h.svc.Suspend(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))

	h.waitStatus(t, d.ID, models.DeploymentActive)
	require.Equal(t, 1, h.sink.count())

	suspended, err := h.svc.Suspend(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentSuspended, suspended.Status)
	again, err := h.svc.Suspend(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentSuspended, again.Status)

	_, err = h.svc.Update(ctx, d.ID, models.UpdateDeploymentRequest{FeatureFlags: map[string]bool{"x": true}})
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))

	resumed, err := h.svc.Resume(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentActive, resumed.Status)
	assert.NotNil(t, resumed.DeployedAt)

	updated, err := h.svc.Update(ctx, d.ID, models.UpdateDeploymentRequest{
		Theme:        &models.ThemeOverride{Colors: models.ColorOverride{Primary: "#000000"}},
		FeatureFlags: map[string]bool{"gift_cards": true},
	})
	require.NoError(t, err)
	assert.Equal(t, "#000000", updated.Config.Theme.Colors.Primary)
	assert.Equal(t, map[string]bool{"online_booking": true, "gift_cards": true}, updated.Config.FeatureFlags)
	assert.Equal(t, 2, h.sink.count())

	css, err := h.assets.Get(ctx, assetBucket, branding.AssetPath(d.ID, branding.ThemeStylesheet))
	require.NoError(t, err)
	assert.Contains(t, string(css), "--color-primary: #000000;")

	_, err = h.svc.Update(ctx, d.ID, models.UpdateDeploymentRequest{
		Theme: &models.ThemeOverride{Colors: models.ColorOverride{Primary: "#ffffff"}},
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "low contrast must be rejected, got %v", err)
	_, err = h.svc.Update(ctx, d.ID, models.UpdateDeploymentRequest{
		Theme: &models.ThemeOverride{Colors: models.ColorOverride{Primary: "#12"}},
	})
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, 2, h.sink.count())

	stored, err := h.svc.Get(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "#000000", stored.Config.Theme.Colors.Primary)
}

func TestSuspend_NotActiveIsConflict(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	ctx := context.Background()
	d, err := h.svc.Create(ctx, "org-1", "Shop", models.DeploymentConfig{Industry: "retail"})
	require.NoError(t, err)

	_, err = h.svc.Suspend(ctx, d.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
	_, err = h.svc.Resume(ctx, d.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindConflict))
}

func TestStepFailures(t *testing.T) {
	tests := []struct {
		name    string
		config  models.DeploymentConfig
		opts    harnessOptions
		step    string
		message string
	}{
		{
			name:    "missing template pack",
			config:  models.DeploymentConfig{Industry: "retail", TemplatePack: "premium"},
			step:    StepTemplatePack,
			message: `artifact "retail/premium" not found`,
		},
		{
			name:    "module not offered",
			config:  models.DeploymentConfig{Industry: "retail", EnabledModules: []string{"pos", "teleport"}},
			step:    StepTemplatePack,
			message: "unknown modules: teleport",
		},
		{
			name:   "step timeout",
			config: models.DeploymentConfig{Industry: "retail"},
			opts: harnessOptions{stepTimeout: 200 * time.Millisecond, wrapCDN: func(inner CDNProvider) CDNProvider {
				return newGateCDN(inner)
			}},
			step:    StepCDN,
			message: "cdn timed out after 200ms",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.workers = 1
			h := newHarness(t, tt.opts)
			d, err := h.svc.Create(context.Background(), "org-1", "Shop", tt.config)
			require.NoError(t, err)

			failed := h.waitStatus(t, d.ID, models.DeploymentFailed)
			assert.Contains(t, failed.Error, tt.message)
			assert.Equal(t, models.StepFailed, failed.Steps[tt.step].Status)
			assert.Contains(t, failed.Steps[tt.step].Error, tt.message)
			assert.Nil(t, failed.DeployedAt)

			last := failed.Logs[len(failed.Logs)-1]
			assert.Equal(t, LevelError, last.Level)
			assert.Equal(t, tt.step, last.Step)
		})
	}
}

func TestRecover_RequeuesUnfinished(t *testing.T) {
	h := newHarness(t, harnessOptions{queueSize: 8})
	ctx := context.Background()

	for _, name := range []string{"One", "Two"} {
		_, err := h.svc.Create(ctx, "org-1", name, models.DeploymentConfig{Industry: "retail"})
		require.NoError(t, err)
	}
	for h.queue.Len() > 0 {
		<-h.queue.Jobs()
	}

	n, err := h.svc.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, h.queue.Len())

	job := <-h.queue.Jobs()
	assert.Equal(t, queue.ReasonRecover, job.Reason)
}
