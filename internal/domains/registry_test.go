package domains

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/certificates"
	"github.com/imyashkale/hera/internal/database/sqlite"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/repository"
	"github.com/imyashkale/hera/internal/verification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCerts is a certificate provider whose orders stay pending until
// released, and which counts revocations per handle.
type fakeCerts struct {
	mu       sync.Mutex
	seq      int
	status   map[certificates.Handle]certificates.Status
	revoked  map[certificates.Handle]int
	issueErr error
	block    chan struct{} // when set, Issue waits on it or ctx
	autoDone bool          // report active immediately
}

func newFakeCerts() *fakeCerts {
	return &fakeCerts{
		status:  map[certificates.Handle]certificates.Status{},
		revoked: map[certificates.Handle]int{},
	}
}

func (f *fakeCerts) Issue(ctx context.Context, domain string) (certificates.Handle, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.issueErr != nil {
		return "", f.issueErr
	}
	f.seq++
	h := certificates.Handle(fmt.Sprintf("cert-%d-%s", f.seq, domain))
	f.status[h] = certificates.StatusPending
	if f.autoDone {
		f.status[h] = certificates.StatusActive
	}
	return h, nil
}

func (f *fakeCerts) Status(_ context.Context, h certificates.Handle) (certificates.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.status[h]
	if !ok {
		return "", certificates.ErrUnknownHandle
	}
	return s, nil
}

func (f *fakeCerts) Revoke(_ context.Context, h certificates.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.status[h]; !ok {
		return certificates.ErrUnknownHandle
	}
	f.revoked[h]++
	return nil
}

func (f *fakeCerts) complete(status certificates.Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h := range f.status {
		f.status[h] = status
	}
}

func (f *fakeCerts) handles() []certificates.Handle {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []certificates.Handle
	for h := range f.status {
		out = append(out, h)
	}
	return out
}

func (f *fakeCerts) revocations() map[certificates.Handle]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[certificates.Handle]int{}
	for h, n := range f.revoked {
		out[h] = n
	}
	return out
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	registry *Registry
	zone     *verification.StaticProvider
	certs    *fakeCerts
	clock    *clock
	events   chan Event
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		zone:   verification.NewStaticProvider(),
		certs:  newFakeCerts(),
		clock:  &clock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)},
		events: make(chan Event, 16),
	}
	f.registry = NewRegistry(&sqlite.ClaimRepo{DB: sqlite.OpenTestDB(t)}, f.zone, f.certs, Options{
		IngressIP:        "203.0.113.10",
		IngressHostname:  "edge.hera.test",
		ClaimTTL:         72 * time.Hour,
		CertPollInterval: 5 * time.Millisecond,
		Now:              f.clock.Now,
	})
	f.registry.Subscribe(func(_ context.Context, e Event) { f.events <- e })
	t.Cleanup(f.registry.Close)
	return f
}

func (f *fixture) waitSSL(t *testing.T, id string, want models.SSLStatus) []models.SSLStatus {
	t.Helper()
	var seen []models.SSLStatus
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		c, err := f.registry.GetClaim(context.Background(), id)
		require.NoError(t, err)
		if len(seen) == 0 || seen[len(seen)-1] != c.SSLStatus {
			seen = append(seen, c.SSLStatus)
		}
		if c.SSLStatus == want {
			return seen
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("ssl status never reached %s, saw %v", want, seen)
	return nil
}

func TestAddDomain_DuplicateIsConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		domain    string
		subdomain string
	}{
		{"apex", "acmesalon.example", ""},
		{"subdomain", "acmesalon.example", "book"},
		{"mixed case input", "Shop.Example.", "WWW2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.AddDomain(ctx, "org-1", tt.domain, tt.subdomain)
			require.NoError(t, err)

			_, err = f.registry.AddDomain(ctx, "org-1", tt.domain, tt.subdomain)
			assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)
			_, err = f.registry.AddDomain(ctx, "org-2", tt.domain, tt.subdomain)
			assert.True(t, apperrors.IsKind(err, apperrors.KindConflict), "got %v", err)
		})
	}
}

func TestAddDomain_Validation(t *testing.T) {
	f := newFixture(t)
	long := strings.Repeat("a", 63)

	tests := []struct {
		name      string
		domain    string
		subdomain string
	}{
		{"empty", "", ""},
		{"single label", "localhost", ""},
		{"leading hyphen", "-acme.example", ""},
		{"underscore", "ac_me.example", ""},
		{"label too long", strings.Repeat("a", 64) + ".example", ""},
		{"hostname too long", strings.Join([]string{long, long, long, long}, ".") + ".example", ""},
		{"bad subdomain", "acme.example", "shop.front"},
		{"numeric tld", "10.0.0.1", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.registry.AddDomain(context.Background(), "org-1", tt.domain, tt.subdomain)
			assert.True(t, apperrors.IsKind(err, apperrors.KindValidation), "got %v", err)
		})
	}
}

func TestRequiredRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	apex, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	assert.Len(t, apex.Token, 32)
	require.Len(t, apex.Records, 3)

	a, txt, cname := apex.Records[0], apex.Records[1], apex.Records[2]
	assert.Equal(t, models.DNSRecord{Type: "A", Name: "@", Value: "203.0.113.10", TTL: 300, Required: true, Status: models.RecordPending}, a)
	assert.True(t, strings.HasPrefix(txt.Name, "_hera-verification."))
	assert.Equal(t, "hera-domain-verification="+apex.Token, txt.Value)
	assert.True(t, txt.Required)
	assert.Equal(t, "CNAME", cname.Type)
	assert.Equal(t, "www", cname.Name)
	assert.False(t, cname.Required)

	sub, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "book")
	require.NoError(t, err)
	require.Len(t, sub.Records, 2)
	assert.Equal(t, "book", sub.Records[0].Name)
	assert.Equal(t, "_hera-verification.book", sub.Records[1].Name)
	assert.Equal(t, "_hera-verification.book.acmesalon.example", sub.Records[1].FQDN(sub.Domain))

	assert.Equal(t, f.registry.RequiredRecords(sub), f.registry.RequiredRecords(sub))
	assert.NotEqual(t, apex.Token, sub.Token)
}

func TestVerify_NotPropagatedIsNotAnError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)

	first, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	second, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)

	assert.False(t, first.Verified)
	assert.Equal(t, first.Verified, second.Verified)
	assert.Len(t, first.NextSteps, 3)
	assert.Contains(t, first.NextSteps[2], "DNS not yet propagated")
	assert.Equal(t, "5-30 minutes", first.EstimatedTime)

	stored, err := f.registry.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationPending, stored.VerificationStatus)
	assert.Equal(t, models.SSLNone, stored.SSLStatus)
	assert.Empty(t, f.certs.handles())
}

func TestVerify_WrongTokenExplainsMismatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)

	f.zone.Publish(claim.Domain, claim.Records[0])
	stale := claim.Records[1]
	stale.Value = verification.TokenPrefix + "stale"
	f.zone.Publish(claim.Domain, stale)

	result, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	require.Len(t, result.NextSteps, 2)
	assert.Contains(t, result.NextSteps[0], `"hera-domain-verification=stale"`)
	assert.Equal(t, models.RecordActive, result.Records[0].Status)
	assert.Equal(t, models.RecordPending, result.Records[1].Status)
}

func TestVerify_ProviderFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)

	f.zone.SetError(errors.New("SERVFAIL"))
	_, err = f.registry.Verify(ctx, claim.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindProvider), "got %v", err)

	_, err = f.registry.Verify(ctx, "missing")
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
}

func TestVerify_SuccessIssuesCertificateOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records[:2])

	result, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	assert.Equal(t, models.RecordPending, result.Records[2].Status, "optional CNAME may stay pending")

	again, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	assert.True(t, again.Verified)

	event := <-f.events
	assert.Equal(t, ClaimVerified, event.Type)
	assert.Equal(t, claim.ID, event.Claim.ID)
	assert.Empty(t, f.events, "only the first success notifies")

	stored, err := f.registry.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationVerified, stored.VerificationStatus)
	require.NotNil(t, stored.VerifiedAt)

	// wait for the handle to be recorded, then let the order complete
	require.Eventually(t, func() bool {
		c, err := f.registry.GetClaim(ctx, claim.ID)
		return err == nil && c.CertificateID != ""
	}, 3*time.Second, 5*time.Millisecond)
	f.certs.complete(certificates.StatusActive)

	seen := f.waitSSL(t, claim.ID, models.SSLActive)
	assert.Equal(t, models.SSLActive, seen[len(seen)-1])
	for i := 1; i < len(seen); i++ {
		assert.NotEqual(t, models.SSLPending, seen[i], "ssl status reverted to pending: %v", seen)
	}
	assert.Len(t, f.certs.handles(), 1)
}

func TestVerify_IssuanceFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certs.issueErr = errors.New("rate limited")
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "shop")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records)

	result, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
	f.waitSSL(t, claim.ID, models.SSLFailed)
}

func TestDeleteClaim_RevokesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certs.autoDone = true
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records)

	_, err = f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	f.waitSSL(t, claim.ID, models.SSLActive)

	require.NoError(t, f.registry.DeleteClaim(ctx, claim.ID))
	revoked := f.certs.revocations()
	require.Len(t, revoked, 1)
	for _, n := range revoked {
		assert.Equal(t, 1, n)
	}

	err = f.registry.DeleteClaim(ctx, claim.ID)
	assert.True(t, apperrors.IsKind(err, apperrors.KindNotFound))
	assert.Len(t, f.certs.revocations(), 1)

	// the hostname is free again
	_, err = f.registry.AddDomain(ctx, "org-2", "acmesalon.example", "")
	assert.NoError(t, err)
}

// staleClaims hands out a snapshot on the next Get once armed, the way a
// read that lost the race with a finishing issuance would see the claim.
type staleClaims struct {
	repository.ClaimRepository
	mu    sync.Mutex
	stale *models.DomainClaim
}

func (s *staleClaims) Get(ctx context.Context, id string) (*models.DomainClaim, error) {
	s.mu.Lock()
	stale := s.stale
	s.stale = nil
	s.mu.Unlock()
	if stale != nil {
		return stale, nil
	}
	return s.ClaimRepository.Get(ctx, id)
}

func TestDeleteClaim_IssuanceFinishedAfterRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certs.autoDone = true
	claims := &staleClaims{ClaimRepository: f.registry.claims}
	f.registry.claims = claims

	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records)
	_, err = f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	f.waitSSL(t, claim.ID, models.SSLActive)
	require.Eventually(t, func() bool {
		f.registry.mu.Lock()
		defer f.registry.mu.Unlock()
		return f.registry.tasks[claim.ID] == nil
	}, 3*time.Second, 5*time.Millisecond)

	current, err := f.registry.GetClaim(ctx, claim.ID)
	require.NoError(t, err)
	require.NotEmpty(t, current.CertificateID)
	stale := current.Clone()
	stale.CertificateID = ""
	stale.SSLStatus = models.SSLPending
	claims.mu.Lock()
	claims.stale = stale
	claims.mu.Unlock()

	require.NoError(t, f.registry.DeleteClaim(ctx, claim.ID))
	handles := f.certs.handles()
	require.Len(t, handles, 1)
	assert.Equal(t, map[certificates.Handle]int{handles[0]: 1}, f.certs.revocations())
}

func TestDeleteClaim_DuringPendingOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records)

	_, err = f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(f.certs.handles()) == 1 }, 3*time.Second, 5*time.Millisecond)

	require.NoError(t, f.registry.DeleteClaim(ctx, claim.ID))
	revoked := f.certs.revocations()
	require.Len(t, revoked, 1)
	assert.Equal(t, 1, revoked[f.certs.handles()[0]])
}

func TestDeleteClaim_BeforeOrderAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.certs.block = make(chan struct{})
	claim, err := f.registry.AddDomain(ctx, "org-1", "acmesalon.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(claim.Domain, claim.Records)

	_, err = f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)

	require.NoError(t, f.registry.DeleteClaim(ctx, claim.ID))
	assert.Empty(t, f.certs.handles())
	assert.Empty(t, f.certs.revocations())
}

func TestSweep_ExpiresLapsedClaims(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	stale, err := f.registry.AddDomain(ctx, "org-1", "stale.example", "")
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)
	ready, err := f.registry.AddDomain(ctx, "org-1", "ready.example", "")
	require.NoError(t, err)
	f.zone.PublishAll(ready.Domain, ready.Records)

	f.clock.Advance(25 * time.Hour)
	report, err := NewSweeper(f.registry, time.Minute, nil).RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Checked: 2, Verified: 1, Expired: 1}, report)

	got, err := f.registry.GetClaim(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.VerificationExpired, got.VerificationStatus)

	types := map[EventType]string{}
	for i := 0; i < 2; i++ {
		e := <-f.events
		types[e.Type] = e.Claim.ID
	}
	assert.Equal(t, stale.ID, types[ClaimExpired])
	assert.Equal(t, ready.ID, types[ClaimVerified])

	// expired claims do not block the hostname
	replacement, err := f.registry.AddDomain(ctx, "org-2", "stale.example", "")
	require.NoError(t, err)
	assert.NotEqual(t, stale.ID, replacement.ID)

	result, err := f.registry.Verify(ctx, ready.ID)
	require.NoError(t, err)
	assert.True(t, result.Verified)
}

func TestVerify_LapsedClaimExpiresOnLookup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	claim, err := f.registry.AddDomain(ctx, "org-1", "late.example", "")
	require.NoError(t, err)
	f.clock.Advance(72 * time.Hour)

	result, err := f.registry.Verify(ctx, claim.ID)
	require.NoError(t, err)
	assert.False(t, result.Verified)
	assert.Contains(t, result.NextSteps[0], "expired")
	assert.Equal(t, ClaimExpired, (<-f.events).Type)
}

func TestLive(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		status  models.VerificationStatus
		expires time.Time
		want    bool
	}{
		{models.VerificationPending, now.Add(time.Hour), true},
		{models.VerificationPending, now, false},
		{models.VerificationVerified, now.Add(-time.Hour), true},
		{models.VerificationExpired, now.Add(time.Hour), false},
		{models.VerificationFailed, now.Add(time.Hour), false},
	}
	for _, tt := range tests {
		c := &models.DomainClaim{VerificationStatus: tt.status, ExpiresAt: tt.expires}
		assert.Equal(t, tt.want, Live(c, now), "%s expiring %s", tt.status, tt.expires)
	}
}
