// Package repotest provides contract tests for the repository interfaces.
package repotest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// DeploymentFactory creates a fresh [repository.DeploymentRepository] for each test.
type DeploymentFactory func(t *testing.T) repository.DeploymentRepository

// ClaimFactory creates a fresh [repository.ClaimRepository] for each test.
type ClaimFactory func(t *testing.T) repository.ClaimRepository

var epoch = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func sampleDeployment(id, org string) *models.Deployment {
	return &models.Deployment{
		ID:             id,
		OrganizationID: org,
		Name:           "Glow Studio",
		Status:         models.DeploymentPreparing,
		Region:         "eu-west-1",
		Config: models.DeploymentConfig{
			Industry:     "salon_beauty",
			TemplatePack: "standard",
			CustomDomain: "glow.example",
			Subdomain:    "app",
			FeatureFlags: map[string]bool{"booking": true},
		},
		Steps: map[string]*models.StepStatus{
			"domain_setup": {Ordinal: 1, Status: models.StepPending},
		},
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

// RunDeployments exercises the [repository.DeploymentRepository] contract.
func RunDeployments(t *testing.T, factory DeploymentFactory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		require.NoError(t, repo.Create(ctx, sampleDeployment("d1", "org-1")))

		got, err := repo.Get(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, "org-1", got.OrganizationID)
		assert.Equal(t, models.DeploymentPreparing, got.Status)
		assert.Equal(t, "app.glow.example", got.Config.Hostname())
		assert.True(t, got.Config.FeatureFlags["booking"])
		assert.Equal(t, models.StepPending, got.Steps["domain_setup"].Status)
		assert.True(t, got.CreatedAt.Equal(epoch))
		assert.Nil(t, got.DeployedAt)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleDeployment("d1", "org-1")))
		err := repo.Create(ctx, sampleDeployment("d1", "org-1"))
		assert.ErrorIs(t, err, repository.ErrAlreadyExists)
	})

	t.Run("GetNotFound", func(t *testing.T) {
		repo := factory(t)
		_, err := repo.Get(context.Background(), "nonexistent")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("Update", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		d := sampleDeployment("d1", "org-1")
		require.NoError(t, repo.Create(ctx, d))

		deployed := epoch.Add(time.Minute)
		d.Status = models.DeploymentActive
		d.URL = "https://app.glow.example"
		d.Steps["domain_setup"].Status = models.StepCompleted
		d.Logs = append(d.Logs, models.ProvisionLogEntry{Timestamp: deployed, Step: "finalize", Level: "info", Message: "done"})
		d.DeployedAt = &deployed
		d.UpdatedAt = deployed
		require.NoError(t, repo.Update(ctx, d))

		got, err := repo.Get(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, models.DeploymentActive, got.Status)
		assert.Equal(t, "https://app.glow.example", got.URL)
		assert.Equal(t, models.StepCompleted, got.Steps["domain_setup"].Status)
		require.Len(t, got.Logs, 1)
		assert.Equal(t, "done", got.Logs[0].Message)
		require.NotNil(t, got.DeployedAt)
		assert.True(t, got.DeployedAt.Equal(deployed))
	})

	t.Run("UpdateNotFound", func(t *testing.T) {
		repo := factory(t)
		err := repo.Update(context.Background(), sampleDeployment("ghost", "org-1"))
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("ListByOrganizationAndStatus", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		a := sampleDeployment("d1", "org-1")
		b := sampleDeployment("d2", "org-1")
		b.Status = models.DeploymentDeploying
		b.CreatedAt = epoch.Add(time.Second)
		c := sampleDeployment("d3", "org-2")
		for _, d := range []*models.Deployment{a, b, c} {
			require.NoError(t, repo.Create(ctx, d))
		}

		mine, err := repo.ListByOrganization(ctx, "org-1")
		require.NoError(t, err)
		require.Len(t, mine, 2)
		assert.Equal(t, "d1", mine[0].ID)
		assert.Equal(t, "d2", mine[1].ID)

		none, err := repo.ListByOrganization(ctx, "org-9")
		require.NoError(t, err)
		assert.Empty(t, none)

		deploying, err := repo.ListByStatus(ctx, models.DeploymentDeploying)
		require.NoError(t, err)
		require.Len(t, deploying, 1)
		assert.Equal(t, "d2", deploying[0].ID)
	})

	t.Run("Delete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleDeployment("d1", "org-1")))
		require.NoError(t, repo.Delete(ctx, "d1"))

		_, err := repo.Get(ctx, "d1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, "d1"), repository.ErrNotFound)
	})
}

func sampleClaim(id, org, domain, subdomain string) *models.DomainClaim {
	return &models.DomainClaim{
		ID:             id,
		OrganizationID: org,
		Domain:         domain,
		Subdomain:      subdomain,
		Token:          "tok-" + id,
		Records: []models.DNSRecord{
			{Type: models.RecordTypeTXT, Name: "_hera." + models.ApexName, Value: "hera-domain-verification=tok-" + id, TTL: 300, Required: true, Status: models.RecordPending},
		},
		VerificationStatus: models.VerificationPending,
		SSLStatus:          models.SSLNone,
		CreatedAt:          epoch,
		UpdatedAt:          epoch,
		ExpiresAt:          epoch.Add(72 * time.Hour),
	}
}

// RunClaims exercises the [repository.ClaimRepository] contract.
func RunClaims(t *testing.T, factory ClaimFactory) {
	t.Run("CreateAndGet", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "app")))

		got, err := repo.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "app.glow.example", got.Hostname())
		assert.Equal(t, models.VerificationPending, got.VerificationStatus)
		require.Len(t, got.Records, 1)
		assert.Equal(t, "hera-domain-verification=tok-c1", got.Records[0].Value)
		assert.True(t, got.ExpiresAt.Equal(epoch.Add(72*time.Hour)))
		assert.Nil(t, got.VerifiedAt)

		byHost, err := repo.FindByHostname(ctx, "glow.example", "app")
		require.NoError(t, err)
		assert.Equal(t, "c1", byHost.ID)

		_, err = repo.FindByHostname(ctx, "glow.example", "")
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("LiveClaimBlocksHostname", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "")))

		err := repo.Create(ctx, sampleClaim("c2", "org-2", "glow.example", ""))
		assert.ErrorIs(t, err, repository.ErrAlreadyExists)

		// a different subdomain is a different hostname
		require.NoError(t, repo.Create(ctx, sampleClaim("c3", "org-2", "glow.example", "shop")))
	})

	t.Run("ExpiredClaimIsReplaced", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "")))
		ok, err := repo.MarkExpired(ctx, "c1", epoch.Add(73*time.Hour))
		require.NoError(t, err)
		require.True(t, ok)

		replacement := sampleClaim("c2", "org-2", "glow.example", "")
		replacement.CreatedAt = epoch.Add(74 * time.Hour)
		require.NoError(t, repo.Create(ctx, replacement))

		_, err = repo.Get(ctx, "c1")
		assert.ErrorIs(t, err, repository.ErrNotFound)
		got, err := repo.FindByHostname(ctx, "glow.example", "")
		require.NoError(t, err)
		assert.Equal(t, "org-2", got.OrganizationID)
	})

	t.Run("LapsedPendingClaimIsReplaced", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "")))

		replacement := sampleClaim("c2", "org-2", "glow.example", "")
		replacement.CreatedAt = epoch.Add(80 * time.Hour)
		require.NoError(t, repo.Create(ctx, replacement))
	})

	t.Run("ConcurrentCreateSingleWinner", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()

		const n = 8
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				c := sampleClaim(string(rune('a'+i)), "org", "race.example", "")
				if err := repo.Create(ctx, c); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, repository.ErrAlreadyExists)
				}
			}(i)
		}
		wg.Wait()
		assert.Equal(t, 1, wins)
	})

	t.Run("MarkVerifiedOnce", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "")))

		records := []models.DNSRecord{{Type: models.RecordTypeTXT, Name: "_hera", Value: "v", Required: true, Status: models.RecordActive}}
		at := epoch.Add(time.Hour)
		ok, err := repo.MarkVerified(ctx, "c1", records, at)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.MarkVerified(ctx, "c1", records, at.Add(time.Minute))
		require.NoError(t, err)
		assert.False(t, ok)

		got, err := repo.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, models.VerificationVerified, got.VerificationStatus)
		assert.Equal(t, models.SSLPending, got.SSLStatus)
		assert.Equal(t, models.RecordActive, got.Records[0].Status)
		require.NotNil(t, got.VerifiedAt)
		assert.True(t, got.VerifiedAt.Equal(at))

		// verified claims never expire
		ok, err = repo.MarkExpired(ctx, "c1", at.Add(100*time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("SSLTransitions", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "glow.example", "")))

		ok, err := repo.SetCertificate(ctx, "c1", "cert-1", epoch)
		require.NoError(t, err)
		assert.False(t, ok, "no certificate before verification")

		_, err = repo.MarkVerified(ctx, "c1", nil, epoch)
		require.NoError(t, err)
		ok, err = repo.SetCertificate(ctx, "c1", "cert-1", epoch)
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = repo.AdvanceSSL(ctx, "c1", models.SSLActive, epoch)
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = repo.AdvanceSSL(ctx, "c1", models.SSLFailed, epoch)
		require.NoError(t, err)
		assert.False(t, ok, "active is terminal")

		got, err := repo.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, models.SSLActive, got.SSLStatus)
		assert.Equal(t, "cert-1", got.CertificateID)
	})

	t.Run("TransitionsOnMissingClaim", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		_, err := repo.MarkVerified(ctx, "ghost", nil, epoch)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		_, err = repo.AdvanceSSL(ctx, "ghost", models.SSLActive, epoch)
		assert.ErrorIs(t, err, repository.ErrNotFound)
		assert.ErrorIs(t, repo.AttachDeployment(ctx, "ghost", "d1", epoch), repository.ErrNotFound)
	})

	t.Run("ListsAndDelete", func(t *testing.T) {
		repo := factory(t)
		ctx := context.Background()
		require.NoError(t, repo.Create(ctx, sampleClaim("c1", "org-1", "one.example", "")))
		require.NoError(t, repo.Create(ctx, sampleClaim("c2", "org-1", "two.example", "")))
		require.NoError(t, repo.Create(ctx, sampleClaim("c3", "org-2", "three.example", "")))
		require.NoError(t, repo.AttachDeployment(ctx, "c1", "d1", epoch))
		_, err := repo.MarkVerified(ctx, "c2", nil, epoch)
		require.NoError(t, err)

		mine, err := repo.ListByOrganization(ctx, "org-1")
		require.NoError(t, err)
		assert.Len(t, mine, 2)

		pending, err := repo.ListByVerificationStatus(ctx, models.VerificationPending)
		require.NoError(t, err)
		require.Len(t, pending, 2)

		got, err := repo.Get(ctx, "c1")
		require.NoError(t, err)
		assert.Equal(t, "d1", got.DeploymentID)

		require.NoError(t, repo.Delete(ctx, "c1"))
		assert.ErrorIs(t, repo.Delete(ctx, "c1"), repository.ErrNotFound)
	})
}
