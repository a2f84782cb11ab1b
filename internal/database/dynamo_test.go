package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imyashkale/hera/internal/database/dynamotest"
	"github.com/imyashkale/hera/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

func newTestClient() (*Client, *dynamotest.Fake) {
	fake := dynamotest.New()
	return &Client{DynamoDB: fake, DeploymentsTable: "WhiteLabelDeployments", ClaimsTable: "DomainClaims"}, fake
}

func pendingClaim(id, org, domain, subdomain string, createdAt time.Time) *models.DomainClaim {
	return &models.DomainClaim{
		ID:                 id,
		OrganizationID:     org,
		Domain:             domain,
		Subdomain:          subdomain,
		Token:              "tok-" + id,
		VerificationStatus: models.VerificationPending,
		SSLStatus:          models.SSLNone,
		CreatedAt:          createdAt,
		UpdatedAt:          createdAt,
		ExpiresAt:          createdAt.Add(72 * time.Hour),
	}
}

func TestClaimOperations_CreateOnLiveHostname(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, ops *ClaimOperations)
		at      time.Time
		wantErr error
	}{
		{
			name:    "pending claim inside its window",
			at:      t0.Add(time.Hour),
			wantErr: ErrAlreadyExists,
		},
		{
			name: "verified claim never lapses",
			prepare: func(t *testing.T, ops *ClaimOperations) {
				ok, err := ops.MarkVerified(context.Background(), "c1", nil, t0.Add(time.Minute))
				require.NoError(t, err)
				require.True(t, ok)
			},
			at:      t0.Add(500 * time.Hour),
			wantErr: ErrAlreadyExists,
		},
		{
			name: "expired claim is taken over",
			prepare: func(t *testing.T, ops *ClaimOperations) {
				ok, err := ops.MarkExpired(context.Background(), "c1", t0.Add(73*time.Hour))
				require.NoError(t, err)
				require.True(t, ok)
			},
			at: t0.Add(74 * time.Hour),
		},
		{
			name: "lapsed pending claim is taken over",
			at:   t0.Add(72 * time.Hour),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, fake := newTestClient()
			ops := NewClaimOperations(client)
			ctx := context.Background()
			require.NoError(t, ops.Create(ctx, pendingClaim("c1", "org-1", "glow.example", "", t0)))
			if tt.prepare != nil {
				tt.prepare(t, ops)
			}

			err := ops.Create(ctx, pendingClaim("c2", "org-2", "glow.example", "", tt.at))
			held, findErr := ops.FindByHostname(ctx, "glow.example", "")
			require.NoError(t, findErr)
			// one claim item and one hostname item either way
			assert.Equal(t, 2, fake.Len("DomainClaims"))

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, "c1", held.ID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "c2", held.ID)
			_, err = ops.Get(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestClaimOperations_GetIgnoresHostnameItems(t *testing.T) {
	client, _ := newTestClient()
	ops := NewClaimOperations(client)
	ctx := context.Background()
	require.NoError(t, ops.Create(ctx, pendingClaim("c1", "org-1", "glow.example", "app", t0)))

	_, err := ops.Get(ctx, hostnameID("glow.example", "app"))
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := ops.ListByOrganization(ctx, "org-1")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "c1", all[0].ID)
}

func TestClaimOperations_DeleteReleasesHostname(t *testing.T) {
	client, fake := newTestClient()
	ops := NewClaimOperations(client)
	ctx := context.Background()
	require.NoError(t, ops.Create(ctx, pendingClaim("c1", "org-1", "glow.example", "", t0)))

	require.NoError(t, ops.Delete(ctx, "c1"))
	assert.Zero(t, fake.Len("DomainClaims"))
	_, err := ops.FindByHostname(ctx, "glow.example", "")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, ops.Create(ctx, pendingClaim("c2", "org-2", "glow.example", "", t0)))
}

func TestDeploymentOperations_UpdateClearsDeployedAt(t *testing.T) {
	client, _ := newTestClient()
	ops := NewDeploymentOperations(client)
	ctx := context.Background()

	deployed := t0.Add(time.Minute)
	d := &models.Deployment{
		ID:             "d1",
		OrganizationID: "org-1",
		Name:           "Glow",
		Status:         models.DeploymentActive,
		Config:         models.DeploymentConfig{Industry: "salon_beauty"},
		CreatedAt:      t0,
		UpdatedAt:      deployed,
		DeployedAt:     &deployed,
	}
	require.NoError(t, ops.Create(ctx, d))

	d.Status = models.DeploymentFailed
	d.DeployedAt = nil
	d.Error = "boom"
	require.NoError(t, ops.Update(ctx, d))

	got, err := ops.Get(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentFailed, got.Status)
	assert.Equal(t, "boom", got.Error)
	assert.Nil(t, got.DeployedAt)
	assert.True(t, got.CreatedAt.Equal(t0))
}

func TestOperations_ProviderErrorsAreWrapped(t *testing.T) {
	client, fake := newTestClient()
	deployments := NewDeploymentOperations(client)
	claims := NewClaimOperations(client)
	ctx := context.Background()
	outage := errors.New("throttled")
	fake.FailWith(outage)

	tests := []struct {
		name string
		call func() error
	}{
		{"deployment create", func() error {
			return deployments.Create(ctx, &models.Deployment{ID: "d1", CreatedAt: t0, UpdatedAt: t0})
		}},
		{"deployment get", func() error { _, err := deployments.Get(ctx, "d1"); return err }},
		{"deployment list", func() error { _, err := deployments.ListByStatus(ctx, models.DeploymentDeploying); return err }},
		{"claim create", func() error { return claims.Create(ctx, pendingClaim("c1", "org-1", "glow.example", "", t0)) }},
		{"claim attach", func() error { return claims.AttachDeployment(ctx, "c1", "d1", t0) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.Error(t, err)
			assert.ErrorIs(t, err, outage)
			assert.NotErrorIs(t, err, ErrNotFound)
			assert.NotErrorIs(t, err, ErrAlreadyExists)
		})
	}
}
