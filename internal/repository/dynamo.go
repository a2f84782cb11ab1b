package repository

import (
	"context"
	"time"

	"github.com/imyashkale/hera/internal/database"
	"github.com/imyashkale/hera/internal/models"
)

// dynamoDeploymentRepository implements DeploymentRepository using DynamoDB
type dynamoDeploymentRepository struct {
	db *database.DeploymentOperations
}

// NewDeploymentRepository creates a new DynamoDB-backed deployment repository
func NewDeploymentRepository(db *database.DeploymentOperations) DeploymentRepository {
	return &dynamoDeploymentRepository{db: db}
}

func (r *dynamoDeploymentRepository) Create(ctx context.Context, d *models.Deployment) error {
	return r.db.Create(ctx, d)
}

func (r *dynamoDeploymentRepository) Get(ctx context.Context, id string) (*models.Deployment, error) {
	return r.db.Get(ctx, id)
}

func (r *dynamoDeploymentRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*models.Deployment, error) {
	return r.db.ListByOrganization(ctx, organizationID)
}

func (r *dynamoDeploymentRepository) ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error) {
	return r.db.ListByStatus(ctx, status)
}

func (r *dynamoDeploymentRepository) Update(ctx context.Context, d *models.Deployment) error {
	return r.db.Update(ctx, d)
}

func (r *dynamoDeploymentRepository) Delete(ctx context.Context, id string) error {
	return r.db.Delete(ctx, id)
}

// dynamoClaimRepository implements ClaimRepository using DynamoDB
type dynamoClaimRepository struct {
	db *database.ClaimOperations
}

// NewClaimRepository creates a new DynamoDB-backed claim repository
func NewClaimRepository(db *database.ClaimOperations) ClaimRepository {
	return &dynamoClaimRepository{db: db}
}

func (r *dynamoClaimRepository) Create(ctx context.Context, c *models.DomainClaim) error {
	return r.db.Create(ctx, c)
}

func (r *dynamoClaimRepository) Get(ctx context.Context, id string) (*models.DomainClaim, error) {
	return r.db.Get(ctx, id)
}

func (r *dynamoClaimRepository) FindByHostname(ctx context.Context, domain, subdomain string) (*models.DomainClaim, error) {
	return r.db.FindByHostname(ctx, domain, subdomain)
}

func (r *dynamoClaimRepository) ListByOrganization(ctx context.Context, organizationID string) ([]*models.DomainClaim, error) {
	return r.db.ListByOrganization(ctx, organizationID)
}

func (r *dynamoClaimRepository) ListByVerificationStatus(ctx context.Context, status models.VerificationStatus) ([]*models.DomainClaim, error) {
	return r.db.ListByVerificationStatus(ctx, status)
}

func (r *dynamoClaimRepository) AttachDeployment(ctx context.Context, id, deploymentID string, at time.Time) error {
	return r.db.AttachDeployment(ctx, id, deploymentID, at)
}

func (r *dynamoClaimRepository) MarkVerified(ctx context.Context, id string, records []models.DNSRecord, at time.Time) (bool, error) {
	return r.db.MarkVerified(ctx, id, records, at)
}

func (r *dynamoClaimRepository) MarkExpired(ctx context.Context, id string, at time.Time) (bool, error) {
	return r.db.MarkExpired(ctx, id, at)
}

func (r *dynamoClaimRepository) SetCertificate(ctx context.Context, id, certificateID string, at time.Time) (bool, error) {
	return r.db.SetCertificate(ctx, id, certificateID, at)
}

func (r *dynamoClaimRepository) AdvanceSSL(ctx context.Context, id string, to models.SSLStatus, at time.Time) (bool, error) {
	return r.db.AdvanceSSL(ctx, id, to, at)
}

func (r *dynamoClaimRepository) Delete(ctx context.Context, id string) error {
	return r.db.Delete(ctx, id)
}
