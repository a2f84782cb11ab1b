// Package repository defines the persistence contracts used by the
// orchestrator and the domain registry. Implementations live in
// internal/database (DynamoDB) and internal/database/sqlite.
package repository

import (
	"context"
	"time"

	"github.com/imyashkale/hera/internal/database"
	"github.com/imyashkale/hera/internal/models"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = database.ErrNotFound
	// ErrAlreadyExists is returned when a record (or a live claim on the same hostname) exists
	ErrAlreadyExists = database.ErrAlreadyExists
)

// DeploymentRepository stores deployment records. Returned values are copies.
type DeploymentRepository interface {
	Create(ctx context.Context, deployment *models.Deployment) error
	Get(ctx context.Context, id string) (*models.Deployment, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*models.Deployment, error)
	ListByStatus(ctx context.Context, status models.DeploymentStatus) ([]*models.Deployment, error)
	Update(ctx context.Context, deployment *models.Deployment) error
	Delete(ctx context.Context, id string) error
}

// ClaimRepository stores domain claims. At most one non-expired claim may
// exist per (domain, subdomain); Create replaces an expired one atomically.
//
// The Mark*/Advance* methods are conditional updates. They report false,
// without error, when the claim is no longer in the expected state.
type ClaimRepository interface {
	Create(ctx context.Context, claim *models.DomainClaim) error
	Get(ctx context.Context, id string) (*models.DomainClaim, error)
	FindByHostname(ctx context.Context, domain, subdomain string) (*models.DomainClaim, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]*models.DomainClaim, error)
	ListByVerificationStatus(ctx context.Context, status models.VerificationStatus) ([]*models.DomainClaim, error)

	// AttachDeployment links the claim to its owning deployment
	AttachDeployment(ctx context.Context, id, deploymentID string, at time.Time) error
	// MarkVerified moves pending to verified, stores record statuses and sets ssl_status to pending
	MarkVerified(ctx context.Context, id string, records []models.DNSRecord, at time.Time) (bool, error)
	// MarkExpired moves pending to expired
	MarkExpired(ctx context.Context, id string, at time.Time) (bool, error)
	// SetCertificate stores the provider handle while ssl_status is pending
	SetCertificate(ctx context.Context, id, certificateID string, at time.Time) (bool, error)
	// AdvanceSSL moves ssl_status from pending to active or failed
	AdvanceSSL(ctx context.Context, id string, to models.SSLStatus, at time.Time) (bool, error)

	Delete(ctx context.Context, id string) error
}
