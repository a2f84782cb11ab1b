package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/repository"
)

// ReleaseClaim deletes an organization's domain claim. A claim still serving
// a deployment that has not failed is a conflict; delete the deployment instead.
func (s *DeploymentService) ReleaseClaim(ctx context.Context, orgID, claimID string) error {
	const op = "services.ReleaseClaim"
	s.admin.Lock()
	defer s.admin.Unlock()

	claim, err := s.registry.GetClaim(ctx, claimID)
	if err != nil {
		return err
	}
	if claim.OrganizationID != orgID {
		return apperrors.NotFound(op, "domain claim", claimID)
	}

	if claim.DeploymentID != "" {
		d, err := s.repo.Get(ctx, claim.DeploymentID)
		switch {
		case err == nil && d.Status != models.DeploymentFailed:
			return apperrors.Conflict(op, fmt.Sprintf("domain %s is used by deployment %s (%s)", claim.Hostname(), d.ID, d.Status))
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return apperrors.Provider(op, "failed to check domain owner", err)
		}
	}
	return s.registry.DeleteClaim(ctx, claim.ID)
}

// ClaimForOrganization returns a claim owned by orgID. Other organizations'
// claims are reported as not found.
func (s *DeploymentService) ClaimForOrganization(ctx context.Context, orgID, claimID string) (*models.DomainClaim, error) {
	claim, err := s.registry.GetClaim(ctx, claimID)
	if err != nil {
		return nil, err
	}
	if claim.OrganizationID != orgID {
		return nil, apperrors.NotFound("services.GetClaim", "domain claim", claimID)
	}
	return claim, nil
}
