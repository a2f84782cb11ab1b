package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/domains"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/services"
)

// DomainHandler handles custom domain claims
type DomainHandler struct {
	registry    *domains.Registry
	deployments *services.DeploymentService
}

// NewDomainHandler creates a new domain handler
func NewDomainHandler(registry *domains.Registry, deployments *services.DeploymentService) *DomainHandler {
	return &DomainHandler{registry: registry, deployments: deployments}
}

// Add claims a hostname for the caller's organization
// POST /api/v1/domains
func (h *DomainHandler) Add(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	var req models.AddDomainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	claim, err := h.registry.AddDomain(c.Request.Context(), orgID, req.Domain, req.Subdomain)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, claim.ToResponse())
}

// List returns the organization's claims
// GET /api/v1/domains
func (h *DomainHandler) List(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	claims, err := h.registry.ListForOrganization(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}
	responses := make([]models.DomainClaimResponse, 0, len(claims))
	for _, claim := range claims {
		responses = append(responses, claim.ToResponse())
	}
	c.JSON(http.StatusOK, models.DomainClaimListResponse{Claims: responses, Total: len(responses)})
}

// Get returns a single claim
// GET /api/v1/domains/:id
func (h *DomainHandler) Get(c *gin.Context) {
	claim, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, claim.ToResponse())
}

// Records returns the DNS records the tenant must publish
// GET /api/v1/domains/:id/records
func (h *DomainHandler) Records(c *gin.Context) {
	claim, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"hostname": claim.Hostname(),
		"records":  h.registry.RequiredRecords(claim),
	})
}

// Verify checks the claim's records now
// POST /api/v1/domains/:id/verify
func (h *DomainHandler) Verify(c *gin.Context) {
	claim, ok := h.owned(c)
	if !ok {
		return
	}
	result, err := h.registry.Verify(c.Request.Context(), claim.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Delete releases a claim that no live deployment uses
// DELETE /api/v1/domains/:id
func (h *DomainHandler) Delete(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}
	if err := h.deployments.ReleaseClaim(c.Request.Context(), orgID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DomainHandler) owned(c *gin.Context) (*models.DomainClaim, bool) {
	orgID, ok := organizationID(c)
	if !ok {
		return nil, false
	}
	claim, err := h.deployments.ClaimForOrganization(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return claim, true
}
