package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/services"
)

// DeploymentHandler handles deployment-related requests
type DeploymentHandler struct {
	service *services.DeploymentService
}

// NewDeploymentHandler creates a new deployment handler
func NewDeploymentHandler(service *services.DeploymentService) *DeploymentHandler {
	return &DeploymentHandler{service: service}
}

// Create validates the request and queues provisioning
// POST /api/v1/deployments
func (h *DeploymentHandler) Create(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	var req models.CreateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	deployment, err := h.service.Create(c.Request.Context(), orgID, req.Name, req.ToConfig())
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Location", "/api/v1/deployments/"+deployment.ID)
	c.JSON(http.StatusAccepted, deployment.ToResponse())
}

// List returns the organization's deployments
// GET /api/v1/deployments
func (h *DeploymentHandler) List(c *gin.Context) {
	orgID, ok := organizationID(c)
	if !ok {
		return
	}

	deployments, err := h.service.List(c.Request.Context(), orgID)
	if err != nil {
		respondError(c, err)
		return
	}

	responses := make([]models.DeploymentResponse, 0, len(deployments))
	for _, d := range deployments {
		responses = append(responses, d.ToResponse())
	}
	c.JSON(http.StatusOK, models.DeploymentListResponse{
		Deployments: responses,
		Total:       len(responses),
	})
}

// Get returns a single deployment
// GET /api/v1/deployments/:id
func (h *DeploymentHandler) Get(c *gin.Context) {
	deployment, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, deployment.ToResponse())
}

// Progress reports provisioning progress
// GET /api/v1/deployments/:id/progress
func (h *DeploymentHandler) Progress(c *gin.Context) {
	deployment, ok := h.owned(c)
	if !ok {
		return
	}
	progress, err := h.service.GetProgress(c.Request.Context(), deployment.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

// Update changes branding or feature flags of an active deployment
// PATCH /api/v1/deployments/:id
func (h *DeploymentHandler) Update(c *gin.Context) {
	deployment, ok := h.owned(c)
	if !ok {
		return
	}

	var req models.UpdateDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}

	updated, err := h.service.Update(c.Request.Context(), deployment.ID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated.ToResponse())
}

// Suspend takes a deployment offline
// POST /api/v1/deployments/:id/suspend
func (h *DeploymentHandler) Suspend(c *gin.Context) {
	h.transition(c, h.service.Suspend)
}

// Resume brings a suspended deployment back
// POST /api/v1/deployments/:id/resume
func (h *DeploymentHandler) Resume(c *gin.Context) {
	h.transition(c, h.service.Resume)
}

// Delete removes a deployment and everything it owns
// DELETE /api/v1/deployments/:id
func (h *DeploymentHandler) Delete(c *gin.Context) {
	deployment, ok := h.owned(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), deployment.ID); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *DeploymentHandler) transition(c *gin.Context, fn func(ctx context.Context, id string) (*models.Deployment, error)) {
	deployment, ok := h.owned(c)
	if !ok {
		return
	}
	updated, err := fn(c.Request.Context(), deployment.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated.ToResponse())
}

// owned loads the deployment named in the path if the caller's organization owns it
func (h *DeploymentHandler) owned(c *gin.Context) (*models.Deployment, bool) {
	orgID, ok := organizationID(c)
	if !ok {
		return nil, false
	}
	deployment, err := h.service.GetForOrganization(c.Request.Context(), orgID, c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	return deployment, true
}
