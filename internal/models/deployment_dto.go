package models

import "time"

// CreateDeploymentRequest represents the request body for creating a new deployment
type CreateDeploymentRequest struct {
	Name           string          `json:"name" binding:"required,max=128"`
	Industry       string          `json:"industry" binding:"required"`
	TemplatePack   string          `json:"template_pack"`
	CustomDomain   string          `json:"custom_domain" binding:"omitempty,max=253"`
	Subdomain      string          `json:"subdomain" binding:"omitempty,max=63"`
	Theme          ThemeOverride   `json:"theme"`
	FeatureFlags   map[string]bool `json:"feature_flags"`
	EnabledModules []string        `json:"enabled_modules"`
}

// ToConfig converts the request DTO to a deployment configuration
func (req *CreateDeploymentRequest) ToConfig() DeploymentConfig {
	return DeploymentConfig{
		Industry:       req.Industry,
		TemplatePack:   req.TemplatePack,
		CustomDomain:   req.CustomDomain,
		Subdomain:      req.Subdomain,
		Theme:          req.Theme,
		FeatureFlags:   req.FeatureFlags,
		EnabledModules: req.EnabledModules,
	}
}

// UpdateDeploymentRequest carries a partial branding/feature-flag change
type UpdateDeploymentRequest struct {
	Theme        *ThemeOverride  `json:"theme"`
	FeatureFlags map[string]bool `json:"feature_flags"`
}

// DeploymentResponse represents the response structure for a single deployment
type DeploymentResponse struct {
	ID             string                 `json:"id"`
	OrganizationID string                 `json:"organization_id"`
	Name           string                 `json:"name"`
	Status         DeploymentStatus       `json:"status"`
	Config         DeploymentConfig       `json:"config"`
	URL            string                 `json:"url,omitempty"`
	Region         string                 `json:"region,omitempty"`
	ClaimID        string                 `json:"claim_id,omitempty"`
	CertificateID  string                 `json:"certificate_id,omitempty"`
	AnalyticsID    string                 `json:"analytics_id,omitempty"`
	Steps          map[string]*StepStatus `json:"steps,omitempty"`
	Logs           []ProvisionLogEntry    `json:"logs,omitempty"`
	Error          string                 `json:"error,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	DeployedAt     *time.Time             `json:"deployed_at,omitempty"`
}

// DeploymentListResponse represents the response structure for listing deployments
type DeploymentListResponse struct {
	Deployments []DeploymentResponse `json:"deployments"`
	Total       int                  `json:"total"`
}

// ToResponse converts a domain Deployment to a DeploymentResponse DTO
func (d *Deployment) ToResponse() DeploymentResponse {
	return DeploymentResponse{
		ID:             d.ID,
		OrganizationID: d.OrganizationID,
		Name:           d.Name,
		Status:         d.Status,
		Config:         d.Config,
		URL:            d.URL,
		Region:         d.Region,
		ClaimID:        d.ClaimID,
		CertificateID:  d.CertificateID,
		AnalyticsID:    d.AnalyticsID,
		Steps:          d.Steps,
		Logs:           d.Logs,
		Error:          d.Error,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
		DeployedAt:     d.DeployedAt,
	}
}
