package models

import "time"

// AddDomainRequest represents the request body for claiming a custom domain
type AddDomainRequest struct {
	Domain    string `json:"domain" binding:"required,max=253"`
	Subdomain string `json:"subdomain" binding:"omitempty,max=63"`
}

// DomainClaimResponse represents the response structure for a single claim
type DomainClaimResponse struct {
	ID                 string             `json:"id"`
	OrganizationID     string             `json:"organization_id"`
	Domain             string             `json:"domain"`
	Subdomain          string             `json:"subdomain,omitempty"`
	Hostname           string             `json:"hostname"`
	Records            []DNSRecord        `json:"records"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	SSLStatus          SSLStatus          `json:"ssl_status"`
	DeploymentID       string             `json:"deployment_id,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	ExpiresAt          time.Time          `json:"expires_at"`
}

// DomainClaimListResponse represents the response structure for listing claims
type DomainClaimListResponse struct {
	Claims []DomainClaimResponse `json:"claims"`
	Total  int                   `json:"total"`
}

// ToResponse converts a DomainClaim to its response DTO. The verification
// token is only exposed through the TXT record value.
func (c *DomainClaim) ToResponse() DomainClaimResponse {
	return DomainClaimResponse{
		ID:                 c.ID,
		OrganizationID:     c.OrganizationID,
		Domain:             c.Domain,
		Subdomain:          c.Subdomain,
		Hostname:           c.Hostname(),
		Records:            c.Records,
		VerificationStatus: c.VerificationStatus,
		SSLStatus:          c.SSLStatus,
		DeploymentID:       c.DeploymentID,
		CreatedAt:          c.CreatedAt,
		VerifiedAt:         c.VerifiedAt,
		ExpiresAt:          c.ExpiresAt,
	}
}
