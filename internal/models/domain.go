package models

import (
	"strings"
	"time"
)

// VerificationStatus is the ownership verification state of a domain claim
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationFailed   VerificationStatus = "failed"
	VerificationExpired  VerificationStatus = "expired"
)

// SSLStatus is the certificate state of a domain claim
type SSLStatus string

const (
	SSLNone    SSLStatus = "none"
	SSLPending SSLStatus = "pending"
	SSLActive  SSLStatus = "active"
	SSLFailed  SSLStatus = "failed"
)

// Record status values
const (
	RecordPending = "pending"
	RecordActive  = "active"
	RecordError   = "error"
)

// Record types used by domain verification
const (
	RecordTypeA     = "A"
	RecordTypeTXT   = "TXT"
	RecordTypeCNAME = "CNAME"
)

// ApexName is the record name for the zone apex
const ApexName = "@"

// DNSRecord is a record the tenant must publish in their zone
type DNSRecord struct {
	Type     string `json:"type" dynamodbav:"Type"`
	Name     string `json:"name" dynamodbav:"Name"`
	Value    string `json:"value" dynamodbav:"Value"`
	TTL      int    `json:"ttl" dynamodbav:"TTL"`
	Required bool   `json:"required" dynamodbav:"Required"`
	Status   string `json:"status" dynamodbav:"Status"`
}

// FQDN resolves the record name relative to domain. "@" is the apex and a
// trailing ".@" label is dropped.
func (r DNSRecord) FQDN(domain string) string {
	return RecordFQDN(r.Name, domain)
}

// RecordFQDN resolves a relative record name against domain
func RecordFQDN(name, domain string) string {
	switch {
	case name == "" || name == ApexName:
		return domain
	case strings.HasSuffix(name, "."+ApexName):
		return strings.TrimSuffix(name, "."+ApexName) + "." + domain
	default:
		return name + "." + domain
	}
}

// DomainClaim represents an organization's attempt to attach a custom hostname
type DomainClaim struct {
	ID                 string
	OrganizationID     string
	Domain             string
	Subdomain          string
	Token              string
	Records            []DNSRecord
	VerificationStatus VerificationStatus
	SSLStatus          SSLStatus
	CertificateID      string
	DeploymentID       string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	VerifiedAt         *time.Time
	ExpiresAt          time.Time
}

// Hostname returns subdomain.domain, or domain when there is no subdomain
func (c *DomainClaim) Hostname() string {
	if c.Subdomain == "" {
		return c.Domain
	}
	return c.Subdomain + "." + c.Domain
}

// Clone returns a deep copy of the claim
func (c *DomainClaim) Clone() *DomainClaim {
	if c == nil {
		return nil
	}
	out := *c
	if c.Records != nil {
		out.Records = append([]DNSRecord(nil), c.Records...)
	}
	if c.VerifiedAt != nil {
		t := *c.VerifiedAt
		out.VerifiedAt = &t
	}
	return &out
}

// VerificationResult is the outcome of a single verification attempt
type VerificationResult struct {
	Verified      bool        `json:"verified"`
	NextSteps     []string    `json:"next_steps,omitempty"`
	EstimatedTime string      `json:"estimated_time,omitempty"`
	Records       []DNSRecord `json:"records"`
}
