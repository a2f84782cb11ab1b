package models

import "time"

// DeploymentStatus is the lifecycle state of a white-label deployment
type DeploymentStatus string

const (
	DeploymentPreparing DeploymentStatus = "preparing"
	DeploymentDeploying DeploymentStatus = "deploying"
	DeploymentActive    DeploymentStatus = "active"
	DeploymentSuspended DeploymentStatus = "suspended"
	DeploymentFailed    DeploymentStatus = "failed"
)

// IsTerminal reports whether provisioning has finished, successfully or not
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentActive || s == DeploymentFailed
}

// IsProvisioning reports whether a provisioning run owns the deployment
func (s DeploymentStatus) IsProvisioning() bool {
	return s == DeploymentPreparing || s == DeploymentDeploying
}

// Step status values
const (
	StepPending   = "pending"
	StepRunning   = "in_progress"
	StepCompleted = "completed"
	StepSkipped   = "skipped"
	StepWaiting   = "waiting"
	StepFailed    = "failed"
)

// StepStatus represents the status of a single provisioning step
type StepStatus struct {
	Ordinal     int        `json:"ordinal" dynamodbav:"Ordinal"`
	Status      string     `json:"status" dynamodbav:"Status"`
	StartedAt   *time.Time `json:"started_at,omitempty" dynamodbav:"StartedAt,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" dynamodbav:"CompletedAt,omitempty"`
	Error       string     `json:"error,omitempty" dynamodbav:"Error,omitempty"`
}

// ProvisionLogEntry represents a single log entry from the provisioning run
type ProvisionLogEntry struct {
	Timestamp time.Time `json:"timestamp" dynamodbav:"Timestamp"`
	Step      string    `json:"step" dynamodbav:"Step"`
	Level     string    `json:"level" dynamodbav:"Level"` // "info", "warning", "error"
	Message   string    `json:"message" dynamodbav:"Message"`
}

// DeploymentConfig is the tenant-supplied configuration of a deployment
type DeploymentConfig struct {
	Industry       string          `json:"industry" dynamodbav:"Industry"`
	TemplatePack   string          `json:"template_pack" dynamodbav:"TemplatePack"`
	CustomDomain   string          `json:"custom_domain,omitempty" dynamodbav:"CustomDomain,omitempty"`
	Subdomain      string          `json:"subdomain,omitempty" dynamodbav:"Subdomain,omitempty"`
	Theme          ThemeOverride   `json:"theme" dynamodbav:"Theme"`
	FeatureFlags   map[string]bool `json:"feature_flags,omitempty" dynamodbav:"FeatureFlags,omitempty"`
	EnabledModules []string        `json:"enabled_modules,omitempty" dynamodbav:"EnabledModules,omitempty"`
}

// HasCustomDomain reports whether domain setup is required
func (c DeploymentConfig) HasCustomDomain() bool {
	return c.CustomDomain != ""
}

// Hostname returns the fully-qualified custom hostname, or "" without a custom domain
func (c DeploymentConfig) Hostname() string {
	if c.CustomDomain == "" {
		return ""
	}
	if c.Subdomain == "" {
		return c.CustomDomain
	}
	return c.Subdomain + "." + c.CustomDomain
}

// Deployment represents the domain model for a white-label deployment.
// This is a database-agnostic business entity
type Deployment struct {
	ID             string
	OrganizationID string
	Name           string
	Status         DeploymentStatus
	Config         DeploymentConfig

	URL           string
	Region        string
	ClaimID       string
	CertificateID string
	AnalyticsID   string

	Steps map[string]*StepStatus
	Logs  []ProvisionLogEntry
	Error string

	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeployedAt *time.Time
}

// Clone returns a deep copy so readers never share state with the provisioning task
func (d *Deployment) Clone() *Deployment {
	if d == nil {
		return nil
	}
	c := *d
	c.Config = d.Config.clone()
	if d.Steps != nil {
		c.Steps = make(map[string]*StepStatus, len(d.Steps))
		for name, s := range d.Steps {
			sc := *s
			c.Steps[name] = &sc
		}
	}
	if d.Logs != nil {
		c.Logs = append([]ProvisionLogEntry(nil), d.Logs...)
	}
	if d.DeployedAt != nil {
		t := *d.DeployedAt
		c.DeployedAt = &t
	}
	return &c
}

func (c DeploymentConfig) clone() DeploymentConfig {
	out := c
	out.Theme = c.Theme.Clone()
	if c.FeatureFlags != nil {
		out.FeatureFlags = make(map[string]bool, len(c.FeatureFlags))
		for k, v := range c.FeatureFlags {
			out.FeatureFlags[k] = v
		}
	}
	if c.EnabledModules != nil {
		out.EnabledModules = append([]string(nil), c.EnabledModules...)
	}
	return out
}
