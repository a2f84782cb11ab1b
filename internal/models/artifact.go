package models

import (
	"fmt"
	"time"
)

// ArtifactKey identifies a configuration artifact
type ArtifactKey struct {
	Industry string `json:"industry"`
	ID       string `json:"id"`
}

// String renders the key as "industry/id"
func (k ArtifactKey) String() string {
	return fmt.Sprintf("%s/%s", k.Industry, k.ID)
}

// ArtifactMetadata describes an artifact's content
type ArtifactMetadata struct {
	Size         int64     `json:"size"`
	Version      string    `json:"version"`
	Checksum     string    `json:"checksum"`
	LastModified time.Time `json:"last_modified"`
}

// Artifact is a JSON configuration blob (template pack, entity template, theme).
// Artifacts are immutable once constructed; copies are handed to callers.
type Artifact struct {
	Key      ArtifactKey      `json:"key"`
	Content  []byte           `json:"content"`
	Metadata ArtifactMetadata `json:"metadata"`
}

// Clone returns a copy that shares no memory with a
func (a *Artifact) Clone() *Artifact {
	if a == nil {
		return nil
	}
	out := *a
	out.Content = append([]byte(nil), a.Content...)
	return &out
}

// Progress reports where a provisioning run is
type Progress struct {
	DeploymentID     string `json:"deployment_id"`
	StepName         string `json:"step_name"`
	PercentComplete  int    `json:"percent_complete"`
	CurrentStep      int    `json:"current_step"`
	TotalSteps       int    `json:"total_steps"`
	Message          string `json:"message"`
	EstimatedSeconds int    `json:"estimated_seconds_remaining"`
}
