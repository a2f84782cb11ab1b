package models

// ErrorResponse is the JSON body returned for failed API calls
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// SaveArtifactResponse is returned after an artifact upload
type SaveArtifactResponse struct {
	Key      ArtifactKey      `json:"key"`
	Metadata ArtifactMetadata `json:"metadata"`
}

// ArtifactListResponse lists the artifacts stored for an industry
type ArtifactListResponse struct {
	Artifacts []ArtifactKey `json:"artifacts"`
	Total     int           `json:"total"`
}
