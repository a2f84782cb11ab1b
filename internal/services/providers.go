package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/imyashkale/hera/internal/branding"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
)

// CacheRule tells the edge how long to cache paths matching Pattern
type CacheRule struct {
	Pattern    string `json:"pattern"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// CDNRequest describes the edge configuration of one deployment
type CDNRequest struct {
	DeploymentID string      `json:"deployment_id"`
	Region       string      `json:"region"`
	Hostnames    []string    `json:"hostnames"`
	Origin       string      `json:"origin"`
	CacheRules   []CacheRule `json:"cache_rules"`
}

// CDNProvider configures edge delivery and returns the edge endpoint
type CDNProvider interface {
	Configure(ctx context.Context, req CDNRequest) (string, error)
}

// HealthChecker decides whether a finished deployment can go live
type HealthChecker interface {
	Check(ctx context.Context, deployment *models.Deployment) error
}

// DefaultCacheRules are applied to every deployment
var DefaultCacheRules = []CacheRule{
	{Pattern: "/assets/*", TTLSeconds: 86400},
	{Pattern: "/api/*", TTLSeconds: 0},
	{Pattern: "/*", TTLSeconds: 300},
}

// EdgeConfigAsset is the asset name of the stored edge configuration
const EdgeConfigAsset = "edge.json"

// AssetCDN stores edge configuration next to the deployment's assets. The
// edge fleet picks it up from the asset bucket.
type AssetCDN struct {
	store      objectstore.Store
	bucket     string
	edgeDomain string
}

// NewAssetCDN creates a CDN provider writing to bucket. Endpoints are
// <deployment>.<edgeDomain>.
func NewAssetCDN(store objectstore.Store, bucket, edgeDomain string) *AssetCDN {
	return &AssetCDN{store: store, bucket: bucket, edgeDomain: edgeDomain}
}

// Configure implements CDNProvider
func (c *AssetCDN) Configure(ctx context.Context, req CDNRequest) (string, error) {
	if len(req.Hostnames) == 0 {
		return "", errors.New("at least one hostname is required")
	}
	endpoint := req.DeploymentID + "." + c.edgeDomain

	doc := struct {
		CDNRequest
		Endpoint string `json:"endpoint"`
	}{req, endpoint}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	err = c.store.Put(ctx, c.bucket, branding.AssetPath(req.DeploymentID, EdgeConfigAsset), data,
		objectstore.PutOptions{Overwrite: true, ContentType: "application/json"})
	if err != nil {
		return "", fmt.Errorf("failed to store edge configuration: %w", err)
	}
	return endpoint, nil
}

// AssetHealthChecker passes once every generated asset a deployment serves
// is present in the asset bucket.
type AssetHealthChecker struct {
	store    objectstore.Store
	bucket   string
	required []string
}

// NewAssetHealthChecker checks for the stylesheet, asset manifest, edge
// configuration and tracking configuration.
func NewAssetHealthChecker(store objectstore.Store, bucket string) *AssetHealthChecker {
	return &AssetHealthChecker{
		store:    store,
		bucket:   bucket,
		required: []string{branding.ThemeStylesheet, ManifestAsset, EdgeConfigAsset, AnalyticsAsset},
	}
}

// Check implements HealthChecker
func (h *AssetHealthChecker) Check(ctx context.Context, deployment *models.Deployment) error {
	var missing []string
	for _, name := range h.required {
		_, err := h.store.Get(ctx, h.bucket, branding.AssetPath(deployment.ID, name))
		if errors.Is(err, objectstore.ErrNotFound) {
			missing = append(missing, name)
			continue
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("health check failed: missing assets %s", strings.Join(missing, ", "))
	}
	return nil
}
