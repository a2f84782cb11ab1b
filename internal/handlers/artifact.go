package handlers

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/configstore"
	"github.com/imyashkale/hera/internal/models"
)

// maxArtifactSize bounds uploaded artifact bodies
const maxArtifactSize = 1 << 20

// ArtifactHandler serves configuration artifacts from the layered store
type ArtifactHandler struct {
	store *configstore.Store
}

// NewArtifactHandler creates a new artifact handler
func NewArtifactHandler(store *configstore.Store) *ArtifactHandler {
	return &ArtifactHandler{store: store}
}

// List returns the artifact keys of an industry
// GET /api/v1/artifacts/:industry
func (h *ArtifactHandler) List(c *gin.Context) {
	keys, err := h.store.List(c.Request.Context(), c.Param("industry"))
	if err != nil {
		respondError(c, err)
		return
	}
	if keys == nil {
		keys = []models.ArtifactKey{}
	}
	c.JSON(http.StatusOK, models.ArtifactListResponse{Artifacts: keys, Total: len(keys)})
}

// Get returns the raw artifact JSON
// GET /api/v1/artifacts/:industry/:id
func (h *ArtifactHandler) Get(c *gin.Context) {
	key := models.ArtifactKey{Industry: c.Param("industry"), ID: c.Param("id")}
	artifact, err := h.store.Load(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("ETag", strconv.Quote(artifact.Metadata.Checksum))
	if artifact.Metadata.Version != "" {
		c.Header("X-Artifact-Version", artifact.Metadata.Version)
	}
	c.Data(http.StatusOK, "application/json", artifact.Content)
}

// Put validates and stores an artifact
// PUT /api/v1/artifacts/:industry/:id?overwrite=true
func (h *ArtifactHandler) Put(c *gin.Context) {
	key := models.ArtifactKey{Industry: c.Param("industry"), ID: c.Param("id")}
	overwrite, _ := strconv.ParseBool(c.DefaultQuery("overwrite", "false"))

	content, err := io.ReadAll(io.LimitReader(c.Request.Body, maxArtifactSize+1))
	if err != nil {
		bindError(c, err)
		return
	}
	if len(content) > maxArtifactSize {
		respondError(c, apperrors.Validation("handlers.PutArtifact", "artifact is larger than 1MiB"))
		return
	}

	artifact, err := h.store.Save(c.Request.Context(), key, content, overwrite)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.SaveArtifactResponse{Key: artifact.Key, Metadata: artifact.Metadata})
}

type invalidateRequest struct {
	Industry string `json:"industry"`
	ID       string `json:"id" binding:"required_with=Industry"`
}

// Invalidate evicts one artifact, or every cached artifact when the body names none
// POST /api/v1/artifacts/invalidate
func (h *ArtifactHandler) Invalidate(c *gin.Context) {
	var req invalidateRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	if req.Industry == "" {
		if err := h.store.InvalidateAll(ctx); err != nil {
			respondError(c, apperrors.Provider("handlers.Invalidate", "failed to clear caches", err))
			return
		}
		c.JSON(http.StatusOK, gin.H{"invalidated": "all"})
		return
	}

	key := models.ArtifactKey{Industry: req.Industry, ID: req.ID}
	if err := configstore.ValidateKey(key); err != nil {
		respondError(c, err)
		return
	}
	if err := h.store.Invalidate(ctx, key); err != nil {
		respondError(c, apperrors.Provider("handlers.Invalidate", "failed to evict artifact", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"invalidated": key.String()})
}
