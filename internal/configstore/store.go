// Package configstore loads JSON configuration artifacts (template packs,
// entity templates, themes) through a chain of caches in front of the durable
// object store, with bundled defaults as the last resort.
package configstore

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/imyashkale/hera/internal/apperrors"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/metrics"
	"github.com/imyashkale/hera/internal/models"
	"github.com/imyashkale/hera/internal/objectstore"
)

//go:embed defaults
var bundledDefaults embed.FS

const (
	durablePrefix   = "templates"
	genericIndustry = "generic"
)

// Options configures a Store
type Options struct {
	Bucket       string
	MemoryTTL    time.Duration
	MemorySize   int
	PersistedTTL time.Duration
	// Persisted is optional; without it the chain skips that layer
	Persisted PersistedCache
	// Defaults overrides the bundled defaults, mainly for tests
	Defaults fs.FS
	Now      func() time.Time
}

// Store is the layered artifact loader: memory, persisted cache, durable
// store, bundled defaults. It is safe for concurrent use.
type Store struct {
	durable   objectstore.Store
	bucket    string
	memory    *memoryLayer
	memoryTTL time.Duration
	persisted PersistedCache
	persTTL   time.Duration
	defaults  fs.FS
	now       func() time.Time
}

// New creates a Store over durable
func New(durable objectstore.Store, opts Options) *Store {
	if opts.MemoryTTL <= 0 {
		opts.MemoryTTL = 5 * time.Minute
	}
	if opts.MemorySize <= 0 {
		opts.MemorySize = 1000
	}
	if opts.PersistedTTL <= 0 {
		opts.PersistedTTL = time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	defaults := opts.Defaults
	if defaults == nil {
		sub, err := fs.Sub(bundledDefaults, "defaults")
		if err != nil {
			panic(err)
		}
		defaults = sub
	}

	return &Store{
		durable:   durable,
		bucket:    opts.Bucket,
		memory:    newMemoryLayer(opts.MemorySize, opts.MemoryTTL),
		memoryTTL: opts.MemoryTTL,
		persisted: opts.Persisted,
		persTTL:   opts.PersistedTTL,
		defaults:  defaults,
		now:       opts.Now,
	}
}

func durablePath(key models.ArtifactKey) string {
	return path.Join(durablePrefix, key.Industry, key.ID+".json")
}

// Load returns the artifact for key from the fastest layer holding a fresh
// copy and fills every faster layer on the way out.
func (s *Store) Load(ctx context.Context, key models.ArtifactKey) (*models.Artifact, error) {
	const op = "configstore.Load"
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	cacheKey := key.String()
	log := logger.WithField("artifact", cacheKey)

	if a := s.fromMemory(cacheKey); a != nil {
		metrics.ArtifactLoads.WithLabelValues("memory").Inc()
		return a, nil
	}

	if a := s.fromPersisted(ctx, cacheKey); a != nil {
		metrics.ArtifactLoads.WithLabelValues("persisted").Inc()
		s.fillMemory(cacheKey, a)
		return a.Clone(), nil
	}

	content, err := s.durable.Get(ctx, s.bucket, durablePath(key))
	switch {
	case err == nil:
		a := newArtifact(key, content, time.Time{})
		metrics.ArtifactLoads.WithLabelValues("durable").Inc()
		s.fillAll(ctx, cacheKey, a)
		return a.Clone(), nil
	case errors.Is(err, objectstore.ErrNotFound):
	default:
		log.WithField("error", err.Error()).Warn("Durable store unavailable, falling back to bundled defaults")
	}

	if a := s.fromDefaults(key); a != nil {
		metrics.ArtifactLoads.WithLabelValues("default").Inc()
		// a default served during an outage must not shadow the stored artifact
		if err == nil || errors.Is(err, objectstore.ErrNotFound) {
			s.fillAll(ctx, cacheKey, a)
		}
		return a.Clone(), nil
	}

	metrics.ArtifactLoads.WithLabelValues("miss").Inc()
	if err != nil && !errors.Is(err, objectstore.ErrNotFound) {
		return nil, apperrors.Provider(op, "durable store unavailable and no bundled default for "+cacheKey, err)
	}
	return nil, apperrors.NotFound(op, "artifact", cacheKey)
}

func (s *Store) fromMemory(key string) *models.Artifact {
	data, ok := s.memory.get(key)
	if !ok {
		return nil
	}
	e, err := decodeEntry(data)
	if err != nil || !e.fresh(s.now(), s.memoryTTL) {
		s.memory.del(key)
		return nil
	}
	return e.Artifact
}

func (s *Store) fromPersisted(ctx context.Context, key string) *models.Artifact {
	if s.persisted == nil {
		return nil
	}
	data, ok, err := s.persisted.Get(ctx, key)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"artifact": key,
			"error":    err.Error(),
		}).Warn("Persisted cache read failed")
		return nil
	}
	if !ok {
		return nil
	}
	e, err := decodeEntry(data)
	if err != nil || !e.fresh(s.now(), s.persTTL) {
		if delErr := s.persisted.Delete(ctx, key); delErr != nil {
			logger.WithField("artifact", key).Warn("Failed to evict stale persisted entry")
		}
		return nil
	}
	return e.Artifact
}

func (s *Store) fromDefaults(key models.ArtifactKey) *models.Artifact {
	for _, industry := range []string{key.Industry, genericIndustry} {
		content, err := fs.ReadFile(s.defaults, path.Join(industry, key.ID+".json"))
		if err == nil {
			return newArtifact(key, content, time.Time{})
		}
	}
	return nil
}

func (s *Store) fillMemory(key string, a *models.Artifact) {
	data, err := encodeEntry(a, s.now())
	if err != nil {
		return
	}
	s.memory.set(key, data)
}

// fillAll is best effort; a failed persisted write only costs a later miss
func (s *Store) fillAll(ctx context.Context, key string, a *models.Artifact) {
	data, err := encodeEntry(a, s.now())
	if err != nil {
		return
	}
	if s.persisted != nil {
		if err := s.persisted.Set(ctx, key, data); err != nil {
			logger.WithFields(map[string]interface{}{
				"artifact": key,
				"error":    err.Error(),
			}).Warn("Persisted cache write failed")
		}
	}
	s.memory.set(key, data)
}

// Save validates content and writes it to the durable store, then drops
// cached copies of key. Without overwrite an existing artifact is a conflict.
func (s *Store) Save(ctx context.Context, key models.ArtifactKey, content []byte, overwrite bool) (*models.Artifact, error) {
	const op = "configstore.Save"
	if err := ValidateKey(key); err != nil {
		return nil, err
	}
	if err := ValidateArtifact(key, content); err != nil {
		return nil, err
	}

	err := s.durable.Put(ctx, s.bucket, durablePath(key), content, objectstore.PutOptions{
		Overwrite:   overwrite,
		ContentType: "application/json",
	})
	if errors.Is(err, objectstore.ErrAlreadyExists) {
		return nil, apperrors.Conflict(op, "artifact "+key.String()+" already exists")
	}
	if err != nil {
		return nil, apperrors.Provider(op, "failed to write artifact", err)
	}

	if err := s.Invalidate(ctx, key); err != nil {
		logger.WithFields(map[string]interface{}{
			"artifact": key.String(),
			"error":    err.Error(),
		}).Warn("Artifact saved but cache invalidation failed")
	}

	logger.WithFields(map[string]interface{}{
		"artifact":  key.String(),
		"size":      len(content),
		"overwrite": overwrite,
	}).Info("Artifact saved")

	return newArtifact(key, content, s.now().UTC()), nil
}

// Invalidate evicts key from every cache layer
func (s *Store) Invalidate(ctx context.Context, key models.ArtifactKey) error {
	s.memory.del(key.String())
	if s.persisted != nil {
		return s.persisted.Delete(ctx, key.String())
	}
	return nil
}

// InvalidateAll empties every cache layer
func (s *Store) InvalidateAll(ctx context.Context) error {
	s.memory.reset()
	if s.persisted != nil {
		return s.persisted.Clear(ctx)
	}
	return nil
}

// List returns the artifact keys available for industry, durable and bundled
func (s *Store) List(ctx context.Context, industry string) ([]models.ArtifactKey, error) {
	const op = "configstore.List"
	if err := ValidateKey(models.ArtifactKey{Industry: industry, ID: "list"}); err != nil {
		return nil, err
	}

	ids := map[string]bool{}
	objects, err := s.durable.List(ctx, s.bucket, path.Join(durablePrefix, industry)+"/")
	if err != nil {
		return nil, apperrors.Provider(op, "failed to list artifacts", err)
	}
	for _, o := range objects {
		name := path.Base(o.Path)
		if strings.HasSuffix(name, ".json") {
			ids[strings.TrimSuffix(name, ".json")] = true
		}
	}

	entries, err := fs.ReadDir(s.defaults, industry)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				ids[strings.TrimSuffix(e.Name(), ".json")] = true
			}
		}
	}

	keys := make([]models.ArtifactKey, 0, len(ids))
	for id := range ids {
		keys = append(keys, models.ArtifactKey{Industry: industry, ID: id})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].ID < keys[j].ID })
	return keys, nil
}

func newArtifact(key models.ArtifactKey, content []byte, modified time.Time) *models.Artifact {
	sum := sha256.Sum256(content)
	return &models.Artifact{
		Key:     key,
		Content: append([]byte(nil), content...),
		Metadata: models.ArtifactMetadata{
			Size:         int64(len(content)),
			Version:      ArtifactVersion(content),
			Checksum:     hex.EncodeToString(sum[:]),
			LastModified: modified,
		},
	}
}
