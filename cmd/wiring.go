package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/bsm/redislock"
	"github.com/imyashkale/hera/internal/branding"
	"github.com/imyashkale/hera/internal/certificates"
	"github.com/imyashkale/hera/internal/config"
	"github.com/imyashkale/hera/internal/configstore"
	"github.com/imyashkale/hera/internal/database"
	"github.com/imyashkale/hera/internal/database/sqlite"
	"github.com/imyashkale/hera/internal/domains"
	"github.com/imyashkale/hera/internal/logger"
	"github.com/imyashkale/hera/internal/objectstore"
	"github.com/imyashkale/hera/internal/placement"
	"github.com/imyashkale/hera/internal/queue"
	"github.com/imyashkale/hera/internal/repository"
	"github.com/imyashkale/hera/internal/services"
	"github.com/imyashkale/hera/internal/verification"
	"github.com/redis/go-redis/v9"
)

// app holds the wired components of a running instance
type app struct {
	cfg         *config.Config
	db          *sql.DB
	redis       *redis.Client
	cache       *configstore.BadgerCache
	objects     objectstore.Store
	configs     *configstore.Store
	registry    *domains.Registry
	sweeper     *domains.Sweeper
	deployments *services.DeploymentService
	queue       *queue.JobQueue
}

// Close releases connections opened by newApp
func (a *app) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to close Redis client")
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to close Badger cache")
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to close SQLite database")
		}
	}
}

// newApp builds every component from cfg. Nothing is started. Without
// localCache the Badger layer is left out, so one-shot commands do not
// contend for the directory lock held by a running server.
func newApp(ctx context.Context, cfg *config.Config, localCache bool) (*app, error) {
	a := &app{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	deploymentRepo, claimRepo, err := a.repositories(ctx)
	if err != nil {
		return nil, err
	}

	switch cfg.ObjectStore {
	case config.ObjectStoreS3:
		a.objects, err = objectstore.NewS3Store(ctx, cfg.GetAWSRegion())
	default:
		a.objects, err = objectstore.NewFilesystemStore(cfg.ObjectStoreRoot)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open object store: %w", err)
	}
	logger.WithField("backend", cfg.ObjectStore).Info("Object store initialized")

	var persisted configstore.PersistedCache
	var locker *redislock.Client
	if cfg.UsesRedis() {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("failed to reach Redis at %s: %w", cfg.RedisAddr, err)
		}
		persisted = configstore.NewRedisCache(a.redis)
		locker = redislock.New(a.redis)
		logger.WithField("addr", cfg.RedisAddr).Info("Redis cache and sweep lock enabled")
	} else if localCache {
		a.cache, err = configstore.NewBadgerCache(cfg.CacheDir, cfg.PersistedCacheTTL)
		if err != nil {
			return nil, err
		}
		persisted = a.cache
		logger.WithField("dir", cfg.CacheDir).Info("Badger cache enabled")
	}

	a.configs = configstore.New(a.objects, configstore.Options{
		Bucket:       cfg.ArtifactBucket,
		MemoryTTL:    cfg.MemoryCacheTTL,
		MemorySize:   cfg.MemoryCacheSize,
		PersistedTTL: cfg.PersistedCacheTTL,
		Persisted:    persisted,
	})

	var verifier verification.Provider
	switch cfg.VerificationProvider {
	case config.VerificationStatic:
		verifier = verification.NewAcceptAllProvider()
		logger.Warn("Static verification provider accepts every domain; do not use in production")
	default:
		verifier = verification.NewDNSResolver(cfg.DNSNameservers, 0)
	}

	var certs certificates.Provider
	switch cfg.CertificateProvider {
	case config.CertificatesACME:
		certs, err = certificates.NewACMEProvider(certificates.ACMEConfig{
			Email:        cfg.ACMEEmail,
			DirectoryURL: cfg.ACMEDirectory,
			HTTPPort:     cfg.ACMEHTTPPort,
		}, a.objects, cfg.AssetBucket)
		if err != nil {
			return nil, err
		}
	default:
		certs = certificates.NewSelfSignedProvider(a.objects, cfg.AssetBucket)
	}

	a.registry = domains.NewRegistry(claimRepo, verifier, certs, domains.Options{
		IngressIP:       cfg.IngressIP,
		IngressHostname: cfg.IngressHostname,
		ClaimTTL:        cfg.ClaimTTL,
	})
	a.sweeper = domains.NewSweeper(a.registry, cfg.SweepInterval, locker)

	industries, err := branding.BundledIndustries()
	if err != nil {
		return nil, fmt.Errorf("failed to load industry defaults: %w", err)
	}

	a.queue = queue.NewJobQueue(cfg.QueueSize)
	a.deployments = services.NewDeploymentService(services.Dependencies{
		Deployments: deploymentRepo,
		Registry:    a.registry,
		Configs:     a.configs,
		Industries:  industries,
		Sink:        branding.NewCSSSink(a.objects, cfg.AssetBucket),
		Assets:      a.objects,
		CDN:         services.NewAssetCDN(a.objects, cfg.AssetBucket, cfg.IngressHostname),
		Health:      services.NewAssetHealthChecker(a.objects, cfg.AssetBucket),
		Ring:        placement.NewRing(cfg.Regions),
		Queue:       a.queue,
	}, services.Options{
		AssetBucket:    cfg.AssetBucket,
		PlatformDomain: cfg.PlatformDomain,
		StepTimeout:    cfg.StepTimeout,
		VerifyAttempts: cfg.VerifyAttempts,
		VerifyInterval: cfg.VerifyInterval,
	})

	ok = true
	return a, nil
}

func (a *app) repositories(ctx context.Context) (repository.DeploymentRepository, repository.ClaimRepository, error) {
	cfg := a.cfg
	if cfg.StoreBackend == config.BackendDynamoDB {
		dbConfig := database.NewConfig(cfg)
		logger.WithFields(map[string]interface{}{
			"deployments_table": dbConfig.DeploymentsTable,
			"claims_table":      dbConfig.ClaimsTable,
			"region":            dbConfig.Region,
		}).Info("Initializing DynamoDB client")

		client, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize DynamoDB client: %w", err)
		}
		return repository.NewDeploymentRepository(database.NewDeploymentOperations(client)),
			repository.NewClaimRepository(database.NewClaimOperations(client)), nil
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	a.db = db
	logger.WithField("path", cfg.SQLitePath).Info("SQLite database opened")
	return &sqlite.DeploymentRepo{DB: db}, &sqlite.ClaimRepo{DB: db}, nil
}

// openSQLite opens (and migrates) the database at path
func openSQLite(path string) (*sql.DB, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, err
	}
	logger.WithField("path", path).Info("SQLite migrations applied")
	return db, nil
}

func schemaVersion(db *sql.DB) (int64, error) {
	return sqlite.SchemaVersion(db)
}
