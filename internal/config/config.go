package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"

	ObjectStoreFilesystem = "filesystem"
	ObjectStoreS3         = "s3"

	VerificationDNS    = "dns"
	VerificationStatic = "static"

	CertificatesACME       = "acme"
	CertificatesSelfSigned = "selfsigned"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Port        string
	CORSOrigins []string

	// Logging configuration
	LogLevel  string
	LogFormat string

	// Record storage
	StoreBackend string
	SQLitePath   string

	// AWS configuration
	AWSRegion string

	// DynamoDB configuration
	DeploymentsTableName string
	ClaimsTableName      string

	// Object storage
	ObjectStore     string
	ObjectStoreRoot string
	ArtifactBucket  string
	AssetBucket     string

	// Config store caching
	RedisAddr         string
	RedisPassword     string
	CacheDir          string
	MemoryCacheTTL    time.Duration
	MemoryCacheSize   int
	PersistedCacheTTL time.Duration

	// Platform addressing
	PlatformDomain  string
	IngressIP       string
	IngressHostname string
	Regions         []string

	// Provisioning
	WorkerCount    int
	QueueSize      int
	StepTimeout    time.Duration
	VerifyAttempts int
	VerifyInterval time.Duration

	// Domain claims
	ClaimTTL      time.Duration
	SweepInterval time.Duration

	// Providers
	VerificationProvider string
	DNSNameservers       []string
	CertificateProvider  string
	ACMEEmail            string
	ACMEDirectory        string
	ACMEHTTPPort         string

	// Authentication
	JWTSecret string
}

// LoadEnv reads the .env file (if present) and the OS environment without
// validating the result. OS environment variables take precedence over .env
// file values.
func LoadEnv() *Config {
	envPath := filepath.Join(".", ".env")
	_ = godotenv.Load(envPath)
	return Load()
}

// Load reads configuration from the environment without validating it
func Load() *Config {
	return &Config{
		Port:        getEnvOrDefault("PORT", "3001"),
		CORSOrigins: getListOrDefault("CORS_ALLOWED_ORIGINS", nil),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "json"),

		StoreBackend: getEnvOrDefault("STORE_BACKEND", BackendSQLite),
		SQLitePath:   getEnvOrDefault("SQLITE_PATH", "hera.db"),

		AWSRegion: getEnvOrDefault("AWS_REGION", "us-east-1"),

		DeploymentsTableName: getEnvOrDefault("DYNAMODB_DEPLOYMENTS_TABLE", "WhiteLabelDeployments"),
		ClaimsTableName:      getEnvOrDefault("DYNAMODB_CLAIMS_TABLE", "DomainClaims"),

		ObjectStore:     getEnvOrDefault("OBJECT_STORE", ObjectStoreFilesystem),
		ObjectStoreRoot: getEnvOrDefault("OBJECT_STORE_ROOT", "data/objects"),
		ArtifactBucket:  getEnvOrDefault("ARTIFACT_BUCKET", "hera-artifacts"),
		AssetBucket:     getEnvOrDefault("ASSET_BUCKET", "hera-assets"),

		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		CacheDir:          getEnvOrDefault("CACHE_DIR", "data/cache"),
		MemoryCacheTTL:    getDurationOrDefault("MEMORY_CACHE_TTL", 5*time.Minute),
		MemoryCacheSize:   getIntOrDefault("MEMORY_CACHE_SIZE", 1000),
		PersistedCacheTTL: getDurationOrDefault("PERSISTED_CACHE_TTL", time.Hour),

		PlatformDomain:  getEnvOrDefault("PLATFORM_DOMAIN", "hera.app"),
		IngressIP:       getEnvOrDefault("INGRESS_IP", "203.0.113.10"),
		IngressHostname: getEnvOrDefault("INGRESS_HOSTNAME", "edge.hera.app"),
		Regions:         getListOrDefault("REGIONS", []string{"us-east-1", "eu-west-1", "ap-southeast-1"}),

		WorkerCount:    getIntOrDefault("WORKER_COUNT", 5),
		QueueSize:      getIntOrDefault("QUEUE_SIZE", 100),
		StepTimeout:    getDurationOrDefault("STEP_TIMEOUT", 2*time.Minute),
		VerifyAttempts: getIntOrDefault("VERIFY_ATTEMPTS", 5),
		VerifyInterval: getDurationOrDefault("VERIFY_INTERVAL", 10*time.Second),

		ClaimTTL:      getDurationOrDefault("CLAIM_TTL", 72*time.Hour),
		SweepInterval: getDurationOrDefault("SWEEP_INTERVAL", 5*time.Minute),

		VerificationProvider: getEnvOrDefault("VERIFICATION_PROVIDER", VerificationDNS),
		DNSNameservers:       getListOrDefault("DNS_NAMESERVERS", []string{"8.8.8.8:53", "1.1.1.1:53"}),
		CertificateProvider:  getEnvOrDefault("CERTIFICATE_PROVIDER", CertificatesSelfSigned),
		ACMEEmail:            os.Getenv("ACME_EMAIL"),
		ACMEDirectory:        getEnvOrDefault("ACME_DIRECTORY", "https://acme-staging-v02.api.letsencrypt.org/directory"),
		ACMEHTTPPort:         getEnvOrDefault("ACME_HTTP_PORT", "5002"),

		JWTSecret: os.Getenv("JWT_SECRET"),
	}
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	var missing []string

	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.CertificateProvider == CertificatesACME && c.ACMEEmail == "" {
		missing = append(missing, "ACME_EMAIL")
	}
	if c.StoreBackend == BackendSQLite && c.SQLitePath == "" {
		missing = append(missing, "SQLITE_PATH")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration values: %v", missing)
	}

	if !oneOf(c.StoreBackend, BackendSQLite, BackendDynamoDB) {
		return fmt.Errorf("STORE_BACKEND must be %q or %q (got %q)", BackendSQLite, BackendDynamoDB, c.StoreBackend)
	}
	if !oneOf(c.ObjectStore, ObjectStoreFilesystem, ObjectStoreS3) {
		return fmt.Errorf("OBJECT_STORE must be %q or %q (got %q)", ObjectStoreFilesystem, ObjectStoreS3, c.ObjectStore)
	}
	if !oneOf(c.VerificationProvider, VerificationDNS, VerificationStatic) {
		return fmt.Errorf("VERIFICATION_PROVIDER must be %q or %q (got %q)", VerificationDNS, VerificationStatic, c.VerificationProvider)
	}
	if !oneOf(c.CertificateProvider, CertificatesACME, CertificatesSelfSigned) {
		return fmt.Errorf("CERTIFICATE_PROVIDER must be %q or %q (got %q)", CertificatesACME, CertificatesSelfSigned, c.CertificateProvider)
	}
	if ip := net.ParseIP(c.IngressIP); ip == nil || ip.To4() == nil {
		return fmt.Errorf("INGRESS_IP must be an IPv4 address (got %q)", c.IngressIP)
	}
	if len(c.Regions) == 0 {
		return fmt.Errorf("REGIONS must list at least one region")
	}
	if c.WorkerCount < 1 || c.QueueSize < 1 {
		return fmt.Errorf("WORKER_COUNT and QUEUE_SIZE must be positive")
	}
	if c.VerifyAttempts < 1 {
		return fmt.Errorf("VERIFY_ATTEMPTS must be at least 1 (got %d)", c.VerifyAttempts)
	}
	if time.Duration(c.VerifyAttempts)*c.VerifyInterval >= c.StepTimeout {
		return fmt.Errorf("VERIFY_ATTEMPTS x VERIFY_INTERVAL (%s) must fit inside STEP_TIMEOUT (%s)",
			time.Duration(c.VerifyAttempts)*c.VerifyInterval, c.StepTimeout)
	}
	return nil
}

func oneOf(v string, options ...string) bool {
	for _, o := range options {
		if v == o {
			return true
		}
	}
	return false
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntOrDefault parses an integer environment variable, falling back on parse errors
func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getDurationOrDefault parses a duration such as "90s" or "72h"
func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return d
}

// getListOrDefault splits a comma-separated variable, dropping empty items
func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Helper methods for accessing configuration values

// GetPort returns the server port
func (c *Config) GetPort() string {
	return c.Port
}

// GetLogLevel returns the logging level
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}

// GetAWSRegion returns the AWS region
func (c *Config) GetAWSRegion() string {
	return c.AWSRegion
}

// GetDeploymentsTableName returns the deployments table name
func (c *Config) GetDeploymentsTableName() string {
	return c.DeploymentsTableName
}

// GetClaimsTableName returns the domain claims table name
func (c *Config) GetClaimsTableName() string {
	return c.ClaimsTableName
}

// UsesRedis reports whether a Redis server backs the persisted cache layer
func (c *Config) UsesRedis() bool {
	return c.RedisAddr != ""
}
