package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the nga service.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// MigrationsPath is the directory holding record store migrations.
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"./migrations"`

	// Database configuration (PostgreSQL record store)
	Database DatabaseConfig `yaml:"database"`

	// Mongo configuration (schema document store)
	Mongo MongoConfig `yaml:"mongo"`

	// Redis configuration (per-source status lock). Empty host means in-process locking.
	Redis RedisConfig `yaml:"redis"`

	// S3 configuration (uploaded tabular files)
	S3 S3Config `yaml:"s3"`

	// Datasource connection management configuration
	Datasource DatasourceConfig `yaml:"datasource"`

	// Detection thresholds and signature parameters
	Detection DetectionConfig `yaml:"detection"`

	// Background job execution
	Jobs JobsConfig `yaml:"jobs"`

	// CredentialsKey encrypts secret connection parameters stored with schema
	// documents. Must be set outside local development.
	CredentialsKey string `yaml:"-" env:"CREDENTIALS_KEY"` // Secret - not in YAML
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"nga"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"nga"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// MongoConfig holds the schema document store configuration.
type MongoConfig struct {
	URI        string `yaml:"-" env:"MONGO_URI" env-default:"mongodb://localhost:27017"` // Secret - may embed credentials
	Database   string `yaml:"database" env:"MONGO_DATABASE" env-default:"nga"`
	Collection string `yaml:"collection" env:"MONGO_COLLECTION" env-default:"schemas"`
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// S3Config holds object storage configuration for uploaded files.
type S3Config struct {
	Endpoint     string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:""`
	Region       string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	Bucket       string `yaml:"bucket" env:"S3_BUCKET" env-default:"nga-files"`
	AccessKey    string `yaml:"-" env:"S3_ACCESS_KEY"` // Secret - not in YAML
	SecretKey    string `yaml:"-" env:"S3_SECRET_KEY"` // Secret - not in YAML
	UsePathStyle bool   `yaml:"use_path_style" env:"S3_USE_PATH_STYLE" env-default:"true"`
}

// IsConfigured returns true if a bucket and credentials are available.
func (c *S3Config) IsConfigured() bool {
	return c.Bucket != "" && c.AccessKey != "" && c.SecretKey != ""
}

// DatasourceConfig holds datasource connection management settings.
type DatasourceConfig struct {
	// ConnectionTTLMinutes is how long idle datasource connections are kept alive.
	ConnectionTTLMinutes int `yaml:"connection_ttl_minutes" env:"DATASOURCE_CONNECTION_TTL_MINUTES" env-default:"5"`
	// MaxConnections caps the number of cached source connections.
	MaxConnections int `yaml:"max_connections" env:"DATASOURCE_MAX_CONNECTIONS" env-default:"50"`
}

// DetectionConfig holds relationship detection settings.
type DetectionConfig struct {
	SignatureThreshold float64 `yaml:"signature_threshold" env:"SIGNATURE_THRESHOLD" env-default:"0.8"`
	NameTypeThreshold  float64 `yaml:"name_type_threshold" env:"NAME_TYPE_THRESHOLD" env-default:"0.6"`
	MaxRowsToSignature int     `yaml:"max_rows_to_signature" env:"MAX_ROWS_TO_SIGNATURE" env-default:"10000"`
	NumPerm            int     `yaml:"num_perm" env:"SIGNATURE_NUM_PERM" env-default:"128"`
}

// JobsConfig holds background job settings.
type JobsConfig struct {
	// SourceWorkers caps concurrent jobs that read from source systems.
	SourceWorkers int `yaml:"source_workers" env:"JOBS_SOURCE_WORKERS" env-default:"2"`
	// InternalWorkers caps concurrent jobs that only touch the internal stores.
	InternalWorkers   int           `yaml:"internal_workers" env:"JOBS_INTERNAL_WORKERS" env-default:"4"`
	StatusLockRetries int           `yaml:"status_lock_retries" env:"STATUS_LOCK_RETRIES" env-default:"10"`
	StatusLockBackoff time.Duration `yaml:"status_lock_backoff" env:"STATUS_LOCK_BACKOFF" env-default:"500ms"`
	StatusLockTTL     time.Duration `yaml:"status_lock_ttl" env:"STATUS_LOCK_TTL" env-default:"10s"`
	// History is how many finished jobs stay queryable by id.
	History int `yaml:"history" env:"JOBS_HISTORY" env-default:"1000"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// A missing config.yaml is not an error; defaults and the environment apply.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom is Load with an explicit file path.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		// Fall back to environment only
		if envErr := cleanenv.ReadEnv(cfg); envErr != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	d := c.Detection
	if d.SignatureThreshold < 0 || d.SignatureThreshold > 1 {
		return fmt.Errorf("signature_threshold must be within [0,1], got %v", d.SignatureThreshold)
	}
	if d.NameTypeThreshold < 0 || d.NameTypeThreshold > 1 {
		return fmt.Errorf("name_type_threshold must be within [0,1], got %v", d.NameTypeThreshold)
	}
	if d.MaxRowsToSignature <= 0 {
		return fmt.Errorf("max_rows_to_signature must be positive, got %d", d.MaxRowsToSignature)
	}
	if d.NumPerm <= 0 {
		return fmt.Errorf("num_perm must be positive, got %d", d.NumPerm)
	}
	if c.CredentialsKey == "" && c.Env != "local" && c.Env != "test" {
		return fmt.Errorf("CREDENTIALS_KEY must be set when env is %q", c.Env)
	}
	if c.Jobs.StatusLockRetries < 0 {
		return fmt.Errorf("status_lock_retries must not be negative")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		ResolveHostForDocker(c.Host), c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
