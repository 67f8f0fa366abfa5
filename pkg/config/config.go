package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultConfigPath is the file Load reads when it exists.
const DefaultConfigPath = "config.yaml"

// Config holds all configuration for ekaya-dataservices.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration (health probe only)
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8085"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Pool settings applied to every named connection
	Datasource DatasourceConfig `yaml:"datasource"`

	// First step of the default connection fallback chain
	DefaultConnection DefaultConnectionConfig `yaml:"default_connection"`

	// Embedded bootstrap store, last step of the fallback chain
	Storage StorageConfig `yaml:"storage"`

	// Directory provider for directory-lookup connections
	Directory DirectoryConfig `yaml:"directory"`

	// Redis result cache (optional - in-memory cache when host is empty)
	Redis RedisConfig `yaml:"redis"`

	Cache       CacheConfig       `yaml:"cache"`
	Executor    ExecutorConfig    `yaml:"executor"`
	Credentials CredentialsConfig `yaml:"credentials"`
}

// DatasourceConfig holds the pool settings for named connections.
type DatasourceConfig struct {
	// PoolMaxConns is the pool size ceiling per connection.
	PoolMaxConns int `yaml:"pool_max_conns" env:"DATASOURCE_POOL_MAX_CONNS" env-default:"100"`
	// PoolMinIdle is the number of idle connections kept open per pool.
	PoolMinIdle int `yaml:"pool_min_idle" env:"DATASOURCE_POOL_MIN_IDLE" env-default:"10"`
	// IdleTimeout evicts connections idle for longer than this.
	IdleTimeout time.Duration `yaml:"idle_timeout" env:"DATASOURCE_IDLE_TIMEOUT" env-default:"30s"`
	// MaxLifetime reclaims connections held open longer than this.
	MaxLifetime time.Duration `yaml:"max_lifetime" env:"DATASOURCE_MAX_LIFETIME" env-default:"60s"`
	// ValidationQuery runs when a connection is borrowed. Empty means ping only.
	ValidationQuery string `yaml:"validation_query" env:"DATASOURCE_VALIDATION_QUERY" env-default:"SELECT 1"`
	// PoolTTLMinutes closes whole pools unused for this long. Zero keeps pools until teardown.
	PoolTTLMinutes int `yaml:"pool_ttl_minutes" env:"DATASOURCE_POOL_TTL_MINUTES" env-default:"0"`
}

// DefaultConnectionConfig describes the default connection through process
// variables. It is only used when Type is set and the result validates.
type DefaultConnectionConfig struct {
	Type         string `yaml:"type" env:"DSC_TYPE"`
	Name         string `yaml:"name" env:"DSC_NAME"`
	ContextPath  string `yaml:"jndi_context" env:"DSC_JNDI_CONTEXT"`
	ResourceName string `yaml:"jndi_datasource" env:"DSC_JNDI_DATASOURCE"`
	Driver       string `yaml:"jdbc_driver" env:"DSC_JDBC_DRIVER"`
	URL          string `yaml:"jdbc_url" env:"DSC_JDBC_URL"`
	Username     string `yaml:"jdbc_user_name" env:"DSC_JDBC_USER_NAME"`
	Password     string `yaml:"-" env:"DSC_JDBC_PASSWORD"` // Secret - not in YAML
	Description  string `yaml:"description" env:"DSC_DESCRIPTION"`
}

// StorageConfig locates the embedded bootstrap store.
type StorageConfig struct {
	EmbeddedPath     string `yaml:"embedded_path" env:"DSC_EMBEDDED_PATH" env-default:"~/data/dbServices/ds.db"`
	EmbeddedUsername string `yaml:"embedded_username" env:"DSC_EMBEDDED_USERNAME" env-default:"dsadmin"`
	EmbeddedPassword string `yaml:"-" env:"DSC_EMBEDDED_PASSWORD" env-default:"dsadmin"` // Secret - not in YAML
}

// DirectoryConfig points at the directory provider file.
type DirectoryConfig struct {
	// Path of the YAML directory document. Empty disables directory lookups.
	Path string `yaml:"path" env:"DSC_DIRECTORY_PATH" env-default:""`
}

// RedisConfig holds Redis connection settings for the result cache.
type RedisConfig struct {
	Host      string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"dsc:cache:"`
	TTL       time.Duration `yaml:"ttl" env:"REDIS_TTL" env-default:"0s"`
}

// CacheConfig selects which configurations keep their last written result.
type CacheConfig struct {
	Paths []string `yaml:"paths" env:"CACHE_PATHS" env-separator:","`
}

// ExecutorConfig tunes statement execution.
type ExecutorConfig struct {
	// ScreenInjection rejects string binds that libinjection flags.
	ScreenInjection bool `yaml:"screen_injection" env:"EXECUTOR_SCREEN_INJECTION" env-default:"false"`
	// AuditWrites logs a security event for every write that changed rows.
	AuditWrites bool `yaml:"audit_writes" env:"EXECUTOR_AUDIT_WRITES" env-default:"false"`
}

// CredentialsConfig holds the key that seals passwords written to CONNECTIONS.
type CredentialsConfig struct {
	// Key is a base64 32-byte key or a passphrase. Empty stores passwords as plain text.
	Key string `yaml:"-" env:"DSC_CREDENTIALS_KEY"` // Secret - not in YAML
}

// Load reads config.yaml, when present, with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom(DefaultConfigPath, version)
}

// LoadFrom is Load with an explicit file path. A missing file is not an
// error; the configuration then comes from the environment and defaults.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	} else {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// parseComplexFields handles fields that need post-processing after loading.
func (c *Config) parseComplexFields() error {
	path, err := ExpandHome(c.Storage.EmbeddedPath)
	if err != nil {
		return fmt.Errorf("embedded_path: %w", err)
	}
	c.Storage.EmbeddedPath = path

	if c.Directory.Path != "" {
		if c.Directory.Path, err = ExpandHome(c.Directory.Path); err != nil {
			return fmt.Errorf("directory path: %w", err)
		}
	}

	paths := c.Cache.Paths[:0]
	for _, p := range c.Cache.Paths {
		if p = strings.TrimSpace(p); p != "" {
			paths = append(paths, p)
		}
	}
	c.Cache.Paths = paths
	return nil
}

func (c *Config) validate() error {
	if c.Datasource.PoolMaxConns < 1 {
		return fmt.Errorf("datasource.pool_max_conns must be at least 1, got %d", c.Datasource.PoolMaxConns)
	}
	if c.Datasource.PoolMinIdle < 0 {
		return fmt.Errorf("datasource.pool_min_idle must not be negative, got %d", c.Datasource.PoolMinIdle)
	}
	if c.Storage.EmbeddedPath == "" {
		return fmt.Errorf("storage.embedded_path must not be empty")
	}
	return nil
}

// ExpandHome replaces a leading "~" with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// RedisAddr returns host:port for the Redis client.
func (c *RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", ResolveHostForDocker(c.Host), c.Port)
}
