package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/cache"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/database"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
)

const (
	selectConfigurations = `SELECT CONNECTION_NAME, PATH, QUERY_STATEMENT, INSERT_STATEMENT, UPDATE_STATEMENT, DELETE_STATEMENT, KEYWORDS FROM CONFIGURATIONS`
	selectSysReg         = `SELECT SYSREG_CODE, SYSREG_VALUE FROM SYSREG`
)

// ConfigurationRegistry holds the configurations and SYSREG values read from
// the default connection.
type ConfigurationRegistry struct {
	mu             sync.RWMutex
	configurations map[string]*models.Configuration
	sysreg         map[string]string

	connections *ConnectionRegistry
	results     cache.ResultCache
	cachedPaths map[string]bool
	logger      *zap.Logger
}

// NewConfigurationRegistry creates an empty registry. cachedPaths lists the
// configurations whose last written result is kept in results.
func NewConfigurationRegistry(
	connections *ConnectionRegistry,
	results cache.ResultCache,
	cachedPaths []string,
	logger *zap.Logger,
) *ConfigurationRegistry {
	if results == nil {
		results = cache.NewMemory()
	}
	cached := make(map[string]bool, len(cachedPaths))
	for _, p := range cachedPaths {
		if p = models.NormalizePath(p); p != "" {
			cached[strings.ToLower(p)] = true
		}
	}
	return &ConfigurationRegistry{
		configurations: make(map[string]*models.Configuration),
		sysreg:         make(map[string]string),
		connections:    connections,
		results:        results,
		cachedPaths:    cached,
		logger:         logger.Named("configurations"),
	}
}

// Init reads every configuration and SYSREG entry from the default
// connection and swaps them in. When CONFIGURATIONS cannot be read the system
// schema is provisioned and the read repeated.
func (r *ConfigurationRegistry) Init(ctx context.Context) error {
	configurations, err := r.readConfigurations(ctx)
	if err != nil {
		r.logger.Info("CONFIGURATIONS could not be read; provisioning system schema",
			zap.String("error", logging.SanitizeError(err)),
		)
		spec, specErr := r.connections.Spec(models.DefaultConnectionName)
		if specErr != nil {
			return specErr
		}
		if err := database.Provision(spec, r.logger); err != nil {
			return err
		}
		if configurations, err = r.readConfigurations(ctx); err != nil {
			return fmt.Errorf("failed to read configurations: %w", err)
		}
	}

	sysreg, err := r.readSysReg(ctx)
	if err != nil {
		return fmt.Errorf("failed to read SYSREG: %w", err)
	}

	r.mu.Lock()
	r.configurations = configurations
	r.sysreg = sysreg
	r.mu.Unlock()

	r.logger.Info("Configurations initialized",
		zap.Int("configurations", len(configurations)),
		zap.Int("sysreg", len(sysreg)),
	)
	return nil
}

// Refresh re-reads the registry.
func (r *ConfigurationRegistry) Refresh(ctx context.Context) error {
	return r.Init(ctx)
}

func (r *ConfigurationRegistry) readConfigurations(ctx context.Context) (map[string]*models.Configuration, error) {
	c, spec, err := r.connections.Acquire(ctx, models.DefaultConnectionName)
	if err != nil {
		return nil, err
	}
	defer r.connections.release(c, spec.Name)

	rows, err := c.QueryContext(ctx, selectConfigurations)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]*models.Configuration)
	for rows.Next() {
		var connectionName, path, query, insert, update, del, keywords sql.NullString
		if err := rows.Scan(&connectionName, &path, &query, &insert, &update, &del, &keywords); err != nil {
			return nil, fmt.Errorf("failed to scan configuration row: %w", err)
		}
		cfg := &models.Configuration{
			ConnectionName:  connectionName.String,
			Path:            path.String,
			QueryStatement:  query.String,
			InsertStatement: insert.String,
			UpdateStatement: update.String,
			DeleteStatement: del.String,
			Keywords:        keywords.String,
		}
		cfg.Normalize()
		cfg.Cached = r.cachedPaths[strings.ToLower(cfg.Path)]
		result[cfg.Path] = cfg
	}
	return result, rows.Err()
}

func (r *ConfigurationRegistry) readSysReg(ctx context.Context) (map[string]string, error) {
	c, spec, err := r.connections.Acquire(ctx, models.DefaultConnectionName)
	if err != nil {
		return nil, err
	}
	defer r.connections.release(c, spec.Name)

	rows, err := c.QueryContext(ctx, selectSysReg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var code, value sql.NullString
		if err := rows.Scan(&code, &value); err != nil {
			return nil, fmt.Errorf("failed to scan SYSREG row: %w", err)
		}
		result[code.String] = value.String
	}
	return result, rows.Err()
}

// Get returns the configuration for path. The path is normalized first.
func (r *ConfigurationRegistry) Get(path string) (*models.Configuration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configurations[models.NormalizePath(path)]
	return cfg, ok
}

// All returns every configuration sorted by path.
func (r *ConfigurationRegistry) All() []*models.Configuration {
	r.mu.RLock()
	result := make([]*models.Configuration, 0, len(r.configurations))
	for _, cfg := range r.configurations {
		result = append(result, cfg)
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// Filter returns the configurations selected by an export filter, sorted by path.
func (r *ConfigurationRegistry) Filter(filter string) []*models.Configuration {
	var result []*models.Configuration
	for _, cfg := range r.All() {
		if cfg.MatchesFilter(filter) {
			result = append(result, cfg)
		}
	}
	return result
}

// Count returns the number of configurations.
func (r *ConfigurationRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.configurations)
}

// SysReg returns one SYSREG value.
func (r *ConfigurationRegistry) SysReg(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.sysreg[code]
	return v, ok
}

// SysRegEntries returns a copy of the SYSREG map.
func (r *ConfigurationRegistry) SysRegEntries() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]string, len(r.sysreg))
	for k, v := range r.sysreg {
		result[k] = v
	}
	return result
}

// CachedResult returns the last result written through a cached configuration.
func (r *ConfigurationRegistry) CachedResult(ctx context.Context, path string) (string, bool, error) {
	v, err := r.results.Get(ctx, models.NormalizePath(path))
	if errors.Is(err, cache.ErrMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// storeResult replaces the cached result of path.
func (r *ConfigurationRegistry) storeResult(ctx context.Context, path, value string) error {
	return r.results.Set(ctx, models.NormalizePath(path), value)
}

// ClearCache drops every cached result.
func (r *ConfigurationRegistry) ClearCache(ctx context.Context) error {
	return r.results.Clear(ctx)
}
