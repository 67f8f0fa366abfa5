package datasource

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/retry"
)

const (
	DefaultCleanupInterval = 1 * time.Minute
	DefaultPoolMaxConns    = 100
	DefaultPoolMinIdle     = 10
	DefaultIdleTimeout     = 30 * time.Second
	DefaultMaxLifetime     = 60 * time.Second
)

// ConnectionManagerConfig holds configuration for the connection manager
type ConnectionManagerConfig struct {
	// TTLMinutes closes whole pools unused for this long. Zero disables the cleanup loop.
	TTLMinutes      int
	PoolMaxConns    int
	PoolMinIdle     int
	IdleTimeout     time.Duration
	MaxLifetime     time.Duration
	ValidationQuery string
}

// ConnectionManager owns one lazily created *sql.DB pool per named
// connection and hands out exclusive *sql.Conn leases from it.
type ConnectionManager struct {
	mu              sync.RWMutex
	pools           map[string]*ManagedPool // key: connection name
	ttl             time.Duration
	poolMaxConns    int
	poolMinIdle     int
	idleTimeout     time.Duration
	maxLifetime     time.Duration
	validationQuery string
	stopped         bool
	stopChan        chan struct{}
	logger          *zap.Logger
}

// ManagedPool is a pool plus the spec it was opened with.
type ManagedPool struct {
	db          *sql.DB
	driver      string
	fingerprint string
	lastUsed    time.Time
	mu          sync.Mutex
}

// NewConnectionManager creates a connection manager with the given configuration.
// When TTLMinutes is positive a background cleanup goroutine runs until Close() is called.
func NewConnectionManager(cfg ConnectionManagerConfig, logger *zap.Logger) *ConnectionManager {
	if cfg.PoolMaxConns <= 0 {
		cfg.PoolMaxConns = DefaultPoolMaxConns
	}
	if cfg.PoolMinIdle < 0 {
		cfg.PoolMinIdle = DefaultPoolMinIdle
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = DefaultMaxLifetime
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	manager := &ConnectionManager{
		pools:           make(map[string]*ManagedPool),
		ttl:             time.Duration(cfg.TTLMinutes) * time.Minute,
		poolMaxConns:    cfg.PoolMaxConns,
		poolMinIdle:     cfg.PoolMinIdle,
		idleTimeout:     cfg.IdleTimeout,
		maxLifetime:     cfg.MaxLifetime,
		validationQuery: cfg.ValidationQuery,
		stopChan:        make(chan struct{}),
		logger:          logger.Named("pools"),
	}

	if manager.ttl > 0 {
		go manager.cleanupExpiredPools()
	}
	return manager
}

// Acquire borrows an exclusive connection for spec, creating the pool on
// first use. The borrowed connection is validated before it is returned.
// The caller must Close the returned connection.
func (m *ConnectionManager) Acquire(ctx context.Context, spec ConnectionSpec) (*sql.Conn, error) {
	db, err := m.pool(spec)
	if err != nil {
		return nil, err
	}
	return m.borrow(ctx, spec, db)
}

// borrow leases a validated connection from db. A pool closed between
// lookup and borrow by Remove or the TTL cleanup is looked up again once.
func (m *ConnectionManager) borrow(ctx context.Context, spec ConnectionSpec, db *sql.DB) (*sql.Conn, error) {
	reopened := false
	conn, err := retry.DoWithResult(ctx, retry.BorrowConfig(), func() (*sql.Conn, error) {
		c, err := db.Conn(ctx)
		if err != nil && isClosedPool(err) && !reopened {
			reopened = true
			m.logger.Debug("pool closed during borrow, reopening", zap.String("connection", spec.Name))
			fresh, poolErr := m.pool(spec)
			if poolErr != nil {
				return nil, poolErr
			}
			db = fresh
			c, err = db.Conn(ctx)
		}
		if err != nil {
			return nil, err
		}
		if err := m.validate(ctx, c); err != nil {
			if closeErr := c.Close(); closeErr != nil {
				m.logger.Warn("failed to close invalid connection",
					zap.String("connection", spec.Name),
					zap.String("error", logging.SanitizeError(closeErr)),
				)
			}
			return nil, err
		}
		return c, nil
	})
	if err != nil {
		m.logger.Error("failed to borrow connection",
			zap.String("connection", spec.Name),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to borrow connection %s: %w", spec.Name, err)
	}
	return conn, nil
}

func isClosedPool(err error) bool {
	return strings.Contains(err.Error(), "sql: database is closed")
}

// Test borrows and immediately releases a connection for spec.
func (m *ConnectionManager) Test(ctx context.Context, spec ConnectionSpec) error {
	conn, err := m.Acquire(ctx, spec)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (m *ConnectionManager) validate(ctx context.Context, c *sql.Conn) error {
	if m.validationQuery == "" {
		return c.PingContext(ctx)
	}
	var discard any
	return c.QueryRowContext(ctx, m.validationQuery).Scan(&discard)
}

// pool returns the pool for spec, creating it on first use or replacing it
// when the spec's settings changed since it was opened.
func (m *ConnectionManager) pool(spec ConnectionSpec) (*sql.DB, error) {
	fp := spec.fingerprint()

	// Fast path with read lock
	m.mu.RLock()
	if m.stopped {
		m.mu.RUnlock()
		return nil, fmt.Errorf("connection manager is closed")
	}
	managed, exists := m.pools[spec.Name]
	m.mu.RUnlock()

	if exists && managed.fingerprint == fp {
		managed.mu.Lock()
		managed.lastUsed = time.Now()
		managed.mu.Unlock()
		return managed.db, nil
	}

	return m.createPool(spec, fp)
}

// createPool opens a new pool for spec.
// Caller must NOT hold any locks (this method acquires write lock).
func (m *ConnectionManager) createPool(spec ConnectionSpec, fp string) (*sql.DB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, fmt.Errorf("connection manager is closed")
	}

	// Double-check after acquiring write lock (another goroutine may have created it)
	if managed, exists := m.pools[spec.Name]; exists {
		if managed.fingerprint == fp {
			managed.mu.Lock()
			defer managed.mu.Unlock()
			managed.lastUsed = time.Now()
			return managed.db, nil
		}
		m.logger.Info("connection settings changed, replacing pool", zap.String("connection", spec.Name))
		m.closePool(spec.Name, managed)
		delete(m.pools, spec.Name)
	}

	reg, ok := Lookup(spec.Driver)
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q for connection %s (not compiled in)", spec.Driver, spec.Name)
	}

	db, err := retry.DoWithResult(context.Background(), retry.DefaultConfig(), func() (*sql.DB, error) {
		return reg.Open(spec)
	})
	if err != nil {
		m.logger.Error("failed to create pool after retries",
			zap.String("connection", spec.Name),
			zap.String("driver", reg.Info.Type),
			zap.String("url", logging.SanitizeConnectionString(spec.URL)),
			zap.String("error", logging.SanitizeError(err)),
		)
		return nil, fmt.Errorf("failed to create pool for %s: %w", spec.Name, err)
	}

	db.SetMaxOpenConns(m.poolMaxConns)
	db.SetMaxIdleConns(m.poolMinIdle)
	db.SetConnMaxIdleTime(m.idleTimeout)
	db.SetConnMaxLifetime(m.maxLifetime)

	m.pools[spec.Name] = &ManagedPool{
		db:          db,
		driver:      reg.Info.Type,
		fingerprint: fp,
		lastUsed:    time.Now(),
	}

	m.logger.Info("created new connection pool",
		zap.String("connection", spec.Name),
		zap.String("driver", reg.Info.Type),
		zap.String("url", logging.SanitizeConnectionString(spec.URL)),
		zap.Int("max_open", m.poolMaxConns),
	)
	return db, nil
}

// closePool closes a pool, logging instead of returning errors.
func (m *ConnectionManager) closePool(name string, managed *ManagedPool) {
	if managed == nil || managed.db == nil {
		return
	}
	if err := managed.db.Close(); err != nil {
		m.logger.Warn("failed to close pool",
			zap.String("connection", name),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// Remove closes and forgets the pool of one connection. A connection
// without a pool is a no-op.
func (m *ConnectionManager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if managed, exists := m.pools[name]; exists {
		m.closePool(name, managed)
		delete(m.pools, name)
		m.logger.Debug("removed pool", zap.String("connection", name))
	}
}

// RemoveAll closes every pool but keeps the manager usable.
func (m *ConnectionManager) RemoveAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for name, managed := range m.pools {
		m.closePool(name, managed)
	}
	if len(m.pools) > 0 {
		m.logger.Info("closed all pools", zap.Int("count", len(m.pools)))
	}
	m.pools = make(map[string]*ManagedPool)
}

// cleanupExpiredPools runs periodically to remove pools unused past TTL.
// Runs in a background goroutine until stopChan is closed.
func (m *ConnectionManager) cleanupExpiredPools() {
	ticker := time.NewTicker(DefaultCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.stopChan:
			return
		}
	}
}

// performCleanup removes pools that haven't been used within TTL.
// Lock ordering: manager lock, then pool lock.
func (m *ConnectionManager) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped || m.ttl <= 0 {
		return
	}

	now := time.Now()
	var expired []string
	for name, managed := range m.pools {
		managed.mu.Lock()
		idle := now.Sub(managed.lastUsed)
		managed.mu.Unlock()

		if idle > m.ttl {
			expired = append(expired, name)
			m.logger.Debug("marking pool for cleanup",
				zap.String("connection", name),
				zap.Duration("idleTime", idle),
				zap.Duration("ttl", m.ttl),
			)
		}
	}

	for _, name := range expired {
		m.closePool(name, m.pools[name])
		delete(m.pools, name)
	}

	if len(expired) > 0 {
		m.logger.Info("cleaned up expired pools",
			zap.Int("count", len(expired)),
			zap.Int("remaining", len(m.pools)),
		)
	}
}

// Close closes all pools and stops the cleanup goroutine.
// This method is idempotent and safe to call multiple times.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil
	}

	m.stopped = true
	close(m.stopChan)

	for name, managed := range m.pools {
		m.closePool(name, managed)
	}
	m.pools = make(map[string]*ManagedPool)
	m.logger.Info("connection manager closed")
	return nil
}

// HasPool reports whether a pool has been provisioned for name.
func (m *ConnectionManager) HasPool(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.pools[name]
	return ok
}

// GetStats returns statistics about the connection manager.
// Safe to call concurrently.
func (m *ConnectionManager) GetStats() ConnectionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	stats := ConnectionStats{
		TotalPools:   len(m.pools),
		TTLMinutes:   int(m.ttl.Minutes()),
		PoolsByType:  make(map[string]int),
		Pools:        make([]PoolStats, 0, len(m.pools)),
		MaxOpenConns: m.poolMaxConns,
	}

	for name, managed := range m.pools {
		stats.PoolsByType[managed.driver]++

		managed.mu.Lock()
		idleSeconds := int(now.Sub(managed.lastUsed).Seconds())
		managed.mu.Unlock()
		if idleSeconds > stats.OldestIdleSeconds {
			stats.OldestIdleSeconds = idleSeconds
		}

		dbStats := managed.db.Stats()
		stats.Pools = append(stats.Pools, PoolStats{
			Name:        name,
			Driver:      managed.driver,
			Open:        dbStats.OpenConnections,
			InUse:       dbStats.InUse,
			Idle:        dbStats.Idle,
			IdleSeconds: idleSeconds,
		})
	}
	sort.Slice(stats.Pools, func(i, j int) bool { return stats.Pools[i].Name < stats.Pools[j].Name })

	return stats
}

// ConnectionStats contains statistics about the connection manager state.
type ConnectionStats struct {
	TotalPools        int            `json:"total_pools"`
	MaxOpenConns      int            `json:"max_open_conns"`
	TTLMinutes        int            `json:"ttl_minutes"`
	PoolsByType       map[string]int `json:"pools_by_type"`
	OldestIdleSeconds int            `json:"oldest_idle_seconds"`
	Pools             []PoolStats    `json:"pools"`
}

// PoolStats describes one named pool.
type PoolStats struct {
	Name        string `json:"name"`
	Driver      string `json:"driver"`
	Open        int    `json:"open"`
	InUse       int    `json:"in_use"`
	Idle        int    `json:"idle"`
	IdleSeconds int    `json:"idle_seconds"`
}
