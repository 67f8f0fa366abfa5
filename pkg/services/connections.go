package services

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	_ "github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource/sqlite"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/crypto"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/database"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/directory"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
)

// EmbeddedDriver is the driver of the embedded bootstrap store.
const EmbeddedDriver = "sqlite"

const (
	selectDefaultConnection = `SELECT NAME, TYPE, JNDI_CONTEXT, JNDI_NAME, JDBC_DRIVER, JDBC_URL, JDBC_USERNAME, JDBC_PASSWORD, DESCRIPTION FROM CONNECTIONS WHERE NAME = 'default'`
	selectOtherConnections  = `SELECT NAME, TYPE, JNDI_CONTEXT, JNDI_NAME, JDBC_DRIVER, JDBC_URL, JDBC_USERNAME, JDBC_PASSWORD, DESCRIPTION FROM CONNECTIONS WHERE NAME != 'default'`
)

// ConnectionRegistry holds the named connections and resolves the default
// connection at startup.
type ConnectionRegistry struct {
	mu          sync.RWMutex
	refreshMu   sync.Mutex
	connections map[string]*models.Connection

	defaults  config.DefaultConnectionConfig
	storage   config.StorageConfig
	directory directory.Provider
	pools     *datasource.ConnectionManager
	passwords *crypto.PasswordSealer // nil stores passwords as plain text
	logger    *zap.Logger
}

// NewConnectionRegistry creates an empty registry. Call Init to populate it.
func NewConnectionRegistry(
	defaults config.DefaultConnectionConfig,
	storage config.StorageConfig,
	dir directory.Provider,
	pools *datasource.ConnectionManager,
	passwords *crypto.PasswordSealer,
	logger *zap.Logger,
) *ConnectionRegistry {
	if dir == nil {
		dir = directory.Empty{}
	}
	return &ConnectionRegistry{
		connections: make(map[string]*models.Connection),
		defaults:    defaults,
		storage:     storage,
		directory:   dir,
		pools:       pools,
		passwords:   passwords,
		logger:      logger.Named("connections"),
	}
}

// Init resolves the default connection and loads every other connection
// from the default connection's CONNECTIONS table. An already initialized
// registry is left untouched.
func (r *ConnectionRegistry) Init(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.connections) > 0 {
		r.logger.Warn("Connection registry already initialized; skipping initialization")
		return nil
	}

	connections, err := r.load(ctx)
	if err != nil {
		return err
	}
	r.connections = connections
	r.logger.Info("Connections initialized", zap.Int("count", len(connections)))
	return nil
}

// load resolves the default connection and reads the others without
// touching the registered set.
func (r *ConnectionRegistry) load(ctx context.Context) (map[string]*models.Connection, error) {
	connections := make(map[string]*models.Connection)

	def, source := r.variableConnection(), "process variables"
	if def == nil {
		def, source = r.directoryConnection(), "directory variables"
	}
	if def == nil {
		embedded, err := r.embeddedDefault(ctx)
		if err != nil {
			return nil, err
		}
		def, source = embedded, "embedded store"
		if !embedded.Internal {
			source = "embedded store indirection"
			internal := r.embeddedConnection()
			internal.Name = models.InternalConnectionName
			connections[internal.Name] = internal
		}
	}
	if def == nil {
		return nil, apperrors.ErrNoDefaultConnection
	}
	connections[models.DefaultConnectionName] = def
	r.logger.Info("Resolved default connection",
		zap.String("source", source),
		zap.Stringer("connection", def),
	)

	others, err := r.readConnections(ctx, def, selectOtherConnections)
	if err != nil {
		r.logger.Error("Failed to load connections from default connection",
			zap.String("error", logging.SanitizeError(err)),
		)
	}
	for _, conn := range others {
		if conn.Name == models.InternalConnectionName && connections[conn.Name] != nil {
			r.logger.Warn("Stored connection shadows the embedded store; keeping the embedded store",
				zap.String("name", conn.Name))
			continue
		}
		if err := conn.Validate(); err != nil {
			r.logger.Warn("Connection was found but is not valid",
				zap.String("name", conn.Name),
				zap.String("error", err.Error()),
			)
		}
		connections[conn.Name] = conn
	}

	for name, conn := range connections {
		r.logger.Debug("Registered connection", zap.String("name", name), zap.Stringer("connection", conn))
	}
	return connections, nil
}

// variableConnection builds the default connection from process variables.
// The candidate is only used when a type is set and it validates.
func (r *ConnectionRegistry) variableConnection() *models.Connection {
	d := r.defaults
	if strings.TrimSpace(d.Type) == "" {
		return nil
	}
	conn := &models.Connection{
		Name:         models.DefaultConnectionName,
		Type:         d.Type,
		ContextPath:  d.ContextPath,
		ResourceName: d.ResourceName,
		Driver:       d.Driver,
		URL:          d.URL,
		Username:     d.Username,
		Password:     d.Password,
		Description:  d.Description,
	}
	if err := conn.Validate(); err != nil {
		r.logger.Warn("Ignoring default connection from process variables", zap.String("error", err.Error()))
		return nil
	}
	return conn
}

// directoryConnection builds the default connection from the lower-case
// variables of the directory provider.
func (r *ConnectionRegistry) directoryConnection() *models.Connection {
	found := false
	get := func(name string) string {
		v, ok := r.directory.Variable(name)
		found = found || ok
		return v
	}
	conn := &models.Connection{
		Name:         models.DefaultConnectionName,
		Type:         get("dsc_type"),
		ContextPath:  get("dsc_jndi_context"),
		ResourceName: get("dsc_jndi_datasource"),
		Driver:       get("dsc_jdbc_driver"),
		URL:          get("dsc_jdbc_url"),
		Username:     get("dsc_jdbc_user_name"),
		Password:     get("dsc_jdbc_password"),
		Description:  get("dsc_description"),
	}
	if !found {
		return nil
	}
	if err := conn.Validate(); err != nil {
		r.logger.Warn("Ignoring default connection from directory variables", zap.String("error", err.Error()))
		return nil
	}
	return conn
}

// embeddedConnection describes the embedded bootstrap store.
func (r *ConnectionRegistry) embeddedConnection() *models.Connection {
	return &models.Connection{
		Name:        models.DefaultConnectionName,
		Type:        models.ConnectionTypeDriver,
		Driver:      EmbeddedDriver,
		URL:         r.storage.EmbeddedPath,
		Username:    r.storage.EmbeddedUsername,
		Password:    r.storage.EmbeddedPassword,
		Description: "system default file connection",
		Internal:    true,
	}
}

// embeddedDefault opens the embedded store, provisioning its schema when the
// CONNECTIONS table cannot be read, and follows a stored default row when
// one exists and validates.
func (r *ConnectionRegistry) embeddedDefault(ctx context.Context) (*models.Connection, error) {
	embedded := r.embeddedConnection()
	if err := embedded.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrNoDefaultConnection, err)
	}
	if dir := filepath.Dir(embedded.URL); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("%w: failed to create %s: %v", apperrors.ErrNoDefaultConnection, dir, err)
		}
	}

	// Queries against the embedded store use their own pool name so the
	// pool is not replaced when the default is redirected.
	probe := *embedded
	probe.Name = models.InternalConnectionName

	rows, err := r.readConnections(ctx, &probe, selectDefaultConnection)
	if err != nil {
		r.logger.Info("Embedded store has no readable CONNECTIONS table; provisioning system schema",
			zap.String("path", embedded.URL),
			zap.String("error", logging.SanitizeError(err)),
		)
		spec, _ := r.specFor(&probe)
		// The provisioning handle is separate from the pool.
		r.pools.Remove(probe.Name)
		if err := database.Provision(spec, r.logger); err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrNoDefaultConnection, err)
		}
		if rows, err = r.readConnections(ctx, &probe, selectDefaultConnection); err != nil {
			return nil, fmt.Errorf("%w: %v", apperrors.ErrNoDefaultConnection, logging.SanitizeError(err))
		}
	}

	r.pools.Remove(probe.Name)
	if len(rows) == 0 {
		return embedded, nil
	}
	external := rows[0]
	if err := external.Validate(); err != nil {
		r.logger.Warn("Stored default connection is not valid; using the embedded store",
			zap.String("error", err.Error()))
		return embedded, nil
	}
	return external, nil
}

// readConnections runs one of the CONNECTIONS selects through conn.
func (r *ConnectionRegistry) readConnections(ctx context.Context, conn *models.Connection, query string) ([]*models.Connection, error) {
	spec, err := r.specFor(conn)
	if err != nil {
		return nil, err
	}
	c, err := r.pools.Acquire(ctx, spec)
	if err != nil {
		return nil, err
	}
	defer r.release(c, spec.Name)

	rows, err := c.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.Connection
	for rows.Next() {
		var name, typ, jndiContext, jndiName, driver, url, username, password, description sql.NullString
		if err := rows.Scan(&name, &typ, &jndiContext, &jndiName, &driver, &url, &username, &password, &description); err != nil {
			return nil, fmt.Errorf("failed to scan connection row: %w", err)
		}
		result = append(result, &models.Connection{
			Name:         name.String,
			Type:         typ.String,
			ContextPath:  jndiContext.String,
			ResourceName: jndiName.String,
			Driver:       driver.String,
			URL:          url.String,
			Username:     username.String,
			Password:     r.openPassword(name.String, password.String),
			Description:  description.String,
		})
	}
	return result, rows.Err()
}

// openPassword returns the plain text of a stored password. A sealed value
// that cannot be opened yields an empty password.
func (r *ConnectionRegistry) openPassword(name, stored string) string {
	if !crypto.IsSealed(stored) {
		return stored
	}
	if r.passwords == nil {
		r.logger.Warn("Stored password is sealed but no credentials key is configured", zap.String("connection", name))
		return ""
	}
	plain, err := r.passwords.Open(stored)
	if err != nil {
		r.logger.Warn("Failed to open stored password", zap.String("connection", name), zap.Error(err))
		return ""
	}
	return plain
}

// SealPassword returns password in the form it is stored in CONNECTIONS.
func (r *ConnectionRegistry) SealPassword(password string) (string, error) {
	if r.passwords == nil {
		return password, nil
	}
	return r.passwords.Seal(password)
}

func (r *ConnectionRegistry) release(c *sql.Conn, name string) {
	if err := c.Close(); err != nil {
		r.logger.Warn("Failed to release connection",
			zap.String("connection", name),
			zap.String("error", logging.SanitizeError(err)),
		)
	}
}

// Destroy closes every pool and empties the registry.
func (r *ConnectionRegistry) Destroy() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pools.RemoveAll()
	r.connections = make(map[string]*models.Connection)
	r.logger.Info("Connections destroyed")
}

// Refresh reloads every connection and swaps the new set in at once.
// Readers keep seeing the previous set until the swap. Pools are closed
// afterwards and reopen on next use. A failed reload keeps the previous set.
func (r *ConnectionRegistry) Refresh(ctx context.Context) error {
	r.refreshMu.Lock()
	defer r.refreshMu.Unlock()

	connections, err := r.load(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.connections = connections
	r.mu.Unlock()

	r.pools.RemoveAll()
	r.logger.Info("Connections refreshed", zap.Int("count", len(connections)))
	return nil
}

// Get returns the named connection.
func (r *ConnectionRegistry) Get(name string) (*models.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[name]
	return conn, ok
}

// Has reports whether a connection with the given name is registered.
func (r *ConnectionRegistry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Default returns the default connection, or nil before Init.
func (r *ConnectionRegistry) Default() *models.Connection {
	conn, _ := r.Get(models.DefaultConnectionName)
	return conn
}

// Names returns the registered connection names in sorted order.
func (r *ConnectionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.connections))
	for name := range r.connections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns the registered connections sorted by name.
func (r *ConnectionRegistry) All() []*models.Connection {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]*models.Connection, 0, len(names))
	for _, name := range names {
		if conn, ok := r.connections[name]; ok {
			result = append(result, conn)
		}
	}
	return result
}

// Count returns the number of registered connections.
func (r *ConnectionRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Spec resolves a registered connection into what the pool manager needs.
func (r *ConnectionRegistry) Spec(name string) (datasource.ConnectionSpec, error) {
	conn, ok := r.Get(name)
	if !ok {
		return datasource.ConnectionSpec{}, fmt.Errorf("%w: [%s]", apperrors.ErrConnectionUnresolved, name)
	}
	if err := conn.Validate(); err != nil {
		return datasource.ConnectionSpec{}, fmt.Errorf("%w: %v", apperrors.ErrConnectionInvalid, err)
	}
	spec, err := r.specFor(conn)
	if err != nil {
		return datasource.ConnectionSpec{}, fmt.Errorf("%w: %w", apperrors.ErrConnectionInvalid, err)
	}
	return spec, nil
}

// specFor turns a connection into a driver spec, resolving directory
// lookups through the directory provider.
func (r *ConnectionRegistry) specFor(conn *models.Connection) (datasource.ConnectionSpec, error) {
	if !conn.IsDirectory() {
		return datasource.ConnectionSpec{
			Name:     conn.Name,
			Driver:   conn.Driver,
			URL:      conn.URL,
			Username: conn.Username,
			Password: conn.Password,
		}, nil
	}

	res, err := r.directory.Resource(conn.ContextPath, conn.ResourceName)
	if err != nil {
		return datasource.ConnectionSpec{}, fmt.Errorf("connection %q: %w", conn.Name, err)
	}
	return datasource.ConnectionSpec{
		Name:     conn.Name,
		Driver:   res.Driver,
		URL:      res.URL,
		Username: res.Username,
		Password: res.Password,
	}, nil
}

// Acquire borrows a pooled connection for name. The caller must Close it.
func (r *ConnectionRegistry) Acquire(ctx context.Context, name string) (*sql.Conn, datasource.ConnectionSpec, error) {
	spec, err := r.Spec(name)
	if err != nil {
		return nil, spec, err
	}
	c, err := r.pools.Acquire(ctx, spec)
	if err != nil {
		return nil, spec, fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
	}
	return c, spec, nil
}

// Test borrows and releases a connection of a registered name.
func (r *ConnectionRegistry) Test(ctx context.Context, name string) error {
	spec, err := r.Spec(name)
	if err != nil {
		return err
	}
	return r.pools.Test(ctx, spec)
}

// TestConnection checks a connection that need not be registered. No pool
// is kept for it.
func (r *ConnectionRegistry) TestConnection(ctx context.Context, conn *models.Connection) error {
	if err := conn.Validate(); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrConnectionInvalid, err)
	}
	spec, err := r.specFor(conn)
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrConnectionInvalid, err)
	}
	if err := datasource.Ping(ctx, spec); err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
	}
	return nil
}

// PoolStats reports the pool manager state.
func (r *ConnectionRegistry) PoolStats() datasource.ConnectionStats {
	return r.pools.GetStats()
}
