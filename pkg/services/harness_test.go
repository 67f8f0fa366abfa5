package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/cache"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/crypto"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/directory"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
)

type harnessOptions struct {
	defaults        config.DefaultConnectionConfig
	directory       directory.Provider
	cachedPaths     []string
	screenInjection bool
	credentialsKey  string
	skipInit        bool
}

type harness struct {
	dir            string
	storage        config.StorageConfig
	pools          *datasource.ConnectionManager
	connections    *ConnectionRegistry
	configurations *ConfigurationRegistry
	executor       *Executor
	system         *SystemService
	results        *cache.Memory
	logger         *zap.Logger
}

func newHarness(t *testing.T, opts harnessOptions) *harness {
	t.Helper()

	dir := t.TempDir()
	logger := zaptest.NewLogger(t)
	storage := config.StorageConfig{
		EmbeddedPath:     filepath.Join(dir, "data", "dbServices", "ds.db"),
		EmbeddedUsername: "dsadmin",
		EmbeddedPassword: "dsadmin",
	}

	pools := datasource.NewConnectionManager(datasource.ConnectionManagerConfig{
		PoolMaxConns:    4,
		PoolMinIdle:     1,
		ValidationQuery: "SELECT 1",
	}, logger)
	t.Cleanup(func() { pools.Close() })

	h := &harness{
		dir:     dir,
		storage: storage,
		pools:   pools,
		results: cache.NewMemory(),
		logger:  logger,
	}
	var passwords *crypto.PasswordSealer
	if opts.credentialsKey != "" {
		var err error
		passwords, err = crypto.NewPasswordSealer(opts.credentialsKey)
		require.NoError(t, err)
	}

	h.connections = NewConnectionRegistry(opts.defaults, storage, opts.directory, pools, passwords, logger)
	h.configurations = NewConfigurationRegistry(h.connections, h.results, opts.cachedPaths, logger)
	h.executor = NewExecutor(h.connections, h.configurations, ExecutorOptions{ScreenInjection: opts.screenInjection}, logger)
	h.system = NewSystemService(h.executor, h.configurations, h.connections, logger)

	if !opts.skipInit {
		ctx := context.Background()
		require.NoError(t, h.connections.Init(ctx))
		require.NoError(t, h.configurations.Init(ctx))
	}
	return h
}

// exec runs a statement on a registered connection outside the executor.
func (h *harness) exec(t *testing.T, connection, statement string, args ...any) {
	t.Helper()
	ctx := context.Background()
	conn, _, err := h.connections.Acquire(ctx, connection)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, statement, args...)
	require.NoError(t, err)
}

// count returns SELECT COUNT(*) of table on a registered connection.
func (h *harness) count(t *testing.T, connection, table string) int {
	t.Helper()
	ctx := context.Background()
	conn, _, err := h.connections.Acquire(ctx, connection)
	require.NoError(t, err)
	defer conn.Close()
	var n int
	require.NoError(t, conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// sqliteConnection describes a fresh SQLite file under the harness directory.
func (h *harness) sqliteConnection(name string) *models.Connection {
	return &models.Connection{
		Name:     name,
		Type:     models.ConnectionTypeDriver,
		Driver:   "sqlite",
		URL:      filepath.Join(h.dir, name+".db"),
		Username: "app",
	}
}

// notesConfiguration is a configuration over the NOTES table created by createNotes.
func notesConfiguration() *models.Configuration {
	return &models.Configuration{
		Path:            "/notes",
		ConnectionName:  models.DefaultConnectionName,
		QueryStatement:  "SELECT ID, TITLE, CREATED FROM NOTES ORDER BY ID",
		InsertStatement: "INSERT INTO NOTES (ID, TITLE, CREATED) VALUES (? |l|, ?, ? |t|)",
		UpdateStatement: "UPDATE NOTES SET TITLE = ?",
		DeleteStatement: "DELETE FROM NOTES WHERE ID = ? |l|",
		Keywords:        "notes, demo",
	}
}

func (h *harness) createNotes(t *testing.T) {
	t.Helper()
	h.exec(t, models.DefaultConnectionName, `CREATE TABLE NOTES (ID INTEGER PRIMARY KEY, TITLE TEXT, CREATED TEXT)`)
}
