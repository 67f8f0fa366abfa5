package services

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/database"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/directory"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
)

func TestConnectionRegistry_EmbeddedBootstrap(t *testing.T) {
	h := newHarness(t, harnessOptions{})

	def := h.connections.Default()
	require.NotNil(t, def)
	assert.True(t, def.Internal)
	assert.Equal(t, h.storage.EmbeddedPath, def.URL)
	assert.Equal(t, "dsadmin", def.Username)
	assert.Equal(t, []string{"default"}, h.connections.Names())

	_, err := os.Stat(h.storage.EmbeddedPath)
	require.NoError(t, err, "embedded store and its directories are created")

	// Schema was self-provisioned with both system configurations
	assert.Equal(t, 2, h.count(t, "default", "CONFIGURATIONS"))
	_, ok := h.configurations.Get("/configurations")
	assert.True(t, ok)
	_, ok = h.configurations.Get("connections")
	assert.True(t, ok)
	v, ok := h.configurations.SysReg("DB_VERSION")
	assert.True(t, ok)
	assert.Equal(t, "1.0.0", v)
}

func TestConnectionRegistry_InitTwiceIsNoop(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	before := h.connections.Default()

	require.NoError(t, h.connections.Init(context.Background()))
	assert.Same(t, before, h.connections.Default())
}

func TestConnectionRegistry_FallbackOrder(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "env.db")
	directoryFile := filepath.Join(dir, "directory.db")

	validEnv := config.DefaultConnectionConfig{
		Type:     "jdbc",
		Driver:   "sqlite",
		URL:      envFile,
		Username: "env",
	}
	invalidEnv := config.DefaultConnectionConfig{
		Type:   "jdbc",
		Driver: "sqlite",
	}
	untypedEnv := validEnv
	untypedEnv.Type = ""

	dirProvider, err := directory.Parse([]byte(`
variables:
  dsc_type: jdbc
  dsc_jdbc_driver: sqlite
  dsc_jdbc_url: ` + directoryFile + `
  dsc_jdbc_user_name: dir
`))
	require.NoError(t, err)

	tests := []struct {
		name         string
		defaults     config.DefaultConnectionConfig
		directory    directory.Provider
		wantURL      string
		wantInternal bool
	}{
		{"process variables win", validEnv, dirProvider, envFile, false},
		{"invalid process variables fall through to directory", invalidEnv, dirProvider, directoryFile, false},
		{"untyped process variables are ignored", untypedEnv, dirProvider, directoryFile, false},
		{"embedded store is the last resort", config.DefaultConnectionConfig{}, directory.Empty{}, "", true},
		{"invalid directory variables fall through", invalidEnv, mustParse(t, "variables: {dsc_jdbc_driver: sqlite}"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, harnessOptions{defaults: tt.defaults, directory: tt.directory, skipInit: true})
			require.NoError(t, h.connections.Init(context.Background()))

			def := h.connections.Default()
			require.NotNil(t, def)
			assert.Equal(t, tt.wantInternal, def.Internal)
			if tt.wantInternal {
				assert.Equal(t, h.storage.EmbeddedPath, def.URL)
			} else {
				assert.Equal(t, tt.wantURL, def.URL)
			}
			assert.False(t, h.connections.Has(models.InternalConnectionName))
		})
	}
}

func mustParse(t *testing.T, doc string) directory.Provider {
	t.Helper()
	p, err := directory.Parse([]byte(doc))
	require.NoError(t, err)
	return p
}

func TestConnectionRegistry_EmbeddedIndirection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{skipInit: true})
	require.NoError(t, os.MkdirAll(filepath.Dir(h.storage.EmbeddedPath), 0o750))

	external := h.sqliteConnection("external")
	logger := zaptest.NewLogger(t)

	// The embedded store points at the external database
	embeddedSpec := datasource.ConnectionSpec{Name: "seed", Driver: "sqlite", URL: h.storage.EmbeddedPath}
	require.NoError(t, database.Provision(embeddedSpec, logger))
	seedRow(t, embeddedSpec, `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER, JDBC_URL, JDBC_USERNAME, JDBC_PASSWORD, DESCRIPTION) VALUES ('default', 'jdbc', 'sqlite', ?, 'ext', 'pw', 'external default')`, external.URL)

	// The external database carries the remaining connections
	externalSpec := datasource.ConnectionSpec{Name: "seed-external", Driver: "sqlite", URL: external.URL}
	require.NoError(t, database.Provision(externalSpec, logger))
	seedRow(t, externalSpec, `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER, JDBC_URL, JDBC_USERNAME) VALUES ('reports', 'jdbc', 'sqlite', ?, 'r')`, filepath.Join(h.dir, "reports.db"))
	seedRow(t, externalSpec, `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER) VALUES ('broken', 'jdbc', 'sqlite')`)

	require.NoError(t, h.connections.Init(ctx))

	def := h.connections.Default()
	require.NotNil(t, def)
	assert.False(t, def.Internal)
	assert.Equal(t, external.URL, def.URL)
	assert.Equal(t, "ext", def.Username)
	assert.Equal(t, "pw", def.Password)

	internal, ok := h.connections.Get(models.InternalConnectionName)
	require.True(t, ok, "embedded store stays addressable")
	assert.True(t, internal.Internal)
	assert.Equal(t, h.storage.EmbeddedPath, internal.URL)

	// Invalid rows are registered too
	assert.Equal(t, []string{"broken", "default", "internal", "reports"}, h.connections.Names())
	broken, _ := h.connections.Get("broken")
	assert.False(t, broken.IsValid())

	_, err := h.connections.Spec("broken")
	assert.ErrorIs(t, err, apperrors.ErrConnectionInvalid)
	_, err = h.connections.Spec("missing")
	assert.ErrorIs(t, err, apperrors.ErrConnectionUnresolved)

	require.NoError(t, h.connections.Test(ctx, "reports"))
}

func TestConnectionRegistry_InvalidStoredDefaultKeepsEmbedded(t *testing.T) {
	h := newHarness(t, harnessOptions{skipInit: true})
	require.NoError(t, os.MkdirAll(filepath.Dir(h.storage.EmbeddedPath), 0o750))

	spec := datasource.ConnectionSpec{Name: "seed", Driver: "sqlite", URL: h.storage.EmbeddedPath}
	require.NoError(t, database.Provision(spec, zaptest.NewLogger(t)))
	seedRow(t, spec, `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER) VALUES ('default', 'jdbc', 'sqlite')`)

	require.NoError(t, h.connections.Init(context.Background()))
	assert.True(t, h.connections.Default().Internal)
	assert.False(t, h.connections.Has(models.InternalConnectionName))
}

func TestConnectionRegistry_NoDefault(t *testing.T) {
	h := newHarness(t, harnessOptions{skipInit: true})
	h.connections.storage.EmbeddedPath = ""

	err := h.connections.Init(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoDefaultConnection)
	assert.Zero(t, h.connections.Count())
}

func TestConnectionRegistry_DirectoryLookupConnection(t *testing.T) {
	dir := t.TempDir()
	notes := filepath.Join(dir, "notes.db")
	provider := mustParse(t, `
contexts:
  "java:comp/env":
    jdbc/notes: {driver: sqlite, url: `+notes+`, username: app}
`)
	h := newHarness(t, harnessOptions{directory: provider})
	h.exec(t, "default", `INSERT INTO CONNECTIONS (NAME, TYPE, JNDI_NAME, JNDI_CONTEXT) VALUES ('notes', 'jndi', 'jdbc/notes', '')`)
	h.exec(t, "default", `INSERT INTO CONNECTIONS (NAME, TYPE, JNDI_NAME) VALUES ('ghost', 'jndi', 'jdbc/ghost')`)
	require.NoError(t, h.connections.Refresh(context.Background()))

	spec, err := h.connections.Spec("notes")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", spec.Driver)
	assert.Equal(t, notes, spec.URL)
	assert.Equal(t, "notes", spec.Name)

	_, err = h.connections.Spec("ghost")
	assert.ErrorIs(t, err, apperrors.ErrConnectionInvalid)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestConnectionRegistry_DestroyClosesPools(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	assert.True(t, h.pools.HasPool("default"))

	h.connections.Destroy()
	assert.Zero(t, h.connections.Count())
	assert.False(t, h.pools.HasPool("default"))
	assert.Nil(t, h.connections.Default())

	// Destroying an empty registry is harmless
	h.connections.Destroy()

	require.NoError(t, h.connections.Init(ctx))
	require.NoError(t, h.connections.Test(ctx, "default"))
	assert.True(t, h.pools.HasPool("default"))
}

func TestConnectionRegistry_RefreshNeverExposesEmptyRegistry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.exec(t, "default", `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER, JDBC_URL, JDBC_USERNAME) VALUES ('reports', 'jdbc', 'sqlite', ?, 'r')`,
		h.sqliteConnection("reports").URL)
	require.NoError(t, h.connections.Refresh(ctx))

	done := make(chan struct{})
	missing := make(chan string, 1)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			for _, name := range []string{"default", "reports"} {
				if !h.connections.Has(name) {
					select {
					case missing <- name:
					default:
					}
				}
			}
		}
	}()

	for i := 0; i < 20; i++ {
		require.NoError(t, h.connections.Refresh(ctx))
	}
	close(done)
	wg.Wait()

	select {
	case name := <-missing:
		t.Fatalf("connection %q was missing during refresh", name)
	default:
	}
	require.NoError(t, h.connections.Test(ctx, "reports"))
}

func TestConnectionRegistry_FailedRefreshKeepsConnections(t *testing.T) {
	h := newHarness(t, harnessOptions{})
	h.connections.storage.EmbeddedPath = ""

	err := h.connections.Refresh(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNoDefaultConnection)
	assert.True(t, h.connections.Has("default"))
}

func TestConnectionRegistry_TestConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})

	require.NoError(t, h.connections.TestConnection(ctx, h.sqliteConnection("scratch")))
	assert.False(t, h.pools.HasPool("scratch"), "tested connections are not pooled")

	err := h.connections.TestConnection(ctx, &models.Connection{Name: "x", Driver: "sqlite"})
	assert.ErrorIs(t, err, apperrors.ErrConnectionInvalid)

	err = h.connections.TestConnection(ctx, &models.Connection{Name: "x", Driver: "oracle", URL: "u", Username: "u"})
	assert.ErrorIs(t, err, apperrors.ErrExecutionFailure)
}

func seedRow(t *testing.T, spec datasource.ConnectionSpec, statement string, args ...any) {
	t.Helper()
	reg, ok := datasource.Lookup(spec.Driver)
	require.True(t, ok)
	db, err := reg.Open(spec)
	require.NoError(t, err)
	defer db.Close()
	_, err = db.Exec(statement, args...)
	require.NoError(t, err)
}
