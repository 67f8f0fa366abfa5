package services

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/params"
)

func TestExecutor_InsertThenQuery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	got, err := h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, "[]", got)

	got, err = h.executor.Execute(ctx, cfg, models.ActionInsert,
		params.FromPairs("id", "1", "title", "first\r\nsecond", "created", ""))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"1"}`, got)

	got, err = h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","title":"first\nsecond","created":null}]`, got)

	var rows []map[string]*string
	require.NoError(t, json.Unmarshal([]byte(got), &rows))
	assert.Equal(t, "first\nsecond", *rows[0]["title"])
}

func TestExecutor_ActionNamesIgnoreCase(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	got, err := h.executor.Execute(ctx, cfg, models.Action("Insert"),
		params.FromPairs("id", "1", "title", "first", "created", ""))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"1"}`, got)

	got, err = h.executor.Execute(ctx, cfg, models.Action("QUERY"), nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","title":"first","created":null}]`, got)

	_, err = h.executor.Execute(ctx, cfg, models.Action("upsert"), nil)
	assert.ErrorIs(t, err, apperrors.ErrUnknownAction)
}

func TestExecutor_BindsByArrivalOrderNotName(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	// Names do not match the columns; only order matters. Surplus keys are ignored.
	_, err := h.executor.Execute(ctx, cfg, models.ActionInsert,
		params.FromPairs("z", "7", "a", "seven", "m", "2024-01-02", "extra", "ignored"))
	require.NoError(t, err)

	got, err := h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.NoError(t, err)
	assert.Contains(t, got, `"id":"7","title":"seven"`)
	assert.NotContains(t, got, `"created":null`)
}

func TestExecutor_ParameterCountMismatch(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	_, err := h.executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", "1", "title", "x"))
	require.ErrorIs(t, err, apperrors.ErrParameterCountMismatch)
	assert.Contains(t, err.Error(), "expected 3 but found 2")
	assert.True(t, apperrors.IsDataError(err))
	assert.Equal(t, 0, h.count(t, "default", "NOTES"))
}

func TestExecutor_UnparseableNumberBindsZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	_, err := h.executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", "abc", "title", "t", "created", "not a date"))
	require.NoError(t, err)

	got, err := h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"0","title":"t","created":null}]`, got)
}

func TestExecutor_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	for _, id := range []string{"1", "2"} {
		_, err := h.executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", id, "title", "t", "created", ""))
		require.NoError(t, err)
	}

	got, err := h.executor.Execute(ctx, cfg, models.ActionUpdate, params.FromPairs("title", "renamed"))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"2"}`, got)

	got, err = h.executor.Execute(ctx, cfg, models.ActionDelete, params.FromPairs("id", "1"))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"1"}`, got)

	got, err = h.executor.Execute(ctx, cfg, models.ActionDelete, params.FromPairs("id", "99"))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"0"}`, got)
}

func TestExecutor_Rejections(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)

	writeOnly := &models.Configuration{Path: "/audit", InsertStatement: "INSERT INTO NOTES (ID) VALUES (?)"}
	writeOnly.Normalize()
	unknownConn := notesConfiguration()
	unknownConn.ConnectionName = "nowhere"

	tests := []struct {
		name    string
		cfg     *models.Configuration
		action  models.Action
		wantErr error
	}{
		{"unknown action", notesConfiguration(), models.Action("merge"), apperrors.ErrUnknownAction},
		{"query on non-queryable", writeOnly, models.ActionQuery, apperrors.ErrNotQueryable},
		{"missing template", writeOnly, models.ActionDelete, apperrors.ErrMissingTemplate},
		{"unknown connection", unknownConn, models.ActionQuery, apperrors.ErrConnectionUnresolved},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.executor.Execute(ctx, tt.cfg, tt.action, params.New())
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, apperrors.IsDataError(err))
		})
	}
}

func TestExecutor_InvalidConnection(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.exec(t, "default", `INSERT INTO CONNECTIONS (NAME, TYPE, JDBC_DRIVER) VALUES ('broken', 'jdbc', 'sqlite')`)
	require.NoError(t, h.connections.Refresh(ctx))

	cfg := notesConfiguration()
	cfg.ConnectionName = "broken"
	_, err := h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	assert.ErrorIs(t, err, apperrors.ErrConnectionInvalid)
}

func TestExecutor_ExecutionFailureKeepsDriverMessage(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	cfg := notesConfiguration()

	_, err := h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.ErrorIs(t, err, apperrors.ErrExecutionFailure)
	assert.False(t, apperrors.IsDataError(err))
	assert.Contains(t, err.Error(), "no such table")
}

func TestExecutor_InjectionScreening(t *testing.T) {
	ctx := context.Background()

	screened := newHarness(t, harnessOptions{screenInjection: true})
	screened.createNotes(t)
	cfg := notesConfiguration()

	_, err := screened.executor.Execute(ctx, cfg, models.ActionInsert,
		params.FromPairs("id", "1", "title", "' OR '1'='1", "created", ""))
	require.ErrorIs(t, err, apperrors.ErrInjectionDetected)
	assert.Equal(t, 0, screened.count(t, "default", "NOTES"))

	// Numeric binds are not screened, and screening is off by default
	open := newHarness(t, harnessOptions{})
	open.createNotes(t)
	_, err = open.executor.Execute(ctx, cfg, models.ActionInsert,
		params.FromPairs("id", "1", "title", "' OR '1'='1", "created", ""))
	require.NoError(t, err)
}

func TestExecutor_CachedConfiguration(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{cachedPaths: []string{"notes"}})
	h.createNotes(t)

	_, err := h.system.SaveConfiguration(ctx, notesConfiguration())
	require.NoError(t, err)
	cfg, ok := h.configurations.Get("/notes")
	require.True(t, ok)
	require.True(t, cfg.Cached)

	_, found, err := h.configurations.CachedResult(ctx, "/notes")
	require.NoError(t, err)
	assert.False(t, found)

	for _, id := range []string{"1", "2"} {
		_, err := h.executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", id, "title", "t", "created", ""))
		require.NoError(t, err)
	}
	cached, found, err := h.configurations.CachedResult(ctx, "/notes")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, `{"update_count":"1"}`, cached)

	// A later write replaces the cached value
	_, err = h.executor.Execute(ctx, cfg, models.ActionUpdate, params.FromPairs("title", "x"))
	require.NoError(t, err)
	cached, _, err = h.configurations.CachedResult(ctx, "notes")
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"2"}`, cached)

	// Writes that change nothing leave the cache alone
	_, err = h.executor.Execute(ctx, cfg, models.ActionDelete, params.FromPairs("id", "99"))
	require.NoError(t, err)
	cached, _, _ = h.configurations.CachedResult(ctx, "/notes")
	assert.Equal(t, `{"update_count":"2"}`, cached)

	require.NoError(t, h.configurations.ClearCache(ctx))
	_, found, _ = h.configurations.CachedResult(ctx, "/notes")
	assert.False(t, found)
}

func TestExecutor_ConnectionsWriteReloadsRegistry(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	system, ok := h.configurations.Get(models.ConnectionsPath)
	require.True(t, ok)

	reports := h.sqliteConnection("reports")
	got, err := h.executor.Execute(ctx, system, models.ActionInsert, reports.SystemParams())
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"1"}`, got)

	stored, ok := h.connections.Get("reports")
	require.True(t, ok, "registry is rebuilt after a write to /connections")
	assert.Equal(t, reports.URL, stored.URL)
	require.NoError(t, h.connections.Test(ctx, "reports"))
}

func TestExecutor_SecurityAudit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.createNotes(t)
	cfg := notesConfiguration()
	cfg.Normalize()

	core, recorded := observer.New(zapcore.InfoLevel)
	executor := NewExecutor(h.connections, h.configurations, ExecutorOptions{
		ScreenInjection: true,
		AuditWrites:     true,
	}, zap.New(core))

	_, err := executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", "1", "title", "' OR '1'='1", "created", ""))
	require.ErrorIs(t, err, apperrors.ErrInjectionDetected)
	_, err = executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", "1"))
	require.ErrorIs(t, err, apperrors.ErrParameterCountMismatch)
	_, err = executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("id", "1", "title", "plain", "created", ""))
	require.NoError(t, err)

	audited := recorded.FilterLoggerName("security_audit").All()
	require.Len(t, audited, 3)
	assert.Equal(t, "SQL injection attempt detected", audited[0].Message)
	assert.Equal(t, "title", audited[0].ContextMap()["param_name"])
	assert.Equal(t, int64(2), audited[0].ContextMap()["position"])
	assert.Equal(t, "Parameter validation failed", audited[1].Message)
	assert.Equal(t, "expected 3 but found 1", audited[1].ContextMap()["error"])
	assert.Equal(t, "Write executed", audited[2].Message)
	assert.Equal(t, "/notes", audited[2].ContextMap()["path"])
	assert.Equal(t, int64(1), audited[2].ContextMap()["update_count"])
}

func TestExecutor_InsertWithIntegerDirective(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOptions{})
	h.exec(t, "default", `CREATE TABLE T (A TEXT, B)`)

	cfg := &models.Configuration{
		Path:            "/t",
		InsertStatement: "INSERT INTO T (A, B) VALUES (?, ? |i|)",
		QueryStatement:  "SELECT A, B, typeof(B) AS KIND FROM T",
	}
	cfg.Normalize()

	got, err := h.executor.Execute(ctx, cfg, models.ActionInsert, params.FromPairs("a", "x", "b", "5"))
	require.NoError(t, err)
	assert.Equal(t, `{"update_count":"1"}`, got)

	got, err = h.executor.Execute(ctx, cfg, models.ActionQuery, nil)
	require.NoError(t, err)
	assert.Equal(t, `[{"a":"x","b":"5","kind":"integer"}]`, got)
}
