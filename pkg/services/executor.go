package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/audit"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/models"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/params"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// ExecutorOptions tunes statement execution.
type ExecutorOptions struct {
	// ScreenInjection rejects string binds that libinjection flags.
	ScreenInjection bool
	// AuditWrites records every row-changing write as a security event.
	AuditWrites bool
	// Placeholders reports each driver's bind marker syntax. Defaults to the
	// driver registry.
	Placeholders datasource.PlaceholderStyler
}

// Executor runs the template of a configuration with positionally bound
// parameters and serializes the outcome to JSON.
type Executor struct {
	connections     *ConnectionRegistry
	configurations  *ConfigurationRegistry
	placeholders    datasource.PlaceholderStyler
	screenInjection bool
	auditWrites     bool
	auditor         *audit.SecurityAuditor
	logger          *zap.Logger
}

// NewExecutor creates an executor over the two registries.
func NewExecutor(connections *ConnectionRegistry, configurations *ConfigurationRegistry, opts ExecutorOptions, logger *zap.Logger) *Executor {
	if opts.Placeholders == nil {
		opts.Placeholders = datasource.Placeholders{}
	}
	return &Executor{
		connections:     connections,
		configurations:  configurations,
		placeholders:    opts.Placeholders,
		screenInjection: opts.ScreenInjection,
		auditWrites:     opts.AuditWrites,
		auditor:         audit.NewSecurityAuditor(logger),
		logger:          logger.Named("executor"),
	}
}

// Execute runs action against cfg. Placeholder i is bound to the first value
// of the i-th parameter key, coerced by the placeholder's directive. A query
// returns a JSON array of row objects, every other action returns
// {"update_count":"N"}.
func (e *Executor) Execute(ctx context.Context, cfg *models.Configuration, action models.Action, p *params.Ordered) (string, error) {
	if p == nil {
		p = params.New()
	}
	if parsed, err := models.ParseAction(string(action)); err == nil {
		action = parsed
	}
	exec := audit.Execution{ID: uuid.NewString(), Path: cfg.Path, Action: string(action)}
	logger := e.logger.With(
		zap.String("execution_id", exec.ID),
		zap.String("path", exec.Path),
		zap.String("action", exec.Action),
	)

	template, err := e.template(cfg, action)
	if err != nil {
		logger.Debug("Rejected execution", zap.Error(err))
		return "", err
	}

	executable := sqlutil.StripExecutableSQL(template)
	directives := sqlutil.ExtractDirectives(template)

	start := time.Now()
	result, updated, err := e.run(ctx, logger, exec, cfg, action, executable, directives, p)
	if err != nil {
		return "", err
	}
	logger.Debug("Executed statement",
		zap.Int64("update_count", updated),
		zap.Duration("elapsed", time.Since(start)),
	)

	if updated > 0 {
		e.afterWrite(ctx, logger, cfg, result)
	}
	return result, nil
}

func (e *Executor) template(cfg *models.Configuration, action models.Action) (string, error) {
	action, err := models.ParseAction(string(action))
	if err != nil {
		return "", err
	}
	if action == models.ActionQuery && !cfg.IsQueryable() {
		return "", fmt.Errorf("%w: %s", apperrors.ErrNotQueryable, cfg.Path)
	}
	template := cfg.Statement(action)
	if template == "" {
		return "", fmt.Errorf("%w: no %s statement for %s", apperrors.ErrMissingTemplate, action, cfg.Path)
	}
	return template, nil
}

// run borrows a connection, binds, executes and releases. The statement and
// the connection are closed on every path before it returns.
func (e *Executor) run(
	ctx context.Context,
	logger *zap.Logger,
	exec audit.Execution,
	cfg *models.Configuration,
	action models.Action,
	executable string,
	directives []string,
	p *params.Ordered,
) (result string, updated int64, err error) {
	conn, spec, err := e.connections.Acquire(ctx, cfg.ConnectionName)
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logger.Warn("Failed to close connection", zap.String("error", logging.SanitizeError(closeErr)))
		}
	}()

	args, err := e.bind(logger, exec, directives, p)
	if err != nil {
		return "", 0, err
	}

	native := sqlutil.Rebind(executable, e.placeholders.Placeholder(spec.Driver))
	logger.Debug("Preparing statement",
		zap.String("connection", spec.Name),
		zap.String("sql", logging.SanitizeQuery(native)),
		zap.Int("binds", len(args)),
	)

	stmt, err := conn.PrepareContext(ctx, native)
	if err != nil {
		return "", 0, e.executionFailure(logger, err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logger.Warn("Failed to close statement", zap.String("error", logging.SanitizeError(closeErr)))
		}
	}()

	if action == models.ActionQuery {
		result, err = query(ctx, stmt, args)
		if err != nil {
			return "", 0, e.executionFailure(logger, err)
		}
		return result, 0, nil
	}

	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return "", 0, e.executionFailure(logger, err)
	}
	updated, err = res.RowsAffected()
	if err != nil {
		return "", 0, e.executionFailure(logger, err)
	}
	if e.auditWrites && updated > 0 {
		e.auditor.LogWriteExecution(exec, spec.Name, updated)
	}
	return jsonutil.UpdateCount(updated), updated, nil
}

func query(ctx context.Context, stmt *sql.Stmt, args []any) (string, error) {
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	return jsonutil.Rows(rows)
}

// bind builds the positional argument list. Fewer keys than placeholders is
// rejected before anything is bound; surplus keys are ignored.
func (e *Executor) bind(logger *zap.Logger, exec audit.Execution, directives []string, p *params.Ordered) ([]any, error) {
	keys := p.Keys()
	if len(keys) < len(directives) {
		msg := fmt.Sprintf("expected %d but found %d", len(directives), len(keys))
		e.auditor.LogParameterValidation(exec, msg)
		return nil, fmt.Errorf("%w: %s", apperrors.ErrParameterCountMismatch, msg)
	}

	args := make([]any, len(directives))
	names := keys[:len(directives)]
	for i, directive := range directives {
		value, _ := p.First(names[i])
		coerced, err := sqlutil.Coerce(directive, value)
		if err != nil {
			logger.Warn("Binding zero value for unparseable parameter",
				zap.String("param", names[i]),
				zap.Int("position", i+1),
				zap.String("directive", directive),
				zap.Error(err),
			)
		}
		args[i] = coerced
	}

	if e.screenInjection {
		if flagged := sqlutil.ScreenBindings(names, args); len(flagged) > 0 {
			first := flagged[0]
			value, _ := args[first.Position-1].(string)
			e.auditor.LogInjectionAttempt(exec, audit.InjectionDetails{
				ParamName:   first.ParamName,
				Position:    first.Position,
				ParamValue:  value,
				Fingerprint: first.Fingerprint,
			})
			return nil, fmt.Errorf("%w: parameter %s at position %d", apperrors.ErrInjectionDetected, first.ParamName, first.Position)
		}
	}
	return args, nil
}

func (e *Executor) executionFailure(logger *zap.Logger, err error) error {
	logger.Error("Statement failed", zap.String("error", logging.SanitizeError(err)))
	return fmt.Errorf("%w: %w", apperrors.ErrExecutionFailure, err)
}

// afterWrite reloads the registry a system configuration feeds and replaces
// the cached result. Failures are logged and never returned.
func (e *Executor) afterWrite(ctx context.Context, logger *zap.Logger, cfg *models.Configuration, result string) {
	switch {
	case cfg.IsConfigurationsPath():
		if err := e.configurations.Refresh(ctx); err != nil {
			logger.Error("Failed to reload configurations", zap.String("error", logging.SanitizeError(err)))
		}
	case cfg.IsConnectionsPath():
		if err := e.connections.Refresh(ctx); err != nil {
			logger.Error("Failed to reload connections", zap.String("error", logging.SanitizeError(err)))
		}
	}

	if cfg.Cached {
		if err := e.configurations.storeResult(ctx, cfg.Path, result); err != nil {
			logger.Warn("Failed to cache result", zap.Error(err))
		}
	}
}
