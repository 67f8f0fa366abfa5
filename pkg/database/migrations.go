package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/logging"
)

// migrationsFS holds one directory of migrations per canonical driver type.
//
//go:embed migrations
var migrationsFS embed.FS

// SchemaVersion is the newest system schema version shipped with this build.
const SchemaVersion = 1

// Provision creates the CONFIGURATIONS, CONNECTIONS and SYSREG tables and
// their seed rows on the database spec points at. It is idempotent and safe
// to call multiple times - only pending migrations will be executed.
// The migration runs on a dedicated handle that is closed before returning.
func Provision(spec datasource.ConnectionSpec, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg, ok := datasource.Lookup(spec.Driver)
	if !ok {
		return fmt.Errorf("%w: unsupported driver %q", apperrors.ErrSchemaProvisioning, spec.Driver)
	}
	if reg.MigrationDriver == nil {
		return fmt.Errorf("%w: driver %s has no migration support", apperrors.ErrSchemaProvisioning, reg.Info.Type)
	}

	src, err := iofs.New(migrationsFS, "migrations/"+reg.Info.Type)
	if err != nil {
		return fmt.Errorf("%w: no migrations for %s: %v", apperrors.ErrSchemaProvisioning, reg.Info.Type, err)
	}

	driver, err := reg.MigrationDriver(spec)
	if err != nil {
		src.Close()
		return fmt.Errorf("%w: failed to create migration driver: %v", apperrors.ErrSchemaProvisioning, logging.SanitizeError(err))
	}

	m, err := migrate.NewWithInstance("iofs", src, reg.Info.Type, driver)
	if err != nil {
		src.Close()
		driver.Close()
		return fmt.Errorf("%w: failed to create migration instance: %v", apperrors.ErrSchemaProvisioning, err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("Failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			logger.Warn("Failed to close migration database", zap.String("error", logging.SanitizeError(dbErr)))
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("No migrations to apply (system schema up-to-date)",
			zap.String("connection", spec.Name),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %v", apperrors.ErrSchemaProvisioning, spec.Name, err)
	}

	newVersion, _, _ := m.Version()
	logger.Info("Provisioned system schema",
		zap.String("connection", spec.Name),
		zap.String("driver", reg.Info.Type),
		zap.Uint("version", newVersion),
	)
	return nil
}
