package postgres

import (
	"database/sql"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// Type is the canonical driver identifier.
const Type = "postgres"

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        Type,
			Aliases:     []string{"postgresql", "pgx", "org.postgresql.Driver"},
			DisplayName: "PostgreSQL",
			Description: "PostgreSQL 12+ through pgx",
		},
		Placeholder:     sqlutil.PlaceholderDollar,
		Open:            Open,
		MigrationDriver: MigrationDriver,
	})
}

// Open returns a pgx-backed *sql.DB. No connection is made until first use.
func Open(spec datasource.ConnectionSpec) (*sql.DB, error) {
	cfg, err := ParseConfig(spec)
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*cfg), nil
}

// MigrationDriver opens a dedicated handle for schema provisioning.
func MigrationDriver(spec datasource.ConnectionSpec) (migratedb.Driver, error) {
	db, err := Open(spec)
	if err != nil {
		return nil, err
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return driver, nil
}
