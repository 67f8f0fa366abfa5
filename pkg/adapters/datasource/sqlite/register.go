package sqlite

import (
	"database/sql"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// Type is the canonical driver identifier. It doubles as the database/sql
// driver name modernc registers.
const Type = "sqlite"

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        Type,
			Aliases:     []string{"sqlite3", "org.sqlite.JDBC"},
			DisplayName: "SQLite",
			Description: "Embedded SQLite (pure Go)",
		},
		Placeholder:     sqlutil.PlaceholderQuestion,
		Open:            Open,
		MigrationDriver: MigrationDriver,
	})
}

// Open returns a modernc-backed *sql.DB for the file named by the spec's URL.
func Open(spec datasource.ConnectionSpec) (*sql.DB, error) {
	return sql.Open(Type, BuildDSN(spec))
}

// MigrationDriver opens a dedicated handle for schema provisioning.
func MigrationDriver(spec datasource.ConnectionSpec) (migratedb.Driver, error) {
	db, err := Open(spec)
	if err != nil {
		return nil, err
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return driver, nil
}
