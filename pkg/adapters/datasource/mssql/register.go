package mssql

import (
	"database/sql"

	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemssql "github.com/golang-migrate/migrate/v4/database/sqlserver"
	_ "github.com/microsoft/go-mssqldb"         // SQL Server driver
	_ "github.com/microsoft/go-mssqldb/azuread" // Azure AD support

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// Type is the canonical driver identifier.
const Type = "sqlserver"

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        Type,
			Aliases:     []string{"mssql", "azuresql", "com.microsoft.sqlserver.jdbc.SQLServerDriver"},
			DisplayName: "Microsoft SQL Server",
			Description: "SQL Server 2019+, Azure SQL Database",
		},
		Placeholder:     sqlutil.PlaceholderAtP,
		Open:            Open,
		MigrationDriver: MigrationDriver,
	})
}

// Open returns a go-mssqldb *sql.DB. No connection is made until first use.
func Open(spec datasource.ConnectionSpec) (*sql.DB, error) {
	driverName, dsn, err := BuildDSN(spec)
	if err != nil {
		return nil, err
	}
	return sql.Open(driverName, dsn)
}

// MigrationDriver opens a dedicated handle for schema provisioning.
func MigrationDriver(spec datasource.ConnectionSpec) (migratedb.Driver, error) {
	db, err := Open(spec)
	if err != nil {
		return nil, err
	}
	driver, err := migratemssql.WithInstance(db, &migratemssql.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return driver, nil
}
