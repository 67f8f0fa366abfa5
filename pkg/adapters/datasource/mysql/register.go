package mysql

import (
	"database/sql"

	"github.com/go-sql-driver/mysql"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// Type is the canonical driver identifier.
const Type = "mysql"

func init() {
	datasource.Register(datasource.DriverRegistration{
		Info: datasource.DriverInfo{
			Type:        Type,
			Aliases:     []string{"mariadb", "com.mysql.jdbc.Driver", "com.mysql.cj.jdbc.Driver"},
			DisplayName: "MySQL",
			Description: "MySQL 8+, MariaDB 10.6+",
		},
		Placeholder:     sqlutil.PlaceholderQuestion,
		Open:            Open,
		MigrationDriver: MigrationDriver,
	})
}

// Open returns a go-sql-driver *sql.DB. No connection is made until first use.
func Open(spec datasource.ConnectionSpec) (*sql.DB, error) {
	cfg, err := ParseConfig(spec)
	if err != nil {
		return nil, err
	}
	return openConfig(cfg)
}

func openConfig(cfg *mysql.Config) (*sql.DB, error) {
	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(connector), nil
}

// MigrationDriver opens a dedicated handle for schema provisioning.
// Migration files hold several statements, so only this handle enables
// multi-statement execution.
func MigrationDriver(spec datasource.ConnectionSpec) (migratedb.Driver, error) {
	cfg, err := ParseConfig(spec)
	if err != nil {
		return nil, err
	}
	cfg.MultiStatements = true

	db, err := openConfig(cfg)
	if err != nil {
		return nil, err
	}
	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{})
	if err != nil {
		db.Close()
		return nil, err
	}
	return driver, nil
}
