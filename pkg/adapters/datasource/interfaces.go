package datasource

import (
	"database/sql"
	"fmt"
	"strings"

	migratedb "github.com/golang-migrate/migrate/v4/database"

	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// ConnectionSpec is everything a driver needs to open a pool. Directory
// lookups are resolved into a spec before they reach this package.
type ConnectionSpec struct {
	Name     string
	Driver   string
	URL      string
	Username string
	Password string
}

// Validate checks that the spec names a registered driver and a URL.
func (s ConnectionSpec) Validate() error {
	if strings.TrimSpace(s.Driver) == "" {
		return fmt.Errorf("connection %q: driver is required", s.Name)
	}
	if strings.TrimSpace(s.URL) == "" {
		return fmt.Errorf("connection %q: url is required", s.Name)
	}
	if !IsRegistered(s.Driver) {
		return fmt.Errorf("connection %q: unsupported driver %q (not compiled in)", s.Name, s.Driver)
	}
	return nil
}

// fingerprint identifies the settings a pool was opened with.
func (s ConnectionSpec) fingerprint() string {
	return strings.ToLower(s.Driver) + "\x00" + s.URL + "\x00" + s.Username + "\x00" + s.Password
}

// OpenFunc opens a lazily connecting *sql.DB for a spec, merging the spec's
// credentials into the driver's DSN.
type OpenFunc func(spec ConnectionSpec) (*sql.DB, error)

// MigrationDriverFunc opens a dedicated handle for a spec and wraps it in a
// golang-migrate database driver. The driver owns the handle.
type MigrationDriverFunc func(spec ConnectionSpec) (migratedb.Driver, error)

// PlaceholderStyler reports the bind marker syntax of a driver.
type PlaceholderStyler interface {
	Placeholder(driver string) sqlutil.PlaceholderStyle
}
