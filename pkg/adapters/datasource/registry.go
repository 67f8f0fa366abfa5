package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	sqlutil "github.com/ekaya-inc/ekaya-dataservices/pkg/sql"
)

// DriverInfo describes a registered database driver.
type DriverInfo struct {
	Type        string   `json:"type"`         // "postgres", "sqlserver", "mysql", "sqlite"
	Aliases     []string `json:"aliases"`      // other identifiers accepted in connection rows
	DisplayName string   `json:"display_name"` // "PostgreSQL"
	Description string   `json:"description"`
}

// DriverRegistration contains info + factories for one driver.
type DriverRegistration struct {
	Info            DriverInfo
	Placeholder     sqlutil.PlaceholderStyle
	Open            OpenFunc
	MigrationDriver MigrationDriverFunc
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]DriverRegistration)
	aliases    = make(map[string]string)
)

// Register is called by each driver package's init() function.
// Thread-safe for concurrent init() calls.
func Register(reg DriverRegistration) {
	registryMu.Lock()
	defer registryMu.Unlock()

	typ := strings.ToLower(reg.Info.Type)
	registry[typ] = reg
	aliases[typ] = typ
	for _, alias := range reg.Info.Aliases {
		aliases[strings.ToLower(alias)] = typ
	}
}

// Lookup finds the registration for a driver identifier or alias.
// Identifiers are case-insensitive.
func Lookup(driver string) (DriverRegistration, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	typ, ok := aliases[strings.ToLower(strings.TrimSpace(driver))]
	if !ok {
		return DriverRegistration{}, false
	}
	reg, ok := registry[typ]
	return reg, ok
}

// CanonicalType maps an alias to its registered type. Unknown identifiers
// are returned lower-cased.
func CanonicalType(driver string) string {
	if reg, ok := Lookup(driver); ok {
		return reg.Info.Type
	}
	return strings.ToLower(strings.TrimSpace(driver))
}

// RegisteredDrivers returns info for all registered drivers, sorted by type.
func RegisteredDrivers() []DriverInfo {
	registryMu.RLock()
	defer registryMu.RUnlock()

	result := make([]DriverInfo, 0, len(registry))
	for _, reg := range registry {
		result = append(result, reg.Info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}

// IsRegistered checks if a driver identifier is available.
func IsRegistered(driver string) bool {
	_, ok := Lookup(driver)
	return ok
}

// Placeholders answers PlaceholderStyler from the global registry.
type Placeholders struct{}

// Placeholder returns the driver's style, or `?` for unknown drivers.
func (Placeholders) Placeholder(driver string) sqlutil.PlaceholderStyle {
	if reg, ok := Lookup(driver); ok {
		return reg.Placeholder
	}
	return sqlutil.PlaceholderQuestion
}

var _ PlaceholderStyler = Placeholders{}

// Ping opens a short-lived handle for spec, pings it and closes it. No pool
// is kept, so specs that were never registered can be checked.
func Ping(ctx context.Context, spec ConnectionSpec) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	reg, _ := Lookup(spec.Driver)
	db, err := reg.Open(spec)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", spec.Name, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping %s: %w", spec.Name, err)
	}
	return nil
}
