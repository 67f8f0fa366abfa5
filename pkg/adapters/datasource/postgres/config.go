package postgres

import (
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
)

// ParseConfig parses a PostgreSQL URL or keyword/value DSN and applies the
// connection's credentials on top of whatever the DSN carries.
func ParseConfig(spec datasource.ConnectionSpec) (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig(datasource.TrimJDBCPrefix(spec.URL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse postgres url: %w", err)
	}
	if spec.Username != "" {
		cfg.User = spec.Username
	}
	if spec.Password != "" {
		cfg.Password = spec.Password
	}
	cfg.Host = config.ResolveHostForDocker(cfg.Host)
	return cfg, nil
}
