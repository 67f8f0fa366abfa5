package mysql

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
)

// ParseConfig parses a go-sql-driver DSN (`user:pass@tcp(host:3306)/db`) or
// a `mysql://host:3306/db` URL, and applies the connection's credentials.
func ParseConfig(spec datasource.ConnectionSpec) (*mysql.Config, error) {
	dsn, err := normalizeDSN(datasource.TrimJDBCPrefix(spec.URL))
	if err != nil {
		return nil, err
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse mysql dsn: %w", err)
	}
	if spec.Username != "" {
		cfg.User = spec.Username
	}
	if spec.Password != "" {
		cfg.Passwd = spec.Password
	}
	if cfg.Net == "tcp" {
		cfg.Addr = config.ResolveAddrForDocker(cfg.Addr)
	}
	return cfg, nil
}

// normalizeDSN converts mysql:// and mariadb:// URLs into the driver's DSN form.
func normalizeDSN(raw string) (string, error) {
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "mysql://") && !strings.HasPrefix(lower, "mariadb://") {
		return raw, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse mysql url: %w", err)
	}

	var b strings.Builder
	if u.User != nil {
		b.WriteString(u.User.Username())
		if pw, ok := u.User.Password(); ok {
			b.WriteString(":" + pw)
		}
		b.WriteString("@")
	}
	host := u.Host
	if u.Port() == "" {
		host += ":3306"
	}
	b.WriteString("tcp(" + host + ")")
	b.WriteString("/" + strings.TrimPrefix(u.Path, "/"))
	if u.RawQuery != "" {
		b.WriteString("?" + u.RawQuery)
	}
	return b.String(), nil
}
