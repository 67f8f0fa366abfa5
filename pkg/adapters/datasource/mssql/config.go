package mssql

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-dataservices/pkg/config"
)

const (
	driverSQLServer = "sqlserver"
	driverAzureSQL  = "azuresql"
)

// jdbcPropertyNames maps JDBC connection properties onto go-mssqldb query keys.
var jdbcPropertyNames = map[string]string{
	"databasename":           "database",
	"database":               "database",
	"user":                   "user id",
	"password":               "password",
	"encrypt":                "encrypt",
	"trustservercertificate": "TrustServerCertificate",
	"logintimeout":           "connection timeout",
	"applicationname":        "app name",
	"authentication":         "fedauth",
}

// BuildDSN returns the database/sql driver name and DSN for a spec.
// sqlserver:// URLs have the spec's credentials set as user info. JDBC
// style URLs (`sqlserver://host:1433;databaseName=x`) are converted first.
// ADO style strings get `user id` and `password` appended.
// A `fedauth` property selects the Azure AD driver.
func BuildDSN(spec datasource.ConnectionSpec) (string, string, error) {
	raw := datasource.TrimJDBCPrefix(spec.URL)
	if !strings.HasPrefix(strings.ToLower(raw), "sqlserver://") {
		return driverFor(raw), appendADOCredentials(raw, spec), nil
	}

	u, err := parseURL(raw)
	if err != nil {
		return "", "", err
	}

	if spec.Username != "" {
		if spec.Password != "" {
			u.User = url.UserPassword(spec.Username, spec.Password)
		} else {
			u.User = url.User(spec.Username)
		}
	}

	if port := u.Port(); port != "" {
		u.Host = net.JoinHostPort(config.ResolveHostForDocker(u.Hostname()), port)
	} else {
		u.Host = config.ResolveHostForDocker(u.Hostname())
	}

	dsn := u.String()
	return driverFor(u.RawQuery), dsn, nil
}

// parseURL parses a sqlserver URL, converting `;key=value` JDBC properties
// into query parameters.
func parseURL(raw string) (*url.URL, error) {
	semi := strings.IndexByte(raw, ';')
	if semi == -1 {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sqlserver url: %w", err)
		}
		return u, nil
	}

	u, err := url.Parse(raw[:semi])
	if err != nil {
		return nil, fmt.Errorf("failed to parse sqlserver url: %w", err)
	}
	query := u.Query()
	for _, prop := range strings.Split(raw[semi+1:], ";") {
		key, value, ok := strings.Cut(prop, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		name, known := jdbcPropertyNames[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			name = strings.TrimSpace(key)
		}
		query.Set(name, strings.TrimSpace(value))
	}
	u.RawQuery = query.Encode()
	return u, nil
}

func appendADOCredentials(dsn string, spec datasource.ConnectionSpec) string {
	if spec.Username == "" {
		return dsn
	}
	dsn = strings.TrimRight(dsn, "; ")
	dsn += ";user id=" + spec.Username
	if spec.Password != "" {
		dsn += ";password=" + spec.Password
	}
	return dsn
}

func driverFor(dsnOrQuery string) string {
	if strings.Contains(strings.ToLower(dsnOrQuery), "fedauth") {
		return driverAzureSQL
	}
	return driverSQLServer
}
