package sqlite

import (
	"strings"

	"github.com/ekaya-inc/ekaya-dataservices/pkg/adapters/datasource"
)

// busyTimeout makes concurrent writers wait instead of failing with SQLITE_BUSY.
const busyTimeout = "_pragma=busy_timeout(5000)"

// BuildDSN turns a file path, `file:` URI or `jdbc:sqlite:` URL into a
// modernc DSN. Credentials are ignored; SQLite has none.
func BuildDSN(spec datasource.ConnectionSpec) string {
	dsn := datasource.TrimJDBCPrefix(spec.URL)
	if len(dsn) >= 7 && strings.EqualFold(dsn[:7], "sqlite:") {
		dsn = dsn[7:]
	}
	if dsn == ":memory:" {
		return dsn
	}
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	if !strings.Contains(dsn, "busy_timeout") {
		dsn = datasource.AppendQuery(dsn, busyTimeout)
	}
	return dsn
}
