package datasource

import "strings"

// TrimJDBCPrefix drops a leading "jdbc:" so URLs written for JDBC drivers
// can be stored unchanged in connection rows.
func TrimJDBCPrefix(url string) string {
	url = strings.TrimSpace(url)
	if len(url) >= 5 && strings.EqualFold(url[:5], "jdbc:") {
		return url[5:]
	}
	return url
}

// AppendQuery adds a raw key=value pair to a DSN that may or may not
// already carry a query string.
func AppendQuery(dsn, kv string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + kv
	}
	return dsn + "?" + kv
}
