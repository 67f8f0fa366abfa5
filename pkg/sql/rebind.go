package sql

import (
	"strconv"
	"strings"
)

// PlaceholderStyle is the bind marker syntax a driver understands.
type PlaceholderStyle int

const (
	// PlaceholderQuestion keeps `?` (MySQL, SQLite).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses `$1`, `$2`, ... (PostgreSQL).
	PlaceholderDollar
	// PlaceholderAtP uses `@p1`, `@p2`, ... (SQL Server).
	PlaceholderAtP
)

// Rebind rewrites every `?` in an executable statement into the ordinal
// markers of the given style. Templates count placeholders literally, so
// every `?` is rewritten, including any inside quoted text.
func Rebind(sqlText string, style PlaceholderStyle) string {
	var prefix string
	switch style {
	case PlaceholderDollar:
		prefix = "$"
	case PlaceholderAtP:
		prefix = "@p"
	default:
		return sqlText
	}

	if strings.IndexByte(sqlText, '?') == -1 {
		return sqlText
	}

	var b strings.Builder
	b.Grow(len(sqlText) + 8)
	n := 0
	for i := 0; i < len(sqlText); i++ {
		if sqlText[i] != '?' {
			b.WriteByte(sqlText[i])
			continue
		}
		n++
		b.WriteString(prefix)
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}
