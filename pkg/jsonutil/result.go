package jsonutil

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"
)

// EmptyResult is the serialization of a result set without rows.
const EmptyResult = "[]"

// UpdateCount serializes the affected row count of a write.
func UpdateCount(n int64) string {
	return `{"update_count":"` + strconv.FormatInt(n, 10) + `"}`
}

// Rows serializes every remaining row as an array of flat objects. Column
// labels are lower-cased, every non-NULL value is a JSON string and NULL is
// a bare null. The caller still owns rows and must close it.
func Rows(rows *sql.Rows) (string, error) {
	columns, err := rows.Columns()
	if err != nil {
		return "", fmt.Errorf("failed to read result columns: %w", err)
	}
	labels := make([]string, len(columns))
	for i, c := range columns {
		labels[i] = `"` + Escape(strings.ToLower(c)) + `":`
	}

	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}

	var b strings.Builder
	count := 0
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return "", fmt.Errorf("failed to scan row %d: %w", count+1, err)
		}
		if count == 0 {
			b.WriteByte('[')
		} else {
			b.WriteString(", ")
		}
		writeObject(&b, labels, values)
		count++
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("failed to iterate rows: %w", err)
	}
	if count == 0 {
		return EmptyResult, nil
	}
	b.WriteByte(']')
	return b.String(), nil
}

func writeObject(b *strings.Builder, labels []string, values []any) {
	b.WriteByte('{')
	for i, label := range labels {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(label)
		s, ok := FlexibleStringValue(values[i])
		if !ok {
			b.WriteString("null")
			continue
		}
		b.WriteByte('"')
		b.WriteString(Escape(s))
		b.WriteByte('"')
	}
	b.WriteByte('}')
}

// Escape prepares s for use inside a JSON string literal. CRLF and CR are
// folded to LF first, so every line break is emitted as \n.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\r':
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			b.WriteString(`\n`)
		case '\n':
			b.WriteString(`\n`)
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 {
				fmt.Fprintf(&b, `\u%04x`, c)
				continue
			}
			b.WriteByte(c)
		}
	}
	return b.String()
}
