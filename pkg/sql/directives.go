package sql

import "strings"

// placeholder describes one `?` marker in a SQL template.
//
// A directive is recognised only when the first non-whitespace byte after the
// marker is `|` and a closing `|` follows strictly before the next marker (or
// the end of the template) with at least one byte in between. `||` is never a
// directive, so string concatenation next to a marker survives untouched. A
// closing `|` directly followed by another `|` does not close a directive
// either, which keeps stripping idempotent for input like `? |x||y|`.
type placeholder struct {
	pos       int    // offset of the `?`
	cutStart  int    // first byte removed when stripping, -1 when there is no directive
	cutEnd    int    // one past the closing `|`
	directive string // text between the pipes
}

func (p placeholder) hasDirective() bool {
	return p.cutStart >= 0
}

func isSQLSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}

func followedByPipe(sqlText string, closing int) bool {
	return closing+1 < len(sqlText) && sqlText[closing+1] == '|'
}

// scanPlaceholders walks the template once, left to right, and returns every
// placeholder together with its directive boundaries.
func scanPlaceholders(sqlText string) []placeholder {
	var found []placeholder

	q := strings.IndexByte(sqlText, '?')
	for q != -1 {
		next := -1
		if n := strings.IndexByte(sqlText[q+1:], '?'); n != -1 {
			next = q + 1 + n
		}
		limit := next
		if limit == -1 {
			limit = len(sqlText)
		}

		p := placeholder{pos: q, cutStart: -1, cutEnd: -1}

		i := q + 1
		for i < limit && isSQLSpace(sqlText[i]) {
			i++
		}
		if i < limit && sqlText[i] == '|' {
			// c == 0 is the empty `||` pair
			c := strings.IndexByte(sqlText[i+1:limit], '|')
			if c > 0 && !followedByPipe(sqlText, i+1+c) {
				closing := i + 1 + c
				p.cutStart = q + 1
				p.cutEnd = closing + 1
				p.directive = sqlText[i+1 : closing]
			}
		}

		found = append(found, p)
		q = next
	}

	return found
}

// StripExecutableSQL removes every well-formed `|X|` directive, together with
// the whitespace separating it from its placeholder, and leaves every other
// byte of the template as it was.
//
//	StripExecutableSQL("INSERT INTO T (A, B) VALUES (?, ? |i|)")
//	// "INSERT INTO T (A, B) VALUES (?, ?)"
func StripExecutableSQL(sqlText string) string {
	placeholders := scanPlaceholders(sqlText)

	var b strings.Builder
	last := 0
	for _, p := range placeholders {
		if !p.hasDirective() {
			continue
		}
		if b.Len() == 0 {
			b.Grow(len(sqlText))
		}
		b.WriteString(sqlText[last:p.cutStart])
		last = p.cutEnd
	}

	if last == 0 {
		return sqlText
	}
	b.WriteString(sqlText[last:])
	return b.String()
}

// ExtractDirectives returns one entry per placeholder in template order. The
// entry is the directive text, or "" for a placeholder without a directive.
func ExtractDirectives(sqlText string) []string {
	placeholders := scanPlaceholders(sqlText)

	directives := make([]string, 0, len(placeholders))
	for _, p := range placeholders {
		directives = append(directives, p.directive)
	}
	return directives
}

// CountPlaceholders returns the number of `?` markers in the template.
func CountPlaceholders(sqlText string) int {
	return strings.Count(sqlText, "?")
}
