package sql

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Coercion is the bind type selected by a placeholder directive.
type Coercion int

const (
	CoerceString Coercion = iota
	CoerceInt64
	CoerceInt32
	CoerceFloat32
	CoerceFloat64
	CoerceTimestamp
)

func (c Coercion) String() string {
	switch c {
	case CoerceInt64:
		return "int64"
	case CoerceInt32:
		return "int32"
	case CoerceFloat32:
		return "float32"
	case CoerceFloat64:
		return "float64"
	case CoerceTimestamp:
		return "timestamp"
	default:
		return "string"
	}
}

// CoercionFor maps a directive to its coercion using the directive's first
// character, case-insensitively. Unknown and empty directives bind as strings.
func CoercionFor(directive string) Coercion {
	if directive == "" {
		return CoerceString
	}
	switch directive[0] {
	case 'l', 'L':
		return CoerceInt64
	case 'i', 'I':
		return CoerceInt32
	case 'f', 'F':
		return CoerceFloat32
	case 'd', 'D':
		return CoerceFloat64
	case 't', 'T':
		return CoerceTimestamp
	default:
		return CoerceString
	}
}

// timestampLayouts are tried in order when binding a `|t|` placeholder.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"Jan 2, 2006 3:04:05 PM",
	"Jan 2, 2006",
	"January 2, 2006",
}

// ParseTimestamp parses value with the accepted layouts. ok is false for an
// empty or unrecognised value.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// Coerce converts a raw parameter value into the bind value selected by the
// directive.
//
// A timestamp that cannot be parsed binds as nil (SQL NULL) without error. A
// numeric value that cannot be parsed returns the zero value of the target
// type together with an error so the caller can decide whether to log or
// reject it.
func Coerce(directive, value string) (any, error) {
	c := CoercionFor(directive)
	trimmed := strings.TrimSpace(value)

	switch c {
	case CoerceInt64:
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return int64(0), fmt.Errorf("coerce %q to %s: %w", value, c, err)
		}
		return n, nil
	case CoerceInt32:
		n, err := strconv.ParseInt(trimmed, 10, 32)
		if err != nil {
			return int32(0), fmt.Errorf("coerce %q to %s: %w", value, c, err)
		}
		return int32(n), nil
	case CoerceFloat32:
		f, err := strconv.ParseFloat(trimmed, 32)
		if err != nil {
			return float32(0), fmt.Errorf("coerce %q to %s: %w", value, c, err)
		}
		return float32(f), nil
	case CoerceFloat64:
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return float64(0), fmt.Errorf("coerce %q to %s: %w", value, c, err)
		}
		return f, nil
	case CoerceTimestamp:
		ts, ok := ParseTimestamp(value)
		if !ok {
			return nil, nil
		}
		return ts, nil
	default:
		return value, nil
	}
}
