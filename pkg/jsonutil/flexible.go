package jsonutil

import (
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout formats time values read from a result set.
const TimestampLayout = "2006-01-02 15:04:05.999999999"

// FlexibleStringValue converts a value scanned from a database driver into
// its textual form. ok is false for SQL NULL.
//
// Drivers disagree on what they return for the same column type: text may
// arrive as string or []byte, integers as int64 or as decimal bytes, and
// timestamps as time.Time or as a preformatted string. Every form collapses
// to the same string here.
func FlexibleStringValue(v any) (s string, ok bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case []byte:
		if val == nil {
			return "", false
		}
		return string(val), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int:
		return strconv.Itoa(val), true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32), true
	case bool:
		return strconv.FormatBool(val), true
	case time.Time:
		return val.Format(TimestampLayout), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return fmt.Sprintf("%v", val), true
	}
}
