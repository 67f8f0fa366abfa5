package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult contains the result of an injection check on a bound value.
type InjectionCheckResult struct {
	IsSQLi      bool   // True if SQL injection pattern detected
	Fingerprint string // libinjection fingerprint of the detected pattern
	ParamName   string // Name of the parameter that failed the check
	Position    int    // 1-based placeholder position the value was bound to
}

// CheckParameterForInjection runs libinjection against a value that is about
// to be bound to a placeholder. Only string binds are checked; numeric and
// timestamp binds cannot carry SQL text.
//
// Returns nil if no injection is detected.
func CheckParameterForInjection(paramName string, position int, value any) *InjectionCheckResult {
	strValue, ok := value.(string)
	if !ok || strValue == "" {
		return nil
	}

	isSQLi, fingerprint := libinjection.IsSQLi(strValue)
	if !isSQLi {
		return nil
	}

	return &InjectionCheckResult{
		IsSQLi:      true,
		Fingerprint: string(fingerprint),
		ParamName:   paramName,
		Position:    position,
	}
}

// ScreenBindings checks a positional bind list. names[i] is the parameter
// that supplied values[i]. Returns the failing binds in placeholder order.
func ScreenBindings(names []string, values []any) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, value := range values {
		name := ""
		if i < len(names) {
			name = names[i]
		}
		if result := CheckParameterForInjection(name, i+1, value); result != nil {
			results = append(results, result)
		}
	}
	return results
}
