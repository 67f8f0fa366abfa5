package apperrors

import "errors"

var (
	ErrNotFound = errors.New("not found")

	// Request-scoped configuration errors. Hosts map these to a client error.
	ErrUnknownAction          = errors.New("unknown action")
	ErrMissingTemplate        = errors.New("missing sql template")
	ErrNotQueryable           = errors.New("configuration does not support queries")
	ErrConnectionUnresolved   = errors.New("connection not found")
	ErrConnectionInvalid      = errors.New("connection is not valid")
	ErrParameterCountMismatch = errors.New("parameter count mismatch")
	ErrInjectionDetected      = errors.New("potential SQL injection detected")
	ErrInvalidTemplate        = errors.New("invalid sql template")
	ErrBodyTooLarge           = errors.New("request body too large")

	// ErrExecutionFailure wraps the driver error of a failed statement.
	ErrExecutionFailure = errors.New("statement execution failed")

	// Startup errors. The process must not continue after either of these.
	ErrNoDefaultConnection = errors.New("no default connection could be established")
	ErrSchemaProvisioning  = errors.New("system schema provisioning failed")
)

var dataErrors = []error{
	ErrUnknownAction,
	ErrMissingTemplate,
	ErrNotQueryable,
	ErrConnectionUnresolved,
	ErrConnectionInvalid,
	ErrParameterCountMismatch,
	ErrInjectionDetected,
	ErrInvalidTemplate,
	ErrBodyTooLarge,
}

// IsDataError reports whether err was caused by the request or the
// configuration rather than by the database.
func IsDataError(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range dataErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
