// Package audit logs security-relevant execution events in a structured form
// that log pipelines and SIEM systems can filter on.
package audit

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// SecurityEventType categorizes security-relevant events for filtering and alerting.
type SecurityEventType string

const (
	// EventSQLInjectionAttempt is logged when a bind value is flagged by injection screening.
	EventSQLInjectionAttempt SecurityEventType = "sql_injection_attempt"
	// EventParameterValidation is logged when a request cannot be bound to its template.
	EventParameterValidation SecurityEventType = "parameter_validation_failure"
	// EventWriteExecution is logged for every statement that changed rows.
	EventWriteExecution SecurityEventType = "write_execution"
)

// Execution identifies one call of the executor.
type Execution struct {
	ID     string `json:"execution_id"`
	Path   string `json:"path"`
	Action string `json:"action"`
}

// SecurityEvent is one auditable event.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType SecurityEventType `json:"event_type"`
	Execution
	Details  any    `json:"details"`
	Severity string `json:"severity"` // info, warning, critical
}

// InjectionDetails describes a flagged bind value.
type InjectionDetails struct {
	ParamName   string `json:"param_name"`
	Position    int    `json:"position"`
	ParamValue  string `json:"param_value"`
	Fingerprint string `json:"fingerprint"`
}

// maxValueLength bounds how much of a flagged value is recorded.
const maxValueLength = 256

// SecurityAuditor writes security events under the "security_audit" logger.
type SecurityAuditor struct {
	logger *zap.Logger
}

func NewSecurityAuditor(logger *zap.Logger) *SecurityAuditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SecurityAuditor{logger: logger.Named("security_audit")}
}

// LogInjectionAttempt records a bind value rejected by injection screening.
// Logged at ERROR with critical severity.
func (a *SecurityAuditor) LogInjectionAttempt(exec Execution, details InjectionDetails) {
	if len(details.ParamValue) > maxValueLength {
		details.ParamValue = details.ParamValue[:maxValueLength] + "..."
	}
	event := a.event(exec, EventSQLInjectionAttempt, details, "critical")

	a.logger.Error("SQL injection attempt detected",
		zap.String("event_json", event),
		zap.String("execution_id", exec.ID),
		zap.String("path", exec.Path),
		zap.String("param_name", details.ParamName),
		zap.Int("position", details.Position),
		zap.String("fingerprint", details.Fingerprint),
		zap.String("severity", "critical"),
	)
}

// LogParameterValidation records a request whose parameters could not be
// bound. These are usually client mistakes, so WARN.
func (a *SecurityAuditor) LogParameterValidation(exec Execution, message string) {
	event := a.event(exec, EventParameterValidation, map[string]string{"error": message}, "warning")

	a.logger.Warn("Parameter validation failed",
		zap.String("event_json", event),
		zap.String("execution_id", exec.ID),
		zap.String("path", exec.Path),
		zap.String("error", message),
		zap.String("severity", "warning"),
	)
}

// LogWriteExecution records a write that changed rows.
func (a *SecurityAuditor) LogWriteExecution(exec Execution, connection string, updateCount int64) {
	details := map[string]any{
		"connection":   connection,
		"update_count": updateCount,
	}
	event := a.event(exec, EventWriteExecution, details, "info")

	a.logger.Info("Write executed",
		zap.String("event_json", event),
		zap.String("execution_id", exec.ID),
		zap.String("path", exec.Path),
		zap.String("action", exec.Action),
		zap.String("connection", connection),
		zap.Int64("update_count", updateCount),
		zap.String("severity", "info"),
	)
}

func (a *SecurityAuditor) event(exec Execution, eventType SecurityEventType, details any, severity string) string {
	// Marshaling these known types cannot fail.
	data, _ := json.Marshal(SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Execution: exec,
		Details:   details,
		Severity:  severity,
	})
	return string(data)
}
