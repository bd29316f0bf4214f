package logging

import "go.uber.org/zap"

// NewComponentLogger creates a logger with a standardized component field.
// If logger is nil, a no-op logger is used as the base.
func NewComponentLogger(logger *zap.Logger, component string) *zap.Logger {
	if logger == nil {
		logger = NewNop()
	}
	return logger.With(zap.String(FieldComponent, component))
}

// HasFieldKey returns true if any field has the given key.
func HasFieldKey(fields []zap.Field, key string) bool {
	for _, f := range fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// WarnWithContext logs a warning with enforced event_type, error_hint, and impact fields.
// Missing fields are filled with defaults so every warning carries cause, impact, and next step.
func WarnWithContext(logger *zap.Logger, msg, eventType string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	if !HasFieldKey(fields, FieldEventType) {
		fields = append(fields, zap.String(FieldEventType, eventType))
	}
	if !HasFieldKey(fields, FieldErrorHint) {
		fields = append(fields, zap.String(FieldErrorHint, "check logs for details"))
	}
	if !HasFieldKey(fields, FieldImpact) {
		fields = append(fields, zap.String(FieldImpact, "operation completed with warnings"))
	}
	logger.Warn(msg, fields...)
}

// ErrorWithContext logs an error with enforced event_type and error_hint fields.
func ErrorWithContext(logger *zap.Logger, msg, eventType string, fields ...zap.Field) {
	if logger == nil {
		return
	}
	if !HasFieldKey(fields, FieldEventType) {
		fields = append(fields, zap.String(FieldEventType, eventType))
	}
	if !HasFieldKey(fields, FieldErrorHint) {
		fields = append(fields, zap.String(FieldErrorHint, "check logs for details"))
	}
	logger.Error(msg, fields...)
}
