// Package logger contains the structured logging interface used by the
// components of this module, together with nil-safe helpers to call it.
package logger

// Field represents a structured field to be added to a Log entry.
type Field struct {
	Key   string
	Value any
}

// With is an helper function to add a field in a functional way.
func With(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// Err adds the provided error as the "error" field of a Log entry.
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// Logger is a structured logger capable of printing information about
// the execution of a component at various levels.
//
// A nil Logger is valid for the package-level helpers, and discards every entry.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// Debug delegates the debug log call to the provided logger, if not nil.
func Debug(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Debug(msg, fields...)
	}
}

// Info delegates the info log call to the provided logger, if not nil.
func Info(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Info(msg, fields...)
	}
}

// Error delegates the error log call to the provided logger, if not nil.
func Error(l Logger, msg string, fields ...Field) {
	if l != nil {
		l.Error(msg, fields...)
	}
}

// WithFields returns a Logger that adds the specified fields, before
// the ones of the call site, to every entry logged through l.
//
// If l is nil, WithFields returns nil.
func WithFields(l Logger, fields ...Field) Logger {
	if l == nil {
		return nil
	}

	return boundLogger{parent: l, fields: fields}
}

type boundLogger struct {
	parent Logger
	fields []Field
}

func (l boundLogger) merge(fields []Field) []Field {
	merged := make([]Field, 0, len(l.fields)+len(fields))
	merged = append(merged, l.fields...)

	return append(merged, fields...)
}

func (l boundLogger) Debug(msg string, fields ...Field) { l.parent.Debug(msg, l.merge(fields)...) }

func (l boundLogger) Info(msg string, fields ...Field) { l.parent.Info(msg, l.merge(fields)...) }

func (l boundLogger) Error(msg string, fields ...Field) { l.parent.Error(msg, l.merge(fields)...) }
