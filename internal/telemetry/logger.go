// Package telemetry provides the logging abstraction shared by every
// component of the execution engine. The interface shape — a component-
// scoped logger with an OrNop guard against nil — mirrors the teacher's own
// internal/logging package; the backing implementation is go.uber.org/zap,
// since zap (not the teacher's hand-rolled wrapper) is the structured-
// logging library the broader example corpus actually standardizes on.
package telemetry

import (
	"reflect"

	"go.uber.org/zap"
)

// Logger is the logging port every execution-engine component depends on.
// Methods take printf-style arguments so call sites read like fmt.Sprintf.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)

	// With returns a logger scoped to an additional named component,
	// e.g. base.With("orchestrator").
	With(component string) Logger
}

// IsNil reports whether logger is a nil interface or a typed nil pointer
// wrapped in one — the same typed-nil hazard the teacher's logging package
// guards against, since a *zapLogger held in a Logger interface variable is
// not == nil even when its pointer is.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface, reflect.Chan, reflect.Func:
		return v.IsNil()
	default:
		return false
	}
}

// OrNop returns logger unchanged if usable, otherwise a no-op Logger. Every
// component constructor calls this so a caller passing nil never causes a
// panic deep inside business logic.
func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return nopLogger{}
	}
	return logger
}

// zapLogger adapts *zap.SugaredLogger to Logger.
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZap wraps a *zap.Logger as a Logger, scoped to component.
func NewZap(base *zap.Logger, component string) Logger {
	if base == nil {
		return nopLogger{}
	}
	named := base
	if component != "" {
		named = base.Named(component)
	}
	return &zapLogger{sugar: named.Sugar()}
}

func (l *zapLogger) Debug(format string, args ...any) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Info(format string, args ...any)  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warn(format string, args ...any)  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Error(format string, args ...any) { l.sugar.Errorf(format, args...) }

func (l *zapLogger) With(component string) Logger {
	return &zapLogger{sugar: l.sugar.Named(component)}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any)    {}
func (nopLogger) Info(string, ...any)     {}
func (nopLogger) Warn(string, ...any)     {}
func (nopLogger) Error(string, ...any)    {}
func (nopLogger) With(string) Logger      { return nopLogger{} }

// Nop returns a Logger that discards everything, for tests and defaults.
func Nop() Logger { return nopLogger{} }
