// Package logging provides context-scoped structured loggers for the
// segcache engine, modeled on kopia's repo/logging module pattern.
package logging

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Logger is the minimal structured-logging surface every segcache package
// depends on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debugw(msg string, keysAndValues ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

type loggerFactory func(module string) Logger

type contextKey struct{}

var defaultFactory = zapFactory(zap.NewNop())

// WithLogger attaches a logger factory to ctx; Module(name)(ctx) will use
// it instead of the package default.
func WithLogger(ctx context.Context, f func(module string) Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, loggerFactory(f))
}

// SetDefault replaces the process-wide default logger backend used when no
// per-context logger has been installed. Passing nil restores the no-op
// default.
func SetDefault(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	defaultFactory = zapFactory(l)
}

// Module returns a function that resolves the named module's logger from a
// context, falling back to the process default.
func Module(name string) func(ctx context.Context) Logger {
	return func(ctx context.Context) Logger {
		if f, ok := ctx.Value(contextKey{}).(loggerFactory); ok {
			return f(name)
		}
		return defaultFactory(name)
	}
}

func zapFactory(base *zap.Logger) loggerFactory {
	return func(module string) Logger {
		return sugaredLogger{base.Named(module).Sugar()}
	}
}

type sugaredLogger struct {
	*zap.SugaredLogger
}

func (s sugaredLogger) Debugf(format string, args ...interface{}) { s.SugaredLogger.Debugf(format, args...) }
func (s sugaredLogger) Infof(format string, args ...interface{})  { s.SugaredLogger.Infof(format, args...) }
func (s sugaredLogger) Warnf(format string, args ...interface{})  { s.SugaredLogger.Warnf(format, args...) }
func (s sugaredLogger) Errorf(format string, args ...interface{}) { s.SugaredLogger.Errorf(format, args...) }

func (s sugaredLogger) Debugw(msg string, kv ...interface{}) { s.SugaredLogger.Debugw(msg, kv...) }
func (s sugaredLogger) Infow(msg string, kv ...interface{})  { s.SugaredLogger.Infow(msg, kv...) }
func (s sugaredLogger) Warnw(msg string, kv ...interface{})  { s.SugaredLogger.Warnw(msg, kv...) }
func (s sugaredLogger) Errorw(msg string, kv ...interface{}) { s.SugaredLogger.Errorw(msg, kv...) }

// ToWriter builds a module factory that writes plain lines to an
// io.Writer-like sink function, matching the teacher's test-observed
// logging.ToWriter helper. Useful for capturing log output in tests.
func ToWriter(write func(format string, args ...interface{})) func(module string) Logger {
	return func(module string) Logger {
		return writerLogger{write}
	}
}

type writerLogger struct {
	write func(format string, args ...interface{})
}

func (w writerLogger) Debugf(format string, args ...interface{}) { w.write(format, args...) }
func (w writerLogger) Infof(format string, args ...interface{})  { w.write(format, args...) }
func (w writerLogger) Warnf(format string, args ...interface{})  { w.write(format, args...) }
func (w writerLogger) Errorf(format string, args ...interface{}) { w.write(format, args...) }

func (w writerLogger) Debugw(msg string, kv ...interface{}) { w.write("%s", formatKV(msg, kv)) }
func (w writerLogger) Infow(msg string, kv ...interface{})  { w.write("%s", formatKV(msg, kv)) }
func (w writerLogger) Warnw(msg string, kv ...interface{})  { w.write("%s", formatKV(msg, kv)) }
func (w writerLogger) Errorw(msg string, kv ...interface{}) { w.write("%s", formatKV(msg, kv)) }

func formatKV(msg string, kv []interface{}) string {
	if len(kv) == 0 {
		return msg
	}
	out := msg
	for i := 0; i+1 < len(kv); i += 2 {
		out += " " + toString(kv[i]) + "=" + toString(kv[i+1])
	}
	return out
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
