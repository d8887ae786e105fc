// Package log provides a process-wide sugared logger used by every
// subsystem of the electoral commission core.
package log

import (
	"fmt"
	"io"
	"os"
	"unicode/utf8"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level constants accepted by Init and returned by Level.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

const (
	logTestWriterName = "test"
)

var (
	logger    *zap.SugaredLogger
	level     = LogLevelInfo
	logTestWriter io.Writer = io.Discard

	// panicOnInvalidChars guards against silently logging binary garbage;
	// toggled off in tests that intentionally feed it invalid UTF-8.
	panicOnInvalidChars = os.Getenv("LOG_PANIC_ON_INVALID_CHARS") == "true"
)

// Init initializes the package-level logger. output is one of "stdout",
// "stderr", a file path, or the sentinel "test" used by unit tests.
// extraOutputs, if non-nil, receive a copy of every log line (used to
// fan logs out to app.log alongside the console).
func Init(lvl, output string, extraOutputs []io.Writer) {
	level = lvl

	var sinks []zapcore.WriteSyncer
	switch output {
	case "stdout":
		sinks = append(sinks, zapcore.AddSync(os.Stdout))
	case "stderr":
		sinks = append(sinks, zapcore.AddSync(os.Stderr))
	case logTestWriterName:
		sinks = append(sinks, zapcore.AddSync(logTestWriter))
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			sinks = append(sinks, zapcore.AddSync(os.Stderr))
		} else {
			sinks = append(sinks, zapcore.AddSync(f))
		}
	}
	for _, w := range extraOutputs {
		sinks = append(sinks, zapcore.AddSync(w))
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encCfg)

	core := zapcore.NewCore(encoder, zapcore.NewMultiWriteSyncer(sinks...), zapLevel(lvl))
	logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).Sugar()
}

func init() {
	Init(LogLevelInfo, "stderr", nil)
}

func zapLevel(lvl string) zapcore.Level {
	switch lvl {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Level returns the currently configured log level.
func Level() string { return level }

func checkChars(args ...any) {
	if !panicOnInvalidChars {
		return
	}
	for _, a := range args {
		s, ok := a.(string)
		if !ok {
			continue
		}
		if !utf8.ValidString(s) {
			panic(fmt.Sprintf("log: invalid UTF-8 in log argument: %q", s))
		}
	}
}

// Debug logs at debug level.
func Debug(args ...any) { checkChars(args...); logger.Debug(args...) }

// Debugf logs a formatted message at debug level.
func Debugf(format string, args ...any) {
	checkChars(fmt.Sprintf(format, args...))
	logger.Debugf(format, args...)
}

// Debugw logs a message with structured key-value pairs at debug level.
func Debugw(msg string, kv ...any) { logger.Debugw(msg, kv...) }

// Info logs at info level.
func Info(args ...any) { logger.Info(args...) }

// Infof logs a formatted message at info level.
func Infof(format string, args ...any) { logger.Infof(format, args...) }

// Infow logs a message with structured key-value pairs at info level.
func Infow(msg string, kv ...any) { logger.Infow(msg, kv...) }

// Warn logs at warn level.
func Warn(args ...any) { logger.Warn(args...) }

// Warnf logs a formatted message at warn level.
func Warnf(format string, args ...any) { logger.Warnf(format, args...) }

// Warnw logs a message with structured key-value pairs at warn level.
func Warnw(msg string, kv ...any) { logger.Warnw(msg, kv...) }

// Error logs at error level.
func Error(args ...any) { logger.Error(args...) }

// Errorf logs a formatted message at error level.
func Errorf(format string, args ...any) { logger.Errorf(format, args...) }

// Errorw logs a message with structured key-value pairs at error level.
func Errorw(msg string, kv ...any) { logger.Errorw(msg, kv...) }

// Fatal logs at fatal level and terminates the process.
func Fatal(args ...any) { logger.Fatal(args...) }

// Fatalf logs a formatted message and terminates the process.
func Fatalf(format string, args ...any) { logger.Fatalf(format, args...) }
