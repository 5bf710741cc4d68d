// Package logger is the process-wide leveled logger. Output is produced by zap
// with a console encoder; the printf-style helpers keep call sites short.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the verbosity threshold. Lower values are more verbose.
type Level int

const (
	// LevelTrace enables frame-level and state machine logs.
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

// traceLevel sits below zap's debug level.
const traceLevel = zapcore.DebugLevel - 1

func (l Level) zap() zapcore.Level {
	switch l {
	case LevelTrace:
		return traceLevel
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "trace"
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// ParseLevel parses trace, debug, info, warn (or warning) and error.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", raw)
}

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = build(zapcore.Lock(zapcore.AddSync(os.Stderr)))
)

func encodeLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	if l < zapcore.DebugLevel {
		enc.AppendString("TRACE")
		return
	}
	zapcore.CapitalLevelEncoder(l, enc)
}

func build(out zapcore.WriteSyncer) *zap.Logger {
	cfg := zapcore.EncoderConfig{
		TimeKey:          "ts",
		LevelKey:         "level",
		MessageKey:       "msg",
		LineEnding:       zapcore.DefaultLineEnding,
		EncodeTime:       zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000"),
		EncodeLevel:      encodeLevel,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
	return zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), out, level))
}

// SetOutput redirects all subsequent log lines to w.
func SetOutput(w io.Writer) {
	l := build(zapcore.Lock(zapcore.AddSync(w)))
	mu.Lock()
	base = l
	mu.Unlock()
}

// SetLevel sets the global threshold.
func SetLevel(l Level) { level.SetLevel(l.zap()) }

// Enabled reports whether l would be written.
func Enabled(l Level) bool { return level.Enabled(l.zap()) }

// Sync flushes buffered output.
func Sync() error {
	mu.RLock()
	defer mu.RUnlock()
	return base.Sync()
}

func logf(l zapcore.Level, format string, args ...any) {
	if !level.Enabled(l) {
		return
	}
	mu.RLock()
	lg := base
	mu.RUnlock()
	if ce := lg.Check(l, fmt.Sprintf(format, args...)); ce != nil {
		ce.Write()
	}
}

// Tracef logs at trace level.
func Tracef(format string, args ...any) { logf(traceLevel, format, args...) }

// Debugf logs at debug level.
func Debugf(format string, args ...any) { logf(zapcore.DebugLevel, format, args...) }

// Infof logs at info level.
func Infof(format string, args ...any) { logf(zapcore.InfoLevel, format, args...) }

// Warnf logs at warn level.
func Warnf(format string, args ...any) { logf(zapcore.WarnLevel, format, args...) }

// Errorf logs at error level.
func Errorf(format string, args ...any) { logf(zapcore.ErrorLevel, format, args...) }
