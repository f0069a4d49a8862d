package log

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(logger)
}

func Debug(format string, args ...interface{}) {
	if logLevel <= DEBUG {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if logLevel <= INFO {
		zap.S().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if logLevel <= WARNING {
		zap.S().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if logLevel <= ERROR {
		zap.S().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

// With returns a structured logger for events that carry per-connection fields.
// It honors the same level filter as the printf-style helpers.
func With(fields ...zap.Field) *Logger {
	return &Logger{l: zap.L().With(fields...)}
}

type Logger struct {
	l *zap.Logger
}

func (lg *Logger) Info(msg string, fields ...zap.Field) {
	if logLevel <= INFO {
		lg.l.Info(msg, fields...)
	}
}

func (lg *Logger) Debug(msg string, fields ...zap.Field) {
	if logLevel <= DEBUG {
		lg.l.Debug(msg, fields...)
	}
}

func (lg *Logger) Warn(msg string, fields ...zap.Field) {
	if logLevel <= WARNING {
		lg.l.Warn(msg, fields...)
	}
}

// Sync flushes any buffered log entries. Call it before exiting.
func Sync() {
	_ = zap.L().Sync()
}

func SetLevel(level Level) {
	logLevel = level
}

func GetLevel() Level {
	return logLevel
}

// ParseLevel maps a configuration string to a Level. Unknown names are an error
// so that a typo in the config file does not silently change verbosity.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "fatal":
		return FATAL, nil
	case "error":
		return ERROR, nil
	case "warning", "warn":
		return WARNING, nil
	case "debug":
		return DEBUG, nil
	case "info", "":
		return INFO, nil
	default:
		return INFO, fmt.Errorf("unknown log level %q", s)
	}
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel Level = INFO
