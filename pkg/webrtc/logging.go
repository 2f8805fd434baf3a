package webrtc

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// WarningHook receives every warning pion logs, tagged with its scope.
type WarningHook func(scope, msg string)

// SlogLoggerFactory routes pion's internal logging into slog. Each pion
// subsystem gets its scope as a "scope" attribute.
type SlogLoggerFactory struct {
	Logger *slog.Logger
	// Level is the lowest level forwarded. pion trace output sits below debug.
	Level slog.Level
	// OnWarning, when set, sees every warning and error in addition to the log.
	OnWarning WarningHook
}

// NewSlogLoggerFactory creates a factory that writes through the default slog logger.
func NewSlogLoggerFactory(level slog.Level, onWarning WarningHook) *SlogLoggerFactory {
	return &SlogLoggerFactory{Level: level, OnWarning: onWarning}
}

func (f *SlogLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	base := f.Logger
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{
		logger: base.With("scope", "pion/"+scope),
		scope:  scope,
		level:  f.Level,
		hook:   f.OnWarning,
	}
}

type slogLogger struct {
	logger *slog.Logger
	scope  string
	level  slog.Level
	hook   WarningHook
}

var _ logging.LeveledLogger = (*slogLogger)(nil)

func (l *slogLogger) log(level slog.Level, msg string) {
	if level >= slog.LevelWarn && l.hook != nil {
		l.hook(l.scope, msg)
	}
	if level < l.level {
		return
	}
	l.logger.Log(context.Background(), level, msg)
}

func (l *slogLogger) Trace(msg string) { l.log(slog.LevelDebug-4, msg) }
func (l *slogLogger) Tracef(format string, args ...interface{}) {
	l.log(slog.LevelDebug-4, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Debug(msg string) { l.log(slog.LevelDebug, msg) }
func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.log(slog.LevelDebug, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Info(msg string) { l.log(slog.LevelInfo, msg) }
func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.log(slog.LevelInfo, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Warn(msg string) { l.log(slog.LevelWarn, msg) }
func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.log(slog.LevelWarn, fmt.Sprintf(format, args...))
}
func (l *slogLogger) Error(msg string) { l.log(slog.LevelError, msg) }
func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.log(slog.LevelError, fmt.Sprintf(format, args...))
}
