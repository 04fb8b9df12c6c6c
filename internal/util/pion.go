package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion library logs (the virtual network in tests)
// through the pterm logger.
type PionLoggerFactory struct{}

// NewLogger implements logging.LoggerFactory.
func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l *pionLogger) line(msg string) string {
	return fmt.Sprintf("[pion/%s] %s", l.scope, msg)
}

// pion's trace output is chatty; it is folded into debug.
func (l *pionLogger) Trace(msg string) { LogDebug("%s", l.line(msg)) }
func (l *pionLogger) Tracef(format string, args ...interface{}) {
	LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}
func (l *pionLogger) Debug(msg string) { LogDebug("%s", l.line(msg)) }
func (l *pionLogger) Debugf(format string, args ...interface{}) {
	LogDebug("%s", l.line(fmt.Sprintf(format, args...)))
}
func (l *pionLogger) Info(msg string) { LogInfo("%s", l.line(msg)) }
func (l *pionLogger) Infof(format string, args ...interface{}) {
	LogInfo("%s", l.line(fmt.Sprintf(format, args...)))
}
func (l *pionLogger) Warn(msg string) { LogWarning("%s", l.line(msg)) }
func (l *pionLogger) Warnf(format string, args ...interface{}) {
	LogWarning("%s", l.line(fmt.Sprintf(format, args...)))
}
func (l *pionLogger) Error(msg string) { LogError("%s", l.line(msg)) }
func (l *pionLogger) Errorf(format string, args ...interface{}) {
	LogError("%s", l.line(fmt.Sprintf(format, args...)))
}
