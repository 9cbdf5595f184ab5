package util

import (
	"fmt"

	"github.com/pion/logging"
)

// PionLoggerFactory routes pion's internal logging (ICE, DTLS, SCTP, …) into
// the pterm logger. pion is chatty at info level, so trace/debug/info all
// map to debug and only show with -debug.
type PionLoggerFactory struct{}

var _ logging.LoggerFactory = PionLoggerFactory{}

func (PionLoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return pionLogger{scope: scope}
}

type pionLogger struct {
	scope string
}

func (l pionLogger) prefix(msg string) string {
	return fmt.Sprintf("pion/%s: %s", l.scope, msg)
}

func (l pionLogger) Trace(msg string)                  {}
func (l pionLogger) Tracef(format string, args ...any) {}

func (l pionLogger) Debug(msg string) { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Debugf(format string, args ...any) {
	LogDebug("%s", l.prefix(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Info(msg string) { LogDebug("%s", l.prefix(msg)) }
func (l pionLogger) Infof(format string, args ...any) {
	LogDebug("%s", l.prefix(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Warn(msg string) { LogWarning("%s", l.prefix(msg)) }
func (l pionLogger) Warnf(format string, args ...any) {
	LogWarning("%s", l.prefix(fmt.Sprintf(format, args...)))
}

func (l pionLogger) Error(msg string) { LogError("%s", l.prefix(msg)) }
func (l pionLogger) Errorf(format string, args ...any) {
	LogError("%s", l.prefix(fmt.Sprintf(format, args...)))
}
