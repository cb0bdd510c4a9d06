package observers

import (
	"go.uber.org/zap/zapcore"

	"github.com/anggasct/hfsm/pkg/logger"
)

// NewDefaultLoggingObserver creates an info level logging observer that
// writes through a logger configured from LOGGING_LEVEL and LOGGING_FORMAT
func NewDefaultLoggingObserver(machine string) *LoggingObserver {
	return NewLoggingObserver(logger.FromEnv().Named(logger.ComponentObserver), zapcore.InfoLevel, machine)
}
