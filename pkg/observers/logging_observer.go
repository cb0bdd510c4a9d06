// Package observers provides receivers for monitoring hfsm machines
package observers

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingObserver logs every state a machine reports
type LoggingObserver struct {
	logger  *zap.Logger
	level   zapcore.Level
	machine string
	mutex   sync.RWMutex
	last    string
}

// NewLoggingObserver creates a logging observer for the machine called
// machine. A nil logger falls back to the global zap logger.
func NewLoggingObserver(logger *zap.Logger, level zapcore.Level, machine string) *LoggingObserver {
	if logger == nil {
		logger = zap.L()
	}
	return &LoggingObserver{
		logger:  logger,
		level:   level,
		machine: machine,
	}
}

// SetLevel changes the level state changes are logged at
func (o *LoggingObserver) SetLevel(level zapcore.Level) {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	o.level = level
}

// Receive logs the reported state together with the previous one
func (o *LoggingObserver) Receive(state string, payload any) {
	o.mutex.Lock()
	from := o.last
	o.last = state
	level := o.level
	o.mutex.Unlock()

	fields := []zap.Field{
		zap.String("machine", o.machine),
		zap.String("from", from),
		zap.String("to", state),
	}
	if payload != nil {
		fields = append(fields, zap.Any("payload", payload))
	}
	o.logger.Log(level, "state changed", fields...)
}
