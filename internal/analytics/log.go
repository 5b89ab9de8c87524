package analytics

import (
	"go.uber.org/zap"
)

// Log writes each event as a structured log line.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a sink logging at info level on logger.
func NewLog(logger *zap.Logger) *Log {
	return &Log{logger: logger.Named("analytics")}
}

func (l *Log) Emit(name string, props Properties) {
	fields := make([]zap.Field, 0, len(props)+1)
	fields = append(fields, zap.String("event", name))
	for k, v := range props {
		fields = append(fields, zap.Any(k, v))
	}
	l.logger.Info("event", fields...)
}
