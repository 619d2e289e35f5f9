// Package notify delivers human-readable coordinator status to the host
// application: a structured-log sink for headless use and a Telegram sink for
// terminal outcomes. The UI owns rendering; sinks only carry text.
package notify

import (
	"go.uber.org/zap"

	"github.com/GoPolymarket/proxy-trader/internal/stage"
)

// LoggerSink reports every stage transition through a zap logger.
type LoggerSink struct {
	log *zap.Logger
}

// NewLoggerSink creates a LoggerSink.
func NewLoggerSink(log *zap.Logger) *LoggerSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoggerSink{log: log}
}

// StageChanged implements stage.Observer.
func (s *LoggerSink) StageChanged(st stage.Stage, message string) {
	switch st {
	case stage.Error:
		s.log.Warn("operation failed", zap.String("stage", string(st)), zap.String("status", message))
	case stage.Idle:
		// Reset back to idle carries no user-facing text.
	default:
		s.log.Info("stage", zap.String("stage", string(st)), zap.String("status", message))
	}
}

// Fanout delivers stage transitions to several sinks in order.
type Fanout []stage.Observer

// StageChanged implements stage.Observer.
func (f Fanout) StageChanged(st stage.Stage, message string) {
	for _, o := range f {
		o.StageChanged(st, message)
	}
}
