package monitor

import "settlement-core/pkg/logger"

// AlertSink interface for pluggable alert delivery.
type AlertSink interface {
	Send(message string) error
}

// LogSink delivers alerts as warnings on a logger.
type LogSink struct {
	Log *logger.Logger
}

func (s LogSink) Send(message string) error {
	if s.Log != nil {
		s.Log.Warn(message, logger.NewField("alert", true))
	}
	return nil
}
