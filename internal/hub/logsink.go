package hub

import (
	"context"

	"SignalHub/internal/domain/models"
	applogger "SignalHub/pkg/logger"
)

// LogSink turns aggregated process log lines into LogLine envelopes.
type LogSink struct {
	engine  *Engine
	service string
}

func (e *Engine) LogSink(service string) *LogSink {
	return &LogSink{engine: e, service: service}
}

func (s *LogSink) PublishLogs(_ context.Context, entries []applogger.AggregatedLogEntry) error {
	for _, entry := range entries {
		level, err := models.ParseLogLevel(entry.Level)
		if err != nil {
			level = models.LevelInfo
		}
		md := make(map[string]any, len(entry.Fields)+2)
		for k, v := range entry.Fields {
			md[k] = v
		}
		md["caller"] = entry.Caller
		if entry.Count > 1 {
			md["count"] = entry.Count
		}
		s.engine.Publish(models.NewLogEnvelope(models.LogLine{
			Level:     level,
			Service:   s.service,
			Message:   entry.Message,
			Metadata:  md,
			Timestamp: entry.LastSeen,
		}))
	}
	return nil
}

var _ applogger.Publisher = (*LogSink)(nil)
