// Package sinks contains progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/progress"
)

// LogSink emits structured logs for scan progress streams. Useful during
// development or when no durable sink is configured.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID.String()),
			zap.String("site_id", evt.SiteID.String()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Stage == progress.StageLinkChecked {
			fields = append(fields,
				zap.String("host", evt.Host),
				zap.String("url", evt.URL),
				zap.String("classification", evt.Classification),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Duration("dur", evt.Dur),
			)
		} else {
			fields = append(fields,
				zap.Int("total", evt.Total),
				zap.Int("checked", evt.Checked),
				zap.Int("broken", evt.Broken),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("scan progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
