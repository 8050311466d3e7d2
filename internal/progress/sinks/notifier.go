package sinks

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cbmoss/linksentry/internal/progress"
)

// Publisher pushes run completion notifications to a message broker.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunNotification is the payload published when a run reaches a terminal
// state. Downstream consumers (mailers, webhooks) key off Result.
type RunNotification struct {
	RunID      string    `json:"run_id"`
	SiteID     string    `json:"site_id"`
	Result     string    `json:"result"`
	TotalLinks int       `json:"total_links"`
	Broken     int       `json:"broken_links"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

// NotifierSink publishes terminal run events. Intermediate progress stays
// local; only RUN_DONE, RUN_ERROR and RUN_CANCELLED leave the process.
type NotifierSink struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewNotifierSink wires a publisher to the sink interface.
func NewNotifierSink(publisher Publisher, topic string, logger *zap.Logger) *NotifierSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotifierSink{publisher: publisher, topic: topic, logger: logger}
}

// Consume publishes one notification per terminal event in the batch.
// Publish failures are logged, not returned: notification delivery must not
// fail a scan.
func (s *NotifierSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.publisher == nil {
		return nil
	}
	for _, evt := range batch {
		if !evt.Stage.Terminal() {
			continue
		}
		payload := RunNotification{
			RunID:      evt.RunID.String(),
			SiteID:     evt.SiteID.String(),
			Result:     resultForStage(evt.Stage),
			TotalLinks: evt.Total,
			Broken:     evt.Broken,
			Error:      evt.Note,
			FinishedAt: evt.TS,
		}
		if _, err := s.publisher.Publish(ctx, s.topic, payload); err != nil {
			s.logger.Warn("publish run notification failed",
				zap.String("run_id", payload.RunID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *NotifierSink) Close(context.Context) error {
	return nil
}

func resultForStage(stage progress.Stage) string {
	switch stage {
	case progress.StageRunDone:
		return "completed"
	case progress.StageRunError:
		return "failed"
	case progress.StageRunCancelled:
		return "cancelled"
	default:
		return string(stage)
	}
}
