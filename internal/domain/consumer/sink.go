package consumer

import (
	"context"

	"replica/pkg/logger"
)

// LogSink writes rejected documents to a dedicated logger.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink creates a sink writing to log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Reject(ctx context.Context, entity string, doc map[string]any, err error) {
	s.log.WithContext(ctx).Errorw("document rejected", "entity", entity, "doc", doc, "error", err)
}
