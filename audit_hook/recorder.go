package audithook

import (
	"context"
	"log/slog"
)

// NewLogRecorder returns a Recorder that writes each event to logger.
// Critical events are logged at error level, warnings at warn level and
// everything else at info.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, ev *AuditEvent) error {
		level := slog.LevelInfo
		switch ev.Severity {
		case SeverityCritical:
			level = slog.LevelError
		case SeverityWarning:
			level = slog.LevelWarn
		}

		attrs := []slog.Attr{
			slog.String("action", ev.Action),
			slog.String("resource", ev.Resource),
			slog.String("category", ev.Category),
			slog.String("outcome", ev.Outcome),
			slog.String("severity", ev.Severity),
		}
		if ev.ResourceID != "" {
			attrs = append(attrs, slog.String("resource_id", ev.ResourceID))
		}
		if ev.Reason != "" {
			attrs = append(attrs, slog.String("reason", ev.Reason))
		}
		if len(ev.Metadata) > 0 {
			attrs = append(attrs, slog.Any("metadata", ev.Metadata))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}
