package audit

import (
	"context"
	"log/slog"
)

// Log records events as structured log entries.
type Log struct {
	logger *slog.Logger
}

var _ Recorder = (*Log)(nil)

// NewLog returns a recorder that writes each event through the given logger
// at Info level, tagged as the audit component.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger.With("component", "audit")}
}

func (l *Log) Record(ctx context.Context, ev Event) error {
	attrs := []slog.Attr{
		slog.String("id", ev.ID),
		slog.String("event", string(ev.Type)),
		slog.String("actor", ev.Actor),
		slog.String("result", string(ev.Result)),
		slog.Time("time", ev.Time),
	}
	if ev.Entity != "" {
		attrs = append(attrs, slog.String("entity", ev.Entity))
	}
	if ev.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", ev.RemoteAddr))
	}
	for k, v := range ev.Detail {
		attrs = append(attrs, slog.String("detail."+k, v))
	}
	l.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	return nil
}
