package feedback

import (
	"context"
	"log/slog"

	"github.com/Notoriousjayy/CIFlowDocs/internal/logfields"
)

// LogChannel writes notifications to the structured log. It is the default
// channel and can never fail, which makes it the safety net when every
// external channel is down.
type LogChannel struct {
	name string
}

// NewLogChannel creates a log channel with the configured name.
func NewLogChannel(name string) *LogChannel {
	return &LogChannel{name: name}
}

func (c *LogChannel) Name() string { return c.name }

func (c *LogChannel) Send(ctx context.Context, ev Event) error {
	attrs := []any{
		slog.String("kind", string(ev.Kind)),
		logfields.Pipeline(ev.Pipeline),
		logfields.BuildID(ev.BuildID),
	}
	if ev.Revision != "" {
		attrs = append(attrs, logfields.Revision(ev.Revision))
	}
	if ev.Label != "" {
		attrs = append(attrs, logfields.Label(ev.Label))
	}
	slog.Info(ev.Summary, attrs...)
	return nil
}
