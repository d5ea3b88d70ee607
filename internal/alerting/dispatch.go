package alerting

import (
	"context"
	"errors"
	"log/slog"

	"slatrack/internal/sla"
)

// MultiDispatcher fans an event out to every dispatcher and joins their
// errors.
type MultiDispatcher []Dispatcher

func (m MultiDispatcher) Dispatch(ctx context.Context, evt sla.AlertEvent) error {
	var errs []error
	for _, d := range m {
		if err := d.Dispatch(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return joinErrors(errs)
}

type LogDispatcher struct {
	logger *slog.Logger
}

func NewLogDispatcher(logger *slog.Logger) *LogDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogDispatcher{logger: logger}
}

func (d *LogDispatcher) Dispatch(_ context.Context, evt sla.AlertEvent) error {
	d.logger.Warn("sla alert",
		slog.String("level", string(evt.Level)),
		slog.Int("count", evt.Count),
		slog.Time("at", evt.At))
	return nil
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
