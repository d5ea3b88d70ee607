// Package alerting scans stored windows and notifies a dispatcher about
// services that are at risk of, or already in, breach of their target.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"slatrack/internal/metrics"
	"slatrack/internal/sla"
)

type WindowCounter interface {
	CountWindowsByStatus(ctx context.Context, statuses ...sla.Status) (map[sla.Status]int, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, evt sla.AlertEvent) error
}

type Cycle struct {
	store      WindowCounter
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
	now        func() time.Time
}

func NewCycle(store WindowCounter, dispatcher Dispatcher, m *metrics.Metrics, logger *slog.Logger) *Cycle {
	if logger == nil {
		logger = slog.Default()
	}
	if dispatcher == nil {
		dispatcher = NewLogDispatcher(logger)
	}
	return &Cycle{store: store, dispatcher: dispatcher, metrics: m, logger: logger, now: time.Now}
}

func (c *Cycle) WithClock(now func() time.Time) *Cycle {
	c.now = now
	return c
}

// Run counts AT_RISK and BREACHED windows and emits one event per non-empty
// group. Closed periods are counted too, so a BREACHED count includes every
// historic breach still stored. Window and violation state is never
// modified. Dispatch failures do not stop the remaining groups; they are
// returned joined.
func (c *Cycle) Run(ctx context.Context) ([]sla.AlertEvent, error) {
	at := c.now().UTC()
	counts, err := c.store.CountWindowsByStatus(ctx, sla.StatusAtRisk, sla.StatusBreached)
	if err != nil {
		return nil, fmt.Errorf("count windows: %w", err)
	}
	var events []sla.AlertEvent
	var failed []error
	for _, level := range []sla.Status{sla.StatusAtRisk, sla.StatusBreached} {
		count := counts[level]
		c.metrics.AlertWindows(level, count)
		if count == 0 {
			continue
		}
		evt := sla.AlertEvent{Level: level, Count: count, At: at}
		if err := c.dispatcher.Dispatch(ctx, evt); err != nil {
			c.logger.Error("alert dispatch failed",
				slog.String("level", string(level)),
				slog.Int("count", count),
				slog.String("error", err.Error()))
			failed = append(failed, fmt.Errorf("dispatch %s: %w", level, err))
			continue
		}
		events = append(events, evt)
	}
	return events, joinErrors(failed)
}
