package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"slatrack/internal/sla"
)

type Options struct {
	HysteresisFailures  int           `yaml:"hysteresis_failures"`
	MinIncidentDuration time.Duration `yaml:"min_incident_duration"`
	MergeGap            time.Duration `yaml:"merge_gap"`
}

func DefaultOptions() Options {
	return Options{HysteresisFailures: 3, MinIncidentDuration: time.Minute, MergeGap: 2 * time.Minute}
}

// IncidentWriter persists incidents. CreateIncident reports false when an
// incident with the same service and interval already exists.
type IncidentWriter interface {
	CreateIncident(ctx context.Context, incident sla.Incident) (bool, error)
}

type Builder struct {
	writer IncidentWriter
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	opts Options
}

func NewBuilder(writer IncidentWriter, opts Options, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{writer: writer, opts: opts, logger: logger, now: time.Now}
}

// WithClock replaces the clock used to close a downtime that is still open
// when the samples run out.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) SetOptions(opts Options) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = opts
}

func (b *Builder) Options() Options {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.opts
}

// Build turns samples into incidents for serviceID and returns how many new
// incidents were stored.
func (b *Builder) Build(ctx context.Context, serviceID string, samples []sla.StatusSample) (int, error) {
	if serviceID == "" {
		return 0, sla.NewValidationError("serviceId", "serviceId is required")
	}
	now := b.now().UTC()
	intervals := BuildIntervals(samples, b.Options(), now)
	created := 0
	for _, iv := range intervals {
		ok, err := b.writer.CreateIncident(ctx, sla.Incident{
			ID:        uuid.NewString(),
			ServiceID: serviceID,
			StartedAt: iv.Start,
			EndedAt:   iv.End,
			Source:    sla.SourceSamples,
			CreatedAt: now,
		})
		if err != nil {
			return created, fmt.Errorf("store incident for %s: %w", serviceID, err)
		}
		if ok {
			created++
		}
	}
	if len(intervals) > 0 {
		b.logger.Info("incidents built",
			slog.String("service_id", serviceID),
			slog.Int("samples", len(samples)),
			slog.Int("intervals", len(intervals)),
			slog.Int("created", created))
	}
	return created, nil
}

// BuildIntervals debounces samples into downtime intervals. A downtime opens
// at the sample where the consecutive failure count reaches the hysteresis
// threshold and closes at the next up sample, or at now when the samples end
// while still down. Intervals shorter than the minimum duration are dropped and
// the rest are merged when the gap between them is at most MergeGap.
func BuildIntervals(samples []sla.StatusSample, opts Options, now time.Time) []sla.Interval {
	if len(samples) == 0 {
		return nil
	}
	threshold := opts.HysteresisFailures
	if threshold < 1 {
		threshold = 1
	}
	sorted := make([]sla.StatusSample, len(samples))
	copy(sorted, samples)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	candidates := []sla.Interval{}
	keep := func(iv sla.Interval) {
		if !iv.Valid() || iv.Duration() < opts.MinIncidentDuration {
			return
		}
		candidates = append(candidates, iv)
	}

	failures := 0
	var openStart *time.Time
	for _, sample := range sorted {
		if !sample.Up {
			failures++
			if failures >= threshold && openStart == nil {
				start := sample.Time
				openStart = &start
			}
			continue
		}
		if openStart != nil {
			keep(sla.Interval{Start: *openStart, End: sample.Time})
			openStart = nil
		}
		failures = 0
	}
	if openStart != nil {
		keep(sla.Interval{Start: *openStart, End: now})
	}
	return mergeAdjacent(candidates, opts.MergeGap)
}

func mergeAdjacent(intervals []sla.Interval, gap time.Duration) []sla.Interval {
	if len(intervals) == 0 {
		return nil
	}
	merged := []sla.Interval{intervals[0]}
	for _, iv := range intervals[1:] {
		last := &merged[len(merged)-1]
		if iv.Start.Sub(last.End) <= gap {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
