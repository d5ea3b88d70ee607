package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"slatrack/internal/metrics"
	"slatrack/internal/sla"
	"slatrack/internal/window"
)

var ErrQueueFull = errors.New("task queue is full")

type ServiceLister interface {
	ListActiveServices(ctx context.Context, at time.Time) ([]string, error)
}

type IncidentBuilder interface {
	Build(ctx context.Context, serviceID string, samples []sla.StatusSample) (int, error)
}

type WindowEvaluator interface {
	EvaluateCurrent(ctx context.Context, serviceID string) ([]window.Evaluation, error)
}

type AlertRunner interface {
	Run(ctx context.Context) ([]sla.AlertEvent, error)
}

type SampleSource interface {
	Fetch(ctx context.Context, from, to time.Time) ([]sla.StatusSample, error)
	Lookback() time.Duration
}

type Options struct {
	Workers       int
	QueueSize     int
	JobTimeout    time.Duration
	TickInterval  time.Duration
	AlertInterval time.Duration
}

type Deps struct {
	Services  ServiceLister
	Builder   IncidentBuilder
	Evaluator WindowEvaluator
	Alerts    AlertRunner
	Sources   map[string]SampleSource
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Task struct {
	ServiceID string
	Reason    string
}

type JobInfo struct {
	ServiceID  string    `json:"serviceId"`
	HasSource  bool      `json:"hasSource"`
	Runs       int       `json:"runs"`
	Pending    bool      `json:"pending"`
	LastRunAt  time.Time `json:"lastRunAt,omitempty"`
	LastStatus string    `json:"lastStatus,omitempty"`
	LastError  string    `json:"lastError,omitempty"`
}

// Registry drives per-service recomputation: a ticker enqueues one task per
// service with an active policy and a fixed set of workers drains the queue.
type Registry struct {
	mu      sync.Mutex
	jobs    map[string]*JobInfo
	queue   chan Task
	deps    Deps
	opts    Options
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
	now     func() time.Time
}

func NewRegistry(deps Deps, opts Options) *Registry {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 128
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 30 * time.Second
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = time.Minute
	}
	if opts.AlertInterval <= 0 {
		opts.AlertInterval = 5 * time.Minute
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		jobs:   map[string]*JobInfo{},
		queue:  make(chan Task, opts.QueueSize),
		deps:   deps,
		opts:   opts,
		ctx:    ctx,
		cancel: cancel,
		now:    time.Now,
	}
}

// Start launches the workers and both tickers. It runs one tick immediately.
func (r *Registry) Start() {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	r.mu.Unlock()

	for i := 0; i < r.opts.Workers; i++ {
		r.wg.Add(1)
		go r.worker()
	}
	r.wg.Add(2)
	go r.runTicker(r.opts.TickInterval, func() {
		if err := r.Tick(r.ctx); err != nil {
			r.deps.Logger.Warn("scheduler tick failed, retrying next tick", slog.String("error", err.Error()))
		}
	})
	go r.runTicker(r.opts.AlertInterval, func() {
		_ = r.RunAlerts(r.ctx)
	})
}

// Stop cancels in-flight tasks and waits for the workers to exit.
func (r *Registry) Stop() {
	r.cancel()
	r.wg.Wait()
}

func (r *Registry) runTicker(interval time.Duration, fn func()) {
	defer r.wg.Done()
	fn()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *Registry) worker() {
	defer r.wg.Done()
	for {
		select {
		case task := <-r.queue:
			r.execute(task)
		case <-r.ctx.Done():
			return
		}
	}
}

// Tick enqueues one task for every service with an active policy. Services
// whose previous task is still queued are skipped.
func (r *Registry) Tick(ctx context.Context) error {
	services, err := r.deps.Services.ListActiveServices(ctx, r.now().UTC())
	if err != nil {
		r.deps.Metrics.TaskFailed(err)
		return fmt.Errorf("list active services: %w", err)
	}
	for _, id := range services {
		if err := r.enqueue(Task{ServiceID: id, Reason: "tick"}); err != nil && !errors.Is(err, errAlreadyPending) {
			r.deps.Logger.Warn("task dropped", slog.String("service_id", id), slog.String("error", err.Error()))
		}
	}
	return nil
}

// Trigger queues an out-of-band recomputation for one service.
func (r *Registry) Trigger(serviceID string) error {
	if serviceID == "" {
		return sla.NewValidationError("serviceId", "serviceId is required")
	}
	err := r.enqueue(Task{ServiceID: serviceID, Reason: "manual"})
	if errors.Is(err, errAlreadyPending) {
		return nil
	}
	return err
}

var errAlreadyPending = errors.New("task already pending")

func (r *Registry) enqueue(task Task) error {
	r.mu.Lock()
	job := r.jobLocked(task.ServiceID)
	if job.Pending {
		r.mu.Unlock()
		return errAlreadyPending
	}
	job.Pending = true
	r.mu.Unlock()

	select {
	case r.queue <- task:
		return nil
	default:
		r.mu.Lock()
		job.Pending = false
		r.mu.Unlock()
		return ErrQueueFull
	}
}

func (r *Registry) jobLocked(serviceID string) *JobInfo {
	job, ok := r.jobs[serviceID]
	if !ok {
		_, hasSource := r.deps.Sources[serviceID]
		job = &JobInfo{ServiceID: serviceID, HasSource: hasSource}
		r.jobs[serviceID] = job
	}
	return job
}

func (r *Registry) ListJobs() []JobInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	jobs := make([]JobInfo, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, *job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ServiceID < jobs[j].ServiceID })
	return jobs
}

func (r *Registry) execute(task Task) {
	ctx, cancel := context.WithTimeout(r.ctx, r.opts.JobTimeout)
	defer cancel()
	started := r.now()

	r.mu.Lock()
	r.jobLocked(task.ServiceID).Pending = false
	r.mu.Unlock()

	status, err := r.runTask(ctx, task.ServiceID)
	r.deps.Metrics.ObserveTask(time.Since(started).Seconds())

	r.mu.Lock()
	job := r.jobLocked(task.ServiceID)
	job.Runs++
	job.LastRunAt = started.UTC()
	job.LastStatus = status
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	r.mu.Unlock()

	if err == nil {
		return
	}
	r.deps.Metrics.TaskFailed(err)
	attrs := []any{
		slog.String("service_id", task.ServiceID),
		slog.String("reason", task.Reason),
		slog.String("code", sla.Code(err)),
		slog.String("error", err.Error()),
	}
	switch {
	case errors.Is(err, sla.ErrTransientStorage):
		r.deps.Logger.Warn("task failed, retrying next tick", attrs...)
	case errors.Is(err, sla.ErrNotFound):
		r.deps.Logger.Info("task skipped", attrs...)
	default:
		r.deps.Logger.Error("task failed", attrs...)
	}
}

// runTask refreshes incidents from the service's sample source, when one is
// configured, and then evaluates the current and previous periods.
func (r *Registry) runTask(ctx context.Context, serviceID string) (string, error) {
	if source, ok := r.deps.Sources[serviceID]; ok && r.deps.Builder != nil {
		to := r.now().UTC()
		samples, err := source.Fetch(ctx, to.Add(-source.Lookback()), to)
		if err != nil {
			return "", fmt.Errorf("fetch samples: %w", err)
		}
		created, err := r.deps.Builder.Build(ctx, serviceID, samples)
		r.deps.Metrics.IncidentsCreated(created)
		if err != nil {
			return "", err
		}
	}
	evaluations, err := r.deps.Evaluator.EvaluateCurrent(ctx, serviceID)
	if len(evaluations) == 0 {
		return "", err
	}
	return string(evaluations[len(evaluations)-1].Window.Status), err
}

func (r *Registry) RunAlerts(ctx context.Context) error {
	if r.deps.Alerts == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.opts.JobTimeout)
	defer cancel()
	events, err := r.deps.Alerts.Run(ctx)
	if err != nil {
		r.deps.Metrics.TaskFailed(err)
		r.deps.Logger.Warn("alert cycle failed", slog.String("error", err.Error()))
		return err
	}
	r.deps.Logger.Debug("alert cycle finished", slog.Int("events", len(events)))
	return nil
}
