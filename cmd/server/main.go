package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"slatrack/internal/alerting"
	"slatrack/internal/api"
	"slatrack/internal/bus"
	"slatrack/internal/config"
	"slatrack/internal/incidents"
	"slatrack/internal/metrics"
	"slatrack/internal/policy"
	"slatrack/internal/samplesource"
	"slatrack/internal/scheduler"
	"slatrack/internal/storage"
	"slatrack/internal/violation"
	"slatrack/internal/window"
)

func main() {
	configPath := getenv("CONFIG_PATH", "")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to db", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer store.Close()
	repo := storage.NewRepository(store)
	m := metrics.New()

	resolver := policy.NewResolver(repo)
	recorder := violation.NewRecorder(repo, logger)
	aggregator := window.NewAggregator(repo, resolver, recorder, m, logger)
	builder := incidents.NewBuilder(repo, cfg.Incidents, logger)

	dispatcher, publisher, err := buildDispatcher(cfg, logger)
	if err != nil {
		logger.Error("failed to configure alert dispatch", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if publisher != nil {
		defer publisher.Close()
	}
	cycle := alerting.NewCycle(repo, dispatcher, m, logger)

	sources, err := openSources(cfg.Sources)
	if err != nil {
		logger.Error("failed to open sample sources", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		for serviceID, src := range sources {
			if err := src.Close(); err != nil {
				logger.Warn("close sample source", slog.String("service_id", serviceID), slog.String("error", err.Error()))
			}
		}
	}()
	schedSources := make(map[string]scheduler.SampleSource, len(sources))
	for serviceID, src := range sources {
		schedSources[serviceID] = src
	}

	reg := scheduler.NewRegistry(scheduler.Deps{
		Services:  repo,
		Builder:   builder,
		Evaluator: aggregator,
		Alerts:    cycle,
		Sources:   schedSources,
		Metrics:   m,
		Logger:    logger,
	}, scheduler.Options{
		Workers:       cfg.Scheduler.Workers,
		QueueSize:     cfg.Scheduler.QueueSize,
		JobTimeout:    cfg.Scheduler.JobTimeout,
		TickInterval:  cfg.Scheduler.TickInterval,
		AlertInterval: cfg.Scheduler.AlertInterval,
	})
	reg.Start()
	defer reg.Stop()

	subscriber, err := bus.NewSubscriber(cfg.NatsURL, logger)
	if err != nil {
		// samples can still arrive over HTTP
		logger.Warn("nats unavailable, sample subscription disabled", slog.String("error", err.Error()))
	} else {
		defer subscriber.Close()
		_, err := subscriber.SubscribeSamples(bus.SamplesSubject, "slatrack", func(ctx context.Context, batch bus.SampleBatch) (int, error) {
			created, err := builder.Build(ctx, batch.ServiceID, batch.Samples)
			m.IncidentsCreated(created)
			if err == nil && created > 0 {
				if terr := reg.Trigger(batch.ServiceID); terr != nil {
					logger.Warn("recompute not scheduled", slog.String("service_id", batch.ServiceID), slog.String("error", terr.Error()))
				}
			}
			return created, err
		})
		if err != nil {
			logger.Error("failed to subscribe", slog.String("subject", bus.SamplesSubject), slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
				builder.SetOptions(next.Incidents)
				logger.Info("incident options updated",
					slog.Int("hysteresis_failures", next.Incidents.HysteresisFailures),
					slog.Duration("min_incident_duration", next.Incidents.MinIncidentDuration),
					slog.Duration("merge_gap", next.Incidents.MergeGap))
			})
			if err != nil {
				logger.Error("config watch stopped", slog.String("error", err.Error()))
			}
		}()
	}

	h := &api.Handler{
		Policies:   policy.NewService(repo, logger),
		Incidents:  incidents.NewCatalog(repo, logger),
		Builder:    builder,
		Windows:    aggregator,
		Violations: recorder,
		Metrics:    m,
		Logger:     logger,
		Timeout:    10 * time.Second,
	}
	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           api.NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	adminServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.AdminPort),
		Handler:           adminHandler(store, reg, m),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	for _, srv := range []*http.Server{apiServer, adminServer} {
		go func(srv *http.Server) {
			logger.Info("listening", slog.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("%s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, srv := range []*http.Server{apiServer, adminServer} {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown", slog.String("addr", srv.Addr), slog.String("error", err.Error()))
		}
	}
	logger.Info("stopped")
}

// buildDispatcher fans alert events out to every configured channel. Events
// are always logged.
func buildDispatcher(cfg *config.Config, logger *slog.Logger) (alerting.Dispatcher, *bus.Publisher, error) {
	dispatchers := alerting.MultiDispatcher{alerting.NewLogDispatcher(logger)}
	var publisher *bus.Publisher
	if cfg.Alerts.PublishNATS {
		p, err := bus.NewPublisher(cfg.NatsURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		publisher = p
		dispatchers = append(dispatchers, p)
	}
	if len(cfg.Alerts.Webhooks) > 0 {
		dispatchers = append(dispatchers, alerting.NewWebhookDispatcher(cfg.Alerts.Webhooks, nil, logger))
	}
	return dispatchers, publisher, nil
}

func openSources(cfgs map[string]samplesource.Config) (map[string]*samplesource.SQLSource, error) {
	out := make(map[string]*samplesource.SQLSource, len(cfgs))
	for serviceID, c := range cfgs {
		src, err := samplesource.New(c)
		if err != nil {
			for _, opened := range out {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("source %s: %w", serviceID, err)
		}
		out[serviceID] = src
	}
	return out, nil
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
