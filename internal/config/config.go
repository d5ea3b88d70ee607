package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"slatrack/internal/alerting"
	"slatrack/internal/incidents"
	"slatrack/internal/samplesource"
)

const (
	DefaultPort      = 8080
	DefaultAdminPort = 8090
	DefaultNatsURL   = "nats://localhost:4222"
)

type Config struct {
	DatabaseURL string `yaml:"database_url"`
	NatsURL     string `yaml:"nats_url"`
	Port        int    `yaml:"port"`
	AdminPort   int    `yaml:"admin_port"`
	LogLevel    string `yaml:"log_level"`

	Incidents incidents.Options `yaml:"incidents"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Alerts    AlertsConfig      `yaml:"alerts"`

	// Sources maps a service id to the table its check results are read from.
	Sources map[string]samplesource.Config `yaml:"sources"`
}

type SchedulerConfig struct {
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	AlertInterval time.Duration `yaml:"alert_interval"`
}

type AlertsConfig struct {
	// PublishNATS sends alert events to sla.alerts.<level>.
	PublishNATS bool               `yaml:"publish_nats"`
	Webhooks    []alerting.Webhook `yaml:"webhooks"`
}

// Load reads the YAML file at path, when one is given, over the defaults and
// then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}
	applyEnv(cfg)
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		NatsURL:   DefaultNatsURL,
		Port:      DefaultPort,
		AdminPort: DefaultAdminPort,
		LogLevel:  "info",
		Incidents: incidents.DefaultOptions(),
		Scheduler: SchedulerConfig{
			Workers:       4,
			QueueSize:     128,
			JobTimeout:    30 * time.Second,
			TickInterval:  time.Minute,
			AlertInterval: 5 * time.Minute,
		},
		Alerts: AlertsConfig{PublishNATS: true},
	}
}

func applyEnv(cfg *Config) {
	cfg.DatabaseURL = getenv("DATABASE_URL", cfg.DatabaseURL)
	cfg.NatsURL = getenv("NATS_URL", cfg.NatsURL)
	cfg.Port = getenvInt("PORT", cfg.Port)
	cfg.AdminPort = getenvInt("ADMIN_PORT", cfg.AdminPort)
	cfg.LogLevel = getenv("LOG_LEVEL", cfg.LogLevel)
	cfg.Scheduler.Workers = getenvInt("WORKER_COUNT", cfg.Scheduler.Workers)
	if secs := getenvInt("JOB_TIMEOUT_SECONDS", 0); secs > 0 {
		cfg.Scheduler.JobTimeout = time.Duration(secs) * time.Second
	}
}

func validate(cfg *Config) error {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return fmt.Errorf("port %d is out of range [1, 65535]", cfg.Port)
	}
	if cfg.AdminPort <= 0 || cfg.AdminPort > 65535 {
		return fmt.Errorf("admin_port %d is out of range [1, 65535]", cfg.AdminPort)
	}
	if cfg.AdminPort == cfg.Port {
		return errors.New("admin_port must differ from port")
	}
	if _, err := parseLevel(cfg.LogLevel); err != nil {
		return err
	}
	if err := ValidateIncidents(cfg.Incidents); err != nil {
		return err
	}
	if cfg.Scheduler.Workers <= 0 {
		return errors.New("scheduler.workers must be positive")
	}
	if cfg.Scheduler.JobTimeout <= 0 || cfg.Scheduler.TickInterval <= 0 || cfg.Scheduler.AlertInterval <= 0 {
		return errors.New("scheduler durations must be positive")
	}
	for _, wh := range cfg.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "http":
		default:
			return fmt.Errorf("alerts.webhooks type %q unknown: want slack|http", wh.Type)
		}
	}
	for serviceID, src := range cfg.Sources {
		if err := src.Validate(); err != nil {
			return fmt.Errorf("sources.%s: %w", serviceID, err)
		}
	}
	return nil
}

// ValidateIncidents checks the incident builder tunables.
func ValidateIncidents(opts incidents.Options) error {
	if opts.HysteresisFailures < 1 {
		return errors.New("incidents.hysteresis_failures must be at least 1")
	}
	if opts.MinIncidentDuration < 0 || opts.MergeGap < 0 {
		return errors.New("incidents durations must not be negative")
	}
	return nil
}

func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(value string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level %q unknown: want debug|info|warn|error", value)
	}
	return level, nil
}

func getenv(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func getenvInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if parsed, err := strconv.Atoi(val); err == nil {
		return parsed
	}
	return fallback
}
