// Package samplesource pulls up/down check results for a service out of an
// external MySQL, PostgreSQL or SQL Server table.
package samplesource

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"slatrack/internal/sla"
)

const defaultLimit = 10000

type Config struct {
	Type        string `yaml:"type"` // mysql | postgres | mssql
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	SSLMode     string `yaml:"ssl_mode"`

	Table         string        `yaml:"table"`
	TimeColumn    string        `yaml:"time_column"`
	UpColumn      string        `yaml:"up_column"`
	ServiceColumn string        `yaml:"service_column"`
	ServiceValue  string        `yaml:"service_value"`
	Lookback      time.Duration `yaml:"lookback"`
	Limit         int           `yaml:"limit"`
}

func (c Config) password() string {
	if c.PasswordEnv != "" {
		if v := os.Getenv(c.PasswordEnv); v != "" {
			return v
		}
	}
	return c.Password
}

// Validate checks the settings that can be verified without a connection.
func (c Config) Validate() error {
	d, err := dialectFor(c.Type)
	if err != nil {
		return err
	}
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("host is required")
	}
	if c.ServiceColumn != "" && c.ServiceValue == "" {
		return errors.New("service_value is required when service_column is set")
	}
	_, err = d.selectSamples(c, 1)
	return err
}

type SQLSource struct {
	cfg     Config
	dialect dialect
	query   string
	db      *sql.DB
}

func New(cfg Config) (*SQLSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d, _ := dialectFor(cfg.Type)
	if cfg.Limit <= 0 {
		cfg.Limit = defaultLimit
	}
	if cfg.Lookback <= 0 {
		cfg.Lookback = 24 * time.Hour
	}
	query, err := d.selectSamples(cfg, cfg.Limit)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, d.dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", d.name, err)
	}
	return &SQLSource{cfg: cfg, dialect: d, query: query, db: db}, nil
}

func (s *SQLSource) Lookback() time.Duration {
	return s.cfg.Lookback
}

func (s *SQLSource) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", s.dialect.name, err)
	}
	return nil
}

func (s *SQLSource) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fetch returns the samples recorded in [from, to), oldest first. When the
// range holds more than the configured limit, the most recent samples are
// kept and the oldest are dropped.
func (s *SQLSource) Fetch(ctx context.Context, from, to time.Time) ([]sla.StatusSample, error) {
	args := []any{from.UTC(), to.UTC()}
	if s.cfg.ServiceColumn != "" {
		args = append(args, s.cfg.ServiceValue)
	}
	rows, err := s.db.QueryContext(ctx, s.query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s samples: %w", s.dialect.name, err)
	}
	defer rows.Close()
	samples := []sla.StatusSample{}
	for rows.Next() {
		var rawTime, rawUp any
		if err := rows.Scan(&rawTime, &rawUp); err != nil {
			return nil, fmt.Errorf("scan %s sample: %w", s.dialect.name, err)
		}
		at, ok := toTime(rawTime)
		if !ok {
			return nil, fmt.Errorf("sample time %v is not a timestamp", rawTime)
		}
		up, ok := toUp(rawUp)
		if !ok {
			return nil, fmt.Errorf("sample status %v is not a boolean", rawUp)
		}
		samples = append(samples, sla.StatusSample{Time: at.UTC(), Up: up})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s samples: %w", s.dialect.name, err)
	}
	return oldestFirst(samples), nil
}

// oldestFirst reverses a newest-first read in place.
func oldestFirst(samples []sla.StatusSample) []sla.StatusSample {
	for i, j := 0, len(samples)-1; i < j; i, j = i+1, j-1 {
		samples[i], samples[j] = samples[j], samples[i]
	}
	return samples
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		return parseTime(t)
	case []byte:
		return parseTime(string(t))
	default:
		return time.Time{}, false
	}
}

func parseTime(s string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02 15:04:05.999999999", s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// toUp accepts native booleans, numbers (non-zero is up) and the usual
// textual spellings.
func toUp(v any) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case int64:
		return t != 0, true
	case int32:
		return t != 0, true
	case int:
		return t != 0, true
	case float64:
		return t != 0, true
	case []byte:
		return textUp(string(t))
	case string:
		return textUp(t)
	default:
		return false, false
	}
}

func textUp(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "up", "ok", "pass", "passed", "healthy", "true", "t", "yes", "y":
		return true, true
	case "down", "fail", "failed", "unhealthy", "false", "f", "no", "n":
		return false, true
	}
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f != 0, true
	}
	return false, false
}
