package samplesource

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/microsoft/go-mssqldb"
)

type dialect struct {
	name        string
	driver      string
	maxSegments int
	quote       func(string) string
	placeholder func(n int) string
	// top is true when the row limit goes after SELECT instead of at the end
	top bool
}

var (
	mysqlDialect = dialect{
		name:        "mysql",
		driver:      "mysql",
		maxSegments: 2,
		quote:       func(s string) string { return "`" + s + "`" },
		placeholder: func(int) string { return "?" },
	}
	postgresDialect = dialect{
		name:        "postgres",
		driver:      "postgres",
		maxSegments: 2,
		quote:       func(s string) string { return `"` + s + `"` },
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
	mssqlDialect = dialect{
		name:        "mssql",
		driver:      "sqlserver",
		maxSegments: 2,
		quote:       func(s string) string { return "[" + s + "]" },
		placeholder: func(n int) string { return fmt.Sprintf("@p%d", n) },
		top:         true,
	}
)

func dialectFor(kind string) (dialect, error) {
	if strings.TrimSpace(kind) == "" {
		return dialect{}, errors.New("source type is required")
	}
	switch strings.ToLower(kind) {
	case "mysql":
		return mysqlDialect, nil
	case "postgres", "postgresql":
		return postgresDialect, nil
	case "mssql", "sqlserver":
		return mssqlDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database type %q", kind)
	}
}

func (d dialect) dsn(cfg Config) string {
	password := cfg.password()
	switch d.name {
	case "mysql":
		port := portOr(cfg.Port, 3306)
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", cfg.User, password, cfg.Host, port, cfg.Database)
		sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
		if sslMode == "disable" {
			dsn += "&tls=false"
		} else if sslMode != "" {
			dsn += "&tls=true"
		}
		return dsn
	case "mssql":
		encrypt := "true"
		if strings.EqualFold(strings.TrimSpace(cfg.SSLMode), "disable") {
			encrypt = "disable"
		}
		return fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
			url.QueryEscape(cfg.User), url.QueryEscape(password), cfg.Host, portOr(cfg.Port, 1433), url.QueryEscape(cfg.Database), encrypt)
	default:
		sslMode := strings.ToLower(strings.TrimSpace(cfg.SSLMode))
		if sslMode == "" {
			sslMode = "disable"
		}
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, portOr(cfg.Port, 5432), cfg.User, password, cfg.Database, sslMode)
	}
}

func portOr(port, fallback int) int {
	if port == 0 {
		return fallback
	}
	return port
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

func splitIdentifier(ident string) ([]string, error) {
	trimmed := strings.TrimSpace(ident)
	if trimmed == "" {
		return nil, errors.New("identifier is empty")
	}
	parts := strings.Split(trimmed, ".")
	for _, part := range parts {
		if part == "" {
			return nil, errors.New("identifier contains empty segment")
		}
		if !identPattern.MatchString(part) {
			return nil, fmt.Errorf("identifier segment %q is invalid", part)
		}
	}
	return parts, nil
}

func (d dialect) quoteTable(ident string) (string, error) {
	parts, err := splitIdentifier(ident)
	if err != nil {
		return "", fmt.Errorf("invalid %s table: %w", d.name, err)
	}
	if len(parts) > d.maxSegments {
		return "", fmt.Errorf("invalid %s table: identifier %q has too many segments", d.name, ident)
	}
	if d.name == "mssql" && len(parts) == 1 {
		parts = []string{"dbo", parts[0]}
	}
	quoted := make([]string, len(parts))
	for i, part := range parts {
		quoted[i] = d.quote(part)
	}
	return strings.Join(quoted, "."), nil
}

func (d dialect) quoteColumn(name string) (string, error) {
	parts, err := splitIdentifier(name)
	if err != nil || len(parts) != 1 {
		return "", fmt.Errorf("invalid column name %q", name)
	}
	return d.quote(name), nil
}

// selectSamples builds the windowed sample query. Arguments are bound in the
// order from, to and, when filtering by service, the service value.
func (d dialect) selectSamples(cfg Config, limit int) (string, error) {
	table, err := d.quoteTable(cfg.Table)
	if err != nil {
		return "", err
	}
	ts, err := d.quoteColumn(cfg.TimeColumn)
	if err != nil {
		return "", err
	}
	up, err := d.quoteColumn(cfg.UpColumn)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("SELECT ")
	if d.top {
		fmt.Fprintf(&b, "TOP (%d) ", limit)
	}
	fmt.Fprintf(&b, "%s, %s FROM %s WHERE %s >= %s AND %s < %s", ts, up, table, ts, d.placeholder(1), ts, d.placeholder(2))
	if cfg.ServiceColumn != "" {
		svc, err := d.quoteColumn(cfg.ServiceColumn)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, " AND %s = %s", svc, d.placeholder(3))
	}
	// newest first so a truncated read keeps the recent end of the range
	fmt.Fprintf(&b, " ORDER BY %s DESC", ts)
	if !d.top {
		fmt.Fprintf(&b, " LIMIT %d", limit)
	}
	return b.String(), nil
}
