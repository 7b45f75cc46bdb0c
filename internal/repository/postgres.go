package repository

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

const pingTimeout = 5 * time.Second

// openPostgres opens and pings a PostgreSQL connection pool.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	dsn, err := postgresDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(domain.DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres database: %w", err)
	}

	return db, nil
}

// postgresDSN builds a lib/pq key/value connection string. A configured URL
// is converted with pq.ParseURL; otherwise every value is quoted so
// passwords may contain spaces, quotes and backslashes.
func postgresDSN(cfg domain.RepositoryConfig) (string, error) {
	if cfg.PostgresURL != "" {
		dsn, err := pq.ParseURL(cfg.PostgresURL)
		if err != nil {
			return "", fmt.Errorf("%w: postgres_url: %v", ErrInvalidInput, err)
		}
		return dsn, nil
	}

	params := []struct{ key, value string }{
		{"host", cmp.Or(cfg.PostgresHost, "localhost")},
		{"port", strconv.Itoa(cmp.Or(cfg.PostgresPort, 5432))},
		{"user", cfg.PostgresUser},
		{"password", cfg.PostgresPassword},
		{"dbname", cmp.Or(cfg.PostgresDB, "msmerisk")},
		{"sslmode", cmp.Or(cfg.PostgresSSLMode, "disable")},
		{"application_name", "msmerisk"},
	}

	parts := make([]string, 0, len(params))
	for _, p := range params {
		if p.value == "" {
			continue
		}
		parts = append(parts, p.key+"="+quoteDSNValue(p.value))
	}
	return strings.Join(parts, " "), nil
}

var dsnEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

func quoteDSNValue(v string) string {
	return "'" + dsnEscaper.Replace(v) + "'"
}
