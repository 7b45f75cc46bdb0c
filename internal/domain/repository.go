// Package domain defines the core interfaces and types of the risk service.
package domain

import (
	"context"
	"time"
)

// Repository persists policy rules and scoring profiles.
// All methods require tenantID for strict multi-tenancy isolation.
// Assessments themselves are never stored.
type Repository interface {
	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, tenantID string, rule *RuleConfig) error
	GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*RuleConfig, error)
	ListRuleConfigs(ctx context.Context, tenantID string) ([]*RuleConfig, error)
	DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error

	// Scoring profile operations
	SaveProfile(ctx context.Context, tenantID string, profile *ScoringProfile) error
	GetProfile(ctx context.Context, tenantID string, name string) (*ScoringProfile, error)
	ListProfiles(ctx context.Context, tenantID string) ([]*ScoringProfile, error)
	DeleteProfile(ctx context.Context, tenantID string, name string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// Repository drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: DriverSQLite or DriverPostgres
	Driver string `mapstructure:"driver"`

	// SQLite specific. ":memory:" keeps the database in process.
	SQLitePath string `mapstructure:"sqlite_path"`

	// PostgreSQL specific. PostgresURL (postgres://...) takes precedence
	// over the individual settings.
	PostgresURL      string `mapstructure:"postgres_url"`
	PostgresHost     string `mapstructure:"postgres_host"`
	PostgresPort     int    `mapstructure:"postgres_port"`
	PostgresUser     string `mapstructure:"postgres_user"`
	PostgresPassword string `mapstructure:"postgres_password"`
	PostgresDB       string `mapstructure:"postgres_db"`
	PostgresSSLMode  string `mapstructure:"postgres_sslmode"`

	// Connection pool settings
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}
