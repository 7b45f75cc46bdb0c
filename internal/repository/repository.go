// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/msme-risk/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration and migrates its schema.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case domain.DriverSQLite:
		db, err = openSQLite(cfg)
	case domain.DriverPostgres:
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != MemoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := NewWithDB(db, cfg.Driver)

	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// NewWithDB wraps an already opened database. The schema is not migrated.
func NewWithDB(db *sql.DB, driver string) *SQLRepository {
	return &SQLRepository{db: db, driver: driver}
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveRuleConfig stores a rule configuration with tenant isolation.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, tenantID string, rule *domain.RuleConfig) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if rule == nil || rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", ErrInvalidInput)
	}

	bands, err := json.Marshal(rule.Bands)
	if err != nil {
		return fmt.Errorf("failed to encode bands: %w", err)
	}

	version := rule.Version
	if version == "" {
		version = "1.0.0"
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, tenant_id, name, description, version, expression, bands, weight, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id, tenant_id, version) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			bands = excluded.bands,
			weight = excluded.weight,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, tenantID, rule.Name, rule.Description,
		version, rule.Expression, string(bands), rule.Weight, boolToInt(rule.Enabled),
		now, now,
	)
	return err
}

// GetRuleConfig retrieves the newest enabled version of a rule.
func (r *SQLRepository) GetRuleConfig(ctx context.Context, tenantID string, ruleID string) (*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND id = ? AND enabled = 1
		ORDER BY version DESC
		LIMIT 1
	`

	cfg, err := scanRule(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, ruleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListRuleConfigs retrieves all enabled rule configurations for a tenant,
// ordered so that later versions of the same rule come last.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context, tenantID string) ([]*domain.RuleConfig, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, name, description, version, expression, bands, weight, enabled
		FROM rule_configs
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY id, version
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		cfg, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, rows.Err()
}

// DeleteRuleConfig disables every version of a rule.
func (r *SQLRepository) DeleteRuleConfig(ctx context.Context, tenantID string, ruleID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE rule_configs SET enabled = 0, updated_at = ? WHERE tenant_id = ? AND id = ? AND enabled = 1`
	return r.execAffecting(ctx, query, time.Now().UTC(), tenantID, ruleID)
}

// SaveProfile stores a scoring profile, keeping its original creation time on update.
func (r *SQLRepository) SaveProfile(ctx context.Context, tenantID string, profile *domain.ScoringProfile) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if profile == nil || profile.Name == "" {
		return fmt.Errorf("%w: profile name is required", ErrInvalidInput)
	}

	config, err := json.Marshal(profile.Config)
	if err != nil {
		return fmt.Errorf("failed to encode profile config: %w", err)
	}

	now := time.Now().UTC()

	query := `
		INSERT INTO scoring_profiles (
			name, tenant_id, description, version, config, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, tenant_id) DO UPDATE SET
			description = excluded.description,
			version = excluded.version,
			config = excluded.config,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		profile.Name, tenantID, profile.Description, profile.Version,
		string(config), boolToInt(profile.Enabled), now, now,
	)
	return err
}

// GetProfile retrieves an enabled scoring profile by name.
func (r *SQLRepository) GetProfile(ctx context.Context, tenantID string, name string) (*domain.ScoringProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT name, tenant_id, description, version, config, enabled, created_at, updated_at
		FROM scoring_profiles
		WHERE tenant_id = ? AND name = ? AND enabled = 1
	`

	p, err := scanProfile(r.db.QueryRowContext(ctx, r.rebind(query), tenantID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// ListProfiles retrieves all enabled scoring profiles for a tenant.
func (r *SQLRepository) ListProfiles(ctx context.Context, tenantID string) ([]*domain.ScoringProfile, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT name, tenant_id, description, version, config, enabled, created_at, updated_at
		FROM scoring_profiles
		WHERE tenant_id = ? AND enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []*domain.ScoringProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}

	return profiles, rows.Err()
}

// DeleteProfile disables a scoring profile.
func (r *SQLRepository) DeleteProfile(ctx context.Context, tenantID string, name string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `UPDATE scoring_profiles SET enabled = 0, updated_at = ? WHERE tenant_id = ? AND name = ? AND enabled = 1`
	return r.execAffecting(ctx, query, time.Now().UTC(), tenantID, name)
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// execAffecting runs a statement and reports ErrNotFound when no row changed.
func (r *SQLRepository) execAffecting(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, r.rebind(query), args...)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRule(s scanner) (*domain.RuleConfig, error) {
	var cfg domain.RuleConfig
	var bands string
	var enabled int

	if err := s.Scan(
		&cfg.ID, &cfg.TenantID, &cfg.Name, &cfg.Description,
		&cfg.Version, &cfg.Expression, &bands, &cfg.Weight, &enabled,
	); err != nil {
		return nil, err
	}

	if bands != "" {
		if err := json.Unmarshal([]byte(bands), &cfg.Bands); err != nil {
			return nil, fmt.Errorf("rule %s: corrupt bands: %w", cfg.ID, err)
		}
	}
	cfg.Enabled = enabled == 1

	return &cfg, nil
}

func scanProfile(s scanner) (*domain.ScoringProfile, error) {
	var p domain.ScoringProfile
	var config string
	var enabled int

	if err := s.Scan(
		&p.Name, &p.TenantID, &p.Description, &p.Version,
		&config, &enabled, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(config), &p.Config); err != nil {
		return nil, fmt.Errorf("profile %s: corrupt config: %w", p.Name, err)
	}
	p.Enabled = enabled == 1

	return &p, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != domain.DriverPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
