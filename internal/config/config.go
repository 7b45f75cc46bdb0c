// Package config loads the service configuration from defaults, an optional
// file, a .env file and MSMERISK_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/opensource-finance/msme-risk/internal/bus"
	"github.com/opensource-finance/msme-risk/internal/domain"
	"github.com/opensource-finance/msme-risk/internal/scoring"
)

// EnvPrefix prefixes every environment override, e.g. MSMERISK_SERVER_PORT.
const EnvPrefix = "MSMERISK"

var ErrInvalid = errors.New("invalid configuration")

// Load builds the configuration. Precedence, lowest first: edition preset,
// config file at path (optional), environment. The edition itself may come
// from the file or MSMERISK_EDITION.
func Load(path string) (*domain.Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	base := domain.DefaultConfig()
	switch edition := domain.Edition(strings.ToLower(v.GetString("edition"))); edition {
	case "", domain.EditionCommunity:
	case domain.EditionPro:
		base = domain.ProConfig()
	default:
		return nil, fmt.Errorf("%w: unknown edition %q", ErrInvalid, edition)
	}
	setDefaults(v, "", reflect.ValueOf(*base))

	var cfg domain.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Edition = domain.Edition(strings.ToLower(string(cfg.Edition)))

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads the first existing file of paths (".env" when none are
// given) into the process environment. Variables already set win.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("failed to load env file", "path", p, "error", err)
			continue
		}
		slog.Debug("loaded env file", "path", p)
		return
	}
}

// Validate checks a decoded configuration.
func Validate(cfg *domain.Config) error {
	var errs []error

	if cfg.Edition != domain.EditionCommunity && cfg.Edition != domain.EditionPro {
		errs = append(errs, fmt.Errorf("edition must be community or pro, got %q", cfg.Edition))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if cfg.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit must not be negative"))
	}
	if cfg.Server.RateLimit > 0 && cfg.Server.RateLimitWindow <= 0 {
		errs = append(errs, fmt.Errorf("server.rate_limit_window must be positive when rate limiting"))
	}

	switch cfg.Repository.Driver {
	case domain.DriverSQLite, domain.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("repository.driver must be sqlite or postgres, got %q", cfg.Repository.Driver))
	}
	switch cfg.Cache.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.type must be memory or redis, got %q", cfg.Cache.Type))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.EventBus.Type)) {
	case bus.TypeChannel, bus.TypeNATS:
	default:
		errs = append(errs, fmt.Errorf("event_bus.type must be channel or nats, got %q", cfg.EventBus.Type))
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if err := scoring.Validate(cfg.Scoring); err != nil {
		errs = append(errs, fmt.Errorf("scoring: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ParseLevel maps a logging.level value to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logging.level: %w", err)
	}
	return l, nil
}

// setDefaults registers every leaf of v under its mapstructure key path so
// that AutomaticEnv can override keys the config file never mentions.
func setDefaults(vp *viper.Viper, prefix string, v reflect.Value) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		fv := v.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(vp, key, fv)
			continue
		}
		vp.SetDefault(key, fv.Interface())
	}
}
