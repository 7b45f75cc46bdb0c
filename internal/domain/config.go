package domain

import "time"

// Config holds the complete service configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Edition determines which backends are used by default
	Edition Edition `json:"edition" mapstructure:"edition"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`
	Worker     WorkerConfig     `json:"worker" mapstructure:"worker"`
	Rules      RulesConfig      `json:"rules" mapstructure:"rules"`

	// Scoring holds the tables of the built-in default profile
	Scoring ScoringConfig `json:"scoring" mapstructure:"scoring"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds

	// Per-tenant fixed window limit on assessment requests. 0 disables it.
	RateLimit       int `json:"rateLimit" mapstructure:"rate_limit"`
	RateLimitWindow int `json:"rateLimitWindow" mapstructure:"rate_limit_window"` // seconds
}

// WorkerConfig controls the asynchronous assessment worker.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" mapstructure:"enabled"`
	Tenants []string `json:"tenants" mapstructure:"tenants"`
}

// RulesConfig controls the policy rule engine.
type RulesConfig struct {
	MaxWorkers int `json:"maxWorkers" mapstructure:"max_workers"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName string `json:"serviceName" mapstructure:"service_name"`
}

// Edition represents the deployment flavour.
type Edition string

const (
	// EditionCommunity runs on SQLite, an in-process cache and channels
	EditionCommunity Edition = "community"

	// EditionPro runs on PostgreSQL, Redis and NATS
	EditionPro Edition = "pro"
)

// DefaultConfig returns a default configuration for the Community edition.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30,
			WriteTimeout:    30,
			RateLimitWindow: 60,
		},
		Edition: EditionCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./msmerisk.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Tenants: []string{"*"},
		},
		Rules: RulesConfig{
			MaxWorkers: 10,
		},
		Scoring: DefaultScoringConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "msmerisk",
		},
	}
}

// ProConfig returns a configuration for the Pro edition.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Edition = EditionPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "msmerisk",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Worker.Enabled = true
	cfg.Tracing.Enabled = true
	return cfg
}

// DefaultScoringConfig returns the reference scoring tables.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights: CategoryWeights{Core: 0.5, Alternative: 0.3, Metadata: 0.2},
		Caps: NormalizationCaps{
			VintageYears:       10,
			DelayPenalty:       0.2,
			AnnualTurnover:     500,
			ProfitMarginOffset: 0.2,
			ProfitMarginSpan:   0.4,
			GSTDelayDays:       90,
			UPIMonthlyVolume:   10,
			SocialRating:       5,
			AvgMonthlyBalance:  100,
			EcommerceRating:    5,
			ReturnRateCeiling:  0.5,
			EmployeeCount:      50,
		},
		Thresholds: TierThresholds{LowRisk: 70, ModerateRisk: 40},
		Industry:   IndustryScores{Low: 1.0, Medium: 0.6, High: 0.3},
		Location:   LocationScores{Urban: 1.0, Rural: 0.8},
		PDFloor:    0.01,
		PDCeiling:  0.99,
	}
}
