package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration. Safety toggles
// (kill switch, live I/O, activation) are deliberately NOT here: they are
// raw environment booleans snapshotted once per process by the safety
// package, so a config file edit can never flip a live gate.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Resolver ResolverConfig `yaml:"resolver" mapstructure:"resolver"`
	Evidence EvidenceConfig `yaml:"evidence" mapstructure:"evidence"`
	Engine   EngineConfig   `yaml:"engine" mapstructure:"engine"`
	Reports  ReportsConfig  `yaml:"reports" mapstructure:"reports"`
	Import   ImportConfig   `yaml:"import" mapstructure:"import"`
	Live     LiveConfig     `yaml:"live" mapstructure:"live"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string     `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string     `yaml:"database_url" mapstructure:"database_url"`
	Pool        PoolConfig `yaml:"pool" mapstructure:"pool"`
}

// PoolConfig holds optional postgres connection pool tuning.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// ResolverConfig configures match resolution.
type ResolverConfig struct {
	RegistryPath string `yaml:"registry_path" mapstructure:"registry_path"`
	// WindowHours bounds the kickoff search window around a hint.
	WindowHours int `yaml:"window_hours" mapstructure:"window_hours"`
	// NoHintWindowHours bounds the window around now when no hint is given.
	NoHintWindowHours int `yaml:"no_hint_window_hours" mapstructure:"no_hint_window_hours"`
}

// EvidenceConfig configures evidence aggregation and quality scoring.
type EvidenceConfig struct {
	// FreshnessWindowHours is the horizon over which freshness decays 1→0.
	FreshnessWindowHours int `yaml:"freshness_window_hours" mapstructure:"freshness_window_hours"`
	// NumericTolerance is the max absolute numeric disagreement between
	// sources before a field counts as conflicting.
	NumericTolerance float64 `yaml:"numeric_tolerance" mapstructure:"numeric_tolerance"`
	MinSources       int     `yaml:"min_sources" mapstructure:"min_sources"`
}

// EngineConfig configures the decision engine defaults. Gate thresholds
// themselves are policy constants pinned by the policy version.
type EngineConfig struct {
	MinConfidence float64 `yaml:"min_confidence" mapstructure:"min_confidence"`
}

// ReportsConfig configures the report bundle tree and viewer.
type ReportsConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
	// ReadToken guards the viewer when set; empty leaves it open.
	ReadToken string `yaml:"read_token" mapstructure:"read_token"`
	// MaxBundles is the per-category retention limit for report bundles.
	MaxBundles int `yaml:"max_bundles" mapstructure:"max_bundles"`
}

// ImportConfig configures recorded snapshot ingestion.
type ImportConfig struct {
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries" mapstructure:"max_retries"`
}

// LiveConfig configures the live shadow connector path.
type LiveConfig struct {
	RequestTimeoutSecs int     `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	RatePerSec         float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
	Burst              int     `yaml:"burst" mapstructure:"burst"`
}

// ServerConfig configures the reports viewer server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("DECISION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "decision.db")
	v.SetDefault("resolver.registry_path", "teams.yaml")
	v.SetDefault("resolver.window_hours", 24)
	v.SetDefault("resolver.no_hint_window_hours", 72)
	v.SetDefault("evidence.freshness_window_hours", 72)
	v.SetDefault("evidence.numeric_tolerance", 0.1)
	v.SetDefault("evidence.min_sources", 1)
	v.SetDefault("engine.min_confidence", 0.62)
	v.SetDefault("reports.dir", "reports")
	v.SetDefault("reports.max_bundles", 30)
	v.SetDefault("import.user_agent", "decision-cli/1.0")
	v.SetDefault("import.timeout_secs", 30)
	v.SetDefault("import.max_retries", 3)
	v.SetDefault("live.request_timeout_secs", 10)
	v.SetDefault("live.rate_per_sec", 2)
	v.SetDefault("live.burst", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the configuration for the given command mode. Shared
// bounds are always checked; per-mode requirements only for that mode.
func (c *Config) Validate(mode string) error {
	var problems []string

	if c.Engine.MinConfidence < 0 || c.Engine.MinConfidence > 1 {
		problems = append(problems, "engine.min_confidence must be in [0, 1]")
	}
	if c.Evidence.NumericTolerance < 0 {
		problems = append(problems, "evidence.numeric_tolerance must be >= 0")
	}
	if c.Evidence.FreshnessWindowHours <= 0 {
		problems = append(problems, "evidence.freshness_window_hours must be > 0")
	}
	if c.Resolver.WindowHours <= 0 || c.Resolver.NoHintWindowHours <= 0 {
		problems = append(problems, "resolver window hours must be > 0")
	}
	if c.Reports.MaxBundles < 1 || c.Reports.MaxBundles > 500 {
		problems = append(problems, "reports.max_bundles must be between 1 and 500")
	}

	switch mode {
	case "run", "import", "measure", "graduate", "burnin", "runs":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	case "serve":
		if c.Server.Port <= 0 {
			problems = append(problems, "server.port must be > 0")
		}
		if c.Reports.Dir == "" {
			problems = append(problems, "reports.dir is required")
		}
	case "health", "resolve":
		// No extra requirements beyond the shared bounds.
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.New("config: " + strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
