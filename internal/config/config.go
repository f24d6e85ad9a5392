package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Database DatabaseConfig `mapstructure:"database"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	ReadTimeout        time.Duration `mapstructure:"read_timeout"`
	WriteTimeout       time.Duration `mapstructure:"write_timeout"`
	IdleTimeout        time.Duration `mapstructure:"idle_timeout"`
	CORSAllowedOrigins string        `mapstructure:"cors_allowed_origins"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	JWTSecret       string        `mapstructure:"jwt_secret"`
	AccessTokenTTL  time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL time.Duration `mapstructure:"refresh_token_ttl"`
}

// DatabaseConfig holds Postgres connection settings for the history,
// fundamentals, and backtest-report tables of spec.md §6.
type DatabaseConfig struct {
	Host        string        `mapstructure:"host"`
	Port        int           `mapstructure:"port"`
	User        string        `mapstructure:"user"`
	Password    string        `mapstructure:"password"`
	Database    string        `mapstructure:"database"`
	MaxConns    int           `mapstructure:"max_conns"`
	MinConns    int           `mapstructure:"min_conns"`
	MaxConnLife time.Duration `mapstructure:"max_conn_life"`
}

// EngineConfig holds the factor/signal/backtest engine's tunables.
type EngineConfig struct {
	MaxParallelBacktests int                     `mapstructure:"max_parallel_backtests"`
	BacktestTimeout      time.Duration            `mapstructure:"backtest_timeout"`
	RiskFreeRate         float64                  `mapstructure:"risk_free_rate"`
	CommissionSchedule   string                   `mapstructure:"commission_schedule"`
	StrategyDir          string                   `mapstructure:"strategy_dir"`
	SmartFilter          SmartFilterConfig        `mapstructure:"smart_filter"`
}

// SmartFilterConfig is loaded from the smart_filter section, but nothing
// reads it: the universe preset is always picked by asset type in
// backtest.DefaultFilterConfig, and these values have no effect.
type SmartFilterConfig struct {
	ETFPreset    string `mapstructure:"etf_preset"`    // "conservative" | "balanced" | "aggressive"
	AShareTarget int    `mapstructure:"ashare_target"` // target_count for the balanced A-share preset
}

// RateLimitConfig holds the HTTP API's per-client request throttling.
type RateLimitConfig struct {
	RequestsPerSecond   float64       `mapstructure:"requests_per_second"`
	Burst               int           `mapstructure:"burst"`
	CleanupInterval     time.Duration `mapstructure:"cleanup_interval"`
	BacktestEndpointRPS float64       `mapstructure:"backtest_endpoint_rps"`
	SignalEndpointRPS   float64       `mapstructure:"signal_endpoint_rps"`
}

// LoggingConfig holds structured-logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // "json" or "console"
	TimeFormat string `mapstructure:"time_format"`
}

// Load reads configuration from file and CNQUANT_-prefixed environment
// variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.SetEnvPrefix("CNQUANT")
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if v.IsSet("JWT_SECRET") {
		config.Auth.JWTSecret = v.GetString("JWT_SECRET")
	}
	if v.IsSet("DB_HOST") {
		config.Database.Host = v.GetString("DB_HOST")
	}
	if v.IsSet("DB_PORT") {
		config.Database.Port = v.GetInt("DB_PORT")
	}
	if v.IsSet("DB_USER") {
		config.Database.User = v.GetString("DB_USER")
	}
	if v.IsSet("DB_PASSWORD") {
		config.Database.Password = v.GetString("DB_PASSWORD")
	}
	if v.IsSet("DB_NAME") {
		config.Database.Database = v.GetString("DB_NAME")
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.cors_allowed_origins", "*")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "cnquant")
	v.SetDefault("database.database", "cnquant")
	v.SetDefault("database.max_conns", 25)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_life", 5*time.Minute)

	v.SetDefault("engine.max_parallel_backtests", 4)
	v.SetDefault("engine.backtest_timeout", 10*time.Minute)
	v.SetDefault("engine.risk_free_rate", 0.03)
	v.SetDefault("engine.commission_schedule", "v1")
	v.SetDefault("engine.strategy_dir", "./strategies")
	v.SetDefault("engine.smart_filter.etf_preset", "balanced")
	v.SetDefault("engine.smart_filter.ashare_target", 300)

	v.SetDefault("rate_limit.requests_per_second", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.cleanup_interval", 3*time.Minute)
	v.SetDefault("rate_limit.backtest_endpoint_rps", 1.0)
	v.SetDefault("rate_limit.signal_endpoint_rps", 5.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.time_format", time.RFC3339)
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Database,
	)
}
