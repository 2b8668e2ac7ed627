package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                 string        `mapstructure:"PORT"`
	Env                  string        `mapstructure:"ENV"`
	DatabaseURL          string        `mapstructure:"DATABASE_URL"`
	DBMaxConns           int32         `mapstructure:"DB_MAX_CONNS"`
	DBMinConns           int32         `mapstructure:"DB_MIN_CONNS"`
	DBConnectTimeout     time.Duration `mapstructure:"DB_CONNECT_TIMEOUT"`
	RedisURL             string        `mapstructure:"REDIS_URL"`
	SessionSecret        string        `mapstructure:"SESSION_SECRET"`
	SessionIdleTimeout   time.Duration `mapstructure:"SESSION_IDLE_TIMEOUT"`
	SessionSweepInterval time.Duration `mapstructure:"SESSION_SWEEP_INTERVAL"`
	BedCapacity          int           `mapstructure:"BED_CAPACITY"`
	ReadmissionWindow    time.Duration `mapstructure:"READMISSION_WINDOW"`
	DischargedVisibleFor time.Duration `mapstructure:"DISCHARGED_VISIBLE_FOR"`
	ReconcileInterval    time.Duration `mapstructure:"RECONCILE_INTERVAL"`
	ReconcileMaxAttempts int           `mapstructure:"RECONCILE_MAX_ATTEMPTS"`
	CORSOrigins          []string      `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS         float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst       int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout       time.Duration `mapstructure:"REQUEST_TIMEOUT"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "DB_CONNECT_TIMEOUT",
	"REDIS_URL", "SESSION_SECRET", "SESSION_IDLE_TIMEOUT", "SESSION_SWEEP_INTERVAL",
	"BED_CAPACITY", "READMISSION_WINDOW", "DISCHARGED_VISIBLE_FOR",
	"RECONCILE_INTERVAL", "RECONCILE_MAX_ATTEMPTS", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("DB_CONNECT_TIMEOUT", "10s")
	v.SetDefault("SESSION_IDLE_TIMEOUT", "15m")
	v.SetDefault("SESSION_SWEEP_INTERVAL", "1m")
	v.SetDefault("BED_CAPACITY", 50)
	v.SetDefault("READMISSION_WINDOW", "720h")
	v.SetDefault("DISCHARGED_VISIBLE_FOR", "24h")
	v.SetDefault("RECONCILE_INTERVAL", "30s")
	v.SetDefault("RECONCILE_MAX_ATTEMPTS", 10)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("REQUEST_TIMEOUT", "15s")

	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// .env is optional
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) <= 1 {
		if origins := v.GetString("CORS_ORIGINS"); origins != "" {
			cfg.CORSOrigins = splitList(origins)
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// devSessionSecret signs tokens in development when SESSION_SECRET is unset.
const devSessionSecret = "icu-development-session-secret-do-not-use"

// SigningKey returns the HMAC key for session tokens.
func (c *Config) SigningKey() []byte {
	if c.SessionSecret == "" && c.IsDev() {
		return []byte(devSessionSecret)
	}
	return []byte(c.SessionSecret)
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if !c.IsDev() && len(c.SessionSecret) < 32 {
		return fmt.Errorf("SESSION_SECRET must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) must not exceed DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.SessionIdleTimeout <= 0 {
		return fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}
	if c.SessionSweepInterval <= 0 {
		return fmt.Errorf("SESSION_SWEEP_INTERVAL must be positive")
	}
	if c.BedCapacity <= 0 {
		return fmt.Errorf("BED_CAPACITY must be positive, got %d", c.BedCapacity)
	}
	if c.ReadmissionWindow <= 0 {
		return fmt.Errorf("READMISSION_WINDOW must be positive")
	}
	if c.ReconcileMaxAttempts < 1 {
		return fmt.Errorf("RECONCILE_MAX_ATTEMPTS must be at least 1, got %d", c.ReconcileMaxAttempts)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	return nil
}
