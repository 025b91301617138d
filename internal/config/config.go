package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Port        string   `mapstructure:"PORT"`
	Env         string   `mapstructure:"ENV"`
	DatabaseURL string   `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL    string   `mapstructure:"REDIS_URL"`
	AuthIssuer  string   `mapstructure:"AUTH_ISSUER"`
	CORSOrigins []string `mapstructure:"CORS_ORIGINS"`

	// Admin routes accept HS256 tokens signed with this secret.
	AdminJWTSecret string `mapstructure:"ADMIN_JWT_SECRET"`

	CacheTTL  time.Duration `mapstructure:"CACHE_TTL"`
	CacheSize int           `mapstructure:"CACHE_SIZE"`

	TerminologyDir   string `mapstructure:"TERMINOLOGY_DIR"`
	NamasteXLSX      string `mapstructure:"NAMASTE_XLSX"`
	NamasteSystemURL string `mapstructure:"NAMASTE_SYSTEM_URL"`

	TranslateSymmetricInversion bool `mapstructure:"TRANSLATE_SYMMETRIC_INVERSION"`
	TranslateMaxHops            int  `mapstructure:"TRANSLATE_MAX_HOPS"`

	ExpandDefaultCount int `mapstructure:"EXPAND_DEFAULT_COUNT"`
	ExpandMaxCount     int `mapstructure:"EXPAND_MAX_COUNT"`

	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	ReloadInterval time.Duration `mapstructure:"RELOAD_INTERVAL"`
}

var keys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "REDIS_URL",
	"AUTH_ISSUER", "CORS_ORIGINS", "ADMIN_JWT_SECRET", "CACHE_TTL", "CACHE_SIZE",
	"TERMINOLOGY_DIR", "NAMASTE_XLSX", "NAMASTE_SYSTEM_URL",
	"TRANSLATE_SYMMETRIC_INVERSION", "TRANSLATE_MAX_HOPS",
	"EXPAND_DEFAULT_COUNT", "EXPAND_MAX_COUNT", "REQUEST_TIMEOUT", "RELOAD_INTERVAL",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 10)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("CACHE_TTL", "10m")
	v.SetDefault("CACHE_SIZE", 1024)
	v.SetDefault("NAMASTE_SYSTEM_URL", "https://ayush.gov.in/fhir/CodeSystem/namaste")
	v.SetDefault("TRANSLATE_SYMMETRIC_INVERSION", false)
	v.SetDefault("TRANSLATE_MAX_HOPS", 1)
	v.SetDefault("EXPAND_DEFAULT_COUNT", 20)
	v.SetDefault("EXPAND_MAX_COUNT", 1000)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("RELOAD_INTERVAL", "0s")

	// Bind explicitly so Unmarshal sees variables that have no default.
	for _, k := range keys {
		_ = v.BindEnv(k)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.CORSOrigins) == 1 && strings.Contains(cfg.CORSOrigins[0], ",") {
		cfg.CORSOrigins = strings.Split(cfg.CORSOrigins[0], ",")
	}
	for i := range cfg.CORSOrigins {
		cfg.CORSOrigins[i] = strings.TrimSpace(cfg.CORSOrigins[i])
	}

	if cfg.IsDev() {
		log.Warn().Msg("development mode: admin routes are not authenticated")
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// HasSource reports whether any terminology source is configured.
func (c *Config) HasSource() bool {
	return c.DatabaseURL != "" || c.TerminologyDir != "" || c.NamasteXLSX != ""
}

// Validate checks that the configuration can serve requests.
func (c *Config) Validate() error {
	if !c.HasSource() {
		return fmt.Errorf("at least one of DATABASE_URL, TERMINOLOGY_DIR or NAMASTE_XLSX must be set")
	}
	if !c.IsDev() && c.AdminJWTSecret == "" {
		return fmt.Errorf("ADMIN_JWT_SECRET is required when ENV=%q", c.Env)
	}
	if c.TranslateMaxHops < 1 || c.TranslateMaxHops > 2 {
		return fmt.Errorf("TRANSLATE_MAX_HOPS must be 1 or 2, got %d", c.TranslateMaxHops)
	}
	if c.ExpandDefaultCount < 0 || c.ExpandMaxCount < 1 {
		return fmt.Errorf("EXPAND_DEFAULT_COUNT must be >= 0 and EXPAND_MAX_COUNT >= 1")
	}
	if c.ExpandDefaultCount > c.ExpandMaxCount {
		return fmt.Errorf("EXPAND_DEFAULT_COUNT (%d) exceeds EXPAND_MAX_COUNT (%d)", c.ExpandDefaultCount, c.ExpandMaxCount)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}
	if c.ReloadInterval < 0 {
		return fmt.Errorf("RELOAD_INTERVAL must not be negative")
	}
	return nil
}
