package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode        string        `mapstructure:"mode"`
	Port        int           `mapstructure:"port"`
	ReadLimit   int64         `mapstructure:"read_limit"`
	PingPeriod  time.Duration `mapstructure:"ping_period"`
	SendBuffer  int           `mapstructure:"send_buffer"`
	Secret      string        `mapstructure:"secret"`
	CORSOrigins []string      `mapstructure:"cors_origins"`
	CatalogPath string        `mapstructure:"catalog_path"`
	ICEServers  []string      `mapstructure:"ice_servers"`

	// TrustedProxies may set the client address through X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`

	Sessions  SessionsConfig  `mapstructure:"sessions"`
	Rounds    RoundsConfig    `mapstructure:"rounds"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type SessionsConfig struct {
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	DeleteEmptyOnLeave  bool          `mapstructure:"delete_empty_on_leave"`
}

type RoundsConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	GraceDelay   time.Duration `mapstructure:"grace_delay"`
}

type RateLimitConfig struct {
	CreateLimit  int           `mapstructure:"create_limit"`
	CreateWindow time.Duration `mapstructure:"create_window"`
}

type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default) on top of
// built-in defaults. TANDEM_* environment variables win over both; a .env
// file in the working directory is loaded into the environment first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err == nil {
		log.Info().Str("module", "config").Msg("loaded .env")
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file is not an error.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)

	v.SetEnvPrefix("TANDEM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("secret", "tandem-dev-secret")
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("catalog_path", "")
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("trusted_proxies", []string{})

	v.SetDefault("sessions.inactivity_threshold", "30m")
	v.SetDefault("sessions.sweep_interval", "5m")
	v.SetDefault("sessions.delete_empty_on_leave", true)

	v.SetDefault("rounds.tick_interval", "1s")
	v.SetDefault("rounds.grace_delay", "3s")

	v.SetDefault("rate_limit.create_limit", 10)
	v.SetDefault("rate_limit.create_window", "1m")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "tandem")
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("secret must be set"))
	}
	if c.ReadLimit <= 0 {
		errs = append(errs, errors.New("read_limit must be positive"))
	}
	if c.PingPeriod <= 0 {
		errs = append(errs, errors.New("ping_period must be positive"))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, errors.New("send_buffer must be positive"))
	}
	if c.Sessions.InactivityThreshold <= 0 {
		errs = append(errs, errors.New("sessions.inactivity_threshold must be positive"))
	}
	if c.Sessions.SweepInterval <= 0 {
		errs = append(errs, errors.New("sessions.sweep_interval must be positive"))
	}
	if c.Rounds.TickInterval <= 0 {
		errs = append(errs, errors.New("rounds.tick_interval must be positive"))
	}
	if c.Rounds.GraceDelay < 0 {
		errs = append(errs, errors.New("rounds.grace_delay must not be negative"))
	}
	if c.RateLimit.CreateLimit <= 0 || c.RateLimit.CreateWindow <= 0 {
		errs = append(errs, errors.New("rate_limit needs a positive limit and window"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
