// Package config loads service configuration from file, env, and defaults
// using spf13/viper, following the layering convention of the teacher's
// orchestrator config package.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration for the dispatchd service.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Database DatabaseConfig `mapstructure:"database"`
	NATS     NATSConfig     `mapstructure:"nats"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

func (s ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

func (s ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// DispatchConfig holds the ADM's own tunables, named after the original
// implementation's class constants.
type DispatchConfig struct {
	HeartbeatIntervalSeconds float64 `mapstructure:"heartbeatIntervalSeconds"`
	ClientTimeoutSeconds     float64 `mapstructure:"clientTimeoutSeconds"`
	AuthTimeoutSeconds       float64 `mapstructure:"authTimeoutSeconds"`
	MaxPendingQueue          int     `mapstructure:"maxPendingQueue"`
	CompletedMaxSize         int     `mapstructure:"completedMaxSize"`
	DefaultLeaseSeconds      float64 `mapstructure:"defaultLeaseSeconds"`
	AckExtendSeconds         float64 `mapstructure:"ackExtendSeconds"`
	ProgressResetSeconds     float64 `mapstructure:"progressResetSeconds"`
	LeaseCapSeconds          float64 `mapstructure:"leaseCapSeconds"`
	MaxFlushAttempts         int     `mapstructure:"maxFlushAttempts"`
	DispatchTimeoutSeconds   float64 `mapstructure:"dispatchTimeoutSeconds"`

	// AuthSecret, if set, enables prod-mode HMAC challenge/response auth.
	AuthSecret string `mapstructure:"authSecret"`
	// ExpectedToken, if set, is compared against the client's bearer token.
	ExpectedToken string `mapstructure:"expectedToken"`
	// DevMode, when true, disables auth verification entirely. Never the
	// zero-config default; cmd/dispatchd requires an explicit flag or env
	// var to set it.
	DevMode bool `mapstructure:"devMode"`
}

func (d DispatchConfig) HeartbeatInterval() time.Duration {
	return time.Duration(d.HeartbeatIntervalSeconds * float64(time.Second))
}

func (d DispatchConfig) ClientTimeout() time.Duration {
	return time.Duration(d.ClientTimeoutSeconds * float64(time.Second))
}

func (d DispatchConfig) AuthTimeout() time.Duration {
	return time.Duration(d.AuthTimeoutSeconds * float64(time.Second))
}

func (d DispatchConfig) DefaultLease() time.Duration {
	return time.Duration(d.DefaultLeaseSeconds * float64(time.Second))
}

func (d DispatchConfig) AckExtend() time.Duration {
	return time.Duration(d.AckExtendSeconds * float64(time.Second))
}

func (d DispatchConfig) ProgressReset() time.Duration {
	return time.Duration(d.ProgressResetSeconds * float64(time.Second))
}

func (d DispatchConfig) LeaseCap() time.Duration {
	return time.Duration(d.LeaseCapSeconds * float64(time.Second))
}

func (d DispatchConfig) DispatchTimeout() time.Duration {
	return time.Duration(d.DispatchTimeoutSeconds * float64(time.Second))
}

// AuthRequired mirrors the original's `bool(auth_secret or expected_token)`,
// and is always false when DevMode is set.
func (d DispatchConfig) AuthRequired() bool {
	return !d.DevMode && (d.AuthSecret != "" || d.ExpectedToken != "")
}

// DatabaseConfig holds Postgres connection settings for taskstore.PostgresStore.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int32  `mapstructure:"maxConns"`
	MinConns int32  `mapstructure:"minConns"`
}

// DSN builds a Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

// NATSConfig holds settings for the best-effort lifecycle event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
	// Namespace prefixes published subjects, e.g. "dispatch.task.dispatched".
	Namespace string `mapstructure:"namespace"`
}

// LoggingConfig mirrors logger.Config's mapstructure shape for unmarshalling.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// Load reads configuration from (in order of increasing precedence) defaults,
// an optional config file, and environment variables prefixed DISPATCHD_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is like Load but searches an additional explicit config path.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("dispatchd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/dispatchd/")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("DISPATCHD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit binds for keys whose camelCase doesn't map cleanly from
	// the underscore-separated env convention.
	_ = v.BindEnv("dispatch.authSecret", "DISPATCHD_DISPATCH_AUTH_SECRET")
	_ = v.BindEnv("dispatch.expectedToken", "DISPATCHD_DISPATCH_EXPECTED_TOKEN")
	_ = v.BindEnv("dispatch.devMode", "DISPATCHD_DISPATCH_DEV_MODE")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("dispatch.heartbeatIntervalSeconds", 30.0)
	v.SetDefault("dispatch.clientTimeoutSeconds", 90.0)
	v.SetDefault("dispatch.authTimeoutSeconds", 10.0)
	v.SetDefault("dispatch.maxPendingQueue", 100)
	v.SetDefault("dispatch.completedMaxSize", 1000)
	v.SetDefault("dispatch.defaultLeaseSeconds", 60.0)
	v.SetDefault("dispatch.ackExtendSeconds", 270.0)
	v.SetDefault("dispatch.progressResetSeconds", 120.0)
	v.SetDefault("dispatch.leaseCapSeconds", 1800.0)
	v.SetDefault("dispatch.maxFlushAttempts", 3)
	v.SetDefault("dispatch.dispatchTimeoutSeconds", 120.0)
	v.SetDefault("dispatch.devMode", false)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "dispatchd")
	v.SetDefault("database.dbName", "dispatchd")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 10)
	v.SetDefault("database.minConns", 2)

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.clientId", "dispatchd")
	v.SetDefault("nats.maxReconnects", 5)
	v.SetDefault("nats.namespace", "dispatch")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.outputPath", "stdout")
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 {
		return fmt.Errorf("server.port must be positive")
	}
	if cfg.Dispatch.MaxPendingQueue <= 0 {
		return fmt.Errorf("dispatch.maxPendingQueue must be positive")
	}
	if cfg.Dispatch.CompletedMaxSize <= 0 {
		return fmt.Errorf("dispatch.completedMaxSize must be positive")
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "json", "text", "console":
	default:
		return fmt.Errorf("invalid logging.format: %s", cfg.Logging.Format)
	}
	return nil
}
