// Package config loads and validates the workout session engine daemon's
// configuration: MQTT broker connectivity, TimescaleDB parameters, and
// service-level engine defaults (lap distance, safe-zone radius, rate
// limiting). Validation aggregates every problem found into one error
// rather than failing on the first.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values used when the corresponding environment variable or config
// file key is absent.
const (
	DefaultMQTTPort            = 1883
	DefaultDBPort              = 5432
	DefaultLapDistanceM        = 1000.0
	DefaultMaxConnections      = 20
	DefaultSessionTimeout      = 30 * time.Minute
	DefaultRateLimitPerSecond  = 20
	DefaultRateLimitBurst      = 40
)

// MQTTConfig defines the broker connection used for sensor ingestion and
// event republishing.
type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	ConnectionTimeout time.Duration
	KeepAlive         time.Duration
	TLSEnabled        bool
	QoS               int
	RetryInterval     time.Duration
}

// DBConfig defines the TimescaleDB connection backing the engine's BlobStore.
type DBConfig struct {
	Host                  string
	Port                  int
	Database              string
	Username              string
	Password              string
	MaxConnections        int
	ConnectionTimeout     time.Duration
	MaxConnectionLifetime time.Duration
	SSLMode               string
}

// ServiceConfig defines engine-level defaults and the HTTP command API's
// rate limiting.
type ServiceConfig struct {
	DefaultLapDistanceM  float64
	SessionTimeout       time.Duration
	MaxConcurrentSessions int
	SafeZoneRadiusM      float64
	RateLimitPerSecond   float64
	RateLimitBurst       int
	HTTPPort             int
}

// Config is the top-level, validated configuration for cmd/server.
type Config struct {
	MQTT     MQTTConfig
	Database DBConfig
	Service  ServiceConfig
}

// Validate aggregates every configuration problem into a single error,
// rather than failing on the first one, so an operator sees the full list.
func (c *Config) Validate() error {
	var errs []string

	if strings.TrimSpace(c.MQTT.Host) == "" {
		errs = append(errs, "MQTT host is empty")
	}
	if c.MQTT.Port <= 0 || c.MQTT.Port > 65535 {
		errs = append(errs, fmt.Sprintf("MQTT port %d is out of valid range", c.MQTT.Port))
	}
	if c.MQTT.ConnectionTimeout <= 0 {
		errs = append(errs, "MQTT connection timeout must be greater than zero")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Sprintf("MQTT QoS %d is invalid; must be 0, 1, or 2", c.MQTT.QoS))
	}

	if strings.TrimSpace(c.Database.Host) == "" {
		errs = append(errs, "DB host is empty")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errs = append(errs, fmt.Sprintf("DB port %d is out of valid range", c.Database.Port))
	}
	if strings.TrimSpace(c.Database.Database) == "" {
		errs = append(errs, "DB database name is empty")
	}
	if c.Database.MaxConnections < 1 {
		errs = append(errs, fmt.Sprintf("DB max connections %d is invalid; must be at least 1", c.Database.MaxConnections))
	}

	if c.Service.DefaultLapDistanceM != 500 && c.Service.DefaultLapDistanceM != 1000 {
		errs = append(errs, fmt.Sprintf("service default lap distance %f must be 500 or 1000", c.Service.DefaultLapDistanceM))
	}
	if c.Service.SessionTimeout <= 0 {
		errs = append(errs, "service session timeout must be greater than zero")
	}
	if c.Service.MaxConcurrentSessions < 1 {
		errs = append(errs, fmt.Sprintf("service max concurrent sessions %d must be at least 1", c.Service.MaxConcurrentSessions))
	}
	if c.Service.RateLimitPerSecond <= 0 {
		errs = append(errs, "service rate limit per second must be greater than zero")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n - %s", strings.Join(errs, "\n - "))
	}
	return nil
}

// Load binds environment variables (the same MQTT_*/DB_*/SERVICE_* names the
// teacher used) through viper, optionally merging a config.yaml/config.json
// found on viper's search path, applies defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("MQTT_HOST", "localhost")
	v.SetDefault("MQTT_PORT", DefaultMQTTPort)
	v.SetDefault("MQTT_TLS_ENABLED", false)
	v.SetDefault("MQTT_CONNECTION_TIMEOUT", "10s")
	v.SetDefault("MQTT_KEEP_ALIVE", "60s")
	v.SetDefault("MQTT_QOS", 1)
	v.SetDefault("MQTT_RETRY_INTERVAL", "5s")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", DefaultDBPort)
	v.SetDefault("DB_DATABASE", "workout_engine")
	v.SetDefault("DB_MAX_CONNECTIONS", DefaultMaxConnections)
	v.SetDefault("DB_CONNECTION_TIMEOUT", "5s")
	v.SetDefault("DB_MAX_CONNECTION_LIFETIME", "60m")
	v.SetDefault("DB_SSL_MODE", "disable")

	v.SetDefault("SERVICE_DEFAULT_LAP_DISTANCE_M", DefaultLapDistanceM)
	v.SetDefault("SERVICE_SESSION_TIMEOUT", "30m")
	v.SetDefault("SERVICE_MAX_CONCURRENT_SESSIONS", 64)
	v.SetDefault("SERVICE_SAFE_ZONE_RADIUS_M", 0.0)
	v.SetDefault("SERVICE_RATE_LIMIT_PER_SECOND", DefaultRateLimitPerSecond)
	v.SetDefault("SERVICE_RATE_LIMIT_BURST", DefaultRateLimitBurst)
	v.SetDefault("SERVICE_HTTP_PORT", 8080)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/workout-engine")
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{
		MQTT: MQTTConfig{
			Host:              v.GetString("MQTT_HOST"),
			Port:              v.GetInt("MQTT_PORT"),
			Username:          v.GetString("MQTT_USER"),
			Password:          v.GetString("MQTT_PASS"),
			TLSEnabled:        v.GetBool("MQTT_TLS_ENABLED"),
			ConnectionTimeout: v.GetDuration("MQTT_CONNECTION_TIMEOUT"),
			KeepAlive:         v.GetDuration("MQTT_KEEP_ALIVE"),
			QoS:               v.GetInt("MQTT_QOS"),
			RetryInterval:     v.GetDuration("MQTT_RETRY_INTERVAL"),
		},
		Database: DBConfig{
			Host:                  v.GetString("DB_HOST"),
			Port:                  v.GetInt("DB_PORT"),
			Database:              v.GetString("DB_DATABASE"),
			Username:              v.GetString("DB_USER"),
			Password:              v.GetString("DB_PASS"),
			MaxConnections:        v.GetInt("DB_MAX_CONNECTIONS"),
			ConnectionTimeout:     v.GetDuration("DB_CONNECTION_TIMEOUT"),
			MaxConnectionLifetime: v.GetDuration("DB_MAX_CONNECTION_LIFETIME"),
			SSLMode:               v.GetString("DB_SSL_MODE"),
		},
		Service: ServiceConfig{
			DefaultLapDistanceM:   v.GetFloat64("SERVICE_DEFAULT_LAP_DISTANCE_M"),
			SessionTimeout:        v.GetDuration("SERVICE_SESSION_TIMEOUT"),
			MaxConcurrentSessions: v.GetInt("SERVICE_MAX_CONCURRENT_SESSIONS"),
			SafeZoneRadiusM:       v.GetFloat64("SERVICE_SAFE_ZONE_RADIUS_M"),
			RateLimitPerSecond:    v.GetFloat64("SERVICE_RATE_LIMIT_PER_SECOND"),
			RateLimitBurst:        v.GetInt("SERVICE_RATE_LIMIT_BURST"),
			HTTPPort:              v.GetInt("SERVICE_HTTP_PORT"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DSN builds a libpq-style connection string for pgx from DBConfig.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode)
}
