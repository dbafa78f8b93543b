package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned by Validate when the process cannot start.
var ErrConfiguration = errors.New("configuration error")

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Trust    TrustConfig    `yaml:"trust"`
	Delivery DeliveryConfig `yaml:"delivery"`
	SES      SESConfig      `yaml:"ses"`
	Tracking TrackingConfig `yaml:"tracking"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int      `yaml:"port"`
	Host           string   `yaml:"host"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// GetHost returns the server host, with ECS detection
func (c ServerConfig) GetHost() string {
	// On ECS/container, listen on all interfaces
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.GetHost(), c.Port)
}

// DatabaseConfig holds the Postgres connection and pool settings.
type DatabaseConfig struct {
	URL                    string `yaml:"url"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// ConnMaxLifetime returns the configured lifetime as a duration
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeMinutes) * time.Minute
}

// RedisConfig holds the Redis connection used for locks and the job queue.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BridgeConfig holds the shared secret for the presentation-to-backend
// identity assertion.
type BridgeConfig struct {
	Secret              string `yaml:"secret"`
	FreshnessWindowSecs int    `yaml:"freshness_window_seconds"`
}

// FreshnessWindow returns the accepted clock distance for signed assertions.
func (c BridgeConfig) FreshnessWindow() time.Duration {
	return time.Duration(c.FreshnessWindowSecs) * time.Second
}

// TrustConfig holds DNS verification settings.
type TrustConfig struct {
	Nameservers       []string `yaml:"nameservers"`
	LookupTimeoutMs   int      `yaml:"lookup_timeout_ms"`
	Retries           int      `yaml:"retries"`
	UseSystemResolver bool     `yaml:"use_system_resolver"`
	SPFInclude        string   `yaml:"spf_include"`
	RoutingHost       string   `yaml:"routing_host"`
	DKIMSelector      string   `yaml:"dkim_selector"`
	Route53HostedZone string   `yaml:"route53_hosted_zone"`
	Route53Region     string   `yaml:"route53_region"`
}

// LookupTimeout returns the per-record lookup timeout as a duration
func (c TrustConfig) LookupTimeout() time.Duration {
	return time.Duration(c.LookupTimeoutMs) * time.Millisecond
}

// DeliveryConfig holds dispatch and background worker settings.
type DeliveryConfig struct {
	Workers                  int `yaml:"workers"`
	BatchSize                int `yaml:"batch_size"`
	SchedulerIntervalSeconds int `yaml:"scheduler_interval_seconds"`
	StatsRefreshSeconds      int `yaml:"stats_refresh_seconds"`
	LockTTLSeconds           int `yaml:"lock_ttl_seconds"`
	QueueVisibilitySeconds   int `yaml:"queue_visibility_seconds"`
}

// SchedulerInterval returns the scheduler poll interval as a duration
func (c DeliveryConfig) SchedulerInterval() time.Duration {
	return time.Duration(c.SchedulerIntervalSeconds) * time.Second
}

// StatsRefresh returns the stats projection refresh interval as a duration
func (c DeliveryConfig) StatsRefresh() time.Duration {
	return time.Duration(c.StatsRefreshSeconds) * time.Second
}

// LockTTL returns the per-campaign dispatcher lock TTL as a duration
func (c DeliveryConfig) LockTTL() time.Duration {
	return time.Duration(c.LockTTLSeconds) * time.Second
}

// QueueVisibility returns how long a claimed job stays invisible before recovery.
func (c DeliveryConfig) QueueVisibility() time.Duration {
	return time.Duration(c.QueueVisibilitySeconds) * time.Second
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKey        string `yaml:"access_key"`
	SecretKey        string `yaml:"secret_key"`
	ConfigurationSet string `yaml:"configuration_set"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	Enabled          bool   `yaml:"enabled"`
}

// Timeout returns the configured timeout as a duration
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// TrackingConfig holds tracking link and event queue settings.
type TrackingConfig struct {
	BaseURL    string `yaml:"base_url"`
	SigningKey string `yaml:"signing_key"`
	SQSQueue   string `yaml:"sqs_queue_url"`
	SQSRegion  string `yaml:"sqs_region"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetimeMinutes == 0 {
		cfg.Database.ConnMaxLifetimeMinutes = 5
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Bridge.FreshnessWindowSecs == 0 {
		cfg.Bridge.FreshnessWindowSecs = 300
	}
	if cfg.Trust.LookupTimeoutMs == 0 {
		cfg.Trust.LookupTimeoutMs = 5000
	}
	if cfg.Trust.Retries == 0 {
		cfg.Trust.Retries = 2
	}
	if cfg.Trust.SPFInclude == "" {
		cfg.Trust.SPFInclude = "amazonses.com"
	}
	if cfg.Trust.RoutingHost == "" {
		cfg.Trust.RoutingHost = "mail.engagex.io"
	}
	if cfg.Trust.DKIMSelector == "" {
		cfg.Trust.DKIMSelector = "engagex"
	}
	if cfg.Trust.Route53Region == "" {
		cfg.Trust.Route53Region = "us-east-1"
	}
	if cfg.Delivery.Workers == 0 {
		cfg.Delivery.Workers = 8
	}
	if cfg.Delivery.BatchSize == 0 {
		cfg.Delivery.BatchSize = 50
	}
	if cfg.Delivery.SchedulerIntervalSeconds == 0 {
		cfg.Delivery.SchedulerIntervalSeconds = 30
	}
	if cfg.Delivery.StatsRefreshSeconds == 0 {
		cfg.Delivery.StatsRefreshSeconds = 60
	}
	if cfg.Delivery.LockTTLSeconds == 0 {
		cfg.Delivery.LockTTLSeconds = 600
	}
	if cfg.Delivery.QueueVisibilitySeconds == 0 {
		cfg.Delivery.QueueVisibilitySeconds = 900
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Tracking.SQSRegion == "" {
		cfg.Tracking.SQSRegion = cfg.SES.Region
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		// No file: run entirely from the environment.
		cfg = &Config{}
		cfg.applyDefaults()
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	// The bridge secret is shared with the presentation tier, which has
	// historically called it SESSION_SECRET.
	if v := os.Getenv("AUTH_BRIDGE_SECRET"); v != "" {
		cfg.Bridge.Secret = v
	} else if v := os.Getenv("SESSION_SECRET"); v != "" && cfg.Bridge.Secret == "" {
		cfg.Bridge.Secret = v
	}

	if v := os.Getenv("DNS_NAMESERVERS"); v != "" {
		cfg.Trust.Nameservers = strings.Split(v, ",")
	}
	if v := os.Getenv("ROUTE53_HOSTED_ZONE_ID"); v != "" {
		cfg.Trust.Route53HostedZone = v
	}

	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}

	if v := os.Getenv("TRACKING_BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("TRACKING_SIGNING_KEY"); v != "" {
		cfg.Tracking.SigningKey = v
	}
	if v := os.Getenv("TRACKING_SQS_QUEUE_URL"); v != "" {
		cfg.Tracking.SQSQueue = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return cfg, nil
}

// Validate reports missing settings the process cannot run without.
// The returned error wraps ErrConfiguration.
func (cfg *Config) Validate() error {
	var missing []string
	if cfg.Bridge.Secret == "" {
		missing = append(missing, "bridge secret (AUTH_BRIDGE_SECRET or SESSION_SECRET)")
	}
	if cfg.Database.URL == "" {
		missing = append(missing, "database url (DATABASE_URL)")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	if cfg.Bridge.FreshnessWindowSecs < 0 {
		return fmt.Errorf("%w: bridge freshness window must be positive", ErrConfiguration)
	}
	return nil
}
