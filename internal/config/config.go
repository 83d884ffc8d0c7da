package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/triagewatch/triagewatch/internal/errors"
)

// Config represents the complete application configuration
type Config struct {
	WatchPath     string
	Credentials   CredentialsConfig
	Notify        NotifyConfig
	Fetch         FetchConfig
	Scheduler     SchedulerConfig
	StateStore    StateStoreConfig
	API           APIConfig
	Observability ObservabilityConfig
}

// CredentialsConfig holds the identity-provider credential pair. Optional:
// without it the login flow falls back to the manual path.
type CredentialsConfig struct {
	Username  string
	Password  string
	AutoLogin bool
}

// NotifyConfig configures the chat webhook
type NotifyConfig struct {
	WebhookURL string
	Timeout    time.Duration
}

// FetchConfig configures the upstream defect service clients
type FetchConfig struct {
	Timeout      time.Duration
	ProbeTimeout time.Duration
}

// SchedulerConfig configures trigger periods not carried in the watch file
type SchedulerConfig struct {
	KeepaliveInterval  time.Duration
	RetryProbeInterval time.Duration
	VPNProbeInterval   time.Duration
	ConnRetryInterval  time.Duration
}

// StateStoreConfig configures the state store
type StateStoreConfig struct {
	SQLitePath string
}

// APIConfig configures the HTTP API server
type APIConfig struct {
	Enabled  bool
	Port     int
	APIKey   string
	ReadOnly bool
}

// ObservabilityConfig configures logging and metrics
type ObservabilityConfig struct {
	LogLevel        string
	MetricsPort     int
	HealthCheckPort int
}

// Load loads configuration from environment variables. The watch list and
// service endpoints live in the watch file (see ParseWatchFile).
func Load() (*Config, error) {
	cfg := &Config{
		WatchPath: getEnv("TRIAGEWATCH_CONFIG", "triagewatch.yml"),
		Credentials: CredentialsConfig{
			Username:  getEnv("TRIAGEWATCH_USERNAME", ""),
			Password:  getEnv("TRIAGEWATCH_PASSWORD", ""),
			AutoLogin: getEnvBool("TRIAGEWATCH_AUTO_LOGIN", true),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("TRIAGEWATCH_WEBHOOK_URL", ""),
			Timeout:    getEnvDuration("TRIAGEWATCH_WEBHOOK_TIMEOUT", 15*time.Second),
		},
		Fetch: FetchConfig{
			Timeout:      getEnvDuration("TRIAGEWATCH_FETCH_TIMEOUT", 30*time.Second),
			ProbeTimeout: getEnvDuration("TRIAGEWATCH_PROBE_TIMEOUT", 5*time.Second),
		},
		Scheduler: SchedulerConfig{
			KeepaliveInterval:  getEnvDuration("TRIAGEWATCH_KEEPALIVE_INTERVAL", 2*time.Hour),
			RetryProbeInterval: getEnvDuration("TRIAGEWATCH_RETRY_PROBE_INTERVAL", time.Minute),
			VPNProbeInterval:   getEnvDuration("TRIAGEWATCH_VPN_PROBE_INTERVAL", 30*time.Second),
			ConnRetryInterval:  getEnvDuration("TRIAGEWATCH_CONN_RETRY_INTERVAL", 30*time.Second),
		},
		StateStore: StateStoreConfig{
			SQLitePath: getEnv("SQLITE_PATH", "triagewatch.db"),
		},
		API: APIConfig{
			Enabled:  getEnvBool("API_ENABLED", true),
			Port:     getEnvInt("API_PORT", 8080),
			APIKey:   getEnv("TRIAGEWATCH_API_KEY", ""),
			ReadOnly: getEnvBool("API_READ_ONLY", false),
		},
		Observability: ObservabilityConfig{
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			MetricsPort:     getEnvInt("METRICS_PORT", 9090),
			HealthCheckPort: getEnvInt("HEALTH_CHECK_PORT", 8081),
		},
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.WatchPath == "" {
		return errors.NewPermanentf("watch file path is required")
	}

	if _, err := os.Stat(c.WatchPath); os.IsNotExist(err) {
		return errors.NewPermanentf("watch file not found: %s", c.WatchPath)
	}

	if c.Notify.WebhookURL == "" {
		return errors.NewPermanentf("TRIAGEWATCH_WEBHOOK_URL environment variable is required")
	}

	if _, err := url.ParseRequestURI(c.Notify.WebhookURL); err != nil {
		return errors.NewPermanentf("invalid webhook URL: %v", err)
	}

	if c.StateStore.SQLitePath == "" {
		return errors.NewPermanentf("sqlite path is required")
	}

	if c.Credentials.AutoLogin && c.Credentials.Username != "" && c.Credentials.Password == "" {
		return errors.NewPermanentf("TRIAGEWATCH_PASSWORD is required when a username is configured")
	}

	return nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
