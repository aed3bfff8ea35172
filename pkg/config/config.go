package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jitsi/jicofo-go/pkg/conference"
	"github.com/jitsi/jicofo-go/pkg/telemetry"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Environment variables the loader consults.
const (
	EnvConfig       = "JICOFO_CONFIG"
	EnvSecret       = "JICOFO_SECRET"
	EnvAuthPassword = "JICOFO_AUTH_PASSWORD"
)

// XMPP connection settings of the focus component.
type XMPP struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	Domain       string `yaml:"domain"`
	Subdomain    string `yaml:"subdomain"`
	Secret       string `yaml:"secret"`
	UserDomain   string `yaml:"user_domain"`
	UserName     string `yaml:"user_name"`
	UserPassword string `yaml:"user_password"`
}

// Bridge holds the fleet-management settings. Durations are configured in
// milliseconds to match the wire-facing property names.
type Bridge struct {
	SelectionStrategy       string `yaml:"bridge-selection-strategy"`
	FailureResetThresholdMs int64  `yaml:"bridge-failure-reset-threshold-ms"`
	HealthCheckIntervalMs   int64  `yaml:"health-check-interval-ms"`
	HealthCheckRetryMs      int64  `yaml:"health-check-retry-ms"`
	MaxStatsReportAgeMs     int64  `yaml:"max-stats-report-age-ms"`
	// Zero disables periodic re-discovery.
	RediscoveryIntervalMs int64 `yaml:"service-rediscovery-interval-ms"`
}

func (b Bridge) FailureResetThreshold() time.Duration {
	return time.Duration(b.FailureResetThresholdMs) * time.Millisecond
}

func (b Bridge) HealthCheckInterval() time.Duration {
	return time.Duration(b.HealthCheckIntervalMs) * time.Millisecond
}

func (b Bridge) HealthCheckRetryDelay() time.Duration {
	return time.Duration(b.HealthCheckRetryMs) * time.Millisecond
}

func (b Bridge) MaxStatsReportAge() time.Duration {
	return time.Duration(b.MaxStatsReportAgeMs) * time.Millisecond
}

func (b Bridge) RediscoveryInterval() time.Duration {
	return time.Duration(b.RediscoveryIntervalMs) * time.Millisecond
}

// Focus configuration.
type Config struct {
	// XMPP component connection.
	XMPP XMPP `yaml:"xmpp"`
	// Bridge fleet management.
	Bridge Bridge `yaml:"bridge"`
	// Conference behaviour.
	Conference conference.Config `yaml:"conference"`
	// Tracing configuration; disabled when no exporter is set.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// Size of the shared worker pool.
	WorkerPoolSize int `yaml:"worker-pool-size"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
}

// Default returns a config with every documented default filled in.
func Default() *Config {
	return &Config{
		XMPP: XMPP{
			Host:      "localhost",
			Port:      5347,
			Subdomain: "focus",
		},
		Bridge: Bridge{
			SelectionStrategy:       "single",
			FailureResetThresholdMs: 300_000,
			HealthCheckIntervalMs:   10_000,
			HealthCheckRetryMs:      5_000,
			MaxStatsReportAgeMs:     15_000,
			RediscoveryIntervalMs:   0,
		},
		Conference:     conference.DefaultConfig(),
		WorkerPoolSize: 20,
		LogLevel:       "info",
	}
}

// Tries to load a config from the JICOFO_CONFIG environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config
// could not be loaded. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	config, err := LoadFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}
		if path == "" {
			config := Default()
			applyEnvFallbacks(config)
			return config, nil
		}
		return LoadFromPath(path)
	}

	return config, nil
}

// ErrNoConfigEnvVar is returned when the JICOFO_CONFIG environment variable
// is not set.
var ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")

// Tries to load the config from the environment variable (JICOFO_CONFIG,
// holding inline YAML).
func LoadFromEnv() (*Config, error) {
	configEnv := os.Getenv(EnvConfig)
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadFromString(string(file))
}

// Load config from the provided string. Unset keys keep their defaults.
// Returns an error if the string is not valid YAML.
func LoadFromString(configString string) (*Config, error) {
	config := Default()
	if err := yaml.Unmarshal([]byte(configString), config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	applyEnvFallbacks(config)
	return config, nil
}

// applyEnvFallbacks fills secrets from the environment when the config does
// not carry them.
func applyEnvFallbacks(config *Config) {
	if config.XMPP.Secret == "" {
		config.XMPP.Secret = os.Getenv(EnvSecret)
	}
	if config.XMPP.UserPassword == "" {
		config.XMPP.UserPassword = os.Getenv(EnvAuthPassword)
	}
}
