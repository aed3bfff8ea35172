package config_test

import (
	"testing"
	"time"

	"github.com/jitsi/jicofo-go/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := config.Default()

	assert.Equal(t, "localhost", cfg.XMPP.Host)
	assert.Equal(t, 5347, cfg.XMPP.Port)
	assert.Equal(t, "focus", cfg.XMPP.Subdomain)

	assert.Equal(t, "single", cfg.Bridge.SelectionStrategy)
	assert.Equal(t, 5*time.Minute, cfg.Bridge.FailureResetThreshold())
	assert.Equal(t, 10*time.Second, cfg.Bridge.HealthCheckInterval())
	assert.Equal(t, 5*time.Second, cfg.Bridge.HealthCheckRetryDelay())
	assert.Equal(t, 15*time.Second, cfg.Bridge.MaxStatsReportAge())
	assert.Equal(t, time.Duration(0), cfg.Bridge.RediscoveryInterval())

	assert.Equal(t, 20, cfg.Conference.MaxSourcesPerUser)
	assert.False(t, cfg.Conference.EnableLipSync)
	assert.True(t, cfg.Conference.OpenSctp)
	assert.True(t, cfg.Conference.EnableTcc)
	assert.False(t, cfg.Conference.EnableRemb)
	assert.False(t, cfg.Conference.EnableOpusRed)
	assert.True(t, cfg.Conference.EnableRtx)
	assert.Equal(t, 800, cfg.Conference.StartBitrateKbps)
	assert.Equal(t, 0, cfg.Conference.MinBitrateKbps)

	assert.Equal(t, 20, cfg.WorkerPoolSize)
}

func TestLoadFromStringOverridesDefaults(t *testing.T) {
	cfg, err := config.LoadFromString(`
xmpp:
  host: xmpp.example.com
  secret: hunter2
bridge:
  bridge-selection-strategy: region-based
  health-check-interval-ms: 2000
conference:
  enable-lip-sync: true
  max-sources-per-user: 5
log: debug
`)
	require.NoError(t, err)

	assert.Equal(t, "xmpp.example.com", cfg.XMPP.Host)
	assert.Equal(t, "hunter2", cfg.XMPP.Secret)
	// Untouched keys keep their defaults.
	assert.Equal(t, 5347, cfg.XMPP.Port)
	assert.Equal(t, "region-based", cfg.Bridge.SelectionStrategy)
	assert.Equal(t, 2*time.Second, cfg.Bridge.HealthCheckInterval())
	assert.Equal(t, 5*time.Minute, cfg.Bridge.FailureResetThreshold())
	assert.True(t, cfg.Conference.EnableLipSync)
	assert.Equal(t, 5, cfg.Conference.MaxSourcesPerUser)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadFromStringRejectsBadYAML(t *testing.T) {
	_, err := config.LoadFromString("{not yaml")
	assert.Error(t, err)
}

func TestSecretEnvFallback(t *testing.T) {
	t.Setenv(config.EnvSecret, "env-secret")
	t.Setenv(config.EnvAuthPassword, "env-password")

	cfg, err := config.LoadFromString("xmpp:\n  host: h\n")
	require.NoError(t, err)
	assert.Equal(t, "env-secret", cfg.XMPP.Secret)
	assert.Equal(t, "env-password", cfg.XMPP.UserPassword)

	// Explicit config wins over the environment.
	cfg, err = config.LoadFromString("xmpp:\n  secret: explicit\n")
	require.NoError(t, err)
	assert.Equal(t, "explicit", cfg.XMPP.Secret)
}

func TestLoadFromEnvVariable(t *testing.T) {
	t.Setenv(config.EnvConfig, "log: warn")

	cfg, err := config.Load("does-not-exist.yaml")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoadWithoutAnythingYieldsDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.Default().XMPP, cfg.XMPP)
}
