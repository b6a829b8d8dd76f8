package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(PathEnvVar, "")
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, []string{"*"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "bitlabs", cfg.Webhook.Source)
	assert.Equal(t, int64(64<<10), cfg.Webhook.MaxBody)
	assert.Equal(t, int64(1_000_000), cfg.Webhook.MaxCredits)
	assert.Equal(t, 10*time.Minute, cfg.Reclaimer.Interval)
	assert.Equal(t, 10*time.Minute, cfg.Reclaimer.Timeout)
	assert.False(t, cfg.Webhook.AllowDebug)
}

func TestLoad_FileThenEnv(t *testing.T) {
	// GIVEN: A file overriding a few values
	path := writeFile(t, `
server:
  port: 9000
database:
  path: /tmp/ledger.db
webhook:
  secret: from-file
reclaimer:
  interval: 1m
`)
	// AND: Environment overriding some of them again
	t.Setenv("BITLABS_SECRET", "from-env")
	t.Setenv("BITLABS_SERVER", "server-key")
	t.Setenv("RESERVATION_TIMEOUT", "30m")
	t.Setenv("WEBHOOK_MAX_CREDITS", "2500")
	t.Setenv("TRUSTED_PROXIES", "10.0.0.1,10.0.0.2")
	t.Setenv("CORS_ORIGINS", "https://app.earnly.app, https://admin.earnly.app")
	t.Setenv("UNRELATED_VARIABLE", "ignored")

	// WHEN: Loading
	cfg, err := Load(path)
	require.NoError(t, err)

	// THEN: env > file > defaults
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, "from-env", cfg.Webhook.Secret)
	assert.Equal(t, "server-key", cfg.Webhook.ServerKey)
	assert.Equal(t, time.Minute, cfg.Reclaimer.Interval)
	assert.Equal(t, 30*time.Minute, cfg.Reclaimer.Timeout)
	assert.Equal(t, int64(2500), cfg.Webhook.MaxCredits)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Server.TrustedProxies)
	assert.Equal(t, []string{"https://app.earnly.app", "https://admin.earnly.app"}, cfg.Server.CORSOrigins)
}

func TestLoad_PathFromEnv(t *testing.T) {
	t.Setenv(PathEnvVar, writeFile(t, "logging:\n  level: debug\n  format: console\n"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	cfg.Server.Port = 0
	cfg.Logging.Format = "xml"
	cfg.Reclaimer.Timeout = 0
	cfg.Webhook.MaxCredits = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "logging.format")
	assert.Contains(t, err.Error(), "reclaimer")
	assert.Contains(t, err.Error(), "webhook.max_credits")
}
