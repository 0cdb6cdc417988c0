package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/permit-engine/config"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "permits.db", cfg.Database.Path)
	assert.Equal(t, "Europe/Helsinki", cfg.Pricing.Timezone)
	assert.Empty(t, cfg.Catalog.File)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Expiry.Enabled)
	assert.Equal(t, time.Hour, cfg.Expiry.Interval)

	loc, err := cfg.Pricing.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Helsinki", loc.String())
}

func TestLoad_FileAndEnvironment(t *testing.T) {
	// GIVEN: A config file and an environment override
	// WHEN: Loading
	// THEN: The environment wins over the file, the file over defaults

	path := filepath.Join(t.TempDir(), "permits.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  path: ":memory:"
logging:
  level: debug
expiry:
  enabled: false
  interval: 15m
`), 0o600))
	t.Setenv("PERMITS_SERVER_PORT", "9090")

	cfg, err := config.Load(config.WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "Europe/Helsinki", cfg.Pricing.Timezone)
	assert.False(t, cfg.Expiry.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Expiry.Interval)
}

func TestLoad_Invalid(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("PERMITS_LOGGING_LEVEL", "loud")
	_, err := config.Load()
	assert.Error(t, err)
}

func TestLoad_UnknownTimezone(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("PERMITS_PRICING_TIMEZONE", "Mars/Olympus")
	_, err := config.Load()
	assert.Error(t, err)
}

// chdir mirrors testing.T.Chdir (Go 1.24+) for older toolchains.
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
