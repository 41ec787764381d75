package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pysakki/internal/config"
)

var allEnv = []string{
	config.EnvPort, config.EnvProduction, config.EnvUserAgent, config.EnvStaticDir,
	config.EnvFeedURL, config.EnvFeedFormat, config.EnvPollInterval, config.EnvLogConfig,
	config.EnvOrigin, config.EnvStaleAfter,
}

func clearEnv(t *testing.T) {
	for _, k := range allEnv {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load("", "")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Port)
	assert.False(t, cfg.Production)
	assert.Equal(t, "/api/socket/", cfg.SocketPath)
	assert.Equal(t, "https://data.foli.fi/siri/vm", cfg.Feed.URL)
	assert.Equal(t, "foli", cfg.Feed.Format)
	assert.Equal(t, 5*time.Second, cfg.Feed.PollInterval)
	assert.Equal(t, time.Hour, cfg.Proxy.LongTTL)
	assert.Equal(t, 60*time.Second, cfg.Proxy.ShortTTL)
	assert.Zero(t, cfg.Relay.StaleAfter)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Empty(t, cfg.Header())
}

func TestYAMLOverridesDefaults(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pysakki.yaml", `
port: 8080
socketPath: /ws/
feed:
  format: gtfsrt
  url: https://example.com/vp.pb
  pollInterval: 15s
relay:
  staleAfter: 10m
proxy:
  shortTTL: 30s
headers:
  X-Api-Key: secret
`)
	cfg, err := config.Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "/ws/", cfg.SocketPath)
	assert.Equal(t, "gtfsrt", cfg.Feed.Format)
	assert.Equal(t, 15*time.Second, cfg.Feed.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Feed.Timeout)
	assert.Equal(t, 10*time.Minute, cfg.Relay.StaleAfter)
	assert.Equal(t, 30*time.Second, cfg.Proxy.ShortTTL)
	assert.Equal(t, time.Hour, cfg.Proxy.LongTTL)
	assert.Equal(t, "secret", cfg.Header().Get("X-Api-Key"))
}

func TestEnvironmentOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "pysakki.yaml", "port: 8080\n")
	t.Setenv(config.EnvPort, "9090")
	t.Setenv(config.EnvProduction, "1")
	t.Setenv(config.EnvUserAgent, "pysakki/1.0 (ops@example.com)")
	t.Setenv(config.EnvPollInterval, "7")
	t.Setenv(config.EnvStaleAfter, "5m")

	cfg, err := config.Load(path, "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.True(t, cfg.Production)
	assert.Equal(t, "pysakki/1.0 (ops@example.com)", cfg.Header().Get("User-Agent"))
	assert.Equal(t, 7*time.Second, cfg.Feed.PollInterval)
	assert.Equal(t, 5*time.Minute, cfg.Relay.StaleAfter)
	assert.Equal(t, []string{"https://pysakil.akaseli.dev"}, cfg.AllowedOrigins())
}

func TestEnvFile(t *testing.T) {
	clearEnv(t)
	// godotenv never replaces variables that are already set, even empty.
	os.Unsetenv(config.EnvStaticDir)
	os.Unsetenv(config.EnvLogConfig)
	envFile := writeFile(t, ".env", "STATIC_DIR=/srv/frontend\nLOG_CONFIG=<root>=DEBUG\n")

	cfg, err := config.Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "/srv/frontend", cfg.StaticDir)
	assert.Equal(t, "<root>=DEBUG", cfg.Logging)
}

func TestMissingEnvFileIsIgnored(t *testing.T) {
	clearEnv(t)
	_, err := config.Load("", filepath.Join(t.TempDir(), "absent.env"))
	assert.NoError(t, err)
}

func TestInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown format", yaml: "feed:\n  format: csv\n"},
		{name: "zero interval", yaml: "feed:\n  pollInterval: 0s\n"},
		{name: "bad socket path", yaml: "socketPath: socket\n"},
		{name: "bad port", yaml: "port: 70000\n"},
		{name: "negative stale", yaml: "relay:\n  staleAfter: -1m\n"},
		{name: "port env", env: map[string]string{config.EnvPort: "http"}},
		{name: "interval env", env: map[string]string{config.EnvPollInterval: "soon"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			path := ""
			if tc.yaml != "" {
				path = writeFile(t, "pysakki.yaml", tc.yaml)
			}
			_, err := config.Load(path, "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.NotValid), "%v", err)
		})
	}
}

func TestMissingConfigFile(t *testing.T) {
	clearEnv(t)
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"), "")
	assert.Error(t, err)
}
