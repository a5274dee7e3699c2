package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig(t *testing.T) {
	var (
		addr = "localhost:8080"
		dsn  = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		key  = "c29tZV9zZWNyZXQ="
		orig = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name string
		addr string
		dsn  string
		key  string
		orig []string
		err  bool
	}{
		{
			name: "valid config",
			addr: addr,
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  false,
		},
		{
			name: "empty address",
			addr: "",
			dsn:  dsn,
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty DSN",
			addr: addr,
			dsn:  "",
			key:  key,
			orig: orig,
			err:  true,
		},
		{
			name: "empty signing key",
			addr: addr,
			dsn:  dsn,
			key:  "",
			orig: orig,
			err:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
		})
	}
}

func Test_decodeSigningKey(t *testing.T) {
	tcases := []struct {
		name         string
		base64Secret string
		expectedKey  []byte
		expectError  bool
	}{
		{
			name:         "valid base64 secret",
			base64Secret: "c29tZV9zZWNyZXQ=", //
			expectedKey:  []byte("some_secret"),
			expectError:  false,
		},
		{
			name:         "invalid base64 secret",
			base64Secret: "invalid_base64",
			expectedKey:  nil,
			expectError:  true,
		},
		{
			name:         "empty base64 secret",
			base64Secret: "",
			expectedKey:  nil,
			expectError:  true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			key, err := decodeSigningSecret(tc.base64Secret)
			if tc.expectError {
				assert.Error(t, err, "expected error for base64 secret: %s", tc.base64Secret)
			} else {
				assert.NoError(t, err, "expected no error for base64 secret: %s", tc.base64Secret)
				assert.Equal(t, tc.expectedKey, key, "expected decoded key to match for base64 secret: %s", tc.base64Secret)
			}
		})
	}
}

func TestLoad_defaults(t *testing.T) {
	fs := Flags()
	require.NoError(t, fs.Parse(nil))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, "localhost:8000", cfg.ServerAddr)
	assert.Equal(t, StoragePostgres, cfg.Storage)
	assert.Equal(t, 10*time.Second, cfg.GracePeriod)
	assert.Equal(t, 5*time.Minute, cfg.IdleRoomTimeout)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
	assert.Empty(t, cfg.RedisAddr)
	assert.Empty(t, cfg.AllowedOrigins)
	assert.NotEmpty(t, cfg.SigningKey)
}

func TestLoad_precedence(t *testing.T) {
	t.Setenv("WATCHPARTY_STORAGE", "memory")
	t.Setenv("WATCHPARTY_GRACE_PERIOD", "3s")
	t.Setenv("WATCHPARTY_ALLOWED_ORIGINS", "http://a.example, http://b.example")
	t.Setenv("WATCHPARTY_ADDR", ":9000")

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--addr", ":7000", "--log-level", "debug", "--frontend-url", "https://watch.example/"}))

	cfg, err := Load(fs)
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.ServerAddr, "expected flag to win over env")
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 3*time.Second, cfg.GracePeriod)
	assert.Equal(t, []string{"http://a.example", "http://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "https://watch.example", cfg.FrontendURL)
}

func TestLoad_configFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchparty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis-addr: localhost:6379\nidle-room-timeout: 1m\n"), 0o600))

	fs := Flags()
	require.NoError(t, fs.Parse([]string{"--config", path}))

	cfg, err := Load(fs)
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Minute, cfg.IdleRoomTimeout)
}

func TestLoad_invalid(t *testing.T) {
	tcases := []struct {
		name string
		args []string
	}{
		{name: "unknown storage", args: []string{"--storage", "sqlite"}},
		{name: "unknown log format", args: []string{"--log-format", "xml"}},
		{name: "bad log level", args: []string{"--log-level", "loud"}},
		{name: "zero grace period", args: []string{"--grace-period", "0s"}},
		{name: "bad signing key", args: []string{"--signing-key", "not base64!"}},
		{name: "missing config file", args: []string{"--config", "/nonexistent/watchparty.yaml"}},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			fs := Flags()
			require.NoError(t, fs.Parse(tc.args))

			_, err := Load(fs)
			assert.Error(t, err)
		})
	}
}
