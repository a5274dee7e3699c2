package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"

	LogFormatConsole = "console"
	LogFormatJSON    = "json"

	envPrefix = "WATCHPARTY"

	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
)

type Config struct {
	DatabaseDSN     string
	ServerAddr      string
	SigningKey      []byte
	AllowedOrigins  []string
	Storage         string
	RedisAddr       string
	GracePeriod     time.Duration
	IdleRoomTimeout time.Duration
	LogLevel        zerolog.Level
	LogFormat       string
	FrontendURL     string
}

func decodeSigningSecret(base64Secret string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		return nil, err
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("signing secret is empty")
	}
	return key, nil
}

func NewConfig(serverAddr, databaseDSN, base64Secret string, allowedOrigins []string) (*Config, error) {
	if serverAddr == "" {
		return nil, fmt.Errorf("server address cannot be empty")
	}
	if databaseDSN == "" {
		return nil, fmt.Errorf("database DSN cannot be empty")
	}
	if base64Secret == "" {
		return nil, fmt.Errorf("signing secret cannot be empty")
	}

	// Decode the base64 encoded signing secret
	signingKey, err := decodeSigningSecret(base64Secret)
	if err != nil {
		return nil, fmt.Errorf("decode signing secret: %w", err)
	}

	return &Config{
		DatabaseDSN:     databaseDSN,
		ServerAddr:      serverAddr,
		SigningKey:      signingKey,
		AllowedOrigins:  allowedOrigins,
		Storage:         StoragePostgres,
		GracePeriod:     10 * time.Second,
		IdleRoomTimeout: 5 * time.Minute,
		LogLevel:        zerolog.InfoLevel,
		LogFormat:       LogFormatConsole,
		FrontendURL:     "http://localhost:3000",
	}, nil
}

// Flags returns the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("watchparty", pflag.ContinueOnError)
	fs.String("config", "", "optional config file (yaml, json or toml)")
	fs.String("addr", "localhost:8000", "server address")
	fs.String("dsn", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable", "database connection string")
	fs.String("signing-key", defaultSigningKey, "base64 encoded signing key")
	fs.StringSlice("allowed-origins", nil, "comma-separated list of allowed origins for CORS")
	fs.String("storage", StoragePostgres, "room storage backend: postgres or memory")
	fs.String("redis-addr", "", "redis address for cross-instance fan-out, empty to disable")
	fs.Duration("grace-period", 10*time.Second, "how long a dropped user keeps their place in a room")
	fs.Duration("idle-room-timeout", 5*time.Minute, "unload a room's command loop after this long without commands")
	fs.String("log-level", "info", "log level")
	fs.String("log-format", LogFormatConsole, "log format: console or json")
	fs.String("frontend-url", "http://localhost:3000", "base url used to build shareable room links")
	return fs
}

// Load resolves configuration from, in order of precedence, flags set on the
// command line, WATCHPARTY_* environment variables, the optional config file
// and the flag defaults.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("bind flags: %w", err)
	}

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg, err := NewConfig(
		v.GetString("addr"),
		v.GetString("dsn"),
		v.GetString("signing-key"),
		splitList(v.GetStringSlice("allowed-origins")),
	)
	if err != nil {
		return nil, err
	}

	cfg.Storage = strings.ToLower(v.GetString("storage"))
	switch cfg.Storage {
	case StorageMemory, StoragePostgres:
	default:
		return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
	}

	cfg.LogFormat = strings.ToLower(v.GetString("log-format"))
	switch cfg.LogFormat {
	case LogFormatConsole, LogFormatJSON:
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}

	cfg.LogLevel, err = zerolog.ParseLevel(v.GetString("log-level"))
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg.GracePeriod = v.GetDuration("grace-period")
	if cfg.GracePeriod <= 0 {
		return nil, fmt.Errorf("grace period must be positive")
	}
	cfg.IdleRoomTimeout = v.GetDuration("idle-room-timeout")
	if cfg.IdleRoomTimeout <= 0 {
		return nil, fmt.Errorf("idle room timeout must be positive")
	}

	cfg.RedisAddr = v.GetString("redis-addr")
	cfg.FrontendURL = strings.TrimRight(v.GetString("frontend-url"), "/")

	return cfg, nil
}

// splitList flattens comma separated entries, which is how list values
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
