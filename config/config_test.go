package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("DB_DRIVER", "")
	os.Unsetenv("DB_DRIVER")

	cfg := FromEnv()
	assert.Equal(t, DriverMySQL, cfg.DBDriver)
	assert.Equal(t, 5, cfg.LedgerMaxRetries)
	assert.Equal(t, 5, cfg.InviteMaxAttempts)
	assert.Equal(t, "cotrack:playlist-events", cfg.RealtimeChannel)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("LEDGER_MAX_RETRIES", "9")
	t.Setenv("INVITE_MAX_ATTEMPTS", "not-a-number")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("REDIS_HOST", "cache")

	cfg := FromEnv()
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 9, cfg.LedgerMaxRetries)
	assert.Equal(t, 5, cfg.InviteMaxAttempts, "invalid ints fall back to the default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.True(t, cfg.RedisEnabled())
}

func TestOriginAllowed(t *testing.T) {
	open := &Config{}
	assert.True(t, open.OriginAllowed("https://anything"))

	restricted := &Config{AllowedOrigins: []string{"https://a.example"}}
	assert.True(t, restricted.OriginAllowed("https://A.example"))
	assert.False(t, restricted.OriginAllowed("https://evil.example"))
	assert.True(t, restricted.OriginAllowed(""), "non-browser clients send no origin")
}

func TestWatchReloadsEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=info\n"), 0o644))
	t.Setenv("LOG_LEVEL", "info")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 16)
	require.NoError(t, Watch(ctx, path, func(cfg *Config) {
		select {
		case changes <- cfg:
		default:
		}
	}, nil))

	require.NoError(t, os.WriteFile(path, []byte("LOG_LEVEL=debug\n"), 0o644))

	// 截断与写入可能产生多个事件，等到看见新值为止
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-changes:
			if cfg.LogLevel == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
