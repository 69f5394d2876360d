package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"CRUCIBLE_SERVER_HOST", "HOST", "CRUCIBLE_SERVER_PORT", "PORT",
		"CRUCIBLE_ALLOWED_ORIGINS", "CRUCIBLE_SANDBOX_IDLE_TIMEOUT",
		"CRUCIBLE_INIT_HISTORY_LIMIT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30*time.Minute, cfg.Sandbox.IdleTimeout)
	assert.Equal(t, 50, cfg.Sandbox.HistoryLimit)
	assert.Equal(t, int64(512*1024*1024), cfg.Sandbox.MemoryBytes)
	assert.Equal(t, int64(1_000_000_000), cfg.Sandbox.NanoCPUs)
}

func TestLoadPrefixedNameWins(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("CRUCIBLE_SERVER_PORT", "9090")

	cfg := Load()
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadFallbackName(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://db:5432/app")

	cfg := Load()
	assert.Equal(t, "postgres://db:5432/app", cfg.Database.URL)
}

func TestLoadOriginsSplitAndTrimmed(t *testing.T) {
	t.Setenv("CRUCIBLE_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg := Load()
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("CRUCIBLE_SANDBOX_IDLE_TIMEOUT", "90")

	cfg := Load()
	assert.Equal(t, 90*time.Second, cfg.Sandbox.IdleTimeout)
}

func TestLoadDurationAcceptsGoSyntax(t *testing.T) {
	t.Setenv("CRUCIBLE_SANDBOX_IDLE_TIMEOUT", "45m")

	cfg := Load()
	assert.Equal(t, 45*time.Minute, cfg.Sandbox.IdleTimeout)
}

func TestLoadMalformedValuesKeepDefaults(t *testing.T) {
	t.Setenv("CRUCIBLE_SERVER_PORT", "not-a-port")
	t.Setenv("CRUCIBLE_ALLOW_EMPTY_ORIGIN", "maybe")

	cfg := Load()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.False(t, cfg.Server.AllowEmptyOrigin)
}
