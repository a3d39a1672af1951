package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaocaoooo/mobile-screenshot/internal/errs"
)

func TestValidate_MissingPackURL(t *testing.T) {
	cfg := Default()

	err := cfg.Validate()
	require.Error(t, err)
	assert.Equal(t, errs.CodeConfiguration, errs.CodeOf(err))
	assert.Contains(t, errs.Message(err, ""), "CHROMIUM_PACK_URL")

	cfg.ChromiumPackURL = "   "
	assert.Error(t, cfg.Validate())

	cfg.ChromiumPackURL = "https://example.com/chromium-v131.0.0-pack.tar"
	assert.NoError(t, cfg.Validate())
}

func TestNormalize(t *testing.T) {
	cfg := Config{
		Port:              " 9000 ",
		ChromiumPackURL:   " /usr/bin/chromium ",
		NavigationTimeout: -1,
		IdleConnections:   -3,
		LogLevel:          " DEBUG ",
	}.Normalize()

	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "/usr/bin/chromium", cfg.ChromiumPackURL)
	assert.NotEmpty(t, cfg.ChromiumCacheDir)
	assert.Equal(t, 30*time.Second, cfg.NavigationTimeout)
	assert.Equal(t, 2, cfg.IdleConnections)
	assert.Equal(t, 500*time.Millisecond, cfg.IdleWindow)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
}

func TestNormalize_KeepsZeroIdleConnections(t *testing.T) {
	cfg := Config{IdleConnections: 0}.Normalize()
	assert.Equal(t, 0, cfg.IdleConnections)
}

func TestAddr(t *testing.T) {
	assert.Equal(t, ":8080", Default().Addr())
	assert.Equal(t, "127.0.0.1:9000", Config{Port: "127.0.0.1:9000"}.Addr())
}
