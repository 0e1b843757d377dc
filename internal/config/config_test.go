package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "4000", cfg.Port)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 15*time.Second, cfg.PollInterval)
	assert.Equal(t, 60*time.Second, cfg.InitialComposeDelay)
	assert.Equal(t, 30*time.Second, cfg.ComposeRequestTimeout)
	assert.Equal(t, 120*time.Second, cfg.ProbeTimeout)
	assert.Equal(t, 2*time.Second, cfg.ProbeInterval)
	assert.Equal(t, 10*time.Second, cfg.ShopProxyTimeout)
	assert.Empty(t, cfg.UserServiceURL)
	assert.Empty(t, cfg.ShopServiceURL)
}

func TestLoad_CustomEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("CORS_ORIGIN", "https://app.example.com, https://admin.example.com")
	t.Setenv("POLL_INTERVAL", "5s")
	t.Setenv("INITIAL_COMPOSE_DELAY", "1s")
	t.Setenv("SHOP_PROXY_TIMEOUT", "2s")
	t.Setenv("USER_SERVICE_URL", "http://user-service:5000/graphql")
	t.Setenv("SHOP_SERVICE_URL", "http://shop-service:5003/graphql")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, time.Second, cfg.InitialComposeDelay)
	assert.Equal(t, 2*time.Second, cfg.ShopProxyTimeout)
	assert.Equal(t, "http://user-service:5000/graphql", cfg.UserServiceURL)
	assert.Equal(t, "http://shop-service:5003/graphql", cfg.ShopServiceURL)
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "POLL_INTERVAL")
}

func TestLoad_NegativeDuration(t *testing.T) {
	t.Setenv("SHOP_PROXY_TIMEOUT", "-5s")

	_, err := Load()
	require.Error(t, err)
}
