package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadConfig_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.False(t, cfg.Redis.Enabled)

	assert.Equal(t, time.Minute, cfg.Health.CheckInterval)
	assert.Equal(t, 5*time.Second, cfg.Health.ProbeTimeout)
	assert.Equal(t, 3, cfg.Health.DemoteAfter)

	assert.Equal(t, 3, cfg.Router.MaxAttempts)
	assert.Equal(t, "balance_weighted", cfg.Router.Strategy)
	assert.Equal(t, 300*time.Second, cfg.Router.UpstreamTimeout)
	assert.Equal(t, 3.0, cfg.Router.DefaultMinBalance)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	os.Clearenv()
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "production")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("ROUTER_STRATEGY", "round_robin")
	t.Setenv("HEALTH_DEMOTE_AFTER", "5")

	cfg, err := LoadConfig()
	assert.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, "production", cfg.Server.Env)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "round_robin", cfg.Router.Strategy)
	assert.Equal(t, 5, cfg.Health.DemoteAfter)
}
