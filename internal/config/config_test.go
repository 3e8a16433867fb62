package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "postgres", cfg.DatabaseDriver)
	assert.Equal(t, "kibitz", cfg.Handle)
	assert.Equal(t, 0.1, cfg.GateRatio)
	assert.Equal(t, "stamp", cfg.ApproveEmoji)
	assert.Equal(t, time.Second, cfg.TickInterval)
	assert.False(t, cfg.TestingMode)
	assert.Empty(t, cfg.FrontDoorKeys)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KIBITZ_PORT", "9999")
	t.Setenv("KIBITZ_GATE_RATIO", "0.25")
	t.Setenv("KIBITZ_VETO_ROLES", "moderator, bot admin")
	t.Setenv("KIBITZ_TESTING_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Port)
	assert.Equal(t, 0.25, cfg.GateRatio)
	assert.Equal(t, []string{"moderator", "bot admin"}, cfg.VetoRoles)
	assert.True(t, cfg.TestingMode)
}

func TestLoadFrontDoorKeys(t *testing.T) {
	t.Setenv("KIBITZ_FRONTDOOR_KEYS", "alice:c2FsdA==$aGFzaA==, bob:c2FsdDI=$aGFzaDI=")

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.FrontDoorKeys, 2)
	assert.Equal(t, "c2FsdA==$aGFzaA==", cfg.FrontDoorKeys["alice"])
}

func TestLoadRejectsMalformedKeys(t *testing.T) {
	t.Setenv("KIBITZ_FRONTDOOR_KEYS", "no-colon-here")

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad driver", func(c *Config) { c.DatabaseDriver = "oracle" }, "KIBITZ_DB_DRIVER"},
		{"missing dsn", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"ratio too big", func(c *Config) { c.GateRatio = 1.5 }, "KIBITZ_GATE_RATIO"},
		{"ratio zero", func(c *Config) { c.GateRatio = 0 }, "KIBITZ_GATE_RATIO"},
		{"missing handle", func(c *Config) { c.Handle = "" }, "KIBITZ_HANDLE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(&cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
