package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("INVENTORY_API_URL", "")
	t.Setenv("JWT_REFRESH_SECRET", "")
	t.Setenv("FLOW_ALLOW_DUPLICATE_ITEMS", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000/api", cfg.InventoryAPI.BaseURL)
	assert.Equal(t, "test-secret", cfg.JWT.RefreshSecret)
	assert.True(t, cfg.Flow.AllowDuplicateItems)
	assert.Equal(t, "0 * * * * *", cfg.Flow.SweepSchedule)
	assert.Equal(t, 0.6, cfg.InventoryAPI.BreakerFailureRatio)
	assert.Contains(t, cfg.CORS.AllowedHeaders, "X-Refresh-Token")
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("INVENTORY_API_URL", "https://inventory.example.org/api/")
	t.Setenv("FLOW_ALLOW_DUPLICATE_ITEMS", "false")
	t.Setenv("FLOW_IDLE_TTL_MINUTES", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://inventory.example.org/api", cfg.InventoryAPI.BaseURL)
	assert.False(t, cfg.Flow.AllowDuplicateItems)
	assert.Equal(t, "5m0s", cfg.Flow.IdleTTL.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORS.AllowedOrigins)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:       ServerConfig{Environment: "development"},
			JWT:          JWTConfig{Secret: "s"},
			InventoryAPI: InventoryAPIConfig{BaseURL: "http://localhost:8000/api", BreakerFailureRatio: 0.5},
			Flow:         FlowConfig{IdleTTL: 1, MaxDocumentBytes: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing secret", func(c *Config) { c.JWT.Secret = "" }, "JWT_SECRET"},
		{"production without database", func(c *Config) { c.Server.Environment = "production" }, "DATABASE_URL"},
		{"bad url", func(c *Config) { c.InventoryAPI.BaseURL = "localhost:8000" }, "INVENTORY_API_URL"},
		{"bad ratio", func(c *Config) { c.InventoryAPI.BreakerFailureRatio = 1.5 }, "FAILURE_RATIO"},
		{"zero ttl", func(c *Config) { c.Flow.IdleTTL = 0 }, "FLOW_IDLE_TTL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
