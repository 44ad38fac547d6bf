package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/usage")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "postgres://localhost/usage", cfg.DBURL)
	assert.Equal(t, 120*time.Second, cfg.Cache.Anomalies)
	assert.Equal(t, 120*time.Second, cfg.Cache.ChartData)
	assert.Equal(t, 15*time.Second, cfg.TextGen.Timeout)
	assert.Equal(t, "5 0 * * *", cfg.Aggregation.Schedule)
	assert.True(t, cfg.Aggregation.Enabled)
	assert.Equal(t, map[string]APIKey{DevAPIKey: {TenantID: 1}}, cfg.APIKeys)
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DB_URL", "")
	t.Setenv("USAGE_DATABASE_URL", "")

	_, err := Load("")
	require.EqualError(t, err, "DB_URL required")

	t.Setenv("USAGE_DATABASE_DRIVER", "sqlite")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "usage-engine.db", cfg.DBURL)
}

func TestLoad_PrefixedEnvWinsOverLegacy(t *testing.T) {
	t.Setenv("DB_URL", "postgres://legacy")
	t.Setenv("USAGE_DATABASE_URL", "postgres://prefixed")
	t.Setenv("API_KEYS", "1:legacy")
	t.Setenv("USAGE_API_KEYS", "2:new:admin")
	t.Setenv("TEXTGEN_API_KEY", "sk-legacy")
	t.Setenv("USAGE_CACHE_INSIGHTS_TTL", "30s")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres://prefixed", cfg.DBURL)
	assert.Equal(t, map[string]APIKey{"new": {TenantID: 2, Admin: true}}, cfg.APIKeys)
	assert.Equal(t, "sk-legacy", cfg.TextGen.APIKey)
	assert.Equal(t, 30*time.Second, cfg.Cache.Insights)
}

func TestLoad_File(t *testing.T) {
	t.Setenv("DB_URL", "")
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
database:
  driver: sqlite
  url: /tmp/usage.db
textgen:
  provider: openai
  model: gpt-4o-mini
aggregation:
  enabled: false
log:
  format: console
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "/tmp/usage.db", cfg.DBURL)
	assert.Equal(t, "openai", cfg.TextGen.Provider)
	assert.False(t, cfg.Aggregation.Enabled)
	assert.Equal(t, "console", cfg.Log.Format)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]APIKey
		wantErr bool
	}{
		{"empty", "", map[string]APIKey{}, false},
		{"pairs", "1:a, 2:b:admin ,", map[string]APIKey{"a": {TenantID: 1}, "b": {TenantID: 2, Admin: true}}, false},
		{"missing key", "1:", nil, true},
		{"non-numeric tenant", "acme:key", nil, true},
		{"zero tenant", "0:key", nil, true},
		{"unknown role", "1:key:owner", nil, true},
		{"too many parts", "1:key:admin:x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAPIKeys(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
