package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// APIKey is the identity an API key authenticates as.
type APIKey struct {
	TenantID int64
	Admin    bool
}

// TextGen configures the optional narrative collaborator.
type TextGen struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
}

// Aggregation configures the daily rollup schedule.
type Aggregation struct {
	Enabled  bool
	Schedule string
	Timeout  time.Duration
}

// CacheTTL is the time-to-live per cached result kind.
type CacheTTL struct {
	Anomalies time.Duration
	Insights  time.Duration
	ChartData time.Duration
}

// Log configures the process logger.
type Log struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config contains runtime configuration required by the service.
type Config struct {
	HTTPAddr        string
	ShutdownTimeout time.Duration

	DBDriver string
	DBURL    string

	APIKeys map[string]APIKey // apiKey -> identity

	Cache       CacheTTL
	TextGen     TextGen
	Aggregation Aggregation
	Log         Log
}

// EnvPrefix prefixes every environment override, e.g. USAGE_HTTP_ADDR.
const EnvPrefix = "USAGE"

// DevAPIKey is accepted for tenant 1 when no keys are configured, so the
// service runs out-of-the-box.
const DevAPIKey = "tenant-key-123"

const apiKeysFormat = `API_KEYS must be "tenant:key[:admin],tenant:key[:admin]" with numeric tenant ids`

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", "10s")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.url", "")

	v.SetDefault("api_keys", "")

	v.SetDefault("cache.anomalies_ttl", "120s")
	v.SetDefault("cache.insights_ttl", "120s")
	v.SetDefault("cache.chart_data_ttl", "120s")

	v.SetDefault("textgen.provider", "gemini")
	v.SetDefault("textgen.api_key", "")
	v.SetDefault("textgen.model", "")
	v.SetDefault("textgen.base_url", "")
	v.SetDefault("textgen.timeout", "15s")
	v.SetDefault("textgen.max_retries", 2)

	v.SetDefault("aggregation.enabled", true)
	v.SetDefault("aggregation.schedule", "5 0 * * *")
	v.SetDefault("aggregation.timeout", "10m")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
}

// Load reads configuration from defaults, the optional YAML file at path and
// the environment, in increasing precedence. The legacy DB_URL, API_KEYS and
// TEXTGEN_API_KEY variables are honoured when the prefixed ones are unset.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range map[string]string{
		"database.url":    "DB_URL",
		"api_keys":        "API_KEYS",
		"textgen.api_key": "TEXTGEN_API_KEY",
	} {
		envName := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envName, legacy); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:        strings.TrimSpace(v.GetString("http.addr")),
		ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
		DBDriver:        strings.ToLower(strings.TrimSpace(v.GetString("database.driver"))),
		DBURL:           strings.TrimSpace(v.GetString("database.url")),
		Cache: CacheTTL{
			Anomalies: v.GetDuration("cache.anomalies_ttl"),
			Insights:  v.GetDuration("cache.insights_ttl"),
			ChartData: v.GetDuration("cache.chart_data_ttl"),
		},
		TextGen: TextGen{
			Provider:   strings.TrimSpace(v.GetString("textgen.provider")),
			APIKey:     strings.TrimSpace(v.GetString("textgen.api_key")),
			Model:      strings.TrimSpace(v.GetString("textgen.model")),
			BaseURL:    strings.TrimSpace(v.GetString("textgen.base_url")),
			Timeout:    v.GetDuration("textgen.timeout"),
			MaxRetries: v.GetInt("textgen.max_retries"),
		},
		Aggregation: Aggregation{
			Enabled:  v.GetBool("aggregation.enabled"),
			Schedule: strings.TrimSpace(v.GetString("aggregation.schedule")),
			Timeout:  v.GetDuration("aggregation.timeout"),
		},
		Log: Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	if cfg.DBURL == "" {
		if cfg.DBDriver != "sqlite" {
			return Config{}, errors.New("DB_URL required")
		}
		cfg.DBURL = "usage-engine.db"
	}

	keys, err := ParseAPIKeys(v.GetString("api_keys"))
	if err != nil {
		return Config{}, err
	}
	if len(keys) == 0 {
		keys[DevAPIKey] = APIKey{TenantID: 1}
	}
	cfg.APIKeys = keys

	return cfg, nil
}

// ParseAPIKeys parses "tenant:key[:admin],..." into key -> identity.
func ParseAPIKeys(raw string) (map[string]APIKey, error) {
	keys := map[string]APIKey{}
	for _, p := range strings.Split(raw, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		parts := strings.Split(p, ":")
		if len(parts) < 2 || len(parts) > 3 {
			return nil, errors.New(apiKeysFormat)
		}
		tenant, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		key := strings.TrimSpace(parts[1])
		if err != nil || tenant <= 0 || key == "" {
			return nil, errors.New(apiKeysFormat)
		}
		id := APIKey{TenantID: tenant}
		if len(parts) == 3 {
			if strings.TrimSpace(parts[2]) != "admin" {
				return nil, errors.New(apiKeysFormat)
			}
			id.Admin = true
		}
		keys[key] = id
	}
	return keys, nil
}
