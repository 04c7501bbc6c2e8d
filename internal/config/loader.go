package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENTINEL_"

// Load merges the TOML file at path on top of the built-in defaults, then
// applies SENTINEL_* environment variable overrides. An empty path skips the
// file. A .env file in the working directory is loaded first if present.
// The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets and deployment settings
// without touching the TOML file. Only set, non-empty variables apply.
func applyEnvOverrides(cfg *Config) {
	// ── Agent ──
	setStr(&cfg.Agent.Name, "AGENT_NAME")
	setFloat64(&cfg.Agent.MinSpreadPct, "AGENT_MIN_SPREAD_PCT")
	setFloat64(&cfg.Agent.MaxTradeSize, "AGENT_MAX_TRADE_SIZE")
	setFloat64(&cfg.Agent.ExecutionDelaySeconds, "AGENT_EXECUTION_DELAY_SECONDS")
	setDuration(&cfg.Agent.ScanInterval, "AGENT_SCAN_INTERVAL")
	setDuration(&cfg.Agent.SettleTimeout, "AGENT_SETTLE_TIMEOUT")
	setInt(&cfg.Agent.MaxConsecutiveFailures, "AGENT_MAX_CONSECUTIVE_FAILURES")
	setBool(&cfg.Agent.AutoStart, "AGENT_AUTO_START")

	// ── Decision ──
	setStr(&cfg.Decision.Kind, "DECISION_KIND")
	setStr(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setStr(&cfg.Gemini.Model, "GEMINI_MODEL")
	setStr(&cfg.Gemini.BaseURL, "GEMINI_BASE_URL")

	// ── Venue ──
	setFloat64(&cfg.Venue.SuccessRate, "VENUE_SUCCESS_RATE")
	setUint64(&cfg.Venue.Seed, "VENUE_SEED")

	// ── Database ──
	setStr(&cfg.Database.DSN, "DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "DATABASE_HOST")
	setInt(&cfg.Database.Port, "DATABASE_PORT")
	setStr(&cfg.Database.Database, "DATABASE_NAME")
	setStr(&cfg.Database.User, "DATABASE_USER")
	setStr(&cfg.Database.Password, "DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "DATABASE_POOL_MAX_CONNS")
	setBool(&cfg.Database.RunMigrations, "DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 / archive ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty. key excludes EnvPrefix, except for the
// unprefixed PORT alias used by container platforms.
// ---------------------------------------------------------------------------

func lookup(key string) string {
	if key == "PORT" {
		return os.Getenv(key)
	}
	return os.Getenv(EnvPrefix + key)
}

func setStr(dst *string, key string) {
	if v := lookup(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := lookup(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := lookup(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := lookup(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := lookup(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := lookup(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
