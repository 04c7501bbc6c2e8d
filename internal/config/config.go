// Package config defines the top-level configuration for the sentinel daemon
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SENTINEL_* environment variables.
type Config struct {
	Agent    AgentConfig    `toml:"agent"`
	Decision DecisionConfig `toml:"decision"`
	Gemini   GeminiConfig   `toml:"gemini"`
	Venue    VenueConfig    `toml:"venue"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AgentConfig holds the bootstrap defaults of the arbitrage agent and the
// loop timings. The three tunables only seed a new agent record; once it
// exists the persisted values win.
type AgentConfig struct {
	Name                   string   `toml:"name"`
	MinSpreadPct           float64  `toml:"min_spread_pct"`
	MaxTradeSize           float64  `toml:"max_trade_size"`
	ExecutionDelaySeconds  float64  `toml:"execution_delay_seconds"`
	ScanInterval           Duration `toml:"scan_interval"`
	ScanTimeout            Duration `toml:"scan_timeout"`
	DecideTimeout          Duration `toml:"decide_timeout"`
	SettleTimeout          Duration `toml:"settle_timeout"`
	MaxConsecutiveFailures int      `toml:"max_consecutive_failures"`
	ProfitToken            string   `toml:"profit_token"`
	GasEstimate            float64  `toml:"gas_estimate"`
	AutoStart              bool     `toml:"auto_start"`
	StartDelay             Duration `toml:"start_delay"`
}

// DecisionConfig selects the decision maker.
type DecisionConfig struct {
	// Kind is "rule" or "model".
	Kind        string  `toml:"kind"`
	GasCost     float64 `toml:"gas_cost"`
	SlippagePct float64 `toml:"slippage_pct"`
}

// GeminiConfig configures the text-generation client of the model maker.
type GeminiConfig struct {
	APIKey            string   `toml:"api_key"`
	Model             string   `toml:"model"`
	BaseURL           string   `toml:"base_url"`
	Temperature       float64  `toml:"temperature"`
	Timeout           Duration `toml:"timeout"`
	RequestsPerMinute int      `toml:"requests_per_minute"`
}

// VenueConfig tunes the simulated DeepBook pools.
type VenueConfig struct {
	BasePrice      float64  `toml:"base_price"`
	BaseJitter     float64  `toml:"base_jitter"`
	ReferencePool  string   `toml:"reference_pool"`
	PremiumPool    string   `toml:"premium_pool"`
	PremiumSpread  float64  `toml:"premium_spread"`
	DiscountPool   string   `toml:"discount_pool"`
	DiscountSpread float64  `toml:"discount_spread"`
	SettleLatency  Duration `toml:"settle_latency"`
	SuccessRate    float64  `toml:"success_rate"`
	PoolDepth      float64  `toml:"pool_depth"`
	ResultTTL      Duration `toml:"result_ttl"`
	PruneInterval  Duration `toml:"prune_interval"`
	Seed           uint64   `toml:"seed"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// StreamMaxLen caps the event history stream.
	StreamMaxLen int64 `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the periodic JSONL export to object storage.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      Duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  Duration `toml:"rate_window"`
	// ReplayCount is how many recent events a new websocket client receives.
	ReplayCount int `toml:"replay_count"`
}

// NotifyConfig holds chat notification settings.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Duration decodes TOML strings such as "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config with sensible defaults.
func Defaults() Config {
	return Config{
		Agent: AgentConfig{
			Name:                   "Arbitrage Hunter",
			MinSpreadPct:           0.5,
			MaxTradeSize:           100,
			ExecutionDelaySeconds:  2,
			ScanInterval:           Duration{5 * time.Second},
			ScanTimeout:            Duration{10 * time.Second},
			DecideTimeout:          Duration{20 * time.Second},
			SettleTimeout:          Duration{30 * time.Second},
			MaxConsecutiveFailures: 5,
			ProfitToken:            "SUI",
			GasEstimate:            0.001,
			AutoStart:              true,
			StartDelay:             Duration{5 * time.Second},
		},
		Decision: DecisionConfig{
			Kind:        "rule",
			GasCost:     0.001,
			SlippagePct: 0.5,
		},
		Gemini: GeminiConfig{
			Model:             "gemini-pro",
			Temperature:       0.2,
			Timeout:           Duration{30 * time.Second},
			RequestsPerMinute: 30,
		},
		Venue: VenueConfig{
			BasePrice:      2.15,
			BaseJitter:     0.05,
			ReferencePool:  "SUI/USDC",
			PremiumPool:    "SUI/USDT",
			PremiumSpread:  0.05,
			DiscountPool:   "SUI/WETH",
			DiscountSpread: 0.03,
			SettleLatency:  Duration{time.Second},
			SuccessRate:    0.95,
			PoolDepth:      10_000,
			ResultTTL:      Duration{10 * time.Minute},
			PruneInterval:  Duration{time.Minute},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "deepsentinel",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 1000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "deepsentinel-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      Duration{24 * time.Hour},
			RetentionDays: 30,
		},
		Server: ServerConfig{
			Port:        8001,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  Duration{time.Minute},
			ReplayCount: 50,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_executed", "trade_failed", "error"},
		},
		Mode:     ModeFull,
		LogLevel: "info",
	}
}

// Operating modes.
const (
	// ModeAgent runs the agent loops without the HTTP API.
	ModeAgent = "agent"
	// ModeServer serves the HTTP API over the stored state, read-only.
	ModeServer = "server"
	// ModeFull runs the agents and serves the API from one process.
	ModeFull = "full"
)

var validModes = map[string]bool{
	ModeAgent:  true,
	ModeServer: true,
	ModeFull:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validNotifyEvents = map[string]bool{
	"agent_started":        true,
	"agent_stopped":        true,
	"opportunity_detected": true,
	"trade_executed":       true,
	"trade_failed":         true,
	"error":                true,
}

// RunsAgents reports whether the mode runs agent loops in this process.
func (c *Config) RunsAgents() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeAgent || m == ModeFull
}

// ServesHTTP reports whether the mode serves the HTTP API.
func (c *Config) ServesHTTP() bool {
	m := strings.ToLower(c.Mode)
	return m == ModeServer || m == ModeFull
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: agent, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.RunsAgents() {
		errs = append(errs, c.validateAgent()...)
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archive is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.ServesHTTP() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	for _, e := range c.Notify.Events {
		if !validNotifyEvents[e] {
			errs = append(errs, fmt.Sprintf("notify: unknown event %q", e))
		}
	}
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (c *Config) validateAgent() []string {
	var errs []string
	a := c.Agent
	if strings.TrimSpace(a.Name) == "" {
		errs = append(errs, "agent: name must not be empty")
	}
	if !(a.MinSpreadPct > 0) {
		errs = append(errs, "agent: min_spread_pct must be > 0")
	}
	if !(a.MaxTradeSize > 0) {
		errs = append(errs, "agent: max_trade_size must be > 0")
	}
	if a.ExecutionDelaySeconds < 0 {
		errs = append(errs, "agent: execution_delay_seconds must be >= 0")
	}
	for name, d := range map[string]Duration{
		"scan_interval":  a.ScanInterval,
		"scan_timeout":   a.ScanTimeout,
		"decide_timeout": a.DecideTimeout,
		"settle_timeout": a.SettleTimeout,
	} {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("agent: %s must be > 0", name))
		}
	}
	if a.MaxConsecutiveFailures < 0 {
		errs = append(errs, "agent: max_consecutive_failures must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(c.Decision.Kind)) {
	case "rule":
	case "model":
		if strings.TrimSpace(c.Gemini.APIKey) == "" {
			errs = append(errs, "gemini: api_key is required when decision.kind is model")
		}
		if strings.TrimSpace(c.Gemini.Model) == "" {
			errs = append(errs, "gemini: model must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("decision: unknown kind %q (valid: rule, model)", c.Decision.Kind))
	}

	v := c.Venue
	if !(v.BasePrice > 0) {
		errs = append(errs, "venue: base_price must be > 0")
	}
	if v.SuccessRate < 0 || v.SuccessRate > 1 {
		errs = append(errs, "venue: success_rate must be within [0,1]")
	}
	if !(v.PoolDepth > 0) {
		errs = append(errs, "venue: pool_depth must be > 0")
	}
	if v.ReferencePool == "" || v.PremiumPool == "" || v.DiscountPool == "" {
		errs = append(errs, "venue: pool names must not be empty")
	}
	if v.PruneInterval.Duration <= 0 {
		errs = append(errs, "venue: prune_interval must be > 0")
	}
	return errs
}
