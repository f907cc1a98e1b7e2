package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync/atomic"
	"time"
)

// Config is the full engine configuration, loaded once at startup and
// swapped atomically on reload.
type Config struct {
	KiwoomConfig       KiwoomConfig       `json:"kiwoom"`
	FeedConfig         FeedConfig         `json:"feed"`
	TradingConfig      TradingConfig      `json:"trading"`
	SignalConfig       SignalConfig       `json:"signal"`
	ScannerConfig      ScannerConfig      `json:"scanner"`
	NotificationConfig NotificationConfig `json:"notification"`
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	MetricsConfig      MetricsConfig      `json:"metrics"`
}

// KiwoomConfig holds credentials and endpoints for the Kiwoom REST and
// websocket gateways.
type KiwoomConfig struct {
	AppKey       string `json:"app_key"`
	SecretKey    string `json:"secret_key"`
	BaseURL      string `json:"base_url"`
	WebsocketURL string `json:"websocket_url"`
	// CallTimeout bounds every REST call; exceeding it is a transient
	// failure, not proof the order did or did not go through.
	CallTimeoutSec int `json:"call_timeout_sec"`
}

// FeedConfig holds market feed tuning.
type FeedConfig struct {
	// MaxStalenessSec is the liveness window: no frame of any kind within
	// it means the feed is considered down.
	MaxStalenessSec int `json:"max_staleness_sec"`
	// SnapshotStalenessSec is the per-symbol freshness window used by the
	// control loop before routing a tick.
	SnapshotStalenessSec int `json:"snapshot_staleness_sec"`
}

// TradingConfig holds position sizing and exit policy parameters.
type TradingConfig struct {
	// BudgetRatio is the fraction of available cash used per entry.
	BudgetRatio float64 `json:"budget_ratio"`
	// PendingTimeoutSec is how long an unfilled entry order may stay open
	// before a cancel-all is attempted.
	PendingTimeoutSec int `json:"pending_timeout_sec"`
	// SessionCutoff is the wall-clock end of the session, "HH:MM:SS".
	SessionCutoff string `json:"session_cutoff"`
	// RegimeIndexCode is the reference index used to classify the market
	// trend at startup ("001" is the KOSPI composite).
	RegimeIndexCode string `json:"regime_index_code"`

	// Trailing take-profit tiers (percent).
	TrailingActivatePct float64 `json:"trailing_activate_pct"`
	TrailingDrawdownPct float64 `json:"trailing_drawdown_pct"`
	ProfitFloorPct      float64 `json:"profit_floor_pct"`

	// Stop-loss tiers (percent, negative).
	StopLossBullPct     float64 `json:"stop_loss_bull_pct"`
	StopLossBearPct     float64 `json:"stop_loss_bear_pct"`
	StopLossBreakoutPct float64 `json:"stop_loss_breakout_pct"`
	StopLossBottomPct   float64 `json:"stop_loss_bottom_pct"`

	DryRun bool `json:"dry_run"`
}

// SignalConfig holds entry-signal thresholds.
type SignalConfig struct {
	EntryScore        float64 `json:"entry_score"`
	ShootingIntensity float64 `json:"shooting_intensity"`
	// ShootingIntensityLowProb applies when the external confidence is
	// below HighProbThreshold.
	ShootingIntensityLowProb float64 `json:"shooting_intensity_low_prob"`
	HighProbThreshold        float64 `json:"high_prob_threshold"`
	// MinNotional is the liquidity gate floor in KRW: resting depth times
	// last price must be at least this much for a signal to be valid.
	MinNotional float64 `json:"min_notional"`
}

// ScannerConfig controls intraday watch-list replenishment.
type ScannerConfig struct {
	Enabled bool `json:"enabled"`
	// MinWatching is the watch-list low-water mark that triggers a rescan.
	MinWatching int `json:"min_watching"`
	// RescanIntervalSec is the minimum spacing between rescans.
	RescanIntervalSec int `json:"rescan_interval_sec"`
	// MinScore filters replenishment candidates by external confidence.
	MinScore float64 `json:"min_score"`
}

// NotificationConfig holds the Telegram broadcast and operator channels.
type NotificationConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	// ChatID is the broadcast channel for trade alerts.
	ChatID string `json:"chat_id"`
	// AdminChatID receives order failures and sell escalations only.
	AdminChatID string `json:"admin_chat_id"`
}

// DatabaseConfig holds PostgreSQL connection settings for the candidate
// repository.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds the live status mirror settings. The mirror degrades to
// in-memory when Addr is empty or Redis is unreachable.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LoggingConfig controls the zerolog root logger.
type LoggingConfig struct {
	Level string `json:"level"` // debug, info, warn, error
	// Pretty switches to human-readable console output instead of JSON.
	Pretty bool `json:"pretty"`
}

// MetricsConfig controls the optional Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// Load reads the config file, applies environment overrides and validates.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("unable to read config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unable to parse config file: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		KiwoomConfig: KiwoomConfig{
			BaseURL:        "https://api.kiwoom.com",
			WebsocketURL:   "wss://api.kiwoom.com:10000/api/dostk/websocket",
			CallTimeoutSec: 5,
		},
		FeedConfig: FeedConfig{
			MaxStalenessSec:      30,
			SnapshotStalenessSec: 10,
		},
		TradingConfig: TradingConfig{
			BudgetRatio:         0.1,
			PendingTimeoutSec:   30,
			SessionCutoff:       "15:20:00",
			RegimeIndexCode:     "001",
			TrailingActivatePct: 2.0,
			TrailingDrawdownPct: 0.5,
			ProfitFloorPct:      1.5,
			StopLossBullPct:     -3.5,
			StopLossBearPct:     -1.5,
			StopLossBreakoutPct: -1.5,
			StopLossBottomPct:   -3.0,
		},
		SignalConfig: SignalConfig{
			EntryScore:               80,
			ShootingIntensity:        100,
			ShootingIntensityLowProb: 115,
			HighProbThreshold:        0.80,
			MinNotional:              50_000_000,
		},
		ScannerConfig: ScannerConfig{
			Enabled:           true,
			MinWatching:       5,
			RescanIntervalSec: 1800,
			MinScore:          0.70,
		},
		DatabaseConfig: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
		},
		LoggingConfig: LoggingConfig{Level: "info"},
		MetricsConfig: MetricsConfig{Addr: ":9108"},
	}
}

// applyEnvOverrides lets secrets and endpoints come from the environment so
// the config file can be committed without credentials.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("KIWOOM_APP_KEY"); v != "" {
		c.KiwoomConfig.AppKey = v
	}
	if v := os.Getenv("KIWOOM_SECRET_KEY"); v != "" {
		c.KiwoomConfig.SecretKey = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.NotificationConfig.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		c.NotificationConfig.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_ADMIN_CHAT_ID"); v != "" {
		c.NotificationConfig.AdminChatID = v
	}
	if v := os.Getenv("POSTGRES_HOST"); v != "" {
		c.DatabaseConfig.Host = v
	}
	if v := os.Getenv("POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.DatabaseConfig.Port = port
		}
	}
	if v := os.Getenv("POSTGRES_USER"); v != "" {
		c.DatabaseConfig.User = v
	}
	if v := os.Getenv("POSTGRES_PASSWORD"); v != "" {
		c.DatabaseConfig.Password = v
	}
	if v := os.Getenv("POSTGRES_DB"); v != "" {
		c.DatabaseConfig.Database = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.RedisConfig.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.RedisConfig.Password = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LoggingConfig.Level = v
	}
	if v := os.Getenv("DRY_RUN"); v != "" {
		c.TradingConfig.DryRun = v == "true" || v == "1"
	}
}

// Validate rejects configurations the engine cannot start with. These are
// fatal at startup only; nothing here is recoverable at runtime.
func (c *Config) Validate() error {
	if c.KiwoomConfig.AppKey == "" || c.KiwoomConfig.SecretKey == "" {
		return fmt.Errorf("kiwoom app_key and secret_key are required")
	}
	if c.KiwoomConfig.BaseURL == "" || c.KiwoomConfig.WebsocketURL == "" {
		return fmt.Errorf("kiwoom base_url and websocket_url are required")
	}
	if c.TradingConfig.BudgetRatio <= 0 || c.TradingConfig.BudgetRatio > 1 {
		return fmt.Errorf("trading budget_ratio must be in (0, 1], got %v", c.TradingConfig.BudgetRatio)
	}
	if _, err := c.SessionCutoff(); err != nil {
		return err
	}
	if c.TradingConfig.PendingTimeoutSec <= 0 {
		return fmt.Errorf("trading pending_timeout_sec must be positive")
	}
	return nil
}

// SessionCutoff parses the configured cutoff into hour/minute/second.
func (c *Config) SessionCutoff() (time.Time, error) {
	t, err := time.Parse("15:04:05", c.TradingConfig.SessionCutoff)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid session_cutoff %q: %w", c.TradingConfig.SessionCutoff, err)
	}
	return t, nil
}

// CallTimeout returns the per-call REST timeout as a duration.
func (k KiwoomConfig) CallTimeout() time.Duration {
	if k.CallTimeoutSec <= 0 {
		return 5 * time.Second
	}
	return time.Duration(k.CallTimeoutSec) * time.Second
}

// Runtime holds the live config snapshot. Readers always see a complete
// config; Reload swaps the whole snapshot at once.
type Runtime struct {
	path string
	v    atomic.Pointer[Config]
}

// NewRuntime wraps a loaded config for atomic reload.
func NewRuntime(path string, cfg *Config) *Runtime {
	r := &Runtime{path: path}
	r.v.Store(cfg)
	return r
}

// Current returns the active config snapshot.
func (r *Runtime) Current() *Config {
	return r.v.Load()
}

// Reload re-reads the config file and swaps the snapshot. On any error the
// previous snapshot stays active.
func (r *Runtime) Reload() error {
	cfg, err := Load(r.path)
	if err != nil {
		return err
	}
	r.v.Store(cfg)
	return nil
}
