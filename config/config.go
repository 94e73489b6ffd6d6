package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rustyeddy/pmtrader/broker/paper"
	"github.com/rustyeddy/pmtrader/engine"
	"github.com/rustyeddy/pmtrader/internal/logging"
	"github.com/rustyeddy/pmtrader/position"
	"github.com/rustyeddy/pmtrader/risk"
	"gopkg.in/yaml.v3"
)

// Config is the complete pipeline configuration
type Config struct {
	Account AccountConfig `json:"account" yaml:"account"`
	Risk    RiskConfig    `json:"risk" yaml:"risk"`
	Sizing  SizingConfig  `json:"sizing" yaml:"sizing"`
	Exits   ExitsConfig   `json:"exits" yaml:"exits"`
	Venue   VenueConfig   `json:"venue" yaml:"venue"`
	Journal JournalConfig `json:"journal" yaml:"journal"`
	Lock    LockConfig    `json:"lock" yaml:"lock"`
	Notify  NotifyConfig  `json:"notify" yaml:"notify"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Server  ServerConfig  `json:"server" yaml:"server"`
}

type AccountConfig struct {
	StartingBalanceUSD float64 `json:"starting_balance_usd" yaml:"starting_balance_usd"`
}

// RiskConfig holds the circuit breaker limits. Zero disables a limit.
type RiskConfig struct {
	MaxDailyLossUSD      float64 `json:"max_daily_loss_usd" yaml:"max_daily_loss_usd"`
	MaxDrawdownPct       float64 `json:"max_drawdown_pct" yaml:"max_drawdown_pct"`
	CircuitBreakerLosses int     `json:"circuit_breaker_losses" yaml:"circuit_breaker_losses"`
	CooldownMinutes      int     `json:"cooldown_minutes" yaml:"cooldown_minutes"`
	MaxTradesPerDay      int     `json:"max_trades_per_day" yaml:"max_trades_per_day"`
	MaxOpenPositions     int     `json:"max_open_positions" yaml:"max_open_positions"`
	MinEntryProbability  float64 `json:"min_entry_probability" yaml:"min_entry_probability"`
	MaxEntryProbability  float64 `json:"max_entry_probability" yaml:"max_entry_probability"`
	MinEdge              float64 `json:"min_edge" yaml:"min_edge"`
	// DayBoundaryHours shifts the daily rollover away from 00:00 UTC.
	DayBoundaryHours int `json:"day_boundary_hours" yaml:"day_boundary_hours"`
}

type SizingConfig struct {
	MaxKellyFraction   float64 `json:"max_kelly_fraction" yaml:"max_kelly_fraction"`
	KellyMultiplier    float64 `json:"kelly_multiplier" yaml:"kelly_multiplier"`
	MinPositionUSD     float64 `json:"min_position_usd" yaml:"min_position_usd"`
	MaxPositionUSD     float64 `json:"max_position_usd" yaml:"max_position_usd"`
	DefaultPositionUSD float64 `json:"default_position_usd" yaml:"default_position_usd"`
}

type ExitsConfig struct {
	StopLossPct   float64 `json:"stop_loss_pct" yaml:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct" yaml:"take_profit_pct"`
}

type VenueConfig struct {
	Type         string  `json:"type" yaml:"type"` // "paper"
	Slippage     float64 `json:"slippage" yaml:"slippage"`
	FeePct       float64 `json:"fee_pct" yaml:"fee_pct"`
	MaxDeviation float64 `json:"max_deviation" yaml:"max_deviation"`
}

type JournalConfig struct {
	Type          string `json:"type" yaml:"type"` // "sqlite", "postgres" or "memory"
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	DSN           string `json:"dsn,omitempty" yaml:"dsn,omitempty"`
	SnapshotEvery int    `json:"snapshot_every" yaml:"snapshot_every"`
}

// Target is the path or DSN handed to journal.Open.
func (j JournalConfig) Target() string {
	if j.Type == "postgres" {
		return j.DSN
	}
	return j.Path
}

type LockConfig struct {
	Type          string `json:"type" yaml:"type"` // "local", "sqlite" or "redis"
	Path          string `json:"path,omitempty" yaml:"path,omitempty"`
	RedisAddr     string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty"`
	RedisPassword string `json:"redis_password,omitempty" yaml:"redis_password,omitempty"`
	RedisDB       int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty"`
	Key           string `json:"key" yaml:"key"`
	Timeout       string `json:"timeout" yaml:"timeout"` // e.g. "10s"
	TTL           string `json:"ttl" yaml:"ttl"`
}

func (l LockConfig) TimeoutDuration() time.Duration { return parseDuration(l.Timeout) }
func (l LockConfig) TTLDuration() time.Duration     { return parseDuration(l.TTL) }

type NotifyConfig struct {
	TelegramToken  string `json:"telegram_token,omitempty" yaml:"telegram_token,omitempty"`
	TelegramChatID string `json:"telegram_chat_id,omitempty" yaml:"telegram_chat_id,omitempty"`
	QueueSize      int    `json:"queue_size" yaml:"queue_size"`
}

type LogConfig struct {
	Level      string `json:"level" yaml:"level"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `json:"compress" yaml:"compress"`
	JSON       bool   `json:"json" yaml:"json"`
}

// ServerConfig configures the HTTP surface. On a loopback host the write
// endpoints are open to local callers; any other host requires APIToken,
// which callers send as a bearer token on POST requests.
type ServerConfig struct {
	Host           string `json:"host" yaml:"host"`
	Port           int    `json:"port" yaml:"port"`
	ProductionMode bool   `json:"production_mode" yaml:"production_mode"`
	APIToken       string `json:"api_token,omitempty" yaml:"api_token,omitempty"` // e.g. "${PMTRADER_API_TOKEN}"
	CycleInterval  string `json:"cycle_interval" yaml:"cycle_interval"`           // e.g. "15m"
	SignalsFile    string `json:"signals_file,omitempty" yaml:"signals_file,omitempty"`
	QuotesFile     string `json:"quotes_file,omitempty" yaml:"quotes_file,omitempty"`
}

// Loopback reports whether the server only listens on the local host.
func (s ServerConfig) Loopback() bool {
	if s.Host == "localhost" {
		return true
	}
	ip := net.ParseIP(s.Host)
	return ip != nil && ip.IsLoopback()
}

func (s ServerConfig) CycleIntervalDuration() time.Duration { return parseDuration(s.CycleInterval) }

// LoadEnv loads .env style files into the process environment. With no
// arguments it loads ./.env when present.
func LoadEnv(paths ...string) error {
	if len(paths) == 0 {
		err := godotenv.Load()
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(paths...)
}

// LoadFromFile loads configuration from a file (YAML or JSON). ${VAR}
// references are expanded from the environment first and fields the file
// leaves out keep their defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Parse decodes a config document over the defaults without validating it.
func Parse(data []byte) (*Config, error) {
	expanded := []byte(os.ExpandEnv(string(data)))

	// Try YAML first, fall back to JSON
	cfg := Default()
	if err := yaml.Unmarshal(expanded, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(expanded, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", jerr)
		}
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Account.StartingBalanceUSD <= 0 {
		return fmt.Errorf("account.starting_balance_usd must be positive")
	}

	r := c.Risk
	if r.MaxDailyLossUSD < 0 {
		return fmt.Errorf("risk.max_daily_loss_usd must not be negative")
	}
	if r.MaxDrawdownPct < 0 || r.MaxDrawdownPct > 100 {
		return fmt.Errorf("risk.max_drawdown_pct must be between 0 and 100")
	}
	if r.CircuitBreakerLosses < 0 || r.CooldownMinutes < 0 || r.MaxTradesPerDay < 0 || r.MaxOpenPositions < 0 {
		return fmt.Errorf("risk counts and cooldown_minutes must not be negative")
	}
	if r.MinEntryProbability < 0 || r.MaxEntryProbability > 1 || r.MinEntryProbability >= r.MaxEntryProbability {
		return fmt.Errorf("risk entry probability bounds must satisfy 0 <= min < max <= 1")
	}
	if r.MinEdge < 0 || r.MinEdge >= 1 {
		return fmt.Errorf("risk.min_edge must be between 0 and 1")
	}
	if r.DayBoundaryHours < 0 || r.DayBoundaryHours > 23 {
		return fmt.Errorf("risk.day_boundary_hours must be between 0 and 23")
	}

	s := c.Sizing
	if s.MaxKellyFraction <= 0 || s.MaxKellyFraction > 1 {
		return fmt.Errorf("sizing.max_kelly_fraction must be between 0 and 1")
	}
	if s.KellyMultiplier <= 0 {
		return fmt.Errorf("sizing.kelly_multiplier must be positive")
	}
	if s.MinPositionUSD <= 0 {
		return fmt.Errorf("sizing.min_position_usd must be positive")
	}
	if s.MaxPositionUSD < s.MinPositionUSD {
		return fmt.Errorf("sizing.max_position_usd must be at least min_position_usd")
	}
	if s.DefaultPositionUSD < s.MinPositionUSD {
		return fmt.Errorf("sizing.default_position_usd must be at least min_position_usd")
	}

	if c.Exits.StopLossPct < 0 || c.Exits.StopLossPct >= 100 || c.Exits.TakeProfitPct < 0 {
		return fmt.Errorf("exits.stop_loss_pct must be in [0,100) and take_profit_pct not negative")
	}

	if c.Venue.Type != "paper" {
		return fmt.Errorf("venue.type must be 'paper'")
	}
	if c.Venue.Slippage < 0 || c.Venue.FeePct < 0 || c.Venue.MaxDeviation < 0 {
		return fmt.Errorf("venue slippage, fee_pct and max_deviation must not be negative")
	}

	switch c.Journal.Type {
	case "sqlite":
		if c.Journal.Path == "" {
			return fmt.Errorf("journal.path required for SQLite type")
		}
	case "postgres":
		if c.Journal.DSN == "" {
			return fmt.Errorf("journal.dsn required for Postgres type")
		}
	case "memory":
	default:
		return fmt.Errorf("journal.type must be 'sqlite', 'postgres' or 'memory'")
	}
	if c.Journal.SnapshotEvery < 0 {
		return fmt.Errorf("journal.snapshot_every must not be negative")
	}

	switch c.Lock.Type {
	case "local":
	case "sqlite":
		if c.Lock.Path == "" {
			return fmt.Errorf("lock.path required for SQLite type")
		}
	case "redis":
		if c.Lock.RedisAddr == "" {
			return fmt.Errorf("lock.redis_addr required for Redis type")
		}
	default:
		return fmt.Errorf("lock.type must be 'local', 'sqlite' or 'redis'")
	}
	if c.Lock.TimeoutDuration() <= 0 {
		return fmt.Errorf("lock.timeout must be a positive duration")
	}
	if c.Lock.Type != "local" && c.Lock.TTLDuration() <= 0 {
		return fmt.Errorf("lock.ttl must be a positive duration")
	}

	if c.Server.CycleInterval != "" && c.Server.CycleIntervalDuration() <= 0 {
		return fmt.Errorf("server.cycle_interval must be a positive duration")
	}
	if !c.Server.Loopback() && c.Server.APIToken == "" {
		return fmt.Errorf("server.api_token required when server.host %q is not loopback", c.Server.Host)
	}
	return nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	p := risk.DefaultPolicy()
	z := risk.DefaultSizingPolicy()
	return &Config{
		Account: AccountConfig{StartingBalanceUSD: p.StartingBalanceUSD},
		Risk: RiskConfig{
			MaxDailyLossUSD:      p.MaxDailyLossUSD,
			MaxDrawdownPct:       p.MaxDrawdownPct,
			CircuitBreakerLosses: p.CircuitBreakerLosses,
			CooldownMinutes:      int(p.Cooldown / time.Minute),
			MaxTradesPerDay:      p.MaxTradesPerDay,
			MaxOpenPositions:     p.MaxOpenPositions,
			MinEntryProbability:  p.MinEntryProbability,
			MaxEntryProbability:  p.MaxEntryProbability,
			MinEdge:              p.MinEdge,
		},
		Sizing: SizingConfig{
			MaxKellyFraction:   z.MaxKellyFraction,
			KellyMultiplier:    z.KellyMultiplier,
			MinPositionUSD:     z.MinPositionUSD,
			MaxPositionUSD:     z.MaxPositionUSD,
			DefaultPositionUSD: z.DefaultPositionUSD,
		},
		Exits: ExitsConfig{StopLossPct: 50},
		Venue: VenueConfig{Type: "paper", Slippage: 0.01, FeePct: 2},
		Journal: JournalConfig{
			Type:          "sqlite",
			Path:          "./data/pmtrader.db",
			SnapshotEvery: 100,
		},
		Lock: LockConfig{
			Type:    "sqlite",
			Path:    "./data/pmtrader.db",
			Key:     "pmtrader:cycle",
			Timeout: "10s",
			TTL:     "5m",
		},
		Notify: NotifyConfig{QueueSize: 64},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          8090,
			CycleInterval: "15m",
		},
	}
}

// EngineConfig maps the file layout onto the engine's policies.
func (c *Config) EngineConfig() engine.Config {
	r := c.Risk
	return engine.Config{
		Policy: risk.Policy{
			StartingBalanceUSD:   c.Account.StartingBalanceUSD,
			MaxDailyLossUSD:      r.MaxDailyLossUSD,
			MaxDrawdownPct:       r.MaxDrawdownPct,
			CircuitBreakerLosses: r.CircuitBreakerLosses,
			Cooldown:             time.Duration(r.CooldownMinutes) * time.Minute,
			MaxTradesPerDay:      r.MaxTradesPerDay,
			MaxOpenPositions:     r.MaxOpenPositions,
			MinEntryProbability:  r.MinEntryProbability,
			MaxEntryProbability:  r.MaxEntryProbability,
			MinEdge:              r.MinEdge,
			DayBoundary:          time.Duration(r.DayBoundaryHours) * time.Hour,
		},
		Sizing: risk.SizingPolicy{
			MaxKellyFraction:   c.Sizing.MaxKellyFraction,
			KellyMultiplier:    c.Sizing.KellyMultiplier,
			MinPositionUSD:     c.Sizing.MinPositionUSD,
			MaxPositionUSD:     c.Sizing.MaxPositionUSD,
			DefaultPositionUSD: c.Sizing.DefaultPositionUSD,
		},
		Exits: position.ExitRule{
			StopLossPct:   c.Exits.StopLossPct,
			TakeProfitPct: c.Exits.TakeProfitPct,
		},
		LockTimeout:   c.Lock.TimeoutDuration(),
		SnapshotEvery: c.Journal.SnapshotEvery,
	}
}

func (c *Config) PaperOptions() paper.Options {
	return paper.Options{
		Slippage:     c.Venue.Slippage,
		FeePct:       c.Venue.FeePct,
		MaxDeviation: c.Venue.MaxDeviation,
	}
}

func (c *Config) LogOptions() logging.Options {
	l := c.Log
	return logging.Options{
		Level:      l.Level,
		File:       l.File,
		MaxSizeMB:  l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
		MaxAgeDays: l.MaxAgeDays,
		Compress:   l.Compress,
		JSON:       l.JSON,
	}
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
