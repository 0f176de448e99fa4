package config

import "time"

// Config is the top-level configuration carrier for arena.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Market   MarketConfig   `mapstructure:"market"`
	Decider  DeciderConfig  `mapstructure:"decider"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Store    StoreConfig    `mapstructure:"store"`
	Accounts AccountsConfig `mapstructure:"accounts"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
	HTTPAddr string `mapstructure:"http_addr"`
}

// MarketConfig selects and tunes the price feed strategy.
type MarketConfig struct {
	Strategy string   `mapstructure:"strategy"` // "stream" | "poll"
	Symbols  []string `mapstructure:"symbols"`
	// HighPrecisionSymbols are rendered with 4 decimals in prompts.
	HighPrecisionSymbols []string `mapstructure:"high_precision_symbols"`

	QuoteAsset string `mapstructure:"quote_asset"` // exchange pair suffix, e.g. USDT

	ReconnectBackoffSeconds int `mapstructure:"reconnect_backoff_seconds"`
	MaxReconnectAttempts    int `mapstructure:"max_reconnect_attempts"`
	FallbackPollSeconds     int `mapstructure:"fallback_poll_seconds"`
	StatsPollSeconds        int `mapstructure:"stats_poll_seconds"`

	PollSeconds         int    `mapstructure:"poll_seconds"`
	CoinGeckoBaseURL    string `mapstructure:"coingecko_base_url"`
	FetchTimeoutSeconds int    `mapstructure:"fetch_timeout_seconds"`
}

type DeciderConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKey         string  `mapstructure:"api_key"` // falls back to OPENROUTER_API_KEY
	Referer        string  `mapstructure:"referer"`
	Title          string  `mapstructure:"title"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	Temperature    float64 `mapstructure:"temperature"`
	MaxTokens      int     `mapstructure:"max_tokens"`
}

type EngineConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	CycleIntervalSeconds int     `mapstructure:"cycle_interval_seconds"`
	SweepIntervalSeconds int     `mapstructure:"sweep_interval_seconds"`
	RunImmediately       bool    `mapstructure:"run_immediately"`
	MaxLeverage          int     `mapstructure:"max_leverage"`
	MaxRiskFraction      float64 `mapstructure:"max_risk_fraction"`
	// MaintenanceFraction drives liquidation price: entry*(1 -/+ frac/leverage).
	MaintenanceFraction float64 `mapstructure:"maintenance_fraction"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// AccountsConfig points at the seed roster file (hot reloaded).
type AccountsConfig struct {
	Path string `mapstructure:"path"`
}

func (m MarketConfig) ReconnectBackoff() time.Duration {
	return time.Duration(m.ReconnectBackoffSeconds) * time.Second
}

func (m MarketConfig) FallbackPollInterval() time.Duration {
	return time.Duration(m.FallbackPollSeconds) * time.Second
}

func (m MarketConfig) StatsPollInterval() time.Duration {
	return time.Duration(m.StatsPollSeconds) * time.Second
}

func (m MarketConfig) PollInterval() time.Duration {
	return time.Duration(m.PollSeconds) * time.Second
}

func (m MarketConfig) FetchTimeout() time.Duration {
	return time.Duration(m.FetchTimeoutSeconds) * time.Second
}

func (d DeciderConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

func (e EngineConfig) CycleInterval() time.Duration {
	return time.Duration(e.CycleIntervalSeconds) * time.Second
}

func (e EngineConfig) SweepInterval() time.Duration {
	return time.Duration(e.SweepIntervalSeconds) * time.Second
}
