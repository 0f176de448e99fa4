package config

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppHTTPAddr = ":9991"

	defaultMarketStrategy       = "stream"
	defaultQuoteAsset           = "USDT"
	defaultReconnectBackoffSecs = 5
	defaultMaxReconnectAttempts = 10
	defaultFallbackPollSecs     = 5
	defaultStatsPollSecs        = 60
	defaultPollSecs             = 60
	defaultCoinGeckoBaseURL     = "https://api.coingecko.com/api/v3"
	defaultFetchTimeoutSecs     = 8
	defaultDeciderBaseURL       = "https://openrouter.ai/api/v1"
	defaultDeciderTimeoutSecs   = 120
	defaultDeciderTemperature   = 0.7
	defaultDeciderMaxTokens     = 4000
	defaultCycleIntervalSecs    = 180
	defaultSweepIntervalSecs    = 30
	defaultMaxLeverage          = 20
	defaultMaxRiskFraction      = 0.03
	defaultMaintenanceFraction  = 0.9
	defaultStorePath            = "data/arena.db"
	defaultAccountsPath         = "configs/accounts.yaml"
)

var defaultSymbols = []string{"BTC", "ETH", "SOL", "BNB", "DOGE", "XRP"}

func (c *Config) applyDefaults() {
	c.App.applyDefaults()
	c.Market.applyDefaults()
	c.Decider.applyDefaults()
	c.Engine.applyDefaults()
	if c.Store.Path == "" {
		c.Store.Path = defaultStorePath
	}
	if c.Accounts.Path == "" {
		c.Accounts.Path = defaultAccountsPath
	}
}

func (a *AppConfig) applyDefaults() {
	if a.Env == "" {
		a.Env = defaultAppEnv
	}
	if a.LogLevel == "" {
		a.LogLevel = defaultAppLogLevel
	}
	if a.HTTPAddr == "" {
		a.HTTPAddr = defaultAppHTTPAddr
	}
}

func (m *MarketConfig) applyDefaults() {
	if m.Strategy == "" {
		m.Strategy = defaultMarketStrategy
	}
	if len(m.Symbols) == 0 {
		m.Symbols = append([]string(nil), defaultSymbols...)
	}
	if len(m.HighPrecisionSymbols) == 0 {
		m.HighPrecisionSymbols = []string{"DOGE"}
	}
	if m.QuoteAsset == "" {
		m.QuoteAsset = defaultQuoteAsset
	}
	if m.ReconnectBackoffSeconds <= 0 {
		m.ReconnectBackoffSeconds = defaultReconnectBackoffSecs
	}
	if m.MaxReconnectAttempts <= 0 {
		m.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if m.FallbackPollSeconds <= 0 {
		m.FallbackPollSeconds = defaultFallbackPollSecs
	}
	if m.StatsPollSeconds <= 0 {
		m.StatsPollSeconds = defaultStatsPollSecs
	}
	if m.PollSeconds <= 0 {
		m.PollSeconds = defaultPollSecs
	}
	if m.CoinGeckoBaseURL == "" {
		m.CoinGeckoBaseURL = defaultCoinGeckoBaseURL
	}
	if m.FetchTimeoutSeconds <= 0 {
		m.FetchTimeoutSeconds = defaultFetchTimeoutSecs
	}
}

func (d *DeciderConfig) applyDefaults() {
	if d.BaseURL == "" {
		d.BaseURL = defaultDeciderBaseURL
	}
	if d.TimeoutSeconds <= 0 {
		d.TimeoutSeconds = defaultDeciderTimeoutSecs
	}
	if d.Temperature <= 0 {
		d.Temperature = defaultDeciderTemperature
	}
	if d.MaxTokens <= 0 {
		d.MaxTokens = defaultDeciderMaxTokens
	}
}

func (e *EngineConfig) applyDefaults() {
	if e.CycleIntervalSeconds <= 0 {
		e.CycleIntervalSeconds = defaultCycleIntervalSecs
	}
	if e.SweepIntervalSeconds <= 0 {
		e.SweepIntervalSeconds = defaultSweepIntervalSecs
	}
	if e.MaxLeverage <= 0 {
		e.MaxLeverage = defaultMaxLeverage
	}
	if e.MaxRiskFraction <= 0 {
		e.MaxRiskFraction = defaultMaxRiskFraction
	}
	if e.MaintenanceFraction <= 0 {
		e.MaintenanceFraction = defaultMaintenanceFraction
	}
}
