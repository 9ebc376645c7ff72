package models

import "time"

// MConfig Structure
type MConfig struct {
	Name        string            `yaml:"name" env:"NAME"`
	Host        string            `yaml:"host" env:"HOST"`
	Port        int               `yaml:"port" env:"PORT"`
	LogLevel    string            `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat   string            `yaml:"log_format" env:"LOG_FORMAT"` // "console" or "json"
	Connections MConnectionConfig `yaml:"connections" envPrefix:"CONN_"`
	Scheduler   MSchedulerConfig  `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Cache       MCacheConfig      `yaml:"cache" envPrefix:"CACHE_"`
	Redis       MRedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Network     MNetworkConfig    `yaml:"network" envPrefix:"NETWORK_"`
	DataSource  MDataSourceConfig `yaml:"data_source" envPrefix:"SOURCE_"`
	Timeframes  []string          `yaml:"timeframes" env:"TIMEFRAMES" envSeparator:","`
	CORSOrigins []string          `yaml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
}

type MConnectionConfig struct {
	MaxConnections           int     `yaml:"max_connections" env:"MAX"`
	HeartbeatIntervalSeconds int     `yaml:"heartbeat_interval_seconds" env:"HEARTBEAT_INTERVAL_SECONDS"`
	IdleTimeoutSeconds       int     `yaml:"idle_timeout_seconds" env:"IDLE_TIMEOUT_SECONDS"`
	SweepIntervalSeconds     int     `yaml:"sweep_interval_seconds" env:"SWEEP_INTERVAL_SECONDS"`
	ReadTimeoutSeconds       int     `yaml:"read_timeout_seconds" env:"READ_TIMEOUT_SECONDS"`
	SendTimeoutMillis        int     `yaml:"send_timeout_ms" env:"SEND_TIMEOUT_MS"`
	BroadcastBatchSize       int     `yaml:"broadcast_batch_size" env:"BROADCAST_BATCH_SIZE"`
	BatchPauseMillis         int     `yaml:"batch_pause_ms" env:"BATCH_PAUSE_MS"`
	ShutdownNoticeDelayMs    int     `yaml:"shutdown_notice_delay_ms" env:"SHUTDOWN_NOTICE_DELAY_MS"`
	MaxMessageSize           int64   `yaml:"max_message_size" env:"MAX_MESSAGE_SIZE"`
	AcceptRatePerSecond      float64 `yaml:"accept_rate_per_second" env:"ACCEPT_RATE"`
	AcceptBurst              int     `yaml:"accept_burst" env:"ACCEPT_BURST"`
	SeedDefaultSubscriptions bool    `yaml:"seed_default_subscriptions" env:"SEED_DEFAULT_SUBSCRIPTIONS"`
}

type MSchedulerConfig struct {
	TickIntervalSeconds    int      `yaml:"tick_interval_seconds" env:"TICK_INTERVAL_SECONDS"`
	RetryIntervalSeconds   int      `yaml:"retry_interval_seconds" env:"RETRY_INTERVAL_SECONDS"`
	MaxSymbolsPerTick      int      `yaml:"max_symbols_per_tick" env:"MAX_SYMBOLS_PER_TICK"`
	DefaultSymbols         []string `yaml:"default_symbols" env:"DEFAULT_SYMBOLS" envSeparator:","`
	ShutdownTimeoutSeconds int      `yaml:"shutdown_timeout_seconds" env:"SHUTDOWN_TIMEOUT_SECONDS"`
	FilterBySubscription   bool     `yaml:"filter_by_subscription" env:"FILTER_BY_SUBSCRIPTION"`
}

type MCacheConfig struct {
	Capacity              int `yaml:"capacity" env:"CAPACITY"`
	DefaultTTLSeconds     int `yaml:"default_ttl_seconds" env:"DEFAULT_TTL_SECONDS"`
	MarketHoursTTLSeconds int `yaml:"market_hours_ttl_seconds" env:"MARKET_HOURS_TTL_SECONDS"`
	RefreshConcurrency    int `yaml:"refresh_concurrency" env:"REFRESH_CONCURRENCY"`
	RefreshBatchSize      int `yaml:"refresh_batch_size" env:"REFRESH_BATCH_SIZE"`
}

type MRedisConfig struct {
	Enabled            bool   `yaml:"enabled" env:"ENABLED"`
	Addr               string `yaml:"addr" env:"ADDR"`
	Password           string `yaml:"password" env:"PASSWORD"`
	DB                 int    `yaml:"db" env:"DB"`
	KeyPrefix          string `yaml:"key_prefix" env:"KEY_PREFIX"`
	DialTimeoutSeconds int    `yaml:"dial_timeout_seconds" env:"DIAL_TIMEOUT_SECONDS"`
	OpTimeoutMillis    int    `yaml:"op_timeout_ms" env:"OP_TIMEOUT_MS"`
	CompressThreshold  int    `yaml:"compress_threshold" env:"COMPRESS_THRESHOLD"`
}

type MNetworkConfig struct {
	RequestTimeout     int     `yaml:"timeout" env:"TIMEOUT"`
	MaxRetries         int     `yaml:"retries" env:"RETRIES"`
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second" env:"RATE_LIMIT"`
	UserAgent          string  `yaml:"user_agent" env:"USER_AGENT"`
}

type MDataSourceConfig struct {
	Provider         string        `yaml:"provider" env:"PROVIDER"` // "live" or "mock"
	MockFallback     bool          `yaml:"mock_fallback" env:"MOCK_FALLBACK"`
	YahooBaseURL     string        `yaml:"yahoo_base_url" env:"YAHOO_BASE_URL"`
	CoinGeckoBaseURL string        `yaml:"coingecko_base_url" env:"COINGECKO_BASE_URL"`
	ChartPoints      int           `yaml:"chart_points" env:"CHART_POINTS"`
	Instruments      []MInstrument `yaml:"instruments"`
}

// -----------------------------------------------------------------------------
// Durations
// -----------------------------------------------------------------------------

func (c MConnectionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

func (c MConnectionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

func (c MConnectionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

func (c MConnectionConfig) ReadTimeout() time.Duration {
	return time.Duration(c.ReadTimeoutSeconds) * time.Second
}

func (c MConnectionConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutMillis) * time.Millisecond
}

func (c MConnectionConfig) BatchPause() time.Duration {
	return time.Duration(c.BatchPauseMillis) * time.Millisecond
}

func (c MConnectionConfig) ShutdownNoticeDelay() time.Duration {
	return time.Duration(c.ShutdownNoticeDelayMs) * time.Millisecond
}

func (c MSchedulerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalSeconds) * time.Second
}

func (c MSchedulerConfig) RetryInterval() time.Duration {
	return time.Duration(c.RetryIntervalSeconds) * time.Second
}

func (c MSchedulerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

func (c MCacheConfig) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

func (c MCacheConfig) MarketHoursTTL() time.Duration {
	return time.Duration(c.MarketHoursTTLSeconds) * time.Second
}

func (c MRedisConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutSeconds) * time.Second
}

func (c MRedisConfig) OpTimeout() time.Duration {
	return time.Duration(c.OpTimeoutMillis) * time.Millisecond
}

func (c MNetworkConfig) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
