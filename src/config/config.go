package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"market-stream/src/models"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. MS_PORT or MS_REDIS_ADDR.
const EnvPrefix = "MS_"

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig loads defaults, then the YAML file, then .env and environment overrides.
func NewConfig(configPath string) (*Config, error) {
	// 1. Start from defaults so a partial YAML file is enough
	modelConfig := Defaults()

	// 2. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	if err := yaml.Unmarshal(data, modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	// 3. Environment overrides (a missing .env file is fine)
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	if err := env.ParseWithOptions(modelConfig, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment overrides: %w", err)
	}

	config := &Config{MConfig: modelConfig}

	// 4. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Defaults returns the built-in configuration.
func Defaults() *models.MConfig {
	return &models.MConfig{
		Name:      "market-stream",
		Host:      "0.0.0.0",
		Port:      8000,
		LogLevel:  "INFO",
		LogFormat: "console",
		Connections: models.MConnectionConfig{
			MaxConnections:           5000,
			HeartbeatIntervalSeconds: 10,
			IdleTimeoutSeconds:       30,
			SweepIntervalSeconds:     60,
			ReadTimeoutSeconds:       60,
			SendTimeoutMillis:        1000,
			BroadcastBatchSize:       100,
			BatchPauseMillis:         10,
			ShutdownNoticeDelayMs:    100,
			MaxMessageSize:           64 * 1024,
			AcceptRatePerSecond:      200,
			AcceptBurst:              400,
		},
		Scheduler: models.MSchedulerConfig{
			TickIntervalSeconds:    30,
			RetryIntervalSeconds:   5,
			MaxSymbolsPerTick:      50,
			DefaultSymbols:         []string{"AAPL", "GOOGL", "GC=F", "BITCOIN", "ETHEREUM"},
			ShutdownTimeoutSeconds: 5,
			FilterBySubscription:   true,
		},
		Cache: models.MCacheConfig{
			Capacity:              2000,
			DefaultTTLSeconds:     300,
			MarketHoursTTLSeconds: 30,
			RefreshConcurrency:    100,
			RefreshBatchSize:      20,
		},
		Redis: models.MRedisConfig{
			Enabled:            false,
			Addr:               "localhost:6379",
			KeyPrefix:          "market-stream:",
			DialTimeoutSeconds: 2,
			OpTimeoutMillis:    500,
			CompressThreshold:  1024,
		},
		Network: models.MNetworkConfig{
			RequestTimeout:     15,
			MaxRetries:         2,
			RateLimitPerSecond: 10,
			UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) market-stream",
		},
		DataSource: models.MDataSourceConfig{
			Provider:         "live",
			MockFallback:     true,
			YahooBaseURL:     "https://query1.finance.yahoo.com",
			CoinGeckoBaseURL: "https://api.coingecko.com/api/v3",
			ChartPoints:      100,
			Instruments:      DefaultInstruments(),
		},
		Timeframes:  []string{"1m", "5m", "15m", "1h", "1d"},
		CORSOrigins: []string{"http://127.0.0.1", "http://localhost"},
	}
}

// -----------------------------------------------------------------------------

// DefaultInstruments is the built-in instrument catalog.
func DefaultInstruments() []models.MInstrument {
	return []models.MInstrument{
		{Symbol: "AAPL", Name: "Apple Inc.", Kind: models.KindStock},
		{Symbol: "GOOGL", Name: "Alphabet Inc.", Kind: models.KindStock},
		{Symbol: "MSFT", Name: "Microsoft Corp.", Kind: models.KindStock},
		{Symbol: "TSLA", Name: "Tesla Inc.", Kind: models.KindStock},
		{Symbol: "AMZN", Name: "Amazon.com Inc.", Kind: models.KindStock},
		{Symbol: "META", Name: "Meta Platforms Inc.", Kind: models.KindStock},
		{Symbol: "NVDA", Name: "NVIDIA Corp.", Kind: models.KindStock},
		{Symbol: "NFLX", Name: "Netflix Inc.", Kind: models.KindStock},
		{Symbol: "GC=F", Name: "Gold Futures", Kind: models.KindCommodity},
		{Symbol: "CL=F", Name: "Crude Oil Futures", Kind: models.KindCommodity},
		{Symbol: "BITCOIN", Name: "Bitcoin", Kind: models.KindCrypto, ProviderID: "bitcoin"},
		{Symbol: "ETHEREUM", Name: "Ethereum", Kind: models.KindCrypto, ProviderID: "ethereum"},
		{Symbol: "SOLANA", Name: "Solana", Kind: models.KindCrypto, ProviderID: "solana"},
		{Symbol: "EURUSD", Name: "Euro/US Dollar", Kind: models.KindForex, ProviderID: "EURUSD=X"},
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Server
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("log format must be 'console' or 'json', got '%s'", c.LogFormat)
	}

	// Connections
	conn := c.Connections
	if conn.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be greater than 0")
	}
	if conn.HeartbeatIntervalSeconds <= 0 || conn.IdleTimeoutSeconds <= 0 || conn.SweepIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat interval, idle timeout and sweep interval must be greater than 0")
	}
	if conn.SendTimeoutMillis <= 0 {
		return fmt.Errorf("send timeout must be greater than 0")
	}
	// A send must give up before the next heartbeat is due
	if conn.SendTimeout() >= conn.HeartbeatInterval() {
		return fmt.Errorf("send timeout (%dms) must be shorter than the heartbeat interval (%ds)",
			conn.SendTimeoutMillis, conn.HeartbeatIntervalSeconds)
	}
	if conn.BroadcastBatchSize <= 0 {
		return fmt.Errorf("broadcast batch size must be greater than 0")
	}
	if conn.ReadTimeoutSeconds <= conn.HeartbeatIntervalSeconds {
		return fmt.Errorf("read timeout must be longer than the heartbeat interval")
	}

	// Scheduler
	if c.Scheduler.TickIntervalSeconds <= 0 || c.Scheduler.RetryIntervalSeconds <= 0 {
		return fmt.Errorf("tick and retry intervals must be greater than 0")
	}
	if c.Scheduler.MaxSymbolsPerTick <= 0 {
		return fmt.Errorf("max symbols per tick must be greater than 0")
	}

	// Cache
	if c.Cache.Capacity <= 0 {
		return fmt.Errorf("cache capacity must be greater than 0")
	}
	if c.Cache.DefaultTTLSeconds <= 0 || c.Cache.MarketHoursTTLSeconds <= 0 {
		return fmt.Errorf("cache TTLs must be greater than 0")
	}
	if c.Cache.RefreshConcurrency <= 0 || c.Cache.RefreshBatchSize <= 0 {
		return fmt.Errorf("refresh concurrency and batch size must be greater than 0")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis address cannot be empty when redis is enabled")
	}

	// Network
	if c.Network.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be greater than 0")
	}
	if c.Network.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}

	// DataSource
	if c.DataSource.Provider != "live" && c.DataSource.Provider != "mock" {
		return fmt.Errorf("data source provider must be 'live' or 'mock', got '%s'", c.DataSource.Provider)
	}
	for i, inst := range c.DataSource.Instruments {
		if inst.Symbol == "" {
			return fmt.Errorf("instrument %d must have a symbol", i)
		}
		switch inst.Kind {
		case models.KindStock, models.KindCrypto, models.KindForex, models.KindCommodity:
		default:
			return fmt.Errorf("instrument '%s' has unknown kind '%s'", inst.Symbol, inst.Kind)
		}
	}

	if len(c.Timeframes) == 0 {
		return fmt.Errorf("at least one timeframe must be configured")
	}
	for i, tf := range c.Timeframes {
		if tf == "" {
			return fmt.Errorf("timeframe %d cannot be empty", i)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}
