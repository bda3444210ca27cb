// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"converter_strategy/internal/core"
	"converter_strategy/internal/rebalance"
	"converter_strategy/internal/strategy"
	"converter_strategy/internal/withdraw"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Engine      EngineConfig      `yaml:"engine"`
	Oracle      OracleConfig      `yaml:"oracle"`
	Storage     StorageConfig     `yaml:"storage"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Alerts      AlertsConfig      `yaml:"alerts"`
	Strategies  []StrategyConfig  `yaml:"strategies"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel        string `yaml:"log_level" validate:"required,oneof=DEBUG INFO WARN ERROR FATAL"`
	ShutdownTimeout int    `yaml:"shutdown_timeout_seconds"`
	// KeepRunning serves metrics and health after the jobs finished until a signal arrives
	KeepRunning bool `yaml:"keep_running"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	HealthPort    int  `yaml:"health_port"`
	EnableTracing bool `yaml:"enable_tracing"`
}

// EngineConfig contains the engine tolerances shared by all strategies
type EngineConfig struct {
	SlippageBps             int64 `yaml:"slippage_bps"`
	PriceImpactToleranceBps int64 `yaml:"price_impact_tolerance_bps"`
}

// OracleConfig selects where conversion validation prices come from
type OracleConfig struct {
	Type            string                     `yaml:"type" validate:"oneof=market static http"`
	BaseURL         string                     `yaml:"base_url"`
	APIKey          Secret                     `yaml:"api_key"`
	TimeoutMs       int                        `yaml:"timeout_ms"`
	RateLimit       float64                    `yaml:"rate_limit"`
	Burst           int                        `yaml:"burst"`
	CacheTTLSeconds int                        `yaml:"cache_ttl_seconds"`
	Prices          map[string]decimal.Decimal `yaml:"prices"`
}

// Timeout returns the oracle request timeout
func (o OracleConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutMs) * time.Millisecond
}

// CacheTTL returns how long fetched prices are reused
func (o OracleConfig) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLSeconds) * time.Second
}

// StorageConfig selects the journal store
type StorageConfig struct {
	Type string `yaml:"type" validate:"oneof=memory sqlite"`
	Path string `yaml:"path"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	JobPoolSize   int `yaml:"job_pool_size" validate:"min=1,max=100"`
	JobPoolBuffer int `yaml:"job_pool_buffer" validate:"min=1,max=10000"`
}

// StrategyConfig is one strategy instance with its simulated market and jobs
type StrategyConfig struct {
	Name   string       `yaml:"name"`
	Market MarketConfig `yaml:"market"`
	Jobs   []JobConfig  `yaml:"jobs"`
}

// MarketConfig seeds the in-memory market of a strategy
type MarketConfig struct {
	Assets    []AssetConfig       `yaml:"assets"`
	Platforms []PlatformConfig    `yaml:"platforms"`
	Debts     []core.DebtPosition `yaml:"debts"`
	Routes    []RouteConfig       `yaml:"routes"`
	Pool      *PoolConfig         `yaml:"pool"`
}

// AssetConfig is a tracked token with its price and wallet balance
type AssetConfig struct {
	Symbol   string          `yaml:"symbol"`
	Decimals int32           `yaml:"decimals"`
	Price    decimal.Decimal `yaml:"price"`
	Balance  decimal.Decimal `yaml:"balance"`
}

// PlatformConfig is a lending platform
type PlatformConfig struct {
	ID              string          `yaml:"id"`
	CollateralAsset string          `yaml:"collateral_asset"`
	BorrowAsset     string          `yaml:"borrow_asset"`
	Ratio           decimal.Decimal `yaml:"ratio"`
	APR             decimal.Decimal `yaml:"apr"`
	MaxCollateral   decimal.Decimal `yaml:"max_collateral"`
}

// RouteConfig is a swap route
type RouteConfig struct {
	TokenIn   string `yaml:"token_in"`
	TokenOut  string `yaml:"token_out"`
	ImpactBps int64  `yaml:"impact_bps"`
}

// PoolConfig is the LP position of a strategy
type PoolConfig struct {
	Assets      []string          `yaml:"assets"`
	Reserves    []decimal.Decimal `yaml:"reserves"`
	TotalSupply decimal.Decimal   `yaml:"total_supply"`
	Owned       decimal.Decimal   `yaml:"owned"`
}

// AlertsConfig holds notification channels for failed jobs; empty disables a channel
type AlertsConfig struct {
	SlackWebhookURL  Secret `yaml:"slack_webhook_url"`
	TelegramBotToken Secret `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// Job kinds
const (
	JobRebalance         = "rebalance"
	JobRequestedAmount   = "make_requested_amount"
	JobWithdrawUniversal = "withdraw_universal"
	JobConvertAfter      = "convert_after_withdraw"
	JobClosePosition     = "close_position"
	JobLiquidate         = "liquidate"
)

// JobConfig is one engine call; only the payload matching Kind is used
type JobConfig struct {
	Kind      string                     `yaml:"kind"`
	Rebalance *rebalance.Request         `yaml:"rebalance,omitempty"`
	Withdraw  *withdraw.Request          `yaml:"withdraw,omitempty"`
	Convert   *withdraw.ConvertRequest   `yaml:"convert,omitempty"`
	Close     *withdraw.CloseRequest     `yaml:"close,omitempty"`
	Liquidate *strategy.LiquidateRequest `yaml:"liquidate,omitempty"`
}

func (j JobConfig) hasPayload() bool {
	switch j.Kind {
	case JobRebalance:
		return j.Rebalance != nil
	case JobRequestedAmount, JobWithdrawUniversal:
		return j.Withdraw != nil
	case JobConvertAfter:
		return j.Convert != nil
	case JobClosePosition:
		return j.Close != nil
	case JobLiquidate:
		return j.Liquidate != nil
	}
	return false
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables in the YAML content
	expandedData := expandEnvVars(string(data))

	config := DefaultConfig()
	config.Strategies = nil
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string
	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateSystemConfig,
		c.validateEngineConfig,
		c.validateOracleConfig,
		c.validateStorageConfig,
		c.validateConcurrencyConfig,
		c.validateAlertsConfig,
		c.validateStrategies,
	} {
		if err := check(); err != nil {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateAppConfig() error {
	if c.App.Name == "" {
		return ValidationError{Field: "app.name", Message: "application name is required"}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	if c.System.ShutdownTimeout < 0 {
		return ValidationError{Field: "system.shutdown_timeout_seconds", Value: c.System.ShutdownTimeout, Message: "must not be negative"}
	}
	return nil
}

func (c *Config) validateEngineConfig() error {
	if c.Engine.SlippageBps < 0 || c.Engine.SlippageBps > 10_000 {
		return ValidationError{Field: "engine.slippage_bps", Value: c.Engine.SlippageBps, Message: "must be within [0, 10000]"}
	}
	if c.Engine.PriceImpactToleranceBps < 0 || c.Engine.PriceImpactToleranceBps > 10_000 {
		return ValidationError{Field: "engine.price_impact_tolerance_bps", Value: c.Engine.PriceImpactToleranceBps, Message: "must be within [0, 10000]"}
	}
	return nil
}

func (c *Config) validateOracleConfig() error {
	switch c.Oracle.Type {
	case "market":
	case "static":
		if len(c.Oracle.Prices) == 0 {
			return ValidationError{Field: "oracle.prices", Message: "static oracle requires prices"}
		}
		for asset, p := range c.Oracle.Prices {
			if !p.IsPositive() {
				return ValidationError{Field: "oracle.prices." + asset, Value: p, Message: "price must be positive"}
			}
		}
	case "http":
		if c.Oracle.BaseURL == "" {
			return ValidationError{Field: "oracle.base_url", Message: "http oracle requires a base URL"}
		}
		if c.Oracle.RateLimit < 0 {
			return ValidationError{Field: "oracle.rate_limit", Value: c.Oracle.RateLimit, Message: "must not be negative"}
		}
	default:
		return ValidationError{Field: "oracle.type", Value: c.Oracle.Type, Message: "must be one of: market, static, http"}
	}
	return nil
}

func (c *Config) validateStorageConfig() error {
	switch c.Storage.Type {
	case "memory":
	case "sqlite":
		if c.Storage.Path == "" {
			return ValidationError{Field: "storage.path", Message: "sqlite storage requires a path"}
		}
	default:
		return ValidationError{Field: "storage.type", Value: c.Storage.Type, Message: "must be one of: memory, sqlite"}
	}
	return nil
}

func (c *Config) validateConcurrencyConfig() error {
	if c.Concurrency.JobPoolSize < 1 || c.Concurrency.JobPoolSize > 100 {
		return ValidationError{Field: "concurrency.job_pool_size", Value: c.Concurrency.JobPoolSize, Message: "must be within [1, 100]"}
	}
	if c.Concurrency.JobPoolBuffer < 1 {
		return ValidationError{Field: "concurrency.job_pool_buffer", Value: c.Concurrency.JobPoolBuffer, Message: "must be positive"}
	}
	return nil
}

func (c *Config) validateAlertsConfig() error {
	if (c.Alerts.TelegramBotToken == "") != (c.Alerts.TelegramChatID == "") {
		return ValidationError{Field: "alerts.telegram_chat_id", Message: "telegram alerts need both a bot token and a chat id"}
	}
	return nil
}

func (c *Config) validateStrategies() error {
	if len(c.Strategies) == 0 {
		return ValidationError{Field: "strategies", Message: "at least one strategy must be configured"}
	}
	names := make(map[string]bool, len(c.Strategies))
	for i, s := range c.Strategies {
		field := fmt.Sprintf("strategies[%d]", i)
		if s.Name == "" {
			return ValidationError{Field: field + ".name", Message: "strategy name is required"}
		}
		if names[s.Name] {
			return ValidationError{Field: field + ".name", Value: s.Name, Message: "duplicate strategy name"}
		}
		names[s.Name] = true
		if err := s.Market.validate(field + ".market"); err != nil {
			return err
		}
		for j, job := range s.Jobs {
			if !job.hasPayload() {
				return ValidationError{
					Field:   fmt.Sprintf("%s.jobs[%d]", field, j),
					Value:   job.Kind,
					Message: "unknown job kind or missing payload",
				}
			}
		}
	}
	return nil
}

func (m MarketConfig) validate(field string) error {
	if len(m.Assets) == 0 {
		return ValidationError{Field: field + ".assets", Message: "at least one asset is required"}
	}
	known := make(map[string]bool, len(m.Assets))
	for _, a := range m.Assets {
		if a.Symbol == "" || known[a.Symbol] {
			return ValidationError{Field: field + ".assets", Value: a.Symbol, Message: "asset symbols must be unique and non-empty"}
		}
		known[a.Symbol] = true
		if a.Decimals < 0 || a.Decimals > 36 {
			return ValidationError{Field: field + ".assets." + a.Symbol + ".decimals", Value: a.Decimals, Message: "must be within [0, 36]"}
		}
		if !a.Price.IsPositive() {
			return ValidationError{Field: field + ".assets." + a.Symbol + ".price", Value: a.Price, Message: "price must be positive"}
		}
		if a.Balance.IsNegative() {
			return ValidationError{Field: field + ".assets." + a.Symbol + ".balance", Value: a.Balance, Message: "balance must not be negative"}
		}
	}
	for _, p := range m.Platforms {
		if !known[p.CollateralAsset] || !known[p.BorrowAsset] {
			return ValidationError{Field: field + ".platforms." + p.ID, Message: "platform references an unknown asset"}
		}
		if !p.Ratio.IsPositive() {
			return ValidationError{Field: field + ".platforms." + p.ID + ".ratio", Value: p.Ratio, Message: "ratio must be positive"}
		}
	}
	for _, r := range m.Routes {
		if !known[r.TokenIn] || !known[r.TokenOut] {
			return ValidationError{Field: field + ".routes", Value: r.TokenIn + ">" + r.TokenOut, Message: "route references an unknown asset"}
		}
	}
	for _, d := range m.Debts {
		if !known[d.CollateralAsset] || !known[d.BorrowAsset] {
			return ValidationError{Field: field + ".debts", Value: d.CollateralAsset + "/" + d.BorrowAsset, Message: "debt references an unknown asset"}
		}
	}
	if m.Pool != nil {
		if len(m.Pool.Assets) != len(m.Pool.Reserves) {
			return ValidationError{Field: field + ".pool", Message: "assets and reserves must have the same length"}
		}
		if !m.Pool.TotalSupply.IsPositive() || m.Pool.Owned.GreaterThan(m.Pool.TotalSupply) {
			return ValidationError{Field: field + ".pool.owned", Value: m.Pool.Owned, Message: "owned liquidity must not exceed a positive total supply"}
		}
	}
	return nil
}

// String returns a string representation of the configuration (with sensitive data masked)
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "converter_strategy",
			Environment: "development",
		},
		System: SystemConfig{
			LogLevel:        "INFO",
			ShutdownTimeout: 10,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: false,
			HealthPort:    8080,
		},
		Engine: EngineConfig{
			SlippageBps:             100,
			PriceImpactToleranceBps: 300,
		},
		Oracle: OracleConfig{
			Type:            "market",
			TimeoutMs:       5000,
			RateLimit:       10,
			Burst:           5,
			CacheTTLSeconds: 5,
		},
		Storage: StorageConfig{
			Type: "memory",
		},
		Concurrency: ConcurrencyConfig{
			JobPoolSize:   4,
			JobPoolBuffer: 64,
		},
		Strategies: []StrategyConfig{
			{
				Name: "default",
				Market: MarketConfig{
					Assets: []AssetConfig{
						{Symbol: "USDC", Decimals: 6, Price: decimal.NewFromInt(1), Balance: decimal.NewFromInt(1000)},
						{Symbol: "DAI", Decimals: 18, Price: decimal.NewFromInt(1), Balance: decimal.NewFromInt(1000)},
					},
				},
			},
		},
	}
}
