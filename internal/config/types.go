package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Market    MarketConfig    `mapstructure:"market"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Watch     WatchConfig     `mapstructure:"watch"`
	Stops     StopConfig      `mapstructure:"stops"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// MarketConfig 描述行情数据源连接信息。
type MarketConfig struct {
	Name        string      `mapstructure:"name"`
	APIKey      string      `mapstructure:"api_key"`
	APISecret   string      `mapstructure:"api_secret"`
	APIPass     string      `mapstructure:"api_password"`
	UseSandbox  bool        `mapstructure:"use_sandbox"`
	Timeframe   string      `mapstructure:"timeframe"`
	CandleLimit int         `mapstructure:"candle_limit"`
	Retry       RetryConfig `mapstructure:"retry"`
}

// BrokerConfig 描述执行端配置。
type BrokerConfig struct {
	Name       string  `mapstructure:"name"`
	APIKey     string  `mapstructure:"api_key"`
	APISecret  string  `mapstructure:"api_secret"`
	APIPass    string  `mapstructure:"api_password"`
	UseSandbox bool    `mapstructure:"use_sandbox"`
	Wallet     string  `mapstructure:"wallet_address"`
	PrivateKey string  `mapstructure:"private_key"`
	Simulation bool    `mapstructure:"simulation"`
	Slippage   float64 `mapstructure:"slippage"`
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// OpenAIConfig 描述大模型调用参数。api_key 为空时系统完全走启发式路径。
type OpenAIConfig struct {
	APIKey  string        `mapstructure:"api_key"`
	BaseURL string        `mapstructure:"base_url"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RiskConfig 管理风险评估与审批门槛参数。
type RiskConfig struct {
	CapitalBase       float64 `mapstructure:"capital_base"`
	MaxNotional       float64 `mapstructure:"max_notional"`
	MinConfidence     float64 `mapstructure:"min_confidence"`
	VolatilityCeiling float64 `mapstructure:"volatility_ceiling"`
}

// WatchConfig 控制监控规则阈值。
type WatchConfig struct {
	DrawdownLimit  float64       `mapstructure:"drawdown_limit"`
	VolumeFloor    float64       `mapstructure:"volume_floor"`
	MomentumGain   float64       `mapstructure:"momentum_gain"`
	MomentumLoss   float64       `mapstructure:"momentum_loss"`
	ResizeFraction float64       `mapstructure:"resize_fraction"`
	Freshness      time.Duration `mapstructure:"freshness"`
}

// StopConfig 提供止损止盈的默认比例。
type StopConfig struct {
	StopLossPct     float64       `mapstructure:"stop_loss_pct"`
	TakeProfitPct   float64       `mapstructure:"take_profit_pct"`
	TrailingStopPct float64       `mapstructure:"trailing_stop_pct"`
	MaxHolding      time.Duration `mapstructure:"max_holding"`
	// ExpireAfter 大于0时，订单创建即带上绝对到期时间。
	ExpireAfter time.Duration `mapstructure:"expire_after"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// SchedulerConfig 控制监控主循环节奏。
type SchedulerConfig struct {
	LoopInterval    time.Duration `mapstructure:"loop_interval"`
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// ServerConfig 控制对外 HTTP 服务。
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Market.Name == "" {
		err = multierr.Append(err, errors.New("market.name 不能为空"))
	}
	if c.Market.Timeframe == "" {
		err = multierr.Append(err, errors.New("market.timeframe 不能为空"))
	}
	if c.Market.CandleLimit <= 0 {
		err = multierr.Append(err, errors.New("market.candle_limit 必须大于0"))
	}
	if c.Market.Retry.MaxAttempts <= 0 {
		err = multierr.Append(err, errors.New("market.retry.max_attempts 必须大于0"))
	}
	if c.Market.Retry.MinDelay <= 0 || c.Market.Retry.MaxDelay <= 0 {
		err = multierr.Append(err, errors.New("market.retry.delay 必须为正"))
	}
	if c.Market.Retry.MinDelay > c.Market.Retry.MaxDelay {
		err = multierr.Append(err, errors.New("market.retry.min_delay 不能大于 max_delay"))
	}
	if c.Broker.Name == "" && !c.Broker.Simulation {
		err = multierr.Append(err, errors.New("broker.name 不能为空（或启用 simulation 模式）"))
	}
	if c.Broker.Slippage < 0 || c.Broker.Slippage > 0.2 {
		err = multierr.Append(err, errors.New("broker.slippage 应位于[0,0.2]"))
	}
	if c.OpenAI.APIKey != "" {
		if c.OpenAI.Model == "" {
			err = multierr.Append(err, errors.New("openai.model 不能为空"))
		}
		if c.OpenAI.Timeout <= 0 {
			err = multierr.Append(err, errors.New("openai.timeout 必须大于0"))
		}
	}
	if c.Risk.CapitalBase <= 0 {
		err = multierr.Append(err, errors.New("risk.capital_base 必须大于0"))
	}
	if c.Risk.MaxNotional <= 0 {
		err = multierr.Append(err, errors.New("risk.max_notional 必须大于0"))
	}
	if c.Risk.MinConfidence < 0 || c.Risk.MinConfidence > 1 {
		err = multierr.Append(err, errors.New("risk.min_confidence 必须位于[0,1]"))
	}
	if c.Risk.VolatilityCeiling <= 0 || c.Risk.VolatilityCeiling > 1 {
		err = multierr.Append(err, errors.New("risk.volatility_ceiling 必须位于(0,1]"))
	}
	if c.Watch.DrawdownLimit <= 0 || c.Watch.DrawdownLimit > 1 {
		err = multierr.Append(err, errors.New("watch.drawdown_limit 必须位于(0,1]"))
	}
	if c.Watch.VolumeFloor <= 0 || c.Watch.VolumeFloor > 1 {
		err = multierr.Append(err, errors.New("watch.volume_floor 必须位于(0,1]"))
	}
	if c.Watch.MomentumGain <= 0 || c.Watch.MomentumGain > 1 {
		err = multierr.Append(err, errors.New("watch.momentum_gain 必须位于(0,1]"))
	}
	if c.Watch.MomentumLoss <= 0 || c.Watch.MomentumLoss > 1 {
		err = multierr.Append(err, errors.New("watch.momentum_loss 必须位于(0,1]"))
	}
	if c.Watch.ResizeFraction <= 0 || c.Watch.ResizeFraction >= 1 {
		err = multierr.Append(err, errors.New("watch.resize_fraction 必须位于(0,1)"))
	}
	if c.Watch.Freshness <= 0 {
		err = multierr.Append(err, errors.New("watch.freshness 必须大于0"))
	}
	if c.Stops.StopLossPct <= 0 || c.Stops.StopLossPct >= 1 {
		err = multierr.Append(err, errors.New("stops.stop_loss_pct 必须位于(0,1)"))
	}
	if c.Stops.TakeProfitPct <= 0 || c.Stops.TakeProfitPct >= 1 {
		err = multierr.Append(err, errors.New("stops.take_profit_pct 必须位于(0,1)"))
	}
	if c.Stops.TrailingStopPct < 0 || c.Stops.TrailingStopPct >= 1 {
		err = multierr.Append(err, errors.New("stops.trailing_stop_pct 必须位于[0,1)"))
	}
	if c.Stops.MaxHolding < 0 {
		err = multierr.Append(err, errors.New("stops.max_holding 不能为负"))
	}
	if c.Stops.ExpireAfter < 0 {
		err = multierr.Append(err, errors.New("stops.expire_after 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}
	if c.Scheduler.ProviderTimeout <= 0 {
		err = multierr.Append(err, errors.New("scheduler.provider_timeout 必须大于0"))
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, errors.New("server.port 必须位于(0,65535]"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
