package config

import (
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envPrefix         = "plays"
)

// Load 读取配置文件并结合环境变量返回 Config。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, err)
		}
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("market.name", "binanceusdm")
	v.SetDefault("market.use_sandbox", false)
	v.SetDefault("market.timeframe", "1h")
	v.SetDefault("market.candle_limit", 60)
	v.SetDefault("market.retry.max_attempts", 5)
	v.SetDefault("market.retry.min_delay", "500ms")
	v.SetDefault("market.retry.max_delay", "5s")

	v.SetDefault("broker.name", "hyperliquid")
	v.SetDefault("broker.use_sandbox", false)
	v.SetDefault("broker.simulation", true)
	v.SetDefault("broker.slippage", 0.01)

	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.timeout", "15s")

	v.SetDefault("risk.capital_base", 100000.0)
	v.SetDefault("risk.max_notional", 50000.0)
	v.SetDefault("risk.min_confidence", 0.35)
	v.SetDefault("risk.volatility_ceiling", 0.08)

	v.SetDefault("watch.drawdown_limit", 0.15)
	v.SetDefault("watch.volume_floor", 0.50)
	v.SetDefault("watch.momentum_gain", 0.05)
	v.SetDefault("watch.momentum_loss", 0.03)
	v.SetDefault("watch.resize_fraction", 0.25)
	v.SetDefault("watch.freshness", "2m")

	v.SetDefault("stops.stop_loss_pct", 0.05)
	v.SetDefault("stops.take_profit_pct", 0.10)
	v.SetDefault("stops.trailing_stop_pct", 0.0)
	v.SetDefault("stops.max_holding", "72h")
	v.SetDefault("stops.expire_after", "0s")

	v.SetDefault("database.path", "data/plays_ai.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "1m")
	v.SetDefault("scheduler.provider_timeout", "15s")

	v.SetDefault("server.port", 8686)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
