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
	envPrefix         = "ladder"

	// DefaultSellMinBalance 为卖单阶梯要求的最低未占用基础资产余额。
	DefaultSellMinBalance = 0.001
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

	applyMarketDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadWithKeys 读取配置并加载独立的密钥文件。
func LoadWithKeys(path, keysPath string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if keysPath == "" {
		cfg.Exchange.Credentials = CredentialsFromEnv()
		return cfg, nil
	}
	creds, err := LoadCredentials(keysPath)
	if err != nil {
		return nil, err
	}
	cfg.Exchange.Credentials = creds
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("exchange.name", "kraken")
	v.SetDefault("exchange.use_sandbox", false)
	v.SetDefault("exchange.validate_only", false)
	v.SetDefault("exchange.simulation", false)
	v.SetDefault("exchange.inter_request_delay", "1s")
	v.SetDefault("exchange.timeout", "30s")
	v.SetDefault("exchange.retry.max_attempts", 3)
	v.SetDefault("exchange.retry.min_delay", "500ms")
	v.SetDefault("exchange.retry.max_delay", "5s")

	v.SetDefault("trading.fee_percent", 0.26)
	v.SetDefault("trading.order_lifespan", "15m")

	v.SetDefault("database.path", "data/ladderbot.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.port", 9108)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})

	v.SetDefault("scheduler.loop_interval", "0s")
	v.SetDefault("scheduler.summary_min_total", 0.0001)
}

// 列表内的市场无法使用 viper 默认值，这里逐项补齐。
func applyMarketDefaults(cfg *Config) {
	for i := range cfg.Trading.Markets {
		m := &cfg.Trading.Markets[i]
		m.Pair = strings.TrimSpace(m.Pair)
		if m.Reference == "" {
			m.Reference = ReferenceConservative
		}
		if m.Sell.MinBalance == 0 {
			m.Sell.MinBalance = DefaultSellMinBalance
		}
		if m.Min == nil {
			m.Min = map[string]float64{}
		}
	}
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
