package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"market-alerts/internal/logging"
	"market-alerts/internal/scheduler"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig                `mapstructure:"app"`
	Logging   logging.Config           `mapstructure:"logging"`
	Tracing   TracingConfig            `mapstructure:"tracing"`
	Database  DatabaseConfig           `mapstructure:"database"`
	Redis     RedisConfig              `mapstructure:"redis"`
	Scheduler SchedulerConfig          `mapstructure:"scheduler"`
	Sources   SourcesConfig            `mapstructure:"sources"`
	Alerting  AlertingConfig           `mapstructure:"alerting"`
	Notifiers NotifiersConfig          `mapstructure:"notifiers"`
	Channels  map[string]ChannelConfig `mapstructure:"channels"`
	Pipelines PipelinesConfig          `mapstructure:"pipelines"`
	Webhook   WebhookConfig            `mapstructure:"webhook"`
	Export    ExportConfig             `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

// DatabaseConfig encapsulates the optional PostgreSQL alert log.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	Retention       time.Duration `mapstructure:"retention"`
}

// RedisConfig selects the shared dedup backend. Empty URL keeps dedup in memory.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	Prefix  string        `mapstructure:"prefix"`
	SeenTTL time.Duration `mapstructure:"seen_ttl"`
}

// SchedulerConfig governs global scheduling behaviour.
type SchedulerConfig struct {
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	AlignToInterval bool          `mapstructure:"align_to_interval"`
	RunOnStart      bool          `mapstructure:"run_on_start"`
}

// SourcesConfig groups every upstream data source.
type SourcesConfig struct {
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	News      NewsConfig      `mapstructure:"news"`
	FearGreed HTTPSource      `mapstructure:"feargreed"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Mempool   HTTPSource      `mapstructure:"mempool"`
}

// HTTPSource is the minimal shape of a keyless JSON endpoint.
type HTTPSource struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// CoinGeckoConfig covers market snapshots and trending lists.
type CoinGeckoConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	Instruments    []string      `mapstructure:"instruments"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// NewsConfig picks between the CryptoPanic JSON API and a plain RSS feed.
type NewsConfig struct {
	Kind           string        `mapstructure:"kind"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	FeedURL        string        `mapstructure:"feed_url"`
	Currencies     []string      `mapstructure:"currencies"`
	MaxItems       int           `mapstructure:"max_items"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// EthereumConfig covers gas price access over JSON-RPC.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AlertingConfig defines thresholds and delivery pacing.
type AlertingConfig struct {
	ThresholdPct float64       `mapstructure:"threshold_pct"`
	Tiers        []float64     `mapstructure:"tiers"`
	MinSpacing   time.Duration `mapstructure:"min_spacing"`
	NewsDelay    time.Duration `mapstructure:"news_delay"`
	SendTimeout  time.Duration `mapstructure:"send_timeout"`
	SentimentMin int           `mapstructure:"sentiment_min_delta"`
}

// NotifiersConfig lists delivery transports.
type NotifiersConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
	Discord  DiscordConfig  `mapstructure:"discord"`
}

// TelegramConfig 描述 Telegram 推送参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// DiscordConfig describes the Discord bot REST transport.
type DiscordConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	APIBase  string `mapstructure:"api_base"`
}

// ChannelConfig binds a logical channel to a notifier and a concrete target.
type ChannelConfig struct {
	Notifier string `mapstructure:"notifier"`
	Target   string `mapstructure:"target"`
}

// PipelineConfig is the common shape of an interval pipeline.
type PipelineConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Channel  string        `mapstructure:"channel"`
}

// DailyConfig schedules a pipeline at a fixed time of day.
type DailyConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	At       string `mapstructure:"at"`
	Timezone string `mapstructure:"timezone"`
	Channel  string `mapstructure:"channel"`
	Top      int    `mapstructure:"top"`
	Chart    bool   `mapstructure:"chart"`
}

// PipelinesConfig enumerates every scheduled pipeline.
type PipelinesConfig struct {
	Prices       PipelineConfig `mapstructure:"prices"`
	News         PipelineConfig `mapstructure:"news"`
	Sentiment    PipelineConfig `mapstructure:"sentiment"`
	Trending     PipelineConfig `mapstructure:"trending"`
	Gas          PipelineConfig `mapstructure:"gas"`
	OnChain      PipelineConfig `mapstructure:"onchain"`
	DailySummary DailyConfig    `mapstructure:"daily_summary"`
	Retention    PipelineConfig `mapstructure:"retention"`
}

// WebhookConfig configures the inbound webhook listener.
type WebhookConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Listen          string        `mapstructure:"listen"`
	Secret          string        `mapstructure:"secret"`
	AlertChannel    string        `mapstructure:"alert_channel"`
	ExchangeChannel string        `mapstructure:"exchange_channel"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxRows int `mapstructure:"max_rows"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MARKETALERTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "marketalerts")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4317")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "marketalerts")

	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_lock_key", int64(0x6d6b7461))
	v.SetDefault("database.retention", "720h")

	v.SetDefault("redis.prefix", "marketalerts")
	v.SetDefault("redis.seen_ttl", "0s")

	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.align_to_interval", true)
	v.SetDefault("scheduler.run_on_start", true)

	v.SetDefault("sources.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("sources.coingecko.vs_currency", "usd")
	v.SetDefault("sources.coingecko.instruments", []string{"bitcoin", "ethereum", "solana", "ripple", "cardano", "dogecoin"})
	v.SetDefault("sources.coingecko.request_timeout", "10s")
	v.SetDefault("sources.news.kind", "cryptopanic")
	v.SetDefault("sources.news.base_url", "https://cryptopanic.com/api/developer/v2")
	v.SetDefault("sources.news.max_items", 20)
	v.SetDefault("sources.news.request_timeout", "10s")
	v.SetDefault("sources.feargreed.base_url", "https://api.alternative.me")
	v.SetDefault("sources.feargreed.request_timeout", "10s")
	v.SetDefault("sources.ethereum.request_timeout", "10s")
	v.SetDefault("sources.mempool.base_url", "https://mempool.space")
	v.SetDefault("sources.mempool.request_timeout", "10s")

	v.SetDefault("alerting.threshold_pct", 5.0)
	v.SetDefault("alerting.tiers", []float64{5, 10, 20})
	v.SetDefault("alerting.min_spacing", "1s")
	v.SetDefault("alerting.news_delay", "2s")
	v.SetDefault("alerting.send_timeout", "10s")
	v.SetDefault("alerting.sentiment_min_delta", 10)

	v.SetDefault("notifiers.telegram.enabled", false)
	v.SetDefault("notifiers.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("notifiers.discord.enabled", false)
	v.SetDefault("notifiers.discord.api_base", "https://discord.com/api/v10")

	v.SetDefault("pipelines.prices.enabled", true)
	v.SetDefault("pipelines.prices.interval", "5m")
	v.SetDefault("pipelines.prices.channel", "price-alerts")
	v.SetDefault("pipelines.news.enabled", true)
	v.SetDefault("pipelines.news.interval", "30m")
	v.SetDefault("pipelines.news.channel", "news")
	v.SetDefault("pipelines.sentiment.enabled", true)
	v.SetDefault("pipelines.sentiment.interval", "60m")
	v.SetDefault("pipelines.sentiment.channel", "sentiment")
	v.SetDefault("pipelines.trending.enabled", true)
	v.SetDefault("pipelines.trending.interval", "120m")
	v.SetDefault("pipelines.trending.channel", "trending")
	v.SetDefault("pipelines.gas.enabled", false)
	v.SetDefault("pipelines.gas.interval", "60m")
	v.SetDefault("pipelines.gas.channel", "onchain")
	v.SetDefault("pipelines.onchain.enabled", true)
	v.SetDefault("pipelines.onchain.interval", "120m")
	v.SetDefault("pipelines.onchain.channel", "onchain")
	v.SetDefault("pipelines.daily_summary.enabled", true)
	v.SetDefault("pipelines.daily_summary.at", "08:00")
	v.SetDefault("pipelines.daily_summary.timezone", "UTC")
	v.SetDefault("pipelines.daily_summary.channel", "daily")
	v.SetDefault("pipelines.daily_summary.top", 5)
	v.SetDefault("pipelines.daily_summary.chart", true)
	v.SetDefault("pipelines.retention.enabled", true)
	v.SetDefault("pipelines.retention.interval", "24h")

	v.SetDefault("webhook.enabled", false)
	v.SetDefault("webhook.listen", ":8080")
	v.SetDefault("webhook.alert_channel", "trading-alerts")
	v.SetDefault("webhook.exchange_channel", "exchange")
	v.SetDefault("webhook.shutdown_timeout", "5s")

	v.SetDefault("export.max_rows", 100000)
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

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Alerting.ThresholdPct <= 0 {
		return fmt.Errorf("alerting.threshold_pct must be greater than zero")
	}
	if c.Alerting.MinSpacing < 0 || c.Alerting.NewsDelay < 0 {
		return fmt.Errorf("alerting.min_spacing and alerting.news_delay cannot be negative")
	}
	for i := 1; i < len(c.Alerting.Tiers); i++ {
		if c.Alerting.Tiers[i] <= c.Alerting.Tiers[i-1] {
			return fmt.Errorf("alerting.tiers must be strictly ascending")
		}
	}

	for name, p := range c.Pipelines.interval() {
		if p.Enabled && p.Interval <= 0 {
			return fmt.Errorf("pipelines.%s.interval must be greater than zero", name)
		}
	}
	if c.Pipelines.Prices.Enabled && len(c.Sources.CoinGecko.Instruments) == 0 {
		return fmt.Errorf("sources.coingecko.instruments must list at least one instrument")
	}
	if c.Pipelines.Gas.Enabled && c.Sources.Ethereum.RPCURL == "" {
		return fmt.Errorf("sources.ethereum.rpc_url is required when pipelines.gas is enabled")
	}
	if c.Pipelines.News.Enabled {
		switch strings.ToLower(c.Sources.News.Kind) {
		case "cryptopanic":
		case "rss":
			if c.Sources.News.FeedURL == "" {
				return fmt.Errorf("sources.news.feed_url is required for rss news")
			}
		default:
			return fmt.Errorf("sources.news.kind must be cryptopanic or rss, got %q", c.Sources.News.Kind)
		}
	}
	if d := c.Pipelines.DailySummary; d.Enabled {
		if _, err := c.DailySummaryLocation(); err != nil {
			return err
		}
		if _, _, err := scheduler.ParseClock(d.At); err != nil {
			return fmt.Errorf("pipelines.daily_summary.at: %w", err)
		}
	}

	if c.Notifiers.Telegram.Enabled && c.Notifiers.Telegram.BotToken == "" {
		return fmt.Errorf("notifiers.telegram.bot_token 必须配置")
	}
	if c.Notifiers.Discord.Enabled && c.Notifiers.Discord.BotToken == "" {
		return fmt.Errorf("notifiers.discord.bot_token must be set")
	}
	if c.Webhook.Enabled && c.Webhook.Listen == "" {
		return fmt.Errorf("webhook.listen must be set when webhook is enabled")
	}
	if c.Export.MaxRows <= 0 {
		return fmt.Errorf("export.max_rows must be greater than zero")
	}
	return nil
}

func (p PipelinesConfig) interval() map[string]PipelineConfig {
	return map[string]PipelineConfig{
		"prices":    p.Prices,
		"news":      p.News,
		"sentiment": p.Sentiment,
		"trending":  p.Trending,
		"gas":       p.Gas,
		"onchain":   p.OnChain,
		"retention": p.Retention,
	}
}

// DailySummaryLocation resolves the configured timezone.
func (c *Config) DailySummaryLocation() (*time.Location, error) {
	tz := c.Pipelines.DailySummary.Timezone
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("pipelines.daily_summary.timezone: %w", err)
	}
	return loc, nil
}

// ChannelNames returns configured logical channels in stable order.
func (c *Config) ChannelNames() []string {
	names := make([]string, 0, len(c.Channels))
	for name := range c.Channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolveMaxRows returns either the CLI override or config default.
func (c *Config) ResolveMaxRows(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxRows
}
