package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 描述 curatord 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Curator  CuratorConfig  `yaml:"curator"`
	LLM      LLMConfig      `yaml:"llm"`
	Payment  PaymentConfig  `yaml:"payment"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig 控制 API 服务的监听地址等参数。
type ServerConfig struct {
	Address     string `yaml:"address"`
	LegacyToken string `yaml:"legacy_token"`
	// LegacyTokenEnv 指定从环境变量读取旧版共享令牌。
	LegacyTokenEnv string `yaml:"legacy_token_env"`
}

// FeedSource 描述一个 RSS 订阅源。
type FeedSource struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// CuratorConfig 控制采集、评分与记忆的运行参数。
type CuratorConfig struct {
	Feeds            []FeedSource `yaml:"feeds"`
	HNCount          int          `yaml:"hn_count"`
	TwitterQuery     string       `yaml:"twitter_query"`
	TwitterBearerEnv string       `yaml:"twitter_bearer_env"`
	MaxAgeHours      int          `yaml:"max_age_hours"`
	FetchTimeoutSecs int          `yaml:"fetch_timeout_seconds"`
	ScoreCap         int          `yaml:"score_cap"`
	ScoreDelaySecs   int          `yaml:"score_delay_seconds"`
	HistorySize      int          `yaml:"history_size"`
	IntervalMinutes  int          `yaml:"interval_minutes"`
	MemoryFile       string       `yaml:"memory_file"`
	PublishThreshold int          `yaml:"publish_threshold"`
	BriefingTopN     int          `yaml:"briefing_top_n"`
}

// LLMConfig 配置评分所用的大模型调用方式。
type LLMConfig struct {
	Provider   string           `yaml:"provider"`
	OpenRouter OpenRouterConfig `yaml:"openrouter"`
}

// OpenRouterConfig 描述 OpenRouter Chat Completions 的调用参数。
type OpenRouterConfig struct {
	APIKey         string `yaml:"api_key"`
	APIKeyEnv      string `yaml:"api_key_env"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回调用超时时间。
func (c OpenRouterConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PaymentConfig 描述钱包支付验证所需的信息。
type PaymentConfig struct {
	Wallet            string             `yaml:"wallet"`
	MinEth            string             `yaml:"min_eth"`
	Network           string             `yaml:"network"`
	RPCURL            string             `yaml:"rpc_url"`
	NonceTTLSeconds   int                `yaml:"nonce_ttl_seconds"`
	SessionTTLSeconds int                `yaml:"session_ttl_seconds"`
	ChatTTLSeconds    int                `yaml:"chat_ttl_seconds"`
	BetaCode          string             `yaml:"beta_code"`
	BetaCodeEnv       string             `yaml:"beta_code_env"`
	BetaMaxUses       int                `yaml:"beta_max_uses"`
	Store             PaymentStoreConfig `yaml:"store"`
}

// PaymentStoreConfig 选择 nonce/session/支付台账的后端。
type PaymentStoreConfig struct {
	Driver string      `yaml:"driver"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig 描述 Redis 连接参数。
type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
	Queue     string `yaml:"queue"`
	BlockWait int    `yaml:"block_wait_seconds"`
}

// DeliveryConfig 选择高信号投递队列的后端。
type DeliveryConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RabbitMQConfig 描述 RabbitMQ 队列参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ArchiveConfig 选择信号归档存储。
type ArchiveConfig struct {
	Driver string      `yaml:"driver"`
	MySQL  MySQLConfig `yaml:"mysql"`
}

// MySQLConfig 描述 MySQL 连接池参数。
type MySQLConfig struct {
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `yaml:"conn_max_idle_time_seconds"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level       string         `yaml:"level"`
	Format      string         `yaml:"format"`
	OutputPaths []string       `yaml:"output_paths"`
	Audit       AuditLogConfig `yaml:"audit"`
}

// AuditLogConfig 描述审计日志输出。
type AuditLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// defaultFeeds 是未配置订阅源时使用的缺省列表。
var defaultFeeds = []FeedSource{
	{Name: "CoinDesk", URL: "https://www.coindesk.com/arc/outboundfeeds/rss/"},
	{Name: "Blockworks", URL: "https://blockworks.co/feed"},
	{Name: "Decrypt", URL: "https://decrypt.co/feed"},
	{Name: "The Block", URL: "https://www.theblock.co/rss.xml"},
	{Name: "CoinTelegraph", URL: "https://cointelegraph.com/rss"},
	{Name: "TechCrunch", URL: "https://techcrunch.com/feed/"},
}

// Load 解析指定路径的 YAML 配置文件并套用默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.resolveSecrets()

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":3001"
	}

	if len(c.Curator.Feeds) == 0 {
		c.Curator.Feeds = append([]FeedSource(nil), defaultFeeds...)
	}
	if c.Curator.HNCount <= 0 {
		c.Curator.HNCount = 15
	}
	if c.Curator.MaxAgeHours <= 0 {
		c.Curator.MaxAgeHours = 8
	}
	if c.Curator.FetchTimeoutSecs <= 0 {
		c.Curator.FetchTimeoutSecs = 10
	}
	if c.Curator.ScoreCap <= 0 {
		c.Curator.ScoreCap = 10
	}
	if c.Curator.ScoreDelaySecs <= 0 {
		c.Curator.ScoreDelaySecs = 2
	}
	if c.Curator.HistorySize <= 0 {
		c.Curator.HistorySize = 200
	}
	if c.Curator.IntervalMinutes <= 0 {
		c.Curator.IntervalMinutes = 240
	}
	if c.Curator.MemoryFile == "" {
		c.Curator.MemoryFile = filepath.Join(baseDir, "data", "curator_memory.json")
	} else if !filepath.IsAbs(c.Curator.MemoryFile) {
		c.Curator.MemoryFile = filepath.Join(baseDir, c.Curator.MemoryFile)
	}
	if c.Curator.PublishThreshold <= 0 {
		c.Curator.PublishThreshold = 8
	}
	if c.Curator.BriefingTopN <= 0 {
		c.Curator.BriefingTopN = 10
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "openrouter"
	}
	if c.LLM.OpenRouter.APIKeyEnv == "" {
		c.LLM.OpenRouter.APIKeyEnv = "OPENROUTER_API_KEY"
	}

	if c.Payment.MinEth == "" {
		c.Payment.MinEth = "0.001"
	}
	if c.Payment.Network == "" {
		c.Payment.Network = "Sepolia (chainId 11155111)"
	}
	if c.Payment.RPCURL == "" {
		c.Payment.RPCURL = "https://ethereum-sepolia-rpc.publicnode.com"
	}
	if c.Payment.NonceTTLSeconds <= 0 {
		c.Payment.NonceTTLSeconds = 300
	}
	if c.Payment.SessionTTLSeconds <= 0 {
		c.Payment.SessionTTLSeconds = 86400
	}
	if c.Payment.ChatTTLSeconds <= 0 {
		c.Payment.ChatTTLSeconds = 86400
	}
	if c.Payment.BetaMaxUses <= 0 {
		c.Payment.BetaMaxUses = 15
	}
	if c.Payment.BetaCodeEnv == "" {
		c.Payment.BetaCodeEnv = "BETA_INVITE_CODE"
	}
	if c.Payment.Store.Driver == "" {
		c.Payment.Store.Driver = "memory"
	}

	if c.Delivery.Driver == "" {
		c.Delivery.Driver = "memory"
	}
}

// resolveSecrets 从环境变量补齐未写入文件的敏感配置。
func (c *Config) resolveSecrets() {
	if c.Server.LegacyToken == "" && c.Server.LegacyTokenEnv != "" {
		c.Server.LegacyToken = strings.TrimSpace(os.Getenv(c.Server.LegacyTokenEnv))
	}
	if c.LLM.OpenRouter.APIKey == "" && c.LLM.OpenRouter.APIKeyEnv != "" {
		c.LLM.OpenRouter.APIKey = strings.TrimSpace(os.Getenv(c.LLM.OpenRouter.APIKeyEnv))
	}
	if c.Payment.BetaCode == "" && c.Payment.BetaCodeEnv != "" {
		c.Payment.BetaCode = strings.TrimSpace(os.Getenv(c.Payment.BetaCodeEnv))
	}
}

// TwitterBearer 返回社交检索源的凭据，未配置时为空。
func (c *CuratorConfig) TwitterBearer() string {
	if c.TwitterBearerEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.TwitterBearerEnv))
}

// Interval 返回后台循环的周期。
func (c *CuratorConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// FetchTimeout 返回单个订阅源的抓取超时。
func (c *CuratorConfig) FetchTimeout() time.Duration {
	return time.Duration(c.FetchTimeoutSecs) * time.Second
}

// ScoreDelay 返回两次评分调用之间的间隔。
func (c *CuratorConfig) ScoreDelay() time.Duration {
	return time.Duration(c.ScoreDelaySecs) * time.Second
}

// MaxAge 返回可接受的最大文章年龄。
func (c *CuratorConfig) MaxAge() time.Duration {
	return time.Duration(c.MaxAgeHours) * time.Hour
}
