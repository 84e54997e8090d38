package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// APIConfig 定义上游临时邮箱 API 的访问参数
type APIConfig struct {
	BaseURL         string        // 上游 API 根地址，例如 "https://mail.example.com"
	RequestTimeout  time.Duration // 普通请求超时时间，默认 15 秒
	LongPollTimeout time.Duration // 长轮询请求的客户端超时上限，需大于服务端挂起时间（约 60 秒）
	RateLimit       float64       // 每秒最多发起的请求数
	Burst           int           // 令牌桶突发容量
	DomainCacheTTL  time.Duration // 域名列表缓存时间
	UserAgent       string        // 请求 User-Agent
}

// SyncConfig 定义邮箱同步客户端的重试与分页策略
type SyncConfig struct {
	PageSize         int           // 每页加载的邮件数量，默认 50
	BackoffBase      time.Duration // 失败重试的初始等待时间，默认 1 秒
	BackoffMax       time.Duration // 失败重试的最大等待时间，默认 30 秒
	FailureThreshold int           // 连续失败多少次后提示"连接已断开"，默认 3
	ResubmitDelay    time.Duration // 收到新邮件或空轮询后再次发起长轮询前的等待，默认 0
}

// SessionConfig 定义邮箱地址会话的配置
type SessionConfig struct {
	Address        string // 启动时使用的邮箱地址，留空则恢复历史或随机生成
	HistoryBackend string // 地址历史存储: "memory" 或 "redis"
	HistorySize    int    // 最多保留的历史地址数量
}

// RedisConfig 定义 Redis 连接配置（地址历史存储使用）
type RedisConfig struct {
	Address  string // Redis 服务地址，格式 "host:port"，默认 "localhost:6379"
	Password string // Redis 认证密码，留空表示无密码
	DB       int    // Redis 数据库编号，默认 0
}

// BridgeConfig 定义本地桥接服务（HTTP + WebSocket）的监听配置
type BridgeConfig struct {
	Enabled        bool     // 是否启动本地桥接服务
	Host           string   // 监听地址，默认 "127.0.0.1"
	Port           int      // 监听端口，默认 8787
	AllowedOrigins []string // 允许的来源列表，"*" 表示允许所有来源
}

// DownloadConfig 定义附件下载配置
type DownloadConfig struct {
	Dir     string // 附件保存目录
	Workers int    // 并发下载协程数
}

// LogConfig 定义日志系统配置
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 启用彩色输出和详细堆栈信息
	File        string // 日志文件路径，留空则只输出到标准错误
}

// Config 是客户端配置的根结构体
type Config struct {
	API      APIConfig
	Sync     SyncConfig
	Session  SessionConfig
	Redis    RedisConfig
	Bridge   BridgeConfig
	Download DownloadConfig
	Log      LogConfig
}

// Addr 返回桥接服务的监听地址
func (b BridgeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", b.Host, b.Port)
}

// Load 从环境变量和 .env 文件加载客户端配置
//
// 配置加载优先级（从高到低）：
//  1. 系统环境变量
//  2. .env 文件（如果存在）
//  3. 默认值
//
// 环境变量前缀: TEMPMAIL_
// 例如: TEMPMAIL_API_BASE_URL, TEMPMAIL_SYNC_PAGE_SIZE
//
// 返回值:
//   - *Config: 加载成功的配置对象
//   - error: 配置验证失败时返回错误
func Load() (*Config, error) {
	loadEnvFile()

	v := viper.New()
	v.SetEnvPrefix("tempmail")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	apiCfg, err := loadAPI(v)
	if err != nil {
		return nil, err
	}

	syncCfg, err := loadSync(v)
	if err != nil {
		return nil, err
	}

	backend := strings.ToLower(strings.TrimSpace(v.GetString("session.history_backend")))
	if backend != "memory" && backend != "redis" {
		return nil, fmt.Errorf("invalid session.history_backend: %q", backend)
	}

	historySize := v.GetInt("session.history_size")
	if historySize <= 0 {
		historySize = 20
	}

	origins := parseList(v.GetString("bridge.allowed_origins"))
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	workers := v.GetInt("download.workers")
	if workers <= 0 {
		return nil, fmt.Errorf("download.workers must be positive")
	}

	cfg := &Config{
		API:  apiCfg,
		Sync: syncCfg,
		Session: SessionConfig{
			Address:        strings.TrimSpace(v.GetString("session.address")),
			HistoryBackend: backend,
			HistorySize:    historySize,
		},
		Redis: RedisConfig{
			Address:  v.GetString("redis.address"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Bridge: BridgeConfig{
			Enabled:        v.GetBool("bridge.enabled"),
			Host:           v.GetString("bridge.host"),
			Port:           v.GetInt("bridge.port"),
			AllowedOrigins: origins,
		},
		Download: DownloadConfig{
			Dir:     v.GetString("download.dir"),
			Workers: workers,
		},
		Log: LogConfig{
			Level:       v.GetString("log.level"),
			Development: v.GetBool("log.development"),
			File:        v.GetString("log.file"),
		},
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://127.0.0.1:3000")
	v.SetDefault("api.request_timeout", "15s")
	v.SetDefault("api.long_poll_timeout", "90s")
	v.SetDefault("api.rate_limit", 10.0)
	v.SetDefault("api.burst", 5)
	v.SetDefault("api.domain_cache_ttl", "5m")
	v.SetDefault("api.user_agent", "tmail-client/1.0")
	v.SetDefault("sync.page_size", 50)
	v.SetDefault("sync.backoff_base", "1s")
	v.SetDefault("sync.backoff_max", "30s")
	v.SetDefault("sync.failure_threshold", 3)
	v.SetDefault("sync.resubmit_delay", "0s")
	v.SetDefault("session.address", "")
	v.SetDefault("session.history_backend", "memory")
	v.SetDefault("session.history_size", 20)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("bridge.enabled", true)
	v.SetDefault("bridge.host", "127.0.0.1")
	v.SetDefault("bridge.port", 8787)
	v.SetDefault("bridge.allowed_origins", "*")
	v.SetDefault("download.dir", "./downloads")
	v.SetDefault("download.workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
	v.SetDefault("log.file", "")
}

// loadAPI 解析并校验上游 API 配置
func loadAPI(v *viper.Viper) (APIConfig, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(v.GetString("api.base_url")), "/")
	u, err := url.Parse(baseURL)
	if err != nil {
		return APIConfig{}, fmt.Errorf("invalid api.base_url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return APIConfig{}, fmt.Errorf("invalid api.base_url: %q must be an absolute http(s) URL", baseURL)
	}

	requestTimeout, err := time.ParseDuration(v.GetString("api.request_timeout"))
	if err != nil {
		return APIConfig{}, fmt.Errorf("invalid api.request_timeout: %w", err)
	}

	longPollTimeout, err := time.ParseDuration(v.GetString("api.long_poll_timeout"))
	if err != nil {
		return APIConfig{}, fmt.Errorf("invalid api.long_poll_timeout: %w", err)
	}

	cacheTTL, err := time.ParseDuration(v.GetString("api.domain_cache_ttl"))
	if err != nil {
		cacheTTL = 5 * time.Minute
	}

	rateLimit := v.GetFloat64("api.rate_limit")
	if rateLimit <= 0 {
		rateLimit = 10
	}

	burst := v.GetInt("api.burst")
	if burst <= 0 {
		burst = 1
	}

	return APIConfig{
		BaseURL:         baseURL,
		RequestTimeout:  requestTimeout,
		LongPollTimeout: longPollTimeout,
		RateLimit:       rateLimit,
		Burst:           burst,
		DomainCacheTTL:  cacheTTL,
		UserAgent:       v.GetString("api.user_agent"),
	}, nil
}

// loadSync 解析并校验同步策略配置
func loadSync(v *viper.Viper) (SyncConfig, error) {
	pageSize := v.GetInt("sync.page_size")
	if pageSize <= 0 {
		return SyncConfig{}, fmt.Errorf("sync.page_size must be positive")
	}

	base, err := time.ParseDuration(v.GetString("sync.backoff_base"))
	if err != nil {
		return SyncConfig{}, fmt.Errorf("invalid sync.backoff_base: %w", err)
	}

	maxDelay, err := time.ParseDuration(v.GetString("sync.backoff_max"))
	if err != nil {
		return SyncConfig{}, fmt.Errorf("invalid sync.backoff_max: %w", err)
	}

	if base <= 0 || maxDelay < base {
		return SyncConfig{}, fmt.Errorf("sync.backoff_max (%s) must not be less than sync.backoff_base (%s)", maxDelay, base)
	}

	resubmit, err := time.ParseDuration(v.GetString("sync.resubmit_delay"))
	if err != nil || resubmit < 0 {
		return SyncConfig{}, fmt.Errorf("invalid sync.resubmit_delay: %q", v.GetString("sync.resubmit_delay"))
	}

	threshold := v.GetInt("sync.failure_threshold")
	if threshold <= 0 {
		threshold = 3
	}

	return SyncConfig{
		PageSize:         pageSize,
		BackoffBase:      base,
		BackoffMax:       maxDelay,
		FailureThreshold: threshold,
		ResubmitDelay:    resubmit,
	}, nil
}

// parseList 将逗号分隔的字符串解析为字符串切片
//
// 参数:
//   - value: 逗号分隔的字符串，如 "item1,item2,item3"
//
// 返回值:
//   - []string: 解析后的字符串切片，已去除空白字符
func parseList(value string) []string {
	parts := strings.Split(value, ",")
	items := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

// loadEnvFile 尝试加载 .env 文件
//
// 加载顺序：
//  1. 当前目录的 .env
//  2. 父目录的 .env
//
// 注意：
//   - 如果文件不存在，静默失败（.env 是可选的）
//   - 已存在的环境变量不会被覆盖
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}

	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
