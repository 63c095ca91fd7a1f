package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"AgentVault/internal/auth"
	"AgentVault/pkg/logger"
)

// DefaultPath 是未设置 AGENTVAULT_CONFIG 时读取的配置文件。
var DefaultPath = filepath.Join("configs", "agentvault.json")

// PathEnv 用于覆盖配置文件路径。
const PathEnv = "AGENTVAULT_CONFIG"

// Config 描述了 AgentVault 在启动阶段需要加载的核心配置。
type Config struct {
	Server  ServerConfig  `json:"server"`
	Storage StorageConfig `json:"storage"`
	Lock    LockConfig    `json:"lock"`
	Events  EventsConfig  `json:"events"`
	Chains  ChainsConfig  `json:"chains"`
	Custody CustodyConfig `json:"custody"`
	Logging logger.Config `json:"logging"`
	Metrics MetricsConfig `json:"metrics"`
	Runtime RuntimeConfig `json:"runtime"`
}

// ServerConfig 控制 API 服务的监听地址、鉴权与限流。
type ServerConfig struct {
	Address   string          `json:"address"`
	Auth      auth.Config     `json:"auth"`
	RateLimit RateLimitConfig `json:"rate_limit"`
}

// RateLimitConfig 描述每个客户端的令牌桶。RequestsPerSecond 为 0 表示关闭。
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
}

// StorageConfig 描述 Agent 记录的存储后端。
type StorageConfig struct {
	AgentStore AgentStoreConfig `json:"agent_store"`
}

// AgentStoreConfig 支持 memory 与 mysql 两种驱动。
type AgentStoreConfig struct {
	Driver                 string `json:"driver"`
	DSN                    string `json:"dsn"`
	MaxOpenConns           int    `json:"max_open_conns"`
	MaxIdleConns           int    `json:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `json:"conn_max_lifetime_seconds"`
	ConnMaxIdleTimeSeconds int    `json:"conn_max_idle_time_seconds"`
}

// ConnMaxLifetime 返回连接最大生命周期。
func (c AgentStoreConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifetimeSeconds) * time.Second
}

// ConnMaxIdleTime 返回连接最大空闲时间。
func (c AgentStoreConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleTimeSeconds) * time.Second
}

// LockConfig 选择按 Agent 串行化操作的锁实现。
type LockConfig struct {
	Driver string      `json:"driver"`
	Redis  RedisConfig `json:"redis"`
}

// RedisConfig 描述 Redis 分布式锁。
type RedisConfig struct {
	Address        string `json:"address"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	Prefix         string `json:"prefix"`
	TTLSeconds     int    `json:"ttl_seconds"`
	PollIntervalMS int    `json:"poll_interval_ms"`
}

// EventsConfig 选择领域事件的发布渠道。
type EventsConfig struct {
	Driver   string `json:"driver"`
	URL      string `json:"url"`
	Exchange string `json:"exchange"`
}

// ChainsConfig 指向链定义文件。
type ChainsConfig struct {
	Definitions string `json:"definitions"`
	Default     string `json:"default"`
}

// CustodyConfig 描述主密钥来源与封装算法。
type CustodyConfig struct {
	MasterKeyEnv  string `json:"master_key_env"`
	MasterKeyFile string `json:"master_key_file"`
	Algorithm     string `json:"algorithm"`
}

// MetricsConfig 为空地址时不单独启动指标服务。
type MetricsConfig struct {
	Address string `json:"address"`
	Expose  bool   `json:"expose_on_api"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// PathFromEnv 返回 AGENTVAULT_CONFIG 或默认路径。
func PathFromEnv() string {
	if path := strings.TrimSpace(os.Getenv(PathEnv)); path != "" {
		return path
	}
	return DefaultPath
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.Auth.Mode == "" {
		c.Server.Auth.Mode = auth.ModeDisabled
	}
	if c.Server.RateLimit.RequestsPerSecond > 0 && c.Server.RateLimit.Burst <= 0 {
		c.Server.RateLimit.Burst = int(c.Server.RateLimit.RequestsPerSecond) + 1
	}

	if c.Storage.AgentStore.Driver == "" {
		c.Storage.AgentStore.Driver = "memory"
	}

	if c.Lock.Driver == "" {
		c.Lock.Driver = "memory"
	}
	if c.Lock.Redis.Prefix == "" {
		c.Lock.Redis.Prefix = "agentvault:lock:"
	}
	if c.Lock.Redis.TTLSeconds <= 0 {
		c.Lock.Redis.TTLSeconds = 30
	}
	if c.Lock.Redis.PollIntervalMS <= 0 {
		c.Lock.Redis.PollIntervalMS = 50
	}

	if c.Events.Driver == "" {
		c.Events.Driver = "none"
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "agentvault.events"
	}

	if c.Chains.Definitions == "" {
		c.Chains.Definitions = filepath.Join(baseDir, "chains.yaml")
	} else if !filepath.IsAbs(c.Chains.Definitions) {
		c.Chains.Definitions = filepath.Join(baseDir, c.Chains.Definitions)
	}

	if c.Custody.MasterKeyFile != "" && !filepath.IsAbs(c.Custody.MasterKeyFile) {
		c.Custody.MasterKeyFile = filepath.Join(baseDir, c.Custody.MasterKeyFile)
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}

	if c.Logging.Audit.Enabled && c.Logging.Audit.Path == "" {
		c.Logging.Audit.Path = filepath.Join(c.Runtime.DataDir, "audit.log")
	}
}

func (c *Config) validate() error {
	switch c.Storage.AgentStore.Driver {
	case "memory":
	case "mysql":
		if strings.TrimSpace(c.Storage.AgentStore.DSN) == "" {
			return errors.New("storage.agent_store.dsn 不能为空")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.AgentStore.Driver)
	}

	switch c.Lock.Driver {
	case "memory":
	case "redis":
		if strings.TrimSpace(c.Lock.Redis.Address) == "" {
			return errors.New("lock.redis.address 不能为空")
		}
	default:
		return fmt.Errorf("未知的锁驱动: %s", c.Lock.Driver)
	}

	switch c.Events.Driver {
	case "none", "memory":
	case "rabbitmq":
		if strings.TrimSpace(c.Events.URL) == "" {
			return errors.New("events.url 不能为空")
		}
	default:
		return fmt.Errorf("未知的事件驱动: %s", c.Events.Driver)
	}

	switch c.Server.Auth.Mode {
	case auth.ModeDisabled, auth.ModeToken, auth.ModeJWT:
	default:
		return fmt.Errorf("未知的鉴权模式: %s", c.Server.Auth.Mode)
	}
	if c.Server.RateLimit.RequestsPerSecond < 0 {
		return errors.New("server.rate_limit.requests_per_second 不能为负数")
	}
	return nil
}
