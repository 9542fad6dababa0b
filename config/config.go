package config

import (
	"time"
)

// Config 主配置结构
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Upstream    UpstreamConfig    `yaml:"upstream"`
	Outbound    []OutboundConfig  `yaml:"outbound"`
	Cache       CacheConfig       `yaml:"cache"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Redis       RedisConfig       `yaml:"redis"`
	Performance PerformanceConfig `yaml:"performance"`
	Admin       AdminConfig       `yaml:"admin"`
	Log         LogConfig         `yaml:"log"`
}

// ServerConfig DNS 服务器配置
type ServerConfig struct {
	Port                 int    `yaml:"port"`
	Bind                 string `yaml:"bind"`
	MaxConcurrentQueries int    `yaml:"max_concurrent_queries"`
}

// UpstreamConfig 上游 DNS 配置（单一上游，不做故障切换）
type UpstreamConfig struct {
	Nameserver string        `yaml:"nameserver"`
	Outbound   string        `yaml:"outbound"`
	Timeout    time.Duration `yaml:"timeout"`
}

// OutboundConfig 出站配置
type OutboundConfig struct {
	Tag      string `yaml:"tag"`
	Type     string `yaml:"type"` // direct, socks5
	Enable   bool   `yaml:"enable"`
	Server   string `yaml:"server"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CacheConfig 记录缓存配置
type CacheConfig struct {
	MaxTTL       int    `yaml:"max_ttl"` // 秒
	Cleanup      string `yaml:"cleanup"` // cron 表达式
	ClearOnStart bool   `yaml:"clear_on_start"`
}

// PersistenceConfig 缓存持久化配置
type PersistenceConfig struct {
	Enable     bool          `yaml:"enable"`
	Type       string        `yaml:"type"` // file, redis
	File       string        `yaml:"file"`
	RedisKey   string        `yaml:"redis_key"`
	FlushDelay time.Duration `yaml:"flush_delay"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Server     string `yaml:"server"`
	Port       int    `yaml:"port"`
	Database   int    `yaml:"database"`
	Password   string `yaml:"password"`
	MaxRetries int    `yaml:"max_retries"`
	PoolSize   int    `yaml:"pool_size"`
	Outbound   string `yaml:"outbound"`
}

// PerformanceConfig 性能配置
type PerformanceConfig struct {
	Singleflight bool `yaml:"singleflight"`
}

// AdminConfig 管理接口配置
type AdminConfig struct {
	Enable       bool     `yaml:"enable"`
	Listen       string   `yaml:"listen"`
	AllowOrigins []string `yaml:"allow_origins"` // CORS 来源，为空时不允许跨域
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `yaml:"level"`  // debug, info, warn, error
	Format     string `yaml:"format"` // json, text
	Output     string `yaml:"output"` // stdout, file path
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Default 返回内置默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                 53,
			Bind:                 "127.0.0.1",
			MaxConcurrentQueries: 256,
		},
		Upstream: UpstreamConfig{
			Nameserver: "77.88.8.1:53",
			Outbound:   "direct",
			Timeout:    5 * time.Second,
		},
		Cache: CacheConfig{
			MaxTTL:  86400,
			Cleanup: "@every 60s",
		},
		Persistence: PersistenceConfig{
			Enable:     true,
			Type:       "file",
			File:       "dns_cache.json",
			RedisKey:   "cachedns:records",
			FlushDelay: time.Second,
		},
		Redis: RedisConfig{
			Server:     "127.0.0.1",
			Port:       6379,
			MaxRetries: 3,
			PoolSize:   10,
			Outbound:   "direct",
		},
		Performance: PerformanceConfig{
			Singleflight: true,
		},
		Admin: AdminConfig{
			Listen: "127.0.0.1:8053",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
		},
	}
}

// MaxTTLDuration 返回缓存最大 TTL
func (c CacheConfig) MaxTTLDuration() time.Duration {
	return time.Duration(c.MaxTTL) * time.Second
}
