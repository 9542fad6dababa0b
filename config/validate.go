package config

import (
	"fmt"
	"net"
	"strings"

	"cachedns/cache"
)

// Validate 验证配置
func Validate(cfg *Config) error {
	// 验证 Server
	if err := validateServer(&cfg.Server); err != nil {
		return fmt.Errorf("server: %w", err)
	}

	// 验证 Outbound
	if err := validateOutbound(cfg.Outbound); err != nil {
		return fmt.Errorf("outbound: %w", err)
	}

	// 验证 Upstream
	if err := validateUpstream(&cfg.Upstream, cfg.Outbound); err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	// 验证 Cache
	if err := validateCache(&cfg.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	// 验证 Persistence
	if err := validatePersistence(&cfg.Persistence, &cfg.Redis); err != nil {
		return fmt.Errorf("persistence: %w", err)
	}

	// 验证 Redis
	if cfg.Persistence.Enable && cfg.Persistence.Type == "redis" {
		if err := validateRedis(&cfg.Redis, cfg.Outbound); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	// 验证 Admin
	if err := validateAdmin(&cfg.Admin); err != nil {
		return fmt.Errorf("admin: %w", err)
	}

	// 验证 Log
	if err := validateLog(&cfg.Log); err != nil {
		return fmt.Errorf("log: %w", err)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("端口号必须在 1-65535 范围内，当前为: %d", port)
	}
	return nil
}

func validateServer(cfg *ServerConfig) error {
	if err := validatePort(cfg.Port); err != nil {
		return err
	}
	if cfg.Bind != "" && net.ParseIP(cfg.Bind) == nil {
		return fmt.Errorf("bind 必须是 IP 地址，当前为: %s", cfg.Bind)
	}
	if cfg.MaxConcurrentQueries <= 0 {
		return fmt.Errorf("max_concurrent_queries 必须大于 0")
	}
	return nil
}

func validateOutbound(outbounds []OutboundConfig) error {
	seen := map[string]bool{"direct": true}
	for _, ob := range outbounds {
		if ob.Tag == "" {
			return fmt.Errorf("outbound 必须配置 tag")
		}
		if ob.Tag == "direct" {
			return fmt.Errorf("tag direct 为保留名称")
		}
		if seen[ob.Tag] {
			return fmt.Errorf("重复的 outbound tag: %s", ob.Tag)
		}
		seen[ob.Tag] = true

		switch ob.Type {
		case "direct":
		case "socks5":
			if ob.Server == "" || ob.Port == 0 {
				return fmt.Errorf("socks5 outbound %s 必须配置 server 和 port", ob.Tag)
			}
			if err := validatePort(ob.Port); err != nil {
				return fmt.Errorf("outbound %s: %w", ob.Tag, err)
			}
		default:
			return fmt.Errorf("outbound %s 类型无效: %s", ob.Tag, ob.Type)
		}
	}
	return nil
}

// outboundType 返回 tag 对应的出站类型，direct 默认存在
func outboundType(tag string, outbounds []OutboundConfig) (string, bool) {
	if tag == "" || tag == "direct" {
		return "direct", true
	}
	for _, ob := range outbounds {
		if ob.Tag == tag {
			return ob.Type, true
		}
	}
	return "", false
}

func validateUpstream(cfg *UpstreamConfig, outbounds []OutboundConfig) error {
	if cfg.Nameserver == "" {
		return fmt.Errorf("必须配置 nameserver")
	}
	if strings.Contains(cfg.Nameserver, "://") {
		return fmt.Errorf("nameserver 仅支持 UDP 地址 (ip 或 ip:port)，当前为: %s", cfg.Nameserver)
	}
	if cfg.Timeout <= 0 {
		return fmt.Errorf("timeout 必须大于 0")
	}

	// SOCKS5 无法承载 UDP 查询
	typ, ok := outboundType(cfg.Outbound, outbounds)
	if !ok {
		return fmt.Errorf("引用的 outbound 不存在: %s", cfg.Outbound)
	}
	if typ != "direct" {
		return fmt.Errorf("上游查询使用 UDP，outbound %s 类型必须为 direct", cfg.Outbound)
	}
	return nil
}

func validateCache(cfg *CacheConfig) error {
	if cfg.MaxTTL <= 0 {
		return fmt.Errorf("max_ttl 必须大于 0")
	}
	if cfg.Cleanup == "" {
		return fmt.Errorf("必须配置 cleanup")
	}

	// 与定时清理使用同一个解析器
	if _, err := cache.CronParser.Parse(cfg.Cleanup); err != nil {
		return fmt.Errorf("cleanup 表达式无效: %w", err)
	}
	return nil
}

func validatePersistence(cfg *PersistenceConfig, redis *RedisConfig) error {
	if !cfg.Enable {
		return nil
	}
	if cfg.FlushDelay < 0 {
		return fmt.Errorf("flush_delay 不能为负数")
	}

	switch cfg.Type {
	case "file":
		if cfg.File == "" {
			return fmt.Errorf("type 为 file 时必须配置 file")
		}
	case "redis":
		if cfg.RedisKey == "" {
			return fmt.Errorf("type 为 redis 时必须配置 redis_key")
		}
		if redis.Server == "" {
			return fmt.Errorf("type 为 redis 时必须配置 redis 连接信息")
		}
	default:
		return fmt.Errorf("type 必须是 file 或 redis")
	}
	return nil
}

func validateRedis(cfg *RedisConfig, outbounds []OutboundConfig) error {
	if err := validatePort(cfg.Port); err != nil {
		return err
	}
	if cfg.PoolSize < 0 || cfg.MaxRetries < 0 {
		return fmt.Errorf("pool_size 和 max_retries 不能为负数")
	}
	if _, ok := outboundType(cfg.Outbound, outbounds); !ok {
		return fmt.Errorf("引用的 outbound 不存在: %s", cfg.Outbound)
	}
	return nil
}

func validateAdmin(cfg *AdminConfig) error {
	if !cfg.Enable {
		return nil
	}
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("listen 格式无效: %w", err)
	}
	for _, origin := range cfg.AllowOrigins {
		if origin != "*" && !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("allow_origins 必须以 http:// 或 https:// 开头，当前为: %s", origin)
		}
	}
	return nil
}

func validateLog(cfg *LogConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Level] {
		return fmt.Errorf("level 必须是 debug, info, warn 或 error")
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.Format] {
		return fmt.Errorf("format 必须是 json 或 text")
	}

	if cfg.Output == "" {
		return fmt.Errorf("必须配置 output")
	}

	return nil
}
