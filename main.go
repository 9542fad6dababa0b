package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"cachedns/admin"
	"cachedns/cache"
	"cachedns/config"
	"cachedns/middleware"
	"cachedns/outbound"
	"cachedns/resolver"
	"cachedns/server"
	"cachedns/upstream"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

func main() {
	// 解析命令行参数
	configFile := flag.String("c", "config.yaml", "配置文件路径")
	runtimeDir := flag.String("d", "", "运行目录（配置文件和缓存文件的目录）")
	flag.Parse()

	// 如果指定了运行目录，切换到该目录并查找配置文件
	if *runtimeDir != "" {
		if err := os.Chdir(*runtimeDir); err != nil {
			fmt.Printf("切换到运行目录失败: %v\n", err)
			os.Exit(1)
		}

		// 查找 config.yaml 或 config.yml，都不存在时使用默认配置
		if _, err := os.Stat("config.yml"); err == nil {
			*configFile = "config.yml"
		} else {
			*configFile = "config.yaml"
		}
	}

	// 先创建一个临时 logger 用于启动阶段（配置还没加载）
	tmpLogger := middleware.NewLogger("info", "text")

	// 阶段 1: 配置加载与验证
	tmpLogger.Info("=== 阶段 1: 配置加载与验证 ===")
	tmpLogger.Info("加载配置文件: %s", *configFile)
	cfg, err := config.LoadAndValidate(*configFile)
	if errors.Is(err, config.ErrConfigNotFound) {
		tmpLogger.Warn("%v，使用默认配置", err)
		cfg = config.Default()
	} else if err != nil {
		tmpLogger.Error("配置加载失败: %v", err)
		os.Exit(1)
	}
	tmpLogger.Info("配置加载成功")

	// 阶段 2: 组件初始化
	tmpLogger.Info("=== 阶段 2: 组件初始化 ===")

	// 1. 初始化 Logger（需要最先初始化，其他组件会用到）
	logger := middleware.NewLoggerWithOptions(middleware.LogOptions{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	})
	logger.Info("Logger 初始化成功")

	// 2. 初始化 Outbound
	specs := make([]outbound.Spec, 0, len(cfg.Outbound))
	for _, ob := range cfg.Outbound {
		specs = append(specs, outbound.Spec{
			Tag:      ob.Tag,
			Type:     ob.Type,
			Enable:   ob.Enable,
			Server:   ob.Server,
			Port:     ob.Port,
			Username: ob.Username,
			Password: ob.Password,
		})
	}
	outbounds, err := outbound.Build(specs)
	if err != nil {
		logger.Error("初始化 Outbound 失败: %v", err)
		os.Exit(1)
	}

	// 3. 初始化 Forwarder
	upstreamOb, ok := outbound.Lookup(outbounds, cfg.Upstream.Outbound)
	if !ok {
		logger.Error("上游引用的 outbound 未启用: %s", cfg.Upstream.Outbound)
		os.Exit(1)
	}
	forwarder := upstream.NewForwarder(cfg.Upstream.Nameserver, upstreamOb, cfg.Upstream.Timeout, logger)
	logger.Info("Forwarder 初始化成功: upstream=%s timeout=%v", forwarder.Nameserver(), cfg.Upstream.Timeout)

	// 4. 初始化 Record Cache
	recordCache := cache.NewMemoryRecordCache()

	// 阶段 3: 缓存恢复
	logger.Info("=== 阶段 3: 缓存恢复 ===")

	var (
		store       cache.Store
		redisClient *redis.Client
	)
	if cfg.Persistence.Enable {
		switch cfg.Persistence.Type {
		case "redis":
			redisClient, err = newRedisClient(cfg, outbounds)
			if err != nil {
				logger.Warn("Redis 连接失败: %v", err)
				logger.Info("缓存将只保存在内存中")
			} else {
				store = cache.NewRedisStore(redisClient, cfg.Persistence.RedisKey)
				logger.Info("Redis 连接已建立并验证成功")
			}
		default:
			fileStore := cache.NewFileStore(cfg.Persistence.File)
			logger.Info("缓存文件: %s", fileStore.Path())
			store = fileStore
		}
	}

	if store != nil {
		if cfg.Cache.ClearOnStart {
			logger.Info("已配置 clear_on_start，跳过缓存恢复")
		} else {
			loadCtx, cancelLoad := context.WithTimeout(context.Background(), 10*time.Second)
			restored, err := cache.LoadInto(loadCtx, store, recordCache)
			cancelLoad()
			if err != nil {
				// 读取失败退化为空缓存
				logger.Warn("缓存恢复失败，使用空缓存: %v", err)
			} else if restored == 0 {
				logger.Info("没有可恢复的缓存 (%s)，冷启动", store.Name())
			} else {
				logger.Info("已从 %s 恢复 %d 条缓存记录", store.Name(), restored)
			}
		}
	}

	// 5. 初始化持久化与解析器
	var (
		flusher *cache.Flusher
		notify  cache.DirtyMarker
	)
	if store != nil {
		flusher = cache.NewFlusher(recordCache, store, cfg.Persistence.FlushDelay, logger)
		notify = flusher
	}

	queryResolver := resolver.NewResolver(
		recordCache,
		forwarder,
		notify,
		cfg.Cache.MaxTTLDuration(),
		cfg.Performance.Singleflight,
		logger,
	)
	logger.Info("Resolver 初始化成功")

	sweeper := cache.NewSweeper(recordCache, cfg.Cache.Cleanup, notify, logger)

	// 阶段 4: 启动服务
	logger.Info("=== 阶段 4: 启动服务 ===")

	dnsServer := server.NewServer(cfg.Server.Port, cfg.Server.Bind, cfg.Server.MaxConcurrentQueries, queryResolver, logger)
	if err := dnsServer.Listen(); err != nil {
		logger.Error("DNS 服务器启动失败: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动定时清理
	if err := sweeper.Start(ctx); err != nil {
		logger.Warn("启动定时清理失败: %v", err)
	} else {
		logger.Info("定时清理已启动: %s", cfg.Cache.Cleanup)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dnsServer.Serve(gctx)
	})
	if flusher != nil {
		g.Go(func() error {
			return flusher.Run(gctx)
		})
	}
	if cfg.Admin.Enable {
		deps := admin.Deps{
			Cache:    recordCache,
			Sweeper:  sweeper,
			Resolver: queryResolver,
			Server:   dnsServer,
		}
		if flusher != nil {
			deps.Flusher = flusher
		}
		api := admin.NewAPI(cfg.Admin.Listen, cfg.Admin.AllowOrigins, deps, logger)
		g.Go(func() error {
			return api.Start(gctx)
		})
	}

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			logger.Info("正在优雅关闭...")
			cancel()
		case <-gctx.Done():
		}
	}()

	startedAt := time.Now()
	logger.Info("=== DNS 缓存转发服务已启动 ===")
	logger.Info("监听地址: %s", dnsServer.Addr())
	logger.Info("按 Ctrl+C 停止服务器")

	// 服务器返回时处理中的查询已全部完成
	runErr := g.Wait()
	if runErr != nil {
		logger.Error("服务运行错误: %v", runErr)
	}

	// 阶段 5: 有序关闭
	sweeper.Stop()

	if flusher != nil {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 10*time.Second)
		if err := flusher.Flush(flushCtx); err != nil {
			logger.Warn("关闭前缓存持久化失败: %v", err)
		} else {
			logger.Info("缓存已保存 (%d 条)", recordCache.Len())
		}
		cancelFlush()
	}

	if redisClient != nil {
		redisClient.Close()
	}

	logger.Info("服务器已停止，运行时长 %s", middleware.FormatDuration(time.Since(startedAt)))
	if runErr != nil {
		os.Exit(1)
	}
}

// newRedisClient 创建 Redis 客户端并测试连接，连接可经由 outbound 代理
func newRedisClient(cfg *config.Config, outbounds map[string]outbound.Outbound) (*redis.Client, error) {
	ob, ok := outbound.Lookup(outbounds, cfg.Redis.Outbound)
	if !ok {
		return nil, fmt.Errorf("redis 引用的 outbound 未启用: %s", cfg.Redis.Outbound)
	}

	const redisTimeout = 5 * time.Second // 固定 Redis 超时为 5 秒
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Server + ":" + strconv.Itoa(cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.Database,
		MaxRetries:   cfg.Redis.MaxRetries,
		PoolSize:     cfg.Redis.PoolSize,
		Dialer:       ob.Dial,
		DialTimeout:  redisTimeout,
		ReadTimeout:  redisTimeout * 2, // 读取超时设为 10 秒
		WriteTimeout: redisTimeout * 2, // 写入超时设为 10 秒
		PoolTimeout:  redisTimeout * 3, // 连接池超时设为 15 秒
	})

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}

	return client, nil
}
