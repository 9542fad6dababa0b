package cache

import (
	"context"
	"fmt"
	"time"

	"cachedns/middleware"

	"github.com/robfig/cron/v3"
)

// CronParser 清理表达式解析器，秒字段可选，支持 @every 等描述符
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// DirtyMarker 缓存变更通知
type DirtyMarker interface {
	MarkDirty()
}

// Sweeper 定时清理过期记录
type Sweeper struct {
	cache    RecordCache
	cron     *cron.Cron
	cronExpr string
	notify   DirtyMarker
	logger   *middleware.Logger
}

// NewSweeper 创建新的清理器，notify 可以为 nil
func NewSweeper(c RecordCache, cronExpr string, notify DirtyMarker, logger *middleware.Logger) *Sweeper {
	return &Sweeper{
		cache: c,
		cron: cron.New(
			cron.WithParser(CronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		cronExpr: cronExpr,
		notify:   notify,
		logger:   logger,
	}
}

// Start 启动定时清理
func (s *Sweeper) Start(ctx context.Context) error {
	if s.cronExpr == "" {
		return nil // 未配置清理，跳过
	}

	// 添加定时任务
	_, err := s.cron.AddFunc(s.cronExpr, func() {
		s.SweepNow()
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	// 启动 cron
	s.cron.Start()

	// 等待上下文取消
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// SweepNow 立即执行一次清理，返回删除数量
func (s *Sweeper) SweepNow() int {
	startTime := time.Now()
	removed := s.cache.Sweep(startTime)
	s.logger.LogCacheSweep(removed, s.cache.Len(), time.Since(startTime))

	if removed > 0 && s.notify != nil {
		s.notify.MarkDirty()
	}
	return removed
}

// Stop 停止定时清理，等待正在执行的任务结束
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}
