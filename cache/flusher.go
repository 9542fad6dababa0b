package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"cachedns/middleware"
)

// Flusher 异步持久化：请求路径只标记脏数据，后台合并写入
type Flusher struct {
	cache  RecordCache
	store  Store
	delay  time.Duration
	logger *middleware.Logger

	dirty chan struct{}
	mu    sync.Mutex // 串行化 Save

	saves     atomic.Int64
	failures  atomic.Int64
	lastFlush atomic.Int64 // Unix 纳秒
}

// NewFlusher 创建持久化器，delay 为 0 时每次变更后立即保存
func NewFlusher(c RecordCache, store Store, delay time.Duration, logger *middleware.Logger) *Flusher {
	return &Flusher{
		cache:  c,
		store:  store,
		delay:  delay,
		logger: logger,
		dirty:  make(chan struct{}, 1),
	}
}

// MarkDirty 标记缓存已变更，不阻塞
func (f *Flusher) MarkDirty() {
	select {
	case f.dirty <- struct{}{}:
	default:
	}
}

// Run 后台写入循环，上下文取消时返回
// 退出时不做最终写入，由调用方在请求排空后调用 Flush
func (f *Flusher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-f.dirty:
		}

		// 合并 delay 时间窗口内的变更
		if f.delay > 0 {
			timer := time.NewTimer(f.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil
			case <-timer.C:
			}
		}

		if err := f.Flush(ctx); err != nil {
			f.logger.Warn("缓存持久化失败，继续使用内存缓存: %v", err)
		}
	}
}

// Flush 立即保存完整快照
func (f *Flusher) Flush(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	startTime := time.Now()
	records := f.cache.Snapshot()

	if err := f.store.Save(ctx, records); err != nil {
		f.failures.Add(1)
		return err
	}

	f.saves.Add(1)
	f.lastFlush.Store(time.Now().UnixNano())
	f.logger.LogCacheFlush(f.store.Name(), len(records), time.Since(startTime))
	return nil
}

// FlushStats 持久化统计
type FlushStats struct {
	Backend   string    `json:"backend"`
	Saves     int64     `json:"saves"`
	Failures  int64     `json:"failures"`
	LastFlush time.Time `json:"last_flush"`
}

// Stats 返回持久化统计
func (f *Flusher) Stats() FlushStats {
	stats := FlushStats{
		Backend:  f.store.Name(),
		Saves:    f.saves.Load(),
		Failures: f.failures.Load(),
	}
	if ns := f.lastFlush.Load(); ns != 0 {
		stats.LastFlush = time.Unix(0, ns)
	}
	return stats
}
