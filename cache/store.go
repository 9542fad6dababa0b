package cache

import (
	"context"
	"errors"
	"time"
)

// ErrPersistence 持久化读写失败
var ErrPersistence = errors.New("缓存持久化失败")

// Store 缓存持久化接口，每次保存都覆盖完整快照
type Store interface {
	// Load 读取快照，没有历史数据时返回空列表和 nil
	Load(ctx context.Context) ([]*Record, error)

	// Save 覆盖写入快照
	Save(ctx context.Context, records []*Record) error

	// Name 后端名称，用于日志
	Name() string
}

// LoadInto 从 store 恢复缓存，返回恢复的记录数量
// 任何读取错误都返回 ErrPersistence，调用方可以继续使用空缓存
func LoadInto(ctx context.Context, store Store, c RecordCache) (int, error) {
	records, err := store.Load(ctx)
	if err != nil {
		return 0, err
	}
	return c.Restore(records, time.Now()), nil
}
