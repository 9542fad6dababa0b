package cache

import (
	"sync"
	"time"
)

// MemoryRecordCache 内存记录缓存：域名 -> 记录类型 -> 记录
type MemoryRecordCache struct {
	mu   sync.RWMutex
	data map[string]map[uint16]*Record
}

// NewMemoryRecordCache 创建新的内存记录缓存
func NewMemoryRecordCache() *MemoryRecordCache {
	return &MemoryRecordCache{
		data: make(map[string]map[uint16]*Record),
	}
}

// Lookup 获取缓存（按 now 严格检查 TTL，过期记录留给 Sweep 删除）
func (c *MemoryRecordCache) Lookup(name string, qtype uint16, now time.Time) (*Record, bool) {
	key := NewKey(name, qtype)

	c.mu.RLock()
	defer c.mu.RUnlock()

	types, exists := c.data[key.Name]
	if !exists {
		return nil, false
	}

	rec, exists := types[key.Type]
	if !exists || rec.IsExpired(now) {
		return nil, false
	}

	return rec.Clone(), true
}

// Insert 写入缓存
func (c *MemoryRecordCache) Insert(rec *Record) {
	key := rec.Key()
	rec = rec.Clone()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertLocked(key, rec)
}

func (c *MemoryRecordCache) insertLocked(key Key, rec *Record) {
	types, exists := c.data[key.Name]
	if !exists {
		types = make(map[uint16]*Record)
		c.data[key.Name] = types
	}
	types[key.Type] = rec
}

// Sweep 清理过期条目，删除后为空的域名一并删除
func (c *MemoryRecordCache) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for name, types := range c.data {
		for qtype, rec := range types {
			if rec.IsExpired(now) {
				delete(types, qtype)
				removed++
			}
		}
		if len(types) == 0 {
			delete(c.data, name)
		}
	}

	return removed
}

// Snapshot 返回全部记录的深拷贝
func (c *MemoryRecordCache) Snapshot() []*Record {
	c.mu.RLock()
	defer c.mu.RUnlock()

	records := make([]*Record, 0, len(c.data))
	for _, types := range c.data {
		for _, rec := range types {
			records = append(records, rec.Clone())
		}
	}

	return records
}

// Restore 批量写入持久化记录
func (c *MemoryRecordCache) Restore(records []*Record, now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	restored := 0
	for _, rec := range records {
		if rec == nil || rec.RR == nil || rec.IsExpired(now) {
			continue
		}
		c.insertLocked(rec.Key(), rec.Clone())
		restored++
	}

	return restored
}

// Len 返回记录数量
func (c *MemoryRecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := 0
	for _, types := range c.data {
		n += len(types)
	}
	return n
}

// Names 返回缓存的域名数量
func (c *MemoryRecordCache) Names() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

// Clear 清空缓存
func (c *MemoryRecordCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = make(map[string]map[uint16]*Record)
}
