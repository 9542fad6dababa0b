package cache

import (
	"fmt"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// RecordCache 记录缓存接口，按 (域名, 记录类型) 存储单条 RR
type RecordCache interface {
	// Lookup 返回 now 时刻未过期的记录
	Lookup(name string, qtype uint16, now time.Time) (*Record, bool)

	// Insert 写入记录，覆盖同键旧值
	Insert(rec *Record)

	// Sweep 删除 now 时刻已过期的记录，返回删除数量
	Sweep(now time.Time) int

	// Snapshot 返回全部记录的深拷贝
	Snapshot() []*Record

	// Restore 批量写入持久化记录（跳过已过期项），返回写入数量
	Restore(records []*Record, now time.Time) int

	// Len 返回记录数量
	Len() int

	// Clear 清空缓存
	Clear()
}

// Key 缓存键
type Key struct {
	Name string // 规范化的域名（小写，带尾点）
	Type uint16 // 记录类型（A, AAAA, CNAME 等）
}

// NewKey 创建规范化的缓存键
func NewKey(name string, qtype uint16) Key {
	return Key{
		Name: dns.CanonicalName(name),
		Type: qtype,
	}
}

// String 生成缓存键字符串
func (k Key) String() string {
	return fmt.Sprintf("%s:%d", k.Name, k.Type)
}

// ParseKey 解析 Key.String 生成的字符串
func ParseKey(s string) (Key, error) {
	idx := strings.LastIndexByte(s, ':')
	if idx <= 0 {
		return Key{}, fmt.Errorf("无效的缓存键: %s", s)
	}
	var qtype uint16
	if _, err := fmt.Sscanf(s[idx+1:], "%d", &qtype); err != nil {
		return Key{}, fmt.Errorf("无效的缓存键类型: %s", s)
	}
	return NewKey(s[:idx], qtype), nil
}

// Record 缓存条目，TTL 在写入时换算为绝对过期时间
type Record struct {
	RR       dns.RR
	ExpireAt time.Time // 零值表示不过期
}

// NewRecord 根据 RR 的 TTL 创建缓存条目，maxTTL > 0 时限制最大 TTL
func NewRecord(rr dns.RR, now time.Time, maxTTL time.Duration) *Record {
	ttl := time.Duration(rr.Header().Ttl) * time.Second
	if maxTTL > 0 && ttl > maxTTL {
		ttl = maxTTL
	}
	return &Record{
		RR:       dns.Copy(rr),
		ExpireAt: now.Add(ttl),
	}
}

// Key 返回条目的缓存键（取 RR 自身的 owner name 与类型）
func (r *Record) Key() Key {
	hdr := r.RR.Header()
	return NewKey(hdr.Name, hdr.Rrtype)
}

// IsExpired 检查是否过期
func (r *Record) IsExpired(now time.Time) bool {
	if r.ExpireAt.IsZero() {
		return false
	}
	return !now.Before(r.ExpireAt)
}

// RemainingTTL 计算剩余 TTL（秒）
func (r *Record) RemainingTTL(now time.Time) uint32 {
	if r.ExpireAt.IsZero() {
		return r.RR.Header().Ttl
	}
	remaining := r.ExpireAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	// 向上取整，避免把剩余不足 1 秒的记录报成 0
	return uint32((remaining + time.Second - 1) / time.Second)
}

// Clone 深拷贝
func (r *Record) Clone() *Record {
	return &Record{
		RR:       dns.Copy(r.RR),
		ExpireAt: r.ExpireAt,
	}
}
