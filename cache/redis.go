package cache

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"github.com/redis/go-redis/v9"
)

// RedisStore Redis 持久化，整个快照保存在一个 hash 中
// field 为缓存键，value 为二进制编码的记录
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore 创建 Redis 持久化
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{
		client: client,
		key:    key,
	}
}

// Name 后端名称
func (s *RedisStore) Name() string {
	return "redis"
}

// Load 读取快照，key 不存在视为冷启动
func (s *RedisStore) Load(ctx context.Context) ([]*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: 读取 Redis 失败: %v", ErrPersistence, err)
	}

	records := make([]*Record, 0, len(fields))
	for field, value := range fields {
		key, err := ParseKey(field)
		if err != nil {
			continue
		}
		rec, err := decodeRecord([]byte(value))
		if err != nil {
			// 解析失败，跳过
			continue
		}
		// field 与记录内容不符时丢弃
		if rec.Key() != key {
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// Save 使用事务 pipeline 覆盖写入快照
func (s *RedisStore) Save(ctx context.Context, records []*Record) error {
	values := make(map[string]interface{}, len(records))
	now := time.Now()
	var maxRemaining time.Duration
	persistent := false

	for _, rec := range records {
		data, err := encodeRecord(rec)
		if err != nil {
			return fmt.Errorf("%w: 编码RR失败: %v", ErrPersistence, err)
		}
		values[rec.Key().String()] = data

		if rec.ExpireAt.IsZero() {
			persistent = true
		} else if remaining := rec.ExpireAt.Sub(now); remaining > maxRemaining {
			maxRemaining = remaining
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key)
		if len(values) == 0 {
			return nil
		}
		pipe.HSet(ctx, s.key, values)
		// 设置整个 key 的过期时间（最长剩余 TTL + 余量）
		if !persistent {
			pipe.Expire(ctx, s.key, maxRemaining+time.Hour)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: 写入 Redis 失败: %v", ErrPersistence, err)
	}

	return nil
}

// encodeRecord 编码缓存记录为二进制
// 格式: [1字节版本][8字节ExpireAt(Unix纳秒)][DNS RR二进制]
func encodeRecord(rec *Record) ([]byte, error) {
	rrData, err := packRR(rec.RR)
	if err != nil {
		return nil, err
	}

	data := make([]byte, 1+8+len(rrData))
	offset := 0

	// 版本号
	data[offset] = 1
	offset++

	// ExpireAt，零值编码为 0
	var expireNano int64
	if !rec.ExpireAt.IsZero() {
		expireNano = rec.ExpireAt.UnixNano()
	}
	binary.BigEndian.PutUint64(data[offset:], uint64(expireNano))
	offset += 8

	// RR 数据
	copy(data[offset:], rrData)

	return data, nil
}

// decodeRecord 从二进制解码缓存记录
func decodeRecord(data []byte) (*Record, error) {
	if len(data) < 1+8+11 {
		return nil, fmt.Errorf("数据太短")
	}

	offset := 0

	// 版本号
	version := data[offset]
	if version != 1 {
		return nil, fmt.Errorf("不支持的版本: %d", version)
	}
	offset++

	// ExpireAt
	var expireAt time.Time
	if expireNano := int64(binary.BigEndian.Uint64(data[offset:])); expireNano != 0 {
		expireAt = time.Unix(0, expireNano)
	}
	offset += 8

	// RR 数据
	rr, err := unpackRR(data[offset:])
	if err != nil {
		return nil, fmt.Errorf("解析RR失败: %w", err)
	}

	return &Record{
		RR:       rr,
		ExpireAt: expireAt,
	}, nil
}

// packRR 序列化单条 RR 记录
func packRR(rr dns.RR) ([]byte, error) {
	// 创建一个临时 DNS 消息，只包含一条 Answer
	msg := new(dns.Msg)
	msg.Answer = []dns.RR{rr}

	packed, err := msg.Pack()
	if err != nil {
		return nil, err
	}

	// 跳过 DNS 消息头（12 字节），没有 Question 段
	return packed[12:], nil
}

// unpackRR 反序列化单条 RR 记录
func unpackRR(data []byte) (dns.RR, error) {
	// 构造最小的 DNS 消息：Header (12字节) + Answer (data)
	minMsg := make([]byte, 12, 12+len(data))

	// ANCOUNT = 1 (有 1 条 Answer)
	binary.BigEndian.PutUint16(minMsg[6:8], 1)

	fullData := append(minMsg, data...)

	msg := new(dns.Msg)
	if err := msg.Unpack(fullData); err != nil {
		return nil, err
	}

	if len(msg.Answer) == 0 {
		return nil, fmt.Errorf("没有Answer记录")
	}

	return msg.Answer[0], nil
}
