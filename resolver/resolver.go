package resolver

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"cachedns/cache"
	"cachedns/middleware"
	"cachedns/utils"

	"github.com/miekg/dns"
)

// ErrNoQuestion 查询没有问题段
var ErrNoQuestion = errors.New("查询没有问题段")

// Resolver 缓存优先的转发解析器
type Resolver struct {
	cache     cache.RecordCache
	forwarder Forwarder
	notify    cache.DirtyMarker
	flight    *middleware.Singleflight
	maxTTL    time.Duration
	logger    *middleware.Logger
	now       func() time.Time

	hits     atomic.Int64
	misses   atomic.Int64
	failures atomic.Int64
}

// NewResolver 创建新的解析器
// notify 为 nil 时不触发持久化；singleflight 为 true 时合并同键并发未命中
func NewResolver(
	c cache.RecordCache,
	forwarder Forwarder,
	notify cache.DirtyMarker,
	maxTTL time.Duration,
	singleflight bool,
	logger *middleware.Logger,
) *Resolver {
	r := &Resolver{
		cache:     c,
		forwarder: forwarder,
		notify:    notify,
		maxTTL:    maxTTL,
		logger:    logger,
		now:       time.Now,
	}
	if singleflight {
		r.flight = middleware.NewSingleflight()
	}
	return r
}

// Resolve 解析查询：命中缓存直接构建响应，否则转发上游并写入缓存
func (r *Resolver) Resolve(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	if len(query.Question) == 0 {
		return nil, ErrNoQuestion
	}

	startTime := time.Now()
	q := query.Question[0]
	domain := strings.TrimSuffix(q.Name, ".")

	// 1. 检查缓存，命中判断与剩余 TTL 使用同一时刻
	now := r.now()
	if rec, hit := r.cache.Lookup(q.Name, q.Qtype, now); hit {
		resp := BuildResponse(query, rec, now)
		r.hits.Add(1)

		// DEBUG: 缓存命中
		r.logger.LogCacheHit(ctx, domain, q.Qtype, time.Duration(rec.RemainingTTL(now))*time.Second)
		// INFO: 记录查询完成
		r.logger.LogQueryComplete(ctx, domain, q.Qtype, uint16(resp.Rcode), true, time.Since(startTime), len(resp.Answer))
		return resp, nil
	}

	// DEBUG: 缓存未命中
	r.misses.Add(1)
	r.logger.LogCacheMiss(ctx, domain, q.Qtype)

	// 2. 转发上游
	resp, err := r.forward(ctx, query)
	if err != nil {
		r.failures.Add(1)
		r.logger.LogError(ctx, "上游查询失败", domain, err, nil)
		return nil, err
	}

	// 共享结果不可直接修改，复制后换成本次查询的 ID 和问题段
	resp = resp.Copy()
	resp.Id = query.Id
	resp.Question = append([]dns.Question(nil), query.Question...)

	r.logger.LogQueryComplete(ctx, domain, q.Qtype, uint16(resp.Rcode), false, time.Since(startTime), len(resp.Answer))
	return resp, nil
}

// forward 转发并写入缓存，合并键相同的并发未命中只转发一次
func (r *Resolver) forward(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	fn := func() (*dns.Msg, error) {
		resp, err := r.forwarder.Forward(ctx, query)
		if err != nil {
			return nil, err
		}
		r.storeAnswers(ctx, resp)
		return resp, nil
	}

	if r.flight == nil {
		return fn()
	}

	q := query.Question[0]
	resp, shared, err := r.flight.Do(flightKey(query), fn)
	if shared {
		r.logger.Debug("合并并发查询: domain=%s qtype=%s", q.Name, dns.TypeToString[q.Qtype])
	}
	return resp, err
}

// flightKey 合并键：缓存键加上影响上游应答内容的 CD 与 EDNS0 DO 标志
func flightKey(query *dns.Msg) string {
	q := query.Question[0]
	key := cache.NewKey(q.Name, q.Qtype).String()
	if query.CheckingDisabled {
		key += ":cd"
	}
	if opt := query.IsEdns0(); opt != nil {
		key += ":edns"
		if opt.Do() {
			key += ":do"
		}
	}
	return key
}

// storeAnswers 将应答段的每条记录按其自身的 (域名, 类型) 写入缓存
// TTL 为 0 的记录不缓存；否定响应没有应答记录，因此不会被缓存
func (r *Resolver) storeAnswers(ctx context.Context, resp *dns.Msg) {
	if !utils.HasAnswer(resp) {
		if utils.IsNegative(resp) {
			r.logger.Debug("否定响应不缓存: rcode=%s", dns.RcodeToString[resp.Rcode])
		}
		return
	}

	r.logger.LogDNSAnswer(ctx, strings.TrimSuffix(resp.Answer[0].Header().Name, "."), resp.Answer)

	now := r.now()
	stored := 0
	for _, rr := range resp.Answer {
		hdr := rr.Header()
		if hdr.Ttl == 0 || hdr.Rrtype == dns.TypeOPT {
			continue
		}

		rec := cache.NewRecord(rr, now, r.maxTTL)
		r.cache.Insert(rec)
		stored++

		r.logger.LogCacheSet(ctx, strings.TrimSuffix(hdr.Name, "."), hdr.Rrtype, rec.ExpireAt.Sub(now))
	}

	if stored > 0 && r.notify != nil {
		r.notify.MarkDirty()
	}
}

// Stats 解析统计
type Stats struct {
	Hits     int64 `json:"hits"`
	Misses   int64 `json:"misses"`
	Failures int64 `json:"failures"`
}

// Stats 返回解析统计
func (r *Resolver) Stats() Stats {
	return Stats{
		Hits:     r.hits.Load(),
		Misses:   r.misses.Load(),
		Failures: r.failures.Load(),
	}
}
