package resolver

import (
	"time"

	"cachedns/cache"

	"github.com/miekg/dns"
)

// BuildResponse 从缓存记录构建响应
// 问题段回显原查询，应答段只有这一条记录，TTL 改写为剩余时间
func BuildResponse(query *dns.Msg, rec *cache.Record, now time.Time) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetReply(query)
	msg.RecursionAvailable = true

	rr := dns.Copy(rec.RR)
	rr.Header().Ttl = rec.RemainingTTL(now)
	msg.Answer = []dns.RR{rr}

	return msg
}
