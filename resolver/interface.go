package resolver

import (
	"context"

	"github.com/miekg/dns"
)

// QueryResolver DNS 查询解析器接口
type QueryResolver interface {
	// Resolve 解析查询，返回发给客户端的响应
	Resolve(ctx context.Context, query *dns.Msg) (*dns.Msg, error)
}

// Forwarder 上游转发接口
type Forwarder interface {
	Forward(ctx context.Context, query *dns.Msg) (*dns.Msg, error)
}
