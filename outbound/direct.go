package outbound

import (
	"context"
	"net"
	"time"
)

// DirectOutbound 直连出站，UDP 上游与 TCP 连接都可以使用
type DirectOutbound struct {
	dialer net.Dialer
}

// NewDirectOutbound 创建直连出站
func NewDirectOutbound() *DirectOutbound {
	return &DirectOutbound{
		dialer: net.Dialer{KeepAlive: 30 * time.Second},
	}
}

// Dial 建立连接，超时由 ctx 控制
func (o *DirectOutbound) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return o.dialer.DialContext(ctx, network, address)
}
