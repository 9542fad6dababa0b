package outbound

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"golang.org/x/net/proxy"
)

// SOCKS5Outbound SOCKS5 代理出站，只能承载 TCP（Redis 连接等）
type SOCKS5Outbound struct {
	address string
	dialer  proxy.Dialer
}

// NewSOCKS5Outbound 创建 SOCKS5 出站，创建时不连接代理
func NewSOCKS5Outbound(server string, port int, username, password string) (*SOCKS5Outbound, error) {
	address := net.JoinHostPort(server, strconv.Itoa(port))

	var auth *proxy.Auth
	if username != "" {
		auth = &proxy.Auth{User: username, Password: password}
	}

	dialer, err := proxy.SOCKS5("tcp", address, auth, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("创建 SOCKS5 dialer 失败: %w", err)
	}

	return &SOCKS5Outbound{address: address, dialer: dialer}, nil
}

// Address 代理地址
func (o *SOCKS5Outbound) Address() string {
	return o.address
}

// Dial 通过代理建立 TCP 连接
func (o *SOCKS5Outbound) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	switch network {
	case "tcp", "tcp4", "tcp6":
	default:
		return nil, fmt.Errorf("SOCKS5 出站 %s 不支持 %s", o.address, network)
	}

	if d, ok := o.dialer.(proxy.ContextDialer); ok {
		return d.DialContext(ctx, network, address)
	}
	return o.dialer.Dial(network, address)
}
