package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"cachedns/middleware"
	"cachedns/outbound"
	"cachedns/utils"

	"github.com/miekg/dns"
)

var (
	// ErrUpstreamTimeout 上游在超时时间内没有响应
	ErrUpstreamTimeout = errors.New("上游查询超时")

	// ErrUpstreamUnreachable 上游不可达或返回了无效响应
	ErrUpstreamUnreachable = errors.New("上游不可达")
)

// readBufferSize 上游响应读取缓冲，回给客户端时再按 512 字节截断
const readBufferSize = dns.MaxMsgSize

// Forwarder 单一上游转发器：每次查询新建 UDP 连接，不重试，不复用
type Forwarder struct {
	nameserver string
	outbound   outbound.Outbound
	timeout    time.Duration
	logger     *middleware.Logger
}

// NewForwarder 创建新的转发器，nameserver 缺省端口时补 53
func NewForwarder(nameserver string, ob outbound.Outbound, timeout time.Duration, logger *middleware.Logger) *Forwarder {
	if ob == nil {
		ob = outbound.NewDirectOutbound()
	}
	return &Forwarder{
		nameserver: withDefaultPort(nameserver, "53"),
		outbound:   ob,
		timeout:    timeout,
		logger:     logger,
	}
}

// Nameserver 返回上游地址
func (f *Forwarder) Nameserver() string {
	return f.nameserver
}

// Forward 转发查询并返回上游响应
// 错误均可用 errors.Is 判断为 ErrUpstreamTimeout 或 ErrUpstreamUnreachable
func (f *Forwarder) Forward(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	startTime := time.Now()
	domain, qtype := utils.DomainOf(query)

	f.logger.LogUpstreamQuery(ctx, domain, qtype, f.nameserver)

	queryCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	resp, err := f.exchange(queryCtx, query)
	latency := time.Since(startTime)
	if err != nil {
		f.logger.LogUpstreamError(ctx, domain, f.nameserver, err, latency)
		return nil, err
	}

	f.logger.LogUpstreamResponse(ctx, domain, qtype, f.nameserver, uint16(resp.Rcode), len(resp.Answer), latency)
	return resp, nil
}

// exchange 在一条临时连接上完成一次请求/响应
func (f *Forwarder) exchange(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	conn, err := f.outbound.Dial(ctx, "udp", f.nameserver)
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("连接上游失败: %w", err))
	}
	defer conn.Close()

	// 上下文取消时让阻塞中的读写立即返回
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now())
	})
	defer stop()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	co := &dns.Conn{Conn: conn, UDPSize: readBufferSize}
	if err := co.WriteMsg(query); err != nil {
		return nil, classify(ctx, fmt.Errorf("发送查询失败: %w", err))
	}

	resp, err := co.ReadMsg()
	if err != nil {
		return nil, classify(ctx, fmt.Errorf("读取响应失败: %w", err))
	}

	if resp.Id != query.Id {
		return nil, fmt.Errorf("%w: 响应 ID 不匹配 (%d != %d)", ErrUpstreamUnreachable, resp.Id, query.Id)
	}

	return resp, nil
}

// classify 将网络错误归类为超时或不可达
func classify(ctx context.Context, err error) error {
	var netErr net.Error
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrUpstreamTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrUpstreamUnreachable, err)
}

// withDefaultPort 添加默认端口
func withDefaultPort(server, port string) string {
	if _, _, err := net.SplitHostPort(server); err == nil {
		return server
	}
	return net.JoinHostPort(strings.Trim(server, "[]"), port)
}
