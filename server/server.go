package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"cachedns/middleware"
	"cachedns/resolver"

	"github.com/miekg/dns"
	"golang.org/x/sync/semaphore"
)

// maxUDPSize 请求与响应的最大长度（不支持 EDNS0 大报文）
const maxUDPSize = dns.MinMsgSize

// Server DNS 服务器
type Server struct {
	port     int
	bind     string
	resolver resolver.QueryResolver // 使用接口而非具体类型
	logger   *middleware.Logger

	sem  *semaphore.Weighted
	conn net.PacketConn
	wg   sync.WaitGroup

	received atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64
}

// NewServer 创建新的 DNS 服务器，maxConcurrent 限制同时处理的查询数
func NewServer(port int, bind string, maxConcurrent int, r resolver.QueryResolver, logger *middleware.Logger) *Server {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Server{
		port:     port,
		bind:     bind,
		resolver: r,
		logger:   logger,
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Listen 绑定 UDP 端口，失败时服务无法启动
func (s *Server) Listen() error {
	addr := net.JoinHostPort(s.bind, strconv.Itoa(s.port))
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("监听 %s 失败: %w", addr, err)
	}
	s.conn = conn
	s.logger.Info("DNS 服务器启动: %s", conn.LocalAddr())
	return nil
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve 接收报文并分发处理
// 上下文取消后停止接收，等待正在处理的查询写回响应后关闭连接
func (s *Server) Serve(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("服务器未监听")
	}
	defer s.conn.Close()

	// 取消时让阻塞中的 ReadFrom 立即返回
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	// 正在处理的查询不随服务器关闭而取消
	handlerCtx := context.WithoutCancel(ctx)

	for {
		buf := make([]byte, maxUDPSize)
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			s.logger.Error("读取 UDP 报文失败: %v", err)
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}

		s.wg.Add(1)
		go func(data []byte, addr net.Addr) {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handlePacket(handlerCtx, addr, data)
		}(buf[:n], addr)
	}

	// 优雅关闭
	s.logger.Info("正在关闭 DNS 服务器，等待处理中的查询...")
	s.wg.Wait()
	return nil
}

// Stats 服务器统计
type Stats struct {
	Received int64 `json:"received"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
}

// Stats 返回服务器统计
func (s *Server) Stats() Stats {
	return Stats{
		Received: s.received.Load(),
		Dropped:  s.dropped.Load(),
		Failed:   s.failed.Load(),
	}
}
