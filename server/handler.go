package server

import (
	"context"
	"errors"
	"fmt"
	"net"

	"cachedns/middleware"
	"cachedns/utils"

	"github.com/miekg/dns"
)

// ErrMalformedQuery 报文无法解析为 DNS 查询
var ErrMalformedQuery = errors.New("畸形查询")

// parseQuery 解析入站报文，响应报文或没有问题段的报文同样视为畸形
func parseQuery(data []byte) (*dns.Msg, error) {
	query := new(dns.Msg)
	if err := query.Unpack(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedQuery, err)
	}
	if query.Response {
		return nil, fmt.Errorf("%w: 收到响应报文", ErrMalformedQuery)
	}
	if len(query.Question) == 0 {
		return nil, fmt.Errorf("%w: 没有问题段", ErrMalformedQuery)
	}
	return query, nil
}

// handlePacket 处理单个 DNS 报文
func (s *Server) handlePacket(ctx context.Context, addr net.Addr, data []byte) {
	s.received.Add(1)
	clientIP := addr.String()

	query, err := parseQuery(data)
	if err != nil {
		// 畸形报文直接丢弃，不回复
		s.dropped.Add(1)
		s.logger.LogMalformedQuery(clientIP, len(data), err)
		return
	}

	// 生成 trace_id 并创建 context
	ctx = middleware.WithTraceID(ctx, middleware.NewTraceID())
	domain, qtype := utils.DomainOf(query)

	// DEBUG: 记录收到查询请求
	s.logger.LogQueryStart(ctx, clientIP, domain, qtype)

	resp, err := s.resolver.Resolve(ctx, query)
	if err != nil {
		// ERROR: 记录查询失败，返回 SERVFAIL
		s.failed.Add(1)
		s.logger.LogQueryError(ctx, clientIP, domain, err)
		resp = utils.CreateServFailResponse(query)
	}

	// 检查并处理 UDP 报文大小限制
	resp = s.ensureUDPSize(resp, query)

	out, err := resp.Pack()
	if err != nil {
		s.logger.Error("打包响应失败: client=%s domain=%s error=%v", clientIP, domain, err)
		return
	}

	// 写入响应
	if _, err := s.conn.WriteTo(out, addr); err != nil {
		s.logger.Error("写入响应失败: client=%s error=%v", clientIP, err)
	}
}

// ensureUDPSize 确保响应不超过 512 字节
func (s *Server) ensureUDPSize(resp *dns.Msg, req *dns.Msg) *dns.Msg {
	// 检查响应大小
	resp.Compress = true // 启用压缩
	if resp.Len() <= maxUDPSize {
		return resp
	}

	// 响应过大,设置 TC 标志并截断
	s.logger.Debug("UDP 响应过大(%d > %d),设置 TC 标志: domain=%s qtype=%d",
		resp.Len(), maxUDPSize, req.Question[0].Name, req.Question[0].Qtype)

	resp.Truncated = true

	// 移除 Answer/Authority/Additional 记录直到满足大小限制
	// 优先保留 Answer 记录
	for resp.Len() > maxUDPSize && len(resp.Extra) > 0 {
		resp.Extra = resp.Extra[:len(resp.Extra)-1]
	}
	for resp.Len() > maxUDPSize && len(resp.Ns) > 0 {
		resp.Ns = resp.Ns[:len(resp.Ns)-1]
	}
	for resp.Len() > maxUDPSize && len(resp.Answer) > 1 {
		resp.Answer = resp.Answer[:len(resp.Answer)-1]
	}

	return resp
}
