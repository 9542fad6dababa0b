package server

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cachedns/middleware"

	"github.com/miekg/dns"
)

func newTestLogger() *middleware.Logger {
	logger := middleware.NewLogger("error", "text")
	logger.SetOutput(io.Discard)
	return logger
}

// resolverFunc 适配函数为 QueryResolver
type resolverFunc func(ctx context.Context, query *dns.Msg) (*dns.Msg, error)

func (f resolverFunc) Resolve(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	return f(ctx, query)
}

func answerA(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.RecursionAvailable = true
	rr, _ := dns.NewRR(query.Question[0].Name + " 60 IN A 127.0.0.1")
	resp.Answer = []dns.RR{rr}
	return resp, nil
}

// startServer 启动服务器并在测试结束时关闭
func startServer(t *testing.T, r resolverFunc) *Server {
	t.Helper()
	s := NewServer(0, "127.0.0.1", 16, r, newTestLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Serve() did not return after cancel")
		}
	})
	return s
}

func exchange(t *testing.T, addr net.Addr, query *dns.Msg) (*dns.Msg, error) {
	t.Helper()
	c := &dns.Client{Net: "udp", Timeout: time.Second}
	resp, _, err := c.Exchange(query, addr.String())
	return resp, err
}

func TestServerRoundTrip(t *testing.T) {
	s := startServer(t, answerA)

	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)
	resp, err := exchange(t, s.Addr(), query)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if resp.Id != query.Id {
		t.Errorf("resp.Id = %d, want %d", resp.Id, query.Id)
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("len(Answer) = %d, want 1", len(resp.Answer))
	}
	if a := resp.Answer[0].(*dns.A); !a.A.Equal(net.IPv4(127, 0, 0, 1)) {
		t.Errorf("answer = %s, want 127.0.0.1", a.A)
	}
	if stats := s.Stats(); stats.Received != 1 {
		t.Errorf("Stats().Received = %d, want 1", stats.Received)
	}
}

func TestServerServFailOnResolverError(t *testing.T) {
	s := startServer(t, func(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
		return nil, errors.New("upstream timeout")
	})

	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)
	resp, err := exchange(t, s.Addr(), query)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}

	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %s, want SERVFAIL", dns.RcodeToString[resp.Rcode])
	}
	if resp.Id != query.Id || len(resp.Question) != 1 {
		t.Errorf("SERVFAIL must echo id and question: id=%d question=%v", resp.Id, resp.Question)
	}
	if stats := s.Stats(); stats.Failed != 1 {
		t.Errorf("Stats().Failed = %d, want 1", stats.Failed)
	}
}

func TestServerDropsMalformed(t *testing.T) {
	var calls atomic.Int32
	s := startServer(t, func(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
		calls.Add(1)
		return answerA(ctx, query)
	})

	conn, err := net.Dial("udp", s.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	response := new(dns.Msg)
	response.SetQuestion("example.com.", dns.TypeA)
	response.Response = true
	packedResponse, _ := response.Pack()

	noQuestion, _ := (&dns.Msg{MsgHdr: dns.MsgHdr{Id: 7}}).Pack()

	payloads := map[string][]byte{
		"garbage":     []byte{0x01, 0x02, 0x03},
		"response":    packedResponse,
		"no question": noQuestion,
	}
	for name, payload := range payloads {
		if _, err := conn.Write(payload); err != nil {
			t.Fatalf("%s: Write() error = %v", name, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	buf := make([]byte, 512)
	if n, err := conn.Read(buf); err == nil {
		t.Errorf("got %d byte reply to malformed datagram, want none", n)
	}

	// 畸形报文不影响后续查询
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)
	if _, err := exchange(t, s.Addr(), query); err != nil {
		t.Fatalf("Exchange() after malformed error = %v", err)
	}

	if got := calls.Load(); got != 1 {
		t.Errorf("resolver calls = %d, want 1", got)
	}
	if stats := s.Stats(); stats.Dropped != 3 {
		t.Errorf("Stats().Dropped = %d, want 3", stats.Dropped)
	}
}

func TestServerTruncatesLargeResponse(t *testing.T) {
	s := startServer(t, func(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
		resp := new(dns.Msg)
		resp.SetReply(query)
		for i := 0; i < 40; i++ {
			rr, _ := dns.NewRR(query.Question[0].Name + ` 60 IN TXT "` + strings.Repeat("x", 60) + `"`)
			resp.Answer = append(resp.Answer, rr)
		}
		return resp, nil
	})

	query := new(dns.Msg)
	query.SetQuestion("big.example.", dns.TypeTXT)
	resp, err := exchange(t, s.Addr(), query)
	if err != nil {
		t.Fatalf("Exchange() error = %v", err)
	}
	if !resp.Truncated {
		t.Error("TC flag not set on oversized response")
	}
	if resp.Len() > dns.MinMsgSize {
		t.Errorf("response length = %d, want <= %d", resp.Len(), dns.MinMsgSize)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	release := make(chan struct{})
	s := NewServer(0, "127.0.0.1", 4, resolverFunc(func(ctx context.Context, query *dns.Msg) (*dns.Msg, error) {
		<-release
		return answerA(ctx, query)
	}), newTestLogger())
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	type result struct {
		resp *dns.Msg
		err  error
	}
	replies := make(chan result, 1)
	go func() {
		query := new(dns.Msg)
		query.SetQuestion("inflight.example.", dns.TypeA)
		c := &dns.Client{Net: "udp", Timeout: 2 * time.Second}
		resp, _, err := c.Exchange(query, s.Addr().String())
		replies <- result{resp, err}
	}()

	// 等待查询进入处理
	deadline := time.Now().Add(2 * time.Second)
	for s.Stats().Received == 0 {
		if time.Now().After(deadline) {
			t.Fatal("query not received")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
		t.Fatal("Serve() returned before in-flight query finished")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}

	r := <-replies
	if r.err != nil {
		t.Fatalf("in-flight query error = %v", r.err)
	}
	if len(r.resp.Answer) != 1 {
		t.Errorf("in-flight query len(Answer) = %d, want 1", len(r.resp.Answer))
	}
}
