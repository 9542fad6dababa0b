package upstream

import (
	"context"
	"errors"
	"io"
	"net"
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

// startUpstream 在本地随机端口启动一个 UDP DNS 服务器
func startUpstream(t *testing.T, handler dns.HandlerFunc) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket() error = %v", err)
	}

	started := make(chan struct{})
	srv := &dns.Server{
		PacketConn:        pc,
		Handler:           handler,
		NotifyStartedFunc: func() { close(started) },
	}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("upstream did not start")
	}
	return pc.LocalAddr().String()
}

type failingOutbound struct{}

func (failingOutbound) Dial(ctx context.Context, network, address string) (net.Conn, error) {
	return nil, errors.New("dial refused")
}

func TestForwarderForward(t *testing.T) {
	addr := startUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetReply(r)
		rr, _ := dns.NewRR("www.example.com. 300 IN CNAME example.com.")
		a, _ := dns.NewRR("example.com. 60 IN A 93.184.216.34")
		m.Answer = []dns.RR{rr, a}
		w.WriteMsg(m)
	})

	f := NewForwarder(addr, nil, time.Second, newTestLogger())
	query := new(dns.Msg)
	query.SetQuestion("www.example.com.", dns.TypeA)

	resp, err := f.Forward(context.Background(), query)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp.Id != query.Id {
		t.Errorf("resp.Id = %d, want %d", resp.Id, query.Id)
	}
	if len(resp.Answer) != 2 {
		t.Fatalf("len(Answer) = %d, want 2", len(resp.Answer))
	}
	if _, ok := resp.Answer[0].(*dns.CNAME); !ok {
		t.Errorf("Answer[0] = %v, want CNAME", resp.Answer[0])
	}
}

func TestForwarderNegativeResponse(t *testing.T) {
	addr := startUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {
		m := new(dns.Msg)
		m.SetRcode(r, dns.RcodeNameError)
		w.WriteMsg(m)
	})

	f := NewForwarder(addr, nil, time.Second, newTestLogger())
	query := new(dns.Msg)
	query.SetQuestion("nope.example.", dns.TypeA)

	resp, err := f.Forward(context.Background(), query)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	if resp.Rcode != dns.RcodeNameError {
		t.Errorf("Rcode = %s, want NXDOMAIN", dns.RcodeToString[resp.Rcode])
	}
}

func TestForwarderTimeout(t *testing.T) {
	// 不回复
	addr := startUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {})

	f := NewForwarder(addr, nil, 200*time.Millisecond, newTestLogger())
	query := new(dns.Msg)
	query.SetQuestion("slow.example.", dns.TypeA)

	start := time.Now()
	_, err := f.Forward(context.Background(), query)
	if !errors.Is(err, ErrUpstreamTimeout) {
		t.Fatalf("Forward() error = %v, want ErrUpstreamTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Forward() took %v, want about 200ms", elapsed)
	}
}

func TestForwarderCanceled(t *testing.T) {
	addr := startUpstream(t, func(w dns.ResponseWriter, r *dns.Msg) {})

	f := NewForwarder(addr, nil, 5*time.Second, newTestLogger())
	query := new(dns.Msg)
	query.SetQuestion("slow.example.", dns.TypeA)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	if _, err := f.Forward(ctx, query); err == nil {
		t.Fatal("Forward() error = nil, want error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Forward() took %v after cancel", elapsed)
	}
}

func TestForwarderUnreachable(t *testing.T) {
	f := NewForwarder("192.0.2.1", failingOutbound{}, time.Second, newTestLogger())
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeA)

	_, err := f.Forward(context.Background(), query)
	if !errors.Is(err, ErrUpstreamUnreachable) {
		t.Fatalf("Forward() error = %v, want ErrUpstreamUnreachable", err)
	}
}

func TestWithDefaultPort(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"8.8.8.8", "8.8.8.8:53"},
		{"8.8.8.8:5353", "8.8.8.8:5353"},
		{"2001:4860:4860::8888", "[2001:4860:4860::8888]:53"},
		{"[2001:4860:4860::8888]:53", "[2001:4860:4860::8888]:53"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := withDefaultPort(tt.in, "53"); got != tt.want {
				t.Errorf("withDefaultPort(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
