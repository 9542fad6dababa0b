package utils

import (
	"testing"

	"github.com/miekg/dns"
)

func TestCreateServFailResponse(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("example.com.", dns.TypeAAAA)
	query.Id = 1234

	resp := CreateServFailResponse(query)
	if resp.Id != 1234 || !resp.Response || !resp.RecursionAvailable {
		t.Errorf("header = %+v", resp.MsgHdr)
	}
	if resp.Rcode != dns.RcodeServerFailure {
		t.Errorf("Rcode = %s, want SERVFAIL", dns.RcodeToString[resp.Rcode])
	}
	if len(resp.Question) != 1 || resp.Question[0] != query.Question[0] {
		t.Errorf("Question = %v", resp.Question)
	}
	if len(resp.Answer) != 0 {
		t.Errorf("len(Answer) = %d, want 0", len(resp.Answer))
	}
}

func TestDomainOf(t *testing.T) {
	tests := []struct {
		name   string
		msg    *dns.Msg
		domain string
		qtype  uint16
	}{
		{"nil", nil, "", 0},
		{"no question", new(dns.Msg), "", 0},
		{"question", new(dns.Msg).SetQuestion("example.com.", dns.TypeMX), "example.com", dns.TypeMX},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			domain, qtype := DomainOf(tt.msg)
			if domain != tt.domain || qtype != tt.qtype {
				t.Errorf("DomainOf() = %q, %d, want %q, %d", domain, qtype, tt.domain, tt.qtype)
			}
		})
	}
}

func TestHasAnswerIsNegative(t *testing.T) {
	empty := new(dns.Msg)
	nx := new(dns.Msg)
	nx.Rcode = dns.RcodeNameError
	ok := new(dns.Msg)
	rr, _ := dns.NewRR("example.com. 60 IN A 1.1.1.1")
	ok.Answer = []dns.RR{rr}

	if HasAnswer(nil) || HasAnswer(empty) || !HasAnswer(ok) {
		t.Error("HasAnswer() mismatch")
	}
	if IsNegative(nil) || IsNegative(ok) || !IsNegative(nx) {
		t.Error("IsNegative() mismatch")
	}
}
