package utils

import (
	"strings"

	"github.com/miekg/dns"
)

// HasAnswer 检查 DNS 响应是否有应答
func HasAnswer(msg *dns.Msg) bool {
	return msg != nil && len(msg.Answer) > 0
}

// IsNegative 检查是否是否定响应（NXDOMAIN、SERVFAIL 等非 NOERROR）
func IsNegative(msg *dns.Msg) bool {
	return msg != nil && msg.Rcode != dns.RcodeSuccess
}

// CreateServFailResponse 创建 SERVFAIL 响应
func CreateServFailResponse(query *dns.Msg) *dns.Msg {
	msg := new(dns.Msg)
	msg.SetRcode(query, dns.RcodeServerFailure)
	msg.RecursionAvailable = true
	return msg
}

// DomainOf 返回第一个问题的域名（去掉尾点）和类型
func DomainOf(msg *dns.Msg) (string, uint16) {
	if msg == nil || len(msg.Question) == 0 {
		return "", 0
	}
	q := msg.Question[0]
	return strings.TrimSuffix(q.Name, "."), q.Qtype
}
