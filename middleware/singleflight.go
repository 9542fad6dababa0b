package middleware

import (
	"github.com/miekg/dns"
	"golang.org/x/sync/singleflight"
)

// Singleflight 查询去重中间件
type Singleflight struct {
	group singleflight.Group
}

// NewSingleflight 创建查询去重中间件
func NewSingleflight() *Singleflight {
	return &Singleflight{}
}

// Do 执行去重查询，shared 表示结果由多个调用方共享
// 共享结果可能被并发读取，调用方修改前需要 Copy
func (s *Singleflight) Do(key string, fn func() (*dns.Msg, error)) (msg *dns.Msg, shared bool, err error) {
	result, err, shared := s.group.Do(key, func() (interface{}, error) {
		return fn()
	})

	if err != nil {
		return nil, shared, err
	}

	return result.(*dns.Msg), shared, nil
}
