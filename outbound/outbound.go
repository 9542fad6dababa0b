package outbound

import (
	"context"
	"fmt"
	"net"
)

// Outbound 出站接口
type Outbound interface {
	Dial(ctx context.Context, network, address string) (net.Conn, error)
}

// Spec 出站定义，对应配置中的一项
type Spec struct {
	Tag      string
	Type     string // direct, socks5
	Enable   bool
	Server   string
	Port     int
	Username string
	Password string
}

// Build 按定义创建出站表，direct 始终存在
// 未启用的出站不会加入表中
func Build(specs []Spec) (map[string]Outbound, error) {
	outbounds := map[string]Outbound{
		"direct": NewDirectOutbound(),
	}
	for _, def := range specs {
		if !def.Enable {
			continue
		}
		switch def.Type {
		case "direct":
			outbounds[def.Tag] = NewDirectOutbound()
		case "socks5":
			ob, err := NewSOCKS5Outbound(def.Server, def.Port, def.Username, def.Password)
			if err != nil {
				return nil, fmt.Errorf("outbound %s: %w", def.Tag, err)
			}
			outbounds[def.Tag] = ob
		default:
			return nil, fmt.Errorf("outbound %s 类型无效: %s", def.Tag, def.Type)
		}
	}
	return outbounds, nil
}

// Lookup 查找出站，tag 为空时返回 direct
func Lookup(outbounds map[string]Outbound, tag string) (Outbound, bool) {
	if tag == "" {
		tag = "direct"
	}
	ob, ok := outbounds[tag]
	return ob, ok
}
