package udp

import (
	"errors"
	"fmt"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
)

// 协议参数，均可通过Config覆盖
const (
	ProtocolVersion          = 1
	DefaultMTU               = 1024                   // 本端建议的单包最大负载
	MinMTU                   = 64                     // 低于该值的协商结果视为非法
	MaxMTU                   = 65507 - HeaderSize     // IPv4单个UDP报文负载上限减去包头
	DefaultRetransmitTimeout = 500 * time.Millisecond // 单次等待ACK的时间
	DefaultMaxRetries        = 5                      // 连续超时重传次数上限
	DefaultIdleTimeout       = 60 * time.Second       // UDP没有断开通知，对端静默超过该时间即释放会话
	DefaultPort              = 5554
)

var (
	// ErrRetryExhausted 连续超时达到上限，会话关闭
	ErrRetryExhausted = fmt.Errorf("%w: retransmission limit reached", transport.ErrDisconnected)

	// ErrOutOfOrder 收到超出去重窗口的序列号
	ErrOutOfOrder = fmt.Errorf("%w: sequence out of order", transport.ErrProtocol)

	// ErrPeerReset 会话中途收到新的INIT
	ErrPeerReset = fmt.Errorf("%w: peer restarted handshake", transport.ErrDisconnected)

	// ErrPeerError 对端发来ERROR包
	ErrPeerError = fmt.Errorf("%w: peer reported error", transport.ErrDisconnected)

	// ErrBusy 设备正在服务其他主机
	ErrBusy = fmt.Errorf("%w: device busy", ErrPeerError)

	// ErrIdleTimeout 等待对端数据超过空闲时限
	ErrIdleTimeout = fmt.Errorf("%w: idle timeout", transport.ErrDisconnected)

	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	ErrBadMTU             = errors.New("unacceptable mtu")
	ErrNotConnected       = errors.New("udp session not connected")
)

// Config UDP可靠层配置
type Config struct {
	MTU               int           // 本端可接受的最大负载
	Version           uint16        // 协议版本
	RetransmitTimeout time.Duration // 每个未确认包的等待时间
	MaxRetries        int           // 连续超时后的最大重传次数
	IdleTimeout       time.Duration // 等待对端新消息的最长时间，0表示不限
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MTU:               DefaultMTU,
		Version:           ProtocolVersion,
		RetransmitTimeout: DefaultRetransmitTimeout,
		MaxRetries:        DefaultMaxRetries,
		IdleTimeout:       DefaultIdleTimeout,
	}
}

func (c *Config) normalize() {
	if c.MTU <= 0 {
		c.MTU = DefaultMTU
	}
	if c.MTU < MinMTU {
		c.MTU = MinMTU
	}
	if c.MTU > MaxMTU {
		c.MTU = MaxMTU
	}
	if c.Version == 0 {
		c.Version = ProtocolVersion
	}
	if c.RetransmitTimeout <= 0 {
		c.RetransmitTimeout = DefaultRetransmitTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}
