package usb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

const (
	DefaultMaxPacketSize = 512       // USB2.0高速批量端点
	DefaultBlockSize     = 16 * 1024 // 单次批量传输上限
)

// Config USB适配器配置
type Config struct {
	InAddress     uint8
	OutAddress    uint8
	MaxPacketSize int           // 端点最大包长
	BlockSize     int           // 单次Read/Write搬运的最大字节数，按MaxPacketSize向下对齐
	Timeout       time.Duration // 单次端点操作超时，0表示不限
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		InAddress:     DefaultInAddress,
		OutAddress:    DefaultOutAddress,
		MaxPacketSize: DefaultMaxPacketSize,
		BlockSize:     DefaultBlockSize,
	}
}

func (c *Config) normalize() {
	if c.InAddress == 0 {
		c.InAddress = DefaultInAddress
	}
	if c.OutAddress == 0 {
		c.OutAddress = DefaultOutAddress
	}
	if c.MaxPacketSize <= 0 {
		c.MaxPacketSize = DefaultMaxPacketSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	c.BlockSize -= c.BlockSize % c.MaxPacketSize
	if c.BlockSize == 0 {
		c.BlockSize = c.MaxPacketSize
	}
}

// Transport 基于批量端点的fastboot传输
type Transport struct {
	hal EndpointHAL
	cfg Config

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New 创建USB传输，hal的所有权转移给返回的Transport
func New(hal EndpointHAL, cfg Config) *Transport {
	cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Transport{
		hal:    hal,
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Transport) opContext() (context.Context, context.CancelFunc) {
	if t.cfg.Timeout > 0 {
		return context.WithTimeout(t.ctx, t.cfg.Timeout)
	}
	return context.WithCancel(t.ctx)
}

// Read 读取一次批量传输，最多BlockSize字节
func (t *Transport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}
	if len(p) > t.cfg.BlockSize {
		p = p[:t.cfg.BlockSize]
	}

	ctx, cancel := t.opContext()
	defer cancel()

	n, err := t.hal.Read(ctx, t.cfg.OutAddress, p)
	if err != nil {
		return 0, t.mapError("read", err)
	}
	logger.Debugf("[USB] read %d bytes from ep 0x%02x", n, t.cfg.OutAddress)
	return n, nil
}

// Write 写出p，长度为最大包长整数倍时追加零长度包
func (t *Transport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}

	ctx, cancel := t.opContext()
	defer cancel()

	written := 0
	for written < len(p) {
		end := written + t.cfg.BlockSize
		if end > len(p) {
			end = len(p)
		}
		n, err := t.hal.Write(ctx, t.cfg.InAddress, p[written:end])
		if err != nil {
			return 0, t.mapError("write", err)
		}
		if n != end-written {
			return 0, fmt.Errorf("%w: short write %d/%d on ep 0x%02x", transport.ErrDisconnected, n, end-written, t.cfg.InAddress)
		}
		written = end
	}

	if len(p)%t.cfg.MaxPacketSize == 0 {
		if _, err := t.hal.Write(ctx, t.cfg.InAddress, nil); err != nil {
			return 0, t.mapError("write zlp", err)
		}
		logger.Debugf("[USB] zero-length packet after %d bytes", len(p))
	}
	return len(p), nil
}

// Close 取消进行中的端点操作并释放HAL
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	t.cancel()
	return t.hal.Close()
}

// Reset 清除两个端点的停顿状态
func (t *Transport) Reset() error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	if err := t.hal.ClearStall(t.cfg.OutAddress); err != nil {
		return t.mapError("clear halt", err)
	}
	if err := t.hal.ClearStall(t.cfg.InAddress); err != nil {
		return t.mapError("clear halt", err)
	}
	return nil
}

func (t *Transport) BlockSize() int { return t.cfg.BlockSize }

// MaxPacketSize 返回端点最大包长
func (t *Transport) MaxPacketSize() int { return t.cfg.MaxPacketSize }

func (t *Transport) Kind() transport.Kind { return transport.KindUSB }

func (t *Transport) RemoteAddr() string { return "usb" }

// mapError 把端点错误映射为传输层断开错误，适配器自身不重试
func (t *Transport) mapError(op string, err error) error {
	if t.isClosed() || errors.Is(err, context.Canceled) {
		return transport.ErrClosed
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		err = ErrTimeout
	case errors.Is(err, io.EOF):
		err = ErrDetached
	}
	logger.Warnf("[USB] %s failed: %v", op, err)
	return fmt.Errorf("%w: %s: %w", transport.ErrDisconnected, op, err)
}
