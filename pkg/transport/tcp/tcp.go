package tcp

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

const (
	HeaderSize            = 8                // 大端消息长度前缀
	DefaultMaxMessageSize = 64 * 1024 * 1024 // 单条消息上限，防止畸形对端耗尽内存
	DefaultBlockSize      = 1024 * 1024
	DefaultPort           = 5554
)

// Config TCP适配器配置
type Config struct {
	MaxMessageSize   int
	BlockSize        int
	HandshakeTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxMessageSize:   DefaultMaxMessageSize,
		BlockSize:        DefaultBlockSize,
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

func (c *Config) normalize() {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.BlockSize <= 0 {
		c.BlockSize = DefaultBlockSize
	}
	if c.BlockSize > c.MaxMessageSize {
		c.BlockSize = c.MaxMessageSize
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
}

// Transport 长度前缀分帧的TCP传输。
// 每条消息完整接收后才向上交付，对端在声明长度之前停止发送时直接关闭连接。
type Transport struct {
	conn net.Conn
	cfg  Config

	// 当前已完整接收、尚未读完的消息
	pending []byte

	closeOnce sync.Once
	closeErr  error
	mu        sync.Mutex
	closed    bool
}

// New 基于已完成握手的连接创建传输
func New(conn net.Conn, cfg Config) *Transport {
	cfg.normalize()
	return &Transport{conn: conn, cfg: cfg}
}

func (t *Transport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Read 返回当前消息中的数据，消息读完后再接收下一条
func (t *Transport) Read(p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}

	if len(t.pending) == 0 {
		msg, err := t.readMessage()
		if err != nil {
			t.Close()
			return 0, err
		}
		if len(msg) == 0 {
			return 0, nil
		}
		t.pending = msg
	}

	n := copy(p, t.pending)
	t.pending = t.pending[n:]
	return n, nil
}

// readMessage 先完整读取长度前缀，再完整读取负载
func (t *Transport) readMessage() ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(t.conn, header[:]); err != nil {
		return nil, t.mapError("read header", err)
	}

	length := binary.BigEndian.Uint64(header[:])
	if length > uint64(t.cfg.MaxMessageSize) {
		logger.Warnf("[TCP] 消息长度%d超过上限%d，关闭连接", length, t.cfg.MaxMessageSize)
		return nil, fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, length, t.cfg.MaxMessageSize)
	}

	msg := make([]byte, int(length))
	if _, err := io.ReadFull(t.conn, msg); err != nil {
		return nil, t.mapError("read payload", err)
	}
	logger.Debugf("[TCP] received message of %d bytes", length)
	return msg, nil
}

// Write 以一条消息写出p
func (t *Transport) Write(p []byte) (int, error) {
	if t.isClosed() {
		return 0, transport.ErrClosed
	}
	if len(p) > t.cfg.MaxMessageSize {
		return 0, fmt.Errorf("%w: %d > %d", transport.ErrMessageTooLarge, len(p), t.cfg.MaxMessageSize)
	}

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, uint64(len(p)))
	bufs := net.Buffers{header, p}
	if _, err := bufs.WriteTo(t.conn); err != nil {
		t.Close()
		return 0, t.mapError("write", err)
	}
	return len(p), nil
}

// Close 关闭连接，可重复调用
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// Reset 丢弃当前消息的剩余部分
func (t *Transport) Reset() error {
	if t.isClosed() {
		return transport.ErrClosed
	}
	t.pending = nil
	return nil
}

func (t *Transport) BlockSize() int { return t.cfg.BlockSize }

func (t *Transport) Kind() transport.Kind { return transport.KindTCP }

func (t *Transport) RemoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func (t *Transport) mapError(op string, err error) error {
	if t.isClosed() || errors.Is(err, net.ErrClosed) {
		return transport.ErrClosed
	}
	return fmt.Errorf("%w: %s: %w", transport.ErrDisconnected, op, err)
}
