package tcp

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

const (
	HandshakeVersion        = 1
	handshakeSize           = 4
	DefaultHandshakeTimeout = 2 * time.Second
)

var ErrBadHandshake = errors.New("bad fastboot handshake")

func handshakeMessage() []byte {
	return []byte(fmt.Sprintf("FB%02d", HandshakeVersion))
}

// parseHandshake 校验"FBnn"并返回版本号
func parseHandshake(b []byte) (int, error) {
	if len(b) != handshakeSize || b[0] != 'F' || b[1] != 'B' {
		return 0, fmt.Errorf("%w: %q", ErrBadHandshake, b)
	}
	version, err := strconv.Atoi(string(b[2:]))
	if err != nil || version < 1 {
		return 0, fmt.Errorf("%w: %q", ErrBadHandshake, b)
	}
	return version, nil
}

// ServerHandshake 设备端：等待主机的"FBnn"并回复本端版本
func ServerHandshake(conn net.Conn, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	if _, err := parseHandshake(buf); err != nil {
		return err
	}
	if _, err := conn.Write(handshakeMessage()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	return nil
}

// ClientHandshake 主机端：发送"FBnn"并校验设备回复
func ClientHandshake(conn net.Conn, timeout time.Duration) error {
	conn.SetDeadline(time.Now().Add(timeout))
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(handshakeMessage()); err != nil {
		return fmt.Errorf("write handshake: %w", err)
	}
	buf := make([]byte, handshakeSize)
	if _, err := io.ReadFull(conn, buf); err != nil {
		return fmt.Errorf("read handshake: %w", err)
	}
	_, err := parseHandshake(buf)
	return err
}

// Dial 主机端连接设备并完成握手
func Dial(addr string, cfg Config) (*Transport, error) {
	cfg.normalize()
	conn, err := net.DialTimeout("tcp", addr, cfg.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	if err := ClientHandshake(conn, cfg.HandshakeTimeout); err != nil {
		conn.Close()
		return nil, err
	}
	return New(conn, cfg), nil
}
