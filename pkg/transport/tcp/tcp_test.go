package tcp

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
)

// connPair 建立一对回环TCP连接：设备端包装为Transport，主机端为原始连接
func connPair(t *testing.T, cfg Config) (*Transport, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("监听失败: %v", err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("连接失败: %v", err)
	}
	server, ok := <-accepted
	if !ok {
		t.Fatal("接受连接失败")
	}
	tr := New(server, cfg)
	t.Cleanup(func() {
		tr.Close()
		client.Close()
	})
	return tr, client
}

func writeFrame(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, uint64(len(payload)))
	if _, err := conn.Write(append(header, payload...)); err != nil {
		t.Fatalf("写帧失败: %v", err)
	}
}

func readFrame(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(conn, header); err != nil {
		t.Fatalf("读帧头失败: %v", err)
	}
	payload := make([]byte, binary.BigEndian.Uint64(header))
	if _, err := io.ReadFull(conn, payload); err != nil {
		t.Fatalf("读负载失败: %v", err)
	}
	return payload
}

func TestFramingRoundTrip(t *testing.T) {
	tr, client := connPair(t, DefaultConfig())

	writeFrame(t, client, []byte("getvar:version"))
	buf := make([]byte, 64)
	n, err := tr.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "getvar:version" {
		t.Errorf("Read got %q", buf[:n])
	}

	if _, err := tr.Write([]byte("OKAY0.4")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if got := readFrame(t, client); string(got) != "OKAY0.4" {
		t.Errorf("client got %q", got)
	}
}

func TestReadSplitsLargeMessage(t *testing.T) {
	tr, client := connPair(t, DefaultConfig())

	payload := bytes.Repeat([]byte("0123456789"), 10)
	writeFrame(t, client, payload)
	writeFrame(t, client, []byte("next"))

	var got []byte
	buf := make([]byte, 7)
	for len(got) < len(payload) {
		n, err := tr.Read(buf)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("reassembled payload mismatch")
	}

	// 下一条消息不会和上一条拼接
	n, err := tr.Read(make([]byte, 64))
	if err != nil || n != 4 {
		t.Errorf("next message: n=%d err=%v", n, err)
	}
}

func TestOversizedLengthClosesConnection(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 1024
	tr, client := connPair(t, cfg)

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, 1<<40)
	client.Write(header)

	_, err := tr.Read(make([]byte, 64))
	if !errors.Is(err, transport.ErrMessageTooLarge) {
		t.Fatalf("expected ErrMessageTooLarge, got %v", err)
	}
	if _, err := tr.Read(make([]byte, 64)); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("transport should be closed, got %v", err)
	}

	client.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := client.Read(make([]byte, 1)); err == nil {
		t.Error("peer connection still open")
	}
}

func TestTruncatedMessageNotDelivered(t *testing.T) {
	tr, client := connPair(t, DefaultConfig())

	header := make([]byte, HeaderSize)
	binary.BigEndian.PutUint64(header, 100)
	client.Write(header)
	client.Write(bytes.Repeat([]byte{1}, 50))
	client.Close()

	buf := make([]byte, 200)
	n, err := tr.Read(buf)
	if err == nil {
		t.Fatalf("partial message delivered: %d bytes", n)
	}
	if n != 0 {
		t.Errorf("Read returned %d bytes with error", n)
	}
	if !errors.Is(err, transport.ErrDisconnected) {
		t.Errorf("expected ErrDisconnected, got %v", err)
	}
}

func TestWriteRejectsOversizedMessage(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxMessageSize = 16
	tr, _ := connPair(t, cfg)

	if _, err := tr.Write(make([]byte, 17)); !errors.Is(err, transport.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestParseHandshake(t *testing.T) {
	cases := []struct {
		in      string
		version int
		ok      bool
	}{
		{"FB01", 1, true},
		{"FB02", 2, true},
		{"FB00", 0, false},
		{"XB01", 0, false},
		{"FBxx", 0, false},
		{"FB1", 0, false},
	}
	for _, tc := range cases {
		v, err := parseHandshake([]byte(tc.in))
		if tc.ok && (err != nil || v != tc.version) {
			t.Errorf("parseHandshake(%q) = %d, %v", tc.in, v, err)
		}
		if !tc.ok && !errors.Is(err, ErrBadHandshake) {
			t.Errorf("parseHandshake(%q) should fail, got %v", tc.in, err)
		}
	}
}

func TestServerDialEcho(t *testing.T) {
	srv := NewServer(DefaultConfig(), 0)
	err := srv.Listen("127.0.0.1:0", func(tr transport.Transport) {
		buf := make([]byte, 64)
		for {
			n, err := tr.Read(buf)
			if err != nil {
				return
			}
			if _, err := tr.Write(buf[:n]); err != nil {
				return
			}
		}
	})
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Stop()

	client, err := Dial(srv.Addr().String(), DefaultConfig())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer client.Close()

	if _, err := client.Write([]byte("hello")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil || string(buf[:n]) != "hello" {
		t.Errorf("echo got %q, %v", buf[:n], err)
	}
}

func TestServerRejectsBadHandshake(t *testing.T) {
	srv := NewServer(DefaultConfig(), 0)
	served := make(chan struct{}, 1)
	if err := srv.Listen("127.0.0.1:0", func(tr transport.Transport) {
		served <- struct{}{}
	}); err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Stop()

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.Write([]byte("HELO"))

	conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := conn.Read(make([]byte, 4)); err == nil {
		t.Error("server answered a bad handshake")
	}
	select {
	case <-served:
		t.Error("handler invoked for bad handshake")
	default:
	}
}
