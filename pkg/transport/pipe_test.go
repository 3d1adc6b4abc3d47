package transport

import (
	"bytes"
	"errors"
	"testing"
)

func TestPipeMessageBoundaries(t *testing.T) {
	a, b := NewPipe(0)
	defer a.Close()

	if _, err := a.Write([]byte("getvar:version")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := a.Write([]byte("upload")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	buf := make([]byte, 64)
	n, err := b.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "getvar:version" {
		t.Errorf("first message = %q", buf[:n])
	}
	n, err = b.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "upload" {
		t.Errorf("second message = %q", buf[:n])
	}
}

func TestPipePartialRead(t *testing.T) {
	a, b := NewPipe(0)
	defer a.Close()

	a.Write([]byte("0123456789"))
	small := make([]byte, 4)
	var got []byte
	for len(got) < 10 {
		n, err := b.Read(small)
		if err != nil {
			t.Fatalf("Read failed: %v", err)
		}
		got = append(got, small[:n]...)
	}
	if !bytes.Equal(got, []byte("0123456789")) {
		t.Errorf("reassembled %q", got)
	}
}

func TestPipeClose(t *testing.T) {
	a, b := NewPipe(0)
	a.Write([]byte("last"))
	a.Close()
	a.Close()

	buf := make([]byte, 8)
	n, err := b.Read(buf)
	if err != nil || string(buf[:n]) != "last" {
		t.Fatalf("queued message lost after close: %q, %v", buf[:n], err)
	}
	if _, err := b.Read(buf); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed on write, got %v", err)
	}
}
