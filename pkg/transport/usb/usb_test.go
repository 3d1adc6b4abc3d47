package usb

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
)

// fakeHAL 内存中的端点，记录IN方向的每个包
type fakeHAL struct {
	mu       sync.Mutex
	outQueue chan []byte
	inPkts   [][]byte
	readErr  error
	writeErr error
	cleared  []uint8
	closed   bool
}

func newFakeHAL() *fakeHAL {
	return &fakeHAL{outQueue: make(chan []byte, 16)}
}

func (f *fakeHAL) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	f.mu.Lock()
	err := f.readErr
	f.mu.Unlock()
	if err != nil {
		return 0, err
	}
	select {
	case data := <-f.outQueue:
		return copy(buf, data), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (f *fakeHAL) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	pkt := make([]byte, len(data))
	copy(pkt, data)
	f.inPkts = append(f.inPkts, pkt)
	return len(data), nil
}

func (f *fakeHAL) ClearStall(address uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = append(f.cleared, address)
	return nil
}

func (f *fakeHAL) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeHAL) packets() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inPkts
}

func TestWriteZeroLengthPacket(t *testing.T) {
	cases := []struct {
		name    string
		size    int
		wantZLP bool
	}{
		{"empty", 0, true},
		{"short", 100, false},
		{"one packet", 512, true},
		{"packet plus one", 513, false},
		{"two packets", 1024, true},
		{"one block", 16 * 1024, true},
		{"block plus packet", 16*1024 + 512, true},
		{"block plus some", 16*1024 + 7, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			hal := newFakeHAL()
			tr := New(hal, DefaultConfig())
			defer tr.Close()

			data := bytes.Repeat([]byte{0xAB}, tc.size)
			n, err := tr.Write(data)
			if err != nil {
				t.Fatalf("Write failed: %v", err)
			}
			if n != tc.size {
				t.Fatalf("Write returned %d, want %d", n, tc.size)
			}

			pkts := hal.packets()
			var got []byte
			zlps := 0
			for _, p := range pkts {
				if len(p) == 0 {
					zlps++
				}
				got = append(got, p...)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("payload mismatch: got %d bytes", len(got))
			}
			last := pkts[len(pkts)-1]
			if tc.wantZLP {
				if zlps != 1 || len(last) != 0 {
					t.Errorf("expected exactly one trailing ZLP, got %d zlps (last len %d)", zlps, len(last))
				}
			} else if zlps != 0 {
				t.Errorf("unexpected ZLP for size %d", tc.size)
			}
		})
	}
}

func TestWriteChunksByBlockSize(t *testing.T) {
	hal := newFakeHAL()
	tr := New(hal, Config{MaxPacketSize: 64, BlockSize: 200})
	defer tr.Close()

	// BlockSize向下对齐到64的倍数
	if tr.BlockSize() != 192 {
		t.Fatalf("BlockSize = %d, want 192", tr.BlockSize())
	}
	if _, err := tr.Write(make([]byte, 500)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for _, p := range hal.packets() {
		if len(p) > 192 {
			t.Errorf("chunk of %d bytes exceeds block size", len(p))
		}
	}
}

func TestReadSingleTransfer(t *testing.T) {
	hal := newFakeHAL()
	tr := New(hal, DefaultConfig())
	defer tr.Close()

	hal.outQueue <- []byte("download:00000010")
	buf := make([]byte, 64)
	n, err := tr.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "download:00000010" {
		t.Errorf("Read got %q", buf[:n])
	}
}

func TestErrorsMapToDisconnect(t *testing.T) {
	for _, medium := range []error{ErrStall, ErrDetached, context.DeadlineExceeded} {
		hal := newFakeHAL()
		hal.readErr = medium
		hal.writeErr = medium
		tr := New(hal, DefaultConfig())

		if _, err := tr.Read(make([]byte, 64)); !errors.Is(err, transport.ErrDisconnected) {
			t.Errorf("Read with %v: got %v, want ErrDisconnected", medium, err)
		}
		if _, err := tr.Write([]byte("OKAY")); !errors.Is(err, transport.ErrDisconnected) {
			t.Errorf("Write with %v: got %v, want ErrDisconnected", medium, err)
		}
		tr.Close()
	}
}

func TestTimeout(t *testing.T) {
	hal := newFakeHAL()
	cfg := DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	tr := New(hal, cfg)
	defer tr.Close()

	_, err := tr.Read(make([]byte, 64))
	if !errors.Is(err, transport.ErrDisconnected) || !errors.Is(err, ErrTimeout) {
		t.Errorf("expected timeout disconnect, got %v", err)
	}
}

func TestCloseUnblocksRead(t *testing.T) {
	hal := newFakeHAL()
	tr := New(hal, DefaultConfig())

	done := make(chan error, 1)
	go func() {
		_, err := tr.Read(make([]byte, 64))
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	tr.Close()
	tr.Close()

	select {
	case err := <-done:
		if !errors.Is(err, transport.ErrClosed) {
			t.Errorf("expected ErrClosed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Read not unblocked by Close")
	}
	if !hal.closed {
		t.Error("HAL not closed")
	}
	if _, err := tr.Write([]byte("x")); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("Write after Close: %v", err)
	}
}

func TestResetClearsBothEndpoints(t *testing.T) {
	hal := newFakeHAL()
	tr := New(hal, DefaultConfig())
	defer tr.Close()

	if err := tr.Reset(); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if len(hal.cleared) != 2 || hal.cleared[0] != DefaultOutAddress || hal.cleared[1] != DefaultInAddress {
		t.Errorf("cleared endpoints = %v", hal.cleared)
	}
}

func TestServerServesSequentialSessions(t *testing.T) {
	var mu sync.Mutex
	opened := 0
	sessions := make(chan struct{}, 4)

	srv := NewServer(func() (EndpointHAL, error) {
		mu.Lock()
		opened++
		mu.Unlock()
		return newFakeHAL(), nil
	}, DefaultConfig())

	srv.Start(func(tr transport.Transport) {
		select {
		case sessions <- struct{}{}:
		default:
		}
		tr.Close()
	})

	for i := 0; i < 2; i++ {
		select {
		case <-sessions:
		case <-time.After(time.Second):
			t.Fatalf("session %d not served", i)
		}
	}
	srv.Stop()

	mu.Lock()
	defer mu.Unlock()
	if opened < 2 {
		t.Errorf("opened = %d, want >= 2", opened)
	}
}
