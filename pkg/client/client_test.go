package client

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/platform"
	"github.com/junbin-yang/fastboot-go/pkg/storage"
	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/transport/tcp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
)

func newDevice() (*fastboot.Device, *storage.MemStore, *platform.Local) {
	store := storage.NewMemStore(map[string]int64{"boot_a": 4096, "boot_b": 4096, "misc": 512})
	plat := platform.NewLocal([]string{"a", "b"}, nil)
	dev := fastboot.NewDevice(fastboot.Config{
		Product:         "e2e",
		SerialNo:        "E2E0001",
		MaxDownloadSize: 4 << 20,
	}, store, plat)
	return dev, store, plat
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i ^ (i >> 8))
	}
	return b
}

// runSession 对同一设备执行一组完整的主机操作
func runSession(t *testing.T, c *Client, store *storage.MemStore, plat *platform.Local) {
	t.Helper()

	if v, err := c.GetVar("product"); err != nil || v != "e2e" {
		t.Fatalf("getvar product = %q, %v", v, err)
	}

	data := pattern(300*1024 + 7)
	if err := c.Download(data); err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := c.Upload()
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("upload returned %d bytes, content differs", len(got))
	}

	image := pattern(4096)
	if err := c.Flash("boot", image); err != nil {
		t.Fatalf("flash: %v", err)
	}
	stored, _ := store.ReadAt("boot_a", 0, 4096)
	if !bytes.Equal(stored, image) {
		t.Fatalf("boot_a not written")
	}
	part, err := c.Fetch("boot", 0x100, 0x20)
	if err != nil || !bytes.Equal(part, image[0x100:0x120]) {
		t.Fatalf("fetch = %v, %v", part, err)
	}

	vars, err := c.GetVarAll()
	if err != nil {
		t.Fatalf("getvar all: %v", err)
	}
	if vars["serialno"] != "E2E0001" || vars["partition-size:misc"] != "0x0000000000000200" {
		t.Fatalf("vars = %v", vars)
	}

	_, _, err = c.RawCommand("bogus")
	var fe *FailError
	if !errors.As(err, &fe) || fe.Message != "unrecognized command" {
		t.Fatalf("bogus command: %v", err)
	}

	if err := c.SetActive("b"); err != nil {
		t.Fatalf("set_active: %v", err)
	}
	if err := c.Reboot("bootloader"); err != nil {
		t.Fatalf("reboot: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(plat.Reboots()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if r := plat.Reboots(); len(r) != 1 || r[0] != fastboot.RebootBootloader {
		t.Fatalf("reboots = %v", r)
	}
	if plat.ActiveSlot() != "b" {
		t.Fatalf("active slot %q", plat.ActiveSlot())
	}
}

func TestEndToEndTCP(t *testing.T) {
	dev, store, plat := newDevice()
	s := tcp.NewServer(tcp.DefaultConfig(), 0)
	if err := s.Listen("127.0.0.1:0", dev.Serve); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer s.Stop()

	c, err := DialTCP(s.Addr().String())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	runSession(t, c, store, plat)
}

func TestEndToEndUDP(t *testing.T) {
	dev, store, plat := newDevice()
	s := udp.NewServer(udp.DefaultConfig(), 0)
	if err := s.Listen("127.0.0.1:0", dev.Serve); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer s.Stop()

	c, err := DialUDP(s.Addr().String(), udp.DefaultConfig())
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer c.Close()
	runSession(t, c, store, plat)
}

func TestEndToEndPipe(t *testing.T) {
	dev, store, plat := newDevice()
	hostEnd, devEnd := transport.NewPipe(transport.DefaultPipeBlockSize)
	go dev.Serve(devEnd)

	c := New(hostEnd)
	defer c.Close()
	runSession(t, c, store, plat)
}

func TestDownloadTooLarge(t *testing.T) {
	dev, _, _ := newDevice()
	hostEnd, devEnd := transport.NewPipe(0)
	go dev.Serve(devEnd)
	c := New(hostEnd)
	defer c.Close()

	err := c.Download(make([]byte, 4<<20+1))
	var fe *FailError
	if !errors.As(err, &fe) || fe.Message != "data too large" {
		t.Fatalf("download: %v", err)
	}
	// 会话继续
	if v, err := c.GetVar("version"); err != nil || v != fastboot.ProtocolVersion {
		t.Fatalf("getvar after failure = %q, %v", v, err)
	}
}

func TestCommandTooLong(t *testing.T) {
	hostEnd, _ := transport.NewPipe(0)
	c := New(hostEnd)
	defer c.Close()
	if _, err := c.GetVar(string(make([]byte, 70))); !errors.Is(err, fastboot.ErrCommandTooLong) {
		t.Fatalf("err = %v", err)
	}
}
