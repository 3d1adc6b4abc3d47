package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport/tcp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/usb"
)

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	cfile := filepath.Join(dir, "fastbootd.yml")
	content := `
device:
  product: sdm845
  serialno: ABC123
  max_download_size: 1048576
  partitions:
    system: 4096
tcp:
  enabled: false
udp:
  enabled: true
  address: 127.0.0.1:15554
  mtu: 1400
  retransmit_timeout: 250ms
  max_retries: 8
  dscp: 46
logger:
  level: debug
`
	if err := os.WriteFile(cfile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	conf, err := Parse(cfile)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if conf.Device.Product != "sdm845" || conf.Device.SerialNo != "ABC123" {
		t.Errorf("device = %+v", conf.Device)
	}
	if conf.Device.MaxDownloadSize != 1<<20 {
		t.Errorf("max download size %d", conf.Device.MaxDownloadSize)
	}
	if conf.TCP.Enabled {
		t.Errorf("tcp should be disabled")
	}
	if conf.UDP.MTU != 1400 || conf.UDP.RetransmitTimeout != 250*time.Millisecond || conf.UDP.MaxRetries != 8 || conf.UDP.DSCP != 46 {
		t.Errorf("udp = %+v", conf.UDP)
	}
	// 未出现的字段保留默认值
	if conf.UDP.Version != 1 || conf.TCP.BlockSize != 1024*1024 {
		t.Errorf("defaults lost: version=%d block=%d", conf.UDP.Version, conf.TCP.BlockSize)
	}
	if len(conf.Device.Partitions) != 1 || conf.Device.Partitions["system"] != 4096 {
		t.Errorf("partitions = %v", conf.Device.Partitions)
	}
}

func TestParseKeepsDefaultPartitions(t *testing.T) {
	cfile := filepath.Join(t.TempDir(), "fastbootd.yml")
	if err := os.WriteFile(cfile, []byte("device:\n  product: x\n"), 0644); err != nil {
		t.Fatal(err)
	}
	conf, err := Parse(cfile)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := defaultPartitions()
	if len(conf.Device.Partitions) != len(want) {
		t.Fatalf("partitions = %v", conf.Device.Partitions)
	}
	for name, size := range want {
		if conf.Device.Partitions[name] != size {
			t.Errorf("%s = %d, want %d", name, conf.Device.Partitions[name], size)
		}
	}

	// 再次解析不应受上一次结果影响
	conf.Device.Partitions["extra"] = 1
	if again, _ := Parse(cfile); again.Device.Partitions["extra"] != 0 {
		t.Errorf("default partitions shared between configs")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"no-transport": "tcp: {enabled: false}\nudp: {enabled: false}\n",
		"small-mtu":    "udp: {mtu: 16}\n",
		"bad-dscp":     "tcp: {dscp: 64}\n",
		"bad-yaml":     "device: [\n",
	}
	for name, content := range cases {
		cfile := filepath.Join(dir, name+".yml")
		os.WriteFile(cfile, []byte(content), 0644)
		if _, err := Parse(cfile); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseMissingFile(t *testing.T) {
	if _, err := Parse(filepath.Join(t.TempDir(), "absent.yml")); err == nil {
		t.Fatal("explicit missing path should fail")
	}
}

func TestDefault(t *testing.T) {
	conf := Default()
	if err := conf.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if conf.USB.Enabled || !conf.TCP.Enabled || !conf.UDP.Enabled {
		t.Errorf("unexpected default transports")
	}
	if conf.UDP.MTU != udp.DefaultMTU || conf.UDP.MaxRetries != udp.DefaultMaxRetries ||
		conf.UDP.RetransmitTimeout != udp.DefaultRetransmitTimeout || conf.UDP.IdleTimeout != udp.DefaultIdleTimeout {
		t.Errorf("udp defaults = %+v", conf.UDP)
	}
	if conf.UDP.IdleTimeout <= 0 {
		t.Errorf("udp idle timeout must be bounded by default")
	}
	if conf.TCP.MaxMessageSize != tcp.DefaultMaxMessageSize || conf.USB.MaxPacketSize != usb.DefaultMaxPacketSize {
		t.Errorf("transport defaults: tcp=%+v usb=%+v", conf.TCP, conf.USB)
	}
}
