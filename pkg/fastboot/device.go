package fastboot

import (
	"strings"

	"github.com/google/uuid"
	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// PartitionStore 分区存储，镜像内容对协议层不透明
type PartitionStore interface {
	Flash(name string, data []byte) error
	Erase(name string) error
	ReadAt(name string, offset, size int64) ([]byte, error)
	Size(name string) (int64, error)
	Has(name string) bool
	List() []string
}

// RebootTarget 重启目标
type RebootTarget string

const (
	RebootNormal     RebootTarget = ""
	RebootBootloader RebootTarget = "bootloader"
	RebootFastboot   RebootTarget = "fastboot"
	RebootRecovery   RebootTarget = "recovery"
	RebootContinue   RebootTarget = "continue"
)

// Platform 重启与A/B槽位控制
type Platform interface {
	Reboot(target RebootTarget) error
	ActiveSlot() string
	SlotCount() int
	SetActiveSlot(slot string) error
}

// OEMHandler 处理"oem <name> [args]"
type OEMHandler func(s *Session, args string) Response

// Config 设备信息
type Config struct {
	Product           string
	SerialNo          string
	VersionBootloader string
	MaxDownloadSize   uint32
	IsUserspace       bool
}

// Device 所有会话共享的只读设备描述：配置、协作者与OEM命令
type Device struct {
	cfg      Config
	store    PartitionStore
	platform Platform
	oem      map[string]OEMHandler
}

// Option 设备构造选项
type Option func(d *Device)

// WithOEMCommand 注册OEM命令，只能在构造时使用
func WithOEMCommand(name string, h OEMHandler) Option {
	return func(d *Device) {
		d.oem[name] = h
	}
}

// NewDevice 创建设备
func NewDevice(cfg Config, store PartitionStore, platform Platform, opts ...Option) *Device {
	if cfg.MaxDownloadSize == 0 {
		cfg.MaxDownloadSize = DefaultMaxDownloadSize
	}
	d := &Device{
		cfg:      cfg,
		store:    store,
		platform: platform,
		oem:      map[string]OEMHandler{"echo": oemEcho},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config 返回设备配置
func (d *Device) Config() Config { return d.cfg }

// NewSession 为t创建会话，会话独占t
func (d *Device) NewSession(t transport.Transport) *Session {
	id := uuid.NewString()
	fields := []logger.Field{logger.String("session", id)}
	if desc, ok := t.(transport.Describer); ok {
		fields = append(fields,
			logger.String("transport", desc.Kind().String()),
			logger.String("remote", desc.RemoteAddr()))
	}
	return &Session{
		id:    id,
		dev:   d,
		t:     t,
		data:  newDataManager(t),
		state: StateIdle,
		log:   logger.Default().With(fields...),
	}
}

// Serve 服务一个会话直到其结束，可直接作为 transport.SessionHandler
func (d *Device) Serve(t transport.Transport) {
	d.NewSession(t).ExecuteCommands()
}

// resolvePartition 未带槽位后缀且不存在时，尝试当前槽位
func (d *Device) resolvePartition(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if d.store.Has(name) {
		return name, true
	}
	if d.platform != nil && d.platform.SlotCount() > 0 {
		slot := strings.TrimPrefix(d.platform.ActiveSlot(), "_")
		if slotted := name + "_" + slot; d.store.Has(slotted) {
			return slotted, true
		}
	}
	return name, false
}
