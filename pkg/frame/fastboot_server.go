package frame

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/platform"
	"github.com/junbin-yang/fastboot-go/pkg/storage"
	"github.com/junbin-yang/fastboot-go/pkg/transport/tcp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/usb"
	"github.com/junbin-yang/fastboot-go/pkg/utils/config"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// Server 守护进程框架：构建设备并启动各个传输的监听
type Server struct {
	conf     *config.Config
	device   *fastboot.Device
	platform *platform.Local

	mu      sync.Mutex
	started bool
	usb     *usb.Server
	tcp     *tcp.Server
	udp     *udp.Server
}

// Option 服务构造选项
type Option func(s *serverOptions)

type serverOptions struct {
	reboot platform.RebootFunc
	store  fastboot.PartitionStore
	oem    []fastboot.Option
}

// WithRebootFunc 指定实际执行重启的回调
func WithRebootFunc(fn platform.RebootFunc) Option {
	return func(o *serverOptions) { o.reboot = fn }
}

// WithStore 使用外部提供的分区存储
func WithStore(store fastboot.PartitionStore) Option {
	return func(o *serverOptions) { o.store = store }
}

// WithOEMCommand 注册OEM命令
func WithOEMCommand(name string, h fastboot.OEMHandler) Option {
	return func(o *serverOptions) { o.oem = append(o.oem, fastboot.WithOEMCommand(name, h)) }
}

// NewServer 按配置构建设备
func NewServer(conf *config.Config, opts ...Option) (*Server, error) {
	if conf == nil {
		return nil, fmt.Errorf("参数错误")
	}
	o := new(serverOptions)
	for _, opt := range opts {
		opt(o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(conf); err != nil {
			return nil, err
		}
	}
	plat := platform.NewLocal(conf.Device.Slots, o.reboot)

	dev := fastboot.NewDevice(fastboot.Config{
		Product:           conf.Device.Product,
		SerialNo:          conf.Device.SerialNo,
		VersionBootloader: conf.Device.VersionBootloader,
		MaxDownloadSize:   conf.Device.MaxDownloadSize,
		IsUserspace:       conf.Device.IsUserspace,
	}, store, plat, o.oem...)

	return &Server{conf: conf, device: dev, platform: plat}, nil
}

// openStore 配置了分区目录时使用文件存储，否则使用内存存储
func openStore(conf *config.Config) (fastboot.PartitionStore, error) {
	if conf.Device.PartitionDir == "" {
		logger.Info("[FRAME] 使用内存分区存储")
		return storage.NewMemStore(conf.Device.Partitions), nil
	}

	fs, err := storage.NewFileStore(conf.Device.PartitionDir, conf.Device.Compress)
	if err != nil {
		return nil, err
	}
	for name, size := range conf.Device.Partitions {
		if err := fs.Create(name, size); err != nil {
			return nil, fmt.Errorf("创建分区 %s 失败：%w", name, err)
		}
	}
	logger.Infof("[FRAME] 分区目录 %s (压缩=%v)", conf.Device.PartitionDir, conf.Device.Compress)
	return fs, nil
}

// Device 返回设备实例
func (s *Server) Device() *fastboot.Device { return s.device }

// Platform 返回平台实例
func (s *Server) Platform() *platform.Local { return s.platform }

// Start 启动所有开启的传输，任一失败时关闭已启动的部分
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	logger.Info("[FRAME] 正在启动fastboot服务...")

	if s.conf.TCP.Enabled {
		srv := tcp.NewServer(tcp.Config{
			MaxMessageSize: s.conf.TCP.MaxMessageSize,
			BlockSize:      s.conf.TCP.BlockSize,
		}, s.conf.TCP.DSCP)
		if err := srv.Listen(s.conf.TCP.Address, s.device.Serve); err != nil {
			s.stopLocked()
			return fmt.Errorf("TCP启动失败: %w", err)
		}
		s.tcp = srv
	}

	if s.conf.UDP.Enabled {
		srv := udp.NewServer(udp.Config{
			MTU:               s.conf.UDP.MTU,
			Version:           s.conf.UDP.Version,
			RetransmitTimeout: s.conf.UDP.RetransmitTimeout,
			MaxRetries:        s.conf.UDP.MaxRetries,
			IdleTimeout:       s.conf.UDP.IdleTimeout,
		}, s.conf.UDP.DSCP)
		if err := srv.Listen(s.conf.UDP.Address, s.device.Serve); err != nil {
			s.stopLocked()
			return fmt.Errorf("UDP启动失败: %w", err)
		}
		s.udp = srv
	}

	if s.conf.USB.Enabled {
		srv := usb.NewServer(usb.FunctionFSOpener(s.conf.USB.FunctionFS), usb.Config{
			InAddress:     usb.DefaultInAddress,
			OutAddress:    usb.DefaultOutAddress,
			MaxPacketSize: s.conf.USB.MaxPacketSize,
			BlockSize:     s.conf.USB.BlockSize,
			Timeout:       s.conf.USB.Timeout,
		})
		srv.Start(s.device.Serve)
		s.usb = srv
		logger.Infof("[FRAME] USB服务已启动 (%s)", s.conf.USB.FunctionFS)
	}

	if s.tcp == nil && s.udp == nil && s.usb == nil {
		return errors.New("没有开启任何传输")
	}
	s.started = true
	logger.Info("[FRAME] fastboot服务启动成功")
	return nil
}

// TCPAddr 返回TCP实际监听地址，未开启时为nil
func (s *Server) TCPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tcp == nil {
		return nil
	}
	return s.tcp.Addr()
}

// UDPAddr 返回UDP实际监听地址，未开启时为nil
func (s *Server) UDPAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.udp == nil {
		return nil
	}
	return s.udp.Addr()
}

// Stop 关闭所有传输并等待当前会话结束
func (s *Server) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	logger.Info("[FRAME] 正在关闭fastboot服务...")
	s.stopLocked()
	s.started = false
	logger.Info("[FRAME] fastboot服务已关闭")
}

func (s *Server) stopLocked() {
	if s.usb != nil {
		s.usb.Stop()
		s.usb = nil
	}
	if s.udp != nil {
		s.udp.Stop()
		s.udp = nil
	}
	if s.tcp != nil {
		s.tcp.Stop()
		s.tcp = nil
	}
}
