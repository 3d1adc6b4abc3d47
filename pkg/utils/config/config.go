package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/transport/tcp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/usb"
	log "github.com/junbin-yang/fastboot-go/pkg/utils/logger"
	"gopkg.in/yaml.v2"
)

var (
	APPNAME    string = "fastbootd"
	VERSION    string = "undefined"
	BUILD_TIME string = "undefined"
	GO_VERSION string = "undefined"
)

type Config struct {
	Device struct {
		Product           string
		SerialNo          string           `yaml:"serialno"`
		VersionBootloader string           `yaml:"version_bootloader"`
		MaxDownloadSize   uint32           `yaml:"max_download_size"`
		IsUserspace       bool             `yaml:"is_userspace"`
		PartitionDir      string           `yaml:"partition_dir"` // 为空时使用内存存储
		Compress          bool             // 以LZ4压缩格式写入分区
		Partitions        map[string]int64 // 启动时创建的分区及大小
		Slots             []string
	}
	USB struct {
		Enabled       bool
		FunctionFS    string        `yaml:"functionfs"` // FunctionFS挂载目录
		MaxPacketSize int           `yaml:"max_packet_size"`
		BlockSize     int           `yaml:"block_size"`
		Timeout       time.Duration // 单次端点操作超时
	}
	TCP struct {
		Enabled        bool
		Address        string
		MaxMessageSize int `yaml:"max_message_size"`
		BlockSize      int `yaml:"block_size"`
		DSCP           int `yaml:"dscp"`
	}
	UDP struct {
		Enabled           bool
		Address           string
		MTU               int `yaml:"mtu"`
		Version           uint16
		RetransmitTimeout time.Duration `yaml:"retransmit_timeout"`
		MaxRetries        int           `yaml:"max_retries"`
		IdleTimeout       time.Duration `yaml:"idle_timeout"`
		DSCP              int           `yaml:"dscp"`
	}
	Logger struct {
		Dir        string
		Level      string
		Rotate     bool
		RotateMode string `yaml:"rotate_mode"` // time（默认）或size
	}
}

// defaultPartitions 配置文件未给出partitions时使用
func defaultPartitions() map[string]int64 {
	return map[string]int64{
		"boot_a": 64 * 1024 * 1024,
		"boot_b": 64 * 1024 * 1024,
		"misc":   1024 * 1024,
	}
}

// Default 返回默认配置：仅开启TCP与UDP，分区保存在内存中
func Default() *Config {
	conf := new(Config)
	conf.Device.Product = APPNAME
	conf.Device.SerialNo = "0123456789ABCDEF"
	conf.Device.VersionBootloader = VERSION
	conf.Device.MaxDownloadSize = fastboot.DefaultMaxDownloadSize
	conf.Device.Partitions = defaultPartitions()
	conf.Device.Slots = []string{"a", "b"}

	conf.USB.FunctionFS = "/dev/usb-ffs/fastboot"
	conf.USB.MaxPacketSize = usb.DefaultMaxPacketSize
	conf.USB.BlockSize = usb.DefaultBlockSize

	conf.TCP.Enabled = true
	conf.TCP.Address = fmt.Sprintf(":%d", tcp.DefaultPort)
	conf.TCP.MaxMessageSize = tcp.DefaultMaxMessageSize
	conf.TCP.BlockSize = tcp.DefaultBlockSize

	conf.UDP.Enabled = true
	conf.UDP.Address = fmt.Sprintf(":%d", udp.DefaultPort)
	conf.UDP.MTU = udp.DefaultMTU
	conf.UDP.Version = udp.ProtocolVersion
	conf.UDP.RetransmitTimeout = udp.DefaultRetransmitTimeout
	conf.UDP.MaxRetries = udp.DefaultMaxRetries
	conf.UDP.IdleTimeout = udp.DefaultIdleTimeout

	conf.Logger.Level = "info"
	conf.Logger.RotateMode = "time"
	return conf
}

// Locate 按顺序查找配置文件：显式指定的路径、程序目录、/etc。
// 都不存在时返回空字符串。
func Locate(path string) string {
	if path != "" {
		return path
	}
	if ex, err := os.Executable(); err == nil {
		cfile := filepath.Join(filepath.Dir(ex), APPNAME+".yml")
		if _, err := os.Stat(cfile); err == nil {
			return cfile
		}
	}
	cfile := "/etc/" + APPNAME + ".yml"
	if _, err := os.Stat(cfile); err == nil {
		return cfile
	}
	return ""
}

// Parse 加载配置，未找到配置文件时使用默认值
func Parse(path string) (*Config, error) {
	conf := Default()
	cfile := Locate(path)
	if cfile == "" {
		return conf, nil
	}

	data, err := os.ReadFile(cfile)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败：%w", err)
	}
	// yaml会把键合并进已有的map，分区表需整体替换
	conf.Device.Partitions = nil
	if err := yaml.Unmarshal(data, conf); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败：%w", cfile, err)
	}
	if conf.Device.Partitions == nil {
		conf.Device.Partitions = defaultPartitions()
	}
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// Validate 检查配置是否可用
func (c *Config) Validate() error {
	if !c.USB.Enabled && !c.TCP.Enabled && !c.UDP.Enabled {
		return errors.New("至少需要开启一种传输")
	}
	if c.UDP.Enabled && c.UDP.MTU != 0 && c.UDP.MTU < udp.MinMTU {
		return fmt.Errorf("udp mtu %d 过小", c.UDP.MTU)
	}
	if c.TCP.DSCP < 0 || c.TCP.DSCP > 63 || c.UDP.DSCP < 0 || c.UDP.DSCP > 63 {
		return errors.New("dscp取值范围为0-63")
	}
	return nil
}

// SetupLogger 按配置初始化默认日志实例
func SetupLogger(conf *Config) {
	defer log.Sync()
	if conf.Logger.Rotate {
		if len(conf.Logger.Dir) == 0 {
			if ex, err := os.Executable(); err == nil {
				conf.Logger.Dir = filepath.Dir(ex)
			}
		}
		filename := filepath.Join(conf.Logger.Dir, APPNAME+".log")
		out := log.NewProductionRotateByTime(filename)
		if conf.Logger.RotateMode == "size" {
			out = log.NewProductionRotateBySize(filename)
		}
		logger := log.New(out, log.InfoLevel)
		log.ReplaceDefault(logger)
	}
	log.SetLevel(log.ParseLevel(conf.Logger.Level))
}
