package fastboot

import (
	"strings"

	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// CommandHandler 命令处理函数
type CommandHandler func(s *Session, arg string) Response

// commandTable 进程启动时构建，之后只读
var commandTable = map[string]CommandHandler{
	"getvar":            getVarHandler,
	"download":          downloadHandler,
	"upload":            uploadHandler,
	"flash":             flashHandler,
	"erase":             eraseHandler,
	"fetch":             fetchHandler,
	"set_active":        setActiveHandler,
	"reboot":            rebootHandler(RebootNormal),
	"reboot-bootloader": rebootHandler(RebootBootloader),
	"reboot-fastboot":   rebootHandler(RebootFastboot),
	"reboot-recovery":   rebootHandler(RebootRecovery),
	"continue":          rebootHandler(RebootContinue),
	"oem":               oemHandler,
}

// Verbs 返回支持的命令
func Verbs() []string {
	verbs := make([]string, 0, len(commandTable))
	for v := range commandTable {
		verbs = append(verbs, v)
	}
	return verbs
}

func downloadHandler(s *Session, arg string) Response {
	size, err := parseHexSize(arg)
	if err != nil {
		return Failf("invalid size")
	}
	if size > s.dev.cfg.MaxDownloadSize {
		return Failf("data too large")
	}
	return Receive(size, nil)
}

func uploadHandler(s *Session, arg string) Response {
	return Send(s.data.UploadData())
}

func flashHandler(s *Session, arg string) Response {
	data := s.data.DownloadData()
	if len(data) == 0 {
		return Failf("no data downloaded")
	}
	name, ok := s.dev.resolvePartition(arg)
	if !ok {
		return Failf("partition %s does not exist", arg)
	}
	if err := s.dev.store.Flash(name, data); err != nil {
		return Failf("flash %s: %v", name, err)
	}
	s.log.Infof("[FASTBOOT] 写入分区 %s %d 字节", name, len(data))
	return Okay("")
}

func eraseHandler(s *Session, arg string) Response {
	name, ok := s.dev.resolvePartition(arg)
	if !ok {
		return Failf("partition %s does not exist", arg)
	}
	if err := s.dev.store.Erase(name); err != nil {
		return Failf("erase %s: %v", name, err)
	}
	s.log.Infof("[FASTBOOT] 擦除分区 %s", name)
	return Okay("")
}

// fetchHandler fetch:<分区>[:<偏移>[:<长度>]]，偏移与长度为十六进制
func fetchHandler(s *Session, arg string) Response {
	parts := strings.Split(arg, ":")
	if len(parts) > 3 {
		return Failf("invalid fetch arguments")
	}
	name, ok := s.dev.resolvePartition(parts[0])
	if !ok {
		return Failf("partition %s does not exist", parts[0])
	}
	total, err := s.dev.store.Size(name)
	if err != nil {
		return Failf("size of %s: %v", name, err)
	}

	var offset int64
	size := total
	if len(parts) > 1 {
		if offset, err = parseHexOffset(parts[1]); err != nil {
			return Failf("invalid offset")
		}
		if offset > total {
			return Failf("offset beyond partition end")
		}
		size = total - offset
	}
	if len(parts) > 2 {
		if size, err = parseHexOffset(parts[2]); err != nil {
			return Failf("invalid size")
		}
		if offset+size > total {
			return Failf("range beyond partition end")
		}
	}
	if size > int64(s.dev.cfg.MaxDownloadSize) {
		return Failf("fetch size too large")
	}

	data, err := s.dev.store.ReadAt(name, offset, size)
	if err != nil {
		return Failf("read %s: %v", name, err)
	}
	return Send(data)
}

func setActiveHandler(s *Session, arg string) Response {
	if s.dev.platform == nil || s.dev.platform.SlotCount() == 0 {
		return Failf("device does not support slots")
	}
	slot := strings.TrimPrefix(arg, "_")
	if slot == "" {
		return Failf("missing slot")
	}
	if err := s.dev.platform.SetActiveSlot(slot); err != nil {
		return Failf("set_active %s: %v", slot, err)
	}
	return Okay("")
}

func rebootHandler(target RebootTarget) CommandHandler {
	return func(s *Session, arg string) Response {
		p := s.dev.platform
		return closeAfter("", func() {
			if p == nil {
				return
			}
			if err := p.Reboot(target); err != nil {
				logger.Errorf("[FASTBOOT] 重启到 %q 失败: %v", string(target), err)
			}
		})
	}
}

// oemHandler oem <命令> [参数]
func oemHandler(s *Session, arg string) Response {
	name, args, _ := strings.Cut(arg, " ")
	h, ok := s.dev.oem[name]
	if !ok {
		return Failf("unknown oem command %s", name)
	}
	return h(s, args)
}

func oemEcho(s *Session, args string) Response {
	if err := s.WriteInfo(args); err != nil {
		return Response{}
	}
	return Okay("")
}
