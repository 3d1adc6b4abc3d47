// Package transport 定义fastboot会话使用的传输抽象。
//
// USB、TCP、UDP三种适配器都实现 Transport 接口，命令分发器只依赖该接口。
// 一个 Transport 实例在其生命周期内只属于一个会话。
package transport

// Transport 传输能力抽象
type Transport interface {
	// Read 读取数据到p中，返回读取的字节数。
	// 仅当介质交付了较短的逻辑消息（一次USB传输、一个TCP消息、一条UDP消息）时
	// 才会返回少于len(p)的字节，调用方需要自行循环直到满足目标长度。
	Read(p []byte) (int, error)

	// Write 原子地写出p：要么完整发送并返回len(p)，要么返回错误，不会静默截断。
	Write(p []byte) (int, error)

	// Close 释放底层资源，可重复调用，出错后调用同样安全。
	Close() error

	// Reset 尽力恢复传输状态（清除停顿、丢弃半个消息），不销毁句柄。
	Reset() error

	// BlockSize 返回介质单次Read/Write无需内部分片即可搬运的最大字节数
	BlockSize() int
}

// Kind 传输类型
type Kind int

const (
	KindUSB Kind = iota
	KindTCP
	KindUDP
	KindPipe
)

func (k Kind) String() string {
	switch k {
	case KindUSB:
		return "usb"
	case KindTCP:
		return "tcp"
	case KindUDP:
		return "udp"
	case KindPipe:
		return "pipe"
	default:
		return "unknown"
	}
}

// Describer 可选接口，传输实现可提供对端描述用于日志
type Describer interface {
	Kind() Kind
	RemoteAddr() string
}

// SessionHandler 处理一个会话，返回前必须关闭传输
type SessionHandler func(t Transport)
