// Package fastboot 实现设备端fastboot协议：命令解析、命令表、会话状态机与数据传输。
package fastboot

import "fmt"

// 协议常量
const (
	ProtocolVersion = "0.4"

	MaxCommandLength  = 64 // 单条命令行上限
	MaxResponseLength = 64 // 状态应答总长上限
	StatusPrefixSize  = 4
	MaxMessageLength  = MaxResponseLength - StatusPrefixSize

	DefaultMaxDownloadSize = 512 * 1024 * 1024

	// 下载长度字段最多8个十六进制字符
	maxSizeDigits = 8
)

// Result 应答类型
type Result int

const (
	ResultOkay Result = iota
	ResultFail
	ResultData
	ResultInfo
)

func (r Result) String() string {
	switch r {
	case ResultOkay:
		return "OKAY"
	case ResultFail:
		return "FAIL"
	case ResultData:
		return "DATA"
	case ResultInfo:
		return "INFO"
	default:
		return fmt.Sprintf("Result(%d)", int(r))
	}
}

// State 会话状态
type State int

const (
	StateIdle State = iota
	StateCommand
	StateDownload
	StateUpload
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateCommand:
		return "COMMAND"
	case StateDownload:
		return "DOWNLOAD"
	case StateUpload:
		return "UPLOAD"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// FormatStatus 编码状态应答，消息超出部分被截断
func FormatStatus(result Result, message string) []byte {
	if len(message) > MaxMessageLength {
		message = message[:MaxMessageLength]
	}
	return []byte(result.String() + message)
}
