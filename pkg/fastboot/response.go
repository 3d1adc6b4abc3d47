package fastboot

import "fmt"

type phase int

const (
	phaseNone phase = iota
	phaseDownload
	phaseUpload
)

// Response 命令处理结果。
// 带数据阶段的应答由分发器先发送DATA、完成收发，再发送最终状态。
type Response struct {
	Result  Result
	Message string

	phase  phase
	size   uint32
	upload []byte
	onData func(s *Session, data []byte) Response

	close bool
	after func()
}

// Okay 成功应答
func Okay(message string) Response {
	return Response{Result: ResultOkay, Message: message}
}

// Failf 失败应答
func Failf(format string, args ...interface{}) Response {
	return Response{Result: ResultFail, Message: fmt.Sprintf(format, args...)}
}

// Receive 进入下载阶段接收size字节，完成后调用done得到最终应答，done为空时回复OKAY
func Receive(size uint32, done func(s *Session, data []byte) Response) Response {
	return Response{phase: phaseDownload, size: size, onData: done}
}

// Send 进入上传阶段发送data，完成后回复OKAY
func Send(data []byte) Response {
	return Response{phase: phaseUpload, upload: data}
}

// closeAfter 回复OKAY后关闭会话，再执行action
func closeAfter(message string, action func()) Response {
	return Response{Result: ResultOkay, Message: message, close: true, after: action}
}
