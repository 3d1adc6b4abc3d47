package transport

import "errors"

// 传输层错误，适配器把介质错误包装成以下几类。
// 传输层返回的任何错误对当前会话都是致命的。
var (
	// ErrClosed 传输已关闭
	ErrClosed = errors.New("transport closed")

	// ErrDisconnected 对端断开、USB停顿/拔出、超时等介质级故障
	ErrDisconnected = errors.New("transport disconnected")

	// ErrMessageTooLarge 对端声明的消息长度超过上限
	ErrMessageTooLarge = errors.New("message too large")

	// ErrProtocol 帧格式错误，帧边界已无法恢复
	ErrProtocol = errors.New("transport protocol error")
)
