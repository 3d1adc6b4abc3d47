package usb

import (
	"context"
	"errors"
)

// 端点地址，bit7为方向位（1=IN，设备到主机）
const (
	DefaultOutAddress uint8 = 0x01
	DefaultInAddress  uint8 = 0x81
)

// USB介质错误
var (
	// ErrStall 端点停顿
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout 传输超时
	ErrTimeout = errors.New("transfer timeout")

	// ErrDetached 设备已从主机断开
	ErrDetached = errors.New("device detached")

	// ErrInvalidEndpoint 端点地址非法或未配置
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrUnsupported 当前平台不支持该HAL
	ErrUnsupported = errors.New("usb hal not supported on this platform")
)

// EndpointHAL 设备模式USB控制器的批量端点访问接口。
//
// 端点描述符与功能配置由设备模式驱动负责，适配器只通过这里的
// 读写原语搬运字节。
type EndpointHAL interface {
	// Read 从OUT端点读取一次传输的数据，阻塞直到收到数据或ctx取消
	Read(ctx context.Context, address uint8, buf []byte) (int, error)

	// Write 向IN端点写出data，data为空时发送零长度包
	Write(ctx context.Context, address uint8, data []byte) (int, error)

	// ClearStall 清除端点的停顿状态
	ClearStall(address uint8) error

	// Close 释放端点
	Close() error
}

// IsIn 判断端点地址是否为IN方向
func IsIn(address uint8) bool {
	return address&0x80 != 0
}
