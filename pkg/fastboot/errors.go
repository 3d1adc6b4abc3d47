package fastboot

import "errors"

var (
	// ErrShortTransfer 数据阶段收发的字节数少于协商长度，属于协议错误，会话继续
	ErrShortTransfer = errors.New("short data transfer")

	ErrCommandTooLong = errors.New("command too long")
	ErrInvalidSize    = errors.New("invalid size")
	ErrNoPartition    = errors.New("no such partition")
)
