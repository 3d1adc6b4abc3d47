//go:build linux

package usb

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// FUNCTIONFS_CLEAR_HALT = _IO('g', 3)
const functionfsClearHalt = 0x6703

const pollInterval = 100 * time.Millisecond

// FunctionFS 基于Linux FunctionFS端点文件的HAL。
// ep0的描述符写入由gadget配置完成，这里只打开数据端点。
type FunctionFS struct {
	dir     string
	epOut   *os.File // ep1，主机到设备
	epIn    *os.File // ep2，设备到主机
	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
}

// OpenFunctionFS 打开dir下的ep1/ep2批量端点
func OpenFunctionFS(dir string) (*FunctionFS, error) {
	out, err := os.OpenFile(filepath.Join(dir, "ep1"), os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	in, err := os.OpenFile(filepath.Join(dir, "ep2"), os.O_RDWR, 0)
	if err != nil {
		out.Close()
		return nil, err
	}
	return &FunctionFS{
		dir:     dir,
		epOut:   out,
		epIn:    in,
		closeCh: make(chan struct{}),
	}, nil
}

func (h *FunctionFS) file(address uint8) (*os.File, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, context.Canceled
	}
	if IsIn(address) {
		return h.epIn, nil
	}
	return h.epOut, nil
}

// Read 读取一次OUT传输。
// 端点文件支持轮询时按截止时间循环以响应ctx取消，否则退化为阻塞读。
func (h *FunctionFS) Read(ctx context.Context, address uint8, buf []byte) (int, error) {
	if IsIn(address) {
		return 0, ErrInvalidEndpoint
	}
	f, err := h.file(address)
	if err != nil {
		return 0, err
	}

	for {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-h.closeCh:
			return 0, context.Canceled
		default:
		}

		if derr := f.SetReadDeadline(time.Now().Add(pollInterval)); derr != nil {
			n, err := f.Read(buf)
			return n, translateErrno(err)
		}
		n, err := f.Read(buf)
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			return n, translateErrno(err)
		}
		return n, nil
	}
}

// Write 写出一次IN传输，data为空时写出零长度包
func (h *FunctionFS) Write(ctx context.Context, address uint8, data []byte) (int, error) {
	if !IsIn(address) {
		return 0, ErrInvalidEndpoint
	}
	f, err := h.file(address)
	if err != nil {
		return 0, err
	}
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}
	if deadline, ok := ctx.Deadline(); ok {
		f.SetWriteDeadline(deadline)
	}
	n, err := f.Write(data)
	return n, translateErrno(err)
}

// ClearStall 对端点执行FUNCTIONFS_CLEAR_HALT
func (h *FunctionFS) ClearStall(address uint8) error {
	f, err := h.file(address)
	if err != nil {
		return err
	}
	rc, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var ioctlErr error
	if err := rc.Control(func(fd uintptr) {
		ioctlErr = unix.IoctlSetInt(int(fd), functionfsClearHalt, 0)
	}); err != nil {
		return err
	}
	return translateErrno(ioctlErr)
}

// Close 关闭端点文件
func (h *FunctionFS) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	close(h.closeCh)
	h.mu.Unlock()

	errOut := h.epOut.Close()
	errIn := h.epIn.Close()
	return errors.Join(errOut, errIn)
}

func translateErrno(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESHUTDOWN), errors.Is(err, unix.ENODEV):
		return ErrDetached
	case errors.Is(err, unix.EPIPE), errors.Is(err, unix.EBADMSG):
		return ErrStall
	case errors.Is(err, unix.ETIMEDOUT), os.IsTimeout(err):
		return ErrTimeout
	default:
		return err
	}
}
