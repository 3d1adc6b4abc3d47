package transport

import (
	"sync"
)

const (
	pipeQueueLen         = 1024
	DefaultPipeBlockSize = 4096
)

// pipeShared 一对管道端点共享的关闭状态
type pipeShared struct {
	once sync.Once
	done chan struct{}
}

// PipeEnd 进程内的消息管道端点，保留消息边界。
// 主要用于在同一进程内驱动命令分发器（测试、回环调试）。
type PipeEnd struct {
	in        chan []byte
	out       chan []byte
	shared    *pipeShared
	blockSize int

	// 当前消息未读完的部分，只由读方goroutine访问
	pending []byte
}

// NewPipe 创建一对相连的管道端点
func NewPipe(blockSize int) (*PipeEnd, *PipeEnd) {
	if blockSize <= 0 {
		blockSize = DefaultPipeBlockSize
	}
	ab := make(chan []byte, pipeQueueLen)
	ba := make(chan []byte, pipeQueueLen)
	shared := &pipeShared{done: make(chan struct{})}
	a := &PipeEnd{in: ba, out: ab, shared: shared, blockSize: blockSize}
	b := &PipeEnd{in: ab, out: ba, shared: shared, blockSize: blockSize}
	return a, b
}

// Read 读取下一条消息（或上一条消息的剩余部分）
func (p *PipeEnd) Read(buf []byte) (int, error) {
	if len(p.pending) == 0 {
		select {
		case msg := <-p.in:
			p.pending = msg
		case <-p.shared.done:
			// 关闭前已入队的消息仍然可读
			select {
			case msg := <-p.in:
				p.pending = msg
			default:
				return 0, ErrClosed
			}
		}
	}
	n := copy(buf, p.pending)
	p.pending = p.pending[n:]
	return n, nil
}

// Write 以一条消息的形式发送p
func (p *PipeEnd) Write(buf []byte) (int, error) {
	select {
	case <-p.shared.done:
		return 0, ErrClosed
	default:
	}
	msg := make([]byte, len(buf))
	copy(msg, buf)
	select {
	case p.out <- msg:
		return len(buf), nil
	case <-p.shared.done:
		return 0, ErrClosed
	}
}

// Close 关闭两个端点
func (p *PipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

// Reset 丢弃未读完的消息
func (p *PipeEnd) Reset() error {
	p.pending = nil
	return nil
}

func (p *PipeEnd) BlockSize() int { return p.blockSize }

func (p *PipeEnd) Kind() Kind { return KindPipe }

func (p *PipeEnd) RemoteAddr() string { return "pipe" }
