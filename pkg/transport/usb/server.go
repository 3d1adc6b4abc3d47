package usb

import (
	"sync"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

const reopenInterval = time.Second

// Opener 打开一次端点HAL
type Opener func() (EndpointHAL, error)

// Server 在USB端点上循环服务会话，同一时间只有一个会话
type Server struct {
	open Opener
	cfg  Config

	stopCh chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	current *Transport
}

// NewServer 创建USB会话服务
func NewServer(open Opener, cfg Config) *Server {
	return &Server{
		open:   open,
		cfg:    cfg,
		stopCh: make(chan struct{}),
	}
}

// Start 启动服务循环
func (s *Server) Start(handler transport.SessionHandler) {
	s.wg.Add(1)
	go s.serveLoop(handler)
}

// Stop 停止服务并关闭当前会话的传输
func (s *Server) Stop() {
	close(s.stopCh)
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Server) serveLoop(handler transport.SessionHandler) {
	defer s.wg.Done()

	for !s.stopped() {
		hal, err := s.open()
		if err != nil {
			logger.Warnf("[USB] 打开端点失败: %v", err)
			select {
			case <-s.stopCh:
				return
			case <-time.After(reopenInterval):
			}
			continue
		}

		t := New(hal, s.cfg)
		s.mu.Lock()
		s.current = t
		s.mu.Unlock()
		if s.stopped() {
			t.Close()
			return
		}

		logger.Info("[USB] 端点就绪，等待主机命令")
		handler(t)
		t.Close()

		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
	}
}

// FunctionFSOpener 返回打开dir下FunctionFS端点的Opener
func FunctionFSOpener(dir string) Opener {
	return func() (EndpointHAL, error) {
		h, err := OpenFunctionFS(dir)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}
