package tcp

import (
	"fmt"
	"net"
	"sync"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
	"golang.org/x/net/ipv4"
)

// Server 负责监听连接并逐个服务会话。
// fastboot同一时间只服务一个主机，处理完当前会话后才接受下一个连接。
type Server struct {
	listener net.Listener
	cfg      Config
	dscp     int

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	current *Transport
}

// NewServer 创建服务端实例，dscp大于0时为每个连接设置IP DSCP标记
func NewServer(cfg Config, dscp int) *Server {
	cfg.normalize()
	return &Server{
		cfg:      cfg,
		dscp:     dscp,
		stopChan: make(chan struct{}),
	}
}

// Listen 在addr上启动监听并开始服务
func (s *Server) Listen(addr string, handler transport.SessionHandler) error {
	if handler == nil {
		return fmt.Errorf("参数错误")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("创建监听器失败：%w", err)
	}
	s.listener = listener
	logger.Infof("[TCP] 监听 %s", listener.Addr())

	s.wg.Add(1)
	go s.acceptLoop(handler)
	return nil
}

// Stop 停止监听并关闭当前会话
func (s *Server) Stop() {
	close(s.stopChan)
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(handler transport.SessionHandler) {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
				return
			default:
				logger.Errorf("[TCP] 接受连接错误: %v", err)
				continue
			}
		}
		s.serveConn(conn, handler)
	}
}

// serveConn 握手后把连接交给会话处理函数，返回时连接已关闭
func (s *Server) serveConn(conn net.Conn, handler transport.SessionHandler) {
	remote := conn.RemoteAddr().String()

	if s.dscp > 0 {
		// TOS字节高6位为DSCP
		if err := ipv4.NewConn(conn).SetTOS(s.dscp << 2); err != nil {
			logger.Debugf("[TCP] 设置DSCP失败 (%s): %v", remote, err)
		}
	}

	if err := ServerHandshake(conn, s.cfg.HandshakeTimeout); err != nil {
		logger.Warnf("[TCP] 握手失败 (%s): %v", remote, err)
		conn.Close()
		return
	}
	logger.Infof("[TCP] 新连接来自 %s", remote)

	t := New(conn, s.cfg)
	s.mu.Lock()
	s.current = t
	s.mu.Unlock()

	select {
	case <-s.stopChan:
		t.Close()
	default:
		handler(t)
		t.Close()
	}

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()
	logger.Infof("[TCP] 连接关闭 (%s)", remote)
}
