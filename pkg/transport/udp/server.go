package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
	"golang.org/x/net/ipv4"
)

const busyMessage = "device busy"

// Server 在一个UDP套接字上逐个服务会话。
// 会话期间其他地址发来的包会收到ERROR应答。
type Server struct {
	pc   net.PacketConn
	cfg  Config
	dscp int

	stopChan chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	current *Conn
}

// NewServer 创建服务端实例，dscp大于0时为套接字设置IP DSCP标记
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
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("创建监听器失败：%w", err)
	}
	return s.Serve(pc, handler)
}

// Serve 在已有的套接字上开始服务，Stop时关闭pc
func (s *Server) Serve(pc net.PacketConn, handler transport.SessionHandler) error {
	if handler == nil {
		return fmt.Errorf("参数错误")
	}
	if s.dscp > 0 {
		if err := ipv4.NewPacketConn(pc).SetTOS(s.dscp << 2); err != nil {
			logger.Debugf("[UDP] 设置DSCP失败: %v", err)
		}
	}
	s.pc = pc
	logger.Infof("[UDP] 监听 %s", pc.LocalAddr())

	s.wg.Add(1)
	go s.serveLoop(handler)
	return nil
}

// Stop 关闭套接字并结束当前会话
func (s *Server) Stop() {
	close(s.stopChan)
	s.mu.Lock()
	if s.current != nil {
		s.current.Close()
	}
	s.mu.Unlock()
	if s.pc != nil {
		s.pc.Close()
	}
	s.wg.Wait()
}

// Addr 返回实际监听地址
func (s *Server) Addr() net.Addr {
	if s.pc == nil {
		return nil
	}
	return s.pc.LocalAddr()
}

func (s *Server) stopped() bool {
	select {
	case <-s.stopChan:
		return true
	default:
		return false
	}
}

func (s *Server) serveLoop(handler transport.SessionHandler) {
	defer s.wg.Done()

	buf := make([]byte, HeaderSize+MaxMTU)
	for {
		// 上一个会话关闭时可能留下过期的截止时间
		s.pc.SetReadDeadline(time.Time{})
		n, addr, err := s.pc.ReadFrom(buf)
		if err != nil {
			if s.stopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Errorf("[UDP] 接收错误: %v", err)
			continue
		}

		pkt, err := Unmarshal(buf[:n])
		if err != nil {
			logger.Debugf("[UDP] 丢弃来自 %s 的包: %v", addr, err)
			continue
		}
		if pkt.Type != TypeInit {
			// 没有会话时收到数据，告知对端重新握手
			s.reply(addr, newErrorPacket(pkt.Seq, "no session"))
			continue
		}

		pkt.Payload = append([]byte(nil), pkt.Payload...)
		conn, err := accept(s.pc, addr, pkt, s.cfg)
		if err != nil {
			logger.Warnf("[UDP] 拒绝 %s 的握手: %v", addr, err)
			continue
		}
		s.serveConn(conn, handler)
	}
}

func (s *Server) serveConn(c *Conn, handler transport.SessionHandler) {
	c.foreign = func(addr net.Addr, pkt *Packet) {
		logger.Debugf("[UDP] 会话进行中，拒绝 %s 的 %s 包", addr, pkt.Type)
		s.reply(addr, newErrorPacket(pkt.Seq, busyMessage))
	}

	s.mu.Lock()
	s.current = c
	s.mu.Unlock()

	if !s.stopped() {
		handler(c)
	}
	c.Close()

	s.mu.Lock()
	s.current = nil
	s.mu.Unlock()

	st := c.Stats()
	logger.Infof("[UDP] 会话结束 (%s) sent=%d retransmits=%d duplicates=%d",
		c.RemoteAddr(), st.PacketsSent, st.Retransmits, st.Duplicates)
}

func (s *Server) reply(addr net.Addr, pkt *Packet) {
	if _, err := s.pc.WriteTo(pkt.Marshal(), addr); err != nil {
		logger.Debugf("[UDP] 发送ERROR到 %s 失败: %v", addr, err)
	}
}
