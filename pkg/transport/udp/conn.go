package udp

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// State 会话状态
type State int32

const (
	StateUninitialized State = iota
	StateNegotiating
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateNegotiating:
		return "NEGOTIATING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stats 会话统计
type Stats struct {
	PacketsSent uint64
	Retransmits uint64
	Duplicates  uint64
	Delivered   uint64 // 交付给上层的完整消息数
}

var errRecvTimeout = errors.New("receive timeout")

// Conn 建立在数据报之上的停等式可靠传输。
//
// 每个方向的序列号独立递增，INIT使用0，第一个DATA使用1。
// 重传定时器通过带截止时间的阻塞接收实现，所有状态只在会话所属
// 的goroutine中访问，Close和Stats除外。
type Conn struct {
	pc        net.PacketConn
	peer      net.Addr
	cfg       Config
	ownsPC    bool
	initiator bool

	mtu     int
	sendSeq uint32 // 最后一个已确认的发送序列号
	recvSeq uint32 // 最高的已接受序列号

	assembling []byte   // 正在拼装的续传分片
	inbox      [][]byte // 已拼装完成、尚未交付的消息
	pending    []byte   // 当前消息未读完的部分

	initReply []byte // 响应方的INIT应答，用于应答重传的INIT

	// foreign 处理来自非会话对端的包
	foreign func(addr net.Addr, pkt *Packet)

	recvBuf []byte

	state     atomic.Int32
	closeOnce sync.Once

	sent        atomic.Uint64
	retransmits atomic.Uint64
	duplicates  atomic.Uint64
	delivered   atomic.Uint64
}

func newConn(pc net.PacketConn, peer net.Addr, cfg Config, ownsPC, initiator bool) *Conn {
	cfg.normalize()
	c := &Conn{
		pc:        pc,
		peer:      peer,
		cfg:       cfg,
		ownsPC:    ownsPC,
		initiator: initiator,
		mtu:       cfg.MTU,
		recvBuf:   make([]byte, HeaderSize+MaxMTU),
	}
	c.state.Store(int32(StateUninitialized))
	return c
}

// State 返回当前会话状态
func (c *Conn) State() State {
	return State(c.state.Load())
}

func (c *Conn) setState(s State) {
	c.state.Store(int32(s))
}

// MTU 返回协商后的单包负载上限
func (c *Conn) MTU() int { return c.mtu }

// Stats 返回统计快照
func (c *Conn) Stats() Stats {
	return Stats{
		PacketsSent: c.sent.Load(),
		Retransmits: c.retransmits.Load(),
		Duplicates:  c.duplicates.Load(),
		Delivered:   c.delivered.Load(),
	}
}

// Read 读取下一条消息（或当前消息的剩余部分）
func (c *Conn) Read(p []byte) (int, error) {
	if c.State() == StateClosed {
		return 0, transport.ErrClosed
	}
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}

	if len(c.pending) == 0 {
		msg, err := c.nextMessage()
		if err != nil {
			return 0, err
		}
		if len(msg) == 0 {
			return 0, nil
		}
		c.pending = msg
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

// nextMessage 返回下一条完整消息，必要时阻塞接收
func (c *Conn) nextMessage() ([]byte, error) {
	for len(c.inbox) == 0 {
		var deadline time.Time
		if c.cfg.IdleTimeout > 0 {
			deadline = time.Now().Add(c.cfg.IdleTimeout)
		}
		pkt, err := c.recv(deadline)
		if err != nil {
			if errors.Is(err, errRecvTimeout) {
				return nil, c.fail(ErrIdleTimeout)
			}
			return nil, c.fail(err)
		}

		switch pkt.Type {
		case TypeData:
			if _, err := c.acceptData(pkt); err != nil {
				return nil, c.fail(err)
			}
		case TypeAck:
			// 过期的ACK，忽略
		case TypeInit:
			if err := c.handleInit(pkt); err != nil {
				return nil, c.fail(err)
			}
		case TypeError:
			return nil, c.fail(fmt.Errorf("%w: %s", ErrPeerError, pkt.Payload))
		}
	}

	msg := c.inbox[0]
	c.inbox = c.inbox[1:]
	c.delivered.Add(1)
	return msg, nil
}

// acceptData 处理一个DATA包，返回是否为新接受的包
func (c *Conn) acceptData(pkt *Packet) (bool, error) {
	if len(pkt.Payload) > c.mtu {
		return false, fmt.Errorf("%w: 负载 %d 超过MTU %d", transport.ErrProtocol, len(pkt.Payload), c.mtu)
	}

	switch {
	case pkt.Seq <= c.recvSeq:
		// 重复包：不再交付，但重发ACK以应对ACK丢失
		c.duplicates.Add(1)
		logger.Debugf("[UDP] 重复包 seq=%d (已接受 %d)，重发ACK", pkt.Seq, c.recvSeq)
		return false, c.send(newAckPacket(pkt.Seq))
	case pkt.Seq == c.recvSeq+1:
		c.recvSeq = pkt.Seq
		if err := c.send(newAckPacket(pkt.Seq)); err != nil {
			return false, err
		}
		c.assembling = append(c.assembling, pkt.Payload...)
		if !pkt.Continuation {
			msg := c.assembling
			if msg == nil {
				msg = []byte{}
			}
			c.inbox = append(c.inbox, msg)
			c.assembling = nil
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: 收到 %d, 期望 %d", ErrOutOfOrder, pkt.Seq, c.recvSeq+1)
	}
}

// handleInit 会话中收到INIT：响应方在尚未收到数据时重答，否则视为对端重置
func (c *Conn) handleInit(pkt *Packet) error {
	if c.initiator {
		// 重复的握手应答
		return nil
	}
	if c.recvSeq == 0 && c.initReply != nil {
		logger.Debugf("[UDP] 收到 %s 重传的INIT，重新应答", c.peer)
		return c.sendRaw(c.initReply)
	}
	return ErrPeerReset
}

// Write 把p拆分为不超过MTU的分片逐个可靠发送
func (c *Conn) Write(p []byte) (int, error) {
	if c.State() == StateClosed {
		return 0, transport.ErrClosed
	}
	if c.State() != StateConnected {
		return 0, ErrNotConnected
	}

	offset := 0
	for {
		end := offset + c.mtu
		if end > len(p) {
			end = len(p)
		}
		last := end == len(p)
		pkt := &Packet{
			Type:         TypeData,
			Continuation: !last,
			Seq:          c.sendSeq + 1,
			Payload:      p[offset:end],
		}
		if err := c.sendReliable(pkt, last); err != nil {
			return 0, c.fail(err)
		}
		c.sendSeq = pkt.Seq
		offset = end
		if last {
			break
		}
	}
	return len(p), nil
}

// sendReliable 发送一个DATA包并等待对应ACK，超时重传
func (c *Conn) sendReliable(pkt *Packet, last bool) error {
	raw := pkt.Marshal()
	if err := c.sendRaw(raw); err != nil {
		return err
	}

	timeouts := 0
	deadline := time.Now().Add(c.cfg.RetransmitTimeout)
	for {
		in, err := c.recv(deadline)
		if err != nil {
			if !errors.Is(err, errRecvTimeout) {
				return err
			}
			timeouts++
			if timeouts > c.cfg.MaxRetries {
				logger.Warnf("[UDP] seq=%d 重传 %d 次后仍未确认", pkt.Seq, c.cfg.MaxRetries)
				return ErrRetryExhausted
			}
			c.retransmits.Add(1)
			logger.Debugf("[UDP] 重传 seq=%d (%d/%d)", pkt.Seq, timeouts, c.cfg.MaxRetries)
			if err := c.sendRaw(raw); err != nil {
				return err
			}
			deadline = time.Now().Add(c.cfg.RetransmitTimeout)
			continue
		}

		switch in.Type {
		case TypeAck:
			switch {
			case in.Seq == pkt.Seq:
				return nil
			case in.Seq < pkt.Seq:
				// 过期ACK
			default:
				return fmt.Errorf("%w: ACK %d 超前于已发送的 %d", ErrOutOfOrder, in.Seq, pkt.Seq)
			}
		case TypeData:
			isNew, err := c.acceptData(in)
			if err != nil {
				return err
			}
			if isNew {
				// 对端只有在收到完整消息后才会开始发送，新数据即隐式确认
				if !last {
					return fmt.Errorf("%w: 消息未发完时收到对端数据", transport.ErrProtocol)
				}
				logger.Debugf("[UDP] seq=%d 由对端新数据隐式确认", pkt.Seq)
				return nil
			}
		case TypeInit:
			if err := c.handleInit(in); err != nil {
				return err
			}
		case TypeError:
			return fmt.Errorf("%w: %s", ErrPeerError, in.Payload)
		}
	}
}

// recv 接收来自会话对端的下一个包，deadline为零表示不限时
func (c *Conn) recv(deadline time.Time) (*Packet, error) {
	for {
		if err := c.pc.SetReadDeadline(deadline); err != nil {
			return nil, c.mapError(err)
		}
		// Close可能发生在设置截止时间之前
		if c.State() == StateClosed {
			return nil, transport.ErrClosed
		}
		n, addr, err := c.pc.ReadFrom(c.recvBuf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) && c.State() != StateClosed {
				return nil, errRecvTimeout
			}
			return nil, c.mapError(err)
		}

		pkt, err := Unmarshal(c.recvBuf[:n])
		if err != nil {
			logger.Debugf("[UDP] 丢弃来自 %s 的包: %v", addr, err)
			continue
		}
		if !sameAddr(addr, c.peer) {
			if c.foreign != nil {
				c.foreign(addr, pkt)
			}
			continue
		}

		// 负载引用接收缓冲区，交付前复制
		pkt.Payload = append([]byte(nil), pkt.Payload...)
		return pkt, nil
	}
}

func (c *Conn) send(pkt *Packet) error {
	return c.sendRaw(pkt.Marshal())
}

func (c *Conn) sendRaw(raw []byte) error {
	if _, err := c.pc.WriteTo(raw, c.peer); err != nil {
		return c.mapError(err)
	}
	c.sent.Add(1)
	return nil
}

func (c *Conn) mapError(err error) error {
	if c.State() == StateClosed || errors.Is(err, net.ErrClosed) {
		return transport.ErrClosed
	}
	return fmt.Errorf("%w: %w", transport.ErrDisconnected, err)
}

// fail 关闭会话并返回err
func (c *Conn) fail(err error) error {
	if c.State() != StateClosed {
		logger.Warnf("[UDP] 会话 %s 异常关闭: %v", c.peer, err)
	}
	c.Close()
	return err
}

// Close 关闭会话。自有套接字直接关闭，共享套接字通过截止时间唤醒阻塞的读。
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.setState(StateClosed)
		if c.ownsPC {
			err = c.pc.Close()
		} else {
			c.pc.SetReadDeadline(time.Now())
		}
	})
	return err
}

// Reset 丢弃当前未读完的消息
func (c *Conn) Reset() error {
	if c.State() == StateClosed {
		return transport.ErrClosed
	}
	c.pending = nil
	return nil
}

// BlockSize 单包负载即为无需分片的最大块
func (c *Conn) BlockSize() int { return c.mtu }

func (c *Conn) Kind() transport.Kind { return transport.KindUDP }

func (c *Conn) RemoteAddr() string { return c.peer.String() }

func sameAddr(a, b net.Addr) bool {
	if ua, ok := a.(*net.UDPAddr); ok {
		if ub, ok := b.(*net.UDPAddr); ok {
			return ua.Port == ub.Port && ua.IP.Equal(ub.IP)
		}
	}
	return a.String() == b.String()
}
