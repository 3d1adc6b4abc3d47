package udp

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// negotiateMTU 取两端建议值中较小者
func negotiateMTU(local, peer int) (int, error) {
	mtu := local
	if peer < mtu {
		mtu = peer
	}
	if mtu < MinMTU {
		return 0, fmt.Errorf("%w: %d < %d", ErrBadMTU, mtu, MinMTU)
	}
	return mtu, nil
}

// accept 响应方处理主机发来的INIT。
// 版本或MTU不可接受时回复ERROR，会话保持UNINITIALIZED。
func accept(pc net.PacketConn, peer net.Addr, init *Packet, cfg Config) (*Conn, error) {
	c := newConn(pc, peer, cfg, false, false)

	reject := func(err error) (*Conn, error) {
		c.send(newErrorPacket(init.Seq, err.Error()))
		return nil, err
	}

	if init.Type != TypeInit {
		return reject(fmt.Errorf("%w: expected INIT, got %s", ErrNotConnected, init.Type))
	}
	c.setState(StateNegotiating)

	ip, err := ParseInitPayload(init.Payload)
	if err != nil {
		return reject(err)
	}
	if ip.Version != c.cfg.Version {
		return reject(fmt.Errorf("%w: %d", ErrUnsupportedVersion, ip.Version))
	}
	mtu, err := negotiateMTU(c.cfg.MTU, int(ip.MTU))
	if err != nil {
		return reject(err)
	}

	c.mtu = mtu
	c.initReply = newInitPacket(c.cfg.Version, mtu).Marshal()
	if err := c.sendRaw(c.initReply); err != nil {
		return nil, err
	}
	c.setState(StateConnected)
	logger.Infof("[UDP] 会话建立 %s, mtu=%d", peer, mtu)
	return c, nil
}

// Dial 主机端：向addr发起握手，返回独占套接字的会话
func Dial(addr string, cfg Config) (*Conn, error) {
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	pc, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, fmt.Errorf("创建套接字失败：%w", err)
	}

	c := newConn(pc, raddr, cfg, true, true)
	if err := c.handshake(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// handshake 发起方发送INIT并等待应答，超时按重传策略重发
func (c *Conn) handshake() error {
	c.setState(StateNegotiating)
	raw := newInitPacket(c.cfg.Version, c.cfg.MTU).Marshal()
	if err := c.sendRaw(raw); err != nil {
		return err
	}

	timeouts := 0
	deadline := time.Now().Add(c.cfg.RetransmitTimeout)
	for {
		pkt, err := c.recv(deadline)
		if err != nil {
			if !errors.Is(err, errRecvTimeout) {
				return err
			}
			timeouts++
			if timeouts > c.cfg.MaxRetries {
				return ErrRetryExhausted
			}
			c.retransmits.Add(1)
			if err := c.sendRaw(raw); err != nil {
				return err
			}
			deadline = time.Now().Add(c.cfg.RetransmitTimeout)
			continue
		}

		switch pkt.Type {
		case TypeError:
			if string(pkt.Payload) == busyMessage {
				return ErrBusy
			}
			return fmt.Errorf("%w: %s", ErrPeerError, pkt.Payload)
		case TypeInit:
			ip, err := ParseInitPayload(pkt.Payload)
			if err != nil {
				return err
			}
			if ip.Version != c.cfg.Version {
				return fmt.Errorf("%w: %d", ErrUnsupportedVersion, ip.Version)
			}
			if int(ip.MTU) > c.cfg.MTU {
				return fmt.Errorf("%w: peer chose %d above proposed %d", ErrBadMTU, ip.MTU, c.cfg.MTU)
			}
			mtu, err := negotiateMTU(c.cfg.MTU, int(ip.MTU))
			if err != nil {
				return err
			}
			c.mtu = mtu
			c.setState(StateConnected)
			logger.Debugf("[UDP] 握手完成 %s, mtu=%d", c.peer, mtu)
			return nil
		default:
			logger.Debugf("[UDP] 握手期间忽略 %s 包", pkt.Type)
		}
	}
}
