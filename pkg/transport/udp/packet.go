package udp

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// 包格式: [1字节类型][4字节大端序列号][负载]
// 类型字节低7位为包类型，最高位为续传标志（后面还有同一消息的分片）。
const (
	HeaderSize       = 5
	FlagContinuation = 0x80
	typeMask         = 0x7F

	initPayloadSize = 4 // [版本 u16][MTU u16]
)

// PacketType 包类型
type PacketType uint8

const (
	TypeError PacketType = 0x00 // 错误，负载为ASCII描述
	TypeInit  PacketType = 0x01 // 握手，负载为版本与MTU
	TypeData  PacketType = 0x02 // fastboot数据
	TypeAck   PacketType = 0x03 // 确认，回显已接受的序列号
)

func (t PacketType) String() string {
	switch t {
	case TypeError:
		return "ERROR"
	case TypeInit:
		return "INIT"
	case TypeData:
		return "DATA"
	case TypeAck:
		return "ACK"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(t))
	}
}

var ErrMalformedPacket = errors.New("malformed udp packet")

// Packet 一个UDP协议包
type Packet struct {
	Type         PacketType
	Continuation bool
	Seq          uint32
	Payload      []byte
}

// Marshal 编码为线上格式
func (p *Packet) Marshal() []byte {
	buf := make([]byte, HeaderSize+len(p.Payload))
	buf[0] = byte(p.Type) & typeMask
	if p.Continuation {
		buf[0] |= FlagContinuation
	}
	binary.BigEndian.PutUint32(buf[1:5], p.Seq)
	copy(buf[HeaderSize:], p.Payload)
	return buf
}

// Unmarshal 解码线上格式，负载引用b的底层数组
func Unmarshal(b []byte) (*Packet, error) {
	if len(b) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(b))
	}
	p := &Packet{
		Type:         PacketType(b[0] & typeMask),
		Continuation: b[0]&FlagContinuation != 0,
		Seq:          binary.BigEndian.Uint32(b[1:5]),
		Payload:      b[HeaderSize:],
	}
	if p.Type > TypeAck {
		return nil, fmt.Errorf("%w: type 0x%02x", ErrMalformedPacket, b[0])
	}
	return p, nil
}

// InitPayload 握手负载
type InitPayload struct {
	Version uint16
	MTU     uint16
}

func (ip InitPayload) Marshal() []byte {
	buf := make([]byte, initPayloadSize)
	binary.BigEndian.PutUint16(buf[0:2], ip.Version)
	binary.BigEndian.PutUint16(buf[2:4], ip.MTU)
	return buf
}

// ParseInitPayload 解析握手负载
func ParseInitPayload(b []byte) (InitPayload, error) {
	if len(b) < initPayloadSize {
		return InitPayload{}, fmt.Errorf("%w: init payload %d bytes", ErrMalformedPacket, len(b))
	}
	return InitPayload{
		Version: binary.BigEndian.Uint16(b[0:2]),
		MTU:     binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

func newInitPacket(version uint16, mtu int) *Packet {
	return &Packet{
		Type:    TypeInit,
		Seq:     0,
		Payload: InitPayload{Version: version, MTU: uint16(mtu)}.Marshal(),
	}
}

func newErrorPacket(seq uint32, msg string) *Packet {
	return &Packet{Type: TypeError, Seq: seq, Payload: []byte(msg)}
}

func newAckPacket(seq uint32) *Packet {
	return &Packet{Type: TypeAck, Seq: seq}
}
