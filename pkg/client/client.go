// Package client 主机端fastboot客户端，可运行在任意传输之上。
package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/transport/tcp"
	"github.com/junbin-yang/fastboot-go/pkg/transport/udp"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

var (
	ErrUnexpectedResponse = errors.New("unexpected response")
	ErrSizeMismatch       = errors.New("data size mismatch")
)

// FailError 设备对命令回复了FAIL
type FailError struct {
	Command string
	Message string
}

func (e *FailError) Error() string {
	return fmt.Sprintf("%s: FAILED (%s)", e.Command, e.Message)
}

// Client fastboot主机端
type Client struct {
	t transport.Transport

	// OnInfo 收到INFO行时调用，为空时记录调试日志
	OnInfo func(msg string)
}

// New 在已建立的传输上创建客户端，客户端接管t
func New(t transport.Transport) *Client {
	return &Client{t: t}
}

// DialTCP 通过TCP连接设备
func DialTCP(addr string) (*Client, error) {
	t, err := tcp.Dial(addr, tcp.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return New(t), nil
}

// DialUDP 通过UDP可靠层连接设备
func DialUDP(addr string, cfg udp.Config) (*Client, error) {
	c, err := udp.Dial(addr, cfg)
	if err != nil {
		return nil, err
	}
	return New(c), nil
}

// Close 关闭传输
func (c *Client) Close() error {
	return c.t.Close()
}

func (c *Client) send(cmd string) error {
	if len(cmd) > fastboot.MaxCommandLength {
		return fmt.Errorf("%w: %q", fastboot.ErrCommandTooLong, cmd)
	}
	_, err := c.t.Write([]byte(cmd))
	return err
}

// readStatus 读取应答直到OKAY/FAIL/DATA，途中的INFO交给OnInfo
func (c *Client) readStatus(cmd string) (fastboot.Result, string, []string, error) {
	var infos []string
	buf := make([]byte, fastboot.MaxResponseLength)
	for {
		n, err := c.t.Read(buf)
		if err != nil {
			return 0, "", infos, err
		}
		if n < fastboot.StatusPrefixSize {
			return 0, "", infos, fmt.Errorf("%w: %q", ErrUnexpectedResponse, buf[:n])
		}
		prefix, msg := string(buf[:4]), string(buf[4:n])
		switch prefix {
		case "INFO":
			infos = append(infos, msg)
			if c.OnInfo != nil {
				c.OnInfo(msg)
			} else {
				logger.Debugf("[CLI] (%s) INFO %s", cmd, msg)
			}
		case "OKAY":
			return fastboot.ResultOkay, msg, infos, nil
		case "FAIL":
			return fastboot.ResultFail, msg, infos, &FailError{Command: cmd, Message: msg}
		case "DATA":
			return fastboot.ResultData, msg, infos, nil
		default:
			return 0, "", infos, fmt.Errorf("%w: %q", ErrUnexpectedResponse, buf[:n])
		}
	}
}

// RawCommand 发送任意命令并等待OKAY，返回OKAY消息与途中的INFO行
func (c *Client) RawCommand(cmd string) (string, []string, error) {
	if err := c.send(cmd); err != nil {
		return "", nil, err
	}
	result, msg, infos, err := c.readStatus(cmd)
	if err != nil {
		return "", infos, err
	}
	if result != fastboot.ResultOkay {
		return "", infos, fmt.Errorf("%w: %s%s", ErrUnexpectedResponse, result, msg)
	}
	return msg, infos, nil
}

// GetVar 读取一个变量
func (c *Client) GetVar(name string) (string, error) {
	v, _, err := c.RawCommand("getvar:" + name)
	return v, err
}

// GetVarAll 读取全部变量，键为INFO行中最后一个':'之前的部分
func (c *Client) GetVarAll() (map[string]string, error) {
	_, infos, err := c.RawCommand("getvar:all")
	if err != nil {
		return nil, err
	}
	vars := make(map[string]string, len(infos))
	for _, line := range infos {
		i := strings.LastIndex(line, ":")
		if i < 0 {
			continue
		}
		vars[line[:i]] = strings.TrimSpace(line[i+1:])
	}
	return vars, nil
}

// expectData 发送命令并解析DATA应答中的长度
func (c *Client) expectData(cmd string) (int, error) {
	if err := c.send(cmd); err != nil {
		return 0, err
	}
	result, msg, _, err := c.readStatus(cmd)
	if err != nil {
		return 0, err
	}
	if result != fastboot.ResultData {
		return 0, fmt.Errorf("%w: %s%s", ErrUnexpectedResponse, result, msg)
	}
	size, err := strconv.ParseUint(msg, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: DATA%s", ErrUnexpectedResponse, msg)
	}
	return int(size), nil
}

func (c *Client) expectOkay(cmd string) error {
	result, msg, _, err := c.readStatus(cmd)
	if err != nil {
		return err
	}
	if result != fastboot.ResultOkay {
		return fmt.Errorf("%w: %s%s", ErrUnexpectedResponse, result, msg)
	}
	return nil
}

// Download 把data下载到设备缓冲区
func (c *Client) Download(data []byte) error {
	cmd := fmt.Sprintf("download:%08x", len(data))
	size, err := c.expectData(cmd)
	if err != nil {
		return err
	}
	if size != len(data) {
		return fmt.Errorf("%w: device accepts %d, have %d", ErrSizeMismatch, size, len(data))
	}

	block := c.t.BlockSize()
	for off := 0; off < len(data); off += block {
		end := off + block
		if end > len(data) {
			end = len(data)
		}
		if _, err := c.t.Write(data[off:end]); err != nil {
			return fmt.Errorf("download %d/%d: %w", off, len(data), err)
		}
	}
	return c.expectOkay(cmd)
}

// readData 数据阶段读取size字节
func (c *Client) readData(cmd string, size int) ([]byte, error) {
	data := make([]byte, size)
	block := c.t.BlockSize()
	for off := 0; off < size; {
		end := off + block
		if end > size {
			end = size
		}
		n, err := c.t.Read(data[off:end])
		if err != nil {
			return nil, fmt.Errorf("%s %d/%d: %w", cmd, off, size, err)
		}
		if n == 0 {
			return nil, fmt.Errorf("%w: %s %d/%d", fastboot.ErrShortTransfer, cmd, off, size)
		}
		off += n
	}
	if err := c.expectOkay(cmd); err != nil {
		return nil, err
	}
	return data, nil
}

// Upload 读取设备的上传缓冲区
func (c *Client) Upload() ([]byte, error) {
	size, err := c.expectData("upload")
	if err != nil {
		return nil, err
	}
	return c.readData("upload", size)
}

// Fetch 读取分区内容，size小于0表示读到分区末尾
func (c *Client) Fetch(partition string, offset, size int64) ([]byte, error) {
	cmd := fmt.Sprintf("fetch:%s:%x", partition, offset)
	if size >= 0 {
		cmd += fmt.Sprintf(":%x", size)
	}
	n, err := c.expectData(cmd)
	if err != nil {
		return nil, err
	}
	return c.readData(cmd, n)
}

// Flash 下载镜像并写入分区
func (c *Client) Flash(partition string, image []byte) error {
	if err := c.Download(image); err != nil {
		return err
	}
	_, _, err := c.RawCommand("flash:" + partition)
	return err
}

// Erase 擦除分区
func (c *Client) Erase(partition string) error {
	_, _, err := c.RawCommand("erase:" + partition)
	return err
}

// SetActive 切换当前槽位
func (c *Client) SetActive(slot string) error {
	_, _, err := c.RawCommand("set_active:" + slot)
	return err
}

// Reboot 重启设备，target为空表示正常启动，"continue"表示继续引导。
// 设备应答后会关闭连接，客户端随之关闭传输。
func (c *Client) Reboot(target string) error {
	cmd := "reboot"
	switch target {
	case "":
	case "continue":
		cmd = "continue"
	default:
		cmd = "reboot-" + target
	}
	_, _, err := c.RawCommand(cmd)
	c.Close()
	return err
}
