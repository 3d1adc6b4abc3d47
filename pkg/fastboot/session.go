package fastboot

import (
	"errors"
	"fmt"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

// Session 一个连接上的命令分发状态机。
// 会话由单个goroutine驱动，独占传输与数据缓冲区，退出时全部释放。
type Session struct {
	id    string
	dev   *Device
	t     transport.Transport
	data  *DataManager
	state State
	log   *logger.Logger

	// 最近一次传输错误，非空即结束会话
	err error
}

// ID 会话标识
func (s *Session) ID() string { return s.id }

// State 当前状态
func (s *Session) State() State { return s.state }

// Device 会话所属设备
func (s *Session) Device() *Device { return s.dev }

// Data 会话的数据缓冲区
func (s *Session) Data() *DataManager { return s.data }

// Err 导致会话结束的传输错误
func (s *Session) Err() error { return s.err }

// ExecuteCommands 循环读取并执行命令，直到传输出错或命令要求结束会话
func (s *Session) ExecuteCommands() {
	s.log.Infof("[FASTBOOT] 会话开始")
	var after func()
	defer func() {
		s.close()
		if after != nil {
			after()
		}
	}()

	// 按整块读取，超长命令在一次Read内完整取出，不会残留到下一条命令
	size := s.t.BlockSize()
	if size <= MaxCommandLength {
		size = MaxCommandLength + 1
	}
	buf := make([]byte, size)
	for s.state != StateClosed {
		n, err := s.t.Read(buf)
		if err != nil {
			s.fatal(fmt.Errorf("read command: %w", err))
			return
		}
		s.state = StateCommand

		if n > MaxCommandLength {
			// 剩余部分无法作为命令解释，丢弃
			s.t.Reset()
			s.WriteStatus(ResultFail, ErrCommandTooLong.Error())
			if s.err != nil {
				return
			}
			continue
		}

		cmd := ParseCommand(string(buf[:n]))
		s.log.Debugf("[FASTBOOT] 命令 %q", cmd.String())

		handler, ok := commandTable[cmd.Verb]
		if !ok {
			s.WriteStatus(ResultFail, "unrecognized command")
			if s.err != nil {
				return
			}
			continue
		}

		resp := handler(s, cmd.Arg)
		if s.err != nil {
			return
		}
		if s.finish(resp) {
			after = resp.after
			return
		}
		if s.err != nil {
			return
		}
	}
}

// finish 执行应答中的数据阶段并发送最终状态，返回会话是否应结束
func (s *Session) finish(resp Response) bool {
	switch resp.phase {
	case phaseDownload:
		s.state = StateDownload
		if err := s.WriteStatus(ResultData, fmt.Sprintf("%08x", resp.size)); err != nil {
			return false
		}
		err := s.data.receive(resp.size)
		s.state = StateCommand
		if !s.dataPhaseOK(err) {
			return false
		}
		s.log.Infof("[FASTBOOT] 下载完成 %d 字节", resp.size)
		if resp.onData != nil {
			resp = resp.onData(s, s.data.DownloadData())
		} else {
			resp = Okay("")
		}

	case phaseUpload:
		s.state = StateUpload
		s.data.SetUploadData(resp.upload)
		if err := s.WriteStatus(ResultData, fmt.Sprintf("%08x", len(resp.upload))); err != nil {
			return false
		}
		err := s.data.send()
		s.state = StateCommand
		if !s.dataPhaseOK(err) {
			return false
		}
		s.log.Infof("[FASTBOOT] 上传完成 %d 字节", len(resp.upload))
		resp = Okay("")
	}

	if err := s.WriteStatus(resp.Result, resp.Message); err != nil {
		return false
	}
	return resp.close
}

// dataPhaseOK 短传输回复FAIL并继续会话，传输错误结束会话
func (s *Session) dataPhaseOK(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, ErrShortTransfer) {
		s.log.Warnf("[FASTBOOT] 数据阶段失败: %v", err)
		s.t.Reset()
		s.WriteStatus(ResultFail, err.Error())
		return false
	}
	s.fatal(err)
	return false
}

// WriteStatus 发送一条状态应答，失败时记录错误并结束会话
func (s *Session) WriteStatus(result Result, message string) error {
	if s.err != nil {
		return s.err
	}
	if _, err := s.t.Write(FormatStatus(result, message)); err != nil {
		s.fatal(fmt.Errorf("write %s: %w", result, err))
		return s.err
	}
	return nil
}

// WriteInfo 发送INFO行，可在终结应答前多次调用
func (s *Session) WriteInfo(message string) error {
	return s.WriteStatus(ResultInfo, message)
}

func (s *Session) fatal(err error) {
	if s.err == nil {
		s.err = err
		if errors.Is(err, transport.ErrClosed) {
			s.log.Infof("[FASTBOOT] 传输已关闭")
		} else {
			s.log.Warn("[FASTBOOT] 会话因传输错误结束", logger.GetError(err))
		}
	}
}

// close 关闭传输并释放缓冲区，任何退出路径都会执行
func (s *Session) close() {
	s.state = StateClosed
	s.t.Close()
	s.data.release()
	s.log.Infof("[FASTBOOT] 会话结束")
}
