package fastboot

import (
	"fmt"

	"github.com/junbin-yang/fastboot-go/pkg/transport"
)

// DataManager 持有会话的下载/上传缓冲区，按传输块大小驱动数据阶段的读写。
// 实际搬运的字节数必须等于协商长度，任何短传输都是协议错误。
type DataManager struct {
	t        transport.Transport
	download []byte
	upload   []byte
}

func newDataManager(t transport.Transport) *DataManager {
	return &DataManager{t: t}
}

// DownloadData 返回最近一次完整下载的数据
func (m *DataManager) DownloadData() []byte { return m.download }

// UploadData 返回待上传的数据
func (m *DataManager) UploadData() []byte { return m.upload }

// SetUploadData 设置下一次upload返回的数据
func (m *DataManager) SetUploadData(data []byte) { m.upload = data }

// HandleData 在数据阶段收（read为true）或发data，直到恰好len(data)字节
func (m *DataManager) HandleData(read bool, data []byte) error {
	block := m.t.BlockSize()
	if block <= 0 {
		block = len(data)
	}
	dir := "write"
	if read {
		dir = "read"
	}

	for off := 0; off < len(data); {
		end := off + block
		if end > len(data) {
			end = len(data)
		}

		var n int
		var err error
		if read {
			n, err = m.t.Read(data[off:end])
		} else {
			n, err = m.t.Write(data[off:end])
		}
		if err != nil {
			return fmt.Errorf("%s %d/%d: %w", dir, off, len(data), err)
		}
		if n == 0 || (!read && n != end-off) {
			return fmt.Errorf("%w: %s %d/%d", ErrShortTransfer, dir, off+n, len(data))
		}
		off += n
	}
	return nil
}

// receive 接收size字节作为新的下载缓冲区。
// 成功后上传缓冲区指向同一份数据，便于主机回读校验。
func (m *DataManager) receive(size uint32) error {
	buf := make([]byte, size)
	if err := m.HandleData(true, buf); err != nil {
		return err
	}
	m.download = buf
	m.upload = buf
	return nil
}

// send 发送当前上传缓冲区
func (m *DataManager) send() error {
	return m.HandleData(false, m.upload)
}

func (m *DataManager) release() {
	m.download = nil
	m.upload = nil
}
