package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
	"github.com/pierrec/lz4/v4"
)

const (
	rawSuffix        = ".img"
	compressedSuffix = ".img.lz4"

	// 压缩镜像头: [8字节大端原始长度][1字节标志]，标志为1表示其后是LZ4块，0表示原样存储
	lz4HeaderSize = 9
)

// FileStore 以目录存储分区，每个分区一个<名字>.img文件。
// 开启压缩后写入<名字>.img.lz4，读取时两种格式都支持。
type FileStore struct {
	dir      string
	compress bool
	mu       sync.RWMutex
}

// NewFileStore 创建文件存储，目录不存在时自动创建
func NewFileStore(dir string, compress bool) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建分区目录失败：%w", err)
	}
	return &FileStore{dir: dir, compress: compress}, nil
}

// Create 创建指定大小的全零分区，已存在时不做改动
func (f *FileStore) Create(name string, size int64) error {
	if err := validName(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, _, err := f.locate(name); err == nil {
		return nil
	}
	return f.write(name, make([]byte, size))
}

func (f *FileStore) rawPath(name string) string {
	return filepath.Join(f.dir, name+rawSuffix)
}

func (f *FileStore) compressedPath(name string) string {
	return filepath.Join(f.dir, name+compressedSuffix)
}

// locate 返回分区文件路径以及是否为压缩格式
func (f *FileStore) locate(name string) (string, bool, error) {
	if err := validName(name); err != nil {
		return "", false, err
	}
	if _, err := os.Stat(f.compressedPath(name)); err == nil {
		return f.compressedPath(name), true, nil
	}
	if _, err := os.Stat(f.rawPath(name)); err == nil {
		return f.rawPath(name), false, nil
	}
	return "", false, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Flash 写入已存在的分区，镜像不足分区大小时尾部补零
func (f *FileStore) Flash(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	size, err := f.size(name)
	if err != nil {
		return err
	}
	image, err := fitImage(name, size, data)
	if err != nil {
		return err
	}
	return f.write(name, image)
}

// Erase 保持分区大小，内容清零
func (f *FileStore) Erase(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	size, err := f.size(name)
	if err != nil {
		return err
	}
	return f.write(name, make([]byte, size))
}

// write 替换分区文件，调用方持有写锁
func (f *FileStore) write(name string, data []byte) error {
	path, stale := f.rawPath(name), f.compressedPath(name)
	content := data
	if f.compress {
		path, stale = stale, path
		content = encodeLZ4(data)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0644); err != nil {
		return fmt.Errorf("写入分区 %s 失败：%w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("写入分区 %s 失败：%w", name, err)
	}
	if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warnf("[STORAGE] 删除旧镜像 %s 失败: %v", stale, err)
	}
	logger.Debugf("[STORAGE] %s: %d 字节 -> %s (%d 字节)", name, len(data), filepath.Base(path), len(content))
	return nil
}

func (f *FileStore) ReadAt(name string, offset, size int64) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	path, compressed, err := f.locate(name)
	if err != nil {
		return nil, err
	}
	if compressed {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		data, err := decodeLZ4(content)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if err := checkRange(name, int64(len(data)), offset, size); err != nil {
			return nil, err
		}
		return data[offset : offset+size], nil
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	if err := checkRange(name, info.Size(), offset, size); err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(io.NewSectionReader(file, offset, size), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (f *FileStore) Size(name string) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.size(name)
}

func (f *FileStore) size(name string) (int64, error) {
	path, compressed, err := f.locate(name)
	if err != nil {
		return 0, err
	}
	if !compressed {
		info, err := os.Stat(path)
		if err != nil {
			return 0, err
		}
		return info.Size(), nil
	}

	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer file.Close()
	header := make([]byte, lz4HeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return 0, fmt.Errorf("%s: 压缩镜像头损坏: %w", name, err)
	}
	return int64(binary.BigEndian.Uint64(header)), nil
}

func (f *FileStore) Has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, _, err := f.locate(name)
	return err == nil
}

func (f *FileStore) List() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		logger.Warnf("[STORAGE] 读取目录 %s 失败: %v", f.dir, err)
		return nil
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		switch {
		case strings.HasSuffix(name, compressedSuffix):
			seen[strings.TrimSuffix(name, compressedSuffix)] = true
		case strings.HasSuffix(name, rawSuffix):
			seen[strings.TrimSuffix(name, rawSuffix)] = true
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// encodeLZ4 压缩整个镜像，不可压缩时原样存储
func encodeLZ4(data []byte) []byte {
	out := make([]byte, lz4HeaderSize+lz4.CompressBlockBound(len(data)))
	binary.BigEndian.PutUint64(out[:8], uint64(len(data)))

	n, err := lz4.CompressBlock(data, out[lz4HeaderSize:], nil)
	if err != nil || n == 0 || n >= len(data) {
		out = append(out[:lz4HeaderSize], data...)
		out[8] = 0
		return out
	}
	out[8] = 1
	return out[:lz4HeaderSize+n]
}

func decodeLZ4(content []byte) ([]byte, error) {
	if len(content) < lz4HeaderSize {
		return nil, fmt.Errorf("压缩镜像头损坏")
	}
	size := binary.BigEndian.Uint64(content[:8])
	body := content[lz4HeaderSize:]
	if content[8] == 0 {
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("镜像长度不符: %d != %d", len(body), size)
		}
		return body, nil
	}

	data := make([]byte, size)
	n, err := lz4.UncompressBlock(body, data)
	if err != nil {
		return nil, fmt.Errorf("解压失败: %w", err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("镜像长度不符: %d != %d", n, size)
	}
	return data, nil
}
