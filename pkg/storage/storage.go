// Package storage 提供分区存储实现：基于目录的文件存储（可选LZ4压缩）和内存存储。
package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("partition not found")
	ErrInvalidName = errors.New("invalid partition name")
	ErrOutOfRange  = errors.New("read beyond partition end")
	ErrTooLarge    = errors.New("image larger than partition")
)

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func checkRange(name string, total, offset, size int64) error {
	if offset < 0 || size < 0 || offset+size > total {
		return fmt.Errorf("%w: %s [%d, +%d) size %d", ErrOutOfRange, name, offset, size, total)
	}
	return nil
}

// fitImage 把镜像放入固定大小的分区，尾部补零
func fitImage(name string, size int64, data []byte) ([]byte, error) {
	if int64(len(data)) > size {
		return nil, fmt.Errorf("%w: %s %d > %d", ErrTooLarge, name, len(data), size)
	}
	image := make([]byte, size)
	copy(image, data)
	return image, nil
}
