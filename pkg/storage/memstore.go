package storage

import (
	"fmt"
	"sort"
	"sync"
)

// MemStore 内存分区存储，用于测试与无持久化的部署
type MemStore struct {
	mu         sync.RWMutex
	partitions map[string][]byte
}

// NewMemStore 按给定大小创建全零分区
func NewMemStore(sizes map[string]int64) *MemStore {
	m := &MemStore{partitions: make(map[string][]byte, len(sizes))}
	for name, size := range sizes {
		m.partitions[name] = make([]byte, size)
	}
	return m
}

// Flash 写入已存在的分区，分区大小不变
func (m *MemStore) Flash(name string, data []byte) error {
	if err := validName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	image, err := fitImage(name, int64(len(old)), data)
	if err != nil {
		return err
	}
	m.partitions[name] = image
	return nil
}

func (m *MemStore) Erase(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.partitions[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	for i := range data {
		data[i] = 0
	}
	return nil
}

func (m *MemStore) ReadAt(name string, offset, size int64) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.partitions[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := checkRange(name, int64(len(data)), offset, size); err != nil {
		return nil, err
	}
	return append([]byte(nil), data[offset:offset+size]...), nil
}

func (m *MemStore) Size(name string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.partitions[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return int64(len(data)), nil
}

func (m *MemStore) Has(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.partitions[name]
	return ok
}

func (m *MemStore) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.partitions))
	for name := range m.partitions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
