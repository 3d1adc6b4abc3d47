// Package platform 提供重启与A/B槽位控制的本地实现。
package platform

import (
	"errors"
	"fmt"
	"sync"

	"github.com/junbin-yang/fastboot-go/pkg/fastboot"
	"github.com/junbin-yang/fastboot-go/pkg/utils/logger"
)

var ErrUnknownSlot = errors.New("unknown slot")

// RebootFunc 执行实际的重启动作
type RebootFunc func(target fastboot.RebootTarget) error

// Local 槽位状态保存在内存中，重启交给可替换的回调
type Local struct {
	mu     sync.Mutex
	slots  []string
	active string
	reboot RebootFunc

	reboots []fastboot.RebootTarget
}

// NewLocal 创建平台实例，slots为空表示不支持A/B
func NewLocal(slots []string, reboot RebootFunc) *Local {
	l := &Local{slots: slots, reboot: reboot}
	if len(slots) > 0 {
		l.active = slots[0]
	}
	return l
}

func (l *Local) Reboot(target fastboot.RebootTarget) error {
	l.mu.Lock()
	l.reboots = append(l.reboots, target)
	fn := l.reboot
	l.mu.Unlock()

	name := string(target)
	if name == "" {
		name = "system"
	}
	logger.Infof("[PLATFORM] 请求重启: %s", name)
	if fn == nil {
		return nil
	}
	return fn(target)
}

// Reboots 返回已请求的重启目标
func (l *Local) Reboots() []fastboot.RebootTarget {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]fastboot.RebootTarget(nil), l.reboots...)
}

func (l *Local) ActiveSlot() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Local) SlotCount() int {
	return len(l.slots)
}

func (l *Local) SetActiveSlot(slot string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.slots {
		if s == slot {
			logger.Infof("[PLATFORM] 当前槽位 %s -> %s", l.active, slot)
			l.active = slot
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownSlot, slot)
}
