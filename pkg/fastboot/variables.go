package fastboot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// variable 返回getvar的值，arg为名字后的参数（如has-slot:boot中的boot）
type variable struct {
	get       func(d *Device, arg string) (string, error)
	partition bool // 需要分区参数，all时对每个分区展开
	slotBase  bool // all时使用去掉槽位后缀的分区名
}

var variables = map[string]variable{
	"version": {get: func(d *Device, _ string) (string, error) {
		return ProtocolVersion, nil
	}},
	"version-bootloader": {get: func(d *Device, _ string) (string, error) {
		return d.cfg.VersionBootloader, nil
	}},
	"product": {get: func(d *Device, _ string) (string, error) {
		return d.cfg.Product, nil
	}},
	"serialno": {get: func(d *Device, _ string) (string, error) {
		return d.cfg.SerialNo, nil
	}},
	"max-download-size": {get: func(d *Device, _ string) (string, error) {
		return fmt.Sprintf("0x%08x", d.cfg.MaxDownloadSize), nil
	}},
	"is-userspace": {get: func(d *Device, _ string) (string, error) {
		return yesNo(d.cfg.IsUserspace), nil
	}},
	"current-slot": {get: func(d *Device, _ string) (string, error) {
		if d.platform == nil || d.platform.SlotCount() == 0 {
			return "", fmt.Errorf("device does not support slots")
		}
		return strings.TrimPrefix(d.platform.ActiveSlot(), "_"), nil
	}},
	"slot-count": {get: func(d *Device, _ string) (string, error) {
		if d.platform == nil {
			return "0", nil
		}
		return strconv.Itoa(d.platform.SlotCount()), nil
	}},
	"has-slot": {partition: true, slotBase: true, get: func(d *Device, arg string) (string, error) {
		if arg == "" {
			return "", fmt.Errorf("missing partition")
		}
		return yesNo(d.store.Has(arg+"_a") || d.store.Has(arg+"_b")), nil
	}},
	"partition-size": {partition: true, get: func(d *Device, arg string) (string, error) {
		name, ok := d.resolvePartition(arg)
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrNoPartition, arg)
		}
		size, err := d.store.Size(name)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%016x", size), nil
	}},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func getVarHandler(s *Session, arg string) Response {
	if arg == "all" {
		return getVarAll(s)
	}
	name, sub, _ := strings.Cut(arg, ":")
	v, ok := variables[name]
	if !ok {
		return Failf("unknown variable %s", name)
	}
	value, err := v.get(s.dev, sub)
	if err != nil {
		return Failf("%v", err)
	}
	return Okay(value)
}

// getVarAll 每个变量一行INFO，最后OKAY
func getVarAll(s *Session) Response {
	names := make([]string, 0, len(variables))
	for name := range variables {
		names = append(names, name)
	}
	sort.Strings(names)

	partitions := s.dev.store.List()
	sort.Strings(partitions)
	bases := baseNames(partitions)

	for _, name := range names {
		v := variables[name]
		if !v.partition {
			value, err := v.get(s.dev, "")
			if err != nil {
				continue
			}
			if s.WriteInfo(name+":"+value) != nil {
				return Response{}
			}
			continue
		}
		targets := partitions
		if v.slotBase {
			targets = bases
		}
		for _, p := range targets {
			value, err := v.get(s.dev, p)
			if err != nil {
				continue
			}
			if s.WriteInfo(name+":"+p+":"+value) != nil {
				return Response{}
			}
		}
	}
	return Okay("")
}

// baseNames 去掉_a/_b后缀并去重，保持有序
func baseNames(partitions []string) []string {
	var bases []string
	seen := make(map[string]bool)
	for _, p := range partitions {
		base := strings.TrimSuffix(strings.TrimSuffix(p, "_a"), "_b")
		if !seen[base] {
			seen[base] = true
			bases = append(bases, base)
		}
	}
	return bases
}
