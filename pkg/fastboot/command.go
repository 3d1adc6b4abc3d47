package fastboot

import (
	"fmt"
	"strconv"
	"strings"
)

// Command 一条已解析的命令
type Command struct {
	Verb string
	Arg  string
}

func (c Command) String() string {
	if c.Arg == "" {
		return c.Verb
	}
	return c.Verb + ":" + c.Arg
}

// ParseCommand 在第一个分隔符处拆分命令行。
// 分隔符为':'，或oem风格命令中的空格（"oem unlock"），以先出现者为准。
func ParseCommand(line string) Command {
	i := strings.IndexAny(line, ": ")
	if i < 0 {
		return Command{Verb: line}
	}
	return Command{Verb: line[:i], Arg: line[i+1:]}
}

// parseHexSize 解析1到8位十六进制长度
func parseHexSize(s string) (uint32, error) {
	if s == "" || len(s) > maxSizeDigits {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return uint32(v), nil
}

// parseHexOffset 解析fetch的偏移和长度，允许0x前缀
func parseHexOffset(s string) (int64, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 63)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, s)
	}
	return int64(v), nil
}
