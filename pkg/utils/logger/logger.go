package logger

import (
	"io"
	"os"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level = zapcore.Level

type Field = zap.Field

const (
	DebugLevel = zapcore.DebugLevel
	InfoLevel  = zapcore.InfoLevel
	WarnLevel  = zapcore.WarnLevel
	ErrorLevel = zapcore.ErrorLevel
	FatalLevel = zapcore.FatalLevel
)

// Logger zap日志封装，持有可动态调整的日志级别
type Logger struct {
	l     *zap.Logger
	s     *zap.SugaredLogger
	level zap.AtomicLevel
}

var (
	std = New(os.Stderr, InfoLevel)
	mu  sync.RWMutex
)

// New 创建日志实例
// 参数：
//   - out：日志输出目标
//   - level：初始日志级别
func New(out io.Writer, level Level) *Logger {
	if out == nil {
		out = os.Stderr
	}
	atomicLevel := zap.NewAtomicLevelAt(level)

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(cfg),
		zapcore.AddSync(out),
		atomicLevel,
	)
	l := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	return &Logger{l: l, s: l.Sugar(), level: atomicLevel}
}

// NewProductionRotateByTime 按时间切割的日志输出（每天一个文件，保留7天）
func NewProductionRotateByTime(filename string) io.Writer {
	w, err := rotatelogs.New(
		filename+".%Y%m%d",
		rotatelogs.WithLinkName(filename),
		rotatelogs.WithMaxAge(7*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
	)
	if err != nil {
		// 切割器创建失败时退化为普通追加文件
		f, ferr := os.OpenFile(filename, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if ferr != nil {
			return os.Stderr
		}
		return f
	}
	return w
}

// NewProductionRotateBySize 按大小切割的日志输出
func NewProductionRotateBySize(filename string) io.Writer {
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    100, // MB
		MaxBackups: 5,
		MaxAge:     30, // 天
		Compress:   true,
	}
}

// ReplaceDefault 替换默认日志实例
func ReplaceDefault(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	std = l
	mu.Unlock()
}

// Default 返回默认日志实例
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return std
}

// SetLevel 设置默认日志实例的级别
func SetLevel(level Level) {
	Default().level.SetLevel(level)
}

// ParseLevel 将配置中的级别字符串转换为Level，无法识别时返回InfoLevel
func ParseLevel(s string) Level {
	switch s {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

// Sync 刷新缓冲的日志
func Sync() error {
	return Default().l.Sync()
}

// GetError 构造错误字段
func GetError(err error) Field {
	return zap.Error(err)
}

// String 构造字符串字段
func String(key, val string) Field {
	return zap.String(key, val)
}

// Int 构造整数字段
func Int(key string, val int) Field {
	return zap.Int(key, val)
}

// With 返回附带固定字段的子日志实例
func (l *Logger) With(fields ...Field) *Logger {
	child := l.l.With(fields...)
	return &Logger{l: child, s: child.Sugar(), level: l.level}
}

func (l *Logger) Debug(msg string, fields ...Field) { l.l.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.l.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.l.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.l.Error(msg, fields...) }

func (l *Logger) Debugf(template string, args ...interface{}) { l.s.Debugf(template, args...) }
func (l *Logger) Infof(template string, args ...interface{})  { l.s.Infof(template, args...) }
func (l *Logger) Warnf(template string, args ...interface{})  { l.s.Warnf(template, args...) }
func (l *Logger) Errorf(template string, args ...interface{}) { l.s.Errorf(template, args...) }

func Debug(msg string, fields ...Field) { Default().l.Debug(msg, fields...) }
func Info(msg string, fields ...Field)  { Default().l.Info(msg, fields...) }
func Warn(msg string, fields ...Field)  { Default().l.Warn(msg, fields...) }
func Error(msg string, fields ...Field) { Default().l.Error(msg, fields...) }

func Debugf(template string, args ...interface{}) { Default().s.Debugf(template, args...) }
func Infof(template string, args ...interface{})  { Default().s.Infof(template, args...) }
func Warnf(template string, args ...interface{})  { Default().s.Warnf(template, args...) }
func Errorf(template string, args ...interface{}) { Default().s.Errorf(template, args...) }
func Fatalf(template string, args ...interface{}) { Default().s.Fatalf(template, args...) }
