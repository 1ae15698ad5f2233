package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu   sync.RWMutex
	log  *logrus.Logger
	file *lumberjack.Logger
)

// Config 日志配置
type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	Format     string `mapstructure:"format" json:"format"`
	Output     string `mapstructure:"output" json:"output"`
	FilePath   string `mapstructure:"file_path" json:"file_path"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" json:"max_age"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

// Init 初始化日志，可重复调用以应用新配置（配置热更新）。
// 重复调用时原地修改同一个 Logger，已创建的 Entry 同样使用新的级别与输出。
func Init(config Config) error {
	next, nextFile, err := build(config)
	if err != nil {
		return err
	}
	l := GetLogger()
	l.SetLevel(next.GetLevel())
	l.SetFormatter(next.Formatter)
	l.SetOutput(next.Out)

	mu.Lock()
	prev := file
	file = nextFile
	mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

func build(config Config) (*logrus.Logger, *lumberjack.Logger, error) {
	l := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if config.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat:   "2006-01-02 15:04:05",
			DisableHTMLEscape: true, // 设备提示符中常见 <> 字符
		})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	var (
		writers []io.Writer
		lj      *lumberjack.Logger
	)
	switch config.Output {
	case "console", "both", "":
		writers = append(writers, os.Stdout)
	}
	if config.Output == "file" || config.Output == "both" {
		if config.FilePath == "" {
			return nil, nil, fmt.Errorf("log file path is required for output %q", config.Output)
		}
		if err := os.MkdirAll(filepath.Dir(config.FilePath), 0755); err != nil {
			return nil, nil, err
		}
		lj = &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		writers = append(writers, lj)
	}
	l.SetOutput(io.MultiWriter(writers...))
	return l, lj, nil
}

// GetLogger 获取日志实例
func GetLogger() *logrus.Logger {
	mu.RLock()
	l := log
	mu.RUnlock()
	if l != nil {
		return l
	}
	mu.Lock()
	defer mu.Unlock()
	if log == nil {
		log = logrus.New()
	}
	return log
}

// SetLevel 仅调整日志级别
func SetLevel(level string) error {
	lv, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	GetLogger().SetLevel(lv)
	return nil
}

// ForDevice 返回带设备字段的日志条目
func ForDevice(device, host string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"device": device,
		"host":   host,
	})
}

func Debugf(format string, args ...interface{}) {
	GetLogger().Debugf(format, args...)
}

func Infof(format string, args ...interface{}) {
	GetLogger().Infof(format, args...)
}

func Warnf(format string, args ...interface{}) {
	GetLogger().Warnf(format, args...)
}

func Errorf(format string, args ...interface{}) {
	GetLogger().Errorf(format, args...)
}

// Fatalf 格式化致命错误日志
func Fatalf(format string, args ...interface{}) {
	GetLogger().Fatalf(format, args...)
}

// WithField 添加字段
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithFields 添加多个字段
func WithFields(fields logrus.Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}
