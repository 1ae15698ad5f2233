package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// TranscriptConfig 会话原始收发记录配置
type TranscriptConfig struct {
	Enabled    bool   `mapstructure:"enabled" json:"enabled"`
	Dir        string `mapstructure:"dir" json:"dir"`
	MaxSize    int    `mapstructure:"max_size" json:"max_size"`
	MaxBackups int    `mapstructure:"max_backups" json:"max_backups"`
	Compress   bool   `mapstructure:"compress" json:"compress"`
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// TranscriptSink 每次连接打开一个 <dir>/<name>_<时间>.log 文件
type TranscriptSink struct {
	config  TranscriptConfig
	onClose func(name, path string)
	now     func() time.Time
}

// NewTranscriptSink 创建记录器，onClose 在文件关闭后调用一次（可为 nil）
func NewTranscriptSink(config TranscriptConfig, onClose func(name, path string)) (*TranscriptSink, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("transcript dir is required")
	}
	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create transcript dir: %w", err)
	}
	return &TranscriptSink{config: config, onClose: onClose, now: time.Now}, nil
}

// Open 为设备打开新的记录文件
func (s *TranscriptSink) Open(name string) (io.WriteCloser, error) {
	file := fmt.Sprintf("%s_%s.log", unsafeName.ReplaceAllString(name, "_"), s.now().Format("20060102_150405.000"))
	path := filepath.Join(s.config.Dir, file)
	t := &Transcript{
		name: name,
		path: path,
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    s.config.MaxSize,
			MaxBackups: s.config.MaxBackups,
			Compress:   s.config.Compress,
		},
		onClose: s.onClose,
	}
	Debugf("transcript opened: device=%s path=%s", name, path)
	return t, nil
}

// Transcript 一个打开的记录文件
type Transcript struct {
	name    string
	path    string
	w       *lumberjack.Logger
	onClose func(name, path string)
	once    sync.Once
}

// Path 文件路径
func (t *Transcript) Path() string { return t.path }

func (t *Transcript) Write(p []byte) (int, error) { return t.w.Write(p) }

// Close 关闭文件并触发归档回调，重复调用无副作用。未写入过内容时不触发回调。
func (t *Transcript) Close() error {
	var err error
	t.once.Do(func() {
		err = t.w.Close()
		if _, serr := os.Stat(t.path); serr != nil {
			return
		}
		if t.onClose != nil {
			t.onClose(t.name, t.path)
		}
	})
	return err
}
