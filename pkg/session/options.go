package session

import (
	"context"
	"io"
	"time"

	"github.com/clinav/clinav/pkg/expect"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCommandTimeout      = 60 * time.Second
	DefaultLoginTimeoutRetries = 3
	DefaultErrorScanLines      = 4
)

// DebugSink 为每次连接提供一个会话记录输出
type DebugSink interface {
	Open(name string) (io.WriteCloser, error)
}

// CommandResult 一次命令执行的结果，交给 Recorder 持久化
type CommandResult struct {
	Device   string
	Host     string
	Command  string
	Output   string
	Err      error
	Start    time.Time
	Duration time.Duration
}

// Recorder 接收命令与生命周期事件
type Recorder interface {
	RecordCommand(res CommandResult)
	RecordEvent(device, host, event, detail string)
}

// 生命周期事件名
const (
	EventConnect   = "connect"
	EventLogout    = "logout"
	EventReconnect = "reconnect"
	EventFallback  = "fallback"
	EventAltHost   = "alt_host"
)

// Option 会话构造选项
type Option func(*Session)

// WithDialer 替换传输拨号器
func WithDialer(d expect.Dialer) Option {
	return func(s *Session) { s.dial = d }
}

// WithDebugSink 设置会话记录输出
func WithDebugSink(sink DebugSink) Option {
	return func(s *Session) { s.sink = sink }
}

// WithRecorder 设置历史记录器
func WithRecorder(r Recorder) Option {
	return func(s *Session) { s.recorder = r }
}

// WithSleep 替换等待函数
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Session) { s.sleep = fn }
}

// WithLogger 设置日志条目
func WithLogger(entry *logrus.Entry) Option {
	return func(s *Session) { s.log = entry }
}

// WithCommandTimeout 命令默认超时
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.commandTimeout = d
		}
	}
}

// WithLoginTimeoutRetries 登录阶段允许的超时次数
func WithLoginTimeoutRetries(n int) Option {
	return func(s *Session) {
		if n >= 0 {
			s.loginRetries = n
		}
	}
}

// WithErrorScanLines 错误特征扫描的行数
func WithErrorScanLines(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.errorScanLines = n
		}
	}
}

// WithFallbackPrompt 首次登录失败时追加的通用提示符
func WithFallbackPrompt(p Prompt) Option {
	return func(s *Session) { s.fallback = &p }
}

// RunOption 单次命令选项
type RunOption func(*runOptions)

type runOptions struct {
	prompts    PromptSet
	timeout    time.Duration
	noWait     bool
	skipErrors bool
}

// WithPromptOverride 仅对本次命令使用指定提示符
func WithPromptOverride(prompts ...Prompt) RunOption {
	return func(o *runOptions) { o.prompts = prompts }
}

// WithTimeout 本次命令超时
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithoutPrompt 发送后等待 timeout 即返回，不等待提示符
func WithoutPrompt() RunOption {
	return func(o *runOptions) { o.noWait = true }
}

// WithoutErrorCheck ExecuteCommand 跳过错误特征扫描
func WithoutErrorCheck() RunOption {
	return func(o *runOptions) { o.skipErrors = true }
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
