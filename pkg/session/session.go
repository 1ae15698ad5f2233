package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync/atomic"
	"time"

	"github.com/clinav/clinav/pkg/expect"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/sirupsen/logrus"
)

// State 会话生命周期状态
type State int32

const (
	Idle State = iota
	Connecting
	Connected
)

func (st State) String() string {
	switch st {
	case Idle:
		return "idle"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int32(st))
	}
}

// Device 会话绑定的设备参数
type Device struct {
	Name     string
	Host     string
	AltHost  string
	Username string
	Password string

	Protocol expect.Protocol
	Backend  expect.Backend
	TSPort   int
	SSHPort  int
	X11      bool

	Charset      string
	LineEnding   string
	Probe        bool
	ProbeTimeout time.Duration
	DialTimeout  time.Duration

	// SystemHostname 通用提示符回退成功后设置的主机名
	SystemHostname string
}

// Session 单个交互式 CLI 会话。
// 非并发安全，调用方需要串行访问（State/IsAlive 除外）。
type Session struct {
	dev      Device
	log      *logrus.Entry
	dial     expect.Dialer
	sink     DebugSink
	recorder Recorder
	sleep    func(ctx context.Context, d time.Duration) error

	commandTimeout time.Duration
	loginRetries   int
	errorScanLines int
	fallback       *Prompt

	state      atomic.Int32
	tr         expect.Transport
	transcript io.WriteCloser

	prompts   PromptSet
	handlers  []handler
	patterns  []*regexp.Regexp
	promptRes []*regexp.Regexp

	lastCommand   string
	loginAttempts int
}

// New 创建处于 Idle 状态的会话
func New(dev Device, prompts PromptSet, opts ...Option) (*Session, error) {
	s := &Session{
		dev:            dev,
		dial:           expect.DefaultDialer,
		sleep:          sleepContext,
		commandTimeout: DefaultCommandTimeout,
		loginRetries:   DefaultLoginTimeoutRetries,
		errorScanLines: DefaultErrorScanLines,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = logger.ForDevice(dev.Name, dev.Host)
	}
	if dev.Host == "" {
		return nil, s.newError(KindConnection, "", "host is required", nil)
	}
	if err := s.SetPrompt(prompts); err != nil {
		return nil, err
	}
	return s, nil
}

// Name 设备名
func (s *Session) Name() string { return s.dev.Name }

// Host 当前连接的主机（备用管理卡切换后会变化）
func (s *Session) Host() string { return s.dev.Host }

// State 当前生命周期状态
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// IsAlive 是否已连接且持有传输
func (s *Session) IsAlive() bool { return s.State() == Connected && s.tr != nil }

// LastCommand 最近一次发送的命令
func (s *Session) LastCommand() string { return s.lastCommand }

// Prompts 当前提示符集合的副本
func (s *Session) Prompts() PromptSet { return s.prompts.Clone() }

// Patterns 当前事件表中注册的正则
func (s *Session) Patterns() []string {
	out := make([]string, len(s.patterns))
	for i, re := range s.patterns {
		out[i] = re.String()
	}
	return out
}

// SetPrompt 替换提示符集合并重建事件表
func (s *Session) SetPrompt(prompts PromptSet) error {
	if len(prompts) == 0 {
		return s.newError(KindOutput, "", "prompt set must not be empty", nil)
	}
	if _, err := prompts.Compile(); err != nil {
		return s.newError(KindOutput, "", "malformed prompt", err)
	}
	s.prompts = prompts.Clone()
	return s.rebuildHandlers()
}

// AddPrompt 追加提示符
func (s *Session) AddPrompt(prompts ...Prompt) error {
	return s.SetPrompt(append(s.prompts.Clone(), prompts...))
}

// ClearPrompt 清空提示符，仅在切换提示符的过渡期使用
func (s *Session) ClearPrompt() {
	s.prompts = nil
	_ = s.rebuildHandlers()
}

// Connect 建立连接并完成登录握手
func (s *Session) Connect(ctx context.Context, timeout time.Duration) error {
	if st := s.State(); st != Idle {
		return s.newError(KindProtocolState, "connect", "connect requires idle session", nil)
	}

	err := s.connectWithFallback(ctx, timeout)
	if err != nil && errors.Is(err, ErrStandbyPeer) && s.dev.AltHost != "" {
		prev := s.dev.Host
		s.dev.Host, s.dev.AltHost = s.dev.AltHost, s.dev.Host
		s.log = s.log.WithField("host", s.dev.Host)
		s.log.WithField("standby", prev).Warn("standby management card, switching to alternate host")
		s.event(EventAltHost, prev+" -> "+s.dev.Host)
		err = s.connectWithFallback(ctx, timeout)
	}
	return err
}

func (s *Session) connectWithFallback(ctx context.Context, timeout time.Duration) error {
	err := s.handshake(ctx, timeout)
	if err == nil || s.fallback == nil || !fallbackEligible(err) {
		return err
	}

	original := s.prompts.Clone()
	if err := s.SetPrompt(append(original.Clone(), *s.fallback)); err != nil {
		return err
	}
	s.log.WithError(err).Warnf("login failed, retrying with generic prompt %s", s.fallback)
	s.event(EventFallback, err.Error())

	if err2 := s.handshake(ctx, timeout); err2 != nil {
		_ = s.SetPrompt(original)
		return s.newError(KindConnection, "connect", "generic prompt fallback failed", err2)
	}
	return s.renameHost(ctx, original)
}

// fallbackEligible 备用卡、认证失败与不可达不会因为换提示符而成功
func fallbackEligible(err error) bool {
	if errors.Is(err, ErrStandbyPeer) || errors.Is(err, ErrCredentials) || errors.Is(err, expect.ErrUnreachable) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrConnection) || errors.Is(err, ErrTimeout)
}

// renameHost 首次启动的设备主机名未配置，设置后恢复原提示符
func (s *Session) renameHost(ctx context.Context, original PromptSet) error {
	if s.dev.SystemHostname == "" {
		s.log.Warn("generic prompt matched but no system hostname configured")
		return s.SetPrompt(original)
	}
	if err := s.SetPrompt(Literals("(config)#")); err != nil {
		return err
	}
	for _, cmd := range []string{"config", "system hostname " + s.dev.SystemHostname} {
		if _, err := s.RunCommand(ctx, cmd); err != nil {
			_ = s.SetPrompt(original)
			return err
		}
	}
	if err := s.SetPrompt(original); err != nil {
		return err
	}
	_, err := s.RunCommand(ctx, "exit")
	return err
}

// handshake 打开传输并等待提示符，失败时回到 Idle
func (s *Session) handshake(ctx context.Context, timeout time.Duration) error {
	s.setState(Connecting)
	s.loginAttempts = 0
	s.lastCommand = ""
	s.openTranscript()

	tr, err := s.dial(ctx, s.target(), s.transcript)
	if err != nil {
		s.dropConnection()
		return s.newError(KindConnection, "connect", "failed to open transport", err)
	}
	s.tr = tr
	if err := s.rebuildHandlers(); err != nil {
		s.dropConnection()
		return err
	}
	s.log.Debug("waiting for login handshake")

	if _, err := s.waitFor(ctx, timeout); err != nil {
		s.dropConnection()
		if KindOf(err) == KindConnection {
			return err
		}
		return s.newError(KindConnection, "connect", "login handshake failed", err)
	}

	s.setState(Connected)
	s.loginAttempts = 0
	if err := s.rebuildHandlers(); err != nil {
		s.dropConnection()
		return err
	}
	s.log.Info("connected")
	s.event(EventConnect, "")
	return nil
}

func (s *Session) target() expect.Target {
	return expect.Target{
		Host:         s.dev.Host,
		Username:     s.dev.Username,
		Password:     s.dev.Password,
		Protocol:     s.dev.Protocol,
		Backend:      s.dev.Backend,
		TSPort:       s.dev.TSPort,
		SSHPort:      s.dev.SSHPort,
		X11:          s.dev.X11,
		Charset:      s.dev.Charset,
		LineEnding:   s.dev.LineEnding,
		Probe:        s.dev.Probe,
		ProbeTimeout: s.dev.ProbeTimeout,
		DialTimeout:  s.dev.DialTimeout,
	}
}

// waitFor 等待直到某个处理器返回 done，返回命中前累积的输出
func (s *Session) waitFor(ctx context.Context, timeout time.Duration) (string, error) {
	var before strings.Builder
	for {
		if s.tr == nil {
			return "", s.newError(KindConnection, s.lastCommand, "no live transport", nil)
		}
		m, err := s.tr.Expect(ctx, s.patterns, timeout)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return "", s.cancelled(ctxErr)
			}
			if _, herr := s.dispatchError(err); herr != nil {
				return "", herr
			}
			continue
		}

		h := s.handlers[m.Index]
		done, err := h.fn(ctx, m)
		if err != nil {
			return "", err
		}
		if done {
			before.WriteString(m.Before)
			return before.String(), nil
		}
		before.WriteString(m.Before)
		before.WriteString(m.Text)
	}
}

// cancelled 等待被取消时未读完的输出仍留在流中，丢弃连接以免后续命令读到旧输出
func (s *Session) cancelled(ctxErr error) error {
	if s.State() != Connected {
		return s.newError(KindConnection, "connect", "login cancelled", ctxErr)
	}
	err := s.newError(KindTimeout, s.lastCommand, "command cancelled", ctxErr)
	s.log.WithField("command", s.lastCommand).WithError(ctxErr).Warn("command cancelled, dropping session")
	s.dropConnection()
	return err
}

// RunCommand 发送命令并等待提示符，返回去掉回显与尾部提示符后的输出
func (s *Session) RunCommand(ctx context.Context, command string, opts ...RunOption) (string, error) {
	ro := s.runOptions(opts)
	if s.State() != Connected {
		return "", s.newError(KindProtocolState, command, "command requires a connected session", nil)
	}
	if strings.TrimSpace(command) == "" {
		return "", s.newError(KindOutput, command, "empty command", nil)
	}

	start := time.Now()
	out, err := s.runCommand(ctx, command, ro)
	if s.recorder != nil {
		s.recorder.RecordCommand(CommandResult{
			Device:   s.dev.Name,
			Host:     s.dev.Host,
			Command:  command,
			Output:   out,
			Err:      err,
			Start:    start,
			Duration: time.Since(start),
		})
	}
	return out, err
}

func (s *Session) runCommand(ctx context.Context, command string, ro runOptions) (string, error) {
	if len(ro.prompts) > 0 {
		saved := s.prompts.Clone()
		if err := s.SetPrompt(ro.prompts); err != nil {
			return "", err
		}
		defer func() {
			s.prompts = saved
			if s.tr != nil {
				_ = s.rebuildHandlers()
			}
		}()
	}

	s.lastCommand = command
	if err := s.send(command); err != nil {
		return "", err
	}
	if ro.noWait {
		return "", s.sleep(ctx, ro.timeout)
	}

	before, err := s.waitFor(ctx, ro.timeout)
	if err != nil {
		return "", err
	}
	out := stripOutput(before, command, s.promptRes)
	logger.DebugOutput(s.log, command, out, 5)
	return out, nil
}

// ExecuteCommand 执行命令并扫描输出开头的厂商错误特征
func (s *Session) ExecuteCommand(ctx context.Context, command string, opts ...RunOption) (string, error) {
	if s.State() != Connected {
		return "", s.newError(KindProtocolState, command, "command requires a connected session", nil)
	}
	out, err := s.RunCommand(ctx, command, opts...)
	if err != nil {
		return out, err
	}
	if s.runOptions(opts).skipErrors {
		return out, nil
	}
	if sig := scanErrors(out, s.errorScanLines); sig != "" {
		return out, s.newError(KindOutput, command, "command failed: "+sig, nil)
	}
	return out, nil
}

// Flush 读取并丢弃积压输出，用于命令与提示符失步后的恢复
func (s *Session) Flush(timeout time.Duration) (string, error) {
	if s.tr == nil {
		return "", s.newError(KindConnection, "flush", "no live transport", nil)
	}
	out, err := s.tr.ReadAvailable(timeout)
	if err != nil && errors.Is(err, expect.ErrEOF) {
		s.dropConnection()
		return out, s.newError(KindEndOfStream, "flush", "remote closed the session", err)
	}
	return out, err
}

// Reconnect 注销（容忍错误）后重新握手，最多 attempts 次，两次之间等待 sleep
func (s *Session) Reconnect(ctx context.Context, attempts int, sleep, timeout time.Duration) error {
	if s.tr != nil {
		if err := s.Logout(); err != nil {
			s.log.WithError(err).Warn("logout before reconnect failed")
		}
	}
	s.dropConnection()
	if attempts < 1 {
		attempts = 1
	}

	var last error
	for i := 1; i <= attempts; i++ {
		if i > 1 {
			if err := s.sleep(ctx, sleep); err != nil {
				return s.newError(KindConnection, "reconnect", "reconnect interrupted", err)
			}
		}
		if last = s.handshake(ctx, timeout); last == nil {
			s.event(EventReconnect, fmt.Sprintf("attempt %d", i))
			return nil
		}
		s.log.WithError(last).WithField("attempt", i).Warn("reconnect attempt failed")
	}
	return s.newError(KindConnection, "reconnect",
		fmt.Sprintf("unable to reconnect after %d attempts", attempts), last)
}

// Logout 关闭传输并回到 Idle
func (s *Session) Logout() error {
	if s.State() != Connected {
		s.log.WithField("state", s.State()).Warn("logout called on a session that is not connected")
	}
	if s.tr == nil {
		return s.newError(KindConnection, "logout", "no live transport", nil)
	}
	s.dropConnection()
	s.log.Info("logged out")
	s.event(EventLogout, "")
	return nil
}

// dropConnection 释放传输与会话记录，清空事件表
func (s *Session) dropConnection() {
	if s.tr != nil {
		if err := s.tr.Close(); err != nil {
			s.log.WithError(err).Debug("close transport")
		}
		s.tr = nil
	}
	if s.transcript != nil {
		if err := s.transcript.Close(); err != nil {
			s.log.WithError(err).Warn("close transcript")
		}
		s.transcript = nil
	}
	s.setState(Idle)
	s.handlers = nil
	s.patterns = nil
}

func (s *Session) openTranscript() {
	if s.sink == nil || s.transcript != nil {
		return
	}
	name := s.dev.Name
	if name == "" {
		name = s.dev.Host
	}
	w, err := s.sink.Open(name)
	if err != nil {
		s.log.WithError(err).Warn("failed to open transcript")
		return
	}
	s.transcript = w
}

func (s *Session) event(event, detail string) {
	if s.recorder != nil {
		s.recorder.RecordEvent(s.dev.Name, s.dev.Host, event, detail)
	}
}

func (s *Session) runOptions(opts []RunOption) runOptions {
	ro := runOptions{timeout: s.commandTimeout}
	for _, opt := range opts {
		opt(&ro)
	}
	return ro
}

func (s *Session) newError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Host: s.dev.Host, Op: op, State: s.State(), Msg: msg, Err: err}
}
