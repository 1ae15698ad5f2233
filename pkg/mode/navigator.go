package mode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/pkg/session"
	"github.com/sirupsen/logrus"
)

// Conn 导航器驱动的会话能力，*session.Session 实现了它
type Conn interface {
	Host() string
	State() session.State
	IsAlive() bool
	Prompts() session.PromptSet
	SetPrompt(prompts session.PromptSet) error
	RunCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error)
	ExecuteCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error)
	Reconnect(ctx context.Context, attempts int, sleep, timeout time.Duration) error
}

// LinuxMode 卡间 telnet 只能从该模式发起
const LinuxMode = "linux"

// Card 机箱内的一个 CPU
type Card struct {
	Slot int `json:"slot"`
	CPU  int `json:"cpu"`
}

func (c Card) String() string { return fmt.Sprintf("card%d-cpu%d", c.Slot, c.CPU) }

// Prompt 登录到该 CPU 后的 linux 提示符
func (c Card) Prompt() session.Prompt { return session.Literal(":" + c.String() + "#") }

// frame 栈帧：模式帧或卡帧，均保存进入前的提示符
type frame struct {
	mode  string
	arg   string
	card  *Card
	saved session.PromptSet
}

// Navigator 在会话之上维护当前模式
type Navigator struct {
	conn  Conn
	graph *Graph
	log   *logrus.Entry

	base  session.PromptSet // 登录时的提示符
	root  session.PromptSet // 根模式当前提示符（提权后会变化）
	stack []frame

	recoverAttempts int
	recoverSleep    time.Duration
	recoverTimeout  time.Duration
}

// Option 导航器选项
type Option func(*Navigator)

// WithRecovery 命令超时或会话结束时自动重连 attempts 次
func WithRecovery(attempts int, sleep, timeout time.Duration) Option {
	return func(n *Navigator) {
		n.recoverAttempts = attempts
		n.recoverSleep = sleep
		n.recoverTimeout = timeout
	}
}

// WithLogger 设置日志条目
func WithLogger(entry *logrus.Entry) Option {
	return func(n *Navigator) { n.log = entry }
}

// New 创建位于根模式的导航器，以会话当前提示符作为根提示符
func New(conn Conn, g *Graph, opts ...Option) *Navigator {
	n := &Navigator{
		conn:  conn,
		graph: g,
		base:  conn.Prompts(),
	}
	n.root = n.base.Clone()
	for _, opt := range opts {
		opt(n)
	}
	if n.log == nil {
		n.log = logger.WithField("host", conn.Host())
	}
	n.log = n.log.WithField("family", g.Family)
	return n
}

// Graph 模式图
func (n *Navigator) Graph() *Graph { return n.graph }

// Conn 底层会话
func (n *Navigator) Conn() Conn { return n.conn }

// Current 当前所在模式（卡帧不改变模式）
func (n *Navigator) Current() string {
	for i := len(n.stack) - 1; i >= 0; i-- {
		if n.stack[i].card == nil {
			return n.stack[i].mode
		}
	}
	return n.graph.Root
}

// Stack 当前模式链，从根的下一层开始
func (n *Navigator) Stack() []string {
	out := make([]string, 0, len(n.stack))
	for _, f := range n.stack {
		if f.card != nil {
			out = append(out, f.card.String())
		} else {
			out = append(out, f.mode)
		}
	}
	return out
}

// Cards 当前卡间 telnet 栈，栈底在前
func (n *Navigator) Cards() []Card {
	var cards []Card
	for _, f := range n.stack {
		if f.card != nil {
			cards = append(cards, *f.card)
		}
	}
	return cards
}

// Enter 从父模式进入 mode。前置条件不满足时不会发送任何命令。
func (n *Navigator) Enter(ctx context.Context, mode, arg string) (string, error) {
	spec, err := n.checkEnter(mode, arg)
	if err != nil {
		return "", err
	}

	saved := n.conn.Prompts()
	if err := n.conn.SetPrompt(spec.Prompts(arg)); err != nil {
		return "", err
	}
	out, err := n.send(ctx, spec.Command(arg), spec.CheckErrors)
	if err != nil {
		n.restore(saved)
		return out, err
	}
	n.stack = append(n.stack, frame{mode: mode, arg: arg, saved: saved})
	n.log.WithField("mode", mode).Debug("entered mode")
	return out, nil
}

// Assume 记录已处于 mode（例如登录后直接落在 shell），不发送命令
func (n *Navigator) Assume(mode, arg string) error {
	spec, err := n.checkEnter(mode, arg)
	if err != nil {
		return err
	}
	saved := n.conn.Prompts()
	if err := n.conn.SetPrompt(spec.Prompts(arg)); err != nil {
		return err
	}
	n.stack = append(n.stack, frame{mode: mode, arg: arg, saved: saved})
	return nil
}

func (n *Navigator) checkEnter(mode, arg string) (Spec, error) {
	spec, ok := n.graph.Lookup(mode)
	if !ok {
		return Spec{}, n.stateError(mode, fmt.Sprintf("unknown mode for family %s", n.graph.Family))
	}
	if cur := n.Current(); cur != spec.Parent {
		return Spec{}, n.stateError(mode,
			fmt.Sprintf("cannot enter %s from %s, expected %s", mode, cur, spec.Parent))
	}
	if spec.RequiresArg && arg == "" {
		return Spec{}, session.NewError(session.KindOutput, n.conn.Host(), mode, n.conn.State(),
			fmt.Sprintf("mode %s requires an argument", mode), nil)
	}
	return spec, nil
}

// Exit 退出位于栈顶的 mode，恢复进入前的提示符
func (n *Navigator) Exit(ctx context.Context, mode string) (string, error) {
	top, ok := n.top()
	if !ok || top.card != nil || top.mode != mode {
		return "", n.stateError(mode,
			fmt.Sprintf("cannot exit %s while in %s", mode, n.describeTop()))
	}
	spec, _ := n.graph.Lookup(mode)

	if err := n.conn.SetPrompt(top.saved); err != nil {
		return "", err
	}
	var (
		out string
		err error
	)
	if spec.ExitNoWait {
		out, err = n.conn.RunCommand(ctx, spec.exitCommand(),
			session.WithoutPrompt(), session.WithTimeout(spec.ExitSettle))
	} else {
		out, err = n.send(ctx, spec.exitCommand(), spec.CheckErrors)
	}
	if err != nil {
		if n.conn.IsAlive() {
			_ = n.conn.SetPrompt(spec.Prompts(top.arg))
		} else {
			n.reset()
		}
		return out, err
	}
	n.stack = n.stack[:len(n.stack)-1]
	n.log.WithField("mode", mode).Debug("left mode")
	return out, nil
}

// CLIMode 回到根模式
func (n *Navigator) CLIMode(ctx context.Context) error {
	if len(n.stack) == 0 {
		return nil
	}
	if n.graph.ReturnCommand != "" && len(n.Cards()) == 0 {
		saved := n.conn.Prompts()
		if err := n.conn.SetPrompt(n.stack[0].saved); err != nil {
			return err
		}
		if _, err := n.conn.RunCommand(ctx, n.graph.ReturnCommand); err != nil {
			n.restore(saved)
			return err
		}
		n.stack = nil
		return nil
	}
	for len(n.stack) > 0 {
		top := n.stack[len(n.stack)-1]
		var err error
		if top.card != nil {
			_, err = n.ExitTelnet(ctx)
		} else {
			_, err = n.Exit(ctx, top.mode)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// TelnetCard 从 linux 模式 telnet 到机箱内另一个 CPU
func (n *Navigator) TelnetCard(ctx context.Context, slot, cpu int, timeout time.Duration) (string, error) {
	card := Card{Slot: slot, CPU: cpu}
	if cur := n.Current(); cur != LinuxMode {
		return "", n.stateError(card.String(),
			fmt.Sprintf("cannot telnet to %s from %s, expected %s", card, cur, LinuxMode))
	}
	saved := n.conn.Prompts()
	if err := n.conn.SetPrompt(session.PromptSet{card.Prompt()}); err != nil {
		return "", err
	}
	n.log.WithFields(logrus.Fields{"slot": slot, "cpu": cpu}).Debug("telnet to card")
	out, err := n.conn.RunCommand(ctx, "telnet "+card.String(), session.WithTimeout(timeout))
	if err != nil {
		n.restore(saved)
		return out, err
	}
	n.stack = append(n.stack, frame{mode: LinuxMode, card: &card, saved: saved})
	return out, nil
}

// ExitTelnet 退出最内层的卡间 telnet
func (n *Navigator) ExitTelnet(ctx context.Context) (string, error) {
	top, ok := n.top()
	if !ok || top.card == nil {
		return "", n.stateError("exit telnet", "no card telnet is active, in "+n.describeTop())
	}
	if err := n.conn.SetPrompt(top.saved); err != nil {
		return "", err
	}
	n.log.WithField("card", top.card.String()).Info("exit telnet")
	out, err := n.conn.RunCommand(ctx, DefaultExitCommand)
	if err != nil {
		if n.conn.IsAlive() {
			_ = n.conn.SetPrompt(session.PromptSet{top.card.Prompt()})
		} else {
			n.reset()
		}
		return out, err
	}
	n.stack = n.stack[:len(n.stack)-1]
	return out, nil
}

// Reconnect 重置到根模式后重连，并执行族的重连动作
func (n *Navigator) Reconnect(ctx context.Context, attempts int, sleep, timeout time.Duration) error {
	n.stack = nil
	n.root = n.base.Clone()
	if err := n.conn.SetPrompt(n.base); err != nil {
		return err
	}
	if err := n.conn.Reconnect(ctx, attempts, sleep, timeout); err != nil {
		return err
	}
	if n.graph.ReconnectAction != "" {
		return n.Action(ctx, n.graph.ReconnectAction)
	}
	return nil
}

// Action 执行族的命名动作
func (n *Navigator) Action(ctx context.Context, name string) error {
	fn, ok := n.graph.Actions[name]
	if !ok {
		return n.stateError(name, fmt.Sprintf("unknown action for family %s", n.graph.Family))
	}
	return fn(ctx, n)
}

// SetRootPrompts 替换根模式提示符（提权等改变根提示符的动作使用）。
// 已在子模式中时只更新栈底保存的提示符，退回根模式后生效。
func (n *Navigator) SetRootPrompts(prompts session.PromptSet) error {
	if len(n.stack) == 0 {
		if err := n.conn.SetPrompt(prompts); err != nil {
			return err
		}
	} else {
		n.stack[0].saved = prompts.Clone()
	}
	n.root = prompts.Clone()
	return nil
}

// RootPrompts 根模式当前提示符
func (n *Navigator) RootPrompts() session.PromptSet { return n.root.Clone() }

// RunCommand 在当前模式执行命令，开启恢复时超时或断开会触发重连
func (n *Navigator) RunCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error) {
	out, err := n.conn.RunCommand(ctx, command, opts...)
	return out, n.recover(ctx, command, err)
}

// ExecuteCommand 同 RunCommand，并检查输出中的错误特征
func (n *Navigator) ExecuteCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error) {
	out, err := n.conn.ExecuteCommand(ctx, command, opts...)
	return out, n.recover(ctx, command, err)
}

func (n *Navigator) recover(ctx context.Context, command string, err error) error {
	if err == nil {
		return nil
	}
	if !n.conn.IsAlive() {
		n.reset()
	}
	if n.recoverAttempts <= 0 || ctx.Err() != nil ||
		!(errors.Is(err, session.ErrTimeout) || errors.Is(err, session.ErrEndOfStream)) {
		return err
	}

	n.log.WithError(err).WithField("command", command).Warn("command failed, reconnecting")
	msg := "session recovered after command failure"
	if rerr := n.Reconnect(ctx, n.recoverAttempts, n.recoverSleep, n.recoverTimeout); rerr != nil {
		n.log.WithError(rerr).Error("recovery failed")
		msg = "recovery failed: " + rerr.Error()
	}
	return session.NewError(session.KindConnection, n.conn.Host(), command, n.conn.State(), msg, err)
}

func (n *Navigator) send(ctx context.Context, command string, checkErrors bool) (string, error) {
	if checkErrors {
		return n.conn.ExecuteCommand(ctx, command)
	}
	return n.conn.RunCommand(ctx, command)
}

// restore 命令失败后恢复提示符；会话已断开时回到根
func (n *Navigator) restore(saved session.PromptSet) {
	if n.conn.IsAlive() {
		_ = n.conn.SetPrompt(saved)
		return
	}
	n.reset()
}

func (n *Navigator) reset() {
	n.stack = nil
	_ = n.conn.SetPrompt(n.base)
	n.root = n.base.Clone()
}

func (n *Navigator) top() (frame, bool) {
	if len(n.stack) == 0 {
		return frame{}, false
	}
	return n.stack[len(n.stack)-1], true
}

func (n *Navigator) describeTop() string {
	top, ok := n.top()
	switch {
	case !ok:
		return n.graph.Root
	case top.card != nil:
		return top.card.String()
	default:
		return top.mode
	}
}

func (n *Navigator) stateError(op, msg string) error {
	return session.NewError(session.KindProtocolState, n.conn.Host(), op, n.conn.State(), msg, nil)
}
