package session

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/clinav/clinav/pkg/expect"
)

// handlerFunc 返回 done=true 表示停止等待；故障通过 err 返回
type handlerFunc func(ctx context.Context, m *expect.Match) (done bool, err error)

type handler struct {
	name string
	re   *regexp.Regexp
	fn   handlerFunc
}

var (
	reContinueConnecting = regexp.MustCompile(`Are you sure you want to continue connecting \(yes/no\)\?`)
	reLogin              = regexp.MustCompile(`([Ll]ast )?[lL]ogin:`)
	rePassword           = regexp.MustCompile(`[pP]assword:`)
	reTSOption           = regexp.MustCompile(`Enter your option : `)
	reAbortBoot          = regexp.MustCompile(`Abort Boot by Depressing`)
	reLoginShell         = regexp.MustCompile(`Press enter to get a login shell:`)
	reStandby            = regexp.MustCompile(`This console on ASR5500 card \d is inactive.`)
	reLoginIncorrect     = regexp.MustCompile(`Login incorrect`)
	reConfirm            = regexp.MustCompile(`Do you want to continue`)
)

// errorSignatures 厂商命令错误特征
var errorSignatures = []*regexp.Regexp{
	regexp.MustCompile(`(ERROR|ERROR_UNRECOVERED|Error|error|404):.*`),
	regexp.MustCompile(`RTNETLINK answers:(.*)`),
	regexp.MustCompile(`Unknown command -(.*)`),
	regexp.MustCompile(`\% Invalid command at '\^' marker`),
	regexp.MustCompile(`Failure: (.*)`),
}

// rebuildHandlers 按当前状态重建事件表：未连接时包含登录模式，
// 然后是确认提示，最后是每个提示符。
func (s *Session) rebuildHandlers() error {
	promptRes, err := s.prompts.Compile()
	if err != nil {
		return s.newError(KindOutput, "", "malformed prompt", err)
	}

	var hs []handler
	if s.State() != Connected {
		hs = append(hs,
			handler{"continue-connecting", reContinueConnecting, s.sendReply("yes")},
			handler{"login", reLogin, s.onLogin},
			handler{"password", rePassword, s.onPassword},
			handler{"ts-option", reTSOption, s.sendReply("1")},
			handler{"abort-boot", reAbortBoot, s.onAbortBoot},
			handler{"login-shell", reLoginShell, s.sendReply("")},
			handler{"standby", reStandby, s.onStandby},
			handler{"login-incorrect", reLoginIncorrect, s.onLoginIncorrect},
		)
	}
	hs = append(hs, handler{"confirm", reConfirm, s.sendReply("y")})
	for i, re := range promptRes {
		hs = append(hs, handler{"prompt:" + s.prompts[i].String(), re, promptDone})
	}

	s.handlers = hs
	s.promptRes = promptRes
	s.patterns = make([]*regexp.Regexp, len(hs))
	for i, h := range hs {
		s.patterns[i] = h.re
	}
	return nil
}

func promptDone(context.Context, *expect.Match) (bool, error) { return true, nil }

func (s *Session) sendReply(text string) handlerFunc {
	return func(ctx context.Context, m *expect.Match) (bool, error) {
		return false, s.send(text)
	}
}

func (s *Session) onLogin(ctx context.Context, m *expect.Match) (bool, error) {
	// "Last login:" 只是信息横幅
	if m.Group(1) != "" {
		return false, nil
	}
	return false, s.send(s.dev.Username)
}

func (s *Session) onPassword(ctx context.Context, m *expect.Match) (bool, error) {
	return false, s.send(s.dev.Password)
}

func (s *Session) onAbortBoot(ctx context.Context, m *expect.Match) (bool, error) {
	if err := s.tr.SendControl('c'); err != nil {
		return false, s.newError(KindEndOfStream, "", "send ctrl-c", err)
	}
	return false, nil
}

func (s *Session) onStandby(ctx context.Context, m *expect.Match) (bool, error) {
	return false, s.newError(KindConnection, "connect", strings.TrimSpace(m.Text), ErrStandbyPeer)
}

func (s *Session) onLoginIncorrect(ctx context.Context, m *expect.Match) (bool, error) {
	return false, s.newError(KindConnection, "connect", "", ErrCredentials)
}

// onTimeout 登录阶段的超时在本地重试，已连接时超时会断开会话
func (s *Session) onTimeout(cause error) (bool, error) {
	if s.State() != Connected {
		s.loginAttempts++
		if s.loginAttempts > s.loginRetries {
			return false, s.newError(KindConnection, "connect",
				fmt.Sprintf("login timed out %d times", s.loginAttempts), cause)
		}
		s.log.WithField("attempt", s.loginAttempts).Warn("timeout waiting for login prompt")
		if s.dev.TSPort > 0 {
			if err := s.send(""); err != nil {
				return false, err
			}
		}
		return false, nil
	}

	op := s.lastCommand
	expected := strings.Join(s.prompts.Strings(), ", ")
	s.dropConnection()
	return false, s.newError(KindTimeout, op, "expected one of ["+expected+"]", cause)
}

// onEOF 远端结束时释放传输
func (s *Session) onEOF(cause error) (bool, error) {
	op := s.lastCommand
	if s.State() != Connected {
		op = "connect"
	}
	s.dropConnection()
	return false, s.newError(KindEndOfStream, op, "remote closed the session", cause)
}

// dispatchError 把 Expect 的错误分派到超时或 EOF 处理
func (s *Session) dispatchError(err error) (bool, error) {
	switch {
	case errors.Is(err, expect.ErrTimeout):
		return s.onTimeout(err)
	case errors.Is(err, expect.ErrEOF):
		return s.onEOF(err)
	default:
		return false, err
	}
}

func (s *Session) send(text string) error {
	if s.tr == nil {
		return s.newError(KindConnection, s.lastCommand, "no live transport", nil)
	}
	if err := s.tr.SendLine(text); err != nil {
		s.dropConnection()
		return s.newError(KindEndOfStream, s.lastCommand, "write failed", err)
	}
	return nil
}
