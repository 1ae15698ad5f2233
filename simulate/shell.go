package simulate

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

type phase int

const (
	phaseUser phase = iota
	phasePassword
	phaseReady
	phaseStandby
)

// Shell 一台模拟设备的交互状态：登录阶段与提示符栈
type Shell struct {
	name   string
	dev    DeviceConfig
	phase  phase
	userOK bool
	stack  []string
}

// NewShell 创建模拟 shell，login 为 true 时先进行 login:/Password: 交互
func NewShell(name string, dev DeviceConfig, login bool) *Shell {
	s := &Shell{name: name, dev: dev, stack: []string{dev.Prompt}, phase: phaseReady}
	if login {
		s.phase = phaseUser
	}
	return s
}

// Prompt 当前提示符
func (s *Shell) Prompt() string { return s.stack[len(s.stack)-1] }

// Greeting 连接建立后首先输出的内容
func (s *Shell) Greeting() string {
	if s.phase == phaseUser {
		return "login: "
	}
	return s.ready()
}

func (s *Shell) ready() string {
	if s.dev.Standby {
		s.phase = phaseStandby
		return "\r\nThis console on ASR5500 card 6 is inactive.\r\n"
	}
	out := "\r\n"
	if s.dev.Banner != "" {
		out += ensureCRLF(s.dev.Banner)
	}
	return out + s.Prompt()
}

// Handle 处理一行输入，返回回显与输出；closed 表示会话结束
func (s *Shell) Handle(line string) (out string, closed bool) {
	switch s.phase {
	case phaseUser:
		s.phase = phasePassword
		s.userOK = line == s.dev.Username
		return line + "\r\nPassword: ", false
	case phasePassword:
		if !s.userOK || line != s.dev.Password {
			s.phase = phaseUser
			return "\r\nLogin incorrect\r\nlogin: ", false
		}
		s.phase = phaseReady
		return s.ready(), false
	case phaseStandby:
		return "", false
	}

	cmd := strings.TrimSpace(line)
	echo := line + "\r\n"
	switch {
	case cmd == "":
		return "\r\n" + s.Prompt(), false
	case equalAny(cmd, "exit", "quit"):
		if len(s.stack) == 1 {
			return echo, true
		}
		s.stack = s.stack[:len(s.stack)-1]
		return echo + s.Prompt(), false
	case cmd == "end":
		s.stack = s.stack[:1]
		return echo + s.Prompt(), false
	case slices.Contains(s.dev.Hang, cmd):
		return echo, false
	}

	if prompt, ok := s.matchMode(cmd); ok {
		// 进入的提示符与上一层相同视为返回（例如 context local）
		if len(s.stack) > 1 && s.stack[len(s.stack)-2] == prompt {
			s.stack = s.stack[:len(s.stack)-1]
		} else {
			s.stack = append(s.stack, prompt)
		}
		return echo + s.Prompt(), false
	}

	out = s.loadCommandOutput(cmd)
	if out == "" {
		out = fmt.Sprintf("Failure: unsupported command %q\r\n", cmd)
	}
	return echo + out + s.Prompt(), false
}

func (s *Shell) matchMode(cmd string) (string, bool) {
	for _, m := range s.dev.Modes {
		if prefix, ok := strings.CutSuffix(m.Command, " *"); ok {
			if arg, ok := strings.CutPrefix(cmd, prefix+" "); ok && arg != "" {
				return strings.ReplaceAll(m.Prompt, "{arg}", arg), true
			}
			continue
		}
		if m.Command == cmd {
			return m.Prompt, true
		}
	}
	return "", false
}

func (s *Shell) loadCommandOutput(cmd string) string {
	if out, ok := s.dev.Outputs[cmd]; ok {
		return ensureCRLF(out)
	}
	if s.dev.OutputDir == "" {
		return ""
	}
	// 尝试原命令名称，再尝试替换空格为下划线
	for _, name := range []string{cmd, strings.ReplaceAll(cmd, " ", "_")} {
		if bs, err := os.ReadFile(filepath.Join(s.dev.OutputDir, name+".txt")); err == nil {
			return ensureCRLF(string(bs))
		}
	}
	return ""
}

func ensureCRLF(s string) string {
	// 将 \n 规范为 \r\n，并保证结尾有一行结束符
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\n", "\r\n")
	if !strings.HasSuffix(s, "\r\n") {
		s += "\r\n"
	}
	return s
}

func equalAny(s string, opts ...string) bool {
	for _, o := range opts {
		if strings.EqualFold(strings.TrimSpace(s), strings.TrimSpace(o)) {
			return true
		}
	}
	return false
}
