package expect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/creack/pty"
)

// Protocol 远端接入协议
type Protocol string

const (
	ProtocolSSH    Protocol = "ssh"
	ProtocolTelnet Protocol = "telnet"
)

// Backend 传输实现方式
type Backend string

const (
	// BackendSpawn 在伪终端中运行系统 ssh/telnet 客户端
	BackendSpawn Backend = "spawn"
	// BackendNative 使用进程内的 ssh/telnet 客户端
	BackendNative Backend = "native"
)

const (
	defaultRows = 24
	defaultCols = 200
)

// Target 打开一个传输所需的全部参数
type Target struct {
	Host     string
	Username string
	Password string

	Protocol Protocol
	Backend  Backend

	// TSPort 终端服务器端口，非零时经由终端服务器接入控制台
	TSPort int
	// SSHPort 非默认的 SSH 端口
	SSHPort int
	X11     bool

	Charset    string
	LineEnding string

	// Probe 连接前先 ping 一次，仅对 telnet 生效
	Probe           bool
	ProbeTimeout    time.Duration
	ProbePrivileged bool

	DialTimeout time.Duration
	Rows        uint16
	Cols        uint16
}

func (t Target) winsize() (rows, cols uint16) {
	rows, cols = t.Rows, t.Cols
	if rows == 0 {
		rows = defaultRows
	}
	if cols == 0 {
		cols = defaultCols
	}
	return rows, cols
}

// Open 按 Target 打开传输。transcript 非空时镜像全部收发内容。
func Open(ctx context.Context, t Target, transcript io.Writer) (Transport, error) {
	if t.Host == "" {
		return nil, errors.New("target host is empty")
	}
	opts := StreamOptions{
		LineEnding: t.LineEnding,
		Charset:    t.Charset,
		Transcript: transcript,
	}

	protocol := t.Protocol
	if protocol == "" {
		protocol = ProtocolSSH
	}

	if protocol == ProtocolTelnet && t.Probe {
		if err := Probe(ctx, t.Host, t.ProbeTimeout, t.ProbePrivileged); err != nil {
			return nil, err
		}
	}

	var (
		s   *Stream
		err error
	)
	switch protocol {
	case ProtocolSSH:
		if t.Backend == BackendNative {
			s, err = DialSSH(ctx, t, opts)
		} else {
			s, err = Spawn("ssh", SSHArgs(t), t.ptySize(), opts)
		}
	case ProtocolTelnet:
		if t.Backend == BackendNative {
			s, err = DialTelnet(t, opts)
		} else {
			s, err = Spawn("telnet", TelnetArgs(t), t.ptySize(), opts)
		}
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", t.Protocol)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t Target) ptySize() *pty.Winsize {
	rows, cols := t.winsize()
	return &pty.Winsize{Rows: rows, Cols: cols}
}

// Dialer 打开传输的函数，便于测试中替换
type Dialer func(ctx context.Context, t Target, transcript io.Writer) (Transport, error)

// DefaultDialer 使用 Open 的真实拨号器
var DefaultDialer Dialer = Open
