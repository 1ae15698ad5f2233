package session

import (
	"errors"
	"fmt"
	"strings"
)

// Kind 错误类别
type Kind int

const (
	KindConnection Kind = iota + 1
	KindProtocolState
	KindTimeout
	KindOutput
	KindEndOfStream
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection error"
	case KindProtocolState:
		return "protocol state error"
	case KindTimeout:
		return "timeout error"
	case KindOutput:
		return "output error"
	case KindEndOfStream:
		return "end of stream error"
	default:
		return "unknown error"
	}
}

// 类别哨兵，配合 errors.Is 使用
var (
	ErrConnection    = errors.New("connection error")
	ErrProtocolState = errors.New("protocol state error")
	ErrTimeout       = errors.New("timeout error")
	ErrOutput        = errors.New("output error")
	ErrEndOfStream   = errors.New("end of stream error")
)

var (
	// ErrStandbyPeer 连接到了冗余机箱中的备用管理卡
	ErrStandbyPeer = errors.New("management console is on the standby card")
	// ErrCredentials 用户名或密码被拒绝
	ErrCredentials = errors.New("login incorrect")
)

func (k Kind) sentinel() error {
	switch k {
	case KindConnection:
		return ErrConnection
	case KindProtocolState:
		return ErrProtocolState
	case KindTimeout:
		return ErrTimeout
	case KindOutput:
		return ErrOutput
	case KindEndOfStream:
		return ErrEndOfStream
	default:
		return nil
	}
}

// Error 会话层统一错误，总是携带主机、操作与当前状态
type Error struct {
	Kind  Kind
	Host  string
	Op    string // 正在执行的命令或模式
	State State
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: host=%s", e.Kind, e.Host)
	if e.Op != "" {
		fmt.Fprintf(&sb, " op=%q", e.Op)
	}
	fmt.Fprintf(&sb, " state=%s", e.State)
	if e.Msg != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Msg)
	}
	if e.Err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if s := e.Kind.sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// KindOf 返回错误链中最外层会话错误的类别，非会话错误返回 0
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}

// NewError 构造会话错误，供模式导航等上层使用
func NewError(kind Kind, host, op string, state State, msg string, err error) *Error {
	return &Error{Kind: kind, Host: host, Op: op, State: state, Msg: msg, Err: err}
}
