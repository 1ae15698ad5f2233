package expect

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	// ErrTimeout 在超时时间内没有匹配到任何模式
	ErrTimeout = errors.New("expect: timeout")
	// ErrEOF 远端进程或连接已结束
	ErrEOF = errors.New("expect: end of stream")
	// ErrClosed 传输已关闭后仍尝试写入
	ErrClosed = errors.New("expect: transport closed")
	// ErrUnreachable 预探测（ping）失败
	ErrUnreachable = errors.New("expect: host unreachable")
)

// Transport 会话状态机消费的传输能力
type Transport interface {
	// SendLine 写入文本并追加行结束符
	SendLine(text string) error
	// SendControl 发送控制字符，例如 'c' 对应 Ctrl-C
	SendControl(c byte) error
	// Expect 阻塞直到任一模式匹配到新到达的输出或超时
	Expect(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration) (*Match, error)
	// ReadAvailable 读取并丢弃缓冲中的所有数据，直到 timeout 内没有新数据
	ReadAvailable(timeout time.Duration) (string, error)
	// Close 结束底层进程或连接
	Close() error
}

// Match 一次成功匹配的结果
type Match struct {
	Index  int      // 命中的模式下标
	Before string   // 匹配位置之前累积的文本
	Text   string   // 匹配到的文本
	Groups []string // 子匹配，Groups[0] 为整体匹配
}

// Group 返回第 i 个子匹配，不存在时返回空串
func (m *Match) Group(i int) string {
	if m == nil || i < 0 || i >= len(m.Groups) {
		return ""
	}
	return m.Groups[i]
}

// BufferError 携带超时或 EOF 时尚未消费的缓冲内容，便于排查
type BufferError struct {
	Err    error
	Buffer string
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("%v (buffer=%q)", e.Err, tail(e.Buffer, 256))
}

func (e *BufferError) Unwrap() error { return e.Err }

// BufferOf 从错误中取出附带的缓冲内容
func BufferOf(err error) string {
	var be *BufferError
	if errors.As(err, &be) {
		return be.Buffer
	}
	return ""
}

// FindEarliest 在 buf 中查找最早出现的匹配；位置相同时取下标更小的模式。
// 未命中返回 nil。
func FindEarliest(buf []byte, patterns []*regexp.Regexp) *Match {
	best, bestLoc := -1, []int(nil)
	for i, re := range patterns {
		if re == nil {
			continue
		}
		loc := re.FindSubmatchIndex(buf)
		if loc == nil {
			continue
		}
		if best < 0 || loc[0] < bestLoc[0] {
			best, bestLoc = i, loc
		}
	}
	if best < 0 {
		return nil
	}
	groups := make([]string, len(bestLoc)/2)
	for g := range groups {
		if s, e := bestLoc[2*g], bestLoc[2*g+1]; s >= 0 && e >= 0 {
			groups[g] = string(buf[s:e])
		}
	}
	return &Match{
		Index:  best,
		Before: string(buf[:bestLoc[0]]),
		Text:   string(buf[bestLoc[0]:bestLoc[1]]),
		Groups: groups,
	}
}

// matchEnd 返回匹配在 buf 中的结束偏移
func matchEnd(m *Match) int {
	return len(m.Before) + len(m.Text)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
