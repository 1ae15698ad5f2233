package expect

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding"
)

// StreamOptions 流的可选参数
type StreamOptions struct {
	// LineEnding SendLine 追加的行结束符，默认 "\n"
	LineEnding string
	// Charset 远端输出字符集（WHATWG 名称，如 gbk、latin1），空表示 UTF-8
	Charset string
	// Transcript 读写内容的镜像，用于调试会话记录
	Transcript io.Writer
	// ReadBufferSize 单次读取大小
	ReadBufferSize int
}

// Stream 基于任意读写端的 expect 引擎。
// 后台协程持续读取并投递到 chunks，Expect/ReadAvailable 在调用方协程中消费。
type Stream struct {
	w      io.Writer
	closer func() error
	opts   StreamOptions
	enc    encoding.Encoding

	chunks chan []byte
	buf    []byte
	eof    bool

	writeMu   sync.Mutex
	logMu     sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewStream 在 rwc 之上创建 expect 引擎，Close 时关闭 rwc
func NewStream(rwc io.ReadWriteCloser, opts StreamOptions) (*Stream, error) {
	return newStream(rwc, rwc, rwc.Close, opts)
}

func newStream(r io.Reader, w io.Writer, closer func() error, opts StreamOptions) (*Stream, error) {
	if opts.LineEnding == "" {
		opts.LineEnding = "\n"
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = 4096
	}
	enc, err := lookupEncoding(opts.Charset)
	if err != nil {
		return nil, err
	}
	s := &Stream{
		w:      w,
		closer: closer,
		opts:   opts,
		enc:    enc,
		chunks: make(chan []byte, 64),
		closed: make(chan struct{}),
	}
	go s.readLoop(decodingReader(r, enc))
	return s, nil
}

func (s *Stream) readLoop(r io.Reader) {
	defer close(s.chunks)
	for {
		b := make([]byte, s.opts.ReadBufferSize)
		n, err := r.Read(b)
		if n > 0 {
			s.record(b[:n])
			select {
			case s.chunks <- b[:n]:
			case <-s.closed:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// SendLine 写入一行
func (s *Stream) SendLine(text string) error {
	return s.write([]byte(text + s.opts.LineEnding))
}

// SendControl 发送控制字符，字母会被映射为对应的 Ctrl 组合
func (s *Stream) SendControl(c byte) error {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		c &= 0x1f
	case c == '[':
		c = 0x1b
	}
	return s.write([]byte{c})
}

func (s *Stream) write(p []byte) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	out := p
	if s.enc != nil {
		if encoded, err := s.enc.NewEncoder().Bytes(p); err == nil {
			out = encoded
		}
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.w.Write(out); err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	s.record(p)
	return nil
}

// Expect 见 Transport.Expect。timeout<=0 表示只受 ctx 约束。
func (s *Stream) Expect(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration) (*Match, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		if m := FindEarliest(s.buf, patterns); m != nil {
			s.buf = s.buf[matchEnd(m):]
			return m, nil
		}
		if s.eof {
			return nil, &BufferError{Err: ErrEOF, Buffer: s.take()}
		}
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				s.eof = true
				continue
			}
			s.buf = append(s.buf, chunk...)
		case <-deadline:
			return nil, &BufferError{Err: ErrTimeout, Buffer: string(s.buf)}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// ReadAvailable 见 Transport.ReadAvailable
func (s *Stream) ReadAvailable(timeout time.Duration) (string, error) {
	var sb strings.Builder
	sb.WriteString(s.take())
	for {
		if s.eof {
			return sb.String(), &BufferError{Err: ErrEOF, Buffer: sb.String()}
		}
		t := time.NewTimer(timeout)
		select {
		case chunk, ok := <-s.chunks:
			t.Stop()
			if !ok {
				s.eof = true
				continue
			}
			sb.Write(chunk)
		case <-t.C:
			return sb.String(), nil
		}
	}
}

// Close 关闭底层资源，可重复调用
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.closer != nil {
			s.closeErr = s.closer()
		}
	})
	return s.closeErr
}

func (s *Stream) take() string {
	out := string(s.buf)
	s.buf = nil
	return out
}

func (s *Stream) record(p []byte) {
	if s.opts.Transcript == nil {
		return
	}
	s.logMu.Lock()
	_, _ = s.opts.Transcript.Write(p)
	s.logMu.Unlock()
}
