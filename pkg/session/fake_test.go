package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"time"

	"github.com/clinav/clinav/pkg/expect"
)

// fakeTransport 脚本化传输：缓冲中无匹配时立即返回超时或 EOF
type fakeTransport struct {
	buf      string
	eof      bool
	closed   bool
	sends    []string
	controls []byte
	expects  int
	script   func(f *fakeTransport, line string)
}

func (f *fakeTransport) SendLine(text string) error {
	if f.closed {
		return expect.ErrClosed
	}
	f.sends = append(f.sends, text)
	if f.script != nil {
		f.script(f, text)
	}
	return nil
}

func (f *fakeTransport) SendControl(c byte) error {
	if f.closed {
		return expect.ErrClosed
	}
	f.controls = append(f.controls, c)
	return nil
}

func (f *fakeTransport) Expect(ctx context.Context, patterns []*regexp.Regexp, timeout time.Duration) (*expect.Match, error) {
	f.expects++
	if m := expect.FindEarliest([]byte(f.buf), patterns); m != nil {
		f.buf = f.buf[len(m.Before)+len(m.Text):]
		return m, nil
	}
	if f.eof {
		b := f.buf
		f.buf = ""
		return nil, &expect.BufferError{Err: expect.ErrEOF, Buffer: b}
	}
	return nil, &expect.BufferError{Err: expect.ErrTimeout, Buffer: f.buf}
}

func (f *fakeTransport) ReadAvailable(timeout time.Duration) (string, error) {
	out := f.buf
	f.buf = ""
	if f.eof {
		return out, &expect.BufferError{Err: expect.ErrEOF, Buffer: out}
	}
	return out, nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

// respond 按命令追加回显与输出
func respond(replies map[string]string) func(f *fakeTransport, line string) {
	return func(f *fakeTransport, line string) {
		if out, ok := replies[line]; ok {
			f.buf += out
		}
	}
}

// fakeDialer 依次返回预置的传输，用完后返回拨号错误
type fakeDialer struct {
	transports []*fakeTransport
	targets    []expect.Target
}

func (d *fakeDialer) dial(ctx context.Context, t expect.Target, transcript io.Writer) (expect.Transport, error) {
	d.targets = append(d.targets, t)
	if len(d.transports) == 0 {
		return nil, errors.New("connection refused")
	}
	tr := d.transports[0]
	d.transports = d.transports[1:]
	return tr, nil
}

func (d *fakeDialer) dials() int { return len(d.targets) }

// loginTransport 依次出现 login:、Password:、提示符
func loginTransport(prompt string) *fakeTransport {
	return &fakeTransport{
		buf: "login: ",
		script: respond(map[string]string{
			"admin":  "admin\r\nPassword: ",
			"secret": "\r\n" + prompt,
		}),
	}
}

type fakeSleeper struct {
	calls []time.Duration
}

func (f *fakeSleeper) sleep(ctx context.Context, d time.Duration) error {
	f.calls = append(f.calls, d)
	return nil
}

type recorded struct {
	commands []CommandResult
	events   []string
}

func (r *recorded) RecordCommand(res CommandResult) { r.commands = append(r.commands, res) }

func (r *recorded) RecordEvent(device, host, event, detail string) {
	r.events = append(r.events, event)
}

type memSink struct {
	mu     sync.Mutex
	opened []string
	files  []*memFile
}

type memFile struct {
	bytes.Buffer
	closed bool
}

func (m *memFile) Close() error {
	m.closed = true
	return nil
}

func (s *memSink) Open(name string) (io.WriteCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f := &memFile{}
	s.opened = append(s.opened, name)
	s.files = append(s.files, f)
	return f, nil
}
