package expect

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// safeBuffer 并发安全的 transcript
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newPipeStream(t *testing.T, opts StreamOptions) (*Stream, net.Conn) {
	t.Helper()
	local, remote := net.Pipe()
	s, err := NewStream(local, opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
		remote.Close()
	})
	return s, remote
}

func remoteWrite(t *testing.T, remote net.Conn, data []byte) {
	t.Helper()
	go func() {
		_, _ = remote.Write(data)
	}()
}

func patterns(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}

func TestStream_ExpectEarliestMatch(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{})
	remoteWrite(t, remote, []byte("foo bar# baz"))

	m, err := s.Expect(context.Background(), patterns(`baz`, `bar#`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Index)
	assert.Equal(t, "foo ", m.Before)
	assert.Equal(t, "bar#", m.Text)

	// 剩余内容保留给下一次匹配
	m, err = s.Expect(context.Background(), patterns(`baz`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, " ", m.Before)
}

func TestStream_TimeoutKeepsBuffer(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{})
	remoteWrite(t, remote, []byte("partial"))

	_, err := s.Expect(context.Background(), patterns(`#`), 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.Equal(t, "partial", BufferOf(err))

	remoteWrite(t, remote, []byte(" output\nrouter#"))
	m, err := s.Expect(context.Background(), patterns(`#`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "partial output\nrouter", m.Before)
}

func TestStream_EOF(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{})
	go func() {
		_, _ = remote.Write([]byte("bye"))
		remote.Close()
	}()

	_, err := s.Expect(context.Background(), patterns(`#`), time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEOF))
	assert.Equal(t, "bye", BufferOf(err))
}

func TestStream_ContextCancel(t *testing.T) {
	s, _ := newPipeStream(t, StreamOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Expect(ctx, patterns(`#`), time.Second)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestStream_SendLineAndControl(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{LineEnding: "\r"})

	got := make(chan []byte, 1)
	go func() {
		buf := make([]byte, 64)
		var all []byte
		for len(all) < len("show version\r")+1 {
			n, err := remote.Read(buf)
			if err != nil {
				break
			}
			all = append(all, buf[:n]...)
		}
		got <- all
	}()

	require.NoError(t, s.SendLine("show version"))
	require.NoError(t, s.SendControl('c'))

	select {
	case data := <-got:
		assert.Equal(t, append([]byte("show version\r"), 0x03), data)
	case <-time.After(time.Second):
		t.Fatal("remote did not receive data")
	}
}

func TestStream_WriteAfterClose(t *testing.T) {
	s, _ := newPipeStream(t, StreamOptions{})
	require.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	err := s.SendLine("show clock")
	assert.True(t, errors.Is(err, ErrClosed))
}

func TestStream_CharsetDecoding(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{Charset: "gbk"})
	encoded, err := simplifiedchinese.GBK.NewEncoder().Bytes([]byte("设备名称\nswitch#"))
	require.NoError(t, err)
	remoteWrite(t, remote, encoded)

	m, err := s.Expect(context.Background(), patterns(`switch#`), time.Second)
	require.NoError(t, err)
	assert.Equal(t, "设备名称\n", m.Before)
}

func TestStream_UnknownCharset(t *testing.T) {
	local, remote := net.Pipe()
	defer local.Close()
	defer remote.Close()

	_, err := NewStream(local, StreamOptions{Charset: "no-such-charset"})
	assert.Error(t, err)
}

func TestStream_Transcript(t *testing.T) {
	var transcript safeBuffer
	s, remote := newPipeStream(t, StreamOptions{Transcript: &transcript})

	go func() { _, _ = io.Copy(io.Discard, remote) }()
	require.NoError(t, s.SendLine("terminal length 0"))

	assert.Eventually(t, func() bool {
		return transcript.String() == "terminal length 0\n"
	}, time.Second, 10*time.Millisecond)
}

func TestStream_ReadAvailable(t *testing.T) {
	s, remote := newPipeStream(t, StreamOptions{})
	remoteWrite(t, remote, []byte("stale banner\n"))

	assert.Eventually(t, func() bool {
		out, err := s.ReadAvailable(20 * time.Millisecond)
		return err == nil && out == "stale banner\n"
	}, time.Second, 10*time.Millisecond)

	out, err := s.ReadAvailable(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestFindEarliest(t *testing.T) {
	t.Run("same position prefers lower index", func(t *testing.T) {
		m := FindEarliest([]byte("login: "), patterns(`login:`, `log`))
		require.NotNil(t, m)
		assert.Equal(t, 0, m.Index)
	})

	t.Run("groups", func(t *testing.T) {
		m := FindEarliest([]byte("Last login: Mon"), patterns(`([Ll]ast )?[lL]ogin:`))
		require.NotNil(t, m)
		assert.Equal(t, "Last ", m.Group(1))
		assert.Equal(t, "", m.Group(5))
	})

	t.Run("unmatched group is empty", func(t *testing.T) {
		m := FindEarliest([]byte("login:"), patterns(`([Ll]ast )?[lL]ogin:`))
		require.NotNil(t, m)
		assert.Equal(t, "", m.Group(1))
	})

	t.Run("no match", func(t *testing.T) {
		assert.Nil(t, FindEarliest([]byte("nothing"), patterns(`#`)))
	})
}
