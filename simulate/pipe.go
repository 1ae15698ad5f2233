package simulate

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/clinav/clinav/pkg/expect"
	"github.com/clinav/clinav/pkg/logger"
)

// Simulator 进程内模拟设备集合，Dial 可直接作为会话拨号器
type Simulator struct {
	cfg *Config

	mutex sync.Mutex
	dials map[string]int
	down  map[string]bool
}

// New 创建进程内模拟器
func New(cfg *Config) *Simulator {
	return &Simulator{cfg: cfg, dials: make(map[string]int), down: make(map[string]bool)}
}

// SetDown 将设备标记为不可达，后续拨号失败
func (s *Simulator) SetDown(name string, down bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.down[name] = down
}

// Dials 设备被拨号的次数
func (s *Simulator) Dials(name string) int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.dials[name]
}

// Dial 按 Target.Host 查找模拟设备，通过内存管道连接一个新的 shell
func (s *Simulator) Dial(ctx context.Context, t expect.Target, transcript io.Writer) (expect.Transport, error) {
	name, dev, ok := s.cfg.lookup(t.Host)
	if !ok {
		return nil, fmt.Errorf("simulated host %s: %w", t.Host, expect.ErrUnreachable)
	}
	s.mutex.Lock()
	s.dials[name]++
	down := s.down[name]
	s.mutex.Unlock()
	if down {
		return nil, fmt.Errorf("simulated host %s is down: %w", t.Host, expect.ErrUnreachable)
	}

	client, server := net.Pipe()
	go serve(server, NewShell(name, dev, dev.Login))
	logger.Debugf("Simulate: pipe session opened for %s", name)
	return expect.NewStream(client, expect.StreamOptions{
		LineEnding: t.LineEnding,
		Charset:    t.Charset,
		Transcript: transcript,
	})
}

// serve 逐行读取输入交给 shell，并写回输出；\r、\n 与 \r\n 都视为行结束
func serve(conn io.ReadWriteCloser, sh *Shell) {
	defer conn.Close()
	if _, err := io.WriteString(conn, sh.Greeting()); err != nil {
		return
	}
	r := bufio.NewReader(conn)
	var (
		line   []byte
		lastCR bool
	)
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		if b == '\n' && lastCR {
			lastCR = false
			continue
		}
		lastCR = b == '\r'
		switch b {
		case '\r', '\n':
			out, closed := sh.Handle(string(line))
			line = line[:0]
			if out != "" {
				if _, err := io.WriteString(conn, out); err != nil {
					return
				}
			}
			if closed {
				return
			}
		case 0x03:
			line = line[:0]
			if _, err := io.WriteString(conn, "^C\r\n"+sh.Prompt()); err != nil {
				return
			}
		default:
			line = append(line, b)
		}
	}
}
