package expect

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/creack/pty"
)

// Spawn 在伪终端中启动子进程并返回其 expect 流。
// Close 会杀掉子进程、关闭伪终端并回收进程。
func Spawn(name string, args []string, size *pty.Winsize, opts StreamOptions) (*Stream, error) {
	cmd := exec.Command(name, args...)
	cmd.Env = append(os.Environ(), "TERM=vt100")

	f, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}

	closer := func() error {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		err := f.Close()
		_ = cmd.Wait()
		return err
	}

	s, err := newStream(f, f, closer, opts)
	if err != nil {
		_ = closer()
		return nil, err
	}
	return s, nil
}
