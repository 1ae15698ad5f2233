package expect

import (
	"context"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

// Probe 发送一个 ICMP echo 确认主机可达。
// 非特权模式依赖系统允许的 UDP ping（net.ipv4.ping_group_range）。
func Probe(ctx context.Context, host string, timeout time.Duration, privileged bool) error {
	p, err := ping.NewPinger(host)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	}
	p.Count = 1
	if timeout > 0 {
		p.Timeout = timeout
	}
	p.SetPrivileged(privileged)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			p.Stop()
		case <-done:
		}
	}()

	if err := p.Run(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnreachable, host, err)
	}
	if p.Statistics().PacketsRecv == 0 {
		return fmt.Errorf("%w: %s: no echo reply", ErrUnreachable, host)
	}
	return nil
}
