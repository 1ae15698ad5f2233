package expect

import (
	"fmt"
	"net"
	"strconv"

	"github.com/ziutek/telnet"
)

// DialTelnet 使用进程内 telnet 客户端连接（选项协商由 telnet 库处理）
func DialTelnet(t Target, opts StreamOptions) (*Stream, error) {
	port := 23
	if t.TSPort > 0 {
		port = t.TSPort
	}
	address := net.JoinHostPort(t.Host, strconv.Itoa(port))

	conn, err := telnet.DialTimeout("tcp", address, t.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open telnet connection to %s: %w", address, err)
	}
	// "\n" 自动转换为 "\r\n"
	conn.SetUnixWriteMode(true)

	s, err := NewStream(conn, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}
