package expect

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"
)

// 兼容老旧网络设备的算法列表
var (
	legacyKeyExchanges = []string{
		"curve25519-sha256",
		"curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256",
		"ecdh-sha2-nistp384",
		"ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group1-sha1",
		"diffie-hellman-group-exchange-sha256",
		"diffie-hellman-group-exchange-sha1",
	}
	legacyCiphers = []string{
		"aes128-gcm@openssh.com",
		"aes256-gcm@openssh.com",
		"chacha20-poly1305@openssh.com",
		"aes128-ctr",
		"aes192-ctr",
		"aes256-ctr",
		"aes128-cbc",
		"3des-cbc",
	}
	legacyMACs = []string{
		"hmac-sha2-256-etm@openssh.com",
		"hmac-sha2-256",
		"hmac-sha1",
		"hmac-sha1-96",
	}
	legacyHostKeyAlgorithms = []string{
		"ssh-ed25519",
		"rsa-sha2-256",
		"rsa-sha2-512",
		"ssh-rsa",
		"ecdsa-sha2-nistp256",
		"ecdsa-sha2-nistp384",
		"ecdsa-sha2-nistp521",
	}
)

// sshClientConfig 构建与 ssh 子进程行为一致的客户端配置：忽略主机密钥，
// 同时尝试 password 与 keyboard-interactive。
func sshClientConfig(t Target) *ssh.ClientConfig {
	user := t.Username
	if t.TSPort > 0 {
		user = fmt.Sprintf(":%d", t.TSPort)
	}
	password := t.Password
	return &ssh.ClientConfig{
		User:            user,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.DialTimeout,
		Config: ssh.Config{
			KeyExchanges: legacyKeyExchanges,
			Ciphers:      legacyCiphers,
			MACs:         legacyMACs,
		},
		HostKeyAlgorithms: legacyHostKeyAlgorithms,
		Auth: []ssh.AuthMethod{
			ssh.Password(password),
			ssh.KeyboardInteractive(func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range questions {
					answers[i] = password
				}
				return answers, nil
			}),
		},
	}
}

// DialSSH 使用进程内 SSH 客户端打开一个带 PTY 的交互 shell
func DialSSH(ctx context.Context, t Target, opts StreamOptions) (*Stream, error) {
	port := t.SSHPort
	if port <= 0 {
		port = 22
	}
	address := net.JoinHostPort(t.Host, strconv.Itoa(port))

	dialer := &net.Dialer{Timeout: t.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	// 握手阶段同样受超时约束
	if t.DialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.DialTimeout))
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshClientConfig(t))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create SSH connection: %w", err)
	}
	_ = conn.SetDeadline(time.Time{})
	client := ssh.NewClient(sshConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 14400,
		ssh.TTY_OP_OSPEED: 14400,
	}
	rows, cols := t.winsize()
	var ptyErr error
	for _, term := range []string{"vt100", "xterm", "ansi", "dumb"} {
		if ptyErr = session.RequestPty(term, int(rows), int(cols), modes); ptyErr == nil {
			break
		}
	}
	if ptyErr != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to request pty: %w", ptyErr)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to get stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	closer := func() error {
		_ = session.Close()
		return client.Close()
	}
	s, err := newStream(stdout, stdin, closer, opts)
	if err != nil {
		_ = closer()
		return nil, err
	}
	return s, nil
}
