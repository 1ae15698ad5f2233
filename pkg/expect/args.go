package expect

import (
	"fmt"
	"strconv"
)

// sshOptions 关闭主机密钥校验，等价于一次性实验室环境的常用设置
var sshOptions = []string{"UserKnownHostsFile=/dev/null", "StrictHostKeyChecking=no"}

// SSHArgs 构造 ssh 客户端参数。
// 终端服务器端口通过 "-l :<port>" 选择，否则使用用户名登录。
func SSHArgs(t Target) []string {
	args := []string{"-q"}
	for _, opt := range sshOptions {
		args = append(args, "-o", opt)
	}
	if t.X11 {
		args = append(args, "-X")
	}
	if t.TSPort > 0 {
		args = append(args, "-l", fmt.Sprintf(":%d", t.TSPort))
	} else {
		args = append(args, "-l", t.Username)
	}
	if t.SSHPort > 0 {
		args = append(args, "-p", strconv.Itoa(t.SSHPort))
	}
	return append(args, t.Host)
}

// TelnetArgs 构造 telnet 客户端参数：host [port]
func TelnetArgs(t Target) []string {
	args := []string{t.Host}
	if t.TSPort > 0 {
		args = append(args, strconv.Itoa(t.TSPort))
	}
	return args
}
