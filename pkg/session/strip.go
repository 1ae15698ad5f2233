package session

import (
	"regexp"
	"strings"
)

// echoSearchLines 回显可能因终端折行跨越多行
const echoSearchLines = 5

// stripOutput 去掉命令回显以及尾部重复的提示符行
func stripOutput(raw, command string, prompts []*regexp.Regexp) string {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "")
	lines := strings.Split(text, "\n")

	cmd := strings.TrimSpace(command)
	var joined strings.Builder
	for i := 0; i < len(lines) && i < echoSearchLines; i++ {
		joined.WriteString(strings.TrimRight(lines[i], " "))
		if strings.Contains(joined.String(), cmd) {
			lines = lines[i+1:]
			break
		}
	}

	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if n := len(lines); n > 0 {
		last := strings.TrimSpace(lines[n-1])
		for _, re := range prompts {
			if re.MatchString(last) {
				lines = lines[:n-1]
				break
			}
		}
	}
	return strings.Join(lines, "\n")
}

// scanErrors 只检查输出开头 n 行，返回命中的错误文本
func scanErrors(output string, n int) string {
	lines := strings.Split(strings.ReplaceAll(output, "\r\n", "\n"), "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for _, line := range lines {
		for _, re := range errorSignatures {
			if m := re.FindString(line); m != "" {
				return strings.TrimSpace(m)
			}
		}
	}
	return ""
}
