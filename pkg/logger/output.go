package logger

import (
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

// OutputSummary 命令输出的首尾若干行
type OutputSummary struct {
	Head  []string `json:"head"`
	Tail  []string `json:"tail"`
	Lines int      `json:"lines"`
}

// Summarize 截取输出首尾各 maxLines 行，行数不足时首尾相同
func Summarize(output string, maxLines int) OutputSummary {
	if maxLines <= 0 {
		maxLines = 5
	}
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return OutputSummary{}
	}
	lines := strings.Split(output, "\n")

	n := min(maxLines, len(lines))
	return OutputSummary{
		Head:  slices.Clone(lines[:n]),
		Tail:  slices.Clone(lines[len(lines)-n:]),
		Lines: len(lines),
	}
}

// String 渲染为单行日志文本
func (s OutputSummary) String() string {
	if s.Lines == 0 {
		return ""
	}
	out := "head: [" + strings.Join(s.Head, " | ") + "]"
	if !slices.Equal(s.Head, s.Tail) {
		out += ", tail: [" + strings.Join(s.Tail, " | ") + "]"
	}
	return out
}

// DebugOutput 在 debug 级别记录命令输出摘要
func DebugOutput(entry *logrus.Entry, command, output string, maxLines int) {
	if entry == nil {
		entry = logrus.NewEntry(GetLogger())
	}
	if !entry.Logger.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	summary := Summarize(output, maxLines)
	if summary.Lines == 0 {
		return
	}
	entry.WithFields(logrus.Fields{
		"command": command,
		"lines":   summary.Lines,
	}).Debugf("command output %s", summary)
}
