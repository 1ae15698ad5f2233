package session

import (
	"regexp"
	"slices"
	"strings"
)

// promptSpecials 提示符中需要转义的字符
const promptSpecials = `[]#()/*$`

// EscapePrompt 转义提示符中的 [ ] # ( ) / * $，其余字符原样保留
func EscapePrompt(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 8)
	for _, r := range s {
		if strings.ContainsRune(promptSpecials, r) {
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Prompt 一个期望的提示符，字面量或正则
type Prompt struct {
	Text  string `json:"text"`
	Regex bool   `json:"regex,omitempty"`
}

// Literal 字面量提示符
func Literal(text string) Prompt { return Prompt{Text: text} }

// Pattern 正则提示符
func Pattern(expr string) Prompt { return Prompt{Text: expr, Regex: true} }

// Expr 返回用于匹配的正则表达式文本
func (p Prompt) Expr() string {
	if p.Regex {
		return p.Text
	}
	return EscapePrompt(p.Text)
}

// Compile 编译提示符
func (p Prompt) Compile() (*regexp.Regexp, error) {
	return regexp.Compile(p.Expr())
}

func (p Prompt) String() string {
	if p.Regex {
		return "/" + p.Text + "/"
	}
	return p.Text
}

// PromptSet 有序提示符集合
type PromptSet []Prompt

// Literals 由字面量构造提示符集合
func Literals(texts ...string) PromptSet {
	ps := make(PromptSet, 0, len(texts))
	for _, t := range texts {
		ps = append(ps, Literal(t))
	}
	return ps
}

// Clone 深拷贝
func (ps PromptSet) Clone() PromptSet {
	return slices.Clone(ps)
}

// Equal 判断两个集合顺序与内容一致
func (ps PromptSet) Equal(other PromptSet) bool {
	return slices.Equal(ps, other)
}

// Strings 返回可读形式
func (ps PromptSet) Strings() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.String()
	}
	return out
}

// Compile 编译全部提示符，任一失败即返回错误
func (ps PromptSet) Compile() ([]*regexp.Regexp, error) {
	res := make([]*regexp.Regexp, 0, len(ps))
	for _, p := range ps {
		re, err := p.Compile()
		if err != nil {
			return nil, err
		}
		res = append(res, re)
	}
	return res, nil
}
