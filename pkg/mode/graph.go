package mode

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/clinav/clinav/pkg/session"
)

// DefaultExitCommand 模式的通用退出命令
const DefaultExitCommand = "exit"

// Spec 一个模式节点
type Spec struct {
	Name   string
	Parent string

	// Prompts 进入后期望的提示符，arg 为模式参数（上下文名、设备号、接口名）
	Prompts func(arg string) session.PromptSet
	// Command 进入命令
	Command func(arg string) string

	ExitCommand string
	// ExitNoWait 退出命令发送后不等待提示符，等待 ExitSettle 即返回
	ExitNoWait bool
	ExitSettle time.Duration

	// CheckErrors 进出命令使用 ExecuteCommand 扫描错误特征
	CheckErrors bool
	RequiresArg bool
}

func (s Spec) exitCommand() string {
	if s.ExitCommand == "" {
		return DefaultExitCommand
	}
	return s.ExitCommand
}

// Action 设备族的命名动作
type Action func(ctx context.Context, n *Navigator) error

// Graph 设备族的模式图
type Graph struct {
	Family string
	Root   string
	Modes  map[string]Spec

	// ReturnCommand 非空时一条命令即可从任意深度回到根模式（Nexus 的 end）
	ReturnCommand string
	Actions       map[string]Action
	// ReconnectAction 重连后执行的动作名
	ReconnectAction string
}

// NewGraph 创建只有根模式的图
func NewGraph(family, root string) *Graph {
	return &Graph{
		Family:  family,
		Root:    root,
		Modes:   make(map[string]Spec),
		Actions: make(map[string]Action),
	}
}

// Add 注册模式，重复注册会覆盖（派生族用于扩展父族的模式）
func (g *Graph) Add(specs ...Spec) *Graph {
	for _, s := range specs {
		g.Modes[s.Name] = s
	}
	return g
}

// AddAction 注册命名动作
func (g *Graph) AddAction(name string, fn Action) *Graph {
	g.Actions[name] = fn
	return g
}

// Lookup 查找模式
func (g *Graph) Lookup(name string) (Spec, bool) {
	s, ok := g.Modes[name]
	return s, ok
}

// Names 全部模式名（不含根），按字母序
func (g *Graph) Names() []string {
	names := make([]string, 0, len(g.Modes))
	for name := range g.Modes {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ActionNames 全部动作名，按字母序
func (g *Graph) ActionNames() []string {
	names := make([]string, 0, len(g.Actions))
	for name := range g.Actions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Path 返回从根到 mode 的模式链（不含根）
func (g *Graph) Path(mode string) ([]string, error) {
	var path []string
	for cur := mode; cur != g.Root; {
		s, ok := g.Modes[cur]
		if !ok {
			return nil, fmt.Errorf("unknown mode %q in family %s", cur, g.Family)
		}
		if len(path) > len(g.Modes) {
			return nil, fmt.Errorf("mode %q has a parent cycle", mode)
		}
		path = append(path, cur)
		cur = s.Parent
	}
	slices.Reverse(path)
	return path, nil
}

// Validate 检查每个模式的父节点可达根且定义完整
func (g *Graph) Validate() error {
	if g.Root == "" {
		return fmt.Errorf("family %s has no root mode", g.Family)
	}
	if _, ok := g.Modes[g.Root]; ok {
		return fmt.Errorf("family %s declares root mode %q as a child", g.Family, g.Root)
	}
	for name, s := range g.Modes {
		if s.Name != name {
			return fmt.Errorf("mode %q registered as %q", s.Name, name)
		}
		if s.Prompts == nil || s.Command == nil {
			return fmt.Errorf("mode %q needs prompts and command", name)
		}
		if _, err := g.Path(name); err != nil {
			return err
		}
	}
	if g.ReconnectAction != "" {
		if _, ok := g.Actions[g.ReconnectAction]; !ok {
			return fmt.Errorf("reconnect action %q is not defined", g.ReconnectAction)
		}
	}
	return nil
}

// Fixed 返回与参数无关的命令
func Fixed(cmd string) func(string) string {
	return func(string) string { return cmd }
}

// WithArg 返回 "<prefix> <arg>" 形式的命令
func WithArg(prefix string) func(string) string {
	return func(arg string) string { return prefix + " " + arg }
}

// Static 返回与参数无关的提示符
func Static(prompts session.PromptSet) func(string) session.PromptSet {
	return func(string) session.PromptSet { return prompts.Clone() }
}
