package family

import (
	"fmt"

	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
)

// DefaultName 未指定或未知设备族时使用的名称
const DefaultName = "default"

// Descriptor 构建模式图所需的设备信息
type Descriptor struct {
	Name        string
	Username    string
	Prompt      string
	LinuxPrompt string
}

// Profile 设备族为一台设备生成的会话参数
type Profile struct {
	Graph   *mode.Graph
	Prompts session.PromptSet
	// FallbackPrompt 首次登录失败时追加的通用提示符，nil 表示不回退
	FallbackPrompt *session.Prompt
}

// Family 设备族插件
type Family interface {
	Name() string
	Build(d Descriptor) (Profile, error)
}

// DefaultFamily 只有根模式的通用设备族
type DefaultFamily struct{}

func (f *DefaultFamily) Name() string { return DefaultName }

func (f *DefaultFamily) Build(d Descriptor) (Profile, error) {
	if d.Prompt == "" {
		return Profile{}, fmt.Errorf("device %s: prompt is required", d.Name)
	}
	return Profile{
		Graph:   mode.NewGraph(DefaultName, "normal"),
		Prompts: session.Literals(d.Prompt),
	}, nil
}

// Build 按名称查找设备族并构建、校验模式图
func Build(name string, d Descriptor) (Profile, error) {
	p, err := Get(name).Build(d)
	if err != nil {
		return Profile{}, err
	}
	if err := p.Graph.Validate(); err != nil {
		return Profile{}, fmt.Errorf("device %s: %w", d.Name, err)
	}
	return p, nil
}
