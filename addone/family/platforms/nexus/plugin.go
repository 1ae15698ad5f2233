package nexus

import (
	"fmt"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
)

const Name = "nexus"

// Plugin Nexus 交换机
type Plugin struct{}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Build(d family.Descriptor) (family.Profile, error) {
	if d.Prompt == "" {
		return family.Profile{}, fmt.Errorf("device %s: prompt is required", d.Name)
	}
	g := mode.NewGraph(Name, "normal")
	// end 从任意配置层级直接回到 exec 模式
	g.ReturnCommand = "end"
	g.Add(
		mode.Spec{
			Name:        "config",
			Parent:      "normal",
			Prompts:     mode.Static(session.Literals("(config)#")),
			Command:     mode.Fixed("config"),
			ExitCommand: "end",
		},
		mode.Spec{
			Name:        "interface",
			Parent:      "config",
			Prompts:     mode.Static(session.Literals("(config-if)#")),
			Command:     mode.WithArg("interface"),
			RequiresArg: true,
		},
	)
	return family.Profile{
		Graph:   g,
		Prompts: session.Literals(d.Prompt),
	}, nil
}

func init() {
	family.Register(&Plugin{})
}
