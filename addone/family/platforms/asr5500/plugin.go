package asr5500

import (
	"strings"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/addone/family/platforms/mitg"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
)

const Name = "asr5500"

// AFIO 子模式的提示符带设备号与路径，只能按正则匹配
var (
	afioPrompt  = session.Pattern(`\[AFIO-D.*\] afio.*:`)
	petraPrompt = session.Pattern(`petra-b.*:`)
	aradPrompt  = session.Pattern(`\[AFIO-D.*\] arad.*:`)
	fe600Prompt = session.Pattern(`\[AFIO-D.*\] fe600.*:`)
)

// Plugin ASR5500 机箱，在 boxer 族之上增加交换网 AFIO 模式
type Plugin struct{}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Build(d family.Descriptor) (family.Profile, error) {
	if err := mitg.Validate(d); err != nil {
		return family.Profile{}, err
	}
	g := mitg.NewGraph(Name, d, LinuxPrompts(d.LinuxPrompt))
	g.Add(
		mode.Spec{
			Name:        "afio",
			Parent:      "linux",
			Prompts:     mode.Static(session.PromptSet{session.Literal("[AFCLI] afio:"), afioPrompt}),
			Command:     mode.Fixed("afio"),
			CheckErrors: true,
		},
		deviceMode("petra", "petra-b", petraPrompt),
		deviceMode("arad", "arad", aradPrompt),
		deviceMode("fe600", "fe600", fe600Prompt),
	)
	return family.Profile{
		Graph:          g,
		Prompts:        session.Literals(d.Prompt),
		FallbackPrompt: &mitg.GenericPrompt,
	}, nil
}

// deviceMode AFIO 下按设备号进入的芯片模式
func deviceMode(name, keyword string, prompt session.Prompt) mode.Spec {
	return mode.Spec{
		Name:        name,
		Parent:      "afio",
		Prompts:     mode.Static(session.PromptSet{prompt}),
		Command:     mode.WithArg(keyword + " system-device-id"),
		CheckErrors: true,
		RequiresArg: true,
	}
}

// LinuxPrompts 管理卡位于 5 号或 6 号槽位，两个槽位的 linux 提示符都接受
func LinuxPrompts(linux string) session.PromptSet {
	switch {
	case strings.Contains(linux, "card5"):
		return session.Literals(linux, strings.ReplaceAll(linux, "card5", "card6"))
	case strings.Contains(linux, "card6"):
		return session.Literals(strings.ReplaceAll(linux, "card6", "card5"), linux)
	default:
		return session.Literals(linux)
	}
}

func init() {
	family.Register(&Plugin{})
}
