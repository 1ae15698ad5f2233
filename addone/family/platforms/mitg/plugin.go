package mitg

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
)

const (
	Name = "mitg"
	Root = "boxer"

	// ActionEnablePrivileges 回到 boxer 并打开测试命令
	ActionEnablePrivileges = "enable-privileges"
)

// GenericPrompt 主机名未配置的设备出厂提示符
var GenericPrompt = session.Literal("[local]")

// Plugin boxer CLI 设备族
type Plugin struct{}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Build(d family.Descriptor) (family.Profile, error) {
	if err := Validate(d); err != nil {
		return family.Profile{}, err
	}
	return family.Profile{
		Graph:          NewGraph(Name, d, session.Literals(d.LinuxPrompt)),
		Prompts:        session.Literals(d.Prompt),
		FallbackPrompt: &GenericPrompt,
	}, nil
}

// Validate boxer 族需要 CLI 与 linux 两个提示符
func Validate(d family.Descriptor) error {
	if d.Prompt == "" || d.LinuxPrompt == "" {
		return fmt.Errorf("device %s: both prompt and linux_prompt are required", d.Name)
	}
	return nil
}

// NewGraph 构建 boxer 族模式图，派生族在此基础上追加模式
func NewGraph(name string, d family.Descriptor, linux session.PromptSet) *mode.Graph {
	cli := d.Prompt
	stem := strings.ReplaceAll(cli, "#", "")

	g := mode.NewGraph(name, Root)
	g.Add(
		mode.Spec{
			Name:        "linux",
			Parent:      Root,
			Prompts:     mode.Static(linux),
			Command:     mode.Fixed("debug shell"),
			CheckErrors: true,
		},
		mode.Spec{
			Name:        "config",
			Parent:      Root,
			Prompts:     mode.Static(session.Literals(stem + "(config)#")),
			Command:     mode.Fixed("conf"),
			CheckErrors: true,
		},
		mode.Spec{
			Name:   "context",
			Parent: Root,
			Prompts: func(ctxName string) session.PromptSet {
				return session.Literals(strings.ReplaceAll(cli, "local", ctxName))
			},
			Command:     mode.WithArg("context"),
			ExitCommand: "context local",
			CheckErrors: true,
			RequiresArg: true,
		},
		mode.Spec{
			Name:        "unittest",
			Parent:      Root,
			Prompts:     mode.Static(session.Literals(stem + "(unittest)#")),
			Command:     mode.Fixed("unittest"),
			CheckErrors: true,
		},
		mode.Spec{
			Name:        "system-test",
			Parent:      Root,
			Prompts:     mode.Static(session.Literals(stem + "(system-test)#")),
			Command:     mode.Fixed("system-test"),
			CheckErrors: true,
		},
	)
	g.AddAction(ActionEnablePrivileges, enablePrivileges)
	g.ReconnectAction = ActionEnablePrivileges
	return g
}

func enablePrivileges(ctx context.Context, n *mode.Navigator) error {
	if err := n.CLIMode(ctx); err != nil {
		return err
	}
	_, err := n.ExecuteCommand(ctx, "cli test-commands password boxer")
	return err
}

func init() {
	family.Register(&Plugin{})
}
