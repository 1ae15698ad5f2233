package cimc

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
)

const (
	Name = "cimc"

	// ActionEnableRoot 非 root 用户通过 sudo 切换到 root
	ActionEnableRoot = "enable-root"

	chassisExitSettle = 10 * time.Second
)

// Plugin 机箱管理控制器（CIMC）
type Plugin struct{}

func (p *Plugin) Name() string { return Name }

func (p *Plugin) Build(d family.Descriptor) (family.Profile, error) {
	if d.Prompt == "" {
		return family.Profile{}, fmt.Errorf("device %s: prompt is required", d.Name)
	}
	g := mode.NewGraph(Name, "normal")
	g.Add(mode.Spec{
		Name:       "chassis",
		Parent:     "normal",
		Prompts:    mode.Static(session.Literals(strings.ReplaceAll(d.Prompt, "#", " /chassis #"))),
		Command:    mode.Fixed("scope chassis"),
		ExitNoWait: true,
		ExitSettle: chassisExitSettle,
	})
	user := d.Username
	g.AddAction(ActionEnableRoot, func(ctx context.Context, n *mode.Navigator) error {
		return enableRoot(ctx, n, user)
	})
	g.ReconnectAction = ActionEnableRoot

	return family.Profile{
		Graph:   g,
		Prompts: session.Literals(d.Prompt),
	}, nil
}

func enableRoot(ctx context.Context, n *mode.Navigator, user string) error {
	if user == "root" {
		return nil
	}
	current := n.RootPrompts()
	root := make(session.PromptSet, len(current))
	for i, p := range current {
		p.Text = strings.ReplaceAll(p.Text, "$", "#")
		root[i] = p
	}
	if err := n.SetRootPrompts(root); err != nil {
		return err
	}
	_, err := n.RunCommand(ctx, "sudo su -")
	return err
}

func init() {
	family.Register(&Plugin{})
}
