package family_test

import (
	"context"
	"testing"
	"time"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/addone/family/platforms/asr5500"
	_ "github.com/clinav/clinav/addone/family/platforms/cimc"
	"github.com/clinav/clinav/addone/family/platforms/mitg"
	_ "github.com/clinav/clinav/addone/family/platforms/nexus"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConn struct {
	prompts session.PromptSet
	sent    []string
}

func (c *recordingConn) Host() string               { return "10.1.1.1" }
func (c *recordingConn) State() session.State       { return session.Connected }
func (c *recordingConn) IsAlive() bool              { return true }
func (c *recordingConn) Prompts() session.PromptSet { return c.prompts.Clone() }
func (c *recordingConn) SetPrompt(p session.PromptSet) error {
	c.prompts = p.Clone()
	return nil
}

func (c *recordingConn) RunCommand(ctx context.Context, cmd string, opts ...session.RunOption) (string, error) {
	c.sent = append(c.sent, cmd)
	return "", nil
}

func (c *recordingConn) ExecuteCommand(ctx context.Context, cmd string, opts ...session.RunOption) (string, error) {
	return c.RunCommand(ctx, cmd, opts...)
}

func (c *recordingConn) Reconnect(ctx context.Context, attempts int, sleep, timeout time.Duration) error {
	return nil
}

func boxer() family.Descriptor {
	return family.Descriptor{Name: "asr-1", Username: "admin", Prompt: "[local]asr-1#", LinuxPrompt: "asr-1:card5-cpu0#"}
}

func TestRegistry(t *testing.T) {
	assert.Subset(t, family.Names(), []string{"default", "mitg", "asr5500", "nexus", "cimc"})
	assert.Equal(t, family.DefaultName, family.Get("unknown").Name())

	_, ok := family.Lookup("unknown")
	assert.False(t, ok)
}

func TestBuild_AllFamiliesValidate(t *testing.T) {
	for _, name := range family.Names() {
		t.Run(name, func(t *testing.T) {
			p, err := family.Build(name, boxer())
			require.NoError(t, err)
			assert.NotEmpty(t, p.Prompts)
			assert.NoError(t, p.Graph.Validate())
		})
	}
}

func TestBuild_BoxerRequiresLinuxPrompt(t *testing.T) {
	d := boxer()
	d.LinuxPrompt = ""
	for _, name := range []string{"mitg", "asr5500"} {
		_, err := family.Build(name, d)
		assert.Error(t, err, name)
	}
	_, err := family.Build("nexus", family.Descriptor{Name: "sw1"})
	assert.Error(t, err)
}

func TestMitg_Graph(t *testing.T) {
	p, err := family.Build("mitg", boxer())
	require.NoError(t, err)
	require.NotNil(t, p.FallbackPrompt)
	assert.Equal(t, mitg.GenericPrompt, *p.FallbackPrompt)
	assert.Equal(t, []string{"config", "context", "linux", "system-test", "unittest"}, p.Graph.Names())

	cfg, _ := p.Graph.Lookup("config")
	assert.Equal(t, session.Literals("[local]asr-1(config)#"), cfg.Prompts(""))
	ctxMode, _ := p.Graph.Lookup("context")
	assert.Equal(t, session.Literals("[billing]asr-1#"), ctxMode.Prompts("billing"))
	assert.Equal(t, "context billing", ctxMode.Command("billing"))
	ut, _ := p.Graph.Lookup("unittest")
	assert.Equal(t, session.Literals("[local]asr-1(unittest)#"), ut.Prompts(""))
}

func TestMitg_EnablePrivilegesFromLinux(t *testing.T) {
	p, err := family.Build("mitg", boxer())
	require.NoError(t, err)
	conn := &recordingConn{prompts: p.Prompts}
	nav := mode.New(conn, p.Graph)
	ctx := context.Background()

	_, err = nav.Enter(ctx, "linux", "")
	require.NoError(t, err)
	require.NoError(t, nav.Action(ctx, mitg.ActionEnablePrivileges))

	assert.Equal(t, []string{"debug shell", "exit", "cli test-commands password boxer"}, conn.sent)
	assert.True(t, conn.prompts.Equal(p.Prompts))
}

func TestASR5500_LinuxPrompts(t *testing.T) {
	assert.Equal(t, session.Literals("h:card5-cpu0#", "h:card6-cpu0#"), asr5500.LinuxPrompts("h:card5-cpu0#"))
	assert.Equal(t, session.Literals("h:card5-cpu0#", "h:card6-cpu0#"), asr5500.LinuxPrompts("h:card6-cpu0#"))
	assert.Equal(t, session.Literals("linux#"), asr5500.LinuxPrompts("linux#"))
	// 主机名中的数字不受影响
	assert.Equal(t, session.Literals("asr55:card5-cpu0#", "asr55:card6-cpu0#"), asr5500.LinuxPrompts("asr55:card5-cpu0#"))
}

func TestASR5500_FabricModes(t *testing.T) {
	p, err := family.Build("asr5500", boxer())
	require.NoError(t, err)
	conn := &recordingConn{prompts: p.Prompts}
	nav := mode.New(conn, p.Graph)
	ctx := context.Background()

	_, err = nav.Enter(ctx, "afio", "")
	require.Error(t, err)
	assert.Empty(t, conn.sent)

	_, err = nav.Enter(ctx, "linux", "")
	require.NoError(t, err)
	_, err = nav.Enter(ctx, "afio", "")
	require.NoError(t, err)
	afio := conn.Prompts()

	re, err := afio[1].Compile()
	require.NoError(t, err)
	assert.True(t, re.MatchString("[AFIO-D0] afio/fabric:"))

	_, err = nav.Enter(ctx, "petra", "3")
	require.NoError(t, err)
	_, err = nav.Exit(ctx, "petra")
	require.NoError(t, err)
	assert.True(t, conn.Prompts().Equal(afio))

	_, err = nav.Enter(ctx, "fe600", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"debug shell", "afio", "petra-b system-device-id 3", "exit", "fe600 system-device-id 1"}, conn.sent)
}

func TestNexus_InterfaceRequiresConfig(t *testing.T) {
	p, err := family.Build("nexus", family.Descriptor{Name: "sw1", Prompt: "sw1#"})
	require.NoError(t, err)
	conn := &recordingConn{prompts: p.Prompts}
	nav := mode.New(conn, p.Graph)
	ctx := context.Background()

	_, err = nav.Enter(ctx, "interface", "Ethernet1/1")
	require.Error(t, err)
	assert.Empty(t, conn.sent)

	_, err = nav.Enter(ctx, "config", "")
	require.NoError(t, err)
	_, err = nav.Enter(ctx, "interface", "Ethernet1/1")
	require.NoError(t, err)
	assert.True(t, conn.prompts.Equal(session.Literals("(config-if)#")))

	require.NoError(t, nav.CLIMode(ctx))
	assert.Equal(t, []string{"config", "interface Ethernet1/1", "end"}, conn.sent)
}

func TestCIMC_ChassisAndEnableRoot(t *testing.T) {
	p, err := family.Build("cimc", family.Descriptor{Name: "c1", Username: "admin", Prompt: "c1#"})
	require.NoError(t, err)
	chassis, _ := p.Graph.Lookup("chassis")
	assert.Equal(t, session.Literals("c1 /chassis #"), chassis.Prompts(""))
	assert.True(t, chassis.ExitNoWait)

	p, err = family.Build("cimc", family.Descriptor{Name: "c1", Username: "admin", Prompt: "admin@c1:~$"})
	require.NoError(t, err)
	conn := &recordingConn{prompts: p.Prompts}
	nav := mode.New(conn, p.Graph)
	require.NoError(t, nav.Action(context.Background(), "enable-root"))
	assert.Equal(t, []string{"sudo su -"}, conn.sent)
	assert.True(t, conn.prompts.Equal(session.Literals("admin@c1:~#")))

	p, err = family.Build("cimc", family.Descriptor{Name: "c1", Username: "root", Prompt: "root@c1:~#"})
	require.NoError(t, err)
	conn = &recordingConn{prompts: p.Prompts}
	nav = mode.New(conn, p.Graph)
	require.NoError(t, nav.Action(context.Background(), "enable-root"))
	assert.Empty(t, conn.sent)
}
