package service

import (
	"context"
	"sync"
	"testing"
	"time"

	_ "github.com/clinav/clinav/addone/family/platforms/nexus"
	"github.com/clinav/clinav/internal/config"
	"github.com/clinav/clinav/pkg/session"
	"github.com/clinav/clinav/pkg/worker"
	"github.com/clinav/clinav/simulate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecorder struct {
	mu       sync.Mutex
	commands []string
	events   []string
}

func (r *memRecorder) RecordCommand(res session.CommandResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, res.Device+":"+res.Command)
}

func (r *memRecorder) RecordEvent(device, host, event, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, device+":"+event)
}

func switchSim(prompt string) simulate.DeviceConfig {
	return simulate.DeviceConfig{
		Username: "admin",
		Password: "secret",
		Prompt:   prompt + "#",
		Login:    true,
		Modes: []simulate.ModeConfig{
			{Command: "config", Prompt: prompt + "(config)#"},
			{Command: "interface *", Prompt: prompt + "(config-if)#"},
		},
		Outputs: map[string]string{"show clock": "10:00:00"},
	}
}

func switchDevice(name string) config.DeviceConfig {
	return config.DeviceConfig{
		Name: name, Family: "nexus", Host: name,
		Username: "admin", Password: "secret",
		Protocol: "ssh", Prompt: name + "#",
	}
}

func newTestManager(t *testing.T, opts ...ManagerOption) (*Manager, *simulate.Simulator) {
	t.Helper()
	sim := simulate.New(&simulate.Config{Devices: map[string]simulate.DeviceConfig{
		"sw1": switchSim("sw1"),
		"sw2": switchSim("sw2"),
	}})
	cfg := &config.Config{
		Session: config.SessionConfig{
			CommandTimeout:      2 * time.Second,
			ConnectTimeout:      2 * time.Second,
			LoginTimeoutRetries: 1,
			ErrorScanLines:      4,
			Concurrency:         2,
		},
		Worker: config.WorkerConfig{QueueSize: 8},
		Devices: map[string]config.DeviceConfig{
			"sw1": switchDevice("sw1"),
			"sw2": switchDevice("sw2"),
		},
	}
	m, err := NewManager(cfg, append([]ManagerOption{WithDialer(sim.Dial)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m, sim
}

func TestManager_ConnectRunAndModes(t *testing.T) {
	rec := &memRecorder{}
	m, sim := newTestManager(t, WithRecorder(rec))
	ctx := context.Background()

	errs := m.ConnectAll(ctx, nil)
	assert.NoError(t, errs["sw1"])
	assert.NoError(t, errs["sw2"])
	require.NoError(t, m.Connect(ctx, "SW1"), "已连接时直接返回")
	assert.Equal(t, 1, sim.Dials("sw1"))

	out, err := m.RunCommand(ctx, "sw1", CommandRequest{Command: "show clock"})
	require.NoError(t, err)
	assert.Equal(t, "10:00:00", out)

	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeEnter, Mode: "config"})
	require.NoError(t, err)
	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeEnter, Mode: "interface", Arg: "Ethernet1/1"})
	require.NoError(t, err)

	st, err := m.Status("sw1")
	require.NoError(t, err)
	assert.True(t, st.Connected)
	assert.Equal(t, "nexus", st.Family)
	assert.Equal(t, "interface", st.Mode)
	assert.Equal(t, []string{"config", "interface"}, st.Stack)

	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeExit, Mode: "config"})
	assert.ErrorIs(t, err, session.ErrProtocolState, "只能退出栈顶模式")
	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeExit, Mode: "interface"})
	require.NoError(t, err)
	st, _ = m.Status("sw1")
	assert.Equal(t, "config", st.Mode)

	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeCLI})
	require.NoError(t, err)
	st, _ = m.Status("sw1")
	assert.Equal(t, "normal", st.Mode)
	assert.Empty(t, st.Stack)

	require.NoError(t, m.Logout("sw1"))
	st, _ = m.Status("sw1")
	assert.False(t, st.Connected)
	assert.ErrorIs(t, m.Logout("sw1"), ErrNotConnected)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Contains(t, rec.commands, "sw1:show clock")
	assert.Contains(t, rec.events, "sw1:"+session.EventConnect)
}

func TestManager_Errors(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.Connect(ctx, "missing"), ErrUnknownDevice)
	_, err := m.RunCommand(ctx, "sw1", CommandRequest{Command: "show clock"})
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, m.Connect(ctx, "sw1"))
	_, err = m.RunCommand(ctx, "sw1", CommandRequest{Command: "bogus", CheckErrors: true})
	assert.ErrorIs(t, err, session.ErrOutput)

	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: ModeEnter, Mode: "interface", Arg: "Ethernet1/1"})
	assert.ErrorIs(t, err, session.ErrProtocolState, "未进入 config 时不能进入 interface")

	_, err = m.Mode(ctx, "sw1", ModeRequest{Action: "jump"})
	assert.Error(t, err)

	assert.Error(t, m.Action(ctx, "sw1", "enable-root"))
	_, err = m.StopWorker("sw1", "nope")
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestManager_Reconnect(t *testing.T) {
	m, sim := newTestManager(t)
	ctx := context.Background()

	require.NoError(t, m.Connect(ctx, "sw2"))
	_, err := m.Mode(ctx, "sw2", ModeRequest{Action: ModeEnter, Mode: "config"})
	require.NoError(t, err)

	require.NoError(t, m.Reconnect(ctx, "sw2"))
	assert.Equal(t, 2, sim.Dials("sw2"))
	st, _ := m.Status("sw2")
	assert.True(t, st.Connected)
	assert.Equal(t, "normal", st.Mode)
}

func TestManager_Worker(t *testing.T) {
	m, sim := newTestManager(t)
	ctx := context.Background()

	id, err := m.StartWorker(ctx, "sw1", WorkerRequest{
		Steps:   []worker.Step{worker.Command("show clock")},
		OneShot: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, sim.Dials("sw1"), "后台任务使用独立会话")

	st, err := m.Status("sw1")
	require.NoError(t, err)
	assert.Equal(t, []string{id}, st.Workers)
	assert.False(t, st.Connected, "后台任务不占用前台会话")

	assert.Eventually(t, func() bool {
		ws, err := m.Worker("sw1", id)
		return err == nil && ws.Done
	}, 2*time.Second, 10*time.Millisecond)

	ws, err := m.StopWorker("sw1", id)
	require.NoError(t, err)
	require.Len(t, ws.Results, 1)
	assert.Equal(t, "10:00:00", ws.Results[0].Output)
	assert.True(t, ws.Done)

	_, err = m.Worker("sw1", id)
	assert.ErrorIs(t, err, ErrUnknownWorker)
}

func TestNewManager_InvalidDevice(t *testing.T) {
	cfg := &config.Config{Devices: map[string]config.DeviceConfig{
		"sw1": {Name: "sw1", Family: "nexus", Host: "sw1", Username: "u", Password: "p", Protocol: "ssh"},
	}}
	_, err := NewManager(cfg)
	assert.Error(t, err)
}
