package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/clinav/clinav/addone/family"
	"github.com/clinav/clinav/internal/config"
	"github.com/clinav/clinav/pkg/expect"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/pkg/mode"
	"github.com/clinav/clinav/pkg/session"
	"github.com/clinav/clinav/pkg/worker"
)

var (
	// ErrUnknownDevice 设备未在配置中声明
	ErrUnknownDevice = errors.New("unknown device")
	// ErrUnknownWorker 后台任务不存在或已被回收
	ErrUnknownWorker = errors.New("unknown worker")
	// ErrNotConnected 设备尚未建立会话
	ErrNotConnected = errors.New("device is not connected")
)

// 模式操作
const (
	ModeEnter      = "enter"
	ModeExit       = "exit"
	ModeCLI        = "cli"
	ModeTelnet     = "telnet"
	ModeExitTelnet = "exit-telnet"
)

// ManagerOption 设备管理器选项
type ManagerOption func(*Manager)

// WithDialer 替换所有会话的传输拨号器
func WithDialer(d expect.Dialer) ManagerOption {
	return func(m *Manager) { m.dialer = d }
}

// WithRecorder 设置命令与会话事件记录器
func WithRecorder(r session.Recorder) ManagerOption {
	return func(m *Manager) { m.recorder = r }
}

// WithDebugSink 设置会话记录输出
func WithDebugSink(sink session.DebugSink) ManagerOption {
	return func(m *Manager) { m.sink = sink }
}

// WithSessionOptions 追加会话选项
func WithSessionOptions(opts ...session.Option) ManagerOption {
	return func(m *Manager) { m.sessionOpts = append(m.sessionOpts, opts...) }
}

// Manager 按设备名管理会话、模式导航与后台任务
type Manager struct {
	config      *config.Config
	dialer      expect.Dialer
	recorder    session.Recorder
	sink        session.DebugSink
	sessionOpts []session.Option

	mutex   sync.RWMutex
	devices map[string]*device

	ctx    context.Context
	cancel context.CancelFunc
}

// device 单台设备的运行时状态，mutex 串行化该设备的所有会话操作
type device struct {
	mutex   sync.Mutex
	config  config.DeviceConfig
	profile family.Profile
	sess    *session.Session
	nav     *mode.Navigator
	workers map[string]*workerEntry
}

type workerEntry struct {
	id      string
	w       *worker.Worker
	steps   []worker.Step
	started time.Time
}

// DeviceStatus 设备状态快照
type DeviceStatus struct {
	Name      string   `json:"name"`
	Family    string   `json:"family"`
	Host      string   `json:"host"`
	Protocol  string   `json:"protocol"`
	State     string   `json:"state"`
	Connected bool     `json:"connected"`
	Mode      string   `json:"mode"`
	Stack     []string `json:"stack"`
	Modes     []string `json:"modes"`
	Actions   []string `json:"actions"`
	Workers   []string `json:"workers"`
}

// CommandRequest 一次命令执行请求
type CommandRequest struct {
	Command     string
	Timeout     time.Duration
	CheckErrors bool
	// Prompt 非空时本次命令改为等待该提示符
	Prompt string
}

// ModeRequest 一次模式切换请求
type ModeRequest struct {
	Action string
	Mode   string
	Arg    string
	Slot   int
	CPU    int
}

// WorkerRequest 后台任务请求
type WorkerRequest struct {
	Steps   []worker.Step
	OneShot bool
}

// WorkerStatus 后台任务快照
type WorkerStatus struct {
	ID      string          `json:"id"`
	Device  string          `json:"device"`
	Steps   []worker.Step   `json:"steps"`
	Started time.Time       `json:"started"`
	Done    bool            `json:"done"`
	Results []worker.Result `json:"results,omitempty"`
}

// NewManager 为配置中的每台设备构建模式图，任一设备无效则返回错误
func NewManager(cfg *config.Config, opts ...ManagerOption) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	m := &Manager{
		config:  cfg,
		devices: make(map[string]*device),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())

	var errs []error
	for _, name := range cfg.DeviceNames() {
		dc, _ := cfg.Device(name)
		profile, err := family.Build(dc.Family, family.Descriptor{
			Name:        dc.Name,
			Username:    dc.Username,
			Prompt:      dc.Prompt,
			LinuxPrompt: dc.LinuxPrompt,
		})
		if err != nil {
			errs = append(errs, err)
			continue
		}
		m.devices[name] = &device{config: dc, profile: profile, workers: make(map[string]*workerEntry)}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) lookup(name string) (*device, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	d, ok := m.devices[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, name)
	}
	return d, nil
}

// Names 按字母序返回设备名
func (m *Manager) Names() []string {
	return m.config.DeviceNames()
}

func (m *Manager) sessionDevice(dc config.DeviceConfig) session.Device {
	sc := m.config.Session
	return session.Device{
		Name:           dc.Name,
		Host:           dc.Host,
		AltHost:        dc.AltHost,
		Username:       dc.Username,
		Password:       dc.Password,
		Protocol:       expect.Protocol(dc.Protocol),
		Backend:        expect.Backend(dc.Backend),
		TSPort:         dc.TSPort,
		SSHPort:        dc.SSHPort,
		X11:            dc.X11,
		Charset:        dc.Charset,
		LineEnding:     dc.LineEnding,
		Probe:          dc.Probe,
		ProbeTimeout:   sc.ProbeTimeout,
		DialTimeout:    sc.DialTimeout,
		SystemHostname: dc.SystemHostname,
	}
}

// newSession 按设备配置与族参数创建一个未连接的会话
func (m *Manager) newSession(d *device) (*session.Session, error) {
	sc := m.config.Session
	opts := []session.Option{
		session.WithLogger(logger.ForDevice(d.config.Name, d.config.Host)),
		session.WithCommandTimeout(sc.CommandTimeout),
		session.WithLoginTimeoutRetries(sc.LoginTimeoutRetries),
		session.WithErrorScanLines(sc.ErrorScanLines),
	}
	if d.profile.FallbackPrompt != nil {
		opts = append(opts, session.WithFallbackPrompt(*d.profile.FallbackPrompt))
	}
	if m.dialer != nil {
		opts = append(opts, session.WithDialer(m.dialer))
	}
	if m.recorder != nil {
		opts = append(opts, session.WithRecorder(m.recorder))
	}
	if m.sink != nil {
		opts = append(opts, session.WithDebugSink(m.sink))
	}
	opts = append(opts, m.sessionOpts...)
	return session.New(m.sessionDevice(d.config), d.profile.Prompts, opts...)
}

func (m *Manager) newNavigator(d *device, sess *session.Session) *mode.Navigator {
	sc := m.config.Session
	opts := []mode.Option{mode.WithLogger(logger.ForDevice(d.config.Name, d.config.Host))}
	if sc.ReconnectAttempts > 0 {
		opts = append(opts, mode.WithRecovery(sc.ReconnectAttempts, sc.ReconnectSleep, sc.ConnectTimeout))
	}
	return mode.New(sess, d.profile.Graph, opts...)
}

// Connect 建立设备会话，已连接时直接返回
func (m *Manager) Connect(ctx context.Context, name string) error {
	d, err := m.lookup(name)
	if err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.sess != nil && d.sess.IsAlive() {
		return nil
	}
	// 断开的会话可能停留在某个模式的提示符上，重新建立会话与模式栈
	sess, err := m.newSession(d)
	if err != nil {
		return err
	}
	if err := sess.Connect(ctx, m.config.Session.ConnectTimeout); err != nil {
		return err
	}
	d.sess = sess
	d.nav = m.newNavigator(d, sess)
	return nil
}

// ConnectAll 并发连接多台设备，names 为空时连接全部设备
func (m *Manager) ConnectAll(ctx context.Context, names []string) map[string]error {
	if len(names) == 0 {
		names = m.Names()
	}
	results := make(map[string]error, len(names))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if limit := m.config.Session.Concurrency; limit > 0 {
		g.SetLimit(limit)
	}
	for _, name := range names {
		name := name
		g.Go(func() error {
			err := m.Connect(gctx, name)
			mu.Lock()
			results[name] = err
			mu.Unlock()
			// 单台失败不影响其他设备
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// Logout 关闭设备会话并重置模式栈
func (m *Manager) Logout(name string) error {
	d, err := m.lookup(name)
	if err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.sess == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	err = d.sess.Logout()
	d.sess, d.nav = nil, nil
	return err
}

// Reconnect 回到根模式并重新登录，随后执行族的重连动作
func (m *Manager) Reconnect(ctx context.Context, name string) error {
	d, err := m.lookup(name)
	if err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.sess == nil {
		sess, err := m.newSession(d)
		if err != nil {
			return err
		}
		d.sess = sess
		d.nav = m.newNavigator(d, sess)
	}
	sc := m.config.Session
	attempts := sc.ReconnectAttempts
	if attempts <= 0 {
		attempts = 1
	}
	return d.nav.Reconnect(ctx, attempts, sc.ReconnectSleep, sc.ConnectTimeout)
}

// withNavigator 在设备锁内对已连接会话执行 fn
func (m *Manager) withNavigator(name string, fn func(d *device) error) error {
	d, err := m.lookup(name)
	if err != nil {
		return err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if d.sess == nil || d.nav == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, name)
	}
	return fn(d)
}

// RunCommand 在设备当前模式下执行命令
func (m *Manager) RunCommand(ctx context.Context, name string, req CommandRequest) (string, error) {
	if strings.TrimSpace(req.Command) == "" {
		return "", errors.New("command is required")
	}
	var opts []session.RunOption
	if req.Timeout > 0 {
		opts = append(opts, session.WithTimeout(req.Timeout))
	}
	if req.Prompt != "" {
		opts = append(opts, session.WithPromptOverride(session.Literal(req.Prompt)))
	}

	var out string
	err := m.withNavigator(name, func(d *device) error {
		var err error
		if req.CheckErrors {
			out, err = d.nav.ExecuteCommand(ctx, req.Command, opts...)
		} else {
			out, err = d.nav.RunCommand(ctx, req.Command, opts...)
		}
		return err
	})
	return out, err
}

// Mode 执行模式切换
func (m *Manager) Mode(ctx context.Context, name string, req ModeRequest) (string, error) {
	var out string
	err := m.withNavigator(name, func(d *device) error {
		var err error
		switch req.Action {
		case ModeEnter:
			out, err = d.nav.Enter(ctx, req.Mode, req.Arg)
		case ModeExit:
			out, err = d.nav.Exit(ctx, req.Mode)
		case ModeCLI:
			err = d.nav.CLIMode(ctx)
		case ModeTelnet:
			out, err = d.nav.TelnetCard(ctx, req.Slot, req.CPU, m.config.Session.CommandTimeout)
		case ModeExitTelnet:
			out, err = d.nav.ExitTelnet(ctx)
		default:
			err = fmt.Errorf("unsupported mode action %q", req.Action)
		}
		return err
	})
	return out, err
}

// Action 执行设备族的命名动作
func (m *Manager) Action(ctx context.Context, name, action string) error {
	return m.withNavigator(name, func(d *device) error {
		return d.nav.Action(ctx, action)
	})
}

// Status 返回设备状态快照
func (m *Manager) Status(name string) (DeviceStatus, error) {
	d, err := m.lookup(name)
	if err != nil {
		return DeviceStatus{}, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()

	st := DeviceStatus{
		Name:     d.config.Name,
		Family:   d.profile.Graph.Family,
		Host:     d.config.Host,
		Protocol: d.config.Protocol,
		State:    session.Idle.String(),
		Mode:     d.profile.Graph.Root,
		Stack:    []string{},
		Modes:    d.profile.Graph.Names(),
		Actions:  d.profile.Graph.ActionNames(),
		Workers:  d.workerIDs(),
	}
	if d.sess != nil {
		st.Host = d.sess.Host()
		st.State = d.sess.State().String()
		st.Connected = d.sess.IsAlive()
		st.Mode = d.nav.Current()
		st.Stack = d.nav.Stack()
	}
	return st, nil
}

// Statuses 返回全部设备状态
func (m *Manager) Statuses() []DeviceStatus {
	names := m.Names()
	out := make([]DeviceStatus, 0, len(names))
	for _, name := range names {
		if st, err := m.Status(name); err == nil {
			out = append(out, st)
		}
	}
	return out
}

func (d *device) workerIDs() []string {
	ids := make([]string, 0, len(d.workers))
	for id := range d.workers {
		ids = append(ids, id)
	}
	return ids
}

// StartWorker 为后台任务单独建立一个会话并启动循环
func (m *Manager) StartWorker(ctx context.Context, name string, req WorkerRequest) (string, error) {
	d, err := m.lookup(name)
	if err != nil {
		return "", err
	}
	d.mutex.Lock()
	sess, err := m.newSession(d)
	d.mutex.Unlock()
	if err != nil {
		return "", err
	}

	opts := []worker.Option{
		worker.WithQueueSize(m.config.Worker.QueueSize),
		worker.WithLogger(logger.ForDevice(d.config.Name, d.config.Host)),
	}
	if len(m.config.Worker.Prelude) > 0 {
		opts = append(opts, worker.WithPrelude(m.config.Worker.Prelude...))
	}
	if req.OneShot {
		opts = append(opts, worker.WithOneShot())
	}
	w, err := worker.New(sess, req.Steps, opts...)
	if err != nil {
		return "", err
	}
	if err := sess.Connect(ctx, m.config.Session.ConnectTimeout); err != nil {
		return "", err
	}

	id := uuid.NewString()
	// 后台任务的生命周期跟随管理器而非请求
	if err := w.Start(m.ctx); err != nil {
		_ = sess.Logout()
		return "", err
	}

	d.mutex.Lock()
	d.workers[id] = &workerEntry{id: id, w: w, steps: req.Steps, started: time.Now()}
	d.mutex.Unlock()

	logger.WithFields(logrus.Fields{"device": d.config.Name, "worker": id, "steps": len(req.Steps)}).Info("worker started")
	return id, nil
}

// Worker 查看后台任务，不消费结果
func (m *Manager) Worker(name, id string) (WorkerStatus, error) {
	d, err := m.lookup(name)
	if err != nil {
		return WorkerStatus{}, err
	}
	d.mutex.Lock()
	defer d.mutex.Unlock()
	e, ok := d.workers[id]
	if !ok {
		return WorkerStatus{}, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}
	return e.status(d.config.Name, nil), nil
}

// StopWorker 停止后台任务，等待其退出并返回尚未读取的结果
func (m *Manager) StopWorker(name, id string) (WorkerStatus, error) {
	d, err := m.lookup(name)
	if err != nil {
		return WorkerStatus{}, err
	}
	d.mutex.Lock()
	e, ok := d.workers[id]
	if ok {
		delete(d.workers, id)
	}
	d.mutex.Unlock()
	if !ok {
		return WorkerStatus{}, fmt.Errorf("%w: %s", ErrUnknownWorker, id)
	}

	e.w.Stop()
	e.w.Wait()
	results := e.w.Drain()
	logger.WithFields(logrus.Fields{"device": d.config.Name, "worker": id, "results": len(results)}).Info("worker stopped")
	return e.status(d.config.Name, results), nil
}

func (e *workerEntry) status(device string, results []worker.Result) WorkerStatus {
	done := false
	select {
	case <-e.w.Done():
		done = true
	default:
	}
	return WorkerStatus{
		ID:      e.id,
		Device:  device,
		Steps:   e.steps,
		Started: e.started,
		Done:    done,
		Results: results,
	}
}

// Close 停止所有后台任务并登出所有会话
func (m *Manager) Close() {
	m.cancel()
	m.mutex.RLock()
	devices := make([]*device, 0, len(m.devices))
	for _, d := range m.devices {
		devices = append(devices, d)
	}
	m.mutex.RUnlock()

	for _, d := range devices {
		d.mutex.Lock()
		entries := make([]*workerEntry, 0, len(d.workers))
		for _, e := range d.workers {
			entries = append(entries, e)
		}
		d.workers = make(map[string]*workerEntry)
		sess := d.sess
		d.sess, d.nav = nil, nil
		d.mutex.Unlock()

		for _, e := range entries {
			e.w.Stop()
			e.w.Wait()
		}
		if sess != nil {
			_ = sess.Logout()
		}
	}
}
