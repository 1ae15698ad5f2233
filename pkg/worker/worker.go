package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/pkg/session"
	"github.com/sirupsen/logrus"
)

const defaultQueueSize = 64

// Step 一个步骤：执行命令或休眠
type Step struct {
	Command string        `json:"command,omitempty"`
	Sleep   time.Duration `json:"sleep,omitempty"`
	// Timeout 命令超时，0 使用会话默认值
	Timeout     time.Duration `json:"timeout,omitempty"`
	CheckErrors bool          `json:"check_errors,omitempty"`
}

// Command 命令步骤
func Command(cmd string) Step { return Step{Command: cmd} }

// Sleep 休眠步骤
func Sleep(d time.Duration) Step { return Step{Sleep: d} }

func (s Step) String() string {
	if s.Command != "" {
		return s.Command
	}
	return fmt.Sprintf("sleep %s", s.Sleep)
}

// Result 一条命令的执行结果
type Result struct {
	Command  string        `json:"command"`
	Output   string        `json:"output"`
	Err      error         `json:"-"`
	Error    string        `json:"error,omitempty"`
	Time     time.Time     `json:"time"`
	Duration time.Duration `json:"duration"`
}

// Runner 后台任务独占的会话
type Runner interface {
	Name() string
	RunCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error)
	ExecuteCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error)
	Logout() error
}

// Option 后台任务选项
type Option func(*Worker)

// WithOneShot 步骤列表只执行一遍
func WithOneShot() Option {
	return func(w *Worker) { w.oneShot = true }
}

// WithQueueSize 结果通道容量
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithPrelude 循环开始前执行一次的命令（例如 timestamp），输出不投递
func WithPrelude(commands ...string) Option {
	return func(w *Worker) { w.prelude = append(w.prelude, commands...) }
}

// WithSleep 替换休眠实现
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Worker) { w.sleep = fn }
}

// WithLogger 设置日志条目
func WithLogger(entry *logrus.Entry) Option {
	return func(w *Worker) { w.log = entry }
}

// Worker 在独占会话上循环执行步骤列表
type Worker struct {
	runner    Runner
	steps     []Step
	prelude   []string
	oneShot   bool
	queueSize int
	sleep     func(ctx context.Context, d time.Duration) error
	log       *logrus.Entry

	mutex    sync.Mutex
	running  bool
	stopped  bool
	results  chan Result
	pending  []Result
	stopChan chan struct{}
	done     chan struct{}
}

// New 创建后台任务，步骤列表不能为空
func New(runner Runner, steps []Step, opts ...Option) (*Worker, error) {
	if len(steps) == 0 {
		return nil, errors.New("worker needs at least one step")
	}
	for i, s := range steps {
		if s.Command == "" && s.Sleep <= 0 {
			return nil, fmt.Errorf("step %d is neither a command nor a sleep", i)
		}
	}
	w := &Worker{
		runner:    runner,
		steps:     steps,
		queueSize: defaultQueueSize,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sleep == nil {
		w.sleep = w.sleepUntilStop
	}
	if w.log == nil {
		w.log = logger.WithField("device", runner.Name())
	}
	w.results = make(chan Result, w.queueSize)
	return w, nil
}

// Start 启动后台循环
func (w *Worker) Start(ctx context.Context) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.running || w.stopped {
		return fmt.Errorf("worker is already started")
	}
	w.running = true
	go w.loop(ctx)

	w.log.WithField("steps", len(w.steps)).Info("worker started")
	return nil
}

// Stop 请求停止，当前步骤完成后生效，可重复调用
func (w *Worker) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.stopped {
		return
	}
	w.stopped = true
	close(w.stopChan)
}

// Wait 等待循环退出
func (w *Worker) Wait() {
	w.mutex.Lock()
	running := w.running
	w.mutex.Unlock()
	if !running {
		return
	}
	<-w.done
}

// Done 循环退出时关闭
func (w *Worker) Done() <-chan struct{} { return w.done }

// Results 结果通道，循环退出后关闭
func (w *Worker) Results() <-chan Result { return w.results }

// Drain 取出当前所有已产生的结果，不阻塞
func (w *Worker) Drain() []Result {
	var out []Result
	for {
		select {
		case r, ok := <-w.results:
			if !ok {
				return append(out, w.takePending()...)
			}
			out = append(out, r)
		default:
			return append(out, w.takePending()...)
		}
	}
}

func (w *Worker) takePending() []Result {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	p := w.pending
	w.pending = nil
	return p
}

func (w *Worker) stopRequested() bool {
	select {
	case <-w.stopChan:
		return true
	default:
		return false
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.done)
	defer close(w.results)
	defer func() {
		if err := w.runner.Logout(); err != nil {
			w.log.WithError(err).Warn("worker logout failed")
		}
		w.log.Info("worker stopped")
	}()

	for _, cmd := range w.prelude {
		if _, err := w.runner.RunCommand(ctx, cmd); err != nil {
			w.deliver(ctx, Result{Command: cmd, Err: err, Error: err.Error(), Time: time.Now()})
			return
		}
	}

	for {
		for _, step := range w.steps {
			if ctx.Err() != nil {
				return
			}
			if step.Command != "" {
				r := w.run(ctx, step)
				w.deliver(ctx, r)
				if r.Err != nil {
					w.log.WithError(r.Err).WithField("command", step.Command).Warn("worker command failed")
					return
				}
			} else if err := w.sleep(ctx, step.Sleep); err != nil {
				return
			}
			if w.stopRequested() {
				return
			}
		}
		if w.oneShot {
			return
		}
	}
}

func (w *Worker) run(ctx context.Context, step Step) Result {
	var opts []session.RunOption
	if step.Timeout > 0 {
		opts = append(opts, session.WithTimeout(step.Timeout))
	}
	start := time.Now()
	var (
		out string
		err error
	)
	if step.CheckErrors {
		out, err = w.runner.ExecuteCommand(ctx, step.Command, opts...)
	} else {
		out, err = w.runner.RunCommand(ctx, step.Command, opts...)
	}
	r := Result{Command: step.Command, Output: out, Err: err, Time: start, Duration: time.Since(start)}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// deliver 通道已满时阻塞等待消费者；停止请求到达后转存到 pending，由 Drain 取出
func (w *Worker) deliver(ctx context.Context, r Result) {
	select {
	case w.results <- r:
		return
	default:
	}
	select {
	case w.results <- r:
	case <-w.stopChan:
		w.keep(r)
	case <-ctx.Done():
		w.keep(r)
	}
}

func (w *Worker) keep(r Result) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.pending = append(w.pending, r)
}

// sleepUntilStop 休眠期间收到停止请求立即返回
func (w *Worker) sleepUntilStop(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-w.stopChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
