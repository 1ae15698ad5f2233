package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clinav/clinav/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRunner struct {
	mutex    sync.Mutex
	commands []string
	checked  []string
	logouts  int
	fail     map[string]error
	onRun    func(n int)
}

func (f *fakeRunner) Name() string { return "asr-1" }

func (f *fakeRunner) RunCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error) {
	f.mutex.Lock()
	f.commands = append(f.commands, command)
	n := len(f.commands)
	err := f.fail[command]
	hook := f.onRun
	f.mutex.Unlock()
	if hook != nil {
		hook(n)
	}
	if err != nil {
		return "", err
	}
	return command + " output", nil
}

func (f *fakeRunner) ExecuteCommand(ctx context.Context, command string, opts ...session.RunOption) (string, error) {
	f.mutex.Lock()
	f.checked = append(f.checked, command)
	f.mutex.Unlock()
	return f.RunCommand(ctx, command, opts...)
}

func (f *fakeRunner) Logout() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	f.logouts++
	return nil
}

func (f *fakeRunner) sent() []string {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return append([]string(nil), f.commands...)
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	var mu sync.Mutex
	return func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		*slept = append(*slept, d)
		mu.Unlock()
		return nil
	}
}

func commands(results []Result) []string {
	var out []string
	for _, r := range results {
		out = append(out, r.Command)
	}
	return out
}

func TestNew_RejectsEmptySteps(t *testing.T) {
	_, err := New(&fakeRunner{}, nil)
	assert.Error(t, err)

	_, err = New(&fakeRunner{}, []Step{{}})
	assert.Error(t, err)
}

func TestWorker_OneShot(t *testing.T) {
	r := &fakeRunner{}
	var slept []time.Duration
	w, err := New(r, []Step{Command("show version"), Sleep(5 * time.Second), Command("show card table")},
		WithOneShot(), WithSleep(noSleep(&slept)))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	var got []Result
	for res := range w.Results() {
		got = append(got, res)
	}
	assert.Equal(t, []string{"show version", "show card table"}, commands(got))
	assert.Equal(t, "show version output", got[0].Output)
	assert.NoError(t, got[0].Err)
	assert.Equal(t, []time.Duration{5 * time.Second}, slept)
	assert.Equal(t, 1, r.logouts)
	assert.Error(t, w.Start(context.Background()), "一个任务只能启动一次")
}

func TestWorker_StopBetweenSteps(t *testing.T) {
	r := &fakeRunner{}
	var slept []time.Duration
	w, err := New(r, []Step{Command("a"), Command("b")}, WithSleep(noSleep(&slept)))
	require.NoError(t, err)
	r.onRun = func(n int) {
		if n == 3 {
			w.Stop()
		}
	}

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	// 第三条命令执行中收到停止，执行完后退出
	assert.Equal(t, []string{"a", "b", "a"}, r.sent())
	assert.Equal(t, []string{"a", "b", "a"}, commands(w.Drain()))
	assert.Equal(t, 1, r.logouts)
	w.Stop()
}

func TestWorker_CommandErrorEndsLoop(t *testing.T) {
	boom := errors.New("timeout")
	r := &fakeRunner{fail: map[string]error{"bad": boom}}
	w, err := New(r, []Step{Command("good"), {Command: "bad", CheckErrors: true}, Command("never")})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	got := w.Drain()
	require.Len(t, got, 2)
	assert.ErrorIs(t, got[1].Err, boom)
	assert.Equal(t, "timeout", got[1].Error)
	assert.Equal(t, []string{"bad"}, r.checked)
	assert.Equal(t, []string{"good", "bad"}, r.sent())
	assert.Equal(t, 1, r.logouts)
}

func TestWorker_Prelude(t *testing.T) {
	r := &fakeRunner{}
	w, err := New(r, []Step{Command("show clock")}, WithOneShot(), WithPrelude("timestamp"))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	assert.Equal(t, []string{"timestamp", "show clock"}, r.sent())
	assert.Equal(t, []string{"show clock"}, commands(w.Drain()))
}

func TestWorker_PreludeFailure(t *testing.T) {
	r := &fakeRunner{fail: map[string]error{"timestamp": errors.New("eof")}}
	w, err := New(r, []Step{Command("show clock")}, WithPrelude("timestamp"))
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	got := w.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, "timestamp", got[0].Command)
	assert.Error(t, got[0].Err)
	assert.Equal(t, []string{"timestamp"}, r.sent())
}

func TestWorker_FullQueueKeepsResultsAfterStop(t *testing.T) {
	r := &fakeRunner{}
	w, err := New(r, []Step{Command("a")}, WithQueueSize(1))
	require.NoError(t, err)
	r.onRun = func(n int) {
		if n == 2 {
			w.Stop()
		}
	}

	require.NoError(t, w.Start(context.Background()))
	w.Wait()

	assert.Len(t, w.Drain(), 2)
}

func TestWorker_StopInterruptsSleep(t *testing.T) {
	r := &fakeRunner{}
	w, err := New(r, []Step{Command("a"), Sleep(time.Hour)})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	<-w.Results()
	w.Stop()

	select {
	case <-w.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop during sleep")
	}
	assert.Equal(t, []string{"a"}, r.sent())
}

func TestWorker_WaitBeforeStart(t *testing.T) {
	w, err := New(&fakeRunner{}, []Step{Command("a")})
	require.NoError(t, err)
	w.Wait()
	assert.Empty(t, w.Drain())
}
