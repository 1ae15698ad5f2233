package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/clinav/clinav/addone/family/platforms/asr5500"
	_ "github.com/clinav/clinav/addone/family/platforms/cimc"
	_ "github.com/clinav/clinav/addone/family/platforms/mitg"
	_ "github.com/clinav/clinav/addone/family/platforms/nexus"
	"github.com/clinav/clinav/internal/config"
	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/simulate"
)

// deviceReport 单台设备的执行结果
type deviceReport struct {
	name    string
	outputs []string
	err     error
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	devices := flag.String("devices", "", "设备名，逗号分隔，为空表示全部")
	commands := flag.String("cmd", "", "命令，分号分隔")
	modeName := flag.String("mode", "", "执行命令前进入的模式")
	modeArg := flag.String("arg", "", "模式参数")
	action := flag.String("action", "", "执行命令前执行的族动作")
	timeout := flag.Duration("timeout", 0, "单条命令超时，0 使用配置")
	check := flag.Bool("check", true, "扫描输出中的错误特征")
	simPath := flag.String("sim", "", "使用进程内模拟设备的配置文件")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	var opts []service.ManagerOption
	if *simPath != "" {
		sc, err := simulate.LoadConfig(*simPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load simulate config: %v\n", err)
			os.Exit(1)
		}
		opts = append(opts, service.WithDialer(simulate.New(sc).Dial))
	}
	manager, err := service.NewManager(cfg, opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create device manager: %v\n", err)
		os.Exit(1)
	}
	defer manager.Close()

	names := splitList(*devices, ",")
	if len(names) == 0 {
		names = manager.Names()
	}
	cmds := splitList(*commands, ";")

	reports := make([]deviceReport, len(names))
	var mu sync.Mutex
	g, ctx := errgroup.WithContext(context.Background())
	if cfg.Session.Concurrency > 0 {
		g.SetLimit(cfg.Session.Concurrency)
	}
	for i, name := range names {
		i, name := i, name
		g.Go(func() error {
			outputs, err := runDevice(ctx, manager, name, cmds, *modeName, *modeArg, *action, *timeout, *check)
			mu.Lock()
			reports[i] = deviceReport{name: name, outputs: outputs, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range reports {
		fmt.Printf("===== %s =====\n", r.name)
		for i, out := range r.outputs {
			fmt.Printf("--- %s\n%s\n", cmds[i], out)
		}
		if r.err != nil {
			failed++
			fmt.Printf("ERROR: %v\n", r.err)
		}
	}
	if failed > 0 {
		os.Exit(2)
	}
}

// runDevice 连接设备，按需进入模式或执行动作，然后依次执行命令
func runDevice(ctx context.Context, m *service.Manager, name string, cmds []string, modeName, modeArg, action string, timeout time.Duration, check bool) ([]string, error) {
	if err := m.Connect(ctx, name); err != nil {
		return nil, err
	}
	defer func() { _ = m.Logout(name) }()

	if action != "" {
		if err := m.Action(ctx, name, action); err != nil {
			return nil, err
		}
	}
	if modeName != "" {
		if _, err := m.Mode(ctx, name, service.ModeRequest{Action: service.ModeEnter, Mode: modeName, Arg: modeArg}); err != nil {
			return nil, err
		}
	}

	outputs := make([]string, 0, len(cmds))
	for _, c := range cmds {
		out, err := m.RunCommand(ctx, name, service.CommandRequest{Command: c, Timeout: timeout, CheckErrors: check})
		if err != nil {
			return outputs, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
