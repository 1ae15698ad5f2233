package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clinav/clinav/pkg/expect"
	"github.com/clinav/clinav/pkg/session"
	"github.com/clinav/clinav/simulate"
)

// 启动 SSH 模拟设备，并用进程内 SSH 客户端登录执行命令
func main() {
	simPath := flag.String("sim", "simulate/simulate.yaml", "模拟配置文件")
	device := flag.String("device", "", "模拟设备名")
	commands := flag.String("cmd", "show version", "命令，分号分隔")
	serve := flag.Bool("serve", false, "只启动模拟服务，不执行命令")
	flag.Parse()

	sc, err := simulate.LoadConfig(*simPath)
	if err != nil {
		fail(err)
	}
	srv, err := simulate.NewServer(sc)
	if err != nil {
		fail(err)
	}
	if err := srv.Start(sc.Listen); err != nil {
		fail(err)
	}
	defer srv.Stop()
	fmt.Println("simulate listening on", srv.Addr())

	if *serve {
		select {}
	}

	dev, ok := sc.Devices[strings.ToLower(*device)]
	if !ok {
		fail(fmt.Errorf("device %q not found in %s", *device, *simPath))
	}
	_, portStr, _ := net.SplitHostPort(srv.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s, err := session.New(session.Device{
		Name:        *device,
		Host:        "127.0.0.1",
		SSHPort:     port,
		Username:    dev.Username,
		Password:    dev.Password,
		Protocol:    expect.ProtocolSSH,
		Backend:     expect.BackendNative,
		DialTimeout: 5 * time.Second,
	}, session.Literals(dev.Prompt), session.WithCommandTimeout(10*time.Second))
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.Connect(ctx, 10*time.Second); err != nil {
		fail(err)
	}
	defer s.Logout()

	for _, c := range strings.Split(*commands, ";") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		out, err := s.ExecuteCommand(ctx, c)
		if err != nil {
			fmt.Printf("%s error: %v\n", c, err)
			continue
		}
		fmt.Printf("%s output (head):\n%s\n", c, headLines(out, 10))
	}
}

func headLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
