package simulate

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/clinav/clinav/pkg/logger"
)

// Server 基于 SSH 的模拟设备服务，用户名选择设备
type Server struct {
	cfg      *Config
	listener net.Listener
	hostKey  ssh.Signer
	active   int
	mu       sync.Mutex
	wg       sync.WaitGroup
}

// NewServer 创建 SSH 模拟服务，主机密钥在内存中生成
func NewServer(cfg *Config) (*Server, error) {
	_, key, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate host key: %w", err)
	}
	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create host key signer: %w", err)
	}
	return &Server{cfg: cfg, hostKey: signer}, nil
}

// Start 在 addr 上监听，addr 为空时使用配置中的 listen
func (s *Server) Start(addr string) error {
	if addr == "" {
		addr = s.cfg.Listen
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln
	logger.Infof("Simulate: ssh server listening on %s", ln.Addr())

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					time.Sleep(200 * time.Millisecond)
					continue
				}
				// listener closed
				return
			}
			// 并发限制
			s.mu.Lock()
			if s.cfg.MaxConn > 0 && s.active >= s.cfg.MaxConn {
				s.mu.Unlock()
				_ = conn.Close()
				logger.Warnf("Simulate: reject connection from %s, max_conn exceeded", conn.RemoteAddr())
				continue
			}
			s.active++
			s.mu.Unlock()

			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.handleConn(c)
				s.mu.Lock()
				s.active--
				s.mu.Unlock()
			}(conn)
		}
	}()
	return nil
}

// Addr 实际监听地址
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop 关闭监听并等待现有连接结束
func (s *Server) Stop() {
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) authenticate(user, password string) error {
	_, dev, ok := s.cfg.lookup(user)
	if !ok || dev.Password != password {
		return fmt.Errorf("access denied")
	}
	return nil
}

func (s *Server) handleConn(nc net.Conn) {
	srvCfg := &ssh.ServerConfig{
		PasswordCallback: func(meta ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			return nil, s.authenticate(meta.User(), string(password))
		},
		KeyboardInteractiveCallback: func(meta ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			// 兼容部分客户端默认使用 keyboard-interactive 的情况
			answers, err := challenge(meta.User(), "Authentication", []string{"Password:"}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) == 0 {
				return nil, fmt.Errorf("access denied")
			}
			return nil, s.authenticate(meta.User(), strings.TrimSpace(answers[0]))
		},
	}
	srvCfg.AddHostKey(s.hostKey)

	// 完成握手
	conn, chans, reqs, err := ssh.NewServerConn(nc, srvCfg)
	if err != nil {
		logger.Debugf("Simulate: SSH handshake failed from %s: %v", nc.RemoteAddr(), err)
		_ = nc.Close()
		return
	}
	defer conn.Close()

	// 丢弃全局请求
	go ssh.DiscardRequests(reqs)

	name, dev, _ := s.cfg.lookup(conn.User())
	for ch := range chans {
		if ch.ChannelType() != "session" {
			ch.Reject(ssh.UnknownChannelType, "unknown channel type")
			continue
		}
		channel, requests, err := ch.Accept()
		if err != nil {
			logger.Warnf("Simulate: channel accept failed: %v", err)
			continue
		}
		go s.handleSession(channel, requests, name, dev)
	}
}

func (s *Server) handleSession(channel ssh.Channel, requests <-chan *ssh.Request, name string, dev DeviceConfig) {
	defer channel.Close()
	for req := range requests {
		switch req.Type {
		case "pty-req", "env", "window-change":
			req.Reply(true, nil)
		case "shell":
			req.Reply(true, nil)
			logger.Debugf("Simulate: shell start for %s", name)
			// SSH 已完成认证，shell 直接进入提示符
			serve(channel, NewShell(name, dev, false))
			return
		default:
			req.Reply(false, nil)
		}
	}
}
