package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/clinav/clinav/api/handler"
	"github.com/clinav/clinav/api/router"
	"github.com/clinav/clinav/internal/config"
	"github.com/clinav/clinav/internal/database"
	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/simulate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	if err := logger.Init(cfg.Log); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger.WithField("version", router.Version).Info("Starting clinav server")

	var opts []service.ManagerOption

	// 初始化数据库，命令历史与会话事件写入 SQLite
	var history handler.HistoryStore
	if cfg.Database.SQLite.Path != "" {
		if err := database.InitSQLite(cfg.Database.SQLite); err != nil {
			logger.Fatalf("Failed to initialize database: %v", err)
		}
		defer database.Close()
		recorder := database.NewHistoryRecorder(nil)
		history = recorder
		opts = append(opts, service.WithRecorder(recorder))
	}

	// 会话记录与归档
	var archiver *service.TranscriptArchiver
	if cfg.Transcript.Enabled {
		var onClose func(name, path string)
		if cfg.Storage.Minio.Enabled {
			archiver, err = service.NewTranscriptArchiver(cfg.Storage.Minio)
			if err != nil {
				logger.Fatalf("Failed to initialize transcript archiver: %v", err)
			}
			onClose = archiver.OnClose
		}
		sink, err := logger.NewTranscriptSink(cfg.Transcript, onClose)
		if err != nil {
			logger.Fatalf("Failed to initialize transcript sink: %v", err)
		}
		opts = append(opts, service.WithDebugSink(sink))
	}

	// 启动模拟服务（可选）
	if cfg.Server.Simulate != "" {
		if srv, err := startSimulate(cfg.Server.Simulate); err != nil {
			logger.Warnf("Simulate: failed to start: %v", err)
		} else {
			defer srv.Stop()
		}
	}

	manager, err := service.NewManager(cfg, opts...)
	if err != nil {
		logger.Fatalf("Failed to create device manager: %v", err)
	}
	logger.WithField("devices", len(manager.Names())).Info("device manager ready")

	r := router.SetupRouter(manager, history, cfg.Server.Mode)
	server := &http.Server{
		Addr:           cfg.GetServerAddr(),
		Handler:        r,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	go watchConfig(*configPath)

	// 等待中断信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Infof("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	// 先关闭会话，会话记录关闭后才会触发归档
	manager.Close()
	if archiver != nil {
		archiver.Wait()
	}
	logger.Infof("Server exited")
}

func startSimulate(path string) (*simulate.Server, error) {
	sc, err := simulate.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	srv, err := simulate.NewServer(sc)
	if err != nil {
		return nil, err
	}
	if err := srv.Start(sc.Listen); err != nil {
		return nil, err
	}
	logger.WithField("addr", srv.Addr().String()).WithField("devices", len(sc.Devices)).Info("Simulate: started")
	return srv, nil
}

// watchConfig 配置文件变更后刷新日志配置；设备与会话参数需要重启生效
func watchConfig(path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warnf("Config watch init failed: %v", err)
		return
	}
	defer watcher.Close()
	if err := watcher.Add(path); err != nil {
		logger.Warnf("Config watch add failed: %v", err)
		return
	}

	var debounce *time.Timer
	debounceInterval := 300 * time.Millisecond
	trigger := func() {
		newCfg, err := config.Load(path)
		if err != nil {
			logger.Warnf("Config reload failed: %v", err)
			return
		}
		if err := logger.Init(newCfg.Log); err != nil {
			logger.Warnf("Logger reload failed: %v", err)
			return
		}
		logger.WithField("level", newCfg.Log.Level).Info("Config reloaded")
	}
	for {
		select {
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceInterval, trigger)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Config watch error: %v", err)
		}
	}
}
