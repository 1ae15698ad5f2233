package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/clinav/clinav/pkg/logger"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server     ServerConfig            `mapstructure:"server"`
	Session    SessionConfig           `mapstructure:"session"`
	Worker     WorkerConfig            `mapstructure:"worker"`
	Devices    map[string]DeviceConfig `mapstructure:"devices"`
	Log        logger.Config           `mapstructure:"log"`
	Transcript logger.TranscriptConfig `mapstructure:"transcript"`
	Database   DatabaseConfig          `mapstructure:"database"`
	Storage    StorageConfig           `mapstructure:"storage"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Simulate 非空时随服务启动 SSH 模拟设备，值为模拟配置文件路径
	Simulate string `mapstructure:"simulate"`
}

// SessionConfig 会话默认参数，设备未指定时使用
type SessionConfig struct {
	CommandTimeout      time.Duration `mapstructure:"command_timeout"`
	ConnectTimeout      time.Duration `mapstructure:"connect_timeout"`
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	LoginTimeoutRetries int           `mapstructure:"login_timeout_retries"`
	ErrorScanLines      int           `mapstructure:"error_scan_lines"`
	Backend             string        `mapstructure:"backend"`
	LineEnding          string        `mapstructure:"line_ending"`
	Charset             string        `mapstructure:"charset"`
	// ReconnectAttempts 命令超时或会话断开后的自动重连次数，0 表示不自动恢复
	ReconnectAttempts int           `mapstructure:"reconnect_attempts"`
	ReconnectSleep    time.Duration `mapstructure:"reconnect_sleep"`
	Probe             bool          `mapstructure:"probe"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	// Concurrency 多设备并发连接上限
	Concurrency int `mapstructure:"concurrency"`
}

// WorkerConfig 后台任务配置
type WorkerConfig struct {
	QueueSize int      `mapstructure:"queue_size"`
	Prelude   []string `mapstructure:"prelude"`
}

// DeviceConfig 单台设备描述
type DeviceConfig struct {
	Name           string `mapstructure:"-"`
	Family         string `mapstructure:"family"`
	Host           string `mapstructure:"host"`
	AltHost        string `mapstructure:"alt_host"`
	Username       string `mapstructure:"username"`
	Password       string `mapstructure:"password"`
	Protocol       string `mapstructure:"protocol"`
	Prompt         string `mapstructure:"prompt"`
	LinuxPrompt    string `mapstructure:"linux_prompt"`
	TSPort         int    `mapstructure:"ts_port"`
	SSHPort        int    `mapstructure:"ssh_port"`
	X11            bool   `mapstructure:"x11"`
	SystemHostname string `mapstructure:"system_hostname"`
	Backend        string `mapstructure:"backend"`
	Charset        string `mapstructure:"charset"`
	LineEnding     string `mapstructure:"line_ending"`
	Probe          bool   `mapstructure:"probe"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `mapstructure:"path"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// StorageConfig 会话记录归档配置
type StorageConfig struct {
	Minio MinioConfig `mapstructure:"minio"`
}

// MinioConfig 对象存储配置
type MinioConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Secure    bool   `mapstructure:"secure"`
	// Prefix 对象路径前缀，最终路径 {prefix}/{device}/{file}
	Prefix string `mapstructure:"prefix"`
	// RemoveLocal 上传成功后删除本地文件
	RemoveLocal bool `mapstructure:"remove_local"`
}

var globalConfig *Config

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigType("yaml")

	// 设置默认值
	setDefaults()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		// 默认配置文件路径
		viper.SetConfigName("config")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("../configs")
		viper.AddConfigPath("../../configs")
	}

	// 设置环境变量前缀
	viper.SetEnvPrefix("CLINAV")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 读取配置文件
	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// 设备名来自 map 键（viper 会将键转为小写）
	for name, d := range config.Devices {
		d.Name = name
		config.Devices[name] = d
	}

	// 环境变量替换
	config = replaceEnvVars(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	globalConfig = &config
	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.mode", "release")
	viper.SetDefault("server.read_timeout", 30*time.Second)
	// 命令执行可能持续较久，写超时需大于 session.command_timeout
	viper.SetDefault("server.write_timeout", 5*time.Minute)

	viper.SetDefault("session.command_timeout", 60*time.Second)
	viper.SetDefault("session.connect_timeout", 60*time.Second)
	viper.SetDefault("session.dial_timeout", 10*time.Second)
	viper.SetDefault("session.login_timeout_retries", 3)
	viper.SetDefault("session.error_scan_lines", 4)
	viper.SetDefault("session.backend", "spawn")
	viper.SetDefault("session.line_ending", "\r")
	viper.SetDefault("session.reconnect_attempts", 0)
	viper.SetDefault("session.reconnect_sleep", 10*time.Second)
	viper.SetDefault("session.probe", false)
	viper.SetDefault("session.probe_timeout", 3*time.Second)
	viper.SetDefault("session.concurrency", 8)

	viper.SetDefault("worker.queue_size", 64)
	viper.SetDefault("worker.prelude", []string{})

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
	viper.SetDefault("log.output", "console")
	viper.SetDefault("log.file_path", "./logs/clinav.log")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 5)
	viper.SetDefault("log.max_age", 30)

	viper.SetDefault("transcript.enabled", false)
	viper.SetDefault("transcript.dir", "./logs/transcripts")
	viper.SetDefault("transcript.max_size", 50)

	viper.SetDefault("database.sqlite.path", "./data/clinav.db")
	viper.SetDefault("database.sqlite.max_idle_conns", 1)
	viper.SetDefault("database.sqlite.max_open_conns", 1)
	viper.SetDefault("database.sqlite.conn_max_lifetime", time.Hour)

	viper.SetDefault("storage.minio.enabled", false)
	viper.SetDefault("storage.minio.bucket", "clinav-transcripts")
	viper.SetDefault("storage.minio.prefix", "transcripts")
}

// Get 获取全局配置
func Get() *Config {
	return globalConfig
}

// replaceEnvVars 替换 ${VAR} 形式的设备密码与对象存储密钥
func replaceEnvVars(config Config) Config {
	for name, d := range config.Devices {
		d.Password = expandEnv(d.Password)
		config.Devices[name] = d
	}
	config.Storage.Minio.AccessKey = expandEnv(config.Storage.Minio.AccessKey)
	config.Storage.Minio.SecretKey = expandEnv(config.Storage.Minio.SecretKey)
	return config
}

func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		envVar := strings.TrimSuffix(strings.TrimPrefix(v, "${"), "}")
		if value := os.Getenv(envVar); value != "" {
			return value
		}
	}
	return v
}

// Validate 校验设备描述与会话参数
func (c *Config) Validate() error {
	var errs []error
	for _, name := range c.DeviceNames() {
		d := c.Devices[name]
		if d.Host == "" {
			errs = append(errs, fmt.Errorf("device %s: host is required", name))
		}
		if d.Username == "" || d.Password == "" {
			errs = append(errs, fmt.Errorf("device %s: username and password are required", name))
		}
		switch d.Protocol {
		case "ssh", "telnet":
		default:
			errs = append(errs, fmt.Errorf("device %s: protocol must be ssh or telnet, got %q", name, d.Protocol))
		}
		switch d.Backend {
		case "", "spawn", "native":
		default:
			errs = append(errs, fmt.Errorf("device %s: backend must be spawn or native, got %q", name, d.Backend))
		}
	}
	switch c.Session.Backend {
	case "", "spawn", "native":
	default:
		errs = append(errs, fmt.Errorf("session.backend must be spawn or native, got %q", c.Session.Backend))
	}
	if c.Session.ErrorScanLines < 0 || c.Session.LoginTimeoutRetries < 0 {
		errs = append(errs, errors.New("session retry and scan limits must not be negative"))
	}
	return errors.Join(errs...)
}

// DeviceNames 按字母序返回设备名
func (c *Config) DeviceNames() []string {
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Device 获取设备描述，合并会话级默认值
func (c *Config) Device(name string) (DeviceConfig, bool) {
	d, ok := c.Devices[strings.ToLower(name)]
	if !ok {
		return DeviceConfig{}, false
	}
	if d.Backend == "" {
		d.Backend = c.Session.Backend
	}
	if d.Charset == "" {
		d.Charset = c.Session.Charset
	}
	if d.LineEnding == "" {
		d.LineEnding = c.Session.LineEnding
	}
	if c.Session.Probe {
		d.Probe = true
	}
	return d, true
}

// GetServerAddr 获取服务器地址
func (c *Config) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
