package simulate

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config 模拟设备配置（simulate.yaml）
type Config struct {
	// Listen SSH 模拟服务监听地址
	Listen  string                  `mapstructure:"listen"`
	MaxConn int                     `mapstructure:"max_conn"`
	Devices map[string]DeviceConfig `mapstructure:"devices"`
}

// DeviceConfig 单台模拟设备
type DeviceConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Prompt   string `mapstructure:"prompt"`
	// Login 连接后先出现 login:/Password: 交互（telnet 与终端服务器风格）
	Login  bool   `mapstructure:"login"`
	Banner string `mapstructure:"banner"`
	// Standby 模拟冗余机箱的备用管理卡，登录后只打印提示并挂起
	Standby bool `mapstructure:"standby"`

	Modes   []ModeConfig      `mapstructure:"modes"`
	Outputs map[string]string `mapstructure:"outputs"`
	// OutputDir 命令输出文件目录，文件名为命令（空格可替换为下划线）加 .txt
	OutputDir string `mapstructure:"output_dir"`
	// Hang 不返回提示符的命令，用于模拟超时
	Hang []string `mapstructure:"hang"`
}

// ModeConfig 一条进入模式的命令。Command 以 " *" 结尾时接受一个参数，
// Prompt 中的 {arg} 会被替换。
type ModeConfig struct {
	Command string `mapstructure:"command"`
	Prompt  string `mapstructure:"prompt"`
}

// LoadConfig 读取模拟器配置
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	v.SetDefault("listen", "127.0.0.1:22001")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read simulate config: %w", err)
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal simulate config: %w", err)
	}
	for name, d := range cfg.Devices {
		if strings.TrimSpace(d.Prompt) == "" {
			return nil, fmt.Errorf("simulated device %s: prompt is required", name)
		}
	}
	return &cfg, nil
}

// lookup 按名称或用户名查找设备
func (c *Config) lookup(key string) (string, DeviceConfig, bool) {
	for _, k := range []string{key, strings.ToLower(key)} {
		if d, ok := c.Devices[k]; ok {
			return k, d, true
		}
	}
	for name, d := range c.Devices {
		if d.Username == key {
			return name, d, true
		}
	}
	return "", DeviceConfig{}, false
}
