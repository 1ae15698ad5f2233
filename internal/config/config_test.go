package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

const sample = `
session:
  command_timeout: 90s
  backend: native
devices:
  ASR-1:
    family: asr5500
    host: 10.0.0.1
    alt_host: 10.0.0.2
    username: admin
    password: ${CLINAV_TEST_PASSWORD}
    protocol: telnet
    prompt: "[local]asr-1#"
    linux_prompt: "asr-1:card5-cpu0#"
    ts_port: 2033
  sw1:
    family: nexus
    host: 10.0.1.1
    username: admin
    password: secret
    protocol: ssh
    prompt: "sw1#"
    backend: spawn
`

func TestLoad(t *testing.T) {
	t.Setenv("CLINAV_TEST_PASSWORD", "s3cret")
	cfg, err := Load(writeConfig(t, sample))
	require.NoError(t, err)
	assert.Same(t, cfg, Get())

	assert.Equal(t, 90*time.Second, cfg.Session.CommandTimeout)
	assert.Equal(t, 3, cfg.Session.LoginTimeoutRetries, "未配置时使用默认值")
	assert.Equal(t, 4, cfg.Session.ErrorScanLines)
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
	assert.Equal(t, []string{"asr-1", "sw1"}, cfg.DeviceNames())

	d, ok := cfg.Device("ASR-1")
	require.True(t, ok)
	assert.Equal(t, "asr-1", d.Name)
	assert.Equal(t, "s3cret", d.Password)
	assert.Equal(t, 2033, d.TSPort)
	assert.Equal(t, "native", d.Backend, "继承会话级默认后端")
	assert.Equal(t, "\r", d.LineEnding)

	sw, ok := cfg.Device("sw1")
	require.True(t, ok)
	assert.Equal(t, "spawn", sw.Backend)

	_, ok = cfg.Device("missing")
	assert.False(t, ok)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CLINAV_SESSION_ERROR_SCAN_LINES", "6")
	cfg, err := Load(writeConfig(t, "log:\n  level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Session.ErrorScanLines)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidate(t *testing.T) {
	cfg := &Config{Devices: map[string]DeviceConfig{
		"a": {Host: "", Username: "u", Password: "p", Protocol: "ssh"},
		"b": {Host: "h", Protocol: "ftp"},
		"c": {Host: "h", Username: "u", Password: "p", Protocol: "telnet", Backend: "serial"},
		"d": {Host: "h", Username: "u", Password: "p", Protocol: "telnet"},
	}}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device a: host is required")
	assert.Contains(t, err.Error(), "device b: username and password are required")
	assert.Contains(t, err.Error(), `device b: protocol must be ssh or telnet, got "ftp"`)
	assert.Contains(t, err.Error(), `device c: backend must be spawn or native`)
	assert.NotContains(t, err.Error(), "device d")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
