package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit_ReloadAppliesToExistingEntries(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "first.log")
	second := filepath.Join(dir, "second.log")
	t.Cleanup(func() { _ = Init(Config{Level: "info", Output: "console"}) })

	require.NoError(t, Init(Config{Level: "info", Format: "json", Output: "file", FilePath: first}))
	before := GetLogger()
	entry := ForDevice("r1", "10.0.0.1")
	entry.Debug("hidden at info")
	entry.Info("first output")

	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: "file", FilePath: second}))
	assert.Same(t, before, GetLogger())
	entry.Debug("visible after reload")

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Contains(t, string(data), "first output")
	assert.NotContains(t, string(data), "hidden at info")
	assert.NotContains(t, string(data), "visible after reload")

	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Contains(t, string(data), "visible after reload")
	assert.Contains(t, string(data), `"device":"r1"`)
}

func TestInit_InvalidFileOutputKeepsLogger(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kept.log")
	t.Cleanup(func() { _ = Init(Config{Level: "info", Output: "console"}) })

	require.NoError(t, Init(Config{Level: "info", Output: "file", FilePath: path}))
	require.Error(t, Init(Config{Level: "debug", Output: "file"}))

	WithField("k", "v").Info("still writing")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "still writing")
}
