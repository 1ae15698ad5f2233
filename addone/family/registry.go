package family

import (
	"slices"
	"sync"
)

// 注册中心，按设备族名称获取模式图构建器
var (
	registryMu sync.RWMutex
	registry   = map[string]Family{
		DefaultName: &DefaultFamily{},
	}
)

// Register 注册一个设备族
func Register(f Family) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[f.Name()] = f
}

// Get 获取指定设备族，不存在则返回 default
func Get(name string) Family {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if f, ok := registry[name]; ok {
		return f
	}
	return registry[DefaultName]
}

// Lookup 严格查找设备族
func Lookup(name string) (Family, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	f, ok := registry[name]
	return f, ok
}

// Names 已注册的设备族名称
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
