package main

// 注册设备族插件
import (
	_ "github.com/clinav/clinav/addone/family/platforms/asr5500"
	_ "github.com/clinav/clinav/addone/family/platforms/cimc"
	_ "github.com/clinav/clinav/addone/family/platforms/mitg"
	_ "github.com/clinav/clinav/addone/family/platforms/nexus"
)
