package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/logger"
)

// DeviceHandler 设备会话处理器
type DeviceHandler struct {
	manager *service.Manager
}

// NewDeviceHandler 创建设备会话处理器
func NewDeviceHandler(manager *service.Manager) *DeviceHandler {
	return &DeviceHandler{manager: manager}
}

// ConnectRequest 批量连接请求，devices 为空表示全部设备
type ConnectRequest struct {
	Devices []string `json:"devices"`
}

// CommandRequest 命令请求
type CommandRequest struct {
	Command     string `json:"command" binding:"required"`
	TimeoutSec  int    `json:"timeout_sec"`
	CheckErrors bool   `json:"check_errors"`
	Prompt      string `json:"prompt"`
}

// CommandResponse 命令结果
type CommandResponse struct {
	Device     string `json:"device"`
	Command    string `json:"command"`
	Output     string `json:"output"`
	DurationMs int64  `json:"duration_ms"`
}

// ModeRequest 模式切换请求
type ModeRequest struct {
	Action string `json:"action" binding:"required"`
	Mode   string `json:"mode"`
	Arg    string `json:"arg"`
	Slot   int    `json:"slot"`
	CPU    int    `json:"cpu"`
}

// ListDevices 列出设备及其会话状态
// @Router /api/v1/devices [get]
func (h *DeviceHandler) ListDevices(c *gin.Context) {
	success(c, "查询成功", h.manager.Statuses())
}

// GetDevice 查看单台设备
// @Router /api/v1/devices/{name} [get]
func (h *DeviceHandler) GetDevice(c *gin.Context) {
	st, err := h.manager.Status(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, "查询成功", st)
}

// Connect 建立设备会话
// @Router /api/v1/devices/{name}/connect [post]
func (h *DeviceHandler) Connect(c *gin.Context) {
	name := c.Param("name")
	if err := h.manager.Connect(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	st, _ := h.manager.Status(name)
	logger.WithField("device", name).Info("device connected")
	success(c, "连接成功", st)
}

// ConnectAll 并发连接多台设备，逐台返回结果
// @Router /api/v1/devices/connect [post]
func (h *DeviceHandler) ConnectAll(c *gin.Context) {
	var req ConnectRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "请求参数无效: "+err.Error())
			return
		}
	}
	errs := h.manager.ConnectAll(c.Request.Context(), req.Devices)
	results := make(map[string]string, len(errs))
	failed := 0
	for name, err := range errs {
		if err != nil {
			results[name] = err.Error()
			failed++
		} else {
			results[name] = "connected"
		}
	}
	status := http.StatusOK
	if failed > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, SuccessResponse{Code: "SUCCESS", Message: "批量连接完成", Data: results})
}

// Logout 关闭设备会话
// @Router /api/v1/devices/{name}/logout [post]
func (h *DeviceHandler) Logout(c *gin.Context) {
	if err := h.manager.Logout(c.Param("name")); err != nil {
		respondError(c, err)
		return
	}
	success(c, "已断开", nil)
}

// Reconnect 重新登录设备并回到根模式
// @Router /api/v1/devices/{name}/reconnect [post]
func (h *DeviceHandler) Reconnect(c *gin.Context) {
	name := c.Param("name")
	if err := h.manager.Reconnect(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	st, _ := h.manager.Status(name)
	success(c, "重连成功", st)
}

// RunCommand 在当前模式执行命令
// @Router /api/v1/devices/{name}/commands [post]
func (h *DeviceHandler) RunCommand(c *gin.Context) {
	var req CommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "命令参数无效: "+err.Error())
		return
	}
	if req.TimeoutSec < 0 {
		badRequest(c, "timeout_sec 不能为负数")
		return
	}
	name := c.Param("name")
	start := time.Now()
	out, err := h.manager.RunCommand(c.Request.Context(), name, service.CommandRequest{
		Command:     req.Command,
		Timeout:     time.Duration(req.TimeoutSec) * time.Second,
		CheckErrors: req.CheckErrors,
		Prompt:      req.Prompt,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, "执行成功", CommandResponse{
		Device:     name,
		Command:    req.Command,
		Output:     out,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// Mode 进入、退出模式或回到 CLI
// @Router /api/v1/devices/{name}/mode [post]
func (h *DeviceHandler) Mode(c *gin.Context) {
	var req ModeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "模式参数无效: "+err.Error())
		return
	}
	switch req.Action {
	case service.ModeEnter, service.ModeExit:
		if req.Mode == "" {
			badRequest(c, "mode 不能为空")
			return
		}
	case service.ModeCLI, service.ModeTelnet, service.ModeExitTelnet:
	default:
		badRequest(c, "不支持的模式操作: "+req.Action)
		return
	}

	name := c.Param("name")
	out, err := h.manager.Mode(c.Request.Context(), name, service.ModeRequest{
		Action: req.Action,
		Mode:   req.Mode,
		Arg:    req.Arg,
		Slot:   req.Slot,
		CPU:    req.CPU,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	st, _ := h.manager.Status(name)
	success(c, "切换成功", gin.H{"output": out, "status": st})
}

// Action 执行设备族的命名动作
// @Router /api/v1/devices/{name}/actions/{action} [post]
func (h *DeviceHandler) Action(c *gin.Context) {
	name := c.Param("name")
	if err := h.manager.Action(c.Request.Context(), name, c.Param("action")); err != nil {
		respondError(c, err)
		return
	}
	st, _ := h.manager.Status(name)
	success(c, "执行成功", st)
}
