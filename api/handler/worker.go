package handler

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/clinav/clinav/internal/service"
	"github.com/clinav/clinav/pkg/worker"
)

// WorkerHandler 后台任务处理器
type WorkerHandler struct {
	manager *service.Manager
}

// NewWorkerHandler 创建后台任务处理器
func NewWorkerHandler(manager *service.Manager) *WorkerHandler {
	return &WorkerHandler{manager: manager}
}

// StepRequest 一个步骤：command 与 sleep_sec 二选一
type StepRequest struct {
	Command     string  `json:"command"`
	SleepSec    float64 `json:"sleep_sec"`
	TimeoutSec  int     `json:"timeout_sec"`
	CheckErrors bool    `json:"check_errors"`
}

// StartWorkerRequest 启动后台任务请求
type StartWorkerRequest struct {
	Steps   []StepRequest `json:"steps" binding:"required"`
	OneShot bool          `json:"one_shot"`
}

func (s StepRequest) step() worker.Step {
	return worker.Step{
		Command:     s.Command,
		Sleep:       time.Duration(s.SleepSec * float64(time.Second)),
		Timeout:     time.Duration(s.TimeoutSec) * time.Second,
		CheckErrors: s.CheckErrors,
	}
}

// StartWorker 为设备启动后台任务
// @Router /api/v1/devices/{name}/workers [post]
func (h *WorkerHandler) StartWorker(c *gin.Context) {
	var req StartWorkerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "任务参数无效: "+err.Error())
		return
	}
	if len(req.Steps) == 0 {
		badRequest(c, "steps 不能为空")
		return
	}
	steps := make([]worker.Step, 0, len(req.Steps))
	for _, s := range req.Steps {
		if s.Command == "" && s.SleepSec <= 0 {
			badRequest(c, "每个步骤需要 command 或 sleep_sec")
			return
		}
		steps = append(steps, s.step())
	}

	name := c.Param("name")
	id, err := h.manager.StartWorker(c.Request.Context(), name, service.WorkerRequest{Steps: steps, OneShot: req.OneShot})
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, "任务已启动", gin.H{"id": id, "device": name})
}

// GetWorker 查看后台任务
// @Router /api/v1/devices/{name}/workers/{id} [get]
func (h *WorkerHandler) GetWorker(c *gin.Context) {
	ws, err := h.manager.Worker(c.Param("name"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, "查询成功", ws)
}

// StopWorker 停止后台任务并返回未读取的结果
// @Router /api/v1/devices/{name}/workers/{id} [delete]
func (h *WorkerHandler) StopWorker(c *gin.Context) {
	ws, err := h.manager.StopWorker(c.Param("name"), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	for i := range ws.Results {
		if ws.Results[i].Err != nil && ws.Results[i].Error == "" {
			ws.Results[i].Error = ws.Results[i].Err.Error()
		}
	}
	success(c, "任务已停止", ws)
}
