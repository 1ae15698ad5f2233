package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/clinav/clinav/internal/model"
	"github.com/clinav/clinav/internal/service"
)

// HistoryStore 命令历史与会话事件查询
type HistoryStore interface {
	Commands(device string, limit int) ([]model.CommandRecord, error)
	Events(device string, limit int) ([]model.SessionEvent, error)
}

// HistoryHandler 历史记录处理器
type HistoryHandler struct {
	manager *service.Manager
	store   HistoryStore
}

// NewHistoryHandler 创建历史记录处理器，store 为空时接口返回 503
func NewHistoryHandler(manager *service.Manager, store HistoryStore) *HistoryHandler {
	return &HistoryHandler{manager: manager, store: store}
}

// History 查询设备命令历史与会话事件
// @Router /api/v1/devices/{name}/history [get]
func (h *HistoryHandler) History(c *gin.Context) {
	if h.store == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Code: "HISTORY_DISABLED", Message: "未启用历史记录"})
		return
	}
	st, err := h.manager.Status(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			badRequest(c, "limit 必须为非负整数")
			return
		}
		limit = n
	}

	commands, err := h.store.Commands(st.Name, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	events, err := h.store.Events(st.Name, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	success(c, "查询成功", gin.H{"commands": commands, "events": events})
}
