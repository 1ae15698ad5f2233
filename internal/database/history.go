package database

import (
	"errors"
	"time"

	"github.com/clinav/clinav/internal/model"
	"github.com/clinav/clinav/pkg/logger"
	"github.com/clinav/clinav/pkg/session"
	"gorm.io/gorm"
)

const (
	writeAttempts = 5
	writeBackoff  = 50 * time.Millisecond
)

// HistoryRecorder 将命令与会话事件写入 SQLite，实现 session.Recorder
type HistoryRecorder struct {
	db *gorm.DB
}

// NewHistoryRecorder 使用给定连接创建记录器，conn 为 nil 时使用全局连接
func NewHistoryRecorder(conn *gorm.DB) *HistoryRecorder {
	if conn == nil {
		conn = db
	}
	return &HistoryRecorder{db: conn}
}

// RecordCommand 写入一条命令记录，失败只记录日志
func (h *HistoryRecorder) RecordCommand(res session.CommandResult) {
	rec := model.CommandRecord{
		Device:    res.Device,
		Host:      res.Host,
		Command:   res.Command,
		Output:    res.Output,
		Status:    model.CommandStatusSuccess,
		StartTime: res.Start,
		Duration:  res.Duration.Milliseconds(),
	}
	if res.Err != nil {
		rec.Status = model.CommandStatusFailed
		rec.ErrorMsg = res.Err.Error()
		if kind := session.KindOf(res.Err); kind != 0 {
			rec.ErrorKind = kind.String()
		}
	}
	err := withRetry(h.db, func(tx *gorm.DB) error {
		return tx.Create(&rec).Error
	}, writeAttempts, writeBackoff)
	if err != nil {
		logger.ForDevice(res.Device, res.Host).WithError(err).Warn("failed to record command")
	}
}

// RecordEvent 写入一条会话事件
func (h *HistoryRecorder) RecordEvent(device, host, event, detail string) {
	ev := model.SessionEvent{Device: device, Host: host, Event: event, Detail: detail}
	err := withRetry(h.db, func(tx *gorm.DB) error {
		return tx.Create(&ev).Error
	}, writeAttempts, writeBackoff)
	if err != nil {
		logger.ForDevice(device, host).WithError(err).Warn("failed to record session event")
	}
}

// Commands 查询设备最近的命令记录，按时间倒序
func (h *HistoryRecorder) Commands(device string, limit int) ([]model.CommandRecord, error) {
	if h.db == nil {
		return nil, errors.New("database not initialized")
	}
	var out []model.CommandRecord
	err := h.db.Where("device = ?", device).
		Order("start_time DESC").Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	return out, err
}

// Events 查询设备最近的会话事件，按时间倒序
func (h *HistoryRecorder) Events(device string, limit int) ([]model.SessionEvent, error) {
	if h.db == nil {
		return nil, errors.New("database not initialized")
	}
	var out []model.SessionEvent
	err := h.db.Where("device = ?", device).
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&out).Error
	return out, err
}

// Health 检查底层连接
func (h *HistoryRecorder) Health() error { return ping(h.db) }

// Stats 连接池统计信息，未初始化时为 nil
func (h *HistoryRecorder) Stats() map[string]interface{} { return stats(h.db) }

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}
