package model

import (
	"time"
)

// CommandRecord 一条命令执行记录
type CommandRecord struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Device    string    `json:"device" gorm:"type:varchar(128);not null;index:idx_command_device_time,priority:1"`
	Host      string    `json:"host" gorm:"type:varchar(128);not null"`
	Command   string    `json:"command" gorm:"type:text;not null"`
	Output    string    `json:"output" gorm:"type:text"`
	Status    string    `json:"status" gorm:"type:varchar(16);not null"`
	ErrorKind string    `json:"error_kind,omitempty" gorm:"type:varchar(32)"`
	ErrorMsg  string    `json:"error_msg,omitempty" gorm:"type:text"`
	StartTime time.Time `json:"start_time" gorm:"index:idx_command_device_time,priority:2"`
	Duration  int64     `json:"duration"` // 执行时长，毫秒
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (CommandRecord) TableName() string {
	return "command_records"
}

// 命令状态
const (
	CommandStatusSuccess = "success"
	CommandStatusFailed  = "failed"
)

// SessionEvent 会话生命周期事件（连接、登出、重连、提示符回退、切换备用地址）
type SessionEvent struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	Device    string    `json:"device" gorm:"type:varchar(128);not null;index"`
	Host      string    `json:"host" gorm:"type:varchar(128);not null"`
	Event     string    `json:"event" gorm:"type:varchar(32);not null"`
	Detail    string    `json:"detail" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName 表名
func (SessionEvent) TableName() string {
	return "session_events"
}
