package model

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog records one graph or presence mutation.
type AuditLog struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID   string         `gorm:"size:64;index" json:"trace_id"`
	UserID    string         `gorm:"size:36;index" json:"user_id"`
	Action    string         `gorm:"size:64;index" json:"action"`
	Detail    datatypes.JSON `json:"detail"`
	Error     string         `gorm:"size:255" json:"error"`
	IP        string         `gorm:"size:45" json:"ip"`
	CreatedAt time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
