package models

import (
	"time"

	"gorm.io/datatypes"
)

// ModerationEvent is the audit record of one toxic verdict. MessageID is the
// primary key so a message can warn its sender at most once.
type ModerationEvent struct {
	MessageID     string            `gorm:"primaryKey;size:36" json:"message_id"`
	SpaceID       string            `gorm:"size:36;not null;index" json:"space_id"`
	SenderID      string            `gorm:"size:254;not null;index" json:"sender_id"`
	Score         float64           `json:"score"`
	Categories    datatypes.JSONMap `json:"categories"`
	WarningsAfter int               `json:"warnings_after"`
	CreatedAt     time.Time         `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (ModerationEvent) TableName() string {
	return "moderation_events"
}

// NoticeLevel distinguishes a warning from a block notice.
type NoticeLevel string

const (
	NoticeLevelWarning NoticeLevel = "warning"
	NoticeLevelError   NoticeLevel = "error"
)

// ModerationNotice is delivered to a sender after one of their messages is flagged.
type ModerationNotice struct {
	Type      string      `json:"type"`
	Level     NoticeLevel `json:"level"`
	Message   string      `json:"message"`
	SpaceID   string      `json:"space_id"`
	MessageID string      `json:"message_id"`
	Warnings  int         `json:"warnings"`
	Threshold int         `json:"threshold"`
	Blocked   bool        `json:"blocked"`
}

