package models

import "time"

// Message is one chat entry inside a space. Seq is assigned by the store
// inside the send transaction and orders the feed.
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	SpaceID    string    `gorm:"size:36;not null;uniqueIndex:idx_messages_space_seq,priority:1" json:"space_id"`
	Seq        int64     `gorm:"not null;uniqueIndex:idx_messages_space_seq,priority:2" json:"seq"`
	Body       string    `gorm:"type:text;not null" json:"text"`
	SenderID   string    `gorm:"size:254;not null;index" json:"sender_id"`
	SenderName string    `gorm:"size:200" json:"sender_name"`
	Flagged    bool      `gorm:"not null;default:false" json:"flagged"`
	LikeCount  int       `gorm:"not null;default:0" json:"like_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (Message) TableName() string {
	return "messages"
}

// MessageLike records one user's like on a message.
type MessageLike struct {
	MessageID string    `gorm:"primaryKey;size:36" json:"message_id"`
	UserID    string    `gorm:"primaryKey;size:254" json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for GORM.
func (MessageLike) TableName() string {
	return "message_likes"
}
