package models

import "time"

// Space is a named, public group chat room.
type Space struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Name        string    `gorm:"size:120;not null;uniqueIndex" json:"name"`
	Description string    `gorm:"type:text" json:"description"`
	CreatedBy   string    `gorm:"size:254;not null;index" json:"created_by"`
	CreatorName string    `gorm:"size:200" json:"creator_name"`
	MemberCount int       `gorm:"not null;default:0" json:"member_count"`
	MessageSeq  int64     `gorm:"not null;default:0" json:"-"`
	Version     int64     `gorm:"not null;default:0" json:"-"`
	Members     []string  `gorm:"-" json:"members,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (Space) TableName() string {
	return "spaces"
}

// HasMember reports whether userID appears in the loaded member list.
func (s *Space) HasMember(userID string) bool {
	for _, m := range s.Members {
		if m == userID {
			return true
		}
	}
	return false
}

// SpaceMember is one row of a space's member set.
type SpaceMember struct {
	SpaceID  string    `gorm:"primaryKey;size:36" json:"space_id"`
	UserID   string    `gorm:"primaryKey;size:254;index" json:"user_id"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}

// TableName specifies the table name for GORM.
func (SpaceMember) TableName() string {
	return "space_members"
}
