// Package models defines persisted entities and the application error taxonomy.
package models

import (
	"strings"
	"time"
)

// DefaultBlockThreshold is the warning count at which a user becomes blocked.
const DefaultBlockThreshold = 3

// User is a participant identified by the email the identity provider verified.
type User struct {
	Email     string    `gorm:"primaryKey;size:254" json:"email"`
	FirstName string    `gorm:"size:100;not null" json:"first_name"`
	LastName  string    `gorm:"size:100;not null" json:"last_name"`
	Warnings  int       `gorm:"not null;default:0" json:"warnings"`
	Blocked   bool      `gorm:"not null;default:false" json:"blocked"`
	Version   int64     `gorm:"not null;default:0" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM.
func (User) TableName() string {
	return "users"
}

// DisplayName is the name shown next to the user's messages and spaces.
func (u *User) DisplayName() string {
	name := strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
	if name == "" {
		return u.Email
	}
	return name
}

// BlockedAt reports whether a warning count reaches the block threshold.
func BlockedAt(warnings, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	return warnings >= threshold
}
