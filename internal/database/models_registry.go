package database

import "spacechat/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Space{},
		&models.SpaceMember{},
		&models.Message{},
		&models.MessageLike{},
		&models.ModerationEvent{},
	}
}
