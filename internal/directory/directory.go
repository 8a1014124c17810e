// Package directory is the user-directory collaborator: id to display name.
// Lookups are nullable-tolerant; an unknown user resolves to an empty name
// rather than an error.
package directory

import (
	"errors"

	"gorm.io/gorm"
)

// User is an external identity referenced by id
type User struct {
	gorm.Model  `json:"-"`
	UserID      string `gorm:"uniqueIndex" json:"user_id"`
	DisplayName string `json:"display_name"`
}

// DisplayName resolves a user id to its display name. Returns empty on
// unknown users or lookup failure.
func DisplayName(db *gorm.DB, userID string) string {
	var user User
	if err := db.Where("user_id = ?", userID).First(&user).Error; err != nil {
		return ""
	}
	return user.DisplayName
}

// Register creates or updates a directory entry
func Register(db *gorm.DB, userID, displayName string) error {
	var existing User
	err := db.Where("user_id = ?", userID).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return db.Create(&User{UserID: userID, DisplayName: displayName}).Error
	}
	if err != nil {
		return err
	}
	existing.DisplayName = displayName
	return db.Save(&existing).Error
}
