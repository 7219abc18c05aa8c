package models

import (
	"time"

	"gorm.io/gorm"
)

type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the alumni identity the messaging core operates on. Account
// management (signup, OTP, profile editing) lives in a separate service;
// this model only carries what chat reads.
type User struct {
	ID        string         `gorm:"primaryKey;type:text" json:"id"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Name     string `json:"name"`
	Email    string `gorm:"uniqueIndex" json:"email"`
	Username string `gorm:"uniqueIndex" json:"username"`
	Image    string `json:"image"`

	Role      Role `gorm:"type:text;default:'USER'" json:"role"`
	IsBlocked bool `gorm:"default:false" json:"isBlocked"`
}
