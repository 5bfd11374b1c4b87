package models

import "time"

// UserModel represents a registered blog user.
// The first registered user (id 1) is the administrator.
type UserModel struct {
	ID        uint      `json:"id"       gorm:"primaryKey;autoIncrement"`
	Username  string    `json:"username" gorm:"uniqueIndex;size:64;not null"`
	Email     string    `json:"email"    gorm:"uniqueIndex;size:191;not null"`
	Password  string    `json:"-"        gorm:"not null"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}

func (UserModel) TableName() string { return "users" }

// UserStatus tracks the admin-managed block flag for a user.
// A missing row means the user is not blocked.
type UserStatus struct {
	UserID        uint       `json:"user_id"        gorm:"primaryKey"`
	IsBlocked     bool       `json:"is_blocked"     gorm:"not null;default:false"`
	BlockedAt     *time.Time `json:"blocked_at"`
	BlockedReason string     `json:"blocked_reason"`
}

func (UserStatus) TableName() string { return "user_status" }

// UserSettings holds per-user token lifetime preferences (seconds).
type UserSettings struct {
	UserID               uint `json:"user_id"                gorm:"primaryKey"`
	TokenLifetime        int  `json:"token_lifetime"         gorm:"not null"`
	RefreshTokenLifetime int  `json:"refresh_token_lifetime" gorm:"not null"`
}

func (UserSettings) TableName() string { return "user_settings" }
