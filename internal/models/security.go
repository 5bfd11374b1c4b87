package models

import "time"

// RevokedToken is a blacklist entry for a single token jti, or the
// sentinel "user_all_tokens:{user_id}" covering every token of a user.
type RevokedToken struct {
	JTI           string    `json:"jti"            gorm:"primaryKey;size:128"`
	UserID        uint      `json:"user_id"        gorm:"index;not null"`
	BlacklistedAt time.Time `json:"blacklisted_at" gorm:"not null"`
	ExpiresAt     time.Time `json:"expires_at"     gorm:"index;not null"`
}

func (RevokedToken) TableName() string { return "token_blacklist" }

// SecurityEvent is an append-only audit record. Rows are never mutated.
type SecurityEvent struct {
	ID           uint      `json:"id"            gorm:"primaryKey;autoIncrement"`
	UserID       uint      `json:"user_id"       gorm:"index;not null"`
	SessionKey   string    `json:"session_key"   gorm:"index;size:64"`
	EventType    string    `json:"event_type"    gorm:"index;size:64;not null"`
	RequestPath  string    `json:"request_path"  gorm:"size:255"`
	ResponseCode int       `json:"response_code"`
	Details      string    `json:"details"       gorm:"type:text"`
	CreatedAt    time.Time `json:"timestamp"`
}

func (SecurityEvent) TableName() string { return "security_events" }
