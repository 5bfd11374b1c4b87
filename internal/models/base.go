package models

import "time"

// Base holds the common columns for content entities.
type Base struct {
	ID        uint      `json:"id"      gorm:"primaryKey;autoIncrement"`
	CreatedAt time.Time `json:"created"`
	UpdatedAt time.Time `json:"modified"`
}
