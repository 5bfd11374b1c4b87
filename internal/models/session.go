package models

import "time"

// Session states. A session never transitions back to active once expired.
const (
	SessionActive  = "active"
	SessionExpired = "expired"
)

// UserSession is the server-side record backing a pair of access/refresh
// tokens. The session key is the opaque handle embedded in token claims;
// it stays stable across refreshes.
type UserSession struct {
	SessionKey        string     `json:"session_key"        gorm:"primaryKey;size:64"`
	UserID            uint       `json:"user_id"            gorm:"index;not null"`
	CSRFState         string     `json:"-"                  gorm:"size:128;not null"`
	State             string     `json:"state"              gorm:"size:16;not null;default:active"`
	ExpiresAt         time.Time  `json:"expires_at"         gorm:"index;not null"`
	DeviceFingerprint *string    `json:"-"                  gorm:"type:text"`
	IPNetworkHash     *string    `json:"-"                  gorm:"size:64"`
	LastActivity      time.Time  `json:"last_activity"`
	RequestCounter    int64      `json:"request_counter"    gorm:"not null;default:0"`
	LastCounterUpdate *time.Time `json:"-"`
	ActivityTimes     FloatArray `json:"-"                  gorm:"type:text"`
	CreatedAt         time.Time  `json:"created"`
	UpdatedAt         time.Time  `json:"modified"`
}

func (UserSession) TableName() string { return "user_sessions" }
