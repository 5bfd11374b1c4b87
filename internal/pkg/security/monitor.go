// Package security watches authenticated traffic for signals that a
// session is being shared or replayed. Detections feed the request
// pipeline and the audit log.
package security

import (
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
	"github.com/mr9733n/blog-site/internal/pkg/session"
)

// Event types written to the audit log.
const (
	EventNetworkChange     = "network_change"
	EventConcurrentUse     = "concurrent_session_use"
	EventPatternAnomaly    = "activity_pattern_anomaly"
	EventFingerprintFail   = "fingerprint_mismatch"
	EventCsrfFail          = "csrf_failure"
	EventAccountBlocked    = "account_blocked"
	EventTokensRevoked     = "tokens_revoked"
	EventAdminDenied       = "admin_access_denied"
	EventLoginFailed       = "login_failed"
	EventSessionTerminated = "session_terminated"
)

// Pattern detection bounds over the activity window.
const (
	minPatternSamples = 5
	rapidGap          = 0.5 // seconds
	rapidGapLimit     = 3
)

// Monitor aggregates the per-request security checks.
type Monitor struct {
	db       *gorm.DB
	sessions *session.Store
	log      *zap.Logger
}

func NewMonitor(db *gorm.DB, sessions *session.Store, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Monitor{db: db, sessions: sessions, log: log}
}

// CheckNetworkChange compares the request's network hash with the one
// stored on the session. First sight stores the hash instead of failing.
func (m *Monitor) CheckNetworkChange(sess *models.UserSession, ip, ua string) error {
	current := NetworkHash(ip, ua)
	if sess.IPNetworkHash == nil || *sess.IPNetworkHash == "" {
		if err := m.sessions.SetNetworkHash(sess.SessionKey, current); err != nil {
			return err
		}
		sess.IPNetworkHash = &current
		return nil
	}
	if *sess.IPNetworkHash != current {
		return secerr.ErrNetworkMismatch
	}
	return nil
}

// TrackRequestCounter bumps the session request counter and reports
// concurrent use of the same session from two clients.
func (m *Monitor) TrackRequestCounter(sessionKey string) error {
	suspicious, err := m.sessions.IncrementCounter(sessionKey)
	if err != nil {
		return err
	}
	if suspicious {
		return secerr.ErrSuspiciousActivity
	}
	return nil
}

// TrackActivityPattern records the request time and flags sessions whose
// recent requests arrive faster than a human would produce them.
func (m *Monitor) TrackActivityPattern(sessionKey string, at time.Time) error {
	times, err := m.sessions.AppendActivity(sessionKey, at)
	if err != nil {
		return err
	}
	if isRapidFire(times) {
		return secerr.ErrSuspiciousActivity
	}
	return nil
}

func isRapidFire(times []float64) bool {
	if len(times) < minPatternSamples {
		return false
	}
	rapid := 0
	for i := 1; i < len(times); i++ {
		if times[i]-times[i-1] < rapidGap {
			rapid++
		}
	}
	return rapid >= rapidGapLimit
}

// RecordEvent writes an audit entry. Audit failures are logged, never
// surfaced; a broken audit trail must not take down request handling.
func (m *Monitor) RecordEvent(userID uint, sessionKey, eventType, path string, code int, details map[string]interface{}) {
	var detailsJSON string
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}
	ev := &models.SecurityEvent{
		UserID:       userID,
		SessionKey:   sessionKey,
		EventType:    eventType,
		RequestPath:  path,
		ResponseCode: code,
		Details:      detailsJSON,
		CreatedAt:    time.Now(),
	}
	if err := m.db.Create(ev).Error; err != nil {
		m.log.Error("record security event",
			zap.String("event", eventType),
			zap.Uint("user_id", userID),
			zap.Error(err))
	}
}

// IsBlocked reports whether an administrator has blocked the account.
func (m *Monitor) IsBlocked(userID uint) (bool, error) {
	var status models.UserStatus
	err := m.db.Where("user_id = ?", userID).First(&status).Error
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status.IsBlocked, nil
}

// RecentEvents returns audit entries for a user, newest first.
func (m *Monitor) RecentEvents(userID uint, limit int) ([]models.SecurityEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []models.SecurityEvent
	err := m.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// SweepEvents trims audit entries older than the retention period.
func (m *Monitor) SweepEvents(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	res := m.db.Where("created_at < ?", cutoff).Delete(&models.SecurityEvent{})
	return res.RowsAffected, res.Error
}

// Sensitive paths require elevated scrutiny: CSRF on every method and a
// fresh enough token for admins.
var sensitivePrefixes = []string{
	"/api/user/update",
	"/api/settings/token-settings",
	"/api/admin",
}

// IsSensitivePath reports whether the path needs the strict gate set.
func IsSensitivePath(path string) bool {
	for _, p := range sensitivePrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
