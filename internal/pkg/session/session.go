// Package session manages server-side session records. Tokens only carry a
// session key; everything revocable lives here.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/mr9733n/blog-site/internal/models"
	"github.com/mr9733n/blog-site/internal/pkg/secerr"
)

const (
	// csrfRotateAfter is how long a CSRF state stays fresh before GET
	// requests trigger a rotation.
	csrfRotateAfter = 5 * time.Minute
	// csrfMaxAge is the hard staleness limit; older states are rejected
	// even when the token part matches.
	csrfMaxAge = 24 * time.Hour

	// activityWindow is how many request timestamps are kept per session.
	activityWindow = 20
)

// Store persists and validates user sessions.
type Store struct {
	db            *gorm.DB
	maxInactivity time.Duration
}

// NewStore creates a session store. maxInactivity bounds the idle time
// after which a session is treated as expired.
func NewStore(db *gorm.DB, maxInactivity time.Duration) *Store {
	if maxInactivity <= 0 {
		maxInactivity = time.Hour
	}
	return &Store{db: db, maxInactivity: maxInactivity}
}

// Create opens a new session for the user. fingerprint and ipNetHash may be
// nil when the client did not supply the corresponding signal.
func (s *Store) Create(userID uint, ttl time.Duration, fingerprint, ipNetHash *string) (*models.UserSession, error) {
	now := time.Now()
	sess := &models.UserSession{
		SessionKey:        randomKey(),
		UserID:            userID,
		CSRFState:         NewCSRFState(),
		State:             models.SessionActive,
		ExpiresAt:         now.Add(ttl),
		DeviceFingerprint: fingerprint,
		IPNetworkHash:     ipNetHash,
		LastActivity:      now,
		ActivityTimes:     models.FloatArray{},
	}
	if err := s.db.Create(sess).Error; err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session by key. Returns secerr.ErrSessionInvalid when the
// record does not exist.
func (s *Store) Get(sessionKey string) (*models.UserSession, error) {
	if sessionKey == "" {
		return nil, secerr.ErrSessionInvalid
	}
	var sess models.UserSession
	err := s.db.Where("session_key = ?", sessionKey).First(&sess).Error
	if err == gorm.ErrRecordNotFound {
		return nil, secerr.ErrSessionInvalid
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Validate loads the session and checks state, expiry, ownership and
// inactivity in one pass. Sessions idle past the inactivity limit are
// flipped to expired before the error is returned.
func (s *Store) Validate(sessionKey string, userID uint) (*models.UserSession, error) {
	sess, err := s.Get(sessionKey)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, secerr.ErrSessionUserMismatch
	}
	now := time.Now()
	if sess.State != models.SessionActive || now.After(sess.ExpiresAt) {
		return nil, secerr.ErrSessionInvalid
	}
	if now.Sub(sess.LastActivity) > s.maxInactivity {
		_ = s.SetState(sessionKey, models.SessionExpired)
		return nil, secerr.ErrSessionInvalid
	}
	return sess, nil
}

// ValidateFingerprint compares the stored device fingerprint hash with the
// one carried in the token. A session without a stored fingerprint fails
// closed rather than passing unbound.
func ValidateFingerprint(sess *models.UserSession, tokenFpHash string) error {
	if tokenFpHash == "" {
		// Token issued without a fingerprint; nothing to bind against.
		return nil
	}
	if sess.DeviceFingerprint == nil || *sess.DeviceFingerprint == "" {
		return secerr.ErrFingerprintMismatch
	}
	if *sess.DeviceFingerprint != tokenFpHash {
		return secerr.ErrFingerprintMismatch
	}
	return nil
}

// Touch updates last_activity to now.
func (s *Store) Touch(sessionKey string) error {
	return s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("last_activity", time.Now()).Error
}

// SetState transitions a session to the given state.
func (s *Store) SetState(sessionKey, state string) error {
	return s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("state", state).Error
}

// SetFingerprint stores a fingerprint hash on first sight.
func (s *Store) SetFingerprint(sessionKey, fpHash string) error {
	return s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("device_fingerprint", fpHash).Error
}

// SetNetworkHash stores the network hash on first sight.
func (s *Store) SetNetworkHash(sessionKey, netHash string) error {
	return s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("ip_network_hash", netHash).Error
}

// IncrementCounter bumps the per-session request counter atomically at the
// database and reports whether a concurrent writer raced this one inside
// the detection window.
func (s *Store) IncrementCounter(sessionKey string) (suspicious bool, err error) {
	before, err := s.Get(sessionKey)
	if err != nil {
		return false, err
	}
	now := time.Now()
	err = s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Updates(map[string]interface{}{
			"request_counter":     gorm.Expr("request_counter + 1"),
			"last_counter_update": now,
		}).Error
	if err != nil {
		return false, err
	}
	after, err := s.Get(sessionKey)
	if err != nil {
		return false, err
	}
	// Another request incremented between our read and write, and the
	// previous update landed moments ago. Two clients on one session.
	raced := after.RequestCounter-before.RequestCounter > 1
	recent := before.LastCounterUpdate != nil && now.Sub(*before.LastCounterUpdate) < 2*time.Second
	return raced && recent, nil
}

// AppendActivity records a request timestamp in the session's sliding
// window and returns the updated window.
func (s *Store) AppendActivity(sessionKey string, at time.Time) (models.FloatArray, error) {
	sess, err := s.Get(sessionKey)
	if err != nil {
		return nil, err
	}
	times := append(sess.ActivityTimes, float64(at.UnixNano())/1e9)
	if len(times) > activityWindow {
		times = times[len(times)-activityWindow:]
	}
	err = s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("activity_times", times).Error
	return times, err
}

// RotateCSRF issues a fresh CSRF state for the session and returns it.
func (s *Store) RotateCSRF(sessionKey string) (string, error) {
	state := NewCSRFState()
	err := s.db.Model(&models.UserSession{}).
		Where("session_key = ?", sessionKey).
		Update("csrf_state", state).Error
	if err != nil {
		return "", err
	}
	return state, nil
}

// ListActive returns all active, unexpired sessions for a user, most
// recently used first.
func (s *Store) ListActive(userID uint) ([]models.UserSession, error) {
	var sessions []models.UserSession
	err := s.db.Where("user_id = ? AND state = ? AND expires_at > ?",
		userID, models.SessionActive, time.Now()).
		Order("last_activity DESC").
		Find(&sessions).Error
	return sessions, err
}

// Delete removes a single session.
func (s *Store) Delete(sessionKey string) error {
	return s.db.Where("session_key = ?", sessionKey).
		Delete(&models.UserSession{}).Error
}

// DeleteAllForUser removes every session of a user.
func (s *Store) DeleteAllForUser(userID uint) error {
	return s.db.Where("user_id = ?", userID).
		Delete(&models.UserSession{}).Error
}

// SweepExpired removes sessions past their expiry and flips idle ones to
// expired. Returns the number of rows removed.
func (s *Store) SweepExpired() (int64, error) {
	now := time.Now()
	res := s.db.Where("expires_at < ?", now).Delete(&models.UserSession{})
	if res.Error != nil {
		return 0, res.Error
	}
	idleCutoff := now.Add(-s.maxInactivity)
	err := s.db.Model(&models.UserSession{}).
		Where("state = ? AND last_activity < ?", models.SessionActive, idleCutoff).
		Update("state", models.SessionExpired).Error
	return res.RowsAffected, err
}

// NewCSRFState builds a fresh CSRF state of the form "<token>:<unix>".
func NewCSRFState() string {
	return fmt.Sprintf("%s:%d", randomKey(), time.Now().Unix())
}

// CheckCSRF verifies a presented CSRF token against the stored state.
// The presented value may be either the bare token or the full state.
func CheckCSRF(storedState, presented string) error {
	if presented == "" {
		return secerr.ErrCsrfMissing
	}
	token, issued, err := splitCSRFState(storedState)
	if err != nil {
		return secerr.ErrCsrfMismatch
	}
	if time.Since(issued) > csrfMaxAge {
		return secerr.ErrStaleCsrf
	}
	presentedToken := presented
	if t, _, err := splitCSRFState(presented); err == nil {
		presentedToken = t
	}
	if presentedToken != token {
		return secerr.ErrCsrfMismatch
	}
	return nil
}

// CSRFNeedsRotation reports whether the state is old enough that a safe
// request should rotate it.
func CSRFNeedsRotation(storedState string) bool {
	_, issued, err := splitCSRFState(storedState)
	if err != nil {
		return true
	}
	return time.Since(issued) > csrfRotateAfter
}

// CSRFToken extracts the bare token part of a state for response headers.
func CSRFToken(state string) string {
	if t, _, err := splitCSRFState(state); err == nil {
		return t
	}
	return state
}

func splitCSRFState(state string) (token string, issued time.Time, err error) {
	i := strings.LastIndex(state, ":")
	if i <= 0 || i == len(state)-1 {
		return "", time.Time{}, fmt.Errorf("malformed csrf state")
	}
	ts, err := strconv.ParseInt(state[i+1:], 10, 64)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("malformed csrf state: %w", err)
	}
	return state[:i], time.Unix(ts, 0), nil
}

func randomKey() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand never fails on supported platforms
	}
	return hex.EncodeToString(buf)
}
